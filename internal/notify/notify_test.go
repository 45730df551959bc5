package notify_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"heartlink/backend/internal/localization"
	"heartlink/backend/internal/models"
	"heartlink/backend/internal/notify"
	"heartlink/backend/internal/pairing"
	"heartlink/backend/internal/storage"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockSender is a mock implementation of notify.Sender.
type MockSender struct {
	mock.Mock
}

func (m *MockSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	args := m.Called(c)
	return tgbotapi.Message{}, args.Error(0)
}

func messageTo(chatID int64) any {
	return mock.MatchedBy(func(c tgbotapi.Chattable) bool {
		msg, ok := c.(tgbotapi.MessageConfig)
		return ok && msg.ChatID == chatID && msg.Text != ""
	})
}

func newLocalizer(t *testing.T) *localization.Localizer {
	t.Helper()
	l, err := localization.NewBundledLocalizer()
	require.NoError(t, err)
	return l
}

func TestTelegramNotifier_NotifiesLinkedParticipantsOnly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := storage.NewMemoryStore()
	for _, id := range []string{"alice", "bob"} {
		_, err := store.SaveUserIfNotExists(ctx, id)
		require.NoError(t, err)
	}
	require.NoError(t, store.SetTelegramChatID(ctx, "alice", 1001))

	sent := make(chan struct{}, 4)
	bot := new(MockSender)
	bot.On("Send", messageTo(1001)).Return(nil).Run(func(mock.Arguments) { sent <- struct{}{} })

	n := notify.NewTelegramNotifier(bot, store, newLocalizer(t), 8)
	go n.Run(ctx)

	n.HandlePairingEvent(ctx, pairing.Event{
		Kind:       pairing.EventInvitationCreated,
		Invitation: &models.Invitation{ParticipantA: "alice", ParticipantB: "bob"},
	})

	select {
	case <-sent:
	case <-time.After(time.Second):
		t.Fatal("alice was not notified")
	}

	cancel()
	<-n.Done()
	bot.AssertNumberOfCalls(t, "Send", 1)
}

func TestTelegramNotifier_DropsWhenQueueFull(t *testing.T) {
	store := storage.NewMemoryStore()
	n := notify.NewTelegramNotifier(new(MockSender), store, newLocalizer(t), 1)

	// No Run loop: the first participant fills the queue, the second is dropped without blocking.
	done := make(chan struct{})
	go func() {
		n.HandlePairingEvent(context.Background(), pairing.Event{
			Kind:    pairing.EventPairingCreated,
			Pairing: &models.Pairing{ParticipantA: "alice", ParticipantB: "bob"},
		})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("HandlePairingEvent blocked")
	}
}

func linkUpdate(text string) *tgbotapi.Update {
	return &tgbotapi.Update{
		Message: &tgbotapi.Message{
			Text: text,
			Entities: []tgbotapi.MessageEntity{
				{Type: "bot_command", Offset: 0, Length: len("/link")},
			},
			From: &tgbotapi.User{ID: 4242, LanguageCode: "uk"},
		},
	}
}

func TestHandleLinkCommand(t *testing.T) {
	ctx := context.Background()
	l := newLocalizer(t)
	resolve := func(token string) (string, error) {
		if token == "good-token" {
			return "alice", nil
		}
		return "", errors.New("bad token")
	}

	t.Run("binds chat", func(t *testing.T) {
		store := storage.NewMemoryStore()
		_, err := store.SaveUserIfNotExists(ctx, "alice")
		require.NoError(t, err)
		bot := new(MockSender)
		bot.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
			msg := c.(tgbotapi.MessageConfig)
			return msg.ChatID == 4242 && msg.Text == l.GetString("uk", "link_success")
		})).Return(nil)

		notify.HandleLinkCommand(ctx, linkUpdate("/link good-token"), store, resolve, bot, l)

		user, err := store.GetUserByID(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(4242), user.TelegramChatID)
		bot.AssertExpectations(t)
	})

	t.Run("invalid token", func(t *testing.T) {
		bot := new(MockSender)
		bot.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
			return c.(tgbotapi.MessageConfig).Text == l.GetString("uk", "link_invalid")
		})).Return(nil)

		notify.HandleLinkCommand(ctx, linkUpdate("/link forged"), storage.NewMemoryStore(), resolve, bot, l)
		bot.AssertExpectations(t)
	})

	t.Run("missing token", func(t *testing.T) {
		bot := new(MockSender)
		bot.On("Send", mock.MatchedBy(func(c tgbotapi.Chattable) bool {
			return c.(tgbotapi.MessageConfig).Text == l.GetString("uk", "link_usage")
		})).Return(nil)

		notify.HandleLinkCommand(ctx, linkUpdate("/link"), storage.NewMemoryStore(), resolve, bot, l)
		bot.AssertExpectations(t)
	})

	t.Run("other commands are ignored", func(t *testing.T) {
		bot := new(MockSender)
		update := &tgbotapi.Update{Message: &tgbotapi.Message{
			Text:     "/start",
			Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 6}},
			From:     &tgbotapi.User{ID: 1},
		}}
		notify.HandleLinkCommand(ctx, update, storage.NewMemoryStore(), resolve, bot, l)
		bot.AssertNotCalled(t, "Send", mock.Anything)
	})
}
