// Package notify tells participants about lifecycle changes over Telegram and
// lets them bind a Telegram chat to their participant id.
package notify

import (
	"context"
	"log"

	"heartlink/backend/internal/localization"
	"heartlink/backend/internal/models"
	"heartlink/backend/internal/pairing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Sender is the part of *tgbotapi.BotAPI the notifier uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// UserStore resolves and updates the Telegram binding of participants.
type UserStore interface {
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	SetTelegramChatID(ctx context.Context, userID string, chatID int64) error
}

type notification struct {
	participant string
	key         string
}

// TelegramNotifier implements pairing.Listener. Events are queued and sent by
// a single worker so lifecycle operations never wait on Telegram.
type TelegramNotifier struct {
	Bot       Sender
	Users     UserStore
	Localizer *localization.Localizer

	queue chan notification
	done  chan struct{}
}

func NewTelegramNotifier(bot Sender, users UserStore, localizer *localization.Localizer, queueSize int) *TelegramNotifier {
	return &TelegramNotifier{
		Bot:       bot,
		Users:     users,
		Localizer: localizer,
		queue:     make(chan notification, queueSize),
		done:      make(chan struct{}),
	}
}

var eventMessages = map[pairing.EventKind]string{
	pairing.EventPairingCreated:      "pairing_created",
	pairing.EventInvitationCreated:   "invitation_created",
	pairing.EventRelationshipCreated: "relationship_created",
	pairing.EventPairingRejected:     "pairing_rejected",
}

// HandlePairingEvent queues a message for both participants of ev.
func (n *TelegramNotifier) HandlePairingEvent(ctx context.Context, ev pairing.Event) {
	key, ok := eventMessages[ev.Kind]
	if !ok {
		return
	}
	a, b := ev.Participants()
	for _, p := range []string{a, b} {
		if p == "" {
			continue
		}
		select {
		case n.queue <- notification{participant: p, key: key}:
		default:
			log.Printf("WARNING: notification queue full, dropping %s for %s", key, p)
		}
	}
}

// Run sends queued notifications until ctx is cancelled.
func (n *TelegramNotifier) Run(ctx context.Context) {
	defer close(n.done)
	for {
		select {
		case <-ctx.Done():
			return
		case note := <-n.queue:
			n.deliver(ctx, note)
		}
	}
}

// Done is closed once Run has returned.
func (n *TelegramNotifier) Done() <-chan struct{} {
	return n.done
}

func (n *TelegramNotifier) deliver(ctx context.Context, note notification) {
	user, err := n.Users.GetUserByID(ctx, note.participant)
	if err != nil {
		log.Printf("ERROR: notification for %s: %v", note.participant, err)
		return
	}
	if user.TelegramChatID == 0 {
		return
	}
	lang := user.Language
	if lang == "" {
		lang = localization.DefaultLanguage
	}
	msg := tgbotapi.NewMessage(user.TelegramChatID, n.Localizer.GetString(lang, note.key))
	if _, err := n.Bot.Send(msg); err != nil {
		log.Printf("ERROR: Failed to send %s to chat %d: %v", note.key, user.TelegramChatID, err)
	}
}
