package notify

import (
	"context"
	"log"
	"strings"

	"heartlink/backend/internal/localization"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TokenResolver turns an access token into the participant id it was issued for.
type TokenResolver func(token string) (string, error)

// HandleLinkCommand processes "/link <token>": it binds the sender's chat to the
// participant named by the token and confirms in the chat.
func HandleLinkCommand(ctx context.Context, update *tgbotapi.Update, users UserStore, resolve TokenResolver, bot Sender, localizer *localization.Localizer) {
	if update.Message == nil || update.Message.From == nil || update.Message.Command() != "link" {
		return
	}

	// Bot chats are private, so the chat id equals the sender id.
	chatID := update.Message.From.ID
	lang := update.Message.From.LanguageCode
	if lang == "" {
		lang = localization.DefaultLanguage
	}

	key := "link_success"
	token := strings.TrimSpace(update.Message.CommandArguments())
	if token == "" {
		key = "link_usage"
	} else if participant, err := resolve(token); err != nil {
		key = "link_invalid"
	} else if err := users.SetTelegramChatID(ctx, participant, chatID); err != nil {
		log.Printf("Error linking chat %d to participant %s: %v", chatID, participant, err)
		key = "link_invalid"
	} else {
		log.Printf("INFO: Telegram chat %d linked to participant %s", chatID, participant)
	}

	if _, err := bot.Send(tgbotapi.NewMessage(chatID, localizer.GetString(lang, key))); err != nil {
		log.Printf("Error sending link confirmation: %v", err)
	}
}

// ServeUpdates handles bot updates until ctx is cancelled or updates closes.
func ServeUpdates(ctx context.Context, updates <-chan tgbotapi.Update, users UserStore, resolve TokenResolver, bot Sender, localizer *localization.Localizer) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			HandleLinkCommand(ctx, &update, users, resolve, bot, localizer)
		}
	}
}
