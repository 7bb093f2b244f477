package notify

import (
	"context"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
)

// Sender is the part of *tgbot.BotAPI Telegram uses.
type Sender interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
}

type Telegram struct {
	bot    Sender
	chatID int64
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	if token == "" || chatID == 0 {
		return nil, errors.New("telegram: token and chat id are required")
	}
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrap(err, "telegram: connect")
	}
	return NewTelegramWith(b, chatID), nil
}

func NewTelegramWith(bot Sender, chatID int64) *Telegram {
	return &Telegram{bot: bot, chatID: chatID}
}

func (t *Telegram) Notify(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return t.Send(Format(msg))
}

// Send posts free text, used for start/stop announcements.
func (t *Telegram) Send(text string) error {
	_, err := t.bot.Send(tgbot.NewMessage(t.chatID, text))
	return errors.Wrap(err, "telegram: send")
}
