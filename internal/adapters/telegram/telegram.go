// Package telegram delivers operator notifications over a Telegram bot.
// It backs the logger's relay sink; no inbound commands are handled.
package telegram

import (
	"errors"
	"strings"

	tele "gopkg.in/telebot.v4"
)

type Config struct {
	Token  string
	ChatID int64
}

type Sender struct {
	bot  *tele.Bot
	chat tele.ChatID
}

func New(cfg Config) (*Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	// Send-only: no poller is attached and Start is never called.
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, err
	}
	return &Sender{bot: b, chat: tele.ChatID(cfg.ChatID)}, nil
}

// SendText implements logx.Sender.
func (s *Sender) SendText(text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	_, err := s.bot.Send(s.chat, clip(text), tele.NoPreview)
	return err
}

func clip(s string) string {
	// Telegram rejects messages over 4096 runes.
	const max = 4000
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "…"
}
