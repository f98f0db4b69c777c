// Package notify announces newly earned badges.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	tele "gopkg.in/telebot.v3"

	"greenloop/internal/config"
	"greenloop/internal/model"
)

// Noop logs awards and sends nothing.
type Noop struct{}

// BadgeAwarded logs the award at debug level.
func (Noop) BadgeAwarded(_ context.Context, b *model.Badge, ub *model.UserBadge) error {
	log.Debug().
		Str("user_id", ub.UserID.String()).
		Str("badge", b.Name).
		Msg("Badge awarded (notifications disabled)")
	return nil
}

// sender is the part of *tele.Bot the notifier uses.
type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
}

// Telegram posts award announcements to one chat.
type Telegram struct {
	bot  sender
	chat tele.ChatID
}

// NewTelegram creates a Telegram notifier from cfg.
func NewTelegram(cfg config.TelegramConfig) (*Telegram, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram token is required")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is required")
	}

	bot, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: 10 * time.Second},
		Offline: cfg.Offline,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return &Telegram{bot: bot, chat: tele.ChatID(cfg.ChatID)}, nil
}

// BadgeAwarded sends one HTML message per award.
func (t *Telegram) BadgeAwarded(ctx context.Context, b *model.Badge, ub *model.UserBadge) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.bot.Send(t.chat, FormatAward(b, ub), tele.ModeHTML); err != nil {
		return fmt.Errorf("failed to send badge notification: %w", err)
	}
	return nil
}

var rarityIcons = map[model.Rarity]string{
	model.RarityCommon:    "🥉",
	model.RarityRare:      "🥈",
	model.RarityEpic:      "🥇",
	model.RarityLegendary: "🏆",
}

// FormatAward renders the announcement text.
func FormatAward(b *model.Badge, ub *model.UserBadge) string {
	icon, ok := rarityIcons[b.Rarity]
	if !ok {
		icon = "🏅"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s <b>%s</b> (%s)\n", icon, escape(b.Name), b.Rarity)
	if b.Description != "" {
		sb.WriteString(escape(b.Description))
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "User <code>%s</code> earned it on %s", ub.UserID, ub.EarnedAt.UTC().Format("2006-01-02"))
	return sb.String()
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

func escape(s string) string { return htmlEscaper.Replace(s) }
