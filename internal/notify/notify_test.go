package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v3"

	"greenloop/internal/config"
	"greenloop/internal/model"
)

type recordingSender struct {
	to   tele.Recipient
	what interface{}
	err  error
}

func (r *recordingSender) Send(to tele.Recipient, what interface{}, _ ...interface{}) (*tele.Message, error) {
	r.to, r.what = to, what
	return &tele.Message{}, r.err
}

func testAward() (*model.Badge, *model.UserBadge) {
	b := &model.Badge{ID: uuid.New(), Name: "Bike <Hero>", Description: "Ride & save", Rarity: model.RarityEpic}
	ub := &model.UserBadge{UserID: uuid.New(), BadgeID: b.ID, EarnedAt: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
	return b, ub
}

func TestTelegram_BadgeAwarded(t *testing.T) {
	rec := &recordingSender{}
	n := &Telegram{bot: rec, chat: tele.ChatID(-100123)}
	b, ub := testAward()

	require.NoError(t, n.BadgeAwarded(context.Background(), b, ub))
	assert.Equal(t, tele.ChatID(-100123), rec.to)

	text, ok := rec.what.(string)
	require.True(t, ok)
	assert.Contains(t, text, "Bike &lt;Hero&gt;")
	assert.Contains(t, text, "Ride &amp; save")
	assert.Contains(t, text, ub.UserID.String())
	assert.Contains(t, text, "2026-05-04")
}

func TestTelegram_SendError(t *testing.T) {
	n := &Telegram{bot: &recordingSender{err: errors.New("flood")}, chat: 1}
	b, ub := testAward()
	assert.Error(t, n.BadgeAwarded(context.Background(), b, ub))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, n.BadgeAwarded(ctx, b, ub), context.Canceled)
}

func TestNewTelegram_RequiresConfig(t *testing.T) {
	_, err := NewTelegram(config.TelegramConfig{})
	assert.Error(t, err)
	_, err = NewTelegram(config.TelegramConfig{Token: "123:abc"})
	assert.Error(t, err)

	n, err := NewTelegram(config.TelegramConfig{Token: "123:abc", ChatID: 42, Offline: true})
	require.NoError(t, err)
	assert.NotNil(t, n)
}

func TestNoop(t *testing.T) {
	b, ub := testAward()
	assert.NoError(t, Noop{}.BadgeAwarded(context.Background(), b, ub))
}
