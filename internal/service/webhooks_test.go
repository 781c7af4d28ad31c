package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/prediclaw/internal/domain"
)

func TestRegisterWebhookValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.bot(t, "alpha", 0)

	tests := []struct {
		name   string
		url    string
		types  []domain.EventType
		target error
	}{
		{"relative url", "/hook", nil, domain.ErrValidation},
		{"unsupported scheme", "ftp://example.com/hook", nil, domain.ErrValidation},
		{"unknown event type", "https://example.com/hook", []domain.EventType{"trade_happened"}, domain.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.webhooks.RegisterWebhook(ctx, a.ID, tt.url, tt.types)
			assert.ErrorIs(t, err, tt.target)
		})
	}

	_, err := h.webhooks.RegisterWebhook(ctx, "missing", "https://example.com/hook", nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWebhookFanOutAndOwnership(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.bot(t, "alpha", 50)
	b := h.bot(t, "beta", 0)

	all, err := h.webhooks.RegisterWebhook(ctx, a.ID, "https://example.com/all", nil)
	require.NoError(t, err)
	prices, err := h.webhooks.RegisterWebhook(ctx, a.ID, "https://example.com/prices", []domain.EventType{domain.EventPriceChanged})
	require.NoError(t, err)

	m := h.market(t, a, domain.ResolverSingle)
	h.trade(t, a, m, "YES", 5)

	entries, err := h.webhooks.ListOutbox(ctx, a.ID, all.ID)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "market_created and price_changed")

	entries, err = h.webhooks.ListOutbox(ctx, a.ID, prices.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.OutboxPending, entries[0].Status)
	assert.Equal(t, "https://example.com/prices", entries[0].TargetURL)

	hooks, err := h.webhooks.ListWebhooks(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, hooks, 2)

	_, err = h.webhooks.ListOutbox(ctx, b.ID, all.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)
	assert.ErrorIs(t, h.webhooks.DeleteWebhook(ctx, b.ID, all.ID), domain.ErrForbidden)

	require.NoError(t, h.webhooks.DeleteWebhook(ctx, a.ID, prices.ID))
	hooks, err = h.webhooks.ListWebhooks(ctx, a.ID)
	require.NoError(t, err)
	assert.Len(t, hooks, 1)
	assert.ErrorIs(t, h.webhooks.DeleteWebhook(ctx, a.ID, prices.ID), domain.ErrNotFound)
}
