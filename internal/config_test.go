package internal

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 300*time.Second, cfg.Webhook.MaxAge)
	assert.Equal(t, 3, cfg.Lock.MaxRetries)
	assert.Equal(t, 14, cfg.Classifier.ExistingClientDays)
	assert.Equal(t, "C1:NEW", cfg.Reconciler.InitialStage)
	assert.Len(t, cfg.Scheduler.Stages, 4, "SLA only covers the first four stages")
	assert.Equal(t, time.UTC, cfg.Scheduler.Location)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("BOEL_TOKEN_PORTALS", "tok1=boel.example.com,tok2=sandbox.example.com")
	t.Setenv("BOEL_LOCK_TTL", "45s")
	t.Setenv("BOEL_DIGEST_RECIPIENTS", "1,7")

	cfg, err := LoadConfig(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"tok1": "boel.example.com",
		"tok2": "sandbox.example.com",
	}, cfg.Webhook.TokenPortals)
	assert.Equal(t, 45*time.Second, cfg.Lock.TTL)
	assert.Equal(t, []int64{1, 7}, cfg.Scheduler.DigestRecipients)
}

func TestParseTokenTableIgnoresMalformedPairs(t *testing.T) {
	table := parseTokenTable("good=portal,malformed,=empty,also=")
	assert.Equal(t, map[string]string{"good": "portal"}, table)
}
