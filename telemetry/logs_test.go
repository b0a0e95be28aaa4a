package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func newCapturedClient() (*Client, *bytes.Buffer) {
	var buf bytes.Buffer
	client := &Client{logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	return client, &buf
}

func decodeRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	return record
}

func TestErrorAppendsErrorAfterAttributes(t *testing.T) {
	client, buf := newCapturedClient()

	client.Error(context.Background(), "operation failed", errors.New("boom"),
		attribute.Int64("boel.deal_id", 42),
	)

	record := decodeRecord(t, buf)
	assert.Equal(t, "operation failed", record["msg"])
	assert.Equal(t, "boom", record["error"])
	assert.Equal(t, float64(42), record["boel.deal_id"])
}

func TestErrorWithNilErrOmitsErrorKey(t *testing.T) {
	client, buf := newCapturedClient()

	client.Error(context.Background(), "operation failed", nil)

	record := decodeRecord(t, buf)
	assert.Equal(t, "operation failed", record["msg"])
	assert.NotContains(t, record, "error")
}

func TestWarnConvertsAttributes(t *testing.T) {
	client, buf := newCapturedClient()

	client.Warn(context.Background(), "degraded",
		attribute.String("reason", "timeout"),
	)

	record := decodeRecord(t, buf)
	assert.Equal(t, "degraded", record["msg"])
	assert.Equal(t, "timeout", record["reason"])
}

func TestNilClientLoggingIsNoOp(t *testing.T) {
	var client *Client

	// No debe entrar en pánico.
	client.Info(context.Background(), "ignored")
	client.Warn(context.Background(), "ignored")
	client.Error(context.Background(), "ignored", errors.New("boom"))
	client.Debug(context.Background(), "ignored")
}
