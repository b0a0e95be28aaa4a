package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/VladimirNagibin/boel-production-sync-sub000/domain"
)

// HTTPFactSink entrega hechos al consumidor downstream vía HTTP POST.
type HTTPFactSink struct {
	url    string
	client *http.Client
}

// NewHTTPFactSink crea el sink apuntando a la URL del consumidor.
func NewHTTPFactSink(url string, client *http.Client) *HTTPFactSink {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPFactSink{url: url, client: client}
}

// Deliver implementa FactSink.
func (s *HTTPFactSink) Deliver(ctx context.Context, fact *domain.Fact) error {
	body, err := json.Marshal(fact)
	if err != nil {
		return fmt.Errorf("marshal fact: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build fact request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("deliver fact: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("fact consumer returned status %d", resp.StatusCode)
	}
	return nil
}
