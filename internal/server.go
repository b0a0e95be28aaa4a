package internal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/VladimirNagibin/boel-production-sync-sub000/domain"
	"github.com/VladimirNagibin/boel-production-sync-sub000/etcd"
	"github.com/VladimirNagibin/boel-production-sync-sub000/telemetry"
	"github.com/VladimirNagibin/boel-production-sync-sub000/telemetry/semconv"
)

// webhookResponse cuerpo JSON de respuesta del endpoint de webhooks.
type webhookResponse struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Event     string `json:"event,omitempty"`
	Timestamp string `json:"timestamp"`

	// RetryAfterSeconds sugerencia de reintento ante contención de lock.
	RetryAfterSeconds int `json:"retry_after_seconds,omitempty"`
}

// Server servidor HTTP entrante: webhooks del portal, health y refresh
// on-demand de processing status.
type Server struct {
	webhooks   *WebhookGateway
	reconciler *DealReconciler
	scheduler  *ProcessingStatusScheduler
	tel        *telemetry.Client

	httpServer *http.Server
}

// NewServer crea el servidor con sus rutas registradas.
func NewServer(addr string, webhooks *WebhookGateway, reconciler *DealReconciler, scheduler *ProcessingStatusScheduler, tel *telemetry.Client) *Server {
	s := &Server{
		webhooks:   webhooks,
		reconciler: reconciler,
		scheduler:  scheduler,
		tel:        tel,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/webhook/deal", s.handleWebhook)
	mux.HandleFunc("/status/refresh", s.handleStatusRefresh)
	mux.HandleFunc("/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run sirve hasta que el contexto se cancele; el apagado es graceful.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSON(w, http.StatusMethodNotAllowed, webhookResponse{
			Status:    "error",
			Message:   "method not allowed",
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	if err := r.ParseForm(); err != nil {
		s.writeError(w, r, "", domain.WrapError(domain.ErrCodeValidation, "malformed form body", err))
		return
	}

	started := time.Now()
	payload, err := s.webhooks.Process(r.Context(), r.PostForm)
	if err != nil {
		s.writeError(w, r, "", err)
		return
	}

	if err := s.reconciler.HandleWebhook(r.Context(), payload); err != nil {
		s.writeError(w, r, payload.Event, err)
		return
	}

	s.tel.Info(r.Context(), "Webhook processed",
		semconv.Boel.Event.String(payload.Event),
		semconv.Boel.DealID.Int64(payload.DealID),
		semconv.HTTP.DurationMs.Int64(time.Since(started).Milliseconds()),
	)
	s.writeJSON(w, http.StatusOK, webhookResponse{
		Status:    "ok",
		Message:   "deal reconciled",
		Event:     payload.Event,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatusRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id, err := strconv.ParseInt(r.URL.Query().Get("deal_id"), 10, 64)
	if err != nil || id <= 0 {
		s.writeError(w, r, "", domain.NewError(domain.ErrCodeValidation, "missing or invalid deal_id"))
		return
	}

	status, err := s.scheduler.RefreshOne(r.Context(), id, time.Now())
	if err != nil {
		s.writeError(w, r, "", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"deal_id":   id,
		"new_state": string(status),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeError mapea la taxonomía de errores del dominio a estados HTTP:
// seguridad → 401, validación → 400, contención de lock → 409 con sugerencia
// de reintento, resto → 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, event string, err error) {
	resp := webhookResponse{
		Status:    "error",
		Event:     event,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	var status int
	switch {
	case domain.IsCode(err, domain.ErrCodeSecurity):
		status = http.StatusUnauthorized
		resp.Message = "unauthorized"
	case domain.IsCode(err, domain.ErrCodeValidation):
		status = http.StatusBadRequest
		resp.Message = "invalid request"
	case domain.IsLockContention(err):
		status = http.StatusConflict
		resp.Message = "deal is being reconciled, retry later"
		if remaining, ok := etcd.RemainingTTL(err); ok && remaining > 0 {
			resp.RetryAfterSeconds = int(remaining.Seconds())
			w.Header().Set("Retry-After", strconv.Itoa(resp.RetryAfterSeconds))
		}
	default:
		status = http.StatusInternalServerError
		resp.Message = "internal error"
		s.tel.Error(r.Context(), "Webhook handler failed", err,
			semconv.HTTP.Path.String(r.URL.Path),
		)
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.tel.Error(context.Background(), "Failed to encode response", err)
	}
}
