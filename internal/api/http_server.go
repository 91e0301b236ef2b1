package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"medvik/internal/config"
	"medvik/internal/database"
	"medvik/internal/domain"
	"medvik/internal/metrics"

	"github.com/rs/zerolog"
)

// HTTPServer exposes the coordinator API: availability lookups, booking
// queries, the payment gateway callback and an on-demand reconciliation
// trigger.
type HTTPServer struct {
	cfg            config.APIConfig
	allocation     domain.AllocationService
	ledger         domain.LedgerService
	reconciliation domain.ReconciliationService
	exporter       domain.StatementExporter
	server         *http.Server
	auth           *HTTPAuth
	logger         *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, allocation domain.AllocationService, ledger domain.LedgerService, reconciliation domain.ReconciliationService, exporter domain.StatementExporter, logger *zerolog.Logger) *HTTPServer {
	mux := http.NewServeMux()
	srv := &HTTPServer{
		cfg:            cfg,
		allocation:     allocation,
		ledger:         ledger,
		reconciliation: reconciliation,
		exporter:       exporter,
		logger:         logger,
	}
	srv.auth = NewHTTPAuth(cfg)

	mux.HandleFunc("/api/v1/availability/", srv.handleAvailability)
	mux.HandleFunc("/api/v1/bookings/", srv.handleBooking)
	mux.HandleFunc("/api/v1/payments/callback", srv.handlePaymentCallback)
	mux.HandleFunc("/api/v1/reconciliation/run", srv.handleReconciliationRun)
	mux.HandleFunc("/api/v1/exports/statement/", srv.handleExportStatement)
	mux.HandleFunc("/api/v1/exports/reconciliation", srv.handleExportReconciliation)
	mux.HandleFunc("/healthz", srv.handleHealth)

	handler := srv.loggingMiddleware(srv.auth.Wrap(mux))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// handleAvailability serves GET /api/v1/availability/{hospital_id}/{resource_type}.
func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("availability")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	const prefix = "/api/v1/availability/"
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, prefix), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		writeError(w, http.StatusBadRequest, "hospital_id and resource_type are required")
		return
	}

	hospitalID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid hospital_id")
		return
	}

	availability, err := s.allocation.GetAvailability(r.Context(), hospitalID, parts[1])
	if err != nil {
		writeError(w, http.StatusNotFound, "pool not found")
		return
	}

	writeJSON(w, http.StatusOK, availability)
}

// handleBooking serves GET /api/v1/bookings/{id}.
func (s *HTTPServer) handleBooking(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("bookings")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	const prefix = "/api/v1/bookings/"
	idStr := strings.TrimPrefix(r.URL.Path, prefix)
	if idStr == "" || strings.Contains(idStr, "/") {
		writeError(w, http.StatusBadRequest, "booking id is required")
		return
	}

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid booking id")
		return
	}

	booking, err := s.allocation.GetBooking(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "booking not found")
		return
	}

	writeJSON(w, http.StatusOK, booking)
}

// handlePaymentCallback serves POST /api/v1/payments/callback. The
// gateway retries on non-2xx, so duplicates answer 200.
func (s *HTTPServer) handlePaymentCallback(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("payment_callback")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	type request struct {
		TransactionID    int64  `json:"transaction_id"`
		Status           string `json:"status"`
		GatewayReference string `json:"gateway_reference"`
	}

	var body request
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if body.TransactionID == 0 {
		writeError(w, http.StatusBadRequest, "transaction_id is required")
		return
	}
	if body.Status == "" {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}

	err := s.ledger.OnPaymentCallback(r.Context(), body.TransactionID, body.Status, body.GatewayReference)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "transaction not found")
			return
		}
		if errors.Is(err, database.ErrRateLimited) {
			writeError(w, http.StatusTooManyRequests, "too many callbacks")
			return
		}
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"result": "accepted"})
}

// handleReconciliationRun serves POST /api/v1/reconciliation/run.
func (s *HTTPServer) handleReconciliationRun(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("reconciliation_run")
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	records, err := s.reconciliation.RunOnce(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reconciliation failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"discrepancies": len(records),
		"records":       records,
	})
}

// handleExportStatement serves GET /api/v1/exports/statement/{account_id}
// with an xlsx workbook of the account's postings.
func (s *HTTPServer) handleExportStatement(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("export_statement")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "export is not configured")
		return
	}

	const prefix = "/api/v1/exports/statement/"
	idStr := strings.TrimPrefix(r.URL.Path, prefix)
	accountID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || accountID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	path, err := s.exporter.ExportLedgerStatement(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "account not found")
			return
		}
		s.logger.Error().Err(err).Int64("account_id", accountID).Msg("statement export failed")
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	serveWorkbook(w, r, path)
}

// handleExportReconciliation serves GET /api/v1/exports/reconciliation.
func (s *HTTPServer) handleExportReconciliation(w http.ResponseWriter, r *http.Request) {
	metrics.IncHTTP("export_reconciliation")
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.exporter == nil {
		writeError(w, http.StatusServiceUnavailable, "export is not configured")
		return
	}

	limit := 200
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = parsed
	}

	path, err := s.exporter.ExportReconciliationReport(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("reconciliation export failed")
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	serveWorkbook(w, r, path)
}

func serveWorkbook(w http.ResponseWriter, r *http.Request, path string) {
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeFile(w, r, path)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
