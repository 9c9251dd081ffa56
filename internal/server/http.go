package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"PariLedger/internal/domain"
	"PariLedger/internal/ingestion"
	"PariLedger/internal/observability"
	"PariLedger/internal/persistence"
	"PariLedger/internal/projection"
	"PariLedger/internal/query"
)

// HTTPServer serves the HTTP/JSON read API plus health and metrics endpoints.
// Routes are registered on a grpc-gateway ServeMux so path parameters and
// error envelopes follow the gateway conventions the dashboards expect.
type HTTPServer struct {
	addr          string
	httpServer    *http.Server
	qs            *query.QueryService
	milestones    *projection.MilestoneHistory
	recovery      *persistence.RecoveryLoader
	inject        *ingestion.AdminInjectService
	db            *sql.DB
	healthChecker *observability.HealthChecker
	metrics       *observability.Metrics
}

func NewHTTPServer(
	addr string,
	qs *query.QueryService,
	milestones *projection.MilestoneHistory,
	recovery *persistence.RecoveryLoader,
	inject *ingestion.AdminInjectService,
	db *sql.DB,
	healthChecker *observability.HealthChecker,
	metrics *observability.Metrics,
) *HTTPServer {
	return &HTTPServer{
		addr:          addr,
		qs:            qs,
		milestones:    milestones,
		recovery:      recovery,
		inject:        inject,
		db:            db,
		healthChecker: healthChecker,
		metrics:       metrics,
	}
}

// Start runs the HTTP server until ctx is cancelled (blocking).
func (s *HTTPServer) Start(ctx context.Context) error {
	mux := runtime.NewServeMux()

	routes := []struct {
		method  string
		path    string
		handler runtime.HandlerFunc
	}{
		{"GET", "/v1/markets", s.handleListMarkets},
		{"GET", "/v1/markets/{market_id}", s.handleGetMarket},
		{"GET", "/v1/markets/{market_id}/display", s.handleGetMarketDisplay},
		{"GET", "/v1/markets/{market_id}/pools/{outcome}", s.handleGetOutcomePool},
		{"GET", "/v1/markets/{market_id}/odds/{outcome}", s.handleGetOdds},
		{"GET", "/v1/markets/{market_id}/preview", s.handlePreviewWinnings},
		{"GET", "/v1/markets/{market_id}/positions/{user}", s.handleGetUserPosition},
		{"GET", "/v1/markets/{market_id}/stakes/{user}/{outcome}", s.handleGetUserStake},
		{"GET", "/v1/contract", s.handleGetContractInfo},
		{"GET", "/v1/users/{user}/milestones", s.handleGetMilestones},
		{"GET", "/v1/admin/integrity", s.handleVerifyIntegrity},
		{"GET", "/v1/admin/oplog", s.handleOpLogInfo},
		{"POST", "/v1/admin/projections/rebuild", s.handleRebuildProjections},
		{"POST", "/v1/admin/markets/{market_id}/lock", s.handleInjectLock},
		{"POST", "/v1/admin/markets/{market_id}/resolve", s.handleInjectResolve},
		{"POST", "/v1/admin/markets/{market_id}/cancel", s.handleInjectCancel},
		{"POST", "/v1/admin/pause", s.handleInjectPause},
		{"POST", "/v1/admin/oracle", s.handleInjectOracle},
		{"POST", "/v1/admin/fee", s.handleInjectFee},
	}
	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.path, r.handler); err != nil {
			return err
		}
	}

	httpMux := http.NewServeMux()
	httpMux.HandleFunc("/healthz", s.healthChecker.LivenessHandler)
	httpMux.HandleFunc("/readyz", s.healthChecker.ReadinessHandler)
	httpMux.Handle("/metrics", promhttp.Handler())
	httpMux.Handle("/", mux)

	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: httpMux,
	}

	go func() {
		<-ctx.Done()
		log.Println("INFO: HTTP server shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("INFO: HTTP server listening on %s", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// ============================================================================
// Market reads
// ============================================================================

func (s *HTTPServer) handleListMarkets(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	start := time.Now()

	var state *string
	if v := r.URL.Query().Get("state"); v != "" {
		state = &v
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	var afterID *uint64
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			s.writeError(w, "list_markets", domain.ErrMarketNotFound)
			return
		}
		afterID = &n
	}

	markets, err := s.qs.ListMarkets(r.Context(), state, limit, afterID)
	if err != nil {
		s.writeError(w, "list_markets", err)
		return
	}
	s.writeJSON(w, "list_markets", start, map[string]interface{}{"markets": markets})
}

func (s *HTTPServer) handleGetMarket(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	start := time.Now()
	marketID, ok := s.pathUint(w, "get_market", pathParams, "market_id")
	if !ok {
		return
	}

	m, err := s.qs.GetMarket(r.Context(), marketID)
	if err != nil {
		s.writeError(w, "get_market", err)
		return
	}
	s.writeJSON(w, "get_market", start, m)
}

func (s *HTTPServer) handleGetMarketDisplay(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	start := time.Now()
	marketID, ok := s.pathUint(w, "get_market_display", pathParams, "market_id")
	if !ok {
		return
	}

	d, err := s.qs.GetMarketDisplay(r.Context(), marketID)
	if err != nil {
		s.writeError(w, "get_market_display", err)
		return
	}
	s.writeJSON(w, "get_market_display", start, d)
}

func (s *HTTPServer) handleGetOutcomePool(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	start := time.Now()
	marketID, ok := s.pathUint(w, "get_outcome_pool", pathParams, "market_id")
	if !ok {
		return
	}
	outcome, ok := s.pathUint(w, "get_outcome_pool", pathParams, "outcome")
	if !ok {
		return
	}

	p, err := s.qs.GetOutcomePool(r.Context(), marketID, outcome)
	if err != nil {
		s.writeError(w, "get_outcome_pool", err)
		return
	}
	s.writeJSON(w, "get_outcome_pool", start, p)
}

func (s *HTTPServer) handleGetOdds(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	start := time.Now()
	marketID, ok := s.pathUint(w, "get_odds", pathParams, "market_id")
	if !ok {
		return
	}
	outcome, ok := s.pathUint(w, "get_odds", pathParams, "outcome")
	if !ok {
		return
	}

	o, err := s.qs.GetOdds(r.Context(), marketID, outcome)
	if err != nil {
		s.writeError(w, "get_odds", err)
		return
	}
	s.writeJSON(w, "get_odds", start, o)
}

func (s *HTTPServer) handlePreviewWinnings(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	start := time.Now()
	marketID, ok := s.pathUint(w, "preview_winnings", pathParams, "market_id")
	if !ok {
		return
	}

	outcome, err := strconv.ParseUint(r.URL.Query().Get("outcome"), 10, 64)
	if err != nil {
		s.writeError(w, "preview_winnings", domain.ErrInvalidOutcome)
		return
	}
	amount, err := strconv.ParseUint(r.URL.Query().Get("amount"), 10, 64)
	if err != nil {
		s.writeError(w, "preview_winnings", domain.ErrStakeTooLow)
		return
	}

	preview, err := s.qs.PreviewWinnings(r.Context(), marketID, outcome, amount)
	if err != nil {
		s.writeError(w, "preview_winnings", err)
		return
	}
	s.writeJSON(w, "preview_winnings", start, preview)
}

// ============================================================================
// User reads
// ============================================================================

func (s *HTTPServer) handleGetUserPosition(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	start := time.Now()
	marketID, ok := s.pathUint(w, "get_user_position", pathParams, "market_id")
	if !ok {
		return
	}

	pos, err := s.qs.GetUserPosition(r.Context(), pathParams["user"], marketID)
	if err != nil {
		s.writeError(w, "get_user_position", err)
		return
	}
	s.writeJSON(w, "get_user_position", start, pos)
}

func (s *HTTPServer) handleGetUserStake(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	start := time.Now()
	marketID, ok := s.pathUint(w, "get_user_stake", pathParams, "market_id")
	if !ok {
		return
	}
	outcome, ok := s.pathUint(w, "get_user_stake", pathParams, "outcome")
	if !ok {
		return
	}

	st, err := s.qs.GetUserStake(r.Context(), pathParams["user"], marketID, outcome)
	if err != nil {
		s.writeError(w, "get_user_stake", err)
		return
	}
	s.writeJSON(w, "get_user_stake", start, st)
}

func (s *HTTPServer) handleGetContractInfo(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	start := time.Now()
	info, err := s.qs.GetContractInfo(r.Context())
	if err != nil {
		s.writeError(w, "get_contract_info", err)
		return
	}
	s.writeJSON(w, "get_contract_info", start, info)
}

func (s *HTTPServer) handleGetMilestones(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	start := time.Now()
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	events := s.milestones.QueryByUser(pathParams["user"], limit)
	s.writeJSON(w, "get_milestones", start, map[string]interface{}{"milestones": events})
}

// ============================================================================
// Admin
// ============================================================================

func (s *HTTPServer) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	start := time.Now()
	report, err := s.qs.VerifyIntegrity(r.Context())
	if err != nil {
		s.writeError(w, "verify_integrity", err)
		return
	}
	s.writeJSON(w, "verify_integrity", start, report)
}

func (s *HTTPServer) handleOpLogInfo(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	start := time.Now()
	seq, err := s.recovery.GetLatestSequence(r.Context())
	if err != nil {
		s.writeError(w, "oplog_info", err)
		return
	}
	s.writeJSON(w, "oplog_info", start, map[string]int64{"last_sequence": seq})
}

func (s *HTTPServer) handleRebuildProjections(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	start := time.Now()
	if err := projection.RebuildProjections(r.Context(), s.db); err != nil {
		s.writeError(w, "rebuild_projections", err)
		return
	}
	s.writeJSON(w, "rebuild_projections", start, map[string]bool{"reset": true})
}

// ============================================================================
// Operator injection
//
// These endpoints queue an operation for the engine; 202 means queued, not
// applied. The outcome lands in the op log and on pari.ledger.results.
// ============================================================================

type injectBody struct {
	Caller         string `json:"caller"`
	Height         uint64 `json:"height"`
	WinningOutcome uint64 `json:"winning_outcome"`
	Oracle         string `json:"oracle"`
	FeeBps         uint64 `json:"fee_bps"`
}

func (s *HTTPServer) decodeInject(w http.ResponseWriter, r *http.Request, endpoint string) (*injectBody, bool) {
	var body injectBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Caller == "" {
		s.writeStatus(w, endpoint, http.StatusBadRequest, errorBody{Message: "caller and height are required"})
		return nil, false
	}
	return &body, true
}

func (s *HTTPServer) handleInjectLock(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	marketID, ok := s.pathUint(w, "inject_lock", pathParams, "market_id")
	if !ok {
		return
	}
	body, ok := s.decodeInject(w, r, "inject_lock")
	if !ok {
		return
	}
	if err := s.inject.InjectLock(r.Context(), body.Caller, marketID, body.Height); err != nil {
		s.writeError(w, "inject_lock", err)
		return
	}
	s.writeQueued(w, "inject_lock")
}

func (s *HTTPServer) handleInjectResolve(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	marketID, ok := s.pathUint(w, "inject_resolve", pathParams, "market_id")
	if !ok {
		return
	}
	body, ok := s.decodeInject(w, r, "inject_resolve")
	if !ok {
		return
	}
	if err := s.inject.InjectResolve(r.Context(), body.Caller, marketID, body.Height, body.WinningOutcome); err != nil {
		s.writeError(w, "inject_resolve", err)
		return
	}
	s.writeQueued(w, "inject_resolve")
}

func (s *HTTPServer) handleInjectCancel(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	marketID, ok := s.pathUint(w, "inject_cancel", pathParams, "market_id")
	if !ok {
		return
	}
	body, ok := s.decodeInject(w, r, "inject_cancel")
	if !ok {
		return
	}
	if err := s.inject.InjectCancel(r.Context(), body.Caller, marketID, body.Height); err != nil {
		s.writeError(w, "inject_cancel", err)
		return
	}
	s.writeQueued(w, "inject_cancel")
}

func (s *HTTPServer) handleInjectPause(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	body, ok := s.decodeInject(w, r, "inject_pause")
	if !ok {
		return
	}
	if err := s.inject.InjectPauseToggle(r.Context(), body.Caller, body.Height); err != nil {
		s.writeError(w, "inject_pause", err)
		return
	}
	s.writeQueued(w, "inject_pause")
}

func (s *HTTPServer) handleInjectOracle(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	body, ok := s.decodeInject(w, r, "inject_oracle")
	if !ok {
		return
	}
	if err := s.inject.InjectSetOracle(r.Context(), body.Caller, body.Oracle, body.Height); err != nil {
		s.writeError(w, "inject_oracle", err)
		return
	}
	s.writeQueued(w, "inject_oracle")
}

func (s *HTTPServer) handleInjectFee(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	body, ok := s.decodeInject(w, r, "inject_fee")
	if !ok {
		return
	}
	if err := s.inject.InjectSetFee(r.Context(), body.Caller, body.FeeBps, body.Height); err != nil {
		s.writeError(w, "inject_fee", err)
		return
	}
	s.writeQueued(w, "inject_fee")
}

// ============================================================================
// Helpers
// ============================================================================

func (s *HTTPServer) pathUint(w http.ResponseWriter, endpoint string, pathParams map[string]string, key string) (uint64, bool) {
	v, err := strconv.ParseUint(pathParams[key], 10, 64)
	if err != nil {
		s.writeError(w, endpoint, domain.ErrMarketNotFound)
		return 0, false
	}
	return v, true
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, endpoint string, start time.Time, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("WARN: encode response for %s: %v", endpoint, err)
	}
	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues(endpoint, "ok").Inc()
		s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}

// writeQueued acknowledges an operator injection with 202.
func (s *HTTPServer) writeQueued(w http.ResponseWriter, endpoint string) {
	s.writeStatus(w, endpoint, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *HTTPServer) writeStatus(w http.ResponseWriter, endpoint string, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("WARN: encode response for %s: %v", endpoint, err)
	}
	if s.metrics != nil {
		label := "ok"
		if status >= http.StatusBadRequest {
			label = "error"
		}
		s.metrics.QueryRequests.WithLabelValues(endpoint, label).Inc()
	}
}

type errorBody struct {
	Code    uint32 `json:"code,omitempty"`
	Message string `json:"message"`
}

func (s *HTTPServer) writeError(w http.ResponseWriter, endpoint string, err error) {
	status := http.StatusInternalServerError
	body := errorBody{Message: err.Error()}

	if code, ok := domain.CodeOf(err); ok {
		body.Code = uint32(code)
		switch code {
		case domain.CodeMarketNotFound:
			status = http.StatusNotFound
		case domain.CodeInvalidOutcome, domain.CodeStakeTooLow, domain.CodeStakeTooHigh:
			status = http.StatusBadRequest
		case domain.CodeNothingStaked:
			status = http.StatusConflict
		default:
			status = http.StatusBadRequest
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)

	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues(endpoint, "error").Inc()
		s.metrics.QueryErrors.WithLabelValues(endpoint, strconv.Itoa(int(body.Code))).Inc()
	}
}
