// Package api exposes the relayer's operational HTTP surface: liveness,
// JSON and Prometheus metrics, an aggregated status view, front-end intent
// registration and per-intent status lookup. Everything speaks JSON with
// camelCase keys. The surface carries no authentication; deployments front
// it with an infra-level gateway.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"reflect"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/privacybox/relayer/relayer/db/iface"
	"github.com/privacybox/relayer/relayer/metrics"
	"github.com/privacybox/relayer/relayer/types"
	"github.com/privacybox/relayer/shared/circuitbreaker"
)

var log = logrus.WithField("prefix", "api")

// Config wires the HTTP service.
type Config struct {
	Port     int
	Database iface.Database
	Registry *metrics.Registry
	Deps     metrics.Deps
	// BreakerState reports the Aleo breaker for health and register gating.
	BreakerState func() circuitbreaker.State
	// Enqueue adds a validated, persisted intent to its batch queue.
	Enqueue func(types.TransferIntent)
	// MinBalance is the smallest wallet balance across all chains.
	MinBalance func() *big.Int
	// BalanceFloor is the degraded-health threshold in wei.
	BalanceFloor *big.Int
	// DLQTotal is the total number of parked intents.
	DLQTotal func() int
	// ServiceStatuses reports per-service health from the registry; any
	// unhealthy service degrades the overall status.
	ServiceStatuses func() map[reflect.Type]error
	// ShutdownGrace bounds how long Stop waits for in-flight requests.
	ShutdownGrace time.Duration
}

// Service is the HTTP server.
type Service struct {
	cfg        Config
	server     *http.Server
	startedAt  time.Time
	failStatus error
}

// NewService builds the router and server.
func NewService(cfg Config) *Service {
	s := &Service{cfg: cfg}

	router := mux.NewRouter()
	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	router.Handle("/metrics/prom", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/api/intent/register", s.handleRegister).Methods(http.MethodPost)
	router.HandleFunc("/api/transaction/{requestId}", s.handleTransaction).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: router,
	}
	return s
}

// Start begins serving.
func (s *Service) Start() {
	s.startedAt = time.Now()
	log.WithField("endpoint", s.server.Addr).Info("Starting HTTP service")
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("Could not serve HTTP")
			s.failStatus = err
		}
	}()
}

// Stop drains in-flight requests within the grace window.
func (s *Service) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownGrace)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Status reports a listener failure, if any.
func (s *Service) Status() error {
	return s.failStatus
}

// Handler exposes the router for tests.
func (s *Service) Handler() http.Handler {
	return s.server.Handler
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Debug("Could not write response body")
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// storeReachable probes the persistent store with a cheap read.
func (s *Service) storeReachable() bool {
	_, err := s.cfg.Database.ListByStatus(types.StatusPending, 1)
	return err == nil
}

// overallStatus derives healthy/degraded/unhealthy per the health contract.
func (s *Service) overallStatus() string {
	if !s.storeReachable() {
		return "unhealthy"
	}
	if s.cfg.BreakerState() == circuitbreaker.Open {
		return "degraded"
	}
	if s.cfg.BalanceFloor != nil && s.cfg.MinBalance().Cmp(s.cfg.BalanceFloor) < 0 {
		return "degraded"
	}
	if s.cfg.ServiceStatuses != nil {
		for kind, err := range s.cfg.ServiceStatuses() {
			if err != nil {
				log.WithError(err).WithField("service", kind.String()).Debug("Service reports unhealthy")
				return "degraded"
			}
		}
	}
	return "healthy"
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := s.overallStatus()
	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, map[string]interface{}{
		"status": status,
		"uptime": time.Since(s.startedAt).Seconds(),
	})
}

func (s *Service) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"chains":  s.cfg.Registry.Snapshot(s.cfg.Deps),
		"dlqSize": s.cfg.DLQTotal(),
		"uptime":  time.Since(s.startedAt).Seconds(),
	})
}

func (s *Service) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         s.overallStatus(),
		"circuitBreaker": string(s.cfg.BreakerState()),
		"database": map[string]interface{}{
			"reachable": s.storeReachable(),
			"path":      s.cfg.Database.DatabasePath(),
		},
		"chains": s.cfg.Registry.Snapshot(s.cfg.Deps),
	})
}

// registerRequest is the front-end companion's intent submission.
type registerRequest struct {
	TxID      string `json:"txId"`
	ChainID   uint64 `json:"chainId"`
	Amount    string `json:"amount"`
	Recipient string `json:"recipient"`
}

func (s *Service) handleRegister(w http.ResponseWriter, r *http.Request) {
	if s.cfg.BreakerState() == circuitbreaker.Open {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "upstream circuit is open"})
		return
	}
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed JSON body"})
		return
	}
	intent := types.TransferIntent{
		RequestID:  req.TxID,
		SourceTxID: req.TxID,
		ChainID:    types.ChainID(req.ChainID),
		Amount:     req.Amount,
		Recipient:  req.Recipient,
		CreatedAt:  time.Now(),
	}
	if err := intent.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	// Same dedup and settlement semantics as the Aleo-sourced path: the
	// pending record is durable before the intent is enqueued.
	if err := s.cfg.Database.MarkPending(types.NewPendingRecord(intent)); err != nil {
		if errors.Is(err, iface.ErrAlreadyExists) {
			writeJSON(w, http.StatusConflict, errorResponse{Error: "intent already processed"})
			return
		}
		log.WithError(err).Error("Could not persist registered intent")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "storage failure"})
		return
	}
	s.cfg.Enqueue(intent)
	log.WithFields(map[string]interface{}{
		"requestId": intent.RequestID,
		"chainId":   intent.ChainID,
	}).Info("Registered front-end intent")
	writeJSON(w, http.StatusAccepted, map[string]string{"requestId": intent.RequestID})
}

func (s *Service) handleTransaction(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["requestId"]
	record, err := s.cfg.Database.Record(requestID)
	if err != nil {
		if errors.Is(err, iface.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown request id"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "storage failure"})
		return
	}
	writeJSON(w, http.StatusOK, record)
}
