// Package api implements the control surface an operator or CLI shell uses
// to drive a swap peer: submit signed envelopes, inspect trade status, and
// watch trade updates over WebSocket. It is the boundary layer named in
// spec §6's "CLI surface" and the REST/WS half of cmd/swapctl's transport.
//
// Grounded on pkg/api/server.go + websocket.go: a *mux.Router wrapped in
// rs/cors, REST handlers that translate app-layer calls into JSON, and a
// Hub/Client WebSocket pair that fan out broadcasts to subscribed clients.
// The routes and domain objects are swapped from perp-market/orderbook
// queries to envelope submission and trade status, but the server
// scaffolding (router setup, CORS, respondJSON/respondError helpers,
// optional transaction log file) is carried over nearly verbatim.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/interswap/swapd/pkg/envelope"
	"github.com/interswap/swapd/pkg/trade"
)

// Publisher fans a locally-applied envelope out to a trade's counterparty
// over the sidechannel transport. Optional: a Server with no Publisher set
// still accepts and applies envelopes locally, it just can't forward them
// on (single-process or test usage).
type Publisher interface {
	Publish(ctx context.Context, tradeID string, env envelope.Signed) error
}

// Server exposes a trade.Manager over HTTP and WebSocket.
type Server struct {
	manager     *trade.Manager
	router      *mux.Router
	hub         *Hub
	log         *zap.SugaredLogger
	bridgeToken string // empty disables auth, matching a local dev default
	txLog       *os.File
	pub         Publisher
}

// SetPublisher registers the sidechannel fan-out used by
// handleSubmitEnvelope after a local Submit succeeds, so an envelope a
// client POSTs to this peer's REST API actually reaches the trade's
// counterparty rather than only being applied locally.
func (s *Server) SetPublisher(pub Publisher) {
	s.pub = pub
}

// NewServer wires a REST+WS server around manager. bridgeToken, if
// non-empty, is required as a Bearer token on every /api/v1 request (spec
// §6's CLI surface: "a bridge token"); /ws and /health are served without
// it. txLogPath, if non-empty, receives a JSON
// line per submitted envelope for audit; pass "" to disable.
func NewServer(manager *trade.Manager, bridgeToken string, txLogPath string, logger *zap.SugaredLogger) *Server {
	var txLog *os.File
	if txLogPath != "" {
		if dir := dirOf(txLogPath); dir != "" {
			_ = os.MkdirAll(dir, 0o755)
		}
		f, err := os.OpenFile(txLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil && logger != nil {
			logger.Warnw("tx_log_open_failed", "path", txLogPath, "err", err)
		} else {
			txLog = f
		}
	}

	s := &Server{
		manager:     manager,
		router:      mux.NewRouter(),
		hub:         NewHub(logger),
		log:         logger,
		bridgeToken: bridgeToken,
		txLog:       txLog,
	}
	s.setupRoutes()
	return s
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return ""
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware)

	api.HandleFunc("/envelopes", s.handleSubmitEnvelope).Methods("POST")
	api.HandleFunc("/trades/{trade_id}", s.handleGetTrade).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// authMiddleware enforces the bridge token when one is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.bridgeToken == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get("Authorization")
		want := "Bearer " + s.bridgeToken
		if got != want {
			respondError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid bridge token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start runs the server, blocking until it errors or is shut down.
func (s *Server) Start(addr string) error {
	go s.hub.Run()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
	})
	handler := c.Handler(s.router)

	if s.log != nil {
		s.log.Infow("api_server_starting", "addr", addr)
	}
	return http.ListenAndServe(addr, handler)
}

// ==============================
// REST handlers
// ==============================

func (s *Server) handleSubmitEnvelope(w http.ResponseWriter, r *http.Request) {
	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}

	env, err := envelope.DecodeJSON(bodyBytes)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid envelope JSON", err.Error())
		return
	}

	if err := s.manager.Submit(r.Context(), env); err != nil {
		respondError(w, http.StatusUnprocessableEntity, "envelope rejected", err.Error())
		return
	}

	s.logEnvelope(env)

	if s.pub != nil {
		if err := s.pub.Publish(r.Context(), env.TradeID, env); err != nil && s.log != nil {
			s.log.Warnw("envelope_publish_failed", "trade_id", env.TradeID, "kind", env.Kind, "err", err)
		}
	}

	t, _ := s.manager.Snapshot(env.TradeID)
	s.hub.BroadcastToChannel("trade:"+env.TradeID, TradeUpdate{Type: "trade", Trade: toStatusResponse(t)})

	respondJSON(w, SubmitEnvelopeResponse{Status: "applied", TradeID: env.TradeID})
}

func (s *Server) handleGetTrade(w http.ResponseWriter, r *http.Request) {
	tradeID := mux.Vars(r)["trade_id"]
	t, ok := s.manager.Snapshot(tradeID)
	if !ok {
		respondError(w, http.StatusNotFound, "trade not found", tradeID)
		return
	}
	respondJSON(w, toStatusResponse(t))
}

// BroadcastTradeUpdate pushes tradeID's current snapshot to every
// WebSocket client subscribed to "trade:<trade_id>". Exported so cmd/swapd
// can call it after ingesting an envelope that arrived over the
// sidechannel transport rather than through the REST endpoint.
func (s *Server) BroadcastTradeUpdate(tradeID string) {
	t, ok := s.manager.Snapshot(tradeID)
	if !ok {
		return
	}
	s.hub.BroadcastToChannel("trade:"+tradeID, TradeUpdate{Type: "trade", Trade: toStatusResponse(t)})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func toStatusResponse(t trade.Trade) TradeStatusResponse {
	return TradeStatusResponse{
		TradeID:            t.TradeID,
		State:              string(t.State),
		HasTerms:           t.HasTerms,
		TermsHash:          t.TermsHash,
		PaymentHashHex:     t.PaymentHash,
		HasEscrow:          t.HasEscrow,
		HasPreimage:        t.HasPreimage,
		InconsistentReason: t.InconsistentReason,
	}
}

// ==============================
// Helpers
// ==============================

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, errMsg, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: errMsg, Message: message})
}

func (s *Server) logEnvelope(e envelope.Signed) {
	if s.txLog == nil {
		return
	}
	entry := map[string]any{
		"timestamp": time.Now().Format(time.RFC3339),
		"kind":      e.Kind,
		"trade_id":  e.TradeID,
		"signer":    e.SignerPubkey,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		if s.log != nil {
			s.log.Warnw("tx_log_marshal_failed", "err", err)
		}
		return
	}
	_, _ = s.txLog.Write(data)
	_, _ = s.txLog.Write([]byte("\n"))
}
