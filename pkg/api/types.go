package api

// API request/response types for the swap coordinator's REST and
// WebSocket surface.

// SubmitEnvelopeResponse is returned from a successful envelope submission.
type SubmitEnvelopeResponse struct {
	Status  string `json:"status"`
	TradeID string `json:"tradeId"`
}

// TradeStatusResponse is the REST and WebSocket view of a trade's current
// state, narrower than trade.Trade: it exposes what a CLI or UI needs to
// display, not the full internal replay state (LastHashByKind, raw typed
// bodies).
type TradeStatusResponse struct {
	TradeID            string `json:"tradeId"`
	State              string `json:"state"`
	HasTerms           bool   `json:"hasTerms"`
	TermsHash          string `json:"termsHash,omitempty"`
	PaymentHashHex     string `json:"paymentHashHex,omitempty"`
	HasEscrow          bool   `json:"hasEscrow"`
	HasPreimage        bool   `json:"hasPreimage"`
	InconsistentReason string `json:"inconsistentReason,omitempty"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by a client to subscribe to channels, e.g.
// ["trade:t1", "trade:t2"].
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
}

// TradeUpdate is broadcast on channel "trade:<trade_id>" whenever that
// trade's state changes.
type TradeUpdate struct {
	Type  string              `json:"type"` // "trade"
	Trade TradeStatusResponse `json:"trade"`
}

// ErrorResponse is the uniform JSON error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
