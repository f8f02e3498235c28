package server

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"cardinal/internal/config"
	"cardinal/internal/escrow"
	"cardinal/internal/hmacauth"
	"cardinal/internal/oracle"
	"cardinal/internal/registry"
)

// Server exposes the escrow engines and the oracle bridge over HTTP. Bank
// operations are HMAC-signed; each card's engine runs behind its own Runner.
type Server struct {
	cfg        *config.AppConfig
	registry   registry.Store
	bridge     *oracle.Bridge
	bankHMAC   *hmacauth.Verifier
	httpServer *http.Server
	metrics    *metricsRegistry
	log        logrus.FieldLogger
	bank       common.Address

	dbHealthFn  func(context.Context) error
	rpcHealthFn func(context.Context) error

	mu    sync.RWMutex
	cards map[string]*escrow.Runner
}

func NewServer(cfg *config.AppConfig, store registry.Store, bridge *oracle.Bridge, log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}

	bankVerifier := &hmacauth.Verifier{
		Secret:  cfg.Seed.Secrets.BankWebhookSecret,
		MaxSkew: cfg.Service.HMACClockSkew,
	}

	s := &Server{
		cfg:      cfg,
		registry: store,
		bridge:   bridge,
		bankHMAC: bankVerifier,
		metrics:  newMetricsRegistry(),
		log:      log,
		bank:     common.HexToAddress(cfg.Seed.Bank),
		cards:    make(map[string]*escrow.Runner),
	}

	if checker, ok := store.(interface{ Ping(context.Context) error }); ok {
		s.dbHealthFn = checker.Ping
	}

	mux := http.NewServeMux()
	mux.Handle("/api/v1/create-contract", s.bankHMAC.Middleware(http.HandlerFunc(s.handleCreateContract)))
	mux.HandleFunc("/api/v1/deposit", s.handleDeposit)
	mux.Handle("/api/v1/request-funds", s.bankHMAC.Middleware(http.HandlerFunc(s.handleRequestFunds)))
	mux.Handle("/api/v1/complete-transaction", s.bankHMAC.Middleware(http.HandlerFunc(s.handleCompleteTransaction)))
	mux.Handle("/api/v1/cancel-transaction", s.bankHMAC.Middleware(http.HandlerFunc(s.handleCancelTransaction)))
	mux.Handle("/api/v1/oracle/requests", s.bankHMAC.Middleware(http.HandlerFunc(s.handleOracleRequest)))
	mux.HandleFunc("/api/v1/oracle/fulfillments", s.handleOracleFulfillment)
	mux.HandleFunc("/api/v1/oracle/data", s.handleOracleData)
	mux.HandleFunc("/api/v1/oracle/await", s.handleOracleAwait)
	mux.HandleFunc("/api/v1/card-status", s.handleCardStatus)
	mux.Handle("/api/v1/metrics", s.metrics.handler())
	mux.HandleFunc("/api/v1/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           requestIDMiddleware(mux),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

// SetRPCHealth registers the chain connectivity probe used by /health.
func (s *Server) SetRPCHealth(fn func(context.Context) error) {
	s.rpcHealthFn = fn
}

func (s *Server) Start() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("API listening")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, runner := range s.cards {
		runner.Close()
	}
	s.cards = make(map[string]*escrow.Runner)
	return err
}

// RestoreCards rebuilds engines from persisted registry records. Custodied
// balances are not part of the registry; restored cards start empty.
func (s *Server) RestoreCards(records []registry.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		card := escrow.Card{
			ID:         escrow.CardID(rec.CardID),
			Bank:       common.HexToAddress(rec.Bank),
			Cardholder: common.HexToAddress(rec.Cardholder),
			TxLimit:    rec.TxLimit,
			MonthLimit: rec.MonthLimit,
		}
		s.cards[rec.CardID] = escrow.NewRunner(escrow.New(card, escrow.Config{
			ValueScale: s.cfg.Seed.Scaling.ValueScale,
		}))
		s.log.WithField("card", rec.CardID).Info("card restored from registry")
	}
}

func (s *Server) runnerFor(cardID string) (*escrow.Runner, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runner, ok := s.cards[cardID]
	return runner, ok
}

type createContractRequest struct {
	CardholderAddress string `json:"cardholder_address"`
	CardID            string `json:"card_id"`
	TransactionLimit  int64  `json:"transaction_limit"`
	MonthLimit        int64  `json:"month_limit"`
}

type createContractResponse struct {
	InstanceID     string `json:"instance_id"`
	CardID         string `json:"card_id"`
	RequesterIndex uint64 `json:"requester_index"`
}

func (s *Server) handleCreateContract(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload createContractRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}
	if payload.CardID == "" || len(payload.CardID) > common.HashLength {
		http.Error(w, "card_id must be 1-32 bytes", http.StatusBadRequest)
		return
	}
	if !common.IsHexAddress(payload.CardholderAddress) {
		http.Error(w, "invalid cardholder_address", http.StatusBadRequest)
		return
	}
	if payload.TransactionLimit <= 0 || payload.MonthLimit <= 0 {
		http.Error(w, "limits must be positive", http.StatusBadRequest)
		return
	}

	limitScale := s.cfg.Seed.Scaling.LimitScale
	txLimit, okTx := scaleUnits(payload.TransactionLimit, limitScale)
	monthLimit, okMonth := scaleUnits(payload.MonthLimit, limitScale)
	if !okTx || !okMonth {
		http.Error(w, "limits out of range", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	if _, exists := s.cards[payload.CardID]; exists {
		s.mu.Unlock()
		http.Error(w, "card already exists", http.StatusConflict)
		return
	}

	card := escrow.Card{
		ID:         escrow.CardID(payload.CardID),
		Bank:       s.bank,
		Cardholder: common.HexToAddress(payload.CardholderAddress),
		TxLimit:    txLimit,
		MonthLimit: monthLimit,
	}
	runner := escrow.NewRunner(escrow.New(card, escrow.Config{
		ValueScale: s.cfg.Seed.Scaling.ValueScale,
	}))
	s.cards[payload.CardID] = runner
	s.mu.Unlock()

	record := registry.Record{
		CardID:         payload.CardID,
		InstanceID:     uuid.NewString(),
		RequesterIndex: s.cfg.Seed.Oracle.RequesterIndex,
		Bank:           s.bank.Hex(),
		Cardholder:     common.HexToAddress(payload.CardholderAddress).Hex(),
		TxLimit:        card.TxLimit,
		MonthLimit:     card.MonthLimit,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.registry.Save(r.Context(), record); err != nil {
		// Creation is atomic: an unpersisted card must not survive in memory,
		// or a retry hits the duplicate check and the card dies on restart.
		s.mu.Lock()
		delete(s.cards, payload.CardID)
		s.mu.Unlock()
		runner.Close()
		s.log.WithError(err).Error("persist card record")
		http.Error(w, "failed to persist card record", http.StatusInternalServerError)
		return
	}

	s.log.WithFields(logrus.Fields{
		"card":        payload.CardID,
		"instance_id": record.InstanceID,
	}).Info("card contract created")

	writeJSON(w, http.StatusCreated, createContractResponse{
		InstanceID:     record.InstanceID,
		CardID:         record.CardID,
		RequesterIndex: record.RequesterIndex,
	})
}

type depositRequest struct {
	CardID string `json:"card_id"`
	Amount string `json:"amount"` // decimal string in custodied units
}

type depositResponse struct {
	CardID  string `json:"card_id"`
	Balance string `json:"balance"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload depositRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}

	runner, ok := s.runnerFor(payload.CardID)
	if !ok {
		http.Error(w, "unknown card", http.StatusNotFound)
		return
	}

	amount, ok := new(big.Int).SetString(payload.Amount, 10)
	if !ok {
		http.Error(w, "invalid amount: "+payload.Amount, http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if err := runner.Deposit(ctx, amount); err != nil {
		s.metrics.incDeposit("rejected")
		http.Error(w, err.Error(), statusForEngineError(err))
		return
	}
	s.metrics.incDeposit("ok")

	snap, err := runner.Snapshot(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, depositResponse{
		CardID:  payload.CardID,
		Balance: snap.Balance.String(),
	})
}

type requestFundsRequest struct {
	CardID        string `json:"card_id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	ReferenceCode string `json:"reference_code"`
	CallerAddress string `json:"caller_address,omitempty"`
}

func (s *Server) handleRequestFunds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload requestFundsRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}
	if payload.ReferenceCode == "" {
		http.Error(w, "reference_code is required", http.StatusBadRequest)
		return
	}
	if payload.Amount <= 0 {
		http.Error(w, "amount must be positive", http.StatusBadRequest)
		return
	}

	runner, ok := s.runnerFor(payload.CardID)
	if !ok {
		http.Error(w, "unknown card", http.StatusNotFound)
		return
	}

	// Requested amounts travel in whole currency units and are scaled the
	// same way the limits were at creation.
	scaled, ok := scaleUnits(payload.Amount, s.cfg.Seed.Scaling.LimitScale)
	if !ok {
		http.Error(w, "amount out of range", http.StatusBadRequest)
		return
	}

	err := runner.RequestFunds(r.Context(), s.callerOr(payload.CallerAddress),
		escrow.CardID(payload.CardID), scaled, payload.Currency, payload.ReferenceCode, time.Now().UTC())
	if err != nil {
		s.metrics.incRequest(labelForEngineError(err))
		http.Error(w, err.Error(), statusForEngineError(err))
		return
	}

	s.metrics.incRequest("ok")
	s.metrics.lockAcquired()
	writeJSON(w, http.StatusAccepted, map[string]string{
		"card_id":        payload.CardID,
		"reference_code": payload.ReferenceCode,
		"status":         "pending",
	})
}

type completeTransactionRequest struct {
	CardID        string `json:"card_id"`
	ReferenceCode string `json:"reference_code"`
	CallerAddress string `json:"caller_address,omitempty"`
}

func (s *Server) handleCompleteTransaction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload completeTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}

	runner, ok := s.runnerFor(payload.CardID)
	if !ok {
		http.Error(w, "unknown card", http.StatusNotFound)
		return
	}

	ctx := r.Context()
	err := runner.CompleteTransaction(ctx, s.callerOr(payload.CallerAddress),
		escrow.CardID(payload.CardID), payload.ReferenceCode)
	if err != nil {
		s.metrics.incCompletion(labelForEngineError(err))
		// A failed release still clears the lock.
		if errors.Is(err, escrow.ErrInsufficientFunds) {
			s.metrics.lockReleased()
		}
		http.Error(w, err.Error(), statusForEngineError(err))
		return
	}

	s.metrics.incCompletion("ok")
	s.metrics.lockReleased()

	snap, err := runner.Snapshot(ctx)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"card_id":        payload.CardID,
		"reference_code": payload.ReferenceCode,
		"status":         "completed",
		"balance":        snap.Balance.String(),
	})
}

func (s *Server) handleCancelTransaction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload completeTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}

	runner, ok := s.runnerFor(payload.CardID)
	if !ok {
		http.Error(w, "unknown card", http.StatusNotFound)
		return
	}

	err := runner.CancelTransaction(r.Context(), s.callerOr(payload.CallerAddress),
		escrow.CardID(payload.CardID), payload.ReferenceCode)
	if err != nil {
		s.metrics.incCompletion(labelForEngineError(err))
		http.Error(w, err.Error(), statusForEngineError(err))
		return
	}

	s.metrics.incCompletion("cancelled")
	s.metrics.lockReleased()
	writeJSON(w, http.StatusOK, map[string]string{
		"card_id":        payload.CardID,
		"reference_code": payload.ReferenceCode,
		"status":         "cancelled",
	})
}

type oracleRequestRequest struct {
	Params string `json:"params"`
}

func (s *Server) handleOracleRequest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload oracleRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}

	providerID := common.HexToHash(s.cfg.Seed.Oracle.ProviderID)
	endpointID := common.HexToHash(s.cfg.Seed.Oracle.EndpointID)

	id, err := s.bridge.CreateRequest(r.Context(), providerID, endpointID, []byte(payload.Params))
	if err != nil {
		if errors.Is(err, oracle.ErrInsufficientRelayFunds) {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"request_id": id.Hex()})
}

type oracleFulfillmentRequest struct {
	RequestID string `json:"request_id"`
	Data      string `json:"data"`
}

func (s *Server) handleOracleFulfillment(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload oracleFulfillmentRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json payload", http.StatusBadRequest)
		return
	}

	applied := s.bridge.Fulfill(common.HexToHash(payload.RequestID), []byte(payload.Data))
	if applied {
		s.metrics.incFulfillment("applied")
	} else {
		s.metrics.incFulfillment("ignored")
	}
	writeJSON(w, http.StatusOK, map[string]bool{"applied": applied})
}

func (s *Server) handleOracleData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := common.HexToHash(r.URL.Query().Get("requestId"))
	data, err := s.bridge.FulfilledData(id)
	switch {
	case errors.Is(err, oracle.ErrUnknownRequest):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, oracle.ErrNotFulfilled):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"request_id": id.Hex(),
		"data":       string(data),
	})
}

// handleOracleAwait blocks until the answer for a request arrives, bounded by
// the configured fulfillment timeout.
func (s *Server) handleOracleAwait(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := common.HexToHash(r.URL.Query().Get("requestId"))

	ctx := r.Context()
	if s.cfg.Service.FulfillmentTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Service.FulfillmentTimeout)
		defer cancel()
	}

	data, err := s.bridge.AwaitFulfillment(ctx, id)
	switch {
	case errors.Is(err, oracle.ErrUnknownRequest):
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		http.Error(w, "fulfillment wait timed out", http.StatusGatewayTimeout)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"request_id": id.Hex(),
		"data":       string(data),
	})
}

func (s *Server) handleCardStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cardID := r.URL.Query().Get("cardId")
	runner, ok := s.runnerFor(cardID)
	if !ok {
		http.Error(w, "unknown card", http.StatusNotFound)
		return
	}

	snap, err := runner.Snapshot(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := struct {
		CardID       string `json:"card_id"`
		Balance      string `json:"balance"`
		Locked       bool   `json:"locked"`
		MonthlyUsed  int64  `json:"monthly_used"`
		PendingRef   string `json:"pending_reference,omitempty"`
		PendingValue int64  `json:"pending_amount,omitempty"`
	}{
		CardID:      cardID,
		Balance:     snap.Balance.String(),
		Locked:      snap.Locked,
		MonthlyUsed: snap.MonthlyUsed,
	}
	if snap.HasPending {
		resp.PendingRef = snap.Pending.Reference
		resp.PendingValue = snap.Pending.Amount
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	rpcInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.rpcHealthFn != nil {
		rpcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.rpcHealthFn(rpcCtx); err != nil {
			rpcInfo.Connected = false
			rpcInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	dbInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.dbHealthFn != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.dbHealthFn(dbCtx); err != nil {
			dbInfo.Connected = false
			dbInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	s.mu.RLock()
	cardCount := len(s.cards)
	s.mu.RUnlock()

	status := "healthy"
	if !overallHealthy {
		status = "degraded"
	}

	resp := struct {
		Status   string      `json:"status"`
		RPC      interface{} `json:"rpc"`
		Registry interface{} `json:"registry"`
		Cards    int         `json:"cards"`
	}{
		Status:   status,
		RPC:      rpcInfo,
		Registry: dbInfo,
		Cards:    cardCount,
	}

	w.Header().Set("Content-Type", "application/json")
	if !overallHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) callerOr(addr string) common.Address {
	if common.IsHexAddress(addr) {
		return common.HexToAddress(addr)
	}
	return s.bank
}

// scaleUnits converts whole currency units into scaled engine units. The
// product must fit in int64; a wrapped value would slip under the caps.
func scaleUnits(amount, scale int64) (int64, bool) {
	scaled := amount * scale
	if amount != 0 && scaled/scale != amount {
		return 0, false
	}
	return scaled, true
}

func statusForEngineError(err error) int {
	switch {
	case errors.Is(err, escrow.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, escrow.ErrUnknownCard):
		return http.StatusNotFound
	case errors.Is(err, escrow.ErrAlreadyLocked),
		errors.Is(err, escrow.ErrNotLocked),
		errors.Is(err, escrow.ErrReferenceMismatch):
		return http.StatusConflict
	case errors.Is(err, escrow.ErrExceedsTxLimit),
		errors.Is(err, escrow.ErrExceedsMonthLimit),
		errors.Is(err, escrow.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, escrow.ErrInvalidAmount):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func labelForEngineError(err error) string {
	switch {
	case errors.Is(err, escrow.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, escrow.ErrAlreadyLocked):
		return "locked"
	case errors.Is(err, escrow.ErrNotLocked), errors.Is(err, escrow.ErrReferenceMismatch):
		return "mismatch"
	case errors.Is(err, escrow.ErrExceedsTxLimit), errors.Is(err, escrow.ErrExceedsMonthLimit):
		return "limit"
	case errors.Is(err, escrow.ErrInsufficientFunds):
		return "funds"
	default:
		return "error"
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Request-Id") == "" {
			r.Header.Set("X-Request-Id", uuid.NewString())
		}
		next.ServeHTTP(w, r)
	})
}
