package oracle

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"
)

var (
	// ErrUnknownRequest is returned for a request id the bridge never issued.
	ErrUnknownRequest = errors.New("unknown oracle request")
	// ErrNotFulfilled is returned when reading a result that has not arrived.
	ErrNotFulfilled = errors.New("oracle request not fulfilled")
	// ErrInsufficientRelayFunds is returned when the designated relay wallet
	// could not be brought above the funding floor.
	ErrInsufficientRelayFunds = errors.New("insufficient relay wallet funds")
)

// RequestState tracks the lifecycle of one oracle request.
type RequestState int

const (
	RequestPending RequestState = iota
	RequestFulfilled
)

// Request is an outstanding or answered off-chain query.
type Request struct {
	ID         common.Hash
	ProviderID common.Hash
	EndpointID common.Hash
	Relay      common.Address
	Params     []byte
	State      RequestState
}

type pendingRequest struct {
	req    Request
	data   []byte
	filled chan struct{}
}

// Config wires the bridge to its requester identity and funding policy.
type Config struct {
	// RequesterIndex identifies this requester on the oracle protocol; it
	// feeds request-id derivation.
	RequesterIndex uint64
	// Relay is the designated wallet that pays for off-chain processing.
	Relay common.Address
	// FundingFloor is the minimum relay balance required before submission.
	FundingFloor *big.Int
	// TopUpAmount is transferred when the relay balance is under the floor.
	TopUpAmount *big.Int
	// FundingBackoff builds the retry policy for funding transfers. Nil
	// selects the default exponential backoff.
	FundingBackoff func() backoff.BackOff
}

// Bridge correlates outbound off-chain data requests with their asynchronous
// fulfillments. Unlike the escrow engine it is genuinely concurrent: requests
// and fulfillments arrive on unrelated goroutines.
type Bridge struct {
	cfg    Config
	funder RelayFunder
	log    logrus.FieldLogger

	mu       sync.Mutex
	nonce    uint64
	requests map[common.Hash]*pendingRequest
}

func NewBridge(cfg Config, funder RelayFunder, log logrus.FieldLogger) *Bridge {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Bridge{
		cfg:      cfg,
		funder:   funder,
		log:      log,
		requests: make(map[common.Hash]*pendingRequest),
	}
}

// CreateRequest submits a query for an off-chain fact and returns its opaque
// request id. The designated relay wallet is topped up first when its balance
// sits under the funding floor; the top-up transfer is awaited before the
// request is recorded.
func (b *Bridge) CreateRequest(ctx context.Context, providerID, endpointID common.Hash, params []byte) (common.Hash, error) {
	if err := b.ensureRelayFunded(ctx); err != nil {
		return common.Hash{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nonce++
	id := deriveRequestID(providerID, endpointID, b.cfg.RequesterIndex, b.nonce)
	b.requests[id] = &pendingRequest{
		req: Request{
			ID:         id,
			ProviderID: providerID,
			EndpointID: endpointID,
			Relay:      b.cfg.Relay,
			Params:     params,
			State:      RequestPending,
		},
		filled: make(chan struct{}),
	}

	b.log.WithFields(logrus.Fields{
		"request_id": id.Hex(),
		"endpoint":   endpointID.Hex(),
	}).Info("oracle request created")
	return id, nil
}

// Fulfill delivers the off-chain answer for a request. A request id is
// single-use: a duplicate delivery is ignored and reported as false.
func (b *Bridge) Fulfill(id common.Hash, data []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	pr, ok := b.requests[id]
	if !ok {
		b.log.WithField("request_id", id.Hex()).Warn("fulfillment for unknown request")
		return false
	}
	if pr.req.State == RequestFulfilled {
		b.log.WithField("request_id", id.Hex()).Warn("duplicate fulfillment ignored")
		return false
	}

	pr.data = append([]byte(nil), data...)
	pr.req.State = RequestFulfilled
	close(pr.filled)
	return true
}

// AwaitFulfillment blocks until the answer for id arrives or ctx is done.
// The protocol imposes no timeout of its own; callers bound the wait through
// the context.
func (b *Bridge) AwaitFulfillment(ctx context.Context, id common.Hash) ([]byte, error) {
	b.mu.Lock()
	pr, ok := b.requests[id]
	b.mu.Unlock()
	if !ok {
		return nil, ErrUnknownRequest
	}

	select {
	case <-pr.filled:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), pr.data...), nil
}

// FulfilledData reads the stored answer for a fulfilled request.
func (b *Bridge) FulfilledData(id common.Hash) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pr, ok := b.requests[id]
	if !ok {
		return nil, ErrUnknownRequest
	}
	if pr.req.State != RequestFulfilled {
		return nil, ErrNotFulfilled
	}
	return append([]byte(nil), pr.data...), nil
}

// Lookup returns a copy of the request record.
func (b *Bridge) Lookup(id common.Hash) (Request, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	pr, ok := b.requests[id]
	if !ok {
		return Request{}, false
	}
	return pr.req, true
}

func (b *Bridge) ensureRelayFunded(ctx context.Context) error {
	balance, err := b.funder.Balance(ctx, b.cfg.Relay)
	if err != nil {
		return fmt.Errorf("relay balance: %w", err)
	}
	if balance.Cmp(b.cfg.FundingFloor) >= 0 {
		return nil
	}

	b.log.WithFields(logrus.Fields{
		"relay":   b.cfg.Relay.Hex(),
		"balance": balance.String(),
		"floor":   b.cfg.FundingFloor.String(),
	}).Info("relay wallet under floor, funding")

	fund := func() error {
		return b.funder.Fund(ctx, b.cfg.Relay, b.cfg.TopUpAmount)
	}
	var policy backoff.BackOff
	if b.cfg.FundingBackoff != nil {
		policy = b.cfg.FundingBackoff()
	} else {
		policy = backoff.NewExponentialBackOff()
	}
	if err := backoff.Retry(fund, backoff.WithContext(policy, ctx)); err != nil {
		return fmt.Errorf("%w: %v", ErrInsufficientRelayFunds, err)
	}
	return nil
}

func deriveRequestID(providerID, endpointID common.Hash, requesterIndex, nonce uint64) common.Hash {
	var idx, n [8]byte
	binary.BigEndian.PutUint64(idx[:], requesterIndex)
	binary.BigEndian.PutUint64(n[:], nonce)
	return crypto.Keccak256Hash(providerID[:], endpointID[:], idx[:], n[:])
}
