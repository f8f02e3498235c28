package oracle

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/big"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
)

var (
	testProvider = common.HexToHash("0xc6323485739cdf4f1073c1b21bb21a8a5c0a619ffb84dd56c4f4454af2802a40")
	testEndpoint = common.HexToHash("0xfaddd73f4f1146eac64d68006f7245da2bfa33c3d1be30e8ee757834a546a905")
	testRelay    = common.HexToAddress("0x00000000000000000000000000000000000000dd")
)

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestBridge(funder RelayFunder) *Bridge {
	return NewBridge(Config{
		RequesterIndex: 7,
		Relay:          testRelay,
		FundingFloor:   big.NewInt(1e14),
		TopUpAmount:    big.NewInt(1e15),
		FundingBackoff: func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 3)
		},
	}, funder, quietLogger())
}

func TestCreateRequestAssignsDistinctIDs(t *testing.T) {
	funder := NewFakeRelayFunder()
	funder.SetBalance(testRelay, big.NewInt(1e15))
	b := newTestBridge(funder)

	ctx := context.Background()
	first, err := b.CreateRequest(ctx, testProvider, testEndpoint, []byte("banks.0.id"))
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	second, err := b.CreateRequest(ctx, testProvider, testEndpoint, []byte("banks.0.id"))
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if first == second {
		t.Fatalf("identical queries must still get distinct request ids")
	}

	req, ok := b.Lookup(first)
	if !ok || req.State != RequestPending {
		t.Fatalf("expected pending request, got %+v ok=%v", req, ok)
	}
	if funder.FundCalls != 0 {
		t.Fatalf("funded relay must not be topped up, calls=%d", funder.FundCalls)
	}
}

func TestCreateRequestTopsUpUnderfundedRelay(t *testing.T) {
	funder := NewFakeRelayFunder()
	funder.SetBalance(testRelay, big.NewInt(1e13)) // under the 1e14 floor
	b := newTestBridge(funder)

	if _, err := b.CreateRequest(context.Background(), testProvider, testEndpoint, nil); err != nil {
		t.Fatalf("create request: %v", err)
	}
	if funder.FundCalls != 1 {
		t.Fatalf("expected one funding transfer, got %d", funder.FundCalls)
	}

	balance, _ := funder.Balance(context.Background(), testRelay)
	if balance.Cmp(big.NewInt(1e14)) < 0 {
		t.Fatalf("relay still under floor after top-up: %s", balance)
	}
}

func TestCreateRequestFundingExhaustion(t *testing.T) {
	funder := NewFakeRelayFunder()
	funder.FailFunding = true
	b := newTestBridge(funder)

	_, err := b.CreateRequest(context.Background(), testProvider, testEndpoint, nil)
	if !errors.Is(err, ErrInsufficientRelayFunds) {
		t.Fatalf("expected ErrInsufficientRelayFunds, got %v", err)
	}
	if funder.FundCalls != 4 { // initial attempt + 3 retries
		t.Fatalf("expected 4 funding attempts, got %d", funder.FundCalls)
	}
}

func TestAwaitFulfillment(t *testing.T) {
	funder := NewFakeRelayFunder()
	funder.SetBalance(testRelay, big.NewInt(1e15))
	b := newTestBridge(funder)

	ctx := context.Background()
	id, err := b.CreateRequest(ctx, testProvider, testEndpoint, nil)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	go func() {
		time.Sleep(5 * time.Millisecond)
		b.Fulfill(id, []byte("obp-bank-x"))
	}()

	data, err := b.AwaitFulfillment(ctx, id)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if !bytes.Equal(data, []byte("obp-bank-x")) {
		t.Fatalf("unexpected answer %q", data)
	}

	stored, err := b.FulfilledData(id)
	if err != nil || !bytes.Equal(stored, []byte("obp-bank-x")) {
		t.Fatalf("fulfilled data: %q, %v", stored, err)
	}
}

func TestAwaitFulfillmentCancellation(t *testing.T) {
	funder := NewFakeRelayFunder()
	funder.SetBalance(testRelay, big.NewInt(1e15))
	b := newTestBridge(funder)

	id, err := b.CreateRequest(context.Background(), testProvider, testEndpoint, nil)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if _, err := b.AwaitFulfillment(ctx, id); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestDuplicateFulfillmentIgnored(t *testing.T) {
	funder := NewFakeRelayFunder()
	funder.SetBalance(testRelay, big.NewInt(1e15))
	b := newTestBridge(funder)

	id, err := b.CreateRequest(context.Background(), testProvider, testEndpoint, nil)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	if !b.Fulfill(id, []byte("first")) {
		t.Fatalf("first fulfillment must apply")
	}
	if b.Fulfill(id, []byte("second")) {
		t.Fatalf("duplicate fulfillment must be ignored")
	}

	data, err := b.FulfilledData(id)
	if err != nil {
		t.Fatalf("fulfilled data: %v", err)
	}
	if !bytes.Equal(data, []byte("first")) {
		t.Fatalf("duplicate delivery overwrote the result: %q", data)
	}
}

func TestFulfillUnknownRequest(t *testing.T) {
	b := newTestBridge(NewFakeRelayFunder())

	if b.Fulfill(common.HexToHash("0x01"), []byte("x")) {
		t.Fatalf("unknown request must not be fulfillable")
	}
	if _, err := b.FulfilledData(common.HexToHash("0x01")); !errors.Is(err, ErrUnknownRequest) {
		t.Fatalf("expected ErrUnknownRequest, got %v", err)
	}
	if _, err := b.AwaitFulfillment(context.Background(), common.HexToHash("0x01")); !errors.Is(err, ErrUnknownRequest) {
		t.Fatalf("expected ErrUnknownRequest, got %v", err)
	}
}

func TestFulfilledDataBeforeFulfillment(t *testing.T) {
	funder := NewFakeRelayFunder()
	funder.SetBalance(testRelay, big.NewInt(1e15))
	b := newTestBridge(funder)

	id, err := b.CreateRequest(context.Background(), testProvider, testEndpoint, nil)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if _, err := b.FulfilledData(id); !errors.Is(err, ErrNotFulfilled) {
		t.Fatalf("expected ErrNotFulfilled, got %v", err)
	}
}
