package oracle

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// RelayFunder abstracts the chain-side view of the designated relay wallet:
// reading its balance and transferring value to it. Fund returns only after
// the transfer is confirmed.
type RelayFunder interface {
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
	Fund(ctx context.Context, addr common.Address, amount *big.Int) error
}

// FakeRelayFunder keeps balances in memory and confirms transfers instantly.
type FakeRelayFunder struct {
	mu       sync.Mutex
	balances map[common.Address]*big.Int
	// FailFunding makes every Fund call fail, for exercising the retry path.
	FailFunding bool
	FundCalls   int
}

func NewFakeRelayFunder() *FakeRelayFunder {
	return &FakeRelayFunder{balances: make(map[common.Address]*big.Int)}
}

func (f *FakeRelayFunder) SetBalance(addr common.Address, amount *big.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[addr] = new(big.Int).Set(amount)
}

func (f *FakeRelayFunder) Balance(_ context.Context, addr common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	balance, ok := f.balances[addr]
	if !ok {
		return new(big.Int), nil
	}
	return new(big.Int).Set(balance), nil
}

func (f *FakeRelayFunder) Fund(_ context.Context, addr common.Address, amount *big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FundCalls++
	if f.FailFunding {
		return fmt.Errorf("funding transfer rejected")
	}
	balance, ok := f.balances[addr]
	if !ok {
		balance = new(big.Int)
	}
	f.balances[addr] = balance.Add(balance, amount)
	return nil
}
