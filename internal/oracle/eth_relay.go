package oracle

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// EthRelayFunder funds the designated relay wallet with plain value
// transfers over JSON-RPC.
type EthRelayFunder struct {
	client  *ethclient.Client
	key     *ecdsa.PrivateKey
	from    common.Address
	chainID *big.Int
}

type EthRelayConfig struct {
	RPCURL        string
	PrivateKeyHex string
}

func NewEthRelayFunder(ctx context.Context, cfg EthRelayConfig) (*EthRelayFunder, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if cfg.PrivateKeyHex == "" {
		return nil, fmt.Errorf("private key is required for relay funding")
	}

	cli, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	key, err := parsePrivateKey(cfg.PrivateKeyHex)
	if err != nil {
		return nil, err
	}

	chainID, err := cli.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch chain id: %w", err)
	}

	return &EthRelayFunder{
		client:  cli,
		key:     key,
		from:    crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
	}, nil
}

func parsePrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

func (f *EthRelayFunder) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	return f.client.BalanceAt(ctx, addr, nil)
}

// Fund sends a value transfer to the relay wallet and waits for its receipt.
func (f *EthRelayFunder) Fund(ctx context.Context, addr common.Address, amount *big.Int) error {
	nonce, err := f.client.PendingNonceAt(ctx, f.from)
	if err != nil {
		return fmt.Errorf("fetch nonce: %w", err)
	}

	gasPrice, err := f.client.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("suggest gas price: %w", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &addr,
		Value:    amount,
		Gas:      21000,
		GasPrice: gasPrice,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(f.chainID), f.key)
	if err != nil {
		return fmt.Errorf("sign funding tx: %w", err)
	}

	if err := f.client.SendTransaction(ctx, signed); err != nil {
		return fmt.Errorf("send funding tx: %w", err)
	}

	receipt, err := waitForReceipt(ctx, f.client, signed)
	if err != nil {
		return err
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("funding tx %s reverted", signed.Hash().Hex())
	}
	return nil
}

func (f *EthRelayFunder) Ping(ctx context.Context) error {
	_, err := f.client.BlockNumber(ctx)
	return err
}

// waitForReceipt polls until the transaction is mined or ctx is cancelled.
func waitForReceipt(ctx context.Context, client *ethclient.Client, tx *types.Transaction) (*types.Receipt, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		receipt, err := client.TransactionReceipt(ctx, tx.Hash())
		if receipt != nil {
			return receipt, nil
		}
		if err != nil && err.Error() != "not found" {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
