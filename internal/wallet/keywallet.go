package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"github.com/Azurepeal/neighbor-swap/internal/model"
	"github.com/Azurepeal/neighbor-swap/internal/types"
)

// EthClient is the JSON-RPC surface KeyWallet uses; *ethclient.Client satisfies it
type EthClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
	Close()
}

// Dialer opens an RPC client for a URL
type Dialer func(ctx context.Context, rawURL string) (EthClient, error)

// DialEthClient is the default Dialer backed by ethclient
func DialEthClient(ctx context.Context, rawURL string) (EthClient, error) {
	return ethclient.DialContext(ctx, rawURL)
}

// gasBufferPercent is added on top of node gas estimates
const gasBufferPercent = 20

// KeyWallet is a Capability and ChainReader that signs with a local private key
type KeyWallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chains  map[int64]types.SupportedChain
	dial    Dialer

	// ReceiptPollInterval is how often WaitReceipt asks for a receipt
	ReceiptPollInterval time.Duration

	mu      sync.RWMutex
	client  EthClient
	chainID *big.Int

	log *logrus.Entry
}

// NewKeyWallet parses a hex private key. chains maps chain ids the wallet
// may report to catalog names.
func NewKeyWallet(hexKey string, chains map[int64]types.SupportedChain, dial Dialer) (*KeyWallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	if dial == nil {
		dial = DialEthClient
	}

	address := crypto.PubkeyToAddress(key.PublicKey)
	return &KeyWallet{
		key:                 key,
		address:             address,
		chains:              chains,
		dial:                dial,
		ReceiptPollInterval: time.Second,
		log: logrus.WithFields(logrus.Fields{
			"component": "key-wallet",
			"address":   address.Hex(),
		}),
	}, nil
}

// Address returns the signing account
func (w *KeyWallet) Address() common.Address {
	return w.address
}

func (w *KeyWallet) rpc() (EthClient, *big.Int, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.client == nil {
		return nil, nil, ErrNotConnected
	}
	return w.client, w.chainID, nil
}

// Connect returns the key's account; no network access is needed
func (w *KeyWallet) Connect(ctx context.Context) (*Account, error) {
	return &Account{Kind: KindKeystore, Address: w.address}, nil
}

// CurrentChain maps the connected node's chain id onto the catalog
func (w *KeyWallet) CurrentChain(ctx context.Context) (types.SupportedChain, error) {
	_, chainID, err := w.rpc()
	if err != nil {
		return "", err
	}
	name, ok := w.chains[chainID.Int64()]
	if !ok {
		return "", fmt.Errorf("%w: chain id %s", ErrUnknownChain, chainID)
	}
	return name, nil
}

// SwitchChain dials chain's RPC endpoint and checks it serves the expected chain id
func (w *KeyWallet) SwitchChain(ctx context.Context, chain types.ChainConfig) bool {
	w.mu.RLock()
	current := w.chainID
	w.mu.RUnlock()
	if current != nil && current.Int64() == chain.ChainID {
		return true
	}

	rpcURL := chain.PrimaryRPC()
	if rpcURL == "" {
		w.log.WithField("chain", chain.Name).Warn("Chain has no RPC endpoint")
		return false
	}

	client, err := w.dial(ctx, rpcURL)
	if err != nil {
		w.log.WithError(err).WithField("chain", chain.Name).Warn("Failed to dial chain")
		return false
	}

	chainID, err := client.ChainID(ctx)
	if err != nil || chainID.Int64() != chain.ChainID {
		client.Close()
		w.log.WithError(err).WithFields(logrus.Fields{
			"chain":    chain.Name,
			"expected": chain.ChainID,
			"actual":   chainID,
		}).Warn("RPC endpoint serves a different chain")
		return false
	}

	w.mu.Lock()
	old := w.client
	w.client = client
	w.chainID = chainID
	w.mu.Unlock()

	if old != nil {
		old.Close()
	}
	w.log.WithField("chain", chain.Name).Info("Switched chain")
	return true
}

// Balance reads the native balance of owner
func (w *KeyWallet) Balance(ctx context.Context, owner common.Address) (*big.Int, error) {
	client, _, err := w.rpc()
	if err != nil {
		return nil, err
	}
	return client.BalanceAt(ctx, owner, nil)
}

// SendTransaction fills nonce, gas price and gas, signs with the wallet key
// and broadcasts
func (w *KeyWallet) SendTransaction(ctx context.Context, params TxParams) (common.Hash, error) {
	client, chainID, err := w.rpc()
	if err != nil {
		return common.Hash{}, err
	}
	if params.From != (common.Address{}) && params.From != w.address {
		return common.Hash{}, fmt.Errorf("transaction from %s does not match wallet %s", params.From.Hex(), w.address.Hex())
	}

	value := params.Value
	if value == nil {
		value = new(big.Int)
	}

	nonce, err := client.PendingNonceAt(ctx, w.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get gas price: %w", err)
	}

	gas := params.Gas
	if gas == 0 {
		to := params.To
		estimated, err := client.EstimateGas(ctx, ethereum.CallMsg{
			From:  w.address,
			To:    &to,
			Value: value,
			Data:  params.Data,
		})
		if err != nil {
			return common.Hash{}, fmt.Errorf("failed to estimate gas: %w", err)
		}
		gas = estimated * (100 + gasBufferPercent) / 100
	}

	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &params.To,
		Value:    value,
		Data:     params.Data,
	})

	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(chainID), w.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("failed to send transaction: %w", err)
	}

	w.log.WithFields(logrus.Fields{
		"hash":  signed.Hash().Hex(),
		"to":    params.To.Hex(),
		"nonce": nonce,
		"gas":   gas,
	}).Info("Transaction broadcast")
	return signed.Hash(), nil
}

// Allowance reads token.allowance(owner, spender)
func (w *KeyWallet) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	data, err := PackAllowance(owner, spender)
	if err != nil {
		return nil, err
	}
	return w.callUint256(ctx, token, "allowance", data)
}

// TokenBalance reads owner's balance of token; the native sentinel reads the account balance
func (w *KeyWallet) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	if model.SameAddress(token.Hex(), model.NativeTokenAddress) {
		return w.Balance(ctx, owner)
	}
	data, err := PackBalanceOf(owner)
	if err != nil {
		return nil, err
	}
	return w.callUint256(ctx, token, "balanceOf", data)
}

func (w *KeyWallet) callUint256(ctx context.Context, contract common.Address, method string, data []byte) (*big.Int, error) {
	client, _, err := w.rpc()
	if err != nil {
		return nil, err
	}
	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &contract, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}
	return unpackUint256(method, out)
}

// WaitReceipt polls until the transaction is included or ctx ends
func (w *KeyWallet) WaitReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	client, _, err := w.rpc()
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(w.ReceiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			w.log.WithError(err).WithField("hash", hash.Hex()).Debug("Receipt lookup failed, retrying")
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for receipt %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// Close releases the RPC connection
func (w *KeyWallet) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.client != nil {
		w.client.Close()
		w.client = nil
		w.chainID = nil
	}
}
