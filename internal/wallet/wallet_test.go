package wallet

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Azurepeal/neighbor-swap/internal/config"
	"github.com/Azurepeal/neighbor-swap/internal/model"
	"github.com/Azurepeal/neighbor-swap/internal/types"
)

const auroraChainID = 1313161554

type fakeEthClient struct {
	mu sync.Mutex

	chainID     *big.Int
	balance     *big.Int
	estimate    uint64
	callResult  []byte
	calls       []ethereum.CallMsg
	sent        []*ethtypes.Transaction
	receipt     *ethtypes.Receipt
	notFoundFor int
	closed      bool
}

func (f *fakeEthClient) ChainID(ctx context.Context) (*big.Int, error) {
	return f.chainID, nil
}

func (f *fakeEthClient) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return f.balance, nil
}

func (f *fakeEthClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeEthClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(70_000_000), nil
}

func (f *fakeEthClient) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return f.estimate, nil
}

func (f *fakeEthClient) SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeEthClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, msg)
	return f.callResult, nil
}

func (f *fakeEthClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notFoundFor > 0 {
		f.notFoundFor--
		return nil, ethereum.NotFound
	}
	return f.receipt, nil
}

func (f *fakeEthClient) Close() {
	f.closed = true
}

func auroraConfig() types.ChainConfig {
	return types.ChainConfig{
		Name:    types.ChainAurora,
		ChainID: auroraChainID,
		RPCURLs: []string{"https://rpc.test"},
	}
}

func newTestWallet(t *testing.T, client *fakeEthClient) *KeyWallet {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	dial := func(ctx context.Context, rawURL string) (EthClient, error) {
		return client, nil
	}
	w, err := NewKeyWallet(hex.EncodeToString(crypto.FromECDSA(key)),
		map[int64]types.SupportedChain{auroraChainID: types.ChainAurora}, dial)
	require.NoError(t, err)
	w.ReceiptPollInterval = time.Millisecond
	return w
}

func uint256Word(v int64) []byte {
	return common.LeftPadBytes(big.NewInt(v).Bytes(), 32)
}

func TestPackSelectors(t *testing.T) {
	deposit, err := PackDeposit()
	require.NoError(t, err)
	assert.Equal(t, "d0e30db0", hex.EncodeToString(deposit))

	approve, err := PackApprove(common.HexToAddress("0xaf957563450b124655af816c1d947a647bac62d1"), MaxUint256)
	require.NoError(t, err)
	assert.Equal(t, "095ea7b3", hex.EncodeToString(approve[:4]))
	assert.Len(t, approve, 4+64)

	withdraw, err := PackWithdraw(big.NewInt(1))
	require.NoError(t, err)
	assert.Equal(t, "2e1a7d4d", hex.EncodeToString(withdraw[:4]))

	assert.Equal(t, 256, MaxUint256.BitLen())
}

func TestNewKeyWalletRejectsBadKey(t *testing.T) {
	_, err := NewKeyWallet("not-a-key", nil, nil)
	assert.Error(t, err)
}

func TestKeyWalletRequiresChain(t *testing.T) {
	w := newTestWallet(t, &fakeEthClient{chainID: big.NewInt(auroraChainID)})

	account, err := w.Connect(context.Background())
	require.NoError(t, err, "connect needs no RPC")
	assert.Equal(t, w.Address(), account.Address)

	_, err = w.Balance(context.Background(), w.Address())
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = w.CurrentChain(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestKeyWalletSwitchChain(t *testing.T) {
	t.Run("matching chain id", func(t *testing.T) {
		w := newTestWallet(t, &fakeEthClient{chainID: big.NewInt(auroraChainID)})
		require.True(t, w.SwitchChain(context.Background(), auroraConfig()))

		chain, err := w.CurrentChain(context.Background())
		require.NoError(t, err)
		assert.Equal(t, types.ChainAurora, chain)
	})

	t.Run("endpoint on another chain", func(t *testing.T) {
		client := &fakeEthClient{chainID: big.NewInt(1)}
		w := newTestWallet(t, client)
		assert.False(t, w.SwitchChain(context.Background(), auroraConfig()))
		assert.True(t, client.closed, "rejected client should be closed")
	})

	t.Run("no rpc configured", func(t *testing.T) {
		w := newTestWallet(t, &fakeEthClient{chainID: big.NewInt(auroraChainID)})
		cfg := auroraConfig()
		cfg.RPCURLs = nil
		assert.False(t, w.SwitchChain(context.Background(), cfg))
	})

	t.Run("unknown chain", func(t *testing.T) {
		w := newTestWallet(t, &fakeEthClient{chainID: big.NewInt(56)})
		cfg := auroraConfig()
		cfg.ChainID = 56
		require.True(t, w.SwitchChain(context.Background(), cfg))
		_, err := w.CurrentChain(context.Background())
		assert.ErrorIs(t, err, ErrUnknownChain)
	})
}

func TestKeyWalletSendTransaction(t *testing.T) {
	client := &fakeEthClient{chainID: big.NewInt(auroraChainID), estimate: 100_000}
	w := newTestWallet(t, client)
	require.True(t, w.SwitchChain(context.Background(), auroraConfig()))

	data, err := PackDeposit()
	require.NoError(t, err)
	weth := common.HexToAddress("0xc9bdeed33cd01541e1eed10f90519d2c06fe3feb")

	hash, err := w.SendTransaction(context.Background(), TxParams{
		From:  w.Address(),
		To:    weth,
		Data:  data,
		Value: big.NewInt(1e15),
	})
	require.NoError(t, err)
	require.Len(t, client.sent, 1)

	tx := client.sent[0]
	assert.Equal(t, tx.Hash(), hash)
	assert.Equal(t, uint64(120_000), tx.Gas(), "estimate should carry a 20% buffer")
	assert.Equal(t, weth, *tx.To())
	assert.Equal(t, big.NewInt(1e15), tx.Value())
	assert.Equal(t, data, tx.Data())

	sender, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(big.NewInt(auroraChainID)), tx)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), sender)

	_, err = w.SendTransaction(context.Background(), TxParams{From: weth, To: weth})
	assert.Error(t, err, "foreign sender should be refused")
}

func TestKeyWalletExplicitGas(t *testing.T) {
	client := &fakeEthClient{chainID: big.NewInt(auroraChainID), estimate: 1}
	w := newTestWallet(t, client)
	require.True(t, w.SwitchChain(context.Background(), auroraConfig()))

	_, err := w.SendTransaction(context.Background(), TxParams{To: w.Address(), Gas: 21_000})
	require.NoError(t, err)
	assert.Equal(t, uint64(21_000), client.sent[0].Gas())
	assert.Equal(t, 0, client.sent[0].Value().Sign())
}

func TestKeyWalletReads(t *testing.T) {
	client := &fakeEthClient{
		chainID:    big.NewInt(auroraChainID),
		balance:    big.NewInt(42),
		callResult: uint256Word(7),
	}
	w := newTestWallet(t, client)
	require.True(t, w.SwitchChain(context.Background(), auroraConfig()))

	usdc := common.HexToAddress("0xb12bfca5a55806aaf64e99521918a4bf0fc40802")
	spender := common.HexToAddress("0xaf957563450b124655af816c1d947a647bac62d1")

	allowance, err := w.Allowance(context.Background(), usdc, w.Address(), spender)
	require.NoError(t, err)
	assert.Equal(t, int64(7), allowance.Int64())
	require.Len(t, client.calls, 1)
	assert.Equal(t, "dd62ed3e", hex.EncodeToString(client.calls[0].Data[:4]))
	assert.Equal(t, usdc, *client.calls[0].To)

	balance, err := w.TokenBalance(context.Background(), usdc, w.Address())
	require.NoError(t, err)
	assert.Equal(t, int64(7), balance.Int64())
	assert.Equal(t, "70a08231", hex.EncodeToString(client.calls[1].Data[:4]))

	native, err := w.TokenBalance(context.Background(), common.HexToAddress(model.NativeTokenAddress), w.Address())
	require.NoError(t, err)
	assert.Equal(t, int64(42), native.Int64())
	assert.Len(t, client.calls, 2, "native balance must not call a contract")
}

func TestKeyWalletWaitReceipt(t *testing.T) {
	client := &fakeEthClient{
		chainID:     big.NewInt(auroraChainID),
		receipt:     &ethtypes.Receipt{Status: ethtypes.ReceiptStatusSuccessful},
		notFoundFor: 3,
	}
	w := newTestWallet(t, client)
	require.True(t, w.SwitchChain(context.Background(), auroraConfig()))

	receipt, err := w.WaitReceipt(context.Background(), common.HexToHash("0x01"))
	require.NoError(t, err)
	assert.Equal(t, ethtypes.ReceiptStatusSuccessful, receipt.Status)

	client.notFoundFor = 1 << 20
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = w.WaitReceipt(ctx, common.HexToHash("0x02"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type fakeCapability struct {
	account    *Account
	connectErr error
	chain      types.SupportedChain
	balance    *big.Int
}

func (f *fakeCapability) CurrentChain(ctx context.Context) (types.SupportedChain, error) {
	if f.chain == "" {
		return "", ErrUnknownChain
	}
	return f.chain, nil
}

func (f *fakeCapability) Connect(ctx context.Context) (*Account, error) {
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	a := *f.account
	return &a, nil
}

func (f *fakeCapability) SwitchChain(ctx context.Context, chain types.ChainConfig) bool {
	return true
}

func (f *fakeCapability) Balance(ctx context.Context, owner common.Address) (*big.Int, error) {
	return f.balance, nil
}

func (f *fakeCapability) SendTransaction(ctx context.Context, tx TxParams) (common.Hash, error) {
	return common.Hash{}, errors.New("not implemented")
}

func TestSessionConnect(t *testing.T) {
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	capability := &fakeCapability{
		account: &Account{Address: addr},
		chain:   types.ChainAurora,
		balance: big.NewInt(5),
	}
	prefs := config.NewMemoryPreferences()

	var gotChain types.SupportedChain
	connects := 0
	session := NewSession(func(kind Kind) (Capability, error) {
		if kind != KindKeystore {
			return nil, ErrUnsupportedKind
		}
		return capability, nil
	}, prefs).
		WithChainObserver(func(c types.SupportedChain) { gotChain = c }).
		WithConnectObserver(func(Account) { connects++ })

	account, err := session.Connect(context.Background(), KindKeystore)
	require.NoError(t, err)
	assert.Equal(t, KindKeystore, account.Kind)
	assert.Equal(t, addr, session.State().Address)
	assert.True(t, session.State().Connected())
	assert.Equal(t, types.ChainAurora, gotChain)
	assert.Equal(t, 1, connects)

	kind, ok := prefs.Get(config.PrefLastWalletKind)
	require.True(t, ok)
	assert.Equal(t, "keystore", kind)

	balance, err := session.Balance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5), balance.Int64())

	session.Disconnect()
	assert.False(t, session.State().Connected())
	_, ok = prefs.Get(config.PrefLastWalletKind)
	assert.False(t, ok, "disconnect should forget the wallet kind")

	_, err = session.Balance(context.Background())
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSessionConnectFailureClears(t *testing.T) {
	prefs := config.NewMemoryPreferences()
	require.NoError(t, prefs.Set(config.PrefLastWalletKind, "keystore"))

	session := NewSession(func(kind Kind) (Capability, error) {
		return &fakeCapability{connectErr: errors.New("user rejected")}, nil
	}, prefs)

	account, err := session.Reconnect(context.Background())
	assert.Error(t, err)
	assert.Nil(t, account)
	assert.Equal(t, State{}, session.State())
	_, ok := prefs.Get(config.PrefLastWalletKind)
	assert.False(t, ok)
}

func TestSessionReconnectWithoutHistory(t *testing.T) {
	session := NewSession(nil, nil)
	account, err := session.Reconnect(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, account)
}

func TestReduce(t *testing.T) {
	connected := State{Kind: KindKeystore, Address: common.HexToAddress("0x01"), Capability: &fakeCapability{}}

	pending := Reduce(connected, Action{Type: ActionConnect, Kind: "other"})
	assert.Equal(t, Kind("other"), pending.RequestedKind)
	assert.Equal(t, connected.Address, pending.Address, "connect keeps the current account until it resolves")

	assert.Equal(t, State{}, Reduce(pending, Action{Type: ActionConnectFailed}))
	assert.Equal(t, State{}, Reduce(connected, Action{Type: ActionDisconnect}))
}

type failingReader struct{}

func (failingReader) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	return nil, errors.New("rpc down")
}

func (failingReader) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	return nil, errors.New("rpc down")
}

func (failingReader) WaitReceipt(ctx context.Context, hash common.Hash) (*ethtypes.Receipt, error) {
	return nil, errors.New("rpc down")
}

func TestReadTokenBalanceFallsBackToZero(t *testing.T) {
	balance := ReadTokenBalance(context.Background(), failingReader{}, common.Address{}, common.Address{})
	require.NotNil(t, balance)
	assert.Equal(t, 0, balance.Sign())
}
