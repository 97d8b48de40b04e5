package wallet

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const erc20ABI = `[
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const wrappedNativeABI = `[
	{"type":"function","name":"deposit","stateMutability":"payable","inputs":[],"outputs":[]},
	{"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[{"name":"wad","type":"uint256"}],"outputs":[]}
]`

var (
	erc20         = mustParseABI(erc20ABI)
	wrappedNative = mustParseABI(wrappedNativeABI)
)

// MaxUint256 is the unlimited approval amount
var MaxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("invalid ABI: %v", err))
	}
	return parsed
}

// PackApprove encodes approve(spender, amount)
func PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return erc20.Pack("approve", spender, amount)
}

// PackAllowance encodes allowance(owner, spender)
func PackAllowance(owner, spender common.Address) ([]byte, error) {
	return erc20.Pack("allowance", owner, spender)
}

// PackBalanceOf encodes balanceOf(account)
func PackBalanceOf(account common.Address) ([]byte, error) {
	return erc20.Pack("balanceOf", account)
}

// PackDeposit encodes the wrapped-native deposit()
func PackDeposit() ([]byte, error) {
	return wrappedNative.Pack("deposit")
}

// PackWithdraw encodes the wrapped-native withdraw(wad)
func PackWithdraw(amount *big.Int) ([]byte, error) {
	return wrappedNative.Pack("withdraw", amount)
}

// unpackUint256 decodes the single uint256 returned by an ERC-20 view method
func unpackUint256(method string, data []byte) (*big.Int, error) {
	out, err := erc20.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("decode %s: expected 1 value, got %d", method, len(out))
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("decode %s: unexpected type %T", method, out[0])
	}
	return v, nil
}
