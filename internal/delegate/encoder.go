// Package delegate encodes calldata for the EIP-7702 delegate contract that
// users install on their own address. The operator never sends to third-party
// contracts directly: every action routes through execute or executeBatch on
// the user's wallet, which enforces the operator allowlist on-chain.
package delegate

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	agerr "github.com/dmarzzo/defi-agent/internal/errors"
)

// Gas ceilings applied when the caller does not supply a limit. Delegated
// calls cannot be reliably estimated before the delegation is active, so
// these are deliberately generous.
const (
	GasSingle uint64 = 800000
	GasBatch  uint64 = 1500000
)

const delegateABIJSON = `[
	{"name":"execute","type":"function","stateMutability":"payable","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"}],"outputs":[{"name":"","type":"bytes"}]},
	{"name":"executeBatch","type":"function","stateMutability":"payable","inputs":[{"name":"calls","type":"tuple[]","components":[{"name":"target","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"}]}],"outputs":[{"name":"","type":"bytes[]"}]},
	{"name":"initializeOperator","type":"function","stateMutability":"nonpayable","inputs":[{"name":"operator","type":"address"}],"outputs":[]}
]`

const erc20ABIJSON = `[
	{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

var (
	delegateABI = mustABI(delegateABIJSON)
	erc20ABI    = mustABI(erc20ABIJSON)
)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Call is one target invocation inside a delegated batch.
type Call struct {
	Target common.Address
	Value  *big.Int
	Data   []byte
}

// abiCall mirrors the delegate contract's Call struct layout for packing.
type abiCall struct {
	Target common.Address `abi:"target"`
	Value  *big.Int       `abi:"value"`
	Data   []byte         `abi:"data"`
}

// EncodeExecute packs a single delegated call.
func EncodeExecute(to common.Address, value *big.Int, data []byte) ([]byte, error) {
	if value == nil {
		value = big.NewInt(0)
	}
	if data == nil {
		data = []byte{}
	}
	encoded, err := delegateABI.Pack("execute", to, value, data)
	if err != nil {
		return nil, agerr.Wrap(agerr.CodeInternal, "encode delegated call", err)
	}
	return encoded, nil
}

// EncodeExecuteBatch packs an ordered sequence of delegated calls. The
// contract executes calls in array order and reverts the whole batch on the
// first failure, so order is significant.
func EncodeExecuteBatch(calls []Call) ([]byte, error) {
	if len(calls) == 0 {
		return nil, agerr.New(agerr.CodeUsage, "batch requires at least one call")
	}
	packed := make([]abiCall, len(calls))
	for i, c := range calls {
		value := c.Value
		if value == nil {
			value = big.NewInt(0)
		}
		data := c.Data
		if data == nil {
			data = []byte{}
		}
		packed[i] = abiCall{Target: c.Target, Value: value, Data: data}
	}
	encoded, err := delegateABI.Pack("executeBatch", packed)
	if err != nil {
		return nil, agerr.Wrap(agerr.CodeInternal, "encode delegated batch", err)
	}
	return encoded, nil
}

// EncodeApprove packs an ERC-20 approve for use as a delegated call payload.
func EncodeApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	if amount == nil {
		return nil, agerr.New(agerr.CodeUsage, "approval amount required")
	}
	encoded, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return nil, agerr.Wrap(agerr.CodeInternal, "encode approve", err)
	}
	return encoded, nil
}

// EncodeBalanceOf packs an ERC-20 balanceOf view call.
func EncodeBalanceOf(account common.Address) ([]byte, error) {
	encoded, err := erc20ABI.Pack("balanceOf", account)
	if err != nil {
		return nil, agerr.Wrap(agerr.CodeInternal, "encode balanceOf", err)
	}
	return encoded, nil
}

// UnpackBalanceOf decodes the uint256 result of a balanceOf call.
func UnpackBalanceOf(data []byte) (*big.Int, error) {
	out, err := erc20ABI.Unpack("balanceOf", data)
	if err != nil || len(out) != 1 {
		return nil, agerr.Wrap(agerr.CodeUnavailable, "decode balanceOf result", err)
	}
	bal, ok := out[0].(*big.Int)
	if !ok {
		return nil, agerr.New(agerr.CodeUnavailable, "unexpected balanceOf result type")
	}
	return bal, nil
}

// EncodeInitializeOperator packs the activation call that registers the
// operator on a freshly delegated wallet.
func EncodeInitializeOperator(operator common.Address) ([]byte, error) {
	encoded, err := delegateABI.Pack("initializeOperator", operator)
	if err != nil {
		return nil, agerr.Wrap(agerr.CodeInternal, "encode initializeOperator", err)
	}
	return encoded, nil
}
