package delegate

import (
	"bytes"
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

func selector(sig string) []byte {
	return crypto.Keccak256([]byte(sig))[:4]
}

func TestEncodeExecuteSelector(t *testing.T) {
	to := common.HexToAddress("0x1111111111111111111111111111111111111111")
	data, err := EncodeExecute(to, big.NewInt(5), []byte{0x01, 0x02})
	if err != nil {
		t.Fatalf("EncodeExecute failed: %v", err)
	}
	want := selector("execute(address,uint256,bytes)")
	if !bytes.Equal(data[:4], want) {
		t.Fatalf("selector mismatch: got %x want %x", data[:4], want)
	}
}

func TestEncodeExecuteNilDefaults(t *testing.T) {
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")
	withDefaults, err := EncodeExecute(to, nil, nil)
	if err != nil {
		t.Fatalf("EncodeExecute failed: %v", err)
	}
	explicit, err := EncodeExecute(to, big.NewInt(0), []byte{})
	if err != nil {
		t.Fatalf("EncodeExecute failed: %v", err)
	}
	if !bytes.Equal(withDefaults, explicit) {
		t.Fatal("nil value and data should encode like zero value and empty data")
	}
}

func TestEncodeExecuteBatchSelector(t *testing.T) {
	calls := []Call{{Target: common.HexToAddress("0x3333333333333333333333333333333333333333")}}
	data, err := EncodeExecuteBatch(calls)
	if err != nil {
		t.Fatalf("EncodeExecuteBatch failed: %v", err)
	}
	want := selector("executeBatch((address,uint256,bytes)[])")
	if !bytes.Equal(data[:4], want) {
		t.Fatalf("selector mismatch: got %x want %x", data[:4], want)
	}
}

func TestEncodeExecuteBatchOrderSignificant(t *testing.T) {
	token := common.HexToAddress("0x4444444444444444444444444444444444444444")
	router := common.HexToAddress("0x5555555555555555555555555555555555555555")
	approve, err := EncodeApprove(router, big.NewInt(100))
	if err != nil {
		t.Fatalf("EncodeApprove failed: %v", err)
	}
	swap := []byte{0xde, 0xad, 0xbe, 0xef}

	forward, err := EncodeExecuteBatch([]Call{
		{Target: token, Data: approve},
		{Target: router, Data: swap},
	})
	if err != nil {
		t.Fatalf("EncodeExecuteBatch failed: %v", err)
	}
	reversed, err := EncodeExecuteBatch([]Call{
		{Target: router, Data: swap},
		{Target: token, Data: approve},
	})
	if err != nil {
		t.Fatalf("EncodeExecuteBatch failed: %v", err)
	}
	if bytes.Equal(forward, reversed) {
		t.Fatal("reordered batch must not encode identically")
	}
}

func TestEncodeExecuteBatchEmpty(t *testing.T) {
	if _, err := EncodeExecuteBatch(nil); err == nil {
		t.Fatal("expected error for empty batch")
	}
}

func TestEncodeApprove(t *testing.T) {
	spender := common.HexToAddress("0x6666666666666666666666666666666666666666")
	data, err := EncodeApprove(spender, big.NewInt(1))
	if err != nil {
		t.Fatalf("EncodeApprove failed: %v", err)
	}
	want := selector("approve(address,uint256)")
	if !bytes.Equal(data[:4], want) {
		t.Fatalf("selector mismatch: got %x want %x", data[:4], want)
	}
	if _, err := EncodeApprove(spender, nil); err == nil {
		t.Fatal("expected error for nil amount")
	}
}

func TestEncodeInitializeOperator(t *testing.T) {
	operator := common.HexToAddress("0x7777777777777777777777777777777777777777")
	data, err := EncodeInitializeOperator(operator)
	if err != nil {
		t.Fatalf("EncodeInitializeOperator failed: %v", err)
	}
	want := selector("initializeOperator(address)")
	if !bytes.Equal(data[:4], want) {
		t.Fatalf("selector mismatch: got %x want %x", data[:4], want)
	}
	if len(data) != 4+32 {
		t.Fatalf("unexpected calldata length %d", len(data))
	}
	if !bytes.Equal(data[16:36], operator.Bytes()) {
		t.Fatalf("operator not right-aligned in word: %s", hex.EncodeToString(data[4:]))
	}
}

func TestBalanceOfRoundTrip(t *testing.T) {
	account := common.HexToAddress("0x8888888888888888888888888888888888888888")
	call, err := EncodeBalanceOf(account)
	if err != nil {
		t.Fatalf("EncodeBalanceOf failed: %v", err)
	}
	want := selector("balanceOf(address)")
	if !bytes.Equal(call[:4], want) {
		t.Fatalf("selector mismatch: got %x want %x", call[:4], want)
	}

	raw := make([]byte, 32)
	raw[31] = 42
	bal, err := UnpackBalanceOf(raw)
	if err != nil {
		t.Fatalf("UnpackBalanceOf failed: %v", err)
	}
	if bal.Int64() != 42 {
		t.Fatalf("expected 42, got %s", bal)
	}
}
