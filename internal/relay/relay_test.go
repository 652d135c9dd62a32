package relay

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/dmarzzo/defi-agent/internal/chains"
	"github.com/dmarzzo/defi-agent/internal/operator"
)

const testKeyHex = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

type fakeClient struct {
	mu            sync.Mutex
	sendErr       error
	receiptStatus uint64
	sent          []*types.Transaction
}

func (f *fakeClient) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 0, nil
}

func (f *fakeClient) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeClient) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: big.NewInt(5_000_000_000)}, nil
}

func (f *fakeClient) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	f.sent = append(f.sent, tx)
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return &types.Receipt{Status: f.receiptStatus}, nil
}

func (f *fakeClient) TransactionByHash(context.Context, common.Hash) (*types.Transaction, bool, error) {
	return nil, false, nil
}

func (f *fakeClient) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return nil, nil
}

func (f *fakeClient) Close() {}

func testRelay(t *testing.T, client *fakeClient) *Relay {
	t.Helper()
	signer, err := operator.NewLocalSigner(operator.SignerConfig{PrivateKeyHex: testKeyHex})
	if err != nil {
		t.Fatalf("NewLocalSigner failed: %v", err)
	}
	op := operator.New(signer, chains.Defaults(), nil, zap.NewNop())
	r := New(op, zap.NewNop()).WithDialer(func(context.Context, string) (operator.ChainClient, error) {
		return client, nil
	})
	r.pollInterval = 10 * time.Millisecond
	r.receiptTimeout = time.Second
	return r
}

func validAuth(chainID int64) Authorization {
	return Authorization{
		ChainID:         chainID,
		ContractAddress: "0x00000000000000000000000000000000000000aa",
		Nonce:           0,
		R:               "0x0123",
		S:               "0x0456",
		YParity:         1,
	}
}

func TestActivateSuccess(t *testing.T) {
	client := &fakeClient{receiptStatus: types.ReceiptStatusSuccessful}
	r := testRelay(t, client)
	wallet := common.HexToAddress("0x1111111111111111111111111111111111111111")

	results := r.Activate(context.Background(), wallet, []Authorization{validAuth(8453)})
	if len(results) != 1 {
		t.Fatalf("expected one result, got %d", len(results))
	}
	res := results[0]
	if res.Status != StatusSuccess || res.ChainID != 8453 || res.TxHash == "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	tx := client.sent[0]
	if tx.Type() != types.SetCodeTxType {
		t.Fatalf("expected set-code tx, got type %d", tx.Type())
	}
	if tx.To() == nil || *tx.To() != wallet {
		t.Fatalf("activation must target the user wallet, got %v", tx.To())
	}
	if tx.Gas() != ActivationGas {
		t.Fatalf("gas: got %d want %d", tx.Gas(), ActivationGas)
	}
	if len(tx.SetCodeAuthorizations()) != 1 {
		t.Fatalf("expected one carried authorization, got %d", len(tx.SetCodeAuthorizations()))
	}
}

func TestActivateRevertedReceiptMeansAlreadyActive(t *testing.T) {
	client := &fakeClient{receiptStatus: types.ReceiptStatusFailed}
	r := testRelay(t, client)
	results := r.Activate(context.Background(), common.Address{0x01}, []Authorization{validAuth(1)})
	if results[0].Status != StatusAlreadyActive {
		t.Fatalf("expected already_active, got %+v", results[0])
	}
}

func TestActivateUnknownChain(t *testing.T) {
	r := testRelay(t, &fakeClient{receiptStatus: types.ReceiptStatusSuccessful})
	results := r.Activate(context.Background(), common.Address{0x01}, []Authorization{validAuth(4242)})
	res := results[0]
	if res.Status != StatusError || res.Error != "Unknown chain" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestActivateOrderedResults(t *testing.T) {
	client := &fakeClient{receiptStatus: types.ReceiptStatusSuccessful}
	r := testRelay(t, client)
	auths := []Authorization{validAuth(1), validAuth(4242), validAuth(8453)}
	results := r.Activate(context.Background(), common.Address{0x01}, auths)
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, auth := range auths {
		if results[i].ChainID != auth.ChainID {
			t.Fatalf("result %d out of order: %+v", i, results[i])
		}
	}
	if results[1].Status != StatusError {
		t.Fatalf("unknown chain must fail in isolation: %+v", results[1])
	}
	if results[0].Status != StatusSuccess || results[2].Status != StatusSuccess {
		t.Fatalf("known chains must succeed: %+v %+v", results[0], results[2])
	}
}

func TestClassifyActivationError(t *testing.T) {
	cases := []struct {
		msg  string
		want string
	}{
		{"execution reverted: AlreadyInitialized()", StatusAlreadyActive},
		{"execution reverted", StatusAlreadyActive},
		{"VM Exception: Revert", StatusAlreadyActive},
		{"nonce too low", StatusError},
		{"connection refused", StatusError},
	}
	for _, tc := range cases {
		if got := classifyActivationError(errors.New(tc.msg)); got != tc.want {
			t.Fatalf("classify(%q): got %s want %s", tc.msg, got, tc.want)
		}
	}
}

func TestActivateSubmissionRevertClassified(t *testing.T) {
	client := &fakeClient{sendErr: errors.New("execution reverted: AlreadyInitialized()")}
	r := testRelay(t, client)
	results := r.Activate(context.Background(), common.Address{0x01}, []Authorization{validAuth(1)})
	if results[0].Status != StatusAlreadyActive {
		t.Fatalf("expected already_active, got %+v", results[0])
	}
}

func TestYParityUnmarshal(t *testing.T) {
	cases := []struct {
		raw  string
		want YParity
		ok   bool
	}{
		{`0`, 0, true},
		{`1`, 1, true},
		{`"0x1"`, 1, true},
		{`"0"`, 0, true},
		{`2`, 0, false},
		{`"zz"`, 0, false},
	}
	for _, tc := range cases {
		var y YParity
		err := json.Unmarshal([]byte(tc.raw), &y)
		if tc.ok && (err != nil || y != tc.want) {
			t.Fatalf("unmarshal %s: got %d err %v", tc.raw, y, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("unmarshal %s: expected error", tc.raw)
		}
	}
}

func TestParseQuantityLeadingZeros(t *testing.T) {
	u, err := parseQuantity("0x00000000000000000000000000000000000000000000000000000000000000ff")
	if err != nil {
		t.Fatalf("parseQuantity failed: %v", err)
	}
	if u.Uint64() != 0xff {
		t.Fatalf("expected 0xff, got %s", u)
	}
	if _, err := parseQuantity(""); err == nil {
		t.Fatal("expected error for empty quantity")
	}
}
