package operator

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/dmarzzo/defi-agent/internal/chains"
)

const testKeyHex = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"

func testSigner(t *testing.T) *LocalSigner {
	t.Helper()
	s, err := NewLocalSigner(SignerConfig{PrivateKeyHex: testKeyHex})
	if err != nil {
		t.Fatalf("NewLocalSigner failed: %v", err)
	}
	return s
}

type fakeClient struct {
	nonce       uint64
	nonceErr    error
	tipCap      *big.Int
	tipErr      error
	baseFee     *big.Int
	sendErr     error
	sent        []*types.Transaction
	receipt     *types.Receipt
	receiptErr  error
	txByHashErr error
	code        []byte
	codeErr     error
}

func (f *fakeClient) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return f.nonce, f.nonceErr
}

func (f *fakeClient) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return f.tipCap, f.tipErr
}

func (f *fakeClient) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{BaseFee: f.baseFee}, nil
}

func (f *fakeClient) SendTransaction(_ context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeClient) TransactionReceipt(context.Context, common.Hash) (*types.Receipt, error) {
	return f.receipt, f.receiptErr
}

func (f *fakeClient) TransactionByHash(context.Context, common.Hash) (*types.Transaction, bool, error) {
	if f.txByHashErr != nil {
		return nil, false, f.txByHashErr
	}
	return types.NewTx(&types.LegacyTx{}), true, nil
}

func (f *fakeClient) CodeAt(context.Context, common.Address, *big.Int) ([]byte, error) {
	return f.code, f.codeErr
}

func (f *fakeClient) Close() {}

func testOperator(t *testing.T, client *fakeClient) *Operator {
	t.Helper()
	op := New(testSigner(t), chains.Defaults(), nil, zap.NewNop())
	return op.WithDialer(func(context.Context, string) (ChainClient, error) {
		return client, nil
	})
}

func TestSendDelegatedTargetsUserWallet(t *testing.T) {
	client := &fakeClient{nonce: 7, tipCap: big.NewInt(1_000_000_000), baseFee: big.NewInt(10_000_000_000)}
	op := testOperator(t, client)
	user := common.HexToAddress("0x1111111111111111111111111111111111111111")

	hash, err := op.SendDelegated(context.Background(), 8453, user, []byte{0x01}, 800000)
	if err != nil {
		t.Fatalf("SendDelegated failed: %v", err)
	}
	if hash == (common.Hash{}) {
		t.Fatal("expected non-zero tx hash")
	}
	if len(client.sent) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(client.sent))
	}
	tx := client.sent[0]
	if tx.To() == nil || *tx.To() != user {
		t.Fatalf("tx must target the user wallet, got %v", tx.To())
	}
	if tx.Nonce() != 7 || tx.Gas() != 800000 {
		t.Fatalf("unexpected nonce/gas: %d/%d", tx.Nonce(), tx.Gas())
	}
	if tx.Value().Sign() != 0 {
		t.Fatalf("delegated call must carry zero value, got %s", tx.Value())
	}
	// feeCap = 2*baseFee + tip
	wantFeeCap := big.NewInt(21_000_000_000)
	if tx.GasFeeCap().Cmp(wantFeeCap) != 0 {
		t.Fatalf("fee cap: got %s want %s", tx.GasFeeCap(), wantFeeCap)
	}
}

func TestSendDelegatedTipFallback(t *testing.T) {
	client := &fakeClient{tipErr: ethereum.NotFound, baseFee: big.NewInt(1_000_000_000)}
	op := testOperator(t, client)

	_, err := op.SendDelegated(context.Background(), 1, common.Address{0x01}, nil, 100000)
	if err != nil {
		t.Fatalf("SendDelegated failed: %v", err)
	}
	if client.sent[0].GasTipCap().Cmp(big.NewInt(2_000_000_000)) != 0 {
		t.Fatalf("expected 2 gwei tip fallback, got %s", client.sent[0].GasTipCap())
	}
}

func TestSendDelegatedUnknownChain(t *testing.T) {
	op := testOperator(t, &fakeClient{})
	if _, err := op.SendDelegated(context.Background(), 999, common.Address{}, nil, 1); err == nil {
		t.Fatal("expected error for unknown chain")
	}
	if _, err := op.SendDelegated(context.Background(), chains.SuiChainID, common.Address{}, nil, 1); err == nil {
		t.Fatal("expected error for non-EVM chain")
	}
}

func TestSendDelegatedUnconfigured(t *testing.T) {
	op := New(nil, chains.Defaults(), nil, nil)
	if _, err := op.SendDelegated(context.Background(), 1, common.Address{}, nil, 1); err == nil {
		t.Fatal("expected not-configured error")
	}
}

func TestTxStatus(t *testing.T) {
	hash := common.HexToHash("0xabc")
	cases := []struct {
		name   string
		client *fakeClient
		want   string
	}{
		{"success", &fakeClient{receipt: &types.Receipt{Status: types.ReceiptStatusSuccessful}}, StatusSuccess},
		{"reverted", &fakeClient{receipt: &types.Receipt{Status: types.ReceiptStatusFailed}}, StatusReverted},
		{"pending", &fakeClient{receiptErr: ethereum.NotFound}, StatusPending},
		{"not found", &fakeClient{receiptErr: ethereum.NotFound, txByHashErr: ethereum.NotFound}, StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			op := testOperator(t, tc.client)
			got, err := op.TxStatus(context.Background(), 1, hash)
			if err != nil {
				t.Fatalf("TxStatus failed: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %q want %q", got, tc.want)
			}
		})
	}
}

func TestCheckDelegation(t *testing.T) {
	delegate := common.HexToAddress("0x2222222222222222222222222222222222222222")
	code := append([]byte{0xef, 0x01, 0x00}, delegate.Bytes()...)
	op := testOperator(t, &fakeClient{code: code})

	d, err := op.CheckDelegation(context.Background(), 1, common.Address{0x01})
	if err != nil {
		t.Fatalf("CheckDelegation failed: %v", err)
	}
	if !d.IsDelegated || d.DelegateAddress != delegate.Hex() {
		t.Fatalf("unexpected delegation: %+v", d)
	}
}

func TestCheckDelegationPlainAccount(t *testing.T) {
	cases := [][]byte{
		nil,
		{0x60, 0x80},
		append([]byte{0xef, 0x01, 0x00}, make([]byte, 19)...),
		{0xef, 0x01, 0x01, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
	}
	for _, code := range cases {
		op := testOperator(t, &fakeClient{code: code})
		d, err := op.CheckDelegation(context.Background(), 1, common.Address{0x01})
		if err != nil {
			t.Fatalf("CheckDelegation failed: %v", err)
		}
		if d.IsDelegated {
			t.Fatalf("code % x should not read as delegated", code)
		}
	}
}

func TestNoncesReportsZeroForUnreadableChains(t *testing.T) {
	client := &fakeClient{nonce: 3}
	op := testOperator(t, client)
	got := op.Nonces(context.Background(), common.Address{0x01}, []int64{1, 999})
	if got["1"] != 3 {
		t.Fatalf("expected nonce 3 for chain 1, got %d", got["1"])
	}
	if nonce, ok := got["999"]; !ok || nonce != 0 {
		t.Fatalf("unconfigured chain must report 0, got %v (present=%v)", nonce, ok)
	}
}

func TestLocalSignerAddress(t *testing.T) {
	s := testSigner(t)
	if s.Address() == (common.Address{}) {
		t.Fatal("expected derived address")
	}
	signed, err := s.SignTx(big.NewInt(1), types.NewTx(&types.DynamicFeeTx{
		ChainID: big.NewInt(1), Gas: 21000, GasTipCap: big.NewInt(1), GasFeeCap: big.NewInt(2),
		To: &common.Address{}, Value: big.NewInt(0),
	}))
	if err != nil {
		t.Fatalf("SignTx failed: %v", err)
	}
	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1)), signed)
	if err != nil {
		t.Fatalf("recover sender: %v", err)
	}
	if sender != s.Address() {
		t.Fatalf("sender %s != signer address %s", sender, s.Address())
	}
}

func TestLocalSignerMissingKey(t *testing.T) {
	if _, err := NewLocalSigner(SignerConfig{}); err == nil {
		t.Fatal("expected error for missing key material")
	}
}
