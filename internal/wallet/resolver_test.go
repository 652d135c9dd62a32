package wallet

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dmarzzo/defi-agent/internal/httpx"
)

func newResolver(t *testing.T, handler http.HandlerFunc) *Resolver {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewResolver(httpx.New(2*time.Second, 0), srv.URL, nil)
}

func TestResolveReturnsRecord(t *testing.T) {
	r := newResolver(t, func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/api/wallet/42" {
			t.Fatalf("unexpected path %s", req.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"address":"0xabc","suiAddress":"0xs","suiWalletId":"w1","suiWalletPublicKey":"pk"}`))
	})

	got := r.Resolve(context.Background(), "42")
	if got.Address != "0xabc" || got.SuiAddress != "0xs" || got.SuiWalletID != "w1" || got.SuiWalletPublicKey != "pk" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.Empty() {
		t.Fatal("record should not be empty")
	}
}

func TestResolveDegradesOnServerError(t *testing.T) {
	r := newResolver(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	got := r.Resolve(context.Background(), "42")
	if !got.Empty() {
		t.Fatalf("expected empty record, got %+v", got)
	}
}

func TestResolveDegradesWhenUnconfigured(t *testing.T) {
	r := NewResolver(httpx.New(time.Second, 0), "", nil)
	if r.Configured() {
		t.Fatal("resolver should report unconfigured")
	}
	if got := r.Resolve(context.Background(), "42"); !got.Empty() {
		t.Fatalf("expected empty record, got %+v", got)
	}
}

func TestResolveDegradesOnUnreachableBackend(t *testing.T) {
	r := NewResolver(httpx.New(200*time.Millisecond, 0), "http://127.0.0.1:1", nil)
	if got := r.Resolve(context.Background(), "42"); !got.Empty() {
		t.Fatalf("expected empty record, got %+v", got)
	}
}
