// Package tool exposes the agent's operations as named tools for a hosting
// agent runtime: JSON params in, JSON result out. Handler failures are folded
// into an {"error": ...} object so the runtime always receives a result.
package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/dmarzzo/defi-agent/internal/chains"
	"github.com/dmarzzo/defi-agent/internal/custody"
	agerr "github.com/dmarzzo/defi-agent/internal/errors"
	"github.com/dmarzzo/defi-agent/internal/operator"
	"github.com/dmarzzo/defi-agent/internal/portfolio"
	"github.com/dmarzzo/defi-agent/internal/session"
	"github.com/dmarzzo/defi-agent/internal/strategy"
	"github.com/dmarzzo/defi-agent/internal/sui"
	"github.com/dmarzzo/defi-agent/internal/wallet"
)

// Deps carries every service a tool handler may touch. Optional services stay
// nil and their tools answer with a configuration error instead.
type Deps struct {
	Registry   chains.Registry
	Wallets    *wallet.Resolver
	Custody    *custody.Client
	Sui        *sui.Client
	Operator   *operator.Operator
	Strategies *strategy.Store
	Portfolio  *portfolio.Aggregator
	Log        *zap.Logger
}

type Handler func(ctx context.Context, sess session.Context, params json.RawMessage) (any, error)

type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	handler     Handler
}

type Registry struct {
	deps  Deps
	tools map[string]Tool
	order []string
}

func NewRegistry(deps Deps) *Registry {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	r := &Registry{deps: deps, tools: make(map[string]Tool)}
	r.register("defi_get_wallet", "Resolve the user's EVM and Sui wallet addresses.", r.handleGetWallet)
	r.register("defi_get_balance", "Native balance on one EVM chain.", r.handleGetBalance)
	r.register("defi_get_sui_balance", "SUI balance of the user's Sui wallet.", r.handleGetSuiBalance)
	r.register("defi_send_sui_transaction", "Sign prepared Sui transaction bytes with the user's custody wallet and execute them.", r.handleSendSuiTransaction)
	r.register("defi_get_portfolio", "Balances across all configured chains.", r.handleGetPortfolio)
	r.register("defi_check_delegation", "Whether the user's wallet carries an active delegation.", r.handleCheckDelegation)
	r.register("defi_approve", "ERC-20 approval through the user's delegated wallet.", r.handleApprove)
	r.register("defi_approve_and_send", "Atomic approval plus contract call in one delegated batch.", r.handleApproveAndSend)
	r.register("defi_execute", "Arbitrary contract call through the user's delegated wallet.", r.handleExecute)
	r.register("defi_execute_batch", "Ordered sequence of calls in one delegated transaction.", r.handleExecuteBatch)
	r.register("defi_send_transaction", "Native token transfer from the user's delegated wallet.", r.handleSendTransaction)
	r.register("defi_get_strategy", "The user's saved investment preferences.", r.handleGetStrategy)
	r.register("defi_set_strategy", "Merge updates into the user's investment preferences.", r.handleSetStrategy)
	r.register("defi_tx_status", "Current status of a submitted transaction.", r.handleTxStatus)
	return r
}

func (r *Registry) register(name, description string, h Handler) {
	r.tools[name] = Tool{Name: name, Description: description, handler: h}
	r.order = append(r.order, name)
}

// List returns every tool in registration order.
func (r *Registry) List() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Invoke runs a tool and always returns a JSON object. Errors, including an
// unknown tool name, come back as {"error": message} rather than a Go error:
// the hosting runtime treats any error object as a tool-visible outcome.
func (r *Registry) Invoke(ctx context.Context, name, sessionKey string, params json.RawMessage) json.RawMessage {
	tool, ok := r.tools[name]
	if !ok {
		return errorJSON(fmt.Sprintf("unknown tool: %s", name))
	}
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	sess := session.Parse(sessionKey)
	result, err := tool.handler(ctx, sess, params)
	if err != nil {
		r.deps.Log.Warn("tool failed",
			zap.String("tool", name),
			zap.String("peer_id", sess.PeerID),
			zap.Error(err))
		return errorJSON(agerr.Message(err))
	}
	buf, err := json.Marshal(result)
	if err != nil {
		return errorJSON("encode tool result: " + err.Error())
	}
	return buf
}

func errorJSON(msg string) json.RawMessage {
	buf, _ := json.Marshal(map[string]string{"error": msg})
	return buf
}

// resolveWallet is the common preamble of every user-scoped tool.
func (r *Registry) resolveWallet(ctx context.Context, sess session.Context) (wallet.Record, error) {
	if r.deps.Wallets == nil {
		return wallet.Record{}, agerr.New(agerr.CodeNotConfigured, "wallet resolver not configured")
	}
	rec := r.deps.Wallets.Resolve(ctx, sess.PeerID)
	if rec.Empty() {
		return wallet.Record{}, agerr.New(agerr.CodeUsage, "No wallet found for this user. Complete setup first.")
	}
	return rec, nil
}
