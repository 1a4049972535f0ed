// Package gateway consumes the external quote/execute capability the
// trading engine trades through. Routing itself is not implemented here:
// the engine only asks for a conversion offer, executes it, and moves SOL.
package gateway

import (
	"context"

	"github.com/emirhasanov/soltrail/internal/wallet"
)

// WSOLMint is the wrapped SOL mint used as the base asset of every pair.
const WSOLMint = "So11111111111111111111111111111111111111112"

// LamportsPerSOL converts between SOL and its smallest unit.
const LamportsPerSOL = 1_000_000_000

// Quote is a briefly-valid conversion offer between two assets.
type Quote struct {
	InputMint  string
	OutputMint string
	InAmount   uint64
	OutAmount  uint64
	DirectOnly bool

	// Raw payload of the quote endpoint, passed back verbatim when the
	// quote is executed.
	Payload []byte
}

// QuoteOptions tweaks how a quote is requested.
type QuoteOptions struct {
	// DirectRouteOnly restricts the router to single-hop routes. Used as
	// the fallback when a full route fails with a size error.
	DirectRouteOnly bool
}

// Gateway is the consumed price/execution capability.
type Gateway interface {
	// Quote returns a conversion offer for amount of inputMint into
	// outputMint. Returns ErrQuoteUnavailable when the router has no data
	// this moment and ErrNoRoute when the pair cannot be routed at all.
	Quote(ctx context.Context, inputMint, outputMint string, amount uint64, opts *QuoteOptions) (*Quote, error)

	// Execute submits a swap for a previously obtained quote and returns
	// the transaction signature.
	Execute(ctx context.Context, quote *Quote, signer *wallet.Wallet) (string, error)

	// Transfer sends amountSol from the signer to the given address and
	// returns the transaction signature.
	Transfer(ctx context.Context, signer *wallet.Wallet, to string, amountSol float64) (string, error)

	// TokenBalance reads the raw token balance and decimals of owner's
	// associated token account for mint.
	TokenBalance(ctx context.Context, owner *wallet.Wallet, mint string) (uint64, uint8, error)
}

// SolToLamports converts a SOL amount to lamports.
func SolToLamports(sol float64) uint64 {
	if sol <= 0 {
		return 0
	}
	return uint64(sol * LamportsPerSOL)
}

// LamportsToSol converts lamports to a SOL amount.
func LamportsToSol(lamports uint64) float64 {
	return float64(lamports) / LamportsPerSOL
}
