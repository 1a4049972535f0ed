// =============================
// File: internal/gateway/jupiter.go
// =============================
package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/emirhasanov/soltrail/internal/wallet"
)

const (
	httpTimeout     = 10 * time.Second
	confirmTimeout  = 30 * time.Second
	confirmInterval = 2 * time.Second
)

// JupiterGateway talks to a Jupiter-style quote/swap API and a Solana RPC
// endpoint. It implements Gateway.
type JupiterGateway struct {
	http     *resty.Client
	quoteURL string
	swapURL  string
	rpcs     []*rpc.Client
	rpcIdx   atomic.Uint64
	logger   *zap.Logger
}

// NewJupiterGateway builds a gateway over the given router endpoints and
// RPC list.
func NewJupiterGateway(quoteURL, swapURL string, rpcEndpoints []string, logger *zap.Logger) (*JupiterGateway, error) {
	if len(rpcEndpoints) == 0 {
		return nil, fmt.Errorf("no RPC endpoints configured")
	}

	clients := make([]*rpc.Client, 0, len(rpcEndpoints))
	for _, endpoint := range rpcEndpoints {
		clients = append(clients, rpc.New(endpoint))
	}

	return &JupiterGateway{
		http:     resty.New().SetTimeout(httpTimeout),
		quoteURL: quoteURL,
		swapURL:  swapURL,
		rpcs:     clients,
		logger:   logger.Named("gateway"),
	}, nil
}

// rpcClient round-robins across the configured RPC endpoints.
func (g *JupiterGateway) rpcClient() *rpc.Client {
	idx := g.rpcIdx.Add(1)
	return g.rpcs[idx%uint64(len(g.rpcs))]
}

type quoteResponse struct {
	InAmount  string `json:"inAmount"`
	OutAmount string `json:"outAmount"`
	ErrorCode string `json:"errorCode"`
	Error     string `json:"error"`
}

// Quote requests a conversion offer from the router.
func (g *JupiterGateway) Quote(ctx context.Context, inputMint, outputMint string, amount uint64, opts *QuoteOptions) (*Quote, error) {
	direct := opts != nil && opts.DirectRouteOnly

	resp, err := g.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"inputMint":        inputMint,
			"outputMint":       outputMint,
			"amount":           strconv.FormatUint(amount, 10),
			"onlyDirectRoutes": strconv.FormatBool(direct),
		}).
		Get(g.quoteURL)
	if err != nil {
		return nil, fmt.Errorf("quote request: %w: %w", err, ErrQuoteUnavailable)
	}

	var parsed quoteResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, fmt.Errorf("quote decode: %w: %w", err, ErrQuoteUnavailable)
	}

	if resp.StatusCode() >= 400 || parsed.ErrorCode != "" || parsed.Error != "" {
		err := classifyRouterError(parsed.ErrorCode, parsed.Error)
		if isRouteTooLargeCode(err) {
			return nil, &RouteSizeError{InputMint: inputMint, OutputMint: outputMint, Amount: amount, Err: err}
		}
		return nil, err
	}

	outAmount, err := strconv.ParseUint(parsed.OutAmount, 10, 64)
	if err != nil || outAmount == 0 {
		return nil, fmt.Errorf("quote returned no out amount: %w", ErrQuoteUnavailable)
	}
	inAmount, err := strconv.ParseUint(parsed.InAmount, 10, 64)
	if err != nil {
		inAmount = amount
	}

	return &Quote{
		InputMint:  inputMint,
		OutputMint: outputMint,
		InAmount:   inAmount,
		OutAmount:  outAmount,
		DirectOnly: direct,
		Payload:    resp.Body(),
	}, nil
}

type swapRequest struct {
	QuoteResponse    json.RawMessage `json:"quoteResponse"`
	UserPublicKey    string          `json:"userPublicKey"`
	WrapAndUnwrapSol bool            `json:"wrapAndUnwrapSol"`
}

type swapResponse struct {
	SwapTransaction string `json:"swapTransaction"`
	Error           string `json:"error"`
}

// Execute submits a swap for the given quote and waits for confirmation.
// On ErrConfirmTimeout the returned signature is still valid; the swap may
// have landed.
func (g *JupiterGateway) Execute(ctx context.Context, quote *Quote, signer *wallet.Wallet) (string, error) {
	resp, err := g.http.R().
		SetContext(ctx).
		SetBody(swapRequest{
			QuoteResponse:    quote.Payload,
			UserPublicKey:    signer.String(),
			WrapAndUnwrapSol: true,
		}).
		Post(g.swapURL)
	if err != nil {
		return "", fmt.Errorf("swap request: %w: %w", err, ErrSubmitFailed)
	}

	var parsed swapResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return "", fmt.Errorf("swap decode: %w: %w", err, ErrSubmitFailed)
	}
	if resp.StatusCode() >= 400 || parsed.Error != "" {
		return "", fmt.Errorf("swap build rejected: %s: %w", parsed.Error, ErrSubmitFailed)
	}

	raw, err := base64.StdEncoding.DecodeString(parsed.SwapTransaction)
	if err != nil {
		return "", fmt.Errorf("swap transaction decode: %w: %w", err, ErrSubmitFailed)
	}

	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return "", fmt.Errorf("swap transaction parse: %w: %w", err, ErrSubmitFailed)
	}
	if err := signer.SignTransaction(tx); err != nil {
		return "", fmt.Errorf("swap transaction sign: %w: %w", err, ErrSubmitFailed)
	}

	return g.sendAndConfirm(ctx, tx)
}

// Transfer sends SOL from the signer to the given address.
func (g *JupiterGateway) Transfer(ctx context.Context, signer *wallet.Wallet, to string, amountSol float64) (string, error) {
	recipient, err := solana.PublicKeyFromBase58(to)
	if err != nil {
		return "", fmt.Errorf("invalid recipient address: %w", err)
	}

	lamports := SolToLamports(amountSol)
	if lamports == 0 {
		return "", fmt.Errorf("transfer amount too small")
	}

	client := g.rpcClient()
	blockhash, err := client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", fmt.Errorf("get blockhash: %w: %w", err, ErrSubmitFailed)
	}

	instr := system.NewTransferInstruction(lamports, signer.PublicKey, recipient).Build()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{instr},
		blockhash.Value.Blockhash,
		solana.TransactionPayer(signer.PublicKey),
	)
	if err != nil {
		return "", fmt.Errorf("build transfer: %w: %w", err, ErrSubmitFailed)
	}
	if err := signer.SignTransaction(tx); err != nil {
		return "", fmt.Errorf("sign transfer: %w: %w", err, ErrSubmitFailed)
	}

	return g.sendAndConfirm(ctx, tx)
}

// TokenBalance reads the signer's associated token account for mint.
func (g *JupiterGateway) TokenBalance(ctx context.Context, owner *wallet.Wallet, mint string) (uint64, uint8, error) {
	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid mint: %w", err)
	}

	ata, err := owner.ATA(mintKey)
	if err != nil {
		return 0, 0, fmt.Errorf("derive token account: %w", err)
	}

	res, err := g.rpcClient().GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, 0, fmt.Errorf("get token balance: %w", err)
	}
	if res == nil || res.Value == nil {
		return 0, 0, nil
	}

	amount, err := strconv.ParseUint(res.Value.Amount, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("parse token balance: %w", err)
	}
	return amount, res.Value.Decimals, nil
}

func (g *JupiterGateway) sendAndConfirm(ctx context.Context, tx *solana.Transaction) (string, error) {
	client := g.rpcClient()

	sig, err := client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return "", fmt.Errorf("send transaction: %w: %w", err, ErrSubmitFailed)
	}

	deadline := time.Now().Add(confirmTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return sig.String(), fmt.Errorf("%w: %w", ctx.Err(), ErrConfirmTimeout)
		case <-time.After(confirmInterval):
		}

		statuses, err := client.GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			g.logger.Debug("signature status check failed", zap.Error(err))
			continue
		}
		if len(statuses.Value) == 0 || statuses.Value[0] == nil {
			continue
		}
		status := statuses.Value[0]
		if status.Err != nil {
			return sig.String(), fmt.Errorf("transaction failed on chain: %v: %w", status.Err, ErrSubmitFailed)
		}
		if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
			status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
			return sig.String(), nil
		}
	}

	return sig.String(), ErrConfirmTimeout
}

func isRouteTooLargeCode(err error) bool {
	return errors.Is(err, errRouteTooLargeCode)
}
