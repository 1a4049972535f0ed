// internal/ledger/withdrawal_test.go
package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeTransferer struct {
	mu    sync.Mutex
	err   error
	calls []float64
	block chan struct{} // when set, TransferOut waits on it
}

func (f *fakeTransferer) TransferOut(_ context.Context, _ string, amountSol float64) (string, error) {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.calls = append(f.calls, amountSol)
	return "transfer-sig", nil
}

func testPolicy() WithdrawalPolicy {
	return WithdrawalPolicy{
		MinAmountSol: 0.1,
		FeePercent:   1.0,
		MinFeeSol:    0.005,
		Cooldown:     10 * time.Minute,
	}
}

func TestWithdrawalPolicy_FeeFloor(t *testing.T) {
	policy := testPolicy()

	// 1% of 0.3 is 0.003, below the 0.005 floor.
	assert.InDelta(t, 0.005, policy.Fee(0.3), 1e-9)

	// 1% of 1.0 clears the floor.
	assert.InDelta(t, 0.01, policy.Fee(1.0), 1e-9)
}

func TestRequestWithdrawal_Settles(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	fund(t, store, "wallet-a", 1.0)
	sender := &fakeTransferer{}

	receipt, err := svc.RequestWithdrawal(ctx, "wallet-a", 0.3, testPolicy(), sender)
	require.NoError(t, err)

	assert.InDelta(t, 0.3, receipt.AmountSol, 1e-9)
	assert.InDelta(t, 0.005, receipt.FeeSol, 1e-9)
	assert.InDelta(t, 0.295, receipt.NetSol, 1e-9)
	assert.Equal(t, "transfer-sig", receipt.TxSignature)

	// The user is charged the full request; the net amount left custody.
	require.Equal(t, []float64{0.295}, sender.calls)
	acct, err := store.GetAccount(ctx, "wallet-a")
	require.NoError(t, err)
	assert.InDelta(t, 0.7, acct.AvailableSol, 1e-9)
	assert.InDelta(t, 0.0, acct.LockedSol, 1e-9)

	wds := store.Withdrawals()
	require.Len(t, wds, 1)
	assert.Equal(t, WithdrawalSent, wds[0].Status)
	assert.InDelta(t, 0.3, wds[0].TotalDebitSol, 1e-9)

	fees := store.Fees()
	require.Len(t, fees, 1)
	assert.Equal(t, FeeWithdrawal, fees[0].Type)
	assert.InDelta(t, 0.005, fees[0].AmountSol, 1e-9)
	require.NotNil(t, fees[0].WithdrawalID)
	assert.Equal(t, wds[0].ID, *fees[0].WithdrawalID)
}

func TestRequestWithdrawal_BelowMinimumMutatesNothing(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	fund(t, store, "wallet-a", 1.0)

	_, err := svc.RequestWithdrawal(ctx, "wallet-a", 0.05, testPolicy(), &fakeTransferer{})
	require.ErrorIs(t, err, ErrBelowMinimum)

	acct, err := store.GetAccount(ctx, "wallet-a")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, acct.AvailableSol, 1e-9)
	assert.Empty(t, store.Withdrawals())
}

func TestRequestWithdrawal_InsufficientBalance(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	fund(t, store, "wallet-a", 0.2)

	_, err := svc.RequestWithdrawal(ctx, "wallet-a", 0.3, testPolicy(), &fakeTransferer{})
	require.ErrorIs(t, err, ErrInsufficientBalance)

	acct, err := store.GetAccount(ctx, "wallet-a")
	require.NoError(t, err)
	assert.InDelta(t, 0.2, acct.AvailableSol, 1e-9, "rejection mutates nothing")
	assert.Empty(t, store.Withdrawals(), "no pending row for a rejected request")
}

func TestRequestWithdrawal_TransferFailureRollsBack(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	fund(t, store, "wallet-a", 1.0)
	sender := &fakeTransferer{err: errors.New("rpc unreachable")}

	_, err := svc.RequestWithdrawal(ctx, "wallet-a", 0.3, testPolicy(), sender)
	require.Error(t, err)

	// Exact pre-lock state restored, fee included.
	acct, err := store.GetAccount(ctx, "wallet-a")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, acct.AvailableSol, 1e-9)
	assert.InDelta(t, 0.0, acct.LockedSol, 1e-9)

	wds := store.Withdrawals()
	require.Len(t, wds, 1)
	assert.Equal(t, WithdrawalFailed, wds[0].Status)
	assert.NotEmpty(t, wds[0].ErrorMessage)

	assert.Empty(t, store.Fees(), "no fee on a failed withdrawal")
}

func TestRequestWithdrawal_CooldownRejectsSecondRequest(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	fund(t, store, "wallet-a", 1.0)
	sender := &fakeTransferer{}

	_, err := svc.RequestWithdrawal(ctx, "wallet-a", 0.3, testPolicy(), sender)
	require.NoError(t, err)

	_, err = svc.RequestWithdrawal(ctx, "wallet-a", 0.3, testPolicy(), sender)
	require.ErrorIs(t, err, ErrCooldownActive)

	// A different wallet has its own cooldown.
	fund(t, store, "wallet-b", 1.0)
	_, err = svc.RequestWithdrawal(ctx, "wallet-b", 0.3, testPolicy(), sender)
	assert.NoError(t, err)
}

func TestRequestWithdrawal_FailedAttemptDoesNotBurnCooldown(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	fund(t, store, "wallet-a", 1.0)

	_, err := svc.RequestWithdrawal(ctx, "wallet-a", 0.3, testPolicy(),
		&fakeTransferer{err: errors.New("rpc unreachable")})
	require.Error(t, err)

	// The retry goes through immediately.
	receipt, err := svc.RequestWithdrawal(ctx, "wallet-a", 0.3, testPolicy(), &fakeTransferer{})
	require.NoError(t, err)
	assert.InDelta(t, 0.295, receipt.NetSol, 1e-9)
}

func TestRequestWithdrawal_ConcurrentRequestsSerialized(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	fund(t, store, "wallet-a", 1.0)

	gate := make(chan struct{})
	slow := &fakeTransferer{block: gate}

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.RequestWithdrawal(ctx, "wallet-a", 0.3, testPolicy(), slow)
			errs <- err
		}()
	}

	// Let the first request reach the transfer, then release both.
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()
	close(errs)

	var ok, cooldown int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrCooldownActive):
			cooldown++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok, "exactly one request settles")
	assert.Equal(t, 1, cooldown, "the loser sees the winner's pending row")

	acct, err := store.GetAccount(ctx, "wallet-a")
	require.NoError(t, err)
	assert.InDelta(t, 0.7, acct.AvailableSol, 1e-9, "only one 0.3 debit applied")
}

// ctxCheckedStore refuses ledger writes on a canceled context, the way
// a real database driver would.
type ctxCheckedStore struct {
	*MemoryStore
}

func (s *ctxCheckedStore) UnlockToAvailable(ctx context.Context, wallet string, amount float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.UnlockToAvailable(ctx, wallet, amount)
}

func (s *ctxCheckedStore) FinalizeWithdrawal(ctx context.Context, id uint, status, txSignature, errorMessage string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.FinalizeWithdrawal(ctx, id, status, txSignature, errorMessage)
}

// cancelingTransferer cancels the request context mid payout, then fails.
type cancelingTransferer struct {
	cancel context.CancelFunc
}

func (c *cancelingTransferer) TransferOut(context.Context, string, float64) (string, error) {
	c.cancel()
	return "", context.Canceled
}

func TestRequestWithdrawal_RollbackSurvivesCanceledContext(t *testing.T) {
	mem := NewMemoryStore()
	svc := NewService(&ctxCheckedStore{MemoryStore: mem}, zaptest.NewLogger(t))
	fund(t, mem, "wallet-a", 1.0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := svc.RequestWithdrawal(ctx, "wallet-a", 0.3, testPolicy(),
		&cancelingTransferer{cancel: cancel})
	require.Error(t, err)

	acct, err := mem.GetAccount(context.Background(), "wallet-a")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, acct.AvailableSol, 1e-9,
		"lock returned despite the canceled request")
	assert.InDelta(t, 0.0, acct.LockedSol, 1e-9)

	wds := mem.Withdrawals()
	require.Len(t, wds, 1)
	assert.Equal(t, WithdrawalFailed, wds[0].Status)
}
