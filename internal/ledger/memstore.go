// internal/ledger/memstore.go
package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store with the same conditional-mutation
// semantics as the PostgreSQL store. Used when no database is configured
// and throughout the test suite.
type MemoryStore struct {
	mu          sync.Mutex
	accounts    map[string]*CustodyAccount
	deposits    map[string]*Deposit
	withdrawals []*Withdrawal
	fees        []*FeeLedgerEntry
	trades      []*TradeRecord
	nextID      uint
}

// NewMemoryStore builds an empty in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*CustodyAccount),
		deposits: make(map[string]*Deposit),
	}
}

func (m *MemoryStore) RunMigrations() error { return nil }

func (m *MemoryStore) assignID() uint {
	m.nextID++
	return m.nextID
}

func (m *MemoryStore) EnsureAccount(_ context.Context, wallet string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[wallet]; !ok {
		m.accounts[wallet] = &CustodyAccount{
			BaseModel:     BaseModel{ID: m.assignID(), CreatedAt: time.Now().UTC()},
			WalletAddress: wallet,
		}
	}
	return nil
}

func (m *MemoryStore) GetAccount(_ context.Context, wallet string) (*CustodyAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[wallet]
	if !ok {
		return nil, fmt.Errorf("account %s not found", wallet)
	}
	copied := *acct
	return &copied, nil
}

func (m *MemoryStore) CreditAvailable(_ context.Context, wallet string, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[wallet]
	if !ok {
		return fmt.Errorf("account %s not found", wallet)
	}
	acct.AvailableSol += amount
	return nil
}

func (m *MemoryStore) DebitAvailable(_ context.Context, wallet string, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[wallet]
	if !ok || acct.AvailableSol < amount {
		return ErrInsufficientBalance
	}
	acct.AvailableSol -= amount
	return nil
}

func (m *MemoryStore) LockAvailable(_ context.Context, wallet string, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[wallet]
	if !ok || acct.AvailableSol < amount {
		return ErrInsufficientBalance
	}
	acct.AvailableSol -= amount
	acct.LockedSol += amount
	return nil
}

func (m *MemoryStore) UnlockToAvailable(_ context.Context, wallet string, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[wallet]
	if !ok || acct.LockedSol < amount {
		return ErrBalanceRaceLost
	}
	acct.LockedSol -= amount
	acct.AvailableSol += amount
	return nil
}

func (m *MemoryStore) DebitLocked(_ context.Context, wallet string, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[wallet]
	if !ok || acct.LockedSol < amount {
		return ErrBalanceRaceLost
	}
	acct.LockedSol -= amount
	return nil
}

func (m *MemoryStore) UpsertDetectedDeposit(_ context.Context, dep *Deposit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.deposits[dep.TxSignature]; ok {
		// A retry may carry the owner the first detection lacked.
		if existing.WalletAddress == "" && dep.WalletAddress != "" {
			existing.WalletAddress = dep.WalletAddress
		}
		return nil
	}
	stored := *dep
	stored.ID = m.assignID()
	stored.CreatedAt = time.Now().UTC()
	stored.Status = DepositDetected
	m.deposits[dep.TxSignature] = &stored
	return nil
}

func (m *MemoryStore) ApplyDepositCredit(_ context.Context, txSignature string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dep, ok := m.deposits[txSignature]
	if !ok || dep.Status != DepositDetected {
		return false, nil
	}
	acct, ok := m.accounts[dep.WalletAddress]
	if !ok {
		return false, fmt.Errorf("account %s not found", dep.WalletAddress)
	}

	dep.Status = DepositCredited
	acct.AvailableSol += dep.AmountSol
	return true, nil
}

func (m *MemoryStore) ListDetectedDeposits(_ context.Context, limit int) ([]*Deposit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var deps []*Deposit
	for _, dep := range m.deposits {
		if dep.Status == DepositDetected {
			copied := *dep
			deps = append(deps, &copied)
		}
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].ID < deps[j].ID })
	if limit > 0 && len(deps) > limit {
		deps = deps[:limit]
	}
	return deps, nil
}

func (m *MemoryStore) CreateWithdrawal(_ context.Context, wd *Withdrawal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	wd.ID = m.assignID()
	wd.CreatedAt = time.Now().UTC()
	stored := *wd
	m.withdrawals = append(m.withdrawals, &stored)
	return nil
}

func (m *MemoryStore) FinalizeWithdrawal(_ context.Context, id uint, status, txSignature, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, wd := range m.withdrawals {
		if wd.ID == id {
			wd.Status = status
			wd.TxSignature = txSignature
			wd.ErrorMessage = errorMessage
			wd.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return fmt.Errorf("withdrawal %d not found", id)
}

func (m *MemoryStore) LatestWithdrawal(_ context.Context, wallet string) (*Withdrawal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var latest *Withdrawal
	for _, wd := range m.withdrawals {
		if wd.WalletAddress != wallet || wd.Status == WithdrawalFailed {
			continue
		}
		if latest == nil || wd.CreatedAt.After(latest.CreatedAt) {
			latest = wd
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return &copied, nil
}

func (m *MemoryStore) AppendFee(_ context.Context, entry *FeeLedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *entry
	stored.ID = m.assignID()
	stored.CreatedAt = time.Now().UTC()
	if stored.Status == "" {
		stored.Status = FeeRecorded
	}
	m.fees = append(m.fees, &stored)
	return nil
}

func (m *MemoryStore) SaveTrade(_ context.Context, rec *TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *rec
	stored.ID = m.assignID()
	stored.CreatedAt = time.Now().UTC()
	m.trades = append(m.trades, &stored)
	return nil
}

func (m *MemoryStore) ListTrades(_ context.Context, wallet string, limit, offset int) ([]*TradeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var recs []*TradeRecord
	for _, rec := range m.trades {
		if rec.WalletAddress == wallet {
			copied := *rec
			recs = append(recs, &copied)
		}
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID > recs[j].ID })
	if offset > 0 {
		if offset >= len(recs) {
			return nil, nil
		}
		recs = recs[offset:]
	}
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// Withdrawals returns a snapshot of all withdrawal rows. Test helper.
func (m *MemoryStore) Withdrawals() []*Withdrawal {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Withdrawal, 0, len(m.withdrawals))
	for _, wd := range m.withdrawals {
		copied := *wd
		out = append(out, &copied)
	}
	return out
}

// Fees returns a snapshot of the fee ledger. Test helper.
func (m *MemoryStore) Fees() []*FeeLedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*FeeLedgerEntry, 0, len(m.fees))
	for _, f := range m.fees {
		copied := *f
		out = append(out, &copied)
	}
	return out
}

// Trades returns a snapshot of trade history. Test helper.
func (m *MemoryStore) Trades() []*TradeRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*TradeRecord, 0, len(m.trades))
	for _, t := range m.trades {
		copied := *t
		out = append(out, &copied)
	}
	return out
}
