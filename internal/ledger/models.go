// internal/ledger/models.go
package ledger

import "time"

// BaseModel replaces gorm.Model for tighter control over columns.
type BaseModel struct {
	ID        uint       `gorm:"primarykey"`
	CreatedAt time.Time  `gorm:"default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time  `gorm:"default:CURRENT_TIMESTAMP"`
	DeletedAt *time.Time `gorm:"index"`
}

// CustodyAccount is the durable per-wallet balance record. Available and
// locked together are the user's true custodial total. Both columns are
// mutated only through guarded conditional updates.
type CustodyAccount struct {
	BaseModel
	WalletAddress string  `gorm:"unique;not null;type:varchar(44)"`
	AvailableSol  float64 `gorm:"type:decimal(20,9);not null;default:0"`
	LockedSol     float64 `gorm:"type:decimal(20,9);not null;default:0"`
}

// Deposit statuses.
const (
	DepositDetected = "detected"
	DepositCredited = "credited"
)

// Deposit is a chain-watcher discovery. TxSignature is the idempotency
// key: a signature is credited at most once, ever.
type Deposit struct {
	BaseModel
	TxSignature   string  `gorm:"unique;not null;type:varchar(88)"`
	WalletAddress string  `gorm:"index;type:varchar(44)"`
	AmountSol     float64 `gorm:"type:decimal(20,9);not null"`
	Status        string  `gorm:"not null;type:varchar(20)"`
}

// Withdrawal statuses.
const (
	WithdrawalPending = "pending"
	WithdrawalSent    = "sent"
	WithdrawalFailed  = "failed"
)

// Withdrawal records one payout request. AmountSol is what the user asked
// for, NetSol what they receive, TotalDebitSol what is locked.
type Withdrawal struct {
	BaseModel
	WalletAddress string  `gorm:"index;not null;type:varchar(44)"`
	AmountSol     float64 `gorm:"type:decimal(20,9);not null"`
	FeeSol        float64 `gorm:"type:decimal(20,9);not null"`
	NetSol        float64 `gorm:"type:decimal(20,9);not null"`
	TotalDebitSol float64 `gorm:"type:decimal(20,9);not null"`
	Status        string  `gorm:"index;not null;type:varchar(20)"`
	TxSignature   string  `gorm:"type:varchar(88)"`
	ErrorMessage  string  `gorm:"type:text"`
}

// Fee ledger entry types and statuses.
const (
	FeeWithdrawal = "withdrawal_fee"
	FeeBuy        = "buy_fee"
	FeeSell       = "sell_fee"

	FeeRecorded  = "recorded"
	FeeWithdrawn = "withdrawn"
)

// FeeLedgerEntry is an append-only platform revenue record attributed to
// the withdrawal or trade that produced it.
type FeeLedgerEntry struct {
	BaseModel
	Type         string  `gorm:"index;not null;type:varchar(20)"`
	AmountSol    float64 `gorm:"type:decimal(20,9);not null"`
	WithdrawalID *uint   `gorm:"index"`
	TradeID      string  `gorm:"index;type:varchar(40)"`
	Status       string  `gorm:"not null;type:varchar(20)"`
}

// TradeRecord is the audit row persisted when a position closes. The open
// position itself lives only in memory; this is its durable history.
type TradeRecord struct {
	BaseModel
	PositionID    string  `gorm:"unique;not null;type:varchar(40)"`
	WalletAddress string  `gorm:"index;not null;type:varchar(44)"`
	TokenMint     string  `gorm:"index;not null;type:varchar(44)"`
	TradeSizeSol  float64 `gorm:"type:decimal(20,9);not null"`
	EntryMetric   float64 `gorm:"type:decimal(30,12)"`
	ExitMetric    float64 `gorm:"type:decimal(30,12)"`
	RawSold       uint64
	ProceedsSol   float64 `gorm:"type:decimal(20,9)"`
	PnlSol        float64 `gorm:"type:decimal(20,9)"`
	BuyTxSig      string  `gorm:"type:varchar(88)"`
	SellTxSig     string  `gorm:"type:varchar(88)"`
	CloseReason   string  `gorm:"type:varchar(40)"`
	OpenedAt      time.Time
	ClosedAt      time.Time
}
