// internal/ledger/postgres.go
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// gormLogger adapts zap to gorm's logger.Interface.
type gormLogger struct {
	zapLogger *zap.Logger
	logLevel  logger.LogLevel
}

func newGormLogger(zapLogger *zap.Logger) logger.Interface {
	return &gormLogger{
		zapLogger: zapLogger,
		logLevel:  logger.Warn,
	}
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *l
	newLogger.logLevel = level
	return &newLogger
}

func (l *gormLogger) Info(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Info {
		l.zapLogger.Sugar().Infof(msg, data...)
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Warn {
		l.zapLogger.Sugar().Warnf(msg, data...)
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, data ...interface{}) {
	if l.logLevel >= logger.Error {
		l.zapLogger.Sugar().Errorf(msg, data...)
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.logLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	fields := []zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.String("sql", sql),
		zap.Int64("rows", rows),
	}

	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		l.zapLogger.Error("trace", append(fields, zap.Error(err))...)
		return
	}

	if l.logLevel >= logger.Info {
		l.zapLogger.Info("trace", fields...)
	}
}

// postgresStore implements Store on PostgreSQL. All guarded mutations are
// single conditional UPDATEs checked through RowsAffected.
type postgresStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewPostgresStore connects to the ledger database.
func NewPostgresStore(dsn string, zapLogger *zap.Logger) (Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: newGormLogger(zapLogger.Named("gorm")),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		DisableForeignKeyConstraintWhenMigrating: true,
		SkipDefaultTransaction:                   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	return &postgresStore{
		db:     db,
		logger: zapLogger,
	}, nil
}

func (p *postgresStore) RunMigrations() error {
	var lockObtained bool
	err := p.db.Raw("SELECT pg_try_advisory_lock(411)").Scan(&lockObtained).Error
	if err != nil {
		return fmt.Errorf("failed to acquire migration lock: %w", err)
	}
	if !lockObtained {
		return fmt.Errorf("another migration is in progress")
	}
	defer p.db.Exec("SELECT pg_advisory_unlock(411)")

	err = p.db.AutoMigrate(
		&CustodyAccount{},
		&Deposit{},
		&Withdrawal{},
		&FeeLedgerEntry{},
		&TradeRecord{},
	)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func (p *postgresStore) EnsureAccount(ctx context.Context, wallet string) error {
	return p.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "wallet_address"}},
			DoNothing: true,
		}).
		Create(&CustodyAccount{WalletAddress: wallet}).Error
}

func (p *postgresStore) GetAccount(ctx context.Context, wallet string) (*CustodyAccount, error) {
	var acct CustodyAccount
	err := p.db.WithContext(ctx).Where("wallet_address = ?", wallet).First(&acct).Error
	if err != nil {
		return nil, err
	}
	return &acct, nil
}

func (p *postgresStore) CreditAvailable(ctx context.Context, wallet string, amount float64) error {
	res := p.db.WithContext(ctx).Model(&CustodyAccount{}).
		Where("wallet_address = ?", wallet).
		Update("available_sol", gorm.Expr("available_sol + ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (p *postgresStore) DebitAvailable(ctx context.Context, wallet string, amount float64) error {
	res := p.db.WithContext(ctx).Model(&CustodyAccount{}).
		Where("wallet_address = ? AND available_sol >= ?", wallet, amount).
		Update("available_sol", gorm.Expr("available_sol - ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInsufficientBalance
	}
	return nil
}

func (p *postgresStore) LockAvailable(ctx context.Context, wallet string, amount float64) error {
	res := p.db.WithContext(ctx).Model(&CustodyAccount{}).
		Where("wallet_address = ? AND available_sol >= ?", wallet, amount).
		Updates(map[string]interface{}{
			"available_sol": gorm.Expr("available_sol - ?", amount),
			"locked_sol":    gorm.Expr("locked_sol + ?", amount),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrInsufficientBalance
	}
	return nil
}

func (p *postgresStore) UnlockToAvailable(ctx context.Context, wallet string, amount float64) error {
	res := p.db.WithContext(ctx).Model(&CustodyAccount{}).
		Where("wallet_address = ? AND locked_sol >= ?", wallet, amount).
		Updates(map[string]interface{}{
			"available_sol": gorm.Expr("available_sol + ?", amount),
			"locked_sol":    gorm.Expr("locked_sol - ?", amount),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrBalanceRaceLost
	}
	return nil
}

func (p *postgresStore) DebitLocked(ctx context.Context, wallet string, amount float64) error {
	res := p.db.WithContext(ctx).Model(&CustodyAccount{}).
		Where("wallet_address = ? AND locked_sol >= ?", wallet, amount).
		Update("locked_sol", gorm.Expr("locked_sol - ?", amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrBalanceRaceLost
	}
	return nil
}

func (p *postgresStore) UpsertDetectedDeposit(ctx context.Context, dep *Deposit) error {
	dep.Status = DepositDetected
	onConflict := clause.OnConflict{
		Columns:   []clause.Column{{Name: "tx_signature"}},
		DoNothing: true,
	}
	if dep.WalletAddress != "" {
		// A retry may carry the owner the first detection lacked. Backfill
		// it on still-unattributed rows so the credit can land later.
		onConflict = clause.OnConflict{
			Columns: []clause.Column{{Name: "tx_signature"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"wallet_address": dep.WalletAddress,
			}),
			Where: clause.Where{Exprs: []clause.Expression{
				gorm.Expr("deposits.wallet_address = ''"),
			}},
		}
	}
	return p.db.WithContext(ctx).Clauses(onConflict).Create(dep).Error
}

func (p *postgresStore) ApplyDepositCredit(ctx context.Context, txSignature string) (bool, error) {
	applied := false
	err := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Deposit{}).
			Where("tx_signature = ? AND status = ?", txSignature, DepositDetected).
			Update("status", DepositCredited)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Already credited, or never detected. Either way: no-op.
			return nil
		}

		var dep Deposit
		if err := tx.Where("tx_signature = ?", txSignature).First(&dep).Error; err != nil {
			return err
		}

		credit := tx.Model(&CustodyAccount{}).
			Where("wallet_address = ?", dep.WalletAddress).
			Update("available_sol", gorm.Expr("available_sol + ?", dep.AmountSol))
		if credit.Error != nil {
			return credit.Error
		}
		if credit.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		applied = true
		return nil
	})
	return applied, err
}

func (p *postgresStore) ListDetectedDeposits(ctx context.Context, limit int) ([]*Deposit, error) {
	var deps []*Deposit
	err := p.db.WithContext(ctx).
		Where("status = ?", DepositDetected).
		Order("created_at asc").
		Limit(limit).
		Find(&deps).Error
	return deps, err
}

func (p *postgresStore) CreateWithdrawal(ctx context.Context, wd *Withdrawal) error {
	return p.db.WithContext(ctx).Create(wd).Error
}

func (p *postgresStore) FinalizeWithdrawal(ctx context.Context, id uint, status, txSignature, errorMessage string) error {
	return p.db.WithContext(ctx).Model(&Withdrawal{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        status,
			"tx_signature":  txSignature,
			"error_message": errorMessage,
		}).Error
}

func (p *postgresStore) LatestWithdrawal(ctx context.Context, wallet string) (*Withdrawal, error) {
	var wd Withdrawal
	err := p.db.WithContext(ctx).
		Where("wallet_address = ? AND status <> ?", wallet, WithdrawalFailed).
		Order("created_at desc").
		First(&wd).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &wd, nil
}

func (p *postgresStore) AppendFee(ctx context.Context, entry *FeeLedgerEntry) error {
	if entry.Status == "" {
		entry.Status = FeeRecorded
	}
	return p.db.WithContext(ctx).Create(entry).Error
}

func (p *postgresStore) SaveTrade(ctx context.Context, rec *TradeRecord) error {
	return p.db.WithContext(ctx).Create(rec).Error
}

func (p *postgresStore) ListTrades(ctx context.Context, wallet string, limit, offset int) ([]*TradeRecord, error) {
	var recs []*TradeRecord
	err := p.db.WithContext(ctx).
		Where("wallet_address = ?", wallet).
		Order("created_at desc").
		Limit(limit).
		Offset(offset).
		Find(&recs).Error
	return recs, err
}
