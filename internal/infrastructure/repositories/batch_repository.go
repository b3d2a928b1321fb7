package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/bankdata-service/bankdata_service/internal/domain/entities"
	"github.com/bankdata-service/bankdata_service/pkg/metrics"
)

// BatchRepository writes accepted batches. Each batch lands in a single
// transaction; either every accepted row of the run is visible or none is.
// Inserts use ON CONFLICT DO NOTHING on the natural keys so replaying a batch
// after a crash is harmless.
type BatchRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewBatchRepository creates a new batch repository
func NewBatchRepository(db *sqlx.DB, logger *zap.Logger) *BatchRepository {
	return &BatchRepository{
		db:     db,
		logger: logger,
	}
}

// PersistBatch writes every accepted row in dependency order inside one
// transaction. Balance effects of transactions are applied in the same
// transaction, and only for rows that were actually inserted.
func (r *BatchRepository) PersistBatch(ctx context.Context, runID string, accepted *entities.AcceptedBatch) error {
	if accepted.Len() == 0 {
		return nil
	}

	start := time.Now()
	defer func() {
		metrics.GatewayQueryDuration.WithLabelValues("persist_batch", "all").Observe(time.Since(start).Seconds())
	}()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	for _, c := range accepted.Customers {
		if err := r.insertCustomer(ctx, tx, c, now); err != nil {
			return err
		}
	}
	for _, d := range accepted.Devices {
		if err := r.insertDevice(ctx, tx, d, now); err != nil {
			return err
		}
	}
	for _, a := range accepted.Accounts {
		if err := r.insertAccount(ctx, tx, a, now); err != nil {
			return err
		}
	}
	for _, t := range accepted.Transactions {
		if err := r.insertTransaction(ctx, tx, t, now); err != nil {
			return err
		}
	}
	for _, al := range accepted.AuthLogs {
		if err := r.insertAuthLog(ctx, tx, al, now); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}

	r.logger.Info("batch persisted",
		zap.String("run_id", runID),
		zap.Int("rows", accepted.Len()))
	return nil
}

func (r *BatchRepository) insertCustomer(ctx context.Context, tx *sqlx.Tx, c entities.Customer, now time.Time) error {
	query := `
		INSERT INTO customers (
			customer_id, national_id, name, address, contact, username, password_hash, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (customer_id) DO NOTHING`

	_, err := tx.ExecContext(ctx, query,
		c.CustomerID, c.NationalID, c.Name, c.Address, c.Contact, c.Username, c.PasswordHash, now)
	if err != nil {
		return r.insertErr(err, "customer", c.CustomerID)
	}
	return nil
}

func (r *BatchRepository) insertDevice(ctx context.Context, tx *sqlx.Tx, d entities.Device, now time.Time) error {
	query := `
		INSERT INTO devices (
			device_id, customer_id, device_type, device_info, is_verified, last_used, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (device_id) DO NOTHING`

	var lastUsed interface{}
	if !d.LastUsed.IsZero() {
		lastUsed = d.LastUsed
	}
	_, err := tx.ExecContext(ctx, query,
		d.DeviceID, d.CustomerID, d.DeviceType, d.DeviceInfo, d.IsVerified, lastUsed, now)
	if err != nil {
		return r.insertErr(err, "device", d.DeviceID)
	}
	return nil
}

func (r *BatchRepository) insertAccount(ctx context.Context, tx *sqlx.Tx, a entities.Account, now time.Time) error {
	query := `
		INSERT INTO accounts (
			account_id, customer_id, account_type, balance, currency, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (account_id) DO NOTHING`

	_, err := tx.ExecContext(ctx, query,
		a.AccountID, a.CustomerID, string(a.AccountType), a.Balance, a.Currency, string(a.Status), now)
	if err != nil {
		return r.insertErr(err, "account", a.AccountID)
	}
	return nil
}

// insertTransaction writes the row and, when the row is new, applies its
// balance effect to the source (and, for transfers, destination) account in
// the same statement sequence.
func (r *BatchRepository) insertTransaction(ctx context.Context, tx *sqlx.Tx, t entities.Transaction, now time.Time) error {
	query := `
		INSERT INTO transactions (
			transaction_id, from_account_id, to_account_id, device_id, txn_type, amount, timestamp, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (transaction_id) DO NOTHING`

	result, err := tx.ExecContext(ctx, query,
		t.TransactionID, t.FromAccountID, nullable(t.ToAccountID), nullable(t.DeviceID),
		string(t.TxnType), t.Amount, t.Timestamp, now)
	if err != nil {
		return r.insertErr(err, "transaction", t.TransactionID)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read insert result for transaction %s: %w", t.TransactionID, err)
	}
	if inserted == 0 {
		// Replayed row; its balance effect is already applied
		return nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE accounts SET balance = balance - $1 WHERE account_id = $2`,
		t.Amount, t.FromAccountID); err != nil {
		return fmt.Errorf("failed to debit account %s: %w", t.FromAccountID, err)
	}
	if t.ToAccountID != "" {
		if _, err := tx.ExecContext(ctx,
			`UPDATE accounts SET balance = balance + $1 WHERE account_id = $2`,
			t.Amount, t.ToAccountID); err != nil {
			return fmt.Errorf("failed to credit account %s: %w", t.ToAccountID, err)
		}
	}
	return nil
}

func (r *BatchRepository) insertAuthLog(ctx context.Context, tx *sqlx.Tx, al entities.AuthenticationLog, now time.Time) error {
	query := `
		INSERT INTO auth_logs (
			auth_log_id, customer_id, device_id, auth_method, auth_status, timestamp, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (auth_log_id) DO NOTHING`

	_, err := tx.ExecContext(ctx, query,
		al.AuthLogID, al.CustomerID, al.DeviceID, string(al.AuthMethod), string(al.AuthStatus), al.Timestamp, now)
	if err != nil {
		return r.insertErr(err, "auth log", al.AuthLogID)
	}
	return nil
}

func (r *BatchRepository) insertErr(err error, entity, key string) error {
	if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
		return fmt.Errorf("%s %s violates a unique constraint: %w", entity, key, err)
	}
	r.logger.Error("insert failed",
		zap.String("entity", entity),
		zap.String("key", key),
		zap.Error(err))
	return fmt.Errorf("failed to insert %s %s: %w", entity, key, err)
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
