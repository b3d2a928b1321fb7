package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/bankdata-service/bankdata_service/internal/domain/entities"
	"github.com/bankdata-service/bankdata_service/pkg/circuitbreaker"
	"github.com/bankdata-service/bankdata_service/pkg/metrics"
)

// keyColumns whitelists the queryable key column per entity table. Lookups
// build SQL from these constants only, never from caller input.
var keyColumns = map[entities.EntityType]map[string]bool{
	entities.EntityCustomer:    {"customer_id": true, "national_id": true, "username": true},
	entities.EntityDevice:      {"device_id": true},
	entities.EntityAccount:     {"account_id": true},
	entities.EntityTransaction: {"transaction_id": true},
	entities.EntityAuthLog:     {"auth_log_id": true},
}

// StoreRepository serves the read side of the persistence gateway: existence
// checks for the validator and the point lookups the risk rules need. All
// queries run behind a shared circuit breaker so a struggling database trips
// fast instead of timing out row by row.
type StoreRepository struct {
	db      *sqlx.DB
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

// NewStoreRepository creates a new store repository
func NewStoreRepository(db *sqlx.DB, logger *zap.Logger) *StoreRepository {
	return &StoreRepository{
		db:      db,
		breaker: circuitbreaker.New("store-lookups", circuitbreaker.DefaultConfig()),
		logger:  logger,
	}
}

// ExistsMany returns the subset of values already present in the given key
// column. One round trip per call regardless of batch size.
func (r *StoreRepository) ExistsMany(ctx context.Context, entity entities.EntityType, keyField string, values []string) (map[string]struct{}, error) {
	if len(values) == 0 {
		return map[string]struct{}{}, nil
	}
	if !keyColumns[entity][keyField] {
		return nil, fmt.Errorf("unsupported lookup column %s.%s", entity, keyField)
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = ANY($1)`, keyField, entity, keyField)

	rows, err := r.timedQuery(ctx, "exists_many", string(entity), func(ctx context.Context) (*sqlx.Rows, error) {
		return r.db.QueryxContext(ctx, query, pq.Array(values))
	})
	if err != nil {
		r.logger.Error("existence lookup failed",
			zap.String("entity", string(entity)),
			zap.String("column", keyField),
			zap.Error(err))
		return nil, fmt.Errorf("failed to query %s existence: %w", entity, err)
	}
	defer rows.Close()

	existing := make(map[string]struct{})
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan %s key: %w", entity, err)
		}
		existing[key] = struct{}{}
	}
	return existing, rows.Err()
}

// GetDevice returns one device by identifier
func (r *StoreRepository) GetDevice(ctx context.Context, deviceID string) (*entities.Device, error) {
	query := `
		SELECT device_id, customer_id, device_type, device_info, is_verified, last_used, created_at
		FROM devices
		WHERE device_id = $1`

	device := &entities.Device{}
	var notFound bool
	err := r.timedGet(ctx, "get", "devices", func(ctx context.Context) error {
		// A missing row is an answer, not a failure the breaker should count
		if err := r.db.GetContext(ctx, device, query, deviceID); err != nil {
			if err == sql.ErrNoRows {
				notFound = true
				return nil
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get device: %w", err)
	}
	if notFound {
		return nil, fmt.Errorf("device %s not found", deviceID)
	}
	return device, nil
}

// GetAccount returns one account by identifier
func (r *StoreRepository) GetAccount(ctx context.Context, accountID string) (*entities.Account, error) {
	query := `
		SELECT account_id, customer_id, account_type, balance, currency, status, created_at
		FROM accounts
		WHERE account_id = $1`

	account := &entities.Account{}
	var notFound bool
	err := r.timedGet(ctx, "get", "accounts", func(ctx context.Context) error {
		if err := r.db.GetContext(ctx, account, query, accountID); err != nil {
			if err == sql.ErrNoRows {
				notFound = true
				return nil
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	if notFound {
		return nil, fmt.Errorf("account %s not found", accountID)
	}
	return account, nil
}

// QueryAuthHistory returns the customer's authentication entries inside the
// window, oldest first.
func (r *StoreRepository) QueryAuthHistory(ctx context.Context, customerID string, from, to time.Time) ([]entities.AuthenticationLog, error) {
	query := `
		SELECT auth_log_id, customer_id, device_id, auth_method, auth_status, timestamp, created_at
		FROM auth_logs
		WHERE customer_id = $1 AND timestamp BETWEEN $2 AND $3
		ORDER BY timestamp`

	var history []entities.AuthenticationLog
	err := r.timedGet(ctx, "auth_history", "auth_logs", func(ctx context.Context) error {
		return r.db.SelectContext(ctx, &history, query, customerID, from, to)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query auth history: %w", err)
	}
	return history, nil
}

// QueryDailyTotal returns the persisted transaction total debited from the
// customer's accounts on the given UTC calendar day. Rows matching the
// excluded transaction IDs are left out; the caller passes the batch it just
// persisted so those amounts are not counted twice.
func (r *StoreRepository) QueryDailyTotal(ctx context.Context, customerID string, day time.Time, excludeTransactionIDs []string) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(t.amount), 0)
		FROM transactions t
		JOIN accounts a ON a.account_id = t.from_account_id
		WHERE a.customer_id = $1
		  AND t.timestamp >= $2
		  AND t.timestamp < $3
		  AND t.transaction_id <> ALL($4)`

	// pq renders a nil slice as SQL NULL, and <> ALL(NULL) matches nothing
	if excludeTransactionIDs == nil {
		excludeTransactionIDs = []string{}
	}

	dayStart := day.UTC().Truncate(24 * time.Hour)
	var total decimal.Decimal
	err := r.timedGet(ctx, "daily_total", "transactions", func(ctx context.Context) error {
		return r.db.GetContext(ctx, &total, query, customerID, dayStart, dayStart.Add(24*time.Hour), pq.Array(excludeTransactionIDs))
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query daily total: %w", err)
	}
	return total, nil
}

func (r *StoreRepository) timedQuery(ctx context.Context, operation, entity string, fn func(ctx context.Context) (*sqlx.Rows, error)) (*sqlx.Rows, error) {
	start := time.Now()
	defer func() {
		metrics.GatewayQueryDuration.WithLabelValues(operation, entity).Observe(time.Since(start).Seconds())
	}()
	result, err := r.breaker.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		return nil, err
	}
	return result.(*sqlx.Rows), nil
}

func (r *StoreRepository) timedGet(ctx context.Context, operation, entity string, fn func(ctx context.Context) error) error {
	start := time.Now()
	defer func() {
		metrics.GatewayQueryDuration.WithLabelValues(operation, entity).Observe(time.Since(start).Seconds())
	}()
	_, err := r.breaker.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	return err
}
