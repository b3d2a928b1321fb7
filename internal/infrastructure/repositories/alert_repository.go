package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/bankdata-service/bankdata_service/internal/domain/entities"
	"github.com/bankdata-service/bankdata_service/pkg/metrics"
)

// AlertRepository persists and queries risk alerts
type AlertRepository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewAlertRepository creates a new alert repository
func NewAlertRepository(db *sqlx.DB, logger *zap.Logger) *AlertRepository {
	return &AlertRepository{
		db:     db,
		logger: logger,
	}
}

// InsertAlerts writes all alerts of one evaluation in a single transaction
func (r *AlertRepository) InsertAlerts(ctx context.Context, alerts []entities.RiskAlert) error {
	if len(alerts) == 0 {
		return nil
	}

	start := time.Now()
	defer func() {
		metrics.GatewayQueryDuration.WithLabelValues("insert_alerts", "risk_alerts").Observe(time.Since(start).Seconds())
	}()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO risk_alerts (
			id, customer_id, transaction_id, alert_type, severity, description, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	for _, alert := range alerts {
		if _, err := tx.ExecContext(ctx, query,
			alert.ID, alert.CustomerID, alert.TransactionID, string(alert.AlertType),
			string(alert.Severity), alert.Description, string(alert.Status), alert.CreatedAt,
		); err != nil {
			r.logger.Error("failed to insert risk alert",
				zap.String("alert_id", alert.ID.String()),
				zap.Error(err))
			return fmt.Errorf("failed to insert alert %s: %w", alert.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit alerts: %w", err)
	}
	return nil
}

// OpenAlerts returns open alerts, newest first
func (r *AlertRepository) OpenAlerts(ctx context.Context, limit int) ([]entities.RiskAlert, error) {
	query := `
		SELECT id, customer_id, transaction_id, alert_type, severity, description, status, created_at
		FROM risk_alerts
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2`

	var alerts []entities.RiskAlert
	if err := r.db.SelectContext(ctx, &alerts, query, string(entities.AlertStatusOpen), limit); err != nil {
		return nil, fmt.Errorf("failed to query open alerts: %w", err)
	}
	return alerts, nil
}
