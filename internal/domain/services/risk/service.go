package risk

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bankdata-service/bankdata_service/internal/domain/entities"
	perrors "github.com/bankdata-service/bankdata_service/pkg/errors"
	"github.com/bankdata-service/bankdata_service/pkg/logger"
	"github.com/bankdata-service/bankdata_service/pkg/metrics"
)

// AuthHistoryReader fetches persisted authentication entries for a customer
// within a time window.
type AuthHistoryReader interface {
	QueryAuthHistory(ctx context.Context, customerID string, from, to time.Time) ([]entities.AuthenticationLog, error)
}

// DailyTotalReader returns the persisted transaction total for a customer on
// a given calendar day. The excluded transaction IDs must not count toward
// the total: the current batch is persisted before risk evaluation, so its
// own rows would otherwise be summed here and again by the accumulator.
type DailyTotalReader interface {
	QueryDailyTotal(ctx context.Context, customerID string, day time.Time, excludeTransactionIDs []string) (decimal.Decimal, error)
}

// DeviceReader resolves a device by its identifier
type DeviceReader interface {
	GetDevice(ctx context.Context, deviceID string) (*entities.Device, error)
}

// AccountReader resolves an account by its identifier
type AccountReader interface {
	GetAccount(ctx context.Context, accountID string) (*entities.Account, error)
}

// AlertWriter persists generated alerts
type AlertWriter interface {
	InsertAlerts(ctx context.Context, alerts []entities.RiskAlert) error
}

// Config holds the rule thresholds and lookup behavior
type Config struct {
	HighValueThreshold  decimal.Decimal
	DailyLimitThreshold decimal.Decimal
	AuthLookback        time.Duration
	LookupTimeout       time.Duration
}

// Service evaluates the deterministic risk rules over accepted transactions
type Service struct {
	authHistory AuthHistoryReader
	dailyTotals DailyTotalReader
	devices     DeviceReader
	accounts    AccountReader
	alerts      AlertWriter
	config      Config
	logger      *logger.Logger
}

// NewService creates a new risk service
func NewService(
	authHistory AuthHistoryReader,
	dailyTotals DailyTotalReader,
	devices DeviceReader,
	accounts AccountReader,
	alerts AlertWriter,
	config Config,
	logger *logger.Logger,
) *Service {
	return &Service{
		authHistory: authHistory,
		dailyTotals: dailyTotals,
		devices:     devices,
		accounts:    accounts,
		alerts:      alerts,
		config:      config,
		logger:      logger,
	}
}

// Evaluate runs every rule over the accepted transactions in (timestamp,
// batch position) order and persists the resulting alerts. Auth-history
// lookup failures fail safe: the customer is treated as having no strong
// authentication and the failure surfaces as a warning. Lookup failures
// never abort the stage; only a failure to persist the alerts themselves
// is fatal.
func (s *Service) Evaluate(ctx context.Context, runID string, accepted *entities.AcceptedBatch, runTime time.Time) ([]entities.RiskAlert, []string, error) {
	log := s.logger.ForRun(runID, "risk")

	batchDevices := make(map[string]entities.Device, len(accepted.Devices))
	for _, d := range accepted.Devices {
		batchDevices[d.DeviceID] = d
	}
	batchAccounts := make(map[string]entities.Account, len(accepted.Accounts))
	for _, a := range accepted.Accounts {
		batchAccounts[a.AccountID] = a
	}
	batchAuthByCustomer := make(map[string][]entities.AuthenticationLog)
	for _, al := range accepted.AuthLogs {
		batchAuthByCustomer[al.CustomerID] = append(batchAuthByCustomer[al.CustomerID], al)
	}

	ordered := make([]entities.Transaction, len(accepted.Transactions))
	copy(ordered, accepted.Transactions)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	var alerts []entities.RiskAlert
	var warnings []string
	dailyTotals := make(map[string]decimal.Decimal)
	batchTxnIDs := make([]string, len(ordered))
	for i, t := range ordered {
		batchTxnIDs[i] = t.TransactionID
	}

	emit := func(txn entities.Transaction, customerID string, alertType entities.AlertType, severity entities.AlertSeverity, description string) {
		alerts = append(alerts, entities.RiskAlert{
			ID:            uuid.New(),
			CustomerID:    customerID,
			TransactionID: txn.TransactionID,
			AlertType:     alertType,
			Severity:      severity,
			Description:   description,
			Status:        entities.AlertStatusOpen,
			CreatedAt:     runTime,
		})
		metrics.RiskAlertsTotal.WithLabelValues(string(alertType), string(severity)).Inc()
	}
	degrade := func(txn entities.Transaction, lookup string, err error) {
		metrics.RiskLookupDegradationsTotal.Inc()
		pe := perrors.LookupDegraded(lookup, err).AddDetail("transaction_id", txn.TransactionID)
		warnings = append(warnings, fmt.Sprintf("transaction %s: %s lookup degraded: %v", txn.TransactionID, lookup, err))
		log.Warnw("risk lookup degraded",
			"transaction_id", txn.TransactionID,
			"lookup", lookup,
			"severity", string(pe.Severity),
			"error", err)
	}

	for _, txn := range ordered {
		customerID, err := s.resolveCustomer(ctx, txn, batchAccounts)
		if err != nil {
			// Without the owning customer no rule can attribute an alert
			degrade(txn, "account owner", err)
			continue
		}

		// Both the high-value and daily-limit rules share the strong-auth
		// condition; resolve it at most once per transaction. A lookup
		// failure fails safe to "no strong auth" so neither rule is
		// silently skipped.
		strongAuthKnown := false
		strongAuth := false
		hasStrongAuth := func() bool {
			if strongAuthKnown {
				return strongAuth
			}
			strongAuthKnown = true
			strong, err := s.hasStrongAuth(ctx, customerID, txn.Timestamp, batchAuthByCustomer[customerID])
			if err != nil {
				degrade(txn, "auth history", err)
				strong = false
			}
			strongAuth = strong
			return strongAuth
		}

		if txn.Amount.GreaterThan(s.config.HighValueThreshold) && !hasStrongAuth() {
			emit(txn, customerID, entities.AlertHighValueNoStrongAuth, entities.AlertSeverityHigh,
				fmt.Sprintf("amount %s exceeds %s with no successful biometric authentication in the preceding %s",
					txn.Amount, s.config.HighValueThreshold, s.config.AuthLookback))
		}

		if txn.DeviceID == "" {
			emit(txn, customerID, entities.AlertUnverifiedDevice, entities.AlertSeverityMedium,
				"transaction has no associated device")
		} else {
			verified, err := s.deviceVerified(ctx, txn.DeviceID, batchDevices)
			if err != nil {
				degrade(txn, "device", err)
			} else if !verified {
				emit(txn, customerID, entities.AlertUnverifiedDevice, entities.AlertSeverityMedium,
					fmt.Sprintf("transaction initiated from unverified device %s", txn.DeviceID))
			}
		}

		day := txn.Timestamp.UTC().Truncate(24 * time.Hour)
		totalKey := customerID + "|" + day.Format("2006-01-02")
		total, seeded := dailyTotals[totalKey]
		if !seeded {
			persisted, err := s.queryDailyTotal(ctx, customerID, day, batchTxnIDs)
			if err != nil {
				// Fail safe: count only what this batch contributes
				degrade(txn, "daily total", err)
				persisted = decimal.Zero
			}
			total = persisted
		}
		total = total.Add(txn.Amount)
		dailyTotals[totalKey] = total
		if total.GreaterThan(s.config.DailyLimitThreshold) && !hasStrongAuth() {
			emit(txn, customerID, entities.AlertDailyLimitExceeded, entities.AlertSeverityHigh,
				fmt.Sprintf("cumulative amount %s on %s exceeds daily limit %s",
					total, day.Format("2006-01-02"), s.config.DailyLimitThreshold))
		}
	}

	if len(alerts) > 0 {
		if err := s.alerts.InsertAlerts(ctx, alerts); err != nil {
			return nil, warnings, perrors.DependencyUnavailable("alert store", err)
		}
	}

	log.Infow("risk evaluation complete",
		"transactions", len(ordered),
		"alerts", len(alerts),
		"warnings", len(warnings))

	return alerts, warnings, nil
}

// resolveCustomer maps a transaction to the customer owning its source
// account, preferring accounts accepted in the same batch.
func (s *Service) resolveCustomer(ctx context.Context, txn entities.Transaction, batchAccounts map[string]entities.Account) (string, error) {
	if account, ok := batchAccounts[txn.FromAccountID]; ok {
		return account.CustomerID, nil
	}
	lookupCtx, cancel := s.lookupContext(ctx)
	defer cancel()
	account, err := s.accounts.GetAccount(lookupCtx, txn.FromAccountID)
	if err != nil {
		return "", err
	}
	return account.CustomerID, nil
}

// hasStrongAuth reports whether the customer had a successful biometric
// authentication within the lookback window ending at the transaction time.
// Batch entries and persisted history both count.
func (s *Service) hasStrongAuth(ctx context.Context, customerID string, at time.Time, batchEntries []entities.AuthenticationLog) (bool, error) {
	from := at.Add(-s.config.AuthLookback)
	for _, entry := range batchEntries {
		if entry.IsStrongAuth() && !entry.Timestamp.Before(from) && !entry.Timestamp.After(at) {
			return true, nil
		}
	}
	lookupCtx, cancel := s.lookupContext(ctx)
	defer cancel()
	history, err := s.authHistory.QueryAuthHistory(lookupCtx, customerID, from, at)
	if err != nil {
		return false, err
	}
	for _, entry := range history {
		if entry.IsStrongAuth() {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) deviceVerified(ctx context.Context, deviceID string, batchDevices map[string]entities.Device) (bool, error) {
	if device, ok := batchDevices[deviceID]; ok {
		return device.IsVerified, nil
	}
	lookupCtx, cancel := s.lookupContext(ctx)
	defer cancel()
	device, err := s.devices.GetDevice(lookupCtx, deviceID)
	if err != nil {
		return false, err
	}
	return device.IsVerified, nil
}

func (s *Service) queryDailyTotal(ctx context.Context, customerID string, day time.Time, exclude []string) (decimal.Decimal, error) {
	lookupCtx, cancel := s.lookupContext(ctx)
	defer cancel()
	return s.dailyTotals.QueryDailyTotal(lookupCtx, customerID, day, exclude)
}

func (s *Service) lookupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.LookupTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.config.LookupTimeout)
}
