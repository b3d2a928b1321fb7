package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/bankdata-service/bankdata_service/internal/domain/entities"
	perrors "github.com/bankdata-service/bankdata_service/pkg/errors"
	"github.com/bankdata-service/bankdata_service/pkg/logger"
)

// Mock implementations for testing
type MockAuthHistoryReader struct {
	mock.Mock
}

func (m *MockAuthHistoryReader) QueryAuthHistory(ctx context.Context, customerID string, from, to time.Time) ([]entities.AuthenticationLog, error) {
	args := m.Called(ctx, customerID, from, to)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entities.AuthenticationLog), args.Error(1)
}

type MockDailyTotalReader struct {
	mock.Mock
}

func (m *MockDailyTotalReader) QueryDailyTotal(ctx context.Context, customerID string, day time.Time, excludeTransactionIDs []string) (decimal.Decimal, error) {
	args := m.Called(ctx, customerID, day, excludeTransactionIDs)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

type MockDeviceReader struct {
	mock.Mock
}

func (m *MockDeviceReader) GetDevice(ctx context.Context, deviceID string) (*entities.Device, error) {
	args := m.Called(ctx, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Device), args.Error(1)
}

type MockAccountReader struct {
	mock.Mock
}

func (m *MockAccountReader) GetAccount(ctx context.Context, accountID string) (*entities.Account, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entities.Account), args.Error(1)
}

type MockAlertWriter struct {
	mock.Mock
}

func (m *MockAlertWriter) InsertAlerts(ctx context.Context, alerts []entities.RiskAlert) error {
	args := m.Called(ctx, alerts)
	return args.Error(0)
}

type fixture struct {
	authHistory *MockAuthHistoryReader
	dailyTotals *MockDailyTotalReader
	devices     *MockDeviceReader
	accounts    *MockAccountReader
	alerts      *MockAlertWriter
	service     *Service
}

var (
	runTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	testDay = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	million = decimal.NewFromInt(1_000_000)
)

func newFixture() *fixture {
	f := &fixture{
		authHistory: new(MockAuthHistoryReader),
		dailyTotals: new(MockDailyTotalReader),
		devices:     new(MockDeviceReader),
		accounts:    new(MockAccountReader),
		alerts:      new(MockAlertWriter),
	}
	f.service = NewService(f.authHistory, f.dailyTotals, f.devices, f.accounts, f.alerts, Config{
		HighValueThreshold:  million.Mul(decimal.NewFromInt(10)),
		DailyLimitThreshold: million.Mul(decimal.NewFromInt(20)),
		AuthLookback:        time.Hour,
		LookupTimeout:       time.Second,
	}, logger.NewNop())
	return f
}

// batchWith builds an accepted batch whose transactions debit acct-1, owned
// in-batch by cust-1, from the verified device dev-ok.
func batchWith(txns ...entities.Transaction) *entities.AcceptedBatch {
	return &entities.AcceptedBatch{
		Devices: []entities.Device{
			{DeviceID: "dev-ok", CustomerID: "cust-1", IsVerified: true},
		},
		Accounts: []entities.Account{
			{AccountID: "acct-1", CustomerID: "cust-1", Balance: million.Mul(decimal.NewFromInt(100))},
		},
		Transactions: txns,
	}
}

func txn(id string, amount int64, at time.Time) entities.Transaction {
	return entities.Transaction{
		TransactionID: id,
		FromAccountID: "acct-1",
		DeviceID:      "dev-ok",
		Amount:        decimal.NewFromInt(amount),
		Timestamp:     at,
	}
}

func (f *fixture) expectNoPersistedTotal() {
	f.dailyTotals.On("QueryDailyTotal", mock.Anything, "cust-1", mock.Anything, mock.Anything).
		Return(decimal.Zero, nil)
}

func (f *fixture) expectNoAuthHistory() {
	f.authHistory.On("QueryAuthHistory", mock.Anything, "cust-1", mock.Anything, mock.Anything).
		Return([]entities.AuthenticationLog{}, nil)
}

func (f *fixture) expectInsert() {
	f.alerts.On("InsertAlerts", mock.Anything, mock.Anything).Return(nil)
}

func TestHighValueWithoutStrongAuthAlerts(t *testing.T) {
	f := newFixture()
	f.expectNoAuthHistory()
	f.expectNoPersistedTotal()
	f.expectInsert()

	batch := batchWith(txn("txn-1", 10_000_001, runTime.Add(-time.Minute)))
	alerts, warnings, err := f.service.Evaluate(context.Background(), "run-1", batch, runTime)

	require.NoError(t, err)
	assert.Empty(t, warnings)
	require.Len(t, alerts, 1)
	assert.Equal(t, entities.AlertHighValueNoStrongAuth, alerts[0].AlertType)
	assert.Equal(t, entities.AlertSeverityHigh, alerts[0].Severity)
	assert.Equal(t, "cust-1", alerts[0].CustomerID)
	assert.Equal(t, "txn-1", alerts[0].TransactionID)
	assert.Equal(t, entities.AlertStatusOpen, alerts[0].Status)
}

func TestHighValueExactThresholdDoesNotAlert(t *testing.T) {
	f := newFixture()
	f.expectNoPersistedTotal()

	// Exactly at the threshold: the rule fires strictly above it
	batch := batchWith(txn("txn-1", 10_000_000, runTime.Add(-time.Minute)))
	alerts, _, err := f.service.Evaluate(context.Background(), "run-1", batch, runTime)

	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestHighValueSuppressedByBatchStrongAuth(t *testing.T) {
	f := newFixture()
	f.expectNoPersistedTotal()

	at := runTime.Add(-time.Minute)
	batch := batchWith(txn("txn-1", 15_000_000, at))
	batch.AuthLogs = []entities.AuthenticationLog{{
		AuthLogID:  "auth-1",
		CustomerID: "cust-1",
		DeviceID:   "dev-1",
		AuthMethod: entities.AuthMethodBiometric,
		AuthStatus: entities.AuthStatusSuccess,
		Timestamp:  at.Add(-10 * time.Minute),
	}}

	alerts, _, err := f.service.Evaluate(context.Background(), "run-1", batch, runTime)
	require.NoError(t, err)
	assert.Empty(t, alerts)
	f.authHistory.AssertNotCalled(t, "QueryAuthHistory", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHighValueWeakAuthStillAlerts(t *testing.T) {
	f := newFixture()
	f.expectNoPersistedTotal()
	f.expectInsert()

	at := runTime.Add(-time.Minute)
	batch := batchWith(txn("txn-1", 15_000_000, at))
	// Password success inside the window does not count as strong auth
	batch.AuthLogs = []entities.AuthenticationLog{{
		AuthLogID:  "auth-1",
		CustomerID: "cust-1",
		DeviceID:   "dev-1",
		AuthMethod: entities.AuthMethodPassword,
		AuthStatus: entities.AuthStatusSuccess,
		Timestamp:  at.Add(-10 * time.Minute),
	}}
	f.expectNoAuthHistory()

	alerts, _, err := f.service.Evaluate(context.Background(), "run-1", batch, runTime)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, entities.AlertHighValueNoStrongAuth, alerts[0].AlertType)
}

func TestHighValueSuppressedByStoredStrongAuth(t *testing.T) {
	f := newFixture()
	f.expectNoPersistedTotal()

	at := runTime.Add(-time.Minute)
	f.authHistory.On("QueryAuthHistory", mock.Anything, "cust-1", mock.Anything, mock.Anything).
		Return([]entities.AuthenticationLog{{
			AuthLogID:  "auth-stored",
			CustomerID: "cust-1",
			AuthMethod: entities.AuthMethodBiometric,
			AuthStatus: entities.AuthStatusSuccess,
			Timestamp:  at.Add(-30 * time.Minute),
		}}, nil)

	batch := batchWith(txn("txn-1", 15_000_000, at))
	alerts, _, err := f.service.Evaluate(context.Background(), "run-1", batch, runTime)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestUnverifiedDeviceAlerts(t *testing.T) {
	f := newFixture()
	f.expectNoPersistedTotal()
	f.expectInsert()

	batch := batchWith(entities.Transaction{
		TransactionID: "txn-1",
		FromAccountID: "acct-1",
		DeviceID:      "dev-1",
		Amount:        decimal.NewFromInt(500_000),
		Timestamp:     runTime.Add(-time.Minute),
	})
	batch.Devices = []entities.Device{
		{DeviceID: "dev-1", CustomerID: "cust-1", IsVerified: false},
	}

	alerts, _, err := f.service.Evaluate(context.Background(), "run-1", batch, runTime)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, entities.AlertUnverifiedDevice, alerts[0].AlertType)
	assert.Equal(t, entities.AlertSeverityMedium, alerts[0].Severity)
}

func TestVerifiedDeviceDoesNotAlert(t *testing.T) {
	f := newFixture()
	f.expectNoPersistedTotal()

	batch := batchWith(entities.Transaction{
		TransactionID: "txn-1",
		FromAccountID: "acct-1",
		DeviceID:      "dev-1",
		Amount:        decimal.NewFromInt(500_000),
		Timestamp:     runTime.Add(-time.Minute),
	})
	f.devices.On("GetDevice", mock.Anything, "dev-1").
		Return(&entities.Device{DeviceID: "dev-1", CustomerID: "cust-1", IsVerified: true}, nil)

	alerts, _, err := f.service.Evaluate(context.Background(), "run-1", batch, runTime)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestDailyLimitAccumulatesAcrossBatch(t *testing.T) {
	f := newFixture()
	f.expectNoAuthHistory()
	f.expectNoPersistedTotal()
	f.expectInsert()

	// 8M + 8M + 8M on the same day: only the third crosses 20M
	batch := batchWith(
		txn("txn-1", 8_000_000, testDay.Add(9*time.Hour)),
		txn("txn-2", 8_000_000, testDay.Add(10*time.Hour)),
		txn("txn-3", 8_000_000, testDay.Add(11*time.Hour)),
	)

	alerts, _, err := f.service.Evaluate(context.Background(), "run-1", batch, runTime)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, entities.AlertDailyLimitExceeded, alerts[0].AlertType)
	assert.Equal(t, "txn-3", alerts[0].TransactionID)

	// The persisted total is fetched once per (customer, day)
	f.dailyTotals.AssertNumberOfCalls(t, "QueryDailyTotal", 1)
}

func TestDailyLimitSeededFromStore(t *testing.T) {
	f := newFixture()
	f.expectNoAuthHistory()
	f.expectInsert()
	f.dailyTotals.On("QueryDailyTotal", mock.Anything, "cust-1", mock.Anything, mock.Anything).
		Return(million.Mul(decimal.NewFromInt(15)), nil)

	batch := batchWith(txn("txn-1", 6_000_000, testDay.Add(9*time.Hour)))
	alerts, _, err := f.service.Evaluate(context.Background(), "run-1", batch, runTime)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, entities.AlertDailyLimitExceeded, alerts[0].AlertType)
}

func TestDailyLimitSeedExcludesCurrentBatch(t *testing.T) {
	f := newFixture()
	f.expectNoAuthHistory()
	f.expectInsert()

	// The batch is persisted before risk evaluation, so the store total for
	// the day already contains it. The reader must be asked to exclude the
	// batch's own transactions; answer like the real gateway would either way.
	excludesBatch := func(exclude []string) bool {
		ids := make(map[string]bool, len(exclude))
		for _, id := range exclude {
			ids[id] = true
		}
		return ids["txn-1"] && ids["txn-2"] && ids["txn-3"]
	}
	f.dailyTotals.On("QueryDailyTotal", mock.Anything, "cust-1", mock.Anything, mock.MatchedBy(excludesBatch)).
		Return(decimal.Zero, nil)
	f.dailyTotals.On("QueryDailyTotal", mock.Anything, "cust-1", mock.Anything, mock.Anything).
		Return(million.Mul(decimal.NewFromInt(24)), nil)

	batch := batchWith(
		txn("txn-1", 8_000_000, testDay.Add(9*time.Hour)),
		txn("txn-2", 8_000_000, testDay.Add(10*time.Hour)),
		txn("txn-3", 8_000_000, testDay.Add(11*time.Hour)),
	)

	alerts, _, err := f.service.Evaluate(context.Background(), "run-1", batch, runTime)
	require.NoError(t, err)

	var limitAlerts []entities.RiskAlert
	for _, a := range alerts {
		if a.AlertType == entities.AlertDailyLimitExceeded {
			limitAlerts = append(limitAlerts, a)
		}
	}
	require.Len(t, limitAlerts, 1)
	assert.Equal(t, "txn-3", limitAlerts[0].TransactionID)
}

func TestDailyLimitSuppressedByStrongAuth(t *testing.T) {
	f := newFixture()
	f.expectNoPersistedTotal()

	batch := batchWith(
		txn("txn-1", 8_000_000, testDay.Add(9*time.Hour)),
		txn("txn-2", 8_000_000, testDay.Add(10*time.Hour)),
		txn("txn-3", 8_000_000, testDay.Add(11*time.Hour)),
	)
	// Biometric success within the third transaction's lookback window
	batch.AuthLogs = []entities.AuthenticationLog{{
		AuthLogID:  "auth-1",
		CustomerID: "cust-1",
		DeviceID:   "dev-ok",
		AuthMethod: entities.AuthMethodBiometric,
		AuthStatus: entities.AuthStatusSuccess,
		Timestamp:  testDay.Add(10*time.Hour + 30*time.Minute),
	}}

	alerts, _, err := f.service.Evaluate(context.Background(), "run-1", batch, runTime)
	require.NoError(t, err)
	assert.Empty(t, alerts)
	f.alerts.AssertNotCalled(t, "InsertAlerts", mock.Anything, mock.Anything)
}

func TestMissingDeviceAlerts(t *testing.T) {
	f := newFixture()
	f.expectNoPersistedTotal()
	f.expectInsert()

	batch := batchWith(entities.Transaction{
		TransactionID: "txn-1",
		FromAccountID: "acct-1",
		Amount:        decimal.NewFromInt(500_000),
		Timestamp:     runTime.Add(-time.Minute),
	})

	alerts, _, err := f.service.Evaluate(context.Background(), "run-1", batch, runTime)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, entities.AlertUnverifiedDevice, alerts[0].AlertType)
	assert.Equal(t, entities.AlertSeverityMedium, alerts[0].Severity)
	f.devices.AssertNotCalled(t, "GetDevice", mock.Anything, mock.Anything)
}

func TestAuthLookupFailureFailsSafe(t *testing.T) {
	f := newFixture()
	f.expectNoPersistedTotal()
	f.expectInsert()
	f.authHistory.On("QueryAuthHistory", mock.Anything, "cust-1", mock.Anything, mock.Anything).
		Return(nil, errors.New("connection refused"))

	// The failed lookup counts as no strong auth, so the rule still fires
	batch := batchWith(txn("txn-1", 15_000_000, runTime.Add(-time.Minute)))
	alerts, warnings, err := f.service.Evaluate(context.Background(), "run-1", batch, runTime)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, entities.AlertHighValueNoStrongAuth, alerts[0].AlertType)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "auth history")
}

func TestTransactionsEvaluatedInTimestampOrder(t *testing.T) {
	f := newFixture()
	f.expectNoPersistedTotal()
	f.expectInsert()

	// Batch order reversed relative to time; the later transaction must be
	// the one that crosses the limit.
	batch := batchWith(
		txn("txn-late", 12_000_000, testDay.Add(11*time.Hour)),
		txn("txn-early", 12_000_000, testDay.Add(9*time.Hour)),
	)
	f.expectNoAuthHistory()

	alerts, _, err := f.service.Evaluate(context.Background(), "run-1", batch, runTime)
	require.NoError(t, err)

	var limitAlerts []entities.RiskAlert
	for _, a := range alerts {
		if a.AlertType == entities.AlertDailyLimitExceeded {
			limitAlerts = append(limitAlerts, a)
		}
	}
	require.Len(t, limitAlerts, 1)
	assert.Equal(t, "txn-late", limitAlerts[0].TransactionID)
}

func TestLookupFailureDegradesToWarning(t *testing.T) {
	f := newFixture()
	f.expectNoPersistedTotal()

	batch := batchWith(entities.Transaction{
		TransactionID: "txn-1",
		FromAccountID: "acct-1",
		DeviceID:      "dev-1",
		Amount:        decimal.NewFromInt(500_000),
		Timestamp:     runTime.Add(-time.Minute),
	})
	f.devices.On("GetDevice", mock.Anything, "dev-1").
		Return(nil, errors.New("connection refused"))

	alerts, warnings, err := f.service.Evaluate(context.Background(), "run-1", batch, runTime)
	require.NoError(t, err)
	assert.Empty(t, alerts)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "txn-1")
	assert.Contains(t, warnings[0], "device")
}

func TestAccountLookupFailureSkipsTransaction(t *testing.T) {
	f := newFixture()

	batch := &entities.AcceptedBatch{
		Transactions: []entities.Transaction{txn("txn-1", 15_000_000, runTime.Add(-time.Minute))},
	}
	f.accounts.On("GetAccount", mock.Anything, "acct-1").
		Return(nil, errors.New("connection refused"))

	alerts, warnings, err := f.service.Evaluate(context.Background(), "run-1", batch, runTime)
	require.NoError(t, err)
	assert.Empty(t, alerts)
	require.Len(t, warnings, 1)
}

func TestAlertPersistenceFailureIsFatal(t *testing.T) {
	f := newFixture()
	f.expectNoAuthHistory()
	f.expectNoPersistedTotal()
	f.alerts.On("InsertAlerts", mock.Anything, mock.Anything).
		Return(errors.New("connection refused"))

	batch := batchWith(txn("txn-1", 15_000_000, runTime.Add(-time.Minute)))
	_, _, err := f.service.Evaluate(context.Background(), "run-1", batch, runTime)
	require.Error(t, err)
	assert.True(t, perrors.IsDependencyFailure(err))
}

func TestNoTransactionsNoInsert(t *testing.T) {
	f := newFixture()

	alerts, warnings, err := f.service.Evaluate(context.Background(), "run-1", &entities.AcceptedBatch{}, runTime)
	require.NoError(t, err)
	assert.Empty(t, alerts)
	assert.Empty(t, warnings)
	f.alerts.AssertNotCalled(t, "InsertAlerts", mock.Anything, mock.Anything)
}
