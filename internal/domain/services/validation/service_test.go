package validation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bankdata-service/bankdata_service/internal/domain/entities"
	perrors "github.com/bankdata-service/bankdata_service/pkg/errors"
	"github.com/bankdata-service/bankdata_service/pkg/logger"
)

// fakeStore answers existence lookups from in-memory sets keyed by
// "<entity>/<field>".
type fakeStore struct {
	existing map[string][]string
	err      error
}

func (f *fakeStore) ExistsMany(ctx context.Context, entity entities.EntityType, keyField string, values []string) (map[string]struct{}, error) {
	if f.err != nil {
		return nil, f.err
	}
	known := make(map[string]struct{})
	for _, v := range f.existing[string(entity)+"/"+keyField] {
		known[v] = struct{}{}
	}
	result := make(map[string]struct{})
	for _, v := range values {
		if _, ok := known[v]; ok {
			result[v] = struct{}{}
		}
	}
	return result, nil
}

var runTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func customerRow(id, nationalID, username string) entities.Row {
	return entities.Row{
		"CustomerID": id,
		"NationalID": nationalID,
		"Name":       "Test Person",
		"Username":   username,
	}
}

func newService(store StoreReader) *Service {
	return NewService(store, logger.NewNop())
}

func TestValidateAcceptsCleanBatch(t *testing.T) {
	batch := entities.NewRecordBatch()
	batch.Append(entities.EntityCustomer, customerRow("cust-1", "123456789012", "alice"))
	batch.Append(entities.EntityDevice, entities.Row{
		"DeviceID":   "dev-1",
		"CustomerID": "cust-1",
		"IsVerified": true,
	})
	batch.Append(entities.EntityAccount, entities.Row{
		"AccountID":  "acct-1",
		"CustomerID": "cust-1",
		"Balance":    "5000000",
	})
	batch.Append(entities.EntityTransaction, entities.Row{
		"TransactionID": "txn-1",
		"FromAccountID": "acct-1",
		"DeviceID":      "dev-1",
		"Amount":        "250000",
		"Timestamp":     "2026-03-01T10:00:00Z",
	})
	batch.Append(entities.EntityAuthLog, entities.Row{
		"AuthLogID":  "auth-1",
		"CustomerID": "cust-1",
		"DeviceID":   "dev-1",
		"AuthMethod": "biometric",
		"AuthStatus": "success",
		"Timestamp":  "2026-03-01T09:59:00Z",
	})

	accepted, issues, err := newService(&fakeStore{}).Validate(context.Background(), batch, runTime)
	require.NoError(t, err)
	assert.Empty(t, issues)
	assert.Equal(t, 5, accepted.Len())

	require.Len(t, accepted.AuthLogs, 1)
	assert.Equal(t, entities.AuthMethodBiometric, accepted.AuthLogs[0].AuthMethod)
	assert.Equal(t, entities.AuthStatusSuccess, accepted.AuthLogs[0].AuthStatus)
	assert.True(t, accepted.AuthLogs[0].IsStrongAuth())
}

func TestValidateMissingFields(t *testing.T) {
	batch := entities.NewRecordBatch()
	batch.Append(entities.EntityCustomer, entities.Row{
		"CustomerID": "cust-1",
		"NationalID": "123456789012",
		// Name and Username missing
	})

	accepted, issues, err := newService(&fakeStore{}).Validate(context.Background(), batch, runTime)
	require.NoError(t, err)
	assert.Empty(t, accepted.Customers)
	require.Len(t, issues, 2)
	for _, issue := range issues {
		assert.Equal(t, entities.IssueMissingField, issue.Category)
		assert.Equal(t, "cust-1", issue.Key)
	}
}

func TestValidateNationalIDFormat(t *testing.T) {
	batch := entities.NewRecordBatch()
	batch.Append(entities.EntityCustomer, customerRow("cust-1", "AB1234567", "alice"))

	accepted, issues, err := newService(&fakeStore{}).Validate(context.Background(), batch, runTime)
	require.NoError(t, err)
	assert.Empty(t, accepted.Customers)
	require.Len(t, issues, 1)
	assert.Equal(t, entities.IssueBadFormat, issues[0].Category)
}

func TestValidateInBatchDuplicateFirstWins(t *testing.T) {
	batch := entities.NewRecordBatch()
	batch.Append(entities.EntityCustomer,
		customerRow("cust-1", "123456789012", "alice"),
		customerRow("cust-2", "123456789012", "bob"),
	)

	accepted, issues, err := newService(&fakeStore{}).Validate(context.Background(), batch, runTime)
	require.NoError(t, err)
	require.Len(t, accepted.Customers, 1)
	assert.Equal(t, "cust-1", accepted.Customers[0].CustomerID)
	require.Len(t, issues, 1)
	assert.Equal(t, entities.IssueDuplicate, issues[0].Category)
	assert.Equal(t, "cust-2", issues[0].Key)
}

func TestValidateStoreDuplicate(t *testing.T) {
	store := &fakeStore{existing: map[string][]string{
		"customers/national_id": {"123456789012"},
	}}
	batch := entities.NewRecordBatch()
	batch.Append(entities.EntityCustomer, customerRow("cust-1", "123456789012", "alice"))

	accepted, issues, err := newService(store).Validate(context.Background(), batch, runTime)
	require.NoError(t, err)
	assert.Empty(t, accepted.Customers)
	require.Len(t, issues, 1)
	assert.Equal(t, entities.IssueDuplicate, issues[0].Category)
}

func TestValidateOrphanReference(t *testing.T) {
	batch := entities.NewRecordBatch()
	batch.Append(entities.EntityDevice, entities.Row{
		"DeviceID":   "dev-1",
		"CustomerID": "cust-missing",
	})

	accepted, issues, err := newService(&fakeStore{}).Validate(context.Background(), batch, runTime)
	require.NoError(t, err)
	assert.Empty(t, accepted.Devices)
	require.Len(t, issues, 1)
	assert.Equal(t, entities.IssueOrphanReference, issues[0].Category)
}

func TestValidateStoredParentResolvesReference(t *testing.T) {
	store := &fakeStore{existing: map[string][]string{
		"customers/customer_id": {"cust-stored"},
	}}
	batch := entities.NewRecordBatch()
	batch.Append(entities.EntityDevice, entities.Row{
		"DeviceID":   "dev-1",
		"CustomerID": "cust-stored",
	})

	accepted, issues, err := newService(store).Validate(context.Background(), batch, runTime)
	require.NoError(t, err)
	assert.Empty(t, issues)
	require.Len(t, accepted.Devices, 1)
}

func TestValidateRejectedParentExcludesChildren(t *testing.T) {
	batch := entities.NewRecordBatch()
	// Bad national ID rejects the customer, so the device reference dangles
	batch.Append(entities.EntityCustomer, customerRow("cust-1", "bad", "alice"))
	batch.Append(entities.EntityDevice, entities.Row{
		"DeviceID":   "dev-1",
		"CustomerID": "cust-1",
	})

	accepted, issues, err := newService(&fakeStore{}).Validate(context.Background(), batch, runTime)
	require.NoError(t, err)
	assert.Empty(t, accepted.Customers)
	assert.Empty(t, accepted.Devices)

	categories := make(map[entities.IssueCategory]int)
	for _, issue := range issues {
		categories[issue.Category]++
	}
	assert.Equal(t, 1, categories[entities.IssueBadFormat])
	assert.Equal(t, 1, categories[entities.IssueOrphanReference])
}

func TestValidateNonPositiveAmount(t *testing.T) {
	store := &fakeStore{existing: map[string][]string{
		"accounts/account_id": {"acct-1"},
	}}
	batch := entities.NewRecordBatch()
	batch.Append(entities.EntityTransaction, entities.Row{
		"TransactionID": "txn-1",
		"FromAccountID": "acct-1",
		"Amount":        "-5",
		"Timestamp":     "2026-03-01T10:00:00Z",
	})

	accepted, issues, err := newService(store).Validate(context.Background(), batch, runTime)
	require.NoError(t, err)
	assert.Empty(t, accepted.Transactions)
	require.Len(t, issues, 1)
	assert.Equal(t, entities.IssueBusinessRule, issues[0].Category)
}

func TestValidateFutureTimestamp(t *testing.T) {
	store := &fakeStore{existing: map[string][]string{
		"accounts/account_id": {"acct-1"},
	}}
	batch := entities.NewRecordBatch()
	batch.Append(entities.EntityTransaction, entities.Row{
		"TransactionID": "txn-1",
		"FromAccountID": "acct-1",
		"Amount":        "100",
		"Timestamp":     runTime.Add(time.Hour).Format(time.RFC3339),
	})

	accepted, issues, err := newService(store).Validate(context.Background(), batch, runTime)
	require.NoError(t, err)
	assert.Empty(t, accepted.Transactions)
	require.Len(t, issues, 1)
	assert.Equal(t, entities.IssueBusinessRule, issues[0].Category)
}

func TestValidateNegativeBalance(t *testing.T) {
	store := &fakeStore{existing: map[string][]string{
		"customers/customer_id": {"cust-1"},
	}}
	batch := entities.NewRecordBatch()
	batch.Append(entities.EntityAccount, entities.Row{
		"AccountID":  "acct-1",
		"CustomerID": "cust-1",
		"Balance":    "-0.01",
	})

	accepted, issues, err := newService(store).Validate(context.Background(), batch, runTime)
	require.NoError(t, err)
	assert.Empty(t, accepted.Accounts)
	require.Len(t, issues, 1)
	assert.Equal(t, entities.IssueBusinessRule, issues[0].Category)
}

func TestValidateOptionalTransactionReferences(t *testing.T) {
	store := &fakeStore{existing: map[string][]string{
		"accounts/account_id": {"acct-1"},
	}}
	batch := entities.NewRecordBatch()
	// No ToAccountID or DeviceID at all: fine
	batch.Append(entities.EntityTransaction, entities.Row{
		"TransactionID": "txn-1",
		"FromAccountID": "acct-1",
		"Amount":        "100",
		"Timestamp":     "2026-03-01T10:00:00Z",
	})
	// Present but unresolvable: rejected
	batch.Append(entities.EntityTransaction, entities.Row{
		"TransactionID": "txn-2",
		"FromAccountID": "acct-1",
		"ToAccountID":   "acct-missing",
		"Amount":        "100",
		"Timestamp":     "2026-03-01T10:00:00Z",
	})

	accepted, issues, err := newService(store).Validate(context.Background(), batch, runTime)
	require.NoError(t, err)
	require.Len(t, accepted.Transactions, 1)
	assert.Equal(t, "txn-1", accepted.Transactions[0].TransactionID)
	require.Len(t, issues, 1)
	assert.Equal(t, entities.IssueOrphanReference, issues[0].Category)
}

func TestValidateLookupFailureIsFatal(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}
	batch := entities.NewRecordBatch()
	batch.Append(entities.EntityCustomer, customerRow("cust-1", "123456789012", "alice"))

	_, _, err := newService(store).Validate(context.Background(), batch, runTime)
	require.Error(t, err)
	assert.True(t, perrors.IsDependencyFailure(err))
}
