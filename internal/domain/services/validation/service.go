package validation

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/bankdata-service/bankdata_service/internal/domain/entities"
	perrors "github.com/bankdata-service/bankdata_service/pkg/errors"
	"github.com/bankdata-service/bankdata_service/pkg/logger"
	"github.com/bankdata-service/bankdata_service/pkg/metrics"
)

// StoreReader answers batched existence queries against persisted keys.
// The validator never writes; this is its only view of the store.
type StoreReader interface {
	ExistsMany(ctx context.Context, entity entities.EntityType, keyField string, values []string) (map[string]struct{}, error)
}

// Service applies structural and business-rule checks to a record batch
type Service struct {
	store  StoreReader
	logger *logger.Logger
}

// NewService creates a new validation service
func NewService(store StoreReader, logger *logger.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
	}
}

// Validate checks every candidate row of the batch in dependency order
// (customers, then devices/accounts, then transactions/auth logs) and returns
// the accepted subset plus one issue per failed check. Rows excluded by any
// check are invisible to downstream referential checks. Bad rows are data,
// not errors; the only error this returns is a dependency failure of the
// store lookups.
func (s *Service) Validate(ctx context.Context, batch *entities.RecordBatch, runTime time.Time) (*entities.AcceptedBatch, []entities.ValidationIssue, error) {
	accepted := &entities.AcceptedBatch{}
	var issues []entities.ValidationIssue

	acceptedCustomers := make(map[string]struct{})
	acceptedDevices := make(map[string]struct{})
	acceptedAccounts := make(map[string]struct{})

	record := func(entity entities.EntityType, key string, category entities.IssueCategory, detail string) entities.ValidationIssue {
		metrics.ValidationIssuesTotal.WithLabelValues(string(entity), string(category)).Inc()
		return entities.ValidationIssue{Entity: entity, Key: key, Category: category, Detail: detail}
	}

	if err := s.validateCustomers(ctx, batch.Rows[entities.EntityCustomer], record, accepted, acceptedCustomers, &issues); err != nil {
		return nil, issues, err
	}
	if err := s.validateDevices(ctx, batch.Rows[entities.EntityDevice], record, accepted, acceptedCustomers, acceptedDevices, &issues); err != nil {
		return nil, issues, err
	}
	if err := s.validateAccounts(ctx, batch.Rows[entities.EntityAccount], record, accepted, acceptedCustomers, acceptedAccounts, &issues); err != nil {
		return nil, issues, err
	}
	if err := s.validateTransactions(ctx, batch.Rows[entities.EntityTransaction], record, accepted, acceptedAccounts, acceptedDevices, runTime, &issues); err != nil {
		return nil, issues, err
	}
	if err := s.validateAuthLogs(ctx, batch.Rows[entities.EntityAuthLog], record, accepted, acceptedCustomers, acceptedDevices, &issues); err != nil {
		return nil, issues, err
	}

	s.logger.Infow("batch validated",
		"total", batch.Len(),
		"accepted", accepted.Len(),
		"issues", len(issues))

	return accepted, issues, nil
}

func (s *Service) validateCustomers(
	ctx context.Context,
	rows []entities.Row,
	record func(entities.EntityType, string, entities.IssueCategory, string) entities.ValidationIssue,
	accepted *entities.AcceptedBatch,
	acceptedCustomers map[string]struct{},
	issues *[]entities.ValidationIssue,
) error {
	// One set-membership query per unique field for the whole batch
	nationalIDs := make(map[string]struct{})
	usernames := make(map[string]struct{})
	for _, row := range rows {
		if v := stringField(row, "NationalID"); v != "" {
			nationalIDs[v] = struct{}{}
		}
		if v := stringField(row, "Username"); v != "" {
			usernames[v] = struct{}{}
		}
	}
	storedNationalIDs, err := s.lookupExisting(ctx, entities.EntityCustomer, "national_id", nationalIDs)
	if err != nil {
		return err
	}
	storedUsernames, err := s.lookupExisting(ctx, entities.EntityCustomer, "username", usernames)
	if err != nil {
		return err
	}

	seenNationalIDs := make(map[string]struct{})
	seenUsernames := make(map[string]struct{})

	for i, row := range rows {
		key := rowKey(row, "CustomerID", i)
		var rowIssues []entities.ValidationIssue

		customerID := stringField(row, "CustomerID")
		nationalID := stringField(row, "NationalID")
		name := stringField(row, "Name")
		username := stringField(row, "Username")

		for _, required := range []struct {
			field string
			value string
		}{
			{"CustomerID", customerID},
			{"NationalID", nationalID},
			{"Name", name},
			{"Username", username},
		} {
			if required.value == "" {
				rowIssues = append(rowIssues, record(entities.EntityCustomer, key,
					entities.IssueMissingField, fmt.Sprintf("missing value for %s", required.field)))
			}
		}

		if nationalID != "" && !validNationalID(nationalID) {
			rowIssues = append(rowIssues, record(entities.EntityCustomer, key,
				entities.IssueBadFormat, fmt.Sprintf("NationalID %q matches neither 12-digit nor passport format", nationalID)))
		}

		if nationalID != "" {
			if _, dup := seenNationalIDs[nationalID]; dup {
				rowIssues = append(rowIssues, record(entities.EntityCustomer, key,
					entities.IssueDuplicate, fmt.Sprintf("NationalID %q repeats within batch", nationalID)))
			} else if _, dup := storedNationalIDs[nationalID]; dup {
				rowIssues = append(rowIssues, record(entities.EntityCustomer, key,
					entities.IssueDuplicate, fmt.Sprintf("NationalID %q already persisted", nationalID)))
			}
			seenNationalIDs[nationalID] = struct{}{}
		}
		if username != "" {
			if _, dup := seenUsernames[username]; dup {
				rowIssues = append(rowIssues, record(entities.EntityCustomer, key,
					entities.IssueDuplicate, fmt.Sprintf("Username %q repeats within batch", username)))
			} else if _, dup := storedUsernames[username]; dup {
				rowIssues = append(rowIssues, record(entities.EntityCustomer, key,
					entities.IssueDuplicate, fmt.Sprintf("Username %q already persisted", username)))
			}
			seenUsernames[username] = struct{}{}
		}

		if len(rowIssues) > 0 {
			*issues = append(*issues, rowIssues...)
			metrics.RecordsValidatedTotal.WithLabelValues(string(entities.EntityCustomer), "rejected").Inc()
			continue
		}

		accepted.Customers = append(accepted.Customers, entities.Customer{
			CustomerID:   customerID,
			NationalID:   nationalID,
			Name:         name,
			Address:      stringField(row, "Address"),
			Contact:      stringField(row, "Contact"),
			Username:     username,
			PasswordHash: stringField(row, "PasswordHash"),
		})
		acceptedCustomers[customerID] = struct{}{}
		metrics.RecordsValidatedTotal.WithLabelValues(string(entities.EntityCustomer), "accepted").Inc()
	}
	return nil
}

func (s *Service) validateDevices(
	ctx context.Context,
	rows []entities.Row,
	record func(entities.EntityType, string, entities.IssueCategory, string) entities.ValidationIssue,
	accepted *entities.AcceptedBatch,
	acceptedCustomers, acceptedDevices map[string]struct{},
	issues *[]entities.ValidationIssue,
) error {
	storedCustomers, err := s.lookupUnresolved(ctx, rows, "CustomerID", entities.EntityCustomer, "customer_id", acceptedCustomers)
	if err != nil {
		return err
	}

	for i, row := range rows {
		key := rowKey(row, "DeviceID", i)
		var rowIssues []entities.ValidationIssue

		deviceID := stringField(row, "DeviceID")
		customerID := stringField(row, "CustomerID")

		if deviceID == "" {
			rowIssues = append(rowIssues, record(entities.EntityDevice, key,
				entities.IssueMissingField, "missing value for DeviceID"))
		}
		if customerID == "" {
			rowIssues = append(rowIssues, record(entities.EntityDevice, key,
				entities.IssueMissingField, "missing value for CustomerID"))
		} else if !resolved(customerID, acceptedCustomers, storedCustomers) {
			rowIssues = append(rowIssues, record(entities.EntityDevice, key,
				entities.IssueOrphanReference, fmt.Sprintf("CustomerID %q resolves to no accepted or stored customer", customerID)))
		}

		lastUsed, _, terr := timeField(row, "LastUsed")
		if terr != nil {
			rowIssues = append(rowIssues, record(entities.EntityDevice, key,
				entities.IssueBadFormat, fmt.Sprintf("LastUsed: %v", terr)))
		}

		if len(rowIssues) > 0 {
			*issues = append(*issues, rowIssues...)
			metrics.RecordsValidatedTotal.WithLabelValues(string(entities.EntityDevice), "rejected").Inc()
			continue
		}

		accepted.Devices = append(accepted.Devices, entities.Device{
			DeviceID:   deviceID,
			CustomerID: customerID,
			DeviceType: stringField(row, "DeviceType"),
			DeviceInfo: stringField(row, "DeviceInfo"),
			IsVerified: boolField(row, "IsVerified"),
			LastUsed:   lastUsed,
		})
		acceptedDevices[deviceID] = struct{}{}
		metrics.RecordsValidatedTotal.WithLabelValues(string(entities.EntityDevice), "accepted").Inc()
	}
	return nil
}

func (s *Service) validateAccounts(
	ctx context.Context,
	rows []entities.Row,
	record func(entities.EntityType, string, entities.IssueCategory, string) entities.ValidationIssue,
	accepted *entities.AcceptedBatch,
	acceptedCustomers, acceptedAccounts map[string]struct{},
	issues *[]entities.ValidationIssue,
) error {
	storedCustomers, err := s.lookupUnresolved(ctx, rows, "CustomerID", entities.EntityCustomer, "customer_id", acceptedCustomers)
	if err != nil {
		return err
	}

	for i, row := range rows {
		key := rowKey(row, "AccountID", i)
		var rowIssues []entities.ValidationIssue

		accountID := stringField(row, "AccountID")
		customerID := stringField(row, "CustomerID")

		if accountID == "" {
			rowIssues = append(rowIssues, record(entities.EntityAccount, key,
				entities.IssueMissingField, "missing value for AccountID"))
		}
		if customerID == "" {
			rowIssues = append(rowIssues, record(entities.EntityAccount, key,
				entities.IssueMissingField, "missing value for CustomerID"))
		} else if !resolved(customerID, acceptedCustomers, storedCustomers) {
			rowIssues = append(rowIssues, record(entities.EntityAccount, key,
				entities.IssueOrphanReference, fmt.Sprintf("CustomerID %q resolves to no accepted or stored customer", customerID)))
		}

		balance, present, derr := decimalField(row, "Balance")
		switch {
		case derr != nil:
			rowIssues = append(rowIssues, record(entities.EntityAccount, key,
				entities.IssueBadFormat, fmt.Sprintf("Balance: %v", derr)))
		case !present:
			rowIssues = append(rowIssues, record(entities.EntityAccount, key,
				entities.IssueMissingField, "missing value for Balance"))
		case balance.IsNegative():
			rowIssues = append(rowIssues, record(entities.EntityAccount, key,
				entities.IssueBusinessRule, fmt.Sprintf("negative balance %s", balance)))
		}

		if len(rowIssues) > 0 {
			*issues = append(*issues, rowIssues...)
			metrics.RecordsValidatedTotal.WithLabelValues(string(entities.EntityAccount), "rejected").Inc()
			continue
		}

		accepted.Accounts = append(accepted.Accounts, entities.Account{
			AccountID:   accountID,
			CustomerID:  customerID,
			AccountType: entities.AccountType(stringField(row, "AccountType")),
			Balance:     balance,
			Currency:    stringField(row, "Currency"),
			Status:      entities.AccountStatus(stringField(row, "Status")),
		})
		acceptedAccounts[accountID] = struct{}{}
		metrics.RecordsValidatedTotal.WithLabelValues(string(entities.EntityAccount), "accepted").Inc()
	}
	return nil
}

func (s *Service) validateTransactions(
	ctx context.Context,
	rows []entities.Row,
	record func(entities.EntityType, string, entities.IssueCategory, string) entities.ValidationIssue,
	accepted *entities.AcceptedBatch,
	acceptedAccounts, acceptedDevices map[string]struct{},
	runTime time.Time,
	issues *[]entities.ValidationIssue,
) error {
	// Both account references share one lookup set
	accountRefs := make(map[string]struct{})
	for _, row := range rows {
		for _, field := range []string{"FromAccountID", "ToAccountID"} {
			if v := stringField(row, field); v != "" {
				if _, ok := acceptedAccounts[v]; !ok {
					accountRefs[v] = struct{}{}
				}
			}
		}
	}
	storedAccounts, err := s.lookupExisting(ctx, entities.EntityAccount, "account_id", accountRefs)
	if err != nil {
		return err
	}
	storedDevices, err := s.lookupUnresolved(ctx, rows, "DeviceID", entities.EntityDevice, "device_id", acceptedDevices)
	if err != nil {
		return err
	}

	for i, row := range rows {
		key := rowKey(row, "TransactionID", i)
		var rowIssues []entities.ValidationIssue

		transactionID := stringField(row, "TransactionID")
		fromAccountID := stringField(row, "FromAccountID")
		toAccountID := stringField(row, "ToAccountID")
		deviceID := stringField(row, "DeviceID")

		if transactionID == "" {
			rowIssues = append(rowIssues, record(entities.EntityTransaction, key,
				entities.IssueMissingField, "missing value for TransactionID"))
		}
		if fromAccountID == "" {
			rowIssues = append(rowIssues, record(entities.EntityTransaction, key,
				entities.IssueMissingField, "missing value for FromAccountID"))
		} else if !resolved(fromAccountID, acceptedAccounts, storedAccounts) {
			rowIssues = append(rowIssues, record(entities.EntityTransaction, key,
				entities.IssueOrphanReference, fmt.Sprintf("FromAccountID %q resolves to no accepted or stored account", fromAccountID)))
		}
		// ToAccountID and DeviceID are optional but must resolve when present
		if toAccountID != "" && !resolved(toAccountID, acceptedAccounts, storedAccounts) {
			rowIssues = append(rowIssues, record(entities.EntityTransaction, key,
				entities.IssueOrphanReference, fmt.Sprintf("ToAccountID %q resolves to no accepted or stored account", toAccountID)))
		}
		if deviceID != "" && !resolved(deviceID, acceptedDevices, storedDevices) {
			rowIssues = append(rowIssues, record(entities.EntityTransaction, key,
				entities.IssueOrphanReference, fmt.Sprintf("DeviceID %q resolves to no accepted or stored device", deviceID)))
		}

		amount, present, derr := decimalField(row, "Amount")
		switch {
		case derr != nil:
			rowIssues = append(rowIssues, record(entities.EntityTransaction, key,
				entities.IssueBadFormat, fmt.Sprintf("Amount: %v", derr)))
		case !present:
			rowIssues = append(rowIssues, record(entities.EntityTransaction, key,
				entities.IssueMissingField, "missing value for Amount"))
		case !amount.IsPositive():
			rowIssues = append(rowIssues, record(entities.EntityTransaction, key,
				entities.IssueBusinessRule, fmt.Sprintf("non-positive amount %s", amount)))
		}

		ts, tsPresent, terr := timeField(row, "Timestamp")
		switch {
		case terr != nil:
			rowIssues = append(rowIssues, record(entities.EntityTransaction, key,
				entities.IssueBadFormat, fmt.Sprintf("Timestamp: %v", terr)))
		case !tsPresent:
			rowIssues = append(rowIssues, record(entities.EntityTransaction, key,
				entities.IssueMissingField, "missing value for Timestamp"))
		case ts.After(runTime):
			rowIssues = append(rowIssues, record(entities.EntityTransaction, key,
				entities.IssueBusinessRule, fmt.Sprintf("timestamp %s is after processing time %s", ts.Format(time.RFC3339), runTime.Format(time.RFC3339))))
		}

		if len(rowIssues) > 0 {
			*issues = append(*issues, rowIssues...)
			metrics.RecordsValidatedTotal.WithLabelValues(string(entities.EntityTransaction), "rejected").Inc()
			continue
		}

		accepted.Transactions = append(accepted.Transactions, entities.Transaction{
			TransactionID: transactionID,
			FromAccountID: fromAccountID,
			ToAccountID:   toAccountID,
			DeviceID:      deviceID,
			TxnType:       entities.TransactionType(stringField(row, "TxnType")),
			Amount:        amount,
			Timestamp:     ts,
		})
		metrics.RecordsValidatedTotal.WithLabelValues(string(entities.EntityTransaction), "accepted").Inc()
	}
	return nil
}

func (s *Service) validateAuthLogs(
	ctx context.Context,
	rows []entities.Row,
	record func(entities.EntityType, string, entities.IssueCategory, string) entities.ValidationIssue,
	accepted *entities.AcceptedBatch,
	acceptedCustomers, acceptedDevices map[string]struct{},
	issues *[]entities.ValidationIssue,
) error {
	storedCustomers, err := s.lookupUnresolved(ctx, rows, "CustomerID", entities.EntityCustomer, "customer_id", acceptedCustomers)
	if err != nil {
		return err
	}
	storedDevices, err := s.lookupUnresolved(ctx, rows, "DeviceID", entities.EntityDevice, "device_id", acceptedDevices)
	if err != nil {
		return err
	}

	for i, row := range rows {
		key := rowKey(row, "AuthLogID", i)
		var rowIssues []entities.ValidationIssue

		authLogID := stringField(row, "AuthLogID")
		customerID := stringField(row, "CustomerID")
		deviceID := stringField(row, "DeviceID")

		if authLogID == "" {
			rowIssues = append(rowIssues, record(entities.EntityAuthLog, key,
				entities.IssueMissingField, "missing value for AuthLogID"))
		}
		if customerID == "" {
			rowIssues = append(rowIssues, record(entities.EntityAuthLog, key,
				entities.IssueMissingField, "missing value for CustomerID"))
		} else if !resolved(customerID, acceptedCustomers, storedCustomers) {
			rowIssues = append(rowIssues, record(entities.EntityAuthLog, key,
				entities.IssueOrphanReference, fmt.Sprintf("CustomerID %q resolves to no accepted or stored customer", customerID)))
		}
		if deviceID == "" {
			rowIssues = append(rowIssues, record(entities.EntityAuthLog, key,
				entities.IssueMissingField, "missing value for DeviceID"))
		} else if !resolved(deviceID, acceptedDevices, storedDevices) {
			rowIssues = append(rowIssues, record(entities.EntityAuthLog, key,
				entities.IssueOrphanReference, fmt.Sprintf("DeviceID %q resolves to no accepted or stored device", deviceID)))
		}

		ts, tsPresent, terr := timeField(row, "Timestamp")
		switch {
		case terr != nil:
			rowIssues = append(rowIssues, record(entities.EntityAuthLog, key,
				entities.IssueBadFormat, fmt.Sprintf("Timestamp: %v", terr)))
		case !tsPresent:
			rowIssues = append(rowIssues, record(entities.EntityAuthLog, key,
				entities.IssueMissingField, "missing value for Timestamp"))
		}

		if len(rowIssues) > 0 {
			*issues = append(*issues, rowIssues...)
			metrics.RecordsValidatedTotal.WithLabelValues(string(entities.EntityAuthLog), "rejected").Inc()
			continue
		}

		accepted.AuthLogs = append(accepted.AuthLogs, entities.AuthenticationLog{
			AuthLogID:  authLogID,
			CustomerID: customerID,
			DeviceID:   deviceID,
			AuthMethod: entities.AuthMethod(normalizeEnum(stringField(row, "AuthMethod"))),
			AuthStatus: entities.AuthStatus(normalizeEnum(stringField(row, "AuthStatus"))),
			Timestamp:  ts,
		})
		metrics.RecordsValidatedTotal.WithLabelValues(string(entities.EntityAuthLog), "accepted").Inc()
	}
	return nil
}

// lookupUnresolved batches one existence query for the values of a reference
// field that are not already resolved within the batch.
func (s *Service) lookupUnresolved(
	ctx context.Context,
	rows []entities.Row,
	field string,
	parent entities.EntityType,
	keyField string,
	acceptedInBatch map[string]struct{},
) (map[string]struct{}, error) {
	refs := make(map[string]struct{})
	for _, row := range rows {
		if v := stringField(row, field); v != "" {
			if _, ok := acceptedInBatch[v]; !ok {
				refs[v] = struct{}{}
			}
		}
	}
	return s.lookupExisting(ctx, parent, keyField, refs)
}

func (s *Service) lookupExisting(ctx context.Context, entity entities.EntityType, keyField string, values map[string]struct{}) (map[string]struct{}, error) {
	if len(values) == 0 {
		return map[string]struct{}{}, nil
	}
	list := make([]string, 0, len(values))
	for v := range values {
		list = append(list, v)
	}
	sort.Strings(list)

	existing, err := s.store.ExistsMany(ctx, entity, keyField, list)
	if err != nil {
		s.logger.Errorw("store existence lookup failed",
			"entity", entity,
			"field", keyField,
			"keys", len(list),
			"error", err)
		return nil, perrors.DependencyUnavailable("persistence gateway", err)
	}
	return existing, nil
}

func resolved(key string, inBatch, inStore map[string]struct{}) bool {
	if _, ok := inBatch[key]; ok {
		return true
	}
	_, ok := inStore[key]
	return ok
}

func normalizeEnum(v string) string {
	b := make([]rune, 0, len(v))
	for _, r := range v {
		if r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		b = append(b, r)
	}
	return string(b)
}
