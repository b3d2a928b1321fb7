package entities

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntityType identifies one of the generated record kinds
type EntityType string

const (
	EntityCustomer    EntityType = "customers"
	EntityDevice      EntityType = "devices"
	EntityAccount     EntityType = "accounts"
	EntityTransaction EntityType = "transactions"
	EntityAuthLog     EntityType = "auth_logs"
)

// EntityTypesInDependencyOrder lists entity types parents-first. Children may
// reference rows accepted earlier in the same batch, so validation must walk
// the tiers in this order.
var EntityTypesInDependencyOrder = []EntityType{
	EntityCustomer,
	EntityDevice,
	EntityAccount,
	EntityTransaction,
	EntityAuthLog,
}

type AccountType string

const (
	AccountTypeChecking AccountType = "CHECKING"
	AccountTypeSavings  AccountType = "SAVINGS"
	AccountTypeBusiness AccountType = "BUSINESS"
)

type AccountStatus string

const (
	AccountStatusActive AccountStatus = "ACTIVE"
	AccountStatusFrozen AccountStatus = "FROZEN"
	AccountStatusClosed AccountStatus = "CLOSED"
)

type TransactionType string

const (
	TransactionTypeTransfer TransactionType = "TRANSFER"
	TransactionTypePayment  TransactionType = "PAYMENT"
)

type AuthMethod string

const (
	AuthMethodPassword  AuthMethod = "PASSWORD"
	AuthMethodOTP       AuthMethod = "OTP"
	AuthMethodBiometric AuthMethod = "BIOMETRIC"
)

type AuthStatus string

const (
	AuthStatusSuccess AuthStatus = "SUCCESS"
	AuthStatusFail    AuthStatus = "FAIL"
)

// Customer is an account holder. NationalID and Username are unique across
// the store; NationalID is either 12 digits or one letter followed by 8 digits.
type Customer struct {
	CustomerID   string    `json:"customer_id" db:"customer_id"`
	NationalID   string    `json:"national_id" db:"national_id"`
	Name         string    `json:"name" db:"name"`
	Address      string    `json:"address" db:"address"`
	Contact      string    `json:"contact" db:"contact"`
	Username     string    `json:"username" db:"username"`
	PasswordHash string    `json:"password_hash" db:"password_hash"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Device belongs to exactly one customer
type Device struct {
	DeviceID   string    `json:"device_id" db:"device_id"`
	CustomerID string    `json:"customer_id" db:"customer_id"`
	DeviceType string    `json:"device_type" db:"device_type"`
	DeviceInfo string    `json:"device_info" db:"device_info"`
	IsVerified bool      `json:"is_verified" db:"is_verified"`
	LastUsed   time.Time `json:"last_used" db:"last_used"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Account belongs to exactly one customer; balance must not go negative
type Account struct {
	AccountID   string          `json:"account_id" db:"account_id"`
	CustomerID  string          `json:"customer_id" db:"customer_id"`
	AccountType AccountType     `json:"account_type" db:"account_type"`
	Balance     decimal.Decimal `json:"balance" db:"balance"`
	Currency    string          `json:"currency" db:"currency"`
	Status      AccountStatus   `json:"status" db:"status"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// Transaction moves an amount out of FromAccountID. ToAccountID and DeviceID
// are optional; when set they must resolve.
type Transaction struct {
	TransactionID string          `json:"transaction_id" db:"transaction_id"`
	FromAccountID string          `json:"from_account_id" db:"from_account_id"`
	ToAccountID   string          `json:"to_account_id,omitempty" db:"to_account_id"`
	DeviceID      string          `json:"device_id,omitempty" db:"device_id"`
	TxnType       TransactionType `json:"txn_type" db:"txn_type"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	Timestamp     time.Time       `json:"timestamp" db:"timestamp"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// AuthenticationLog records one authentication attempt
type AuthenticationLog struct {
	AuthLogID  string     `json:"auth_log_id" db:"auth_log_id"`
	CustomerID string     `json:"customer_id" db:"customer_id"`
	DeviceID   string     `json:"device_id" db:"device_id"`
	AuthMethod AuthMethod `json:"auth_method" db:"auth_method"`
	AuthStatus AuthStatus `json:"auth_status" db:"auth_status"`
	Timestamp  time.Time  `json:"timestamp" db:"timestamp"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// IsStrongAuth reports whether the entry satisfies the strong-auth condition
// used by the risk rules: a successful biometric authentication.
func (a AuthenticationLog) IsStrongAuth() bool {
	return a.AuthMethod == AuthMethodBiometric && a.AuthStatus == AuthStatusSuccess
}
