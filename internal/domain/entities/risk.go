package entities

import (
	"time"

	"github.com/google/uuid"
)

// AlertType enumerates the deterministic risk rules, in evaluation order
type AlertType string

const (
	AlertHighValueNoStrongAuth AlertType = "HIGH_VALUE_NO_STRONG_AUTH"
	AlertUnverifiedDevice      AlertType = "UNVERIFIED_DEVICE"
	AlertDailyLimitExceeded    AlertType = "DAILY_LIMIT_EXCEEDED"
)

type AlertSeverity string

const (
	AlertSeverityMedium AlertSeverity = "MEDIUM"
	AlertSeverityHigh   AlertSeverity = "HIGH"
)

// AlertStatus transitions are driven by operator action, not by this core
type AlertStatus string

const (
	AlertStatusOpen          AlertStatus = "OPEN"
	AlertStatusInvestigating AlertStatus = "INVESTIGATING"
	AlertStatusResolved      AlertStatus = "RESOLVED"
	AlertStatusFalsePositive AlertStatus = "FALSE_POSITIVE"
)

// RiskAlert always references the triggering transaction
type RiskAlert struct {
	ID            uuid.UUID     `json:"id" db:"id"`
	CustomerID    string        `json:"customer_id" db:"customer_id"`
	TransactionID string        `json:"transaction_id" db:"transaction_id"`
	AlertType     AlertType     `json:"alert_type" db:"alert_type"`
	Severity      AlertSeverity `json:"severity" db:"severity"`
	Description   string        `json:"description" db:"description"`
	Status        AlertStatus   `json:"status" db:"status"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
}
