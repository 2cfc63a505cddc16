/**
 * @description
 * This file defines the core domain models for the loan-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Using distinct types for API payloads and stored entities ensures clear
 *   separation of concerns and type safety.
 * - Monetary amounts are float64 doubles. The schedule generator folds the
 *   division residue into the final installment so that the capital portions
 *   of a plan sum exactly to the loan principal.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// InterestKind describes how a loan's interest value is interpreted.
type InterestKind string

const (
	// InterestPercentage charges interestValue percent of the outstanding capital per period.
	InterestPercentage InterestKind = "percentage"
	// InterestFixed charges a fixed total interest amount amortized evenly across installments.
	InterestFixed InterestKind = "fixed"
	// InterestNone marks an interest-free loan.
	InterestNone InterestKind = "none"
)

// Periodicity is the spacing between consecutive installments of a loan.
type Periodicity string

const (
	PeriodicityDaily    Periodicity = "daily"
	PeriodicityWeekly   Periodicity = "weekly"
	PeriodicityBiweekly Periodicity = "biweekly"
	PeriodicityMonthly  Periodicity = "monthly"
	// PeriodicityFreeForm marks loans repaid at the member's pace. When such a
	// loan still carries an installment count, due dates advance monthly.
	PeriodicityFreeForm Periodicity = "freeform"
)

// LoanStatus is the lifecycle state of a loan. The only transition is
// active -> paid, driven by the payment ledger; there is no reverse edge.
type LoanStatus string

const (
	LoanActive LoanStatus = "active"
	LoanPaid   LoanStatus = "paid"
)

// InstallmentStatus tracks whether a scheduled installment has been covered.
type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "pending"
	InstallmentPaid    InstallmentStatus = "paid"
)

// Member is a borrower. Members are created administratively and are
// read-only to the ledger engine; loans reference them by ID.
type Member struct {
	ID         uuid.UUID `json:"id"`
	FullName   string    `json:"full_name"`
	NationalID string    `json:"national_id"`
	Phone      string    `json:"phone,omitempty"`
	Address    string    `json:"address,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Loan is a credit extended to a member under fixed terms. After creation
// the engine only mutates Status and AccruedInterestBalance; renegotiation
// of principal or interest is not supported.
type Loan struct {
	ID                     uuid.UUID    `json:"id"`
	MemberID               uuid.UUID    `json:"member_id"`
	Principal              float64      `json:"principal"`
	InterestKind           InterestKind `json:"interest_kind"`
	InterestValue          float64      `json:"interest_value"`
	InstallmentCount       *int         `json:"installment_count,omitempty"`
	Periodicity            Periodicity  `json:"periodicity"`
	IsFreeForm             bool         `json:"is_free_form"`
	StartDate              time.Time    `json:"start_date"`
	Status                 LoanStatus   `json:"status"`
	AccruedInterestBalance float64      `json:"accrued_interest_balance"`
	CreatedAt              time.Time    `json:"created_at"`
	UpdatedAt              time.Time    `json:"updated_at"`
}

// Installment is one scheduled capital+interest obligation within a loan's
// amortization plan. Sequence numbers run 1..N and due dates strictly
// increase with the sequence.
type Installment struct {
	ID       uuid.UUID         `json:"id"`
	LoanID   uuid.UUID         `json:"loan_id"`
	Sequence int               `json:"sequence"`
	DueDate  time.Time         `json:"due_date"`
	Capital  float64           `json:"capital"`
	Interest float64           `json:"interest"`
	Amount   float64           `json:"amount"`
	Status   InstallmentStatus `json:"status"`
}

// Payment is a recorded transfer from a member against a loan, split into
// capital and interest portions. Payments are immutable once created; there
// are no edits or voids.
type Payment struct {
	ID            uuid.UUID  `json:"id"`
	LoanID        uuid.UUID  `json:"loan_id"`
	MemberID      uuid.UUID  `json:"member_id"`
	InstallmentID *uuid.UUID `json:"installment_id,omitempty"`
	Amount        float64    `json:"amount"`
	Capital       float64    `json:"capital"`
	Interest      float64    `json:"interest"`
	PaymentDate   time.Time  `json:"payment_date"`
	CreatedAt     time.Time  `json:"created_at"`
}

// CreateMemberPayload is the DTO for registering a new member.
type CreateMemberPayload struct {
	FullName   string `json:"full_name" validate:"required"`
	NationalID string `json:"national_id" validate:"required"`
	Phone      string `json:"phone,omitempty"`
	Address    string `json:"address,omitempty"`
}

// CreateLoanPayload is the DTO for originating a loan. InstallmentCount is
// required unless the loan is free-form; a positive InterestValue is
// required whenever InterestKind is not "none".
type CreateLoanPayload struct {
	MemberID         uuid.UUID    `json:"member_id" validate:"required"`
	Principal        float64      `json:"principal" validate:"required,gt=0"`
	InterestKind     InterestKind `json:"interest_kind" validate:"required,oneof=percentage fixed none"`
	InterestValue    float64      `json:"interest_value" validate:"gte=0"`
	InstallmentCount *int         `json:"installment_count,omitempty"`
	Periodicity      Periodicity  `json:"periodicity" validate:"required,oneof=daily weekly biweekly monthly freeform"`
	IsFreeForm       bool         `json:"is_free_form"`
	StartDate        time.Time    `json:"start_date" validate:"required"`
}

// RecordPaymentPayload is the DTO for applying a payment against a loan.
// Capital and Interest are optional hints; when at most one is present the
// ledger infers the missing portion from the amount. When both are present
// they must sum to the amount.
type RecordPaymentPayload struct {
	Amount        float64    `json:"amount" validate:"required,gt=0"`
	PaymentDate   time.Time  `json:"payment_date" validate:"required"`
	Capital       *float64   `json:"capital,omitempty"`
	Interest      *float64   `json:"interest,omitempty"`
	InstallmentID *uuid.UUID `json:"installment_id,omitempty"`
}

// PaymentResult is returned by the ledger after a payment has been applied.
type PaymentResult struct {
	Payment             *Payment `json:"payment"`
	OutstandingCapital  float64  `json:"outstanding_capital"`
	StatusChangedToPaid bool     `json:"status_changed_to_paid"`
}

// LoanWithSchedule bundles a loan with its amortization plan. The plan is
// empty for free-form loans and for loans whose terms suppress schedule
// generation.
type LoanWithSchedule struct {
	Loan         *Loan         `json:"loan"`
	Installments []Installment `json:"installments"`
}

// DueInstallment is a reporting row: a pending obligation joined with the
// member that owes it.
type DueInstallment struct {
	Installment
	MemberID       uuid.UUID `json:"member_id"`
	MemberFullName string    `json:"member_full_name"`
}

// DueInstallmentFilter controls the collectible-installments report.
type DueInstallmentFilter struct {
	LoanID                  *uuid.UUID
	Month                   int
	Year                    int
	ExcludeSettledLoans     bool
	ExcludePaidInstallments bool
}
