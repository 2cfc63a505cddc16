/**
 * @description
 * This file defines the data store interface (Repository) for the
 * loan-service. It abstracts the database operations, allowing the
 * application logic to be decoupled from the specific database
 * implementation (PostgreSQL in production, in-memory in tests).
 *
 * @dependencies
 * - context: For passing request-scoped deadlines and cancellation signals.
 * - internal/domain: For the loan domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/prestafondo/loan-service/internal/domain"
)

// Sentinel errors returned by Repository implementations. The service and
// API layers dispatch on these with errors.Is.
var (
	ErrMemberNotFound      = errors.New("member not found")
	ErrLoanNotFound        = errors.New("loan not found")
	ErrInstallmentNotFound = errors.New("installment not found")
	ErrLoanSettled         = errors.New("loan is already settled")
	ErrLoanHasPayments     = errors.New("loan has recorded payments")
	ErrDuplicateNationalID = errors.New("national id already registered")
	// ErrConflict marks a transient serialization failure. Callers may
	// retry the whole operation.
	ErrConflict = errors.New("concurrent update conflict")
)

// ApplyPaymentParams carries one fully-resolved payment into the store. The
// capital/interest split has already been inferred and validated by the
// service layer.
type ApplyPaymentParams struct {
	PaymentID     uuid.UUID
	LoanID        uuid.UUID
	InstallmentID *uuid.UUID
	Amount        float64
	Capital       float64
	Interest      float64
	PaymentDate   time.Time
}

// Repository defines the persistence surface of the loan ledger.
//
// ApplyPayment, AccrueLoanInterest and DeleteLoan are compound operations:
// implementations must execute each as a single atomic unit serialized
// per loan, so that concurrent payments against the same loan cannot both
// observe the pre-settlement state.
type Repository interface {
	// CreateMember inserts a new member. Returns ErrDuplicateNationalID
	// when the national id is already registered.
	CreateMember(ctx context.Context, member *domain.Member) error

	// FindMemberByID returns ErrMemberNotFound when no row matches.
	FindMemberByID(ctx context.Context, id uuid.UUID) (*domain.Member, error)

	// CreateLoanWithSchedule persists a loan and its amortization plan in
	// one transaction. The plan may be empty.
	CreateLoanWithSchedule(ctx context.Context, loan *domain.Loan, plan []domain.Installment) error

	// FindLoanByID returns ErrLoanNotFound when no row matches.
	FindLoanByID(ctx context.Context, id uuid.UUID) (*domain.Loan, error)

	// GetOutstandingCapital returns principal minus the sum of recorded
	// capital portions. Returns ErrLoanNotFound for unknown loans.
	GetOutstandingCapital(ctx context.Context, loanID uuid.UUID) (float64, error)

	// DeleteLoan removes a loan and its installments. Returns
	// ErrLoanHasPayments when any payment references the loan.
	DeleteLoan(ctx context.Context, loanID uuid.UUID) error

	// ApplyPayment records a payment atomically: it locks the loan row,
	// rejects settled loans with ErrLoanSettled, inserts the payment,
	// marks a referenced installment paid once covered, re-aggregates the
	// recovered capital and flips the loan to paid when the principal is
	// fully recovered.
	ApplyPayment(ctx context.Context, params ApplyPaymentParams) (*domain.PaymentResult, error)

	// ListPaymentsByLoanID returns the loan's payments, newest first.
	ListPaymentsByLoanID(ctx context.Context, loanID uuid.UUID) ([]domain.Payment, error)

	// ListInstallmentsByLoanID returns the loan's plan ordered by sequence.
	ListInstallmentsByLoanID(ctx context.Context, loanID uuid.UUID) ([]domain.Installment, error)

	// ListDueInstallments returns pending obligations matching the filter,
	// joined with member identity for collection reporting.
	ListDueInstallments(ctx context.Context, filter domain.DueInstallmentFilter) ([]domain.DueInstallment, error)

	// ListAccrualCandidateIDs returns ids of active percentage-interest
	// loans with a positive rate.
	ListAccrualCandidateIDs(ctx context.Context) ([]uuid.UUID, error)

	// AccrueLoanInterest locks the loan row and, when the loan is still an
	// accrual candidate with outstanding capital, increments its accrued
	// interest balance by outstanding * rate / 100. It reports the amount
	// added and whether anything was applied.
	AccrueLoanInterest(ctx context.Context, loanID uuid.UUID) (float64, bool, error)
}
