/**
 * @description
 * This file contains the core business logic for the loan-service. The
 * `Service` struct orchestrates loan origination, payment capture, interest
 * accrual and reporting, coordinating between the database repository and
 * the message broker.
 *
 * Key features:
 * - Validates input payloads at the boundary and enforces loan-term
 *   invariants that struct tags cannot express.
 * - Infers the capital/interest split of a payment from optional hints.
 * - Retries transient serialization conflicts a bounded number of times
 *   before surfacing them.
 * - Publishes ledger events to RabbitMQ after successful commits; event
 *   delivery is best-effort and never fails the operation.
 *
 * @dependencies
 * - context, errors, fmt, log, math, time: Standard Go libraries.
 * - github.com/go-playground/validator/v10: Payload validation.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/rabbitmq: For event publication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prestafondo/loan-service/internal/domain"
	"github.com/prestafondo/loan-service/internal/store"
	"github.com/prestafondo/loan-service/pkg/rabbitmq"
)

// ErrValidation marks rejected input. Handlers map it to 400.
var ErrValidation = errors.New("validation failed")

const (
	// conflictRetryAttempts bounds internal retries of ErrConflict.
	conflictRetryAttempts = 3
	conflictRetryBackoff  = 25 * time.Millisecond

	// splitTolerance absorbs float noise when both split hints are given.
	splitTolerance = 1e-9
)

// Service provides the core business logic for the loan ledger.
type Service struct {
	repo          store.Repository
	validate      *validator.Validate
	eventProducer rabbitmq.Publisher
}

// NewService creates a new loan service instance.
func NewService(repo store.Repository, producer rabbitmq.Publisher) *Service {
	return &Service{
		repo:          repo,
		validate:      validator.New(),
		eventProducer: producer,
	}
}

// CreateMember registers a new member.
func (s *Service) CreateMember(ctx context.Context, payload domain.CreateMemberPayload) (*domain.Member, error) {
	if err := s.validate.Struct(payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	member := &domain.Member{
		ID:         uuid.New(),
		FullName:   payload.FullName,
		NationalID: payload.NationalID,
		Phone:      payload.Phone,
		Address:    payload.Address,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.repo.CreateMember(ctx, member); err != nil {
		return nil, fmt.Errorf("failed to create member: %w", err)
	}
	return member, nil
}

// GetMember fetches a member by id.
func (s *Service) GetMember(ctx context.Context, id uuid.UUID) (*domain.Member, error) {
	return s.repo.FindMemberByID(ctx, id)
}

// CreateLoan validates the terms, generates the amortization plan and
// persists loan plus plan atomically.
func (s *Service) CreateLoan(ctx context.Context, payload domain.CreateLoanPayload) (*domain.LoanWithSchedule, error) {
	if err := s.validate.Struct(payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if !payload.IsFreeForm && (payload.InstallmentCount == nil || *payload.InstallmentCount <= 0) {
		return nil, fmt.Errorf("%w: installment_count must be positive unless the loan is free-form", ErrValidation)
	}
	if payload.InterestKind != domain.InterestNone && payload.InterestValue <= 0 {
		return nil, fmt.Errorf("%w: interest_value must be positive for interest kind %q", ErrValidation, payload.InterestKind)
	}

	if _, err := s.repo.FindMemberByID(ctx, payload.MemberID); err != nil {
		return nil, fmt.Errorf("failed to resolve member: %w", err)
	}

	now := time.Now().UTC()
	loan := &domain.Loan{
		ID:               uuid.New(),
		MemberID:         payload.MemberID,
		Principal:        payload.Principal,
		InterestKind:     payload.InterestKind,
		InterestValue:    payload.InterestValue,
		InstallmentCount: payload.InstallmentCount,
		Periodicity:      payload.Periodicity,
		IsFreeForm:       payload.IsFreeForm,
		StartDate:        payload.StartDate,
		Status:           domain.LoanActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	count := 0
	if payload.InstallmentCount != nil {
		count = *payload.InstallmentCount
	}
	plan := GenerateSchedule(ScheduleTerms{
		Principal:        payload.Principal,
		InterestKind:     payload.InterestKind,
		InterestValue:    payload.InterestValue,
		InstallmentCount: count,
		StartDate:        payload.StartDate,
		Periodicity:      payload.Periodicity,
	})
	for i := range plan {
		plan[i].ID = uuid.New()
		plan[i].LoanID = loan.ID
	}

	if err := s.repo.CreateLoanWithSchedule(ctx, loan, plan); err != nil {
		return nil, fmt.Errorf("failed to persist loan: %w", err)
	}

	log.Printf("CreateLoan: loan %s created for member %s (principal %.2f, %d installments)",
		loan.ID, loan.MemberID, loan.Principal, len(plan))
	return &domain.LoanWithSchedule{Loan: loan, Installments: plan}, nil
}

// GetLoan returns a loan together with its plan.
func (s *Service) GetLoan(ctx context.Context, loanID uuid.UUID) (*domain.LoanWithSchedule, error) {
	loan, err := s.repo.FindLoanByID(ctx, loanID)
	if err != nil {
		return nil, err
	}
	plan, err := s.repo.ListInstallmentsByLoanID(ctx, loanID)
	if err != nil {
		return nil, err
	}
	return &domain.LoanWithSchedule{Loan: loan, Installments: plan}, nil
}

// inferSplit resolves the capital/interest portions of a payment from the
// optional hints. With no hints the full amount recovers capital.
func inferSplit(payload domain.RecordPaymentPayload) (capital, interest float64, err error) {
	switch {
	case payload.Capital == nil && payload.Interest == nil:
		capital, interest = payload.Amount, 0
	case payload.Capital != nil && payload.Interest == nil:
		capital = *payload.Capital
		interest = payload.Amount - capital
	case payload.Capital == nil && payload.Interest != nil:
		interest = *payload.Interest
		capital = payload.Amount - interest
	default:
		capital, interest = *payload.Capital, *payload.Interest
		if math.Abs(capital+interest-payload.Amount) > splitTolerance {
			return 0, 0, fmt.Errorf("%w: capital (%.2f) plus interest (%.2f) must equal amount (%.2f)",
				ErrValidation, capital, interest, payload.Amount)
		}
	}
	if capital < 0 || interest < 0 {
		return 0, 0, fmt.Errorf("%w: capital and interest portions must not be negative", ErrValidation)
	}
	return capital, interest, nil
}

// RecordPayment applies a payment against a loan. The heavy lifting happens
// in one repository transaction; this layer owns split inference, conflict
// retries and event publication.
func (s *Service) RecordPayment(ctx context.Context, loanID uuid.UUID, payload domain.RecordPaymentPayload) (*domain.PaymentResult, error) {
	if err := s.validate.Struct(payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	capital, interest, err := inferSplit(payload)
	if err != nil {
		return nil, err
	}

	params := store.ApplyPaymentParams{
		PaymentID:     uuid.New(),
		LoanID:        loanID,
		InstallmentID: payload.InstallmentID,
		Amount:        payload.Amount,
		Capital:       capital,
		Interest:      interest,
		PaymentDate:   payload.PaymentDate,
	}

	var result *domain.PaymentResult
	for attempt := 1; ; attempt++ {
		result, err = s.repo.ApplyPayment(ctx, params)
		if err == nil {
			break
		}
		if !errors.Is(err, store.ErrConflict) || attempt >= conflictRetryAttempts {
			return nil, fmt.Errorf("failed to apply payment: %w", err)
		}
		log.Printf("RecordPayment: conflict on loan %s, retrying (attempt %d)", loanID, attempt)
		time.Sleep(conflictRetryBackoff)
	}

	if s.eventProducer != nil {
		now := time.Now().UTC()
		if pubErr := s.eventProducer.PublishPaymentRecorded(ctx, rabbitmq.PaymentRecordedEvent{
			PaymentID:          result.Payment.ID,
			LoanID:             result.Payment.LoanID,
			MemberID:           result.Payment.MemberID,
			Amount:             result.Payment.Amount,
			Capital:            result.Payment.Capital,
			Interest:           result.Payment.Interest,
			OutstandingCapital: result.OutstandingCapital,
			Timestamp:          now,
		}); pubErr != nil {
			log.Printf("RecordPayment: payment event publish failed for loan %s: %v", loanID, pubErr)
		}
		if result.StatusChangedToPaid {
			if pubErr := s.eventProducer.PublishLoanSettled(ctx, rabbitmq.LoanSettledEvent{
				LoanID:    result.Payment.LoanID,
				MemberID:  result.Payment.MemberID,
				Timestamp: now,
			}); pubErr != nil {
				log.Printf("RecordPayment: settlement event publish failed for loan %s: %v", loanID, pubErr)
			}
		}
	}

	return result, nil
}

// Accrue runs one interest accrual pass over all active percentage-interest
// loans and returns the number of loans updated.
func (s *Service) Accrue(ctx context.Context) (int, error) {
	ids, err := s.repo.ListAccrualCandidateIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list accrual candidates: %w", err)
	}

	updated := 0
	for _, id := range ids {
		var applied bool
		for attempt := 1; ; attempt++ {
			_, applied, err = s.repo.AccrueLoanInterest(ctx, id)
			if err == nil {
				break
			}
			if !errors.Is(err, store.ErrConflict) || attempt >= conflictRetryAttempts {
				return updated, fmt.Errorf("failed to accrue interest on loan %s: %w", id, err)
			}
			time.Sleep(conflictRetryBackoff)
		}
		if applied {
			updated++
		}
	}

	log.Printf("Accrue: pass complete, %d of %d candidate loans updated", updated, len(ids))
	if s.eventProducer != nil {
		if pubErr := s.eventProducer.PublishInterestAccrued(ctx, rabbitmq.InterestAccruedEvent{
			LoansUpdated: updated,
			Timestamp:    time.Now().UTC(),
		}); pubErr != nil {
			log.Printf("Accrue: accrual event publish failed: %v", pubErr)
		}
	}
	return updated, nil
}

// GetOutstandingCapital returns the loan's principal minus recovered capital.
func (s *Service) GetOutstandingCapital(ctx context.Context, loanID uuid.UUID) (float64, error) {
	return s.repo.GetOutstandingCapital(ctx, loanID)
}

// ListDueInstallments returns the collectible installments of a month.
func (s *Service) ListDueInstallments(ctx context.Context, filter domain.DueInstallmentFilter) ([]domain.DueInstallment, error) {
	if filter.Month < 1 || filter.Month > 12 {
		return nil, fmt.Errorf("%w: month must be between 1 and 12", ErrValidation)
	}
	if filter.Year <= 0 {
		return nil, fmt.Errorf("%w: year must be positive", ErrValidation)
	}
	return s.repo.ListDueInstallments(ctx, filter)
}

// DeleteLoan removes a loan that has no recorded payments.
func (s *Service) DeleteLoan(ctx context.Context, loanID uuid.UUID) error {
	if err := s.repo.DeleteLoan(ctx, loanID); err != nil {
		return err
	}
	log.Printf("DeleteLoan: loan %s deleted", loanID)
	return nil
}

// ListPayments returns the loan's payment history, newest first.
func (s *Service) ListPayments(ctx context.Context, loanID uuid.UUID) ([]domain.Payment, error) {
	// Resolve the loan first so unknown ids surface as not-found rather
	// than an empty history.
	if _, err := s.repo.FindLoanByID(ctx, loanID); err != nil {
		return nil, err
	}
	return s.repo.ListPaymentsByLoanID(ctx, loanID)
}
