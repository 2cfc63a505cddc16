/**
 * @description
 * This file provides an in-memory implementation of the `Repository`
 * interface. It backs the test suite and local development without a
 * PostgreSQL instance.
 *
 * A single mutex guards all state, which makes every compound operation
 * atomic and serialized per process. That reproduces the per-loan
 * serialization the PostgreSQL implementation gets from its row locks, so
 * the exactly-one-settlement property holds here too.
 */

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prestafondo/loan-service/internal/domain"
)

// MemoryRepository is an in-memory Repository for tests and local runs.
type MemoryRepository struct {
	mu                  sync.Mutex
	members             map[uuid.UUID]domain.Member
	membersByNationalID map[string]uuid.UUID
	loans               map[uuid.UUID]domain.Loan
	installments        map[uuid.UUID][]domain.Installment
	payments            map[uuid.UUID][]domain.Payment
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		members:             make(map[uuid.UUID]domain.Member),
		membersByNationalID: make(map[string]uuid.UUID),
		loans:               make(map[uuid.UUID]domain.Loan),
		installments:        make(map[uuid.UUID][]domain.Installment),
		payments:            make(map[uuid.UUID][]domain.Payment),
	}
}

func (r *MemoryRepository) CreateMember(ctx context.Context, member *domain.Member) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.membersByNationalID[member.NationalID]; exists {
		return ErrDuplicateNationalID
	}
	r.members[member.ID] = *member
	r.membersByNationalID[member.NationalID] = member.ID
	return nil
}

func (r *MemoryRepository) FindMemberByID(ctx context.Context, id uuid.UUID) (*domain.Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	member, ok := r.members[id]
	if !ok {
		return nil, ErrMemberNotFound
	}
	out := member
	return &out, nil
}

func (r *MemoryRepository) CreateLoanWithSchedule(ctx context.Context, loan *domain.Loan, plan []domain.Installment) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.loans[loan.ID] = *loan
	r.installments[loan.ID] = append([]domain.Installment(nil), plan...)
	r.payments[loan.ID] = []domain.Payment{}
	return nil
}

func (r *MemoryRepository) FindLoanByID(ctx context.Context, id uuid.UUID) (*domain.Loan, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	loan, ok := r.loans[id]
	if !ok {
		return nil, ErrLoanNotFound
	}
	out := loan
	return &out, nil
}

func (r *MemoryRepository) GetOutstandingCapital(ctx context.Context, loanID uuid.UUID) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	loan, ok := r.loans[loanID]
	if !ok {
		return 0, ErrLoanNotFound
	}
	return loan.Principal - r.recoveredCapitalLocked(loanID), nil
}

// recoveredCapitalLocked sums recorded capital. Callers must hold r.mu.
func (r *MemoryRepository) recoveredCapitalLocked(loanID uuid.UUID) float64 {
	var recovered float64
	for _, p := range r.payments[loanID] {
		recovered += p.Capital
	}
	return recovered
}

func (r *MemoryRepository) DeleteLoan(ctx context.Context, loanID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.loans[loanID]; !ok {
		return ErrLoanNotFound
	}
	if len(r.payments[loanID]) > 0 {
		return ErrLoanHasPayments
	}
	delete(r.loans, loanID)
	delete(r.installments, loanID)
	delete(r.payments, loanID)
	return nil
}

func (r *MemoryRepository) ApplyPayment(ctx context.Context, params ApplyPaymentParams) (*domain.PaymentResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	loan, ok := r.loans[params.LoanID]
	if !ok {
		return nil, ErrLoanNotFound
	}
	if loan.Status == domain.LoanPaid {
		return nil, ErrLoanSettled
	}

	installmentIdx := -1
	if params.InstallmentID != nil {
		for i, inst := range r.installments[params.LoanID] {
			if inst.ID == *params.InstallmentID {
				installmentIdx = i
				break
			}
		}
		if installmentIdx < 0 {
			return nil, ErrInstallmentNotFound
		}
	}

	now := time.Now().UTC()
	payment := domain.Payment{
		ID:            params.PaymentID,
		LoanID:        params.LoanID,
		MemberID:      loan.MemberID,
		InstallmentID: params.InstallmentID,
		Amount:        params.Amount,
		Capital:       params.Capital,
		Interest:      params.Interest,
		PaymentDate:   params.PaymentDate,
		CreatedAt:     now,
	}
	r.payments[params.LoanID] = append(r.payments[params.LoanID], payment)

	if installmentIdx >= 0 {
		var paidTowards float64
		for _, p := range r.payments[params.LoanID] {
			if p.InstallmentID != nil && *p.InstallmentID == *params.InstallmentID {
				paidTowards += p.Amount
			}
		}
		if paidTowards >= r.installments[params.LoanID][installmentIdx].Amount {
			r.installments[params.LoanID][installmentIdx].Status = domain.InstallmentPaid
		}
	}

	recovered := r.recoveredCapitalLocked(params.LoanID)

	statusChanged := false
	if recovered >= loan.Principal {
		loan.Status = domain.LoanPaid
		loan.UpdatedAt = now
		r.loans[params.LoanID] = loan
		statusChanged = true
	}

	out := payment
	return &domain.PaymentResult{
		Payment:             &out,
		OutstandingCapital:  loan.Principal - recovered,
		StatusChangedToPaid: statusChanged,
	}, nil
}

func (r *MemoryRepository) ListPaymentsByLoanID(ctx context.Context, loanID uuid.UUID) ([]domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.loans[loanID]; !ok {
		return nil, ErrLoanNotFound
	}
	out := append([]domain.Payment(nil), r.payments[loanID]...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].PaymentDate.Equal(out[j].PaymentDate) {
			return out[i].PaymentDate.After(out[j].PaymentDate)
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepository) ListInstallmentsByLoanID(ctx context.Context, loanID uuid.UUID) ([]domain.Installment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.loans[loanID]; !ok {
		return nil, ErrLoanNotFound
	}
	out := append([]domain.Installment(nil), r.installments[loanID]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (r *MemoryRepository) ListDueInstallments(ctx context.Context, filter domain.DueInstallmentFilter) ([]domain.DueInstallment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	monthStart := time.Date(filter.Year, time.Month(filter.Month), 1, 0, 0, 0, 0, time.UTC)
	monthEnd := monthStart.AddDate(0, 1, 0)

	due := []domain.DueInstallment{}
	for loanID, plan := range r.installments {
		loan := r.loans[loanID]
		if filter.LoanID != nil && loanID != *filter.LoanID {
			continue
		}
		if filter.ExcludeSettledLoans && loan.Status != domain.LoanActive {
			continue
		}
		member := r.members[loan.MemberID]
		for _, inst := range plan {
			if inst.DueDate.Before(monthStart) || !inst.DueDate.Before(monthEnd) {
				continue
			}
			if filter.ExcludePaidInstallments && inst.Status != domain.InstallmentPending {
				continue
			}
			due = append(due, domain.DueInstallment{
				Installment:    inst,
				MemberID:       member.ID,
				MemberFullName: member.FullName,
			})
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		if !due[i].DueDate.Equal(due[j].DueDate) {
			return due[i].DueDate.Before(due[j].DueDate)
		}
		return due[i].Sequence < due[j].Sequence
	})
	return due, nil
}

func (r *MemoryRepository) ListAccrualCandidateIDs(ctx context.Context) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	candidates := []domain.Loan{}
	for _, loan := range r.loans {
		if loan.Status == domain.LoanActive && loan.InterestKind == domain.InterestPercentage && loan.InterestValue > 0 {
			candidates = append(candidates, loan)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})
	ids := make([]uuid.UUID, 0, len(candidates))
	for _, loan := range candidates {
		ids = append(ids, loan.ID)
	}
	return ids, nil
}

func (r *MemoryRepository) AccrueLoanInterest(ctx context.Context, loanID uuid.UUID) (float64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	loan, ok := r.loans[loanID]
	if !ok {
		return 0, false, ErrLoanNotFound
	}
	if loan.Status != domain.LoanActive || loan.InterestKind != domain.InterestPercentage || loan.InterestValue <= 0 {
		return 0, false, nil
	}

	outstanding := loan.Principal - r.recoveredCapitalLocked(loanID)
	if outstanding <= 0 {
		return 0, false, nil
	}

	accrued := outstanding * (loan.InterestValue / 100)
	loan.AccruedInterestBalance += accrued
	loan.UpdatedAt = time.Now().UTC()
	r.loans[loanID] = loan
	return accrued, true, nil
}
