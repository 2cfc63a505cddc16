/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all the SQL needed for members, loans,
 * installments and payments, including the atomic compound operations of
 * the payment ledger.
 *
 * Key features:
 * - Every loan-level read-modify-write (ApplyPayment, AccrueLoanInterest,
 *   DeleteLoan) runs in one transaction holding `SELECT ... FOR UPDATE`
 *   on the loan row, serializing writers per loan.
 * - Recovered capital is always re-aggregated with SUM(capital) inside
 *   the transaction, never read from a cached column.
 * - Serialization failures (SQLSTATE 40001/40P01) are mapped to
 *   ErrConflict so the service layer can retry.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prestafondo/loan-service/internal/domain"
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// mapTxError converts driver-level failures into the store's sentinel
// errors. Serialization and deadlock SQLSTATEs become ErrConflict.
func mapTxError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.Code)
		}
	}
	return err
}

// CreateMember inserts a new member row.
func (r *PostgresRepository) CreateMember(ctx context.Context, member *domain.Member) error {
	query := `
		INSERT INTO members (id, full_name, national_id, phone, address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.Exec(ctx, query,
		member.ID,
		member.FullName,
		member.NationalID,
		member.Phone,
		member.Address,
		member.CreatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateNationalID
		}
		return err
	}
	return nil
}

// FindMemberByID retrieves a member by primary key.
func (r *PostgresRepository) FindMemberByID(ctx context.Context, id uuid.UUID) (*domain.Member, error) {
	var member domain.Member
	query := `SELECT id, full_name, national_id, phone, address, created_at FROM members WHERE id = $1`
	err := r.db.QueryRow(ctx, query, id).Scan(
		&member.ID,
		&member.FullName,
		&member.NationalID,
		&member.Phone,
		&member.Address,
		&member.CreatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrMemberNotFound
		}
		return nil, err
	}
	return &member, nil
}

// CreateLoanWithSchedule persists the loan and its plan in one transaction.
func (r *PostgresRepository) CreateLoanWithSchedule(ctx context.Context, loan *domain.Loan, plan []domain.Installment) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	loanQuery := `
		INSERT INTO loans (
			id, member_id, principal, interest_kind, interest_value,
			installment_count, periodicity, is_free_form, start_date,
			status, accrued_interest_balance, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = tx.Exec(ctx, loanQuery,
		loan.ID,
		loan.MemberID,
		loan.Principal,
		loan.InterestKind,
		loan.InterestValue,
		loan.InstallmentCount,
		loan.Periodicity,
		loan.IsFreeForm,
		loan.StartDate,
		loan.Status,
		loan.AccruedInterestBalance,
		loan.CreatedAt,
		loan.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert loan: %w", err)
	}

	installmentQuery := `
		INSERT INTO installments (id, loan_id, sequence, due_date, capital, interest, amount, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for _, inst := range plan {
		_, err = tx.Exec(ctx, installmentQuery,
			inst.ID,
			inst.LoanID,
			inst.Sequence,
			inst.DueDate,
			inst.Capital,
			inst.Interest,
			inst.Amount,
			inst.Status,
		)
		if err != nil {
			return fmt.Errorf("failed to insert installment %d: %w", inst.Sequence, err)
		}
	}

	return tx.Commit(ctx)
}

// FindLoanByID retrieves a loan by primary key.
func (r *PostgresRepository) FindLoanByID(ctx context.Context, id uuid.UUID) (*domain.Loan, error) {
	var loan domain.Loan
	query := `
		SELECT id, member_id, principal, interest_kind, interest_value,
		       installment_count, periodicity, is_free_form, start_date,
		       status, accrued_interest_balance, created_at, updated_at
		FROM loans
		WHERE id = $1
	`
	err := r.db.QueryRow(ctx, query, id).Scan(
		&loan.ID,
		&loan.MemberID,
		&loan.Principal,
		&loan.InterestKind,
		&loan.InterestValue,
		&loan.InstallmentCount,
		&loan.Periodicity,
		&loan.IsFreeForm,
		&loan.StartDate,
		&loan.Status,
		&loan.AccruedInterestBalance,
		&loan.CreatedAt,
		&loan.UpdatedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrLoanNotFound
		}
		return nil, err
	}
	return &loan, nil
}

// GetOutstandingCapital computes principal minus recovered capital. The sum
// is computed on demand from the payments table.
func (r *PostgresRepository) GetOutstandingCapital(ctx context.Context, loanID uuid.UUID) (float64, error) {
	var outstanding float64
	query := `
		SELECT l.principal - COALESCE(SUM(p.capital), 0)
		FROM loans l
		LEFT JOIN payments p ON p.loan_id = l.id
		WHERE l.id = $1
		GROUP BY l.principal
	`
	err := r.db.QueryRow(ctx, query, loanID).Scan(&outstanding)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, ErrLoanNotFound
		}
		return 0, err
	}
	return outstanding, nil
}

// DeleteLoan removes a loan and its plan. The loan row is locked first so
// a payment cannot slip in between the emptiness check and the delete.
func (r *PostgresRepository) DeleteLoan(ctx context.Context, loanID uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var id uuid.UUID
	err = tx.QueryRow(ctx, "SELECT id FROM loans WHERE id = $1 FOR UPDATE", loanID).Scan(&id)
	if err != nil {
		if err == pgx.ErrNoRows {
			return ErrLoanNotFound
		}
		return mapTxError(err)
	}

	var paymentCount int
	err = tx.QueryRow(ctx, "SELECT COUNT(*) FROM payments WHERE loan_id = $1", loanID).Scan(&paymentCount)
	if err != nil {
		return mapTxError(err)
	}
	if paymentCount > 0 {
		return ErrLoanHasPayments
	}

	if _, err = tx.Exec(ctx, "DELETE FROM installments WHERE loan_id = $1", loanID); err != nil {
		return mapTxError(err)
	}
	if _, err = tx.Exec(ctx, "DELETE FROM loans WHERE id = $1", loanID); err != nil {
		return mapTxError(err)
	}

	if err = tx.Commit(ctx); err != nil {
		return mapTxError(err)
	}
	return nil
}

// ApplyPayment records a payment atomically against a loan.
//
// The loan row lock is the serialization point: two concurrent payments
// against the same loan queue here, and the second one re-reads the status
// written by the first, so the active -> paid flip happens exactly once.
func (r *PostgresRepository) ApplyPayment(ctx context.Context, params ApplyPaymentParams) (*domain.PaymentResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var (
		memberID  uuid.UUID
		principal float64
		status    domain.LoanStatus
	)
	err = tx.QueryRow(ctx,
		"SELECT member_id, principal, status FROM loans WHERE id = $1 FOR UPDATE",
		params.LoanID,
	).Scan(&memberID, &principal, &status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrLoanNotFound
		}
		return nil, mapTxError(err)
	}
	if status == domain.LoanPaid {
		return nil, ErrLoanSettled
	}

	var installmentAmount float64
	if params.InstallmentID != nil {
		err = tx.QueryRow(ctx,
			"SELECT amount FROM installments WHERE id = $1 AND loan_id = $2",
			*params.InstallmentID, params.LoanID,
		).Scan(&installmentAmount)
		if err != nil {
			if err == pgx.ErrNoRows {
				return nil, ErrInstallmentNotFound
			}
			return nil, mapTxError(err)
		}
	}

	now := time.Now().UTC()
	payment := &domain.Payment{
		ID:            params.PaymentID,
		LoanID:        params.LoanID,
		MemberID:      memberID,
		InstallmentID: params.InstallmentID,
		Amount:        params.Amount,
		Capital:       params.Capital,
		Interest:      params.Interest,
		PaymentDate:   params.PaymentDate,
		CreatedAt:     now,
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO payments (id, loan_id, member_id, installment_id, amount, capital, interest, payment_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		payment.ID,
		payment.LoanID,
		payment.MemberID,
		payment.InstallmentID,
		payment.Amount,
		payment.Capital,
		payment.Interest,
		payment.PaymentDate,
		payment.CreatedAt,
	)
	if err != nil {
		return nil, mapTxError(err)
	}

	// Flip the referenced installment once its payments cover the amount.
	if params.InstallmentID != nil {
		var paidTowards float64
		err = tx.QueryRow(ctx,
			"SELECT COALESCE(SUM(amount), 0) FROM payments WHERE installment_id = $1",
			*params.InstallmentID,
		).Scan(&paidTowards)
		if err != nil {
			return nil, mapTxError(err)
		}
		if paidTowards >= installmentAmount {
			_, err = tx.Exec(ctx,
				"UPDATE installments SET status = $1 WHERE id = $2",
				domain.InstallmentPaid, *params.InstallmentID,
			)
			if err != nil {
				return nil, mapTxError(err)
			}
		}
	}

	// Recovered capital is re-aggregated here, within the same transaction
	// that inserted the payment.
	var recovered float64
	err = tx.QueryRow(ctx,
		"SELECT COALESCE(SUM(capital), 0) FROM payments WHERE loan_id = $1",
		params.LoanID,
	).Scan(&recovered)
	if err != nil {
		return nil, mapTxError(err)
	}

	statusChanged := false
	if recovered >= principal {
		_, err = tx.Exec(ctx,
			"UPDATE loans SET status = $1, updated_at = $2 WHERE id = $3",
			domain.LoanPaid, now, params.LoanID,
		)
		if err != nil {
			return nil, mapTxError(err)
		}
		statusChanged = true
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, mapTxError(err)
	}

	return &domain.PaymentResult{
		Payment:             payment,
		OutstandingCapital:  principal - recovered,
		StatusChangedToPaid: statusChanged,
	}, nil
}

// ListPaymentsByLoanID returns the loan's payments, newest first.
func (r *PostgresRepository) ListPaymentsByLoanID(ctx context.Context, loanID uuid.UUID) ([]domain.Payment, error) {
	query := `
		SELECT id, loan_id, member_id, installment_id, amount, capital, interest, payment_date, created_at
		FROM payments
		WHERE loan_id = $1
		ORDER BY payment_date DESC, created_at DESC
	`
	rows, err := r.db.Query(ctx, query, loanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := []domain.Payment{}
	for rows.Next() {
		var p domain.Payment
		err := rows.Scan(
			&p.ID,
			&p.LoanID,
			&p.MemberID,
			&p.InstallmentID,
			&p.Amount,
			&p.Capital,
			&p.Interest,
			&p.PaymentDate,
			&p.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// ListInstallmentsByLoanID returns the loan's plan ordered by sequence.
func (r *PostgresRepository) ListInstallmentsByLoanID(ctx context.Context, loanID uuid.UUID) ([]domain.Installment, error) {
	query := `
		SELECT id, loan_id, sequence, due_date, capital, interest, amount, status
		FROM installments
		WHERE loan_id = $1
		ORDER BY sequence ASC
	`
	rows, err := r.db.Query(ctx, query, loanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	plan := []domain.Installment{}
	for rows.Next() {
		var inst domain.Installment
		err := rows.Scan(
			&inst.ID,
			&inst.LoanID,
			&inst.Sequence,
			&inst.DueDate,
			&inst.Capital,
			&inst.Interest,
			&inst.Amount,
			&inst.Status,
		)
		if err != nil {
			return nil, err
		}
		plan = append(plan, inst)
	}
	return plan, rows.Err()
}

// ListDueInstallments returns pending obligations due in the filter's month,
// joined with member identity. The query is built dynamically because every
// filter component is optional except the month window.
func (r *PostgresRepository) ListDueInstallments(ctx context.Context, filter domain.DueInstallmentFilter) ([]domain.DueInstallment, error) {
	monthStart := time.Date(filter.Year, time.Month(filter.Month), 1, 0, 0, 0, 0, time.UTC)
	monthEnd := monthStart.AddDate(0, 1, 0)

	var sb strings.Builder
	sb.WriteString(`
		SELECT i.id, i.loan_id, i.sequence, i.due_date, i.capital, i.interest, i.amount, i.status,
		       m.id, m.full_name
		FROM installments i
		JOIN loans l ON l.id = i.loan_id
		JOIN members m ON m.id = l.member_id
		WHERE i.due_date >= $1 AND i.due_date < $2
	`)
	args := []interface{}{monthStart, monthEnd}
	argPos := 3

	if filter.LoanID != nil {
		sb.WriteString(fmt.Sprintf(" AND i.loan_id = $%d", argPos))
		args = append(args, *filter.LoanID)
		argPos++
	}
	if filter.ExcludePaidInstallments {
		sb.WriteString(fmt.Sprintf(" AND i.status = $%d", argPos))
		args = append(args, domain.InstallmentPending)
		argPos++
	}
	if filter.ExcludeSettledLoans {
		sb.WriteString(fmt.Sprintf(" AND l.status = $%d", argPos))
		args = append(args, domain.LoanActive)
		argPos++
	}
	sb.WriteString(" ORDER BY i.due_date ASC, i.sequence ASC")

	rows, err := r.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	due := []domain.DueInstallment{}
	for rows.Next() {
		var d domain.DueInstallment
		err := rows.Scan(
			&d.ID,
			&d.LoanID,
			&d.Sequence,
			&d.DueDate,
			&d.Capital,
			&d.Interest,
			&d.Amount,
			&d.Status,
			&d.MemberID,
			&d.MemberFullName,
		)
		if err != nil {
			return nil, err
		}
		due = append(due, d)
	}
	return due, rows.Err()
}

// ListAccrualCandidateIDs returns active percentage-interest loans with a
// positive rate.
func (r *PostgresRepository) ListAccrualCandidateIDs(ctx context.Context) ([]uuid.UUID, error) {
	query := `
		SELECT id FROM loans
		WHERE status = $1 AND interest_kind = $2 AND interest_value > 0
		ORDER BY created_at ASC
	`
	rows, err := r.db.Query(ctx, query, domain.LoanActive, domain.InterestPercentage)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AccrueLoanInterest applies one accrual period to a single loan. It takes
// the same loan row lock as ApplyPayment so accrual and payment capture are
// serialized against each other.
func (r *PostgresRepository) AccrueLoanInterest(ctx context.Context, loanID uuid.UUID) (float64, bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, false, err
	}
	defer tx.Rollback(ctx)

	var (
		principal float64
		rate      float64
		kind      domain.InterestKind
		status    domain.LoanStatus
	)
	err = tx.QueryRow(ctx,
		"SELECT principal, interest_value, interest_kind, status FROM loans WHERE id = $1 FOR UPDATE",
		loanID,
	).Scan(&principal, &rate, &kind, &status)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, false, ErrLoanNotFound
		}
		return 0, false, mapTxError(err)
	}

	// The candidate list is read outside this transaction; the loan may
	// have been settled in the meantime. Re-check under the lock.
	if status != domain.LoanActive || kind != domain.InterestPercentage || rate <= 0 {
		return 0, false, tx.Commit(ctx)
	}

	var recovered float64
	err = tx.QueryRow(ctx,
		"SELECT COALESCE(SUM(capital), 0) FROM payments WHERE loan_id = $1",
		loanID,
	).Scan(&recovered)
	if err != nil {
		return 0, false, mapTxError(err)
	}

	outstanding := principal - recovered
	if outstanding <= 0 {
		return 0, false, tx.Commit(ctx)
	}

	accrued := outstanding * (rate / 100)
	_, err = tx.Exec(ctx,
		"UPDATE loans SET accrued_interest_balance = accrued_interest_balance + $1, updated_at = $2 WHERE id = $3",
		accrued, time.Now().UTC(), loanID,
	)
	if err != nil {
		return 0, false, mapTxError(err)
	}

	if err = tx.Commit(ctx); err != nil {
		return 0, false, mapTxError(err)
	}
	return accrued, true, nil
}
