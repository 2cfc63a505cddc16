/**
 * @description
 * This file implements amortization schedule generation for the loan-service.
 * Plans use the fixed-capital method: the principal is divided evenly across
 * installments and interest is layered on top according to the loan's
 * interest kind.
 *
 * Key features:
 * - Percentage interest is charged on the capital balance outstanding at the
 *   start of each period, before that period's capital is deducted.
 * - Fixed interest is a total amount amortized evenly across installments.
 * - The floating-point residue of the capital division is folded into the
 *   final installment so the capital portions sum exactly to the principal.
 *
 * @dependencies
 * - internal/domain: Installment and loan term types.
 */

package app

import (
	"time"

	"github.com/prestafondo/loan-service/internal/domain"
)

// ScheduleTerms are the loan terms the generator needs. It deliberately
// takes a value struct rather than a *domain.Loan so callers can price
// hypothetical terms without persisting anything.
type ScheduleTerms struct {
	Principal        float64
	InterestKind     domain.InterestKind
	InterestValue    float64
	InstallmentCount int
	StartDate        time.Time
	Periodicity      domain.Periodicity
}

// GenerateSchedule builds the amortization plan for the given terms.
//
// It returns an empty plan when the installment count is not positive, when
// the interest value is not positive, or when the interest kind is "none".
// Interest-free loans therefore carry no schedule and are tracked through
// the payment ledger alone.
func GenerateSchedule(terms ScheduleTerms) []domain.Installment {
	n := terms.InstallmentCount
	if n <= 0 || terms.InterestValue <= 0 || terms.InterestKind == domain.InterestNone {
		return []domain.Installment{}
	}

	capitalPer := terms.Principal / float64(n)
	remaining := terms.Principal

	plan := make([]domain.Installment, 0, n)
	for i := 1; i <= n; i++ {
		var interest float64
		switch terms.InterestKind {
		case domain.InterestPercentage:
			// Interest on the balance before this installment's capital.
			interest = remaining * (terms.InterestValue / 100)
		case domain.InterestFixed:
			interest = terms.InterestValue / float64(n)
		}

		capital := capitalPer
		remaining -= capitalPer
		if i == n {
			// Fold the division residue so the capital column sums to the
			// principal exactly and the balance lands on zero.
			capital += remaining
			remaining = 0
		}

		plan = append(plan, domain.Installment{
			Sequence: i,
			DueDate:  advanceDueDate(terms.StartDate, i, terms.Periodicity),
			Capital:  capital,
			Interest: interest,
			Amount:   capital + interest,
			Status:   domain.InstallmentPending,
		})
	}

	return plan
}

// advanceDueDate returns the due date that lies `periods` periods after the
// start date. The first installment is due one period after the start.
func advanceDueDate(start time.Time, periods int, p domain.Periodicity) time.Time {
	switch p {
	case domain.PeriodicityDaily:
		return start.AddDate(0, 0, periods)
	case domain.PeriodicityWeekly:
		return start.AddDate(0, 0, 7*periods)
	case domain.PeriodicityBiweekly:
		return start.AddDate(0, 0, 15*periods)
	default:
		// monthly and freeform both step by calendar months.
		return start.AddDate(0, periods, 0)
	}
}
