package app

import (
	"math"
	"testing"
	"time"

	"github.com/prestafondo/loan-service/internal/domain"
)

func monthlyTerms(principal float64, kind domain.InterestKind, value float64, count int) ScheduleTerms {
	return ScheduleTerms{
		Principal:        principal,
		InterestKind:     kind,
		InterestValue:    value,
		InstallmentCount: count,
		StartDate:        time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC),
		Periodicity:      domain.PeriodicityMonthly,
	}
}

func TestGenerateSchedule_PercentageMonthly(t *testing.T) {
	plan := GenerateSchedule(monthlyTerms(1200, domain.InterestPercentage, 5, 12))

	if len(plan) != 12 {
		t.Fatalf("expected 12 installments, got %d", len(plan))
	}

	first := plan[0]
	if first.Sequence != 1 {
		t.Fatalf("expected first sequence 1, got %d", first.Sequence)
	}
	if math.Abs(first.Capital-100) > 1e-9 {
		t.Fatalf("expected first capital 100, got %f", first.Capital)
	}
	// 5% of the full 1200, charged before the capital deduction.
	if math.Abs(first.Interest-60) > 1e-9 {
		t.Fatalf("expected first interest 60, got %f", first.Interest)
	}
	if math.Abs(first.Amount-160) > 1e-9 {
		t.Fatalf("expected first amount 160, got %f", first.Amount)
	}
	wantDue := time.Date(2024, time.February, 15, 0, 0, 0, 0, time.UTC)
	if !first.DueDate.Equal(wantDue) {
		t.Fatalf("expected first due date %s, got %s", wantDue, first.DueDate)
	}

	last := plan[11]
	// 5% of the final 100 still outstanding.
	if math.Abs(last.Interest-5) > 1e-9 {
		t.Fatalf("expected last interest 5, got %f", last.Interest)
	}

	var totalCapital float64
	for _, inst := range plan {
		if inst.Status != domain.InstallmentPending {
			t.Fatalf("installment %d not pending: %s", inst.Sequence, inst.Status)
		}
		totalCapital += inst.Capital
	}
	if math.Abs(totalCapital-1200) > 1e-9 {
		t.Fatalf("capital portions must sum to the principal, got %f", totalCapital)
	}
}

func TestGenerateSchedule_FixedInterestSpreadEvenly(t *testing.T) {
	plan := GenerateSchedule(monthlyTerms(900, domain.InterestFixed, 90, 3))

	if len(plan) != 3 {
		t.Fatalf("expected 3 installments, got %d", len(plan))
	}
	for _, inst := range plan {
		if math.Abs(inst.Interest-30) > 1e-9 {
			t.Fatalf("installment %d: expected interest 30, got %f", inst.Sequence, inst.Interest)
		}
		if math.Abs(inst.Amount-(inst.Capital+inst.Interest)) > 1e-9 {
			t.Fatalf("installment %d: amount must equal capital plus interest", inst.Sequence)
		}
	}
}

func TestGenerateSchedule_ResidueFoldedIntoLastCapital(t *testing.T) {
	// 100/3 does not divide evenly in binary floating point.
	plan := GenerateSchedule(monthlyTerms(100, domain.InterestFixed, 9, 3))

	if len(plan) != 3 {
		t.Fatalf("expected 3 installments, got %d", len(plan))
	}

	// Replaying the generator's own subtraction must land on exactly zero.
	remaining := 100.0
	for _, inst := range plan {
		remaining -= inst.Capital
	}
	if remaining != 0 {
		t.Fatalf("expected remaining balance exactly 0 after folding, got %g", remaining)
	}
}

func TestGenerateSchedule_EmptyPlanCases(t *testing.T) {
	cases := []struct {
		name  string
		terms ScheduleTerms
	}{
		{"zero installments", monthlyTerms(1000, domain.InterestPercentage, 5, 0)},
		{"negative installments", monthlyTerms(1000, domain.InterestPercentage, 5, -1)},
		{"zero interest value", monthlyTerms(1000, domain.InterestPercentage, 0, 12)},
		{"interest kind none", monthlyTerms(1000, domain.InterestNone, 5, 12)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan := GenerateSchedule(tc.terms)
			if len(plan) != 0 {
				t.Fatalf("expected empty plan, got %d installments", len(plan))
			}
		})
	}
}

func TestGenerateSchedule_DueDatesByPeriodicity(t *testing.T) {
	start := time.Date(2024, time.January, 31, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name        string
		periodicity domain.Periodicity
		wantFirst   time.Time
		wantSecond  time.Time
	}{
		{"daily", domain.PeriodicityDaily,
			time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC),
			time.Date(2024, time.February, 2, 0, 0, 0, 0, time.UTC)},
		{"weekly", domain.PeriodicityWeekly,
			time.Date(2024, time.February, 7, 0, 0, 0, 0, time.UTC),
			time.Date(2024, time.February, 14, 0, 0, 0, 0, time.UTC)},
		{"biweekly", domain.PeriodicityBiweekly,
			time.Date(2024, time.February, 15, 0, 0, 0, 0, time.UTC),
			time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)},
		{"monthly normalizes month end", domain.PeriodicityMonthly,
			// Jan 31 + 1 month normalizes to Mar 2 in a leap year.
			time.Date(2024, time.March, 2, 0, 0, 0, 0, time.UTC),
			time.Date(2024, time.March, 31, 0, 0, 0, 0, time.UTC)},
		{"freeform steps monthly", domain.PeriodicityFreeForm,
			time.Date(2024, time.March, 2, 0, 0, 0, 0, time.UTC),
			time.Date(2024, time.March, 31, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			plan := GenerateSchedule(ScheduleTerms{
				Principal:        600,
				InterestKind:     domain.InterestPercentage,
				InterestValue:    2,
				InstallmentCount: 2,
				StartDate:        start,
				Periodicity:      tc.periodicity,
			})
			if len(plan) != 2 {
				t.Fatalf("expected 2 installments, got %d", len(plan))
			}
			if !plan[0].DueDate.Equal(tc.wantFirst) {
				t.Fatalf("first due date: want %s, got %s", tc.wantFirst, plan[0].DueDate)
			}
			if !plan[1].DueDate.Equal(tc.wantSecond) {
				t.Fatalf("second due date: want %s, got %s", tc.wantSecond, plan[1].DueDate)
			}
		})
	}
}
