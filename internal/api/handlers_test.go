package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prestafondo/loan-service/internal/app"
	"github.com/prestafondo/loan-service/internal/domain"
	"github.com/prestafondo/loan-service/internal/store"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	repo := store.NewMemoryRepository()
	svc := app.NewService(repo, nil)
	server := httptest.NewServer(LoanRoutes(NewLoanHandlers(svc)))
	t.Cleanup(server.Close)
	return server
}

func postJSON(t *testing.T, url string, payload interface{}) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to marshal payload: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
}

func createMember(t *testing.T, serverURL string) domain.Member {
	t.Helper()
	resp := postJSON(t, serverURL+"/members", domain.CreateMemberPayload{
		FullName:   "Rosa Peralta",
		NationalID: fmt.Sprintf("001-%d", time.Now().UnixNano()),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 creating member, got %d", resp.StatusCode)
	}
	var member domain.Member
	decodeBody(t, resp, &member)
	return member
}

func createLoan(t *testing.T, serverURL string, payload domain.CreateLoanPayload) domain.LoanWithSchedule {
	t.Helper()
	resp := postJSON(t, serverURL+"/loans", payload)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 creating loan, got %d", resp.StatusCode)
	}
	var loan domain.LoanWithSchedule
	decodeBody(t, resp, &loan)
	return loan
}

func TestHealthEndpoint(t *testing.T) {
	server := newTestServer(t)
	resp, err := http.Get(server.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from /health, got %d", resp.StatusCode)
	}
}

func TestCreateLoanAndRecordPaymentFlow(t *testing.T) {
	server := newTestServer(t)
	member := createMember(t, server.URL)

	count := 12
	loan := createLoan(t, server.URL, domain.CreateLoanPayload{
		MemberID:         member.ID,
		Principal:        1200,
		InterestKind:     domain.InterestPercentage,
		InterestValue:    5,
		InstallmentCount: &count,
		Periodicity:      domain.PeriodicityMonthly,
		StartDate:        time.Date(2024, time.January, 15, 0, 0, 0, 0, time.UTC),
	})
	if len(loan.Installments) != 12 {
		t.Fatalf("expected 12 installments, got %d", len(loan.Installments))
	}

	resp := postJSON(t, server.URL+"/loans/"+loan.Loan.ID.String()+"/payments", domain.RecordPaymentPayload{
		Amount:      160,
		PaymentDate: time.Date(2024, time.February, 15, 0, 0, 0, 0, time.UTC),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 recording payment, got %d", resp.StatusCode)
	}
	var result domain.PaymentResult
	decodeBody(t, resp, &result)
	if result.Payment == nil || result.Payment.Capital != 160 {
		t.Fatalf("expected full amount recovered as capital, got %+v", result.Payment)
	}
	if result.OutstandingCapital != 1040 {
		t.Fatalf("expected outstanding 1040, got %f", result.OutstandingCapital)
	}
}

func TestRecordPaymentAgainstSettledLoanReturns409(t *testing.T) {
	server := newTestServer(t)
	member := createMember(t, server.URL)
	loan := createLoan(t, server.URL, domain.CreateLoanPayload{
		MemberID:     member.ID,
		Principal:    100,
		InterestKind: domain.InterestNone,
		Periodicity:  domain.PeriodicityFreeForm,
		IsFreeForm:   true,
		StartDate:    time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
	})

	payURL := server.URL + "/loans/" + loan.Loan.ID.String() + "/payments"
	resp := postJSON(t, payURL, domain.RecordPaymentPayload{
		Amount:      100,
		PaymentDate: time.Now().UTC(),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 settling the loan, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = postJSON(t, payURL, domain.RecordPaymentPayload{
		Amount:      10,
		PaymentDate: time.Now().UTC(),
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 paying a settled loan, got %d", resp.StatusCode)
	}
}

func TestRecordPaymentValidationReturns400(t *testing.T) {
	server := newTestServer(t)
	member := createMember(t, server.URL)
	loan := createLoan(t, server.URL, domain.CreateLoanPayload{
		MemberID:     member.ID,
		Principal:    100,
		InterestKind: domain.InterestNone,
		Periodicity:  domain.PeriodicityFreeForm,
		IsFreeForm:   true,
		StartDate:    time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
	})

	capital, interest := 70.0, 40.0
	resp := postJSON(t, server.URL+"/loans/"+loan.Loan.ID.String()+"/payments", domain.RecordPaymentPayload{
		Amount:      100,
		PaymentDate: time.Now().UTC(),
		Capital:     &capital,
		Interest:    &interest,
	})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for inconsistent split, got %d", resp.StatusCode)
	}
}

func TestGetLoanUnknownIDReturns404(t *testing.T) {
	server := newTestServer(t)
	resp, err := http.Get(server.URL + "/loans/3f9e7a2c-0000-0000-0000-000000000000")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown loan, got %d", resp.StatusCode)
	}
}

func TestDeleteLoanWithPaymentsReturns409(t *testing.T) {
	server := newTestServer(t)
	member := createMember(t, server.URL)
	loan := createLoan(t, server.URL, domain.CreateLoanPayload{
		MemberID:     member.ID,
		Principal:    100,
		InterestKind: domain.InterestNone,
		Periodicity:  domain.PeriodicityFreeForm,
		IsFreeForm:   true,
		StartDate:    time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
	})

	resp := postJSON(t, server.URL+"/loans/"+loan.Loan.ID.String()+"/payments", domain.RecordPaymentPayload{
		Amount:      10,
		PaymentDate: time.Now().UTC(),
	})
	resp.Body.Close()

	req, _ := http.NewRequestWithContext(context.Background(), http.MethodDelete, server.URL+"/loans/"+loan.Loan.ID.String(), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 deleting a loan with payments, got %d", resp.StatusCode)
	}
}

func TestDueInstallmentsRequiresMonthAndYear(t *testing.T) {
	server := newTestServer(t)
	resp, err := http.Get(server.URL + "/installments/due")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without month/year, got %d", resp.StatusCode)
	}
}

func TestDueInstallmentsReport(t *testing.T) {
	server := newTestServer(t)
	member := createMember(t, server.URL)
	count := 3
	createLoan(t, server.URL, domain.CreateLoanPayload{
		MemberID:         member.ID,
		Principal:        300,
		InterestKind:     domain.InterestFixed,
		InterestValue:    30,
		InstallmentCount: &count,
		Periodicity:      domain.PeriodicityMonthly,
		StartDate:        time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC),
	})

	resp, err := http.Get(server.URL + "/installments/due?month=2&year=2024")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from due report, got %d", resp.StatusCode)
	}
	var due []domain.DueInstallment
	decodeBody(t, resp, &due)
	if len(due) != 1 {
		t.Fatalf("expected 1 installment due in February, got %d", len(due))
	}
	if due[0].MemberFullName != member.FullName {
		t.Fatalf("expected member name on the report row, got %q", due[0].MemberFullName)
	}
}

func TestAccrueEndpoint(t *testing.T) {
	server := newTestServer(t)
	member := createMember(t, server.URL)
	count := 10
	createLoan(t, server.URL, domain.CreateLoanPayload{
		MemberID:         member.ID,
		Principal:        1000,
		InterestKind:     domain.InterestPercentage,
		InterestValue:    5,
		InstallmentCount: &count,
		Periodicity:      domain.PeriodicityMonthly,
		StartDate:        time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
	})

	resp := postJSON(t, server.URL+"/interest/accrue", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from accrual, got %d", resp.StatusCode)
	}
	var body map[string]int
	decodeBody(t, resp, &body)
	if body["loans_updated"] != 1 {
		t.Fatalf("expected 1 loan updated, got %d", body["loans_updated"])
	}
}

func TestOutstandingEndpoint(t *testing.T) {
	server := newTestServer(t)
	member := createMember(t, server.URL)
	loan := createLoan(t, server.URL, domain.CreateLoanPayload{
		MemberID:     member.ID,
		Principal:    500,
		InterestKind: domain.InterestNone,
		Periodicity:  domain.PeriodicityFreeForm,
		IsFreeForm:   true,
		StartDate:    time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
	})

	resp := postJSON(t, server.URL+"/loans/"+loan.Loan.ID.String()+"/payments", domain.RecordPaymentPayload{
		Amount:      200,
		PaymentDate: time.Now().UTC(),
	})
	resp.Body.Close()

	resp, err := http.Get(server.URL + "/loans/" + loan.Loan.ID.String() + "/outstanding")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	var body map[string]float64
	decodeBody(t, resp, &body)
	if body["outstanding_capital"] != 300 {
		t.Fatalf("expected outstanding 300, got %f", body["outstanding_capital"])
	}
}
