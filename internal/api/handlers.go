/**
 * @description
 * This file contains the HTTP handlers for the loan-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the
 * appropriate methods on the application service, and writing the HTTP
 * response. They act as the bridge between the web layer and the business
 * logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prestafondo/loan-service/internal/app"
	"github.com/prestafondo/loan-service/internal/domain"
	"github.com/prestafondo/loan-service/internal/store"
)

// LoanHandlers holds the application service that handlers will use.
type LoanHandlers struct {
	service *app.Service
}

// NewLoanHandlers creates a new instance of LoanHandlers.
func NewLoanHandlers(service *app.Service) *LoanHandlers {
	return &LoanHandlers{service: service}
}

// handleServiceError maps service and store errors onto HTTP statuses.
func (h *LoanHandlers) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrValidation):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrMemberNotFound),
		errors.Is(err, store.ErrLoanNotFound),
		errors.Is(err, store.ErrInstallmentNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrLoanSettled),
		errors.Is(err, store.ErrLoanHasPayments),
		errors.Is(err, store.ErrDuplicateNationalID),
		errors.Is(err, store.ErrConflict):
		h.writeError(w, http.StatusConflict, err.Error())
	default:
		log.Printf("level=error component=api msg=\"request failed\" err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "An internal error occurred.")
	}
}

// parseUUIDParam extracts a UUID path parameter, writing a 400 on failure.
func (h *LoanHandlers) parseUUIDParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid "+name+" in URL.")
		return uuid.Nil, false
	}
	return id, true
}

// CreateMemberHandler handles POST /members.
func (h *LoanHandlers) CreateMemberHandler(w http.ResponseWriter, r *http.Request) {
	var payload domain.CreateMemberPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	member, err := h.service.CreateMember(r.Context(), payload)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, member)
}

// GetMemberHandler handles GET /members/{memberID}.
func (h *LoanHandlers) GetMemberHandler(w http.ResponseWriter, r *http.Request) {
	memberID, ok := h.parseUUIDParam(w, r, "memberID")
	if !ok {
		return
	}

	member, err := h.service.GetMember(r.Context(), memberID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, member)
}

// CreateLoanHandler handles POST /loans.
func (h *LoanHandlers) CreateLoanHandler(w http.ResponseWriter, r *http.Request) {
	var payload domain.CreateLoanPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	loan, err := h.service.CreateLoan(r.Context(), payload)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, loan)
}

// GetLoanHandler handles GET /loans/{loanID}.
func (h *LoanHandlers) GetLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := h.parseUUIDParam(w, r, "loanID")
	if !ok {
		return
	}

	loan, err := h.service.GetLoan(r.Context(), loanID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, loan)
}

// DeleteLoanHandler handles DELETE /loans/{loanID}.
func (h *LoanHandlers) DeleteLoanHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := h.parseUUIDParam(w, r, "loanID")
	if !ok {
		return
	}

	if err := h.service.DeleteLoan(r.Context(), loanID); err != nil {
		h.handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RecordPaymentHandler handles POST /loans/{loanID}/payments.
func (h *LoanHandlers) RecordPaymentHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := h.parseUUIDParam(w, r, "loanID")
	if !ok {
		return
	}

	var payload domain.RecordPaymentPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body.")
		return
	}

	result, err := h.service.RecordPayment(r.Context(), loanID, payload)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, result)
}

// ListPaymentsHandler handles GET /loans/{loanID}/payments.
func (h *LoanHandlers) ListPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := h.parseUUIDParam(w, r, "loanID")
	if !ok {
		return
	}

	payments, err := h.service.ListPayments(r.Context(), loanID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, payments)
}

// GetOutstandingHandler handles GET /loans/{loanID}/outstanding.
func (h *LoanHandlers) GetOutstandingHandler(w http.ResponseWriter, r *http.Request) {
	loanID, ok := h.parseUUIDParam(w, r, "loanID")
	if !ok {
		return
	}

	outstanding, err := h.service.GetOutstandingCapital(r.Context(), loanID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]float64{"outstanding_capital": outstanding})
}

// ListDueInstallmentsHandler handles GET /installments/due.
func (h *LoanHandlers) ListDueInstallmentsHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	month, err := strconv.Atoi(q.Get("month"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Query parameter 'month' is required and must be a number.")
		return
	}
	year, err := strconv.Atoi(q.Get("year"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Query parameter 'year' is required and must be a number.")
		return
	}

	filter := domain.DueInstallmentFilter{
		Month:                   month,
		Year:                    year,
		ExcludeSettledLoans:     true,
		ExcludePaidInstallments: true,
	}
	if raw := q.Get("loan_id"); raw != "" {
		loanID, err := uuid.Parse(raw)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "Query parameter 'loan_id' must be a UUID.")
			return
		}
		filter.LoanID = &loanID
	}
	if q.Get("include_settled") == "true" {
		filter.ExcludeSettledLoans = false
	}
	if q.Get("include_paid") == "true" {
		filter.ExcludePaidInstallments = false
	}

	due, err := h.service.ListDueInstallments(r.Context(), filter)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, due)
}

// AccrueInterestHandler handles POST /interest/accrue.
func (h *LoanHandlers) AccrueInterestHandler(w http.ResponseWriter, r *http.Request) {
	updated, err := h.service.Accrue(r.Context())
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"loans_updated": updated})
}

// writeJSON is a helper for writing JSON responses.
func (h *LoanHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *LoanHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
