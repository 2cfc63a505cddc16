/**
 * @description
 * This file sets up the HTTP router for the loan-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies
 * standard middleware.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// LoanRoutes creates and returns a new router for the loan service.
func LoanRoutes(h *LoanHandlers) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	r.Post("/members", h.CreateMemberHandler)
	r.Get("/members/{memberID}", h.GetMemberHandler)

	r.Post("/loans", h.CreateLoanHandler)
	r.Get("/loans/{loanID}", h.GetLoanHandler)
	r.Delete("/loans/{loanID}", h.DeleteLoanHandler)
	r.Post("/loans/{loanID}/payments", h.RecordPaymentHandler)
	r.Get("/loans/{loanID}/payments", h.ListPaymentsHandler)
	r.Get("/loans/{loanID}/outstanding", h.GetOutstandingHandler)

	r.Get("/installments/due", h.ListDueInstallmentsHandler)
	r.Post("/interest/accrue", h.AccrueInterestHandler)

	return r
}
