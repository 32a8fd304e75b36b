package api

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jmcleod/donorhub/internal/derrors"
	"github.com/jmcleod/donorhub/payment"
)

const signatureHeader = "Stripe-Signature"

// CreatePayment handles POST /payments for the caller.
func (a *API) CreatePayment(w http.ResponseWriter, r *http.Request) {
	in, ok := decodeJSON[payment.CreateInput](w, r, maxSmallBodySize)
	if !ok {
		return
	}
	p, err := a.payments.Create(r.Context(), in, identityFrom(r.Context()), a.extractClientIP(r))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// ListPayments handles GET /payments.
func (a *API) ListPayments(w http.ResponseWriter, r *http.Request) {
	page, perPage := parsePage(r)
	out, err := a.payments.List(r.Context(), payment.ListParams{
		Page:    page,
		PerPage: perPage,
		Status:  r.URL.Query().Get("status"),
	}, identityFrom(r.Context()))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// GetPayment handles GET /payments/{id}.
func (a *API) GetPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	p, err := a.payments.Get(r.Context(), id, identityFrom(r.Context()))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	if p == nil {
		writeError(w, http.StatusNotFound, "payment not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// UpdatePaymentStatus handles PUT /payments/{id}/status. Administrators only.
func (a *API) UpdatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	req, ok := decodeJSON[StatusRequest](w, r, maxSmallBodySize)
	if !ok {
		return
	}
	p, err := a.payments.UpdateStatus(r.Context(), id, req.Status, identityFrom(r.Context()), a.extractClientIP(r))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// DeletePayment handles DELETE /payments/{id}. Administrators only.
func (a *API) DeletePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	p, err := a.payments.SoftDelete(r.Context(), id, identityFrom(r.Context()), a.extractClientIP(r))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// StartCheckout handles POST /checkout and returns the hosted session.
func (a *API) StartCheckout(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[payment.CheckoutRequest](w, r, maxSmallBodySize)
	if !ok {
		return
	}
	res, err := a.payments.StartCheckout(r.Context(), req, identityFrom(r.Context()))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	if res.User != nil {
		a.audit.logEvent(AuditCheckoutStarted, r, a.extractClientIP(r), res.User.ID,
			slog.String("session_id", res.SessionID))
	}
	writeJSON(w, http.StatusOK, res)
}

// GetCheckoutSession handles GET /stripe/session/{sessionID}.
func (a *API) GetCheckoutSession(w http.ResponseWriter, r *http.Request) {
	summary, err := a.payments.SessionSummary(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// StripeWebhook handles POST /stripe/webhook. The body is read raw because
// the signature covers the exact bytes.
func (a *API) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookSize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	ip := a.extractClientIP(r)
	res, err := a.payments.HandleWebhook(r.Context(), payload, r.Header.Get(signatureHeader), ip)
	if err != nil {
		if derrors.CodeOf(err) == derrors.CodeSignature {
			a.audit.logFailure(AuditWebhookRejected, r, ip, "signature verification failed")
		}
		a.mapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, WebhookResponse{Received: true, WebhookResult: res})
}
