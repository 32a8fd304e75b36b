// Package payment manages payment records and the hosted checkout flow
// that creates them.
package payment

//go:generate mockgen -source=checkout.go -destination=mocks/mocks.go -package=mocks Gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jmcleod/donorhub/access"
	"github.com/jmcleod/donorhub/audit"
	"github.com/jmcleod/donorhub/internal/derrors"
	"github.com/jmcleod/donorhub/internal/metrics"
	"github.com/jmcleod/donorhub/storage"
)

// Model is the audit model name for payments.
const Model = "Payment"

const (
	collection      = "payments"
	txnCollection   = "payment_transactions"
	draftCollection = "checkout_drafts"
	defaultPerPage  = 10
	maxPerPage      = 100
)

// Canonical statuses. Status is free text; these are the values the
// lifecycle itself writes.
const (
	StatusPending   = "PENDING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
	StatusRefunded  = "REFUNDED"
)

// Payment is a stored payment record.
type Payment struct {
	ID                  int64     `json:"id"`
	DonorRegistrationID int64     `json:"donorRegistrationId"`
	UserID              int64     `json:"userId"`
	Amount              Amount    `json:"amount"`
	Currency            string    `json:"currency"`
	Status              string    `json:"status"`
	PaymentMethod       string    `json:"paymentMethod"`
	TransactionID       string    `json:"transactionId"`
	IsDelete            bool      `json:"isDelete"`
	CreatedBy           int64     `json:"createdBy"`
	UpdatedBy           int64     `json:"updatedBy"`
	CreatedAt           time.Time `json:"createdAt"`
	UpdatedAt           time.Time `json:"updatedAt"`
}

// CreateInput holds the fields of a new payment.
type CreateInput struct {
	DonorRegistrationID int64  `json:"donorRegistrationId"`
	Amount              Amount `json:"amount"`
	Currency            string `json:"currency"`
	PaymentMethod       string `json:"paymentMethod"`
	TransactionID       string `json:"transactionId"`
	Status              string `json:"status"`
}

// ListParams selects a page of payments.
type ListParams struct {
	Page    int
	PerPage int
	Status  string
}

// Page is one page of a listing.
type Page struct {
	Data        []Payment `json:"data"`
	Total       int       `json:"total"`
	CurrentPage int       `json:"currentPage"`
	LastPage    int       `json:"lastPage"`
	PerPage     int       `json:"perPage"`
}

// Service is the payment lifecycle and checkout flow.
type Service struct {
	repo     storage.Repository
	payments *storage.Collection[Payment]
	drafts   *storage.Collection[draft]
	audit    audit.Sink
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	checkout CheckoutConfig
	gateway  Gateway
	accounts Accounts
	donors   Registrar
	prices   PriceBook
	sealer   Sealer
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService returns a Service storing payments in repo.
func NewService(repo storage.Repository, sink audit.Sink, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		payments: storage.NewCollection[Payment](repo, collection),
		drafts:   storage.NewCollection[draft](repo, draftCollection),
		audit:    sink,
		logger:   slog.New(slog.NewJSONHandler(os.Stderr, nil)),
		now:      time.Now,
		checkout: CheckoutConfig{Currency: "usd"},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create records a payment owned by the caller.
func (s *Service) Create(ctx context.Context, in CreateInput, actor access.Identity, ip string) (*Payment, error) {
	if err := access.Authorize(actor, access.ResourcePayment, actor.UserID, access.OpCreate); err != nil {
		return nil, err
	}
	switch {
	case in.DonorRegistrationID <= 0:
		return nil, derrors.Validation("donorRegistrationId is required")
	case in.Amount <= 0:
		return nil, derrors.Validation("amount must be positive")
	case strings.TrimSpace(in.Currency) == "":
		return nil, derrors.Validation("currency is required")
	case strings.TrimSpace(in.PaymentMethod) == "":
		return nil, derrors.Validation("paymentMethod is required")
	case strings.TrimSpace(in.TransactionID) == "":
		return nil, derrors.Validation("transactionId is required")
	}
	// Only administrators may record a payment in any state but PENDING.
	status := StatusPending
	if st := strings.ToUpper(strings.TrimSpace(in.Status)); st != "" && actor.IsAdmin() {
		status = st
	}
	if err := s.authorizeRegistration(ctx, in.DonorRegistrationID, actor); err != nil {
		return nil, err
	}
	return s.insert(ctx, Payment{
		DonorRegistrationID: in.DonorRegistrationID,
		UserID:              actor.UserID,
		Amount:              in.Amount,
		Currency:            strings.ToUpper(strings.TrimSpace(in.Currency)),
		Status:              status,
		PaymentMethod:       strings.TrimSpace(in.PaymentMethod),
		TransactionID:       strings.TrimSpace(in.TransactionID),
		CreatedBy:           actor.UserID,
		UpdatedBy:           actor.UserID,
	}, ip, 0)
}

// authorizeRegistration checks that the registration exists and that
// actor may attach a payment to it.
func (s *Service) authorizeRegistration(ctx context.Context, registrationID int64, actor access.Identity) error {
	if s.donors == nil {
		return errors.New("payment: no registration source configured")
	}
	ownerID, err := s.donors.OwnerOf(ctx, registrationID)
	if err != nil {
		return err
	}
	return access.Authorize(actor, access.ResourceDonorRegistration, ownerID, access.OpUpdate)
}

// insert stores p and records it on its transaction claim in one batch, so
// a transaction id can back at most one payment. claimVersion is the
// version of a claim the caller already holds, or 0 when there is none.
func (s *Service) insert(ctx context.Context, p Payment, ip string, claimVersion uint64) (*Payment, error) {
	id, err := s.repo.NextID(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("payment: allocating id: %w", err)
	}
	now := s.now().UTC()
	p.ID, p.CreatedAt, p.UpdatedAt = id, now, now

	claim, err := storage.EncodeJSON(txnClaim{PaymentID: id, RegistrationID: p.DonorRegistrationID}, claimVersion+1)
	if err != nil {
		return nil, err
	}
	err = s.repo.Batch(ctx, func(tx storage.BatchTx) error {
		if err := tx.PutCAS(txnCollection, p.TransactionID, claimVersion, claim); err != nil {
			return err
		}
		return s.payments.ReplaceTx(tx, id, 0, p)
	})
	if errors.Is(err, storage.ErrCASFailed) {
		return nil, derrors.Conflict("transaction %s is already recorded", p.TransactionID)
	}
	if err != nil {
		return nil, fmt.Errorf("payment: storing payment: %w", err)
	}

	s.metrics.ObserveTransition(Model, "create")
	audit.RecordQuietly(ctx, s.audit, s.logger, audit.Event{
		UserID:   p.CreatedBy,
		Action:   audit.ActionCreate,
		Model:    Model,
		RecordID: id,
		Details:  p,
		IP:       ip,
	})
	return &p, nil
}

// txnClaim reserves a gateway transaction id. PaymentID is set once the
// payment is stored. Until then ClaimedAt marks the webhook delivery
// holding the claim and RegistrationID the registration it created.
type txnClaim struct {
	PaymentID      int64     `json:"paymentId,omitempty"`
	RegistrationID int64     `json:"registrationId,omitempty"`
	ClaimedAt      time.Time `json:"claimedAt,omitzero"`
}

// ByTransaction returns the payment recorded for a gateway transaction id.
func (s *Service) ByTransaction(ctx context.Context, txnID string) (*Payment, error) {
	env, err := s.repo.Get(ctx, txnCollection, txnID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("payment: looking up transaction %s: %w", txnID, err)
	}
	var c txnClaim
	if err := storage.DecodeJSON(env, &c); err != nil {
		return nil, err
	}
	if c.PaymentID == 0 {
		return nil, nil
	}
	p, err := s.payments.Get(ctx, c.PaymentID)
	if err != nil {
		return nil, fmt.Errorf("payment: loading payment %d: %w", c.PaymentID, err)
	}
	return &p, nil
}

// List returns a page of live payments, newest first. Callers other than
// administrators only see their own.
func (s *Service) List(ctx context.Context, p ListParams, actor access.Identity) (*Page, error) {
	if actor.Anonymous() {
		return nil, derrors.Unauthorized("authentication required")
	}
	page, perPage := p.Page, p.PerPage
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = defaultPerPage
	}
	perPage = min(perPage, maxPerPage)

	where := []storage.Filter[Payment]{
		storage.Eq(func(p Payment) bool { return p.IsDelete }, false),
	}
	if !actor.IsAdmin() {
		where = append(where, storage.Eq(func(p Payment) int64 { return p.UserID }, actor.UserID))
	}
	if status := strings.TrimSpace(p.Status); status != "" {
		where = append(where, storage.Eq(func(p Payment) string { return p.Status }, strings.ToUpper(status)))
	}
	data, total, err := s.payments.Find(ctx, storage.Query[Payment]{
		Where: where,
		Order: storage.By(func(p Payment) int64 { return p.CreatedAt.UnixNano() }, true).
			Then(storage.By(func(p Payment) int64 { return p.ID }, true)),
		Offset: (page - 1) * perPage,
		Limit:  perPage,
	})
	if err != nil {
		return nil, fmt.Errorf("payment: listing payments: %w", err)
	}
	return &Page{
		Data:        data,
		Total:       total,
		CurrentPage: page,
		LastPage:    (total + perPage - 1) / perPage,
		PerPage:     perPage,
	}, nil
}

// Get returns the payment, or nil when none exists, and records a READ
// audit entry.
func (s *Service) Get(ctx context.Context, id int64, actor access.Identity) (*Payment, error) {
	if actor.Anonymous() {
		return nil, derrors.Unauthorized("authentication required")
	}
	p, err := s.payments.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("payment: loading payment %d: %w", id, err)
	}
	if err := access.Authorize(actor, access.ResourcePayment, p.UserID, access.OpRead); err != nil {
		return nil, err
	}
	audit.RecordQuietly(ctx, s.audit, s.logger, audit.Event{
		UserID:   actor.UserID,
		Action:   audit.ActionRead,
		Model:    Model,
		RecordID: id,
	})
	return &p, nil
}

// UpdateStatus sets the payment status. Administrators only.
func (s *Service) UpdateStatus(ctx context.Context, id int64, status string, actor access.Identity, ip string) (*Payment, error) {
	if err := access.Authorize(actor, access.ResourcePayment, 0, access.OpSetStatus); err != nil {
		return nil, err
	}
	status = strings.ToUpper(strings.TrimSpace(status))
	if status == "" {
		return nil, derrors.Validation("status is required")
	}
	p, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Status = status
	p.UpdatedBy = actor.UserID
	p.UpdatedAt = s.now().UTC()
	if err := s.payments.Put(ctx, id, p); err != nil {
		return nil, fmt.Errorf("payment: storing payment %d: %w", id, err)
	}

	s.metrics.ObserveTransition(Model, "set_status")
	audit.RecordQuietly(ctx, s.audit, s.logger, audit.Event{
		UserID:   actor.UserID,
		Action:   audit.ActionUpdate,
		Model:    Model,
		RecordID: id,
		Details:  map[string]string{"status": status},
		IP:       ip,
	})
	return &p, nil
}

// SoftDelete flags the payment as deleted. Administrators only.
func (s *Service) SoftDelete(ctx context.Context, id int64, actor access.Identity, ip string) (*Payment, error) {
	if err := access.Authorize(actor, access.ResourcePayment, 0, access.OpSoftDelete); err != nil {
		return nil, err
	}
	p, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	p.IsDelete = true
	p.UpdatedBy = actor.UserID
	p.UpdatedAt = s.now().UTC()
	if err := s.payments.Put(ctx, id, p); err != nil {
		return nil, fmt.Errorf("payment: storing payment %d: %w", id, err)
	}

	s.metrics.ObserveTransition(Model, "delete")
	audit.RecordQuietly(ctx, s.audit, s.logger, audit.Event{
		UserID:   actor.UserID,
		Action:   audit.ActionDelete,
		Model:    Model,
		RecordID: id,
		Details:  map[string]bool{"isDelete": true},
		IP:       ip,
	})
	return &p, nil
}

// CompletedRegistrations reports which of ids have at least one live
// COMPLETED payment.
func (s *Service) CompletedRegistrations(ctx context.Context, ids []int64) (map[int64]bool, error) {
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	found, _, err := s.payments.Find(ctx, storage.Query[Payment]{
		Where: []storage.Filter[Payment]{
			func(p Payment) bool { return want[p.DonorRegistrationID] },
			storage.Eq(func(p Payment) string { return p.Status }, StatusCompleted),
			storage.Eq(func(p Payment) bool { return p.IsDelete }, false),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("payment: finding completed payments: %w", err)
	}
	paid := make(map[int64]bool, len(found))
	for _, p := range found {
		paid[p.DonorRegistrationID] = true
	}
	return paid, nil
}

func (s *Service) load(ctx context.Context, id int64) (Payment, error) {
	p, err := s.payments.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return Payment{}, derrors.NotFound("payment %d not found", id)
	}
	if err != nil {
		return Payment{}, fmt.Errorf("payment: loading payment %d: %w", id, err)
	}
	return p, nil
}

func formatID(id int64) string { return strconv.FormatInt(id, 10) }
