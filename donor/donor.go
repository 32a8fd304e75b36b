// Package donor manages the donor registration lifecycle: creation,
// listing, updates, soft deletion, rejection and confirmation with the
// laboratory. PII is encrypted before it reaches storage and decrypted
// before it leaves the package.
package donor

//go:generate mockgen -source=donor.go -destination=mocks/mocks.go -package=mocks LabRegistrar PaidLookup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jmcleod/donorhub/access"
	"github.com/jmcleod/donorhub/audit"
	"github.com/jmcleod/donorhub/internal/derrors"
	"github.com/jmcleod/donorhub/internal/metrics"
	"github.com/jmcleod/donorhub/internal/opt"
	"github.com/jmcleod/donorhub/lab"
	"github.com/jmcleod/donorhub/notify"
	"github.com/jmcleod/donorhub/storage"
)

const (
	collection     = "donor_registrations"
	defaultPerPage = 10
	maxPerPage     = 100
	confirmTimeout = 30 * time.Second
)

// Cipher is the subset of the cipher engine the lifecycle needs.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
	EncryptDeterministic(plaintext string) (string, error)
	DecryptDeterministic(ciphertext string) (string, error)
	BlindIndex(value string) (string, error)
}

// LabRegistrar submits registrations to the laboratory.
type LabRegistrar interface {
	RegisterDonor(ctx context.Context, r lab.Registration) (string, error)
}

// PaidLookup reports which registrations have a completed payment.
type PaidLookup interface {
	CompletedRegistrations(ctx context.Context, ids []int64) (map[int64]bool, error)
}

// PaidLookupFunc adapts a function to PaidLookup.
type PaidLookupFunc func(ctx context.Context, ids []int64) (map[int64]bool, error)

func (f PaidLookupFunc) CompletedRegistrations(ctx context.Context, ids []int64) (map[int64]bool, error) {
	return f(ctx, ids)
}

// Service is the donor registration lifecycle.
type Service struct {
	records *storage.Collection[Record]
	cipher  Cipher
	audit   audit.Sink
	lab     LabRegistrar
	paid    PaidLookup
	mailer  notify.Mailer
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLab sets the laboratory used by ConfirmDirect and Confirm.
func WithLab(l LabRegistrar) Option { return func(s *Service) { s.lab = l } }

// WithPaidLookup sets the source of the Paid/Unpaid annotation.
func WithPaidLookup(p PaidLookup) Option { return func(s *Service) { s.paid = p } }

// WithMailer sets the mailer for rejection notices.
func WithMailer(m notify.Mailer) Option { return func(s *Service) { s.mailer = m } }

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService returns a Service storing registrations in repo.
func NewService(repo storage.Repository, c Cipher, sink audit.Sink, opts ...Option) *Service {
	s := &Service{
		records: storage.NewCollection[Record](repo, collection),
		cipher:  c,
		audit:   sink,
		logger:  slog.New(slog.NewJSONHandler(os.Stderr, nil)),
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create validates and stores a new registration, then records a CREATE
// audit entry with the stored record as details.
func (s *Service) Create(ctx context.Context, in CreateInput, ip string) (*Record, error) {
	if in.UserID == 0 {
		return nil, derrors.Validation("userId is required")
	}
	if in.CreatedBy == 0 {
		return nil, derrors.Validation("createdBy is required")
	}
	if strings.TrimSpace(in.PanelID) == "" {
		return nil, derrors.Validation("panelId is required")
	}
	if strings.TrimSpace(in.RegistrationExpirationDate) == "" {
		return nil, derrors.Validation("registrationExpirationDate is required")
	}
	expires, err := ParseDate(in.RegistrationExpirationDate)
	if err != nil {
		return nil, err
	}
	dob, err := optionalDate(in.DonorDateOfBirth)
	if err != nil {
		return nil, err
	}
	status := StatusPending
	if in.Status != "" {
		if status, err = ParseStatus(string(in.Status)); err != nil {
			return nil, err
		}
	}
	updatedBy := in.UpdatedBy
	if updatedBy == 0 {
		updatedBy = in.CreatedBy
	}

	e := encrypter{c: s.cipher}
	proto := Record{
		UserID:                     in.UserID,
		DonorNameFirst:             e.random(in.DonorNameFirst),
		DonorNameFirstIndex:        e.index(in.DonorNameFirst),
		DonorNameLast:              e.random(in.DonorNameLast),
		DonorNameLastIndex:         e.index(in.DonorNameLast),
		DonorSex:                   e.random(in.DonorSex),
		DonorDateOfBirth:           e.nullable(dob),
		DonorSSN:                   e.nullable(in.DonorSSN),
		DonorSSNIndex:              e.index(in.DonorSSN),
		DonorEmail:                 e.random(in.DonorEmail),
		DonorStateOfResidence:      e.random(in.DonorStateOfResidence),
		ReasonForTest:              e.nullable(in.ReasonForTest),
		TestingAuthority:           e.nullable(in.TestingAuthority),
		ServiceID:                  e.deterministic(in.ServiceID),
		AccountNo:                  e.deterministic(in.AccountNo),
		PanelID:                    strings.TrimSpace(in.PanelID),
		RegistrationExpirationDate: expires,
		LabcorpRegistrationNumber:  strings.TrimSpace(in.LabcorpRegistrationNumber),
		Status:                     status,
		IsActive:                   true,
		SplitSpecimenRequested:     true,
		CreatedBy:                  in.CreatedBy,
		UpdatedBy:                  updatedBy,
		CreatedByIP:                ip,
		UpdatedByIP:                ip,
	}
	if e.err != nil {
		return nil, fmt.Errorf("donor: encrypting registration: %w", e.err)
	}

	now := s.now().UTC()
	created, err := s.records.Insert(ctx, func(id int64) Record {
		r := proto
		r.ID = id
		r.CreatedAt = now
		r.UpdatedAt = now
		return r
	})
	if err != nil {
		return nil, fmt.Errorf("donor: storing registration: %w", err)
	}

	s.metrics.ObserveTransition(Model, "create")
	audit.RecordQuietly(ctx, s.audit, s.logger, audit.Event{
		UserID:   in.CreatedBy,
		Action:   audit.ActionCreate,
		Model:    Model,
		RecordID: created.ID,
		Details:  created,
		IP:       ip,
	})
	return &created, nil
}

// List returns a page of live registrations, newest first. Callers other
// than administrators only see their own.
func (s *Service) List(ctx context.Context, p ListParams, actor access.Identity) (*Page, error) {
	if actor.Anonymous() {
		return nil, derrors.Unauthorized("authentication required")
	}
	page, perPage := normalizePage(p.Page, p.PerPage)

	where := []storage.Filter[Record]{
		storage.Eq(func(r Record) bool { return r.IsDelete }, false),
	}
	if !actor.IsAdmin() {
		where = append(where, storage.Eq(func(r Record) int64 { return r.UserID }, actor.UserID))
	}
	if status := strings.TrimSpace(p.Status); status != "" {
		where = append(where, storage.Eq(func(r Record) Status { return r.Status }, Status(strings.ToUpper(status))))
	}
	if search := strings.TrimSpace(p.Search); search != "" {
		f, err := s.searchFilter(search)
		if err != nil {
			return nil, err
		}
		where = append(where, f)
	}

	records, total, err := s.records.Find(ctx, storage.Query[Record]{
		Where: where,
		Order: storage.By(func(r Record) int64 { return r.CreatedAt.UnixNano() }, true).
			Then(storage.By(func(r Record) int64 { return r.ID }, true)),
		Offset: (page - 1) * perPage,
		Limit:  perPage,
	})
	if err != nil {
		return nil, fmt.Errorf("donor: listing registrations: %w", err)
	}

	ids := make([]int64, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	var paid map[int64]bool
	views := make([]Registration, len(records))

	g, gctx := errgroup.WithContext(ctx)
	if s.paid != nil && len(ids) > 0 {
		g.Go(func() error {
			var err error
			paid, err = s.paid.CompletedRegistrations(gctx, ids)
			return err
		})
	}
	g.Go(func() error {
		for i, r := range records {
			v, err := s.decrypt(r)
			if err != nil {
				return err
			}
			views[i] = *v
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("donor: assembling listing: %w", err)
	}
	for i := range views {
		views[i].PaymentStatus = Unpaid
		if paid[views[i].ID] {
			views[i].PaymentStatus = Paid
		}
	}

	return &Page{
		Data:        views,
		Total:       total,
		CurrentPage: page,
		LastPage:    (total + perPage - 1) / perPage,
		PerPage:     perPage,
	}, nil
}

// searchFilter matches exact names and SSNs through their blind indexes,
// exact account and service numbers by deterministic ciphertext, and
// substrings of the plaintext panel and laboratory numbers.
func (s *Service) searchFilter(search string) (storage.Filter[Record], error) {
	idx, err := s.cipher.BlindIndex(search)
	if err != nil {
		return nil, fmt.Errorf("donor: indexing search: %w", err)
	}
	det, err := s.cipher.EncryptDeterministic(search)
	if err != nil {
		return nil, fmt.Errorf("donor: encrypting search: %w", err)
	}
	return storage.AnyOf(
		storage.Eq(func(r Record) string { return r.DonorNameFirstIndex }, idx),
		storage.Eq(func(r Record) string { return r.DonorNameLastIndex }, idx),
		storage.Eq(func(r Record) string { return r.DonorSSNIndex }, idx),
		storage.Eq(func(r Record) string { return r.AccountNo }, det),
		storage.Eq(func(r Record) string { return r.ServiceID }, det),
		storage.Contains(func(r Record) string { return r.PanelID }, search),
		storage.Contains(func(r Record) string { return r.LabcorpRegistrationNumber }, search),
	), nil
}

// Get returns the decrypted registration, or nil when none exists.
// Soft-deleted registrations are still returned.
func (s *Service) Get(ctx context.Context, id int64, actor access.Identity) (*Registration, error) {
	if actor.Anonymous() {
		return nil, derrors.Unauthorized("authentication required")
	}
	rec, err := s.records.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("donor: loading registration %d: %w", id, err)
	}
	if err := access.Authorize(actor, access.ResourceDonorRegistration, rec.UserID, access.OpRead); err != nil {
		return nil, err
	}
	return s.decrypt(rec)
}

// OwnerOf returns the id of the user who owns the registration.
// Soft-deleted registrations still have an owner.
func (s *Service) OwnerOf(ctx context.Context, id int64) (int64, error) {
	rec, err := s.load(ctx, id)
	if err != nil {
		return 0, err
	}
	return rec.UserID, nil
}

// Update applies p to the registration and records the patch in an
// UPDATE audit entry.
func (s *Service) Update(ctx context.Context, id int64, p Patch, ip string, actor access.Identity) (*Registration, error) {
	rec, err := s.loadAuthorized(ctx, id, actor, access.OpUpdate)
	if err != nil {
		return nil, err
	}
	if err := s.applyPatch(&rec, p); err != nil {
		return nil, err
	}
	s.stamp(&rec, actor, ip)
	if err := s.records.Put(ctx, id, rec); err != nil {
		return nil, fmt.Errorf("donor: storing registration %d: %w", id, err)
	}

	s.metrics.ObserveTransition(Model, "update")
	audit.RecordQuietly(ctx, s.audit, s.logger, audit.Event{
		UserID:   actor.UserID,
		Action:   audit.ActionUpdate,
		Model:    Model,
		RecordID: id,
		Details:  p,
		IP:       ip,
	})
	return s.decrypt(rec)
}

// SoftDelete flags the registration as deleted.
func (s *Service) SoftDelete(ctx context.Context, id int64, actor access.Identity, ip string) (*Registration, error) {
	rec, err := s.loadAuthorized(ctx, id, actor, access.OpSoftDelete)
	if err != nil {
		return nil, err
	}
	rec.IsDelete = true
	s.stamp(&rec, actor, ip)
	if err := s.records.Put(ctx, id, rec); err != nil {
		return nil, fmt.Errorf("donor: storing registration %d: %w", id, err)
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
	return s.decrypt(rec)
}

// Reject marks a pending registration REJECTED and notifies the donor.
// A failed notification is logged; the rejection stands.
func (s *Service) Reject(ctx context.Context, id int64, reason string, actor access.Identity, ip string) (*Registration, error) {
	if err := access.RequireAdmin(actor, "rejecting a registration"); err != nil {
		return nil, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, derrors.Validation("reject reason is required")
	}
	rec, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.Status != StatusPending {
		return nil, derrors.Conflict("registration %d is %s, only PENDING registrations can be rejected", id, rec.Status)
	}
	rec.Status = StatusRejected
	rec.RejectReason = reason
	s.stamp(&rec, actor, ip)
	if err := s.records.Put(ctx, id, rec); err != nil {
		return nil, fmt.Errorf("donor: storing registration %d: %w", id, err)
	}

	s.metrics.ObserveTransition(Model, "reject")
	audit.RecordQuietly(ctx, s.audit, s.logger, audit.Event{
		UserID:   actor.UserID,
		Action:   audit.ActionUpdate,
		Model:    Model,
		RecordID: id,
		Details:  map[string]string{"status": string(StatusRejected), "rejectReason": reason},
		IP:       ip,
	})

	view, err := s.decrypt(rec)
	if err != nil {
		return nil, err
	}
	s.notifyRejection(ctx, view)
	return view, nil
}

func (s *Service) notifyRejection(ctx context.Context, r *Registration) {
	if s.mailer == nil || strings.TrimSpace(r.DonorEmail) == "" {
		return
	}
	msg := notify.RejectionNotice(r.DonorEmail, r.DonorNameFirst, r.DonorNameLast, r.RejectReason)
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.logger.WarnContext(ctx, "rejection notice not delivered",
			slog.Int64("registration_id", r.ID),
			slog.String("error", err.Error()))
	}
}

// ConfirmDirect submits req to the laboratory and returns the issued
// registration number.
func (s *Service) ConfirmDirect(ctx context.Context, req ConfirmRequest) (*ConfirmResult, error) {
	reg, err := req.registration()
	if err != nil {
		return nil, err
	}
	number, err := s.register(ctx, reg)
	if err != nil {
		return nil, err
	}
	return &ConfirmResult{Success: true, LabcorpRegistrationNumber: number}, nil
}

func (req ConfirmRequest) registration() (lab.Registration, error) {
	if strings.TrimSpace(req.DonorDateOfBirth) == "" {
		return lab.Registration{}, derrors.Validation("donorDateOfBirth is required")
	}
	dob, err := ParseDate(req.DonorDateOfBirth)
	if err != nil {
		return lab.Registration{}, err
	}
	if strings.TrimSpace(req.RegistrationExpirationDate) == "" {
		return lab.Registration{}, derrors.Validation("registrationExpirationDate is required")
	}
	expires, err := ParseDate(req.RegistrationExpirationDate)
	if err != nil {
		return lab.Registration{}, err
	}
	return lab.Registration{
		DonorNameFirst:             strings.TrimSpace(req.DonorNameFirst),
		DonorNameLast:              strings.TrimSpace(req.DonorNameLast),
		DonorSex:                   strings.TrimSpace(req.DonorSex),
		DonorDateOfBirth:           dob,
		DonorSSN:                   strings.TrimSpace(req.DonorSSN),
		DonorStateOfResidence:      strings.TrimSpace(req.DonorStateOfResidence),
		PanelID:                    strings.TrimSpace(req.PanelID),
		AccountNumber:              strings.TrimSpace(req.AccountNumber),
		TestingAuthority:           strings.TrimSpace(req.TestingAuthority),
		RegistrationExpirationDate: expires,
		DonorReasonForTest:         strings.TrimSpace(req.DonorReasonForTest),
	}, nil
}

// register calls the laboratory within confirmTimeout. Failures without a
// domain code surface as external service errors.
func (s *Service) register(ctx context.Context, reg lab.Registration) (string, error) {
	if s.lab == nil {
		return "", derrors.ExternalService(errors.New("no laboratory client configured"), "laboratory unavailable")
	}
	ctx, cancel := context.WithTimeout(ctx, confirmTimeout)
	defer cancel()
	number, err := s.lab.RegisterDonor(ctx, reg)
	if err != nil {
		if derrors.CodeOf(err) == derrors.CodeInternal {
			err = derrors.ExternalService(err, "laboratory confirmation failed")
		}
		return "", err
	}
	return number, nil
}

// Confirm sends a pending registration to the laboratory and stores the
// returned registration number, moving it to CONFIRMED.
func (s *Service) Confirm(ctx context.Context, id int64, actor access.Identity, ip string) (*Registration, error) {
	if actor.Anonymous() {
		return nil, derrors.Unauthorized("authentication required")
	}
	doc, err := s.records.Load(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, derrors.NotFound("registration %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("donor: loading registration %d: %w", id, err)
	}
	rec := doc.Value
	if err := access.Authorize(actor, access.ResourceDonorRegistration, rec.UserID, access.OpUpdate); err != nil {
		return nil, err
	}
	if rec.IsDelete {
		return nil, derrors.Conflict("registration %d is deleted", id)
	}
	if rec.Status != StatusPending {
		return nil, derrors.Conflict("registration %d is %s, only PENDING registrations can be confirmed", id, rec.Status)
	}
	view, err := s.decrypt(rec)
	if err != nil {
		return nil, err
	}

	reg, err := ConfirmRequest{
		DonorNameFirst:             view.DonorNameFirst,
		DonorNameLast:              view.DonorNameLast,
		DonorSex:                   view.DonorSex,
		DonorDateOfBirth:           view.DonorDateOfBirth,
		DonorSSN:                   view.DonorSSN,
		DonorStateOfResidence:      view.DonorStateOfResidence,
		PanelID:                    view.PanelID,
		AccountNumber:              view.AccountNo,
		TestingAuthority:           view.TestingAuthority,
		RegistrationExpirationDate: view.RegistrationExpirationDate.Format("2006-01-02"),
		DonorReasonForTest:         view.ReasonForTest,
	}.registration()
	if err != nil {
		return nil, err
	}
	reg.SplitSpecimenRequested = rec.SplitSpecimenRequested
	number, err := s.register(ctx, reg)
	if err != nil {
		return nil, err
	}

	rec.LabcorpRegistrationNumber = number
	rec.Status = StatusConfirmed
	s.stamp(&rec, actor, ip)
	if err := s.records.Replace(ctx, id, doc.Version, rec); err != nil {
		if errors.Is(err, storage.ErrCASFailed) {
			return nil, derrors.Conflict("registration %d changed during confirmation", id)
		}
		return nil, fmt.Errorf("donor: storing registration %d: %w", id, err)
	}

	s.metrics.ObserveTransition(Model, "confirm")
	audit.RecordQuietly(ctx, s.audit, s.logger, audit.Event{
		UserID:   actor.UserID,
		Action:   audit.ActionUpdate,
		Model:    Model,
		RecordID: id,
		Details: map[string]string{
			"status":                    string(StatusConfirmed),
			"labcorpRegistrationNumber": number,
		},
		IP: ip,
	})
	view.LabcorpRegistrationNumber = rec.LabcorpRegistrationNumber
	view.Status = rec.Status
	view.UpdatedBy, view.UpdatedByIP, view.UpdatedAt = rec.UpdatedBy, rec.UpdatedByIP, rec.UpdatedAt
	return view, nil
}

func (s *Service) load(ctx context.Context, id int64) (Record, error) {
	rec, err := s.records.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return Record{}, derrors.NotFound("registration %d not found", id)
	}
	if err != nil {
		return Record{}, fmt.Errorf("donor: loading registration %d: %w", id, err)
	}
	return rec, nil
}

func (s *Service) loadAuthorized(ctx context.Context, id int64, actor access.Identity, op access.Operation) (Record, error) {
	if actor.Anonymous() {
		return Record{}, derrors.Unauthorized("authentication required")
	}
	rec, err := s.load(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if err := access.Authorize(actor, access.ResourceDonorRegistration, rec.UserID, op); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *Service) stamp(r *Record, actor access.Identity, ip string) {
	r.UpdatedBy = actor.UserID
	r.UpdatedByIP = ip
	r.UpdatedAt = s.now().UTC()
}

// applyPatch merges p into r, encrypting each present value.
func (s *Service) applyPatch(r *Record, p Patch) error {
	e := encrypter{c: s.cipher}

	required := func(name string, v opt.Value[string], dst, idx *string) error {
		val, ok := v.Get()
		if !ok {
			return nil
		}
		if strings.TrimSpace(val) == "" {
			return derrors.Validation("%s cannot be cleared", name)
		}
		*dst = e.random(val)
		if idx != nil {
			*idx = e.index(val)
		}
		return nil
	}
	nullable := func(v opt.Value[string], dst, idx *string) {
		if val, ok := v.Get(); ok {
			*dst = e.nullable(val)
			if idx != nil {
				*idx = e.index(val)
			}
		}
	}

	for _, f := range []struct {
		name string
		v    opt.Value[string]
		dst  *string
		idx  *string
	}{
		{"donorNameFirst", p.DonorNameFirst, &r.DonorNameFirst, &r.DonorNameFirstIndex},
		{"donorNameLast", p.DonorNameLast, &r.DonorNameLast, &r.DonorNameLastIndex},
		{"donorEmail", p.DonorEmail, &r.DonorEmail, nil},
		{"donorStateOfResidence", p.DonorStateOfResidence, &r.DonorStateOfResidence, nil},
	} {
		if err := required(f.name, f.v, f.dst, f.idx); err != nil {
			return err
		}
	}
	nullable(p.DonorSex, &r.DonorSex, nil)
	nullable(p.DonorSSN, &r.DonorSSN, &r.DonorSSNIndex)
	nullable(p.ReasonForTest, &r.ReasonForTest, nil)
	nullable(p.TestingAuthority, &r.TestingAuthority, nil)

	if v, ok := p.DonorDateOfBirth.Get(); ok {
		dob, err := optionalDate(v)
		if err != nil {
			return err
		}
		r.DonorDateOfBirth = e.nullable(dob)
	}
	if v, ok := p.ServiceID.Get(); ok {
		r.ServiceID = e.deterministic(v)
	}
	if v, ok := p.AccountNo.Get(); ok {
		r.AccountNo = e.deterministic(v)
	}
	if v, ok := p.PanelID.Get(); ok {
		if strings.TrimSpace(v) == "" {
			return derrors.Validation("panelId cannot be cleared")
		}
		r.PanelID = strings.TrimSpace(v)
	}
	if v, ok := p.RegistrationExpirationDate.Get(); ok {
		if strings.TrimSpace(v) == "" {
			return derrors.Validation("registrationExpirationDate cannot be cleared")
		}
		t, err := ParseDate(v)
		if err != nil {
			return err
		}
		r.RegistrationExpirationDate = t
	}
	if v, ok := p.LabcorpRegistrationNumber.Get(); ok {
		r.LabcorpRegistrationNumber = strings.TrimSpace(v)
	}
	if v, ok := p.IsActive.Get(); ok {
		r.IsActive = v
	}
	if v, ok := p.SplitSpecimenRequested.Get(); ok {
		r.SplitSpecimenRequested = v
	}
	if e.err != nil {
		return fmt.Errorf("donor: encrypting patch: %w", e.err)
	}
	return nil
}

func (s *Service) decrypt(r Record) (*Registration, error) {
	d := decrypter{c: s.cipher}
	v := &Registration{
		ID:                         r.ID,
		UserID:                     r.UserID,
		DonorNameFirst:             d.random(r.DonorNameFirst),
		DonorNameLast:              d.random(r.DonorNameLast),
		DonorSex:                   d.random(r.DonorSex),
		DonorDateOfBirth:           d.random(r.DonorDateOfBirth),
		DonorSSN:                   d.random(r.DonorSSN),
		DonorEmail:                 d.random(r.DonorEmail),
		DonorStateOfResidence:      d.random(r.DonorStateOfResidence),
		ReasonForTest:              d.random(r.ReasonForTest),
		TestingAuthority:           d.random(r.TestingAuthority),
		ServiceID:                  d.deterministic(r.ServiceID),
		AccountNo:                  d.deterministic(r.AccountNo),
		PanelID:                    r.PanelID,
		RegistrationExpirationDate: r.RegistrationExpirationDate,
		LabcorpRegistrationNumber:  r.LabcorpRegistrationNumber,
		Status:                     r.Status,
		RejectReason:               r.RejectReason,
		IsDelete:                   r.IsDelete,
		IsActive:                   r.IsActive,
		SplitSpecimenRequested:     r.SplitSpecimenRequested,
		CreatedBy:                  r.CreatedBy,
		UpdatedBy:                  r.UpdatedBy,
		CreatedByIP:                r.CreatedByIP,
		UpdatedByIP:                r.UpdatedByIP,
		CreatedAt:                  r.CreatedAt,
		UpdatedAt:                  r.UpdatedAt,
	}
	if d.err != nil {
		return nil, fmt.Errorf("donor: decrypting registration %d: %w", r.ID, d.err)
	}
	return v, nil
}

func normalizePage(page, perPage int) (int, int) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = defaultPerPage
	}
	return page, min(perPage, maxPerPage)
}

// optionalDate normalises a possibly empty date to YYYY-MM-DD.
func optionalDate(s string) (string, error) {
	if strings.TrimSpace(s) == "" {
		return "", nil
	}
	t, err := ParseDate(s)
	if err != nil {
		return "", err
	}
	return t.Format("2006-01-02"), nil
}
