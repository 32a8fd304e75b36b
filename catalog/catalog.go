// Package catalog manages the sellable test services offered at checkout.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jmcleod/donorhub/access"
	"github.com/jmcleod/donorhub/audit"
	"github.com/jmcleod/donorhub/internal/derrors"
	"github.com/jmcleod/donorhub/internal/metrics"
	"github.com/jmcleod/donorhub/internal/opt"
	"github.com/jmcleod/donorhub/internal/util"
	"github.com/jmcleod/donorhub/payment"
	"github.com/jmcleod/donorhub/storage"
)

// Model is the audit model name for catalog services.
const Model = "Service"

const (
	collection     = "services"
	slugCollection = "service_slugs"
	defaultPerPage = 10
	maxPerPage     = 100
)

// Cipher encrypts the lab account and panel references.
type Cipher interface {
	EncryptDeterministic(plaintext string) (string, error)
	DecryptDeterministic(ciphertext string) (string, error)
}

// Record is a stored service. AccountNo and PanelID are deterministic
// ciphertext.
type Record struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	Slug        string         `json:"slug"`
	Description string         `json:"description,omitempty"`
	AccountNo   string         `json:"accountNo,omitempty"`
	PanelID     string         `json:"panelID,omitempty"`
	ServiceFee  payment.Amount `json:"serviceFee"`
	Status      bool           `json:"status"`
	BannerImage string         `json:"bannerImage,omitempty"`
	IsDelete    bool           `json:"isDelete"`
	CreatedBy   int64          `json:"createdBy"`
	UpdatedBy   int64          `json:"updatedBy"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// Service is the decrypted view of a Record.
type Service Record

// CreateInput holds the fields of a new service. An empty Slug is
// derived from Name; an unset Status means active.
type CreateInput struct {
	Name        string          `json:"name"`
	Slug        string          `json:"slug,omitempty"`
	Description string          `json:"description,omitempty"`
	AccountNo   string          `json:"accountNo,omitempty"`
	PanelID     string          `json:"panelID,omitempty"`
	ServiceFee  payment.Amount  `json:"serviceFee"`
	Status      opt.Value[bool] `json:"status,omitzero"`
	BannerImage string          `json:"bannerImage,omitempty"`
}

// Patch is a partial update.
type Patch struct {
	Name        opt.Value[string]         `json:"name,omitzero"`
	Slug        opt.Value[string]         `json:"slug,omitzero"`
	Description opt.Value[string]         `json:"description,omitzero"`
	AccountNo   opt.Value[string]         `json:"accountNo,omitzero"`
	PanelID     opt.Value[string]         `json:"panelID,omitzero"`
	ServiceFee  opt.Value[payment.Amount] `json:"serviceFee,omitzero"`
	Status      opt.Value[bool]           `json:"status,omitzero"`
	BannerImage opt.Value[string]         `json:"bannerImage,omitzero"`
}

// Sort fields.
const (
	SortCreatedAt  = "createdAt"
	SortServiceFee = "serviceFee"
)

// ListParams selects a page of services. Status is "true", "false" or
// empty for both.
type ListParams struct {
	Page      int
	PerPage   int
	Search    string
	Status    string
	MinFee    opt.Value[payment.Amount]
	MaxFee    opt.Value[payment.Amount]
	SortBy    string
	SortOrder string
}

// Page is one page of a listing.
type Page struct {
	Data        []Service `json:"data"`
	Total       int       `json:"total"`
	CurrentPage int       `json:"currentPage"`
	LastPage    int       `json:"lastPage"`
	PerPage     int       `json:"perPage"`
}

// Catalog manages services.
type Catalog struct {
	repo     storage.Repository
	services *storage.Collection[Record]
	cipher   Cipher
	audit    audit.Sink
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Option configures a Catalog.
type Option func(*Catalog)

func WithLogger(l *slog.Logger) Option { return func(c *Catalog) { c.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(c *Catalog) { c.metrics = m } }

func WithClock(now func() time.Time) Option { return func(c *Catalog) { c.now = now } }

// New returns a Catalog storing services in repo.
func New(repo storage.Repository, cipher Cipher, sink audit.Sink, opts ...Option) *Catalog {
	c := &Catalog{
		repo:     repo,
		services: storage.NewCollection[Record](repo, collection),
		cipher:   cipher,
		audit:    sink,
		logger:   slog.New(slog.NewJSONHandler(os.Stderr, nil)),
		now:      time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Create adds a service. Administrators only.
func (c *Catalog) Create(ctx context.Context, in CreateInput, actor access.Identity, ip string) (*Service, error) {
	if err := access.Authorize(actor, access.ResourceService, 0, access.OpCreate); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, derrors.Validation("name is required")
	}
	slug := util.Slugify(in.Slug)
	if slug == "" {
		slug = util.Slugify(name)
	}
	if slug == "" {
		return nil, derrors.Validation("slug is required")
	}
	if in.ServiceFee < 0 {
		return nil, derrors.Validation("serviceFee cannot be negative")
	}
	accountNo, err := c.encrypt(in.AccountNo)
	if err != nil {
		return nil, err
	}
	panelID, err := c.encrypt(in.PanelID)
	if err != nil {
		return nil, err
	}

	id, err := c.repo.NextID(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("catalog: allocating id: %w", err)
	}
	now := c.now().UTC()
	rec := Record{
		ID:          id,
		Name:        name,
		Slug:        slug,
		Description: strings.TrimSpace(in.Description),
		AccountNo:   accountNo,
		PanelID:     panelID,
		ServiceFee:  in.ServiceFee,
		Status:      in.Status.Or(true),
		BannerImage: in.BannerImage,
		CreatedBy:   actor.UserID,
		UpdatedBy:   actor.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = c.repo.Batch(ctx, func(tx storage.BatchTx) error {
		if err := claimSlug(tx, slug, id); err != nil {
			return err
		}
		return c.services.ReplaceTx(tx, id, 0, rec)
	})
	if err != nil {
		if errors.Is(err, derrors.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("catalog: storing service: %w", err)
	}

	c.metrics.ObserveTransition(Model, "create")
	audit.RecordQuietly(ctx, c.audit, c.logger, audit.Event{
		UserID:   actor.UserID,
		Action:   audit.ActionCreate,
		Model:    Model,
		RecordID: id,
		Details:  rec,
		IP:       ip,
	})
	return c.decrypt(rec)
}

// Get returns the service, or nil when none exists. It needs no
// authentication; reads are audited against the caller when known.
func (c *Catalog) Get(ctx context.Context, id int64, actor access.Identity) (*Service, error) {
	rec, err := c.services.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: loading service %d: %w", id, err)
	}
	audit.RecordQuietly(ctx, c.audit, c.logger, audit.Event{
		UserID:   actor.UserID,
		Action:   audit.ActionRead,
		Model:    Model,
		RecordID: id,
	})
	return c.decrypt(rec)
}

// List returns a page of live services.
func (c *Catalog) List(ctx context.Context, p ListParams) (*Page, error) {
	page, perPage := p.Page, p.PerPage
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = defaultPerPage
	}
	perPage = min(perPage, maxPerPage)

	where := []storage.Filter[Record]{
		storage.Eq(func(r Record) bool { return r.IsDelete }, false),
	}
	if search := strings.TrimSpace(p.Search); search != "" {
		anyOf := []storage.Filter[Record]{
			storage.Contains(func(r Record) string { return r.Name }, search),
			storage.Contains(func(r Record) string { return r.Slug }, search),
		}
		if ct, err := c.cipher.EncryptDeterministic(search); err == nil {
			anyOf = append(anyOf,
				storage.Eq(func(r Record) string { return r.AccountNo }, ct),
				storage.Eq(func(r Record) string { return r.PanelID }, ct))
		}
		where = append(where, storage.AnyOf(anyOf...))
	}
	switch strings.ToLower(strings.TrimSpace(p.Status)) {
	case "true":
		where = append(where, storage.Eq(func(r Record) bool { return r.Status }, true))
	case "false":
		where = append(where, storage.Eq(func(r Record) bool { return r.Status }, false))
	}
	if p.MinFee.Set || p.MaxFee.Set {
		var lo, hi *payment.Amount
		if v, ok := p.MinFee.Get(); ok {
			lo = &v
		}
		if v, ok := p.MaxFee.Get(); ok {
			hi = &v
		}
		where = append(where, storage.Between(func(r Record) payment.Amount { return r.ServiceFee }, lo, hi))
	}

	desc := !strings.EqualFold(p.SortOrder, "asc")
	var order storage.Order[Record]
	switch p.SortBy {
	case "", SortCreatedAt:
		order = storage.By(func(r Record) int64 { return r.CreatedAt.UnixNano() }, desc)
	case SortServiceFee:
		order = storage.By(func(r Record) payment.Amount { return r.ServiceFee }, desc)
	default:
		return nil, derrors.Validation("cannot sort by %q", p.SortBy)
	}

	recs, total, err := c.services.Find(ctx, storage.Query[Record]{
		Where:  where,
		Order:  order,
		Offset: (page - 1) * perPage,
		Limit:  perPage,
	})
	if err != nil {
		return nil, fmt.Errorf("catalog: listing services: %w", err)
	}
	data := make([]Service, 0, len(recs))
	for _, r := range recs {
		s, err := c.decrypt(r)
		if err != nil {
			return nil, err
		}
		data = append(data, *s)
	}
	return &Page{
		Data:        data,
		Total:       total,
		CurrentPage: page,
		LastPage:    (total + perPage - 1) / perPage,
		PerPage:     perPage,
	}, nil
}

// Update applies a partial update. Administrators only.
func (c *Catalog) Update(ctx context.Context, id int64, p Patch, actor access.Identity, ip string) (*Service, error) {
	if err := access.Authorize(actor, access.ResourceService, 0, access.OpUpdate); err != nil {
		return nil, err
	}
	var updated Record
	err := c.repo.Batch(ctx, func(tx storage.BatchTx) error {
		doc, err := c.services.LoadTx(tx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return derrors.NotFound("service %d not found", id)
		}
		if err != nil {
			return err
		}
		rec := doc.Value
		if err := c.applyPatch(tx, &rec, p); err != nil {
			return err
		}
		rec.UpdatedBy = actor.UserID
		rec.UpdatedAt = c.now().UTC()
		updated = rec
		return c.services.ReplaceTx(tx, id, doc.Version, rec)
	})
	switch {
	case errors.Is(err, storage.ErrCASFailed):
		return nil, derrors.Conflict("service %d was modified concurrently", id)
	case derrors.CodeOf(err) != derrors.CodeInternal:
		return nil, err
	case err != nil:
		return nil, fmt.Errorf("catalog: updating service %d: %w", id, err)
	}

	c.metrics.ObserveTransition(Model, "update")
	audit.RecordQuietly(ctx, c.audit, c.logger, audit.Event{
		UserID:   actor.UserID,
		Action:   audit.ActionUpdate,
		Model:    Model,
		RecordID: id,
		Details:  p,
		IP:       ip,
	})
	return c.decrypt(updated)
}

func (c *Catalog) applyPatch(tx storage.BatchTx, rec *Record, p Patch) error {
	if name, ok := p.Name.Get(); ok {
		if name = strings.TrimSpace(name); name == "" {
			return derrors.Validation("name cannot be empty")
		}
		rec.Name = name
	}
	if raw, ok := p.Slug.Get(); ok {
		slug := util.Slugify(raw)
		if slug == "" {
			return derrors.Validation("slug cannot be empty")
		}
		if slug != rec.Slug {
			if err := claimSlug(tx, slug, rec.ID); err != nil {
				return err
			}
			if err := releaseSlug(tx, rec.Slug, rec.ID); err != nil {
				return err
			}
			rec.Slug = slug
		}
	}
	if v, ok := p.Description.Get(); ok {
		rec.Description = strings.TrimSpace(v)
	}
	if v, ok := p.AccountNo.Get(); ok {
		ct, err := c.encrypt(v)
		if err != nil {
			return err
		}
		rec.AccountNo = ct
	}
	if v, ok := p.PanelID.Get(); ok {
		ct, err := c.encrypt(v)
		if err != nil {
			return err
		}
		rec.PanelID = ct
	}
	if v, ok := p.ServiceFee.Get(); ok {
		if v < 0 {
			return derrors.Validation("serviceFee cannot be negative")
		}
		rec.ServiceFee = v
	}
	if v, ok := p.Status.Get(); ok {
		rec.Status = v
	}
	if v, ok := p.BannerImage.Get(); ok {
		rec.BannerImage = v
	}
	return nil
}

// SoftDelete hides the service from listings. Administrators only.
func (c *Catalog) SoftDelete(ctx context.Context, id int64, actor access.Identity, ip string) (*Service, error) {
	if err := access.Authorize(actor, access.ResourceService, 0, access.OpSoftDelete); err != nil {
		return nil, err
	}
	doc, err := c.services.Load(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, derrors.NotFound("service %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: loading service %d: %w", id, err)
	}
	rec := doc.Value
	rec.IsDelete = true
	rec.UpdatedBy = actor.UserID
	rec.UpdatedAt = c.now().UTC()
	if err := c.services.Replace(ctx, id, doc.Version, rec); err != nil {
		if errors.Is(err, storage.ErrCASFailed) {
			return nil, derrors.Conflict("service %d was modified concurrently", id)
		}
		return nil, fmt.Errorf("catalog: storing service %d: %w", id, err)
	}

	c.metrics.ObserveTransition(Model, "delete")
	audit.RecordQuietly(ctx, c.audit, c.logger, audit.Event{
		UserID:   actor.UserID,
		Action:   audit.ActionDelete,
		Model:    Model,
		RecordID: id,
		Details:  map[string]bool{"isDelete": true},
		IP:       ip,
	})
	return c.decrypt(rec)
}

// Quote returns the current name and fee in minor units of a sellable
// service. Deleted and inactive services cannot be sold.
func (c *Catalog) Quote(ctx context.Context, serviceID string) (string, int64, error) {
	id, err := parseID(serviceID)
	if err != nil {
		return "", 0, err
	}
	rec, err := c.services.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return "", 0, derrors.NotFound("service %s not found", serviceID)
	}
	if err != nil {
		return "", 0, fmt.Errorf("catalog: loading service %d: %w", id, err)
	}
	if rec.IsDelete || !rec.Status {
		return "", 0, derrors.Validation("service %s is not available", serviceID)
	}
	return rec.Name, rec.ServiceFee.Minor(), nil
}

func (c *Catalog) encrypt(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	ct, err := c.cipher.EncryptDeterministic(s)
	if err != nil {
		return "", fmt.Errorf("catalog: encrypting field: %w", err)
	}
	return ct, nil
}

func (c *Catalog) decrypt(rec Record) (*Service, error) {
	s := Service(rec)
	for _, f := range []*string{&s.AccountNo, &s.PanelID} {
		if *f == "" {
			continue
		}
		pt, err := c.cipher.DecryptDeterministic(*f)
		if err != nil {
			return nil, fmt.Errorf("catalog: decrypting service %d: %w", rec.ID, err)
		}
		*f = pt
	}
	return &s, nil
}
