// Package user is the account directory: registration, login with signed
// session tokens, profile updates and password reset codes.
package user

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/jmcleod/donorhub/access"
	"github.com/jmcleod/donorhub/audit"
	"github.com/jmcleod/donorhub/internal/derrors"
	"github.com/jmcleod/donorhub/internal/metrics"
	"github.com/jmcleod/donorhub/internal/opt"
	"github.com/jmcleod/donorhub/internal/util"
	"github.com/jmcleod/donorhub/notify"
	"github.com/jmcleod/donorhub/storage"
)

const (
	collection      = "users"
	emailCollection = "user_emails"
	nameCollection  = "user_names"
)

// Cipher is the field encryption the directory needs.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
	EncryptDeterministic(plaintext string) (string, error)
	DecryptDeterministic(ciphertext string) (string, error)
}

// Directory manages user accounts.
type Directory struct {
	repo          storage.Repository
	users         *storage.Collection[User]
	cipher        Cipher
	audit         audit.Sink
	tokens        *Tokens
	codes         CodeStore
	mailer        notify.Mailer
	logger        *slog.Logger
	metrics       *metrics.Metrics
	now           func() time.Time
	bcryptCost    int
	throttle      *loginThrottle
	// resetAttempts limits guesses at password reset codes.
	resetAttempts *failureLimiter
}

// Option configures a Directory.
type Option func(*Directory)

func WithLogger(l *slog.Logger) Option { return func(d *Directory) { d.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(d *Directory) { d.metrics = m } }

func WithMailer(m notify.Mailer) Option { return func(d *Directory) { d.mailer = m } }

// WithCodeStore replaces the storage-backed reset code store.
func WithCodeStore(c CodeStore) Option { return func(d *Directory) { d.codes = c } }

// WithClock sets the time source for timestamps, reset codes and login
// throttling.
func WithClock(now func() time.Time) Option { return func(d *Directory) { d.now = now } }

// WithBcryptCost sets the password hashing cost.
func WithBcryptCost(cost int) Option { return func(d *Directory) { d.bcryptCost = cost } }

// NewDirectory returns a Directory storing accounts in repo.
func NewDirectory(repo storage.Repository, cipher Cipher, sink audit.Sink, tokens *Tokens, opts ...Option) *Directory {
	d := &Directory{
		repo:       repo,
		users:      storage.NewCollection[User](repo, collection),
		cipher:     cipher,
		audit:      sink,
		tokens:     tokens,
		logger:     slog.New(slog.NewJSONHandler(os.Stderr, nil)),
		now:        time.Now,
		bcryptCost: bcrypt.DefaultCost,
	}
	for _, o := range opts {
		o(d)
	}
	if d.codes == nil {
		d.codes = NewStorageCodeStore(repo)
	}
	d.throttle = newLoginThrottle(d.now)
	d.resetAttempts = newFailureLimiter(resetLimits, d.now)
	return d
}

// Tokens returns the session token issuer.
func (d *Directory) Tokens() *Tokens { return d.tokens }

// Register creates an account. Usernames and email addresses are unique.
func (d *Directory) Register(ctx context.Context, in RegisterInput, ip string) (*Profile, error) {
	email := NormalizeEmail(in.Email)
	switch {
	case strings.TrimSpace(in.Username) == "":
		return nil, derrors.Validation("username is required")
	case email == "":
		return nil, derrors.Validation("email is required")
	case !strings.Contains(email, "@"):
		return nil, derrors.Validation("email is invalid")
	case in.Password == "":
		return nil, derrors.Validation("password is required")
	}
	role := access.RoleUser
	if in.Role != "" {
		r, err := access.ParseRole(string(in.Role))
		if err != nil {
			return nil, err
		}
		role = r
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), d.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("user: hashing password: %w", err)
	}
	emailCT, err := d.cipher.EncryptDeterministic(email)
	if err != nil {
		return nil, fmt.Errorf("user: encrypting email: %w", err)
	}
	u := User{
		Username:     strings.TrimSpace(in.Username),
		Email:        emailCT,
		PasswordHash: string(hash),
		Role:         role,
		IsActive:     true,
	}
	if u.Phone, err = d.encryptOptional(in.Phone); err != nil {
		return nil, err
	}
	if u.FirstName, err = d.encryptOptional(in.FirstName); err != nil {
		return nil, err
	}
	if u.LastName, err = d.encryptOptional(in.LastName); err != nil {
		return nil, err
	}

	id, err := d.repo.NextID(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("user: allocating id: %w", err)
	}
	now := d.now().UTC()
	u.ID, u.CreatedAt, u.UpdatedAt = id, now, now

	err = d.repo.Batch(ctx, func(tx storage.BatchTx) error {
		if err := claimTx(tx, emailCollection, emailCT, id); err != nil {
			return err
		}
		if err := claimTx(tx, nameCollection, usernameKey(u.Username), id); err != nil {
			return err
		}
		return d.users.ReplaceTx(tx, id, 0, u)
	})
	if err != nil {
		if errors.Is(err, derrors.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("user: storing user: %w", err)
	}

	d.metrics.ObserveTransition(Model, "create")
	audit.RecordQuietly(ctx, d.audit, d.logger, audit.Event{
		UserID:   id,
		Action:   audit.ActionCreate,
		Model:    Model,
		RecordID: id,
		Details:  redacted(u),
		IP:       ip,
	})
	return d.profile(u)
}

// FindByEmail returns the account registered under email, or nil.
func (d *Directory) FindByEmail(ctx context.Context, email string) (*Profile, error) {
	u, err := d.byEmail(ctx, email)
	if err != nil || u == nil {
		return nil, err
	}
	return d.profile(*u)
}

// FindByID returns the account, or nil when none exists. Users may read
// their own account; administrators may read any.
func (d *Directory) FindByID(ctx context.Context, id int64, actor access.Identity) (*Profile, error) {
	if err := access.Authorize(actor, access.ResourceUser, id, access.OpRead); err != nil {
		return nil, err
	}
	u, err := d.users.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("user: loading user %d: %w", id, err)
	}
	return d.profile(u)
}

// List returns every account, optionally restricted to one role.
// Administrators only.
func (d *Directory) List(ctx context.Context, role string, actor access.Identity) ([]Profile, error) {
	if err := access.Authorize(actor, access.ResourceUser, 0, access.OpList); err != nil {
		return nil, err
	}
	var where []storage.Filter[User]
	if strings.TrimSpace(role) != "" {
		r, err := access.ParseRole(role)
		if err != nil {
			return nil, err
		}
		where = append(where, storage.Eq(func(u User) access.Role { return u.Role }, r))
	}
	users, _, err := d.users.Find(ctx, storage.Query[User]{Where: where})
	if err != nil {
		return nil, fmt.Errorf("user: listing users: %w", err)
	}
	out := make([]Profile, 0, len(users))
	for _, u := range users {
		p, err := d.profile(u)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, nil
}

// Login verifies the password and issues a session token.
func (d *Directory) Login(ctx context.Context, email, password, ip string) (*Session, error) {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return nil, derrors.Validation("email and password are required")
	}
	key, err := d.cipher.EncryptDeterministic(email)
	if err != nil {
		return nil, fmt.Errorf("user: encrypting email: %w", err)
	}
	if err := d.throttle.check(key, ip); err != nil {
		return nil, err
	}

	u, err := d.byEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if u == nil || bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
		d.throttle.failure(key, ip)
		d.metrics.IncrementLoginFailure()
		d.logger.WarnContext(ctx, "login failed", slog.String("remote_addr", ip))
		return nil, derrors.Unauthorized("invalid email or password")
	}
	if !u.IsActive {
		return nil, derrors.Forbidden("account is disabled")
	}
	d.throttle.success(key, ip)

	now := d.now().UTC()
	u.LastLogin = &now
	if err := d.users.Put(ctx, u.ID, *u); err != nil {
		return nil, fmt.Errorf("user: recording login for %d: %w", u.ID, err)
	}
	return d.session(*u)
}

// SweepThrottle drops expired login and reset code failure records.
func (d *Directory) SweepThrottle() {
	d.throttle.sweep()
	d.resetAttempts.sweep()
}

// EnsureAccount returns the account registered under email, creating one
// with a random password when none exists. Only a new account or the
// account actor is signed in as gets a session token. Any other existing
// account comes back as a bare id and its owner has to log in.
func (d *Directory) EnsureAccount(ctx context.Context, email, displayName string, actor access.Identity) (*Session, error) {
	u, err := d.byEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if u != nil {
		return d.existingSession(*u, actor)
	}

	name := strings.TrimSpace(displayName)
	if name == "" {
		name, _, _ = strings.Cut(NormalizeEmail(email), "@")
	}
	password, err := util.RandomChars(24)
	if err != nil {
		return nil, err
	}
	candidate := name
	for attempt := 0; ; attempt++ {
		_, err = d.Register(ctx, RegisterInput{Username: candidate, Email: email, Password: password}, "")
		if err == nil || !errors.Is(err, derrors.ErrConflict) || attempt == 2 {
			break
		}
		// The address may have been claimed concurrently.
		if u, lookupErr := d.byEmail(ctx, email); lookupErr == nil && u != nil {
			return d.existingSession(*u, actor)
		}
		suffix, rerr := util.RandomChars(4)
		if rerr != nil {
			return nil, rerr
		}
		candidate = name + " " + suffix
	}
	if err != nil {
		return nil, err
	}
	u, err = d.byEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("user: account for new registration not found")
	}
	return d.session(*u)
}

// Update applies a partial update. Users may update their own account;
// changing role or active status requires an administrator. Only fields
// whose value changes are re-encrypted.
func (d *Directory) Update(ctx context.Context, id int64, p Patch, actor access.Identity, ip string) (*Profile, error) {
	if err := access.Authorize(actor, access.ResourceUser, id, access.OpUpdate); err != nil {
		return nil, err
	}
	if p.Role.Set || p.IsActive.Set {
		if err := access.Authorize(actor, access.ResourceUser, id, access.OpSetStatus); err != nil {
			return nil, err
		}
	}
	var hash string
	if pw, ok := p.Password.Get(); ok {
		if pw == "" {
			return nil, derrors.Validation("password cannot be empty")
		}
		h, err := bcrypt.GenerateFromPassword([]byte(pw), d.bcryptCost)
		if err != nil {
			return nil, fmt.Errorf("user: hashing password: %w", err)
		}
		hash = string(h)
	}

	var updated User
	err := d.repo.Batch(ctx, func(tx storage.BatchTx) error {
		doc, err := d.users.LoadTx(tx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return derrors.NotFound("user %d not found", id)
		}
		if err != nil {
			return err
		}
		u := doc.Value
		if err := d.applyPatch(tx, &u, p); err != nil {
			return err
		}
		if hash != "" {
			u.PasswordHash = hash
		}
		u.UpdatedAt = d.now().UTC()
		updated = u
		return d.users.ReplaceTx(tx, id, doc.Version, u)
	})
	switch {
	case errors.Is(err, storage.ErrCASFailed):
		return nil, derrors.Conflict("user %d was modified concurrently", id)
	case derrors.CodeOf(err) != derrors.CodeInternal:
		return nil, err
	case err != nil:
		return nil, fmt.Errorf("user: updating user %d: %w", id, err)
	}

	d.metrics.ObserveTransition(Model, "update")
	audit.RecordQuietly(ctx, d.audit, d.logger, audit.Event{
		UserID:   actor.UserID,
		Action:   audit.ActionUpdate,
		Model:    Model,
		RecordID: id,
		Details:  redactedPatch(p),
		IP:       ip,
	})
	return d.profile(updated)
}

func (d *Directory) applyPatch(tx storage.BatchTx, u *User, p Patch) error {
	if name, ok := p.Username.Get(); ok {
		name = strings.TrimSpace(name)
		if name == "" {
			return derrors.Validation("username cannot be empty")
		}
		if usernameKey(name) != usernameKey(u.Username) {
			if err := claimTx(tx, nameCollection, usernameKey(name), u.ID); err != nil {
				return err
			}
			if err := releaseTx(tx, nameCollection, usernameKey(u.Username), u.ID); err != nil {
				return err
			}
		}
		u.Username = name
	}
	if email, ok := p.Email.Get(); ok {
		email = NormalizeEmail(email)
		if email == "" || !strings.Contains(email, "@") {
			return derrors.Validation("email is invalid")
		}
		ct, err := d.cipher.EncryptDeterministic(email)
		if err != nil {
			return fmt.Errorf("user: encrypting email: %w", err)
		}
		if ct != u.Email {
			if err := claimTx(tx, emailCollection, ct, u.ID); err != nil {
				return err
			}
			if err := releaseTx(tx, emailCollection, u.Email, u.ID); err != nil {
				return err
			}
			u.Email = ct
		}
	}
	for _, f := range []struct {
		v   opt.Value[string]
		dst *string
	}{
		{p.Phone, &u.Phone},
		{p.FirstName, &u.FirstName},
		{p.LastName, &u.LastName},
	} {
		if err := d.reencrypt(f.v, f.dst); err != nil {
			return err
		}
	}
	if dob, ok := p.DateOfBirth.Get(); ok {
		if strings.TrimSpace(dob) == "" {
			u.DateOfBirth = nil
		} else {
			t, err := parseDate(dob)
			if err != nil {
				return err
			}
			u.DateOfBirth = &t
		}
	}
	if img, ok := p.ProfileImage.Get(); ok {
		u.ProfileImage = strings.TrimSpace(img)
	}
	if role, ok := p.Role.Get(); ok {
		r, err := access.ParseRole(string(role))
		if err != nil {
			return err
		}
		u.Role = r
	}
	if active, ok := p.IsActive.Get(); ok {
		u.IsActive = active
	}
	return nil
}

// reencrypt stores v into dst unless it equals the current plaintext.
func (d *Directory) reencrypt(v opt.Value[string], dst *string) error {
	next, ok := v.Get()
	if !ok {
		return nil
	}
	next = strings.TrimSpace(next)
	current, err := d.decryptOptional(*dst)
	if err != nil {
		return err
	}
	if current == next {
		return nil
	}
	*dst, err = d.encryptOptional(next)
	return err
}

func (d *Directory) byEmail(ctx context.Context, email string) (*User, error) {
	email = NormalizeEmail(email)
	if email == "" {
		return nil, derrors.Validation("email is required")
	}
	ct, err := d.cipher.EncryptDeterministic(email)
	if err != nil {
		return nil, fmt.Errorf("user: encrypting email: %w", err)
	}
	owner, err := claimOwner(ctx, d.repo, emailCollection, ct)
	if err != nil || owner == 0 {
		return nil, err
	}
	u, err := d.users.Get(ctx, owner)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("user: loading user %d: %w", owner, err)
	}
	return &u, nil
}

func (d *Directory) existingSession(u User, actor access.Identity) (*Session, error) {
	if actor.Anonymous() || actor.UserID != u.ID {
		return &Session{ID: u.ID}, nil
	}
	return d.session(u)
}

func (d *Directory) session(u User) (*Session, error) {
	token, err := d.tokens.Issue(u.ID, u.Role)
	if err != nil {
		return nil, fmt.Errorf("user: issuing token: %w", err)
	}
	p, err := d.profile(u)
	if err != nil {
		return nil, err
	}
	return &Session{ID: u.ID, Token: token, Role: u.Role, Username: u.Username, Email: p.Email, Phone: p.Phone}, nil
}

func (d *Directory) profile(u User) (*Profile, error) {
	email, err := d.cipher.DecryptDeterministic(u.Email)
	if err != nil {
		return nil, fmt.Errorf("user: decrypting email of %d: %w", u.ID, err)
	}
	p := &Profile{
		ID:           u.ID,
		Username:     u.Username,
		Email:        email,
		DateOfBirth:  u.DateOfBirth,
		Role:         u.Role,
		IsActive:     u.IsActive,
		LastLogin:    u.LastLogin,
		ProfileImage: u.ProfileImage,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
	for _, f := range []struct {
		src string
		dst *string
	}{
		{u.Phone, &p.Phone},
		{u.FirstName, &p.FirstName},
		{u.LastName, &p.LastName},
	} {
		if *f.dst, err = d.decryptOptional(f.src); err != nil {
			return nil, fmt.Errorf("user: decrypting profile of %d: %w", u.ID, err)
		}
	}
	return p, nil
}

func (d *Directory) encryptOptional(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	ct, err := d.cipher.Encrypt(s)
	if err != nil {
		return "", fmt.Errorf("user: encrypting field: %w", err)
	}
	return ct, nil
}

func (d *Directory) decryptOptional(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	return d.cipher.Decrypt(s)
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02", time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			y, m, dd := t.Date()
			return time.Date(y, m, dd, 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, derrors.Validation("invalid date %q", s)
}

// redacted drops the password hash from an audit snapshot.
func redacted(u User) User {
	u.PasswordHash = ""
	return u
}

type auditPatch struct {
	Patch
	PasswordChanged bool `json:"passwordChanged,omitempty"`
}

func redactedPatch(p Patch) auditPatch {
	changed := p.Password.Set
	p.Password = opt.Value[string]{}
	return auditPatch{Patch: p, PasswordChanged: changed}
}
