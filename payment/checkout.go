package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jmcleod/donorhub/access"
	"github.com/jmcleod/donorhub/donor"
	"github.com/jmcleod/donorhub/internal/derrors"
	"github.com/jmcleod/donorhub/storage"
)

// EventCheckoutCompleted is the gateway event that records a payment.
const EventCheckoutCompleted = "checkout.session.completed"

const draftAADPrefix = "donorhub:checkout-draft:v1:"

// claimLease bounds how long a webhook delivery may hold a transaction
// claim before a redelivery can take it over.
const claimLease = 5 * time.Minute

// LineItem is one purchased service, priced in minor units.
type LineItem struct {
	Name       string
	UnitAmount int64
	Quantity   int64
}

// SessionParams describes a hosted checkout session to create.
type SessionParams struct {
	Currency      string
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
	LineItems     []LineItem
	Metadata      map[string]string
}

// Session is a gateway checkout session.
type Session struct {
	ID              string
	URL             string
	AmountTotal     int64
	Currency        string
	CustomerEmail   string
	Metadata        map[string]string
	PaymentIntentID string
	PaymentAmount   int64
	PaymentCurrency string
	PaymentMethod   string
}

// Event is a verified gateway webhook event.
type Event struct {
	ID      string
	Type    string
	Session *Session
}

// Gateway is the hosted payment provider.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, p SessionParams) (*Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	// ParseWebhook verifies the signature and decodes the event. A bad
	// signature is a derrors signature error.
	ParseWebhook(payload []byte, signature string) (*Event, error)
}

// Account is the donor's user account as seen by checkout.
type Account struct {
	ID       int64       `json:"id"`
	Token    string      `json:"token"`
	Role     access.Role `json:"role"`
	Username string      `json:"username"`
	Email    string      `json:"email"`
	Phone    string      `json:"phone,omitempty"`
}

// Accounts finds or creates the account a checkout is paid from. A
// session token is issued only for an account it just created or for the
// account actor is already signed in as; otherwise Token is empty.
type Accounts interface {
	EnsureAccount(ctx context.Context, email, displayName string, actor access.Identity) (*Account, error)
}

// AccountsFunc adapts a function to Accounts.
type AccountsFunc func(ctx context.Context, email, displayName string, actor access.Identity) (*Account, error)

func (f AccountsFunc) EnsureAccount(ctx context.Context, email, displayName string, actor access.Identity) (*Account, error) {
	return f(ctx, email, displayName, actor)
}

// Registrar creates donor registrations for completed checkouts and
// resolves the owner of a registration a payment is attached to.
type Registrar interface {
	Create(ctx context.Context, in donor.CreateInput, ip string) (*donor.Record, error)
	OwnerOf(ctx context.Context, id int64) (int64, error)
}

// PriceBook resolves a catalog service to its current name and fee in
// minor units.
type PriceBook interface {
	Quote(ctx context.Context, serviceID string) (name string, fee int64, err error)
}

// Sealer encrypts checkout drafts at rest.
type Sealer interface {
	Seal(plaintext, aad []byte) ([]byte, error)
	Open(sealed, aad []byte) ([]byte, error)
}

// CheckoutConfig holds the redirect URLs and currency for sessions.
type CheckoutConfig struct {
	SuccessURL string
	CancelURL  string
	Currency   string
}

// WithCheckout enables the checkout flow.
func WithCheckout(cfg CheckoutConfig, g Gateway, a Accounts, r Registrar, sealer Sealer) Option {
	return func(s *Service) {
		if cfg.Currency == "" {
			cfg.Currency = "usd"
		}
		s.checkout = cfg
		s.gateway = g
		s.accounts = a
		s.donors = r
		s.sealer = sealer
	}
}

// WithRegistrar sets the registration source without enabling checkout.
func WithRegistrar(r Registrar) Option { return func(s *Service) { s.donors = r } }

// WithPriceBook prices selected services from the catalog instead of
// trusting the submitted fees.
func WithPriceBook(p PriceBook) Option { return func(s *Service) { s.prices = p } }

// DonorInfo is the donor data collected at checkout.
type DonorInfo struct {
	DonorNameFirst             string `json:"donorNameFirst"`
	DonorNameLast              string `json:"donorNameLast"`
	DonorSex                   string `json:"donorSex,omitempty"`
	DonorDateOfBirth           string `json:"donorDateOfBirth,omitempty"`
	DonorEmail                 string `json:"donorEmail"`
	DonorSSN                   string `json:"donorSSN,omitempty"`
	DonorStateOfResidence      string `json:"donorStateOfResidence"`
	ReasonForTest              string `json:"reasonForTest,omitempty"`
	AccountNo                  string `json:"accountNo,omitempty"`
	PanelID                    string `json:"panelID"`
	RegistrationExpirationDate string `json:"registrationExpirationDate,omitempty"`
}

// SelectedService is a catalog service chosen at checkout.
type SelectedService struct {
	ID         string `json:"_id"`
	Name       string `json:"name"`
	ServiceFee Amount `json:"serviceFee"`
}

// CheckoutRequest starts a checkout.
type CheckoutRequest struct {
	SelectedServices []SelectedService `json:"selectedServices"`
	DonorInfo        DonorInfo         `json:"donorInfo"`
}

// CheckoutResult is the session to redirect to and the donor's account.
type CheckoutResult struct {
	SessionID  string   `json:"sessionId,omitempty"`
	SessionURL string   `json:"sessionUrl,omitempty"`
	User       *Account `json:"user,omitempty"`
	// LoginRequired is set instead of a session when the email belongs to
	// an existing account the caller is not signed in as.
	LoginRequired bool `json:"loginRequired,omitempty"`
}

// draft holds sealed checkout data between session creation and the
// completion event. Only its id travels through the gateway.
type draft struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	Sealed    []byte    `json:"sealed"`
	CreatedAt time.Time `json:"createdAt"`
}

type draftBody struct {
	DonorInfo DonorInfo         `json:"donorInfo"`
	Services  []SelectedService `json:"services"`
}

func draftAAD(id int64) []byte { return []byte(draftAADPrefix + formatID(id)) }

// StartCheckout finds or creates the donor's account, stores the donor
// data and opens a gateway session for the selected services. actor is
// the caller, anonymous for a first-time donor.
func (s *Service) StartCheckout(ctx context.Context, req CheckoutRequest, actor access.Identity) (*CheckoutResult, error) {
	if s.gateway == nil {
		return nil, derrors.ExternalService(errors.New("no payment gateway configured"), "checkout unavailable")
	}
	info := req.DonorInfo
	email := strings.TrimSpace(info.DonorEmail)
	switch {
	case email == "":
		return nil, derrors.Validation("donorEmail is required")
	case len(req.SelectedServices) == 0:
		return nil, derrors.Validation("at least one service must be selected")
	}

	items, services, err := s.price(ctx, req.SelectedServices)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(info.DonorNameFirst + " " + info.DonorNameLast)
	acct, err := s.accounts.EnsureAccount(ctx, email, name, actor)
	if err != nil {
		return nil, err
	}
	if acct.Token == "" {
		// The email is registered to someone the caller is not signed in as.
		return &CheckoutResult{LoginRequired: true}, nil
	}

	body, err := json.Marshal(draftBody{DonorInfo: info, Services: services})
	if err != nil {
		return nil, fmt.Errorf("payment: encoding checkout draft: %w", err)
	}
	var sealErr error
	d, err := s.drafts.Insert(ctx, func(id int64) draft {
		sealed, err := s.sealer.Seal(body, draftAAD(id))
		sealErr = err
		return draft{ID: id, UserID: acct.ID, Sealed: sealed, CreatedAt: s.now().UTC()}
	})
	if sealErr != nil {
		return nil, fmt.Errorf("payment: sealing checkout draft: %w", sealErr)
	}
	if err != nil {
		return nil, fmt.Errorf("payment: storing checkout draft: %w", err)
	}

	ids := make([]string, len(services))
	for i, svc := range services {
		ids[i] = svc.ID
	}
	idsJSON, _ := json.Marshal(ids)

	sess, err := s.gateway.CreateCheckoutSession(ctx, SessionParams{
		Currency:      s.checkout.Currency,
		CustomerEmail: email,
		SuccessURL:    s.checkout.SuccessURL,
		CancelURL:     s.checkout.CancelURL,
		LineItems:     items,
		Metadata: map[string]string{
			"userId":       formatID(acct.ID),
			"donorEmail":   email,
			"serviceCount": strconv.Itoa(len(services)),
			"panelId":      info.PanelID,
			"checkoutRef":  formatID(d.ID),
			"services":     string(idsJSON),
		},
	})
	if err != nil {
		return nil, err
	}
	return &CheckoutResult{SessionID: sess.ID, SessionURL: sess.URL, User: acct}, nil
}

func (s *Service) price(ctx context.Context, selected []SelectedService) ([]LineItem, []SelectedService, error) {
	items := make([]LineItem, 0, len(selected))
	services := make([]SelectedService, 0, len(selected))
	for _, svc := range selected {
		if s.prices != nil {
			name, fee, err := s.prices.Quote(ctx, svc.ID)
			if err != nil {
				return nil, nil, err
			}
			svc.Name, svc.ServiceFee = name, Amount(fee)
		}
		if strings.TrimSpace(svc.Name) == "" || svc.ServiceFee <= 0 {
			return nil, nil, derrors.Validation("service %q needs a name and a positive fee", svc.ID)
		}
		items = append(items, LineItem{Name: svc.Name, UnitAmount: svc.ServiceFee.Minor(), Quantity: 1})
		services = append(services, svc)
	}
	return items, services, nil
}

// WebhookResult describes what a webhook delivery did.
type WebhookResult struct {
	EventType      string `json:"eventType"`
	Handled        bool   `json:"handled"`
	Duplicate      bool   `json:"duplicate,omitempty"`
	RegistrationID int64  `json:"registrationId,omitempty"`
	PaymentID      int64  `json:"paymentId,omitempty"`
}

// HandleWebhook verifies and applies a gateway event. A completed
// checkout creates one donor registration and one COMPLETED payment;
// redelivery of an already recorded transaction changes nothing.
func (s *Service) HandleWebhook(ctx context.Context, payload []byte, signature, ip string) (*WebhookResult, error) {
	if s.gateway == nil {
		return nil, derrors.ExternalService(errors.New("no payment gateway configured"), "webhook unavailable")
	}
	ev, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		s.metrics.ObserveWebhook("unverified", false)
		return nil, err
	}
	res, err := s.applyEvent(ctx, ev, ip)
	s.metrics.ObserveWebhook(ev.Type, err == nil)
	return res, err
}

func (s *Service) applyEvent(ctx context.Context, ev *Event, ip string) (*WebhookResult, error) {
	res := &WebhookResult{EventType: ev.Type}
	if ev.Type != EventCheckoutCompleted || ev.Session == nil {
		return res, nil
	}
	res.Handled = true
	sess := ev.Session
	txnID := sess.PaymentIntentID
	if txnID == "" {
		txnID = sess.ID
	}

	claim, version, held, err := s.claimTransaction(ctx, txnID)
	if err != nil {
		return nil, err
	}
	if held {
		res.Duplicate = true
		res.PaymentID = claim.PaymentID
		res.RegistrationID = claim.RegistrationID
		return res, nil
	}
	recorded := false
	defer func() {
		if !recorded {
			s.releaseClaim(ctx, txnID, version, claim)
		}
	}()

	userID, err := strconv.ParseInt(sess.Metadata["userId"], 10, 64)
	if err != nil || userID <= 0 {
		return nil, derrors.Validation("checkout session %s has no user", sess.ID)
	}
	body, err := s.openDraft(ctx, sess.Metadata["checkoutRef"], userID)
	if err != nil {
		return nil, err
	}
	info := body.DonorInfo
	panelID := info.PanelID
	if panelID == "" {
		panelID = sess.Metadata["panelId"]
	}
	expires := info.RegistrationExpirationDate
	if strings.TrimSpace(expires) == "" {
		expires = s.now().UTC().Format("2006-01-02")
	}
	var serviceID string
	if len(body.Services) > 0 {
		serviceID = body.Services[0].ID
	}

	// A previous delivery may have registered the donor before failing.
	regID := claim.RegistrationID
	if regID == 0 {
		reg, err := s.donors.Create(ctx, donor.CreateInput{
			UserID:                     userID,
			DonorNameFirst:             info.DonorNameFirst,
			DonorNameLast:              info.DonorNameLast,
			DonorSex:                   info.DonorSex,
			DonorDateOfBirth:           info.DonorDateOfBirth,
			DonorSSN:                   info.DonorSSN,
			DonorEmail:                 info.DonorEmail,
			DonorStateOfResidence:      info.DonorStateOfResidence,
			ReasonForTest:              info.ReasonForTest,
			ServiceID:                  serviceID,
			AccountNo:                  info.AccountNo,
			PanelID:                    panelID,
			RegistrationExpirationDate: expires,
			CreatedBy:                  userID,
			UpdatedBy:                  userID,
		}, ip)
		if err != nil {
			return nil, fmt.Errorf("payment: registering donor for session %s: %w", sess.ID, err)
		}
		regID = reg.ID
		claim.RegistrationID = regID
		next, err := s.updateClaim(ctx, txnID, version, claim)
		if err != nil {
			return nil, err
		}
		version = next
	}
	res.RegistrationID = regID

	currency := sess.Currency
	if currency == "" {
		currency = "USD"
	}
	method := strings.ToUpper(sess.PaymentMethod)
	if method == "" {
		method = "CARD"
	}
	p, err := s.insert(ctx, Payment{
		DonorRegistrationID: regID,
		UserID:              userID,
		Amount:              Amount(sess.AmountTotal),
		Currency:            strings.ToUpper(currency),
		Status:              StatusCompleted,
		PaymentMethod:       method,
		TransactionID:       txnID,
		CreatedBy:           userID,
		UpdatedBy:           userID,
	}, ip, version)
	if errors.Is(err, derrors.ErrConflict) {
		// The lease expired and a redelivery took the claim over.
		recorded = true
		s.logger.WarnContext(ctx, "duplicate checkout completion",
			slog.String("session_id", sess.ID),
			slog.Int64("registration_id", regID))
		res.Duplicate = true
		return res, nil
	}
	if err != nil {
		return nil, err
	}
	recorded = true
	res.PaymentID = p.ID
	s.logger.InfoContext(ctx, "checkout completed",
		slog.String("session_id", sess.ID),
		slog.Int64("registration_id", regID),
		slog.Int64("payment_id", p.ID))
	return res, nil
}

// claimTransaction reserves txnID for the calling delivery and returns the
// claim with its stored version. held reports a transaction that is
// already recorded or leased by another delivery; the claim is then the
// one found.
func (s *Service) claimTransaction(ctx context.Context, txnID string) (txnClaim, uint64, bool, error) {
	var c txnClaim
	var version uint64
	now := s.now().UTC()
	env, err := s.repo.Get(ctx, txnCollection, txnID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return c, 0, false, fmt.Errorf("payment: looking up transaction %s: %w", txnID, err)
	default:
		if err := storage.DecodeJSON(env, &c); err != nil {
			return c, 0, false, err
		}
		if c.PaymentID != 0 || (!c.ClaimedAt.IsZero() && now.Sub(c.ClaimedAt) < claimLease) {
			return c, 0, true, nil
		}
		version = env.Version
	}

	c.ClaimedAt = now
	next, err := storage.EncodeJSON(c, version+1)
	if err != nil {
		return c, 0, false, err
	}
	err = s.repo.PutCAS(ctx, txnCollection, txnID, version, next)
	if errors.Is(err, storage.ErrCASFailed) {
		return txnClaim{}, 0, true, nil
	}
	if err != nil {
		return c, 0, false, fmt.Errorf("payment: claiming transaction %s: %w", txnID, err)
	}
	return c, version + 1, false, nil
}

// updateClaim stores c over the claim held at version and returns the new
// version.
func (s *Service) updateClaim(ctx context.Context, txnID string, version uint64, c txnClaim) (uint64, error) {
	next, err := storage.EncodeJSON(c, version+1)
	if err != nil {
		return 0, err
	}
	err = s.repo.PutCAS(ctx, txnCollection, txnID, version, next)
	if errors.Is(err, storage.ErrCASFailed) {
		return 0, derrors.Conflict("claim on transaction %s was taken over", txnID)
	}
	if err != nil {
		return 0, fmt.Errorf("payment: updating claim on transaction %s: %w", txnID, err)
	}
	return version + 1, nil
}

// releaseClaim drops the lease so the next delivery can retry at once. A
// registration already created stays on the claim and is reused.
func (s *Service) releaseClaim(ctx context.Context, txnID string, version uint64, c txnClaim) {
	c.ClaimedAt = time.Time{}
	if _, err := s.updateClaim(context.WithoutCancel(ctx), txnID, version, c); err != nil {
		s.logger.WarnContext(ctx, "releasing transaction claim failed",
			slog.String("transaction_id", txnID),
			slog.String("error", err.Error()))
	}
}

func (s *Service) openDraft(ctx context.Context, ref string, userID int64) (draftBody, error) {
	var body draftBody
	id, err := strconv.ParseInt(ref, 10, 64)
	if err != nil {
		return body, derrors.Validation("checkout session has no draft reference")
	}
	d, err := s.drafts.Get(ctx, id)
	if err != nil {
		return body, fmt.Errorf("payment: loading checkout draft %d: %w", id, err)
	}
	if d.UserID != userID {
		return body, derrors.Validation("checkout draft %d belongs to another user", id)
	}
	raw, err := s.sealer.Open(d.Sealed, draftAAD(id))
	if err != nil {
		return body, fmt.Errorf("payment: opening checkout draft %d: %w", id, err)
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return body, fmt.Errorf("payment: decoding checkout draft %d: %w", id, err)
	}
	return body, nil
}

// PaymentInfo summarises the gateway payment of a session.
type PaymentInfo struct {
	Amount        Amount `json:"amount"`
	Currency      string `json:"currency"`
	PaymentMethod string `json:"paymentMethod"`
	TransactionID string `json:"transactionId"`
}

// SessionSummary is the donor and payment view of a finished session.
type SessionSummary struct {
	DonorInfo   DonorInfo   `json:"donorInfo"`
	PaymentInfo PaymentInfo `json:"paymentInfo"`
}

// SessionSummary returns the donor and payment details of a paid
// session. The donor SSN is never included.
func (s *Service) SessionSummary(ctx context.Context, sessionID string) (*SessionSummary, error) {
	if s.gateway == nil {
		return nil, derrors.ExternalService(errors.New("no payment gateway configured"), "checkout unavailable")
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, derrors.Validation("session id is required")
	}
	sess, err := s.gateway.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.PaymentIntentID == "" {
		return nil, derrors.Validation("payment not completed yet")
	}
	out := &SessionSummary{
		PaymentInfo: PaymentInfo{
			Amount:        Amount(sess.PaymentAmount),
			Currency:      strings.ToUpper(sess.PaymentCurrency),
			PaymentMethod: strings.ToUpper(sess.PaymentMethod),
			TransactionID: sess.PaymentIntentID,
		},
	}
	if userID, err := strconv.ParseInt(sess.Metadata["userId"], 10, 64); err == nil {
		if body, err := s.openDraft(ctx, sess.Metadata["checkoutRef"], userID); err == nil {
			out.DonorInfo = body.DonorInfo
			out.DonorInfo.DonorSSN = ""
		}
	}
	return out, nil
}
