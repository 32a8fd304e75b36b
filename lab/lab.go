// Package lab is the client for the laboratory's SOAP web service: donor
// registration and collection-site lookup.
package lab

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/jmcleod/donorhub/internal/derrors"
	"github.com/jmcleod/donorhub/internal/metrics"
	"github.com/jmcleod/donorhub/internal/retry"
)

const (
	// dateLayout is the timestamp format the service expects for dates.
	dateLayout = "2006-01-02T00:00:00"

	defaultTimeout  = 30 * time.Second
	defaultDistance = 10
)

// ErrIncompleteResponse is returned when a successful response lacks the
// registration number.
var ErrIncompleteResponse = errors.New("laboratory response has no registration number")

// FaultError is a SOAP fault returned by the service.
type FaultError struct {
	Code        string
	Description string
	Element     string
}

func (e *FaultError) Error() string {
	msg := fmt.Sprintf("laboratory fault %s: %s", e.Code, e.Description)
	if e.Element != "" {
		msg += fmt.Sprintf(" (element: %s)", e.Element)
	}
	return msg
}

// Registration is a donor registration in the service's schema.
type Registration struct {
	DonorNameFirst             string
	DonorNameLast              string
	DonorSex                   string
	DonorDateOfBirth           time.Time
	DonorSSN                   string
	DonorStateOfResidence      string
	PanelID                    string
	SplitSpecimenRequested     bool
	AccountNumber              string
	TestingAuthority           string
	RegistrationExpirationDate time.Time
	DonorReasonForTest         string
}

// Validate checks the fields the service cannot default.
func (r Registration) Validate() error {
	if r.DonorDateOfBirth.IsZero() {
		return derrors.Validation("donor date of birth is required")
	}
	if r.RegistrationExpirationDate.IsZero() {
		return derrors.Validation("registration expiration date is required")
	}
	if strings.TrimSpace(r.PanelID) == "" {
		return derrors.Validation("panel id is required")
	}
	return nil
}

// fields returns the registration in wire order with empty values removed.
func (r Registration) fields() []field {
	all := []field{
		{"donorDateOfBirth", r.DonorDateOfBirth.Format(dateLayout)},
		{"donorNameFirst", r.DonorNameFirst},
		{"donorNameLast", r.DonorNameLast},
		{"donorSex", r.DonorSex},
		{"donorSSN", r.DonorSSN},
		{"donorStateOfResidence", r.DonorStateOfResidence},
		{"panelId", r.PanelID},
		{"splitSpecimenRequested", strconv.FormatBool(r.SplitSpecimenRequested)},
		{"accountNumber", r.AccountNumber},
		{"testingAuthority", r.TestingAuthority},
		{"registrationExpirationDate", r.RegistrationExpirationDate.Format(dateLayout)},
		{"donorReasonForTest", r.DonorReasonForTest},
	}
	out := all[:0]
	for _, f := range all {
		if strings.TrimSpace(f.value) != "" {
			out = append(out, f)
		}
	}
	return out
}

// Site is a specimen collection site.
type Site struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Address1 string  `json:"address1"`
	Address2 string  `json:"address2"`
	City     string  `json:"city"`
	State    string  `json:"state"`
	Zip      string  `json:"zip"`
	Distance float64 `json:"distance"`
	Phone    Phone   `json:"phone"`
}

// Phone is a site phone number in parts.
type Phone struct {
	CountryCode string `json:"countryCode"`
	AreaCode    string `json:"areaCode"`
	Exchange    string `json:"exchange"`
	Station     string `json:"station"`
	Extension   string `json:"extension"`
}

// Config configures a Client. MaxAttempts bounds calls that fail in
// transport or with a gateway status; zero uses retry.Default.
type Config struct {
	URL         string
	UserID      string
	Password    string
	Timeout     time.Duration
	MaxAttempts int
}

// Client calls the laboratory service. It is safe for concurrent use.
type Client struct {
	cfg     Config
	http    *resty.Client
	policy  retry.Policy
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics records call latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// New returns a Client for cfg.
func New(cfg Config, opts ...Option) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("lab: service URL is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	policy := retry.Default
	if cfg.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.MaxAttempts
	}
	c := &Client{
		cfg:    cfg,
		policy: policy,
		logger: slog.New(slog.NewJSONHandler(os.Stderr, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.http = resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "text/xml; charset=utf-8")
	return c, nil
}

// gatewayStatus reports statuses worth retrying. SOAP faults arrive as
// 500s and are never retried.
func gatewayStatus(code int) bool {
	switch code {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// RegisterDonor submits r and returns the laboratory registration number.
func (c *Client) RegisterDonor(ctx context.Context, r Registration) (string, error) {
	if err := r.Validate(); err != nil {
		return "", err
	}
	body := registerDonorEnvelope(c.cfg.UserID, c.cfg.Password, r.fields())
	env, err := c.call(ctx, "registerDonors", body)
	if err != nil {
		return "", err
	}
	if env.Body.Register == nil || strings.TrimSpace(env.Body.Register.Return.RegistrationNumber) == "" {
		return "", derrors.ExternalService(ErrIncompleteResponse, "laboratory confirmation failed")
	}
	return strings.TrimSpace(env.Body.Register.Return.RegistrationNumber), nil
}

// LocateCollectionSites lists collection sites within distance miles of
// zip. A non-positive distance uses the service default of 10.
func (c *Client) LocateCollectionSites(ctx context.Context, zip string, distance int) ([]Site, error) {
	zip = strings.TrimSpace(zip)
	if zip == "" {
		return nil, derrors.Validation("zip code is required")
	}
	if distance <= 0 {
		distance = defaultDistance
	}
	body := locateSitesEnvelope(c.cfg.UserID, c.cfg.Password, []field{
		{"zip", zip},
		{"distance", strconv.Itoa(distance)},
	})
	env, err := c.call(ctx, "", body)
	if err != nil {
		return nil, err
	}
	if env.Body.Locate == nil {
		return []Site{}, nil
	}
	sites := make([]Site, 0, len(env.Body.Locate.Sites))
	for _, s := range env.Body.Locate.Sites {
		d, _ := strconv.ParseFloat(strings.TrimSpace(s.Distance), 64)
		sites = append(sites, Site{
			ID:       strings.TrimSpace(s.ID),
			Name:     strings.TrimSpace(s.Name),
			Address1: strings.TrimSpace(s.Address1),
			Address2: strings.TrimSpace(s.Address2),
			City:     strings.TrimSpace(s.City),
			State:    strings.TrimSpace(s.State),
			Zip:      strings.TrimSpace(s.Zip),
			Distance: d,
			Phone: Phone{
				CountryCode: strings.TrimSpace(s.Phone.CountryCode),
				AreaCode:    strings.TrimSpace(s.Phone.AreaCode),
				Exchange:    strings.TrimSpace(s.Phone.Exchange),
				Station:     strings.TrimSpace(s.Phone.Station),
				Extension:   strings.TrimSpace(s.Phone.Extension),
			},
		})
	}
	return sites, nil
}

// call posts a SOAP body and decodes the envelope, turning faults and
// transport failures into ExternalService errors.
func (c *Client) call(ctx context.Context, action, body string) (*responseEnvelope, error) {
	start := time.Now()
	env, err := c.do(ctx, action, body)
	c.metrics.ObserveExternal("lab", start, err)
	if err != nil {
		c.logger.WarnContext(ctx, "laboratory call failed",
			slog.String("action", action),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("error", err.Error()))
	}
	return env, err
}

func (c *Client) do(ctx context.Context, action, body string) (*responseEnvelope, error) {
	var resp *resty.Response
	err := c.policy.Do(ctx, func(ctx context.Context) error {
		r, err := c.http.R().
			SetContext(ctx).
			SetHeader("SOAPAction", action).
			SetBody(body).
			Post(c.cfg.URL)
		if err != nil {
			if ctx.Err() != nil {
				return retry.Permanent(err)
			}
			return err
		}
		resp = r
		if gatewayStatus(r.StatusCode()) {
			return fmt.Errorf("status %d", r.StatusCode())
		}
		return nil
	})
	if resp == nil || gatewayStatus(resp.StatusCode()) {
		return nil, derrors.ExternalService(err, "laboratory service unreachable")
	}

	var env responseEnvelope
	decodeErr := xml.NewDecoder(bytes.NewReader(resp.Body())).Decode(&env)
	if decodeErr == nil && env.Body.Fault != nil {
		return nil, derrors.ExternalService(faultError(env.Body.Fault), "laboratory rejected the request")
	}
	if resp.IsError() {
		return nil, derrors.ExternalService(fmt.Errorf("status %d", resp.StatusCode()), "laboratory service error")
	}
	if decodeErr != nil {
		return nil, derrors.ExternalService(fmt.Errorf("decoding response: %w", decodeErr), "laboratory returned an unreadable response")
	}
	return &env, nil
}

func faultError(f *soapFault) *FaultError {
	fe := &FaultError{
		Code:        strings.TrimSpace(f.Code),
		Description: strings.TrimSpace(f.Detail.Description),
		Element:     strings.TrimSpace(f.Detail.Element),
	}
	if fe.Code == "" {
		fe.Code = "SOAPFault"
	}
	if fe.Description == "" {
		fe.Description = strings.TrimSpace(f.String)
	}
	if fe.Description == "" {
		fe.Description = "unknown fault"
	}
	return fe
}
