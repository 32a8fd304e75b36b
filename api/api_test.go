package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/bcrypt"

	"github.com/jmcleod/donorhub/access"
	"github.com/jmcleod/donorhub/audit"
	"github.com/jmcleod/donorhub/catalog"
	"github.com/jmcleod/donorhub/crypto"
	"github.com/jmcleod/donorhub/donor"
	donormocks "github.com/jmcleod/donorhub/donor/mocks"
	"github.com/jmcleod/donorhub/internal/derrors"
	"github.com/jmcleod/donorhub/lab"
	"github.com/jmcleod/donorhub/notify"
	notifymocks "github.com/jmcleod/donorhub/notify/mocks"
	"github.com/jmcleod/donorhub/payment"
	paymentmocks "github.com/jmcleod/donorhub/payment/mocks"
	"github.com/jmcleod/donorhub/storage/memory"
	"github.com/jmcleod/donorhub/user"
)

type fakeSites struct {
	zip      string
	distance int
}

func (f *fakeSites) LocateCollectionSites(_ context.Context, zip string, distance int) ([]lab.Site, error) {
	f.zip, f.distance = zip, distance
	return []lab.Site{{ID: "S1", Name: "Midtown PSC", City: "New York", State: "NY", Zip: zip, Distance: 1.2}}, nil
}

type APISuite struct {
	suite.Suite
	ctx     context.Context
	srv     *httptest.Server
	dir     *user.Directory
	gateway *paymentmocks.MockGateway
	lab     *donormocks.MockLabRegistrar
	mailer  *notifymocks.MockMailer
	sites   *fakeSites

	adminToken string
	ownerToken string
	otherToken string
}

func TestAPISuite(t *testing.T) {
	suite.Run(t, new(APISuite))
}

func (s *APISuite) SetupTest() {
	s.ctx = context.Background()
	repo := memory.NewRepository()
	engine, err := crypto.NewEngineFromHex(
		"000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f",
		"0f0e0d0c0b0a09080706050403020100")
	s.Require().NoError(err)

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctrl := gomock.NewController(s.T())
	s.gateway = paymentmocks.NewMockGateway(ctrl)
	s.lab = donormocks.NewMockLabRegistrar(ctrl)
	s.mailer = notifymocks.NewMockMailer(ctrl)
	s.sites = &fakeSites{}

	log := audit.NewLog(repo, engine, audit.WithLogger(quiet))
	tokens, err := user.NewTokens("api-test-secret", time.Hour)
	s.Require().NoError(err)
	s.dir = user.NewDirectory(repo, engine, log, tokens,
		user.WithLogger(quiet),
		user.WithMailer(s.mailer),
		user.WithBcryptCost(bcrypt.MinCost))

	var payments *payment.Service
	donors := donor.NewService(repo, engine, log,
		donor.WithLogger(quiet),
		donor.WithLab(s.lab),
		donor.WithPaidLookup(donor.PaidLookupFunc(func(ctx context.Context, ids []int64) (map[int64]bool, error) {
			return payments.CompletedRegistrations(ctx, ids)
		})))
	services := catalog.New(repo, engine, log, catalog.WithLogger(quiet))
	accounts := payment.AccountsFunc(func(ctx context.Context, email, name string, actor access.Identity) (*payment.Account, error) {
		sess, err := s.dir.EnsureAccount(ctx, email, name, actor)
		if err != nil {
			return nil, err
		}
		return &payment.Account{ID: sess.ID, Token: sess.Token, Role: sess.Role, Username: sess.Username, Email: sess.Email}, nil
	})
	payments = payment.NewService(repo, log,
		payment.WithLogger(quiet),
		payment.WithCheckout(payment.CheckoutConfig{SuccessURL: "https://app/ok", CancelURL: "https://app/cancel"},
			s.gateway, accounts, donors, engine),
		payment.WithPriceBook(services))

	a := New(Services{
		Users:    s.dir,
		Donors:   donors,
		Payments: payments,
		Catalog:  services,
		AuditLog: log,
		Sites:    s.sites,
	}, WithLogger(quiet))
	s.srv = httptest.NewServer(a.Router())
	s.T().Cleanup(s.srv.Close)

	s.adminToken = s.account("admin", "admin@example.com", access.RoleAdmin)
	s.ownerToken = s.account("owner", "owner@example.com", access.RoleUser)
	s.otherToken = s.account("other", "other@example.com", access.RoleUser)
}

// account registers a user directly and logs in over HTTP.
func (s *APISuite) account(name, email string, role access.Role) string {
	_, err := s.dir.Register(s.ctx, user.RegisterInput{Username: name, Email: email, Password: "correct horse", Role: role}, "")
	s.Require().NoError(err)
	var sess user.Session
	s.call(http.MethodPost, "/auth/login", "", LoginRequest{Email: email, Password: "correct horse"}, http.StatusOK, &sess)
	s.Require().NotEmpty(sess.Token)
	return sess.Token
}

func (s *APISuite) do(method, path, token string, body any) *http.Response {
	var rdr io.Reader
	switch b := body.(type) {
	case nil:
	case []byte:
		rdr = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		s.Require().NoError(err)
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, rdr)
	s.Require().NoError(err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	return resp
}

// call performs a request, asserts the status and decodes the body into out.
func (s *APISuite) call(method, path, token string, body any, want int, out any) {
	resp := s.do(method, path, token, body)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	s.Require().NoError(err)
	s.Require().Equal(want, resp.StatusCode, "%s %s: %s", method, path, raw)
	if out != nil {
		s.Require().NoError(json.Unmarshal(raw, out), "%s", raw)
	}
}

func (s *APISuite) createService(name string, fee float64) catalog.Service {
	var svc catalog.Service
	s.call(http.MethodPost, "/services", s.adminToken, map[string]any{
		"name":       name,
		"accountNo":  "ACC-" + name,
		"panelID":    "P-9",
		"serviceFee": fee,
	}, http.StatusCreated, &svc)
	return svc
}

func registrationBody() map[string]any {
	return map[string]any{
		"donorNameFirst":             "Jane",
		"donorNameLast":              "Doe",
		"donorSex":                   "F",
		"donorDateOfBirth":           "1990-04-02",
		"donorSSN":                   "123-45-6789",
		"donorEmail":                 "jane@example.com",
		"donorStateOfResidence":      "NY",
		"reasonForTest":              "PRE_EMPLOYMENT",
		"panelId":                    "P-9",
		"registrationExpirationDate": "2026-12-31",
	}
}

func (s *APISuite) createRegistration(token string) donor.Registration {
	var reg donor.Registration
	s.call(http.MethodPost, "/donors/donor-registration", token, registrationBody(), http.StatusCreated, &reg)
	return reg
}

func (s *APISuite) TestAuthentication() {
	var e ErrorResponse
	s.call(http.MethodPost, "/auth/login", "", LoginRequest{Email: "owner@example.com", Password: "wrong"}, http.StatusUnauthorized, &e)
	s.Equal(string(derrors.CodeUnauthorized), e.Code)
	s.Equal("invalid email or password", e.Error)

	s.call(http.MethodGet, "/donors/donor-registrations", "", nil, http.StatusUnauthorized, nil)
	s.call(http.MethodGet, "/donors/donor-registrations", "not-a-jwt", nil, http.StatusUnauthorized, nil)

	req, _ := http.NewRequest(http.MethodGet, s.srv.URL+"/services", nil)
	req.Header.Set("Authorization", "Basic Zm9vOmJhcg==")
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	resp.Body.Close()
	s.Equal(http.StatusUnauthorized, resp.StatusCode)

	var msg MessageResponse
	s.call(http.MethodPost, "/auth/logout", s.ownerToken, nil, http.StatusOK, &msg)
	s.Equal("Logged out successfully", msg.Message)
}

func (s *APISuite) TestRegisterForcesUserRole() {
	var p user.Profile
	s.call(http.MethodPost, "/auth/register", "", map[string]any{
		"username": "mallory", "email": "mallory@example.com", "password": "pw123456", "role": "ADMIN",
	}, http.StatusCreated, &p)
	s.Equal(access.RoleUser, p.Role)

	s.call(http.MethodPost, "/auth/register", s.adminToken, map[string]any{
		"username": "sup", "email": "sup@example.com", "password": "pw123456", "role": "SUPERVISOR",
	}, http.StatusCreated, &p)
	s.Equal(access.RoleSupervisor, p.Role)

	var e ErrorResponse
	s.call(http.MethodPost, "/auth/register", "", map[string]any{
		"username": "mallory2", "email": "mallory@example.com", "password": "pw123456",
	}, http.StatusConflict, &e)

	var exists CheckUserResponse
	s.call(http.MethodGet, "/auth/check-user?email=mallory@example.com", "", nil, http.StatusOK, &exists)
	s.True(exists.Exists)
	s.call(http.MethodGet, "/auth/check-user?email=nobody@example.com", "", nil, http.StatusOK, &exists)
	s.False(exists.Exists)
	s.call(http.MethodGet, "/auth/check-user", "", nil, http.StatusBadRequest, nil)
}

var resetCodePattern = regexp.MustCompile(`code is (\d{6})`)

func (s *APISuite) TestPasswordReset() {
	var sent notify.Message
	s.mailer.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, m notify.Message) error {
		sent = m
		return nil
	})
	s.call(http.MethodPost, "/forgot-password", "", ForgotPasswordRequest{Email: "owner@example.com"}, http.StatusOK, nil)
	m := resetCodePattern.FindStringSubmatch(sent.Body)
	s.Require().Len(m, 2, "body: %s", sent.Body)
	code := m[1]

	s.call(http.MethodPost, "/verify-otp", "", VerifyOTPRequest{Email: "owner@example.com", OTP: "000000"}, http.StatusBadRequest, nil)
	var msg MessageResponse
	s.call(http.MethodPost, "/verify-otp", "", VerifyOTPRequest{Email: "owner@example.com", OTP: code}, http.StatusOK, &msg)
	s.NotZero(msg.UserID)

	s.call(http.MethodPost, "/reset-password", "", ResetPasswordRequest{Email: "owner@example.com", OTP: code, NewPassword: "battery staple"}, http.StatusOK, nil)
	s.call(http.MethodPost, "/reset-password", "", ResetPasswordRequest{Email: "owner@example.com", OTP: code, NewPassword: "again"}, http.StatusBadRequest, nil)

	s.call(http.MethodPost, "/auth/login", "", LoginRequest{Email: "owner@example.com", Password: "battery staple"}, http.StatusOK, nil)
	s.call(http.MethodPost, "/forgot-password", "", ForgotPasswordRequest{Email: "nobody@example.com"}, http.StatusNotFound, nil)
}

func (s *APISuite) TestUsers() {
	var list ListUsersResponse
	s.call(http.MethodGet, "/users", s.adminToken, nil, http.StatusOK, &list)
	s.Len(list.Users, 3)
	s.call(http.MethodGet, "/users", s.ownerToken, nil, http.StatusForbidden, nil)

	owner := list.Users[0]
	for _, u := range list.Users {
		if u.Email == "owner@example.com" {
			owner = u
		}
	}
	path := "/users/" + strconv.FormatInt(owner.ID, 10)
	var p user.Profile
	s.call(http.MethodGet, path, s.ownerToken, nil, http.StatusOK, &p)
	s.Equal("owner@example.com", p.Email)
	s.call(http.MethodGet, path, s.otherToken, nil, http.StatusForbidden, nil)
	s.call(http.MethodGet, "/users/9999", s.adminToken, nil, http.StatusNotFound, nil)
	s.call(http.MethodGet, "/users/abc", s.adminToken, nil, http.StatusBadRequest, nil)

	s.call(http.MethodPut, path, s.ownerToken, map[string]any{"firstName": "Olive"}, http.StatusOK, &p)
	s.Equal("Olive", p.FirstName)
}

func (s *APISuite) TestServices() {
	svc := s.createService("DOT Urine", 45.5)
	s.Equal("dot-urine", svc.Slug)
	s.Equal(payment.Amount(4550), svc.ServiceFee)
	s.createService("Hair Panel", 120)

	s.call(http.MethodPost, "/services", s.ownerToken, map[string]any{"name": "x", "serviceFee": 1}, http.StatusForbidden, nil)
	s.call(http.MethodPost, "/services", "", map[string]any{"name": "x", "serviceFee": 1}, http.StatusUnauthorized, nil)
	s.call(http.MethodPost, "/services", s.adminToken, map[string]any{"name": "DOT Urine", "serviceFee": 1}, http.StatusConflict, nil)

	var page catalog.Page
	s.call(http.MethodGet, "/services", "", nil, http.StatusOK, &page)
	s.Equal(2, page.Total)
	s.call(http.MethodGet, "/services?minFee=100", "", nil, http.StatusOK, &page)
	s.Require().Len(page.Data, 1)
	s.Equal("Hair Panel", page.Data[0].Name)
	s.call(http.MethodGet, "/services?sortBy=serviceFee&sortOrder=asc", "", nil, http.StatusOK, &page)
	s.Equal("DOT Urine", page.Data[0].Name)
	s.call(http.MethodGet, "/services?minFee=abc", "", nil, http.StatusBadRequest, nil)
	s.call(http.MethodGet, "/services?sortBy=name", "", nil, http.StatusBadRequest, nil)

	path := "/services/" + strconv.FormatInt(svc.ID, 10)
	var got catalog.Service
	s.call(http.MethodGet, path, "", nil, http.StatusOK, &got)
	s.Equal("ACC-DOT Urine", got.AccountNo)
	s.call(http.MethodPut, path, s.adminToken, map[string]any{"serviceFee": 50}, http.StatusOK, &got)
	s.Equal(payment.Amount(5000), got.ServiceFee)
	s.call(http.MethodDelete, path, s.adminToken, nil, http.StatusOK, &got)
	s.True(got.IsDelete)
	s.call(http.MethodGet, "/services/9999", "", nil, http.StatusNotFound, nil)
}

func (s *APISuite) TestDonorRegistrationLifecycle() {
	body := registrationBody()
	body["status"] = "CONFIRMED"
	var reg donor.Registration
	s.call(http.MethodPost, "/donors/donor-registration", s.ownerToken, body, http.StatusCreated, &reg)
	s.Equal(donor.StatusPending, reg.Status, "owners cannot pick the initial status")
	s.Equal("123-45-6789", reg.DonorSSN)

	path := fmt.Sprintf("/donors/donor-registration/%d", reg.ID)
	s.call(http.MethodGet, path, s.ownerToken, nil, http.StatusOK, &reg)
	s.call(http.MethodGet, path, s.otherToken, nil, http.StatusForbidden, nil)
	s.call(http.MethodGet, "/donors/donor-registration/9999", s.ownerToken, nil, http.StatusNotFound, nil)

	s.call(http.MethodPut, path, s.ownerToken, map[string]any{"donorNameFirst": "Janet"}, http.StatusOK, &reg)
	s.Equal("Janet", reg.DonorNameFirst)

	var page donor.Page
	s.call(http.MethodGet, "/donors/donor-registrations", s.ownerToken, nil, http.StatusOK, &page)
	s.Equal(1, page.Total)
	s.Equal(donor.Unpaid, page.Data[0].PaymentStatus)
	s.call(http.MethodGet, "/donors/donor-registrations", s.otherToken, nil, http.StatusOK, &page)
	s.Equal(0, page.Total)

	s.call(http.MethodPost, path+"/reject", s.ownerToken, RejectRequest{Reason: "nope"}, http.StatusForbidden, nil)
	s.call(http.MethodPost, path+"/reject", s.adminToken, RejectRequest{}, http.StatusBadRequest, nil)
	s.call(http.MethodPost, path+"/reject", s.adminToken, RejectRequest{Reason: "duplicate"}, http.StatusOK, &reg)
	s.Equal(donor.StatusRejected, reg.Status)
	s.Equal("duplicate", reg.RejectReason)
	s.call(http.MethodPost, path+"/confirm", s.ownerToken, nil, http.StatusConflict, nil)

	s.call(http.MethodDelete, path, s.ownerToken, nil, http.StatusOK, &reg)
	s.True(reg.IsDelete)
}

func (s *APISuite) TestConfirmRegistration() {
	reg := s.createRegistration(s.ownerToken)
	path := fmt.Sprintf("/donors/donor-registration/%d/confirm", reg.ID)

	s.lab.EXPECT().RegisterDonor(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, r lab.Registration) (string, error) {
		s.Equal("P-9", r.PanelID)
		s.Equal(1990, r.DonorDateOfBirth.Year())
		return "LC-123", nil
	})
	s.call(http.MethodPost, path, s.ownerToken, nil, http.StatusOK, &reg)
	s.Equal(donor.StatusConfirmed, reg.Status)
	s.Equal("LC-123", reg.LabcorpRegistrationNumber)

	second := s.createRegistration(s.ownerToken)
	s.lab.EXPECT().RegisterDonor(gomock.Any(), gomock.Any()).
		Return("", derrors.ExternalService(fmt.Errorf("soap fault"), "laboratory rejected the registration"))
	var e ErrorResponse
	s.call(http.MethodPost, fmt.Sprintf("/donors/donor-registration/%d/confirm", second.ID), s.ownerToken, nil, http.StatusBadGateway, &e)
	s.Equal(string(derrors.CodeExternalService), e.Code)
}

func (s *APISuite) TestConfirmDirect() {
	s.lab.EXPECT().RegisterDonor(gomock.Any(), gomock.Any()).Return("LC-9", nil)
	var res donor.ConfirmResult
	s.call(http.MethodPost, "/donors/donor-registration/confirm-direct", s.ownerToken, map[string]any{
		"donorNameFirst":             "Jane",
		"donorNameLast":              "Doe",
		"donorDateOfBirth":           "1990-04-02",
		"panelId":                    "P-9",
		"registrationExpirationDate": "2026-12-31",
	}, http.StatusOK, &res)
	s.True(res.Success)
	s.Equal("LC-9", res.LabcorpRegistrationNumber)

	s.call(http.MethodPost, "/donors/donor-registration/confirm-direct", s.ownerToken, map[string]any{
		"registrationExpirationDate": "2026-12-31",
	}, http.StatusBadRequest, nil)
}

func (s *APISuite) TestPayments() {
	reg := s.createRegistration(s.ownerToken)
	in := map[string]any{
		"donorRegistrationId": reg.ID,
		"amount":              25,
		"currency":            "usd",
		"paymentMethod":       "CARD",
		"transactionId":       "pi_manual",
		"status":              payment.StatusCompleted,
	}
	var p payment.Payment
	s.call(http.MethodPost, "/payments", s.ownerToken, in, http.StatusCreated, &p)
	s.Equal(payment.Amount(2500), p.Amount)
	s.Equal(payment.StatusPending, p.Status, "only admins choose the status")
	s.call(http.MethodPost, "/payments", s.adminToken, in, http.StatusConflict, nil)

	in["transactionId"] = "pi_foreign"
	s.call(http.MethodPost, "/payments", s.otherToken, in, http.StatusForbidden, nil)
	in["donorRegistrationId"] = reg.ID + 1000
	s.call(http.MethodPost, "/payments", s.ownerToken, in, http.StatusNotFound, nil)

	path := fmt.Sprintf("/payments/%d", p.ID)
	s.call(http.MethodGet, path, s.otherToken, nil, http.StatusForbidden, nil)
	s.call(http.MethodGet, path, s.ownerToken, nil, http.StatusOK, &p)

	s.call(http.MethodPut, path+"/status", s.ownerToken, StatusRequest{Status: payment.StatusCompleted}, http.StatusForbidden, nil)
	s.call(http.MethodPut, path+"/status", s.adminToken, StatusRequest{Status: " "}, http.StatusBadRequest, nil)
	s.call(http.MethodPut, path+"/status", s.adminToken, StatusRequest{Status: payment.StatusCompleted}, http.StatusOK, &p)
	s.Equal(payment.StatusCompleted, p.Status)

	var page payment.Page
	s.call(http.MethodGet, "/payments?status=COMPLETED", s.ownerToken, nil, http.StatusOK, &page)
	s.Equal(1, page.Total)

	s.call(http.MethodDelete, path, s.ownerToken, nil, http.StatusForbidden, nil)
	s.call(http.MethodDelete, path, s.adminToken, nil, http.StatusOK, &p)
	s.True(p.IsDelete)
}

func (s *APISuite) TestCheckoutAndWebhook() {
	svc := s.createService("DOT Urine", 45.5)

	var params payment.SessionParams
	s.gateway.EXPECT().CreateCheckoutSession(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, p payment.SessionParams) (*payment.Session, error) {
			params = p
			return &payment.Session{ID: "cs_1", URL: "https://pay.example/cs_1"}, nil
		})
	var started payment.CheckoutResult
	s.call(http.MethodPost, "/checkout", "", map[string]any{
		"selectedServices": []map[string]any{{"_id": strconv.FormatInt(svc.ID, 10), "name": "cheap", "serviceFee": 0.01}},
		"donorInfo": map[string]any{
			"donorNameFirst":        "Sam",
			"donorNameLast":         "Roe",
			"donorEmail":            "sam@example.com",
			"donorSSN":              "987-65-4321",
			"donorStateOfResidence": "CA",
			"panelID":               "P-9",
		},
	}, http.StatusOK, &started)
	s.Equal("cs_1", started.SessionID)
	s.Require().NotNil(started.User)
	s.NotEmpty(started.User.Token)
	s.Require().Len(params.LineItems, 1)
	s.Equal(int64(4550), params.LineItems[0].UnitAmount, "catalog price wins over the submitted fee")

	completed := &payment.Event{
		ID:   "evt_1",
		Type: payment.EventCheckoutCompleted,
		Session: &payment.Session{
			ID:              "cs_1",
			AmountTotal:     4550,
			Currency:        "usd",
			PaymentMethod:   "card",
			PaymentIntentID: "pi_1",
			Metadata:        params.Metadata,
		},
	}
	payload := []byte(`{"id":"evt_1"}`)
	s.gateway.EXPECT().ParseWebhook(payload, "good").Return(completed, nil).Times(2)
	s.gateway.EXPECT().ParseWebhook(payload, "bad").Return(nil, derrors.Signature("invalid signature"))

	req := func(sig string) *http.Request {
		r, err := http.NewRequest(http.MethodPost, s.srv.URL+"/stripe/webhook", bytes.NewReader(payload))
		s.Require().NoError(err)
		r.Header.Set("Stripe-Signature", sig)
		return r
	}
	decode := func(r *http.Request, want int) WebhookResponse {
		resp, err := http.DefaultClient.Do(r)
		s.Require().NoError(err)
		defer resp.Body.Close()
		s.Require().Equal(want, resp.StatusCode)
		var out WebhookResponse
		s.Require().NoError(json.NewDecoder(resp.Body).Decode(&out))
		return out
	}

	first := decode(req("good"), http.StatusOK)
	s.True(first.Received)
	s.Require().NotNil(first.WebhookResult)
	s.True(first.Handled)
	s.False(first.Duplicate)
	s.NotZero(first.RegistrationID)
	s.NotZero(first.PaymentID)

	again := decode(req("good"), http.StatusOK)
	s.True(again.Duplicate)
	s.Equal(first.PaymentID, again.PaymentID)

	s.Equal(http.StatusBadRequest, func() int {
		resp, err := http.DefaultClient.Do(req("bad"))
		s.Require().NoError(err)
		resp.Body.Close()
		return resp.StatusCode
	}())

	var page donor.Page
	s.call(http.MethodGet, "/donors/donor-registrations", started.User.Token, nil, http.StatusOK, &page)
	s.Require().Equal(1, page.Total)
	s.Equal(donor.Paid, page.Data[0].PaymentStatus)
	s.Equal("Sam", page.Data[0].DonorNameFirst)

	s.gateway.EXPECT().GetSession(gomock.Any(), "cs_1").Return(completed.Session, nil)
	summary := &payment.SessionSummary{}
	completed.Session.PaymentAmount = 4550
	s.call(http.MethodGet, "/stripe/session/cs_1", "", nil, http.StatusOK, summary)
	s.Equal("Sam", summary.DonorInfo.DonorNameFirst)
	s.Empty(summary.DonorInfo.DonorSSN)
	s.Equal("pi_1", summary.PaymentInfo.TransactionID)
}

func (s *APISuite) TestCheckoutForExistingEmailRequiresLogin() {
	svc := s.createService("DOT Urine", 45.5)
	body := map[string]any{
		"selectedServices": []map[string]any{{"_id": strconv.FormatInt(svc.ID, 10)}},
		"donorInfo": map[string]any{
			"donorNameFirst": "Mallory",
			"donorEmail":     "ADMIN@example.com",
			"panelID":        "P-9",
		},
	}

	for _, token := range []string{"", s.otherToken} {
		var res map[string]any
		s.call(http.MethodPost, "/checkout", token, body, http.StatusOK, &res)
		s.Equal(true, res["loginRequired"])
		s.NotContains(res, "user")
		s.NotContains(res, "sessionId")
	}

	s.gateway.EXPECT().CreateCheckoutSession(gomock.Any(), gomock.Any()).
		Return(&payment.Session{ID: "cs_admin", URL: "https://pay.example/cs_admin"}, nil)
	var started payment.CheckoutResult
	s.call(http.MethodPost, "/checkout", s.adminToken, body, http.StatusOK, &started)
	s.False(started.LoginRequired)
	s.Require().NotNil(started.User)
	s.NotEmpty(started.User.Token)
	s.Equal(access.RoleAdmin, started.User.Role)
}

func (s *APISuite) TestWebhookBodyLimit() {
	big := bytes.Repeat([]byte("a"), maxWebhookSize+1)
	resp := s.do(http.MethodPost, "/stripe/webhook", "", big)
	resp.Body.Close()
	s.Equal(http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func (s *APISuite) TestLocateSites() {
	var out LocateSitesResponse
	s.call(http.MethodGet, "/labcorp?zip=10001", "", nil, http.StatusOK, &out)
	s.Require().Len(out.Sites, 1)
	s.Equal("10001", s.sites.zip)
	s.Equal(defaultSiteDistance, s.sites.distance)

	s.call(http.MethodGet, "/labcorp?zip=10001&distance=5", "", nil, http.StatusOK, &out)
	s.Equal(5, s.sites.distance)

	var e ErrorResponse
	s.call(http.MethodGet, "/labcorp", "", nil, http.StatusBadRequest, &e)
	s.Equal("ZIP code is required", e.Error)
	s.call(http.MethodGet, "/labcorp?zip=10001&distance=-1", "", nil, http.StatusBadRequest, nil)
}

func (s *APISuite) TestLocateSitesUnconfigured() {
	w := httptest.NewRecorder()
	quietAPI().LocateSites(w, httptest.NewRequest(http.MethodGet, "/labcorp?zip=10001", nil))
	s.Equal(http.StatusBadGateway, w.Code)
}

func (s *APISuite) TestAuditLogs() {
	svc := s.createService("DOT Urine", 45.5)
	s.createRegistration(s.ownerToken)

	s.call(http.MethodGet, "/audit-logs", s.ownerToken, nil, http.StatusForbidden, nil)
	s.call(http.MethodGet, "/audit-logs/verify", s.ownerToken, nil, http.StatusForbidden, nil)

	var list ListAuditLogsResponse
	s.call(http.MethodGet, "/audit-logs", s.adminToken, nil, http.StatusOK, &list)
	s.NotEmpty(list.Entries)
	s.Equal(len(list.Entries), list.TotalCount)
	s.False(list.HasMore)

	s.call(http.MethodGet, fmt.Sprintf("/audit-logs?model=%s&recordId=%d&action=CREATE", catalog.Model, svc.ID), s.adminToken, nil, http.StatusOK, &list)
	s.Require().Len(list.Entries, 1)
	s.Equal(audit.ActionCreate, list.Entries[0].Action)

	s.call(http.MethodGet, "/audit-logs?limit=1", s.adminToken, nil, http.StatusOK, &list)
	s.Len(list.Entries, 1)
	s.True(list.HasMore)
	s.call(http.MethodGet, "/audit-logs?userId=abc", s.adminToken, nil, http.StatusBadRequest, nil)

	var result audit.VerifyResult
	s.call(http.MethodGet, "/audit-logs/verify", s.adminToken, nil, http.StatusOK, &result)
	s.True(result.Valid)
	s.NotZero(result.EntryCount)
}

func (s *APISuite) TestRequestIDHeader() {
	resp := s.do(http.MethodGet, "/services", "", nil)
	resp.Body.Close()
	s.NotEmpty(resp.Header.Get(requestIDHeader))
}

func (s *APISuite) TestOpenAPIServed() {
	resp := s.do(http.MethodGet, "/openapi.yaml", "", nil)
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)
	s.Equal("text/yaml", resp.Header.Get("Content-Type"))
}
