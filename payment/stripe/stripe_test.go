package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/donorhub/internal/derrors"
	"github.com/jmcleod/donorhub/payment"
)

const webhookSecret = "whsec_test_secret"

func sign(payload []byte, secret string, ts time.Time) string {
	t := strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(t + "."))
	mac.Write(payload)
	return fmt.Sprintf("t=%s,v1=%s", t, hex.EncodeToString(mac.Sum(nil)))
}

func newGateway(t *testing.T, baseURL string) *Gateway {
	t.Helper()
	g, err := New(Config{SecretKey: "sk_test_123", WebhookSecret: webhookSecret, BaseURL: baseURL}, nil)
	require.NoError(t, err)
	return g
}

const completedEvent = `{
  "id": "evt_1",
  "object": "event",
  "api_version": "2020-08-27",
  "type": "checkout.session.completed",
  "data": {
    "object": {
      "id": "cs_test_1",
      "object": "checkout.session",
      "amount_total": 4550,
      "currency": "usd",
      "customer_email": "jane@example.com",
      "payment_intent": "pi_123",
      "payment_method_types": ["card"],
      "metadata": {"userId": "7", "checkoutRef": "3"}
    }
  }
}`

func TestParseWebhook(t *testing.T) {
	g := newGateway(t, "")
	payload := []byte(completedEvent)

	ev, err := g.ParseWebhook(payload, sign(payload, webhookSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, payment.EventCheckoutCompleted, ev.Type)
	require.NotNil(t, ev.Session)
	assert.Equal(t, "cs_test_1", ev.Session.ID)
	assert.Equal(t, int64(4550), ev.Session.AmountTotal)
	assert.Equal(t, "usd", ev.Session.Currency)
	assert.Equal(t, "pi_123", ev.Session.PaymentIntentID)
	assert.Equal(t, "card", ev.Session.PaymentMethod)
	assert.Equal(t, "7", ev.Session.Metadata["userId"])
}

func TestParseWebhookRejectsBadSignatures(t *testing.T) {
	g := newGateway(t, "")
	payload := []byte(completedEvent)

	cases := map[string]string{
		"wrong secret": sign(payload, "whsec_other", time.Now()),
		"stale":        sign(payload, webhookSecret, time.Now().Add(-time.Hour)),
		"garbage":      "not-a-signature",
		"missing":      "",
	}
	for name, sig := range cases {
		_, err := g.ParseWebhook(payload, sig)
		assert.ErrorIs(t, err, derrors.ErrSignature, name)
	}

	tampered := []byte(completedEvent[:len(completedEvent)-2] + " }")
	_, err := g.ParseWebhook(tampered, sign(payload, webhookSecret, time.Now()))
	assert.ErrorIs(t, err, derrors.ErrSignature)
}

func TestParseWebhookOtherEvents(t *testing.T) {
	g := newGateway(t, "")
	payload := []byte(`{"id":"evt_2","object":"event","type":"charge.refunded","data":{"object":{"id":"ch_1","object":"charge"}}}`)

	ev, err := g.ParseWebhook(payload, sign(payload, webhookSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "charge.refunded", ev.Type)
	assert.Nil(t, ev.Session)
}

func TestCreateCheckoutSession(t *testing.T) {
	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		form, _ = url.ParseQuery(string(body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"cs_test_9","object":"checkout.session","url":"https://checkout.example/cs_test_9","amount_total":2500,"currency":"usd"}`)
	}))
	t.Cleanup(srv.Close)
	g := newGateway(t, srv.URL)

	sess, err := g.CreateCheckoutSession(context.Background(), payment.SessionParams{
		Currency:      "usd",
		CustomerEmail: "jane@example.com",
		SuccessURL:    "https://app.example/ok?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     "https://app.example/cancel",
		LineItems:     []payment.LineItem{{Name: "10-Panel", UnitAmount: 2500, Quantity: 1}},
		Metadata:      map[string]string{"userId": "7"},
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_9", sess.ID)
	assert.Equal(t, "https://checkout.example/cs_test_9", sess.URL)

	assert.Equal(t, "payment", form.Get("mode"))
	assert.Equal(t, "card", form.Get("payment_method_types[0]"))
	assert.Equal(t, "2500", form.Get("line_items[0][price_data][unit_amount]"))
	assert.Equal(t, "10-Panel", form.Get("line_items[0][price_data][product_data][name]"))
	assert.Equal(t, "1", form.Get("line_items[0][quantity]"))
	assert.Equal(t, "7", form.Get("metadata[userId]"))
	assert.Equal(t, "jane@example.com", form.Get("customer_email"))
}

func TestGetSessionExpandsPaymentIntent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/checkout/sessions/cs_test_1" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = io.WriteString(w, `{"error":{"type":"invalid_request_error","message":"No such checkout.session"}}`)
			return
		}
		assert.Equal(t, "payment_intent", r.URL.Query().Get("expand[0]"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"cs_test_1","object":"checkout.session","amount_total":4550,"currency":"usd",
			"payment_intent":{"id":"pi_123","object":"payment_intent","amount":4550,"currency":"usd","payment_method_types":["card"]}}`)
	}))
	t.Cleanup(srv.Close)
	g := newGateway(t, srv.URL)

	sess, err := g.GetSession(context.Background(), "cs_test_1")
	require.NoError(t, err)
	assert.Equal(t, "pi_123", sess.PaymentIntentID)
	assert.Equal(t, int64(4550), sess.PaymentAmount)
	assert.Equal(t, "usd", sess.PaymentCurrency)
	assert.Equal(t, "card", sess.PaymentMethod)

	_, err = g.GetSession(context.Background(), "cs_missing")
	assert.ErrorIs(t, err, derrors.ErrNotFound)
}

func TestNewRequiresSecrets(t *testing.T) {
	_, err := New(Config{WebhookSecret: "x"}, nil)
	assert.Error(t, err)
	_, err = New(Config{SecretKey: "x"}, nil)
	assert.Error(t, err)
}
