package lab

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/donorhub/internal/derrors"
	"github.com/jmcleod/donorhub/internal/metrics"
	"github.com/jmcleod/donorhub/internal/retry"
)

const registerOK = `<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/">
  <soapenv:Body>
    <ns1:registerDonorResponse xmlns:ns1="http://ws.ots.labcorp.com">
      <ns1:registerDonorReturn>
        <ns2:labcorpRegistrationNumber xmlns:ns2="http://data.ws.ots.labcorp.com"> LC-778899 </ns2:labcorpRegistrationNumber>
      </ns1:registerDonorReturn>
    </ns1:registerDonorResponse>
  </soapenv:Body>
</soapenv:Envelope>`

const registerFault = `<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/">
  <soapenv:Body>
    <soapenv:Fault>
      <faultcode>soapenv:Server</faultcode>
      <faultstring>Registration failed</faultstring>
      <detail>
        <ns1:WsException xmlns:ns1="http://ws.ots.labcorp.com">
          <errors>
            <errorDescription>Invalid panel</errorDescription>
            <errorElement>panelId</errorElement>
          </errors>
        </ns1:WsException>
      </detail>
    </soapenv:Fault>
  </soapenv:Body>
</soapenv:Envelope>`

const registerEmpty = `<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/">
  <soapenv:Body>
    <registerDonorResponse><registerDonorReturn/></registerDonorResponse>
  </soapenv:Body>
</soapenv:Envelope>`

const locateOK = `<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/">
  <soapenv:Body>
    <locateCollectionSitesResponse xmlns="http://webservice.labcorp.com">
      <locateCollectionSitesReturn>
        <collectionSiteId>S1</collectionSiteId>
        <collectionSiteName>Main St PSC</collectionSiteName>
        <address1>1 Main St</address1>
        <city>Springfield</city>
        <state>IL</state>
        <zip>62701</zip>
        <distance>1.4</distance>
        <phoneNumber>
          <areaCode>217</areaCode>
          <exchange>555</exchange>
          <station>0100</station>
        </phoneNumber>
      </locateCollectionSitesReturn>
      <locateCollectionSitesReturn>
        <collectionSiteId>S2</collectionSiteId>
        <collectionSiteName>West PSC</collectionSiteName>
        <distance>6</distance>
      </locateCollectionSitesReturn>
    </locateCollectionSitesResponse>
  </soapenv:Body>
</soapenv:Envelope>`

type captured struct {
	body   string
	action string
	ctype  string
}

func newTestClient(t *testing.T, h http.HandlerFunc, m *metrics.Metrics) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{URL: srv.URL, UserID: "svc", Password: "p&ss<word>", Timeout: 2 * time.Second}, WithMetrics(m))
	require.NoError(t, err)
	c.policy = retry.Policy{MaxAttempts: 3, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}
	return c
}

func respond(status int, body string, got *captured) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if got != nil {
			b, _ := io.ReadAll(r.Body)
			got.body = string(b)
			got.action = r.Header.Get("SOAPAction")
			got.ctype = r.Header.Get("Content-Type")
		}
		w.Header().Set("Content-Type", "text/xml")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}
}

func sampleRegistration() Registration {
	return Registration{
		DonorNameFirst:             "Jane",
		DonorNameLast:              "O'Neil & Sons",
		DonorSex:                   "F",
		DonorDateOfBirth:           time.Date(1990, 4, 12, 15, 30, 0, 0, time.UTC),
		DonorSSN:                   "123456789",
		DonorStateOfResidence:      "IL",
		PanelID:                    "P-10",
		AccountNumber:              "ACC-1",
		RegistrationExpirationDate: time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC),
		DonorReasonForTest:         "PRE",
	}
}

func TestEscapeXML(t *testing.T) {
	assert.Equal(t, "&lt;a href=&quot;x&quot;&gt;Tom &amp; Jerry&apos;s&lt;/a&gt;", EscapeXML(`<a href="x">Tom & Jerry's</a>`))
	assert.Equal(t, "plain", EscapeXML("plain"))
	assert.Equal(t, "&amp;amp;", EscapeXML("&amp;"))
}

func TestRegisterDonorSuccess(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	var got captured
	c := newTestClient(t, respond(http.StatusOK, registerOK, &got), m)

	num, err := c.RegisterDonor(context.Background(), sampleRegistration())
	require.NoError(t, err)
	assert.Equal(t, "LC-778899", num)

	assert.Equal(t, "registerDonors", got.action)
	assert.Equal(t, "text/xml; charset=utf-8", got.ctype)
	assert.Contains(t, got.body, `xmlns:ws="http://ws.ots.labcorp.com"`)
	assert.Contains(t, got.body, `xmlns:data="http://data.ws.ots.labcorp.com"`)
	assert.Contains(t, got.body, "<ws:userId>svc</ws:userId>")
	assert.Contains(t, got.body, "<ws:password>p&amp;ss&lt;word&gt;</ws:password>")
	assert.Contains(t, got.body, "<data:donorNameLast>O&apos;Neil &amp; Sons</data:donorNameLast>")
	assert.Contains(t, got.body, "<data:donorDateOfBirth>1990-04-12T00:00:00</data:donorDateOfBirth>")
	assert.Contains(t, got.body, "<data:registrationExpirationDate>2026-12-01T00:00:00</data:registrationExpirationDate>")
	assert.Contains(t, got.body, "<data:splitSpecimenRequested>false</data:splitSpecimenRequested>")
	assert.NotContains(t, got.body, "testingAuthority", "empty fields are omitted")

	dob := strings.Index(got.body, "donorDateOfBirth")
	first := strings.Index(got.body, "donorNameFirst")
	reason := strings.Index(got.body, "donorReasonForTest")
	assert.True(t, dob < first && first < reason, "fields keep wire order")

	assert.Equal(t, 1, testutil.CollectAndCount(m.ExternalCallDuration))
}

func TestRegisterDonorFault(t *testing.T) {
	c := newTestClient(t, respond(http.StatusInternalServerError, registerFault, nil), nil)

	_, err := c.RegisterDonor(context.Background(), sampleRegistration())
	require.Error(t, err)
	assert.ErrorIs(t, err, derrors.ErrExternalService)

	var fe *FaultError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "soapenv:Server", fe.Code)
	assert.Equal(t, "Invalid panel", fe.Description)
	assert.Equal(t, "panelId", fe.Element)
	assert.Contains(t, fe.Error(), "element: panelId")
}

func TestRegisterDonorFaultWithoutDetail(t *testing.T) {
	body := `<Envelope><Body><Fault><faultcode>Client</faultcode><faultstring>Bad login</faultstring></Fault></Body></Envelope>`
	c := newTestClient(t, respond(http.StatusInternalServerError, body, nil), nil)

	_, err := c.RegisterDonor(context.Background(), sampleRegistration())
	var fe *FaultError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "Bad login", fe.Description)
	assert.Empty(t, fe.Element)
}

func TestRegisterDonorIncompleteResponse(t *testing.T) {
	c := newTestClient(t, respond(http.StatusOK, registerEmpty, nil), nil)

	_, err := c.RegisterDonor(context.Background(), sampleRegistration())
	assert.ErrorIs(t, err, ErrIncompleteResponse)
	assert.ErrorIs(t, err, derrors.ErrExternalService)
}

func TestRegisterDonorValidation(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}, nil)

	r := sampleRegistration()
	r.DonorDateOfBirth = time.Time{}
	_, err := c.RegisterDonor(context.Background(), r)
	assert.ErrorIs(t, err, derrors.ErrValidation)

	r = sampleRegistration()
	r.RegistrationExpirationDate = time.Time{}
	_, err = c.RegisterDonor(context.Background(), r)
	assert.ErrorIs(t, err, derrors.ErrValidation)

	assert.Zero(t, calls.Load(), "invalid registrations never reach the service")
}

func TestRegisterDonorRetriesGatewayErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, registerOK)
	}, nil)

	num, err := c.RegisterDonor(context.Background(), sampleRegistration())
	require.NoError(t, err)
	assert.Equal(t, "LC-778899", num)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRegisterDonorDoesNotRetryFaults(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, registerFault)
	}, nil)

	_, err := c.RegisterDonor(context.Background(), sampleRegistration())
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestRegisterDonorTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)
	c, err := New(Config{URL: srv.URL, Timeout: 50 * time.Millisecond, MaxAttempts: 2})
	require.NoError(t, err)
	c.policy.InitialInterval = time.Millisecond

	_, err = c.RegisterDonor(context.Background(), sampleRegistration())
	assert.ErrorIs(t, err, derrors.ErrExternalService)
}

func TestRegisterDonorUnexpectedStatus(t *testing.T) {
	c := newTestClient(t, respond(http.StatusBadRequest, "not xml", nil), nil)

	_, err := c.RegisterDonor(context.Background(), sampleRegistration())
	assert.ErrorIs(t, err, derrors.ErrExternalService)
	assert.Contains(t, err.Error(), "status 400")
}

func TestLocateCollectionSites(t *testing.T) {
	var got captured
	c := newTestClient(t, respond(http.StatusOK, locateOK, &got), nil)

	sites, err := c.LocateCollectionSites(context.Background(), " 62701 ", 0)
	require.NoError(t, err)
	require.Len(t, sites, 2)
	assert.Equal(t, "S1", sites[0].ID)
	assert.Equal(t, "Main St PSC", sites[0].Name)
	assert.InDelta(t, 1.4, sites[0].Distance, 1e-9)
	assert.Equal(t, Phone{AreaCode: "217", Exchange: "555", Station: "0100"}, sites[0].Phone)
	assert.Equal(t, "S2", sites[1].ID)

	assert.Empty(t, got.action)
	assert.Contains(t, got.body, `xmlns:web="http://webservice.labcorp.com"`)
	assert.Contains(t, got.body, "<zip>62701</zip>")
	assert.Contains(t, got.body, "<distance>10</distance>")
}

func TestLocateCollectionSitesRequiresZip(t *testing.T) {
	c := newTestClient(t, respond(http.StatusOK, locateOK, nil), nil)
	_, err := c.LocateCollectionSites(context.Background(), "  ", 5)
	assert.ErrorIs(t, err, derrors.ErrValidation)
}

func TestLocateCollectionSitesEmpty(t *testing.T) {
	body := `<Envelope><Body></Body></Envelope>`
	c := newTestClient(t, respond(http.StatusOK, body, nil), nil)
	sites, err := c.LocateCollectionSites(context.Background(), "10001", 25)
	require.NoError(t, err)
	assert.Empty(t, sites)
}

func TestRegisterDonorGivesUpOnPersistentGatewayErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}, nil)

	_, err := c.RegisterDonor(context.Background(), sampleRegistration())
	assert.ErrorIs(t, err, derrors.ErrExternalService)
	assert.Equal(t, int32(3), calls.Load())
}

func TestNewRequiresURL(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
