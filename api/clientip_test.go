package api

import (
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExtractClientIP(t *testing.T) {
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}

	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		proxies []netip.Prefix
		want    string
	}{
		{"peer address", "203.0.113.7:5000", nil, nil, "203.0.113.7"},
		{"untrusted peer ignores XFF", "203.0.113.7:5000", map[string]string{"X-Forwarded-For": "198.51.100.1"}, trusted, "203.0.113.7"},
		{"no proxies configured ignores XFF", "10.1.1.1:5000", map[string]string{"X-Forwarded-For": "198.51.100.1"}, nil, "10.1.1.1"},
		{"trusted peer honours XFF", "10.1.1.1:5000", map[string]string{"X-Forwarded-For": "198.51.100.1, 10.1.1.1"}, trusted, "198.51.100.1"},
		{"XFF skips garbage", "10.1.1.1:5000", map[string]string{"X-Forwarded-For": "unknown, 198.51.100.2"}, trusted, "198.51.100.2"},
		{"Forwarded header", "10.1.1.1:5000", map[string]string{"Forwarded": `for="[2001:db8::1]:4711";proto=https`}, trusted, "2001:db8::1"},
		{"X-Real-IP", "10.1.1.1:5000", map[string]string{"X-Real-IP": "198.51.100.3"}, trusted, "198.51.100.3"},
		{"mapped IPv4 unmapped", "[::ffff:192.0.2.9]:80", nil, nil, "192.0.2.9"},
		{"zone stripped", "[fe80::1%eth0]:80", nil, nil, "fe80::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, extractClientIPWithProxies(r, tt.proxies))
		})
	}
}

func TestParseIPCandidate(t *testing.T) {
	for _, raw := range []string{"", "  ", "not-an-ip", `""`} {
		_, ok := parseIPCandidate(raw)
		assert.False(t, ok, "%q", raw)
	}
	ip, ok := parseIPCandidate(" 192.0.2.1 ")
	assert.True(t, ok)
	assert.Equal(t, "192.0.2.1", ip)
}

func TestRetryAfterString(t *testing.T) {
	assert.Equal(t, "1", retryAfterString(0))
	assert.Equal(t, "1", retryAfterString(300*time.Millisecond))
	assert.Equal(t, "90", retryAfterString(90*time.Second))
}

func TestWriteRateLimited(t *testing.T) {
	w := httptest.NewRecorder()
	writeRateLimited(w, 2*time.Minute)
	assert.Equal(t, 429, w.Code)
	assert.Equal(t, "120", w.Header().Get("Retry-After"))
}
