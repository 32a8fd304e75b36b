// Package config loads process configuration from the environment.
//
// Every setting has a DONORHUB_ name. The key material, laboratory, Stripe
// and mail settings also accept the names used by earlier deployments
// (ENC_KEY, JWT_SECRET, LABCORP_SOAP_URL, STRIPE_SECRET_KEY, EMAIL_USER and
// so on); the DONORHUB_ name wins when both are set.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends.
const (
	StorageBolt     = "bbolt"
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type Lab struct {
	URL         string
	UserID      string
	Password    string
	Timeout     time.Duration
	MaxAttempts int
}

type Stripe struct {
	SecretKey     string
	WebhookSecret string
	BaseURL       string
	Currency      string
}

type Email struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type Redis struct {
	Addr     string
	Password string
	DB       int
}

type Kafka struct {
	Brokers []string
	Topic   string
}

// Config is the complete process configuration.
type Config struct {
	Port           int
	DataDir        string
	Storage        string
	PostgresDSN    string
	TLSCert        string
	TLSKey         string
	TrustedProxies []netip.Prefix
	LogLevel       string

	// EncKey and EncIV are hex: 32 and 16 bytes.
	EncKey    string
	EncIV     string
	JWTSecret string
	TokenTTL  time.Duration

	// PublicBaseURL is the browser-facing origin checkout redirects to.
	PublicBaseURL string

	Lab    Lab
	Stripe Stripe
	Email  Email
	Redis  Redis
	Kafka  Kafka
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Port:     8443,
		DataDir:  "./data",
		Storage:  StorageBolt,
		LogLevel: "info",
		TokenTTL: time.Hour,
		Lab: Lab{
			Timeout:     30 * time.Second,
			MaxAttempts: 3,
		},
		Stripe: Stripe{Currency: "usd"},
		Email:  Email{Host: "smtp.gmail.com", Port: 587},
		Kafka:  Kafka{Topic: "donorhub.audit"},
	}
}

// LoadDotEnv reads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is
// not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: loading %s: %w", path, err)
	}
	return nil
}

// FromEnv builds a Config from the process environment.
func FromEnv() (Config, error) {
	return Load(os.LookupEnv)
}

// Load builds a Config from lookup, starting from Default.
func Load(lookup func(string) (string, bool)) (Config, error) {
	e := env{lookup: lookup}
	c := Default()

	c.Port = e.int(c.Port, "DONORHUB_PORT", "PORT")
	c.DataDir = e.str(c.DataDir, "DONORHUB_DATA_DIR")
	c.Storage = strings.ToLower(e.str(c.Storage, "DONORHUB_STORAGE"))
	c.PostgresDSN = e.str(c.PostgresDSN, "DONORHUB_POSTGRES_DSN", "DATABASE_URL")
	c.TLSCert = e.str(c.TLSCert, "DONORHUB_TLS_CERT")
	c.TLSKey = e.str(c.TLSKey, "DONORHUB_TLS_KEY")
	c.LogLevel = strings.ToLower(e.str(c.LogLevel, "DONORHUB_LOG_LEVEL"))
	for _, raw := range e.list("DONORHUB_TRUSTED_PROXIES") {
		p, err := parsePrefix(raw)
		if err != nil {
			e.fail("DONORHUB_TRUSTED_PROXIES", err)
			continue
		}
		c.TrustedProxies = append(c.TrustedProxies, p)
	}

	c.EncKey = e.str(c.EncKey, "DONORHUB_ENC_KEY", "ENC_KEY")
	c.EncIV = e.str(c.EncIV, "DONORHUB_ENC_IV", "ENC_IV")
	c.JWTSecret = e.str(c.JWTSecret, "DONORHUB_JWT_SECRET", "JWT_SECRET")
	c.TokenTTL = e.duration(c.TokenTTL, "DONORHUB_TOKEN_TTL")
	c.PublicBaseURL = strings.TrimRight(e.str(c.PublicBaseURL, "DONORHUB_PUBLIC_BASE_URL", "NEXT_PUBLIC_BASE_URL"), "/")

	c.Lab.URL = e.str(c.Lab.URL, "DONORHUB_LAB_URL", "LABCORP_SOAP_URL")
	c.Lab.UserID = e.str(c.Lab.UserID, "DONORHUB_LAB_USER_ID", "LABCORP_USER_ID")
	c.Lab.Password = e.str(c.Lab.Password, "DONORHUB_LAB_PASSWORD", "LABCORP_PASSWORD")
	c.Lab.Timeout = e.duration(c.Lab.Timeout, "DONORHUB_LAB_TIMEOUT")
	c.Lab.MaxAttempts = e.int(c.Lab.MaxAttempts, "DONORHUB_LAB_MAX_ATTEMPTS")

	c.Stripe.SecretKey = e.str(c.Stripe.SecretKey, "DONORHUB_STRIPE_SECRET_KEY", "STRIPE_SECRET_KEY")
	c.Stripe.WebhookSecret = e.str(c.Stripe.WebhookSecret, "DONORHUB_STRIPE_WEBHOOK_SECRET", "STRIPE_WEBHOOK_SECRET")
	c.Stripe.BaseURL = e.str(c.Stripe.BaseURL, "DONORHUB_STRIPE_BASE_URL")
	c.Stripe.Currency = strings.ToLower(e.str(c.Stripe.Currency, "DONORHUB_CURRENCY"))

	c.Email.Host = e.str(c.Email.Host, "DONORHUB_SMTP_HOST")
	c.Email.Port = e.int(c.Email.Port, "DONORHUB_SMTP_PORT")
	c.Email.Username = e.str(c.Email.Username, "DONORHUB_SMTP_USER", "EMAIL_USER")
	c.Email.Password = e.str(c.Email.Password, "DONORHUB_SMTP_PASSWORD", "EMAIL_PASS")
	c.Email.From = e.str(c.Email.Username, "DONORHUB_MAIL_FROM")

	c.Redis.Addr = e.str(c.Redis.Addr, "DONORHUB_REDIS_ADDR")
	c.Redis.Password = e.str(c.Redis.Password, "DONORHUB_REDIS_PASSWORD")
	c.Redis.DB = e.int(c.Redis.DB, "DONORHUB_REDIS_DB")

	c.Kafka.Brokers = e.list("DONORHUB_KAFKA_BROKERS")
	c.Kafka.Topic = e.str(c.Kafka.Topic, "DONORHUB_KAFKA_TOPIC")

	return c, errors.Join(e.errs...)
}

// Validate reports settings the server cannot start without.
func (c Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	switch c.Storage {
	case StorageBolt, StorageMemory:
	case StoragePostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres storage needs DONORHUB_POSTGRES_DSN"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage))
	}
	if c.EncKey == "" || c.EncIV == "" {
		errs = append(errs, errors.New("encryption key and IV are required (DONORHUB_ENC_KEY, DONORHUB_ENC_IV)"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("token secret is required (DONORHUB_JWT_SECRET)"))
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		errs = append(errs, errors.New("TLS certificate and key must be set together"))
	}
	if (c.Stripe.SecretKey == "") != (c.Stripe.WebhookSecret == "") {
		errs = append(errs, errors.New("stripe secret key and webhook secret must be set together"))
	}
	if c.Stripe.SecretKey != "" && c.PublicBaseURL == "" {
		errs = append(errs, errors.New("checkout needs DONORHUB_PUBLIC_BASE_URL for redirects"))
	}
	if c.Lab.URL != "" && (c.Lab.UserID == "" || c.Lab.Password == "") {
		errs = append(errs, errors.New("laboratory credentials are required with DONORHUB_LAB_URL"))
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		errs = append(errs, errors.New("kafka brokers need DONORHUB_KAFKA_TOPIC"))
	}
	return errors.Join(errs...)
}

// SuccessURL is where the gateway sends the donor after paying.
func (c Config) SuccessURL() string {
	return c.PublicBaseURL + "/b2c/appointment/confirmation?session_id={CHECKOUT_SESSION_ID}"
}

// CancelURL is where the gateway sends the donor after abandoning checkout.
func (c Config) CancelURL() string {
	return c.PublicBaseURL + "/b2c/appointment/checkout?canceled=true"
}

// MailEnabled reports whether SMTP delivery is configured.
func (c Config) MailEnabled() bool { return c.Email.Username != "" && c.Email.Password != "" }

type env struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *env) get(keys ...string) (string, string, bool) {
	for _, k := range keys {
		if v, ok := e.lookup(k); ok && strings.TrimSpace(v) != "" {
			return k, strings.TrimSpace(v), true
		}
	}
	return "", "", false
}

func (e *env) fail(key string, err error) {
	e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
}

func (e *env) str(def string, keys ...string) string {
	if _, v, ok := e.get(keys...); ok {
		return v
	}
	return def
}

func (e *env) int(def int, keys ...string) int {
	k, v, ok := e.get(keys...)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(k, err)
		return def
	}
	return n
}

func (e *env) duration(def time.Duration, keys ...string) time.Duration {
	k, v, ok := e.get(keys...)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(k, err)
		return def
	}
	return d
}

func (e *env) list(keys ...string) []string {
	_, v, ok := e.get(keys...)
	if !ok {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parsePrefix accepts a CIDR or a bare address.
func parsePrefix(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		return netip.ParsePrefix(s)
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}
