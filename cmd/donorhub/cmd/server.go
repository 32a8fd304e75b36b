package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jmcleod/donorhub/access"
	"github.com/jmcleod/donorhub/api"
	"github.com/jmcleod/donorhub/audit"
	"github.com/jmcleod/donorhub/catalog"
	"github.com/jmcleod/donorhub/crypto"
	"github.com/jmcleod/donorhub/donor"
	"github.com/jmcleod/donorhub/internal/config"
	"github.com/jmcleod/donorhub/internal/metrics"
	"github.com/jmcleod/donorhub/lab"
	"github.com/jmcleod/donorhub/notify"
	"github.com/jmcleod/donorhub/payment"
	"github.com/jmcleod/donorhub/payment/stripe"
	"github.com/jmcleod/donorhub/user"
)

const (
	shutdownTimeout = 10 * time.Second
	throttleSweep   = time.Minute
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the donor registration server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		logger := newLogger(cfg.LogLevel)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		repo, closeRepo, err := openStorage(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeRepo()

		engine, err := crypto.NewEngineFromHex(cfg.EncKey, cfg.EncIV)
		if err != nil {
			return fmt.Errorf("failed to initialise cipher engine: %w", err)
		}

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m := metrics.New(reg)

		auditOpts := []audit.Option{audit.WithLogger(logger), audit.WithMetrics(m)}
		if len(cfg.Kafka.Brokers) > 0 {
			pub, err := audit.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
			if err != nil {
				return fmt.Errorf("failed to start audit publisher: %w", err)
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := pub.Close(closeCtx); err != nil {
					logger.Warn("audit publisher close failed", "error", err)
				}
			}()
			auditOpts = append(auditOpts, audit.WithPublisher(pub))
		}
		auditLog := audit.NewLog(repo, engine, auditOpts...)

		mailer, err := newMailer(cfg, m, logger)
		if err != nil {
			return err
		}

		tokens, err := user.NewTokens(cfg.JWTSecret, cfg.TokenTTL)
		if err != nil {
			return err
		}
		userOpts := []user.Option{user.WithLogger(logger), user.WithMetrics(m), user.WithMailer(mailer)}
		if cfg.Redis.Addr != "" {
			rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
			defer rdb.Close()
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("failed to reach redis at %s: %w", cfg.Redis.Addr, err)
			}
			userOpts = append(userOpts, user.WithCodeStore(user.NewRedisCodeStore(rdb)))
		}
		dir := user.NewDirectory(repo, engine, auditLog, tokens, userOpts...)

		var labClient *lab.Client
		var payments *payment.Service
		donorOpts := []donor.Option{
			donor.WithLogger(logger),
			donor.WithMetrics(m),
			donor.WithMailer(mailer),
			donor.WithPaidLookup(donor.PaidLookupFunc(func(ctx context.Context, ids []int64) (map[int64]bool, error) {
				return payments.CompletedRegistrations(ctx, ids)
			})),
		}
		if cfg.Lab.URL != "" {
			labClient, err = lab.New(lab.Config{
				URL:         cfg.Lab.URL,
				UserID:      cfg.Lab.UserID,
				Password:    cfg.Lab.Password,
				Timeout:     cfg.Lab.Timeout,
				MaxAttempts: cfg.Lab.MaxAttempts,
			}, lab.WithLogger(logger), lab.WithMetrics(m))
			if err != nil {
				return fmt.Errorf("failed to configure laboratory client: %w", err)
			}
			donorOpts = append(donorOpts, donor.WithLab(labClient))
		} else {
			logger.Warn("laboratory integration disabled; confirmations will fail")
		}
		donors := donor.NewService(repo, engine, auditLog, donorOpts...)

		services := catalog.New(repo, engine, auditLog, catalog.WithLogger(logger), catalog.WithMetrics(m))

		paymentOpts := []payment.Option{
			payment.WithLogger(logger),
			payment.WithMetrics(m),
			payment.WithPriceBook(services),
			payment.WithRegistrar(donors),
		}
		if cfg.Stripe.SecretKey != "" {
			gateway, err := stripe.New(stripe.Config{
				SecretKey:     cfg.Stripe.SecretKey,
				WebhookSecret: cfg.Stripe.WebhookSecret,
				BaseURL:       cfg.Stripe.BaseURL,
			}, m)
			if err != nil {
				return fmt.Errorf("failed to configure payment gateway: %w", err)
			}
			paymentOpts = append(paymentOpts, payment.WithCheckout(payment.CheckoutConfig{
				SuccessURL: cfg.SuccessURL(),
				CancelURL:  cfg.CancelURL(),
				Currency:   cfg.Stripe.Currency,
			}, gateway, accountsFor(dir), donors, engine))
		} else {
			logger.Warn("payment gateway disabled; checkout and webhooks will fail")
		}
		payments = payment.NewService(repo, auditLog, paymentOpts...)

		svcs := api.Services{
			Users:    dir,
			Donors:   donors,
			Payments: payments,
			Catalog:  services,
			AuditLog: auditLog,
		}
		if labClient != nil {
			svcs.Sites = labClient
		}
		a := api.New(svcs,
			api.WithLogger(logger),
			api.WithTrustedProxies(cfg.TrustedProxies),
			api.WithAlertHandler(func(ev api.AlertEvent) {
				logger.Warn("security alert", "type", ev.Type, "count", ev.Count, "threshold", ev.Threshold, "message", ev.Message)
			}))

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)
		r.Use(api.SecurityHeaders)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})
		r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		r.Mount("/api/v1", a.Router())

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		if cfg.TLSCert != "" {
			cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
			if err != nil {
				return fmt.Errorf("failed to load TLS key pair: %w", err)
			}
			server.TLSConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
		}

		printBanner()
		fmt.Printf("Starting server on port %d (storage: %s)...\n", cfg.Port, cfg.Storage)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			if server.TLSConfig != nil {
				err = server.ListenAndServeTLS("", "")
			} else {
				err = server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			t := time.NewTicker(throttleSweep)
			defer t.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-t.C:
					dir.SweepThrottle()
				}
			}
		})
		g.Go(func() error {
			<-gctx.Done()
			fmt.Println("\nShutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		})
		return g.Wait()
	},
}

// accountsFor adapts the user directory to the account source checkout
// needs for guest donors.
func accountsFor(dir *user.Directory) payment.Accounts {
	return payment.AccountsFunc(func(ctx context.Context, email, name string, actor access.Identity) (*payment.Account, error) {
		sess, err := dir.EnsureAccount(ctx, email, name, actor)
		if err != nil {
			return nil, err
		}
		return &payment.Account{
			ID:       sess.ID,
			Token:    sess.Token,
			Role:     sess.Role,
			Username: sess.Username,
			Email:    sess.Email,
			Phone:    sess.Phone,
		}, nil
	})
}

func newMailer(cfg config.Config, m *metrics.Metrics, logger *slog.Logger) (notify.Mailer, error) {
	if !cfg.MailEnabled() {
		logger.Warn("SMTP not configured; outgoing mail is logged only")
		return notify.LogMailer{Logger: logger}, nil
	}
	mailer, err := notify.NewSMTPMailer(notify.SMTPConfig{
		Host:     cfg.Email.Host,
		Port:     cfg.Email.Port,
		Username: cfg.Email.Username,
		Password: cfg.Email.Password,
		From:     cfg.Email.From,
	}, m)
	if err != nil {
		return nil, fmt.Errorf("failed to configure mailer: %w", err)
	}
	return mailer, nil
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().IntVarP(&port, "port", "p", 8443, "Port to listen on")
	serverCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file")
	serverCmd.Flags().StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
	addStorageFlags(serverCmd)
}
