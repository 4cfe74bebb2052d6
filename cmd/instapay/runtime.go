package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/instapay/client"
	"github.com/brojonat/instapay/service/config"
	"github.com/brojonat/instapay/service/evm"
	"github.com/brojonat/instapay/service/gasless"
	"github.com/brojonat/instapay/service/metrics"
	natspkg "github.com/brojonat/instapay/service/nats"
	"github.com/brojonat/instapay/service/notify"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
)

// publisherSource identifies this process in NATS messages.
const publisherSource = "instapay-cli"

// newProvider opens the wallet capability. It returns a nil Provider when no
// key is configured. Tests replace it.
var newProvider = func(ctx context.Context, cfg *config.Config, logger *slog.Logger) (evm.Provider, error) {
	if !cfg.HasWallet() {
		return nil, nil
	}
	return evm.Dial(ctx, cfg.RPCURL, cfg.PrivateKey, cfg.ReceiptPollInterval, logger)
}

// runtime is one wired-up transfer flow.
type runtime struct {
	cfg        *config.Config
	logger     *slog.Logger
	bus        *notify.Bus
	session    *gasless.Session
	approver   *gasless.Approver
	transferer *gasless.Transferer

	cleanup []func()
}

// configFromFlags builds the configuration from global flags (which already
// fall back to the environment) and validates it.
func configFromFlags(c *cli.Context) (*config.Config, error) {
	cfg := &config.Config{
		LogLevel:            c.String("log-level"),
		RelayURL:            c.String("relay-url"),
		RelayTimeout:        c.Duration("relay-timeout"),
		RPCURL:              c.String("rpc-url"),
		PrivateKey:          c.String("private-key"),
		ReceiptPollInterval: c.Duration("receipt-poll-interval"),
		ApprovalAmount:      c.String("approval-amount"),
		TokenDecimals:       c.Int("token-decimals"),
		NotificationTTL:     c.Duration("notification-ttl"),
		NATSURL:             c.String("nats-url"),
		MetricsAddr:         c.String("metrics-addr"),
	}

	var errs []error
	for _, a := range []struct {
		flag string
		dst  *common.Address
	}{
		{"token", &cfg.TokenAddress},
		{"spender", &cfg.SpenderAddress},
	} {
		value := c.String(a.flag)
		if !common.IsHexAddress(value) {
			errs = append(errs, fmt.Errorf("--%s: invalid address %q", a.flag, value))
			continue
		}
		*a.dst = common.HexToAddress(value)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newRuntime wires the session, approver and transferer to the relay, the
// wallet, the notification bus and (if configured) NATS and /metrics.
// Callers must Close it.
func newRuntime(c *cli.Context) (*runtime, error) {
	cfg, err := configFromFlags(c)
	if err != nil {
		return nil, err
	}
	logger := setupLogger(cfg.LogLevel)

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)

	bus := notify.NewBus(nil, cfg.NotificationTTL, m, logger)
	bus.AddSink(notify.NewLogSink(logger))

	rt := &runtime{cfg: cfg, logger: logger, bus: bus}

	ctx, cancel := context.WithCancel(context.Background())
	rt.cleanup = append(rt.cleanup, cancel)
	go bus.Run(ctx)

	if cfg.NATSURL != "" {
		publisher, err := natspkg.NewPublisher(cfg.NATSURL, publisherSource, m, logger)
		if err != nil {
			rt.Close()
			return nil, err
		}
		bus.AddSink(publisher)
		rt.cleanup = append(rt.cleanup, func() { publisher.Close() })
	}

	if cfg.MetricsAddr != "" {
		rt.serveMetrics(cfg.MetricsAddr, registry)
	}

	provider, err := newProvider(c.Context, cfg, logger)
	if err != nil {
		rt.Close()
		return nil, fmt.Errorf("failed to initialize wallet: %w", err)
	}

	amount, err := cfg.ApprovalAmountUnits()
	if err != nil {
		rt.Close()
		return nil, err
	}

	httpClient := &http.Client{
		Timeout:   cfg.RelayTimeout,
		Transport: metrics.InstrumentedTransport(m, nil),
	}
	relay := client.NewClient(cfg.RelayURL, httpClient, logger)

	rt.session = gasless.NewSession(provider, bus, m, logger)
	rt.approver = gasless.NewApprover(rt.session, gasless.ApprovalTarget{
		Token:   cfg.TokenAddress,
		Spender: cfg.SpenderAddress,
		Amount:  amount,
	}, bus, m, logger)
	rt.transferer = gasless.NewTransferer(rt.session, rt.approver, relay, bus, nil, gasless.DefaultCelebration, m, logger)

	return rt, nil
}

func (rt *runtime) serveMetrics(addr string, registry *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		rt.logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.logger.Error("metrics server failed", "error", err)
		}
	}()

	rt.cleanup = append(rt.cleanup, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
}

// Close releases everything newRuntime started, newest first.
func (rt *runtime) Close() {
	for i := len(rt.cleanup) - 1; i >= 0; i-- {
		rt.cleanup[i]()
	}
	rt.cleanup = nil
}

// connect connects the wallet, turning the silent no-wallet case into an error
// the user can act on.
func (rt *runtime) connect(ctx context.Context) (common.Address, error) {
	addr, err := rt.session.Connect(ctx)
	if err != nil {
		return common.Address{}, userError(err)
	}
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("no wallet available: set WALLET_PRIVATE_KEY or --private-key")
	}
	return addr, nil
}

// userError reduces a surfaced flow failure to the message the user was
// shown. The cause is already in the logs.
func userError(err error) error {
	var flowErr *gasless.FlowError
	if errors.As(err, &flowErr) {
		return errors.New(flowErr.Message)
	}
	return err
}
