package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/brojonat/ledgerlab/service/config"
	"github.com/brojonat/ledgerlab/service/db"
	"github.com/brojonat/ledgerlab/service/metrics"
	natspkg "github.com/brojonat/ledgerlab/service/nats"
	"github.com/brojonat/ledgerlab/service/solana"
	"github.com/brojonat/ledgerlab/service/upload"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// runtime holds everything a command needs, built once from configuration in
// the command's Action and torn down with Close.
type runtime struct {
	cfg       *config.Config
	logger    *slog.Logger
	metrics   *metrics.Metrics // nil unless --metrics-addr is set
	network   solana.Network
	client    *solana.Client
	submitter *solana.Submitter
	level     solana.ConfirmationLevel

	store     *db.Store         // nil unless DATABASE_URL is set
	publisher natspkg.Publisher // nil unless NATS_URL is set

	printer *message.Printer
	out     io.Writer
	json    bool

	closers []func()
}

func newRuntime(c *cli.Context) (*runtime, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}

	r := &runtime{
		cfg:     cfg,
		logger:  setupLogger(cfg.LogLevel),
		level:   cfg.Level(),
		printer: message.NewPrinter(language.English),
		out:     c.App.Writer,
		json:    c.Bool("json"),
	}
	if r.out == nil {
		r.out = os.Stdout
	}

	ctx, cancel := context.WithCancel(c.Context)
	r.closers = append(r.closers, cancel)

	if cfg.MetricsAddr != "" {
		registry := prometheus.NewRegistry()
		r.metrics = metrics.NewMetrics(registry)
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, metrics.Handler(r.metrics, registry), r.logger); err != nil {
				r.logger.Error("metrics server error", "error", err)
			}
		}()
	}

	r.network, err = solana.ResolveNetwork(cfg.Network, cfg.RPCURL)
	if err != nil {
		r.Close()
		return nil, err
	}
	r.client = solana.NewClient(solana.Dial(r.network), r.network.Name, r.metrics, r.logger)
	r.submitter = solana.NewSubmitter(r.client, cfg.SubmitterConfig(), r.metrics, r.logger)

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		r.closers = append(r.closers, pool.Close)
		r.store = db.NewStore(pool, r.metrics)
		if err := r.store.EnsureSchema(ctx); err != nil {
			r.Close()
			return nil, err
		}
	}

	if cfg.NATSURL != "" {
		pub, err := natspkg.NewPublisher(cfg.NATSURL, r.metrics, r.logger)
		if err != nil {
			r.Close()
			return nil, err
		}
		r.closers = append(r.closers, func() { pub.Close() })
		r.publisher = pub
	}

	r.logger.Debug("runtime ready",
		"network", r.network.Name,
		"level", r.level.String(),
		"journal", r.store != nil,
		"receipts", r.publisher != nil,
	)
	return r, nil
}

// Close releases connections in reverse order of creation.
func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// loadConfig reads the environment and applies any global flags given on the
// command line on top of it.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	if c.IsSet("network") {
		cfg.Network = c.String("network")
	}
	if c.IsSet("rpc-url") {
		cfg.RPCURL = c.String("rpc-url")
	}
	if c.IsSet("commitment") {
		cfg.Commitment = c.String("commitment")
	}
	if c.IsSet("confirm-timeout") {
		cfg.ConfirmTimeout = c.Duration("confirm-timeout")
	}
	if c.IsSet("secret-key-var") {
		cfg.SecretKeyVar = c.String("secret-key-var")
	}
	if c.IsSet("log-level") {
		cfg.LogLevel = c.String("log-level")
	}
	if c.IsSet("database-url") {
		cfg.DatabaseURL = c.String("database-url")
	}
	if c.IsSet("nats-url") {
		cfg.NATSURL = c.String("nats-url")
	}
	if c.IsSet("metrics-addr") {
		cfg.MetricsAddr = c.String("metrics-addr")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// identity loads the signing identity, preferring a mnemonic when
// SECRET_MNEMONIC_VAR names one.
func (r *runtime) identity() (*solana.Identity, error) {
	if r.cfg.SecretMnemonicVar != "" {
		return solana.LoadIdentityFromMnemonic(r.cfg.SecretMnemonicVar, "")
	}
	return solana.LoadIdentity(r.cfg.SecretKeyVar)
}

func (r *runtime) uploader(signer *solana.Identity) (upload.Uploader, error) {
	return upload.New(upload.Config{
		Backend:       r.cfg.UploadBackend,
		Signer:        signer,
		Dir:           r.cfg.UploadDir,
		BaseURL:       r.cfg.UploadBaseURL,
		IPFSProjectID: r.cfg.BlockfrostIPFSProjectID,
		GatewayURL:    r.cfg.IPFSGatewayURL,
	}, r.logger, r.metrics)
}

// submit runs one submission and records its outcome in the journal and the
// receipts stream when those are configured. describe adds command-specific
// details to the receipt.
func (r *runtime) submit(ctx context.Context, kind string, req solana.SubmitRequest, describe func(*natspkg.ReceiptEvent)) (*solana.SubmissionResult, error) {
	if req.Level == 0 {
		req.Level = r.level
	}
	res, err := r.submitter.Submit(ctx, req)
	r.record(ctx, kind, payerOf(req), req.Level, res, err, describe)
	return res, err
}

func (r *runtime) record(ctx context.Context, kind, payer string, level solana.ConfirmationLevel, res *solana.SubmissionResult, err error, describe func(*natspkg.ReceiptEvent)) {
	if r.store != nil {
		params := db.SubmissionParams(kind, r.network.Name, payer, level, res, err)
		if _, jerr := r.store.CreateSubmission(ctx, params); jerr != nil {
			r.logger.WarnContext(ctx, "failed to journal submission",
				"kind", kind,
				"signature", params.Signature,
				"error", jerr,
			)
		}
	}

	if r.publisher != nil {
		event := natspkg.ReceiptFromResult(kind, r.network.Name, payer, level, res, err)
		if describe != nil {
			describe(event)
		}
		if perr := r.publisher.PublishReceipt(ctx, event); perr != nil {
			r.logger.WarnContext(ctx, "failed to publish receipt",
				"subject", event.Subject(),
				"error", perr,
			)
		}
	}
}

func payerOf(req solana.SubmitRequest) string {
	if req.Payer == nil {
		return ""
	}
	return req.Payer.String()
}

// balance formats lamports as "1.5 SOL (1,500,000,000 lamports)".
func (r *runtime) balance(lamports uint64) string {
	return r.printer.Sprintf("%s SOL (%d lamports)", solana.FormatSOL(lamports), lamports)
}

func (r *runtime) printf(format string, args ...interface{}) {
	r.printer.Fprintf(r.out, format, args...)
}

func (r *runtime) outputJSON(v interface{}) error {
	return outputJSON(r.out, v)
}

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
