package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/bassamadnan/delivnotify/config"
	"github.com/bassamadnan/delivnotify/extract"
	"github.com/bassamadnan/delivnotify/gmail"
	"github.com/bassamadnan/delivnotify/imapmail"
	"github.com/bassamadnan/delivnotify/logging"
	"github.com/bassamadnan/delivnotify/mailbox"
	"github.com/bassamadnan/delivnotify/metrics"
	"github.com/bassamadnan/delivnotify/notify"
	"github.com/bassamadnan/delivnotify/pipeline"
	"github.com/bassamadnan/delivnotify/tui"
)

// The review screen owns the terminal, so logs go here instead.
const reviewLogFile = "delivnotify.log"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := config.Flags("delivnotify")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	cfg, err := config.Load(fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if cfg.Run.Review && cfg.Log.File == "" {
		cfg.Log.File = reviewLogFile
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("Application starting",
		zap.String("backend", cfg.Mail.Backend),
		zap.Bool("dry_run", cfg.Run.DryRun),
		zap.Bool("review", cfg.Run.Review),
	)

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if cfg.Run.Timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), cfg.Run.Timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			logger.Info("Shutdown signal received, cancelling context")
			cancel()
		case <-ctx.Done():
		}
	}()

	mb, closeMailbox, err := openMailbox(ctx, cfg, logger)
	if err != nil {
		var authErr *mailbox.AuthError
		if errors.As(err, &authErr) {
			logger.Error("Mailbox authentication failed", zap.Error(err))
		} else {
			logger.Error("Failed to open mailbox", zap.Error(err))
		}
		return 1
	}
	defer closeMailbox()

	webex := notify.NewWebex(cfg.Webex, logger.Named("webex"))
	if err := webex.Configured(); err != nil && !cfg.Run.DryRun {
		logger.Warn("Webex is not configured, every notification will fail", zap.Error(err))
	}

	rec := metrics.New()
	runner := pipeline.NewRunner(
		mb,
		extract.New(cfg.Search.Marker, logger.Named("extract")),
		webex,
		cfg.Query(),
		rec,
		logger.Named("pipeline"),
	)
	runner.DryRun = cfg.Run.DryRun

	code := 0
	if cfg.Run.Review {
		code = review(ctx, runner, logger)
	} else {
		summary, err := runner.Run(ctx)
		if err != nil {
			logger.Error("Run failed", append(summary.Fields(), zap.Error(err))...)
			code = 1
		} else {
			logger.Info("Run finished", summary.Fields()...)
		}
	}

	// The run context may be spent; pushing gets its own budget.
	pushCtx, pushCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer pushCancel()
	if err := rec.Push(pushCtx, cfg.Metrics.PushgatewayURL, cfg.Metrics.Job); err != nil {
		logger.Warn("Failed to push metrics", zap.Error(err))
	}
	return code
}

func openMailbox(ctx context.Context, cfg *config.Config, logger *zap.Logger) (pipeline.Mailbox, func(), error) {
	switch cfg.Mail.Backend {
	case config.BackendIMAP:
		c, err := imapmail.Dial(ctx, cfg.IMAP, logger.Named("imap"))
		if err != nil {
			return nil, nil, err
		}
		return c, func() {
			if err := c.Close(); err != nil {
				logger.Warn("Failed to close IMAP connection", zap.Error(err))
			}
		}, nil
	default:
		c, err := gmail.NewClient(ctx, cfg.Gmail, cfg.Mail.User, logger.Named("gmail"))
		if err != nil {
			return nil, nil, err
		}
		return c, func() {}, nil
	}
}

func review(ctx context.Context, runner *pipeline.Runner, logger *zap.Logger) int {
	candidates, err := runner.Collect(ctx)
	if err != nil {
		logger.Error("Failed to collect candidates", zap.Error(err))
		return 1
	}
	logger.Info("Opening review screen", zap.Int("candidates", len(candidates)))
	if err := tui.Run(ctx, candidates, runner.Deliver); err != nil {
		logger.Error("Review screen failed", zap.Error(err))
		return 1
	}
	return 0
}
