package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/rtdb/internal/admin"
	"github.com/danmuck/rtdb/internal/auth"
	"github.com/danmuck/rtdb/internal/config"
	"github.com/danmuck/rtdb/internal/logging"
	"github.com/danmuck/rtdb/internal/observability"
	"github.com/danmuck/rtdb/internal/protocol"
	"github.com/danmuck/rtdb/internal/session"
	"github.com/danmuck/rtdb/internal/transport"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	appName      = "rtdbctl"
	clientStatID = "sdk.go.rtdbctl"
)

type watchFlags []string

func (w *watchFlags) String() string { return strings.Join(*w, ",") }

func (w *watchFlags) Set(v string) error {
	*w = append(*w, v)
	return nil
}

type options struct {
	configPath  string
	host        string
	adminAddr   string
	watches     watchFlags
	initConfig  bool
	checkConfig bool
	printConfig bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "rtdbctl.toml", "path to the rtdbctl config file")
	fs.StringVar(&opts.host, "host", "", "database host, overrides session.host")
	fs.StringVar(&opts.adminAddr, "admin", "", "serve the admin endpoints on this address")
	fs.Var(&opts.watches, "watch", "path to listen on (repeatable)")
	fs.BoolVar(&opts.initConfig, "init", false, "write a starter config file and exit")
	fs.BoolVar(&opts.checkConfig, "check-config", false, "strictly validate the config file and exit")
	fs.BoolVar(&opts.printConfig, "print-config", false, "print the resolved config and exit")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	return opts, nil
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "rtdbctl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	switch {
	case opts.initConfig:
		if err := config.WriteTemplate(opts.configPath, false); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "wrote %s\n", opts.configPath)
		return nil
	case opts.checkConfig:
		if _, err := config.Load(opts.configPath); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "%s: ok\n", opts.configPath)
		return nil
	}

	cfg, undecoded, err := resolveConfig(opts)
	if err != nil {
		return err
	}
	if opts.printConfig {
		return config.Encode(stdout, cfg)
	}

	logCfg := cfg.LoggingConfig()
	logging.ApplyEnv(&logCfg)
	logging.Apply(logCfg)
	logger := observability.ComponentLogger(appName, "main")
	for _, key := range undecoded {
		logger.Warn().Str("key", key).Msg("ignoring unknown config key")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, newPrinter(stdout, logCfg.NoColor), logger, nil)
}

// resolveConfig loads the config file when one exists and applies overrides.
// A missing default file is not an error when -host supplies the host.
func resolveConfig(opts options) (config.File, []string, error) {
	cfg := config.Default()
	var undecoded []string
	if _, err := os.Stat(opts.configPath); err == nil {
		cfg, undecoded, err = loadFile(opts.configPath)
		if err != nil {
			return config.File{}, nil, err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return config.File{}, nil, err
	}
	if err := applyOverrides(&cfg, opts); err != nil {
		return config.File{}, nil, err
	}
	return cfg, undecoded, nil
}

// serve runs the session, the event printer and the admin server until ctx is
// done or one of them fails.
func serve(ctx context.Context, cfg config.File, p *printer, logger zerolog.Logger, dial transport.Dialer) error {
	sessCfg := cfg.SessionConfig()
	sessCfg.Metrics = observability.NewSessionMetrics(sessCfg.Host)
	sess, err := session.New(sessCfg, dial)
	if err != nil {
		return err
	}
	defer sess.Close()

	conn := sess.Connectivity()
	ops := sess.Operations()
	revoked := sess.AuthRevoked()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return sess.Close()
	})
	g.Go(func() error {
		return printEvents(ctx, sess, p, conn, ops, revoked)
	})
	g.Go(func() error {
		return subscribe(ctx, sess, cfg, logger)
	})
	if cfg.Admin.Enabled {
		srv := admin.New(appName, cfg.Admin.Addr, sess, cfg.Admin.CorsOrigins)
		if tok := cfg.Admin.Token; tok != "" {
			srv.RequireToken(auth.StaticToken{Token: tok})
		}
		g.Go(func() error {
			return srv.Serve(ctx)
		})
	}

	logger.Info().Str("host", sessCfg.Host).Int("watches", len(cfg.Watch)).Msg("rtdbctl started")
	err = g.Wait()
	logger.Info().Msg("rtdbctl stopped")
	return err
}

// subscribe authenticates and registers the configured watches. Rejected
// listens are logged; a rejected token ends the run.
func subscribe(ctx context.Context, sess *session.Session, cfg config.File, logger zerolog.Logger) error {
	if tok := cfg.Session.AuthToken; tok != "" {
		if _, err := sess.Auth(ctx, tok); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("auth: %w", err)
		}
		logger.Info().Msg("authenticated")
	}

	if err := sess.ReportStats(ctx, map[string]int{clientStatID: 1}); err != nil && ctx.Err() == nil {
		logger.Debug().Err(err).Msg("stats report failed")
	}

	for _, w := range cfg.Watch {
		warnings, err := sess.Listen(ctx, w.Path, w.Query(), w.Hash)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var serr *protocol.ServerError
			if errors.As(err, &serr) {
				logger.Error().Str("path", w.Path).Err(err).Msg("listen rejected")
				continue
			}
			return fmt.Errorf("listen %s: %w", w.Path, err)
		}
		for _, warning := range warnings {
			logger.Warn().Str("path", w.Path).Str("warning", warning).Msg("listen warning")
		}
		logger.Info().Str("path", w.Path).Msg("listening")
	}
	return nil
}

func printEvents(
	ctx context.Context,
	sess *session.Session,
	p *printer,
	conn *session.Subscription[bool],
	ops *session.Subscription[session.OperationEvent],
	revoked *session.Subscription[struct{}],
) error {
	defer conn.Cancel()
	defer ops.Cancel()
	defer revoked.Cancel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-conn.C:
			if !ok {
				return sess.Err()
			}
			p.connectivity(up)
		case ev, ok := <-ops.C:
			if !ok {
				return sess.Err()
			}
			p.operation(ev)
		case _, ok := <-revoked.C:
			if !ok {
				return sess.Err()
			}
			p.authRevoked()
		}
	}
}
