package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arya-analytics/infodb"
	"github.com/arya-analytics/infodb/internal/address"
	"github.com/arya-analytics/infodb/internal/auth"
	"github.com/arya-analytics/infodb/internal/codec"
	"github.com/arya-analytics/infodb/internal/config"
	"github.com/arya-analytics/infodb/internal/entry"
	grpct "github.com/arya-analytics/infodb/transport/grpc"
	httpt "github.com/arya-analytics/infodb/transport/http"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	exitOK = iota
	exitUsage
	exitConfig
	exitRuntime
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stderr))
}

// listeners collects repeated host:port flags.
type listeners []address.Listener

func (l *listeners) String() string { return fmt.Sprint(*l) }

func (l *listeners) Set(s string) error {
	v, err := address.Parse(s)
	if err != nil {
		return err
	}
	*l = append(*l, v)
	return nil
}

func run(ctx context.Context, args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("infodb", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("config", "", "path to the yaml configuration")
	var listen, contacts listeners
	fs.Var(&listen, "listen", "host:port to serve on, repeatable, overrides the configuration")
	fs.Var(&contacts, "contact", "host:port of a seed, repeatable, added to the configuration")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	var (
		f   config.File
		err error
	)
	if *path != "" {
		f, err = config.Load(*path)
	} else {
		f, err = config.Parse(nil)
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitConfig
	}
	if len(listen) > 0 {
		f.Listeners = listen
	}
	f.Contacts = append(f.Contacts, contacts...)

	logger, err := newLogger(f.LogLevel)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitConfig
	}
	defer func() { _ = logger.Sync() }()

	opts, err := options(f, logger)
	if err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		return exitConfig
	}

	db, err := infodb.Open(ctx, f.ID, f.Listeners, f.Contacts, opts...)
	if err != nil {
		logger.Error("failed to open", zap.Error(err))
		if errors.Is(err, infodb.ErrNoListener) {
			return exitConfig
		}
		return exitRuntime
	}

	errC := make(chan error, 1)
	go func() { errC <- db.Wait() }()
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errC:
		logger.Error("node stopped", zap.Error(err))
	}
	if err := db.Close(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("close", zap.Error(err))
		return exitRuntime
	}
	return exitOK
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, errors.Wrapf(err, "log level %q", level)
	}
	cfg.Level = zap.NewAtomicLevelAt(l)
	return cfg.Build()
}

func options(f config.File, logger *zap.Logger) ([]infodb.Option, error) {
	opts := []infodb.Option{
		infodb.WithLogger(logger),
		infodb.WithName(f.Name),
		infodb.Unchecked(f.UncheckedClasses()...),
		infodb.WithPropagationConfig(infodb.PropagationConfig{
			AnnouncePeriod:  duration(f.Propagation.AnnouncePeriod),
			FetchTimeout:    duration(f.Propagation.FetchTimeout),
			DeliveryTimeout: duration(f.Propagation.DeliveryTimeout),
			BlockingFactor:  f.Propagation.BlockingFactor,
			CacheWindow:     duration(f.Propagation.CacheWindow),
			SweepInterval:   duration(f.Propagation.SweepInterval),
			FlushInterval:   duration(f.Propagation.FlushInterval),
		}),
	}
	if !f.IsNeighbour() {
		opts = append(opts, infodb.NotNeighbour())
	}
	if f.HoldsForwarderList {
		opts = append(opts, infodb.HoldsForwarderList())
	}
	if f.Propagation.PullTopologyEveryCycle {
		opts = append(opts, infodb.PullTopologyEveryCycle())
	}
	if f.DataDir != "" {
		opts = append(opts, infodb.WithDir(f.DataDir))
	}
	for t, d := range f.TTLs() {
		opts = append(opts, infodb.WithTTL(t, d))
	}

	switch f.Transport {
	case "grpc":
		opts = append(opts, infodb.WithTransport(grpct.New(logger.Named("grpc"))))
	default:
		opts = append(opts, infodb.WithTransport(httpt.New(httpt.Config{Logger: logger.Named("http")})))
	}

	keyOpts, err := keys(f)
	if err != nil {
		return nil, err
	}
	opts = append(opts, keyOpts...)

	static, err := staticEntries(f.Static)
	if err != nil {
		return nil, err
	}
	return append(opts, infodb.WithStaticEntries(static...)), nil
}

func keys(f config.File) ([]infodb.Option, error) {
	var (
		opts      []infodb.Option
		verifiers auth.Chain
	)
	trusted, err := f.TrustedKeys()
	if err != nil {
		return nil, err
	}
	if len(trusted) > 0 {
		ring := auth.NewKeyring()
		for c, hexKeys := range trusted {
			for _, k := range hexKeys {
				if err := ring.TrustHex(c, k); err != nil {
					return nil, err
				}
			}
		}
		verifiers = append(verifiers, ring)
	}
	if f.Keys.Secret != "" {
		h := auth.HMAC{Secret: []byte(f.Keys.Secret)}
		verifiers = append(verifiers, h)
		if f.Keys.Seed == "" {
			opts = append(opts, infodb.WithSigner(h))
		}
	}
	if f.Keys.Seed != "" {
		s, err := auth.NewKeySignerFromSeed(f.Keys.Seed)
		if err != nil {
			return nil, err
		}
		opts = append(opts, infodb.WithSigner(s))
	}
	if len(verifiers) > 0 {
		opts = append(opts, infodb.WithVerifier(verifiers))
	}
	return opts, nil
}

func staticEntries(paths []string) ([]entry.Entry, error) {
	out := make([]entry.Entry, 0, len(paths))
	for _, p := range paths {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, errors.Wrapf(err, "static entry %s", p)
		}
		e, err := codec.DecodeTyped(b)
		if err != nil {
			return nil, errors.Wrapf(err, "static entry %s", p)
		}
		out = append(out, e)
	}
	return out, nil
}

func duration(d config.Duration) time.Duration { return time.Duration(d) }
