package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"db-firewall-proxy/internal/auditor"
	"db-firewall-proxy/internal/config"
	"db-firewall-proxy/internal/decoy"
	"db-firewall-proxy/internal/metrics"
	"db-firewall-proxy/internal/notifier"
	"db-firewall-proxy/internal/policy"
	"db-firewall-proxy/internal/proxy"
)

func initLogger() *zap.SugaredLogger {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(os.Stdout),
		zapcore.InfoLevel,
	)

	return zap.New(core).Sugar()
}

func main() {
	configPath := flag.String("config", "db-firewall.yaml", "path to the process configuration file")
	flag.Parse()

	logger := initLogger()
	defer logger.Sync()
	zap.ReplaceGlobals(logger.Desugar())

	defer func() {
		if r := recover(); r != nil {
			zap.S().Errorf("recovered: %v", r)
		}
	}()

	conf, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal(err)
	}

	pol := &policy.Policy{}
	if conf.PolicyPath != "" {
		pol, err = policy.Load(conf.PolicyPath)
		if err != nil {
			logger.Fatal(err)
		}
	}
	policies := policy.NewStore(pol)

	decoys := decoy.NewStore(decoy.Default())
	if conf.DecoyPath != "" {
		ds, err := decoy.Load(conf.DecoyPath)
		if err != nil {
			logger.Fatal(err)
		}
		decoys.Swap(ds)
	}

	m := metrics.New()
	aud := auditor.NewMemoryAuditor(0, func(audit *auditor.SessionAudit) {
		logger.Infow("session audit",
			"id", audit.ID,
			"identity", audit.Identity,
			"queries", len(audit.Records),
			"violations", len(audit.Violations),
		)
	})

	server := proxy.NewServer(conf, aud, policies, decoys, m, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// SIGHUP reloads the policy and decoy files into fresh snapshots;
	// active sessions pick them up on their next query.
	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	go func() {
		for range reload {
			if conf.PolicyPath != "" {
				if p, err := policy.Load(conf.PolicyPath); err != nil {
					logger.Errorw("policy reload failed", "error", err)
				} else {
					policies.Swap(p)
					logger.Info("policy reloaded")
				}
			}
			if conf.DecoyPath != "" {
				if d, err := decoy.Load(conf.DecoyPath); err != nil {
					logger.Errorw("decoy reload failed", "error", err)
				} else {
					decoys.Swap(d)
					logger.Info("decoy dataset reloaded")
				}
			}
		}
	}()

	wg := errgroup.Group{}
	if conf.Notifier.Enabled {
		n, err := notifier.New(conf.Notifier, aud, m, logger)
		if err != nil {
			logger.Fatal(err)
		}
		wg.Go(n.Serve)
		go func() {
			<-ctx.Done()
			_ = n.Shutdown(context.Background())
		}()
	}

	logger.Infow("firewall proxy serves",
		"variant", conf.Variant,
		"listen", conf.Listen.Addr(),
		"backend", conf.Backend.Addr(),
	)
	if err := server.Serve(ctx); err != nil {
		logger.Error(err)
	}
	_ = wg.Wait()
}
