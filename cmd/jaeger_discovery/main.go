package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ContinuousC/JaegerDiscovery/pkg/config"
	discoveryModel "github.com/ContinuousC/JaegerDiscovery/pkg/discovery/model"
	"github.com/ContinuousC/JaegerDiscovery/pkg/discovery/service"
	"github.com/ContinuousC/JaegerDiscovery/pkg/discovery/state"
	"github.com/ContinuousC/JaegerDiscovery/pkg/elasticsearch/bootstrapper"
	esClient "github.com/ContinuousC/JaegerDiscovery/pkg/elasticsearch/client"
	"github.com/ContinuousC/JaegerDiscovery/pkg/event_bus"
	graphClient "github.com/ContinuousC/JaegerDiscovery/pkg/graph/client"
	"github.com/ContinuousC/JaegerDiscovery/pkg/statestore"
	"github.com/asaskevich/EventBus"
	"github.com/dgraph-io/ristretto"
	"github.com/elastic/go-elasticsearch/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := newRootCommand(logger).Execute(); err != nil {
		logger.Error("discovery terminated", zap.Error(err))
		os.Exit(1)
	}
}

func newRootCommand(logger *zap.Logger) *cobra.Command {
	var (
		esURL              string
		esIndex            string
		esCA               string
		esCert             string
		esKey              string
		rgURL              string
		stateDir           string
		pollPeriod         string
		skewWindow         string
		stalenessWindow    string
		lookback           string
		pageSize           int
		insecureSkipVerify bool
	)

	cmd := &cobra.Command{
		Use:          "jaeger_discovery",
		Short:        "Discover services, operations and call relations from Jaeger spans",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("es-url") {
				cfg.EsURL = esURL
			}
			if flags.Changed("es-index") {
				cfg.EsIndex = esIndex
			}
			if flags.Changed("es-ca") {
				cfg.EsCA = esCA
			}
			if flags.Changed("es-cert") {
				cfg.EsCert = esCert
			}
			if flags.Changed("es-key") {
				cfg.EsKey = esKey
			}
			if flags.Changed("rg-url") {
				cfg.GraphURL = rgURL
			}
			if flags.Changed("state") {
				cfg.StateDir = stateDir
			}
			if flags.Changed("insecure-skip-verify") {
				cfg.InsecureSkipVerify = insecureSkipVerify
			}
			if flags.Changed("page-size") {
				cfg.PageSize = pageSize
			}
			for name, target := range map[string]*time.Duration{
				"poll-period":      &cfg.PollPeriod,
				"skew-window":      &cfg.SkewWindow,
				"staleness-window": &cfg.StalenessWindow,
				"lookback":         &cfg.Lookback,
			} {
				if !flags.Changed(name) {
					continue
				}
				value, err := flags.GetString(name)
				if err != nil {
					return err
				}
				parsed, err := time.ParseDuration(value)
				if err != nil {
					return fmt.Errorf("invalid --%s: %w", name, err)
				}
				*target = parsed
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cfg, logger)
		},
	}

	cmd.Flags().StringVar(&esURL, "es-url", "", "Trace store base url")
	cmd.Flags().StringVar(&esIndex, "es-index", "jaeger-span-*", "Span index pattern")
	cmd.Flags().StringVar(&esCA, "es-ca", "", "Path to the trace store CA certificate")
	cmd.Flags().StringVar(&esCert, "es-cert", "", "Path to the client certificate for the trace store")
	cmd.Flags().StringVar(&esKey, "es-key", "", "Path to the client key for the trace store")
	cmd.Flags().StringVar(&rgURL, "rg-url", "", "Relation graph base url")
	cmd.Flags().StringVar(&stateDir, "state", "", "Directory holding the state blob")
	cmd.Flags().StringVar(&pollPeriod, "poll-period", "60s", "Time between discovery ticks")
	cmd.Flags().StringVar(&skewWindow, "skew-window", "5m", "Maximum clock gap between out-of-order parent/child spans")
	cmd.Flags().StringVar(&stalenessWindow, "staleness-window", "168h", "Absence after which a service or operation is dropped")
	cmd.Flags().StringVar(&lookback, "lookback", "168h", "Initial query window when no cursor exists")
	cmd.Flags().IntVar(&pageSize, "page-size", 1000, "Spans per trace store page")
	cmd.Flags().BoolVar(&insecureSkipVerify, "insecure-skip-verify", false, "Skip TLS certificate verification")

	return cmd
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	es, err := newElasticsearchClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to create trace store client: %w", err)
	}

	bs := bootstrapper.NewBootstrapper(es, logger)
	if err := bs.WaitForTraceStore(); err != nil {
		return err
	}

	store, err := statestore.NewFileStore(cfg.StateDir, logger)
	if err != nil {
		return err
	}
	st, err := store.Load()
	if err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}
	if st == nil {
		logger.Info("no persisted state found; starting empty")
		st = state.New()
	} else {
		logger.Info("loaded persisted state",
			zap.Int("services", len(st.Services)),
			zap.Int("traces", len(st.Traces)),
		)
	}

	seen, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: (1 << 20) * 10,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return fmt.Errorf("failed to create span admission cache: %w", err)
	}

	tickBus := event_bus.NewTickBus(EventBus.New(), logger)
	err = tickBus.Subscribe(func(output discoveryModel.TickOutput) error {
		logger.Info("tick summary",
			zap.Int("spansProcessed", output.SpansProcessed),
			zap.Int("services", output.Services),
			zap.Int("operations", output.Operations),
			zap.Int("relations", output.Relations),
			zap.Time("cursor", output.Cursor),
			zap.Int64("durationMs", output.DurationMs),
		)
		return nil
	})
	if err != nil {
		return err
	}

	reader := esClient.NewSpanReader(es, cfg.EsIndex, cfg.PageSize, logger)
	ingestor := service.NewIngestor(reader, seen, logger)
	reaper := service.NewReaper(st, cfg.SkewWindow, cfg.StalenessWindow, logger)
	sink := graphClient.NewRelationGraphClient(cfg.GraphURL, cfg.InsecureSkipVerify, logger)

	scheduler := service.NewScheduler(
		st,
		ingestor,
		reaper,
		sink,
		store,
		tickBus,
		cfg.PollPeriod,
		cfg.Lookback,
		logger,
	)

	logger.Info("starting discovery",
		zap.String("traceStore", cfg.EsURL),
		zap.String("index", cfg.EsIndex),
		zap.String("relationGraph", cfg.GraphURL),
		zap.Duration("pollPeriod", cfg.PollPeriod),
	)
	return scheduler.Run(ctx)
}

func newElasticsearchClient(cfg config.Config) (*elasticsearch.Client, error) {
	tlsConfig := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}

	if cfg.EsCA != "" {
		caData, err := os.ReadFile(cfg.EsCA)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA certificate %s: %w", cfg.EsCA, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caData) {
			return nil, fmt.Errorf("no certificates found in %s", cfg.EsCA)
		}
		tlsConfig.RootCAs = pool
	}

	if cfg.EsCert != "" || cfg.EsKey != "" {
		cert, err := tls.LoadX509KeyPair(cfg.EsCert, cfg.EsKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{cfg.EsURL},
		Transport: &http.Transport{TLSClientConfig: tlsConfig},
	})
}
