package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/bun"
	"golang.org/x/sync/errgroup"

	"github.com/tanpawarit/Chative-Retention-Router/agent/actionlog"
	contractx "github.com/tanpawarit/Chative-Retention-Router/agent/contract"
	"github.com/tanpawarit/Chative-Retention-Router/agent/customer"
	"github.com/tanpawarit/Chative-Retention-Router/agent/handoff"
	llmx "github.com/tanpawarit/Chative-Retention-Router/agent/llm"
	"github.com/tanpawarit/Chative-Retention-Router/agent/metrics"
	"github.com/tanpawarit/Chative-Retention-Router/agent/policy"
	"github.com/tanpawarit/Chative-Retention-Router/agent/retention"
	"github.com/tanpawarit/Chative-Retention-Router/agent/roles"
	"github.com/tanpawarit/Chative-Retention-Router/agent/router"
	statex "github.com/tanpawarit/Chative-Retention-Router/agent/state"
	configx "github.com/tanpawarit/Chative-Retention-Router/pkg/config"
	logx "github.com/tanpawarit/Chative-Retention-Router/pkg/logger"
	openrouterx "github.com/tanpawarit/Chative-Retention-Router/pkg/openrouter"
	"github.com/tanpawarit/Chative-Retention-Router/pkg/postgres"
	qstashx "github.com/tanpawarit/Chative-Retention-Router/pkg/qstash"
)

type DataConfig struct {
	CustomersFile string `split_words:"true" default:"data/customers.csv"`
	RulesFile     string `split_words:"true"`
	PoliciesDir   string `split_words:"true"`
	ActionLogFile string `split_words:"true" default:"data/customer_actions.jsonl"`
	MaxOffers     int    `split_words:"true"`
}

type StateConfig struct {
	Backend string `default:"memory"`
	Upstash statex.UpstashRedisConfig
	Redis   statex.RedisConfig
}

// AppConfig groups every prefix the binary reads.
type AppConfig struct {
	Router    router.Config
	Data      DataConfig
	State     StateConfig
	LLM       llmx.Config
	Embedding policy.EmbeddingConfig
	QStash    qstashx.Config
	Kafka     handoff.KafkaConfig
	Postgres  postgres.Config
}

func loadConfig(envFile string) (AppConfig, error) {
	var cfg AppConfig
	steps := []func() error{
		func() error { return loadInto(&cfg.Router, "ROUTER", envFile) },
		func() error { return loadInto(&cfg.Data, "DATA", envFile) },
		func() error { return loadInto(&cfg.State, "STATE", envFile) },
		func() error { return loadInto(&cfg.LLM, "LLM", envFile) },
		func() error { return loadInto(&cfg.Embedding, "EMBEDDING", envFile) },
		func() error { return loadInto(&cfg.QStash, "QSTASH", envFile) },
		func() error { return loadInto(&cfg.Kafka, "KAFKA", envFile) },
		func() error { return loadInto(&cfg.Postgres, "POSTGRES", envFile) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return AppConfig{}, err
		}
	}
	return cfg, nil
}

func loadInto[T any](dst *T, prefix, envFile string) error {
	v, err := configx.New[T](prefix, envFile)
	if err != nil {
		return err
	}
	*dst = *v
	return nil
}

// app is the wired router plus the collaborators the inspection commands use.
type app struct {
	router    *router.Router
	directory contractx.Directory
	closers   []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

type appOptions struct {
	registerer prometheus.Registerer
}

func newApp(ctx context.Context, cfg AppConfig, opts appOptions) (_ *app, err error) {
	a := &app{}
	logger := logx.Component("app")
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	var db *bun.DB
	if cfg.Postgres.Enabled() {
		if db, err = postgres.New(ctx, cfg.Postgres); err != nil {
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
	}

	var (
		directory interface {
			contractx.Directory
			contractx.StatusUpdater
		}
		rules    *retention.Table
		policies contractx.PolicyRetriever
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if db != nil {
			pg, err := customer.NewPostgresDirectory(db)
			if err != nil {
				return err
			}
			if err := pg.CreateSchema(gctx); err != nil {
				return err
			}
			directory = pg
			return nil
		}
		mem, err := customer.LoadCSVFile(cfg.Data.CustomersFile)
		if err != nil {
			return err
		}
		logger.Info().Int("customers", mem.Len()).Str("file", cfg.Data.CustomersFile).Msg("customer directory loaded")
		directory = mem
		return nil
	})
	g.Go(func() error {
		t, err := retention.Load(cfg.Data.RulesFile)
		if err != nil {
			return err
		}
		rules = t
		return nil
	})
	g.Go(func() error {
		p, err := buildPolicies(cfg)
		if err != nil {
			return err
		}
		policies = p
		return nil
	})
	if err = g.Wait(); err != nil {
		return nil, err
	}

	actions, err := buildActionLog(ctx, cfg, db)
	if err != nil {
		return nil, err
	}

	var classifier contractx.Classifier = roles.KeywordClassifier{}
	var responder contractx.Responder
	if cfg.LLM.Enabled() {
		caps, err := llmx.NewCapabilities(ctx, cfg.LLM, classifier)
		if err != nil {
			return nil, err
		}
		classifier = caps.Classifier
		if cfg.LLM.Responder {
			responder = caps.Responder
		}
		logger.Info().Str("model", cfg.LLM.Model).Bool("responder", cfg.LLM.Responder).Msg("llm classifier enabled")
	}

	maxOffers := cfg.Data.MaxOffers
	if maxOffers <= 0 {
		maxOffers = rules.MaxOffers()
	}
	all, err := roles.NewAll(roles.Deps{
		Directory:  directory,
		Classifier: classifier,
		Rules:      rules,
		Policies:   policies,
		Responder:  responder,
		MaxOffers:  maxOffers,
	})
	if err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg.State, a)
	if err != nil {
		return nil, err
	}
	publisher, err := buildPublisher(cfg, a)
	if err != nil {
		return nil, err
	}

	r, err := router.New(store, all, cfg.Router,
		router.WithHandoffPublisher(publisher),
		router.WithStatusUpdater(directory),
		router.WithActionLog(actions),
		router.WithMetrics(metrics.NewRouter(opts.registerer)),
	)
	if err != nil {
		return nil, err
	}

	a.router = r
	a.directory = directory
	return a, nil
}

func buildPolicies(cfg AppConfig) (contractx.PolicyRetriever, error) {
	docs := policy.DefaultDocuments()
	if dir := strings.TrimSpace(cfg.Data.PoliciesDir); dir != "" {
		loaded, err := policy.LoadDocuments(os.DirFS(dir))
		if err != nil {
			return nil, err
		}
		docs = loaded
	}

	var opts []policy.Option
	if cfg.Embedding.Enabled {
		apiKey := firstNonEmpty(cfg.Embedding.APIKey, cfg.LLM.APIKey)
		client := openrouterx.NewClient(openrouterx.Config{
			BaseURL: firstNonEmpty(cfg.Embedding.BaseURL, cfg.LLM.BaseURL),
			APIKey:  apiKey,
			Timeout: cfg.LLM.Timeout,
		})
		if client == nil {
			return nil, fmt.Errorf("%w: embedding api key is required", contractx.ErrValidation)
		}
		embedder, err := policy.NewOpenAIEmbedder(client, cfg.Embedding.Model)
		if err != nil {
			return nil, err
		}
		opts = append(opts, policy.WithEmbedder(embedder))
	}

	r, err := policy.NewRetriever(docs, opts...)
	if err != nil {
		return nil, err
	}
	return policy.NewPassages(r), nil
}

func buildActionLog(ctx context.Context, cfg AppConfig, db *bun.DB) (contractx.ActionLog, error) {
	if db != nil {
		pl, err := actionlog.NewPostgresLog(db)
		if err != nil {
			return nil, err
		}
		if err := pl.CreateSchema(ctx); err != nil {
			return nil, err
		}
		return pl, nil
	}
	if strings.TrimSpace(cfg.Data.ActionLogFile) == "" {
		return actionlog.Discard{}, nil
	}
	return actionlog.NewFileLog(cfg.Data.ActionLogFile)
}

func buildStore(ctx context.Context, cfg StateConfig, a *app) (statex.Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "memory":
		return statex.NewMemoryStore(), nil
	case "upstash":
		return statex.NewUpstashRedisStore(cfg.Upstash)
	case "redis":
		s, err := statex.NewRedisStore(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unknown state backend %q", contractx.ErrValidation, cfg.Backend)
	}
}

func buildPublisher(cfg AppConfig, a *app) (contractx.HandoffPublisher, error) {
	switch {
	case cfg.Kafka.Enabled():
		p, err := handoff.NewKafkaPublisher(cfg.Kafka)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, p.Close)
		return p, nil
	case cfg.QStash.Enabled():
		client, err := qstashx.NewClient(cfg.QStash)
		if err != nil {
			return nil, err
		}
		return handoff.NewQStashPublisher(client, cfg.QStash.Destination)
	default:
		return handoff.Noop{}, nil
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
