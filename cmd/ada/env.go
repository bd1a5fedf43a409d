package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ChamsBouzaiene/ada/internal/answer"
	"github.com/ChamsBouzaiene/ada/internal/config"
	"github.com/ChamsBouzaiene/ada/internal/llm"
	"github.com/ChamsBouzaiene/ada/internal/logging"
	"github.com/ChamsBouzaiene/ada/internal/metrics"
	"github.com/ChamsBouzaiene/ada/internal/search"
	"github.com/ChamsBouzaiene/ada/internal/session"
	"github.com/ChamsBouzaiene/ada/internal/uistate"
)

// runtimeOptions come from command-line flags and win over the config file.
type runtimeOptions struct {
	ConfigDir      string
	AnswerProvider string
	AnswerURL      string
	// Console receives log output; nil keeps logs to the file only.
	Console     io.Writer
	JSONConsole bool
}

type runtimeEnv struct {
	opts    runtimeOptions
	config  *config.Manager
	logger  *zap.Logger
	metrics *metrics.Metrics
	index   *search.Index
	store   *session.Store
	panel   *uistate.Panel

	mu       sync.Mutex
	cfg      *config.Config
	cache    *answer.CachedService
	provider string
	model    string
	closers  []func() error
	closeLog func() error
}

func prepareRuntimeEnv(ctx context.Context, opts runtimeOptions) (*runtimeEnv, error) {
	var mgr *config.Manager
	if opts.ConfigDir != "" {
		mgr = config.NewManagerAt(opts.ConfigDir)
	} else {
		var err error
		mgr, err = config.NewManager()
		if err != nil {
			return nil, err
		}
	}

	cfg, err := resolveConfig(mgr, opts)
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.New(logging.Options{
		Level:       cfg.LogLevel,
		File:        cfg.LogFile,
		Console:     opts.Console,
		JSONConsole: opts.JSONConsole,
	})
	if err != nil {
		return nil, err
	}

	idx, err := search.NewIndex()
	if err != nil {
		_ = closeLog()
		return nil, err
	}

	env := &runtimeEnv{
		opts:     opts,
		config:   mgr,
		logger:   logger,
		metrics:  metrics.New(),
		index:    idx,
		panel:    &uistate.Panel{},
		cfg:      cfg,
		closeLog: closeLog,
	}
	env.closers = append(env.closers, idx.Close)

	svc, cached, err := env.buildService(ctx, cfg)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.cache = cached

	env.store = session.NewStore(svc,
		session.WithIndexer(idx),
		session.WithRecorder(env.metrics),
		session.WithLogger(logger.Named("session")),
	)

	logger.Info("runtime ready",
		zap.String("session", env.store.ID()),
		zap.String("provider", env.provider),
		zap.String("model", env.model),
		zap.String("config", mgr.GetConfigPath()),
		zap.Bool("cache", cfg.CacheEnabled))
	return env, nil
}

func resolveConfig(mgr *config.Manager, opts runtimeOptions) (*config.Config, error) {
	cfg, err := mgr.Resolve()
	if err != nil {
		return nil, err
	}
	if opts.AnswerProvider != "" {
		cfg.AnswerProvider = opts.AnswerProvider
	}
	if opts.AnswerURL != "" {
		cfg.AnswerURL = opts.AnswerURL
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildService creates the answer service described by cfg and records its
// provider and model names. The cache wrapping it, if any, is returned so the
// caller owns its lifetime.
func (r *runtimeEnv) buildService(ctx context.Context, cfg *config.Config) (answer.Service, *answer.CachedService, error) {
	var (
		svc      answer.Service
		provider = cfg.AnswerProvider
		model    string
	)

	switch cfg.AnswerProvider {
	case config.ProviderHTTP:
		svc = answer.NewHTTPService(cfg.AnswerURL, cfg.Timeout(),
			answer.WithHTTPLogger(r.logger.Named("answer")))
		model = cfg.AnswerURL
	case config.ProviderLLM:
		client, name, err := llm.NewClient(cfg.LLMSettings())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create LLM client: %w", err)
		}
		logger := r.logger.Named("llm")
		client = llm.WithRetry(client, llm.DefaultRetryPolicy(), func(attempt int, delay time.Duration, err error) {
			logger.Warn("retrying LLM call", zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
		})
		svc = answer.NewLLMService(client, name,
			answer.WithAudience(cfg.Audience()),
			answer.WithLLMLogger(logger))
		provider = cfg.LLMSettings().Provider
		model = name
	case config.ProviderFixture:
		svc = answer.NewFixtureService(500 * time.Millisecond)
		model = "sample"
	default:
		return nil, nil, fmt.Errorf("unknown answer provider %q", cfg.AnswerProvider)
	}

	var cached *answer.CachedService
	if cfg.CacheEnabled {
		aud := cfg.Audience()
		var err error
		cached, err = answer.NewCachedService(ctx, svc, answer.CacheOptions{
			Namespace:   provider + "|" + model + "|" + strconv.Itoa(aud.Age) + "|" + aud.Experience + "|" + strconv.Itoa(aud.MinReferences),
			TTL:         cfg.CacheTTL(),
			DBPath:      cfg.CachePath,
			CallTimeout: cfg.Timeout(),
			Recorder:    r.metrics,
			Logger:      r.logger.Named("cache"),
		})
		if err != nil {
			return nil, nil, err
		}
		svc = cached
	}

	r.mu.Lock()
	r.provider = provider
	r.model = model
	r.mu.Unlock()
	return svc, cached, nil
}

// Reload re-reads the configuration and swaps the store's answer service. A
// request already in flight finishes on the old service; the old cache is
// closed once it has.
func (r *runtimeEnv) Reload(ctx context.Context) (provider, model string, err error) {
	cfg, err := resolveConfig(r.config, r.opts)
	if err != nil {
		return "", "", err
	}
	svc, cached, err := r.buildService(ctx, cfg)
	if err != nil {
		return "", "", err
	}
	r.store.SetService(svc)

	r.mu.Lock()
	r.cfg = cfg
	old := r.cache
	r.cache = cached
	provider, model = r.provider, r.model
	r.mu.Unlock()

	if old != nil {
		go func() {
			if err := old.Close(); err != nil {
				r.logger.Warn("failed to close replaced answer cache", zap.Error(err))
			}
		}()
	}

	r.logger.Info("answer service reloaded", zap.String("provider", provider), zap.String("model", model))
	return provider, model, nil
}

// Config returns the configuration in effect.
func (r *runtimeEnv) Config() *config.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *r.cfg
	return &cp
}

// Describe returns the provider and model currently answering.
func (r *runtimeEnv) Describe() (string, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.provider, r.model
}

func (r *runtimeEnv) Close() {
	r.mu.Lock()
	closers := r.closers
	r.closers = nil
	if r.cache != nil {
		closers = append(closers, r.cache.Close)
		r.cache = nil
	}
	r.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		errs = append(errs, closers[i]())
	}
	if err := errors.Join(errs...); err != nil {
		r.logger.Warn("error while shutting down", zap.Error(err))
	}
	if r.closeLog != nil {
		_ = r.closeLog()
	}
}
