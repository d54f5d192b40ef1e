package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oceanbase/tagprofile-go/pkg/conflict"
	"github.com/oceanbase/tagprofile-go/pkg/extractor"
	"github.com/oceanbase/tagprofile-go/pkg/llm"
	openaiLLM "github.com/oceanbase/tagprofile-go/pkg/llm/openai"
	"github.com/oceanbase/tagprofile-go/pkg/profile"
	"github.com/oceanbase/tagprofile-go/pkg/storage"
	badgerStore "github.com/oceanbase/tagprofile-go/pkg/storage/badger"
	"github.com/oceanbase/tagprofile-go/pkg/storage/oceanbase"
	postgresStore "github.com/oceanbase/tagprofile-go/pkg/storage/postgres"
	sqliteStore "github.com/oceanbase/tagprofile-go/pkg/storage/sqlite"
	"github.com/oceanbase/tagprofile-go/pkg/tag"
	"github.com/oceanbase/tagprofile-go/pkg/telemetry"
	"github.com/oceanbase/tagprofile-go/pkg/trace"
)

// Client is the main tag profile client.
//
// For every text event it extracts candidate tags, resolves them against
// the user's profile, applies reinforcement, decay and trimming, records
// triggers, history and evidence, and commits profile and logs in one
// repository transaction.
//
// The client is safe for concurrent use. Updates of the same user are
// serialized in process; writers in other processes are detected by the
// repository's version check and the update is re-run from a fresh load.
//
// Example usage:
//
//	config, _ := core.LoadConfigFromEnv()
//	client, _ := core.NewClient(config)
//	defer client.Close()
//
//	result, _ := client.Process(ctx, "user_001", "最近工作压力很大，但我还是很乐观")
//	fmt.Println(result.Profile.Metrics.EmotionalHealthIndex)
type Client struct {
	config *Config

	repo     storage.Repository
	ownsRepo bool

	// provider is closed with the client when the client created it.
	provider llm.Provider

	source   extractor.Source
	manager  *profile.Manager
	tracer   *trace.Tracer
	detector *trace.Detector
	watcher  *conflict.RulesWatcher
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	clock    func() time.Time
	locks    *userLocks

	closeOnce sync.Once
	closeErr  error
}

// Result is the outcome of one processed text event.
type Result struct {
	UserID string `json:"user_id"`

	// Profile is the committed snapshot.
	Profile *tag.Profile `json:"profile"`

	// Outcomes lists what each dimension update did.
	Outcomes []profile.Outcome `json:"outcomes"`

	// Triggers are the recorded trigger records.
	Triggers []tag.TriggerRecord `json:"triggers"`

	// Rejected lists malformed candidates that were dropped.
	Rejected []extractor.Rejection `json:"rejected,omitempty"`

	// SkippedDimensions lists candidate dimensions the profile lacks.
	SkippedDimensions []string `json:"skipped_dimensions,omitempty"`

	// ExtractionErr is set when extraction failed, fully or for some
	// sources. It wraps ErrExtractionUnavailable.
	ExtractionErr error `json:"-"`

	// Attempts is the number of update cycles run, more than one after
	// version conflicts.
	Attempts int `json:"attempts"`
}

// NewClient creates a new tag profile client.
//
// The client is initialized with:
//   - Repository (SQLite, PostgreSQL, OceanBase or Badger) unless WithRepository is given
//   - Candidate source: the behaviour analyzer, plus the LLM extractor when configured
//   - Conflict rules from Profile.RulesPath, optionally watched for changes
//
// A nil cfg uses DefaultConfig.
func NewClient(cfg *Config, opts ...ClientOption) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}
	logger := o.logger
	if logger == nil {
		logger = cfg.Logger
	}
	if logger == nil {
		logger = slog.Default()
	}
	clock := o.clock
	if clock == nil {
		clock = time.Now
	}
	ids := o.ids
	if ids == nil {
		node, err := trace.NewSnowflakeIDs(1)
		if err != nil {
			return nil, NewTagError("NewClient", err)
		}
		ids = node
	}

	c := &Client{
		config:  cfg,
		metrics: telemetry.New(o.registry),
		logger:  logger,
		clock:   clock,
		locks:   newUserLocks(),
	}

	resolver, err := initResolver(cfg.Profile, logger)
	if err != nil {
		return nil, err
	}
	c.manager = profile.NewManager(profile.Config{
		Dimensions:           cfg.Profile.Dimensions,
		MaxTagsPerDimension:  cfg.Profile.MaxTagsPerDimension,
		ConflictHistoryLimit: cfg.Profile.ConflictHistoryLimit,
		TagEventLimit:        cfg.Profile.TagEventLimit,
		DecayRate:            cfg.Profile.DecayRate,
	}, resolver, logger)

	c.repo = o.repo
	if c.repo == nil {
		repo, err := initStorage(context.Background(), cfg.Storage, logger)
		if err != nil {
			return nil, err
		}
		c.repo = repo
		c.ownsRepo = true
	}

	c.source = o.source
	if c.source == nil {
		if err := c.initSource(o.provider); err != nil {
			_ = c.Close()
			return nil, err
		}
	}

	c.tracer = trace.NewTracer(c.repo,
		trace.WithIDGenerator(ids),
		trace.WithClock(clock),
		trace.WithLogger(logger))
	c.detector = trace.NewDetector(ids, clock)

	if cfg.Profile.RulesPath != "" && cfg.Profile.WatchRules {
		watcher, err := conflict.NewRulesWatcher(cfg.Profile.RulesPath, resolver, logger)
		if err == nil {
			err = watcher.Start(context.Background())
		}
		if err != nil {
			_ = c.Close()
			return nil, NewTagError("NewClient", fmt.Errorf("watch rules: %w", err))
		}
		c.watcher = watcher
	}

	return c, nil
}

// Process extracts candidates from text and applies them to the user's
// profile.
//
// Extraction runs before the user's lock is taken. When it fails the update
// still runs with no candidates, so the profile only decays; the failure is
// reported in Result.ExtractionErr. Storage failures leave the stored
// profile and logs unchanged and wrap ErrStorageUnavailable.
func (c *Client) Process(ctx context.Context, userID, text string, opts ...ProcessOption) (*Result, error) {
	start := time.Now()
	if err := checkUser("Process", userID); err != nil {
		return nil, err
	}

	candidates, extractErr := c.extract(ctx, text)
	if err := ctx.Err(); err != nil {
		c.metrics.ObserveUpdate(telemetry.StatusExtractionError, time.Since(start))
		return nil, NewTagError("Process", err)
	}

	result, err := c.update(ctx, "Process", userID, text, candidates, applyProcessOptions(opts))
	c.observe(start, extractErr, err)
	if err != nil {
		return nil, err
	}
	result.ExtractionErr = extractErr
	return result, nil
}

// Ingest applies candidates supplied by the caller, skipping extraction.
// text is recorded as the trigger text.
func (c *Client) Ingest(ctx context.Context, userID, text string, candidates map[string][]tag.Candidate, opts ...ProcessOption) (*Result, error) {
	start := time.Now()
	if err := checkUser("Ingest", userID); err != nil {
		return nil, err
	}
	result, err := c.update(ctx, "Ingest", userID, text, candidates, applyProcessOptions(opts))
	c.observe(start, nil, err)
	return result, err
}

func (c *Client) observe(start time.Time, extractErr, err error) {
	status := telemetry.StatusOK
	switch {
	case errors.Is(err, storage.ErrVersionConflict):
		status = telemetry.StatusConflictLimit
	case err != nil:
		status = telemetry.StatusStorageError
	case extractErr != nil:
		status = telemetry.StatusExtractionError
	}
	c.metrics.ObserveUpdate(status, time.Since(start))
}

// extract runs the source. Partial results of a failing source are kept.
func (c *Client) extract(ctx context.Context, text string) (map[string][]tag.Candidate, error) {
	candidates, err := c.source.Extract(ctx, text)
	if err == nil {
		return candidates, nil
	}
	c.metrics.ExtractionFailure()
	c.logger.Warn("tag extraction failed, applying decay only",
		slog.Any("error", err),
		slog.Int("partial_dimensions", len(candidates)))
	return candidates, fmt.Errorf("%w: %w", ErrExtractionUnavailable, err)
}

func (c *Client) update(ctx context.Context, op, userID, text string, candidates map[string][]tag.Candidate, o *ProcessOptions) (*Result, error) {
	normalized, rejected := extractor.Normalize(candidates)
	if len(rejected) > 0 {
		c.metrics.Rejected(len(rejected))
		c.logger.Warn("malformed candidates rejected",
			slog.String("user_id", userID),
			slog.Int("count", len(rejected)),
			slog.String("first", rejected[0].Error()))
	}

	now := o.Time
	if now.IsZero() {
		now = c.clock()
	}
	messageID := o.MessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}

	retries := c.config.MaxCommitRetries
	if retries <= 0 {
		retries = DefaultMaxCommitRetries
	}

	unlock := c.locks.lock(userID)
	defer unlock()

	for attempt := 1; ; attempt++ {
		result, err := c.cycle(ctx, userID, text, normalized, now, o.SessionID, messageID)
		if err == nil {
			result.Attempts = attempt
			result.Rejected = rejected
			c.record(result)
			return result, nil
		}
		if errors.Is(err, storage.ErrVersionConflict) && attempt <= retries {
			c.metrics.CommitRetry()
			c.logger.Warn("profile changed concurrently, retrying update",
				slog.String("user_id", userID),
				slog.Int("attempt", attempt))
			continue
		}
		return nil, NewTagError(op, err)
	}
}

// withoutDimensions returns byDimension minus the given keys.
func withoutDimensions(byDimension map[string][]tag.Candidate, keys []string) map[string][]tag.Candidate {
	if len(keys) == 0 {
		return byDimension
	}
	out := make(map[string][]tag.Candidate, len(byDimension))
	for k, v := range byDimension {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// cycle runs one load, apply, trace and commit round.
func (c *Client) cycle(ctx context.Context, userID, text string, candidates map[string][]tag.Candidate, now time.Time, sessionID, messageID string) (*Result, error) {
	p, err := c.repo.LoadProfile(ctx, userID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		p = c.manager.NewProfile(userID, now)
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	expected := p.Version

	// Triggers compare the stored tags with what was extracted, whatever the
	// conflict rules later keep.
	before := p.Candidates()
	outcomes, skipped := c.manager.UpdateAll(p, candidates, now)
	extracted := withoutDimensions(candidates, skipped)

	if report := c.detector.ValidateConsistency(before, extracted); !report.IsConsistent || len(report.Warnings) > 0 {
		c.logger.Debug("unusual confidence transition",
			slog.String("user_id", userID),
			slog.Any("warnings", report.Warnings),
			slog.Any("errors", report.Errors))
	}

	detected := c.detector.DetectTriggers(text, before, extracted, sessionID, messageID)
	ledger := c.tracer.Begin(userID)
	triggers := make([]tag.TriggerRecord, 0, len(detected))
	for _, d := range detected {
		rec, err := ledger.Track(ctx, trace.TrackInput{
			TriggerID:        d.TriggerID,
			TagName:          d.TagName,
			Dimension:        d.Dimension,
			TriggerText:      d.TriggerText,
			ConfidenceBefore: d.ConfidenceBefore,
			ConfidenceAfter:  d.ConfidenceAfter,
			Evidence:         d.Evidence,
			Context:          d.Context,
			SessionID:        d.SessionID,
			MessageID:        d.MessageID,
			Time:             now,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
		}
		triggers = append(triggers, rec)
	}

	err = c.repo.Commit(ctx, &storage.Commit{
		UserID:          userID,
		Profile:         p,
		ExpectedVersion: expected,
		TagLogs:         ledger.Dirty(),
	})
	switch {
	case errors.Is(err, storage.ErrVersionConflict):
		return nil, err
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}

	return &Result{
		UserID:            userID,
		Profile:           p,
		Outcomes:          outcomes,
		Triggers:          triggers,
		SkippedDimensions: skipped,
	}, nil
}

func (c *Client) record(r *Result) {
	for _, out := range r.Outcomes {
		for _, rec := range out.Conflicts {
			c.metrics.Conflict(string(rec.ConflictType), string(rec.Action))
		}
		c.metrics.Evicted(len(out.Evicted))
	}
	for _, t := range r.Triggers {
		c.metrics.Trigger(string(t.ActionType))
	}
	c.logger.Debug("profile updated",
		slog.String("user_id", r.UserID),
		slog.Int64("version", r.Profile.Version),
		slog.Int("triggers", len(r.Triggers)),
		slog.Int("tags", r.Profile.TagCount()))
}

// GetProfile returns the stored profile. A user without a profile yields an
// error wrapping storage.ErrNotFound.
func (c *Client) GetProfile(ctx context.Context, userID string) (*tag.Profile, error) {
	if err := checkUser("GetProfile", userID); err != nil {
		return nil, err
	}
	p, err := c.repo.LoadProfile(ctx, userID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, NewTagError("GetProfile", err)
	case err != nil:
		return nil, NewTagError("GetProfile", fmt.Errorf("%w: %w", ErrStorageUnavailable, err))
	}
	return p, nil
}

// DeleteUser removes the user's profile and tag logs.
func (c *Client) DeleteUser(ctx context.Context, userID string) error {
	if err := checkUser("DeleteUser", userID); err != nil {
		return err
	}
	unlock := c.locks.lock(userID)
	defer unlock()
	if err := c.repo.DeleteUser(ctx, userID); err != nil {
		return NewTagError("DeleteUser", fmt.Errorf("%w: %w", ErrStorageUnavailable, err))
	}
	return nil
}

// Resolver returns the conflict resolver, whose rules may be swapped at
// runtime.
func (c *Client) Resolver() *conflict.Resolver {
	return c.manager.Resolver()
}

// Close stops the rules watcher and releases the resources the client
// created. Repositories and providers passed in by options stay open.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		var errs []error
		if c.watcher != nil {
			c.watcher.Stop()
		}
		if c.provider != nil {
			errs = append(errs, c.provider.Close())
		}
		if c.ownsRepo && c.repo != nil {
			errs = append(errs, c.repo.Close())
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}

func (c *Client) initSource(provider llm.Provider) error {
	analyzer := extractor.NewBehaviorAnalyzer()
	if provider == nil && c.config.LLM.Enabled() {
		client, err := openaiLLM.NewClient(&openaiLLM.Config{
			Provider: c.config.LLM.Provider,
			APIKey:   c.config.LLM.APIKey,
			Model:    c.config.LLM.Model,
			BaseURL:  c.config.LLM.BaseURL,
		})
		if err != nil {
			return NewTagError("NewClient", fmt.Errorf("%w: %v", ErrInvalidConfig, err))
		}
		c.provider = client
		provider = client
	}
	if provider == nil {
		c.source = analyzer
		return nil
	}

	llmSource, err := extractor.NewLLMSource(provider,
		extractor.WithCategories(categoriesFor(c.config.Profile.Dimensions)),
		extractor.WithRateLimit(c.config.LLM.RateLimit, c.config.LLM.RateBurst),
	)
	if err != nil {
		return NewTagError("NewClient", err)
	}
	c.source = extractor.Combine(llmSource, analyzer)
	return nil
}

// categoriesFor presents custom dimensions to the model by display name.
func categoriesFor(dims []tag.DimensionSpec) []extractor.Category {
	if len(dims) == 0 {
		return extractor.DefaultCategories()
	}
	out := make([]extractor.Category, 0, len(dims))
	for _, d := range dims {
		label := d.Name
		if label == "" {
			label = d.Key
		}
		out = append(out, extractor.Category{Key: d.Key, Label: label})
	}
	return out
}

func initResolver(cfg ProfileConfig, logger *slog.Logger) (*conflict.Resolver, error) {
	if cfg.RulesPath == "" {
		return conflict.NewResolver(nil, logger), nil
	}
	rules, err := conflict.LoadRules(cfg.RulesPath)
	if err != nil {
		return nil, NewTagError("NewClient", fmt.Errorf("%w: %v", ErrInvalidConfig, err))
	}
	return conflict.NewResolver(rules, logger), nil
}

// initStorage opens the configured repository backend.
func initStorage(ctx context.Context, cfg StorageConfig, logger *slog.Logger) (storage.Repository, error) {
	var (
		repo storage.Repository
		err  error
	)
	switch cfg.Provider {
	case ProviderSQLite:
		repo, err = sqliteStore.NewClient(ctx, &sqliteStore.Config{
			DBPath:        cfg.SQLite.Path,
			TablePrefix:   cfg.TablePrefix,
			BusyTimeoutMs: cfg.SQLite.BusyTimeoutMs,
		}, logger)
	case ProviderPostgres:
		repo, err = postgresStore.NewClient(ctx, &postgresStore.Config{
			Host:        cfg.Postgres.Host,
			Port:        cfg.Postgres.Port,
			User:        cfg.Postgres.User,
			Password:    cfg.Postgres.Password,
			DBName:      cfg.Postgres.Database,
			SSLMode:     cfg.Postgres.SSLMode,
			TablePrefix: cfg.TablePrefix,
		}, logger)
	case ProviderOceanBase:
		repo, err = oceanbase.NewClient(ctx, &oceanbase.Config{
			Host:        cfg.OceanBase.Host,
			Port:        cfg.OceanBase.Port,
			User:        cfg.OceanBase.User,
			Password:    cfg.OceanBase.Password,
			DBName:      cfg.OceanBase.Database,
			TablePrefix: cfg.TablePrefix,
		}, logger)
	case ProviderBadger:
		repo, err = badgerStore.NewClient(&badgerStore.Config{
			Path:       cfg.Badger.Path,
			InMemory:   cfg.Badger.InMemory,
			SyncWrites: cfg.Badger.SyncWrites,
		}, logger)
	default:
		return nil, NewTagError("NewClient", fmt.Errorf("%w: unsupported storage provider: %s", ErrInvalidConfig, cfg.Provider))
	}
	if err != nil {
		return nil, NewTagError("NewClient", fmt.Errorf("%w: %w", ErrStorageUnavailable, err))
	}
	return repo, nil
}
