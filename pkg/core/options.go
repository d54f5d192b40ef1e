package core

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/oceanbase/tagprofile-go/pkg/extractor"
	"github.com/oceanbase/tagprofile-go/pkg/llm"
	"github.com/oceanbase/tagprofile-go/pkg/storage"
	"github.com/oceanbase/tagprofile-go/pkg/trace"
)

// ProcessOption is a function type for configuring Process operations.
//
// Options are applied using the functional options pattern, allowing
// flexible configuration without requiring all parameters.
type ProcessOption func(*ProcessOptions)

// ProcessOptions contains configuration options for Process operations.
type ProcessOptions struct {
	// SessionID groups the triggers of one conversation. Defaults to
	// "default".
	SessionID string

	// MessageID identifies the text event. Defaults to a random UUID.
	MessageID string

	// Time is the event time. Defaults to the client's clock.
	Time time.Time
}

// WithSessionID sets the session the text belongs to.
//
// Example:
//
//	result, _ := client.Process(ctx, "user_001", "今天很开心", core.WithSessionID("s1"))
func WithSessionID(sessionID string) ProcessOption {
	return func(opts *ProcessOptions) {
		opts.SessionID = sessionID
	}
}

// WithMessageID sets the identifier of the text event.
func WithMessageID(messageID string) ProcessOption {
	return func(opts *ProcessOptions) {
		opts.MessageID = messageID
	}
}

// WithTime sets the event time used for decay and provenance.
func WithTime(t time.Time) ProcessOption {
	return func(opts *ProcessOptions) {
		opts.Time = t
	}
}

func applyProcessOptions(opts []ProcessOption) *ProcessOptions {
	options := &ProcessOptions{}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// ClientOption is a function type for configuring a Client.
type ClientOption func(*clientOptions)

type clientOptions struct {
	logger   *slog.Logger
	repo     storage.Repository
	source   extractor.Source
	provider llm.Provider
	registry prometheus.Registerer
	clock    func() time.Time
	ids      trace.IDGenerator
}

// WithLogger sets the logger, overriding Config.Logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// WithRepository uses repo instead of opening the configured storage. The
// caller keeps ownership: Close does not close repo.
func WithRepository(repo storage.Repository) ClientOption {
	return func(o *clientOptions) {
		o.repo = repo
	}
}

// WithSource replaces the candidate source built from the configuration.
func WithSource(source extractor.Source) ClientOption {
	return func(o *clientOptions) {
		o.source = source
	}
}

// WithLLM uses provider for extraction instead of the configured one. The
// behaviour analyzer still runs alongside it.
func WithLLM(provider llm.Provider) ClientOption {
	return func(o *clientOptions) {
		o.provider = provider
	}
}

// WithRegistry registers the client's metrics with reg.
func WithRegistry(reg prometheus.Registerer) ClientOption {
	return func(o *clientOptions) {
		o.registry = reg
	}
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) ClientOption {
	return func(o *clientOptions) {
		o.clock = clock
	}
}

// WithIDGenerator overrides the identifiers of triggers, history entries
// and evidence items.
func WithIDGenerator(ids trace.IDGenerator) ClientOption {
	return func(o *clientOptions) {
		o.ids = ids
	}
}
