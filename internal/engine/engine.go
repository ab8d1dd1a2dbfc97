// Package engine implements the version-control operations over design
// documents: committing snapshots, forking and retiring branches, detecting
// and resolving merge conflicts, and serving cached branch comparisons.
//
// The engine is a thin coordination layer. Durable state lives in the store
// package; the engine owns the semantics: content hashing, diff computation,
// the merge state machine, and access checks.
package engine

import (
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/trellishq/trellis/internal/cache"
	"github.com/trellishq/trellis/internal/models"
	"github.com/trellishq/trellis/internal/store"
)

// Authorizer decides whether an author may write to a branch. The engine
// consults it before every commit, merge, and resolution.
type Authorizer interface {
	CanWrite(branch *models.Branch, author string) bool
}

// AllowAll grants every author write access to every branch. Used by the
// CLI in single-user mode and by tests.
type AllowAll struct{}

func (AllowAll) CanWrite(*models.Branch, string) bool { return true }

// CollaboratorAuthorizer restricts writes on protected branches to the
// branch creator and its listed collaborators.
type CollaboratorAuthorizer struct{}

func (CollaboratorAuthorizer) CanWrite(branch *models.Branch, author string) bool {
	if !branch.IsProtected {
		return true
	}
	if author == branch.CreatedBy {
		return true
	}
	for _, c := range branch.Collaborators {
		if c == author {
			return true
		}
	}
	return false
}

// Event is a notification about a state change, published after the change
// is durable. Payload keys are event-specific.
type Event struct {
	Type      string         `json:"type"`
	ProjectID string         `json:"project_id,omitempty"`
	BranchID  string         `json:"branch_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	At        time.Time      `json:"at"`
}

// Event types published by the engine.
const (
	EventCommitCreated      = "commit_created"
	EventBranchForked       = "branch_forked"
	EventBranchArchived     = "branch_archived"
	EventBranchRestored     = "branch_restored"
	EventMergeRequested     = "merge_requested"
	EventConflictResolved   = "conflict_resolved"
	EventMergeCompleted     = "merge_completed"
	EventMergeAborted       = "merge_aborted"
	EventComparisonComputed = "comparison_computed"
)

// EventSink receives engine events. Publish must not block: sinks that fan
// out to slow consumers should buffer or drop.
type EventSink interface {
	Publish(event Event)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) Publish(Event) {}

// Engine coordinates version-control operations against a store.
type Engine struct {
	db     *store.DB
	auth   Authorizer
	events EventSink
	logger *log.Logger

	compare *ComparisonCache

	now func() time.Time
}

// Option configures New.
type Option func(*Engine)

// WithAuthorizer sets the branch write-access policy. Default: AllowAll.
func WithAuthorizer(auth Authorizer) Option {
	return func(e *Engine) { e.auth = auth }
}

// WithEventSink sets where engine events are published. Default: NopSink.
func WithEventSink(sink EventSink) Option {
	return func(e *Engine) { e.events = sink }
}

// WithLogger sets the engine's logger.
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithComparisonCache sets the front cache and TTL for branch comparisons.
// Without this option comparisons still work but hit the database each time
// a persisted row has expired.
func WithComparisonCache(backend cache.Backend, ttl time.Duration) Option {
	return func(e *Engine) {
		e.compare.front = backend
		if ttl > 0 {
			e.compare.ttl = ttl
		}
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New builds an engine over the given store.
func New(db *store.DB, opts ...Option) *Engine {
	e := &Engine{
		db:     db,
		auth:   AllowAll{},
		events: NopSink{},
		logger: log.New(os.Stderr, "[engine] ", log.LstdFlags),
		now:    time.Now,
	}
	e.compare = &ComparisonCache{engine: e, ttl: 5 * time.Minute}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store exposes the underlying store, mainly for the CLI's direct reads.
func (e *Engine) Store() *store.DB {
	return e.db
}

func (e *Engine) publish(event Event) {
	event.At = e.now().UTC()
	e.events.Publish(event)
}

func newID() string {
	return uuid.NewString()
}
