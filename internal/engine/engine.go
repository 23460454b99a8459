// Package engine implements the document relationship engine: validated edge
// creation over an acyclic document graph, ancestor and descendant traversal,
// breadcrumbs, parent context aggregation, and ripple-effect review marking.
//
// The engine is stateless between calls. All persistent state lives behind
// the Store interface; write operations run their validate-then-insert
// sequence inside one Store transaction so concurrent writers cannot both
// pass validation for conflicting edges.
package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mschirtzinger/docgraph/internal/types"
)

// DocumentLookup reads documents and merges metadata. Lookups of a missing id
// return (nil, nil).
type DocumentLookup interface {
	GetDocument(ctx context.Context, id string) (*types.Document, error)
	GetDocuments(ctx context.Context, ids []string) (map[string]*types.Document, error)
	MergeMetadataBatch(ctx context.Context, patches map[string]map[string]any) error
}

// RelationshipStore is the non-validating persistence layer for edges.
// Lookups of a missing id return (nil, nil).
type RelationshipStore interface {
	CreateRelationship(ctx context.Context, in types.RelationshipInput) (*types.Relationship, error)
	CreateRelationships(ctx context.Context, ins []types.RelationshipInput) ([]*types.Relationship, error)
	RestoreRelationship(ctx context.Context, rel *types.Relationship) (bool, error)
	GetRelationship(ctx context.Context, id string) (*types.Relationship, error)
	FindRelationship(ctx context.Context, parentID, childID string) (*types.Relationship, error)
	ListRelationshipsByParent(ctx context.Context, parentID string) ([]*types.Relationship, error)
	ListRelationshipsByChild(ctx context.Context, childID string) ([]*types.Relationship, error)
	UpdateRelationshipType(ctx context.Context, id string, typ types.RelationshipType) (*types.Relationship, error)
	DeleteRelationship(ctx context.Context, id string) (bool, error)

	// ChildEdges returns the outgoing edges of every listed parent.
	ChildEdges(ctx context.Context, parentIDs []string) ([]*types.Relationship, error)
	// ParentEdges returns the incoming edges of every listed child.
	ParentEdges(ctx context.Context, childIDs []string) ([]*types.Relationship, error)
}

// Transactor runs fn in a single write transaction. Store calls made with the
// ctx passed to fn participate in it.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Store is everything the engine needs from persistence.
type Store interface {
	DocumentLookup
	RelationshipStore
	Transactor
}

// TypeRegistry returns the allowed parent types of a document type. The bool
// reports whether the type is registered.
type TypeRegistry interface {
	AllowedParentTypes(name string) ([]string, bool)
}

// Config controls validation policy and traversal defaults.
type Config struct {
	// PermissiveUnknownTypes allows any parent for a child whose document
	// type is not registered. When false such edges fail with
	// ErrTypeIncompatible.
	PermissiveUnknownTypes bool

	// CycleCheckDepth bounds the downward search used to detect cycles.
	CycleCheckDepth int

	AncestorDepth     int
	DescendantDepth   int
	MaxCharsPerParent int
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		PermissiveUnknownTypes: true,
		CycleCheckDepth:        20,
		AncestorDepth:          10,
		DescendantDepth:        20,
		MaxCharsPerParent:      2000,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.CycleCheckDepth <= 0 {
		c.CycleCheckDepth = d.CycleCheckDepth
	}
	if c.AncestorDepth <= 0 {
		c.AncestorDepth = d.AncestorDepth
	}
	if c.DescendantDepth <= 0 {
		c.DescendantDepth = d.DescendantDepth
	}
	if c.MaxCharsPerParent <= 0 {
		c.MaxCharsPerParent = d.MaxCharsPerParent
	}
	return c
}

// Engine is the relationship engine. It is safe for concurrent use.
type Engine struct {
	store    Store
	registry TypeRegistry
	cfg      Config
	logger   *zap.SugaredLogger
	events   *eventBus
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the time source used for ripple provenance.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine over store using registry for parent type checks.
func New(store Store, registry TypeRegistry, cfg Config, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		registry: registry,
		cfg:      cfg.withDefaults(),
		logger:   zap.NewNop().Sugar(),
		events:   &eventBus{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}
