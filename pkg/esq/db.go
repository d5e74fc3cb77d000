// Package esq is a chainable query layer over Elasticsearch.
//
// A DB owns the connection router, the mapping metadata cache, the result
// cache and the lazy increment counter. Queries are built from it:
//
//	db, err := esq.New(config.Load())
//	rows, err := db.Table("orders").
//	    Where("status", "paid").
//	    Where("total", ">", 100).
//	    Order("created_at", "desc").
//	    Limit(20).
//	    Select(ctx)
//
// Every terminal call finalizes the accumulated state into a types.Spec and
// clears it, so a Query can be reused for an unrelated operation. A Query
// is not safe for concurrent use; a DB is.
package esq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/usestring/esquery/internal/cache"
	"github.com/usestring/esquery/internal/config"
	"github.com/usestring/esquery/internal/logging"
	"github.com/usestring/esquery/internal/meta"
	"github.com/usestring/esquery/internal/query"
	"github.com/usestring/esquery/pkg/compile"
	"github.com/usestring/esquery/pkg/conn"
	"github.com/usestring/esquery/pkg/types"
)

// Hooks observe or short-circuit operations. Nil fields are skipped.
type Hooks struct {
	// BeforeFind may return a row to use instead of querying.
	BeforeFind func(ctx context.Context, spec *types.Spec) (types.Row, bool)
	// BeforeSelect may return rows to use instead of querying.
	BeforeSelect func(ctx context.Context, spec *types.Spec) ([]types.Row, bool)
	AfterInsert  func(ctx context.Context, spec *types.Spec)
	AfterUpdate  func(ctx context.Context, spec *types.Spec)
	AfterDelete  func(ctx context.Context, spec *types.Spec)
}

// DB is the entry point for building queries.
type DB struct {
	cfg      *config.Config
	router   *conn.Router
	meta     *meta.Cache
	compiler *compile.Compiler
	results  *cache.ResultCache
	counter  *cache.Counter
	extract  *query.Engine
	hooks    Hooks
	logger   *slog.Logger
	now      func() time.Time

	routerOpts []conn.Option
}

// Option configures a DB.
type Option func(*DB)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(db *DB) {
		db.logger = logger
	}
}

// WithHooks installs operation hooks.
func WithHooks(h Hooks) Option {
	return func(db *DB) {
		db.hooks = h
	}
}

// WithCache sets the read-through result cache.
func WithCache(c *cache.ResultCache) Option {
	return func(db *DB) {
		db.results = c
	}
}

// WithCounter sets the lazy increment counter.
func WithCounter(c *cache.Counter) Option {
	return func(db *DB) {
		db.counter = c
	}
}

// WithClock sets the clock used for relative time ranges.
func WithClock(now func() time.Time) Option {
	return func(db *DB) {
		db.now = now
	}
}

// WithRouter uses r instead of a router built from the configuration.
func WithRouter(r *conn.Router) Option {
	return func(db *DB) {
		db.router = r
	}
}

// WithRouterOptions passes options to the router built from the
// configuration.
func WithRouterOptions(opts ...conn.Option) Option {
	return func(db *DB) {
		db.routerOpts = append(db.routerOpts, opts...)
	}
}

// New creates a DB from cfg.
func New(cfg *config.Config, opts ...Option) (*DB, error) {
	db := &DB{cfg: cfg, now: time.Now, extract: query.NewEngine()}
	for _, opt := range opts {
		opt(db)
	}
	db.logger = logging.Default(db.logger)

	if db.router == nil {
		ropts := append([]conn.Option{conn.WithLogger(db.logger)}, db.routerOpts...)
		db.router = conn.New(cfg, ropts...)
	}
	if db.results == nil {
		maxItems := cfg.ResultCacheMaxItems
		if maxItems <= 0 {
			maxItems = 1024
		}
		rc, err := cache.NewResultCache(maxItems)
		if err != nil {
			return nil, fmt.Errorf("creating result cache: %w", err)
		}
		db.results = rc
	}
	if db.counter == nil {
		db.counter = cache.NewCounter(db.now)
	}

	pk := cfg.PrimaryKey
	if pk == "" {
		pk = config.DefaultPrimaryKeyValue
	}
	db.meta = meta.New(db.router, cfg.DocType, pk, db.logger)
	db.compiler = compile.New(
		compile.WithDocType(cfg.DocType),
		compile.WithPrimaryKey(pk),
		compile.WithTypeResolver(db.meta),
	)
	return db, nil
}

// Table starts a query on table, used verbatim.
func (db *DB) Table(table string) *Query {
	return db.Query().Table(table)
}

// Name starts a query on the collection named after name: the configured
// prefix plus name in snake case.
func (db *DB) Name(name string) *Query {
	return db.Query().Name(name)
}

// Query starts an empty query.
func (db *DB) Query() *Query {
	return &Query{db: db}
}

// Compiler returns the compiler used by queries.
func (db *DB) Compiler() *compile.Compiler {
	return db.compiler
}

// Router returns the connection router.
func (db *DB) Router() *conn.Router {
	return db.router
}

// TableInfo returns the field metadata of table, loading it on first use.
func (db *DB) TableInfo(ctx context.Context, table string) (*meta.TableInfo, error) {
	return db.meta.Table(ctx, table)
}

// ClearMeta forgets cached metadata: of the given tables, or of every
// table when none is given.
func (db *DB) ClearMeta(tables ...string) {
	if len(tables) == 0 {
		db.meta.ClearAll()
		return
	}
	for _, t := range tables {
		db.meta.Clear(t)
	}
}

// ClearCacheTag drops every cached result stored under tag.
func (db *DB) ClearCacheTag(tag string) {
	db.results.ClearTag(tag)
}

// Ping probes every configured node.
func (db *DB) Ping(ctx context.Context) ([]conn.NodeStatus, error) {
	return db.router.PingAll(ctx)
}

// Close closes every open connection.
func (db *DB) Close() error {
	db.router.Reset()
	return nil
}
