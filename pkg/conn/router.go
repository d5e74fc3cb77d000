// Package conn routes engine requests to configured nodes and executes
// them.
//
// A Router owns one transport per node slot. Slots open lazily on first
// use and stay open until Reset. Each request is resolved to a role:
//
//   - single deployment: every role uses slot 0.
//   - distributed, no read/write split: one slot is selected among all
//     nodes and reused for both roles.
//   - distributed with split: writes go to a slot among the first MasterNum
//     nodes; reads go to the pinned ReplicaNo when set, otherwise to a slot
//     among the remaining nodes.
//
// The selected slot of each role is cached, so selection happens once per
// role until Reset.
package conn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/usestring/esquery/internal/config"
	"github.com/usestring/esquery/internal/logging"
	"github.com/usestring/esquery/pkg/client"
	"github.com/usestring/esquery/pkg/types"
)

// ErrNoNodes is returned when the router has no node to route to.
var ErrNoNodes = errors.New("no engine nodes configured")

// Role is the routing intent of a request.
type Role int

const (
	RoleRead Role = iota
	RoleWrite
)

func (r Role) String() string {
	if r == RoleWrite {
		return "write"
	}
	return "read"
}

// Transport is the engine client held by a slot. *client.Client
// implements it.
type Transport interface {
	Search(ctx context.Context, req *types.Request) (*client.SearchResponse, error)
	Count(ctx context.Context, req *types.Request) (*client.CountResponse, error)
	Bulk(ctx context.Context, req *types.Request) (*client.BulkResponse, error)
	UpdateByQuery(ctx context.Context, req *types.Request) (*client.ByQueryResponse, error)
	DeleteByQuery(ctx context.Context, req *types.Request) (*client.ByQueryResponse, error)
	GetMapping(ctx context.Context, index string) (client.MappingResponse, error)
	Info(ctx context.Context) (*client.InfoResponse, error)
}

// Dialer opens a transport for a node.
type Dialer func(node config.Node) (Transport, error)

// HTTPDialer returns a Dialer creating REST clients sharing one HTTP
// client.
func HTTPDialer(httpClient *http.Client) Dialer {
	return func(node config.Node) (Transport, error) {
		if node.URL == "" {
			return nil, errors.New("node without URL")
		}
		opts := []client.Option{client.WithBaseURL(node.URL)}
		if httpClient != nil {
			opts = append(opts, client.WithHTTPClient(httpClient))
		}
		if node.Username != "" {
			opts = append(opts, client.WithBasicAuth(node.Username, node.Password))
		}
		return client.New(opts...), nil
	}
}

// Event describes one executed verb.
type Event struct {
	Verb    types.Verb
	Role    Role
	Slot    int
	Request *types.Request
	Elapsed time.Duration
	Err     error
}

// Listener observes executed verbs, failed or not.
type Listener func(Event)

// Router resolves roles to slots and executes verbs against them. It is
// safe for concurrent use.
type Router struct {
	nodes       []config.Node
	distributed bool
	rwSeparate  bool
	masterNum   int
	replicaNo   int

	dial      Dialer
	selector  Selector
	logger    *slog.Logger
	debug     bool
	metrics   *Metrics
	listeners []Listener

	mu    sync.Mutex
	slots map[int]Transport
	roles map[Role]int
}

// Option configures a Router.
type Option func(*Router)

// WithDialer sets how slots are opened.
func WithDialer(d Dialer) Option {
	return func(r *Router) {
		r.dial = d
	}
}

// WithSelector overrides the selector named in the configuration.
func WithSelector(s Selector) Option {
	return func(r *Router) {
		r.selector = s
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithMetrics records every verb in m.
func WithMetrics(m *Metrics) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

// WithListener adds a listener called after every verb.
func WithListener(l Listener) Option {
	return func(r *Router) {
		r.listeners = append(r.listeners, l)
	}
}

// New creates a Router for the nodes and topology of cfg.
func New(cfg *config.Config, opts ...Option) *Router {
	r := &Router{
		nodes:       cfg.Nodes,
		distributed: cfg.Distributed(),
		rwSeparate:  cfg.RWSeparate,
		masterNum:   cfg.MasterNum,
		replicaNo:   cfg.ReplicaNo,
		debug:       cfg.Debug,
		selector:    NewSelector(cfg.Selector),
		slots:       make(map[int]Transport),
		roles:       make(map[Role]int),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.dial == nil {
		r.dial = HTTPDialer(&http.Client{Timeout: cfg.HTTPClientTimeout})
	}
	r.logger = logging.Default(r.logger).With("component", "conn")
	return r
}

// Resolve returns the slot and transport serving role, opening the slot on
// first use.
func (r *Router) Resolve(role Role) (int, Transport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.nodes) == 0 {
		return 0, nil, ErrNoNodes
	}

	key := role
	if !r.distributed || !r.rwSeparate {
		key = RoleRead
	}
	slot, ok := r.roles[key]
	if !ok {
		slot = r.pick(role)
		r.roles[key] = slot
	}

	t, err := r.open(slot)
	if err != nil {
		delete(r.roles, key)
		return 0, nil, err
	}
	return slot, t, nil
}

// pick selects the slot of role. Caller holds r.mu.
func (r *Router) pick(role Role) int {
	if !r.distributed {
		return 0
	}
	all := make([]int, len(r.nodes))
	for i := range r.nodes {
		all[i] = i
	}
	if !r.rwSeparate {
		return r.selector.Pick(r.nodes, all)
	}

	masters := min(max(r.masterNum, 1), len(r.nodes))
	if role == RoleWrite {
		return r.selector.Pick(r.nodes, all[:masters])
	}
	if r.replicaNo >= 0 && r.replicaNo < len(r.nodes) {
		return r.replicaNo
	}
	if masters < len(r.nodes) {
		return r.selector.Pick(r.nodes, all[masters:])
	}
	return r.selector.Pick(r.nodes, all)
}

// open returns the transport of slot, dialing it on first use. Caller
// holds r.mu.
func (r *Router) open(slot int) (Transport, error) {
	if t, ok := r.slots[slot]; ok {
		return t, nil
	}
	t, err := r.dial(r.nodes[slot])
	if err != nil {
		return nil, fmt.Errorf("opening slot %d (%s): %w", slot, r.nodes[slot].URL, err)
	}
	r.slots[slot] = t
	r.logger.Debug("opened slot", slog.Int("slot", slot), slog.String("url", r.nodes[slot].URL))
	return t, nil
}

// Reset closes every open slot and forgets the role selections.
func (r *Router) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for slot, t := range r.slots {
		if c, ok := t.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil {
				r.logger.Warn("closing slot", slog.Int("slot", slot), slog.String("error", err.Error()))
			}
		}
	}
	r.slots = make(map[int]Transport)
	r.roles = make(map[Role]int)
}

// NodeStatus is the outcome of pinging one node.
type NodeStatus struct {
	Slot        int    `json:"slot"`
	URL         string `json:"url"`
	Name        string `json:"name,omitempty"`
	ClusterName string `json:"cluster_name,omitempty"`
	Version     string `json:"version,omitempty"`
	Error       string `json:"error,omitempty"`
}
