package conn

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/usestring/esquery/internal/config"
	"github.com/usestring/esquery/internal/logging"
	"github.com/usestring/esquery/pkg/client"
	"github.com/usestring/esquery/pkg/types"
)

type fakeTransport struct {
	node   config.Node
	err    error
	bulk   *client.BulkResponse
	byQ    *client.ByQueryResponse
	closed bool
}

func (f *fakeTransport) Search(context.Context, *types.Request) (*client.SearchResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &client.SearchResponse{}, nil
}

func (f *fakeTransport) Count(context.Context, *types.Request) (*client.CountResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &client.CountResponse{Count: 7}, nil
}

func (f *fakeTransport) Bulk(context.Context, *types.Request) (*client.BulkResponse, error) {
	return f.bulk, f.err
}

func (f *fakeTransport) UpdateByQuery(context.Context, *types.Request) (*client.ByQueryResponse, error) {
	return f.byQ, f.err
}

func (f *fakeTransport) DeleteByQuery(context.Context, *types.Request) (*client.ByQueryResponse, error) {
	return f.byQ, f.err
}

func (f *fakeTransport) GetMapping(context.Context, string) (client.MappingResponse, error) {
	return client.MappingResponse{}, f.err
}

func (f *fakeTransport) Info(context.Context) (*client.InfoResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	info := &client.InfoResponse{Name: f.node.URL, ClusterName: "test"}
	info.Version.Number = "7.17.0"
	return info, nil
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

// recordingDialer counts dials and hands out fakeTransports.
type recordingDialer struct {
	dials  atomic.Int32
	mu     sync.Mutex
	opened map[string]*fakeTransport
	prep   func(*fakeTransport)
}

func (d *recordingDialer) dial(node config.Node) (Transport, error) {
	d.dials.Add(1)
	t := &fakeTransport{node: node}
	if d.prep != nil {
		d.prep(t)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.opened == nil {
		d.opened = make(map[string]*fakeTransport)
	}
	d.opened[node.URL] = t
	return t, nil
}

func nodes(n int) []config.Node {
	out := make([]config.Node, n)
	for i := range out {
		out[i] = config.Node{URL: "http://n" + string(rune('0'+i)), Weight: 1}
	}
	return out
}

// fixed always picks the first candidate and records what it was offered.
type fixed struct {
	offered [][]int
}

func (f *fixed) Pick(_ []config.Node, candidates []int) int {
	f.offered = append(f.offered, append([]int(nil), candidates...))
	return candidates[0]
}

func TestResolve_Topologies(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.Config
		readSlot  int
		writeSlot int
		offered   [][]int
	}{
		{
			name:      "single uses slot zero",
			cfg:       config.Config{Nodes: nodes(3), Deploy: config.DeploySingle},
			readSlot:  0,
			writeSlot: 0,
		},
		{
			name:      "distributed shares one selection",
			cfg:       config.Config{Nodes: nodes(3), Deploy: config.DeployDistributed},
			readSlot:  0,
			writeSlot: 0,
			offered:   [][]int{{0, 1, 2}},
		},
		{
			name:      "split reads from non masters",
			cfg:       config.Config{Nodes: nodes(4), Deploy: config.DeployDistributed, RWSeparate: true, MasterNum: 2, ReplicaNo: -1},
			readSlot:  2,
			writeSlot: 0,
			offered:   [][]int{{2, 3}, {0, 1}},
		},
		{
			name:      "split with pinned replica",
			cfg:       config.Config{Nodes: nodes(4), Deploy: config.DeployDistributed, RWSeparate: true, MasterNum: 1, ReplicaNo: 3},
			readSlot:  3,
			writeSlot: 0,
			offered:   [][]int{{0}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := &fixed{}
			d := &recordingDialer{}
			r := New(&tt.cfg, WithSelector(sel), WithDialer(d.dial), WithLogger(logging.Discard()))

			slot, _, err := r.Resolve(RoleRead)
			require.NoError(t, err)
			assert.Equal(t, tt.readSlot, slot)

			slot, _, err = r.Resolve(RoleWrite)
			require.NoError(t, err)
			assert.Equal(t, tt.writeSlot, slot)

			// Selections are cached per role.
			_, _, _ = r.Resolve(RoleRead)
			_, _, _ = r.Resolve(RoleWrite)
			assert.Equal(t, tt.offered, sel.offered)
		})
	}
}

func TestResolve_ConcurrentFirstUseDialsOnce(t *testing.T) {
	d := &recordingDialer{}
	r := New(&config.Config{Nodes: nodes(1)}, WithDialer(d.dial), WithLogger(logging.Discard()))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := r.Resolve(RoleRead)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), d.dials.Load())

	r.Reset()
	assert.True(t, d.opened["http://n0"].closed)
	_, _, err := r.Resolve(RoleRead)
	require.NoError(t, err)
	assert.Equal(t, int32(2), d.dials.Load())
}

func TestResolve_NoNodes(t *testing.T) {
	r := New(&config.Config{}, WithLogger(logging.Discard()))
	_, err := r.Count(context.Background(), RoleRead, &types.Request{Index: "users"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrExecution))
	assert.True(t, errors.Is(err, ErrNoNodes))
}

func TestSelectors(t *testing.T) {
	ns := nodes(3)

	rr := NewSelector(config.SelectRoundRobin)
	var got []int
	for i := 0; i < 4; i++ {
		got = append(got, rr.Pick(ns, []int{0, 1, 2}))
	}
	assert.Equal(t, []int{0, 1, 2, 0}, got)

	weighted := NewSelector(config.SelectWeighted)
	heavy := []config.Node{{URL: "a", Weight: 0}, {URL: "b", Weight: 1000000}}
	hits := 0
	for i := 0; i < 100; i++ {
		if weighted.Pick(heavy, []int{0, 1}) == 1 {
			hits++
		}
	}
	assert.Greater(t, hits, 90)

	random := NewSelector("anything")
	for i := 0; i < 20; i++ {
		assert.Contains(t, []int{1, 2}, random.Pick(ns, []int{1, 2}))
	}
}

func bulkItem(action, id string, status int, cause *client.ErrorCause) map[string]client.BulkItem {
	return map[string]client.BulkItem{action: {Index: "users", ID: id, Status: status, Error: cause}}
}

func TestBulk_PartialFailure(t *testing.T) {
	d := &recordingDialer{prep: func(f *fakeTransport) {
		f.bulk = &client.BulkResponse{Errors: true, Items: []map[string]client.BulkItem{
			bulkItem("index", "a", 201, nil),
			bulkItem("index", "b", 400, &client.ErrorCause{Type: "mapper_parsing_exception", Reason: "failed to parse field [age]"}),
			bulkItem("index", "c", 201, nil),
		}}
	}}
	r := New(&config.Config{Nodes: nodes(1)}, WithDialer(d.dial), WithLogger(logging.Discard()))

	res, err := r.Bulk(context.Background(), &types.Request{Index: "users"})
	require.Error(t, err)

	var agg *types.AggregateError
	require.True(t, errors.As(err, &agg))
	require.Len(t, agg.Items, 1)
	assert.Equal(t, 1, agg.Items[0].Position)
	assert.Equal(t, "mapper_parsing_exception", agg.Items[0].Type)

	require.NotNil(t, res)
	assert.Equal(t, 2, res.Affected)
	assert.Equal(t, []string{"a", "c"}, res.IDs)
	assert.Equal(t, "c", res.LastID())
	assert.True(t, res.Failed.Contains(1))
	assert.Equal(t, uint64(1), res.Failed.GetCardinality())
}

func TestByQuery(t *testing.T) {
	d := &recordingDialer{prep: func(f *fakeTransport) {
		f.byQ = &client.ByQueryResponse{Updated: 4, Deleted: 3}
	}}
	r := New(&config.Config{Nodes: nodes(1)}, WithDialer(d.dial), WithLogger(logging.Discard()))
	ctx := context.Background()
	req := &types.Request{Index: "users"}

	n, err := r.UpdateByQuery(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	n, err = r.DeleteByQuery(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	d.opened["http://n0"].byQ = &client.ByQueryResponse{Failures: []json.RawMessage{json.RawMessage(`{"cause":"version_conflict"}`)}}
	_, err = r.UpdateByQuery(ctx, req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrExecution))
	assert.Contains(t, err.Error(), "version_conflict")
}

func TestExecute_ListenersAndMetrics(t *testing.T) {
	boom := errors.New("connection refused")
	d := &recordingDialer{}
	reg := prometheus.NewRegistry()
	var events []Event
	r := New(&config.Config{Nodes: nodes(1), Debug: true},
		WithDialer(d.dial),
		WithLogger(logging.Discard()),
		WithMetrics(NewMetrics(reg)),
		WithListener(func(e Event) { events = append(events, e) }),
	)
	ctx := context.Background()

	n, err := r.Count(ctx, RoleRead, &types.Request{Index: "users"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)

	d.opened["http://n0"].err = boom
	_, err = r.Search(ctx, RoleWrite, &types.Request{Index: "users"})
	require.Error(t, err)

	var execErr *types.ExecutionError
	require.True(t, errors.As(err, &execErr))
	assert.Equal(t, types.VerbSearch, execErr.Verb)
	assert.ErrorIs(t, err, boom)

	require.Len(t, events, 2)
	assert.Equal(t, types.VerbCount, events[0].Verb)
	assert.NoError(t, events[0].Err)
	assert.Equal(t, RoleWrite, events[1].Role)
	assert.ErrorIs(t, events[1].Err, boom)

	families, err := reg.Gather()
	require.NoError(t, err)
	series := make(map[string]int)
	for _, f := range families {
		series[f.GetName()] = len(f.GetMetric())
	}
	assert.Equal(t, 2, series["esquery_request_duration_seconds"])
	assert.Equal(t, 1, series["esquery_request_errors_total"])
}

func TestPingAll(t *testing.T) {
	d := &recordingDialer{prep: func(f *fakeTransport) {
		if f.node.URL == "http://n1" {
			f.err = errors.New("timeout")
		}
	}}
	r := New(&config.Config{Nodes: nodes(3), Deploy: config.DeployDistributed},
		WithDialer(d.dial), WithLogger(logging.Discard()))

	statuses, err := r.PingAll(context.Background())
	require.Error(t, err)
	require.Len(t, statuses, 3)
	assert.Equal(t, "7.17.0", statuses[0].Version)
	assert.Equal(t, "timeout", statuses[1].Error)
	assert.Equal(t, "http://n2", statuses[2].Name)
}
