package conn

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"golang.org/x/sync/errgroup"

	"github.com/usestring/esquery/pkg/client"
	"github.com/usestring/esquery/pkg/types"
)

// pingWorkers bounds concurrent node probes in PingAll.
const pingWorkers = 4

// execute resolves role, runs call against the slot's transport and
// reports the outcome to metrics, listeners and the debug log. Failures
// are wrapped as *types.ExecutionError.
func (r *Router) execute(verb types.Verb, role Role, req *types.Request, call func(Transport) error) error {
	slot, t, err := r.Resolve(role)
	if err == nil {
		start := time.Now()
		err = call(t)
		r.report(verb, role, slot, req, time.Since(start), err)
	} else {
		r.report(verb, role, -1, req, 0, err)
	}
	if err != nil {
		return &types.ExecutionError{Verb: verb, Index: req.Index, Err: err}
	}
	return nil
}

func (r *Router) report(verb types.Verb, role Role, slot int, req *types.Request, elapsed time.Duration, err error) {
	r.metrics.observe(verb, role, elapsed, err)
	for _, l := range r.listeners {
		l(Event{Verb: verb, Role: role, Slot: slot, Request: req, Elapsed: elapsed, Err: err})
	}
	if !r.debug {
		return
	}
	attrs := []any{
		slog.String("verb", string(verb)),
		slog.String("index", req.Index),
		slog.Int("slot", slot),
		slog.String("role", role.String()),
		slog.Int64("duration_ms", elapsed.Milliseconds()),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	r.logger.Info("executed", attrs...)
}

// Search runs a search on the slot serving role.
func (r *Router) Search(ctx context.Context, role Role, req *types.Request) (*client.SearchResponse, error) {
	var resp *client.SearchResponse
	err := r.execute(types.VerbSearch, role, req, func(t Transport) error {
		var err error
		resp, err = t.Search(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Count runs a count on the slot serving role.
func (r *Router) Count(ctx context.Context, role Role, req *types.Request) (int64, error) {
	var resp *client.CountResponse
	err := r.execute(types.VerbCount, role, req, func(t Transport) error {
		var err error
		resp, err = t.Count(ctx, req)
		return err
	})
	if err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// Bulk sends bulk actions to the write slot and normalizes the per-item
// outcome. When any item failed it returns the result together with a
// *types.AggregateError listing the failures.
func (r *Router) Bulk(ctx context.Context, req *types.Request) (*types.BulkResult, error) {
	var resp *client.BulkResponse
	err := r.execute(types.VerbBulk, RoleWrite, req, func(t Transport) error {
		var err error
		resp, err = t.Bulk(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}

	res := NormalizeBulk(resp)
	if len(res.Errors) > 0 {
		return res, &types.AggregateError{Items: res.Errors, Result: res}
	}
	return res, nil
}

// NormalizeBulk folds a bulk response into a BulkResult. Items are read in
// submission order.
func NormalizeBulk(resp *client.BulkResponse) *types.BulkResult {
	res := &types.BulkResult{IDs: make([]string, 0, len(resp.Items)), Failed: roaring.New()}
	for i, entry := range resp.Items {
		// Each entry holds exactly one action key.
		for _, item := range entry {
			if item.Error != nil {
				res.Errors = append(res.Errors, types.ItemError{
					Position: i,
					ID:       item.ID,
					Status:   item.Status,
					Type:     item.Error.Type,
					Reason:   item.Error.Reason,
				})
				res.Failed.Add(uint32(i))
				continue
			}
			res.Affected++
			res.IDs = append(res.IDs, item.ID)
		}
	}
	return res
}

// UpdateByQuery runs a query scoped update on the write slot and returns
// the number of updated documents.
func (r *Router) UpdateByQuery(ctx context.Context, req *types.Request) (int64, error) {
	resp, err := r.byQuery(ctx, types.VerbUpdateByQuery, req, Transport.UpdateByQuery)
	if err != nil {
		return 0, err
	}
	return resp.Updated, nil
}

// DeleteByQuery runs a query scoped delete on the write slot and returns
// the number of deleted documents.
func (r *Router) DeleteByQuery(ctx context.Context, req *types.Request) (int64, error) {
	resp, err := r.byQuery(ctx, types.VerbDeleteByQuery, req, Transport.DeleteByQuery)
	if err != nil {
		return 0, err
	}
	return resp.Deleted, nil
}

func (r *Router) byQuery(ctx context.Context, verb types.Verb, req *types.Request,
	fn func(Transport, context.Context, *types.Request) (*client.ByQueryResponse, error)) (*client.ByQueryResponse, error) {
	var resp *client.ByQueryResponse
	err := r.execute(verb, RoleWrite, req, func(t Transport) error {
		var err error
		resp, err = fn(t, ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Failures) > 0 {
		return nil, &types.ExecutionError{
			Verb:  verb,
			Index: req.Index,
			Err:   fmt.Errorf("%d failure(s), first: %s", len(resp.Failures), strings.TrimSpace(string(resp.Failures[0]))),
		}
	}
	return resp, nil
}

// Mapping reads the mappings of index from the read slot.
func (r *Router) Mapping(ctx context.Context, index string) (client.MappingResponse, error) {
	var resp client.MappingResponse
	req := &types.Request{Index: index}
	err := r.execute(types.VerbGetMapping, RoleRead, req, func(t Transport) error {
		var err error
		resp, err = t.GetMapping(ctx, index)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// PingAll probes every configured node, opening slots as needed. The
// returned statuses follow node order; the error is the first failure.
// A failing node does not cancel the probes of the others.
func (r *Router) PingAll(ctx context.Context) ([]NodeStatus, error) {
	statuses := make([]NodeStatus, len(r.nodes))
	if len(r.nodes) == 0 {
		return nil, ErrNoNodes
	}

	var g errgroup.Group
	g.SetLimit(pingWorkers)

	for i := range r.nodes {
		i := i
		g.Go(func() error {
			statuses[i] = NodeStatus{Slot: i, URL: r.nodes[i].URL}

			r.mu.Lock()
			t, err := r.open(i)
			r.mu.Unlock()
			if err != nil {
				statuses[i].Error = err.Error()
				return err
			}

			info, err := t.Info(ctx)
			if err != nil {
				statuses[i].Error = err.Error()
				return fmt.Errorf("pinging %s: %w", r.nodes[i].URL, err)
			}
			statuses[i].Name = info.Name
			statuses[i].ClusterName = info.ClusterName
			statuses[i].Version = info.Version.Number
			return nil
		})
	}
	return statuses, g.Wait()
}
