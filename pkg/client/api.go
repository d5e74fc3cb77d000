package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/usestring/esquery/pkg/types"
)

// Search runs a _search request.
func (c *Client) Search(ctx context.Context, req *types.Request) (*SearchResponse, error) {
	body, err := json.Marshal(req.Body)
	if err != nil {
		return nil, fmt.Errorf("encoding search body: %w", err)
	}
	var resp SearchResponse
	err = c.do(ctx, request{
		method:   http.MethodPost,
		path:     indexPath(req.Index, "_search"),
		body:     body,
		opaqueID: req.OpaqueID,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", req.Index, err)
	}
	return &resp, nil
}

// Count runs a _count request.
func (c *Client) Count(ctx context.Context, req *types.Request) (*CountResponse, error) {
	body, err := json.Marshal(req.Body)
	if err != nil {
		return nil, fmt.Errorf("encoding count body: %w", err)
	}
	var resp CountResponse
	err = c.do(ctx, request{
		method:   http.MethodPost,
		path:     indexPath(req.Index, "_count"),
		body:     body,
		opaqueID: req.OpaqueID,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("counting %q: %w", req.Index, err)
	}
	return &resp, nil
}

// Bulk sends the request's action lines as newline delimited JSON.
func (c *Client) Bulk(ctx context.Context, req *types.Request) (*BulkResponse, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, line := range req.Bulk {
		if err := enc.Encode(line); err != nil {
			return nil, fmt.Errorf("encoding bulk line: %w", err)
		}
	}
	var resp BulkResponse
	err := c.do(ctx, request{
		method:      http.MethodPost,
		path:        "/_bulk",
		contentType: "application/x-ndjson",
		body:        buf.Bytes(),
		opaqueID:    req.OpaqueID,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("bulk write to %q: %w", req.Index, err)
	}
	return &resp, nil
}

// UpdateByQuery runs an _update_by_query request.
func (c *Client) UpdateByQuery(ctx context.Context, req *types.Request) (*ByQueryResponse, error) {
	return c.byQuery(ctx, req, "_update_by_query")
}

// DeleteByQuery runs a _delete_by_query request.
func (c *Client) DeleteByQuery(ctx context.Context, req *types.Request) (*ByQueryResponse, error) {
	return c.byQuery(ctx, req, "_delete_by_query")
}

func (c *Client) byQuery(ctx context.Context, req *types.Request, endpoint string) (*ByQueryResponse, error) {
	body, err := json.Marshal(req.Body)
	if err != nil {
		return nil, fmt.Errorf("encoding %s body: %w", endpoint, err)
	}
	var resp ByQueryResponse
	err = c.do(ctx, request{
		method:   http.MethodPost,
		path:     indexPath(req.Index, endpoint),
		body:     body,
		opaqueID: req.OpaqueID,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("%s on %q: %w", endpoint, req.Index, err)
	}
	return &resp, nil
}

// GetMapping retrieves the mappings of index. The response is keyed by
// concrete index name, which differs from index when it is an alias.
func (c *Client) GetMapping(ctx context.Context, index string) (MappingResponse, error) {
	var resp MappingResponse
	if err := c.do(ctx, request{method: http.MethodGet, path: indexPath(index, "_mapping")}, &resp); err != nil {
		return nil, fmt.Errorf("getting mapping of %q: %w", index, err)
	}
	return resp, nil
}

// Info retrieves node and cluster identity. It doubles as a ping.
func (c *Client) Info(ctx context.Context) (*InfoResponse, error) {
	var resp InfoResponse
	if err := c.do(ctx, request{method: http.MethodGet, path: "/"}, &resp); err != nil {
		return nil, fmt.Errorf("getting node info: %w", err)
	}
	return &resp, nil
}
