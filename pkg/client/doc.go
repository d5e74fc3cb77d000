// Package client provides a small Elasticsearch REST client.
//
// It speaks exactly the endpoints the query layer needs and takes the
// request envelopes produced by package compile as input.
//
// # Quick Start
//
// Create a client and run a search:
//
//	c := client.New(client.WithBaseURL("http://localhost:9200"))
//	resp, err := c.Search(ctx, &types.Request{
//	    Index: "orders",
//	    Body:  map[string]any{"query": map[string]any{"match_all": map[string]any{}}},
//	})
//
// Use custom configuration:
//
//	c := client.New(
//	    client.WithBaseURL("https://es.internal:9200"),
//	    client.WithBasicAuth("elastic", password),
//	    client.WithHTTPClient(customHTTPClient),
//	)
//
// # Endpoints
//
//   - Search: POST /{index}/_search
//   - Count: POST /{index}/_count
//   - Bulk: POST /_bulk, newline delimited action and document lines
//   - UpdateByQuery / DeleteByQuery: POST /{index}/_update_by_query, _delete_by_query
//   - GetMapping: GET /{index}/_mapping
//   - Info: GET /
//
// # Request Correlation
//
// Every request carries an X-Opaque-Id header. It is the envelope's
// OpaqueID when set (the query comment) and a random UUID otherwise, so a
// request can be traced in the engine's slow log and task list.
//
// # Errors
//
// Error responses are returned as *APIError carrying the HTTP status and,
// when the engine sent one, the structured error type and reason:
//
//	var apiErr *client.APIError
//	if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
//	    // index does not exist
//	}
package client
