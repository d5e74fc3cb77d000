package client

import (
	"encoding/json"
	"fmt"
)

// SearchResponse is the decoded body of a _search call.
type SearchResponse struct {
	Took         int                        `json:"took"`
	TimedOut     bool                       `json:"timed_out"`
	Hits         SearchHits                 `json:"hits"`
	Aggregations map[string]json.RawMessage `json:"aggregations,omitempty"`
}

// SearchHits holds the matched documents.
type SearchHits struct {
	Total    *TotalHits `json:"total,omitempty"`
	MaxScore *float64   `json:"max_score,omitempty"`
	Hits     []Hit      `json:"hits"`
}

// TotalHits is the hit count. Older engines report a bare number.
type TotalHits struct {
	Value    int64  `json:"value"`
	Relation string `json:"relation,omitempty"`
}

// UnmarshalJSON accepts both {"value": n} and n.
func (t *TotalHits) UnmarshalJSON(b []byte) error {
	var n int64
	if err := json.Unmarshal(b, &n); err == nil {
		t.Value = n
		t.Relation = "eq"
		return nil
	}
	type plain TotalHits
	return json.Unmarshal(b, (*plain)(t))
}

// Hit is one matched document.
type Hit struct {
	Index  string         `json:"_index"`
	ID     string         `json:"_id"`
	Score  *float64       `json:"_score,omitempty"`
	Source map[string]any `json:"_source,omitempty"`
	Sort   []any          `json:"sort,omitempty"`
}

// MetricAggregation is a single value aggregation result.
type MetricAggregation struct {
	Value *float64 `json:"value"`
}

// TermsAggregation is a bucket aggregation result.
type TermsAggregation struct {
	Buckets []Bucket `json:"buckets"`
}

// Bucket is one terms bucket.
type Bucket struct {
	Key      any   `json:"key"`
	DocCount int64 `json:"doc_count"`
}

// CountResponse is the decoded body of a _count call.
type CountResponse struct {
	Count int64 `json:"count"`
}

// BulkResponse is the decoded body of a _bulk call.
type BulkResponse struct {
	Took   int                   `json:"took"`
	Errors bool                  `json:"errors"`
	Items  []map[string]BulkItem `json:"items"`
}

// BulkItem is the outcome of one bulk action, keyed by action name in
// BulkResponse.Items.
type BulkItem struct {
	Index  string      `json:"_index"`
	ID     string      `json:"_id"`
	Status int         `json:"status"`
	Result string      `json:"result,omitempty"`
	Error  *ErrorCause `json:"error,omitempty"`
}

// ByQueryResponse is the decoded body of _update_by_query and
// _delete_by_query calls.
type ByQueryResponse struct {
	Took     int               `json:"took"`
	TimedOut bool              `json:"timed_out"`
	Total    int64             `json:"total"`
	Updated  int64             `json:"updated"`
	Deleted  int64             `json:"deleted"`
	Failures []json.RawMessage `json:"failures"`
}

// MappingResponse maps concrete index names to their mappings.
type MappingResponse map[string]IndexMapping

// IndexMapping holds the raw mappings object of one index. Typed engines
// nest properties under the document type.
type IndexMapping struct {
	Mappings json.RawMessage `json:"mappings"`
}

// InfoResponse is the decoded body of the root endpoint.
type InfoResponse struct {
	Name        string `json:"name"`
	ClusterName string `json:"cluster_name"`
	Version     struct {
		Number string `json:"number"`
	} `json:"version"`
}

// ErrorCause is the engine's structured error.
type ErrorCause struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// APIError represents an error response from the engine.
type APIError struct {
	StatusCode int
	Type       string
	Reason     string
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("elasticsearch error %d: %s: %s", e.StatusCode, e.Type, e.Reason)
	}
	return fmt.Sprintf("elasticsearch error %d: %s", e.StatusCode, e.Reason)
}

// errorResponse is the JSON structure for API errors.
type errorResponse struct {
	Error  json.RawMessage `json:"error"`
	Status int             `json:"status"`
}
