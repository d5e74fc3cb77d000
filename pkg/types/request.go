package types

import (
	"encoding/json"

	"github.com/RoaringBitmap/roaring/v2"
)

// Verb names one engine operation.
type Verb string

const (
	VerbSearch        Verb = "search"
	VerbCount         Verb = "count"
	VerbBulk          Verb = "bulk"
	VerbUpdateByQuery Verb = "update_by_query"
	VerbDeleteByQuery Verb = "delete_by_query"
	VerbGetMapping    Verb = "get_mapping"
)

// Request is the compiled engine request envelope. Reads and query scoped
// writes carry Body; bulk writes carry Bulk as ordered action/document lines.
type Request struct {
	Index    string           `json:"index"`
	DocType  string           `json:"type,omitempty"`
	Body     map[string]any   `json:"body,omitempty"`
	Bulk     []map[string]any `json:"bulk,omitempty"`
	OpaqueID string           `json:"-"`
}

// JSON encodes the envelope. Map keys are sorted by encoding/json, so equal
// envelopes always encode to equal bytes.
func (r *Request) JSON() ([]byte, error) {
	return json.Marshal(r)
}

// ItemError is the failure of one bulk item.
type ItemError struct {
	Position int    `json:"position"`
	ID       string `json:"id,omitempty"`
	Status   int    `json:"status"`
	Type     string `json:"type"`
	Reason   string `json:"reason"`
}

// BulkResult is the normalized outcome of a bulk write.
type BulkResult struct {
	// Affected counts the items that succeeded.
	Affected int `json:"affected"`
	// IDs holds the identifiers of the items that succeeded, in submission order.
	IDs    []string    `json:"ids"`
	Errors []ItemError `json:"errors,omitempty"`
	// Failed marks the submission positions of failed items.
	Failed *roaring.Bitmap `json:"-"`
}

// LastID returns the identifier of the last successful item, or "".
func (r *BulkResult) LastID() string {
	if r == nil || len(r.IDs) == 0 {
		return ""
	}
	return r.IDs[len(r.IDs)-1]
}
