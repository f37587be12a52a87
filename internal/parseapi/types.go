package parseapi

// Wire shapes for the external extraction service. These stay transport-only;
// the extraction layer maps them onto entity types.

// Table is one detected table, row-major.
type Table struct {
	Rows [][]string `json:"rows"`
	Page int        `json:"page,omitempty"`
}

// Metadata accompanies every structural parse.
type Metadata struct {
	PageCount int `json:"page_count"`
}

// ParseResult is the response of POST /parse and GET /jobs/{id}/result.
type ParseResult struct {
	Text     string   `json:"text"`
	Tables   []Table  `json:"tables"`
	Metadata Metadata `json:"metadata"`
}

// KeyValue is one labeled field from the schema-guided phase.
type KeyValue struct {
	Key        string  `json:"key"`
	Value      string  `json:"value"`
	Confidence float32 `json:"confidence,omitempty"`
}

// Entity is one typed span from the schema-guided phase.
type Entity struct {
	Type       string  `json:"type"`
	Value      string  `json:"value"`
	Confidence float32 `json:"confidence,omitempty"`
}

// ExtractResult is the response of POST /extract.
type ExtractResult struct {
	Entities   []Entity   `json:"entities,omitempty"`
	KeyValues  []KeyValue `json:"key_values,omitempty"`
	Confidence float32    `json:"confidence"`
}

// extractRequest is the body of POST /extract.
type extractRequest struct {
	Text   string `json:"text"`
	Schema any    `json:"schema"`
}

// submitResponse is the body of POST /parse/jobs.
type submitResponse struct {
	JobID string `json:"job_id"`
}

// statusResponse is the body of GET /jobs/{id}.
type statusResponse struct {
	Status string `json:"status"`
}

// Remote job status values as the service reports them.
const (
	RemoteStatusSubmitted = "submitted"
	RemoteStatusRunning   = "running"
	RemoteStatusCompleted = "completed"
	RemoteStatusFailed    = "failed"
)
