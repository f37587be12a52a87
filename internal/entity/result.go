package entity

// Table is one table detected by the structural phase, row-major.
type Table struct {
	Rows [][]string `json:"rows"`
	Page int        `json:"page,omitempty"`
}

// KeyValue is one labeled field pair from the schema-guided phase.
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

// ExtractionResult is the immutable outcome of a successful extraction.
// Degraded marks structural-only results (schema phase failed); Partial
// marks archive results where at least one member failed. Manifest is set
// for archives only.
type ExtractionResult struct {
	Markdown   string           `json:"markdown"`
	Tables     []Table          `json:"tables,omitempty"`
	KeyValues  []KeyValue       `json:"key_values,omitempty"`
	Entities   []Entity         `json:"entities,omitempty"`
	PageCount  int              `json:"page_count"`
	Confidence float32          `json:"confidence"`
	Degraded   bool             `json:"degraded"`
	Partial    bool             `json:"partial"`
	Manifest   *ArchiveManifest `json:"manifest,omitempty"`
}
