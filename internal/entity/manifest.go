package entity

import "time"

// ManifestEntry records the outcome for one archive member. Exactly one of
// Result and Err is set.
type ManifestEntry struct {
	Filename string            `json:"filename"`
	Result   *ExtractionResult `json:"result,omitempty"`
	Err      string            `json:"error,omitempty"`
	Duration time.Duration     `json:"duration"`
}

// ArchiveManifest holds per-member outcomes for an expanded archive, keyed
// by member identity rather than completion order.
type ArchiveManifest struct {
	Entries []ManifestEntry `json:"entries"`
}

// Succeeded counts members with a result.
func (m *ArchiveManifest) Succeeded() int {
	n := 0
	for _, e := range m.Entries {
		if e.Result != nil {
			n++
		}
	}
	return n
}

// Failed counts members that ended in an error.
func (m *ArchiveManifest) Failed() int {
	return len(m.Entries) - m.Succeeded()
}

// Entry returns the entry for filename, or nil.
func (m *ArchiveManifest) Entry(filename string) *ManifestEntry {
	for i := range m.Entries {
		if m.Entries[i].Filename == filename {
			return &m.Entries[i]
		}
	}
	return nil
}
