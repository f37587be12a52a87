package constants

// DocumentStatus is the canonical lifecycle status for rows in documents.
type DocumentStatus string

// Stable values (store these exact strings in DB).
const (
	DocStatusReceived   DocumentStatus = "RECEIVED"   // ingested, not yet dispatched
	DocStatusExtracting DocumentStatus = "EXTRACTING" // extraction in flight
	DocStatusExtracted  DocumentStatus = "EXTRACTED"  // terminal success (incl. degraded/partial)
	DocStatusFailed     DocumentStatus = "FAILED"     // terminal failure
)

// docStatusRank orders statuses along the forward-only lifecycle.
// FAILED shares the terminal rank with EXTRACTED: both are absorbing.
var docStatusRank = map[DocumentStatus]int{
	DocStatusReceived:   0,
	DocStatusExtracting: 1,
	DocStatusExtracted:  2,
	DocStatusFailed:     2,
}

// ValidDocTransition reports whether from -> to is a legal forward move.
// The only legal moves are RECEIVED->EXTRACTING, EXTRACTING->EXTRACTED and
// EXTRACTING->FAILED; a status never regresses.
func ValidDocTransition(from, to DocumentStatus) bool {
	switch {
	case from == DocStatusReceived && to == DocStatusExtracting:
		return true
	case from == DocStatusExtracting && to == DocStatusExtracted:
		return true
	case from == DocStatusExtracting && to == DocStatusFailed:
		return true
	}
	return false
}

// TerminalDocStatus reports whether s is an absorbing status.
func TerminalDocStatus(s DocumentStatus) bool {
	return docStatusRank[s] == 2
}

// JobState is the canonical polling state for rows in extraction_jobs.
type JobState string

// Stable values (store these exact strings in DB).
const (
	JobStateSubmitted JobState = "SUBMITTED" // accepted by the remote service
	JobStateRunning   JobState = "RUNNING"   // remote reports progress
	JobStateSucceeded JobState = "SUCCEEDED" // terminal: result fetchable
	JobStateFailed    JobState = "FAILED"    // terminal: remote failure
	JobStateTimedOut  JobState = "TIMED_OUT" // terminal: poll ceiling reached
)

// TerminalJobState reports whether s ends the polling loop.
func TerminalJobState(s JobState) bool {
	return s == JobStateSucceeded || s == JobStateFailed || s == JobStateTimedOut
}
