package workflow

import "fmt"

// MissingDataError reports that a gate or the enrichment loop exhausted its
// attempts with required fields still absent. It is surfaced as a PAUSED
// workflow state, never as a crash.
type MissingDataError struct {
	Scope   string // "gate" or "enrichment"
	StageID string // set when Scope is "gate"
	Missing []string
}

func (e *MissingDataError) Error() string {
	if e.StageID != "" {
		return fmt.Sprintf("missing data at %s gate: %v", e.StageID, e.Missing)
	}
	return fmt.Sprintf("missing %s data: %v", e.Scope, e.Missing)
}

// DuplicateIdentityError reports a duplicate-key creation race. The exact
// composite-key lookup makes this structurally impossible; if it is observed
// anyway the workflow fails hard and nothing is merged.
type DuplicateIdentityError struct {
	Key string
}

func (e *DuplicateIdentityError) Error() string {
	return fmt.Sprintf("duplicate identity key: %s", e.Key)
}
