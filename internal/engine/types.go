package engine

// FileAction represents an action taken on a single output during commit,
// checkout or remove.
type FileAction struct {
	Path   string
	Action string // "cached", "written", "modified", "unchanged", "removed", "missing"
}

// TargetError represents an error associated with a specific target. Batch
// operations collect these and carry on with the next target.
type TargetError struct {
	Target string
	Err    error
}

func (e TargetError) Error() string {
	return e.Target + ": " + e.Err.Error()
}

func (e TargetError) Unwrap() error {
	return e.Err
}

// CommitResult holds the outcome of a commit operation.
type CommitResult struct {
	Committed []string
	Cached    []FileAction
	Errors    []TargetError
}

// RemoveResult holds the outcome of a remove operation.
type RemoveResult struct {
	Removed []FileAction
	Purged  []string
	Errors  []TargetError
}

// CheckoutResult holds the outcome of a checkout operation.
type CheckoutResult struct {
	Written []FileAction
	Skipped []FileAction
	Errors  []TargetError
}

// Failed reports whether any target failed.
func (r *CommitResult) Failed() bool { return len(r.Errors) > 0 }

// Failed reports whether any target failed.
func (r *RemoveResult) Failed() bool { return len(r.Errors) > 0 }

// Failed reports whether any target failed.
func (r *CheckoutResult) Failed() bool { return len(r.Errors) > 0 }
