package observe

// CallMeta describes an instrumented inference operation.
type CallMeta struct {
	Operation string // analyze, analyze_batch, purge (required)
	Context   string // caller-supplied context tag, e.g. "reviews"
	Model     string // upstream model (optional)
	CacheKey  string // content digest (optional)
}

// SpanName returns the deterministic span name for this call.
// Format: inference.<operation>
func (m CallMeta) SpanName() string {
	return "inference." + m.Operation
}

// Validate reports whether the metadata names an operation.
func (m CallMeta) Validate() error {
	if m.Operation == "" {
		return ErrMissingOperation
	}
	return nil
}
