package firewall

// ApplyResult reports the outcome of an idempotent mutation against
// kernel firewall state. Operations that find the kernel already in
// the desired state report ResultUnchanged rather than pretending to
// have done work.
type ApplyResult int

const (
	ResultApplied ApplyResult = iota
	ResultUnchanged
	ResultFailed
)

func (r ApplyResult) String() string {
	switch r {
	case ResultApplied:
		return "applied"
	case ResultUnchanged:
		return "unchanged"
	case ResultFailed:
		return "failed"
	default:
		return "unknown"
	}
}
