package dag

// Phase is the coarse progress of a run, for observability only.
type Phase int

const (
	PhaseNotStarted Phase = iota
	PhaseRunningLeaves
	PhaseRunningContainers
	PhaseFinished
	PhaseAborted
)

func (p Phase) String() string {
	switch p {
	case PhaseNotStarted:
		return "NotStarted"
	case PhaseRunningLeaves:
		return "RunningLeaves"
	case PhaseRunningContainers:
		return "RunningContainers"
	case PhaseFinished:
		return "Finished"
	case PhaseAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// MarshalText renders the phase name in JSON and logs.
func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }
