package contracts

// CommandKind tags a discrete control action.
type CommandKind int

const (
	// CmdStartRecord arms a new recording segment. No-op unless idle.
	CmdStartRecord CommandKind = iota
	// CmdStopRecord closes the current segment and dispatches generation.
	CmdStopRecord
	// CmdToggleRecord flips between start and stop based on current state.
	CmdToggleRecord
	// CmdCancel discards the recording buffer and any pending output.
	CmdCancel
	// CmdPlay releases a gated pending output to the output port.
	CmdPlay
	// CmdGrade stages a grade for the currently open feedback episode.
	CmdGrade
	// CmdCommit finalizes the currently open feedback episode.
	CmdCommit
)

// Command is one control action placed on the control channel. Commands are
// delivered at most once, in submission order per producer, and consumed by
// exactly one reader.
type Command struct {
	Kind  CommandKind
	Value float64 // Grade payload for CmdGrade; unused otherwise.
}

// String returns a short name for logging.
func (k CommandKind) String() string {
	switch k {
	case CmdStartRecord:
		return "start_record"
	case CmdStopRecord:
		return "stop_record"
	case CmdToggleRecord:
		return "toggle_record"
	case CmdCancel:
		return "cancel"
	case CmdPlay:
		return "play"
	case CmdGrade:
		return "grade"
	case CmdCommit:
		return "commit"
	}
	return "unknown"
}
