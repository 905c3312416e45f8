package dispatch

import (
	"golang.org/x/text/cases"
)

// Control identifies a control command.
type Control int

const (
	// ControlNone means the request is a job submission.
	ControlNone Control = iota
	ControlStatus
	ControlStop
	ControlSkip
	ControlClear
	ControlHistory
)

var folder = cases.Fold()

var controls = map[string]Control{
	"status":  ControlStatus,
	"list":    ControlStatus,
	"stop":    ControlStop,
	"skip":    ControlSkip,
	"clear":   ControlClear,
	"history": ControlHistory,
}

// ParseControl matches command against the control command names without
// regard to case. Anything else is a submission.
func ParseControl(command string) Control {
	if c, ok := controls[folder.String(command)]; ok {
		return c
	}
	return ControlNone
}

// IsControl reports whether command names a control command.
func IsControl(command string) bool {
	return ParseControl(command) != ControlNone
}

func (c Control) String() string {
	switch c {
	case ControlStatus:
		return "status"
	case ControlStop:
		return "stop"
	case ControlSkip:
		return "skip"
	case ControlClear:
		return "clear"
	case ControlHistory:
		return "history"
	default:
		return "submit"
	}
}
