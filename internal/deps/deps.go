package deps

import (
	"fmt"
	"os/exec"
	"strings"
)

// Requirement is an external binary the daemon needs to run jobs.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a requirement.
type Status struct {
	Requirement
	Available bool
	Path      string
	Detail    string
}

// JobRequirements lists the binaries jobs are launched through.
func JobRequirements(shell string) []Requirement {
	return []Requirement{{
		Name:        "Job shell",
		Command:     shell,
		Description: "runs every submitted command as <shell> -c <command>",
	}}
}

// CheckBinaries resolves each requirement on PATH (or as given when it
// contains a slash).
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		req.Command = strings.TrimSpace(req.Command)
		status := Status{Requirement: req}
		if req.Command == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		path, err := exec.LookPath(req.Command)
		if err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", req.Command)
			results = append(results, status)
			continue
		}
		status.Available = true
		status.Path = path
		results = append(results, status)
	}
	return results
}

// Missing returns the required entries that are unavailable.
func Missing(statuses []Status) []Status {
	var out []Status
	for _, s := range statuses {
		if !s.Available && !s.Optional {
			out = append(out, s)
		}
	}
	return out
}
