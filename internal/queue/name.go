package queue

import (
	"strconv"
	"strings"
	"unicode"
)

// defaultLabel is how the unnamed queue is displayed. Named queues that
// could be mistaken for it are quoted.
const defaultLabel = "(default)"

// Name keys the queue registry. The zero value is the unnamed queue, which is
// distinct from every named queue, including one explicitly named "".
type Name struct {
	value string
	named bool
}

// Default is the unnamed queue used when a submission carries no queue name.
var Default Name

// Named returns the registry key for an explicitly named queue.
func Named(value string) Name {
	return Name{value: value, named: true}
}

// FromOptional maps an optional wire value to a registry key.
func FromOptional(value *string) Name {
	if value == nil {
		return Default
	}
	return Named(*value)
}

// IsDefault reports whether n is the unnamed queue.
func (n Name) IsDefault() bool { return !n.named }

// Value returns the raw queue name; empty for the unnamed queue.
func (n Name) Value() string { return n.value }

// String renders the name for logs and status output. A named queue is
// quoted when it is empty, starts with '(' or '"', or holds spaces or control
// characters, so no rendering is shared by two queues.
func (n Name) String() string {
	if !n.named {
		return defaultLabel
	}
	if needsQuote(n.value) {
		return strconv.Quote(n.value)
	}
	return n.value
}

func needsQuote(v string) bool {
	if v == "" || strings.HasPrefix(v, "(") || strings.HasPrefix(v, `"`) {
		return true
	}
	return strings.IndexFunc(v, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}) >= 0
}

// Less orders the unnamed queue first, then named queues lexically.
func (n Name) Less(other Name) bool {
	if n.named != other.named {
		return !n.named
	}
	return n.value < other.value
}
