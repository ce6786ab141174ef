package recorder

import "strings"

// ExitClass explains why a recorder process ended on its own, judged from its
// last output line and exit status.
type ExitClass int

const (
	// ExitClassUnknown: nothing recognisable in the output.
	ExitClassUnknown ExitClass = iota
	// ExitClassEnded: the stream ended or had no playable streams left.
	ExitClassEnded
	// ExitClassAuth: the platform refused access (bad token, subscriber-only).
	ExitClassAuth
	// ExitClassNotFound: the channel or plugin could not be resolved.
	ExitClassNotFound
	// ExitClassNetwork: transport trouble the next attempt may not hit.
	ExitClassNetwork
)

// String returns a human-readable name for the exit class.
func (c ExitClass) String() string {
	switch c {
	case ExitClassEnded:
		return "ended"
	case ExitClassAuth:
		return "auth"
	case ExitClassNotFound:
		return "not_found"
	case ExitClassNetwork:
		return "network"
	default:
		return "unknown"
	}
}

var exitPatterns = []struct {
	class    ExitClass
	patterns []string
}{
	// server errors first, before the more generic patterns below
	{ExitClassNetwork, []string{"500 server error", "502", "503", "504", "bad gateway", "service unavailable"}},
	{ExitClassAuth, []string{
		"401", "403", "unauthorized", "forbidden", "access denied",
		"subscriber-only", "only available to subscribers", "authentication required",
		"invalid oauth token",
	}},
	{ExitClassNotFound, []string{"no plugin can handle url", "404", "not found", "does not exist"}},
	{ExitClassEnded, []string{"no playable streams found", "stream ended", "closing currently open stream", "waiting for streams"}},
	{ExitClassNetwork, []string{
		"connection reset", "connection refused", "timed out", "timeout",
		"temporary failure in name resolution", "no route to host", "network is unreachable",
		"broken pipe", "429", "too many requests",
	}},
}

// ClassifyExit maps the recorder's last output line to an ExitClass.
func ClassifyExit(lastOutput string) ExitClass {
	lower := strings.ToLower(lastOutput)
	if lower == "" {
		return ExitClassUnknown
	}
	for _, group := range exitPatterns {
		for _, p := range group.patterns {
			if strings.Contains(lower, p) {
				return group.class
			}
		}
	}
	return ExitClassUnknown
}

// ExitClass classifies why the process behind h exited. It is
// ExitClassUnknown while the process is still running.
func (h *Handle) ExitClass() ExitClass {
	if h == nil || !h.Exited() {
		return ExitClassUnknown
	}
	return ClassifyExit(h.LastOutput())
}
