// Package memory implements the rolling conversation window a session
// carries for the assistant. The window holds the last N formatted turns,
// oldest first; callers own persistence, this package is pure slice logic.
package memory

// DefaultWindowSize is the number of turns kept when no size is configured.
const DefaultWindowSize = 10

// Push returns a new window containing entry as the most recent turn,
// dropping the oldest turns so the result never exceeds size. The input
// slice is not mutated.
func Push(window []string, entry string, size int) []string {
	if size <= 0 {
		return nil
	}
	keep := window
	if len(keep) >= size {
		keep = keep[len(keep)-size+1:]
	}
	out := make([]string, 0, len(keep)+1)
	out = append(out, keep...)
	out = append(out, entry)
	return out
}

// FormatTurn renders one turn in the "role: content" form stored in the
// window and replayed into the model prompt.
func FormatTurn(role, content string) string {
	return role + ": " + content
}
