package session

// Turn is a logical unit of the event log: either a single complete event
// or a run of partial events closed by the event that ends the run.
type Turn struct {
	Events []*Event

	// Complete is false for a trailing run of partial events that has not
	// been closed yet.
	Complete bool
}

// Content concatenates the content of every event in the turn.
func (t Turn) Content() []byte {
	var n int
	for _, e := range t.Events {
		n += len(e.Content)
	}
	out := make([]byte, 0, n)
	for _, e := range t.Events {
		out = append(out, e.Content...)
	}
	return out
}

// Coalesce groups events, in log order, into turns. Partial events
// accumulate until a non-partial event or a partial event marked
// turn_complete closes the run. Storage never coalesces; this is for
// readers that want whole messages.
func Coalesce(events []*Event) []Turn {
	var (
		turns   []Turn
		pending []*Event
	)
	for _, e := range events {
		if e.Partial && !e.TurnComplete {
			pending = append(pending, e)
			continue
		}
		turns = append(turns, Turn{Events: append(pending, e), Complete: true})
		pending = nil
	}
	if len(pending) > 0 {
		turns = append(turns, Turn{Events: pending})
	}
	return turns
}
