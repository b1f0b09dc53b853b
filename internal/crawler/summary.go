package crawler

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

// State is a provider's position in the crawl lifecycle.
type State string

const (
	StateIdle        State = "idle"
	StateDiscovering State = "discovering"
	StateFetching    State = "fetching"
	StateExtracting  State = "extracting"
	StateDraining    State = "draining"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

var transitions = map[State][]State{
	StateIdle:        {StateDiscovering},
	StateDiscovering: {StateFetching, StateFailed},
	StateFetching:    {StateExtracting},
	StateExtracting:  {StateDraining},
	StateDraining:    {StateDone},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

// ProviderSummary holds the counters of one provider for a session.
type ProviderSummary struct {
	ProviderID string
	State      State
	History    []State
	Strategy   string
	Error      string

	Discovered     int
	OffDomain      int
	Disallowed     int
	Fetched        int
	FetchFailures  map[string]int
	Extracted      int
	ExtractFailure int
	Validated      int
	Emitted        int
	EmitFailures   int
	Dropped        map[string]int
}

// Summary is the session report.
type Summary struct {
	SessionID string
	StartedAt time.Time
	Duration  time.Duration
	Cancelled bool
	Providers []ProviderSummary
}

// Totals sums emitted and dropped records over all providers.
func (s Summary) Totals() (emitted, dropped int) {
	for _, p := range s.Providers {
		emitted += p.Emitted
		for _, n := range p.Dropped {
			dropped += n
		}
	}
	return emitted, dropped
}

// Write renders a human readable report.
func (s Summary) Write(w io.Writer) {
	emitted, dropped := s.Totals()
	fmt.Fprintf(w, "session %s: %d emitted, %d dropped in %s", s.SessionID, emitted, dropped, s.Duration.Round(time.Millisecond))
	if s.Cancelled {
		fmt.Fprint(w, " (stopped early)")
	}
	fmt.Fprintln(w)

	for _, p := range s.Providers {
		fmt.Fprintf(w, "  %-16s %-9s discovered=%d fetched=%d extracted=%d validated=%d emitted=%d",
			p.ProviderID, p.State, p.Discovered, p.Fetched, p.Extracted, p.Validated, p.Emitted)
		if p.Disallowed > 0 {
			fmt.Fprintf(w, " disallowed=%d", p.Disallowed)
		}
		if p.OffDomain > 0 {
			fmt.Fprintf(w, " off_domain=%d", p.OffDomain)
		}
		if p.Error != "" {
			fmt.Fprintf(w, " error=%q", p.Error)
		}
		fmt.Fprintln(w)
		writeCounts(w, "fetch failures", p.FetchFailures)
		writeCounts(w, "dropped", p.Dropped)
	}
}

func writeCounts(w io.Writer, label string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	parts := make([]string, 0, len(counts))
	for _, k := range slices.Sorted(maps.Keys(counts)) {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	fmt.Fprintf(w, "      %s: %s\n", label, strings.Join(parts, ", "))
}

// tracker is the concurrency-safe builder of a ProviderSummary.
type tracker struct {
	mu sync.Mutex
	s  ProviderSummary
}

func newTracker(providerID string) *tracker {
	return &tracker{s: ProviderSummary{
		ProviderID:    providerID,
		State:         StateIdle,
		History:       []State{StateIdle},
		FetchFailures: make(map[string]int),
		Dropped:       make(map[string]int),
	}}
}

// moveTo records a legal transition and reports whether it happened.
func (t *tracker) moveTo(to State) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	from := t.s.State
	if !CanTransition(from, to) {
		return from, false
	}
	t.s.State = to
	t.s.History = append(t.s.History, to)
	return from, true
}

func (t *tracker) update(fn func(*ProviderSummary)) {
	t.mu.Lock()
	fn(&t.s)
	t.mu.Unlock()
}

func (t *tracker) snapshot() ProviderSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.s
	out.History = slices.Clone(t.s.History)
	out.FetchFailures = maps.Clone(t.s.FetchFailures)
	out.Dropped = maps.Clone(t.s.Dropped)
	return out
}
