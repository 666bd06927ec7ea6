package agent

import "sync"

// logCapacity bounds how many recent lines LogStore retains per pod.
const logCapacity = 500

// LogLine is one line of pod stdout/stderr, as pushed by the agent via
// pod:log (spec §4.E).
type LogLine struct {
	Stream string `json:"stream"`
	Line   string `json:"line"`
}

// LogStore holds the most recent logCapacity lines per pod in memory. It is
// populated by Dispatcher.OnPodLog and read back by the pod-logs Control API
// endpoint; nothing here is persisted, so a restart loses history (spec
// Non-goals exclude durable log storage — this is a live-tail convenience).
type LogStore struct {
	mu    sync.Mutex
	lines map[string][]LogLine
}

// NewLogStore creates an empty LogStore.
func NewLogStore() *LogStore {
	return &LogStore{lines: make(map[string][]LogLine)}
}

// Append records a log line for podID, evicting the oldest line once the
// per-pod capacity is reached.
func (s *LogStore) Append(podID string, line LogLine) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := s.lines[podID]
	buf = append(buf, line)
	if len(buf) > logCapacity {
		buf = buf[len(buf)-logCapacity:]
	}
	s.lines[podID] = buf
}

// Recent returns up to limit of the most recent lines recorded for podID.
func (s *LogStore) Recent(podID string, limit int) []LogLine {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := s.lines[podID]
	if limit <= 0 || limit > len(buf) {
		limit = len(buf)
	}
	out := make([]LogLine, limit)
	copy(out, buf[len(buf)-limit:])
	return out
}
