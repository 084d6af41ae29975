package pipeline

import (
	"encoding/json"
	"time"
)

// PhaseStats counts item outcomes within one fetch phase. Attempted equals
// Succeeded + Skipped + Failed once the phase is over.
type PhaseStats struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Failure describes one item that was skipped or failed.
type Failure struct {
	Phase   State  `json:"phase"`
	Item    string `json:"item"`
	Source  string `json:"source,omitempty"`
	Reason  string `json:"reason"`
	Skipped bool   `json:"skipped,omitempty"`
}

// Summary is the outcome of one run.
type Summary struct {
	RunID      string    `json:"run_id"`
	Mode       Mode      `json:"mode"`
	State      State     `json:"state"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Metrics PhaseStats `json:"metrics"`
	Feeds   PhaseStats `json:"feeds"`

	ObservationsStored int   `json:"observations_stored"`
	StoriesStored      int   `json:"stories_stored"`
	RecordsSkipped     int   `json:"records_skipped"`
	PointsDropped      int   `json:"points_dropped"`
	StoriesPruned      int64 `json:"stories_pruned"`

	Generated   bool   `json:"generated"`
	GenerateErr string `json:"generate_error,omitempty"`

	Failures []Failure `json:"failures,omitempty"`
}

// Usable reports whether the run produced something worth keeping. It is
// false when a required dashboard generation failed, or when a fetch-only
// run had failures and no item succeeded.
func (s Summary) Usable() bool {
	switch s.Mode {
	case ModeFetchOnly:
		failed := s.Metrics.Failed + s.Feeds.Failed
		succeeded := s.Metrics.Succeeded + s.Feeds.Succeeded
		return failed == 0 || succeeded > 0
	default:
		return s.Generated
	}
}

// Duration is the wall time of the run.
func (s Summary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}

// JSON encodes the summary for the run history table.
func (s Summary) JSON() []byte {
	b, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	return b
}

func (s *Summary) fail(phase State, item, source string, err error) {
	s.Failures = append(s.Failures, Failure{Phase: phase, Item: item, Source: source, Reason: err.Error()})
}

func (s *Summary) skip(phase State, item, source string, err error) {
	s.Failures = append(s.Failures, Failure{Phase: phase, Item: item, Source: source, Reason: err.Error(), Skipped: true})
}
