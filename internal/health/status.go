package health

import "time"

// Status is a four-level health ladder. Reports are pure derivations from
// sync status and run history, never authoritative.
type Status string

const (
	Healthy   Status = "healthy"
	Degraded  Status = "degraded"
	Unhealthy Status = "unhealthy"
	Critical  Status = "critical"
)

var statusRank = map[Status]int{
	Healthy:   0,
	Degraded:  1,
	Unhealthy: 2,
	Critical:  3,
}

func worse(a, b Status) Status {
	if statusRank[b] > statusRank[a] {
		return b
	}
	return a
}

// Metric is one of the five per-state health dimensions.
type Metric struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Value  string `json:"value"`
}

type StateReport struct {
	State       string    `json:"state"`
	Overall     Status    `json:"overall"`
	Metrics     []Metric  `json:"metrics"`
	GeneratedAt time.Time `json:"generated_at"`
}

type SystemReport struct {
	Overall     Status        `json:"overall"`
	States      []StateReport `json:"states"`
	GeneratedAt time.Time     `json:"generated_at"`
}

// RunSample is one completed run as the monitor remembers it. Samples live
// only in memory; the durable record is sync_status.
type RunSample struct {
	Success  bool
	Duration time.Duration
	At       time.Time
}
