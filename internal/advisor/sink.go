package advisor

import (
	"context"
	"sync"
	"time"

	"github.com/copyleftdev/setpoint/internal/economics"
)

// ResultSink receives every completed optimization.
type ResultSink interface {
	Publish(ctx context.Context, resp *Response) error
}

// Targets summarizes one profile's recommendation.
type Targets struct {
	Controls      map[string]float64 `json:"targets"`
	Predicted     map[string]float64 `json:"predicted"`
	SoftSensors   map[string]float64 `json:"soft_sensors"`
	EconomicValue float64            `json:"economic_value"`
	Score         float64            `json:"score"`
	Violations    []string           `json:"residual_violations,omitempty"`
	Error         string             `json:"error,omitempty"`
}

// Record is the published form of a Response.
type Record struct {
	ID              string            `json:"id"`
	Timestamp       time.Time         `json:"timestamp"`
	Segment         string            `json:"segment"`
	Operating       Targets           `json:"operating"`
	Safety          Targets           `json:"safety"`
	EconomicBenefit *float64          `json:"economic_benefit,omitempty"`
	Pricing         economics.Pricing `json:"pricing"`
	PhysicsOnly     bool              `json:"physics_only"`
	History         []Trial           `json:"history"`
}

func targets(r *Result) Targets {
	if r == nil {
		return Targets{}
	}
	if r.Err != nil {
		return Targets{Error: r.Err.Error()}
	}
	if r.Best == nil {
		return Targets{}
	}
	return Targets{
		Controls:      r.Best.Controls.Map(),
		Predicted:     r.Best.Constraints.Map(),
		SoftSensors:   r.Best.SoftSensors.Map(),
		EconomicValue: r.Best.EconomicValue,
		Score:         r.Best.Score,
		Violations:    r.ResidualViolations,
	}
}

// Record builds the published record.
func (r *Response) Record() Record {
	return Record{
		ID:              r.ID,
		Timestamp:       r.StartedAt.UTC(),
		Segment:         r.Segment,
		Operating:       targets(r.Operating),
		Safety:          targets(r.Safety),
		EconomicBenefit: r.EconomicDelta,
		Pricing:         r.Pricing,
		PhysicsOnly:     r.PhysicsOnly,
		History:         r.History,
	}
}

// ResultLog keeps the most recent responses in memory, newest last.
type ResultLog struct {
	mu    sync.RWMutex
	size  int
	items []*Response
}

// DefaultResultLogSize is used when NewResultLog gets a non-positive size.
const DefaultResultLogSize = 50

// NewResultLog creates a log holding at most size responses.
func NewResultLog(size int) *ResultLog {
	if size <= 0 {
		size = DefaultResultLogSize
	}
	return &ResultLog{size: size}
}

// Publish implements ResultSink.
func (l *ResultLog) Publish(_ context.Context, resp *Response) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, resp)
	if over := len(l.items) - l.size; over > 0 {
		l.items = append([]*Response(nil), l.items[over:]...)
	}
	return nil
}

// List returns up to limit responses, newest first. limit <= 0 means all.
func (l *ResultLog) List(limit int) []*Response {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := len(l.items)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*Response, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, l.items[i])
	}
	return out
}

// Get finds a response by id.
func (l *ResultLog) Get(id string) (*Response, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.items) - 1; i >= 0; i-- {
		if l.items[i].ID == id {
			return l.items[i], true
		}
	}
	return nil, false
}

// Len reports the number of retained responses.
func (l *ResultLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}
