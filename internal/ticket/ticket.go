// Package ticket creates an issue in the external tracker when a human
// escalates an incident instead of approving the fix.
package ticket

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// Ref identifies a created tracker issue.
type Ref struct {
	ID  string `json:"ticketId"`
	URL string `json:"ticketUrl"`
}

// Creator files one ticket. Failures are reported to the caller for logging;
// the pipeline does not retry.
type Creator interface {
	CreateTicket(ctx context.Context, incidentID, reason, approver string) (Ref, error)
}

// Simulated stands in for a Linear/Jira integration. It fabricates a
// plausible ticket reference after a short delay, mirroring the latency of a
// real tracker API.
type Simulated struct {
	baseURL string
	delay   time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimulated(baseURL string, delay time.Duration) *Simulated {
	return &Simulated{
		baseURL: baseURL,
		delay:   delay,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (s *Simulated) CreateTicket(ctx context.Context, incidentID, reason, approver string) (Ref, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return Ref{}, ctx.Err()
		}
	}

	s.mu.Lock()
	n := s.rng.Intn(10000)
	s.mu.Unlock()

	id := fmt.Sprintf("LIN-%04d", n)
	return Ref{
		ID:  id,
		URL: fmt.Sprintf("%s/%s", s.baseURL, id),
	}, nil
}
