package memory

import (
	"context"
	"sync"

	"timed-dispatch/internal/domain"
	"timed-dispatch/internal/metrics"
)

type leaderElection struct {
	nodeID string

	mu     sync.Mutex
	leader bool
	lost   chan struct{}
}

// NewLeaderElectionManager elects this node immediately. Resign ends the term
// and closes the channel Campaign returned.
func NewLeaderElectionManager(nodeID string) domain.LeaderElectionManager {
	return &leaderElection{nodeID: nodeID}
}

func (e *leaderElection) Campaign(ctx context.Context) (<-chan struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.leader {
		return e.lost, nil
	}
	e.leader = true
	e.lost = make(chan struct{})
	metrics.IsLeader.WithLabelValues(e.nodeID).Set(1)
	return e.lost, nil
}

func (e *leaderElection) Resign(context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.leader {
		return nil
	}
	e.leader = false
	close(e.lost)
	metrics.IsLeader.WithLabelValues(e.nodeID).Set(0)
	return nil
}

func (e *leaderElection) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leader
}
