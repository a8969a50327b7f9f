package domain

import "context"

// LeaderElectionManager elects the single node that runs the timer subsystem.
type LeaderElectionManager interface {
	// Campaign blocks until this node leads or ctx ends. The returned channel
	// closes when leadership is lost.
	Campaign(ctx context.Context) (<-chan struct{}, error)
	Resign(ctx context.Context) error
	IsLeader() bool
}
