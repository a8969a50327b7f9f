package etcd

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"timed-dispatch/internal/domain"
	"timed-dispatch/internal/metrics"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
)

type etcdLeaderElectionManager struct {
	client *clientv3.Client
	nodeID string
	ttl    time.Duration
	logger *slog.Logger

	mu       sync.Mutex
	session  *concurrency.Session
	election *concurrency.Election
	isLeader bool
}

// NewEtcdLeaderElectionManager elects one node to run the timer subsystem.
// ttl is the session lease; a crashed leader is replaced after it expires.
func NewEtcdLeaderElectionManager(client *clientv3.Client, nodeID string, ttl time.Duration, logger *slog.Logger) domain.LeaderElectionManager {
	return &etcdLeaderElectionManager{
		client: client,
		nodeID: nodeID,
		ttl:    ttl,
		logger: logger.With("component", "leader-election"),
	}
}

func (m *etcdLeaderElectionManager) Campaign(ctx context.Context) (<-chan struct{}, error) {
	session, err := concurrency.NewSession(m.client,
		concurrency.WithTTL(int(m.ttl.Seconds())),
		concurrency.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("create election session: %w", err)
	}
	election := concurrency.NewElection(session, LeaderElectionKey)

	if err := election.Campaign(ctx, m.nodeID); err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("campaign: %w", err)
	}

	m.mu.Lock()
	m.session = session
	m.election = election
	m.isLeader = true
	m.mu.Unlock()
	metrics.IsLeader.WithLabelValues(m.nodeID).Set(1)
	m.logger.Info("became the leader", "node_id", m.nodeID)

	lost := make(chan struct{})
	go func() {
		<-session.Done()
		m.mu.Lock()
		if m.session == session {
			m.isLeader = false
		}
		m.mu.Unlock()
		metrics.IsLeader.WithLabelValues(m.nodeID).Set(0)
		close(lost)
	}()
	return lost, nil
}

func (m *etcdLeaderElectionManager) Resign(ctx context.Context) error {
	m.mu.Lock()
	election, session := m.election, m.session
	m.isLeader = false
	m.election, m.session = nil, nil
	m.mu.Unlock()
	metrics.IsLeader.WithLabelValues(m.nodeID).Set(0)

	if election == nil {
		return nil
	}
	m.logger.Info("resigning leadership", "node_id", m.nodeID)
	err := election.Resign(ctx)
	if cerr := session.Close(); err == nil {
		err = cerr
	}
	return err
}

func (m *etcdLeaderElectionManager) IsLeader() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isLeader
}
