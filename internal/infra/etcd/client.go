package etcd

import (
	"fmt"
	"path"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// Key layout under the shared etcd cluster.
const (
	keyRoot             = "/timed-dispatch/"
	JobSaveDir          = keyRoot + "jobs/"
	ExecutionHistoryDir = keyRoot + "history/"
	LeaderElectionKey   = keyRoot + "leader"
	LockPrefix          = keyRoot + "locks/"
)

// NewClient dials the etcd cluster.
func NewClient(endpoints []string, timeout time.Duration) (*clientv3.Client, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to etcd %v: %w", endpoints, err)
	}
	return cli, nil
}

func jobKey(name string) string { return path.Join(JobSaveDir, name) }

func executionKey(jobName, executionID string) string {
	return path.Join(ExecutionHistoryDir, jobName, executionID)
}

// executionPrefix ends in a slash so job "a" never matches the records of job "ab".
func executionPrefix(jobName string) string {
	return path.Join(ExecutionHistoryDir, jobName) + "/"
}

func lockKey(name string) string { return LockPrefix + name }
