package etcd

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyLayout(t *testing.T) {
	assert.Equal(t, "/timed-dispatch/jobs/backup", jobKey("backup"))
	assert.Equal(t, "/timed-dispatch/history/backup/exec-1", executionKey("backup", "exec-1"))
	assert.Equal(t, "/timed-dispatch/history/backup/", executionPrefix("backup"))
	assert.Equal(t, "/timed-dispatch/locks/backup", lockKey("backup"))
	assert.Equal(t, "/timed-dispatch/leader", LeaderElectionKey)
}

func TestExecutionPrefixIsolatesJobs(t *testing.T) {
	assert.True(t, strings.HasPrefix(executionKey("ab", "x"), executionPrefix("ab")))
	assert.False(t, strings.HasPrefix(executionKey("ab", "x"), executionPrefix("a")))
}

func TestKeysStayUnderRoot(t *testing.T) {
	for _, key := range []string{jobKey("j"), executionKey("j", "e"), lockKey("j"), LeaderElectionKey} {
		assert.True(t, strings.HasPrefix(key, keyRoot), key)
	}
}
