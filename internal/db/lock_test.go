package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdvisoryLockKey(t *testing.T) {
	t.Parallel()
	// FNV-64a offset basis and the digest of "a", read as signed bigints.
	assert.Equal(t, int64(-3750763034362895579), AdvisoryLockKey(""))
	assert.Equal(t, int64(-5808556873153909620), AdvisoryLockKey("a"))

	key := "queue-guard:SendMessages:t1"
	assert.Equal(t, AdvisoryLockKey(key), AdvisoryLockKey(key))
	assert.NotEqual(t, AdvisoryLockKey(key), AdvisoryLockKey("queue-guard:SendMessages:t2"))
}
