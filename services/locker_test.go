package services

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
)

func TestRedisLockerLogsFailedRelease(t *testing.T) {
	hook := logtest.NewGlobal()
	t.Cleanup(func() { logrus.StandardLogger().ReplaceHooks(make(logrus.LevelHooks)) })

	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 200 * time.Millisecond,
	})
	t.Cleanup(func() { client.Close() })
	locker := NewRedisLocker(client, "")

	_, ok, err := locker.TryLock(context.Background(), "job:cleanup", time.Minute)
	require.Error(t, err, "an unreachable redis is reported, not treated as held")
	require.False(t, ok)

	locker.releaser("farmora:lock:job:cleanup", "token")()

	var found bool
	for _, entry := range hook.AllEntries() {
		if entry.Message != "" && entry.Data["lock"] == "farmora:lock:job:cleanup" {
			found = true
			require.Equal(t, logrus.WarnLevel, entry.Level)
		}
	}
	require.True(t, found, "failed release is logged")
}
