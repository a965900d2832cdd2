package controllers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultAnalyticsRange(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 6, 1, 9, 30, 17, 250, time.UTC)
	start, end := defaultAnalyticsRange(now)
	require.Equal(t, time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC), end)
	require.Equal(t, time.Date(2024, 5, 25, 9, 30, 0, 0, time.UTC), start)

	laterStart, laterEnd := defaultAnalyticsRange(now.Add(40 * time.Second))
	require.Equal(t, start, laterStart)
	require.Equal(t, end, laterEnd, "requests within the same minute share a range")
}
