package cache

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"greenloop/internal/model"
)

func checkDockerAvailable() bool {
	return exec.Command("docker", "info").Run() == nil
}

func setupRedis(t *testing.T) *redis.Client {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client, err := NewClient("redis://" + endpoint)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestLeaderboard_ReadThroughAndInvalidate(t *testing.T) {
	client := setupRedis(t)
	lb := NewLeaderboard(client, time.Minute)
	ctx := context.Background()

	day := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)
	want := []model.LeaderboardEntry{
		{UserID: uuid.New(), DisplayName: "Ada", Points: 120, Rank: 1, LastActionDate: &day},
		{UserID: uuid.New(), DisplayName: "Grace", Points: 90, Rank: 2},
	}

	loads := 0
	load := func() ([]model.LeaderboardEntry, error) {
		loads++
		return want, nil
	}

	got, err := lb.Leaderboard(ctx, model.TimeframeWeekly, load)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = lb.Leaderboard(ctx, model.TimeframeWeekly, load)
	require.NoError(t, err)
	assert.Equal(t, 1, loads)
	require.Len(t, got, 2)
	assert.Equal(t, want[0].UserID, got[0].UserID)
	require.NotNil(t, got[0].LastActionDate)
	assert.True(t, day.Equal(*got[0].LastActionDate))

	require.NoError(t, lb.Invalidate(ctx))

	_, err = lb.Leaderboard(ctx, model.TimeframeWeekly, load)
	require.NoError(t, err)
	assert.Equal(t, 2, loads)
}

func TestLeaderboard_LoadOverlappingInvalidateIsNotServed(t *testing.T) {
	client := setupRedis(t)
	lb := NewLeaderboard(client, time.Minute)
	ctx := context.Background()

	before := []model.LeaderboardEntry{{UserID: uuid.New(), Points: 10, Rank: 1}}
	after := []model.LeaderboardEntry{{UserID: before[0].UserID, Points: 20, Rank: 1}}

	// A credit commits and invalidates while this reader is still loading.
	got, err := lb.Leaderboard(ctx, model.TimeframeAll, func() ([]model.LeaderboardEntry, error) {
		require.NoError(t, lb.Invalidate(ctx))
		return before, nil
	})
	require.NoError(t, err)
	assert.Equal(t, before, got)

	loads := 0
	got, err = lb.Leaderboard(ctx, model.TimeframeAll, func() ([]model.LeaderboardEntry, error) {
		loads++
		return after, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, loads, "the board loaded before the invalidation must not be served")
	assert.Equal(t, int64(20), got[0].Points)
}

func TestLeaderboard_FallsBackWithoutRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer client.Close()
	lb := NewLeaderboard(client, time.Minute)

	want := []model.LeaderboardEntry{{UserID: uuid.New(), Points: 5, Rank: 1}}
	got, err := lb.Leaderboard(context.Background(), model.TimeframeAll, func() ([]model.LeaderboardEntry, error) {
		return want, nil
	})
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Error(t, lb.Invalidate(context.Background()))
}
