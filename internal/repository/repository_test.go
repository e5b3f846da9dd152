package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"messhall/internal/config"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRedisRateLimiter(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	limiter := NewRedisRateLimiter(client)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, err := limiter.CheckRateLimit(ctx, "booking:1", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, err := limiter.CheckRateLimit(ctx, "booking:1", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.True(t, s.TTL(rateLimitPrefix+"booking:1") > 0)

	t.Run("OtherKeyIndependent", func(t *testing.T) {
		allowed, err := limiter.CheckRateLimit(ctx, "booking:2", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("WindowExpires", func(t *testing.T) {
		s.FastForward(2 * time.Minute)
		allowed, err := limiter.CheckRateLimit(ctx, "booking:1", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("ServerDown", func(t *testing.T) {
		down, err := miniredis.Run()
		require.NoError(t, err)
		downClient := redis.NewClient(&redis.Options{Addr: down.Addr(), MaxRetries: -1})
		defer downClient.Close()
		down.Close()

		_, err = NewRedisRateLimiter(downClient).CheckRateLimit(ctx, "booking:1", 2, time.Minute)
		assert.Error(t, err)
	})

	t.Run("NilClient", func(t *testing.T) {
		_, err := NewRedisRateLimiter(nil).CheckRateLimit(ctx, "k", 1, time.Second)
		assert.Error(t, err)
		assert.Error(t, Ping(ctx, nil))
		assert.NoError(t, Close(nil))
	})
}

func TestNewRedisClient(t *testing.T) {
	assert.Nil(t, NewRedisClient(config.RedisConfig{}))

	s := miniredis.RunT(t)
	client := NewRedisClient(config.RedisConfig{Address: s.Addr()})
	require.NotNil(t, client)
	defer Close(client)
	assert.NoError(t, Ping(context.Background(), client))
}

func TestMemoryRateLimiter(t *testing.T) {
	limiter := NewMemoryRateLimiter()
	now := time.Now()
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	allowed, _ := limiter.CheckRateLimit(ctx, "u1", 1, time.Minute)
	assert.True(t, allowed)
	allowed, _ = limiter.CheckRateLimit(ctx, "u1", 1, time.Minute)
	assert.False(t, allowed)

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, limiter.Prune())
	allowed, _ = limiter.CheckRateLimit(ctx, "u1", 1, time.Minute)
	assert.True(t, allowed)
}

type mockLimiter struct {
	mock.Mock
}

func (m *mockLimiter) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	args := m.Called(ctx, key, limit, window)
	return args.Bool(0), args.Error(1)
}

func TestFailoverRateLimiter(t *testing.T) {
	primary := new(mockLimiter)
	fallback := new(mockLimiter)
	logger := zerolog.New(io.Discard)
	limiter := NewFailoverRateLimiter(primary, fallback, &logger)
	now := time.Now()
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	t.Run("PrimarySuccess", func(t *testing.T) {
		primary.On("CheckRateLimit", ctx, "k", 5, time.Minute).Return(true, nil).Once()
		allowed, err := limiter.CheckRateLimit(ctx, "k", 5, time.Minute)
		assert.NoError(t, err)
		assert.True(t, allowed)
		assert.False(t, limiter.Degraded())
	})

	t.Run("PrimaryFailureUsesFallback", func(t *testing.T) {
		primary.On("CheckRateLimit", ctx, "k", 5, time.Minute).Return(false, errors.New("redis down")).Once()
		fallback.On("CheckRateLimit", ctx, "k", 5, time.Minute).Return(false, nil).Once()
		allowed, err := limiter.CheckRateLimit(ctx, "k", 5, time.Minute)
		assert.NoError(t, err)
		assert.False(t, allowed)
		assert.True(t, limiter.Degraded())
	})

	t.Run("StaysOnFallbackWithinInterval", func(t *testing.T) {
		fallback.On("CheckRateLimit", ctx, "k", 5, time.Minute).Return(true, nil).Once()
		allowed, err := limiter.CheckRateLimit(ctx, "k", 5, time.Minute)
		assert.NoError(t, err)
		assert.True(t, allowed)
	})

	t.Run("RecoversAfterInterval", func(t *testing.T) {
		now = now.Add(recoveryInterval + time.Second)
		primary.On("CheckRateLimit", ctx, "k", 5, time.Minute).Return(true, nil).Once()
		allowed, err := limiter.CheckRateLimit(ctx, "k", 5, time.Minute)
		assert.NoError(t, err)
		assert.True(t, allowed)
		assert.False(t, limiter.Degraded())
	})

	primary.AssertExpectations(t)
	fallback.AssertExpectations(t)
}
