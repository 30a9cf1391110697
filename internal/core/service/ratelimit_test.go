package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"crmgate.io/ingestion/internal/core/domain"
	"crmgate.io/ingestion/mocks"
)

func TestRateLimiter(t *testing.T) {
	suite.Run(t, new(RateLimiterSuite))
}

type RateLimiterSuite struct {
	suite.Suite
	storage *mocks.RateLimitStorage
	limiter *RateLimiter
	userID  uuid.UUID
	cfg     domain.RateLimitConfig
}

func (suite *RateLimiterSuite) SetupTest() {
	suite.storage = mocks.NewRateLimitStorage(suite.T())
	suite.limiter = NewRateLimiter(suite.storage)
	suite.userID = uuid.New()
	suite.cfg = domain.RateLimitConfig{
		MaxRequests: 5,
		Window:      time.Minute,
	}
}

func (suite *RateLimiterSuite) TestFirstRequestOpensWindow() {
	ctx := context.Background()
	suite.storage.On("Latest", ctx, suite.userID, "sync:gmail").Return(nil, domain.ErrNotFound)
	suite.storage.On("Insert", ctx, mock.MatchedBy(func(c *domain.RateLimitCounter) bool {
		return c.UserID == suite.userID && c.Endpoint == "sync:gmail" && c.Count == 1
	})).Return(nil)

	result := suite.limiter.Check(ctx, suite.userID, "sync:gmail", suite.cfg)

	suite.True(result.Allowed)
	suite.Equal(4, result.Remaining)
}

func (suite *RateLimiterSuite) TestUnderLimitIncrements() {
	ctx := context.Background()
	counter := &domain.RateLimitCounter{
		UserID:      suite.userID,
		Endpoint:    "sync:gmail",
		WindowStart: time.Now().Add(-10 * time.Second),
		Count:       2,
	}
	suite.storage.On("Latest", ctx, suite.userID, "sync:gmail").Return(counter, nil)
	suite.storage.On("Increment", ctx, suite.userID, "sync:gmail", counter.WindowStart, mock.Anything, 5).Return(true, nil)

	result := suite.limiter.Check(ctx, suite.userID, "sync:gmail", suite.cfg)

	suite.True(result.Allowed)
	suite.Equal(2, result.Remaining)
}

func (suite *RateLimiterSuite) TestRacedLastSlotDenies() {
	ctx := context.Background()
	windowStart := time.Now().Add(-10 * time.Second)
	counter := &domain.RateLimitCounter{
		UserID:      suite.userID,
		Endpoint:    "sync:gmail",
		WindowStart: windowStart,
		Count:       4,
	}
	suite.storage.On("Latest", ctx, suite.userID, "sync:gmail").Return(counter, nil)
	// A concurrent request took the last slot between the read and the
	// conditional increment, so the store refuses the bump.
	suite.storage.On("Increment", ctx, suite.userID, "sync:gmail", windowStart, mock.Anything, 5).Return(false, nil)

	result := suite.limiter.Check(ctx, suite.userID, "sync:gmail", suite.cfg)

	suite.False(result.Allowed)
	suite.Zero(result.Remaining)
	suite.GreaterOrEqual(result.RetryAfterSeconds, 1)
}

func (suite *RateLimiterSuite) TestAtLimitDenies() {
	ctx := context.Background()
	windowStart := time.Now().Add(-10 * time.Second)
	counter := &domain.RateLimitCounter{
		UserID:      suite.userID,
		Endpoint:    "sync:gmail",
		WindowStart: windowStart,
		Count:       5,
	}
	suite.storage.On("Latest", ctx, suite.userID, "sync:gmail").Return(counter, nil)
	suite.storage.On("Increment", ctx, suite.userID, "sync:gmail", windowStart, mock.Anything, 5).Return(false, nil)

	result := suite.limiter.Check(ctx, suite.userID, "sync:gmail", suite.cfg)

	suite.False(result.Allowed)
	suite.Zero(result.Remaining)
	suite.GreaterOrEqual(result.RetryAfterSeconds, 1)
	suite.WithinDuration(windowStart.Add(suite.cfg.Window), result.ResetAt, time.Second)
}

func (suite *RateLimiterSuite) TestAtLimitWithBlockDuration() {
	ctx := context.Background()
	suite.cfg.BlockDuration = 15 * time.Minute
	counter := &domain.RateLimitCounter{
		UserID:      suite.userID,
		Endpoint:    "oauth:start",
		WindowStart: time.Now().Add(-10 * time.Second),
		Count:       5,
	}
	suite.storage.On("Latest", ctx, suite.userID, "oauth:start").Return(counter, nil)
	suite.storage.On("Increment", ctx, suite.userID, "oauth:start", counter.WindowStart, mock.Anything, 5).Return(false, nil)
	suite.storage.On("Block", ctx, suite.userID, "oauth:start", counter.WindowStart, mock.Anything).Return(nil)

	result := suite.limiter.Check(ctx, suite.userID, "oauth:start", suite.cfg)

	suite.False(result.Allowed)
	suite.WithinDuration(time.Now().Add(15*time.Minute), result.ResetAt, time.Second)
}

func (suite *RateLimiterSuite) TestActiveBlockShortCircuits() {
	ctx := context.Background()
	until := time.Now().Add(10 * time.Minute)
	counter := &domain.RateLimitCounter{
		UserID:       suite.userID,
		Endpoint:     "oauth:start",
		WindowStart:  time.Now().Add(-20 * time.Minute),
		Count:        5,
		BlockedUntil: &until,
	}
	suite.storage.On("Latest", ctx, suite.userID, "oauth:start").Return(counter, nil)

	result := suite.limiter.Check(ctx, suite.userID, "oauth:start", suite.cfg)

	suite.False(result.Allowed)
	suite.Equal(until, result.ResetAt)
	// No Insert/Increment/Block expectations set: any such call fails the test
}

func (suite *RateLimiterSuite) TestWindowRollover() {
	ctx := context.Background()
	counter := &domain.RateLimitCounter{
		UserID:      suite.userID,
		Endpoint:    "sync:gmail",
		WindowStart: time.Now().Add(-2 * time.Minute),
		Count:       5,
	}
	suite.storage.On("Latest", ctx, suite.userID, "sync:gmail").Return(counter, nil)
	suite.storage.On("Insert", ctx, mock.Anything).Return(nil)

	result := suite.limiter.Check(ctx, suite.userID, "sync:gmail", suite.cfg)

	suite.True(result.Allowed)
	suite.Equal(4, result.Remaining)
}

func (suite *RateLimiterSuite) TestStorageOutageFailsOpen() {
	ctx := context.Background()
	suite.storage.On("Latest", ctx, suite.userID, "sync:gmail").Return(nil, errors.New("connection refused"))

	result := suite.limiter.Check(ctx, suite.userID, "sync:gmail", suite.cfg)

	suite.True(result.Allowed)
	suite.Equal(5, result.Remaining)
}

func (suite *RateLimiterSuite) TestInsertFailureStillAllows() {
	ctx := context.Background()
	suite.storage.On("Latest", ctx, suite.userID, "sync:gmail").Return(nil, domain.ErrNotFound)
	suite.storage.On("Insert", ctx, mock.Anything).Return(errors.New("connection refused"))

	result := suite.limiter.Check(ctx, suite.userID, "sync:gmail", suite.cfg)

	suite.True(result.Allowed)
}

func (suite *RateLimiterSuite) TestIncrementFailureStillAllows() {
	ctx := context.Background()
	counter := &domain.RateLimitCounter{
		UserID:      suite.userID,
		Endpoint:    "sync:gmail",
		WindowStart: time.Now().Add(-10 * time.Second),
		Count:       2,
	}
	suite.storage.On("Latest", ctx, suite.userID, "sync:gmail").Return(counter, nil)
	suite.storage.On("Increment", ctx, suite.userID, "sync:gmail", counter.WindowStart, mock.Anything, 5).Return(false, errors.New("connection refused"))

	result := suite.limiter.Check(ctx, suite.userID, "sync:gmail", suite.cfg)

	suite.True(result.Allowed)
}
