package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	"crmgate.io/ingestion/internal/core/domain"
	"crmgate.io/ingestion/mocks"
)

func TestSyncHandler(t *testing.T) {
	suite.Run(t, new(SyncHandlerSuite))
}

type SyncHandlerSuite struct {
	suite.Suite
	echo    *echo.Echo
	ingest  *mocks.IngestionService
	limiter *mocks.RateLimiter
	handler *SyncHandler
	userID  uuid.UUID
}

func (suite *SyncHandlerSuite) SetupTest() {
	suite.echo = echo.New()
	suite.ingest = mocks.NewIngestionService(suite.T())
	suite.limiter = mocks.NewRateLimiter(suite.T())
	suite.handler = NewSyncHandler(suite.ingest, suite.limiter)
	suite.userID = uuid.New()
}

func (suite *SyncHandlerSuite) request(provider string) (*httptest.ResponseRecorder, echo.Context) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/"+provider, nil)
	rec := httptest.NewRecorder()
	c := suite.echo.NewContext(req, rec)
	c.SetParamNames("provider")
	c.SetParamValues(provider)
	c.Set(UserIDKey, suite.userID)
	return rec, c
}

func (suite *SyncHandlerSuite) allow() {
	suite.limiter.On("Check", mock.Anything, suite.userID, "sync:gmail", mock.Anything).
		Return(domain.RateLimitResult{Allowed: true, Remaining: 29, ResetAt: time.Now().Add(time.Minute)})
}

func (suite *SyncHandlerSuite) TestSuccess() {
	suite.allow()
	suite.ingest.On("Sync", mock.Anything, suite.userID, "gmail").
		Return(&domain.SyncSummary{SyncedCount: 3, SkippedCount: 1}, nil)

	rec, c := suite.request("gmail")
	suite.NoError(suite.handler.Handle(c))

	suite.Equal(http.StatusOK, rec.Code)
	suite.JSONEq(`{"syncedCount":3,"skippedCount":1}`, rec.Body.String())
	suite.Equal("30", rec.Header().Get("X-RateLimit-Limit"))
	suite.Equal("29", rec.Header().Get("X-RateLimit-Remaining"))
}

func (suite *SyncHandlerSuite) TestRateLimited() {
	suite.limiter.On("Check", mock.Anything, suite.userID, "sync:gmail", mock.Anything).
		Return(domain.RateLimitResult{Allowed: false, ResetAt: time.Now().Add(30 * time.Second), RetryAfterSeconds: 30})

	rec, c := suite.request("gmail")
	suite.NoError(suite.handler.Handle(c))

	suite.Equal(http.StatusTooManyRequests, rec.Code)
	suite.Equal("30", rec.Header().Get("Retry-After"))
	suite.ingest.AssertNotCalled(suite.T(), "Sync", mock.Anything, mock.Anything, mock.Anything)
}

func (suite *SyncHandlerSuite) TestNotConnected() {
	suite.allow()
	suite.ingest.On("Sync", mock.Anything, suite.userID, "gmail").Return(nil, domain.ErrNotConnected)

	rec, c := suite.request("gmail")
	suite.NoError(suite.handler.Handle(c))

	suite.Equal(http.StatusBadRequest, rec.Code)
	suite.Contains(rec.Body.String(), "not_connected")
}

func (suite *SyncHandlerSuite) TestReauthorizationRequired() {
	suite.allow()
	suite.ingest.On("Sync", mock.Anything, suite.userID, "gmail").Return(nil, domain.ErrReauthorizationRequired)

	rec, c := suite.request("gmail")
	suite.NoError(suite.handler.Handle(c))

	suite.Equal(http.StatusUnauthorized, rec.Code)
	suite.Contains(rec.Body.String(), "reauthorization_required")
}

func (suite *SyncHandlerSuite) TestProviderFailure() {
	suite.allow()
	suite.ingest.On("Sync", mock.Anything, suite.userID, "gmail").Return(nil, errors.New("503 backend error"))

	rec, c := suite.request("gmail")
	suite.NoError(suite.handler.Handle(c))

	suite.Equal(http.StatusBadGateway, rec.Code)
	suite.Contains(rec.Body.String(), "sync_failed")
}
