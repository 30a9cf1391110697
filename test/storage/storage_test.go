package storage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/ory/dockertest/v3"
	"github.com/stretchr/testify/suite"

	"crmgate.io/ingestion/internal/core/domain"
	"crmgate.io/ingestion/internal/storage"
	"crmgate.io/ingestion/test"
)

func TestStorage(t *testing.T) {
	suite.Run(t, new(StorageSuite))
}

type StorageSuite struct {
	suite.Suite
	dockerPool       *dockertest.Pool
	postgresResource *dockertest.Resource
	postgresDB       *sql.DB
	credentials      *storage.CredentialStorage
	states           *storage.AuthStateStorage
	rates            *storage.RateLimitStorage
	dedup            *storage.DedupStorage
	audit            *storage.AuditStorage
	records          *storage.RecordStorage
}

func (suite *StorageSuite) SetupSuite() {
	pool, err := dockertest.NewPool("")
	if err != nil {
		suite.T().Fatalf("Could not connect to docker: %s", err)
	}
	suite.dockerPool = pool
	db, port, postgresResource := test.SetupPostgresDB(suite.T(), pool)
	suite.postgresDB = db
	suite.postgresResource = postgresResource

	test.ExecFile(suite.T(), suite.postgresDB, "../../migrations/schema.sql")

	if !suite.T().Failed() {
		ctx := context.Background()
		postgresDB, err := storage.NewPostgresDB(ctx, test.PostgresDSN(port))
		if err != nil {
			suite.T().Fatalf("Failed to connect to database: %v", err)
		}

		suite.credentials = storage.NewCredentialStorage(postgresDB)
		suite.states = storage.NewAuthStateStorage(postgresDB)
		suite.rates = storage.NewRateLimitStorage(postgresDB)
		suite.dedup = storage.NewDedupStorage(postgresDB)
		suite.audit = storage.NewAuditStorage(postgresDB)
		suite.records = storage.NewRecordStorage(postgresDB)
	}
}

func (suite *StorageSuite) SetupTest() {
	_, err := suite.postgresDB.Exec(`TRUNCATE credentials, oauth_states, rate_limit_counters,
		ingested_messages, audit_events, activities, leads, contacts`)
	if err != nil {
		suite.T().Fatalf("Failed to reset tables: %v", err)
	}
}

func (suite *StorageSuite) TearDownSuite() {
	if suite.postgresDB != nil {
		_ = suite.postgresDB.Close()
	}
	if suite.dockerPool != nil {
		if suite.postgresResource != nil {
			_ = suite.dockerPool.Purge(suite.postgresResource)
		}
	}
}

func (suite *StorageSuite) credential(userID uuid.UUID) *domain.Credential {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &domain.Credential{
		UserID:          userID,
		Provider:        domain.ProviderGmail,
		Email:           "Owner@Example.com",
		AccessTokenEnc:  "enc-access",
		AccessTokenIV:   "iv-access",
		RefreshTokenEnc: "enc-refresh",
		RefreshTokenIV:  "iv-refresh",
		ExpiresAt:       now.Add(time.Hour),
		Scopes:          []string{"scope.read", "scope.send"},
		SyncCursor:      "cursor-1",
		SubscriptionID:  "sub-1",
		LastSyncedAt:    now.Add(-time.Hour),
		CreatedAt:       now,
	}
}

func (suite *StorageSuite) TestCredentialRoundTrip() {
	ctx := context.Background()
	userID := uuid.New()

	err := suite.credentials.Upsert(ctx, suite.credential(userID))
	suite.Require().NoError(err)

	got, err := suite.credentials.Get(ctx, userID, domain.ProviderGmail)
	suite.Require().NoError(err)
	suite.Equal("Owner@Example.com", got.Email)
	suite.Equal("enc-access", got.AccessTokenEnc)
	suite.Equal([]string{"scope.read", "scope.send"}, got.Scopes)
	suite.Equal("cursor-1", got.SyncCursor)
}

func (suite *StorageSuite) TestCredentialUpsertOverwrites() {
	ctx := context.Background()
	userID := uuid.New()

	cred := suite.credential(userID)
	suite.Require().NoError(suite.credentials.Upsert(ctx, cred))

	cred.AccessTokenEnc = "enc-access-v2"
	cred.SyncCursor = "cursor-2"
	suite.Require().NoError(suite.credentials.Upsert(ctx, cred))

	got, err := suite.credentials.Get(ctx, userID, domain.ProviderGmail)
	suite.Require().NoError(err)
	suite.Equal("enc-access-v2", got.AccessTokenEnc)
	suite.Equal("cursor-2", got.SyncCursor)

	var count int
	err = suite.postgresDB.QueryRow(`SELECT COUNT(*) FROM credentials WHERE user_id = $1`, userID).Scan(&count)
	suite.NoError(err)
	suite.Equal(1, count)
}

func (suite *StorageSuite) TestCredentialGetByEmailCaseInsensitive() {
	ctx := context.Background()
	userID := uuid.New()
	suite.Require().NoError(suite.credentials.Upsert(ctx, suite.credential(userID)))

	got, err := suite.credentials.GetByEmail(ctx, domain.ProviderGmail, "OWNER@example.COM")
	suite.Require().NoError(err)
	suite.Equal(userID, got.UserID)
}

func (suite *StorageSuite) TestCredentialGetBySubscription() {
	ctx := context.Background()
	userID := uuid.New()
	suite.Require().NoError(suite.credentials.Upsert(ctx, suite.credential(userID)))

	got, err := suite.credentials.GetBySubscription(ctx, domain.ProviderGmail, "sub-1")
	suite.Require().NoError(err)
	suite.Equal(userID, got.UserID)

	_, err = suite.credentials.GetBySubscription(ctx, domain.ProviderGmail, "sub-404")
	suite.ErrorIs(err, domain.ErrNotFound)
}

func (suite *StorageSuite) TestCredentialDelete() {
	ctx := context.Background()
	userID := uuid.New()
	suite.Require().NoError(suite.credentials.Upsert(ctx, suite.credential(userID)))

	suite.NoError(suite.credentials.Delete(ctx, userID, domain.ProviderGmail))
	suite.ErrorIs(suite.credentials.Delete(ctx, userID, domain.ProviderGmail), domain.ErrNotFound)

	_, err := suite.credentials.Get(ctx, userID, domain.ProviderGmail)
	suite.ErrorIs(err, domain.ErrNotFound)
}

func (suite *StorageSuite) TestCredentialUpdateCursor() {
	ctx := context.Background()
	userID := uuid.New()
	suite.Require().NoError(suite.credentials.Upsert(ctx, suite.credential(userID)))

	syncedAt := time.Now().UTC().Truncate(time.Millisecond)
	suite.Require().NoError(suite.credentials.UpdateCursor(ctx, userID, domain.ProviderGmail, "cursor-9", syncedAt))

	got, err := suite.credentials.Get(ctx, userID, domain.ProviderGmail)
	suite.Require().NoError(err)
	suite.Equal("cursor-9", got.SyncCursor)
	suite.WithinDuration(syncedAt, got.LastSyncedAt, time.Second)
}

func (suite *StorageSuite) TestAuthStateSingleUse() {
	ctx := context.Background()
	state := &domain.AuthState{
		State:     "one-shot-state",
		UserID:    uuid.New(),
		Provider:  domain.ProviderGmail,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}
	suite.Require().NoError(suite.states.Create(ctx, state))

	got, err := suite.states.Consume(ctx, "one-shot-state")
	suite.Require().NoError(err)
	suite.Equal(state.UserID, got.UserID)
	suite.Equal(domain.ProviderGmail, got.Provider)

	// The row is gone: a replayed callback cannot consume it again
	_, err = suite.states.Consume(ctx, "one-shot-state")
	suite.ErrorIs(err, domain.ErrNotFound)
}

func (suite *StorageSuite) TestAuthStatePurgeExpired() {
	ctx := context.Background()
	expired := &domain.AuthState{
		State:     "expired-state",
		UserID:    uuid.New(),
		Provider:  domain.ProviderGmail,
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	live := &domain.AuthState{
		State:     "live-state",
		UserID:    uuid.New(),
		Provider:  domain.ProviderGmail,
		ExpiresAt: time.Now().Add(10 * time.Minute),
	}
	suite.Require().NoError(suite.states.Create(ctx, expired))
	suite.Require().NoError(suite.states.Create(ctx, live))

	purged, err := suite.states.PurgeExpired(ctx, time.Now())
	suite.Require().NoError(err)
	suite.EqualValues(1, purged)

	_, err = suite.states.Consume(ctx, "live-state")
	suite.NoError(err)
}

func (suite *StorageSuite) TestDedupUniqueness() {
	ctx := context.Background()
	entry := &domain.DedupEntry{
		Channel:    domain.ProviderGmail,
		ExternalID: "msg-1",
		ContactID:  uuid.New(),
		ActivityID: uuid.New(),
	}

	seen, err := suite.dedup.Exists(ctx, domain.ProviderGmail, "msg-1")
	suite.Require().NoError(err)
	suite.False(seen)

	suite.Require().NoError(suite.dedup.Record(ctx, entry))

	seen, err = suite.dedup.Exists(ctx, domain.ProviderGmail, "msg-1")
	suite.Require().NoError(err)
	suite.True(seen)

	// Same external id on another channel is a different message
	seen, err = suite.dedup.Exists(ctx, domain.ProviderOutlook, "msg-1")
	suite.Require().NoError(err)
	suite.False(seen)

	err = suite.dedup.Record(ctx, entry)
	suite.ErrorIs(err, domain.ErrDuplicateMessage)
}

func (suite *StorageSuite) TestRateLimitCounterLifecycle() {
	ctx := context.Background()
	userID := uuid.New()
	windowStart := time.Now().UTC().Truncate(time.Millisecond)

	_, err := suite.rates.Latest(ctx, userID, "sync:gmail")
	suite.ErrorIs(err, domain.ErrNotFound)

	suite.Require().NoError(suite.rates.Insert(ctx, &domain.RateLimitCounter{
		UserID:        userID,
		Endpoint:      "sync:gmail",
		WindowStart:   windowStart,
		Count:         1,
		LastRequestAt: windowStart,
	}))
	applied, err := suite.rates.Increment(ctx, userID, "sync:gmail", windowStart, time.Now(), 5)
	suite.Require().NoError(err)
	suite.True(applied)

	counter, err := suite.rates.Latest(ctx, userID, "sync:gmail")
	suite.Require().NoError(err)
	suite.Equal(2, counter.Count)
	suite.Nil(counter.BlockedUntil)

	until := time.Now().Add(15 * time.Minute)
	suite.Require().NoError(suite.rates.Block(ctx, userID, "sync:gmail", windowStart, until))

	counter, err = suite.rates.Latest(ctx, userID, "sync:gmail")
	suite.Require().NoError(err)
	suite.Require().NotNil(counter.BlockedUntil)
	suite.WithinDuration(until, *counter.BlockedUntil, time.Second)
}

func (suite *StorageSuite) TestRateLimitIncrementStopsAtMax() {
	ctx := context.Background()
	userID := uuid.New()
	windowStart := time.Now().UTC().Truncate(time.Millisecond)

	suite.Require().NoError(suite.rates.Insert(ctx, &domain.RateLimitCounter{
		UserID:        userID,
		Endpoint:      "sync:gmail",
		WindowStart:   windowStart,
		Count:         1,
		LastRequestAt: windowStart,
	}))

	applied, err := suite.rates.Increment(ctx, userID, "sync:gmail", windowStart, time.Now(), 2)
	suite.Require().NoError(err)
	suite.True(applied)

	// The row sits at the max now; further bumps must be refused so racing
	// checks cannot exceed the window
	applied, err = suite.rates.Increment(ctx, userID, "sync:gmail", windowStart, time.Now(), 2)
	suite.Require().NoError(err)
	suite.False(applied)

	counter, err := suite.rates.Latest(ctx, userID, "sync:gmail")
	suite.Require().NoError(err)
	suite.Equal(2, counter.Count)
}

func (suite *StorageSuite) TestRateLimitLatestPicksNewestWindow() {
	ctx := context.Background()
	userID := uuid.New()
	old := time.Now().UTC().Add(-10 * time.Minute)
	recent := time.Now().UTC().Add(-5 * time.Second)

	for _, ws := range []time.Time{old, recent} {
		suite.Require().NoError(suite.rates.Insert(ctx, &domain.RateLimitCounter{
			UserID:        userID,
			Endpoint:      "webhook:gmail",
			WindowStart:   ws,
			Count:         1,
			LastRequestAt: ws,
		}))
	}

	counter, err := suite.rates.Latest(ctx, userID, "webhook:gmail")
	suite.Require().NoError(err)
	suite.WithinDuration(recent, counter.WindowStart, time.Second)
}

func (suite *StorageSuite) TestRateLimitSweep() {
	ctx := context.Background()
	userID := uuid.New()
	stale := time.Now().UTC().Add(-48 * time.Hour)

	suite.Require().NoError(suite.rates.Insert(ctx, &domain.RateLimitCounter{
		UserID:        userID,
		Endpoint:      "sync:gmail",
		WindowStart:   stale,
		Count:         3,
		LastRequestAt: stale,
	}))

	deleted, err := suite.rates.Sweep(ctx, time.Now().Add(-24*time.Hour))
	suite.Require().NoError(err)
	suite.EqualValues(1, deleted)

	_, err = suite.rates.Latest(ctx, userID, "sync:gmail")
	suite.ErrorIs(err, domain.ErrNotFound)
}

func (suite *StorageSuite) TestAuditInsertAndHighRisk() {
	ctx := context.Background()
	userID := uuid.New()

	events := []domain.AuditEvent{
		{Action: domain.ActionMessageIngested, EntityType: "activity", PerformedBy: domain.ActorSystem, Risk: domain.RiskLow},
		{Action: domain.ActionReauthRequired, EntityType: "credential", UserID: &userID, PerformedBy: domain.ActorSystem, Risk: domain.RiskHigh,
			Metadata: map[string]any{"provider": "gmail"}},
		{Action: domain.ActionWebhookSecretRejected, EntityType: "webhook", PerformedBy: domain.ActorSystem, Risk: domain.RiskCritical},
	}
	for i := range events {
		events[i].CreatedAt = time.Now()
		suite.Require().NoError(suite.audit.Insert(ctx, &events[i]))
	}

	highRisk, err := suite.audit.HighRisk(ctx, time.Now().Add(-time.Hour), 10)
	suite.Require().NoError(err)
	suite.Len(highRisk, 2)
	for _, e := range highRisk {
		suite.Contains([]domain.RiskLevel{domain.RiskHigh, domain.RiskCritical}, e.Risk)
	}
}

func (suite *StorageSuite) TestFindOrCreateContactIdempotent() {
	ctx := context.Background()

	first, err := suite.records.FindOrCreateContact(ctx, "Ada@Client.IO", "Ada Lovelace")
	suite.Require().NoError(err)
	suite.Equal("ada@client.io", first.Email)

	second, err := suite.records.FindOrCreateContact(ctx, "ada@client.io", "A. Lovelace")
	suite.Require().NoError(err)
	suite.Equal(first.ContactID, second.ContactID)

	var count int
	err = suite.postgresDB.QueryRow(`SELECT COUNT(*) FROM contacts`).Scan(&count)
	suite.NoError(err)
	suite.Equal(1, count)
}

func (suite *StorageSuite) TestEnsureLeadIdempotent() {
	ctx := context.Background()
	contact, err := suite.records.FindOrCreateContact(ctx, "bob@client.io", "Bob")
	suite.Require().NoError(err)

	first, err := suite.records.EnsureLead(ctx, contact.ContactID, domain.ProviderGmail)
	suite.Require().NoError(err)
	second, err := suite.records.EnsureLead(ctx, contact.ContactID, domain.ProviderOutlook)
	suite.Require().NoError(err)

	suite.Equal(first.LeadID, second.LeadID)
	suite.Equal(domain.ProviderGmail, second.Source)
}

func (suite *StorageSuite) TestActivityDuplicateInsertIgnored() {
	ctx := context.Background()
	contact, err := suite.records.FindOrCreateContact(ctx, "carol@client.io", "Carol")
	suite.Require().NoError(err)
	lead, err := suite.records.EnsureLead(ctx, contact.ContactID, domain.ProviderGmail)
	suite.Require().NoError(err)

	activity := &domain.Activity{
		ActivityID:  uuid.New(),
		ContactID:   contact.ContactID,
		LeadID:      lead.LeadID,
		UserID:      uuid.New(),
		Channel:     domain.ProviderGmail,
		ExternalID:  "msg-dup",
		FromAddress: "carol@client.io",
		Subject:     "Hello",
		Body:        "A body long enough to matter.",
		ReceivedAt:  time.Now(),
	}
	suite.Require().NoError(suite.records.CreateActivity(ctx, activity))

	// Retried ingestion of the same provider message is a silent no-op
	duplicate := *activity
	duplicate.ActivityID = uuid.New()
	suite.Require().NoError(suite.records.CreateActivity(ctx, &duplicate))

	var count int
	err = suite.postgresDB.QueryRow(`SELECT COUNT(*) FROM activities WHERE channel = $1 AND external_id = $2`,
		domain.ProviderGmail, "msg-dup").Scan(&count)
	suite.NoError(err)
	suite.Equal(1, count)

	got, err := suite.records.GetActivity(ctx, activity.ActivityID)
	suite.Require().NoError(err)
	suite.Equal("msg-dup", got.ExternalID)
}
