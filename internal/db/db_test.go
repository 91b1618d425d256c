package db

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedContest(t *testing.T, database *DB, name string) *Contest {
	t.Helper()
	c, err := database.UpsertContest(t.Context(), Contest{
		Name:                        name,
		Description:                 "Contest " + name,
		AllowPasswordAuthentication: true,
	})
	require.NoError(t, err)
	return c
}

func TestContestUpsertAndGet(t *testing.T) {
	database := newTestDatabase(t)
	ctx := t.Context()

	got, err := database.GetContestByName(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	created := seedContest(t, database, "ioi")
	assert.NotZero(t, created.ID)
	assert.True(t, created.AllowPasswordAuthentication)
	assert.Empty(t, created.OpenIDConnectInfo)

	updated, err := database.UpsertContest(ctx, Contest{
		Name:                      "ioi",
		Description:               "renamed",
		IPRestriction:             true,
		BlockHiddenParticipations: true,
		OpenIDConnectInfo:         `{"op_info":{}}`,
	})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID, "upsert must keep the row identity")
	assert.Equal(t, "renamed", updated.Description)
	assert.False(t, updated.AllowPasswordAuthentication)
	assert.True(t, updated.IPRestriction)
	assert.True(t, updated.BlockHiddenParticipations)
	assert.Equal(t, `{"op_info":{}}`, updated.OpenIDConnectInfo)

	seedContest(t, database, "boi")
	all, err := database.ListContests(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "boi", all[0].Name)
	assert.Equal(t, "ioi", all[1].Name)
}

func TestUserCRUD(t *testing.T) {
	database := newTestDatabase(t)
	ctx := t.Context()

	u, err := database.CreateUser(ctx, User{
		Username:  "alice",
		FirstName: "Alice",
		LastName:  "Liddell",
		Password:  "plaintext:pw",
	})
	require.NoError(t, err)
	assert.Equal(t, AuthSourceLocal, u.AuthSource, "auth source defaults to local")
	assert.False(t, u.Federated())
	assert.Empty(t, u.Email)

	_, err = database.CreateUser(ctx, User{Username: "alice", Password: "plaintext:x"})
	assert.Error(t, err, "duplicate username must fail")

	require.NoError(t, database.SetUserPassword(ctx, "alice", "plaintext:new"))
	got, err := database.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "plaintext:new", got.Password)

	assert.Error(t, database.SetUserPassword(ctx, "nobody", "plaintext:x"))

	missing, err := database.GetUserByUsername(ctx, "nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestEnsureUser(t *testing.T) {
	database := newTestDatabase(t)
	ctx := t.Context()

	first, created, err := database.EnsureUser(ctx, User{
		Username:   "u123",
		FirstName:  "Ana",
		LastName:   "Lee",
		Email:      "ana@example.org",
		Password:   "plaintext:one",
		AuthSource: AuthSourceOIDC,
	})
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, first.Federated())
	assert.Equal(t, "ana@example.org", first.Email)

	second, created, err := database.EnsureUser(ctx, User{
		Username:  "u123",
		FirstName: "Other",
		Password:  "plaintext:two",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Ana", second.FirstName, "existing account must not be overwritten")
	assert.Equal(t, "plaintext:one", second.Password)
}

func TestEnsureUserConcurrent(t *testing.T) {
	database := newTestDatabase(t)
	ctx := t.Context()

	const workers = 8
	var wg sync.WaitGroup
	ids := make([]int64, workers)
	errs := make([]error, workers)
	createdCount := make([]bool, workers)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, created, err := database.EnsureUser(ctx, User{Username: "racer", Password: "plaintext:x"})
			errs[i] = err
			createdCount[i] = created
			if u != nil {
				ids[i] = u.ID
			}
		}()
	}
	wg.Wait()

	winners := 0
	for i := range workers {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
		if createdCount[i] {
			winners++
		}
	}
	assert.Equal(t, 1, winners, "exactly one caller creates the account")
}

func TestParticipations(t *testing.T) {
	database := newTestDatabase(t)
	ctx := t.Context()

	c := seedContest(t, database, "ioi")
	u, err := database.CreateUser(ctx, User{Username: "bob", Password: "plaintext:pw"})
	require.NoError(t, err)

	p, err := database.FindParticipation(ctx, c.ID, "bob")
	require.NoError(t, err)
	assert.Nil(t, p, "no participation before creation")

	p, created, err := database.EnsureParticipation(ctx, c.ID, u.ID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Empty(t, p.Password)
	assert.False(t, p.Hidden)
	assert.Empty(t, p.IP)

	again, created, err := database.EnsureParticipation(ctx, c.ID, u.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, p.ID, again.ID)

	_, err = database.UpsertParticipation(ctx, Participation{
		ContestID: c.ID,
		UserID:    u.ID,
		Password:  "plaintext:override",
		Hidden:    true,
		IP:        StringSlice{"10.0.0.0/8", "192.168.1.5/32"},
	})
	require.NoError(t, err)

	found, err := database.FindParticipation(ctx, c.ID, "bob")
	require.NoError(t, err)
	require.NotNil(t, found)
	require.NotNil(t, found.User)
	assert.Equal(t, p.ID, found.ID)
	assert.Equal(t, "bob", found.User.Username)
	assert.Equal(t, "plaintext:override", found.Password)
	assert.True(t, found.Hidden)
	assert.Equal(t, StringSlice{"10.0.0.0/8", "192.168.1.5/32"}, found.IP)

	other := seedContest(t, database, "boi")
	none, err := database.FindParticipation(ctx, other.ID, "bob")
	require.NoError(t, err)
	assert.Nil(t, none, "participations are scoped to one contest")

	list, err := database.ListParticipations(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "bob", list[0].User.Username)
}

func TestEnsureParticipationConcurrent(t *testing.T) {
	database := newTestDatabase(t)
	ctx := t.Context()

	c := seedContest(t, database, "ioi")
	u, err := database.CreateUser(ctx, User{Username: "carol", Password: "plaintext:pw"})
	require.NoError(t, err)

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, errs[i] = database.EnsureParticipation(ctx, c.ID, u.ID)
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	list, err := database.ListParticipations(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1, "at most one participation per user and contest")
}

func TestAuditLog(t *testing.T) {
	database := newTestDatabase(t)
	ctx := t.Context()

	require.NoError(t, database.LogAudit(ctx, "ioi", "bob", "login_failed", "invalid credentials"))
	require.NoError(t, database.LogAudit(ctx, "ioi", "bob", "login", "password"))

	logs, err := database.GetAuditLogs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "login", logs[0].Action, "newest first")
	assert.Equal(t, "ioi", logs[1].Contest)
	assert.Equal(t, "bob", logs[1].Username)
}
