package engine_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agencyline/internal/domain"
	"agencyline/internal/engine"
	"agencyline/internal/repo"
)

func TestCreateUserAndLogin(t *testing.T) {
	env := newTestEnv(t)
	u, err := env.Engine.CreateUser(env.Ctx, env.Admin, engine.UserInput{
		Name: "Priya", Email: " Priya@Client.test ", Password: "hunter22", Role: domain.RoleClient,
	})
	require.NoError(t, err)
	assert.Equal(t, "priya@client.test", u.Email)
	assert.NotEqual(t, "hunter22", u.PasswordHash)

	got, err := env.Engine.Login(env.Ctx, "PRIYA@client.test", "hunter22")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = env.Engine.Login(env.Ctx, "priya@client.test", "wrong-pass")
	require.True(t, errors.Is(err, engine.ErrInvalidCredentials))
	_, err = env.Engine.Login(env.Ctx, "nobody@client.test", "hunter22")
	require.True(t, errors.Is(err, engine.ErrInvalidCredentials))

	_, err = env.Engine.CreateUser(env.Ctx, env.Admin, engine.UserInput{Name: "Dup", Email: "priya@client.test", Password: "hunter22", Role: domain.RoleClient})
	require.True(t, errors.Is(err, repo.ErrConflict))

	_, err = env.Engine.CreateUser(env.Ctx, env.Dev1, engine.UserInput{Name: "X", Email: "x@client.test", Password: "hunter22", Role: domain.RoleAdmin})
	requireForbidden(t, err)
}

func TestCreateUserValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := map[string]engine.UserInput{
		"name":     {Email: "a@b.test", Password: "hunter22", Role: domain.RoleClient},
		"email":    {Name: "A", Email: "not-an-email", Password: "hunter22", Role: domain.RoleClient},
		"password": {Name: "A", Email: "a@b.test", Password: "123", Role: domain.RoleClient},
		"role":     {Name: "A", Email: "a@b.test", Password: "hunter22", Role: "owner"},
	}
	for field, in := range cases {
		_, err := env.Engine.CreateUser(env.Ctx, env.Admin, in)
		requireInvalid(t, err, field)
	}
}

func TestUpdateUserKeepsRole(t *testing.T) {
	env := newTestEnv(t)
	got, err := env.Engine.UpdateUser(env.Ctx, env.Admin, env.Client1.ID, engine.UserUpdate{
		Name: ptr("Cleo Ltd"), GSTIN: ptr("29ABCDE1234F1Z5"), Password: ptr("new-password"),
	})
	require.NoError(t, err)
	assert.Equal(t, "Cleo Ltd", got.Name)
	assert.Equal(t, "29ABCDE1234F1Z5", got.GSTIN)

	_, err = env.Engine.Login(env.Ctx, env.Client1.Email, "new-password")
	require.NoError(t, err)

	_, err = env.Engine.UpdateUser(env.Ctx, env.Admin, env.Client1.ID, engine.UserUpdate{Role: ptr(domain.RoleAdmin)})
	requireInvalid(t, err, "role")

	_, err = env.Engine.UpdateUser(env.Ctx, env.Admin, env.Client1.ID, engine.UserUpdate{Email: ptr(env.Client2.Email)})
	require.True(t, errors.Is(err, repo.ErrConflict))

	users, err := env.Engine.ListUsers(env.Ctx, env.Admin, domain.RoleClient)
	require.NoError(t, err)
	assert.Len(t, users, 2)
}

func TestEnsureAdmin(t *testing.T) {
	env := newTestEnv(t)
	_, created, err := env.Engine.EnsureAdmin(env.Ctx, "Root", "root@agency.test", "")
	require.NoError(t, err)
	assert.False(t, created, "an admin already exists")
}

func TestOnboardCreatesClientAndWebsite(t *testing.T) {
	env := newTestEnv(t)
	u, site, err := env.Engine.Onboard(env.Ctx, engine.OnboardInput{
		Name: "Nadia", Email: "nadia@bakery.test", Password: "croissant",
		WebsiteName: "Bakery", WebsiteURL: "bakery.test",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.RoleClient, u.Role)
	assert.Equal(t, "https://bakery.test", site.URL)
	assert.Equal(t, u.ID, site.ClientID)

	sites, err := env.Engine.ListWebsites(env.Ctx, u)
	require.NoError(t, err)
	require.Len(t, sites, 1)

	_, _, err = env.Engine.Onboard(env.Ctx, engine.OnboardInput{
		Name: "Nadia", Email: "nadia@bakery.test", Password: "croissant", WebsiteName: "Again", WebsiteURL: "again.test",
	})
	require.True(t, errors.Is(err, repo.ErrConflict))

	env.Engine.Config.Onboarding.Enabled = false
	_, _, err = env.Engine.Onboard(env.Ctx, engine.OnboardInput{Name: "Z", Email: "z@z.test", Password: "zzzzzzzz", WebsiteName: "Z", WebsiteURL: "z.test"})
	requireForbidden(t, err)
}

func TestAPIKeys(t *testing.T) {
	env := newTestEnv(t)
	key, raw, err := env.Engine.CreateAPIKey(env.Ctx, env.Admin, env.Dev1.ID, "ci")
	require.NoError(t, err)
	assert.NotEmpty(t, raw)
	assert.NotEqual(t, raw, key.KeyHash)

	owner, err := env.Engine.ResolveAPIKey(env.Ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, env.Dev1.ID, owner.ID)

	keys, err := env.Engine.ListAPIKeys(env.Ctx, env.Admin, env.Dev1.ID)
	require.NoError(t, err)
	require.Len(t, keys, 1)

	_, _, err = env.Engine.CreateAPIKey(env.Ctx, env.Dev1, env.Dev1.ID, "mine")
	requireForbidden(t, err)

	require.NoError(t, env.Engine.DeleteAPIKey(env.Ctx, env.Admin, key.ID))
	_, err = env.Engine.ResolveAPIKey(env.Ctx, raw)
	require.True(t, errors.Is(err, repo.ErrNotFound))
}
