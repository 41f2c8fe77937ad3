package engine_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"agencyline/internal/config"
	"agencyline/internal/db"
	"agencyline/internal/domain"
	"agencyline/internal/engine"
	"agencyline/internal/engine/auth"
	"agencyline/internal/migrate"
	"agencyline/internal/scanner"
)

type fakeFiles struct {
	mu      sync.Mutex
	removed []string
	fail    map[string]bool
}

func (f *fakeFiles) Remove(_ context.Context, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, ref)
	if f.fail[ref] {
		return fmt.Errorf("remove %s: permission denied", ref)
	}
	return nil
}

type fakeScanner struct {
	reports map[string]scanner.Report
}

func (s fakeScanner) Scan(_ context.Context, url string) (scanner.Report, error) {
	r, ok := s.reports[url]
	if !ok {
		return scanner.Report{URL: url, StatusCode: 503}, fmt.Errorf("scan %s: status 503", url)
	}
	return r, nil
}

type fakeStats struct {
	rows []domain.DailyStat
}

func (s fakeStats) FetchDailyStats(_ context.Context, site domain.Website, _, _ time.Time) ([]domain.DailyStat, error) {
	if site.GSCPropertyURL == "broken" {
		return nil, errors.New("quota exceeded")
	}
	return s.rows, nil
}

type testEnv struct {
	Engine  engine.Engine
	Ctx     context.Context
	Files   *fakeFiles
	Admin   domain.User
	Client1 domain.User
	Client2 domain.User
	Dev1    domain.User
	Dev2    domain.User
	W1      domain.Website
	W2      domain.Website
}

var testNow = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	ctx := context.Background()
	conn, dialect, err := db.Open(ctx, db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn, dialect))

	files := &fakeFiles{fail: map[string]bool{}}
	eng := engine.New(conn, dialect, config.Default(), nil)
	eng.Now = func() time.Time { return testNow }
	eng.Files = files

	env := testEnv{Engine: eng, Ctx: ctx, Files: files}
	env.Admin = env.seedUser(t, "admin", "Ada", domain.RoleAdmin)
	env.Client1 = env.seedUser(t, "client-1", "Cleo", domain.RoleClient)
	env.Client2 = env.seedUser(t, "client-2", "Cyrus", domain.RoleClient)
	env.Dev1 = env.seedUser(t, "dev-1", "Dana", domain.RoleDeveloper)
	env.Dev2 = env.seedUser(t, "dev-2", "Deniz", domain.RoleDeveloper)

	env.W1, err = eng.CreateWebsite(ctx, env.Admin, engine.WebsiteInput{
		Name: "Shop", URL: "shop.test", ClientID: env.Client1.ID, DeveloperIDs: []string{env.Dev1.ID},
		Hosting: domain.HostingDetails{Provider: "acme", FTPUser: "shop", FTPPassword: "s3cret"},
	})
	require.NoError(t, err)
	env.W2, err = eng.CreateWebsite(ctx, env.Admin, engine.WebsiteInput{
		Name: "Blog", URL: "https://blog.test", ClientID: env.Client2.ID, DeveloperIDs: []string{env.Dev1.ID, env.Dev2.ID},
	})
	require.NoError(t, err)
	return env
}

// seedUser inserts directly to skip password hashing.
func (env testEnv) seedUser(t *testing.T, id, name string, role domain.Role) domain.User {
	t.Helper()
	ts := domain.FormatTime(testNow)
	u := domain.User{ID: id, Name: name, Email: id + "@agency.test", Role: role, PasswordHash: "-", CreatedAt: ts, UpdatedAt: ts}
	require.NoError(t, env.Engine.Repo.InsertUser(env.Ctx, u))
	return u
}

func (env testEnv) create(t *testing.T, actor domain.User, site domain.Website, typ domain.WorkLogType, mods ...func(*engine.WorkLogCreateOptions)) domain.WorkLog {
	t.Helper()
	opts := engine.WorkLogCreateOptions{WebsiteID: site.ID, Type: typ, Description: "did " + string(typ)}
	for _, mod := range mods {
		mod(&opts)
	}
	wl, err := env.Engine.CreateWorkLog(env.Ctx, actor, opts)
	require.NoError(t, err)
	return wl
}

func ptr[T any](v T) *T { return &v }

func requireInvalid(t *testing.T, err error, field string) {
	t.Helper()
	var ve domain.ValidationError
	require.True(t, errors.As(err, &ve), "expected validation error, got %v", err)
	if field != "" {
		require.Equal(t, field, ve.Field)
	}
}

func requireForbidden(t *testing.T, err error) {
	t.Helper()
	var fe auth.ForbiddenError
	require.True(t, errors.As(err, &fe), "expected forbidden, got %v", err)
}
