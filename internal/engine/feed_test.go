package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agencyline/internal/domain"
	"agencyline/internal/engine"
)

func ids(items []domain.WorkLog) []string {
	res := make([]string, 0, len(items))
	for _, wl := range items {
		res = append(res, wl.ID)
	}
	return res
}

func TestFeedScopesClientsToOwnedWebsites(t *testing.T) {
	env := newTestEnv(t)
	mine := env.create(t, env.Dev1, env.W1, domain.TypeLog)
	env.create(t, env.Dev1, env.W2, domain.TypeLog)
	env.create(t, env.Dev2, env.W2, domain.TypeAction)

	page, err := env.Engine.ListWorkLogs(env.Ctx, env.Client1, engine.FeedQuery{})
	require.NoError(t, err)
	assert.Equal(t, []string{mine.ID}, ids(page.Items))
	for _, wl := range page.Items {
		assert.Equal(t, env.W1.ID, wl.WebsiteID)
	}

	_, err = env.Engine.ListWorkLogs(env.Ctx, env.Client1, engine.FeedQuery{WebsiteID: env.W2.ID})
	requireForbidden(t, err)
	_, err = env.Engine.ListWorkLogs(env.Ctx, env.Client1, engine.FeedQuery{WebsiteID: "missing"})
	requireForbidden(t, err)

	page, err = env.Engine.ListWorkLogs(env.Ctx, env.Client1, engine.FeedQuery{WebsiteID: env.W1.ID})
	require.NoError(t, err)
	assert.Len(t, page.Items, 1)
}

func TestFeedScopesDevelopersToOwnEntries(t *testing.T) {
	env := newTestEnv(t)
	a := env.create(t, env.Dev1, env.W1, domain.TypeLog)
	b := env.create(t, env.Dev1, env.W2, domain.TypeLog)
	env.create(t, env.Dev2, env.W2, domain.TypeLog)

	page, err := env.Engine.ListWorkLogs(env.Ctx, env.Dev1, engine.FeedQuery{})
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID, a.ID}, ids(page.Items))

	page, err = env.Engine.ListWorkLogs(env.Ctx, env.Dev1, engine.FeedQuery{WebsiteID: env.W2.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID}, ids(page.Items))

	page, err = env.Engine.ListWorkLogs(env.Ctx, env.Admin, engine.FeedQuery{})
	require.NoError(t, err)
	assert.Len(t, page.Items, 3)

	page, err = env.Engine.ListWorkLogs(env.Ctx, env.Admin, engine.FeedQuery{WebsiteID: env.W2.ID})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
}

func TestFeedFiltersAndOrder(t *testing.T) {
	env := newTestEnv(t)
	first := env.create(t, env.Dev1, env.W1, domain.TypeAction)
	second := env.create(t, env.Dev1, env.W1, domain.TypeLog)
	third := env.create(t, env.Dev1, env.W1, domain.TypeAction)
	_, err := env.Engine.UpdateWorkLog(env.Ctx, env.Dev1, first.ID, engine.WorkLogUpdate{IsStarred: ptr(true)})
	require.NoError(t, err)

	page, err := env.Engine.ListWorkLogs(env.Ctx, env.Admin, engine.FeedQuery{Type: "all"})
	require.NoError(t, err)
	assert.Equal(t, []string{third.ID, second.ID, first.ID}, ids(page.Items))

	page, err = env.Engine.ListWorkLogs(env.Ctx, env.Admin, engine.FeedQuery{Type: "action"})
	require.NoError(t, err)
	assert.Equal(t, []string{third.ID, first.ID}, ids(page.Items))

	page, err = env.Engine.ListWorkLogs(env.Ctx, env.Admin, engine.FeedQuery{StarredOnly: true})
	require.NoError(t, err)
	assert.Equal(t, []string{first.ID}, ids(page.Items))

	_, err = env.Engine.ListWorkLogs(env.Ctx, env.Admin, engine.FeedQuery{Type: "memo"})
	requireInvalid(t, err, "type")
}

func TestFeedHasMoreWhenPageIsExactlyFull(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 15; i++ {
		env.create(t, env.Dev1, env.W1, domain.TypeLog)
	}

	page, err := env.Engine.ListWorkLogs(env.Ctx, env.Admin, engine.FeedQuery{Page: 1, Limit: 15})
	require.NoError(t, err)
	assert.Len(t, page.Items, 15)
	assert.True(t, page.HasMore, "a full page always reports more, even when nothing follows")

	page, err = env.Engine.ListWorkLogs(env.Ctx, env.Admin, engine.FeedQuery{Page: 2, Limit: 15})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.False(t, page.HasMore)
}

func TestFeedPaginationDefaults(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 17; i++ {
		env.create(t, env.Dev1, env.W1, domain.TypeLog)
	}

	page, err := env.Engine.ListWorkLogs(env.Ctx, env.Admin, engine.FeedQuery{Page: 0})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 15, page.Limit)
	assert.Len(t, page.Items, 15)
	assert.True(t, page.HasMore)

	next, err := env.Engine.ListWorkLogs(env.Ctx, env.Admin, engine.FeedQuery{Page: 2})
	require.NoError(t, err)
	assert.Len(t, next.Items, 2)
	assert.False(t, next.HasMore)
	assert.NotContains(t, ids(page.Items), next.Items[0].ID)

	capped, err := env.Engine.ListWorkLogs(env.Ctx, env.Admin, engine.FeedQuery{Limit: 1000})
	require.NoError(t, err)
	assert.Equal(t, 100, capped.Limit)
	assert.Len(t, capped.Items, 17)
}
