package gsc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/searchconsole/v1"

	"agencyline/internal/config"
	"agencyline/internal/domain"
)

func TestStatsFromRows(t *testing.T) {
	rows := []*searchconsole.ApiDataRow{
		{Keys: []string{"2024-03-01"}, Clicks: 12, Impressions: 340, Ctr: 0.035, Position: 7.2},
		{Keys: []string{"not-a-date"}, Clicks: 1},
		nil,
		{Keys: nil},
		{Keys: []string{"2024-03-02"}, Clicks: 2.6, Impressions: 10.4},
	}
	stats := statsFromRows("site-1", rows)
	require.Len(t, stats, 2)
	assert.Equal(t, domain.DailyStat{WebsiteID: "site-1", Date: "2024-03-01", Clicks: 12, Impressions: 340, CTR: 0.035, Position: 7.2}, stats[0])
	assert.Equal(t, int64(3), stats[1].Clicks)
	assert.Equal(t, int64(10), stats[1].Impressions)
}

func TestFetchWithoutConfigurationIsSkipped(t *testing.T) {
	c, err := New(config.GSCConfig{})
	require.NoError(t, err)
	_, err = c.FetchDailyStats(context.Background(), domain.Website{ID: "s", GSCPropertyURL: "sc-domain:example.com"}, time.Now(), time.Now())
	assert.True(t, errors.Is(err, ErrNotConfigured))
	_, err = c.FetchDailyStats(context.Background(), domain.Website{ID: "s", GoogleCredentials: "{}"}, time.Now(), time.Now())
	assert.True(t, errors.Is(err, ErrNotConfigured))
}

func TestNewFailsOnMissingCredentialsFile(t *testing.T) {
	_, err := New(config.GSCConfig{CredentialsFile: "/does/not/exist.json"})
	require.Error(t, err)
}
