// Package gsc pulls daily search performance from Google Search Console.
package gsc

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/searchconsole/v1"

	"agencyline/internal/config"
	"agencyline/internal/domain"
)

// ErrNotConfigured is returned for websites without a property URL or credentials.
var ErrNotConfigured = errors.New("search console not configured for website")

const dateLayout = "2006-01-02"

type Client struct {
	fallbackCredentials []byte
}

// New loads the optional shared service-account credentials.
func New(cfg config.GSCConfig) (*Client, error) {
	c := &Client{}
	if cfg.CredentialsFile != "" {
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read search console credentials: %w", err)
		}
		c.fallbackCredentials = data
	}
	return c, nil
}

// FetchDailyStats queries one row per day between start and end inclusive.
func (c *Client) FetchDailyStats(ctx context.Context, site domain.Website, start, end time.Time) ([]domain.DailyStat, error) {
	creds := []byte(site.GoogleCredentials)
	if len(creds) == 0 {
		creds = c.fallbackCredentials
	}
	if site.GSCPropertyURL == "" || len(creds) == 0 {
		return nil, ErrNotConfigured
	}
	svc, err := searchconsole.NewService(ctx,
		option.WithCredentialsJSON(creds),
		option.WithScopes(searchconsole.WebmastersReadonlyScope),
	)
	if err != nil {
		return nil, fmt.Errorf("search console client: %w", err)
	}
	resp, err := svc.Searchanalytics.Query(site.GSCPropertyURL, &searchconsole.SearchAnalyticsQueryRequest{
		StartDate:  start.UTC().Format(dateLayout),
		EndDate:    end.UTC().Format(dateLayout),
		Dimensions: []string{"date"},
		RowLimit:   1000,
	}).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("search analytics query for %s: %w", site.GSCPropertyURL, err)
	}
	return statsFromRows(site.ID, resp.Rows), nil
}

func statsFromRows(websiteID string, rows []*searchconsole.ApiDataRow) []domain.DailyStat {
	res := make([]domain.DailyStat, 0, len(rows))
	for _, row := range rows {
		if row == nil || len(row.Keys) == 0 {
			continue
		}
		if _, err := time.Parse(dateLayout, row.Keys[0]); err != nil {
			continue
		}
		res = append(res, domain.DailyStat{
			WebsiteID:   websiteID,
			Date:        row.Keys[0],
			Clicks:      int64(math.Round(row.Clicks)),
			Impressions: int64(math.Round(row.Impressions)),
			CTR:         row.Ctr,
			Position:    row.Position,
		})
	}
	return res
}
