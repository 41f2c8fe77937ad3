package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"agencyline/internal/domain"
	"agencyline/internal/engine/auth"
	"agencyline/internal/events"
	"agencyline/internal/repo"
)

type WebsiteInput struct {
	Name              string
	URL               string
	ClientID          string
	DeveloperIDs      []string
	GSCPropertyURL    string
	GoogleCredentials string
	Config            map[string]any
	Hosting           domain.HostingDetails
}

func (e Engine) newWebsite(in WebsiteInput) (domain.Website, error) {
	if strings.TrimSpace(in.Name) == "" {
		return domain.Website{}, domain.Invalid("name", "is required")
	}
	url := domain.NormalizeURL(in.URL)
	if url == "" {
		return domain.Website{}, domain.Invalid("url", "is required")
	}
	now := e.timestamp()
	devs := in.DeveloperIDs
	if devs == nil {
		devs = []string{}
	}
	return domain.Website{
		ID:                newID(),
		Name:              strings.TrimSpace(in.Name),
		URL:               url,
		ClientID:          strings.TrimSpace(in.ClientID),
		DeveloperIDs:      devs,
		GSCPropertyURL:    strings.TrimSpace(in.GSCPropertyURL),
		GoogleCredentials: in.GoogleCredentials,
		SeoData:           domain.SeoData{H1: []string{}},
		Config:            in.Config,
		Hosting:           in.Hosting,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// checkAssignees verifies the client and developers exist with the matching roles.
func checkAssignees(ctx context.Context, r repo.Repo, clientID string, developerIDs []string) error {
	if clientID != "" {
		u, err := r.GetUser(ctx, clientID)
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Invalid("clientId", "user %s does not exist", clientID)
		}
		if err != nil {
			return err
		}
		if u.Role != domain.RoleClient {
			return domain.Invalid("clientId", "user %s is a %s, not a client", clientID, u.Role)
		}
	}
	for _, id := range developerIDs {
		u, err := r.GetUser(ctx, id)
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Invalid("developers", "user %s does not exist", id)
		}
		if err != nil {
			return err
		}
		if u.Role != domain.RoleDeveloper {
			return domain.Invalid("developers", "user %s is a %s, not a developer", id, u.Role)
		}
	}
	return nil
}

func (e Engine) CreateWebsite(ctx context.Context, actor domain.User, in WebsiteInput) (domain.Website, error) {
	if err := auth.Require(actor, auth.PermWebsiteManage); err != nil {
		return domain.Website{}, err
	}
	site, err := e.newWebsite(in)
	if err != nil {
		return domain.Website{}, err
	}
	err = e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		if err := checkAssignees(ctx, r, site.ClientID, site.DeveloperIDs); err != nil {
			return err
		}
		if err := r.InsertWebsite(ctx, site); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, "website.created", "website", site.ID, actor.ID, events.EventPayload{"url": site.URL})
	})
	if err != nil {
		return domain.Website{}, err
	}
	return e.Repo.GetWebsite(ctx, site.ID)
}

// GetWebsite returns a website the actor may see.
func (e Engine) GetWebsite(ctx context.Context, actor domain.User, id string) (domain.Website, error) {
	site, err := e.Repo.GetWebsite(ctx, id)
	if err != nil {
		return domain.Website{}, err
	}
	if err := auth.RequireWebsite(actor, site, auth.PermWebsiteRead); err != nil {
		return domain.Website{}, err
	}
	return redactFor(actor, site), nil
}

// ListWebsites returns every site for admins, owned sites for clients and
// assigned sites for developers.
func (e Engine) ListWebsites(ctx context.Context, actor domain.User) ([]domain.Website, error) {
	if err := auth.Require(actor, auth.PermWebsiteRead); err != nil {
		return nil, err
	}
	var f repo.WebsiteFilter
	switch actor.Role {
	case domain.RoleClient:
		f.ClientID = actor.ID
	case domain.RoleDeveloper:
		f.DeveloperID = actor.ID
	}
	sites, err := e.Repo.ListWebsites(ctx, f)
	if err != nil {
		return nil, err
	}
	for i := range sites {
		sites[i] = redactFor(actor, sites[i])
	}
	return sites, nil
}

// redactFor hides hosting credentials from anyone but admins and the owner.
func redactFor(actor domain.User, site domain.Website) domain.Website {
	if actor.Role == domain.RoleAdmin || auth.OwnsWebsite(actor, site) {
		return site
	}
	site.Hosting.FTPPassword = ""
	return site
}

type WebsiteUpdate struct {
	Name              *string
	URL               *string
	ClientID          *string
	DeveloperIDs      *[]string
	GSCPropertyURL    *string
	GoogleCredentials *string
	Config            map[string]any
	Hosting           *domain.HostingDetails
}

func (e Engine) UpdateWebsite(ctx context.Context, actor domain.User, id string, upd WebsiteUpdate) (domain.Website, error) {
	if err := auth.Require(actor, auth.PermWebsiteManage); err != nil {
		return domain.Website{}, err
	}
	site, err := e.Repo.GetWebsite(ctx, id)
	if err != nil {
		return domain.Website{}, err
	}
	var changed []string
	if upd.Name != nil {
		if strings.TrimSpace(*upd.Name) == "" {
			return domain.Website{}, domain.Invalid("name", "is required")
		}
		site.Name = strings.TrimSpace(*upd.Name)
		changed = append(changed, "name")
	}
	if upd.URL != nil {
		url := domain.NormalizeURL(*upd.URL)
		if url == "" {
			return domain.Website{}, domain.Invalid("url", "is required")
		}
		site.URL = url
		changed = append(changed, "url")
	}
	if upd.ClientID != nil {
		site.ClientID = strings.TrimSpace(*upd.ClientID)
		changed = append(changed, "client")
	}
	if upd.DeveloperIDs != nil {
		site.DeveloperIDs = append([]string{}, *upd.DeveloperIDs...)
		changed = append(changed, "developers")
	}
	if upd.GSCPropertyURL != nil {
		site.GSCPropertyURL = strings.TrimSpace(*upd.GSCPropertyURL)
		changed = append(changed, "gscPropertyUrl")
	}
	if upd.GoogleCredentials != nil {
		site.GoogleCredentials = *upd.GoogleCredentials
		changed = append(changed, "googleCredentials")
	}
	if upd.Config != nil {
		site.Config = upd.Config
		changed = append(changed, "config")
	}
	if upd.Hosting != nil {
		site.Hosting = *upd.Hosting
		changed = append(changed, "hostingDetails")
	}
	site.UpdatedAt = e.timestamp()
	err = e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		if err := checkAssignees(ctx, r, site.ClientID, site.DeveloperIDs); err != nil {
			return err
		}
		if err := r.UpdateWebsite(ctx, site); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, "website.updated", "website", site.ID, actor.ID, events.EventPayload{"fields": changed})
	})
	if err != nil {
		return domain.Website{}, err
	}
	return e.Repo.GetWebsite(ctx, site.ID)
}

// UpdateHosting replaces the hosting details; open to admins and the owning client.
func (e Engine) UpdateHosting(ctx context.Context, actor domain.User, id string, h domain.HostingDetails) (domain.Website, error) {
	site, err := e.Repo.GetWebsite(ctx, id)
	if err != nil {
		return domain.Website{}, err
	}
	if err := auth.RequireWebsite(actor, site, auth.PermWebsiteHosting); err != nil {
		return domain.Website{}, err
	}
	site.Hosting = h
	site.UpdatedAt = e.timestamp()
	err = e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		if err := r.UpdateWebsite(ctx, site); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, "website.updated", "website", site.ID, actor.ID, events.EventPayload{"fields": []string{"hostingDetails"}})
	})
	if err != nil {
		return domain.Website{}, err
	}
	return site, nil
}

// DeleteWebsite removes the site with everything attached to it, then the
// attachment files of its work logs.
func (e Engine) DeleteWebsite(ctx context.Context, actor domain.User, id string) error {
	if err := auth.Require(actor, auth.PermWebsiteManage); err != nil {
		return err
	}
	var refs []string
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		if _, err := r.GetWebsite(ctx, id); err != nil {
			return err
		}
		var err error
		if refs, err = r.WebsiteAttachments(ctx, id); err != nil {
			return err
		}
		if err := r.DeleteWebsite(ctx, id); err != nil {
			return err
		}
		total := len(refs)
		if refs, err = unreferenced(ctx, r, refs); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, "website.deleted", "website", id, actor.ID, events.EventPayload{"attachments": total})
	})
	if err != nil {
		return err
	}
	_ = e.removeFiles(ctx, "website "+id, refs)
	return nil
}

// ScanWebsite runs the scanner against one site on demand.
func (e Engine) ScanWebsite(ctx context.Context, actor domain.User, id string) (domain.Website, error) {
	if err := auth.Require(actor, auth.PermWebsiteScan); err != nil {
		return domain.Website{}, err
	}
	site, err := e.Repo.GetWebsite(ctx, id)
	if err != nil {
		return domain.Website{}, err
	}
	return e.scanSite(ctx, site, actor.ID)
}

func (e Engine) scanSite(ctx context.Context, site domain.Website, actorID string) (domain.Website, error) {
	if e.Scanner == nil {
		return domain.Website{}, errors.New("scanner not configured")
	}
	report, err := e.Scanner.Scan(ctx, site.URL)
	if err != nil {
		e.observeScan("error")
		return domain.Website{}, fmt.Errorf("scan website %s: %w: %w", site.ID, ErrScanFailed, err)
	}
	ts := e.timestamp()
	err = e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		if err := r.RecordScan(ctx, site.ID, report.Data, report.Score, ts); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, "website.scanned", "website", site.ID, actorID, events.EventPayload{
			"score":       report.Score,
			"status_code": report.StatusCode,
		})
	})
	if err != nil {
		e.observeScan("error")
		return domain.Website{}, err
	}
	e.observeScan("ok")
	site.SeoData = report.Data
	site.SeoHealthScore = report.Score
	site.LastSeoScan = ts
	site.UpdatedAt = ts
	return site, nil
}

type ScanSummary struct {
	Scanned int `json:"scanned"`
	Failed  int `json:"failed"`
}

// ScanAll scans every website one after another. A failing site is logged
// and counted; it never stops the batch.
func (e Engine) ScanAll(ctx context.Context) (ScanSummary, error) {
	var sum ScanSummary
	sites, err := e.Repo.ListWebsites(ctx, repo.WebsiteFilter{})
	if err != nil {
		return sum, err
	}
	for _, site := range sites {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if _, err := e.scanSite(ctx, site, "system"); err != nil {
			sum.Failed++
			e.logger().WarnContext(ctx, "website scan failed", "website", site.ID, "url", site.URL, "error", err)
			continue
		}
		sum.Scanned++
	}
	e.logger().InfoContext(ctx, "website scan finished", "scanned", sum.Scanned, "failed", sum.Failed)
	return sum, nil
}

func (e Engine) observeScan(outcome string) {
	if e.Observer != nil {
		e.Observer.ObserveScan(outcome)
	}
}

func (e Engine) statsWindowStart() time.Time {
	days := e.config().GSC.LookbackDays
	if days <= 0 {
		days = 30
	}
	return e.now().UTC().AddDate(0, 0, -days)
}

// WebsiteStats returns the daily search statistics of the lookback window, oldest first.
func (e Engine) WebsiteStats(ctx context.Context, actor domain.User, id string) ([]domain.DailyStat, error) {
	site, err := e.Repo.GetWebsite(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := auth.RequireWebsite(actor, site, auth.PermStatsRead); err != nil {
		return nil, err
	}
	return e.Repo.ListDailyStats(ctx, site.ID, e.statsWindowStart().Format("2006-01-02"))
}

// SyncStats pulls the lookback window for every website with a Search
// Console property and upserts the rows. It returns the number of rows stored.
func (e Engine) SyncStats(ctx context.Context) (int, error) {
	if e.Stats == nil {
		return 0, nil
	}
	sites, err := e.Repo.ListWebsites(ctx, repo.WebsiteFilter{})
	if err != nil {
		return 0, err
	}
	start, end := e.statsWindowStart(), e.now().UTC()
	total := 0
	for _, site := range sites {
		if site.GSCPropertyURL == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
		stats, err := e.Stats.FetchDailyStats(ctx, site, start, end)
		if err != nil {
			e.logger().WarnContext(ctx, "search stats sync failed", "website", site.ID, "error", err)
			continue
		}
		err = e.inTx(ctx, func(_ *sql.Tx, r repo.Repo) error {
			for _, s := range stats {
				s.WebsiteID = site.ID
				if err := r.UpsertDailyStat(ctx, s); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			e.logger().WarnContext(ctx, "search stats store failed", "website", site.ID, "error", err)
			continue
		}
		total += len(stats)
	}
	if e.Observer != nil {
		e.Observer.AddStatsSynced(total)
	}
	return total, nil
}
