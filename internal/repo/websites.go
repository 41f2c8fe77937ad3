package repo

import (
	"context"
	"database/sql"
	"fmt"

	"agencyline/internal/domain"
)

const websiteColumns = `id,name,url,COALESCE(client_id,''),COALESCE(gsc_property_url,''),COALESCE(google_credentials,''),seo_health_score,seo_data_json,COALESCE(last_seo_scan,''),config_json,hosting_json,created_at,updated_at`

func scanWebsite(row rowScanner) (domain.Website, error) {
	var w domain.Website
	var seoJSON, configJSON, hostingJSON string
	if err := row.Scan(&w.ID, &w.Name, &w.URL, &w.ClientID, &w.GSCPropertyURL, &w.GoogleCredentials, &w.SeoHealthScore,
		&seoJSON, &w.LastSeoScan, &configJSON, &hostingJSON, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return w, err
	}
	if err := decodeJSON(seoJSON, &w.SeoData); err != nil {
		return w, fmt.Errorf("decode seo data for website %s: %w", w.ID, err)
	}
	if w.SeoData.H1 == nil {
		w.SeoData.H1 = []string{}
	}
	if err := decodeJSON(configJSON, &w.Config); err != nil {
		return w, fmt.Errorf("decode config for website %s: %w", w.ID, err)
	}
	if err := decodeJSON(hostingJSON, &w.Hosting); err != nil {
		return w, fmt.Errorf("decode hosting for website %s: %w", w.ID, err)
	}
	w.DeveloperIDs = []string{}
	return w, nil
}

func (r Repo) InsertWebsite(ctx context.Context, w domain.Website) error {
	seo, config, hosting, err := encodeWebsiteDocs(w)
	if err != nil {
		return err
	}
	_, err = r.exec(ctx, `INSERT INTO websites(id,name,url,client_id,gsc_property_url,google_credentials,seo_health_score,seo_data_json,last_seo_scan,config_json,hosting_json,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		w.ID, w.Name, w.URL, nullable(w.ClientID), nullable(w.GSCPropertyURL), nullable(w.GoogleCredentials), w.SeoHealthScore,
		seo, nullable(w.LastSeoScan), config, hosting, w.CreatedAt, w.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert website: %w", err)
	}
	return r.SetWebsiteDevelopers(ctx, w.ID, w.DeveloperIDs)
}

// UpdateWebsite rewrites every column and the developer assignments of w.
func (r Repo) UpdateWebsite(ctx context.Context, w domain.Website) error {
	seo, config, hosting, err := encodeWebsiteDocs(w)
	if err != nil {
		return err
	}
	if err := r.execOne(ctx, "website "+w.ID, `UPDATE websites SET name=?,url=?,client_id=?,gsc_property_url=?,google_credentials=?,seo_health_score=?,seo_data_json=?,last_seo_scan=?,config_json=?,hosting_json=?,updated_at=? WHERE id=?`,
		w.Name, w.URL, nullable(w.ClientID), nullable(w.GSCPropertyURL), nullable(w.GoogleCredentials), w.SeoHealthScore,
		seo, nullable(w.LastSeoScan), config, hosting, w.UpdatedAt, w.ID); err != nil {
		return err
	}
	return r.SetWebsiteDevelopers(ctx, w.ID, w.DeveloperIDs)
}

func encodeWebsiteDocs(w domain.Website) (seo, config, hosting string, err error) {
	if seo, err = encodeJSON(w.SeoData); err != nil {
		return
	}
	cfg := w.Config
	if cfg == nil {
		cfg = map[string]any{}
	}
	if config, err = encodeJSON(cfg); err != nil {
		return
	}
	hosting, err = encodeJSON(w.Hosting)
	return
}

// SetWebsiteDevelopers replaces the developer assignments of a website.
func (r Repo) SetWebsiteDevelopers(ctx context.Context, websiteID string, developerIDs []string) error {
	if _, err := r.exec(ctx, `DELETE FROM website_developers WHERE website_id=?`, websiteID); err != nil {
		return err
	}
	seen := map[string]bool{}
	for _, id := range developerIDs {
		if seen[id] {
			continue
		}
		seen[id] = true
		if _, err := r.exec(ctx, `INSERT INTO website_developers(website_id,developer_id) VALUES (?,?)`, websiteID, id); err != nil {
			return fmt.Errorf("assign developer %s: %w", id, err)
		}
	}
	return nil
}

func (r Repo) websiteDevelopers(ctx context.Context, websiteIDs []string) (map[string][]string, error) {
	res := map[string][]string{}
	if len(websiteIDs) == 0 {
		return res, nil
	}
	args := make([]any, 0, len(websiteIDs))
	for _, id := range websiteIDs {
		args = append(args, id)
	}
	rows, err := r.query(ctx, `SELECT website_id,developer_id FROM website_developers WHERE website_id IN (`+placeholders(len(args))+`) ORDER BY developer_id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var site, dev string
		if err := rows.Scan(&site, &dev); err != nil {
			return nil, err
		}
		res[site] = append(res[site], dev)
	}
	return res, rows.Err()
}

func (r Repo) GetWebsite(ctx context.Context, id string) (domain.Website, error) {
	w, err := scanWebsite(r.queryRow(ctx, `SELECT `+websiteColumns+` FROM websites WHERE id=?`, id))
	if err != nil {
		return domain.Website{}, notFound("website", id, err)
	}
	devs, err := r.websiteDevelopers(ctx, []string{id})
	if err != nil {
		return domain.Website{}, err
	}
	if d, ok := devs[id]; ok {
		w.DeveloperIDs = d
	}
	return w, nil
}

// WebsiteFilter narrows ListWebsites; empty fields do not filter.
type WebsiteFilter struct {
	ClientID    string
	DeveloperID string
}

func (r Repo) ListWebsites(ctx context.Context, f WebsiteFilter) ([]domain.Website, error) {
	var clauses []string
	var args []any
	if f.ClientID != "" {
		clauses = append(clauses, "client_id=?")
		args = append(args, f.ClientID)
	}
	if f.DeveloperID != "" {
		clauses = append(clauses, "id IN (SELECT website_id FROM website_developers WHERE developer_id=?)")
		args = append(args, f.DeveloperID)
	}
	rows, err := r.query(ctx, `SELECT `+websiteColumns+` FROM websites`+whereClause(clauses)+` ORDER BY created_at DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Website{}
	var ids []string
	for rows.Next() {
		w, err := scanWebsite(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, w)
		ids = append(ids, w.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()
	devs, err := r.websiteDevelopers(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range res {
		if d, ok := devs[res[i].ID]; ok {
			res[i].DeveloperIDs = d
		}
	}
	return res, nil
}

func (r Repo) DeleteWebsite(ctx context.Context, id string) error {
	return r.execOne(ctx, "website "+id, `DELETE FROM websites WHERE id=?`, id)
}

// RecordScan stores the outcome of a site scan.
func (r Repo) RecordScan(ctx context.Context, id string, data domain.SeoData, score int, scannedAt string) error {
	seo, err := encodeJSON(data)
	if err != nil {
		return err
	}
	return r.execOne(ctx, "website "+id, `UPDATE websites SET seo_data_json=?,seo_health_score=?,last_seo_scan=?,updated_at=? WHERE id=?`,
		seo, score, scannedAt, scannedAt, id)
}

// WebsiteAttachments returns the attachment lists of every work log on a website.
func (r Repo) WebsiteAttachments(ctx context.Context, websiteID string) ([]string, error) {
	rows, err := r.query(ctx, `SELECT attachments_json FROM work_logs WHERE website_id=?`, websiteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var raw sql.NullString
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		items, err := decodeStrings(raw.String)
		if err != nil {
			return nil, err
		}
		res = append(res, items...)
	}
	return res, rows.Err()
}
