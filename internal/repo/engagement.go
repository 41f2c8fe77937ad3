package repo

import (
	"context"
	"fmt"

	"agencyline/internal/domain"
)

func (r Repo) InsertCompetitor(ctx context.Context, c domain.Competitor) error {
	_, err := r.exec(ctx, `INSERT INTO competitors(id,name,url,website_id,client_id,created_at) VALUES (?,?,?,?,?,?)`,
		c.ID, c.Name, c.URL, c.WebsiteID, c.ClientID, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert competitor: %w", err)
	}
	return nil
}

func (r Repo) GetCompetitor(ctx context.Context, id string) (domain.Competitor, error) {
	var c domain.Competitor
	err := r.queryRow(ctx, `SELECT id,name,url,website_id,client_id,created_at FROM competitors WHERE id=?`, id).
		Scan(&c.ID, &c.Name, &c.URL, &c.WebsiteID, &c.ClientID, &c.CreatedAt)
	if err != nil {
		return domain.Competitor{}, notFound("competitor", id, err)
	}
	return c, nil
}

func (r Repo) ListCompetitors(ctx context.Context, websiteID string) ([]domain.Competitor, error) {
	rows, err := r.query(ctx, `SELECT id,name,url,website_id,client_id,created_at FROM competitors WHERE website_id=? ORDER BY created_at DESC, id DESC`, websiteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Competitor{}
	for rows.Next() {
		var c domain.Competitor
		if err := rows.Scan(&c.ID, &c.Name, &c.URL, &c.WebsiteID, &c.ClientID, &c.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) DeleteCompetitor(ctx context.Context, id string) error {
	return r.execOne(ctx, "competitor "+id, `DELETE FROM competitors WHERE id=?`, id)
}

func (r Repo) InsertMessage(ctx context.Context, m domain.Message) error {
	_, err := r.exec(ctx, `INSERT INTO messages(id,content,sender_id,website_id,is_read,created_at) VALUES (?,?,?,?,?,?)`,
		m.ID, m.Content, m.SenderID, m.WebsiteID, m.IsRead, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListMessages returns a website's conversation oldest first.
func (r Repo) ListMessages(ctx context.Context, websiteID string) ([]domain.Message, error) {
	rows, err := r.query(ctx, `SELECT m.id,m.content,m.sender_id,u.name,m.website_id,m.is_read,m.created_at
FROM messages m JOIN users u ON u.id=m.sender_id
WHERE m.website_id=? ORDER BY m.created_at ASC, m.id ASC`, websiteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Message{}
	for rows.Next() {
		var m domain.Message
		var senderName string
		if err := rows.Scan(&m.ID, &m.Content, &m.SenderID, &senderName, &m.WebsiteID, &m.IsRead, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Sender = &domain.Ref{ID: m.SenderID, Name: senderName}
		res = append(res, m)
	}
	return res, rows.Err()
}

// UpsertDailyStat inserts or replaces the stat for (website, date).
func (r Repo) UpsertDailyStat(ctx context.Context, s domain.DailyStat) error {
	_, err := r.exec(ctx, `INSERT INTO daily_stats(website_id,date,clicks,impressions,ctr,position) VALUES (?,?,?,?,?,?)
ON CONFLICT(website_id,date) DO UPDATE SET clicks=excluded.clicks,impressions=excluded.impressions,ctr=excluded.ctr,position=excluded.position`,
		s.WebsiteID, s.Date, s.Clicks, s.Impressions, s.CTR, s.Position)
	if err != nil {
		return fmt.Errorf("upsert daily stat %s/%s: %w", s.WebsiteID, s.Date, err)
	}
	return nil
}

// ListDailyStats returns stats on or after since (YYYY-MM-DD), oldest first.
func (r Repo) ListDailyStats(ctx context.Context, websiteID, since string) ([]domain.DailyStat, error) {
	rows, err := r.query(ctx, `SELECT website_id,date,clicks,impressions,ctr,position FROM daily_stats WHERE website_id=? AND date>=? ORDER BY date ASC`, websiteID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.DailyStat{}
	for rows.Next() {
		var s domain.DailyStat
		if err := rows.Scan(&s.WebsiteID, &s.Date, &s.Clicks, &s.Impressions, &s.CTR, &s.Position); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
