package repo

import (
	"context"
	"database/sql"
	"fmt"
	"slices"

	"agencyline/internal/domain"
)

const workLogSelect = `SELECT w.id,w.website_id,w.developer_id,w.type,COALESCE(w.title,''),w.description,w.duration_minutes,
w.tags_json,COALESCE(w.status,''),w.client_response,w.is_starred,w.attachments_json,w.questions_json,w.created_at,w.updated_at,
s.name,s.url,u.name
FROM work_logs w
JOIN websites s ON s.id=w.website_id
JOIN users u ON u.id=w.developer_id`

func scanWorkLog(row rowScanner) (domain.WorkLog, error) {
	var (
		wl                                 domain.WorkLog
		typ, status                        string
		tagsJSON, attachJSON, questionJSON string
		clientResponse                     sql.NullString
		siteName, siteURL, devName         string
	)
	if err := row.Scan(&wl.ID, &wl.WebsiteID, &wl.DeveloperID, &typ, &wl.Title, &wl.Description, &wl.DurationMinutes,
		&tagsJSON, &status, &clientResponse, &wl.IsStarred, &attachJSON, &questionJSON, &wl.CreatedAt, &wl.UpdatedAt,
		&siteName, &siteURL, &devName); err != nil {
		return wl, err
	}
	wl.Type = domain.WorkLogType(typ)
	wl.Status = domain.Status(status)
	if clientResponse.Valid {
		v := clientResponse.String
		wl.ClientResponse = &v
	}
	var err error
	if wl.Tags, err = decodeStrings(tagsJSON); err != nil {
		return wl, fmt.Errorf("decode tags for work log %s: %w", wl.ID, err)
	}
	if wl.Attachments, err = decodeStrings(attachJSON); err != nil {
		return wl, fmt.Errorf("decode attachments for work log %s: %w", wl.ID, err)
	}
	wl.Questions = []domain.Question{}
	if err := decodeJSON(questionJSON, &wl.Questions); err != nil {
		return wl, fmt.Errorf("decode questions for work log %s: %w", wl.ID, err)
	}
	wl.Website = &domain.Ref{ID: wl.WebsiteID, Name: siteName, URL: siteURL}
	wl.Developer = &domain.Ref{ID: wl.DeveloperID, Name: devName}
	return wl, nil
}

func (r Repo) InsertWorkLog(ctx context.Context, wl domain.WorkLog) error {
	tags, err := encodeStrings(wl.Tags)
	if err != nil {
		return err
	}
	attachments, err := encodeStrings(wl.Attachments)
	if err != nil {
		return err
	}
	questions, err := encodeQuestions(wl.Questions)
	if err != nil {
		return err
	}
	_, err = r.exec(ctx, `INSERT INTO work_logs(id,website_id,developer_id,type,title,description,duration_minutes,tags_json,status,client_response,is_starred,attachments_json,questions_json,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		wl.ID, wl.WebsiteID, wl.DeveloperID, string(wl.Type), nullable(wl.Title), wl.Description, wl.DurationMinutes,
		tags, nullable(string(wl.Status)), wl.ClientResponse, wl.IsStarred, attachments, questions, wl.CreatedAt, wl.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert work log: %w", err)
	}
	return nil
}

func encodeQuestions(qs []domain.Question) (string, error) {
	if qs == nil {
		qs = []domain.Question{}
	}
	return encodeJSON(qs)
}

func (r Repo) GetWorkLog(ctx context.Context, id string) (domain.WorkLog, error) {
	wl, err := scanWorkLog(r.queryRow(ctx, workLogSelect+` WHERE w.id=?`, id))
	if err != nil {
		return domain.WorkLog{}, notFound("work log", id, err)
	}
	return wl, nil
}

// UpdateWorkLogState persists the mutable fields of wl.
func (r Repo) UpdateWorkLogState(ctx context.Context, wl domain.WorkLog) error {
	questions, err := encodeQuestions(wl.Questions)
	if err != nil {
		return err
	}
	return r.execOne(ctx, "work log "+wl.ID, `UPDATE work_logs SET status=?,client_response=?,is_starred=?,questions_json=?,updated_at=? WHERE id=?`,
		nullable(string(wl.Status)), wl.ClientResponse, wl.IsStarred, questions, wl.UpdatedAt, wl.ID)
}

func (r Repo) DeleteWorkLog(ctx context.Context, id string) error {
	return r.execOne(ctx, "work log "+id, `DELETE FROM work_logs WHERE id=?`, id)
}

// WorkLogFilter selects a page of the feed. Empty fields do not filter.
type WorkLogFilter struct {
	WebsiteID   string
	ClientID    string
	DeveloperID string
	Type        domain.WorkLogType
	StarredOnly bool
	Limit       int
	Offset      int
}

// ListWorkLogs returns entries newest first; id breaks ties between equal timestamps.
func (r Repo) ListWorkLogs(ctx context.Context, f WorkLogFilter) ([]domain.WorkLog, error) {
	var clauses []string
	var args []any
	if f.WebsiteID != "" {
		clauses = append(clauses, "w.website_id=?")
		args = append(args, f.WebsiteID)
	}
	if f.ClientID != "" {
		clauses = append(clauses, "s.client_id=?")
		args = append(args, f.ClientID)
	}
	if f.DeveloperID != "" {
		clauses = append(clauses, "w.developer_id=?")
		args = append(args, f.DeveloperID)
	}
	if f.Type != "" {
		clauses = append(clauses, "w.type=?")
		args = append(args, string(f.Type))
	}
	if f.StarredOnly {
		clauses = append(clauses, "w.is_starred=?")
		args = append(args, true)
	}
	query := workLogSelect + whereClause(clauses) + ` ORDER BY w.created_at DESC, w.id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.WorkLog{}
	for rows.Next() {
		wl, err := scanWorkLog(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, wl)
	}
	return res, rows.Err()
}

// AttachmentOwner returns the id of a work log that references ref, or ""
// when none does. The LIKE match only narrows candidates; the decoded list
// decides.
func (r Repo) AttachmentOwner(ctx context.Context, ref string) (string, error) {
	quoted, err := encodeJSON(ref)
	if err != nil {
		return "", err
	}
	rows, err := r.query(ctx, `SELECT id,attachments_json FROM work_logs WHERE attachments_json LIKE ? ORDER BY id`, "%"+quoted+"%")
	if err != nil {
		return "", err
	}
	defer rows.Close()
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return "", err
		}
		refs, err := decodeStrings(raw)
		if err != nil {
			return "", fmt.Errorf("decode attachments for work log %s: %w", id, err)
		}
		if slices.Contains(refs, ref) {
			return id, nil
		}
	}
	return "", rows.Err()
}
