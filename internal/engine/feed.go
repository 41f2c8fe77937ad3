package engine

import (
	"context"
	"errors"
	"strings"

	"agencyline/internal/domain"
	"agencyline/internal/engine/auth"
	"agencyline/internal/repo"
)

// FeedQuery filters the work log feed. Type "" or "all" does not filter;
// StarredOnly false does not filter.
type FeedQuery struct {
	WebsiteID   string
	Type        string
	StarredOnly bool
	Page        int
	Limit       int
}

type FeedPage struct {
	Items   []domain.WorkLog `json:"items"`
	Page    int              `json:"page"`
	Limit   int              `json:"limit"`
	HasMore bool             `json:"hasMore"`
}

// ListWorkLogs returns one page of the feed scoped to what actor may see,
// newest first. HasMore is true whenever the page is full, so a feed whose
// size is an exact multiple of the limit reports one extra empty page.
func (e Engine) ListWorkLogs(ctx context.Context, actor domain.User, q FeedQuery) (FeedPage, error) {
	if err := auth.Require(actor, auth.PermWorkLogRead); err != nil {
		return FeedPage{}, err
	}
	typ, err := parseFeedType(q.Type)
	if err != nil {
		return FeedPage{}, err
	}
	page, limit := e.normalizePage(q.Page, q.Limit)
	f := repo.WorkLogFilter{
		WebsiteID:   strings.TrimSpace(q.WebsiteID),
		Type:        typ,
		StarredOnly: q.StarredOnly,
		Limit:       limit,
		Offset:      (page - 1) * limit,
	}
	if err := e.scopeFeed(ctx, actor, &f); err != nil {
		return FeedPage{}, err
	}
	items, err := e.Repo.ListWorkLogs(ctx, f)
	if err != nil {
		return FeedPage{}, err
	}
	return FeedPage{Items: items, Page: page, Limit: limit, HasMore: len(items) == limit}, nil
}

// scopeFeed narrows f to the entries actor may see.
func (e Engine) scopeFeed(ctx context.Context, actor domain.User, f *repo.WorkLogFilter) error {
	switch actor.Role {
	case domain.RoleAdmin:
		return nil
	case domain.RoleDeveloper:
		f.DeveloperID = actor.ID
		return nil
	case domain.RoleClient:
		f.ClientID = actor.ID
		if f.WebsiteID == "" {
			return nil
		}
		site, err := e.Repo.GetWebsite(ctx, f.WebsiteID)
		if errors.Is(err, repo.ErrNotFound) {
			return auth.ForbiddenError{Permission: auth.PermWorkLogRead}
		}
		if err != nil {
			return err
		}
		if !auth.CanAccessWebsite(actor, site) {
			return auth.ForbiddenError{Permission: auth.PermWorkLogRead}
		}
		return nil
	}
	return auth.ForbiddenError{Permission: auth.PermWorkLogRead}
}

func parseFeedType(raw string) (domain.WorkLogType, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "all") {
		return "", nil
	}
	t := domain.WorkLogType(raw)
	if !t.Valid() {
		return "", domain.Invalid("type", "unknown work log type %q", raw)
	}
	return t, nil
}

func (e Engine) normalizePage(page, limit int) (int, int) {
	cfg := e.config().WorkLogs
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = cfg.PageSize
	}
	if limit > cfg.MaxPageSize {
		limit = cfg.MaxPageSize
	}
	return page, limit
}
