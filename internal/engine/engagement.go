package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"

	"agencyline/internal/domain"
	"agencyline/internal/engine/auth"
	"agencyline/internal/events"
	"agencyline/internal/repo"
)

// accessibleWebsite loads a website and checks actor may use it with perm.
func (e Engine) accessibleWebsite(ctx context.Context, actor domain.User, id, perm string) (domain.Website, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Website{}, domain.Invalid("websiteId", "is required")
	}
	site, err := e.Repo.GetWebsite(ctx, id)
	if err != nil {
		return domain.Website{}, err
	}
	if err := auth.RequireWebsite(actor, site, perm); err != nil {
		return domain.Website{}, err
	}
	return site, nil
}

func (e Engine) ListCompetitors(ctx context.Context, actor domain.User, websiteID string) ([]domain.Competitor, error) {
	site, err := e.accessibleWebsite(ctx, actor, websiteID, auth.PermWebsiteRead)
	if err != nil {
		return nil, err
	}
	return e.Repo.ListCompetitors(ctx, site.ID)
}

type CompetitorInput struct {
	Name      string
	URL       string
	WebsiteID string
}

func (e Engine) CreateCompetitor(ctx context.Context, actor domain.User, in CompetitorInput) (domain.Competitor, error) {
	if strings.TrimSpace(in.Name) == "" {
		return domain.Competitor{}, domain.Invalid("name", "is required")
	}
	if strings.TrimSpace(in.URL) == "" {
		return domain.Competitor{}, domain.Invalid("url", "is required")
	}
	site, err := e.accessibleWebsite(ctx, actor, in.WebsiteID, auth.PermCompetitorEdit)
	if err != nil {
		return domain.Competitor{}, err
	}
	c := domain.Competitor{
		ID:        newID(),
		Name:      strings.TrimSpace(in.Name),
		URL:       domain.NormalizeURL(in.URL),
		WebsiteID: site.ID,
		ClientID:  actor.ID,
		CreatedAt: e.timestamp(),
	}
	err = e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		if err := r.InsertCompetitor(ctx, c); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, "competitor.created", "competitor", c.ID, actor.ID, events.EventPayload{"website_id": site.ID})
	})
	if err != nil {
		return domain.Competitor{}, err
	}
	return c, nil
}

// DeleteCompetitor is open to admins, the creator and the owning client.
func (e Engine) DeleteCompetitor(ctx context.Context, actor domain.User, id string) error {
	c, err := e.Repo.GetCompetitor(ctx, id)
	if err != nil {
		return err
	}
	site, err := e.Repo.GetWebsite(ctx, c.WebsiteID)
	if err != nil {
		return err
	}
	allowed := actor.Role == domain.RoleAdmin || c.ClientID == actor.ID || auth.OwnsWebsite(actor, site)
	if !allowed {
		return auth.ForbiddenError{Permission: auth.PermCompetitorEdit}
	}
	return e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		if err := r.DeleteCompetitor(ctx, c.ID); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, "competitor.deleted", "competitor", c.ID, actor.ID, nil)
	})
}

func (e Engine) PostMessage(ctx context.Context, actor domain.User, websiteID, content string) (domain.Message, error) {
	if strings.TrimSpace(content) == "" {
		return domain.Message{}, domain.Invalid("content", "is required")
	}
	site, err := e.accessibleWebsite(ctx, actor, websiteID, auth.PermMessageWrite)
	if err != nil {
		return domain.Message{}, err
	}
	m := domain.Message{
		ID:        newID(),
		Content:   content,
		SenderID:  actor.ID,
		Sender:    &domain.Ref{ID: actor.ID, Name: actor.Name},
		WebsiteID: site.ID,
		CreatedAt: e.timestamp(),
	}
	err = e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		if err := r.InsertMessage(ctx, m); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, "message.created", "message", m.ID, actor.ID, events.EventPayload{"website_id": site.ID})
	})
	if err != nil {
		return domain.Message{}, err
	}
	return m, nil
}

// ListMessages returns a website's conversation oldest first.
func (e Engine) ListMessages(ctx context.Context, actor domain.User, websiteID string) ([]domain.Message, error) {
	site, err := e.accessibleWebsite(ctx, actor, websiteID, auth.PermWebsiteRead)
	if err != nil {
		return nil, err
	}
	return e.Repo.ListMessages(ctx, site.ID)
}

// CreateAPIKey issues a key for userID. The raw key is only ever returned here.
func (e Engine) CreateAPIKey(ctx context.Context, actor domain.User, userID, name string) (domain.APIKey, string, error) {
	if err := auth.Require(actor, auth.PermAPIKeyManage); err != nil {
		return domain.APIKey{}, "", err
	}
	if _, err := e.Repo.GetUser(ctx, userID); err != nil {
		return domain.APIKey{}, "", err
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("generate api key: %w", err)
	}
	raw := "al_" + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        newID(),
		UserID:    userID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(raw),
		CreatedAt: e.timestamp(),
	}
	err := e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		if err := r.InsertAPIKey(ctx, key); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, "apikey.created", "api_key", key.ID, actor.ID, events.EventPayload{"user_id": userID})
	})
	if err != nil {
		return domain.APIKey{}, "", err
	}
	return key, raw, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, actor domain.User, userID string) ([]domain.APIKey, error) {
	if err := auth.Require(actor, auth.PermAPIKeyManage); err != nil {
		return nil, err
	}
	return e.Repo.ListAPIKeys(ctx, userID)
}

func (e Engine) DeleteAPIKey(ctx context.Context, actor domain.User, id string) error {
	if err := auth.Require(actor, auth.PermAPIKeyManage); err != nil {
		return err
	}
	return e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		if err := r.DeleteAPIKey(ctx, id); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, "apikey.deleted", "api_key", id, actor.ID, nil)
	})
}

// ResolveAPIKey returns the owner of a raw API key.
func (e Engine) ResolveAPIKey(ctx context.Context, raw string) (domain.User, error) {
	key, err := e.Repo.GetAPIKeyByHash(ctx, repo.HashAPIKey(raw))
	if err != nil {
		return domain.User{}, err
	}
	return e.Repo.GetUser(ctx, key.UserID)
}

// ListEvents returns the audit trail newest first, below cursor when set.
func (e Engine) ListEvents(ctx context.Context, actor domain.User, limit int, cursor int64, f repo.EventFilter) ([]domain.Event, error) {
	if err := auth.Require(actor, auth.PermEventsRead); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return e.Repo.LatestEventsFrom(ctx, limit, cursor, f)
}
