package engine

import (
	"context"
	"database/sql"
	"strings"

	"agencyline/internal/domain"
	"agencyline/internal/engine/auth"
	"agencyline/internal/events"
	"agencyline/internal/repo"
	"agencyline/internal/storage"
)

// WorkLogCreateOptions are parameters for logging work against a website.
type WorkLogCreateOptions struct {
	WebsiteID       string
	Type            domain.WorkLogType
	Title           string
	Description     string
	DurationMinutes int
	Tags            []string
	Attachments     []string
	Questions       []domain.Question
}

func (e Engine) CreateWorkLog(ctx context.Context, actor domain.User, opts WorkLogCreateOptions) (domain.WorkLog, error) {
	if strings.TrimSpace(opts.WebsiteID) == "" {
		return domain.WorkLog{}, domain.Invalid("websiteId", "is required")
	}
	site, err := e.Repo.GetWebsite(ctx, opts.WebsiteID)
	if err != nil {
		return domain.WorkLog{}, err
	}
	if !auth.CanCreateWorkLog(actor, site) {
		return domain.WorkLog{}, auth.ForbiddenError{Permission: auth.PermWorkLogCreate}
	}
	if opts.Type == "" {
		opts.Type = domain.TypeLog
	}
	if !opts.Type.Valid() {
		return domain.WorkLog{}, domain.Invalid("type", "unknown work log type %q", opts.Type)
	}
	if strings.TrimSpace(opts.Description) == "" {
		return domain.WorkLog{}, domain.Invalid("description", "is required")
	}
	if opts.DurationMinutes < 0 {
		return domain.WorkLog{}, domain.Invalid("durationMinutes", "must not be negative")
	}
	if limit := e.config().WorkLogs.MaxAttachments; len(opts.Attachments) > limit {
		return domain.WorkLog{}, domain.Invalid("attachments", "at most %d files allowed, got %d", limit, len(opts.Attachments))
	}
	seen := make(map[string]bool, len(opts.Attachments))
	for i, ref := range opts.Attachments {
		if !storage.ValidRef(ref) {
			return domain.WorkLog{}, domain.Invalid("attachments", "entry %d is not an uploaded file reference", i)
		}
		if seen[ref] {
			return domain.WorkLog{}, domain.Invalid("attachments", "entry %d repeats %s", i, ref)
		}
		seen[ref] = true
	}
	if err := domain.ValidateQuestions(opts.Questions); err != nil {
		return domain.WorkLog{}, err
	}

	now := e.timestamp()
	wl := domain.WorkLog{
		ID:              e.newWorkLogID(),
		WebsiteID:       site.ID,
		DeveloperID:     actor.ID,
		Type:            opts.Type,
		Title:           strings.TrimSpace(opts.Title),
		Description:     opts.Description,
		DurationMinutes: opts.DurationMinutes,
		Tags:            nonNil(opts.Tags),
		Status:          domain.InitialStatus(opts.Type),
		Attachments:     nonNil(opts.Attachments),
		Questions:       opts.Questions,
		Website:         site.Ref(),
		Developer:       &domain.Ref{ID: actor.ID, Name: actor.Name},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if wl.Questions == nil {
		wl.Questions = []domain.Question{}
	}
	err = e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		for i, ref := range wl.Attachments {
			owner, err := r.AttachmentOwner(ctx, ref)
			if err != nil {
				return err
			}
			if owner != "" {
				return domain.Invalid("attachments", "entry %d is already attached to another work log", i)
			}
		}
		if err := r.InsertWorkLog(ctx, wl); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, "worklog.created", "worklog", wl.ID, actor.ID, events.EventPayload{
			"website_id": wl.WebsiteID,
			"type":       wl.Type,
			"status":     wl.Status,
		})
	})
	if err != nil {
		return domain.WorkLog{}, err
	}
	return wl, nil
}

// GetWorkLog returns one entry under the same visibility rules as the feed.
func (e Engine) GetWorkLog(ctx context.Context, actor domain.User, id string) (domain.WorkLog, error) {
	wl, _, err := e.visibleWorkLog(ctx, actor, id)
	return wl, err
}

func (e Engine) visibleWorkLog(ctx context.Context, actor domain.User, id string) (domain.WorkLog, domain.Website, error) {
	wl, err := e.Repo.GetWorkLog(ctx, id)
	if err != nil {
		return domain.WorkLog{}, domain.Website{}, err
	}
	site, err := e.Repo.GetWebsite(ctx, wl.WebsiteID)
	if err != nil {
		return domain.WorkLog{}, domain.Website{}, err
	}
	if !auth.CanViewWorkLog(actor, wl, site) {
		return domain.WorkLog{}, domain.Website{}, auth.ForbiddenError{Permission: auth.PermWorkLogRead}
	}
	return wl, site, nil
}

// WorkLogUpdate carries the mutable fields. A nil field is left unchanged;
// a non-nil pointer to a zero value is applied as given.
type WorkLogUpdate struct {
	Status         *domain.Status
	ClientResponse *string
	IsStarred      *bool
	Questions      *[]domain.Question
}

func (u WorkLogUpdate) empty() bool {
	return u.Status == nil && u.ClientResponse == nil && u.IsStarred == nil && u.Questions == nil
}

func (e Engine) UpdateWorkLog(ctx context.Context, actor domain.User, id string, upd WorkLogUpdate) (domain.WorkLog, error) {
	wl, _, err := e.visibleWorkLog(ctx, actor, id)
	if err != nil {
		return domain.WorkLog{}, err
	}
	if upd.empty() {
		return wl, nil
	}
	if upd.Status != nil || upd.ClientResponse != nil {
		if err := auth.Require(actor, auth.PermWorkLogReview); err != nil {
			return domain.WorkLog{}, err
		}
	}
	if upd.IsStarred != nil {
		if err := auth.Require(actor, auth.PermWorkLogStar); err != nil {
			return domain.WorkLog{}, err
		}
	}
	if upd.Questions != nil {
		if err := auth.Require(actor, auth.PermWorkLogAnswer); err != nil {
			return domain.WorkLog{}, err
		}
	}

	var changed []string
	decided := wl.Status.Terminal()
	if upd.Status != nil && *upd.Status != wl.Status {
		if err := checkTransition(wl, *upd.Status, upd.ClientResponse); err != nil {
			return domain.WorkLog{}, err
		}
		wl.Status = *upd.Status
		changed = append(changed, "status")
	}
	if upd.ClientResponse != nil && !sameText(wl.ClientResponse, upd.ClientResponse) {
		if decided {
			return domain.WorkLog{}, domain.Invalid("clientResponse", "cannot change once the item is %s", wl.Status)
		}
		v := *upd.ClientResponse
		wl.ClientResponse = &v
		changed = append(changed, "clientResponse")
	}
	if upd.IsStarred != nil && *upd.IsStarred != wl.IsStarred {
		wl.IsStarred = *upd.IsStarred
		changed = append(changed, "isStarred")
	}
	if upd.Questions != nil {
		next := *upd.Questions
		if next == nil {
			next = []domain.Question{}
		}
		if err := domain.ValidateQuestions(next); err != nil {
			return domain.WorkLog{}, err
		}
		if !domain.SamePrompts(wl.Questions, next) {
			return domain.WorkLog{}, domain.Invalid("questions", "only responses may change; prompts, types and options are fixed")
		}
		wl.Questions = next
		changed = append(changed, "questions")
	}
	if len(changed) == 0 {
		return wl, nil
	}

	wl.UpdatedAt = e.timestamp()
	err = e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		if err := r.UpdateWorkLogState(ctx, wl); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, "worklog.updated", "worklog", wl.ID, actor.ID, events.EventPayload{
			"fields": changed,
			"status": wl.Status,
		})
	})
	if err != nil {
		return domain.WorkLog{}, err
	}
	return wl, nil
}

// checkTransition enforces pending -> approved | rejected with a client comment.
func checkTransition(wl domain.WorkLog, next domain.Status, response *string) error {
	if wl.Type != domain.TypeAction {
		return domain.Invalid("status", "only action entries carry a status")
	}
	if !next.Valid() {
		return domain.Invalid("status", "unknown status %q", next)
	}
	if wl.Status.Terminal() {
		return domain.Invalid("status", "%s is final", wl.Status)
	}
	if !next.Terminal() {
		return domain.Invalid("status", "cannot move from %s to %s", wl.Status, next)
	}
	if response == nil || strings.TrimSpace(*response) == "" {
		return domain.Invalid("clientResponse", "is required when setting status to %s", next)
	}
	return nil
}

func sameText(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// DeleteWorkLog removes the entry, then the attachments no other work log
// references. Attachment cleanup failures are logged and do not fail the delete.
func (e Engine) DeleteWorkLog(ctx context.Context, actor domain.User, id string) error {
	if err := auth.Require(actor, auth.PermWorkLogDelete); err != nil {
		return err
	}
	wl, err := e.Repo.GetWorkLog(ctx, id)
	if err != nil {
		return err
	}
	var orphaned []string
	err = e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		if err := r.DeleteWorkLog(ctx, wl.ID); err != nil {
			return err
		}
		if orphaned, err = unreferenced(ctx, r, wl.Attachments); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, "worklog.deleted", "worklog", wl.ID, actor.ID, events.EventPayload{
			"website_id":  wl.WebsiteID,
			"attachments": len(wl.Attachments),
		})
	})
	if err != nil {
		return err
	}
	_ = e.removeFiles(ctx, "worklog "+wl.ID, orphaned)
	return nil
}

// unreferenced filters refs down to those no remaining work log points at.
func unreferenced(ctx context.Context, r repo.Repo, refs []string) ([]string, error) {
	var out []string
	for _, ref := range refs {
		owner, err := r.AttachmentOwner(ctx, ref)
		if err != nil {
			return nil, err
		}
		if owner == "" {
			out = append(out, ref)
		}
	}
	return out, nil
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}
