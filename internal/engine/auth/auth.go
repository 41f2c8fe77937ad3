package auth

import (
	"fmt"

	"agencyline/internal/domain"
)

// ForbiddenError indicates missing permission.
type ForbiddenError struct {
	Permission string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("permission %s required", e.Permission)
}

const (
	PermWorkLogCreate  = "worklog.create"
	PermWorkLogRead    = "worklog.read"
	PermWorkLogReview  = "worklog.review"
	PermWorkLogStar    = "worklog.star"
	PermWorkLogAnswer  = "worklog.answer"
	PermWorkLogDelete  = "worklog.delete"
	PermWebsiteManage  = "website.manage"
	PermWebsiteRead    = "website.read"
	PermWebsiteHosting = "website.hosting.update"
	PermWebsiteScan    = "website.scan"
	PermStatsRead      = "website.stats.read"
	PermUserManage     = "user.manage"
	PermEventsRead     = "events.read"
	PermAPIKeyManage   = "apikey.manage"
	PermCompetitorEdit = "competitor.write"
	PermMessageWrite   = "message.write"
)

var rolePermissions = map[domain.Role][]string{
	domain.RoleAdmin: {
		PermWorkLogCreate, PermWorkLogRead, PermWorkLogReview, PermWorkLogStar, PermWorkLogAnswer, PermWorkLogDelete,
		PermWebsiteManage, PermWebsiteRead, PermWebsiteHosting, PermWebsiteScan, PermStatsRead,
		PermUserManage, PermEventsRead, PermAPIKeyManage, PermCompetitorEdit, PermMessageWrite,
	},
	domain.RoleDeveloper: {
		PermWorkLogCreate, PermWorkLogRead, PermWorkLogStar, PermWorkLogAnswer,
		PermWebsiteRead, PermStatsRead, PermCompetitorEdit, PermMessageWrite,
	},
	domain.RoleClient: {
		PermWorkLogRead, PermWorkLogReview, PermWorkLogAnswer,
		PermWebsiteRead, PermWebsiteHosting, PermStatsRead, PermCompetitorEdit, PermMessageWrite,
	},
}

// Permissions lists what a role may do.
func Permissions(role domain.Role) []string {
	return append([]string(nil), rolePermissions[role]...)
}

func HasPermission(role domain.Role, perm string) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// Require fails with ForbiddenError when u's role lacks perm.
func Require(u domain.User, perm string) error {
	if HasPermission(u.Role, perm) {
		return nil
	}
	return ForbiddenError{Permission: perm}
}

// OwnsWebsite reports whether u is the client the website belongs to.
func OwnsWebsite(u domain.User, w domain.Website) bool {
	return u.Role == domain.RoleClient && w.ClientID != "" && w.ClientID == u.ID
}

// CanAccessWebsite is the single visibility predicate for a website:
// admins see everything, clients their own sites, developers their assignments.
func CanAccessWebsite(u domain.User, w domain.Website) bool {
	switch u.Role {
	case domain.RoleAdmin:
		return true
	case domain.RoleClient:
		return OwnsWebsite(u, w)
	case domain.RoleDeveloper:
		return w.HasDeveloper(u.ID)
	}
	return false
}

// RequireWebsite combines the role permission with website visibility.
func RequireWebsite(u domain.User, w domain.Website, perm string) error {
	if err := Require(u, perm); err != nil {
		return err
	}
	if !CanAccessWebsite(u, w) {
		return ForbiddenError{Permission: perm}
	}
	return nil
}

// CanViewWorkLog applies the feed scoping rules to a single entry:
// developers only see what they authored.
func CanViewWorkLog(u domain.User, wl domain.WorkLog, w domain.Website) bool {
	switch u.Role {
	case domain.RoleAdmin:
		return true
	case domain.RoleClient:
		return OwnsWebsite(u, w)
	case domain.RoleDeveloper:
		return wl.DeveloperID == u.ID
	}
	return false
}

// CanCreateWorkLog reports whether u may log work against w.
func CanCreateWorkLog(u domain.User, w domain.Website) bool {
	if !HasPermission(u.Role, PermWorkLogCreate) {
		return false
	}
	return u.Role == domain.RoleAdmin || w.HasDeveloper(u.ID)
}
