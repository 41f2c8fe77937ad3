package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"agencyline/internal/domain"
	"agencyline/internal/engine/auth"
	"agencyline/internal/events"
	"agencyline/internal/repo"
)

const minPasswordLen = 6

type UserInput struct {
	Name     string
	Email    string
	Password string
	Role     domain.Role
	GSTIN    string
	Address  string
}

func (in UserInput) validate() error {
	if strings.TrimSpace(in.Name) == "" {
		return domain.Invalid("name", "is required")
	}
	if err := validateEmail(in.Email); err != nil {
		return err
	}
	if len(in.Password) < minPasswordLen {
		return domain.Invalid("password", "must be at least %d characters", minPasswordLen)
	}
	if !in.Role.Valid() {
		return domain.Invalid("role", "unknown role %q", in.Role)
	}
	return nil
}

func validateEmail(email string) error {
	if _, err := mail.ParseAddress(strings.TrimSpace(email)); err != nil {
		return domain.Invalid("email", "%q is not a valid address", email)
	}
	return nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (e Engine) newUser(in UserInput) (domain.User, error) {
	if err := in.validate(); err != nil {
		return domain.User{}, err
	}
	hash, err := hashPassword(in.Password)
	if err != nil {
		return domain.User{}, err
	}
	now := e.timestamp()
	return domain.User{
		ID:           newID(),
		Name:         strings.TrimSpace(in.Name),
		Email:        repo.NormalizeEmail(in.Email),
		Role:         in.Role,
		PasswordHash: hash,
		GSTIN:        strings.TrimSpace(in.GSTIN),
		Address:      strings.TrimSpace(in.Address),
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// CreateUser registers an account with a fixed role.
func (e Engine) CreateUser(ctx context.Context, actor domain.User, in UserInput) (domain.User, error) {
	if err := auth.Require(actor, auth.PermUserManage); err != nil {
		return domain.User{}, err
	}
	return e.createUser(ctx, actor.ID, in)
}

func (e Engine) createUser(ctx context.Context, actorID string, in UserInput) (domain.User, error) {
	u, err := e.newUser(in)
	if err != nil {
		return domain.User{}, err
	}
	err = e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		if err := r.InsertUser(ctx, u); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, "user.created", "user", u.ID, actorID, events.EventPayload{"role": u.Role})
	})
	if err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func (e Engine) ListUsers(ctx context.Context, actor domain.User, role domain.Role) ([]domain.User, error) {
	if err := auth.Require(actor, auth.PermUserManage); err != nil {
		return nil, err
	}
	if role != "" && !role.Valid() {
		return nil, domain.Invalid("role", "unknown role %q", role)
	}
	return e.Repo.ListUsers(ctx, role)
}

// GetUser loads a user without an access check; it backs credential resolution.
func (e Engine) GetUser(ctx context.Context, id string) (domain.User, error) {
	return e.Repo.GetUser(ctx, id)
}

type UserUpdate struct {
	Name     *string
	Email    *string
	Password *string
	Role     *domain.Role
	GSTIN    *string
	Address  *string
}

// UpdateUser edits profile fields. Roles are fixed at creation.
func (e Engine) UpdateUser(ctx context.Context, actor domain.User, id string, upd UserUpdate) (domain.User, error) {
	if err := auth.Require(actor, auth.PermUserManage); err != nil {
		return domain.User{}, err
	}
	u, err := e.Repo.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	if upd.Role != nil && *upd.Role != u.Role {
		return domain.User{}, domain.Invalid("role", "cannot change role from %s", u.Role)
	}
	if upd.Name != nil {
		if strings.TrimSpace(*upd.Name) == "" {
			return domain.User{}, domain.Invalid("name", "is required")
		}
		u.Name = strings.TrimSpace(*upd.Name)
	}
	if upd.Email != nil {
		if err := validateEmail(*upd.Email); err != nil {
			return domain.User{}, err
		}
		u.Email = repo.NormalizeEmail(*upd.Email)
	}
	if upd.Password != nil {
		if len(*upd.Password) < minPasswordLen {
			return domain.User{}, domain.Invalid("password", "must be at least %d characters", minPasswordLen)
		}
		if u.PasswordHash, err = hashPassword(*upd.Password); err != nil {
			return domain.User{}, err
		}
	}
	if upd.GSTIN != nil {
		u.GSTIN = strings.TrimSpace(*upd.GSTIN)
	}
	if upd.Address != nil {
		u.Address = strings.TrimSpace(*upd.Address)
	}
	u.UpdatedAt = e.timestamp()
	err = e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		if err := r.UpdateUser(ctx, u); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, "user.updated", "user", u.ID, actor.ID, events.EventPayload{"password_changed": upd.Password != nil})
	})
	if err != nil {
		return domain.User{}, err
	}
	return u, nil
}

// Login checks email and password. Unknown emails and wrong passwords are
// indistinguishable to the caller.
func (e Engine) Login(ctx context.Context, email, password string) (domain.User, error) {
	u, err := e.Repo.GetUserByEmail(ctx, email)
	if errors.Is(err, repo.ErrNotFound) {
		return domain.User{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return domain.User{}, ErrInvalidCredentials
	}
	return u, nil
}

// EnsureAdmin creates the bootstrap administrator when no admin exists yet.
func (e Engine) EnsureAdmin(ctx context.Context, name, email, password string) (domain.User, bool, error) {
	n, err := e.Repo.CountUsers(ctx, domain.RoleAdmin)
	if err != nil {
		return domain.User{}, false, err
	}
	if n > 0 {
		return domain.User{}, false, nil
	}
	if password == "" {
		return domain.User{}, false, errors.New("no admin account exists; set AGENCYLINE_ADMIN_PASSWORD to create one")
	}
	u, err := e.createUser(ctx, "system", UserInput{Name: name, Email: email, Password: password, Role: domain.RoleAdmin})
	if err != nil {
		return domain.User{}, false, err
	}
	return u, true, nil
}

// OnboardInput is a self-service client sign-up with the client's first website.
type OnboardInput struct {
	Name        string
	Email       string
	Password    string
	GSTIN       string
	Address     string
	WebsiteName string
	WebsiteURL  string
}

// Onboard creates a client account and its website in one transaction.
func (e Engine) Onboard(ctx context.Context, in OnboardInput) (domain.User, domain.Website, error) {
	if !e.config().Onboarding.Enabled {
		return domain.User{}, domain.Website{}, auth.ForbiddenError{Permission: "onboarding"}
	}
	u, err := e.newUser(UserInput{
		Name: in.Name, Email: in.Email, Password: in.Password,
		Role: domain.RoleClient, GSTIN: in.GSTIN, Address: in.Address,
	})
	if err != nil {
		return domain.User{}, domain.Website{}, err
	}
	site, err := e.newWebsite(WebsiteInput{Name: in.WebsiteName, URL: in.WebsiteURL, ClientID: u.ID})
	if err != nil {
		return domain.User{}, domain.Website{}, err
	}
	err = e.inTx(ctx, func(tx *sql.Tx, r repo.Repo) error {
		if err := r.InsertUser(ctx, u); err != nil {
			return err
		}
		if err := r.InsertWebsite(ctx, site); err != nil {
			return err
		}
		if err := e.appendEvent(ctx, tx, "user.created", "user", u.ID, u.ID, events.EventPayload{"role": u.Role, "onboarding": true}); err != nil {
			return err
		}
		return e.appendEvent(ctx, tx, "website.created", "website", site.ID, u.ID, events.EventPayload{"url": site.URL})
	})
	if err != nil {
		return domain.User{}, domain.Website{}, err
	}
	return u, site, nil
}
