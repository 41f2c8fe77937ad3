package domain

import (
	"fmt"
	"strings"
	"time"
)

// TimeLayout is the fixed-width UTC layout used for stored timestamps so
// that lexical order equals chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

type Role string

const (
	RoleAdmin     Role = "admin"
	RoleClient    Role = "client"
	RoleDeveloper Role = "developer"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleClient, RoleDeveloper:
		return true
	}
	return false
}

type User struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Role         Role   `json:"role"`
	PasswordHash string `json:"-"`
	GSTIN        string `json:"gstin,omitempty"`
	Address      string `json:"address,omitempty"`
	CreatedAt    string `json:"createdAt"`
	UpdatedAt    string `json:"updatedAt"`
}

// Ref is a read projection of a referenced entity.
type Ref struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
}

type HostingDetails struct {
	Provider    string `json:"provider,omitempty"`
	Domain      string `json:"domain,omitempty"`
	FTPHost     string `json:"ftpHost,omitempty"`
	FTPUser     string `json:"ftpUser,omitempty"`
	FTPPassword string `json:"ftpPassword,omitempty"`
}

type SeoData struct {
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	H1          []string `json:"h1"`
	OGTitle     string   `json:"ogTitle,omitempty"`
	OGImage     string   `json:"ogImage,omitempty"`
	LoadTimeMS  int64    `json:"loadTime"`
}

type Website struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	URL               string         `json:"url"`
	ClientID          string         `json:"clientId,omitempty"`
	DeveloperIDs      []string       `json:"developers"`
	GSCPropertyURL    string         `json:"gscPropertyUrl,omitempty"`
	GoogleCredentials string         `json:"-"`
	SeoHealthScore    int            `json:"seoHealthScore"`
	SeoData           SeoData        `json:"seoData"`
	LastSeoScan       string         `json:"lastSeoScan,omitempty"`
	Config            map[string]any `json:"config,omitempty"`
	Hosting           HostingDetails `json:"hostingDetails"`
	CreatedAt         string         `json:"createdAt"`
	UpdatedAt         string         `json:"updatedAt"`
}

// HasDeveloper reports whether userID is assigned to the website.
func (w Website) HasDeveloper(userID string) bool {
	for _, id := range w.DeveloperIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Ref returns the read projection used inside work log responses.
func (w Website) Ref() *Ref {
	return &Ref{ID: w.ID, Name: w.Name, URL: w.URL}
}

// NormalizeURL prefixes https:// when raw carries no scheme.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return raw
	}
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return raw
	}
	return "https://" + raw
}

type Competitor struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	URL       string `json:"url"`
	WebsiteID string `json:"websiteId"`
	ClientID  string `json:"clientId"`
	CreatedAt string `json:"createdAt"`
}

type Message struct {
	ID        string `json:"id"`
	Content   string `json:"content"`
	SenderID  string `json:"senderId"`
	Sender    *Ref   `json:"sender,omitempty"`
	WebsiteID string `json:"websiteId"`
	IsRead    bool   `json:"isRead"`
	CreatedAt string `json:"createdAt"`
}

// DailyStat is one day of search performance for a website.
type DailyStat struct {
	WebsiteID   string  `json:"websiteId"`
	Date        string  `json:"date"`
	Clicks      int64   `json:"clicks"`
	Impressions int64   `json:"impressions"`
	CTR         float64 `json:"ctr"`
	Position    float64 `json:"position"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entityKind"`
	EntityID   string `json:"entityId,omitempty"`
	ActorID    string `json:"actorId"`
	Payload    string `json:"payload"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"createdAt"`
}

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Invalid is shorthand for a ValidationError with a formatted reason.
func Invalid(field, format string, args ...any) error {
	return ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
