package server

import (
	"encoding/json"

	"agencyline/internal/domain"
)

// Request payloads

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type OnboardingRequest struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	GSTIN       string `json:"gstin,omitempty"`
	Address     string `json:"address,omitempty"`
	WebsiteName string `json:"websiteName"`
	WebsiteURL  string `json:"websiteUrl"`
}

type CreateUserRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role" enum:"admin,client,developer"`
	GSTIN    string `json:"gstin,omitempty"`
	Address  string `json:"address,omitempty"`
}

type UpdateUserRequest struct {
	Name     *string `json:"name,omitempty"`
	Email    *string `json:"email,omitempty"`
	Password *string `json:"password,omitempty"`
	Role     *string `json:"role,omitempty" enum:"admin,client,developer"`
	GSTIN    *string `json:"gstin,omitempty"`
	Address  *string `json:"address,omitempty"`
}

type CreateWebsiteRequest struct {
	Name              string                 `json:"name"`
	URL               string                 `json:"url"`
	ClientID          string                 `json:"clientId,omitempty"`
	Developers        []string               `json:"developers,omitempty"`
	GSCPropertyURL    string                 `json:"gscPropertyUrl,omitempty"`
	GoogleCredentials string                 `json:"googleCredentials,omitempty"`
	Config            map[string]any         `json:"config,omitempty"`
	HostingDetails    *domain.HostingDetails `json:"hostingDetails,omitempty"`
}

type UpdateWebsiteRequest struct {
	Name              *string                `json:"name,omitempty"`
	URL               *string                `json:"url,omitempty"`
	ClientID          *string                `json:"clientId,omitempty"`
	Developers        []string               `json:"developers,omitempty"`
	GSCPropertyURL    *string                `json:"gscPropertyUrl,omitempty"`
	GoogleCredentials *string                `json:"googleCredentials,omitempty"`
	Config            map[string]any         `json:"config,omitempty"`
	HostingDetails    *domain.HostingDetails `json:"hostingDetails,omitempty"`
}

// QuestionRequest documents the question shape. Responses are a string for
// approval and text questions and a list for multiple_choice, so they are
// decoded from the raw body rather than through this struct.
type QuestionRequest struct {
	Text     string   `json:"text"`
	Type     string   `json:"type" enum:"approval,multiple_choice,text"`
	Options  []string `json:"options,omitempty"`
	Response any      `json:"response,omitempty"`
}

type CreateWorkLogRequest struct {
	WebsiteID       string            `json:"websiteId"`
	Type            string            `json:"type,omitempty" enum:"log,action,report,observation"`
	Title           string            `json:"title,omitempty"`
	Description     string            `json:"description"`
	DurationMinutes int               `json:"durationMinutes,omitempty"`
	Tags            []string          `json:"tags,omitempty"`
	Attachments     []string          `json:"attachments,omitempty"`
	Questions       []QuestionRequest `json:"questions,omitempty"`
}

type UpdateWorkLogRequest struct {
	Status         *string           `json:"status,omitempty" enum:"pending,approved,rejected"`
	ClientResponse *string           `json:"clientResponse,omitempty"`
	IsStarred      *bool             `json:"isStarred,omitempty"`
	Questions      []QuestionRequest `json:"questions,omitempty"`
}

type CompetitorRequest struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	WebsiteID string `json:"websiteId"`
}

type MessageRequest struct {
	WebsiteID string `json:"websiteId"`
	Content   string `json:"content"`
}

type APIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

// Responses

type TokenResponse struct {
	Token string      `json:"token"`
	User  domain.User `json:"user"`
}

type OnboardingResponse struct {
	Token   string         `json:"token"`
	User    domain.User    `json:"user"`
	Website domain.Website `json:"website"`
}

type MeResponse struct {
	User        domain.User `json:"user"`
	Permissions []string    `json:"permissions"`
}

type APIKeyResponse struct {
	domain.APIKey
	Key string `json:"key,omitempty"`
}

type paginatedEvents struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"nextCursor,omitempty"`
}

type UploadResponse struct {
	Files []string `json:"files"`
}

// decodeQuestions reads the questions array from the raw request body so
// each response keeps its string-or-list shape.
func decodeQuestions(raw map[string]json.RawMessage) ([]domain.Question, error) {
	data, ok := raw["questions"]
	if !ok || isNullRaw(data) {
		return nil, nil
	}
	var qs []domain.Question
	if err := json.Unmarshal(data, &qs); err != nil {
		return nil, domain.Invalid("questions", "%v", err)
	}
	return qs, nil
}

func parseRole(raw string) (domain.Role, error) {
	role := domain.Role(raw)
	if raw != "" && !role.Valid() {
		return "", domain.Invalid("role", "unknown role %q", raw)
	}
	return role, nil
}
