package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

type WorkLogType string

const (
	TypeLog         WorkLogType = "log"
	TypeAction      WorkLogType = "action"
	TypeReport      WorkLogType = "report"
	TypeObservation WorkLogType = "observation"
)

func (t WorkLogType) Valid() bool {
	switch t {
	case TypeLog, TypeAction, TypeReport, TypeObservation:
		return true
	}
	return false
}

// Status is only carried by action entries; every other type has NoStatus.
type Status string

const (
	NoStatus       Status = ""
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// InitialStatus returns the status a freshly created entry of type t starts in.
func InitialStatus(t WorkLogType) Status {
	if t == TypeAction {
		return StatusPending
	}
	return NoStatus
}

type QuestionType string

const (
	QuestionApproval       QuestionType = "approval"
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionText           QuestionType = "text"
)

// Response is an answer to a Question: a single value for approval and text
// questions, a list of selections for multiple_choice.
type Response struct {
	Value  string
	Values []string
	IsList bool
}

func TextResponse(v string) *Response       { return &Response{Value: v} }
func ChoiceResponse(v ...string) *Response { return &Response{Values: v, IsList: true} }

func (r Response) MarshalJSON() ([]byte, error) {
	if r.IsList {
		values := r.Values
		if values == nil {
			values = []string{}
		}
		return json.Marshal(values)
	}
	return json.Marshal(r.Value)
}

func (r *Response) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var values []string
		if err := json.Unmarshal(data, &values); err != nil {
			return fmt.Errorf("response must be a string or a list of strings: %w", err)
		}
		*r = Response{Values: values, IsList: true}
		return nil
	}
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("response must be a string or a list of strings: %w", err)
	}
	*r = Response{Value: v}
	return nil
}

type Question struct {
	Text     string       `json:"text"`
	Type     QuestionType `json:"type"`
	Options  []string     `json:"options,omitempty"`
	Response *Response    `json:"response,omitempty"`
}

// Validate checks the question shape and, when answered, its response.
func (q Question) Validate(idx int) error {
	field := fmt.Sprintf("questions[%d]", idx)
	if strings.TrimSpace(q.Text) == "" {
		return Invalid(field+".text", "is required")
	}
	for i, opt := range q.Options {
		if strings.TrimSpace(opt) == "" {
			return Invalid(fmt.Sprintf("%s.options[%d]", field, i), "must not be blank")
		}
	}
	switch q.Type {
	case QuestionApproval:
		if len(q.Options) != 2 {
			return Invalid(field+".options", "approval questions need exactly 2 options, got %d", len(q.Options))
		}
	case QuestionMultipleChoice:
	case QuestionText:
		if len(q.Options) > 0 {
			return Invalid(field+".options", "text questions take no options")
		}
	default:
		return Invalid(field+".type", "unknown question type %q", q.Type)
	}
	if q.Response == nil {
		return nil
	}
	return q.validateResponse(field + ".response")
}

func (q Question) validateResponse(field string) error {
	r := q.Response
	switch q.Type {
	case QuestionApproval:
		if r.IsList {
			return Invalid(field, "approval answers are a single option")
		}
		if !contains(q.Options, r.Value) {
			return Invalid(field, "%q is not one of the options", r.Value)
		}
	case QuestionMultipleChoice:
		if !r.IsList {
			return Invalid(field, "multiple choice answers are a list")
		}
		for _, v := range r.Values {
			if !contains(q.Options, v) {
				return Invalid(field, "%q is not one of the options", v)
			}
		}
	case QuestionText:
		if r.IsList {
			return Invalid(field, "text answers are a single value")
		}
	}
	return nil
}

// ValidateQuestions validates every question in order.
func ValidateQuestions(qs []Question) error {
	for i, q := range qs {
		if err := q.Validate(i); err != nil {
			return err
		}
	}
	return nil
}

// SamePrompts reports whether next keeps the prompts of prev and differs at
// most in responses.
func SamePrompts(prev, next []Question) bool {
	if len(prev) != len(next) {
		return false
	}
	for i := range prev {
		if prev[i].Text != next[i].Text || prev[i].Type != next[i].Type {
			return false
		}
		if len(prev[i].Options) != len(next[i].Options) {
			return false
		}
		for j := range prev[i].Options {
			if prev[i].Options[j] != next[i].Options[j] {
				return false
			}
		}
	}
	return true
}

func contains(items []string, v string) bool {
	for _, item := range items {
		if item == v {
			return true
		}
	}
	return false
}

type WorkLog struct {
	ID              string      `json:"id"`
	WebsiteID       string      `json:"websiteId"`
	DeveloperID     string      `json:"developerId"`
	Type            WorkLogType `json:"type"`
	Title           string      `json:"title,omitempty"`
	Description     string      `json:"description"`
	DurationMinutes int         `json:"durationMinutes"`
	Tags            []string    `json:"tags"`
	Status          Status      `json:"status,omitempty"`
	ClientResponse  *string     `json:"clientResponse,omitempty"`
	IsStarred       bool        `json:"isStarred"`
	Attachments     []string    `json:"attachments"`
	Questions       []Question  `json:"questions"`
	Website         *Ref        `json:"website,omitempty"`
	Developer       *Ref        `json:"developer,omitempty"`
	CreatedAt       string      `json:"createdAt"`
	UpdatedAt       string      `json:"updatedAt"`
}
