package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"agencyline/internal/domain"
	"agencyline/internal/engine"
)

type workLogPath struct {
	ID string `path:"id"`
}

type workLogFeedInput struct {
	WebsiteID string `query:"websiteId"`
	Type      string `query:"type" doc:"log, action, report, observation or all"`
	IsStarred bool   `query:"isStarred"`
	Page      int    `query:"page" default:"1"`
	Limit     int    `query:"limit"`
}

type workLogFeedOutput struct {
	HasMore string           `header:"X-Has-More"`
	Page    string           `header:"X-Page"`
	Limit   string           `header:"X-Limit"`
	Body    []domain.WorkLog `json:"body"`
}

func registerWorkLogs(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-worklog",
		Method:        http.MethodPost,
		Path:          "/worklogs",
		Summary:       "Log work against a website",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateWorkLogRequest `json:"body"`
	}) (*struct {
		Body domain.WorkLog `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		questions, err := decodeQuestions(rawBodyMap(ctx))
		if err != nil {
			return nil, handleError(ctx, err)
		}
		in := input.Body
		wl, err := e.CreateWorkLog(ctx, actor, engine.WorkLogCreateOptions{
			WebsiteID:       in.WebsiteID,
			Type:            domain.WorkLogType(in.Type),
			Title:           in.Title,
			Description:     in.Description,
			DurationMinutes: in.DurationMinutes,
			Tags:            in.Tags,
			Attachments:     in.Attachments,
			Questions:       questions,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.WorkLog `json:"body"`
		}{Body: wl}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-worklogs",
		Method:      http.MethodGet,
		Path:        "/worklogs",
		Summary:     "Work log feed",
		Description: "Newest first. X-Has-More is true whenever the page is full.",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *workLogFeedInput) (*workLogFeedOutput, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		page, err := e.ListWorkLogs(ctx, actor, engine.FeedQuery{
			WebsiteID:   input.WebsiteID,
			Type:        input.Type,
			StarredOnly: input.IsStarred,
			Page:        input.Page,
			Limit:       input.Limit,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &workLogFeedOutput{
			HasMore: strconv.FormatBool(page.HasMore),
			Page:    strconv.Itoa(page.Page),
			Limit:   strconv.Itoa(page.Limit),
			Body:    nonNilSlice(page.Items),
		}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-worklog",
		Method:      http.MethodGet,
		Path:        "/worklogs/{id}",
		Summary:     "Get work log",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *workLogPath) (*struct {
		Body domain.WorkLog `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		wl, err := e.GetWorkLog(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.WorkLog `json:"body"`
		}{Body: wl}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-worklog",
		Method:      http.MethodPut,
		Path:        "/worklogs/{id}",
		Summary:     "Review, star or answer a work log",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body UpdateWorkLogRequest `json:"body"`
	}) (*struct {
		Body domain.WorkLog `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		raw := rawBodyMap(ctx)
		in := input.Body
		upd := engine.WorkLogUpdate{
			ClientResponse: in.ClientResponse,
			IsStarred:      in.IsStarred,
		}
		if in.Status != nil {
			status := domain.Status(*in.Status)
			upd.Status = &status
		}
		if present(raw, "questions") {
			qs, err := decodeQuestions(raw)
			if err != nil {
				return nil, handleError(ctx, err)
			}
			qs = nonNilSlice(qs)
			upd.Questions = &qs
		}
		wl, err := e.UpdateWorkLog(ctx, actor, input.ID, upd)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.WorkLog `json:"body"`
		}{Body: wl}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-worklog",
		Method:        http.MethodDelete,
		Path:          "/worklogs/{id}",
		Summary:       "Delete work log and its attachments",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *workLogPath) (*struct{}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteWorkLog(ctx, actor, input.ID); err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct{}{}, nil
	})
}
