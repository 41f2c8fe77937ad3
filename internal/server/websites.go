package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"agencyline/internal/domain"
	"agencyline/internal/engine"
)

type websitePath struct {
	ID string `path:"id"`
}

func registerWebsites(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-website",
		Method:        http.MethodPost,
		Path:          "/websites",
		Summary:       "Create website",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateWebsiteRequest `json:"body"`
	}) (*struct {
		Body domain.Website `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		in := input.Body
		wi := engine.WebsiteInput{
			Name:              in.Name,
			URL:               in.URL,
			ClientID:          in.ClientID,
			DeveloperIDs:      in.Developers,
			GSCPropertyURL:    in.GSCPropertyURL,
			GoogleCredentials: in.GoogleCredentials,
			Config:            in.Config,
		}
		if in.HostingDetails != nil {
			wi.Hosting = *in.HostingDetails
		}
		site, err := e.CreateWebsite(ctx, actor, wi)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.Website `json:"body"`
		}{Body: site}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-websites",
		Method:      http.MethodGet,
		Path:        "/websites",
		Summary:     "List websites visible to the caller",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Website `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListWebsites(ctx, actor)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body []domain.Website `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-website",
		Method:      http.MethodGet,
		Path:        "/websites/{id}",
		Summary:     "Get website",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *websitePath) (*struct {
		Body domain.Website `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		site, err := e.GetWebsite(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.Website `json:"body"`
		}{Body: site}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-website",
		Method:      http.MethodPut,
		Path:        "/websites/{id}",
		Summary:     "Update website",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string               `path:"id"`
		Body UpdateWebsiteRequest `json:"body"`
	}) (*struct {
		Body domain.Website `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		in := input.Body
		raw := rawBodyMap(ctx)
		upd := engine.WebsiteUpdate{
			Name:              in.Name,
			URL:               in.URL,
			ClientID:          in.ClientID,
			GSCPropertyURL:    in.GSCPropertyURL,
			GoogleCredentials: in.GoogleCredentials,
			Hosting:           in.HostingDetails,
		}
		if present(raw, "developers") {
			devs := nonNilSlice(in.Developers)
			upd.DeveloperIDs = &devs
		}
		if present(raw, "config") {
			upd.Config = in.Config
			if upd.Config == nil {
				upd.Config = map[string]any{}
			}
		}
		site, err := e.UpdateWebsite(ctx, actor, input.ID, upd)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.Website `json:"body"`
		}{Body: site}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-website",
		Method:        http.MethodDelete,
		Path:          "/websites/{id}",
		Summary:       "Delete website and everything attached to it",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *websitePath) (*struct{}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteWebsite(ctx, actor, input.ID); err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-website-hosting",
		Method:      http.MethodPut,
		Path:        "/websites/{id}/hosting",
		Summary:     "Replace hosting details",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID   string                `path:"id"`
		Body domain.HostingDetails `json:"body"`
	}) (*struct {
		Body domain.Website `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		site, err := e.UpdateHosting(ctx, actor, input.ID, input.Body)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.Website `json:"body"`
		}{Body: site}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "scan-website",
		Method:      http.MethodPost,
		Path:        "/websites/{id}/scan",
		Summary:     "Run an SEO scan now",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusBadGateway,
		},
	}, func(ctx context.Context, input *websitePath) (*struct {
		Body domain.Website `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		site, err := e.ScanWebsite(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.Website `json:"body"`
		}{Body: site}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "website-stats",
		Method:      http.MethodGet,
		Path:        "/websites/{id}/gsc",
		Summary:     "Search Console daily stats",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *websitePath) (*struct {
		Body []domain.DailyStat `json:"body"`
	}, error) {
		actor, authErr := currentUser(ctx)
		if authErr != nil {
			return nil, authErr
		}
		stats, err := e.WebsiteStats(ctx, actor, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body []domain.DailyStat `json:"body"`
		}{Body: nonNilSlice(stats)}, nil
	})
}
