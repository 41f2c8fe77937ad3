package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agencyline/internal/config"
	"agencyline/internal/db"
	"agencyline/internal/domain"
	"agencyline/internal/engine"
	"agencyline/internal/metrics"
	"agencyline/internal/migrate"
	"agencyline/internal/storage"
)

const (
	testSecret   = "test-secret"
	testPassword = "password1"
)

type testServer struct {
	URL    string
	Engine engine.Engine
	Admin  domain.User
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, mods ...func(*config.Config)) (*testServer, func()) {
	t.Helper()
	ctx := context.Background()
	cfg := config.Default()
	for _, mod := range mods {
		mod(cfg)
	}
	conn, dialect, err := db.Open(ctx, db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn, dialect); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, dialect, cfg, nil)
	store, err := storage.NewDisk(config.StorageConfig{
		UploadsDir:        t.TempDir(),
		MaxFileBytes:      1 << 20,
		AllowedExtensions: []string{"png", "pdf"},
	})
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	e.Files = store
	admin, _, err := e.EnsureAdmin(ctx, "Ada", "admin@agency.test", testPassword)
	if err != nil {
		t.Fatalf("seed admin: %v", err)
	}
	collector, err := metrics.NewCollector()
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/api",
		Auth:     AuthConfig{JWTSecret: testSecret, TokenTTL: time.Hour},
		Metrics:  collector,
		Storage:  store,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		Admin:  admin,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func (s *testServer) login(t *testing.T, email, password string) string {
	t.Helper()
	res, data := doJSON(t, s.Client(), http.MethodPost, s.URL+"/api/auth/login", map[string]any{
		"email": email, "password": password,
	}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var out TokenResponse
	require.NoError(t, json.Unmarshal(data, &out))
	require.NotEmpty(t, out.Token)
	return out.Token
}

func (s *testServer) createUser(t *testing.T, adminToken, name, email string, role domain.Role) domain.User {
	t.Helper()
	res, data := doJSON(t, s.Client(), http.MethodPost, s.URL+"/api/users", map[string]any{
		"name": name, "email": email, "password": testPassword, "role": role,
	}, bearer(adminToken))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var u domain.User
	require.NoError(t, json.Unmarshal(data, &u))
	return u
}

type portal struct {
	srv         *testServer
	adminToken  string
	clientToken string
	devToken    string
	client      domain.User
	dev         domain.User
	site        domain.Website
}

func newPortal(t *testing.T, srv *testServer) portal {
	t.Helper()
	p := portal{srv: srv}
	p.adminToken = srv.login(t, "admin@agency.test", testPassword)
	p.client = srv.createUser(t, p.adminToken, "Cleo", "cleo@client.test", domain.RoleClient)
	p.dev = srv.createUser(t, p.adminToken, "Dana", "dana@agency.test", domain.RoleDeveloper)
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/websites", map[string]any{
		"name":       "Shop",
		"url":        "shop.test",
		"clientId":   p.client.ID,
		"developers": []string{p.dev.ID},
	}, bearer(p.adminToken))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &p.site))
	p.clientToken = srv.login(t, "cleo@client.test", testPassword)
	p.devToken = srv.login(t, "dana@agency.test", testPassword)
	return p
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env.Error
}

func TestHealthIsPublicAndAPIRequiresAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/health", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.JSONEq(t, `{"status":"ok","database":"ok"}`, string(data))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/worklogs", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "unauthorized", decodeError(t, data).Code)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/worklogs", nil, bearer("not-a-token"))
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "invalid_credentials", decodeError(t, data).Code)

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/auth/login", map[string]any{
		"email": "admin@agency.test", "password": "wrong-password",
	}, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "invalid_credentials", decodeError(t, data).Code)
}

func TestMeReturnsRoleAndPermissions(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	p := newPortal(t, srv)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/me", nil, bearer(p.clientToken))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var me MeResponse
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, p.client.ID, me.User.ID)
	assert.Equal(t, domain.RoleClient, me.User.Role)
	assert.Contains(t, me.Permissions, "worklog.review")
	assert.NotContains(t, string(data), "password")
}

func TestWorkLogLifecycleOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	p := newPortal(t, srv)
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/api/worklogs", map[string]any{
		"websiteId":   p.site.ID,
		"type":        "action",
		"title":       "Switch hosting plan",
		"description": "Move to the larger plan before the sale.",
		"questions": []map[string]any{
			{"text": "Proceed?", "type": "approval", "options": []string{"Yes", "No"}},
		},
	}, bearer(p.devToken))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var wl domain.WorkLog
	require.NoError(t, json.Unmarshal(data, &wl))
	assert.Equal(t, domain.StatusPending, wl.Status)
	assert.Equal(t, p.dev.ID, wl.DeveloperID)
	wlURL := srv.URL + "/api/worklogs/" + wl.ID

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/worklogs", nil, bearer(p.clientToken))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, "false", res.Header.Get("X-Has-More"))
	var feed []domain.WorkLog
	require.NoError(t, json.Unmarshal(data, &feed))
	require.Len(t, feed, 1)
	assert.Equal(t, wl.ID, feed[0].ID)

	res, data = doJSON(t, client, http.MethodPut, wlURL, map[string]any{"status": "approved"}, bearer(p.devToken))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodPut, wlURL, map[string]any{"status": "approved"}, bearer(p.clientToken))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
	assert.Equal(t, "clientResponse", decodeError(t, data).Details["field"])

	res, data = doJSON(t, client, http.MethodPut, wlURL, map[string]any{
		"status": "approved", "clientResponse": "Go ahead",
	}, bearer(p.clientToken))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &wl))
	assert.Equal(t, domain.StatusApproved, wl.Status)
	require.NotNil(t, wl.ClientResponse)
	assert.Equal(t, "Go ahead", *wl.ClientResponse)

	res, data = doJSON(t, client, http.MethodPut, wlURL, map[string]any{
		"status": "rejected", "clientResponse": "Changed my mind",
	}, bearer(p.clientToken))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodPut, wlURL, map[string]any{
		"questions": []map[string]any{
			{"text": "Proceed?", "type": "approval", "options": []string{"Yes", "No"}, "response": "Yes"},
		},
	}, bearer(p.clientToken))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &wl))
	require.Len(t, wl.Questions, 1)
	require.NotNil(t, wl.Questions[0].Response)
	assert.Equal(t, "Yes", wl.Questions[0].Response.Value)

	res, data = doJSON(t, client, http.MethodPut, wlURL, map[string]any{"isStarred": true}, bearer(p.devToken))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, _ = doJSON(t, client, http.MethodDelete, wlURL, nil, bearer(p.devToken))
	require.Equal(t, http.StatusForbidden, res.StatusCode)
	res, data = doJSON(t, client, http.MethodDelete, wlURL, nil, bearer(p.adminToken))
	require.Equal(t, http.StatusNoContent, res.StatusCode, string(data))
	res, data = doJSON(t, client, http.MethodGet, wlURL, nil, bearer(p.adminToken))
	require.Equal(t, http.StatusNotFound, res.StatusCode)
	assert.Equal(t, "not_found", decodeError(t, data).Code)
}

func TestFeedReportsHasMoreOnFullPage(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	p := newPortal(t, srv)

	for i := 0; i < 15; i++ {
		res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/worklogs", map[string]any{
			"websiteId": p.site.ID, "description": "Routine update",
		}, bearer(p.devToken))
		require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	}

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/worklogs?page=1&limit=15", nil, bearer(p.adminToken))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, "true", res.Header.Get("X-Has-More"))
	var items []domain.WorkLog
	require.NoError(t, json.Unmarshal(data, &items))
	assert.Len(t, items, 15)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/worklogs?page=2&limit=15", nil, bearer(p.adminToken))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.Equal(t, "false", res.Header.Get("X-Has-More"))
	assert.JSONEq(t, "[]", string(data))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/worklogs?type=memo", nil, bearer(p.adminToken))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))
}

func TestClientCannotReadOtherWebsitesFeed(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	p := newPortal(t, srv)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/websites", map[string]any{
		"name": "Other", "url": "other.test",
	}, bearer(p.adminToken))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var other domain.Website
	require.NoError(t, json.Unmarshal(data, &other))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/worklogs?websiteId="+other.ID, nil, bearer(p.clientToken))
	require.Equal(t, http.StatusForbidden, res.StatusCode, string(data))
	assert.Equal(t, "forbidden", decodeError(t, data).Code)

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/websites/"+other.ID, nil, bearer(p.clientToken))
	require.Equal(t, http.StatusForbidden, res.StatusCode)
}

func TestUploadAndServeAttachment(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	p := newPortal(t, srv)

	upload := func(token, filename string, content []byte) (*http.Response, []byte) {
		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		fw, err := mw.CreateFormFile(uploadField, filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
		require.NoError(t, mw.Close())
		req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/uploads", &buf)
		require.NoError(t, err)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		req.Header.Set("Authorization", "Bearer "+token)
		res, err := srv.Client().Do(req)
		require.NoError(t, err)
		defer res.Body.Close()
		data, err := io.ReadAll(res.Body)
		require.NoError(t, err)
		return res, data
	}

	png := []byte("\x89PNG\r\n\x1a\nfake")
	res, data := upload(p.devToken, "screenshot.png", png)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var out UploadResponse
	require.NoError(t, json.Unmarshal(data, &out))
	require.Len(t, out.Files, 1)
	assert.True(t, strings.HasPrefix(out.Files[0], "uploads/attachments-"))
	assert.True(t, strings.HasSuffix(out.Files[0], ".png"))

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/"+out.Files[0], nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, png, data)

	res, data = upload(p.devToken, "payload.exe", []byte("MZ"))
	require.Equal(t, http.StatusBadRequest, res.StatusCode, string(data))

	res, _ = upload(p.clientToken, "screenshot.png", png)
	require.Equal(t, http.StatusForbidden, res.StatusCode)

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/uploads/../agencyline.db", nil, nil)
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestAPIKeyAuthenticatesAsOwner(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	p := newPortal(t, srv)

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/users/"+p.dev.ID+"/api-keys", map[string]any{"name": "ci"}, bearer(p.adminToken))
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var key APIKeyResponse
	require.NoError(t, json.Unmarshal(data, &key))
	require.NotEmpty(t, key.Key)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/me", nil, map[string]string{"X-Api-Key": key.Key})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var me MeResponse
	require.NoError(t, json.Unmarshal(data, &me))
	assert.Equal(t, p.dev.ID, me.User.ID)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/api-keys", nil, bearer(p.adminToken))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	assert.NotContains(t, string(data), key.Key)

	res, _ = doJSON(t, srv.Client(), http.MethodDelete, srv.URL+"/api/api-keys/"+key.ID, nil, bearer(p.adminToken))
	require.Equal(t, http.StatusNoContent, res.StatusCode)
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/me", nil, map[string]string{"X-Api-Key": key.Key})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestOnboardingCreatesClientWithWebsite(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	body := map[string]any{
		"name": "Nadia", "email": "nadia@bakery.test", "password": "croissant",
		"websiteName": "Bakery", "websiteUrl": "bakery.test",
	}
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/onboarding/client", body, nil)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var out OnboardingResponse
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "https://bakery.test", out.Website.URL)
	assert.Equal(t, domain.RoleClient, out.User.Role)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/websites", nil, bearer(out.Token))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var sites []domain.Website
	require.NoError(t, json.Unmarshal(data, &sites))
	require.Len(t, sites, 1)
	assert.Equal(t, out.Website.ID, sites[0].ID)

	res, data = doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/onboarding/client", body, nil)
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
}

func TestWebsiteUpdateKeepsOmittedFields(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	p := newPortal(t, srv)
	siteURL := srv.URL + "/api/websites/" + p.site.ID

	res, data := doJSON(t, srv.Client(), http.MethodPut, siteURL, map[string]any{"name": "Shop EU"}, bearer(p.adminToken))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var site domain.Website
	require.NoError(t, json.Unmarshal(data, &site))
	assert.Equal(t, "Shop EU", site.Name)
	assert.Equal(t, []string{p.dev.ID}, site.DeveloperIDs)

	res, data = doJSON(t, srv.Client(), http.MethodPut, siteURL, map[string]any{"developers": []string{}}, bearer(p.adminToken))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &site))
	assert.Empty(t, site.DeveloperIDs)

	res, data = doJSON(t, srv.Client(), http.MethodPut, siteURL+"/hosting", map[string]any{
		"provider": "acme", "ftpUser": "shop", "ftpPassword": "s3cret",
	}, bearer(p.clientToken))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &site))
	assert.Equal(t, "s3cret", site.Hosting.FTPPassword)

	res, _ = doJSON(t, srv.Client(), http.MethodPut, siteURL, map[string]any{"name": "Mine"}, bearer(p.clientToken))
	require.Equal(t, http.StatusForbidden, res.StatusCode)
}

func TestEventsPaginateWithCursor(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	p := newPortal(t, srv)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/events?limit=2", nil, bearer(p.adminToken))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var first paginatedEvents
	require.NoError(t, json.Unmarshal(data, &first))
	require.Len(t, first.Items, 2)
	require.NotEmpty(t, first.NextCursor)
	assert.Equal(t, "website.created", first.Items[0].Type)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/events?limit=2&cursor="+first.NextCursor, nil, bearer(p.adminToken))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var second paginatedEvents
	require.NoError(t, json.Unmarshal(data, &second))
	require.NotEmpty(t, second.Items)
	assert.Less(t, second.Items[0].ID, first.Items[1].ID)

	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/events", nil, bearer(p.clientToken))
	require.Equal(t, http.StatusForbidden, res.StatusCode)
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/events?cursor=abc", nil, bearer(p.adminToken))
	require.Equal(t, http.StatusBadRequest, res.StatusCode)
}

func TestEventPageSizeComesFromConfig(t *testing.T) {
	srv, cleanup := newTestServer(t, func(cfg *config.Config) {
		cfg.Events.PageSize = 2
		cfg.Events.MaxPageSize = 3
	})
	defer cleanup()
	p := newPortal(t, srv)

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/events", nil, bearer(p.adminToken))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var page paginatedEvents
	require.NoError(t, json.Unmarshal(data, &page))
	assert.Len(t, page.Items, 2)
	assert.NotEmpty(t, page.NextCursor)

	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/events?limit=500", nil, bearer(p.adminToken))
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	require.NoError(t, json.Unmarshal(data, &page))
	assert.Len(t, page.Items, 3)
}

func TestOversizedBodyIsRejected(t *testing.T) {
	srv, cleanup := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.MaxBodyBytes = 256
	})
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/auth/login", map[string]any{
		"email": "admin@agency.test", "password": strings.Repeat("x", 1024),
	}, nil)
	require.Equal(t, http.StatusRequestEntityTooLarge, res.StatusCode, string(data))
	assert.Equal(t, "payload_too_large", decodeError(t, data).Code)

	srv.login(t, "admin@agency.test", testPassword)
}

func TestMetricsAreExposed(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/health", nil, nil)
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/metrics", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "agencyline_http_requests_total")
	assert.Contains(t, string(data), `path="/api/health"`)
}

func TestOpenAPIIsPublic(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/api/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	assert.Contains(t, string(data), "/api/worklogs/{id}")
	assert.Contains(t, string(data), "bearerAuth")
	assert.Contains(t, string(data), "#/components/schemas/ApiError")
}

func TestWebhookDispatcherDeliversMatchingEvents(t *testing.T) {
	var mu sync.Mutex
	var received []webhookEvent
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var evt webhookEvent
		_ = json.Unmarshal(body, &evt)
		assert.Equal(t, signPayload("hush", body), r.Header.Get(signatureHeader))
		assert.Equal(t, "user.created", r.Header.Get("X-Agencyline-Event"))
		assert.Empty(t, r.Header.Get("X-Agencyline-Secret"))
		mu.Lock()
		received = append(received, evt)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer hook.Close()

	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	e := srv.Engine
	e.Config.Webhooks = []config.WebhookConfig{{URL: hook.URL, Events: []string{"user.created"}, Secret: "hush"}}
	d := newWebhookDispatcher(e, nil)

	// The first pass only records where delivery starts.
	d.dispatchAll(ctx)
	_, err := e.CreateUser(ctx, srv.Admin, engine.UserInput{
		Name: "Cleo", Email: "cleo@client.test", Password: testPassword, Role: domain.RoleClient,
	})
	require.NoError(t, err)
	_, err = e.CreateWebsite(ctx, srv.Admin, engine.WebsiteInput{Name: "Shop", URL: "shop.test"})
	require.NoError(t, err)
	d.dispatchAll(ctx)
	d.dispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "user.created", received[0].Type)
	assert.Equal(t, srv.Admin.ID, received[0].ActorID)
	assert.JSONEq(t, `{"role":"client"}`, string(received[0].Payload))
}

func TestWebhookDispatcherRetriesFailedDelivery(t *testing.T) {
	var mu sync.Mutex
	var calls []int64
	fail := true
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var evt webhookEvent
		_ = json.NewDecoder(r.Body).Decode(&evt)
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, evt.ID)
		if fail {
			fail = false
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer hook.Close()

	srv, cleanup := newTestServer(t)
	defer cleanup()
	ctx := context.Background()
	e := srv.Engine
	e.Config.Webhooks = []config.WebhookConfig{{URL: hook.URL}}
	d := newWebhookDispatcher(e, nil)
	d.dispatchAll(ctx)

	_, err := e.CreateWebsite(ctx, srv.Admin, engine.WebsiteInput{Name: "Shop", URL: "shop.test"})
	require.NoError(t, err)
	d.dispatchAll(ctx)
	d.dispatchAll(ctx)
	d.dispatchAll(ctx)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, calls, 2)
	assert.Equal(t, calls[0], calls[1])
}

func TestWebhookDisabledTargetsAreSkipped(t *testing.T) {
	off := false
	e := engine.Engine{Config: &config.Config{Webhooks: []config.WebhookConfig{
		{URL: "http://127.0.0.1:1/hook", Enabled: &off},
		{URL: "  "},
		{URL: "http://127.0.0.1:1/other", Events: []string{" worklog.created ", ""}},
	}}}
	d := newWebhookDispatcher(e, nil)
	require.Len(t, d.targets, 1)
	assert.True(t, d.targets[0].wants("worklog.created"))
	assert.False(t, d.targets[0].wants("user.created"))
}

func TestIssueTokenRoundTrip(t *testing.T) {
	u := domain.User{ID: "u-1", Role: domain.RoleDeveloper}
	token, err := IssueToken(testSecret, u, time.Minute, time.Now())
	require.NoError(t, err)
	sub, err := parseToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "u-1", sub)

	_, err = parseToken(token, "other-secret")
	require.Error(t, err)

	expired, err := IssueToken(testSecret, u, time.Minute, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	_, err = parseToken(expired, testSecret)
	require.Error(t, err)

	_, err = IssueToken("", u, time.Minute, time.Now())
	require.Error(t, err)
}
