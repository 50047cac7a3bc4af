package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lingua-coach/curriculum-engine/config"
	"github.com/lingua-coach/curriculum-engine/internal/application/command"
	"github.com/lingua-coach/curriculum-engine/internal/application/query"
	"github.com/lingua-coach/curriculum-engine/internal/domain/curriculum"
	"github.com/lingua-coach/curriculum-engine/internal/infrastructure/persistence/sqlite"
	"github.com/lingua-coach/curriculum-engine/internal/interface/http/handlers"
	"github.com/lingua-coach/curriculum-engine/pkg/logger"
)

const testSecret = "test-secret-that-is-long-enough-32b"

type toggles map[string]bool

func (t toggles) Enabled(name string) bool {
	on, ok := t[name]
	return !ok || on
}

type apiClient struct {
	t       *testing.T
	handler http.Handler
	auth    *handlers.Authenticator
}

func newAPI(t *testing.T, features FeatureToggle) *apiClient {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.OpenMemory(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	now := time.Now().UTC().Add(-time.Hour)
	course, _ := curriculum.NewCourse("course-1", "French A1", "Français A1", now)
	require.NoError(t, store.Curriculum().SaveCourse(ctx, course))
	module, _ := curriculum.NewModule("module-1", course.ID, "Unit 1", "Unité 1", 1, now)
	require.NoError(t, store.Curriculum().SaveModule(ctx, module))
	lesson, _ := curriculum.NewLesson("lesson-1", module, "Greetings", "Salutations", 1, now)
	require.NoError(t, store.Curriculum().SaveLesson(ctx, lesson))
	require.NoError(t, store.Curriculum().SaveEnrollment(ctx, &curriculum.Enrollment{
		UserID: "learner-1", CourseID: course.ID, EnrolledAt: now,
	}))

	auth := handlers.NewAuthenticator(testSecret, "curriculum-engine", []string{"author"})
	cfg := DefaultConfig()
	cfg.RateLimitPerMinute = 0
	cfg.AllowedOrigins = []string{"https://studio.example"}
	srv := NewServer(cfg, Dependencies{
		Commands: command.NewHandlers(command.Deps{Store: store}),
		Queries:  query.NewHandlers(query.Deps{Store: store}),
		Auth:     auth,
		Features: features,
		Logger:   logger.Nop(),
	})
	return &apiClient{t: t, handler: srv.Handler(), auth: auth}
}

func (c *apiClient) token(sub string, roles ...string) string {
	tok, err := c.auth.Issue(sub, roles, time.Hour)
	require.NoError(c.t, err)
	return tok
}

func (c *apiClient) do(method, path, token string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(c.t, err)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	c.handler.ServeHTTP(rec, req)
	return rec
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, data any) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	if data != nil && len(env.Data) > 0 {
		require.NoError(t, json.Unmarshal(env.Data, data))
	}
	return env
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	env := decode(t, rec, nil)
	require.NotNil(t, env.Error, rec.Body.String())
	return env.Error.Code
}

func TestProbesAndTemplate(t *testing.T) {
	api := newAPI(t, nil)

	rec := api.do(http.MethodGet, "/live", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = api.do(http.MethodGet, "/api/v1/slot-template", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tpl query.SlotTemplateResult
	decode(t, rec, &tpl)
	assert.Equal(t, "2024.1", tpl.Version)
	assert.Equal(t, 52, tpl.TotalMinutes)
	assert.Len(t, tpl.Entries, 7)

	rec = api.do(http.MethodGet, "/api/v1/lessons/missing/activities", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorCode(t, rec))
}

func TestAuthorRoutesRequireAuthorRole(t *testing.T) {
	api := newAPI(t, nil)
	body := map[string]any{"lessonId": "lesson-1", "slotIndex": 1, "title": "Welcome", "titleFr": "Bienvenue"}

	rec := api.do(http.MethodPost, "/api/v1/activities", "", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(http.MethodPost, "/api/v1/activities", "not-a-jwt", body)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = api.do(http.MethodPost, "/api/v1/activities", api.token("learner-1"), body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "forbidden", errorCode(t, rec))

	rec = api.do(http.MethodPost, "/api/v1/activities", api.token("author-1", "author"), body)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestCreateActivityErrors(t *testing.T) {
	api := newAPI(t, nil)
	tok := api.token("author-1", "author")

	ok := map[string]any{"lessonId": "lesson-1", "slotIndex": 3, "title": "Grammar", "titleFr": "Grammaire"}
	require.Equal(t, http.StatusCreated, api.do(http.MethodPost, "/api/v1/activities", tok, ok).Code)

	rec := api.do(http.MethodPost, "/api/v1/activities", tok, ok)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_occupied", errorCode(t, rec))

	rec = api.do(http.MethodPost, "/api/v1/activities", tok, map[string]any{
		"lessonId": "lesson-1", "slotIndex": 2, "slotType": "quiz_slot", "title": "Wrong",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "slot_mismatch", errorCode(t, rec))

	rec = api.do(http.MethodPost, "/api/v1/activities", tok, map[string]any{
		"lessonId": "lesson-1", "slotIndex": 2, "title": "Clip",
		"media": map[string]any{"videoUrl": "not a url"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	env := decode(t, rec, nil)
	require.NotNil(t, env.Error)
	assert.Equal(t, "invalid_request", env.Error.Code)
	assert.Contains(t, string(env.Error.Details), `"field":"media.videoUrl"`)

	rec = api.do(http.MethodPost, "/api/v1/activities", tok, `{"lessonId":`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestLearnerFlow(t *testing.T) {
	api := newAPI(t, nil)
	authorTok := api.token("author-1", "author")

	rec := api.do(http.MethodPost, "/api/v1/activities", authorTok, map[string]any{
		"lessonId": "lesson-1", "slotIndex": 1, "status": "published",
		"title": "Welcome", "titleFr": "Bienvenue",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created query.ActivityDTO
	decode(t, rec, &created)

	rec = api.do(http.MethodPost, "/api/v1/activities", authorTok, map[string]any{
		"lessonId": "lesson-1", "slotIndex": 2, "title": "Clip",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var draft query.ActivityDTO
	decode(t, rec, &draft)

	learnerTok := api.token("learner-1")
	rec = api.do(http.MethodPost, "/api/v1/activities/"+created.ID+"/start", learnerTok, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var started startResponse
	decode(t, rec, &started)
	assert.Equal(t, "created", started.Transition)
	assert.Equal(t, "in_progress", started.Progress.Status)

	rec = api.do(http.MethodPost, "/api/v1/activities/"+created.ID+"/complete", learnerTok,
		map[string]any{"timeSpentSeconds": 30})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var done completeResponse
	decode(t, rec, &done)
	assert.Equal(t, "completed", done.Progress.Status)
	assert.Equal(t, 30, done.Progress.TimeSpentSeconds)

	rec = api.do(http.MethodPost, "/api/v1/activities/"+created.ID+"/start", api.token("stranger"), nil)
	assert.Equal(t, http.StatusLocked, rec.Code)

	rec = api.do(http.MethodGet, "/api/v1/activities/"+draft.ID, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "drafts are hidden from learners")
	rec = api.do(http.MethodGet, "/api/v1/activities/"+draft.ID, authorTok, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = api.do(http.MethodGet, "/api/v1/activities/"+created.ID+"/progress", learnerTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestExportAndImport(t *testing.T) {
	api := newAPI(t, toggles{config.FeatureXLSXTransfer: false})
	tok := api.token("author-1", "author")

	for i, title := range []string{"Welcome", "Clip"} {
		rec := api.do(http.MethodPost, "/api/v1/activities", tok, map[string]any{
			"lessonId": "lesson-1", "slotIndex": i + 1, "title": title, "titleFr": title,
		})
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := api.do(http.MethodGet, "/api/v1/lessons/lesson-1/export", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "lesson-lesson-1.json")
	var bundle query.LessonBundle
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bundle))
	assert.Len(t, bundle.Activities, 2)

	rec = api.do(http.MethodGet, "/api/v1/lessons/lesson-1/export?format=xlsx", tok, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, "xlsx is switched off")

	rec = api.do(http.MethodPost, "/api/v1/lessons/lesson-1/import", tok, `{"activities":[]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "an empty bundle is rejected")

	exported, err := json.Marshal(bundle)
	require.NoError(t, err)
	rec = api.do(http.MethodPost, "/api/v1/lessons/lesson-1/import", tok, string(exported))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "occupied slots reject the run")
	var report command.ImportResult
	env := decode(t, rec, &report)
	assert.Equal(t, "items_rejected", env.Error.Code)

	rec = api.do(http.MethodPost, "/api/v1/lessons/lesson-1/import?replace=true", tok, string(exported))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	api := newAPI(t, nil)
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/activities", nil)
	req.Header.Set("Origin", "https://studio.example")
	rec := httptest.NewRecorder()
	api.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://studio.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestAuthenticator(t *testing.T) {
	auth := handlers.NewAuthenticator(testSecret, "curriculum-engine", []string{"author", "admin"})

	tok, err := auth.Issue("u-1", []string{"admin"}, time.Minute)
	require.NoError(t, err)
	p, err := auth.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "u-1", p.UserID)
	assert.True(t, p.Author)

	expired, err := auth.Issue("u-1", nil, -time.Hour)
	require.NoError(t, err)
	_, err = auth.Verify(expired)
	assert.ErrorIs(t, err, handlers.ErrInvalidToken)

	other := handlers.NewAuthenticator(testSecret, "someone-else", nil)
	foreign, err := other.Issue("u-1", nil, time.Minute)
	require.NoError(t, err)
	_, err = auth.Verify(foreign)
	assert.ErrorIs(t, err, handlers.ErrInvalidToken, "issuer must match")

	_, err = auth.Verify("")
	assert.ErrorIs(t, err, handlers.ErrMissingToken)
	_, err = handlers.NewAuthenticator("", "", nil).Verify(tok)
	assert.ErrorIs(t, err, handlers.ErrInvalidToken)
}
