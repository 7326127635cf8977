package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kiosk-control-plane/backend/internal/completion"
	"kiosk-control-plane/backend/internal/completion/service"
	sessiondomain "kiosk-control-plane/backend/internal/kiosksession/domain"
	"kiosk-control-plane/backend/internal/memstore"
	"kiosk-control-plane/backend/internal/policy"
	"kiosk-control-plane/backend/internal/server/middleware"
)

type allowList map[string]bool

func (a allowList) AuthorizePerson(_ context.Context, _ *sessiondomain.Session, personID string) error {
	if !a[personID] {
		return policy.ErrOutOfScope
	}
	return nil
}

var target = 10

func newRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st := memstore.New()
	st.PutTask(completion.Task{ID: "t-simple", RoleID: "role-1", Type: completion.TaskTypeSimple})
	st.PutTask(completion.Task{ID: "t-checkin", RoleID: "role-1", Type: completion.TaskTypeMultipleCheckin})
	st.PutTask(completion.Task{ID: "t-progress", RoleID: "role-1", Type: completion.TaskTypeProgress, TargetValue: &target})
	st.PutTask(completion.Task{ID: "t-foreign", RoleID: "role-2", Type: completion.TaskTypeSimple})
	repo := st.Completions()
	svc := service.NewService(repo, repo, 0, nil, nil, nil)

	session := &sessiondomain.Session{ID: "s1", CodeID: "c1", RoleID: "role-1", DeviceID: "tablet"}
	r := gin.New()
	g := r.Group("/v1/kiosk", func(c *gin.Context) {
		c.Request = c.Request.WithContext(middleware.WithSession(c.Request.Context(), session))
		c.Next()
	})
	NewHandler(svc, allowList{"kid-1": true}).RegisterDeviceRoutes(g)
	return r
}

var resetDate = time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)

func post(r *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/kiosk/completions", strings.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func recordBody(task, person, value string) string {
	v := "null"
	if value != "" {
		v = `"` + value + `"`
	}
	return `{"task_id":"` + task + `","person_id":"` + person + `","value":` + v + `,"reset_date":"` + resetDate + `"}`
}

type errorBody struct {
	Error struct {
		Code   string `json:"code"`
		Reason string `json:"reason"`
	} `json:"error"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var b errorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &b), w.Body.String())
	return b
}

func TestRecord_Progress(t *testing.T) {
	r := newRouter(t)
	w := post(r, recordBody("t-progress", "kid-1", "4"))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var resp struct {
		EntryNumber int                  `json:"entry_number"`
		Aggregate   completion.Aggregate `json:"aggregate"`
		CanUndo     bool                 `json:"can_undo"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.EntryNumber)
	require.NotNil(t, resp.Aggregate.Progress)
	assert.Equal(t, 40, *resp.Aggregate.Progress)
	assert.False(t, resp.CanUndo)

	w = post(r, recordBody("t-progress", "kid-1", "2.5"))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	b := decodeError(t, w)
	assert.Equal(t, "invalid_progress_value", b.Error.Code)
	assert.Equal(t, completion.ReasonNotAnInteger, b.Error.Reason)
}

func TestRecord_Errors(t *testing.T) {
	r := newRouter(t)
	require.Equal(t, http.StatusCreated, post(r, recordBody("t-simple", "kid-1", "")).Code)

	testCases := []struct {
		name   string
		body   string
		status int
		code   string
	}{
		{"duplicate simple", recordBody("t-simple", "kid-1", ""), http.StatusConflict, "already_completed"},
		{"person out of scope", recordBody("t-simple", "kid-9", ""), http.StatusForbidden, "person_out_of_scope"},
		{"task of another role", recordBody("t-foreign", "kid-1", ""), http.StatusNotFound, "task_not_found"},
		{"missing reset date", `{"task_id":"t-simple","person_id":"kid-1"}`, http.StatusBadRequest, "invalid_request"},
		{"bad reset date", `{"task_id":"t-simple","person_id":"kid-1","reset_date":"yesterday"}`, http.StatusBadRequest, "invalid_request"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := post(r, tc.body)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
			assert.Equal(t, tc.code, decodeError(t, w).Error.Code)
		})
	}
}

func TestRecord_CheckinLimit(t *testing.T) {
	r := newRouter(t)
	for i := 0; i < completion.MaxCheckinEntries; i++ {
		require.Equal(t, http.StatusCreated, post(r, recordBody("t-checkin", "kid-1", "")).Code)
	}
	w := post(r, recordBody("t-checkin", "kid-1", ""))
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "entry_limit_exceeded", decodeError(t, w).Error.Code)
}

func TestUndoAndStatus(t *testing.T) {
	r := newRouter(t)
	w := post(r, recordBody("t-simple", "kid-1", ""))
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		Completion completionResponse `json:"completion"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	statusPath := "/v1/kiosk/tasks/t-simple/status?person_id=kid-1&reset_date=" + url.QueryEscape(resetDate)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, statusPath, nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"can_undo":true`)
	assert.Contains(t, w.Body.String(), `"is_complete":true`)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/v1/kiosk/completions/"+created.Completion.ID, nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/v1/kiosk/completions/"+created.Completion.ID, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "completion_not_found", decodeError(t, w).Error.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, statusPath, nil))
	assert.Contains(t, w.Body.String(), `"is_complete":false`)
}

func TestUndo_NotSupported(t *testing.T) {
	r := newRouter(t)
	w := post(r, recordBody("t-checkin", "kid-1", ""))
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		Completion completionResponse `json:"completion"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/v1/kiosk/completions/"+created.Completion.ID, nil))
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "undo_not_supported", decodeError(t, w).Error.Code)
}

func TestStatus_BadQuery(t *testing.T) {
	r := newRouter(t)
	for _, q := range []string{"?reset_date=" + url.QueryEscape(resetDate), "?person_id=kid-1", "?person_id=kid-1&reset_date=today"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/kiosk/tasks/t-simple/status"+q, nil))
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}
