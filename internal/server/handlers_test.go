package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"classtab/internal/ics"
	"classtab/internal/registry"
	"classtab/internal/schedule"
	"classtab/internal/storage"
	"classtab/internal/wakeup"
)

var testLoc = time.FixedZone("UTC+8", 8*3600)

// testNow is a Wednesday mid-morning.
var testNow = time.Date(2025, 9, 10, 10, 0, 0, 0, testLoc)

func testCalendar(events ...string) string {
	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//test//test//CN\r\n")
	for _, ev := range events {
		b.WriteString(ev)
	}
	b.WriteString("END:VCALENDAR\r\n")
	return b.String()
}

func testEvent(summary string, start, end time.Time, extra ...string) string {
	lines := []string{
		"BEGIN:VEVENT",
		"UID:" + summary,
		"SUMMARY:" + summary,
		"DTSTART:" + start.Format("20060102T150405"),
		"DTEND:" + end.Format("20060102T150405"),
	}
	lines = append(lines, extra...)
	lines = append(lines, "END:VEVENT")
	return strings.Join(lines, "\r\n") + "\r\n"
}

type testEnv struct {
	server *Server
	router *gin.Engine
}

func newTestEnv(t *testing.T, wakeupBase string) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	log := zap.NewNop()

	reg, err := registry.Load(dir+"/userdata.json", log)
	require.NoError(t, err)

	store, err := storage.NewStore(dir)
	require.NoError(t, err)

	parser := ics.NewParser(testLoc, log)
	expander := ics.NewExpander(testLoc, 365, log)
	cache := schedule.NewCache()
	engine := schedule.NewEngine(reg, store, cache, parser, expander, testLoc, log,
		schedule.WithNow(func() time.Time { return testNow }))

	var wk *wakeup.Client
	if wakeupBase != "" {
		wk = wakeup.NewClient(log, wakeup.WithBaseURL(wakeupBase))
	} else {
		wk = wakeup.NewClient(log)
	}

	srv := New(engine, reg, store, cache, parser, wk, testLoc, log)
	return &testEnv{server: srv, router: srv.Router()}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if strings.HasPrefix(body, "{") {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var env struct {
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env.Data
}

func decodeErrorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env.Error.Code
}

func bindUser(t *testing.T, env *testEnv, group, user, nickname, body string) {
	t.Helper()
	w := env.do(http.MethodPost,
		fmt.Sprintf("/api/groups/%s/users/%s/calendar?nickname=%s", group, user, nickname), body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, "")
	w := env.do(http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
}

func TestBindCalendarAndQuerySchedule(t *testing.T) {
	env := newTestEnv(t, "")

	afternoon := testEvent("高等数学",
		time.Date(2025, 9, 10, 14, 0, 0, 0, testLoc),
		time.Date(2025, 9, 10, 15, 30, 0, 0, testLoc))
	bindUser(t, env, "g1", "u1", "xiaoming", testCalendar(afternoon))

	w := env.do(http.MethodGet, "/api/groups/g1/users/u1/schedule", "")
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	courses := data["courses"].([]interface{})
	require.Len(t, courses, 1)
	course := courses[0].(map[string]interface{})
	require.Equal(t, "高等数学", course["summary"])
	require.Equal(t, float64(90), course["duration_minutes"])
}

func TestBindCalendarRejectsGarbage(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do(http.MethodPost, "/api/groups/g1/users/u1/calendar", "this is not a calendar")
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	require.Equal(t, "PARSE_ERROR", decodeErrorCode(t, w))

	// A rejected bind must not register the user.
	w = env.do(http.MethodGet, "/api/groups/g1/users/u1/schedule", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "NOT_BOUND", decodeErrorCode(t, w))
}

func TestBindCalendarEmptyBody(t *testing.T) {
	env := newTestEnv(t, "")
	w := env.do(http.MethodPost, "/api/groups/g1/users/u1/calendar", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "VALIDATION_ERROR", decodeErrorCode(t, w))
}

func TestRebindReplacesSchedule(t *testing.T) {
	env := newTestEnv(t, "")

	old := testEvent("旧课程",
		time.Date(2025, 9, 10, 14, 0, 0, 0, testLoc),
		time.Date(2025, 9, 10, 15, 0, 0, 0, testLoc))
	bindUser(t, env, "g1", "u1", "xiaoming", testCalendar(old))

	replacement := testEvent("新课程",
		time.Date(2025, 9, 10, 16, 0, 0, 0, testLoc),
		time.Date(2025, 9, 10, 17, 0, 0, 0, testLoc))
	bindUser(t, env, "g1", "u1", "xiaoming", testCalendar(replacement))

	w := env.do(http.MethodGet, "/api/groups/g1/users/u1/schedule", "")
	data := decodeData(t, w)
	courses := data["courses"].([]interface{})
	require.Len(t, courses, 1)
	require.Equal(t, "新课程", courses[0].(map[string]interface{})["summary"])
}

func TestScheduleEmptyDayMessage(t *testing.T) {
	env := newTestEnv(t, "")

	// Only a tomorrow course bound; today is empty.
	tomorrow := testEvent("明日课程",
		time.Date(2025, 9, 11, 8, 0, 0, 0, testLoc),
		time.Date(2025, 9, 11, 9, 40, 0, 0, testLoc))
	bindUser(t, env, "g1", "u1", "xiaoming", testCalendar(tomorrow))

	w := env.do(http.MethodGet, "/api/groups/g1/users/u1/schedule", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "你今天没有课啦！", decodeData(t, w)["message"])

	w = env.do(http.MethodGet, "/api/groups/g1/users/u1/schedule?date=tomorrow", "")
	data := decodeData(t, w)
	require.Len(t, data["courses"].([]interface{}), 1)
}

func TestScheduleInvalidDate(t *testing.T) {
	env := newTestEnv(t, "")
	w := env.do(http.MethodGet, "/api/groups/g1/users/u1/schedule?date=yesterday", "")
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "VALIDATION_ERROR", decodeErrorCode(t, w))
}

func TestUserNowClassification(t *testing.T) {
	env := newTestEnv(t, "")

	current := testEvent("进行中的课",
		time.Date(2025, 9, 10, 9, 30, 0, 0, testLoc),
		time.Date(2025, 9, 10, 11, 0, 0, 0, testLoc))
	bindUser(t, env, "g1", "u1", "xiaoming", testCalendar(current))

	w := env.do(http.MethodGet, "/api/groups/g1/users/u1/now", "")
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	require.Equal(t, "in_progress", data["status"])
	require.Equal(t, "60 分钟", data["detail"])
	require.Equal(t, "进行中的课", data["course"].(map[string]interface{})["summary"])
}

func TestUserNowNoCourses(t *testing.T) {
	env := newTestEnv(t, "")

	tomorrow := testEvent("明日课程",
		time.Date(2025, 9, 11, 8, 0, 0, 0, testLoc),
		time.Date(2025, 9, 11, 9, 40, 0, 0, testLoc))
	bindUser(t, env, "g1", "u1", "xiaoming", testCalendar(tomorrow))

	w := env.do(http.MethodGet, "/api/groups/g1/users/u1/now", "")
	data := decodeData(t, w)
	require.Equal(t, "no_course", data["status"])
	require.Nil(t, data["course"])
}

func TestGroupSnapshot(t *testing.T) {
	env := newTestEnv(t, "")

	upcoming := testEvent("高等数学",
		time.Date(2025, 9, 10, 14, 0, 0, 0, testLoc),
		time.Date(2025, 9, 10, 15, 30, 0, 0, testLoc))
	bindUser(t, env, "g1", "u1", "xiaoming", testCalendar(upcoming))

	free := testEvent("周五课程",
		time.Date(2025, 9, 12, 8, 0, 0, 0, testLoc),
		time.Date(2025, 9, 12, 9, 40, 0, 0, testLoc))
	bindUser(t, env, "g1", "u2", "xiaohong", testCalendar(free))

	w := env.do(http.MethodGet, "/api/groups/g1/now", "")
	require.Equal(t, http.StatusOK, w.Code)
	entries := decodeData(t, w)["entries"].([]interface{})
	require.Len(t, entries, 2)

	first := entries[0].(map[string]interface{})
	require.Equal(t, "u1", first["user_id"])
	require.Equal(t, "高等数学", first["summary"])

	second := entries[1].(map[string]interface{})
	require.Equal(t, "u2", second["user_id"])
	require.Equal(t, "今日无课", second["summary"])
	require.Nil(t, second["course"])
}

func TestGroupSnapshotUnknownGroup(t *testing.T) {
	env := newTestEnv(t, "")
	w := env.do(http.MethodGet, "/api/groups/nobody/now", "")
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "GROUP_EMPTY", decodeErrorCode(t, w))
}

func TestWeeklyRanking(t *testing.T) {
	env := newTestEnv(t, "")

	long := testEvent("长课",
		time.Date(2025, 9, 11, 8, 0, 0, 0, testLoc),
		time.Date(2025, 9, 11, 11, 0, 0, 0, testLoc))
	bindUser(t, env, "g1", "u1", "xiaoming", testCalendar(long))

	short := testEvent("短课",
		time.Date(2025, 9, 11, 8, 0, 0, 0, testLoc),
		time.Date(2025, 9, 11, 9, 0, 0, 0, testLoc))
	bindUser(t, env, "g1", "u2", "xiaohong", testCalendar(short))

	w := env.do(http.MethodGet, "/api/groups/g1/ranking/week", "")
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeData(t, w)
	require.Equal(t, "2025-09-08", data["week_start"])
	require.Equal(t, "2025-09-14", data["week_end"])

	ranking := data["ranking"].([]interface{})
	require.Len(t, ranking, 2)
	top := ranking[0].(map[string]interface{})
	require.Equal(t, "u1", top["user_id"])
	require.Equal(t, float64(180), top["total_minutes"])
	require.Equal(t, float64(1), top["count"])
}

func TestSetReminder(t *testing.T) {
	env := newTestEnv(t, "")

	course := testEvent("高等数学",
		time.Date(2025, 9, 10, 14, 0, 0, 0, testLoc),
		time.Date(2025, 9, 10, 15, 30, 0, 0, testLoc))
	bindUser(t, env, "g1", "u1", "xiaoming", testCalendar(course))

	w := env.do(http.MethodPut, "/api/groups/g1/users/u1/reminder", `{"enabled":true}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, true, decodeData(t, w)["enabled"])

	w = env.do(http.MethodPut, "/api/groups/g1/users/u1/reminder", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, false, decodeData(t, w)["enabled"])
}

func TestSetReminderValidation(t *testing.T) {
	env := newTestEnv(t, "")

	w := env.do(http.MethodPut, "/api/groups/g1/users/u1/reminder", `{}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "VALIDATION_ERROR", decodeErrorCode(t, w))

	w = env.do(http.MethodPut, "/api/groups/g1/users/u1/reminder", `{"enabled":true}`)
	require.Equal(t, http.StatusNotFound, w.Code)
	require.Equal(t, "NOT_BOUND", decodeErrorCode(t, w))
}

func TestBindWakeup(t *testing.T) {
	share := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "a1B2c3D4" {
			w.Write([]byte(`{"status":0,"message":"口令已失效"}`))
			return
		}
		w.Write([]byte(`{"status":1,"data":{"term_start":"2025-09-08","courses":[{"name":"高等数学","room":"A101","day":3,"start_time":"14:00","end_time":"15:30","start_week":1,"end_week":4}]}}`))
	}))
	defer share.Close()

	env := newTestEnv(t, share.URL)

	body := `{"text":"这是来自「WakeUp课程表」的课表分享，快来保存吧「a1B2c3D4」"}`
	w := env.do(http.MethodPost, "/api/groups/g1/users/u1/wakeup", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Equal(t, float64(1), decodeData(t, w)["course_count"])

	// Week one Wednesday is today; the imported course shows up.
	w = env.do(http.MethodGet, "/api/groups/g1/users/u1/schedule", "")
	data := decodeData(t, w)
	courses := data["courses"].([]interface{})
	require.Len(t, courses, 1)
	require.Equal(t, "高等数学", courses[0].(map[string]interface{})["summary"])
}

func TestBindWakeupNoToken(t *testing.T) {
	env := newTestEnv(t, "")
	w := env.do(http.MethodPost, "/api/groups/g1/users/u1/wakeup", `{"text":"没有口令"}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "VALIDATION_ERROR", decodeErrorCode(t, w))
}
