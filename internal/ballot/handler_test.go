package ballot

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func newRouter(e *env) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewHandler(e.svc, CookieOptions{Secret: []byte("cookie-secret")}, nil)
	r := gin.New()
	r.GET("/ballot/:uuid", h.Enter)
	r.POST("/api/cast", h.Cast)
	r.GET("/api/events/:uuid/cvr.csv", h.ExportCVR)
	return r
}

func do(r http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func contextCookie(t *testing.T, w *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == ContextCookie {
			return c
		}
	}
	t.Fatal("expected ballot context cookie")
	return nil
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return body
}

func TestBallotFlowOverHTTP(t *testing.T) {
	e := newEnv(t)
	r := newRouter(e)
	v, err := e.identity.Verify(context.Background(), e.event.SessionUUID, "Jane", "Doe")
	if err != nil {
		t.Fatal(err)
	}

	// 1. 带跳转码进入，得到cookie并被重定向到干净的地址
	w := do(r, httptest.NewRequest(http.MethodGet, "/ballot/"+e.event.SessionUUID+"?handoff="+v.Code+"&segment=2", nil))
	if w.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d: %s", w.Code, w.Body.String())
	}
	loc := w.Header().Get("Location")
	if strings.Contains(loc, "handoff") || loc != "/ballot/"+e.event.SessionUUID+"?segment=2" {
		t.Fatalf("unexpected redirect %q", loc)
	}
	cookie := contextCookie(t, w)

	// 2. 刷新带跳转码的地址不能再次兑换
	w = do(r, httptest.NewRequest(http.MethodGet, "/ballot/"+e.event.SessionUUID+"?handoff="+v.Code, nil))
	if w.Code != http.StatusForbidden || decode(t, w)["error"] != "invalid_or_used" {
		t.Fatalf("expected invalid_or_used, got %d %s", w.Code, w.Body.String())
	}

	// 3. 凭cookie翻页
	req := httptest.NewRequest(http.MethodGet, loc, nil)
	req.AddCookie(cookie)
	w = do(r, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected page, got %d: %s", w.Code, w.Body.String())
	}
	page := decode(t, w)["page"].(map[string]any)
	if page["current_segment"].(float64) != 2 || page["total_segments"].(float64) != 3 {
		t.Fatalf("unexpected page %v", page)
	}

	// 4. 投票
	body, _ := json.Marshal(map[string]any{
		"session_uuid": e.event.SessionUUID,
		"choices": [][]uint{
			{e.segments[0].ID, e.segments[0].Candidates[0].ID},
			{e.segments[1].ID, e.segments[1].Candidates[0].ID},
			{e.segments[2].ID, e.segments[2].Candidates[0].ID},
		},
	})
	req = httptest.NewRequest(http.MethodPost, "/api/cast", bytes.NewReader(body))
	req.AddCookie(cookie)
	w = do(r, req)
	if w.Code != http.StatusOK {
		t.Fatalf("cast: %d %s", w.Code, w.Body.String())
	}
	resp := decode(t, w)
	if resp["ok"] != true || resp["created"].(float64) != 3 {
		t.Fatalf("unexpected cast response %v", resp)
	}
	if cleared := contextCookie(t, w); cleared.MaxAge >= 0 {
		t.Fatalf("expected context cookie to be cleared, got %+v", cleared)
	}

	// 5. 重放旧cookie会被拒绝
	req = httptest.NewRequest(http.MethodPost, "/api/cast", bytes.NewReader(body))
	req.AddCookie(cookie)
	w = do(r, req)
	if w.Code != http.StatusBadRequest || decode(t, w)["error"] != "invalid_or_spent" {
		t.Fatalf("expected invalid_or_spent, got %d %s", w.Code, w.Body.String())
	}

	// 6. 没有cookie
	w = do(r, httptest.NewRequest(http.MethodPost, "/api/cast", bytes.NewReader(body)))
	if w.Code != http.StatusForbidden || decode(t, w)["error"] != "session_expired" {
		t.Fatalf("expected session_expired, got %d %s", w.Code, w.Body.String())
	}

	// 7. 导出
	w = do(r, httptest.NewRequest(http.MethodGet, "/api/events/"+e.event.SessionUUID+"/cvr.csv", nil))
	if w.Code != http.StatusOK || !strings.HasPrefix(w.Body.String(), "ballot_id,segment,candidate,created_at_minute\n") {
		t.Fatalf("unexpected csv %d %q", w.Code, w.Body.String())
	}
	if lines := strings.Count(w.Body.String(), "\n"); lines != 4 {
		t.Fatalf("expected header + 3 rows, got %d lines", lines)
	}
}

func TestTamperedCookieIsIgnored(t *testing.T) {
	e := newEnv(t)
	r := newRouter(e)

	req := httptest.NewRequest(http.MethodGet, "/ballot/"+e.event.SessionUUID, nil)
	req.AddCookie(&http.Cookie{Name: ContextCookie, Value: "eyJhIjoieCJ9.AAAA"})
	w := do(r, req)
	if w.Code != http.StatusForbidden || decode(t, w)["error"] != "session_expired" {
		t.Fatalf("expected session_expired, got %d %s", w.Code, w.Body.String())
	}
}

func TestMalformedCastRequest(t *testing.T) {
	e := newEnv(t)
	r := newRouter(e)

	for _, body := range []string{`not json`, `{"session_uuid":""}`, `{"session_uuid":"x","choices":[[1]]}`} {
		w := do(r, httptest.NewRequest(http.MethodPost, "/api/cast", strings.NewReader(body)))
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, w.Code)
		}
	}
}
