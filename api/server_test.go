package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/SlpAus/agm-voting-backend/internal/ballot"
	"github.com/SlpAus/agm-voting-backend/internal/event"
	"github.com/SlpAus/agm-voting-backend/internal/handoff"
	"github.com/SlpAus/agm-voting-backend/internal/motion"
	"github.com/SlpAus/agm-voting-backend/internal/platform/config"
	"github.com/SlpAus/agm-voting-backend/internal/platform/startup"
	"github.com/SlpAus/agm-voting-backend/internal/staff"
	"github.com/SlpAus/agm-voting-backend/internal/testutil"
	"github.com/SlpAus/agm-voting-backend/internal/user"
	"github.com/SlpAus/agm-voting-backend/pkg/token"
)

const staffPassword = "correct horse"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	hash, err := staff.HashPassword(staffPassword)
	if err != nil {
		t.Fatal(err)
	}
	return &config.Config{
		Server: config.ServerConfig{Mode: gin.TestMode, BallotBaseURL: "http://bbs.test"},
		Handoff: config.HandoffConfig{
			Mode:         config.HandoffLocal,
			SharedSecret: "handoff-secret",
			Timeout:      time.Second,
		},
		Protocol: config.ProtocolConfig{
			SessionTTL:   time.Hour,
			CodeTTL:      time.Minute,
			CookieSecret: "cookie-secret",
		},
		Presence: config.PresenceConfig{Timeout: time.Minute},
		Staff: config.StaffConfig{
			JWTSecret: "jwt-secret",
			TokenTTL:  time.Hour,
			Accounts:  []config.StaffAccount{{Username: "chair", PasswordHash: hash}},
		},
	}
}

type harness struct {
	t     *testing.T
	db    *gorm.DB
	app   *App
	event *event.Event
}

func newHarness(t *testing.T, cfg *config.Config, db *gorm.DB) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if db == nil {
		db = testutil.OpenDB(t, startup.Models()...)
	}
	ev, err := event.Seed(context.Background(), db, event.RosterSpec{
		Title: "AGM 2026",
		Segments: []event.SegmentSpec{
			{Name: "Chair", Candidates: []string{"Alice", "Bob"}},
		},
		Voters: [][2]string{{"Jane", "Doe"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return &harness{t: t, db: db, app: NewApp(cfg, db, nil, testutil.Logger()), event: ev}
}

func (h *harness) do(method, path string, body any, mutate ...func(*http.Request)) (*httptest.ResponseRecorder, map[string]any) {
	h.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			h.t.Fatal(err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, m := range mutate {
		m(req)
	}
	w := httptest.NewRecorder()
	h.app.Engine.ServeHTTP(w, req)
	var decoded map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &decoded)
	return w, decoded
}

func bearer(tok string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+tok) }
}

func withCookie(c *http.Cookie) func(*http.Request) {
	return func(r *http.Request) { r.AddCookie(c) }
}

func (h *harness) login() string {
	h.t.Helper()
	w, body := h.do(http.MethodPost, "/api/staff/login", map[string]string{"username": "chair", "password": staffPassword})
	if w.Code != http.StatusOK {
		h.t.Fatalf("login: %d %s", w.Code, w.Body.String())
	}
	return body["token"].(string)
}

func cookieNamed(t *testing.T, w *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("expected cookie %s", name)
	return nil
}

// verify 通过CIS验证选民，返回带跳转码的投票箱地址
func (h *harness) verify() *url.URL {
	h.t.Helper()
	w, body := h.do(http.MethodPost, "/api/verify", map[string]string{"session_uuid": h.event.SessionUUID, "given_name": "jane", "family_name": " DOE "})
	if w.Code != http.StatusOK {
		h.t.Fatalf("verify: %d %s", w.Code, w.Body.String())
	}
	link, err := url.Parse(body["ballot_url"].(string))
	if err != nil {
		h.t.Fatal(err)
	}
	if link.Host != "bbs.test" || link.Query().Get("handoff") == "" {
		h.t.Fatalf("unexpected ballot url %s", link)
	}
	return link
}

// enter 兑换跳转码，返回匿名上下文cookie
func (h *harness) enter(link *url.URL) *http.Cookie {
	h.t.Helper()
	w, _ := h.do(http.MethodGet, link.RequestURI(), nil)
	if w.Code != http.StatusFound {
		h.t.Fatalf("enter: %d %s", w.Code, w.Body.String())
	}
	return cookieNamed(h.t, w, ballot.ContextCookie)
}

func (h *harness) castForFirstCandidate(cookie *http.Cookie) (*httptest.ResponseRecorder, map[string]any) {
	h.t.Helper()
	segments, err := event.Segments(context.Background(), h.db, h.event.ID)
	if err != nil {
		h.t.Fatal(err)
	}
	seg := segments[0]
	return h.do(http.MethodPost, "/api/cast", map[string]any{
		"session_uuid": h.event.SessionUUID,
		"choices":      [][]uint{{seg.ID, seg.Candidates[0].ID}},
	}, withCookie(cookie))
}

func TestElectionEndToEnd(t *testing.T) {
	h := newHarness(t, testConfig(t), nil)
	uuid := h.event.SessionUUID

	cookie := h.enter(h.verify())
	w, body := h.castForFirstCandidate(cookie)
	if w.Code != http.StatusOK || body["created"].(float64) != 1 {
		t.Fatalf("cast: %d %s", w.Code, w.Body.String())
	}

	// 同一个上下文不能再次投票
	w, body = h.castForFirstCandidate(cookie)
	if w.Code == http.StatusOK || body["ok"] != false {
		t.Fatalf("expected second cast to be rejected, got %d %s", w.Code, w.Body.String())
	}

	// 已投票的选民不能再次验证
	w, body = h.do(http.MethodPost, "/api/verify", map[string]string{"session_uuid": uuid, "given_name": "Jane", "family_name": "Doe"})
	if w.Code != http.StatusBadRequest || body["error"] != "already_voted" {
		t.Fatalf("expected already_voted, got %d %s", w.Code, w.Body.String())
	}

	// 结果只对工作人员开放
	if w, _ = h.do(http.MethodGet, "/api/events/"+uuid+"/results", nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected results to require staff, got %d", w.Code)
	}
	tok := h.login()
	w, body = h.do(http.MethodGet, "/api/events/"+uuid+"/results", nil, bearer(tok))
	if w.Code != http.StatusOK {
		t.Fatalf("results: %d %s", w.Code, w.Body.String())
	}
	winner := body["tally"].([]any)[0].(map[string]any)["winner"].(map[string]any)
	if winner["name"] != "Alice" || winner["votes"].(float64) != 1 {
		t.Fatalf("unexpected winner %v", winner)
	}

	w, _ = h.do(http.MethodGet, "/api/events/"+uuid+"/cvr.csv", nil, bearer(tok))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Chair,Alice") {
		t.Fatalf("cvr: %d %s", w.Code, w.Body.String())
	}

	w, body = h.do(http.MethodGet, "/api/events/"+uuid+"/voter-status", nil, bearer(tok))
	if w.Code != http.StatusOK {
		t.Fatalf("voter-status: %d %s", w.Code, w.Body.String())
	}
}

func TestServiceEndpointsRequireSignature(t *testing.T) {
	h := newHarness(t, testConfig(t), nil)

	for _, path := range []string{"/api/redeem", "/api/mark-spent"} {
		w, body := h.do(http.MethodPost, path, map[string]string{"session_uuid": h.event.SessionUUID})
		if w.Code != http.StatusForbidden || body["error"] != "forbidden" {
			t.Fatalf("%s: expected 403 forbidden, got %d %s", path, w.Code, w.Body.String())
		}

		// 请求体不是合法JSON时同样返回403
		for _, sig := range []string{"", "deadbeef"} {
			req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(`{"session_uuid": `))
			req.Header.Set("Content-Type", "application/json")
			if sig != "" {
				req.Header.Set(handoff.SignatureHeader, sig)
			}
			w := httptest.NewRecorder()
			h.app.Engine.ServeHTTP(w, req)
			var resp map[string]any
			_ = json.Unmarshal(w.Body.Bytes(), &resp)
			if w.Code != http.StatusForbidden || resp["error"] != "forbidden" {
				t.Fatalf("%s with malformed body and signature %q: expected 403 forbidden, got %d %s", path, sig, w.Code, w.Body.String())
			}
		}
	}
}

func TestRemoteHandoff(t *testing.T) {
	// CIS 与 BBS 各自使用自己的数据库，只通过签名的HTTP请求通信
	cis := newHarness(t, testConfig(t), nil)
	srv := httptest.NewServer(cis.app.Engine)
	defer srv.Close()

	cfg := testConfig(t)
	cfg.Handoff.Mode = config.HandoffRemote
	cfg.Handoff.CISBaseURL = srv.URL
	bbs := newHarness(t, cfg, nil)
	if err := bbs.db.Model(&event.Event{}).Where("id = ?", bbs.event.ID).
		Update("session_uuid", cis.event.SessionUUID).Error; err != nil {
		t.Fatal(err)
	}
	bbs.event.SessionUUID = cis.event.SessionUUID

	cookie := bbs.enter(cis.verify())
	w, body := bbs.castForFirstCandidate(cookie)
	if w.Code != http.StatusOK || body["ok"] != true {
		t.Fatalf("cast: %d %s", w.Code, w.Body.String())
	}

	var voter event.Voter
	if err := cis.db.Where("event_id = ?", cis.event.ID).First(&voter).Error; err != nil {
		t.Fatal(err)
	}
	if !voter.HasCast {
		t.Fatal("expected voter to be marked as cast through the remote channel")
	}

	var ballots int64
	if err := bbs.db.Model(&ballot.Ballot{}).Count(&ballots).Error; err != nil {
		t.Fatal(err)
	}
	if ballots != 1 {
		t.Fatalf("expected one ballot in the ballot box, got %d", ballots)
	}
}

func TestMotionEndToEnd(t *testing.T) {
	h := newHarness(t, testConfig(t), nil)
	uuid := h.event.SessionUUID

	// 没有令牌不能管理动议
	if w, _ := h.do(http.MethodPost, "/api/events/"+uuid+"/motions", map[string]string{"title": "Budget"}); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}

	tok := h.login()
	w, body := h.do(http.MethodPost, "/api/events/"+uuid+"/motions", map[string]string{"title": "Budget"}, bearer(tok))
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	id := uint(body["motion"].(map[string]any)["id"].(float64))
	motionPath := fmt.Sprintf("/api/motions/%d", id)

	if w, _ = h.do(http.MethodPost, motionPath+"/open", nil, bearer(tok)); w.Code != http.StatusOK {
		t.Fatalf("open: %d %s", w.Code, w.Body.String())
	}

	// 第一次投票时分配参会者cookie
	w, body = h.do(http.MethodPost, motionPath+"/vote", map[string]string{"choice": "Yes"})
	if w.Code != http.StatusOK || body["choice"] != "yes" {
		t.Fatalf("vote: %d %s", w.Code, w.Body.String())
	}
	participant := cookieNamed(t, w, "user-id")

	w, body = h.do(http.MethodPost, motionPath+"/vote", map[string]string{"choice": "no"}, withCookie(participant))
	if w.Code != http.StatusOK || body["changed"] != true || body["previous"] != "yes" {
		t.Fatalf("change vote: %d %s", w.Code, w.Body.String())
	}

	w, body = h.do(http.MethodGet, "/api/events/"+uuid+"/motions/current", nil, withCookie(participant))
	if w.Code != http.StatusOK {
		t.Fatalf("current: %d %s", w.Code, w.Body.String())
	}
	if sel := body["open"].(map[string]any)["selection"]; sel != "no" {
		t.Fatalf("expected selection no, got %v", sel)
	}

	w, body = h.do(http.MethodGet, "/api/events/"+uuid+"/tallies", nil, bearer(tok))
	counts := body["counts"].(map[string]any)
	if w.Code != http.StatusOK || counts["no"].(float64) != 1 || counts["yes"].(float64) != 0 {
		t.Fatalf("tallies: %d %s", w.Code, w.Body.String())
	}

	if w, _ = h.do(http.MethodPost, motionPath+"/close", nil, bearer(tok)); w.Code != http.StatusOK {
		t.Fatalf("close: %d %s", w.Code, w.Body.String())
	}
	w, body = h.do(http.MethodPost, motionPath+"/vote", map[string]string{"choice": "yes"}, withCookie(participant))
	if w.Code != http.StatusForbidden || body["error"] != "motion_closed" {
		t.Fatalf("expected motion_closed, got %d %s", w.Code, w.Body.String())
	}
}

func TestVoteIgnoresBallotContextOfOtherEvent(t *testing.T) {
	h := newHarness(t, testConfig(t), nil)
	tok := h.login()

	w, body := h.do(http.MethodPost, "/api/events/"+h.event.SessionUUID+"/motions", map[string]string{"title": "Budget"}, bearer(tok))
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	id := uint(body["motion"].(map[string]any)["id"].(float64))
	motionPath := fmt.Sprintf("/api/motions/%d", id)
	if w, _ = h.do(http.MethodPost, motionPath+"/open", nil, bearer(tok)); w.Code != http.StatusOK {
		t.Fatalf("open: %d %s", w.Code, w.Body.String())
	}

	contextCookie := func(anon, sessionUUID string) *http.Cookie {
		v, err := token.Seal([]byte("cookie-secret"), ballot.Context{AnonID: anon, SessionUUID: sessionUUID})
		if err != nil {
			t.Fatal(err)
		}
		return &http.Cookie{Name: ballot.ContextCookie, Value: v}
	}
	identityOf := func(choice string) string {
		var v motion.Vote
		if err := h.db.Where("motion_id = ? AND choice = ?", id, choice).Take(&v).Error; err != nil {
			t.Fatal(err)
		}
		return v.VoterIdentity
	}

	// 其他活动的匿名上下文不能作为本活动的身份
	w, _ = h.do(http.MethodPost, motionPath+"/vote", map[string]string{"choice": "yes"}, withCookie(contextCookie("anon-elsewhere", "other-event")))
	if w.Code != http.StatusOK {
		t.Fatalf("vote: %d %s", w.Code, w.Body.String())
	}
	if got := identityOf("yes"); got == "anon-elsewhere" || !user.IsValidID(got) {
		t.Fatalf("expected a provisional identity, got %q", got)
	}

	w, _ = h.do(http.MethodPost, motionPath+"/vote", map[string]string{"choice": "no"}, withCookie(contextCookie("anon-here", h.event.SessionUUID)))
	if w.Code != http.StatusOK {
		t.Fatalf("vote: %d %s", w.Code, w.Body.String())
	}
	if got := identityOf("no"); got != "anon-here" {
		t.Fatalf("expected the ballot context identity, got %q", got)
	}

	w, body = h.do(http.MethodPost, "/api/motions/9999/vote", map[string]string{"choice": "yes"})
	if w.Code != http.StatusNotFound || body["error"] != "not_found" {
		t.Fatalf("expected not_found, got %d %s", w.Code, w.Body.String())
	}
}
