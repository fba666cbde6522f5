package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"genpipe/internal/assistant"
	"genpipe/internal/config"
	"genpipe/internal/credentials"
	"genpipe/internal/logging"
	"genpipe/internal/models"
	"genpipe/internal/rewriter"
)

type stubAssistant struct {
	mu      sync.Mutex
	reply   assistant.Reply
	callers []string
	reqs    []assistant.Request
}

func (s *stubAssistant) Respond(_ context.Context, callerID string, req assistant.Request) assistant.Reply {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callers = append(s.callers, callerID)
	s.reqs = append(s.reqs, req)
	return s.reply
}

func (s *stubAssistant) Welcome() string { return "Hello from Sasa" }

type stubRewriter struct {
	result rewriter.Result
	err    error
	known  []string
	calls  int
}

func (s *stubRewriter) Run(_ context.Context, knownSlugs []string) (rewriter.Result, error) {
	s.calls++
	s.known = knownSlugs
	return s.result, s.err
}

type stubCredentials struct {
	status credentials.Status
	resets int
}

func (s *stubCredentials) Status(context.Context) (credentials.Status, error) { return s.status, nil }

func (s *stubCredentials) Reset(context.Context) error {
	s.resets++
	s.status = credentials.Status{}
	return nil
}

type stubHandshake struct {
	callback    string
	completeErr error
	code        string
}

func (s *stubHandshake) Begin(_ context.Context, callbackURL string) (string, error) {
	s.callback = callbackURL
	return "https://auth.example/authorize?callback_url=" + callbackURL, nil
}

func (s *stubHandshake) Complete(_ context.Context, code string) error {
	s.code = code
	return s.completeErr
}

type fixture struct {
	srv   *Server
	chat  *stubAssistant
	rw    *stubRewriter
	creds *stubCredentials
	hs    *stubHandshake
}

func newFixture(t *testing.T, mutate func(*config.Config)) fixture {
	t.Helper()

	cfg := config.Default()
	cfg.Server.CronSecret = "topsecret"
	cfg.Server.PublicURL = "https://site.example/"
	if mutate != nil {
		mutate(&cfg)
	}

	f := fixture{
		chat:  &stubAssistant{reply: assistant.Reply{Outcome: assistant.Answered, Text: "hi there"}},
		rw:    &stubRewriter{},
		creds: &stubCredentials{},
		hs:    &stubHandshake{},
	}
	srv, err := New(cfg, Deps{
		Assistant:   f.chat,
		Rewriter:    f.rw,
		Credentials: f.creds,
		Handshake:   f.hs,
		Logger:      logging.Discard(),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	f.srv = srv
	return f
}

func (f fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestNewRequiresAssistant(t *testing.T) {
	t.Parallel()

	if _, err := New(config.Default(), Deps{}); err == nil {
		t.Fatal("expected error without assistant")
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/health/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("expected a request id header")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Fatal("expected secure headers")
	}
}

func TestChatAnswers(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	body := `{"message":"What services do you offer?","conversationHistory":[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "127.0.0.1:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")

	rec := f.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	got := decode[chatResponse](t, rec)
	if !got.Success || got.Message != "hi there" {
		t.Fatalf("unexpected response: %+v", got)
	}
	if f.chat.callers[0] != "203.0.113.9" {
		t.Fatalf("caller should be the forwarded client ip, got %q", f.chat.callers[0])
	}
	if len(f.chat.reqs[0].History) != 2 || f.chat.reqs[0].History[1].Role != models.RoleAssistant {
		t.Fatalf("history not forwarded: %+v", f.chat.reqs[0].History)
	}
}

func TestChatOutcomeStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		reply   assistant.Reply
		status  int
		success bool
	}{
		{"deflected", assistant.Reply{Outcome: assistant.Deflected, Text: "contact us"}, http.StatusOK, true},
		{"rejected", assistant.Reply{Outcome: assistant.Rejected, Text: "Message is too long"}, http.StatusBadRequest, false},
		{"rate limited", assistant.Reply{Outcome: assistant.RateLimited, Text: "slow down"}, http.StatusTooManyRequests, false},
		{"exhausted", assistant.Reply{Outcome: assistant.Answered, Text: "apology", Exhausted: true}, http.StatusOK, true},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, nil)
			f.chat.reply = tc.reply

			rec := f.do(t, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"x"}`)))
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rec.Code)
			}
			got := decode[chatResponse](t, rec)
			if got.Success != tc.success {
				t.Fatalf("unexpected success flag: %+v", got)
			}
			text := got.Message
			if !tc.success {
				text = got.Error
			}
			if text != tc.reply.Text {
				t.Fatalf("expected %q, got %+v", tc.reply.Text, got)
			}
		})
	}
}

func TestChatRejectsMalformedBody(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	for _, body := range []string{"", "{", `{"message":"a"}{"message":"b"}`} {
		rec := f.do(t, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body)))
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, rec.Code)
		}
		got := decode[errorBody](t, rec)
		if got.Success || got.Error == "" || got.Type != "invalid_request_error" {
			t.Fatalf("body %q: unexpected error body %+v", body, got)
		}
	}
	if len(f.chat.reqs) != 0 {
		t.Fatal("assistant must not run for malformed bodies")
	}
}

func TestChatInfo(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/chat", nil))
	got := decode[chatInfo](t, rec)
	if got.Status != "ok" || got.Welcome != "Hello from Sasa" || got.Endpoint != "POST /api/chat" {
		t.Fatalf("unexpected info: %+v", got)
	}
}

func TestUnknownRoute(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if got := decode[errorBody](t, rec); got.Error != "Not Found" {
		t.Fatalf("unexpected body %+v", got)
	}
}

func TestRewriteAuthorization(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.rw.result = rewriter.Result{Post: models.GeneratedPost{Title: "AI in Sales"}, Slug: "ai-in-sales", Score: 90}

	unauthorized := []*http.Request{
		httptest.NewRequest(http.MethodGet, "/api/cron/rewrite", nil),
		httptest.NewRequest(http.MethodGet, "/api/cron/rewrite?secret=wrong", nil),
	}
	bad := httptest.NewRequest(http.MethodPost, "/api/cron/rewrite", nil)
	bad.Header.Set("Authorization", "Bearer wrong")
	unauthorized = append(unauthorized, bad)

	for _, req := range unauthorized {
		if rec := f.do(t, req); rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s %s: expected 401, got %d", req.Method, req.URL, rec.Code)
		}
	}
	if f.rw.calls != 0 {
		t.Fatal("rewriter ran without authorization")
	}

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/cron/rewrite?secret=topsecret", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("query secret: expected 200, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/cron/rewrite", strings.NewReader(`{"knownSlugs":["old-post"]}`))
	req.Header.Set("Authorization", "Bearer topsecret")
	rec = f.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("bearer: expected 200, got %d", rec.Code)
	}
	got := decode[rewriteResponse](t, rec)
	if !got.Success || got.Result == nil || got.Result.Slug != "ai-in-sales" {
		t.Fatalf("unexpected response %+v", got)
	}
	if len(f.rw.known) != 1 || f.rw.known[0] != "old-post" {
		t.Fatalf("known slugs not forwarded: %v", f.rw.known)
	}
}

func TestRewriteDeniedWithoutConfiguredSecret(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(c *config.Config) { c.Server.CronSecret = "" })
	req := httptest.NewRequest(http.MethodGet, "/api/cron/rewrite?secret=", nil)
	req.Header.Set("Authorization", "Bearer ")
	if rec := f.do(t, req); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRewriteNothingToDo(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err     error
		message string
	}{
		{rewriter.ErrNoCandidates, "No articles found from RSS feeds"},
		{rewriter.ErrNoFreshCandidates, "All articles already exist"},
	}
	for _, tc := range tests {
		f := newFixture(t, nil)
		f.rw.err = tc.err
		rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/cron/rewrite?secret=topsecret", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("%v: expected 200, got %d", tc.err, rec.Code)
		}
		got := decode[rewriteResponse](t, rec)
		if got.Success || got.Message != tc.message || got.Result != nil {
			t.Fatalf("%v: unexpected response %+v", tc.err, got)
		}
	}

	f := newFixture(t, nil)
	f.rw.err = errors.New("boom")
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/cron/rewrite?secret=topsecret", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if got := decode[errorBody](t, rec); strings.Contains(got.Error, "boom") {
		t.Fatal("internal error details leaked")
	}
}

func TestConnectRedirectsToProvider(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/auth/openrouter/connect", nil))
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	if f.hs.callback != "https://site.example/api/auth/openrouter/callback" {
		t.Fatalf("unexpected callback url %q", f.hs.callback)
	}
	if !strings.HasPrefix(rec.Header().Get("Location"), "https://auth.example/authorize") {
		t.Fatalf("unexpected location %q", rec.Header().Get("Location"))
	}
}

func TestCallbackRedirects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err      error
		location string
	}{
		{nil, "https://site.example/?ai_connected=true"},
		{credentials.ErrMissingCode, "https://site.example/?ai_error=no_code"},
		{credentials.ErrNoPendingHandshake, "https://site.example/?ai_error=no_verifier"},
		{credentials.ErrExchangeFailed, "https://site.example/?ai_error=exchange_failed"},
		{credentials.ErrNoKey, "https://site.example/?ai_error=no_key"},
		{errors.New("disk full"), "https://site.example/?ai_error=callback_failed"},
	}
	for _, tc := range tests {
		f := newFixture(t, nil)
		f.hs.completeErr = tc.err
		rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/auth/openrouter/callback?code=abc", nil))
		if rec.Code != http.StatusFound {
			t.Fatalf("%v: expected 302, got %d", tc.err, rec.Code)
		}
		if got := rec.Header().Get("Location"); got != tc.location {
			t.Fatalf("%v: expected %q, got %q", tc.err, tc.location, got)
		}
		if f.hs.code != "abc" {
			t.Fatalf("code not forwarded: %q", f.hs.code)
		}
	}
}

func TestStatusAndDisconnect(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.creds.status = credentials.Status{Connected: true}

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/auth/openrouter/status", nil))
	if got := decode[credentials.Status](t, rec); !got.Connected {
		t.Fatalf("expected connected status, got %+v", got)
	}

	rec = f.do(t, httptest.NewRequest(http.MethodPost, "/api/auth/openrouter/disconnect", nil))
	if rec.Code != http.StatusUnauthorized || f.creds.resets != 0 {
		t.Fatalf("disconnect must require the secret, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/auth/openrouter/disconnect", nil)
	req.Header.Set("Authorization", "Bearer topsecret")
	rec = f.do(t, req)
	if rec.Code != http.StatusOK || f.creds.resets != 1 {
		t.Fatalf("expected reset, got %d", rec.Code)
	}
	if got := decode[chatResponse](t, rec); !got.Success || got.Message != "AI disconnected" {
		t.Fatalf("unexpected body %+v", got)
	}
}

func TestOptionalRoutesAbsentWithoutDeps(t *testing.T) {
	t.Parallel()

	srv, err := New(config.Default(), Deps{Assistant: &stubAssistant{}, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	for _, path := range []string{"/api/cron/rewrite", "/api/auth/openrouter/status", "/api/auth/openrouter/connect"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, rec.Code)
		}
	}
}
