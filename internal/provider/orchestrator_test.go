package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"genpipe/internal/config"
	"genpipe/internal/logging"
	"genpipe/internal/models"
)

type stubProvider struct {
	name  string
	out   string
	err   error
	calls int
	order *[]string
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Attempt(context.Context, models.GenerationRequest) (string, error) {
	s.calls++
	if s.order != nil {
		*s.order = append(*s.order, s.name)
	}
	return s.out, s.err
}

func failing(name string, order *[]string) *stubProvider {
	return &stubProvider{name: name, err: &StatusError{Provider: name, StatusCode: 503}, order: order}
}

func mustChain(t *testing.T, providers ...Provider) *Chain {
	t.Helper()
	chain, err := NewChain(providers...)
	if err != nil {
		t.Fatalf("NewChain: %v", err)
	}
	return chain
}

var testRequest = models.GenerationRequest{
	Messages: []models.Message{{Role: models.RoleUser, Content: "hello"}},
}

func TestGenerateFallsThroughInOrder(t *testing.T) {
	t.Parallel()

	var order []string
	providers := []Provider{
		failing("primary", &order),
		failing("secondary", &order),
	}
	for i := 1; i <= 4; i++ {
		providers = append(providers, failing(fmt.Sprintf("pool/%d", i), &order))
	}
	winner := &stubProvider{name: "pool/5", out: "answer", order: &order}
	after := &stubProvider{name: "pool/6", out: "never"}
	providers = append(providers, winner, after)

	o := NewOrchestrator(mustChain(t, providers...), "sorry", WithLogger(logging.Discard()))
	resp := o.Generate(context.Background(), testRequest)

	if resp.Exhausted || resp.Text != "answer" || resp.Provider != "pool/5" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Attempts != 7 {
		t.Fatalf("expected 7 attempts, got %d", resp.Attempts)
	}
	want := "primary,secondary,pool/1,pool/2,pool/3,pool/4,pool/5"
	if got := strings.Join(order, ","); got != want {
		t.Fatalf("attempt order = %s, want %s", got, want)
	}
	for _, p := range providers[:6] {
		if calls := p.(*stubProvider).calls; calls != 1 {
			t.Fatalf("%s called %d times, want exactly once", p.Name(), calls)
		}
	}
	if after.calls != 0 {
		t.Fatal("providers after the winner must not be attempted")
	}
}

func TestGenerateSkipsUnavailableProvider(t *testing.T) {
	t.Parallel()

	primary := &stubProvider{name: "primary", err: fmt.Errorf("%w: no token", ErrUnavailable)}
	pool := &stubProvider{name: "pool/openai", out: "from pool"}

	resp := NewOrchestrator(mustChain(t, primary, pool), "sorry", WithLogger(logging.Discard())).
		Generate(context.Background(), testRequest)
	if resp.Provider != "pool/openai" || resp.Text != "from pool" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestGenerateExhaustedReturnsApology(t *testing.T) {
	t.Parallel()

	business := config.Default().Business
	apology := Apology(business)

	o := NewOrchestrator(
		mustChain(t, failing("a", nil), &stubProvider{name: "b", err: ErrEmptyResponse}, failing("c", nil)),
		apology,
		WithLogger(logging.Discard()),
	)
	resp := o.Generate(context.Background(), testRequest)

	if !resp.Exhausted {
		t.Fatal("expected exhausted response")
	}
	if resp.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", resp.Attempts)
	}
	if !strings.Contains(resp.Text, business.Email) || !strings.Contains(resp.Text, business.Phone) {
		t.Fatalf("apology must carry contact details: %q", resp.Text)
	}
	if resp.Text != "I apologize, but I'm having trouble processing your request right now. For immediate assistance, please contact our team at info@sasa-worldwide.com or call +971 4 584 3777. Our team is available Sunday to Thursday, 9AM to 6PM." {
		t.Fatalf("unexpected apology text: %q", resp.Text)
	}
}

func TestGenerateTreatsNormalizedEmptyAsFailure(t *testing.T) {
	t.Parallel()

	watermarkOnly := &stubProvider{name: "first", out: "WATERMARK"}
	good := &stubProvider{name: "second", out: "real text WATERMARK"}

	strip := func(s string) string { return strings.TrimSpace(strings.ReplaceAll(s, "WATERMARK", "")) }
	resp := NewOrchestrator(mustChain(t, watermarkOnly, good), "sorry",
		WithNormalizer(strip), WithLogger(logging.Discard())).Generate(context.Background(), testRequest)

	if resp.Provider != "second" || resp.Text != "real text" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestGenerateStopsWhenContextDone(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	first := &stubProvider{name: "first", err: errors.New("boom")}
	second := &stubProvider{name: "second", out: "late"}
	cancelling := &cancelProvider{stubProvider: first, cancel: cancel}

	resp := NewOrchestrator(mustChain(t, cancelling, second), "sorry", WithLogger(logging.Discard())).Generate(ctx, testRequest)
	if !resp.Exhausted || second.calls != 0 {
		t.Fatalf("no attempt should start after cancellation: %+v, second calls %d", resp, second.calls)
	}
}

type cancelProvider struct {
	*stubProvider
	cancel context.CancelFunc
}

func (c *cancelProvider) Attempt(ctx context.Context, req models.GenerationRequest) (string, error) {
	c.cancel()
	return c.stubProvider.Attempt(ctx, req)
}

func TestNewChainValidates(t *testing.T) {
	t.Parallel()

	if _, err := NewChain(); err == nil {
		t.Fatal("empty chain should be rejected")
	}
	if _, err := NewChain(&stubProvider{name: "a"}, nil); err == nil {
		t.Fatal("nil provider should be rejected")
	}
	_, err := NewChain(&stubProvider{name: "a"}, &stubProvider{name: "a"})
	if !errors.Is(err, ErrDuplicateProvider) {
		t.Fatalf("expected ErrDuplicateProvider, got %v", err)
	}

	chain := mustChain(t, &stubProvider{name: "x"}, &stubProvider{name: "y"})
	if got := strings.Join(chain.Names(), ","); got != "x,y" {
		t.Fatalf("names = %s", got)
	}
}

func TestStatusErrorMessage(t *testing.T) {
	t.Parallel()

	err := error(&StatusError{Provider: "pool/openai", StatusCode: 429, Message: "slow down"})
	var statusErr *StatusError
	if !errors.As(fmt.Errorf("wrapped: %w", err), &statusErr) || statusErr.StatusCode != 429 {
		t.Fatalf("errors.As failed for %v", err)
	}
	if err.Error() != "pool/openai: upstream status 429: slow down" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
