package delivery

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/shohag/mediarelay/internal/config"
	"github.com/shohag/mediarelay/internal/credential"
	"github.com/shohag/mediarelay/internal/egress"
	"github.com/shohag/mediarelay/internal/extractor"
	"github.com/shohag/mediarelay/internal/metrics"
	"github.com/shohag/mediarelay/internal/models"
	"github.com/shohag/mediarelay/internal/storage"
)

func threeEndpoints() []config.EgressConfig {
	return []config.EgressConfig{
		{ID: "a", Host: "10.0.0.1", Port: 3128},
		{ID: "b", Host: "10.0.0.2", Port: 3128},
		{ID: "c", Host: "10.0.0.3", Port: 3128},
	}
}

type call struct {
	proxy  string
	cookie string
	opts   extractor.Options
}

type scriptedEngine struct {
	mu    sync.Mutex
	calls []call
	fn    func(c call) error
}

func (s *scriptedEngine) Extract(_ context.Context, url string, opts extractor.Options) (*extractor.Result, error) {
	c := call{proxy: opts.ProxyURL, cookie: opts.CookieFile, opts: opts}
	s.mu.Lock()
	s.calls = append(s.calls, c)
	s.mu.Unlock()
	if err := s.fn(c); err != nil {
		return nil, err
	}
	return &extractor.Result{ID: "media1", URL: url}, nil
}

func importCredential(t *testing.T, p *credential.Pool, name string) *models.Credential {
	t.Helper()
	raw := "# Netscape HTTP Cookie File\n.youtube.com\tTRUE\t/\tTRUE\t0\t" + name + "\tv\n"
	c, err := p.Import(context.Background(), name, "file", raw)
	if err != nil {
		t.Fatalf("import credential: %v", err)
	}
	return c
}

func TestExecutorFallsThroughEndpoints(t *testing.T) {
	pool := egress.New(threeEndpoints())
	collector := metrics.NewCollector(10)
	engine := &scriptedEngine{fn: func(c call) error {
		if strings.Contains(c.proxy, "10.0.0.3") {
			return nil
		}
		return errors.New("HTTP Error 503: Service Unavailable")
	}}

	ex := NewExecutor(engine, pool, nil, collector, zerolog.Nop())
	res, err := ex.Execute(context.Background(), AttemptRequest{URL: "https://youtu.be/x", Platform: "youtube"})
	if err != nil {
		t.Fatalf("expected success on endpoint c, got %v", err)
	}
	if res.ID != "media1" {
		t.Errorf("unexpected result %+v", res)
	}

	recent := collector.Recent()
	if len(recent) != 3 {
		t.Fatalf("expected 3 attempt records, got %d", len(recent))
	}
	for i, id := range []string{"a", "b", "c"} {
		if recent[i].EndpointID != id || recent[i].AttemptNumber != i+1 {
			t.Errorf("record %d: got endpoint %s attempt %d", i, recent[i].EndpointID, recent[i].AttemptNumber)
		}
	}
	if recent[2].Success != true || recent[0].Success || recent[1].Success {
		t.Errorf("only attempt 3 should be a success: %+v", recent)
	}
	if st := collector.Snapshot().ExecutorAttempts[3]; st.Success != 1 {
		t.Errorf("expected executor attempt-3 success counter 1, got %+v", st)
	}

	for _, ep := range pool.Snapshot() {
		want := 1
		if ep.ID == "c" {
			want = 0
		}
		if ep.ConsecutiveFailures != want {
			t.Errorf("endpoint %s: consecutive failures %d, want %d", ep.ID, ep.ConsecutiveFailures, want)
		}
	}
}

func TestExecutorRotatesCredentialsOnAuthError(t *testing.T) {
	store := storage.NewMemory()
	creds := credential.NewPool(store, t.TempDir(), zerolog.Nop())
	c1 := importCredential(t, creds, "one")
	c2 := importCredential(t, creds, "two")

	pool := egress.New(threeEndpoints())
	engine := &scriptedEngine{fn: func(c call) error {
		if strings.Contains(c.proxy, "10.0.0.1") {
			return errors.New("ERROR: [youtube] x: Sign in to confirm you're not a bot")
		}
		return nil
	}}

	ex := NewExecutor(engine, pool, creds, metrics.NewCollector(10), zerolog.Nop())
	if _, err := ex.Execute(context.Background(), AttemptRequest{URL: "https://youtu.be/x", Platform: "youtube"}); err != nil {
		t.Fatalf("expected success on endpoint b, got %v", err)
	}

	if len(engine.calls) != 4 {
		t.Fatalf("expected 4 calls (a, a+cred, a+cred, b), got %d", len(engine.calls))
	}
	if engine.calls[0].cookie != "" {
		t.Error("first attempt must not carry a credential")
	}
	if engine.calls[1].cookie == "" || engine.calls[2].cookie == "" || engine.calls[1].cookie == engine.calls[2].cookie {
		t.Errorf("expected two distinct credentials on endpoint a, got %q and %q", engine.calls[1].cookie, engine.calls[2].cookie)
	}
	if !strings.Contains(engine.calls[3].proxy, "10.0.0.2") || engine.calls[3].cookie != "" {
		t.Errorf("fourth attempt should be endpoint b without credential: %+v", engine.calls[3])
	}

	for _, id := range []string{c1.ID, c2.ID} {
		c, ok := creds.Get(id)
		if !ok {
			t.Fatalf("credential %s missing", id)
		}
		if c.UseCount != 1 || c.FailCount != 1 {
			t.Errorf("credential %s: use=%d fail=%d, want 1/1", id, c.UseCount, c.FailCount)
		}
	}
}

func TestExecutorNoEgress(t *testing.T) {
	engine := &scriptedEngine{fn: func(call) error { return nil }}
	ex := NewExecutor(engine, egress.New(nil), nil, nil, zerolog.Nop())
	_, err := ex.Execute(context.Background(), AttemptRequest{URL: "u"})
	if !errors.Is(err, ErrNoEgress) {
		t.Fatalf("expected ErrNoEgress, got %v", err)
	}
	if len(engine.calls) != 0 {
		t.Error("no extraction may run without an egress endpoint")
	}
}

func TestExecutorReturnsLastError(t *testing.T) {
	n := 0
	engine := &scriptedEngine{fn: func(call) error {
		n++
		if n == 3 {
			return errors.New("HTTP Error 404: Not Found")
		}
		return errors.New("connection reset by peer")
	}}
	ex := NewExecutor(engine, egress.New(threeEndpoints()), nil, nil, zerolog.Nop())
	_, err := ex.Execute(context.Background(), AttemptRequest{URL: "u"})

	var exhausted *AttemptsExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected AttemptsExhaustedError, got %v", err)
	}
	if exhausted.Attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", exhausted.Attempts)
	}
	if !strings.Contains(errors.Unwrap(err).Error(), "404") {
		t.Errorf("expected last error to be the 404, got %v", errors.Unwrap(err))
	}
}

func TestExecutorOptions(t *testing.T) {
	engine := &scriptedEngine{fn: func(call) error { return errors.New("timed out") }}
	agents := []string{"ua-1", "ua-2"}
	ex := NewExecutor(engine, egress.New(threeEndpoints()), nil, nil, zerolog.Nop(), WithUserAgents(agents))
	_, _ = ex.Execute(context.Background(), AttemptRequest{URL: "u", Format: "best"})

	for i, c := range engine.calls {
		if c.opts.SocketTimeout < 8*time.Second || c.opts.SocketTimeout > 12*time.Second {
			t.Errorf("call %d: socket timeout %v outside [8s,12s]", i, c.opts.SocketTimeout)
		}
		if c.opts.UserAgent != agents[i%2] {
			t.Errorf("call %d: user agent %q, want %q", i, c.opts.UserAgent, agents[i%2])
		}
		if c.opts.Format != "best" {
			t.Errorf("call %d: format not passed through", i)
		}
	}
}
