/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"chainguard.dev/mentionbot/agent"
	"chainguard.dev/mentionbot/checkout"
	"chainguard.dev/mentionbot/ghdata"
	"chainguard.dev/mentionbot/pipeline/idempotency"
	"chainguard.dev/mentionbot/prompt"
	"chainguard.dev/mentionbot/retry"
	"chainguard.dev/mentionbot/toolconfig"
	"chainguard.dev/mentionbot/tracking"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, name)
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

type allowGuard struct{}

func (allowGuard) ShouldSkip(context.Context, string, string, int, string) (bool, error) {
	return false, nil
}

type fakeGate struct {
	mu       sync.Mutex
	admit    bool
	releases int
}

func (g *fakeGate) TryAdmit() bool {
	return g.admit
}

func (g *fakeGate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.releases++
}

type fakeComment struct {
	mu          sync.Mutex
	body        string
	result      *agent.Result
	finalizes   int
	finalizeErr error
}

func (c *fakeComment) Finalize(_ context.Context, res *agent.Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finalizes++
	c.result = res
	return c.finalizeErr
}

func (c *fakeComment) FinalizeError(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finalizes++
	c.body = tracking.GenericErrorMessage
	return c.finalizeErr
}

type fakeTracker struct {
	mu        sync.Mutex
	log       *callLog
	createErr error
	comments  []*fakeComment
	notices   int
}

func (t *fakeTracker) Create(_ context.Context, _, _ string, _ int, _, _ string) (TrackingComment, error) {
	t.log.add("create")
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.createErr != nil {
		return nil, t.createErr
	}
	c := &fakeComment{}
	t.comments = append(t.comments, c)
	return c, nil
}

func (t *fakeTracker) PostCapacityNotice(context.Context, string, string, int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notices++
	return nil
}

func (t *fakeTracker) creates() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.comments)
}

type fakeFetcher struct {
	log  *callLog
	data *ghdata.Data
	err  error
}

func (f *fakeFetcher) Fetch(context.Context, string, string, int, bool) (*ghdata.Data, error) {
	f.log.add("fetch")
	return f.data, f.err
}

type fakeCreds struct {
	token string
	err   error
}

func (f *fakeCreds) AccessToken(context.Context) (string, error) {
	return f.token, f.err
}

type fakeCloner struct {
	mu        sync.Mutex
	log       *callLog
	err       error
	cleanups  int
	gotBranch string
	gotToken  string
}

func (f *fakeCloner) Clone(_ context.Context, _, _, branch, token string) (string, checkout.CleanupFunc, error) {
	f.log.add("clone")
	f.mu.Lock()
	f.gotBranch = branch
	f.gotToken = token
	f.mu.Unlock()
	if f.err != nil {
		return "", nil, f.err
	}
	return "/tmp/workdir", func(context.Context) error {
		f.log.add("cleanup")
		f.mu.Lock()
		defer f.mu.Unlock()
		f.cleanups++
		return nil
	}, nil
}

type fakeExecutor struct {
	mu     sync.Mutex
	log    *callLog
	res    *agent.Result
	err    error
	gotReq agent.Request
}

func (f *fakeExecutor) Execute(_ context.Context, req agent.Request) (*agent.Result, error) {
	f.log.add("execute")
	f.mu.Lock()
	f.gotReq = req
	f.mu.Unlock()
	return f.res, f.err
}

// waitingExecutor blocks until its context is done, the shape of an agent run
// hitting the execution timeout.
type waitingExecutor struct {
	log *callLog
}

func (f *waitingExecutor) Execute(ctx context.Context, _ agent.Request) (*agent.Result, error) {
	f.log.add("execute")
	<-ctx.Done()
	return nil, ctx.Err()
}

type fixture struct {
	pipeline *Pipeline
	log      *callLog
	gate     *fakeGate
	tracker  *fakeTracker
	fetcher  *fakeFetcher
	cloner   *fakeCloner
	executor *fakeExecutor
}

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Factor: 1}
}

func newFixture(t *testing.T, mutate func(*Deps), opts ...Option) *fixture {
	t.Helper()
	log := &callLog{}
	cost := 0.05

	f := &fixture{
		log:     log,
		gate:    &fakeGate{admit: true},
		tracker: &fakeTracker{log: log},
		fetcher: &fakeFetcher{log: log, data: &ghdata.Data{
			Title:      "Crash on startup",
			Author:     "reporter",
			State:      "OPEN",
			HeadBranch: "feature/x",
			BaseBranch: "main",
			HeadSHA:    "abc123",
		}},
		cloner: &fakeCloner{log: log},
		executor: &fakeExecutor{log: log, res: &agent.Result{
			Success:  true,
			Duration: 42 * time.Second,
			CostUSD:  &cost,
			NumTurns: 5,
		}},
	}

	prompts, err := prompt.NewBuilder()
	require.NoError(t, err)

	deps := Deps{
		Guard:       allowGuard{},
		Gate:        f.gate,
		Tracker:     f.tracker,
		Credentials: &fakeCreds{token: "ghs_installation_token"},
		Fetcher:     f.fetcher,
		Prompts:     prompts,
		Cloner:      f.cloner,
		Tools:       toolconfig.NewResolver(),
		Executor:    f.executor,
	}
	if mutate != nil {
		mutate(&deps)
	}

	f.pipeline, err = New(deps, append([]Option{WithRetryConfig(fastRetry())}, opts...)...)
	require.NoError(t, err)
	return f
}

func testRequest() *RequestContext {
	return &RequestContext{
		Owner:         "org",
		Repo:          "repo",
		DefaultBranch: "main",
		Number:        7,
		IsPR:          true,
		Actor:         "octocat",
		Message:       "please fix the failing test",
		TriggeredAt:   time.Now(),
		DeliveryID:    "delivery-1",
	}
}

func TestProcessSuccess(t *testing.T) {
	f := newFixture(t, nil)
	f.pipeline.Process(context.Background(), testRequest())

	want := []string{"create", "fetch", "clone", "execute", "cleanup"}
	if diff := cmp.Diff(want, f.log.list()); diff != "" {
		t.Errorf("call order (-want +got):\n%s", diff)
	}

	require.Equal(t, 1, f.tracker.creates())
	comment := f.tracker.comments[0]
	require.NotNil(t, comment.result)
	assert.True(t, comment.result.Success)
	assert.Equal(t, 1, comment.finalizes)

	assert.Equal(t, "feature/x", f.cloner.gotBranch, "PR checkouts use the fetched head branch")
	assert.Equal(t, "ghs_installation_token", f.cloner.gotToken)
	assert.Equal(t, 1, f.cloner.cleanups)
	assert.Equal(t, 1, f.gate.releases)

	assert.Contains(t, f.executor.gotReq.Prompt, "please fix the failing test")
	assert.Contains(t, f.executor.gotReq.AllowedTools, "write_file")
	assert.Contains(t, f.executor.gotReq.Servers, toolconfig.WorkspaceServer)
}

func TestIssueRequestClonesDefaultBranch(t *testing.T) {
	f := newFixture(t, nil)
	f.fetcher.data = &ghdata.Data{Title: "Question", Author: "reporter", State: "OPEN"}

	req := testRequest()
	req.IsPR = false
	f.pipeline.Process(context.Background(), req)

	assert.Equal(t, "main", f.cloner.gotBranch)
	assert.NotContains(t, f.executor.gotReq.AllowedTools, "write_file")
}

// markerFinder fakes the durable half of the idempotency guard.
type markerFinder struct {
	mu      sync.Mutex
	calls   int
	found   bool
	release chan struct{}
}

func (m *markerFinder) HasDeliveryMarker(context.Context, string, string, int, string) (bool, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.release != nil {
		<-m.release
	}
	return m.found, nil
}

func TestDuplicateDeliverySkipped(t *testing.T) {
	finder := &markerFinder{}
	f := newFixture(t, func(d *Deps) {
		d.Guard = idempotency.NewGuard(finder, time.Hour)
	})

	f.pipeline.Process(context.Background(), testRequest())
	f.pipeline.Process(context.Background(), testRequest())

	assert.Equal(t, 1, f.tracker.creates(), "a redelivered identifier must be processed once")
}

func TestConcurrentDuplicatesProcessOnce(t *testing.T) {
	finder := &markerFinder{release: make(chan struct{})}
	f := newFixture(t, func(d *Deps) {
		d.Guard = idempotency.NewGuard(finder, time.Hour)
	})

	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.pipeline.Process(context.Background(), testRequest())
		}()
	}
	// Let both goroutines pass the reservation check before the durable
	// check returns.
	time.Sleep(50 * time.Millisecond)
	close(finder.release)
	wg.Wait()

	assert.Equal(t, 1, f.tracker.creates())
	assert.Equal(t, 1, finder.calls, "the loser skips on the reservation without a remote call")
}

func TestCapacityRejection(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Gate = &fakeGate{admit: false}
	})
	f.pipeline.Process(context.Background(), testRequest())

	assert.Equal(t, 0, f.tracker.creates(), "rejected deliveries never start work")
	assert.Equal(t, 1, f.tracker.notices)
	assert.Empty(t, f.log.list())
}

func TestExecutorFailureStaysGeneric(t *testing.T) {
	secret := "ghs_verysecrettoken"
	f := newFixture(t, nil)
	f.executor.res = nil
	f.executor.err = errors.New("anthropic: 500 from POST /v1/messages (auth " + secret + ", key at /etc/mentionbot/key.pem)")

	f.pipeline.Process(context.Background(), testRequest())

	require.Equal(t, 1, f.tracker.creates())
	comment := f.tracker.comments[0]
	assert.Equal(t, tracking.GenericErrorMessage, comment.body)
	assert.NotContains(t, comment.body, secret)
	assert.NotContains(t, comment.body, "/etc/mentionbot/key.pem")
	assert.Equal(t, 1, f.cloner.cleanups, "cleanup runs on the failure path too")
	assert.Equal(t, 1, f.gate.releases)
}

func TestAgentTimeoutCleansUp(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Executor = &waitingExecutor{log: &callLog{}}
	}, WithAgentTimeout(20*time.Millisecond))

	f.pipeline.Process(context.Background(), testRequest())

	require.Equal(t, 1, f.tracker.creates())
	assert.Equal(t, tracking.GenericErrorMessage, f.tracker.comments[0].body)
	assert.Equal(t, 1, f.cloner.cleanups)
}

func mustBuilder(t *testing.T) *prompt.Builder {
	t.Helper()
	b, err := prompt.NewBuilder()
	require.NoError(t, err)
	return b
}

func TestCloneFailureSkipsExecution(t *testing.T) {
	f := newFixture(t, nil)
	f.cloner.err = errors.New("reference not found")

	f.pipeline.Process(context.Background(), testRequest())

	assert.NotContains(t, f.log.list(), "execute")
	require.Equal(t, 1, f.tracker.creates())
	assert.Equal(t, tracking.GenericErrorMessage, f.tracker.comments[0].body)
	assert.Equal(t, 1, f.gate.releases)
}

func TestTransientFetchErrorRetried(t *testing.T) {
	log := &callLog{}
	flaky := &flakyFetcher{log: log, failures: 1, data: &ghdata.Data{Title: "t", Author: "a", State: "OPEN"}}
	f := newFixture(t, func(d *Deps) {
		d.Fetcher = flaky
	})

	f.pipeline.Process(context.Background(), testRequest())

	assert.Equal(t, 2, flaky.calls)
	require.Equal(t, 1, f.tracker.creates())
	assert.Equal(t, 1, f.tracker.comments[0].finalizes)
	assert.NotNil(t, f.tracker.comments[0].result)
}

type flakyFetcher struct {
	mu       sync.Mutex
	log      *callLog
	failures int
	calls    int
	data     *ghdata.Data
}

func (f *flakyFetcher) Fetch(context.Context, string, string, int, bool) (*ghdata.Data, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("upstream hiccup")
	}
	return f.data, nil
}

func TestCreateFailureStopsEarly(t *testing.T) {
	f := newFixture(t, func(d *Deps) {
		d.Tracker = &fakeTracker{log: &callLog{}, createErr: errors.New("comment create rejected")}
	})

	f.pipeline.Process(context.Background(), testRequest())

	assert.NotContains(t, f.log.list(), "fetch")
	assert.Equal(t, 1, f.gate.releases)
}

func TestFinalizeFailureDoesNotPanic(t *testing.T) {
	f := newFixture(t, nil)
	f.pipeline.Process(context.Background(), testRequest())
	require.Equal(t, 1, f.tracker.creates())

	f.tracker.comments[0].finalizeErr = errors.New("comment edit rejected")
	req := testRequest()
	req.DeliveryID = "delivery-2"
	f.pipeline.Process(context.Background(), req)
}

func TestNewValidatesDeps(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)

	_, err = New(Deps{
		Guard:       allowGuard{},
		Gate:        &fakeGate{admit: true},
		Tracker:     &fakeTracker{log: &callLog{}},
		Credentials: &fakeCreds{},
		Fetcher:     &fakeFetcher{log: &callLog{}},
		Prompts:     mustBuilder(t),
		Cloner:      &fakeCloner{log: &callLog{}},
		Tools:       toolconfig.NewResolver(),
		Executor:    &fakeExecutor{log: &callLog{}},
	}, WithAgentTimeout(-time.Second))
	assert.Error(t, err)
}
