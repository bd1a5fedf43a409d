package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChamsBouzaiene/ada/internal/answer"
	"github.com/ChamsBouzaiene/ada/internal/document"
)

func mustDoc(t *testing.T, body string) *document.Document {
	t.Helper()
	doc, err := document.New(
		[]document.Section{{Header: "Intro", Body: body, ReferenceIndices: []int{0}}},
		[]document.Reference{{Kind: document.KindWebArticle, Name: "Wiki", Link: "https://w.example"}},
	)
	require.NoError(t, err)
	return doc
}

// stubService answers every question with the same document.
type stubService struct {
	doc   *document.Document
	err   error
	calls atomic.Int32
}

func (s *stubService) Ask(ctx context.Context, q string) (*document.Document, error) {
	s.calls.Add(1)
	return s.doc, s.err
}

// gatedService blocks each question until the test releases it.
type gatedService struct {
	mu      sync.Mutex
	gates   map[string]chan reply
	started chan string
}

type reply struct {
	doc *document.Document
	err error
}

func newGatedService() *gatedService {
	return &gatedService{gates: map[string]chan reply{}, started: make(chan string, 16)}
}

func (g *gatedService) gate(q string) chan reply {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.gates[q]
	if !ok {
		ch = make(chan reply, 1)
		g.gates[q] = ch
	}
	return ch
}

// Ask ignores cancellation so tests can deliver a late answer to a
// superseded request.
func (g *gatedService) Ask(ctx context.Context, q string) (*document.Document, error) {
	ch := g.gate(q)
	g.started <- q
	r := <-ch
	return r.doc, r.err
}

func (g *gatedService) release(q string, doc *document.Document, err error) {
	g.gate(q) <- reply{doc: doc, err: err}
}

func TestSubmitAnswered(t *testing.T) {
	doc := mustDoc(t, "X is ...")
	store := NewStore(&stubService{doc: doc})

	res, err := store.Submit(context.Background(), "What is X?")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAnswered, res.Outcome)
	assert.Equal(t, 1, res.Question.ID)

	history := store.History()
	require.Len(t, history, 1)
	assert.Equal(t, "What is X?", history[0].Text)
	assert.Same(t, doc, history[0].Document)

	active, ok := store.ActiveDocument()
	require.True(t, ok)
	assert.Same(t, doc, active)
	assert.Equal(t, Status{State: StateIdle}, store.Status())

	refs, err := document.Resolve(active, active.Sections[0])
	require.NoError(t, err)
	assert.Equal(t, "Wiki", refs[0].Name)
}

func TestIDsAreSequential(t *testing.T) {
	store := NewStore(&stubService{doc: mustDoc(t, "b")})
	for i := 0; i < 5; i++ {
		_, err := store.Submit(context.Background(), "q")
		require.NoError(t, err)
	}

	history := store.History()
	require.Len(t, history, 5)
	for i, q := range history {
		assert.Equal(t, i+1, q.ID)
	}
	active, ok := store.Active()
	require.True(t, ok)
	assert.Equal(t, 5, active.ID)
}

func TestBlankSubmissionIsIgnored(t *testing.T) {
	svc := &stubService{doc: mustDoc(t, "b")}
	store := NewStore(svc)

	for _, text := range []string{"", "   ", "\t\n"} {
		res, err := store.Submit(context.Background(), text)
		require.NoError(t, err)
		assert.Equal(t, OutcomeIgnored, res.Outcome)
	}

	assert.Zero(t, svc.calls.Load())
	assert.Empty(t, store.History())
	assert.Equal(t, StateIdle, store.Status().State)
	assert.Zero(t, store.Snapshot().Version)
}

func TestFailureLeavesHistoryUntouched(t *testing.T) {
	doc := mustDoc(t, "first")
	svc := &stubService{doc: doc}
	store := NewStore(svc)
	_, err := store.Submit(context.Background(), "first")
	require.NoError(t, err)

	svc.doc, svc.err = nil, answer.Malformed(errors.New("reference index 5 out of range [0,2)"))
	res, err := store.Submit(context.Background(), "second")
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.True(t, answer.IsMalformed(err))

	status := store.Status()
	assert.Equal(t, StateErrored, status.State)
	assert.Equal(t, answer.KindMalformed, status.Kind)
	assert.Contains(t, status.Reason, "out of range")

	require.Len(t, store.History(), 1)
	active, ok := store.Active()
	require.True(t, ok)
	assert.Equal(t, 1, active.ID)
}

func TestOutOfRangePayloadOverHTTPLeavesHistoryUntouched(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			_, _ = w.Write([]byte(`{"sections":[{"body":"X is ...","referenceIndices":[0]}],
				"references":[{"kind":"WebArticle","name":"Source A","link":"http://a"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"sections":[{"body":"Y is ...","referenceIndices":[5]}],
			"references":[{"kind":"Image","name":"a","link":"x"},{"kind":"Image","name":"b","link":"y"}]}`))
	}))
	defer server.Close()

	store := NewStore(answer.NewHTTPService(server.URL, time.Second))
	ctx := context.Background()

	res, err := store.Submit(ctx, "What is X?")
	require.NoError(t, err)
	require.Equal(t, OutcomeAnswered, res.Outcome)
	refs, err := document.Resolve(res.Question.Document, res.Question.Document.Sections[0])
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "Source A", refs[0].Name)

	res, err = store.Submit(ctx, "What is Y?")
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.True(t, answer.IsMalformed(err))
	assert.Contains(t, store.Status().Reason, "out of range")

	history := store.History()
	require.Len(t, history, 1)
	assert.Equal(t, "What is X?", history[0].Text)
	active, ok := store.Active()
	require.True(t, ok)
	assert.Equal(t, 1, active.ID)
}

func TestErrorKindsSurfaceAsErrored(t *testing.T) {
	cases := []error{
		answer.Transport(errors.New("connection refused")),
		answer.Application(500, "backend exploded"),
		answer.Malformed(errors.New("not json")),
		errors.New("unclassified"),
	}
	for _, cerr := range cases {
		store := NewStore(&stubService{err: cerr})
		_, err := store.Submit(context.Background(), "q")
		require.Error(t, err)
		assert.Equal(t, StateErrored, store.Status().State)
		assert.NotEmpty(t, store.Status().Reason)
		assert.Empty(t, store.History())
		_, ok := store.ActiveDocument()
		assert.False(t, ok)
	}
}

func TestNilDocumentIsMalformed(t *testing.T) {
	store := NewStore(&stubService{})
	_, err := store.Submit(context.Background(), "q")
	assert.True(t, answer.IsMalformed(err))
}

func TestRecoveryAfterError(t *testing.T) {
	svc := &stubService{err: answer.Transport(errors.New("down"))}
	store := NewStore(svc)
	_, _ = store.Submit(context.Background(), "q")
	require.Equal(t, StateErrored, store.Status().State)

	svc.err, svc.doc = nil, mustDoc(t, "ok")
	_, err := store.Submit(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, StateIdle, store.Status().State)
	assert.Equal(t, 1, store.History()[0].ID)
}

func TestPendingWhileInFlight(t *testing.T) {
	gated := newGatedService()
	store := NewStore(gated)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = store.Submit(context.Background(), "slow")
	}()
	<-gated.started

	assert.Equal(t, StatePending, store.Status().State)
	assert.Empty(t, store.History())

	gated.release("slow", mustDoc(t, "b"), nil)
	<-done
	assert.Equal(t, StateIdle, store.Status().State)
	assert.Len(t, store.History(), 1)
}

func TestStaleResponseIsDiscarded(t *testing.T) {
	gated := newGatedService()
	store := NewStore(gated)

	type outcome struct {
		res Result
		err error
	}
	aDone := make(chan outcome, 1)
	bDone := make(chan outcome, 1)

	go func() {
		res, err := store.Submit(context.Background(), "A")
		aDone <- outcome{res, err}
	}()
	require.Equal(t, "A", <-gated.started)

	go func() {
		res, err := store.Submit(context.Background(), "B")
		bDone <- outcome{res, err}
	}()
	require.Equal(t, "B", <-gated.started)

	gated.release("A", mustDoc(t, "a"), nil)
	a := <-aDone
	assert.Equal(t, OutcomeSuperseded, a.res.Outcome)
	assert.ErrorIs(t, a.err, ErrSuperseded)
	assert.Empty(t, store.History())
	assert.Equal(t, StatePending, store.Status().State)

	bDoc := mustDoc(t, "b")
	gated.release("B", bDoc, nil)
	b := <-bDone
	require.NoError(t, b.err)

	history := store.History()
	require.Len(t, history, 1)
	assert.Equal(t, "B", history[0].Text)
	assert.Equal(t, 1, history[0].ID)
	active, ok := store.ActiveDocument()
	require.True(t, ok)
	assert.Same(t, bDoc, active)
}

func TestStaleFailureIsDiscarded(t *testing.T) {
	gated := newGatedService()
	store := NewStore(gated)

	aDone := make(chan error, 1)
	go func() {
		_, err := store.Submit(context.Background(), "A")
		aDone <- err
	}()
	<-gated.started

	bDone := make(chan error, 1)
	go func() {
		_, err := store.Submit(context.Background(), "B")
		bDone <- err
	}()
	<-gated.started

	gated.release("B", mustDoc(t, "b"), nil)
	require.NoError(t, <-bDone)

	gated.release("A", nil, answer.Transport(errors.New("late failure")))
	assert.ErrorIs(t, <-aDone, ErrSuperseded)
	assert.Equal(t, StateIdle, store.Status().State)
	assert.Len(t, store.History(), 1)
}

func TestSupersededRequestIsCancelled(t *testing.T) {
	entered := make(chan struct{})
	cancelled := make(chan struct{})
	bDoc := mustDoc(t, "b")
	svc := answer.ServiceFunc(func(ctx context.Context, q string) (*document.Document, error) {
		if q == "A" {
			close(entered)
			<-ctx.Done()
			close(cancelled)
			return nil, answer.Transport(ctx.Err())
		}
		return bDoc, nil
	})
	store := NewStore(svc)

	aDone := make(chan error, 1)
	go func() {
		_, err := store.Submit(context.Background(), "A")
		aDone <- err
	}()
	<-entered

	_, err := store.Submit(context.Background(), "B")
	require.NoError(t, err)

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("first request was not cancelled")
	}
	assert.ErrorIs(t, <-aDone, ErrSuperseded)
	assert.Equal(t, "B", store.History()[0].Text)
}

func TestCancel(t *testing.T) {
	gated := newGatedService()
	store := NewStore(gated)
	assert.False(t, store.Cancel())

	done := make(chan error, 1)
	go func() {
		_, err := store.Submit(context.Background(), "A")
		done <- err
	}()
	<-gated.started

	assert.True(t, store.Cancel())
	assert.Equal(t, StateIdle, store.Status().State)

	gated.release("A", mustDoc(t, "a"), nil)
	assert.ErrorIs(t, <-done, ErrSuperseded)
	assert.Empty(t, store.History())
}

func TestSelect(t *testing.T) {
	store := NewStore(&stubService{doc: mustDoc(t, "b")})
	for i := 0; i < 3; i++ {
		_, err := store.Submit(context.Background(), "q")
		require.NoError(t, err)
	}

	assert.True(t, store.Select(1))
	active, _ := store.Active()
	assert.Equal(t, 1, active.ID)

	before := store.Snapshot()
	assert.False(t, store.Select(99))
	assert.False(t, store.Select(0))
	assert.Equal(t, before, store.Snapshot())

	// Re-selecting the active question is not a change.
	assert.True(t, store.Select(1))
	assert.Equal(t, before.Version, store.Snapshot().Version)
}

func TestSelectOnEmptySession(t *testing.T) {
	store := NewStore(&stubService{})
	assert.False(t, store.Select(1))
	_, ok := store.ActiveDocument()
	assert.False(t, ok)
}

func TestReadsAreIdempotent(t *testing.T) {
	store := NewStore(&stubService{doc: mustDoc(t, "b")})
	_, err := store.Submit(context.Background(), "q")
	require.NoError(t, err)

	first := store.Snapshot()
	for i := 0; i < 3; i++ {
		store.History()
		store.ActiveDocument()
		store.Status()
		assert.Equal(t, first, store.Snapshot())
	}
}

func TestHistoryIsACopy(t *testing.T) {
	store := NewStore(&stubService{doc: mustDoc(t, "b")})
	_, err := store.Submit(context.Background(), "q")
	require.NoError(t, err)

	h := store.History()
	h[0].Text = "mutated"
	assert.Equal(t, "q", store.History()[0].Text)
}

func TestSubscribe(t *testing.T) {
	store := NewStore(&stubService{doc: mustDoc(t, "b")})

	var mu sync.Mutex
	var kinds []ChangeKind
	var versions []uint64
	unsubscribe := store.Subscribe(func(c Change) {
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, c.Kind)
		versions = append(versions, c.Snapshot.Version)
	})

	_, err := store.Submit(context.Background(), "q1")
	require.NoError(t, err)
	_, err = store.Submit(context.Background(), "q2")
	require.NoError(t, err)
	store.Select(1)

	unsubscribe()
	store.Select(2)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []ChangeKind{ChangeStatus, ChangeQuestionAdded, ChangeStatus, ChangeQuestionAdded, ChangeActive}, kinds)
	for i := 1; i < len(versions); i++ {
		assert.Greater(t, versions[i], versions[i-1])
	}
}

type fakeIndexer struct {
	indexed []int
	hits    []int
}

func (f *fakeIndexer) IndexQuestion(q Question) error {
	f.indexed = append(f.indexed, q.ID)
	return nil
}

func (f *fakeIndexer) SearchIDs(query string, limit int) ([]int, error) {
	return f.hits, nil
}

func TestSearch(t *testing.T) {
	idx := &fakeIndexer{hits: []int{2, 42}}
	store := NewStore(&stubService{doc: mustDoc(t, "b")}, WithIndexer(idx))
	for _, q := range []string{"photosynthesis", "black holes"} {
		_, err := store.Submit(context.Background(), q)
		require.NoError(t, err)
	}
	assert.Equal(t, []int{1, 2}, idx.indexed)

	found, err := store.Search("holes", 5)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "black holes", found[0].Text)
}

func TestSearchFallbackScan(t *testing.T) {
	store := NewStore(&stubService{doc: mustDoc(t, "b")})
	for _, q := range []string{"Black holes", "photosynthesis", "white holes"} {
		_, err := store.Submit(context.Background(), q)
		require.NoError(t, err)
	}

	found, err := store.Search("HOLES", 0)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "white holes", found[0].Text)
}

type recordingRecorder struct {
	mu        sync.Mutex
	outcomes  []string
	discarded int
}

func (r *recordingRecorder) Submitted(outcome string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *recordingRecorder) Discarded() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discarded++
}

func TestRecorder(t *testing.T) {
	rec := &recordingRecorder{}
	svc := &stubService{doc: mustDoc(t, "b")}
	store := NewStore(svc, WithRecorder(rec))

	_, _ = store.Submit(context.Background(), "q")
	svc.doc, svc.err = nil, answer.Transport(errors.New("down"))
	_, _ = store.Submit(context.Background(), "q")
	_, _ = store.Submit(context.Background(), " ")

	assert.Equal(t, []string{"answered", "failed"}, rec.outcomes)
}

func TestSetService(t *testing.T) {
	store := NewStore(&stubService{err: answer.Transport(errors.New("down"))})
	store.SetService(nil)
	store.SetService(&stubService{doc: mustDoc(t, "b")})

	_, err := store.Submit(context.Background(), "q")
	require.NoError(t, err)
	assert.NotEmpty(t, store.ID())
}

func TestConcurrentReadsDuringSubmit(t *testing.T) {
	store := NewStore(&stubService{doc: mustDoc(t, "b")})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = store.Submit(context.Background(), "q")
		}()
		go func() {
			defer wg.Done()
			snap := store.Snapshot()
			if snap.ActiveID != 0 {
				_, ok := snap.Active()
				assert.True(t, ok)
			}
		}()
	}
	wg.Wait()

	history := store.History()
	for i := 1; i < len(history); i++ {
		assert.Greater(t, history[i].ID, history[i-1].ID)
	}
}
