// Package session holds the question-answer session: the history of answered
// questions, which one is selected, and the status of the latest request.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ChamsBouzaiene/ada/internal/answer"
	"github.com/ChamsBouzaiene/ada/internal/document"
)

// ErrSuperseded is returned by Submit when a newer submission was issued
// before this one finished. Its result was discarded.
var ErrSuperseded = errors.New("request superseded by a newer question")

// Indexer keeps a searchable copy of answered questions.
type Indexer interface {
	IndexQuestion(q Question) error
	SearchIDs(query string, limit int) ([]int, error)
}

// Recorder observes submissions.
type Recorder interface {
	Submitted(outcome string, elapsed time.Duration)
	Discarded()
}

// Option configures a Store.
type Option func(*Store)

// WithIndexer enables history search through idx.
func WithIndexer(idx Indexer) Option {
	return func(s *Store) { s.indexer = idx }
}

// WithRecorder reports submissions to r.
func WithRecorder(r Recorder) Option {
	return func(s *Store) { s.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithID sets the session identifier.
func WithID(id string) Option {
	return func(s *Store) { s.id = id }
}

// Store is the only writer of session state. Every transition happens under
// one lock, so readers never observe a half-applied change. The answer
// service is called without holding the lock.
type Store struct {
	mu       sync.RWMutex
	id       string
	service  answer.Service
	history  []Question
	activeID int
	status   Status
	version  uint64

	// seq is the token of the newest submission; only its result is applied.
	seq    uint64
	cancel context.CancelFunc

	listeners    map[int]func(Change)
	nextListener int

	indexer  Indexer
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time
}

// NewStore creates an empty session that asks svc.
func NewStore(svc answer.Service, opts ...Option) *Store {
	s := &Store{
		id:        uuid.NewString(),
		service:   svc,
		status:    Status{State: StateIdle},
		listeners: make(map[int]func(Change)),
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session identifier.
func (s *Store) ID() string {
	return s.id
}

// SetService swaps the answer service used by later submissions. A request
// already in flight keeps the service it started with.
func (s *Store) SetService(svc answer.Service) {
	if svc == nil {
		return
	}
	s.mu.Lock()
	s.service = svc
	s.mu.Unlock()
}

// Submit asks the answer service for text and blocks until the outcome is
// known. Blank text is ignored without a request. A submission that is
// overtaken by a newer one is cancelled and its result is discarded.
func (s *Store) Submit(ctx context.Context, text string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{Outcome: OutcomeIgnored}, nil
	}

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	svc := s.service
	s.seq++
	token := s.seq
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	s.status = Status{State: StatePending}
	pending := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeStatus, Snapshot: pending})
	s.logger.Debug("question submitted", zap.Uint64("token", token), zap.Int("chars", len(text)))

	start := s.now()
	var doc *document.Document
	var err error
	if svc == nil {
		err = answer.Application(0, "no answer service configured")
	} else {
		doc, err = svc.Ask(reqCtx, text)
	}
	if err == nil && doc == nil {
		err = answer.Malformed(errors.New("empty answer"))
	}
	elapsed := s.now().Sub(start)

	s.mu.Lock()
	if token != s.seq {
		s.mu.Unlock()
		s.logger.Debug("discarding superseded answer", zap.Uint64("token", token))
		if s.recorder != nil {
			s.recorder.Discarded()
			s.recorder.Submitted(OutcomeSuperseded.String(), elapsed)
		}
		return Result{Outcome: OutcomeSuperseded}, ErrSuperseded
	}
	s.cancel = nil

	if err != nil {
		s.status = Status{State: StateErrored, Reason: err.Error(), Kind: answer.KindOf(err)}
		snap := s.snapshotLocked()
		s.mu.Unlock()

		s.logger.Warn("question failed", zap.String("kind", string(answer.KindOf(err))), zap.Error(err))
		if s.recorder != nil {
			s.recorder.Submitted(OutcomeFailed.String(), elapsed)
		}
		s.notify(Change{Kind: ChangeStatus, Snapshot: snap})
		return Result{Outcome: OutcomeFailed}, err
	}

	id := 1
	if n := len(s.history); n > 0 {
		id = s.history[n-1].ID + 1
	}
	q := Question{
		ID:         id,
		Text:       text,
		Document:   doc,
		AskedAt:    start,
		AnsweredAt: start.Add(elapsed),
	}
	s.history = append(s.history, q)
	s.activeID = id
	s.status = Status{State: StateIdle}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	if s.indexer != nil {
		if ierr := s.indexer.IndexQuestion(q); ierr != nil {
			s.logger.Warn("failed to index question", zap.Int("id", q.ID), zap.Error(ierr))
		}
	}
	s.logger.Info("question answered",
		zap.Int("id", q.ID),
		zap.Int("sections", len(doc.Sections)),
		zap.Int("references", len(doc.References)),
		zap.Duration("elapsed", elapsed))
	if s.recorder != nil {
		s.recorder.Submitted(OutcomeAnswered.String(), elapsed)
	}
	s.notify(Change{Kind: ChangeQuestionAdded, Question: &q, Snapshot: snap})
	return Result{Outcome: OutcomeAnswered, Question: q}, nil
}

// Cancel abandons the in-flight submission, if any, and returns the status to
// idle. It reports whether a submission was cancelled.
func (s *Store) Cancel() bool {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return false
	}
	s.cancel()
	s.cancel = nil
	s.seq++
	s.status = Status{State: StateIdle}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeStatus, Snapshot: snap})
	return true
}

// Select makes the question with id active. Unknown ids leave the session
// unchanged and return false.
func (s *Store) Select(id int) bool {
	s.mu.Lock()
	if _, ok := s.findLocked(id); !ok {
		s.mu.Unlock()
		return false
	}
	if s.activeID == id {
		s.mu.Unlock()
		return true
	}
	s.activeID = id
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeActive, Snapshot: snap})
	return true
}

// ActiveDocument returns the document of the active question.
func (s *Store) ActiveDocument() (*document.Document, bool) {
	q, ok := s.Active()
	if !ok {
		return nil, false
	}
	return q.Document, true
}

// Active returns the active question.
func (s *Store) Active() (Question, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.activeID == 0 {
		return Question{}, false
	}
	return s.findLocked(s.activeID)
}

// Question returns the question with id.
func (s *Store) Question(id int) (Question, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findLocked(id)
}

// History returns every answered question in submission order.
func (s *Store) History() []Question {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Question(nil), s.history...)
}

// Status returns the status of the latest submission.
func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Snapshot returns history, selection and status read together.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotNoBump()
}

// Search finds answered questions matching query, best match first.
func (s *Store) Search(query string, limit int) ([]Question, error) {
	if limit <= 0 {
		limit = 10
	}
	if s.indexer == nil {
		return s.scan(query, limit), nil
	}

	ids, err := s.indexer.SearchIDs(query, limit)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Question, 0, len(ids))
	for _, id := range ids {
		if q, ok := s.findLocked(id); ok {
			out = append(out, q)
		}
	}
	return out, nil
}

// scan is the substring fallback when no index is configured.
func (s *Store) scan(query string, limit int) []Question {
	needle := strings.ToLower(strings.TrimSpace(query))
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Question
	for i := len(s.history) - 1; i >= 0 && len(out) < limit; i-- {
		if strings.Contains(strings.ToLower(s.history[i].Text), needle) {
			out = append(out, s.history[i])
		}
	}
	return out
}

// Subscribe registers fn for change notifications and returns a function
// that removes it. fn is called outside the store's lock and must not block.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) notify(c Change) {
	s.mu.RLock()
	fns := make([]func(Change), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(c)
	}
}

func (s *Store) findLocked(id int) (Question, bool) {
	// IDs are strictly increasing, so history is sorted by ID.
	lo, hi := 0, len(s.history)
	for lo < hi {
		mid := (lo + hi) / 2
		switch {
		case s.history[mid].ID == id:
			return s.history[mid], true
		case s.history[mid].ID < id:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return Question{}, false
}

// snapshotLocked bumps the version and captures state. Callers hold mu.
func (s *Store) snapshotLocked() Snapshot {
	s.version++
	return s.snapshotNoBump()
}

func (s *Store) snapshotNoBump() Snapshot {
	return Snapshot{
		Version:  s.version,
		History:  append([]Question(nil), s.history...),
		ActiveID: s.activeID,
		Status:   s.status,
	}
}
