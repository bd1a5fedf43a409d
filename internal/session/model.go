package session

import (
	"time"

	"github.com/ChamsBouzaiene/ada/internal/answer"
	"github.com/ChamsBouzaiene/ada/internal/document"
)

// State is the lifecycle state of the latest submission.
type State string

const (
	StateIdle    State = "idle"
	StatePending State = "pending"
	StateErrored State = "errored"
)

// Status describes the latest submission only.
type Status struct {
	State  State            `json:"state"`
	Reason string           `json:"reason,omitempty"`
	Kind   answer.ErrorKind `json:"kind,omitempty"`
}

// Question is one answered question. Records never change once stored.
type Question struct {
	ID         int                `json:"id"`
	Text       string             `json:"text"`
	Document   *document.Document `json:"document,omitempty"`
	AskedAt    time.Time          `json:"asked_at"`
	AnsweredAt time.Time          `json:"answered_at"`
}

// Snapshot is a consistent view of the whole session.
type Snapshot struct {
	Version  uint64     `json:"version"`
	History  []Question `json:"history"`
	ActiveID int        `json:"active_id,omitempty"`
	Status   Status     `json:"status"`
}

// Active returns the active question of the snapshot.
func (s Snapshot) Active() (Question, bool) {
	if s.ActiveID == 0 {
		return Question{}, false
	}
	for _, q := range s.History {
		if q.ID == s.ActiveID {
			return q, true
		}
	}
	return Question{}, false
}

// Outcome of a Submit call.
type Outcome int

const (
	OutcomeIgnored Outcome = iota
	OutcomeAnswered
	OutcomeFailed
	OutcomeSuperseded
)

func (o Outcome) String() string {
	switch o {
	case OutcomeIgnored:
		return "ignored"
	case OutcomeAnswered:
		return "answered"
	case OutcomeFailed:
		return "failed"
	case OutcomeSuperseded:
		return "superseded"
	default:
		return "unknown"
	}
}

// Result reports what a Submit call did. Question is set for OutcomeAnswered.
type Result struct {
	Outcome  Outcome
	Question Question
}

// ChangeKind names what a Change is about.
type ChangeKind string

const (
	ChangeStatus        ChangeKind = "status"
	ChangeQuestionAdded ChangeKind = "question_added"
	ChangeActive        ChangeKind = "active_changed"
)

// Change is delivered to subscribers after every observable transition.
// Deliveries from concurrent transitions may arrive out of order; compare
// Snapshot.Version to discard stale ones.
type Change struct {
	Kind     ChangeKind
	Question *Question // set for ChangeQuestionAdded
	Snapshot Snapshot
}
