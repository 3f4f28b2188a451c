package odontology

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SessionInput describes a session to append.
type SessionInput struct {
	SessionDate time.Time     `json:"session_date"`
	Notes       *string       `json:"notes,omitempty"`
	Status      SessionStatus `json:"status,omitempty"`
}

// SessionUpdate carries the editable fields of a session; nil means unchanged.
type SessionUpdate struct {
	SessionDate *time.Time     `json:"session_date,omitempty"`
	Notes       *string        `json:"notes,omitempty"`
	Status      *SessionStatus `json:"status,omitempty"`
}

// Validate checks the fields being changed.
func (u SessionUpdate) Validate() error {
	if u.SessionDate != nil && u.SessionDate.IsZero() {
		return Validation("session_date cannot be empty")
	}
	if u.Status != nil && !u.Status.Valid() {
		return Validation("unknown session status %q", *u.Status)
	}
	return nil
}

// Ledger is the ordered session history of one assignment. Mutations are only
// allowed while the assignment is activa and only by its student. Session
// numbers are never reused: the next number is one past the highest ever issued.
type Ledger struct {
	procedure  *Procedure
	assignment *Assignment
	sessions   []Session
}

// NewLedger wraps an assignment and its sessions. When procedure is non-nil its
// sessions_completed counter is kept in step with the ledger's.
func NewLedger(procedure *Procedure, assignment *Assignment, sessions []Session) *Ledger {
	l := &Ledger{
		procedure:  procedure,
		assignment: assignment,
		sessions:   append([]Session(nil), sessions...),
	}
	l.sort()
	return l
}

func (l *Ledger) sort() {
	sort.SliceStable(l.sessions, func(i, j int) bool {
		return l.sessions[i].SessionNumber < l.sessions[j].SessionNumber
	})
}

// Sessions returns the sessions ordered by session number.
func (l *Ledger) Sessions() []Session {
	return append([]Session(nil), l.sessions...)
}

// CompletedCount is the number of sessions in completada status.
func (l *Ledger) CompletedCount() int {
	n := 0
	for _, s := range l.sessions {
		if s.Status == SessionCompleted {
			n++
		}
	}
	return n
}

// NextNumber returns the number the next created session will receive.
func (l *Ledger) NextNumber() int {
	high := l.assignment.SessionSeq
	for _, s := range l.sessions {
		if s.SessionNumber > high {
			high = s.SessionNumber
		}
	}
	return high + 1
}

// ExceedsPlan reports whether the owning procedure has more completed sessions than planned.
func (l *Ledger) ExceedsPlan() bool {
	return l.procedure != nil && l.procedure.ExceedsPlan()
}

// Authorize reports whether actor may change the ledger right now.
func (l *Ledger) Authorize(actor User) error {
	return l.guard(actor)
}

func (l *Ledger) guard(actor User) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if l.assignment.Status != AssignmentActive {
		return InvalidTransition("assignment is %s; sessions can only change while it is activa", l.assignment.Status)
	}
	if !IsUserAssigned(l.assignment, actor) {
		return Unauthorized("only the assigned student can record sessions")
	}
	return nil
}

func (l *Ledger) syncCounters(before int) {
	after := l.CompletedCount()
	l.assignment.SessionsCompleted = after
	if l.procedure != nil {
		l.procedure.SessionsCompleted += after - before
		if l.procedure.SessionsCompleted < 0 {
			l.procedure.SessionsCompleted = 0
		}
		if l.procedure.Assignment != nil && l.procedure.Assignment.ID == l.assignment.ID {
			l.procedure.recordAssignment(*l.assignment)
		}
	}
}

func (l *Ledger) index(id uuid.UUID) int {
	for i := range l.sessions {
		if l.sessions[i].ID == id {
			return i
		}
	}
	return -1
}

// Create appends a session numbered one past the highest number ever issued.
func (l *Ledger) Create(actor User, in SessionInput, now time.Time) (Session, error) {
	if err := l.guard(actor); err != nil {
		return Session{}, err
	}
	if in.SessionDate.IsZero() {
		return Session{}, Validation("session_date is required")
	}
	status := in.Status
	if status == "" {
		status = SessionCompleted
	}
	if !status.Valid() {
		return Session{}, Validation("unknown session status %q", status)
	}

	before := l.CompletedCount()
	s := Session{
		ID:            uuid.New(),
		AssignmentID:  l.assignment.ID,
		SessionNumber: l.NextNumber(),
		SessionDate:   in.SessionDate,
		Notes:         trimmed(in.Notes),
		Status:        status,
		CreatedBy:     actor,
		CreatedAt:     now,
	}
	l.sessions = append(l.sessions, s)
	l.assignment.SessionSeq = s.SessionNumber
	l.syncCounters(before)
	return s, nil
}

// Update edits a session's date, notes or status.
func (l *Ledger) Update(actor User, id uuid.UUID, u SessionUpdate) (Session, error) {
	if err := l.guard(actor); err != nil {
		return Session{}, err
	}
	i := l.index(id)
	if i < 0 {
		return Session{}, NotFound("session", id)
	}
	if err := u.Validate(); err != nil {
		return Session{}, err
	}

	before := l.CompletedCount()
	s := l.sessions[i]
	if u.SessionDate != nil {
		s.SessionDate = *u.SessionDate
	}
	if u.Notes != nil {
		s.Notes = trimmed(u.Notes)
	}
	if u.Status != nil {
		s.Status = *u.Status
	}
	l.sessions[i] = s
	l.syncCounters(before)
	return s, nil
}

// Delete removes a session. Remaining sessions keep their numbers.
func (l *Ledger) Delete(actor User, id uuid.UUID) error {
	if err := l.guard(actor); err != nil {
		return err
	}
	i := l.index(id)
	if i < 0 {
		return NotFound("session", id)
	}
	before := l.CompletedCount()
	l.sessions = append(l.sessions[:i], l.sessions[i+1:]...)
	l.syncCounters(before)
	return nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	return strPtr(strings.TrimSpace(*s))
}
