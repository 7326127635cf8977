// Package memstore keeps codes, sessions, tasks, completions and people in memory behind one mutex.
// It backs the service tests and local runs without DATABASE_URL. A code swap and its session
// insert happen under a single lock, matching the transaction in the Postgres repositories.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"kiosk-control-plane/backend/internal/completion"
	identitydomain "kiosk-control-plane/backend/internal/identity/domain"
	codedomain "kiosk-control-plane/backend/internal/kioskcode/domain"
	sessiondomain "kiosk-control-plane/backend/internal/kiosksession/domain"
)

// Store is the shared in-memory state.
type Store struct {
	mu          sync.RWMutex
	codes       map[string]*codedomain.Code
	sessions    map[string]*sessiondomain.Session
	tasks       map[string]completion.Task
	completions map[string]completion.Completion
	people      map[string]identitydomain.Person
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		codes:       make(map[string]*codedomain.Code),
		sessions:    make(map[string]*sessiondomain.Session),
		tasks:       make(map[string]completion.Task),
		completions: make(map[string]completion.Completion),
		people:      make(map[string]identitydomain.Person),
	}
}

// Codes returns the kiosk code repository view.
func (s *Store) Codes() *CodeRepository { return &CodeRepository{s: s} }

// Sessions returns the kiosk session repository view.
func (s *Store) Sessions() *SessionRepository { return &SessionRepository{s: s} }

// Completions returns the completion repository and task source view.
func (s *Store) Completions() *CompletionRepository { return &CompletionRepository{s: s} }

// People returns the person directory view.
func (s *Store) People() *PersonDirectory { return &PersonDirectory{s: s} }

// PutPerson adds or replaces a person.
func (s *Store) PutPerson(p identitydomain.Person) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.GroupIDs = append([]string(nil), p.GroupIDs...)
	s.people[p.ID] = p
}

// PutTask adds or replaces a task.
func (s *Store) PutTask(t completion.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t
}

// CodeRepository implements the kiosk code repository.
type CodeRepository struct{ s *Store }

func copyCode(c *codedomain.Code) *codedomain.Code {
	cp := *c
	return &cp
}

func (r *CodeRepository) GetByID(_ context.Context, id string) (*codedomain.Code, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.codes[id]
	if !ok {
		return nil, nil
	}
	return copyCode(c), nil
}

func (r *CodeRepository) GetBySecretHash(_ context.Context, secretHash string) (*codedomain.Code, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, c := range r.s.codes {
		if c.SecretHash == secretHash {
			return copyCode(c), nil
		}
	}
	return nil, nil
}

func (r *CodeRepository) ListByRole(_ context.Context, roleID string) ([]*codedomain.Code, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*codedomain.Code
	for _, c := range r.s.codes {
		if c.OwnerRoleID == roleID {
			out = append(out, copyCode(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *CodeRepository) CountActive(_ context.Context, roleID string, now time.Time) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.countActiveCodes(roleID, now), nil
}

func (s *Store) countActiveCodes(roleID string, now time.Time) int {
	n := 0
	for _, c := range s.codes {
		if c.OwnerRoleID == roleID && c.Usable(now) {
			n++
		}
	}
	return n
}

func (r *CodeRepository) CreateWithinLimit(_ context.Context, c *codedomain.Code, limit int, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.countActiveCodes(c.OwnerRoleID, now) >= limit {
		return false, nil
	}
	r.s.codes[c.ID] = copyCode(c)
	return true, nil
}

func (r *CodeRepository) Revoke(_ context.Context, id string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.codes[id]
	if !ok || !c.Usable(at) {
		return false, nil
	}
	c.Status = codedomain.StatusRevoked
	c.RevokedAt = &at
	return true, nil
}

func (r *CodeRepository) ExpireStale(_ context.Context, now time.Time) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, c := range r.s.codes {
		if (c.Status == codedomain.StatusPending || c.Status == codedomain.StatusActive) && !c.ExpiresAt.After(now) {
			c.Status = codedomain.StatusExpired
			n++
		}
	}
	return n, nil
}

// SessionRepository implements the kiosk session repository.
type SessionRepository struct{ s *Store }

func copySession(s *sessiondomain.Session) *sessiondomain.Session {
	cp := *s
	return &cp
}

// CreateFromCode consumes the code and inserts the session under the store lock.
func (r *SessionRepository) CreateFromCode(_ context.Context, sess *sessiondomain.Session, now time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.s.codes[sess.CodeID]
	if !ok || !c.Usable(now) {
		return false, nil
	}
	c.Status = codedomain.StatusUsed
	c.UsedAt = &now
	sess.RoleID = c.OwnerRoleID
	r.s.sessions[sess.ID] = copySession(sess)
	return true, nil
}

func (r *SessionRepository) GetByID(_ context.Context, id string) (*sessiondomain.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	sess, ok := r.s.sessions[id]
	if !ok {
		return nil, nil
	}
	return copySession(sess), nil
}

func (r *SessionRepository) selectSessions(match func(*sessiondomain.Session) bool) []*sessiondomain.Session {
	var out []*sessiondomain.Session
	for _, sess := range r.s.sessions {
		if match(sess) {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *SessionRepository) ListActiveByRole(_ context.Context, roleID string, now time.Time) ([]*sessiondomain.Session, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	matched := r.selectSessions(func(sess *sessiondomain.Session) bool {
		return sess.RoleID == roleID && sess.Active(now)
	})
	out := make([]*sessiondomain.Session, len(matched))
	for i, sess := range matched {
		out[i] = copySession(sess)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LastActiveAt.After(out[j].LastActiveAt) })
	return out, nil
}

func (r *SessionRepository) CountActiveByCode(_ context.Context, codeID string, now time.Time) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return len(r.selectSessions(func(sess *sessiondomain.Session) bool {
		return sess.CodeID == codeID && sess.Active(now)
	})), nil
}

func (r *SessionRepository) CountActiveByRole(_ context.Context, roleID string, now time.Time) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return len(r.selectSessions(func(sess *sessiondomain.Session) bool {
		return sess.RoleID == roleID && sess.Active(now)
	})), nil
}

func endSession(sess *sessiondomain.Session, at time.Time, actorID, reason string) {
	sess.EndedAt = &at
	sess.TerminatedBy = actorID
	sess.TerminationReason = reason
}

func (r *SessionRepository) End(_ context.Context, id string, at time.Time, actorID, reason string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[id]
	if !ok || sess.Ended() {
		return false, nil
	}
	endSession(sess, at, actorID, reason)
	return true, nil
}

func (r *SessionRepository) endWhere(at time.Time, actorID, reason string, match func(*sessiondomain.Session) bool) []*sessiondomain.Session {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	matched := r.selectSessions(func(sess *sessiondomain.Session) bool { return !sess.Ended() && match(sess) })
	out := make([]*sessiondomain.Session, len(matched))
	for i, sess := range matched {
		endSession(sess, at, actorID, reason)
		out[i] = copySession(sess)
	}
	return out
}

func (r *SessionRepository) EndAllForCode(_ context.Context, codeID string, at time.Time, actorID, reason string) ([]*sessiondomain.Session, error) {
	return r.endWhere(at, actorID, reason, func(sess *sessiondomain.Session) bool { return sess.CodeID == codeID }), nil
}

func (r *SessionRepository) EndExpired(_ context.Context, now time.Time, actorID, reason string) ([]*sessiondomain.Session, error) {
	return r.endWhere(now, actorID, reason, func(sess *sessiondomain.Session) bool { return !sess.ExpiresAt.After(now) }), nil
}

func (r *SessionRepository) Touch(_ context.Context, id string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[id]
	if !ok || sess.Ended() {
		return false, nil
	}
	sess.LastActiveAt = at
	return true, nil
}

// CompletionRepository implements the completion repository and task source.
type CompletionRepository struct{ s *Store }

func (r *CompletionRepository) GetTask(_ context.Context, id string) (*completion.Task, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	t, ok := r.s.tasks[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (r *CompletionRepository) GetByID(_ context.Context, id string) (*completion.Completion, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.completions[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *CompletionRepository) ListInPeriod(_ context.Context, taskID, personID string, resetDate time.Time) ([]completion.Completion, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return r.s.period(taskID, personID, resetDate), nil
}

func (s *Store) period(taskID, personID string, resetDate time.Time) []completion.Completion {
	var all []completion.Completion
	for _, c := range s.completions {
		if c.TaskID == taskID && c.PersonID == personID {
			all = append(all, c)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CompletedAt.Equal(all[j].CompletedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CompletedAt.Before(all[j].CompletedAt)
	})
	return completion.InPeriod(all, resetDate)
}

func (r *CompletionRepository) Append(_ context.Context, c completion.Completion, resetDate time.Time, admit func([]completion.Completion) error) ([]completion.Completion, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing := r.s.period(c.TaskID, c.PersonID, resetDate)
	if err := admit(existing); err != nil {
		return nil, err
	}
	r.s.completions[c.ID] = c
	return append(existing, c), nil
}

func (r *CompletionRepository) Delete(_ context.Context, id string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.completions[id]; !ok {
		return false, nil
	}
	delete(r.s.completions, id)
	return true, nil
}

// PersonDirectory implements the identity directory.
type PersonDirectory struct{ s *Store }

func (d *PersonDirectory) GetPerson(_ context.Context, personID string) (*identitydomain.Person, error) {
	d.s.mu.RLock()
	defer d.s.mu.RUnlock()
	p, ok := d.s.people[personID]
	if !ok {
		return nil, nil
	}
	p.GroupIDs = append([]string(nil), p.GroupIDs...)
	return &p, nil
}
