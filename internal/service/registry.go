package service

import (
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/session"
)

type sessionKey struct {
	assessmentID uuid.UUID
	studentID    int
}

// SessionRegistry keeps at most one live session per student and
// assessment. Opening a second one closes the first.
type SessionRegistry struct {
	deps session.Deps
	opts []session.Option

	mu   sync.Mutex
	live map[sessionKey]*session.Controller
	log  zerolog.Logger
}

// NewSessionRegistry creates a new SessionRegistry. Every session it opens
// shares deps and opts.
func NewSessionRegistry(deps session.Deps, log zerolog.Logger, opts ...session.Option) *SessionRegistry {
	return &SessionRegistry{
		deps: deps,
		opts: opts,
		live: make(map[sessionKey]*session.Controller),
		log:  log.With().Str("component", "session_registry").Logger(),
	}
}

// Open creates a session and registers it, taking over any session the
// same student already has open for the assessment.
func (r *SessionRegistry) Open(assessmentID uuid.UUID, studentID int) *session.Controller {
	c := session.New(assessmentID, studentID, r.deps, r.opts...)
	key := sessionKey{assessmentID, studentID}

	r.mu.Lock()
	prev := r.live[key]
	r.live[key] = c
	r.mu.Unlock()

	if prev != nil {
		r.log.Info().
			Str("assessment_id", assessmentID.String()).
			Int("student_id", studentID).
			Msg("Session taken over by a new connection")
		prev.Close()
	}
	return c
}

// Release closes c and forgets it unless it was already taken over.
func (r *SessionRegistry) Release(c *session.Controller) {
	key := sessionKey{c.AssessmentID(), c.StudentID()}

	r.mu.Lock()
	if r.live[key] == c {
		delete(r.live, key)
	}
	r.mu.Unlock()

	c.Close()
}

// Len returns the number of live sessions.
func (r *SessionRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

// CloseAll closes every live session. Finalize writes already started
// still complete.
func (r *SessionRegistry) CloseAll() {
	r.mu.Lock()
	live := r.live
	r.live = make(map[sessionKey]*session.Controller)
	r.mu.Unlock()

	for _, c := range live {
		c.Close()
	}
	r.log.Info().Int("count", len(live)).Msg("All sessions closed")
}
