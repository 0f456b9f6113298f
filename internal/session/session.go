package session

import (
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"arduinohub/internal/components"
	"arduinohub/internal/generate"
	"arduinohub/pkg/models"
)

var (
	ErrNotFound     = errors.New("session not found")
	ErrNoImage      = errors.New("please upload an image first")
	ErrNoComponents = errors.New("add at least one component first")
	ErrNotConfirmed = errors.New("confirm the project first")
)

// Session is one user's working state: the component list, the project
// description and the generation tasks built from them.
type Session struct {
	ID        string
	Owner     string
	CreatedAt time.Time
	Store     *components.Store

	mu            sync.RWMutex
	description   string
	imageReceived bool
	confirmed     bool
	lastSeen      time.Time

	gen *generate.Orchestrator
}

// Components and Description make a Session a generate.ProjectSource.
func (s *Session) Components() []models.DetectedComponent {
	return s.Store.List()
}

func (s *Session) Description() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.description
}

func (s *Session) SetDescription(d string) {
	s.mu.Lock()
	s.description = strings.TrimSpace(d)
	s.mu.Unlock()
}

// ImageReceived clears the component list for a fresh upload. The list is
// refilled by Detected once the detection service answers.
func (s *Session) ImageReceived() {
	s.mu.Lock()
	s.imageReceived = true
	s.mu.Unlock()
	_ = s.Store.ReplaceAll(nil)
}

func (s *Session) Detected(list []models.DetectedComponent) error {
	return s.Store.ReplaceAll(list)
}

// Confirm checks the project can be generated and marks it confirmed.
func (s *Session) Confirm() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.imageReceived {
		return ErrNoImage
	}
	if s.Store.Len() == 0 {
		return ErrNoComponents
	}
	s.confirmed = true
	return nil
}

func (s *Session) Confirmed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.confirmed
}

func (s *Session) Generation() *generate.Orchestrator {
	return s.gen
}

func (s *Session) View() models.SessionView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return models.SessionView{
		ID:            s.ID,
		Description:   s.description,
		ImageReceived: s.imageReceived,
		Confirmed:     s.confirmed,
		Components:    s.Store.List(),
		Tasks:         s.gen.States(),
		CreatedAt:     s.CreatedAt,
	}
}

// Project snapshots the session for archiving. Only succeeded sections
// contribute their content.
func (s *Session) Project(id string) models.Project {
	p := models.Project{
		ID:          id,
		UserID:      s.Owner,
		Description: s.Description(),
		Components:  s.Store.List(),
		CreatedAt:   time.Now().UTC(),
	}
	for _, st := range s.gen.States() {
		if st.Status != models.StatusSucceeded {
			continue
		}
		switch st.Section {
		case models.SectionCode:
			p.Code = st.Content
		case models.SectionPrinciples:
			p.Principles = st.Content
		case models.SectionGuide:
			p.Guide = st.Content
		}
	}
	return p
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeen
}

// Manager owns every live session.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	gen     generate.Generator
	opts    generate.Options
	onClose func(id string)
	now     func() time.Time
}

// NewManager builds sessions whose orchestrators share gen and opts. The
// SessionID in opts is replaced per session.
func NewManager(gen generate.Generator, opts generate.Options) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		gen:      gen,
		opts:     opts,
		now:      time.Now,
	}
}

// OnClose registers fn to run after a session is deleted or swept.
func (m *Manager) OnClose(fn func(id string)) {
	m.mu.Lock()
	m.onClose = fn
	m.mu.Unlock()
}

func (m *Manager) Create(owner string) *Session {
	now := m.now()
	s := &Session{
		ID:        uuid.NewString(),
		Owner:     owner,
		CreatedAt: now.UTC(),
		Store:     components.NewStore(),
		lastSeen:  now,
	}
	opts := m.opts
	opts.SessionID = s.ID
	s.gen = generate.New(m.gen, s, opts)

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	log.Printf("[session] created %s owner=%s", s.ID, owner)
	return s
}

// Get returns the session if it exists and belongs to owner. A session owned
// by someone else is reported as not found.
func (m *Manager) Get(id, owner string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok || s.Owner != owner {
		return nil, ErrNotFound
	}
	s.touch(m.now())
	return s, nil
}

func (m *Manager) lookup(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Delete cancels the session's tasks and forgets it.
func (m *Manager) Delete(id, owner string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok || s.Owner != owner {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.sessions, id)
	onClose := m.onClose
	m.mu.Unlock()

	m.close(s, onClose)
	log.Printf("[session] deleted %s", id)
	return nil
}

// Sweep deletes sessions untouched for longer than maxIdle and reports how
// many were removed.
func (m *Manager) Sweep(maxIdle time.Duration) int {
	cutoff := m.now().Add(-maxIdle)

	m.mu.Lock()
	var stale []*Session
	for id, s := range m.sessions {
		if s.idleSince().Before(cutoff) && !s.gen.Busy() {
			stale = append(stale, s)
			delete(m.sessions, id)
		}
	}
	onClose := m.onClose
	m.mu.Unlock()

	for _, s := range stale {
		m.close(s, onClose)
	}
	if len(stale) > 0 {
		log.Printf("[session] swept %d idle sessions", len(stale))
	}
	return len(stale)
}

// CloseOwner deletes every session owned by userID, cancelling their tasks,
// and reports how many were closed. Called when the user's tokens are revoked.
func (m *Manager) CloseOwner(userID string) int {
	m.mu.Lock()
	var owned []*Session
	for id, s := range m.sessions {
		if s.Owner == userID {
			owned = append(owned, s)
			delete(m.sessions, id)
		}
	}
	onClose := m.onClose
	m.mu.Unlock()

	for _, s := range owned {
		m.close(s, onClose)
	}
	if len(owned) > 0 {
		log.Printf("[session] closed %d sessions of %s", len(owned), userID)
	}
	return len(owned)
}

// CloseAll cancels every session's tasks. Used at shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	onClose := m.onClose
	m.mu.Unlock()

	for _, s := range all {
		m.close(s, onClose)
	}
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) close(s *Session, onClose func(string)) {
	s.gen.Close()
	if onClose != nil {
		onClose(s.ID)
	}
}
