package api

import (
	"strings"
	"sync"

	"github.com/google/uuid"

	"hybridcore/pkg/llm"
)

// HistoryStore owns conversation history persistence. The engine only ever
// borrows a snapshot for the duration of one request; it never assumes
// exclusive ownership of the underlying slice.
type HistoryStore interface {
	// Resolve returns the canonical session id for a user plus a client
	// hint, minting a fresh one in the engine's canonical form when the
	// hint doesn't match a known session.
	Resolve(userID, sessionHint string) string
	// Recent returns up to n most recent messages for sessionID.
	Recent(sessionID string, n int) []llm.Message
	// Append adds a message to sessionID's history.
	Append(sessionID string, msg llm.Message)
	// Replace substitutes the entire history for sessionID, used by the
	// compaction gate to swap in a summary message plus recent tail.
	Replace(sessionID string, messages []llm.Message)
}

// ProfileStore owns per-user profile records.
type ProfileStore interface {
	Get(userID string) Profile
	Put(userID string, profile Profile)
}

// MemoryHooks lets the engine persist durable facts discovered mid-request
// (e.g. during compaction's pre-flush extract) without the engine knowing
// how or where they're stored.
type MemoryHooks interface {
	ExtractFacts(userID string, messages []llm.Message) []string
	SaveFacts(userID string, facts []string)
}

// ThoughtTranslator converts a provider's raw "thinking" text into a short
// status ping suitable for forwarding to a channel that can't render full
// chain-of-thought (e.g. a "searching the catalog..." line for Telegram).
type ThoughtTranslator interface {
	Translate(thinking string) string
}

// keywordStatus maps a substring that may appear in a model's reasoning text
// to the status line shown to the user while that reasoning runs.
type keywordStatus struct {
	keyword string
	status  string
}

// thoughtKeywordStatuses is checked in order; the first keyword found in the
// thinking text wins.
var thoughtKeywordStatuses = []keywordStatus{
	{"search", "Searching the catalog..."},
	{"lookup", "Looking that up..."},
	{"find", "Looking that up..."},
	{"price", "Checking prices..."},
	{"stock", "Checking stock..."},
	{"compare", "Comparing options..."},
}

// defaultThinkingStatus is shown when no keyword in thoughtKeywordStatuses
// matches the reasoning text.
const defaultThinkingStatus = "Thinking..."

// DefaultThoughtTranslator is a keyword-driven ThoughtTranslator: it never
// forwards raw chain-of-thought to a channel, only a short canned status
// line picked by scanning the thinking text for known keywords.
type DefaultThoughtTranslator struct{}

// NewDefaultThoughtTranslator returns the keyword-driven ThoughtTranslator.
func NewDefaultThoughtTranslator() *DefaultThoughtTranslator {
	return &DefaultThoughtTranslator{}
}

// Translate implements ThoughtTranslator.
func (DefaultThoughtTranslator) Translate(thinking string) string {
	lower := strings.ToLower(thinking)
	for _, ks := range thoughtKeywordStatuses {
		if strings.Contains(lower, ks.keyword) {
			return ks.status
		}
	}
	return defaultThinkingStatus
}

const sessionIDPrefix = "session_"

// NewCanonicalSessionID mints a session id in the engine's canonical form,
// session_<hex16>, derived from a random UUID rather than any client input.
func NewCanonicalSessionID() string {
	id := uuid.New()
	hex := strings.ReplaceAll(id.String(), "-", "")
	return sessionIDPrefix + hex[:16]
}

// InMemoryHistoryStore is a reference HistoryStore suitable for tests and
// single-process deployments. It mirrors the teacher's SessionManager
// pattern of one mutex-guarded map keyed by session id.
type InMemoryHistoryStore struct {
	mu       sync.RWMutex
	byUser   map[string]string // userID -> last known session id
	sessions map[string][]llm.Message
}

// NewInMemoryHistoryStore returns an empty store.
func NewInMemoryHistoryStore() *InMemoryHistoryStore {
	return &InMemoryHistoryStore{
		byUser:   make(map[string]string),
		sessions: make(map[string][]llm.Message),
	}
}

// Resolve implements HistoryStore.
func (s *InMemoryHistoryStore) Resolve(userID, sessionHint string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sessionHint != "" {
		if _, ok := s.sessions[sessionHint]; ok {
			s.byUser[userID] = sessionHint
			return sessionHint
		}
	}

	if existing, ok := s.byUser[userID]; ok && sessionHint == "" {
		return existing
	}

	id := NewCanonicalSessionID()
	s.sessions[id] = nil
	s.byUser[userID] = id
	return id
}

// Recent implements HistoryStore.
func (s *InMemoryHistoryStore) Recent(sessionID string, n int) []llm.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.sessions[sessionID]
	if len(msgs) <= n {
		out := make([]llm.Message, len(msgs))
		copy(out, msgs)
		return out
	}
	out := make([]llm.Message, n)
	copy(out, msgs[len(msgs)-n:])
	return out
}

// Append implements HistoryStore.
func (s *InMemoryHistoryStore) Append(sessionID string, msg llm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = append(s.sessions[sessionID], msg)
}

// Replace implements HistoryStore.
func (s *InMemoryHistoryStore) Replace(sessionID string, messages []llm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = messages
}

// InMemoryProfileStore is a reference ProfileStore for tests and
// single-process deployments.
type InMemoryProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewInMemoryProfileStore returns an empty store.
func NewInMemoryProfileStore() *InMemoryProfileStore {
	return &InMemoryProfileStore{profiles: make(map[string]Profile)}
}

// Get implements ProfileStore.
func (s *InMemoryProfileStore) Get(userID string) Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profiles[userID]
}

// Put implements ProfileStore.
func (s *InMemoryProfileStore) Put(userID string, profile Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[userID] = profile
}
