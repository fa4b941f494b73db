package bridge

import (
	"strings"
	"sync"

	"hybridcore/pkg/api"
	"hybridcore/pkg/llm"
)

// SessionManagerHistoryStore implements api.HistoryStore on top of the
// teacher's disk-backed llm.SessionManager, adding the userID->sessionID
// binding and canonical session-id minting that SessionManager itself
// doesn't do (it only indexes by whatever session id it's handed).
type SessionManagerHistoryStore struct {
	sessions *llm.SessionManager

	mu     sync.RWMutex
	byUser map[string]string
	known  map[string]bool
}

// NewSessionManagerHistoryStore wraps an existing SessionManager.
func NewSessionManagerHistoryStore(sessions *llm.SessionManager) *SessionManagerHistoryStore {
	return &SessionManagerHistoryStore{
		sessions: sessions,
		byUser:   make(map[string]string),
		known:    make(map[string]bool),
	}
}

// Resolve implements api.HistoryStore. GetHistory always succeeds (it
// silently creates an empty session for any id it hasn't seen), so legitimacy
// of a client-supplied sessionHint is tracked separately in `known` rather
// than inferred from GetHistory's error return.
func (s *SessionManagerHistoryStore) Resolve(userID, sessionHint string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sessionHint != "" && s.known[sessionHint] {
		s.byUser[userID] = sessionHint
		return sessionHint
	}

	if existing, ok := s.byUser[userID]; ok && sessionHint == "" {
		return existing
	}

	id := api.NewCanonicalSessionID()
	s.byUser[userID] = id
	s.known[id] = true
	return id
}

// Recent implements api.HistoryStore.
func (s *SessionManagerHistoryStore) Recent(sessionID string, n int) []llm.Message {
	h, err := s.sessions.GetHistory(sessionID)
	if err != nil {
		return nil
	}
	msgs := h.GetMessages()
	msgs = dropSystemMessages(msgs)
	if len(msgs) <= n {
		return msgs
	}
	return msgs[len(msgs)-n:]
}

// Append implements api.HistoryStore.
func (s *SessionManagerHistoryStore) Append(sessionID string, msg llm.Message) {
	h, err := s.sessions.GetHistory(sessionID)
	if err != nil {
		return
	}
	h.Add(msg)
	_ = s.sessions.SaveSession(sessionID)
}

// Replace implements api.HistoryStore.
func (s *SessionManagerHistoryStore) Replace(sessionID string, messages []llm.Message) {
	h, err := s.sessions.GetHistory(sessionID)
	if err != nil {
		return
	}
	h.Replace(messages)
	_ = s.sessions.SaveSession(sessionID)
}

func dropSystemMessages(msgs []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		if strings.EqualFold(m.Role, "system") {
			continue
		}
		out = append(out, m)
	}
	return out
}
