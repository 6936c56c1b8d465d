package copilot

import (
	"strings"
	"sync"
)

// Role is a participant's function on the call.
type Role string

const (
	RoleBuyer      Role = "buyer"
	RoleBroker     Role = "broker"
	RoleConsultant Role = "consultant"
	RoleBot        Role = "bot"
	RoleUnknown    Role = "unknown"
)

// Participant is a stable call member. Role starts at RoleUnknown and may
// be upgraded later when roster data resolves it.
type Participant struct {
	ID          string
	DisplayName string
	Role        Role
	IsBot       bool
}

// ParticipantRegistry maps participant IDs to display name and role. It is
// shared read-mostly across the session's components.
type ParticipantRegistry struct {
	mu           sync.RWMutex
	participants map[string]*Participant
	botID        string
}

// NewParticipantRegistry creates an empty registry.
func NewParticipantRegistry() *ParticipantRegistry {
	return &ParticipantRegistry{participants: make(map[string]*Participant)}
}

// Join registers a participant on join. Role defaults to RoleUnknown.
func (r *ParticipantRegistry) Join(id, displayName string) *Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := &Participant{ID: id, DisplayName: displayName, Role: RoleUnknown}
	r.participants[id] = p
	return p
}

// Leave removes a participant.
func (r *ParticipantRegistry) Leave(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.participants, id)
}

// Get returns the participant, or nil if unknown.
func (r *ParticipantRegistry) Get(id string) *Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.participants[id]
}

// UpgradeRole sets a participant's role once roster data resolves it,
// overwriting whatever role is currently set — callers decide whether to
// call it. A no-op if the participant is gone.
func (r *ParticipantRegistry) UpgradeRole(id string, role Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.participants[id]; ok {
		p.Role = role
	}
}

// MarkBot flags a participant as the bot itself and records its ID.
func (r *ParticipantRegistry) MarkBot(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.botID = id
	if p, ok := r.participants[id]; ok {
		p.IsBot = true
		p.Role = RoleBot
	}
}

// BotID returns the currently known bot participant ID ("" if unresolved).
func (r *ParticipantRegistry) BotID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.botID
}

// All returns a snapshot of every currently-registered participant.
func (r *ParticipantRegistry) All() []Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, *p)
	}
	return out
}

// NameOrPrefix resolves a display name, falling back to a stable short
// prefix of the ID when unresolved.
func (r *ParticipantRegistry) NameOrPrefix(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.participants[id]; ok && p.DisplayName != "" {
		return p.DisplayName
	}
	if len(id) > 8 {
		return "Participant-" + id[:8]
	}
	return "Participant-" + id
}

// botNameKeywords are substrings that mark a participant name as
// bot-like, used only as a fallback when no authoritative SFU bot ID is
// available.
var botNameKeywords = []string{"ai", "bot", "copilot", "co-pilot", "assistant", "moderator"}

// ResolveBotID prefers an authoritative SFU-provided bot ID. If that is
// empty, it falls back to scanning candidate id->name pairs for bot-like
// keywords, mirroring the original bot's participant-name scan.
func ResolveBotID(authoritative string, candidates map[string]string) string {
	if authoritative != "" {
		return authoritative
	}
	for id, name := range candidates {
		lower := strings.ToLower(name)
		for _, kw := range botNameKeywords {
			if strings.Contains(lower, kw) {
				return id
			}
		}
	}
	return ""
}

// RoleFromName maps a display name to a role via bidirectional substring
// matching against the configured consultation names. Resolution is
// heuristic: a configured name may be a prefix, suffix, or substring of the
// display name the call transport reports, or vice versa.
func RoleFromName(name string, buyerName, sellerName, targetName string) Role {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return RoleUnknown
	}
	if matchesName(n, buyerName) {
		return RoleBuyer
	}
	if matchesName(n, sellerName) {
		return RoleBroker
	}
	if matchesName(n, targetName) {
		return RoleConsultant
	}
	return RoleUnknown
}

func matchesName(n, configured string) bool {
	configured = strings.ToLower(strings.TrimSpace(configured))
	if configured == "" {
		return false
	}
	return strings.Contains(n, configured) || strings.Contains(configured, n)
}
