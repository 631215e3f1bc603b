package services

import (
	"sync"

	"pathfinder/internal/models"
)

// Canonical context store keys. No other keys are written by the engine.
const (
	KeyConversationHistory = "conversation.history"
	KeyProfileSnapshot     = "profile.snapshot"
	KeyCareerAnalysis      = "careers.analysis"
	KeyRecommendations     = "careers.recommendations"
	KeyLastInsight         = "insights.last"
)

// Turn is one conversational turn stored under conversation.history.
type Turn struct {
	Role string `json:"role"` // "user" or "assistant"
	Text string `json:"text"`
}

// ProfileSnapshot is the value stored under profile.snapshot. Set-valued
// fields merge by union, like evidence.
type ProfileSnapshot struct {
	Interests         []string `json:"interests"`
	Goals             []string `json:"goals"`
	Skills            []string `json:"skills"`
	PersonalQualities []string `json:"personal_qualities"`
}

// StoreListener observes writes to a single key. Listeners are notified
// synchronously, in registration order, on every Set and Merge.
type StoreListener func(key string, value interface{})

// ContextStore is the session-scoped key-value structure holding
// conversation history, profile snapshot, analysis, recommendations and the
// latest insight. It is constructed per session and handed to components as
// an explicit dependency, never a package singleton.
//
// Uninitialized reads never panic: Get returns (zeroValue, false) and the
// typed accessors return documented defaults (empty history, empty profile,
// nil analysis, empty card list, nil insight).
type ContextStore struct {
	mu        sync.RWMutex
	values    map[string]interface{}
	listeners map[string][]StoreListener
}

// NewContextStore creates an initialized store with documented defaults for
// every canonical key.
func NewContextStore() *ContextStore {
	return &ContextStore{
		values: map[string]interface{}{
			KeyConversationHistory: []Turn{},
			KeyProfileSnapshot:     ProfileSnapshot{},
			KeyRecommendations:     []*models.CareerCard{},
		},
		listeners: make(map[string][]StoreListener),
	}
}

// Get returns the value for key, or (nil, false) when the key has never
// been initialized.
func (cs *ContextStore) Get(key string) (interface{}, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	v, ok := cs.values[key]
	return v, ok
}

// Set replaces the value under key and notifies subscribers synchronously.
func (cs *ContextStore) Set(key string, value interface{}) {
	cs.mu.Lock()
	cs.values[key] = value
	cs.mu.Unlock()

	cs.notify(key, value)
}

// Subscribe registers a listener for a key and returns an unsubscribe
// function. Notification order follows registration order.
func (cs *ContextStore) Subscribe(key string, listener StoreListener) func() {
	cs.mu.Lock()
	cs.listeners[key] = append(cs.listeners[key], listener)
	idx := len(cs.listeners[key]) - 1
	cs.mu.Unlock()

	return func() {
		cs.mu.Lock()
		defer cs.mu.Unlock()
		ls := cs.listeners[key]
		if idx < len(ls) && ls[idx] != nil {
			ls[idx] = nil
		}
	}
}

func (cs *ContextStore) notify(key string, value interface{}) {
	cs.mu.RLock()
	listeners := append([]StoreListener(nil), cs.listeners[key]...)
	cs.mu.RUnlock()
	for _, l := range listeners {
		if l != nil {
			l(key, value)
		}
	}
}

// History returns the conversation history (empty slice before any turn).
func (cs *ContextStore) History() []Turn {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if v, ok := cs.values[KeyConversationHistory].([]Turn); ok {
		return append([]Turn(nil), v...)
	}
	return []Turn{}
}

// AppendTurn appends one turn to conversation.history. This is the only
// mutation history supports: turns are never dropped or rewritten.
func (cs *ContextStore) AppendTurn(turn Turn) {
	cs.mu.Lock()
	history, _ := cs.values[KeyConversationHistory].([]Turn)
	history = append(history, turn)
	cs.values[KeyConversationHistory] = history
	snapshot := append([]Turn(nil), history...)
	cs.mu.Unlock()

	cs.notify(KeyConversationHistory, snapshot)
}

// Profile returns the profile snapshot (zero value before initialization).
func (cs *ContextStore) Profile() ProfileSnapshot {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if v, ok := cs.values[KeyProfileSnapshot].(ProfileSnapshot); ok {
		return v
	}
	return ProfileSnapshot{}
}

// MergeProfile unions the partial snapshot into profile.snapshot. Merge on
// set-valued fields is a union; nothing is ever removed.
func (cs *ContextStore) MergeProfile(partial ProfileSnapshot) ProfileSnapshot {
	cs.mu.Lock()
	current, _ := cs.values[KeyProfileSnapshot].(ProfileSnapshot)
	current.Interests = unionInto(current.Interests, partial.Interests)
	current.Goals = unionInto(current.Goals, partial.Goals)
	current.Skills = unionInto(current.Skills, partial.Skills)
	current.PersonalQualities = unionInto(current.PersonalQualities, partial.PersonalQualities)
	cs.values[KeyProfileSnapshot] = current
	cs.mu.Unlock()

	cs.notify(KeyProfileSnapshot, current)
	return current
}

// Analysis returns the latest career analysis, or nil if none has run.
func (cs *ContextStore) Analysis() *models.CareerAnalysis {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if v, ok := cs.values[KeyCareerAnalysis].(*models.CareerAnalysis); ok {
		return v
	}
	return nil
}

// SetAnalysis stores a completed career analysis.
func (cs *ContextStore) SetAnalysis(analysis *models.CareerAnalysis) {
	cs.Set(KeyCareerAnalysis, analysis)
}

// Recommendations returns the current card list (empty before generation).
// Readers see the latest committed value at the instant of read; a
// mid-enhancement read returns whatever mix of basic and enhanced cards has
// been committed so far.
func (cs *ContextStore) Recommendations() []*models.CareerCard {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if v, ok := cs.values[KeyRecommendations].([]*models.CareerCard); ok {
		return append([]*models.CareerCard(nil), v...)
	}
	return []*models.CareerCard{}
}

// SetRecommendations replaces the card list.
func (cs *ContextStore) SetRecommendations(cards []*models.CareerCard) {
	cs.Set(KeyRecommendations, cards)
}

// UpsertRecommendation replaces the card with the same title, or appends it.
// Used by the enhancement pipeline to commit enhanced cards one at a time.
func (cs *ContextStore) UpsertRecommendation(card *models.CareerCard) {
	cs.mu.Lock()
	cards, _ := cs.values[KeyRecommendations].([]*models.CareerCard)
	replaced := false
	for i, existing := range cards {
		if existing.Title == card.Title {
			cards[i] = card
			replaced = true
			break
		}
	}
	if !replaced {
		cards = append(cards, card)
	}
	cs.values[KeyRecommendations] = cards
	snapshot := append([]*models.CareerCard(nil), cards...)
	cs.mu.Unlock()

	cs.notify(KeyRecommendations, snapshot)
}

// LastInsight returns the most recent instant insight, or nil.
func (cs *ContextStore) LastInsight() *models.Insight {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	if v, ok := cs.values[KeyLastInsight].(*models.Insight); ok {
		return v
	}
	return nil
}

// SetLastInsight stores the most recent instant insight.
func (cs *ContextStore) SetLastInsight(insight *models.Insight) {
	cs.Set(KeyLastInsight, insight)
}

// Snapshot returns a JSON-serializable copy of the full store for the
// persistence collaborator. The engine defines the content, not the storage
// format.
func (cs *ContextStore) Snapshot() map[string]interface{} {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make(map[string]interface{}, len(cs.values))
	for k, v := range cs.values {
		out[k] = v
	}
	return out
}

func unionInto(existing, incoming []string) []string {
	if len(incoming) == 0 {
		return existing
	}
	seen := make(map[string]bool, len(existing))
	for _, v := range existing {
		seen[v] = true
	}
	for _, v := range incoming {
		if v == "" || seen[v] {
			continue
		}
		existing = append(existing, v)
		seen[v] = true
	}
	return existing
}
