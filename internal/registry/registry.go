package registry

import (
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/craigcoenttec/assistbridge/internal/types"
)

// Conversation is one call or chat session known to the cloud platform.
// Records are created on the first notification event referencing an unseen
// id and mutated on every subsequent event for that id.
type Conversation struct {
	ID           string
	CurrentState string
	StateHistory []StateChange
	// AgentAssistConversationID links this platform conversation to the
	// assist-panel conversation joined for it, when one exists.
	AgentAssistConversationID string
	HasAgentAssist            bool
	Participants              []types.Participant
	Direction                 string
	CustomerName              string
	QueueID                   string
	// AutoSequenceTriggered guards the one-shot automated call sequence.
	AutoSequenceTriggered bool
	CreatedTime           time.Time
	LastUpdated           time.Time
}

type StateChange struct {
	State     string
	Timestamp time.Time
}

// activeStates are the conversation states that qualify for the
// most-recently-active pointer. Comparison is case-insensitive.
var activeStates = map[string]struct{}{
	"contacting": {},
	"dialing":    {},
	"connected":  {},
}

func IsActiveState(state string) bool {
	_, ok := activeStates[strings.ToLower(state)]
	return ok
}

const stateConnected = "connected"

// Observers receive registry updates. All fields are optional.
type Observers struct {
	// OnTrackingUpdate is called with the full conversation snapshot after
	// every mutation.
	OnTrackingUpdate func([]Conversation)
	// OnActiveChanged is called only when the most-recently-active pointer
	// changes value. An empty id means no conversation is active.
	OnActiveChanged func(conversationID string)
}

// Registry is the authoritative in-memory map of tracked conversations.
type Registry struct {
	logger    *logrus.Entry
	observers Observers
	// onConnected fires once per conversation on its transition into the
	// connected state; the automated sequence controller hooks in here.
	onConnected func(Conversation)
	now         func() time.Time

	mu            sync.Mutex
	conversations map[string]*Conversation
	order         []string
	activeID      string
}

func New(logger *logrus.Entry, observers Observers) *Registry {
	return &Registry{
		logger:        logger.WithField("component", "registry"),
		observers:     observers,
		now:           func() time.Time { return time.Now().UTC() },
		conversations: make(map[string]*Conversation),
	}
}

// SetConnectedHook registers the one-shot connected-transition hook. Must be
// called before events flow.
func (r *Registry) SetConnectedHook(fn func(Conversation)) {
	r.onConnected = fn
}

// SetClock overrides the registry clock. Tests only.
func (r *Registry) SetClock(now func() time.Time) {
	r.now = now
}

// Upsert records a participant-state event for a conversation, creating the
// record on first sight. State history grows only on actual state changes.
func (r *Registry) Upsert(conversationID, participantState string, participants []types.Participant) {
	if conversationID == "" {
		return
	}

	var connectedConv *Conversation

	r.mu.Lock()
	now := r.now()
	conv, exists := r.conversations[conversationID]
	if !exists {
		conv = &Conversation{
			ID:           conversationID,
			CurrentState: participantState,
			CreatedTime:  now,
		}
		if agent, ok := types.FindByPurpose(participants, types.PurposeAgent, types.PurposeUser); ok {
			conv.Direction = agent.Direction
			if conv.Direction == "" {
				conv.Direction = "unknown"
			}
			if agent.Queue != nil {
				conv.QueueID = agent.Queue.ID
			}
		}
		if customer, ok := types.FindByPurpose(participants, types.PurposeCustomer); ok {
			conv.CustomerName = customer.Name
			if conv.CustomerName == "" {
				conv.CustomerName = customer.Address
			}
			if conv.CustomerName == "" {
				conv.CustomerName = "Unknown"
			}
		}
		r.conversations[conversationID] = conv
		r.order = append(r.order, conversationID)

		if strings.EqualFold(participantState, stateConnected) && !conv.AutoSequenceTriggered {
			conv.AutoSequenceTriggered = true
			connectedConv = conv
		}
	} else if conv.CurrentState != participantState {
		conv.StateHistory = append(conv.StateHistory, StateChange{
			State:     conv.CurrentState,
			Timestamp: conv.LastUpdated,
		})
		conv.CurrentState = participantState

		if strings.EqualFold(participantState, stateConnected) && !conv.AutoSequenceTriggered {
			conv.AutoSequenceTriggered = true
			connectedConv = conv
		}
	}

	conv.LastUpdated = now
	conv.Participants = participants

	activeChanged, activeID := r.recomputeActiveLocked()
	snapshot := r.snapshotLocked()
	var connected Conversation
	if connectedConv != nil {
		connected = copyConversation(connectedConv)
	}
	r.mu.Unlock()

	r.logger.WithField("conversation_id", conversationID).WithField("state", participantState).Debug("conversation upserted")

	r.notify(snapshot, activeChanged, activeID)
	if connectedConv != nil && r.onConnected != nil {
		r.onConnected(connected)
	}
}

// Associate links an assist-panel conversation id to a tracked conversation.
// Unknown conversation ids are logged and ignored.
func (r *Registry) Associate(conversationID, assistConversationID string) {
	r.mu.Lock()
	conv, ok := r.conversations[conversationID]
	if !ok {
		r.mu.Unlock()
		r.logger.WithField("conversation_id", conversationID).Warn("cannot associate assist conversation, id is not tracked")
		return
	}
	conv.AgentAssistConversationID = assistConversationID
	conv.HasAgentAssist = true
	conv.LastUpdated = r.now()
	activeChanged, activeID := r.recomputeActiveLocked()
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.logger.WithField("conversation_id", conversationID).WithField("assist_conversation_id", assistConversationID).Info("assist conversation associated")
	r.notify(snapshot, activeChanged, activeID)
}

// Dissociate removes the assist-panel association from a tracked
// conversation. Unknown conversation ids are logged and ignored.
func (r *Registry) Dissociate(conversationID string) {
	r.mu.Lock()
	conv, ok := r.conversations[conversationID]
	if !ok {
		r.mu.Unlock()
		r.logger.WithField("conversation_id", conversationID).Warn("cannot dissociate assist conversation, id is not tracked")
		return
	}
	conv.AgentAssistConversationID = ""
	conv.HasAgentAssist = false
	conv.LastUpdated = r.now()
	activeChanged, activeID := r.recomputeActiveLocked()
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.logger.WithField("conversation_id", conversationID).Info("assist conversation dissociated")
	r.notify(snapshot, activeChanged, activeID)
}

// FindByAssistID returns the conversation associated with an assist-panel
// conversation id. Linear scan; the registry holds at most a few dozen
// concurrent conversations.
func (r *Registry) FindByAssistID(assistConversationID string) (Conversation, bool) {
	if assistConversationID == "" {
		return Conversation{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		conv := r.conversations[id]
		if conv.AgentAssistConversationID == assistConversationID {
			return copyConversation(conv), true
		}
	}
	return Conversation{}, false
}

// Get returns a tracked conversation by platform id.
func (r *Registry) Get(conversationID string) (Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conv, ok := r.conversations[conversationID]
	if !ok {
		return Conversation{}, false
	}
	return copyConversation(conv), true
}

// ActiveID returns the most-recently-active conversation id, or "" when no
// tracked conversation is in an active state.
func (r *Registry) ActiveID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeID
}

// Active returns the most-recently-active conversation.
func (r *Registry) Active() (Conversation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.activeID == "" {
		return Conversation{}, false
	}
	conv, ok := r.conversations[r.activeID]
	if !ok {
		return Conversation{}, false
	}
	return copyConversation(conv), true
}

// Snapshot returns all tracked conversations in insertion order.
func (r *Registry) Snapshot() []Conversation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Clear empties the registry and resets the active pointer.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.conversations = make(map[string]*Conversation)
	r.order = nil
	changed := r.activeID != ""
	r.activeID = ""
	r.mu.Unlock()

	r.notify([]Conversation{}, changed, "")
}

// recomputeActiveLocked selects the active conversation: the one in an
// active state with the greatest LastUpdated. Ties keep the first-seen
// winner; simultaneous timestamps are an accepted nondeterminism.
func (r *Registry) recomputeActiveLocked() (changed bool, activeID string) {
	var best *Conversation
	for _, id := range r.order {
		conv := r.conversations[id]
		if !IsActiveState(conv.CurrentState) {
			continue
		}
		if best == nil || conv.LastUpdated.After(best.LastUpdated) {
			best = conv
		}
	}

	newID := ""
	if best != nil {
		newID = best.ID
	}
	if newID == r.activeID {
		return false, r.activeID
	}
	r.logger.WithField("previous", r.activeID).WithField("current", newID).Info("active conversation changed")
	r.activeID = newID
	return true, newID
}

func (r *Registry) snapshotLocked() []Conversation {
	out := make([]Conversation, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, copyConversation(r.conversations[id]))
	}
	return out
}

func (r *Registry) notify(snapshot []Conversation, activeChanged bool, activeID string) {
	if r.observers.OnTrackingUpdate != nil {
		r.observers.OnTrackingUpdate(snapshot)
	}
	if activeChanged && r.observers.OnActiveChanged != nil {
		r.observers.OnActiveChanged(activeID)
	}
}

func copyConversation(conv *Conversation) Conversation {
	out := *conv
	out.StateHistory = append([]StateChange(nil), conv.StateHistory...)
	out.Participants = append([]types.Participant(nil), conv.Participants...)
	return out
}
