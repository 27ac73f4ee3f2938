package contract

import (
	"time"

	statex "github.com/tanpawarit/Chative-Retention-Router/agent/state"
)

type AgentType string

const (
	AgentTypeIntake     AgentType = "intake"
	AgentTypeClassifier AgentType = "classifier"
	AgentTypeRetention  AgentType = "retention"
	AgentTypeProcessor  AgentType = "processor"
)

// Signal is what a role reports back to the router after a step.
type Signal string

const (
	SignalUnidentified          Signal = "unidentified"
	SignalIntentCancellation    Signal = "intent_cancellation"
	SignalIntentTechnical       Signal = "intent_technical"
	SignalIntentBilling         Signal = "intent_billing"
	SignalIntentOther           Signal = "intent_other"
	SignalOfferPresented        Signal = "offer_presented"
	SignalOfferAccepted         Signal = "offer_accepted"
	SignalOffersExhausted       Signal = "offers_exhausted"
	SignalNewIntent             Signal = "new_intent"
	SignalConfirmationRequested Signal = "confirmation_requested"
	SignalConfirmed             Signal = "confirmed"
	SignalWithheld              Signal = "withheld"
	SignalAmbiguous             Signal = "ambiguous"
	SignalError                 Signal = "error"
)

// IntentSignal maps a classified intent onto the intake signal for it.
func IntentSignal(intent statex.Intent) Signal {
	switch intent {
	case statex.IntentCancellation:
		return SignalIntentCancellation
	case statex.IntentTechnical:
		return SignalIntentTechnical
	case statex.IntentBilling:
		return SignalIntentBilling
	default:
		return SignalIntentOther
	}
}

type RoleRequest struct {
	State   *statex.ConversationState
	Message string
	Now     time.Time
}

type RoleResult struct {
	Reply    string
	Signal   Signal
	Proposed *statex.ConversationState
	// Action is a confirmed account change. The router applies it to the
	// directory and the action log before the proposal is persisted.
	Action *ActionEntry
	// Warning carries a non-fatal collaborator failure (retriever).
	Warning error
}

type ClassifyRequest struct {
	Message  string
	Customer *statex.CustomerRecord
	Context  string
}

type ReplyDraft struct {
	Agent    AgentType
	Message  string
	Draft    string
	Customer *statex.CustomerRecord
	Offer    *statex.RetentionOffer
	Policies []Passage
}

type Passage struct {
	Source  string  `json:"source"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// ActionEntry is one immutable action-log record. ID is derived from the
// conversation and its version, so a retried turn reproduces the same entry.
type ActionEntry struct {
	ID         string               `json:"id"`
	CustomerID string               `json:"customer_id"`
	Action     statex.PendingAction `json:"action"`
	Reason     string               `json:"reason"`
	Timestamp  time.Time            `json:"timestamp"`
}

type HandoffEvent struct {
	ConversationID string        `json:"conversation_id"`
	CustomerID     string        `json:"customer_id,omitempty"`
	Queue          statex.Role   `json:"queue"`
	Intent         statex.Intent `json:"intent,omitempty"`
	Reason         string        `json:"reason,omitempty"`
	TurnCount      int           `json:"turn_count"`
	OccurredAt     time.Time     `json:"occurred_at"`
}
