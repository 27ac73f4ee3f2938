package state

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleIntake           Role = "intake"
	RoleRetention        Role = "retention"
	RoleProcessor        Role = "processor"
	RoleTechnicalHandoff Role = "technical_handoff"
	RoleBillingHandoff   Role = "billing_handoff"
	RoleHumanHandoff     Role = "human_handoff"
	RoleClosed           Role = "closed"
)

// IsTerminal reports whether conversation ownership has left the router.
func (r Role) IsTerminal() bool {
	switch r {
	case RoleClosed, RoleTechnicalHandoff, RoleBillingHandoff, RoleHumanHandoff:
		return true
	default:
		return false
	}
}

// IsHandoff reports whether the role is an external queue.
func (r Role) IsHandoff() bool {
	return r == RoleTechnicalHandoff || r == RoleBillingHandoff || r == RoleHumanHandoff
}

type Intent string

const (
	IntentCancellation Intent = "cancellation"
	IntentTechnical    Intent = "technical"
	IntentBilling      Intent = "billing"
	IntentOther        Intent = "other"
)

// ParseIntent accepts the labels produced by classifiers, including the
// legacy "general" label, and returns IntentOther for anything unknown.
func ParseIntent(raw string) (Intent, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(IntentCancellation):
		return IntentCancellation, true
	case string(IntentTechnical):
		return IntentTechnical, true
	case string(IntentBilling):
		return IntentBilling, true
	case string(IntentOther), "general":
		return IntentOther, true
	default:
		return IntentOther, false
	}
}

type Tier string

const (
	TierStandard Tier = "standard"
	TierSilver   Tier = "silver"
	TierGold     Tier = "gold"
)

func ParseTier(raw string) (Tier, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(TierStandard), "regular", "basic":
		return TierStandard, nil
	case string(TierSilver):
		return TierSilver, nil
	case string(TierGold), "premium":
		return TierGold, nil
	default:
		return "", fmt.Errorf("unknown tier %q", raw)
	}
}

type CustomerStatus string

const (
	StatusActive    CustomerStatus = "active"
	StatusPaused    CustomerStatus = "paused"
	StatusCancelled CustomerStatus = "cancelled"
)

func ParseCustomerStatus(raw string) (CustomerStatus, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(StatusActive), "":
		return StatusActive, nil
	case string(StatusPaused):
		return StatusPaused, nil
	case string(StatusCancelled), "canceled":
		return StatusCancelled, nil
	default:
		return "", fmt.Errorf("unknown customer status %q", raw)
	}
}

type CustomerRecord struct {
	CustomerID     string         `json:"customer_id"`
	Email          string         `json:"email"`
	Name           string         `json:"name"`
	Phone          string         `json:"phone,omitempty"`
	Tier           Tier           `json:"tier"`
	MonthlyPayment float64        `json:"monthly_payment"`
	TenureMonths   int            `json:"tenure_months"`
	PlanName       string         `json:"plan_name"`
	Device         string         `json:"device,omitempty"`
	Status         CustomerStatus `json:"status"`
}

type OfferKind string

const (
	OfferDiscount  OfferKind = "discount"
	OfferPause     OfferKind = "pause"
	OfferDowngrade OfferKind = "downgrade"
	OfferSpecial   OfferKind = "special"
)

type RetentionOffer struct {
	ID             string    `json:"id" yaml:"id"`
	Kind           OfferKind `json:"kind" yaml:"kind"`
	Description    string    `json:"description" yaml:"description"`
	Magnitude      float64   `json:"magnitude,omitempty" yaml:"magnitude"`
	DurationMonths int       `json:"duration_months,omitempty" yaml:"duration_months"`
}

// Key identifies an offer for de-duplication.
func (o RetentionOffer) Key() string {
	if id := strings.TrimSpace(o.ID); id != "" {
		return id
	}
	return string(o.Kind) + ":" + strings.ToLower(strings.TrimSpace(o.Description))
}

type PendingAction string

const (
	ActionCancel    PendingAction = "cancel"
	ActionPause     PendingAction = "pause"
	ActionDowngrade PendingAction = "downgrade"
)

// ResultingStatus is the customer status a confirmed action leaves behind.
func (a PendingAction) ResultingStatus() CustomerStatus {
	switch a {
	case ActionPause:
		return StatusPaused
	case ActionDowngrade:
		return StatusActive
	default:
		return StatusCancelled
	}
}

// ConversationState is the single mutable record threaded through the router.
// Roles receive a clone and return a proposal; only the router commits.
type ConversationState struct {
	ConversationID string          `json:"conversation_id"`
	Customer       *CustomerRecord `json:"customer,omitempty"`
	ActiveRole     Role            `json:"active_role"`
	Intent         Intent          `json:"intent,omitempty"`

	CancellationReason string           `json:"cancellation_reason,omitempty"`
	OffersPresented    []RetentionOffer `json:"offers_presented,omitempty"`
	AcceptedOffer      *RetentionOffer  `json:"accepted_offer,omitempty"`

	PendingAction        PendingAction `json:"pending_action,omitempty"`
	ConfirmationRecorded bool          `json:"confirmation_recorded,omitempty"`
	ActionCommitted      bool          `json:"action_committed,omitempty"`

	Attempts  int `json:"attempts"`
	TurnCount int `json:"turn_count"`
	Version   int `json:"version"`

	LastMessageID string `json:"last_message_id,omitempty"`
	LastReply     string `json:"last_reply,omitempty"`

	CreatedAt     time.Time `json:"created_at"`
	LastUpdatedAt time.Time `json:"last_updated_at"`
}

var (
	ErrNilConversation       = errors.New("conversation state is nil")
	ErrUnknownRole           = errors.New("unknown role")
	ErrCustomerReassigned    = errors.New("customer reference cleared or reassigned")
	ErrOffersRewritten       = errors.New("offers presented history rewritten")
	ErrDuplicateOffer        = errors.New("offer presented twice")
	ErrReasonRewritten       = errors.New("cancellation reason changed")
	ErrUnconfirmedStatusEdit = errors.New("customer status changed without recorded confirmation")
)

func NewConversationState(conversationID string, now time.Time) *ConversationState {
	return &ConversationState{
		ConversationID: conversationID,
		ActiveRole:     RoleIntake,
		CreatedAt:      now.UTC(),
		LastUpdatedAt:  now.UTC(),
	}
}

/* --------------------------- State helpers ------------------------------ */

func (s *ConversationState) Touch(now time.Time) {
	s.LastUpdatedAt = now.UTC()
}

func (s *ConversationState) IsTerminal() bool {
	return s != nil && s.ActiveRole.IsTerminal()
}

func (s *ConversationState) CustomerResolved() bool {
	return s != nil && s.Customer != nil && s.Customer.CustomerID != ""
}

// HasPresented reports whether an offer with the same key was already shown.
func (s *ConversationState) HasPresented(offer RetentionOffer) bool {
	key := offer.Key()
	for _, o := range s.OffersPresented {
		if o.Key() == key {
			return true
		}
	}
	return false
}

// PresentOffer appends an offer unless it was already presented.
func (s *ConversationState) PresentOffer(offer RetentionOffer) bool {
	if s.HasPresented(offer) {
		return false
	}
	s.OffersPresented = append(s.OffersPresented, offer)
	return true
}

// Clone returns a deep copy so a role can mutate freely.
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return nil
	}
	out := *s
	if s.Customer != nil {
		c := *s.Customer
		out.Customer = &c
	}
	if s.OffersPresented != nil {
		out.OffersPresented = append([]RetentionOffer(nil), s.OffersPresented...)
	}
	if s.AcceptedOffer != nil {
		o := *s.AcceptedOffer
		out.AcceptedOffer = &o
	}
	return &out
}

func (s *ConversationState) Validate() error {
	if s == nil {
		return ErrNilConversation
	}
	if strings.TrimSpace(s.ConversationID) == "" {
		return errors.New("conversation id is empty")
	}
	switch s.ActiveRole {
	case RoleIntake, RoleRetention, RoleProcessor,
		RoleTechnicalHandoff, RoleBillingHandoff, RoleHumanHandoff, RoleClosed:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownRole, s.ActiveRole)
	}
	seen := make(map[string]struct{}, len(s.OffersPresented))
	for _, o := range s.OffersPresented {
		if _, dup := seen[o.Key()]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateOffer, o.Key())
		}
		seen[o.Key()] = struct{}{}
	}
	if s.ActionCommitted && !s.ConfirmationRecorded {
		return fmt.Errorf("%w: action committed before confirmation", ErrUnconfirmedStatusEdit)
	}
	return nil
}

// CheckProposal verifies that next is an admissible successor of s as far as
// the data invariants go. Role transitions are checked by the router.
func (s *ConversationState) CheckProposal(next *ConversationState) error {
	if s == nil || next == nil {
		return ErrNilConversation
	}
	if next.ConversationID != s.ConversationID {
		return errors.New("conversation id changed")
	}

	if s.CustomerResolved() {
		if next.Customer == nil || next.Customer.CustomerID != s.Customer.CustomerID {
			return ErrCustomerReassigned
		}
	}

	if len(next.OffersPresented) < len(s.OffersPresented) {
		return ErrOffersRewritten
	}
	for i, o := range s.OffersPresented {
		if next.OffersPresented[i].Key() != o.Key() {
			return fmt.Errorf("%w: position %d", ErrOffersRewritten, i)
		}
	}

	if s.CancellationReason != "" && next.CancellationReason != s.CancellationReason {
		return ErrReasonRewritten
	}

	if s.CustomerResolved() && next.Customer.Status != s.Customer.Status {
		if s.ActiveRole != RoleProcessor || s.PendingAction == "" || !next.ConfirmationRecorded {
			return ErrUnconfirmedStatusEdit
		}
	}

	return next.Validate()
}
