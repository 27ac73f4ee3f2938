package state

import (
	"errors"
	"testing"
	"time"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func resolvedState() *ConversationState {
	st := NewConversationState("conv", testNow)
	st.Customer = &CustomerRecord{
		CustomerID: "CUST001",
		Email:      "john.smith@email.com",
		Tier:       TierGold,
		Status:     StatusActive,
	}
	return st
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	st := resolvedState()
	st.OffersPresented = []RetentionOffer{{ID: "a", Kind: OfferDiscount}}

	cp := st.Clone()
	cp.Customer.Status = StatusCancelled
	cp.OffersPresented[0].ID = "changed"

	if st.Customer.Status != StatusActive {
		t.Fatal("clone shares customer pointer")
	}
	if st.OffersPresented[0].ID != "a" {
		t.Fatal("clone shares offers backing array")
	}
}

func TestPresentOfferRejectsDuplicates(t *testing.T) {
	t.Parallel()

	st := resolvedState()
	offer := RetentionOffer{ID: "gold-cost-1", Kind: OfferDiscount}
	if !st.PresentOffer(offer) {
		t.Fatal("first presentation must be accepted")
	}
	if st.PresentOffer(offer) {
		t.Fatal("duplicate presentation must be rejected")
	}
	if len(st.OffersPresented) != 1 {
		t.Fatalf("offers = %d, want 1", len(st.OffersPresented))
	}
}

func TestCheckProposal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		prior  func() *ConversationState
		mutate func(*ConversationState)
		want   error
	}{
		{
			name:   "customer cleared",
			prior:  resolvedState,
			mutate: func(s *ConversationState) { s.Customer = nil },
			want:   ErrCustomerReassigned,
		},
		{
			name:  "customer reassigned",
			prior: resolvedState,
			mutate: func(s *ConversationState) {
				s.Customer = &CustomerRecord{CustomerID: "CUST999"}
			},
			want: ErrCustomerReassigned,
		},
		{
			name: "offers shrink",
			prior: func() *ConversationState {
				st := resolvedState()
				st.OffersPresented = []RetentionOffer{{ID: "a"}}
				return st
			},
			mutate: func(s *ConversationState) { s.OffersPresented = nil },
			want:   ErrOffersRewritten,
		},
		{
			name: "offers reordered",
			prior: func() *ConversationState {
				st := resolvedState()
				st.OffersPresented = []RetentionOffer{{ID: "a"}}
				return st
			},
			mutate: func(s *ConversationState) {
				s.OffersPresented = []RetentionOffer{{ID: "b"}, {ID: "a"}}
			},
			want: ErrOffersRewritten,
		},
		{
			name: "duplicate appended",
			prior: func() *ConversationState {
				st := resolvedState()
				st.OffersPresented = []RetentionOffer{{ID: "a"}}
				return st
			},
			mutate: func(s *ConversationState) {
				s.OffersPresented = append(s.OffersPresented, RetentionOffer{ID: "a"})
			},
			want: ErrDuplicateOffer,
		},
		{
			name: "reason rewritten",
			prior: func() *ConversationState {
				st := resolvedState()
				st.CancellationReason = "cost"
				return st
			},
			mutate: func(s *ConversationState) { s.CancellationReason = "value" },
			want:   ErrReasonRewritten,
		},
		{
			name:   "status edited outside processor",
			prior:  resolvedState,
			mutate: func(s *ConversationState) { s.Customer.Status = StatusCancelled },
			want:   ErrUnconfirmedStatusEdit,
		},
		{
			name: "status edited without confirmation",
			prior: func() *ConversationState {
				st := resolvedState()
				st.ActiveRole = RoleProcessor
				st.PendingAction = ActionCancel
				return st
			},
			mutate: func(s *ConversationState) { s.Customer.Status = StatusCancelled },
			want:   ErrUnconfirmedStatusEdit,
		},
		{
			name: "confirmed status edit",
			prior: func() *ConversationState {
				st := resolvedState()
				st.ActiveRole = RoleProcessor
				st.PendingAction = ActionCancel
				return st
			},
			mutate: func(s *ConversationState) {
				s.ConfirmationRecorded = true
				s.ActionCommitted = true
				s.Customer.Status = StatusCancelled
			},
			want: nil,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			prior := tc.prior()
			next := prior.Clone()
			tc.mutate(next)

			err := prior.CheckProposal(next)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("CheckProposal() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("CheckProposal() error = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestMemoryStoreRoundTripIsolatesCopies(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	st := resolvedState()
	if err := store.Save(t.Context(), st); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	st.Customer.Name = "mutated after save"

	got, err := store.Load(t.Context(), "conv")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Customer.Name == "mutated after save" {
		t.Fatal("store must keep its own copy")
	}

	if _, err := store.Load(t.Context(), "missing"); !errors.Is(err, ErrStateNotFound) {
		t.Fatalf("Load(missing) error = %v, want ErrStateNotFound", err)
	}
}

func TestParseHelpers(t *testing.T) {
	t.Parallel()

	if tier, err := ParseTier("Premium"); err != nil || tier != TierGold {
		t.Fatalf("ParseTier(Premium) = %q, %v", tier, err)
	}
	if _, err := ParseTier("platinum"); err == nil {
		t.Fatal("ParseTier(platinum) must fail")
	}
	if intent, ok := ParseIntent("general"); !ok || intent != IntentOther {
		t.Fatalf("ParseIntent(general) = %q, %v", intent, ok)
	}
	if ActionPause.ResultingStatus() != StatusPaused {
		t.Fatal("pause must leave the account paused")
	}
}
