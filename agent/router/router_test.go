package router

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanpawarit/Chative-Retention-Router/agent/actionlog"
	contractx "github.com/tanpawarit/Chative-Retention-Router/agent/contract"
	"github.com/tanpawarit/Chative-Retention-Router/agent/customer"
	"github.com/tanpawarit/Chative-Retention-Router/agent/metrics"
	"github.com/tanpawarit/Chative-Retention-Router/agent/retention"
	"github.com/tanpawarit/Chative-Retention-Router/agent/roles"
	statex "github.com/tanpawarit/Chative-Retention-Router/agent/state"
)

var fixedNow = time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []contractx.HandoffEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev contractx.HandoffEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

type recordingLog struct {
	mu      sync.Mutex
	entries []contractx.ActionEntry
}

func (l *recordingLog) Append(_ context.Context, e contractx.ActionEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, e)
	return nil
}

// flakySaveStore fails the next Save once armed.
type flakySaveStore struct {
	*statex.MemoryStore
	failNext atomic.Bool
}

func (s *flakySaveStore) Save(ctx context.Context, st *statex.ConversationState) error {
	if s.failNext.CompareAndSwap(true, false) {
		return errors.New("store down")
	}
	return s.MemoryStore.Save(ctx, st)
}

// flakyStatus fails the given number of status writes before delegating.
type flakyStatus struct {
	contractx.StatusUpdater
	failures atomic.Int32
	calls    atomic.Int32
}

func (s *flakyStatus) UpdateStatus(ctx context.Context, id string, status statex.CustomerStatus) error {
	s.calls.Add(1)
	if s.failures.Add(-1) >= 0 {
		return fmt.Errorf("%w: directory timeout", contractx.ErrExternalUnavailable)
	}
	return s.StatusUpdater.UpdateStatus(ctx, id, status)
}

type fakeRole struct {
	name   statex.Role
	calls  atomic.Int32
	handle func(ctx context.Context, req contractx.RoleRequest) (contractx.RoleResult, error)
}

func (f *fakeRole) Name() statex.Role { return f.name }

func (f *fakeRole) Handle(ctx context.Context, req contractx.RoleRequest) (contractx.RoleResult, error) {
	f.calls.Add(1)
	if f.handle == nil {
		return contractx.RoleResult{Reply: "ok", Signal: contractx.SignalAmbiguous, Proposed: req.State}, nil
	}
	return f.handle(ctx, req)
}

type fixture struct {
	router    *Router
	store     *statex.MemoryStore
	directory *customer.MemoryDirectory
	publisher *recordingPublisher
	actions   *recordingLog
	metrics   *metrics.Router
}

func customers() []statex.CustomerRecord {
	return []statex.CustomerRecord{
		{
			CustomerID: "CUST_001", Email: "sarah.chen@email.com", Name: "Sarah Chen",
			Tier: statex.TierGold, MonthlyPayment: 12.99, TenureMonths: 24,
			PlanName: "Care+ Premium", Device: "iPhone 14 Pro", Status: statex.StatusActive,
		},
		{
			CustomerID: "CUST_002", Email: "mike.rodriguez@email.com", Name: "Mike Rodriguez",
			Tier: statex.TierStandard, MonthlyPayment: 8.99, TenureMonths: 6,
			PlanName: "Care+ Basic", Device: "Galaxy S23", Status: statex.StatusActive,
		},
	}
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()

	f := &fixture{
		store:     statex.NewMemoryStore(),
		directory: customer.NewMemoryDirectory(customers()...),
		publisher: &recordingPublisher{},
		actions:   &recordingLog{},
		metrics:   metrics.NewRouter(prometheus.NewRegistry()),
	}
	all, err := roles.NewAll(roles.Deps{
		Directory:  f.directory,
		Classifier: roles.KeywordClassifier{},
		Rules:      retention.Default(),
	})
	require.NoError(t, err)

	f.router, err = New(f.store, all, cfg,
		WithHandoffPublisher(f.publisher),
		WithStatusUpdater(f.directory),
		WithActionLog(f.actions),
		WithMetrics(f.metrics),
		WithClock(func() time.Time { return fixedNow }),
	)
	require.NoError(t, err)
	return f
}

func newFakeRouter(t *testing.T, cfg Config, intake *fakeRole) (*Router, *statex.MemoryStore) {
	t.Helper()
	store := statex.NewMemoryStore()
	r, err := New(store, []contractx.Role{
		intake,
		&fakeRole{name: statex.RoleRetention},
		&fakeRole{name: statex.RoleProcessor},
	}, cfg, WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return r, store
}

// awaitingConfirmation stores a conversation whose processor already asked
// the customer to confirm a cancellation.
func awaitingConfirmation(t *testing.T, store statex.Store, id string) {
	t.Helper()
	st := statex.NewConversationState(id, fixedNow)
	rec := customers()[0]
	st.Customer = &rec
	st.ActiveRole = statex.RoleProcessor
	st.Intent = statex.IntentCancellation
	st.CancellationReason = retention.ReasonCost
	st.PendingAction = statex.ActionCancel
	require.NoError(t, store.Save(context.Background(), st))
}

func load(t *testing.T, store statex.Store, id string) *statex.ConversationState {
	t.Helper()
	st, err := store.Load(context.Background(), id)
	require.NoError(t, err)
	return st
}

func TestNewRequiresAllRoles(t *testing.T) {
	t.Parallel()

	_, err := New(statex.NewMemoryStore(), []contractx.Role{&fakeRole{name: statex.RoleIntake}}, Config{})
	require.ErrorIs(t, err, contractx.ErrValidation)

	_, err = New(statex.NewMemoryStore(), []contractx.Role{
		&fakeRole{name: statex.RoleIntake},
		&fakeRole{name: statex.RoleRetention},
		&fakeRole{name: statex.RoleProcessor},
		&fakeRole{name: statex.RoleClosed},
	}, Config{})
	require.ErrorIs(t, err, contractx.ErrValidation)
}

func TestHandleTurnRejectsEmptyInput(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{RetryDelay: 0})

	_, err := f.router.HandleTurn(context.Background(), "conv-1", "   ")
	require.ErrorIs(t, err, ErrInvalidMessage)

	_, err = f.router.HandleTurn(context.Background(), "", "hello")
	require.ErrorIs(t, err, ErrInvalidConversation)
}

func TestGoldCostCancellationGetsDiscount(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	ctx := context.Background()

	res, err := f.router.HandleTurn(ctx, "conv-gold",
		"Hi, I'm sarah.chen@email.com. I can't afford $13/month anymore, I want to cancel.")
	require.NoError(t, err)
	require.NoError(t, res.Warning)

	assert.Equal(t, statex.RoleRetention, res.Role)
	assert.Contains(t, res.Reply, "50% off")

	st := load(t, f.store, "conv-gold")
	require.Len(t, st.OffersPresented, 1)
	assert.Equal(t, "gold-cost-discount-50", st.OffersPresented[0].ID)
	assert.Equal(t, statex.OfferDiscount, st.OffersPresented[0].Kind)
	assert.Equal(t, retention.ReasonCost, st.CancellationReason)
	assert.Equal(t, statex.IntentCancellation, st.Intent)
	assert.Equal(t, "CUST_001", st.Customer.CustomerID)
	assert.Equal(t, 1, st.TurnCount)
	assert.Equal(t, 0, st.Attempts)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Transitions.WithLabelValues("intake", "retention")))
}

func TestInsistingAfterAllOffersReachesProcessor(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	ctx := context.Background()
	id := "conv-insist"

	_, err := f.router.HandleTurn(ctx, id, "sarah.chen@email.com here, it's too expensive, please cancel")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		res, err := f.router.HandleTurn(ctx, id, "I still want to cancel")
		require.NoError(t, err)
		require.Equal(t, statex.RoleRetention, res.Role)
	}
	st := load(t, f.store, id)
	require.Len(t, st.OffersPresented, 3)

	res, err := f.router.HandleTurn(ctx, id, "I still want to cancel")
	require.NoError(t, err)
	assert.Equal(t, statex.RoleProcessor, res.Role)
	assert.Contains(t, res.Reply, "Please reply \"yes\" to confirm")

	st = load(t, f.store, id)
	assert.Len(t, st.OffersPresented, 3)
	assert.Equal(t, statex.ActionCancel, st.PendingAction)
	assert.False(t, st.ConfirmationRecorded)

	res, err = f.router.HandleTurn(ctx, id, "yes")
	require.NoError(t, err)
	assert.Equal(t, statex.RoleClosed, res.Role)
	assert.Contains(t, res.Reply, "cancellation has been processed")

	rec, err := f.directory.Lookup(ctx, "sarah.chen@email.com")
	require.NoError(t, err)
	assert.Equal(t, statex.StatusCancelled, rec.Status)

	require.Len(t, f.actions.entries, 1)
	assert.Equal(t, statex.ActionCancel, f.actions.entries[0].Action)
	assert.Equal(t, "CUST_001", f.actions.entries[0].CustomerID)
	assert.Equal(t, retention.ReasonCost, f.actions.entries[0].Reason)
	assert.Equal(t, fixedNow, f.actions.entries[0].Timestamp)

	_, err = f.router.HandleTurn(ctx, id, "yes")
	require.ErrorIs(t, err, contractx.ErrConversationClosed)
	assert.Len(t, f.actions.entries, 1)
}

func TestAcceptingOfferClosesWithoutStatusChange(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	ctx := context.Background()
	id := "conv-accept"

	_, err := f.router.HandleTurn(ctx, id, "sarah.chen@email.com - I can't afford this, cancel please")
	require.NoError(t, err)

	res, err := f.router.HandleTurn(ctx, id, "Sure, that works for me")
	require.NoError(t, err)
	assert.Equal(t, statex.RoleClosed, res.Role)

	st := load(t, f.store, id)
	require.NotNil(t, st.AcceptedOffer)
	assert.Equal(t, "gold-cost-discount-50", st.AcceptedOffer.ID)
	assert.Equal(t, statex.StatusActive, st.Customer.Status)
	assert.Empty(t, f.actions.entries)
	assert.Empty(t, f.publisher.events)
}

func TestTechnicalIssueHandsOff(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	ctx := context.Background()

	res, err := f.router.HandleTurn(ctx, "conv-tech", "This is mike.rodriguez@email.com, my phone won't charge")
	require.NoError(t, err)
	assert.Equal(t, statex.RoleTechnicalHandoff, res.Role)
	assert.Contains(t, res.Reply, "techsupport@techflow.com")

	require.Len(t, f.publisher.events, 1)
	ev := f.publisher.events[0]
	assert.Equal(t, "conv-tech", ev.ConversationID)
	assert.Equal(t, "CUST_002", ev.CustomerID)
	assert.Equal(t, statex.RoleTechnicalHandoff, ev.Queue)
	assert.Equal(t, statex.IntentTechnical, ev.Intent)
	assert.Equal(t, string(contractx.SignalIntentTechnical), ev.Reason)
	assert.Equal(t, 1, ev.TurnCount)

	_, err = f.router.HandleTurn(ctx, "conv-tech", "hello?")
	require.ErrorIs(t, err, contractx.ErrConversationClosed)
	assert.Len(t, f.publisher.events, 1)
}

func TestHandoffPublishFailureIsWarning(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	f.publisher.err = errors.New("queue down")

	res, err := f.router.HandleTurn(context.Background(), "conv-billing",
		"mike.rodriguez@email.com: I need a refund for a payment")
	require.NoError(t, err)
	assert.Equal(t, statex.RoleBillingHandoff, res.Role)
	require.Error(t, res.Warning)
	assert.Contains(t, res.Warning.Error(), "queue down")
	assert.Equal(t, statex.RoleBillingHandoff, load(t, f.store, "conv-billing").ActiveRole)
}

func TestRetentionNewIntentRoutesThroughIntake(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	ctx := context.Background()
	id := "conv-new-intent"

	_, err := f.router.HandleTurn(ctx, id, "sarah.chen@email.com: this costs too much money, I want to cancel")
	require.NoError(t, err)

	res, err := f.router.HandleTurn(ctx, id, "Actually my screen is broken too")
	require.NoError(t, err)
	assert.Equal(t, statex.RoleTechnicalHandoff, res.Role)
	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, statex.RoleTechnicalHandoff, f.publisher.events[0].Queue)
}

func TestProcessorWithheldThreeTimesEscalates(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{AttemptCap: 3})
	ctx := context.Background()
	id := "conv-maybe"

	st := statex.NewConversationState(id, fixedNow)
	rec := customers()[0]
	st.Customer = &rec
	st.ActiveRole = statex.RoleProcessor
	st.Intent = statex.IntentCancellation
	st.CancellationReason = retention.ReasonCost
	st.PendingAction = statex.ActionCancel
	require.NoError(t, f.store.Save(ctx, st))

	for i := 1; i <= 2; i++ {
		res, err := f.router.HandleTurn(ctx, id, "maybe")
		require.NoError(t, err)
		require.NoError(t, res.Warning)
		require.Equal(t, statex.RoleProcessor, res.Role)
		require.Equal(t, i, load(t, f.store, id).Attempts)
	}

	res, err := f.router.HandleTurn(ctx, id, "maybe")
	require.NoError(t, err)
	assert.Equal(t, statex.RoleHumanHandoff, res.Role)
	assert.ErrorIs(t, res.Warning, contractx.ErrAttemptCapExceeded)
	assert.Equal(t, escalationReply, res.Reply)

	require.Len(t, f.publisher.events, 1)
	assert.Equal(t, statex.RoleHumanHandoff, f.publisher.events[0].Queue)
	assert.Equal(t, reasonAttemptCap, f.publisher.events[0].Reason)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Escalations))

	rec, err = f.directory.Lookup(ctx, rec.Email)
	require.NoError(t, err)
	assert.Equal(t, statex.StatusActive, rec.Status)
	assert.Empty(t, f.actions.entries)
}

func TestUnidentifiedCountsTowardCap(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{AttemptCap: 2})
	ctx := context.Background()

	res, err := f.router.HandleTurn(ctx, "conv-anon", "I want to cancel")
	require.NoError(t, err)
	assert.Equal(t, statex.RoleIntake, res.Role)

	res, err = f.router.HandleTurn(ctx, "conv-anon", "nobody@nowhere.com")
	require.NoError(t, err)
	assert.Equal(t, statex.RoleHumanHandoff, res.Role)
	assert.ErrorIs(t, res.Warning, contractx.ErrAttemptCapExceeded)
}

func TestResolvingCustomerResetsAttempts(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{AttemptCap: 2})
	ctx := context.Background()
	id := "conv-resolve"

	_, err := f.router.HandleTurn(ctx, id, "hello there")
	require.NoError(t, err)
	require.Equal(t, 1, load(t, f.store, id).Attempts)

	res, err := f.router.HandleTurn(ctx, id, "sarah.chen@email.com")
	require.NoError(t, err)
	assert.Equal(t, statex.RoleIntake, res.Role)
	assert.NoError(t, res.Warning)
	assert.Equal(t, 0, load(t, f.store, id).Attempts)
}

func TestReplayReturnsStoredReply(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	ctx := context.Background()
	id := "conv-replay"

	first, err := f.router.HandleTurn(ctx, id, "sarah.chen@email.com, cancel please, too expensive", WithMessageID("m-1"))
	require.NoError(t, err)
	require.False(t, first.Replayed)

	again, err := f.router.HandleTurn(ctx, id, "sarah.chen@email.com, cancel please, too expensive", WithMessageID("m-1"))
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.Reply, again.Reply)
	assert.Equal(t, first.Role, again.Role)

	st := load(t, f.store, id)
	assert.Equal(t, 1, st.TurnCount)
	assert.Len(t, st.OffersPresented, 1)

	next, err := f.router.HandleTurn(ctx, id, "no, I still want to cancel", WithMessageID("m-2"))
	require.NoError(t, err)
	assert.False(t, next.Replayed)
	assert.Len(t, load(t, f.store, id).OffersPresented, 2)
}

func TestReplayAfterCloseStillAnswers(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{})
	ctx := context.Background()

	first, err := f.router.HandleTurn(ctx, "conv-closed-replay", "mike.rodriguez@email.com my screen is broken", WithMessageID("x"))
	require.NoError(t, err)
	require.Equal(t, statex.RoleTechnicalHandoff, first.Role)

	again, err := f.router.HandleTurn(ctx, "conv-closed-replay", "mike.rodriguez@email.com my screen is broken", WithMessageID("x"))
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.Reply, again.Reply)
	assert.Len(t, f.publisher.events, 1)
}

func TestExternalFailureIsRetried(t *testing.T) {
	t.Parallel()

	intake := &fakeRole{name: statex.RoleIntake}
	intake.handle = func(_ context.Context, req contractx.RoleRequest) (contractx.RoleResult, error) {
		if intake.calls.Load() == 1 {
			return contractx.RoleResult{}, fmt.Errorf("%w: directory timeout", contractx.ErrExternalUnavailable)
		}
		return contractx.RoleResult{Reply: "found you", Signal: contractx.SignalIntentOther, Proposed: req.State}, nil
	}
	r, store := newFakeRouter(t, Config{MaxRetries: 2}, intake)

	res, err := r.HandleTurn(context.Background(), "conv-flaky", "hi")
	require.NoError(t, err)
	assert.Equal(t, "found you", res.Reply)
	assert.NoError(t, res.Warning)
	assert.EqualValues(t, 2, intake.calls.Load())
	assert.Equal(t, 1, load(t, store, "conv-flaky").Attempts)
}

func TestExternalFailureExhaustsRetries(t *testing.T) {
	t.Parallel()

	intake := &fakeRole{name: statex.RoleIntake}
	intake.handle = func(_ context.Context, req contractx.RoleRequest) (contractx.RoleResult, error) {
		req.State.Intent = statex.IntentBilling
		return contractx.RoleResult{}, fmt.Errorf("%w: directory down", contractx.ErrExternalUnavailable)
	}
	r, store := newFakeRouter(t, Config{MaxRetries: 2}, intake)

	res, err := r.HandleTurn(context.Background(), "conv-down", "hi")
	require.NoError(t, err)
	assert.Equal(t, unavailableReply, res.Reply)
	assert.Equal(t, statex.RoleIntake, res.Role)
	assert.ErrorIs(t, res.Warning, contractx.ErrExternalUnavailable)
	assert.EqualValues(t, 3, intake.calls.Load())

	st := load(t, store, "conv-down")
	assert.Empty(t, st.Intent)
	assert.Equal(t, 1, st.Attempts)
}

func TestNonExternalErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	intake := &fakeRole{name: statex.RoleIntake}
	intake.handle = func(context.Context, contractx.RoleRequest) (contractx.RoleResult, error) {
		return contractx.RoleResult{}, errors.New("boom")
	}
	r, _ := newFakeRouter(t, Config{MaxRetries: 5}, intake)

	res, err := r.HandleTurn(context.Background(), "conv-boom", "hi")
	require.NoError(t, err)
	assert.Equal(t, fallbackReply, res.Reply)
	assert.EqualValues(t, 1, intake.calls.Load())
}

func TestCancelledContextAbortsTurn(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	intake := &fakeRole{name: statex.RoleIntake}
	intake.handle = func(context.Context, contractx.RoleRequest) (contractx.RoleResult, error) {
		cancel()
		return contractx.RoleResult{}, fmt.Errorf("%w: cancelled", contractx.ErrExternalUnavailable)
	}
	r, store := newFakeRouter(t, Config{MaxRetries: 3, RetryDelay: time.Millisecond}, intake)

	_, err := r.HandleTurn(ctx, "conv-cancel", "hi")
	require.Error(t, err)

	_, err = store.Load(context.Background(), "conv-cancel")
	require.ErrorIs(t, err, statex.ErrStateNotFound)
}

func TestIllegalTransitionsAreRejected(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		handle func(context.Context, contractx.RoleRequest) (contractx.RoleResult, error)
	}{
		{
			name: "signal without a row",
			handle: func(_ context.Context, req contractx.RoleRequest) (contractx.RoleResult, error) {
				return contractx.RoleResult{Reply: "done", Signal: contractx.SignalConfirmed, Proposed: req.State}, nil
			},
		},
		{
			name: "role sets its own active role",
			handle: func(_ context.Context, req contractx.RoleRequest) (contractx.RoleResult, error) {
				req.State.ActiveRole = statex.RoleClosed
				return contractx.RoleResult{Reply: "bye", Signal: contractx.SignalIntentOther, Proposed: req.State}, nil
			},
		},
		{
			name: "missing proposal",
			handle: func(context.Context, contractx.RoleRequest) (contractx.RoleResult, error) {
				return contractx.RoleResult{Reply: "hm", Signal: contractx.SignalIntentOther}, nil
			},
		},
		{
			name: "customer status changed outside processor",
			handle: func(_ context.Context, req contractx.RoleRequest) (contractx.RoleResult, error) {
				req.State.Customer.Status = statex.StatusCancelled
				return contractx.RoleResult{Reply: "gone", Signal: contractx.SignalIntentOther, Proposed: req.State}, nil
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			r, store := newFakeRouter(t, Config{}, &fakeRole{name: statex.RoleIntake, handle: tc.handle})

			seed := statex.NewConversationState("conv-illegal", fixedNow)
			rec := customers()[1]
			seed.Customer = &rec
			require.NoError(t, store.Save(ctx, seed))

			res, err := r.HandleTurn(ctx, "conv-illegal", "hello")
			require.NoError(t, err)
			assert.ErrorIs(t, res.Warning, contractx.ErrIllegalTransition)
			assert.Equal(t, fallbackReply, res.Reply)
			assert.Equal(t, statex.RoleIntake, res.Role)

			st := load(t, store, "conv-illegal")
			assert.Equal(t, statex.RoleIntake, st.ActiveRole)
			assert.Equal(t, statex.StatusActive, st.Customer.Status)
			assert.Equal(t, 0, st.Attempts)
			assert.Equal(t, 1, st.TurnCount)
		})
	}
}

func TestAmbiguousSignalDiscardsProposal(t *testing.T) {
	t.Parallel()

	intake := &fakeRole{name: statex.RoleIntake}
	intake.handle = func(_ context.Context, req contractx.RoleRequest) (contractx.RoleResult, error) {
		req.State.Intent = statex.IntentBilling
		return contractx.RoleResult{Reply: "could you clarify?", Proposed: req.State}, nil
	}
	r, store := newFakeRouter(t, Config{}, intake)

	res, err := r.HandleTurn(context.Background(), "conv-ambiguous", "hmm")
	require.NoError(t, err)
	assert.Equal(t, "could you clarify?", res.Reply)
	assert.ErrorIs(t, res.Warning, contractx.ErrAmbiguousSignal)

	st := load(t, store, "conv-ambiguous")
	assert.Empty(t, st.Intent)
	assert.Equal(t, 1, st.Attempts)
}

func TestTurnsOfOneConversationAreSerialized(t *testing.T) {
	t.Parallel()

	var inFlight, maxInFlight atomic.Int32
	intake := &fakeRole{name: statex.RoleIntake}
	intake.handle = func(_ context.Context, req contractx.RoleRequest) (contractx.RoleResult, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		return contractx.RoleResult{Reply: "who is this?", Signal: contractx.SignalUnidentified, Proposed: req.State}, nil
	}
	r, store := newFakeRouter(t, Config{AttemptCap: 100}, intake)

	const turns = 20
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.HandleTurn(context.Background(), "conv-busy", fmt.Sprintf("message %d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	st := load(t, store, "conv-busy")
	assert.Equal(t, turns, st.TurnCount)
	assert.Equal(t, turns, st.Version)
	assert.EqualValues(t, 1, maxInFlight.Load())
	assert.Equal(t, 0, r.locks.size())
}

func TestConfirmationRetriedAfterFailedSaveAppliesOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	id := "conv-save-retry"

	store := &flakySaveStore{MemoryStore: statex.NewMemoryStore()}
	directory := customer.NewMemoryDirectory(customers()...)
	logPath := filepath.Join(t.TempDir(), "actions.jsonl")
	actions, err := actionlog.NewFileLog(logPath)
	require.NoError(t, err)

	all, err := roles.NewAll(roles.Deps{
		Directory:  directory,
		Classifier: roles.KeywordClassifier{},
		Rules:      retention.Default(),
	})
	require.NoError(t, err)
	r, err := New(store, all, Config{},
		WithStatusUpdater(directory),
		WithActionLog(actions),
		WithClock(func() time.Time { return fixedNow }),
	)
	require.NoError(t, err)

	awaitingConfirmation(t, store, id)

	store.failNext.Store(true)
	_, err = r.HandleTurn(ctx, id, "yes", WithMessageID("m-yes"))
	require.ErrorContains(t, err, "store down")

	st := load(t, store, id)
	assert.Equal(t, statex.RoleProcessor, st.ActiveRole)
	assert.False(t, st.ActionCommitted)

	res, err := r.HandleTurn(ctx, id, "yes", WithMessageID("m-yes"))
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, statex.RoleClosed, res.Role)

	again, err := r.HandleTurn(ctx, id, "yes", WithMessageID("m-yes"))
	require.NoError(t, err)
	assert.True(t, again.Replayed)

	raw, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(raw), "\n"), string(raw))
	assert.Contains(t, string(raw), `"action":"cancel"`)

	rec, err := directory.Lookup(ctx, "sarah.chen@email.com")
	require.NoError(t, err)
	assert.Equal(t, statex.StatusCancelled, rec.Status)
}

func TestStatusFailureRollsBackConfirmation(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{MaxRetries: 1})
	ctx := context.Background()
	id := "conv-status-down"

	status := &flakyStatus{StatusUpdater: f.directory}
	status.failures.Store(2)
	WithStatusUpdater(status)(f.router)

	awaitingConfirmation(t, f.store, id)

	res, err := f.router.HandleTurn(ctx, id, "yes", WithMessageID("m-1"))
	require.NoError(t, err)
	assert.Equal(t, unavailableReply, res.Reply)
	assert.Equal(t, statex.RoleProcessor, res.Role)
	assert.ErrorIs(t, res.Warning, contractx.ErrExternalUnavailable)
	assert.EqualValues(t, 2, status.calls.Load())

	st := load(t, f.store, id)
	assert.False(t, st.ConfirmationRecorded)
	assert.False(t, st.ActionCommitted)
	assert.Equal(t, statex.StatusActive, st.Customer.Status)
	assert.Empty(t, st.LastMessageID)
	assert.Empty(t, f.actions.entries)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ExternalFailures.WithLabelValues("processor")))

	res, err = f.router.HandleTurn(ctx, id, "yes", WithMessageID("m-1"))
	require.NoError(t, err)
	assert.False(t, res.Replayed)
	assert.Equal(t, statex.RoleClosed, res.Role)
	require.Len(t, f.actions.entries, 1)

	rec, err := f.directory.Lookup(ctx, "sarah.chen@email.com")
	require.NoError(t, err)
	assert.Equal(t, statex.StatusCancelled, rec.Status)
}

func TestActionWithoutCommitIsRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	id := "conv-stray-action"

	processor := &fakeRole{name: statex.RoleProcessor}
	processor.handle = func(_ context.Context, req contractx.RoleRequest) (contractx.RoleResult, error) {
		st := req.State
		st.ConfirmationRecorded = true
		return contractx.RoleResult{
			Reply:    "done",
			Signal:   contractx.SignalConfirmed,
			Proposed: st,
			Action: &contractx.ActionEntry{
				ID: "act-1", CustomerID: "CUST_001", Action: statex.ActionCancel, Timestamp: fixedNow,
			},
		}, nil
	}
	store := statex.NewMemoryStore()
	actions := &recordingLog{}
	r, err := New(store, []contractx.Role{
		&fakeRole{name: statex.RoleIntake},
		&fakeRole{name: statex.RoleRetention},
		processor,
	}, Config{}, WithActionLog(actions), WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)

	awaitingConfirmation(t, store, id)

	res, err := r.HandleTurn(ctx, id, "yes")
	require.NoError(t, err)
	assert.ErrorIs(t, res.Warning, contractx.ErrIllegalTransition)
	assert.Equal(t, statex.RoleProcessor, res.Role)
	assert.Empty(t, actions.entries)
	assert.False(t, load(t, store, id).ActionCommitted)
}

func TestSwitchingActionsCountsTowardCap(t *testing.T) {
	t.Parallel()
	f := newFixture(t, Config{AttemptCap: 3})
	ctx := context.Background()
	id := "conv-switching"

	awaitingConfirmation(t, f.store, id)

	for i, msg := range []string{"actually pause it", "no, cancel it"} {
		res, err := f.router.HandleTurn(ctx, id, msg)
		require.NoError(t, err)
		require.Equal(t, statex.RoleProcessor, res.Role, msg)
		require.Equal(t, i+1, load(t, f.store, id).Attempts, msg)
	}

	res, err := f.router.HandleTurn(ctx, id, "pause")
	require.NoError(t, err)
	assert.Equal(t, statex.RoleHumanHandoff, res.Role)
	assert.ErrorIs(t, res.Warning, contractx.ErrAttemptCapExceeded)
	assert.Empty(t, f.actions.entries)
}

func TestPaddedConversationIDsShareALock(t *testing.T) {
	t.Parallel()

	var inFlight, maxInFlight atomic.Int32
	intake := &fakeRole{name: statex.RoleIntake}
	intake.handle = func(_ context.Context, req contractx.RoleRequest) (contractx.RoleResult, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		return contractx.RoleResult{Reply: "who is this?", Signal: contractx.SignalUnidentified, Proposed: req.State}, nil
	}
	r, store := newFakeRouter(t, Config{AttemptCap: 100}, intake)

	ids := []string{"conv-pad", " conv-pad", "conv-pad  ", "\tconv-pad"}
	const turns = 20
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := r.HandleTurn(context.Background(), ids[i%len(ids)], fmt.Sprintf("message %d", i))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	st := load(t, store, "conv-pad")
	assert.Equal(t, turns, st.TurnCount)
	assert.EqualValues(t, 1, maxInFlight.Load())
	assert.Equal(t, 0, r.locks.size())
}

func TestNextRole(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from   statex.Role
		signal contractx.Signal
		want   statex.Role
		ok     bool
	}{
		{statex.RoleIntake, contractx.SignalIntentCancellation, statex.RoleRetention, true},
		{statex.RoleIntake, contractx.SignalIntentBilling, statex.RoleBillingHandoff, true},
		{statex.RoleRetention, contractx.SignalOffersExhausted, statex.RoleProcessor, true},
		{statex.RoleRetention, contractx.SignalNewIntent, statex.RoleIntake, true},
		{statex.RoleProcessor, contractx.SignalConfirmed, statex.RoleClosed, true},
		{statex.RoleProcessor, contractx.SignalError, statex.RoleProcessor, true},
		{statex.RoleRetention, contractx.SignalAmbiguous, statex.RoleRetention, true},
		{statex.RoleIntake, contractx.SignalOfferAccepted, "", false},
		{statex.RoleProcessor, contractx.SignalNewIntent, "", false},
		{statex.RoleClosed, contractx.SignalAmbiguous, "", false},
	}
	for _, tc := range tests {
		got, ok := nextRole(tc.from, tc.signal)
		assert.Equal(t, tc.ok, ok, "%s --%s-->", tc.from, tc.signal)
		assert.Equal(t, tc.want, got, "%s --%s-->", tc.from, tc.signal)
	}

	assert.True(t, countsAsAttempt(contractx.SignalWithheld))
	assert.False(t, countsAsAttempt(contractx.SignalOfferPresented))
	assert.False(t, countsAsAttempt(contractx.SignalConfirmationRequested))
}
