package router

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"

	"github.com/tanpawarit/Chative-Retention-Router/agent/actionlog"
	contractx "github.com/tanpawarit/Chative-Retention-Router/agent/contract"
	"github.com/tanpawarit/Chative-Retention-Router/agent/handoff"
	"github.com/tanpawarit/Chative-Retention-Router/agent/metrics"
	nodex "github.com/tanpawarit/Chative-Retention-Router/agent/nodes"
	statex "github.com/tanpawarit/Chative-Retention-Router/agent/state"
)

var (
	ErrInvalidMessage      = nodex.ErrInvalidMessage
	ErrInvalidConversation = nodex.ErrInvalidConversation
)

type TurnResult struct {
	ConversationID string
	Reply          string
	Role           statex.Role
	Replayed       bool
	// Warning joins non-fatal problems of the turn, including
	// ErrAttemptCapExceeded when the conversation was escalated.
	Warning error
}

type TurnOption func(*turnOptions)

type turnOptions struct {
	messageID string
}

// WithMessageID makes the turn idempotent: a repeated id returns the stored
// reply without running any role.
func WithMessageID(id string) TurnOption {
	return func(o *turnOptions) {
		o.messageID = id
	}
}

type Option func(*Router)

func WithHandoffPublisher(p contractx.HandoffPublisher) Option {
	return func(r *Router) {
		if p != nil {
			r.publisher = p
		}
	}
}

// WithStatusUpdater sets the directory write path used to apply confirmed
// actions. A turn that confirms an action fails without one.
func WithStatusUpdater(s contractx.StatusUpdater) Option {
	return func(r *Router) {
		r.status = s
	}
}

func WithActionLog(l contractx.ActionLog) Option {
	return func(r *Router) {
		if l != nil {
			r.actions = l
		}
	}
}

func WithMetrics(m *metrics.Router) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		if now != nil {
			r.now = now
		}
	}
}

// Router owns conversation state. Roles propose, the router validates the
// proposal against the transition table and the state invariants, commits and
// persists.
type Router struct {
	store     statex.Store
	roles     map[statex.Role]contractx.Role
	publisher contractx.HandoffPublisher
	status    contractx.StatusUpdater
	actions   contractx.ActionLog
	metrics   *metrics.Router
	cfg       Config
	locks     *keyedMutex
	now       func() time.Time

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]
}

func New(store statex.Store, roles []contractx.Role, cfg Config, opts ...Option) (*Router, error) {
	if store == nil {
		return nil, errors.New("state store is required")
	}

	r := &Router{
		store:     store,
		roles:     make(map[statex.Role]contractx.Role, len(roles)),
		publisher: handoff.Noop{},
		actions:   actionlog.Discard{},
		cfg:       cfg.withDefaults(),
		locks:     newKeyedMutex(),
		now:       time.Now,
	}
	for _, role := range roles {
		if role == nil {
			continue
		}
		name := role.Name()
		if name.IsTerminal() {
			return nil, fmt.Errorf("%w: role handler for terminal role %s", contractx.ErrValidation, name)
		}
		if _, dup := r.roles[name]; dup {
			return nil, fmt.Errorf("%w: duplicate handler for role %s", contractx.ErrValidation, name)
		}
		r.roles[name] = role
	}
	for _, required := range []statex.Role{statex.RoleIntake, statex.RoleRetention, statex.RoleProcessor} {
		if _, ok := r.roles[required]; !ok {
			return nil, fmt.Errorf("%w: missing handler for role %s", contractx.ErrValidation, required)
		}
	}
	for _, opt := range opts {
		opt(r)
	}

	graphRunner, err := r.compileTurnGraph(context.Background())
	if err != nil {
		return nil, err
	}
	r.graphRunner = graphRunner

	return r, nil
}

// HandleTurn routes one customer message. Turns of one conversation are
// serialized; different conversations proceed in parallel.
func (r *Router) HandleTurn(ctx context.Context, conversationID string, message string, opts ...TurnOption) (TurnResult, error) {
	var o turnOptions
	for _, opt := range opts {
		opt(&o)
	}

	// Lock on the id the state is stored under.
	conversationID = strings.TrimSpace(conversationID)
	unlock := r.locks.Lock(conversationID)
	defer unlock()

	out, err := r.graphRunner.Invoke(ctx, nodex.GraphInput{
		ConversationID: conversationID,
		MessageID:      o.messageID,
		Text:           message,
	})
	if err != nil {
		return TurnResult{}, fmt.Errorf("handle turn conversation=%s: %w", conversationID, err)
	}

	return TurnResult{
		ConversationID: out.ConversationID,
		Reply:          out.Reply,
		Role:           out.Role,
		Replayed:       out.Replayed,
		Warning:        errors.Join(out.Warnings...),
	}, nil
}
