package contract

import (
	"context"

	statex "github.com/tanpawarit/Chative-Retention-Router/agent/state"
)

// Directory resolves customers by email. Implementations return ErrNotFound
// on a miss and wrap transport failures with ErrExternalUnavailable.
type Directory interface {
	Lookup(ctx context.Context, email string) (statex.CustomerRecord, error)
}

// StatusUpdater is the only write path into customer records. Setting the
// status a customer already has succeeds without changing anything.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, customerID string, status statex.CustomerStatus) error
}

type RuleTable interface {
	OffersFor(tier statex.Tier, reason string) []statex.RetentionOffer
}

type ReasonDetector interface {
	DetectReason(message string) string
}

type PolicyRetriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]Passage, error)
}

// ActionLog appends entries. Appending an ID that is already present is a
// no-op.
type ActionLog interface {
	Append(ctx context.Context, entry ActionEntry) error
}

type HandoffPublisher interface {
	Publish(ctx context.Context, event HandoffEvent) error
}

type Classifier interface {
	Classify(ctx context.Context, req ClassifyRequest) (statex.Intent, error)
}

type Responder interface {
	Compose(ctx context.Context, draft ReplyDraft) (string, error)
}

// Role handles one step of a conversation. It receives a private copy of the
// state and returns a proposal; it never persists anything itself.
type Role interface {
	Name() statex.Role
	Handle(ctx context.Context, req RoleRequest) (RoleResult, error)
}
