package roles

import (
	"context"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/Chative-Retention-Router/agent/contract"
	statex "github.com/tanpawarit/Chative-Retention-Router/agent/state"
)

// KeywordClassifier matches stems in priority order: technical, then
// cancellation, then billing. A broken device reported alongside a
// cancellation request goes to technical support first.
type KeywordClassifier struct{}

var _ contractx.Classifier = KeywordClassifier{}

var intentStems = []struct {
	intent statex.Intent
	stems  []string
}{
	{statex.IntentTechnical, []string{
		"won't charge", "wont charge", "not charging", "doesn't charge", "broken", "not working",
		"stopped working", "overheat", "slow", "freez", "crash", "battery", "screen", "won't turn on",
	}},
	{statex.IntentCancellation, []string{
		"cancel", "stop my", "stop the", "remove my", "too expensive", "expensive", "afford",
		"not worth", "don't need", "dont need", "get rid of", "end my", "pause", "downgrade",
	}},
	{statex.IntentBilling, []string{
		"charged", "charge on", "payment", "invoice", "bill", "refund", "receipt",
	}},
}

func (KeywordClassifier) Classify(ctx context.Context, req contractx.ClassifyRequest) (statex.Intent, error) {
	if strings.TrimSpace(req.Message) == "" {
		return statex.IntentOther, fmt.Errorf("%w: message is required", contractx.ErrValidation)
	}
	n := normalize(req.Message)
	for _, group := range intentStems {
		if containsStem(n, group.stems...) {
			return group.intent, nil
		}
	}
	return statex.IntentOther, nil
}

// DraftResponder returns drafts unchanged.
type DraftResponder struct{}

var _ contractx.Responder = DraftResponder{}

func (DraftResponder) Compose(_ context.Context, draft contractx.ReplyDraft) (string, error) {
	return draft.Draft, nil
}
