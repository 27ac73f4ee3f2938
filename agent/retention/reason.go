package retention

import (
	"strings"

	contractx "github.com/tanpawarit/Chative-Retention-Router/agent/contract"
)

const (
	ReasonCost         = "cost"
	ReasonOverheating  = "overheating"
	ReasonBattery      = "battery"
	ReasonProductIssue = "product_issue"
	ReasonValue        = "value"
	ReasonNotUsing     = "not_using"
	ReasonCompetitor   = "competitor"
	ReasonTemporary    = "temporary"
	ReasonOther        = "other"
)

var _ contractx.ReasonDetector = KeywordReasonDetector{}

type reasonRule struct {
	reason   string
	keywords []string
}

// Checked in order; the first rule with a matching keyword wins.
var reasonRules = []reasonRule{
	{ReasonCost, []string{"afford", "expensive", "cost", "money", "price", "financial", "budget", "too high", "too much", "$"}},
	{ReasonOverheating, []string{"overheat", "too hot", "heat"}},
	{ReasonBattery, []string{"battery", "charge", "charging", "power"}},
	{ReasonProductIssue, []string{"broken", "defect", "malfunction", "not working", "crash"}},
	{ReasonNotUsing, []string{"never used", "not using", "don't use", "dont use", "don't need", "no longer need"}},
	{ReasonValue, []string{"value", "worth"}},
	{ReasonCompetitor, []string{"competitor", "better deal", "cheaper elsewhere", "switching to", "another provider"}},
	{ReasonTemporary, []string{"moving", "travel", "abroad", "temporar"}},
}

type KeywordReasonDetector struct{}

func (KeywordReasonDetector) DetectReason(message string) string {
	lower := strings.ToLower(message)
	for _, rule := range reasonRules {
		for _, kw := range rule.keywords {
			if strings.Contains(lower, kw) {
				return rule.reason
			}
		}
	}
	return ReasonOther
}
