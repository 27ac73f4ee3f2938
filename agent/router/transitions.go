package router

import (
	contractx "github.com/tanpawarit/Chative-Retention-Router/agent/contract"
	statex "github.com/tanpawarit/Chative-Retention-Router/agent/state"
)

type transitionKey struct {
	from   statex.Role
	signal contractx.Signal
}

var transitions = map[transitionKey]statex.Role{
	{statex.RoleIntake, contractx.SignalUnidentified}:       statex.RoleIntake,
	{statex.RoleIntake, contractx.SignalIntentCancellation}: statex.RoleRetention,
	{statex.RoleIntake, contractx.SignalIntentTechnical}:    statex.RoleTechnicalHandoff,
	{statex.RoleIntake, contractx.SignalIntentBilling}:      statex.RoleBillingHandoff,
	{statex.RoleIntake, contractx.SignalIntentOther}:        statex.RoleIntake,

	{statex.RoleRetention, contractx.SignalOfferPresented}:  statex.RoleRetention,
	{statex.RoleRetention, contractx.SignalOfferAccepted}:   statex.RoleClosed,
	{statex.RoleRetention, contractx.SignalOffersExhausted}: statex.RoleProcessor,
	{statex.RoleRetention, contractx.SignalNewIntent}:       statex.RoleIntake,

	{statex.RoleProcessor, contractx.SignalConfirmationRequested}: statex.RoleProcessor,
	{statex.RoleProcessor, contractx.SignalConfirmed}:             statex.RoleClosed,
	{statex.RoleProcessor, contractx.SignalWithheld}:              statex.RoleProcessor,
}

// Self-loops that make no progress and count toward the attempt cap.
var countedSignals = map[contractx.Signal]bool{
	contractx.SignalUnidentified: true,
	contractx.SignalIntentOther:  true,
	contractx.SignalWithheld:     true,
	contractx.SignalAmbiguous:    true,
	contractx.SignalError:        true,
}

// nextRole looks up the transition for signal. Ambiguous and error re-enter
// any non-terminal role.
func nextRole(from statex.Role, signal contractx.Signal) (statex.Role, bool) {
	if from.IsTerminal() {
		return "", false
	}
	if signal == contractx.SignalAmbiguous || signal == contractx.SignalError {
		return from, true
	}
	to, ok := transitions[transitionKey{from: from, signal: signal}]
	return to, ok
}

func countsAsAttempt(signal contractx.Signal) bool {
	return countedSignals[signal]
}

// reasked reports a confirmation request that replaces an already pending
// action. Only the first request on entering the processor is progress.
func reasked(signal contractx.Signal, prev *statex.ConversationState) bool {
	return signal == contractx.SignalConfirmationRequested &&
		prev.ActiveRole == statex.RoleProcessor &&
		prev.PendingAction != ""
}
