package turnnode

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/Chative-Retention-Router/agent/contract"
)

func FinalizeReply(in *TurnState) (GraphOutput, error) {
	if in == nil || in.Conversation == nil {
		return GraphOutput{}, fmt.Errorf("%w: turn state is nil", contractx.ErrValidation)
	}

	reply := in.Reply
	if in.Replay {
		reply = in.Conversation.LastReply
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return GraphOutput{}, fmt.Errorf("%w: empty reply", contractx.ErrValidation)
	}

	return GraphOutput{
		ConversationID: in.ConversationID,
		Reply:          reply,
		Role:           in.Conversation.ActiveRole,
		Replayed:       in.Replay,
		Warnings:       in.Warnings,
	}, nil
}
