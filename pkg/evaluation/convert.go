package evaluation

import (
	"github.com/docker/agentgateway/pkg/event"
	"github.com/docker/agentgateway/pkg/session"
)

// ConvertSession turns a recorded session into invocations: every user event
// starts one, the function calls that follow become its tool uses and the
// last final response becomes its expected answer.
func ConvertSession(sess *session.Session) []Invocation {
	var invocations []Invocation
	for _, ev := range sess.Events {
		if ev.Author == "user" {
			invocations = append(invocations, Invocation{
				InvocationID:      ev.InvocationID,
				UserContent:       ev.Content,
				CreationTimestamp: ev.Timestamp,
			})
			continue
		}
		if len(invocations) == 0 {
			continue
		}
		collect(&invocations[len(invocations)-1], ev)
	}
	return invocations
}

// collect folds one agent event into inv.
func collect(inv *Invocation, ev *event.Event) {
	for _, call := range ev.FunctionCalls() {
		inv.IntermediateData.ToolUses = append(inv.IntermediateData.ToolUses, ToolUse{Name: call.Name, Args: call.Args})
	}
	if ev.IsFinalResponse() && ev.Content != nil {
		inv.FinalResponse = ev.Content
	}
}
