package audit

import (
	"context"

	"github.com/weiawesome/wes-io-live/social-graph-engine/pkg/log"
)

// Audit actions for the follow engine.
const (
	ActionFollow       = "graph.follow"
	ActionUnfollow     = "graph.unfollow"
	ActionPurgeAccount = "graph.purge_account"
	ActionRepair       = "graph.repair"
)

const FieldAction = "action"

// Log emits a structured audit entry for a committed change to the edge
// actorID -> targetID. userID is the authenticated caller, if any.
func Log(ctx context.Context, action, userID, actorID, targetID, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldUserID, userID).
		Str(log.FieldActorID, actorID).
		Str(log.FieldTargetID, targetID).
		Msg(msg)
}

// LogAccount emits an audit entry for a maintenance change to one account.
func LogAccount(ctx context.Context, action, accountID string, affected int, msg string) {
	l := log.Ctx(ctx)
	l.Info().
		Str(log.FieldLogType, log.LogTypeAudit).
		Str(FieldAction, action).
		Str(log.FieldTargetID, accountID).
		Int("affected", affected).
		Msg(msg)
}
