package refunds

import (
	"fmt"

	"github.com/tripnest/backend/internal/models"
	"github.com/tripnest/backend/pkg/apperror"
)

// Party is who acts on a refund. Organizers and vendors both act as the owner.
type Party string

const (
	PartyTraveler Party = "traveler"
	PartyOwner    Party = "owner"
	PartyAdmin    Party = "admin"
)

// Action is a refund workflow command.
type Action string

const (
	ActionRequest       Action = "request"
	ActionApprove       Action = "approve"
	ActionReject        Action = "reject"
	ActionProcess       Action = "process"
	ActionRejectByAdmin Action = "reject_admin"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionRequest, ActionApprove, ActionReject, ActionProcess, ActionRejectByAdmin:
		return true
	}
	return false
}

// CodeInvalidTransition identifies a refund action not allowed in the current state.
const CodeInvalidTransition = "invalid_refund_transition"

type transition struct {
	from   models.RefundStatus
	party  Party
	action Action
}

// transitions is the complete refund state machine. Each non-terminal state
// has exactly one acting party; anything absent here is rejected.
var transitions = map[transition]models.RefundStatus{
	{models.RefundStatusNone, PartyTraveler, ActionRequest}:                   models.RefundStatusRequested,
	{models.RefundStatusRequested, PartyOwner, ActionApprove}:                 models.RefundStatusApprovedByOrganizer,
	{models.RefundStatusRequested, PartyOwner, ActionReject}:                  models.RefundStatusRejectedByOrganizer,
	{models.RefundStatusApprovedByOrganizer, PartyAdmin, ActionProcess}:       models.RefundStatusProcessed,
	{models.RefundStatusApprovedByOrganizer, PartyAdmin, ActionRejectByAdmin}: models.RefundStatusRejectedByAdmin,
}

// actionParty is the only party allowed to issue each action.
var actionParty = map[Action]Party{
	ActionRequest:       PartyTraveler,
	ActionApprove:       PartyOwner,
	ActionReject:        PartyOwner,
	ActionProcess:       PartyAdmin,
	ActionRejectByAdmin: PartyAdmin,
}

// Next returns the state reached when party performs action from state from.
// A wrong party yields ForbiddenError; a right party in the wrong state yields
// ConflictError.
func Next(from models.RefundStatus, party Party, action Action) (models.RefundStatus, error) {
	if !action.Valid() {
		return "", apperror.ValidationError{Field: "action", Msg: fmt.Sprintf("unknown refund action %q", action)}
	}
	if to, ok := transitions[transition{from, party, action}]; ok {
		return to, nil
	}
	if actionParty[action] != party {
		return "", apperror.ForbiddenError{Msg: fmt.Sprintf("%s cannot %s a refund", party, action)}
	}
	return "", apperror.ConflictError{
		Code: CodeInvalidTransition,
		Msg:  fmt.Sprintf("cannot %s a refund in state %s", action, from),
	}
}
