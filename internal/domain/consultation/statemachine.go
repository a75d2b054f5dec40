package consultation

import (
	"fmt"

	"github.com/lightweightcoder/telehealth-app/internal/platform/apperror"
	"github.com/lightweightcoder/telehealth-app/internal/platform/auth"
)

type transitionKey struct {
	role auth.Role
	from Status
}

// transitions lists every permitted move, keyed by acting role and current
// status.
var transitions = map[transitionKey]Status{
	{auth.RolePatient, StatusRequested}: StatusCancelled,
	{auth.RolePatient, StatusUpcoming}:  StatusCancelled,
	{auth.RoleDoctor, StatusRequested}:  StatusUpcoming,
	{auth.RoleDoctor, StatusUpcoming}:   StatusOngoing,
	{auth.RoleDoctor, StatusOngoing}:    StatusEnded,
}

// CheckTransition validates a move of a consultation in status from to
// target by an actor in role. It wraps apperror.ErrInvalidTransition when
// the move is not in the table.
func CheckTransition(role auth.Role, from, target Status) error {
	if to, ok := transitions[transitionKey{role, from}]; ok && to == target {
		return nil
	}
	return fmt.Errorf("%s cannot move consultation from %s to %s: %w", role, from, target, apperror.ErrInvalidTransition)
}

// Action is the one transition a viewer may trigger on the consultation page.
type Action struct {
	Label  string `json:"label"`
	Target Status `json:"target"`
}

var actionLabels = map[Status]string{
	StatusCancelled: "cancel consult",
	StatusUpcoming:  "accept consult",
	StatusOngoing:   "start consult",
	StatusEnded:     "end consult",
}

// NextAction returns the transition available to role from status, or nil.
func NextAction(role auth.Role, from Status) *Action {
	to, ok := transitions[transitionKey{role, from}]
	if !ok {
		return nil
	}
	return &Action{Label: actionLabels[to], Target: to}
}
