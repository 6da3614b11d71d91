package service

import (
	"fmt"
	"strings"

	"github.com/opsboard/opsboard-backend/internal/incident/repository"
	"github.com/opsboard/opsboard-backend/pkg/errors"
)

// validTransitions is the full lifecycle. RESOLVED is terminal; there is no
// reopen path.
var validTransitions = map[string][]string{
	repository.StatusOpen:      {repository.StatusMitigated, repository.StatusResolved},
	repository.StatusMitigated: {repository.StatusResolved},
	repository.StatusResolved:  {},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to string) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatuses returns the legal next statuses from the given status.
func NextStatuses(from string) []string {
	return validTransitions[from]
}

// InvalidTransition builds the rejection error for an illegal status change.
// The message names the legal next states so clients can render them. It is a
// validation failure (400), not a conflict.
func InvalidTransition(from, to string) error {
	next := validTransitions[from]
	if len(next) == 0 {
		return errors.BadRequest(fmt.Sprintf("cannot transition from %s to %s: %s is terminal", from, to, from))
	}
	return errors.BadRequest(fmt.Sprintf("cannot transition from %s to %s: allowed next states are %s", from, to, strings.Join(next, ", ")))
}
