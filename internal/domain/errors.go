package domain

import "errors"

// Sentinel errors surfaced across the store boundary. Handlers map these to
// HTTP status codes; the sweep driver treats them as per-business failures.
var (
	ErrBusinessNotFound = errors.New("business not found")
	ErrIncidentNotFound = errors.New("incident not found")
	// ErrIncidentTerminal is returned when an operator update would mutate
	// lifecycle fields of a resolved or false-positive incident.
	ErrIncidentTerminal = errors.New("incident is in a terminal state")
	// ErrLockHeld is returned when another sweep won the create-if-absent
	// race for a business's open incident.
	ErrLockHeld = errors.New("open incident lock already held")
	// ErrIncidentIndexMissing is returned when an incident write hits a
	// missing index; the ledger provisions the index and retries once.
	ErrIncidentIndexMissing = errors.New("incidents index does not exist")
)
