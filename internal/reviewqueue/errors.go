package reviewqueue

import "errors"

// Sentinel errors mapped by the HTTP layer onto the API's status taxonomy.
var (
	// ErrNotFound means the response does not exist.
	ErrNotFound = errors.New("response not found")
	// ErrNotYourAssignment means the caller does not hold the lease it is
	// trying to release or skip.
	ErrNotYourAssignment = errors.New("assignment not held by caller")
	// ErrAlreadyProcessed means the response left Pending_Approval before
	// the verification arrived.
	ErrAlreadyProcessed = errors.New("response already processed")
	// ErrAssignedToAnotherReviewer means a live lease is held by a
	// different agent.
	ErrAssignedToAnotherReviewer = errors.New("assigned to another reviewer")
	// ErrInvalidDecision means the verification decision is neither
	// approved nor rejected.
	ErrInvalidDecision = errors.New("invalid verification decision")
	// ErrBadFilter means the optional CEL filter expression failed to
	// compile.
	ErrBadFilter = errors.New("invalid filter expression")
)
