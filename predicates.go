package duragraph

import "errors"

// IsValidation checks if an error is a graph construction error.
// CycleError counts: a cycle is one way a graph fails validation.
func IsValidation(err error) bool {
	if err == nil {
		return false
	}
	var ve *ValidationError
	var ce *CycleError
	return errors.As(err, &ve) || errors.As(err, &ce) ||
		errors.Is(err, ErrEmptyGraph) || errors.Is(err, ErrNoEntry)
}

// IsCycle checks if an error reports a cyclic plan.
func IsCycle(err error) bool {
	var ce *CycleError
	return errors.As(err, &ce)
}

// IsNodeFailure checks if an error originated in a node.
func IsNodeFailure(err error) bool {
	var ne *NodeError
	return errors.As(err, &ne)
}

// IsStorage checks if an error is a run ledger failure.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// IsTransport checks if an error is a control-plane communication failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsCancelled checks if an error means the run was cancelled.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrRunCancelled)
}
