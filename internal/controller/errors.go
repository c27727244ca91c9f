package controller

import (
	"errors"
)

var (
	// ErrNotReady means a precondition is not met yet; the fact is deferred.
	ErrNotReady = errors.New("not ready")

	// ErrTransient means an external call failed; the fact is deferred and
	// no flag is changed.
	ErrTransient = errors.New("transient failure")

	// ErrConfiguration means the operator options are invalid. The fact is
	// dropped and the error shows in the status until the next change.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrFatal is not retried.
	ErrFatal = errors.New("fatal")

	// ErrNotLeader rejects leader-only actions on other nodes.
	ErrNotLeader = errors.New("not the leader")

	// ErrTerminated rejects everything after the node departed.
	ErrTerminated = errors.New("node departed")
)
