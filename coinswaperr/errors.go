// Package coinswaperr defines the typed error taxonomy shared across the
// coinswap core. Every component reports failures through one of these
// concrete types rather than opaque strings, so callers can discriminate
// with errors.As and drive the recovery policy described for each error
// kind.
package coinswaperr

import (
	"fmt"

	"github.com/go-errors/errors"
)

// ProtocolError signals a malformed or unexpected wire message, or a
// signature that doesn't verify against the expected script. The owning
// connection must be closed.
type ProtocolError struct {
	Peer   string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error from %s: %s", e.Peer, e.Reason)
}

// Timeout signals that a blocking operation (Transport, ChainClient,
// Watchtower, DirectoryClient) exceeded its deadline.
type Timeout struct {
	Op string
}

func (e *Timeout) Error() string {
	return fmt.Sprintf("timeout waiting on %s", e.Op)
}

// PeerClosed signals that a peer connection was closed by the remote side
// before the protocol reached a terminal state.
type PeerClosed struct {
	Peer string
}

func (e *PeerClosed) Error() string {
	return fmt.Sprintf("peer %s closed the connection", e.Peer)
}

// InsufficientFunds signals that the wallet could not produce the
// requested amount at the requested fee rate.
type InsufficientFunds struct {
	Requested int64
	Available int64
}

func (e *InsufficientFunds) Error() string {
	return fmt.Sprintf("insufficient funds: requested %d, have %d",
		e.Requested, e.Available)
}

// ChainError wraps an RPC failure or a detected reorg from the
// ChainClient.
type ChainError struct {
	Cause error
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("chain error: %v", e.Cause)
}

func (e *ChainError) Unwrap() error { return e.Cause }

// FundLossRisk is raised whenever honoring a request would violate one of
// the invariants in spec.md §3 (e.g. signing a contract whose timelock
// would leave no safety margin). It is never retried or swallowed.
type FundLossRisk struct {
	Invariant string
}

func (e *FundLossRisk) Error() string {
	return fmt.Sprintf("refusing action that risks invariant %q", e.Invariant)
}

// Fatal marks a programmer error. The process should journal its state
// and terminate rather than continue in an unknown state.
type Fatal struct {
	Cause error
}

func (e *Fatal) Error() string {
	return fmt.Sprintf("fatal: %v", e.Cause)
}

func (e *Fatal) Unwrap() error { return e.Cause }

// Wrap attaches a stack trace to err using go-errors, the same wrapping
// library the teacher repository depends on, so panics and deep call
// chains remain debuggable in logs.
func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, 1)
}
