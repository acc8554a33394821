package sim

import "errors"

var (
	// ErrSettleDidNotConverge means the reset settle loop was still
	// reporting changes after its iteration cap.
	ErrSettleDidNotConverge = errors.New("settle did not converge")
	// ErrMissingFile means $readmem could not resolve a filename through
	// the host file lookup.
	ErrMissingFile = errors.New("missing file")
	// ErrStateSizeMismatch means a LoadState blob had the wrong length.
	ErrStateSizeMismatch = errors.New("state size mismatch")
	// ErrUnknownSignal means a proxy access named a variable outside the
	// layout.
	ErrUnknownSignal = errors.New("unknown signal")
	// ErrNotInitialized means a lifecycle call arrived before Init.
	ErrNotInitialized = errors.New("simulator not initialized")
	// ErrReadmemTooSmall means a $readmem target could not hold the file.
	ErrReadmemTooSmall = errors.New("readmem destination too small")
)
