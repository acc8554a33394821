package wasm

import "errors"

var (
	ErrCodeMismatch      = errors.New("function and code section have inconsistent lengths")
	ErrBodyNotTerminated = errors.New("function body does not end with the end opcode")
)
