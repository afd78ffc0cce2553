package protocol

import "errors"

var (
	ErrRequestTooLarge = errors.New("protocol: request exceeds max buffer size")
	ErrNoSequence      = errors.New("protocol: no sequence in request")
	ErrShortResponse   = errors.New("protocol: short response")
	ErrInvalidSequence = errors.New("protocol: sequence contains a separator")
)
