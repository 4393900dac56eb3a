package exception

import "errors"

var (
	ErrDeltaInvalidUTF8 = errors.New("delta: payload is not valid utf-8")
	ErrDeltaDecode      = errors.New("delta: malformed document")
	ErrDeltaNotDelta    = errors.New("delta: document has no updates")
)
