package correlator

import "errors"

// ErrUnknownID is returned when awaiting an id that is not outstanding.
var ErrUnknownID = errors.New("unknown request id")
