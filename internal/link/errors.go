package link

import (
	"errors"
	"fmt"
)

// Op names the link operation that failed.
type Op string

const (
	OpDial    Op = "dial"
	OpRead    Op = "read"
	OpWrite   Op = "write"
	OpStall   Op = "stall"
	OpSession Op = "session"
)

// ErrInputStalled is reported when the input link delivers no bytes for
// longer than the stall timeout.
var ErrInputStalled = errors.New("no data received")

// LinkError describes a failure on one link. It always leads to the link
// being closed and redialled.
type LinkError struct {
	Link string
	Op   Op
	Err  error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("link %s: %s: %v", e.Link, e.Op, e.Err)
}

func (e *LinkError) Unwrap() error {
	return e.Err
}
