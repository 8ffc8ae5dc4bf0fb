package pipeline

import (
	"errors"
	"fmt"

	"github.com/fpang/licorice/internal/imaging"
)

// Failure classes. Every error returned by Run is a *StageError wrapping
// one or more of these.
var (
	ErrFetch      = errors.New("fetch source object")
	ErrDecode     = imaging.ErrDecode
	ErrEncode     = imaging.ErrEncode
	ErrStoreWrite = errors.New("store write")
	ErrTimeout    = errors.New("invocation deadline exceeded")
)

// StageError reports the stage an invocation failed in along with the
// source and destination identities.
type StageError struct {
	Stage       Stage
	Source      string
	Destination string
	Err         error
}

func (e *StageError) Error() string {
	if e.Destination == "" {
		return fmt.Sprintf("%s %s: %v", e.Stage, e.Source, e.Err)
	}
	return fmt.Sprintf("%s %s -> %s: %v", e.Stage, e.Source, e.Destination, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
