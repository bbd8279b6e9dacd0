package workengine

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	gferrors "github.com/vnykmshr/gowork/pkg/common/errors"
)

var (
	// ErrStartTimeout is the cause of a KindStartTimeout failure. It also
	// matches errors.ErrTimeout.
	ErrStartTimeout = fmt.Errorf("work did not start in time: %w", gferrors.ErrTimeout)

	// ErrWorkDiscarded is the cause of a KindDiscarded failure.
	ErrWorkDiscarded = errors.New("work discarded before it started")

	// ErrWorkPanicked wraps the value recovered from a panicking Work.
	ErrWorkPanicked = errors.New("work panicked")
)

// Kind classifies why a work item failed.
type Kind int

const (
	// KindStartTimeout means the item was not picked up by a worker within
	// its start timeout. The work never ran.
	KindStartTimeout Kind = iota + 1

	// KindActionFailure means the work ran and returned an error or panicked.
	KindActionFailure

	// KindDiscarded means the item was dropped without running, by a full
	// pool or by a forceful shutdown.
	KindDiscarded
)

func (k Kind) String() string {
	switch k {
	case KindStartTimeout:
		return "start_timeout"
	case KindActionFailure:
		return "action_failure"
	case KindDiscarded:
		return "discarded"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// WorkError is the failure recorded on a work item.
type WorkError struct {
	Kind   Kind
	WorkID uuid.UUID
	Name   string
	Err    error
}

func (e *WorkError) Error() string {
	label := e.WorkID.String()
	if e.Name != "" {
		label = e.Name + " (" + label + ")"
	}
	return fmt.Sprintf("work %s %s: %v", label, e.Kind, e.Err)
}

func (e *WorkError) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind of the WorkError in err's chain, or 0.
func KindOf(err error) Kind {
	var werr *WorkError
	if errors.As(err, &werr) {
		return werr.Kind
	}
	return 0
}
