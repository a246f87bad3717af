package node

import (
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/lithammer/shortuuid"

	"github.com/serverledge-faas/fnscheduler/internal/function"
)

var ErrUnknownEnvironment = errors.Wrap(function.ErrInconsistentState, "unknown environment")
var ErrInvalidStatus = errors.New("environment in invalid status")
var ErrNoIdleEnvironment = errors.New("no idle environment is available")

// Runtime starts, stops and invokes sandboxes. Every call is asynchronous with
// respect to the sandbox: readiness and results are reported later through
// the scheduler callbacks, never through return values.
type Runtime interface {
	Start(env *Environment) error
	Stop(env *Environment) error
	Invoke(env *Environment, invocationID string, inv *function.Invocation) error
}

// NewEnvironmentID returns a fresh, never reused environment identifier.
func NewEnvironmentID() string {
	return shortuuid.New() + strconv.FormatInt(time.Now().UnixNano()%1_000_000, 10)
}
