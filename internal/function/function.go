package function

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/serverledge-faas/fnscheduler/internal/config"
)

// ErrInconsistentState marks errors caused by a callback referring to an
// environment or invocation the scheduler does not know about.
var ErrInconsistentState = errors.New("inconsistent state")

// Version describes one immutable, published version of a function.
type Version struct {
	Name            string
	Qualifier       string // "$LATEST" or a version number
	Runtime         string
	Handler         string
	MemoryMB        int64
	Timeout         time.Duration
	Environment     map[string]string
	TarFunctionCode string // base64 encoded tar archive
}

// ARN returns the qualified identifier of the version.
func (v *Version) ARN() string {
	return fmt.Sprintf("arn:aws:lambda:local:000000000000:function:%s:%s", v.Name, v.Qualifier)
}

func (v *Version) String() string {
	return v.ARN()
}

// LogGroupName is the log group collecting logs of every environment running
// this function.
func (v *Version) LogGroupName() string {
	return fmt.Sprintf("/aws/lambda/%s", v.Name)
}

// LogStreamName identifies the log stream of a single environment.
func (v *Version) LogStreamName(environmentID string, startedAt time.Time) string {
	return fmt.Sprintf("%s/[%s]%s", startedAt.Format("2006/01/02"), v.Qualifier, environmentID)
}

// VersionFromConfig builds the descriptor of the version served by this process.
func VersionFromConfig() *Version {
	return &Version{
		Name:            config.GetString(config.FUNCTION_NAME, "function"),
		Qualifier:       config.GetString(config.FUNCTION_VERSION, "$LATEST"),
		Runtime:         config.GetString(config.FUNCTION_RUNTIME, "python3.10"),
		Handler:         config.GetString(config.FUNCTION_HANDLER, "handler.handler"),
		MemoryMB:        int64(config.GetInt(config.FUNCTION_MEMORY_MB, 128)),
		Timeout:         time.Duration(config.GetInt(config.FUNCTION_TIMEOUT, 3)) * time.Second,
		Environment:     map[string]string{},
		TarFunctionCode: config.GetString(config.FUNCTION_CODE, ""),
	}
}

// Invocation is the caller supplied request. It is never modified once submitted.
type Invocation struct {
	Ctx            context.Context
	Payload        []byte
	ClientContext  string
	InvocationType string
	InvokedAt      time.Time
}

func NewInvocation(ctx context.Context, payload []byte) *Invocation {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Invocation{Ctx: ctx, Payload: payload, InvocationType: "RequestResponse", InvokedAt: time.Now()}
}

// InvocationResult is reported by a worker once the function returned.
type InvocationResult struct {
	InvocationID string
	Payload      []byte
	Logs         string
	// IsError is set when the function raised instead of returning.
	IsError bool
}

// InvocationError is reported by a worker when the function raised.
type InvocationError struct {
	InvocationID string
	Payload      []byte
	Logs         string
}

// InvocationLogs may arrive before the result of the invocation.
type InvocationLogs struct {
	InvocationID string
	Logs         string
}
