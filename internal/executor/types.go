package executor

// DEFAULT_EXECUTOR_PORT is the port the init process in the sandbox listens on.
const DEFAULT_EXECUTOR_PORT = 9563

// InvocationRequest is the message delivered to the init process.
type InvocationRequest struct {
	InvokeID           string `json:"invoke-id"`
	InvokedFunctionArn string `json:"invoked-function-arn"`
	Payload            string `json:"payload"`
	ClientContext      string `json:"client-context,omitempty"`
}

// Environment variables exported into every sandbox.
const (
	ENV_ENDPOINT       = "FNSCHED_EXECUTOR_ENDPOINT"
	ENV_ENVIRONMENT_ID = "FNSCHED_ENVIRONMENT_ID"
	ENV_FUNCTION_NAME  = "AWS_LAMBDA_FUNCTION_NAME"
	ENV_FUNCTION_VER   = "AWS_LAMBDA_FUNCTION_VERSION"
	ENV_HANDLER        = "_HANDLER"
	ENV_MEMORY         = "AWS_LAMBDA_FUNCTION_MEMORY_SIZE"
	ENV_TIMEOUT        = "AWS_LAMBDA_FUNCTION_TIMEOUT"
	ENV_INIT_TYPE      = "AWS_LAMBDA_INITIALIZATION_TYPE"
	ENV_LOG_GROUP      = "AWS_LAMBDA_LOG_GROUP_NAME"
	ENV_LOG_STREAM     = "AWS_LAMBDA_LOG_STREAM_NAME"
)
