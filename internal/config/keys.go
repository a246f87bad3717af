package config

// Etcd server hostname
const ETCD_ADDRESS = "etcd.address"

// exposed port for the public invocation API
const API_PORT = "api.port"

// max time the public API waits for an invocation result (milliseconds)
const API_INVOKE_TIMEOUT = "api.invoke.timeout"

// Address advertised to workers for callbacks. Defaults to the outbound IP.
const ENDPOINT_HOST = "endpoint.host"

// Forces runtime container images to be pulled the first time they are used,
// even if they are locally available (true/false).
const FACTORY_REFRESH_IMAGES = "factory.images.refresh"

// Max time to deliver an invocation to a worker (milliseconds)
const RUNTIME_INVOKE_TIMEOUT = "runtime.invoke.timeout"

// Function version served by this process
const FUNCTION_NAME = "function.name"
const FUNCTION_VERSION = "function.version"
const FUNCTION_RUNTIME = "function.runtime"
const FUNCTION_HANDLER = "function.handler"
const FUNCTION_MEMORY_MB = "function.memory"
const FUNCTION_TIMEOUT = "function.timeout"

// Base64 encoded tar archive with the function code
const FUNCTION_CODE = "function.code"

// How long the dispatch loop waits on the invocation queue before checking
// for shutdown (milliseconds)
const SCHEDULER_POLL_INTERVAL = "scheduler.poll.interval"

// How long the dispatch loop waits for an idle environment (milliseconds)
const SCHEDULER_ACQUIRE_TIMEOUT = "scheduler.acquire.timeout"

// How long Stop waits for the dispatch loop to exit (milliseconds)
const SCHEDULER_STOP_TIMEOUT = "scheduler.stop.timeout"

// Upper bound on concurrently active environments (0 = unbounded)
const SCHEDULER_MAX_ENVIRONMENTS = "scheduler.max.environments"

// Log sink to use
// Possible values: "logger", "etcd", "redis"
const LOGS_SINK = "logs.sink"

// Grace period for the log relay on shutdown (milliseconds)
const LOGS_STOP_TIMEOUT = "logs.stop.timeout"

// Redis address used by the redis log sink
const LOGS_REDIS_ADDRESS = "logs.redis.address"

// enable metrics system
const METRICS_ENABLED = "metrics.enabled"

// Enables tracing
const TRACING_ENABLED = "tracing.enabled"

// Custom output file for traces
const TRACING_OUTFILE = "tracing.outfile"

// Log level (debug, info, warn, error)
const LOG_LEVEL = "log.level"
