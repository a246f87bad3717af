package logs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/serverledge-faas/fnscheduler/internal/config"
	"github.com/serverledge-faas/fnscheduler/utils"
)

var ErrUnknownSink = errors.New("unknown log sink")

// Sink durably stores invocation logs.
type Sink interface {
	Store(ctx context.Context, logGroup, logStream, payload string) error
}

// NewSinkFromConfig builds the sink selected by config.LOGS_SINK.
func NewSinkFromConfig() (Sink, error) {
	switch kind := config.GetString(config.LOGS_SINK, "logger"); kind {
	case "logger":
		return NewLoggerSink(logrus.StandardLogger()), nil
	case "etcd":
		cli, err := utils.GetEtcdClient()
		if err != nil {
			return nil, err
		}
		return NewEtcdSink(cli), nil
	case "redis":
		addr := config.GetString(config.LOGS_REDIS_ADDRESS, "localhost:6379")
		return NewRedisSink(redis.NewClient(&redis.Options{Addr: addr})), nil
	default:
		return nil, errors.Wrapf(ErrUnknownSink, "%q", kind)
	}
}

// LoggerSink writes every log line through logrus.
type LoggerSink struct {
	logger *logrus.Logger
}

func NewLoggerSink(logger *logrus.Logger) *LoggerSink {
	return &LoggerSink{logger: logger}
}

func (s *LoggerSink) Store(_ context.Context, logGroup, logStream, payload string) error {
	entry := s.logger.WithFields(logrus.Fields{"log_group": logGroup, "log_stream": logStream})
	for _, line := range strings.Split(strings.TrimRight(payload, "\n"), "\n") {
		if line != "" {
			entry.Info(line)
		}
	}
	return nil
}

const etcdLogsDirectory = "logs"

// EtcdSink stores each batch under logs/<group>/<stream>/<timestamp>.
type EtcdSink struct {
	cli     *clientv3.Client
	timeout time.Duration
}

func NewEtcdSink(cli *clientv3.Client) *EtcdSink {
	return &EtcdSink{cli: cli, timeout: 3 * time.Second}
}

func EtcdLogKey(logGroup, logStream string, at time.Time) string {
	return fmt.Sprintf("%s/%s/%s/%020d", etcdLogsDirectory, strings.TrimPrefix(logGroup, "/"), logStream, at.UnixNano())
}

func (s *EtcdSink) Store(ctx context.Context, logGroup, logStream, payload string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	_, err := s.cli.Put(ctx, EtcdLogKey(logGroup, logStream, time.Now()), payload)
	return err
}

// RedisSink appends each batch to a Redis stream per log stream.
type RedisSink struct {
	client *redis.Client
	maxLen int64
}

func NewRedisSink(client *redis.Client) *RedisSink {
	return &RedisSink{client: client, maxLen: 10000}
}

func RedisStreamKey(logGroup, logStream string) string {
	return fmt.Sprintf("logs:%s:%s", logGroup, logStream)
}

func (s *RedisSink) Store(ctx context.Context, logGroup, logStream, payload string) error {
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: RedisStreamKey(logGroup, logStream),
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]interface{}{"logs": payload, "timestamp": time.Now().UnixMilli()},
	}).Err()
}

// MemorySink keeps logs in memory, mostly useful for tests and local runs.
type MemorySink struct {
	mu      sync.Mutex
	entries []Item
}

func (s *MemorySink) Store(_ context.Context, logGroup, logStream, payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, Item{LogGroup: logGroup, LogStream: logStream, Logs: payload})
	return nil
}

func (s *MemorySink) Items() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Item(nil), s.entries...)
}
