package logs

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serverledge-faas/fnscheduler/internal/config"
)

func testEntry() *logrus.Entry {
	return logrus.NewEntry(logrus.StandardLogger())
}

func TestRelayForwardsInOrder(t *testing.T) {
	sink := &MemorySink{}
	r := NewRelay(sink, 10*time.Millisecond, time.Second, testEntry())
	r.Start()

	r.Add(Item{LogGroup: "g", LogStream: "s", Logs: "one"})
	r.Add(Item{LogGroup: "g", LogStream: "s", Logs: "two"})

	require.Eventually(t, func() bool { return len(sink.Items()) == 2 }, 2*time.Second, 5*time.Millisecond)
	items := sink.Items()
	assert.Equal(t, "one", items[0].Logs)
	assert.Equal(t, "two", items[1].Logs)

	r.Stop()
}

type failingSink struct{ calls int }

func (s *failingSink) Store(context.Context, string, string, string) error {
	s.calls++
	return errors.New("unavailable")
}

func TestRelaySurvivesSinkErrors(t *testing.T) {
	sink := &failingSink{}
	r := NewRelay(sink, 10*time.Millisecond, time.Second, testEntry())
	r.Start()
	r.Add(Item{Logs: "a"})
	r.Add(Item{Logs: "b"})

	require.Eventually(t, func() bool { return r.Pending() == 0 }, 2*time.Second, 5*time.Millisecond)
	r.Stop()
	assert.Equal(t, 2, sink.calls)
}

type blockingSink struct{ release chan struct{} }

func (s *blockingSink) Store(context.Context, string, string, string) error {
	<-s.release
	return nil
}

func TestRelayStopIsBounded(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	defer close(sink.release)

	r := NewRelay(sink, 10*time.Millisecond, 50*time.Millisecond, testEntry())
	r.Start()
	r.Add(Item{Logs: "stuck"})
	r.Add(Item{Logs: "dropped"})
	require.Eventually(t, func() bool { return r.Pending() == 1 }, time.Second, 5*time.Millisecond)

	start := time.Now()
	r.Stop()
	assert.Less(t, time.Since(start), time.Second)
}

func TestStopWithoutStart(t *testing.T) {
	r := NewRelay(&MemorySink{}, 10*time.Millisecond, 10*time.Millisecond, testEntry())
	r.Stop()
}

func TestSinkKeys(t *testing.T) {
	at := time.Unix(0, 42)
	assert.Equal(t, "logs/aws/lambda/fn/2024/01/01/[1]x/00000000000000000042", EtcdLogKey("/aws/lambda/fn", "2024/01/01/[1]x", at))
	assert.Equal(t, "logs:/aws/lambda/fn:s", RedisStreamKey("/aws/lambda/fn", "s"))
}

func TestNewSinkFromConfig(t *testing.T) {
	config.Set(config.LOGS_SINK, "logger")
	s, err := NewSinkFromConfig()
	require.NoError(t, err)
	assert.IsType(t, &LoggerSink{}, s)

	config.Set(config.LOGS_SINK, "redis")
	s, err = NewSinkFromConfig()
	require.NoError(t, err)
	assert.IsType(t, &RedisSink{}, s)

	config.Set(config.LOGS_SINK, "carrier-pigeon")
	_, err = NewSinkFromConfig()
	assert.True(t, errors.Is(err, ErrUnknownSink))
	assert.Contains(t, err.Error(), "carrier-pigeon")

	config.Set(config.LOGS_SINK, "logger")
}
