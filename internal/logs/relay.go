package logs

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/serverledge-faas/fnscheduler/internal/queue"
)

// Item is a batch of log lines produced by one invocation.
type Item struct {
	LogGroup  string
	LogStream string
	Logs      string
}

// Relay ships log items to a Sink from a single background goroutine, so that
// sink latency never slows down invocation completion.
type Relay struct {
	sink         Sink
	queue        *queue.FIFO[Item]
	pollInterval time.Duration
	stopTimeout  time.Duration
	log          *logrus.Entry

	shutdown atomic.Bool
	done     chan struct{}
}

func NewRelay(sink Sink, pollInterval, stopTimeout time.Duration, log *logrus.Entry) *Relay {
	return &Relay{
		sink:         sink,
		queue:        queue.NewFIFO[Item](),
		pollInterval: pollInterval,
		stopTimeout:  stopTimeout,
		log:          log,
	}
}

func (r *Relay) Start() {
	r.done = make(chan struct{})
	go r.run()
}

func (r *Relay) run() {
	defer close(r.done)
	for !r.shutdown.Load() {
		item, ok := r.queue.Poll(r.pollInterval)
		if !ok {
			continue
		}
		if err := r.sink.Store(context.Background(), item.LogGroup, item.LogStream, item.Logs); err != nil {
			r.log.WithError(err).WithFields(logrus.Fields{
				"log_group":  item.LogGroup,
				"log_stream": item.LogStream,
			}).Warn("Could not store logs")
		}
	}
}

// Add enqueues an item. It never blocks.
func (r *Relay) Add(item Item) {
	r.queue.Put(item)
}

// Pending returns the number of items not yet shipped.
func (r *Relay) Pending() int {
	return r.queue.Len()
}

// Stop signals the worker and waits up to the grace period for it to finish
// the current item. Items still queued are dropped.
func (r *Relay) Stop() {
	r.shutdown.Store(true)
	if r.done == nil {
		return
	}
	select {
	case <-r.done:
	case <-time.After(r.stopTimeout):
		r.log.Error("Could not stop log relay in time")
	}
	if dropped := r.queue.Len(); dropped > 0 {
		r.log.WithField("dropped", dropped).Warn("Log relay stopped with items still queued")
	}
}
