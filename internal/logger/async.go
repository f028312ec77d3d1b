package logger

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap/zapcore"
)

type queued struct {
	core   zapcore.Core
	entry  zapcore.Entry
	fields []zapcore.Field
}

type asyncQueue struct {
	entries  chan queued
	flushReq chan chan struct{}
	quit     chan struct{}
	done     chan struct{}
	dropped  atomic.Uint64
	once     sync.Once
}

// AsyncCore hands entries to a background writer that flushes in batches.
// Entries are dropped, and counted, when the buffer is full.
type AsyncCore struct {
	zapcore.Core
	q *asyncQueue
}

// NewAsyncCore starts the background writer for core.
func NewAsyncCore(core zapcore.Core, bufferSize, batchSize int, flushInterval time.Duration) *AsyncCore {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	if batchSize <= 0 || batchSize > bufferSize {
		batchSize = bufferSize / 10
		if batchSize == 0 {
			batchSize = 1
		}
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}

	q := &asyncQueue{
		entries:  make(chan queued, bufferSize),
		flushReq: make(chan chan struct{}),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go q.run(core, batchSize, flushInterval)

	return &AsyncCore{Core: core, q: q}
}

func (q *asyncQueue) run(root zapcore.Core, batchSize int, interval time.Duration) {
	defer close(q.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	batch := make([]queued, 0, batchSize)
	flush := func() {
		for _, e := range batch {
			if err := e.core.Write(e.entry, e.fields); err != nil {
				fmt.Fprintf(os.Stderr, "log write failed: %v\n", err)
			}
		}
		batch = batch[:0]
		if n := q.dropped.Swap(0); n > 0 {
			_ = root.Write(zapcore.Entry{
				Level:   zapcore.WarnLevel,
				Time:    time.Now(),
				Message: fmt.Sprintf("dropped %d log entries, buffer full", n),
			}, nil)
		}
	}
	drain := func() {
		for {
			select {
			case e := <-q.entries:
				batch = append(batch, e)
			default:
				flush()
				return
			}
		}
	}

	for {
		select {
		case e := <-q.entries:
			batch = append(batch, e)
			if len(batch) >= batchSize {
				flush()
			}
		case <-ticker.C:
			if len(batch) > 0 {
				flush()
			}
		case ack := <-q.flushReq:
			drain()
			close(ack)
		case <-q.quit:
			drain()
			return
		}
	}
}

func (a *AsyncCore) With(fields []zapcore.Field) zapcore.Core {
	return &AsyncCore{Core: a.Core.With(fields), q: a.q}
}

func (a *AsyncCore) Check(entry zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if a.Enabled(entry.Level) {
		return ce.AddCore(entry, a)
	}
	return ce
}

func (a *AsyncCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	select {
	case a.q.entries <- queued{core: a.Core, entry: entry, fields: fields}:
	default:
		a.q.dropped.Add(1)
	}
	return nil
}

// Sync waits until everything queued so far has been written.
func (a *AsyncCore) Sync() error {
	ack := make(chan struct{})
	select {
	case a.q.flushReq <- ack:
		<-ack
	case <-a.q.done:
	}
	return a.Core.Sync()
}

// Close flushes and stops the writer. Safe to call more than once.
func (a *AsyncCore) Close() error {
	a.q.once.Do(func() { close(a.q.quit) })
	<-a.q.done
	return nil
}

// Dropped reports entries discarded since the last flush.
func (a *AsyncCore) Dropped() uint64 {
	return a.q.dropped.Load()
}
