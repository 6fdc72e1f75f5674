package process

import (
	"bytes"
	"log/slog"
	"sync"

	"github.com/loykin/modvisr/internal/metrics"
)

// lineForwarder is the io.Writer handed to exec.Cmd for one stream. It
// splits output into lines and queues them for logging without ever
// blocking the child: a full queue drops the line.
type lineForwarder struct {
	name    string
	stream  string
	log     *slog.Logger
	maxLine int

	mu      sync.Mutex
	buf     []byte
	queue   chan string
	dropped int
	closed  bool
	done    chan struct{}
}

func newLineForwarder(name, stream string, log *slog.Logger, queueSize, maxLine int) *lineForwarder {
	f := &lineForwarder{
		name:    name,
		stream:  stream,
		log:     log,
		maxLine: maxLine,
		queue:   make(chan string, queueSize),
		done:    make(chan struct{}),
	}
	go f.drain()
	return f
}

func (f *lineForwarder) drain() {
	defer close(f.done)
	for line := range f.queue {
		f.log.Info(line, "stream", f.stream)
	}
}

func (f *lineForwarder) Write(b []byte) (int, error) {
	n := len(b)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return n, nil
	}
	for len(b) > 0 {
		i := bytes.IndexByte(b, '\n')
		if i < 0 {
			f.buf = append(f.buf, b...)
			for len(f.buf) >= f.maxLine {
				f.emit(f.buf[:f.maxLine])
				f.buf = append(f.buf[:0], f.buf[f.maxLine:]...)
			}
			break
		}
		f.buf = append(f.buf, b[:i]...)
		f.flushLocked()
		b = b[i+1:]
	}
	return n, nil
}

func (f *lineForwarder) flushLocked() {
	line := bytes.TrimSuffix(f.buf, []byte{'\r'})
	for len(line) > f.maxLine {
		f.emit(line[:f.maxLine])
		line = line[f.maxLine:]
	}
	if len(line) > 0 {
		f.emit(line)
	}
	f.buf = f.buf[:0]
}

func (f *lineForwarder) emit(line []byte) {
	select {
	case f.queue <- string(line):
	default:
		f.dropped++
	}
}

// Close flushes a trailing partial line, waits for queued lines to be
// logged and reports how many lines were dropped.
func (f *lineForwarder) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	if len(f.buf) > 0 {
		f.flushLocked()
	}
	f.closed = true
	close(f.queue)
	dropped := f.dropped
	f.mu.Unlock()

	<-f.done
	if dropped > 0 {
		f.log.Warn("module output dropped", "stream", f.stream, "lines", dropped)
		metrics.AddOutputDropped(f.name, f.stream, dropped)
	}
	return nil
}

// Dropped returns the number of lines dropped so far.
func (f *lineForwarder) Dropped() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}
