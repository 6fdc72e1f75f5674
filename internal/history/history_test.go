package history

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (m *memSink) Send(_ context.Context, e Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return m.err
}

func TestDispatchFansOutAndLogsFailures(t *testing.T) {
	ok := &memSink{}
	bad := &memSink{err: errors.New("boom")}
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))

	e := Event{Type: EventStart, OccurredAt: time.Now(), Record: Record{Name: "aw-server", PID: 42}}
	Dispatch(context.Background(), log, []Sink{bad, nil, ok}, e)

	require.Len(t, ok.events, 1)
	require.Len(t, bad.events, 1)
	assert.Equal(t, "aw-server", ok.events[0].Record.Name)
	assert.Contains(t, buf.String(), "history sink failed")
	assert.Contains(t, buf.String(), "boom")
}

func TestDispatchNilLoggerDoesNotPanic(t *testing.T) {
	bad := &memSink{err: errors.New("boom")}
	assert.NotPanics(t, func() {
		Dispatch(context.Background(), nil, []Sink{bad}, Event{Type: EventStop})
	})
}

func TestEventJSONShape(t *testing.T) {
	e := Event{
		Type:       EventSpawnFailed,
		OccurredAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Record:     Record{Name: "aw-watcher-afk", Origin: "system", Path: "/usr/bin/aw-watcher-afk", ExitCode: -1, Error: "permission denied"},
	}
	b, err := json.Marshal(e)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "spawn_failed", m["type"])
	rec := m["record"].(map[string]any)
	assert.Equal(t, "aw-watcher-afk", rec["name"])
	assert.Equal(t, "system", rec["origin"])
	assert.Equal(t, "permission denied", rec["error"])
}
