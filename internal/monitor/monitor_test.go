package monitor

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu     sync.Mutex
	points []*influxdb2_write.Point
	err    error
}

func (w *fakeWriter) WritePoint(p *influxdb2_write.Point) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.points = append(w.points, p)
	return w.err
}

func (w *fakeWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.points)
}

func TestGetStatus(t *testing.T) {
	s := NewService(Dependencies{
		WorldID:   "forest",
		Connected: func() []string { return []string{"alice"} },
		Tracked:   func() []string { return []string{"alice", "bob"} },
	})

	st := s.GetStatus()
	assert.Equal(t, "forest", st.WorldID)
	assert.Equal(t, []string{"alice"}, st.Connected)
	assert.Equal(t, 2, st.Tracked)
	assert.False(t, s.IsRunning())
}

func TestGetStatus_NoSources(t *testing.T) {
	st := NewService(Dependencies{}).GetStatus()
	assert.Equal(t, []string{}, st.Connected)
	assert.Zero(t, st.Tracked)
}

func TestStatusPoint(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	p := StatusPoint(Status{Time: at, WorldID: "forest", Connected: []string{"a", "b"}, Tracked: 3})

	assert.Equal(t, MeasurementStatus, p.Name())
	assert.Equal(t, at, p.Time())
	require.Len(t, p.TagList(), 1)
	assert.Equal(t, "forest", p.TagList()[0].Value)

	fields := map[string]any{}
	for _, f := range p.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, int64(2), fields["connected"])
	assert.Equal(t, int64(3), fields["tracked"])
}

func TestStartStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	w := &fakeWriter{err: errors.New("ignored")}
	s := NewService(Dependencies{
		WorldID:    "forest",
		Connected:  func() []string { return []string{"alice"} },
		Writer:     w,
		StatusPath: path,
		Interval:   10 * time.Millisecond,
	})

	require.NoError(t, s.Start())
	require.NoError(t, s.Start(), "second start is a no-op")
	assert.True(t, s.IsRunning())

	assert.Eventually(t, func() bool { return w.count() >= 2 }, time.Second, 5*time.Millisecond)

	s.Stop()
	assert.False(t, s.IsRunning())
	s.Stop()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var st Status
	require.NoError(t, json.Unmarshal(data, &st))
	assert.Equal(t, "forest", st.WorldID)
	assert.Equal(t, []string{"alice"}, st.Connected)
}
