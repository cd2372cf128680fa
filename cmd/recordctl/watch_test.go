package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Rijam/BossChecklist/internal/config"
	"github.com/Rijam/BossChecklist/internal/dispatcher"
	"github.com/Rijam/BossChecklist/internal/logging"
	"github.com/Rijam/BossChecklist/internal/tracker"
	"github.com/Rijam/BossChecklist/internal/transport/websocket"
)

// syncBuffer is a bytes.Buffer safe to read while watch writes to it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestWatch_PrintsUpdates(t *testing.T) {
	_ = config.Load(t.TempDir())

	d, err := dispatcher.New(logging.NewDispatcherLogger(zerolog.Nop()))
	require.NoError(t, err)
	t.Cleanup(d.Close)
	hub := websocket.NewHub(config.GetTransportConfig().Secret, d)
	authority := tracker.NewAuthority("forest", hub)
	authority.RegisterHandlers(d)
	srv := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() {
		done <- watch(ctx, out, "ws"+strings.TrimPrefix(srv.URL, "http"), "alice")
	}()

	// the upload on connect registers alice with the authority
	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{"alice"}, authority.Players())
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, authority.BossDefeated("Terraria KingSlime", []tracker.Outcome{
		{Player: "alice", Duration: 900, HitsTaken: 2, PlayTime: 5000},
	}))

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "world Terraria KingSlime")
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop")
	}

	lines := out.String()
	assert.Contains(t, lines, "personal Terraria KingSlime kills=1 duration=900 hits=2\n")
	assert.Contains(t, lines, "playtime Terraria KingSlime 5000\n")
	assert.Contains(t, lines, "world Terraria KingSlime kills=1 duration=900 by alice hits=2 by alice\n")
}

func TestWatch_DialFailure(t *testing.T) {
	_ = config.Load(t.TempDir())
	srv := httptest.NewServer(nil)
	srv.Close()

	err := watch(context.Background(), &syncBuffer{}, "ws"+strings.TrimPrefix(srv.URL, "http"), "alice")
	assert.Error(t, err)
}
