package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/Rijam/BossChecklist/internal/config"
	"github.com/Rijam/BossChecklist/internal/dispatcher"
	"github.com/Rijam/BossChecklist/internal/logging"
	"github.com/Rijam/BossChecklist/internal/tracker"
	"github.com/Rijam/BossChecklist/internal/transport/websocket"
	"github.com/Rijam/BossChecklist/pkg/streaming"
)

// watcher prints each packet an observer applies.
type watcher struct {
	mu       sync.Mutex
	out      io.Writer
	observer *tracker.Observer
}

func (w *watcher) handle(e dispatcher.Event) error {
	if err := w.observer.Handle(e); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	boss := e.Packet.BossKey
	switch e.Packet.Type {
	case streaming.TypeRecordUpdate:
		s, _ := w.observer.Personal(boss)
		fmt.Fprintf(w.out, "personal %s kills=%d duration=%s hits=%s\n", boss, s.Kills, s.DurationBest, s.HitsTakenBest)
	case streaming.TypeWorldRecordUpdate:
		s, _ := w.observer.World(boss)
		fmt.Fprintf(w.out, "world %s kills=%d duration=%s by %s hits=%s by %s\n", boss, s.TotalKills,
			s.DurationWorld, holders(s.DurationHolder), s.HitsTakenWorld, holders(s.HitsTakenHolder))
	case streaming.TypePlayTimeRecordUpdate:
		s, _ := w.observer.Personal(boss)
		fmt.Fprintf(w.out, "playtime %s %s\n", boss, s.PlayTimeFirst)
	case streaming.TypeResetTrackers:
		fmt.Fprintln(w.out, "reset")
	}
	return nil
}

func holders(names []string) string {
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ",")
}

// watch joins the server at url as player and prints record updates until
// ctx is done. Each (re)connect uploads the records seen so far.
func watch(ctx context.Context, out io.Writer, url, player string) error {
	level := config.GetString("logLevel")
	slogManager := logging.NewSlogManager()
	slogManager.SetupStderr(level, logging.SessionContext("", config.GetString("worldID"), "observer"))
	logger := slogManager.Logger()

	d, err := dispatcher.New(logging.NewDispatcherLogger(logging.NewZerolog(os.Stderr, level, "dispatcher")).ForRole("observer"))
	if err != nil {
		return err
	}
	defer d.Close()

	w := &watcher{out: out, observer: tracker.NewObserver(player, config.GetString("worldID"), logger)}
	for _, typ := range []streaming.MessageType{
		streaming.TypeRecordUpdate,
		streaming.TypeWorldRecordUpdate,
		streaming.TypeResetTrackers,
		streaming.TypePlayTimeRecordUpdate,
	} {
		d.Register(typ, w.handle, dispatcher.Logged())
	}

	c := websocket.NewClient(websocket.Config{
		URL:    url,
		Secret: config.GetTransportConfig().Secret,
		Player: player,
	}, d, logger)
	if err := c.Dial(); err != nil {
		return err
	}
	c.SetHello(w.observer.Upload)
	logger.Info("Watching", "url", url, "player", player)

	<-ctx.Done()
	if err := c.Close(); err != nil {
		logger.Debug("Close after interrupt", "error", err)
	}
	return nil
}
