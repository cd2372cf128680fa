// Command recordctl inspects and exports stored records without running
// the authority, and can join a running one as an observer.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/Rijam/BossChecklist/internal/api"
	"github.com/Rijam/BossChecklist/internal/config"
	"github.com/Rijam/BossChecklist/internal/database"
	"github.com/Rijam/BossChecklist/internal/logging"
	"github.com/Rijam/BossChecklist/internal/storage"
	"github.com/Rijam/BossChecklist/internal/storage/factory"
	gormstorage "github.com/Rijam/BossChecklist/internal/storage/gorm"
	"github.com/Rijam/BossChecklist/internal/storage/memory"
)

const usage = `usage: recordctl [-config <dir>] <command>

commands:
  players                  list stored players
  dump player <id>...      print a player's records as JSON
  dump world <id>          print a world's records as JSON
  top <boss> [limit]       fastest personal bests (sqlite and postgres only)
  export <dir>             write every collection as tag files to dir
  backups <dir>            list SQLite dumps in dir
  health <url>             check a running records server
  leaderboard <url> <boss> [limit]
                           fetch a leaderboard from a running server
  watch <ws-url> <player>  join a server as an observer and print record
                           updates until interrupted`

// leaderboard is implemented by the SQL backends.
type leaderboard interface {
	TopDurations(boss string, limit int) ([]gormstorage.PlayerRecordRow, error)
}

func main() {
	args := os.Args[1:]
	configDir := "."
	if len(args) >= 2 && args[0] == "-config" {
		configDir = args[1]
		args = args[2:]
	}
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	if err := config.Load(configDir); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v, using defaults\n", err)
	}

	// these need no storage
	switch strings.ToLower(args[0]) {
	case "watch":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "watch needs a websocket url and a player")
			os.Exit(2)
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		err := watch(ctx, os.Stdout, args[1], args[2])
		stop()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	case "backups", "health", "leaderboard":
		if err := runOffline(os.Stdout, args); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	dbm := database.NewManager(zerolog.Nop())
	backend, err := factory.NewBackend(config.GetStorageConfig(), dbm, logging.NewSlogManager())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := backend.Init(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	err = run(os.Stdout, backend, args)
	if closeErr := backend.Close(); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(out io.Writer, b storage.Backend, args []string) error {
	switch strings.ToLower(args[0]) {
	case "players":
		ids, err := b.Players()
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Fprintln(out, id)
		}
		return nil

	case "dump":
		if len(args) < 3 {
			return errors.New("dump needs a kind and at least one id")
		}
		return dump(out, b, strings.ToLower(args[1]), args[2:])

	case "top":
		if len(args) < 2 {
			return errors.New("top needs a boss key")
		}
		limit := 10
		if len(args) > 2 {
			n, err := strconv.Atoi(args[2])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid limit %q", args[2])
			}
			limit = n
		}
		return top(out, b, args[1], limit)

	case "export":
		if len(args) < 2 {
			return errors.New("export needs a directory")
		}
		return export(out, b, args[1])

	default:
		return fmt.Errorf("unknown command %q\n%s", args[0], usage)
	}
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func dump(out io.Writer, b storage.Backend, kind string, ids []string) error {
	for _, id := range ids {
		switch kind {
		case "player":
			p, err := b.LoadPlayer(id)
			if err != nil {
				return err
			}
			if err := printJSON(out, map[string]any{"player": p.Player, "records": p.Records()}); err != nil {
				return err
			}
		case "world":
			w, err := b.LoadWorld(id)
			if err != nil {
				return err
			}
			if err := printJSON(out, map[string]any{"world": w.WorldID, "records": w.Records()}); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown dump kind %q, want player or world", kind)
		}
	}
	return nil
}

func top(out io.Writer, b storage.Backend, boss string, limit int) error {
	lb, ok := b.(leaderboard)
	if !ok {
		return errors.New("top needs the sqlite or postgres storage backend")
	}
	rows, err := lb.TopDurations(boss, limit)
	if err != nil {
		return err
	}
	for i, row := range rows {
		fmt.Fprintf(out, "%2d. %-24s %8d ticks  %3d hits  %d kills\n", i+1, row.Player, row.DurationBest, row.HitsTakenBest, row.Kills)
	}
	return nil
}

// export copies every player and the configured world into tag files.
func export(out io.Writer, b storage.Backend, dir string) error {
	target := memory.New(config.MemoryConfig{OutputDir: dir, CompressOutput: true})
	if err := target.Init(); err != nil {
		return err
	}

	ids, err := b.Players()
	if err != nil {
		return err
	}
	for _, id := range ids {
		p, err := b.LoadPlayer(id)
		if err != nil {
			return err
		}
		if err := target.SavePlayer(p); err != nil {
			return err
		}
	}

	worldID := config.GetString("worldID")
	w, err := b.LoadWorld(worldID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return err
	default:
		if err := target.SaveWorld(w); err != nil {
			return err
		}
	}

	if err := target.Close(); err != nil {
		return err
	}
	for _, path := range target.ExportedFiles() {
		fmt.Fprintln(out, path)
	}
	return nil
}

func runOffline(out io.Writer, args []string) error {
	switch strings.ToLower(args[0]) {
	case "backups":
		return listBackups(out, args[1:])
	case "health":
		if len(args) < 2 {
			return errors.New("health needs a server url")
		}
		if err := api.New(args[1], "").Healthcheck(); err != nil {
			return err
		}
		fmt.Fprintln(out, "ok")
		return nil
	case "leaderboard":
		if len(args) < 3 {
			return errors.New("leaderboard needs a server url and a boss key")
		}
		limit := 0
		if len(args) > 3 {
			n, err := strconv.Atoi(args[3])
			if err != nil || n <= 0 {
				return fmt.Errorf("invalid limit %q", args[3])
			}
			limit = n
		}
		entries, err := api.New(args[1], config.GetTransportConfig().Secret).Leaderboard(args[2], limit)
		if err != nil {
			return err
		}
		for i, e := range entries {
			fmt.Fprintf(out, "%2d. %-24s %8d ticks  %d kills\n", i+1, e.Player, e.Duration, e.Kills)
		}
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func listBackups(out io.Writer, args []string) error {
	if len(args) == 0 {
		return errors.New("backups needs a directory")
	}
	paths, err := database.BackupDBPaths(args[0])
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Fprintln(out, p)
	}
	return nil
}
