// Package monitor periodically reports the state of a records session to a
// status file and, when configured, to InfluxDB.
package monitor

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementStatus is the InfluxDB measurement for session status points.
const MeasurementStatus = "session_status"

// PointWriter accepts status points. *influx.Manager implements it.
type PointWriter interface {
	WritePoint(point *influxdb2_write.Point) error
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	WorldID string
	// Connected lists the players with a live transport connection.
	Connected func() []string
	// Tracked lists the players the authority holds records for.
	Tracked    func() []string
	Writer     PointWriter
	StatusPath string
	Interval   time.Duration
	Logger     *slog.Logger
}

// Status is one snapshot of the session.
type Status struct {
	Time      time.Time `json:"time"`
	WorldID   string    `json:"worldId"`
	Uptime    string    `json:"uptime"`
	Connected []string  `json:"connected"`
	Tracked   int       `json:"tracked"`
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	started   time.Time
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}
	done      chan struct{}
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = 10 * time.Second
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Service{
		deps:     deps,
		started:  time.Now(),
		stopChan: make(chan struct{}),
	}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// GetStatus returns the current session status.
func (s *Service) GetStatus() Status {
	st := Status{
		Time:      time.Now(),
		WorldID:   s.deps.WorldID,
		Uptime:    time.Since(s.started).Round(time.Second).String(),
		Connected: []string{},
	}
	if s.deps.Connected != nil {
		if c := s.deps.Connected(); c != nil {
			st.Connected = c
		}
	}
	if s.deps.Tracked != nil {
		st.Tracked = len(s.deps.Tracked())
	}
	return st
}

// StatusPoint converts st into an InfluxDB point.
func StatusPoint(st Status) *influxdb2_write.Point {
	return influxdb2.NewPoint(MeasurementStatus,
		map[string]string{"world": st.WorldID},
		map[string]any{
			"connected": len(st.Connected),
			"tracked":   st.Tracked,
		},
		st.Time,
	)
}

// report writes one snapshot to the status file and the point writer.
func (s *Service) report() {
	st := s.GetStatus()

	if s.deps.StatusPath != "" {
		data, err := json.MarshalIndent(st, "", "  ")
		if err != nil {
			data = []byte(fmt.Sprintf(`{"error": %q}`, err))
		}
		if err := os.WriteFile(s.deps.StatusPath, append(data, '\n'), 0644); err != nil {
			s.deps.Logger.Error("Error writing status file", "error", err)
		}
	}

	if s.deps.Writer != nil {
		if err := s.deps.Writer.WritePoint(StatusPoint(st)); err != nil {
			s.deps.Logger.Warn("Error writing status point", "error", err)
		}
	}
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		s.deps.Logger.Debug("Starting status monitor goroutine", "interval", s.deps.Interval)

		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				s.report()
			}
		}
	}()

	return nil
}

// Stop stops the status monitor and writes a final snapshot.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	close(s.stopChan)
	done := s.done
	s.mu.Unlock()

	<-done
	s.report()
}
