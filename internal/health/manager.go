// Package health runs periodic self checks of a serving decoder: free
// space next to the archive, the unanswered request backlog and events
// lost to slow subscribers.
package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/liqi/internal/events"
	intnet "github.com/energizer-project/liqi/internal/network"
	"github.com/energizer-project/liqi/internal/util"
)

// Level grades a check result.
type Level string

const (
	LevelOK       Level = "ok"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Check is the latest result of one named check.
type Check struct {
	Name      string    `json:"name"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	CheckedAt time.Time `json:"checked_at"`
}

// Sessions is the live session view the backlog check reads.
type Sessions interface {
	Snapshot() []intnet.SessionInfo
}

// Options tune the checks. Zero values select the defaults.
type Options struct {
	Interval        time.Duration
	DataDir         string
	DiskWarnPct     float64
	DiskCriticalPct float64
	PendingWarn     int
}

// Manager runs the checks on a ticker and keeps the latest results.
type Manager struct {
	opts     Options
	sessions Sessions
	eventBus *events.EventBus
	logger   zerolog.Logger

	sample func(dataDir string) util.ResourceUsage

	mu          sync.RWMutex
	checks      map[string]Check
	lastDropped uint64
}

// NewManager creates a health manager. sessions and bus may be nil; the
// matching checks are then skipped.
func NewManager(opts Options, sessions Sessions, bus *events.EventBus) *Manager {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.DiskWarnPct <= 0 {
		opts.DiskWarnPct = 90
	}
	if opts.DiskCriticalPct <= 0 {
		opts.DiskCriticalPct = 98
	}
	if opts.PendingWarn <= 0 {
		opts.PendingWarn = 4096
	}
	return &Manager{
		opts:     opts,
		sessions: sessions,
		eventBus: bus,
		logger:   util.ComponentLogger("health"),
		sample:   util.SampleUsage,
		checks:   make(map[string]Check),
	}
}

// Start runs every check immediately and then once per interval until ctx
// is cancelled.
func (m *Manager) Start(ctx context.Context) {
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	m.RunChecks()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.RunChecks()
		}
	}
}

// RunChecks evaluates all checks once.
func (m *Manager) RunChecks() {
	if m.opts.DataDir != "" {
		m.record(m.checkDisk())
	}
	if m.sessions != nil {
		m.record(m.checkPending())
	}
	if m.eventBus != nil {
		m.record(m.checkEvents())
	}
}

// Status returns the latest results sorted by name.
func (m *Manager) Status() []Check {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Check, 0, len(m.checks))
	for _, c := range m.checks {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Overall is the worst level among the latest results.
func (m *Manager) Overall() Level {
	level := LevelOK
	for _, c := range m.Status() {
		switch {
		case c.Level == LevelCritical:
			return LevelCritical
		case c.Level == LevelWarning:
			level = LevelWarning
		}
	}
	return level
}

func (m *Manager) record(c Check) {
	c.CheckedAt = time.Now()

	m.mu.Lock()
	prev, seen := m.checks[c.Name]
	m.checks[c.Name] = c
	m.mu.Unlock()

	// Only level changes are logged above debug.
	switch {
	case seen && prev.Level == c.Level:
		m.logger.Debug().Str("check", c.Name).Str("level", string(c.Level)).Msg(c.Message)
	case c.Level == LevelOK:
		m.logger.Info().Str("check", c.Name).Msg(c.Message)
	default:
		m.logger.Warn().Str("check", c.Name).Str("level", string(c.Level)).Msg(c.Message)
	}
}

func (m *Manager) checkDisk() Check {
	usage := m.sample(m.opts.DataDir)
	c := Check{
		Name:    "disk",
		Level:   LevelOK,
		Message: fmt.Sprintf("disk usage at %.1f%% (%d MB free)", usage.DiskUsedPct, usage.DiskFreeMB),
	}
	switch {
	case usage.DiskUsedPct >= m.opts.DiskCriticalPct:
		c.Level = LevelCritical
	case usage.DiskUsedPct >= m.opts.DiskWarnPct:
		c.Level = LevelWarning
	}
	return c
}

func (m *Manager) checkPending() Check {
	sessions := m.sessions.Snapshot()
	total := 0
	for _, s := range sessions {
		total += s.Pending
	}

	c := Check{
		Name:    "pending",
		Level:   LevelOK,
		Message: fmt.Sprintf("%d unanswered requests across %d sessions", total, len(sessions)),
	}
	if total >= m.opts.PendingWarn {
		c.Level = LevelWarning
	}
	return c
}

func (m *Manager) checkEvents() Check {
	dropped := m.eventBus.Dropped()

	m.mu.Lock()
	delta := dropped - m.lastDropped
	m.lastDropped = dropped
	m.mu.Unlock()

	c := Check{
		Name:    "events",
		Level:   LevelOK,
		Message: fmt.Sprintf("%d events dropped since last check (%d total)", delta, dropped),
	}
	if delta > 0 {
		c.Level = LevelWarning
	}
	return c
}
