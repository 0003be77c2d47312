package ui

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getlantern/systray"

	"github.com/heimdex/heimdex-editor/internal/session"
)

const refreshInterval = time.Second

// Player is the slice of the session the tray drives.
type Player interface {
	Play()
	Pause()
	State() session.State
}

// ExportCounter reports running exports; export.Manager implements it.
type ExportCounter interface {
	ActiveCount() int
}

type Tray struct {
	player  Player
	exports ExportCounter
	logger  *slog.Logger

	statusItem  *systray.MenuItem
	projectItem *systray.MenuItem
	playItem    *systray.MenuItem

	mu sync.Mutex

	onExport func() error
	onQuit   func()
	done     chan struct{}
}

type TrayConfig struct {
	Player   Player
	Exports  ExportCounter
	Logger   *slog.Logger
	OnExport func() error
	OnQuit   func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		player:   cfg.Player,
		exports:  cfg.Exports,
		logger:   cfg.Logger,
		onExport: cfg.OnExport,
		onQuit:   cfg.OnQuit,
		done:     make(chan struct{}),
	}
}

func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes)
	systray.SetTitle("Heimdex")
	systray.SetTooltip("Heimdex Editor")

	t.statusItem = systray.AddMenuItem("Status: Idle", "Playback and export status")
	t.statusItem.Disable()

	t.projectItem = systray.AddMenuItem("Project: -", "Open project")
	t.projectItem.Disable()

	systray.AddSeparator()

	t.playItem = systray.AddMenuItem("Play", "Play or pause the timeline")

	exportItem := systray.AddMenuItem("Export...", "Export the timeline to a video file")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Heimdex Editor")

	go func() {
		ticker := time.NewTicker(refreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.Refresh()
			case <-t.playItem.ClickedCh:
				t.togglePlay()
			case <-exportItem.ClickedCh:
				t.handleExport()
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			case <-t.done:
				return
			}
		}
	}()

	t.Refresh()
	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	t.logger.Info("system tray exiting")
}

func (t *Tray) togglePlay() {
	if t.player == nil {
		return
	}
	if t.player.State().Playing {
		t.player.Pause()
	} else {
		t.player.Play()
	}
	t.Refresh()
}

func (t *Tray) handleExport() {
	if t.onExport != nil {
		if err := t.onExport(); err != nil {
			t.logger.Error("failed to start export", "error", err)
		}
	}
	t.Refresh()
}

// Refresh redraws the menu labels from the player and export state.
func (t *Tray) Refresh() {
	if t.player == nil {
		return
	}
	state := t.player.State()
	running := 0
	if t.exports != nil {
		running = t.exports.ActiveCount()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.statusItem == nil {
		return
	}
	t.statusItem.SetTitle(statusLabel(state, running))
	t.projectItem.SetTitle("Project: " + state.ProjectName)
	t.playItem.SetTitle(playLabel(state))
}

func statusLabel(state session.State, exports int) string {
	status := "Paused"
	if state.Playing {
		status = "Playing"
	}
	label := fmt.Sprintf("Status: %s %s / %s", status, formatClock(state.PlayheadMs), formatClock(state.ContentMs))
	if exports > 0 {
		label += fmt.Sprintf(" (exporting %d)", exports)
	}
	return label
}

func playLabel(state session.State) string {
	if state.Playing {
		return "Pause"
	}
	return "Play"
}

// formatClock renders milliseconds as m:ss.
func formatClock(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	s := ms / 1000
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}

func (t *Tray) Quit() {
	t.mu.Lock()
	select {
	case <-t.done:
	default:
		close(t.done)
	}
	t.mu.Unlock()
	systray.Quit()
}
