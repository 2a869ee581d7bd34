// Package tray provides a system tray interface for mudra.
package tray

import (
	"fmt"
	"sync"

	"github.com/getlantern/systray"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/dispatch"
)

// Tray represents the system tray application.
type Tray struct {
	onToggle  func(enabled bool)
	onConfirm func()
	onReset   func()
	onOpen    func()
	onQuit    func()
	enabled   bool
	mu        sync.RWMutex

	// Menu items stored for later updates
	menuToggle      *systray.MenuItem
	menuStatus      *systray.MenuItem
	menuLastGesture *systray.MenuItem
	menuConfirm     *systray.MenuItem
}

// New creates a new Tray instance with enabled state set to true by default.
func New() *Tray {
	return &Tray{
		enabled: true,
	}
}

// OnToggle sets the callback function to be called when the enabled state is toggled.
func (t *Tray) OnToggle(fn func(enabled bool)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onToggle = fn
}

// OnConfirm sets the callback for the manual play item.
func (t *Tray) OnConfirm(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onConfirm = fn
}

// OnReset sets the callback for the reset item.
func (t *Tray) OnReset(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onReset = fn
}

// OnOpen sets the callback for the open viewer item.
func (t *Tray) OnOpen(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOpen = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until systray.Quit() is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit closes the tray and makes Run return.
func (t *Tray) Quit() {
	systray.Quit()
}

// onReady is called when the system tray is ready.
func (t *Tray) onReady() {
	systray.SetTitle("Mudra")
	systray.SetTooltip("Mudra gesture responses")

	t.mu.Lock()
	t.menuToggle = systray.AddMenuItem(toggleTitle(t.enabled), "Toggle gesture detection")
	systray.AddSeparator()

	t.menuStatus = systray.AddMenuItem("Status: starting", "Detection status")
	t.menuStatus.Disable()
	t.menuLastGesture = systray.AddMenuItem("Last: none", "Last detected gesture")
	t.menuLastGesture.Disable()
	systray.AddSeparator()

	t.menuConfirm = systray.AddMenuItem("Play confirmed", "Play the confirmed gesture's response")
	menuReset := systray.AddMenuItem("Reset", "Stop playback and clear the confirmed gesture")
	menuOpen := systray.AddMenuItem("Open viewer...", "Open the viewer in a browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit Mudra")
	menuConfirm := t.menuConfirm
	t.mu.Unlock()

	go func() {
		for {
			select {
			case <-t.menuToggle.ClickedCh:
				t.handleToggle()
			case <-menuConfirm.ClickedCh:
				t.call(func() func() { return t.onConfirm })
			case <-menuReset.ClickedCh:
				t.call(func() func() { return t.onReset })
			case <-menuOpen.ClickedCh:
				t.call(func() func() { return t.onOpen })
			case <-menuQuit.ClickedCh:
				t.handleQuit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

// call runs the callback returned by get, read under the lock.
func (t *Tray) call(get func() func()) {
	t.mu.RLock()
	callback := get()
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// handleToggle handles the toggle menu item click.
func (t *Tray) handleToggle() {
	t.mu.Lock()
	t.enabled = !t.enabled
	enabled := t.enabled

	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(enabled))
	}

	callback := t.onToggle
	t.mu.Unlock()

	// Call the callback outside the lock to prevent deadlocks
	if callback != nil {
		callback(enabled)
	}
}

// handleQuit handles the quit menu item click.
func (t *Tray) handleQuit() {
	t.call(func() func() { return t.onQuit })
	systray.Quit()
}

// HandleEvent updates the menu from an App event. Register it with
// App.OnEvent.
func (t *Tray) HandleEvent(ev app.Event) {
	switch ev.Type {
	case app.EventOutcome:
		if ev.Outcome != nil && ev.Outcome.Accepted {
			t.SetLastGesture(lastTitle(*ev.Outcome))
		}
	case app.EventStatus:
		if ev.Status != nil {
			t.setTitle(func() *systray.MenuItem { return t.menuStatus }, statusTitle(*ev.Status))
		}
	case app.EventState:
		if ev.State != nil {
			t.setConfirm(*ev.State)
		}
	}
}

// SetLastGesture updates the last gesture display in the menu.
func (t *Tray) SetLastGesture(title string) {
	if title == "" {
		title = "Last: none"
	}
	t.setTitle(func() *systray.MenuItem { return t.menuLastGesture }, title)
}

func (t *Tray) setTitle(item func() *systray.MenuItem, title string) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if mi := item(); mi != nil {
		mi.SetTitle(title)
	}
}

func (t *Tray) setConfirm(st dispatch.State) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.menuConfirm == nil {
		return
	}
	t.menuConfirm.SetTitle(confirmTitle(st))
	if st.PendingManual != "" || st.HasConfirmed() {
		t.menuConfirm.Enable()
	} else {
		t.menuConfirm.Disable()
	}
}

// SetEnabled updates the toggle without invoking the callback.
func (t *Tray) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = enabled
	if t.menuToggle != nil {
		t.menuToggle.SetTitle(toggleTitle(enabled))
	}
}

// IsEnabled returns the current enabled state.
func (t *Tray) IsEnabled() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.enabled
}

func toggleTitle(enabled bool) string {
	if enabled {
		return "● Enabled"
	}
	return "○ Disabled"
}

func lastTitle(out dispatch.Outcome) string {
	if out.TopLabel == "" {
		return ""
	}
	return fmt.Sprintf("Last: %s (%d%%)", out.TopLabel, out.TopPercent())
}

func statusTitle(s app.Status) string {
	prefix := "Status: "
	if s.Level == app.LevelWarn || s.Level == app.LevelError {
		prefix = "⚠ "
	}
	return prefix + s.Message
}

func confirmTitle(st dispatch.State) string {
	switch {
	case st.PendingManual != "":
		return "Play " + st.PendingManual
	case st.HasConfirmed():
		return "Play " + st.ConfirmedLabel
	default:
		return "Play confirmed"
	}
}
