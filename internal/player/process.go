package player

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ayusman/mudra/internal/log"
)

// ResourcePlaceholder is replaced by the resolved media path in the command.
const ResourcePlaceholder = "{resource}"

// DefaultCommand plays a clip in mpv without a terminal UI.
var DefaultCommand = []string{"mpv", "--really-quiet", "--no-terminal", ResourcePlaceholder}

// Process plays responses by running an external media player, one process
// per clip. Play always starts a fresh process so position resets to zero.
type Process struct {
	catalog  *Catalog
	command  []string
	mediaDir string

	mu    sync.Mutex
	cmd   *exec.Cmd
	label string
	done  chan struct{}
}

// NewProcess creates a Process player. Relative resources are resolved
// against mediaDir. An empty command uses DefaultCommand.
func NewProcess(catalog *Catalog, command []string, mediaDir string) *Process {
	if len(command) == 0 {
		command = DefaultCommand
	}
	return &Process{
		catalog:  catalog,
		command:  command,
		mediaDir: mediaDir,
	}
}

// Play starts the clip bound to label.
func (p *Process) Play(ctx context.Context, label string) error {
	resource, ok := p.catalog.Resolve(label)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownLabel, label)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()

	args := p.args(resource)
	cmd := exec.Command(args[0], args[1:]...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrPlaybackRejected, err)
	}

	done := make(chan struct{})
	p.cmd = cmd
	p.label = label
	p.done = done

	go func() {
		err := cmd.Wait()
		close(done)

		p.mu.Lock()
		defer p.mu.Unlock()
		if p.cmd == cmd {
			p.cmd = nil
			p.label = ""
			p.done = nil
			if err != nil {
				log.Debug("player exited", "label", label, "error", err)
			}
		}
	}()

	return nil
}

// Stop kills the running player process, if any.
func (p *Process) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	return nil
}

// Playing returns the label of the clip currently playing.
func (p *Process) Playing() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.label, p.cmd != nil
}

// Close stops playback.
func (p *Process) Close() error {
	return p.Stop(context.Background())
}

func (p *Process) stopLocked() {
	if p.cmd == nil {
		return
	}
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
	done := p.done
	p.cmd = nil
	p.label = ""
	p.done = nil

	// The waiter goroutine does not need p.mu once p.cmd has been cleared.
	if done != nil {
		<-done
	}
}

func (p *Process) args(resource string) []string {
	path := resource
	if p.mediaDir != "" && !filepath.IsAbs(path) && !strings.Contains(path, "://") {
		path = filepath.Join(p.mediaDir, path)
	}

	args := make([]string, 0, len(p.command)+1)
	replaced := false
	for _, a := range p.command {
		if strings.Contains(a, ResourcePlaceholder) {
			a = strings.ReplaceAll(a, ResourcePlaceholder, path)
			replaced = true
		}
		args = append(args, a)
	}
	if !replaced {
		args = append(args, path)
	}
	return args
}
