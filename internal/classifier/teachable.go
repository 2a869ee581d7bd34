package classifier

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/log"
)

// ServiceScript is the name of the Python model service.
const ServiceScript = "tm_service.py"

// Config holds configuration options for the Teachable Machine classifier.
type Config struct {
	// ModelDir holds model.json, weights and metadata.json.
	ModelDir string

	// Python is the interpreter used to run the service. Empty means a
	// virtual environment interpreter if one is found, else python3.
	Python string

	// Script overrides the service script location.
	Script string

	// LoadTimeout bounds the service start-up handshake.
	LoadTimeout time.Duration
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		ModelDir:    "model",
		LoadTimeout: 60 * time.Second,
	}
}

// TeachableMachine implements Classifier using a Python subprocess that hosts
// an exported Teachable Machine image model.
//
// Frames are sent as a 4-byte big-endian length followed by JPEG bytes. The
// service answers each frame with one JSON line.
type TeachableMachine struct {
	config Config
	script string

	mu     sync.Mutex
	meta   *Metadata
	proc   *process
	ready  bool
	closed bool
}

// NewTeachableMachine creates a classifier for the model in config.ModelDir.
// The service is not started until Load is called.
func NewTeachableMachine(config Config) (*TeachableMachine, error) {
	script := config.Script
	if script == "" {
		script = findServiceScript()
	}
	if script == "" {
		return nil, fmt.Errorf("%s not found", ServiceScript)
	}
	if config.LoadTimeout <= 0 {
		config.LoadTimeout = DefaultConfig().LoadTimeout
	}

	return &TeachableMachine{
		config: config,
		script: script,
	}, nil
}

// Load reads the model metadata, starts the service and waits for it to
// report the same label set.
func (c *TeachableMachine) Load(ctx context.Context) error {
	meta, err := ReadMetadata(c.config.ModelDir)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrUnavailable
	}
	c.meta = meta
	c.mu.Unlock()

	return c.start(ctx)
}

func (c *TeachableMachine) start(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.LoadTimeout)
	defer cancel()

	python := c.config.Python
	if python == "" {
		python = findVenvPython()
	}
	if python == "" {
		python = "python3"
	}

	proc, err := startProcess(python, c.script, c.config.ModelDir)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		done <- proc.handshake(c.meta.Labels)
	}()

	select {
	case err := <-done:
		if err != nil {
			proc.kill()
			return err
		}
	case <-ctx.Done():
		proc.kill()
		return fmt.Errorf("model service handshake: %w", ctx.Err())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		proc.kill()
		return ErrUnavailable
	}
	c.proc = proc
	c.ready = true

	log.Info("model loaded", "model", c.meta.ModelName, "labels", len(c.meta.Labels))
	return nil
}

// Ready reports whether the service is up and answering.
func (c *TeachableMachine) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Labels returns the model's label set in output order.
func (c *TeachableMachine) Labels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.meta == nil {
		return nil
	}
	return slices.Clone(c.meta.Labels)
}

// Classify sends the frame to the service and returns validated predictions.
// When ctx expires first the service is recycled in the background and
// ErrUnavailable is returned.
func (c *TeachableMachine) Classify(ctx context.Context, frame *gocv.Mat) ([]Prediction, error) {
	c.mu.Lock()
	if !c.ready || c.proc == nil {
		c.mu.Unlock()
		return nil, ErrUnavailable
	}
	proc := c.proc
	meta := c.meta
	c.mu.Unlock()

	payload, err := encodeFrame(frame, meta.ImageSize)
	if err != nil {
		return nil, err
	}

	type result struct {
		records []Record
		err     error
	}
	done := make(chan result, 1)
	go func() {
		records, err := proc.exchange(payload)
		done <- result{records, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if errors.Is(r.err, ErrMalformedPrediction) {
				return nil, r.err
			}
			c.recycle(proc)
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, r.err)
		}
		return FromRecords(r.records, meta.Labels)
	case <-ctx.Done():
		c.recycle(proc)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	}
}

// recycle kills a stalled or broken service and restarts it in the background.
func (c *TeachableMachine) recycle(proc *process) {
	c.mu.Lock()
	if c.proc != proc || c.closed {
		c.mu.Unlock()
		return
	}
	c.proc = nil
	c.ready = false
	c.mu.Unlock()

	proc.kill()
	log.Warn("model service recycled", "phase", "predict")

	go func() {
		if err := c.start(context.Background()); err != nil {
			log.Error("model service restart failed", "phase", "predict", "error", err)
		}
	}()
}

// Close stops the service.
func (c *TeachableMachine) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.ready = false
	if c.proc == nil {
		return nil
	}
	err := c.proc.shutdown()
	c.proc = nil
	return err
}

// encodeFrame resizes the frame to the model input size and encodes it as JPEG.
func encodeFrame(frame *gocv.Mat, size int) ([]byte, error) {
	if frame == nil || frame.Empty() {
		return nil, ErrEmptyFrame
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(*frame, &resized, image.Point{X: size, Y: size}, 0, 0, gocv.InterpolationLinear)

	buf, err := gocv.IMEncode(".jpg", resized)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	return slices.Clone(buf.GetBytes()), nil
}

// process is one running instance of the model service.
type process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	mu     sync.Mutex
}

type handshakeMessage struct {
	Ready  bool     `json:"ready"`
	Labels []string `json:"labels"`
	Error  string   `json:"error"`
}

type predictMessage struct {
	Predictions []Record `json:"predictions"`
	Error       string   `json:"error"`
}

func startProcess(python, script, modelDir string) (*process, error) {
	cmd := exec.Command(python, script, modelDir)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}

	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start model service: %w", err)
	}

	return &process{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
	}, nil
}

// handshake reads the ready line and checks the service serves labels.
func (p *process) handshake(labels []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	line, err := p.stdout.ReadBytes('\n')
	if err != nil {
		return fmt.Errorf("read handshake: %w", err)
	}

	var msg handshakeMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return fmt.Errorf("parse handshake: %w", err)
	}
	if msg.Error != "" {
		return fmt.Errorf("model service: %s", msg.Error)
	}
	if !msg.Ready {
		return errors.New("model service did not report ready")
	}
	if !slices.Equal(msg.Labels, labels) {
		return fmt.Errorf("model service labels %v do not match metadata %v", msg.Labels, labels)
	}

	return nil
}

func (p *process) exchange(payload []byte) ([]Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	length := make([]byte, 4)
	binary.BigEndian.PutUint32(length, uint32(len(payload)))

	if _, err := p.stdin.Write(length); err != nil {
		return nil, fmt.Errorf("write length: %w", err)
	}
	if _, err := p.stdin.Write(payload); err != nil {
		return nil, fmt.Errorf("write data: %w", err)
	}

	line, err := p.stdout.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var msg predictMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPrediction, err)
	}
	if msg.Error != "" {
		return nil, fmt.Errorf("model service: %s", msg.Error)
	}

	return msg.Predictions, nil
}

// kill terminates the process without waiting for a graceful exit.
// It does not take p.mu so a blocked exchange can be interrupted.
func (p *process) kill() {
	if p.cmd.Process != nil {
		p.cmd.Process.Kill()
	}
	p.stdin.Close()
	go p.cmd.Wait()
}

// shutdown closes stdin and waits for the service to exit.
func (p *process) shutdown() error {
	p.stdin.Close()
	return p.cmd.Wait()
}

func findServiceScript() string {
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		filepath.Join("scripts", ServiceScript),
		filepath.Join("..", "scripts", ServiceScript),
		filepath.Join(execDir, "scripts", ServiceScript),
		filepath.Join(os.Getenv("HOME"), ".mudra", "scripts", ServiceScript),
	}

	return firstExisting(candidates)
}

// findVenvPython looks for a Python interpreter in a virtual environment.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".mudra/venv/bin/python"),
	}

	return firstExisting(candidates)
}

func firstExisting(paths []string) string {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if abs, err := filepath.Abs(path); err == nil {
				return abs
			}
			return path
		}
	}
	return ""
}
