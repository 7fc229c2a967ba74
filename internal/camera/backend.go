package camera

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Mode is the backend a Source settled on.
type Mode string

const (
	ModeStill    Mode = "still"
	ModeStream   Mode = "stream"
	ModeDisabled Mode = "disabled"
)

// Command is an external program and its arguments.
type Command struct {
	Name string   `yaml:"name"`
	Args []string `yaml:"args"`
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// DefaultCandidates returns the streaming commands tried in order on a Raspberry Pi:
// the current and legacy libcamera tools, then a V4L2 webcam through ffmpeg.
func DefaultCandidates(width, height, fps int) []Command {
	w, h, f := strconv.Itoa(width), strconv.Itoa(height), strconv.Itoa(fps)
	vid := []string{"-t", "0", "-n", "--codec", "mjpeg", "--width", w, "--height", h, "--framerate", f, "-o", "-"}
	return []Command{
		{Name: "rpicam-vid", Args: vid},
		{Name: "libcamera-vid", Args: append([]string(nil), vid...)},
		{Name: "ffmpeg", Args: []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "v4l2", "-input_format", "mjpeg", "-video_size", w + "x" + h, "-framerate", f,
			"-i", "/dev/video0",
			"-c:v", "copy", "-f", "mjpeg", "-",
		}},
	}
}

// StillDevice captures one JPEG per call.
type StillDevice interface {
	Capture() ([]byte, error)
	Close() error
}

// StillOpener opens the still-capture device, failing when it is not present.
type StillOpener func() (StillDevice, error)

// CommandStill captures a frame by running a command that writes one JPEG to stdout.
type CommandStill struct {
	cmd     Command
	path    string
	timeout time.Duration
}

// OpenCommandStill returns an opener that resolves cmd on PATH and verifies it can deliver
// a frame before the device is accepted.
func OpenCommandStill(cmd Command, timeout time.Duration) StillOpener {
	return func() (StillDevice, error) {
		path, err := exec.LookPath(cmd.Name)
		if err != nil {
			return nil, fmt.Errorf("still command %q: %w", cmd.Name, err)
		}
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		d := &CommandStill{cmd: cmd, path: path, timeout: timeout}
		if _, err := d.Capture(); err != nil {
			return nil, fmt.Errorf("still command %q probe capture: %w", cmd.Name, err)
		}
		return d, nil
	}
}

// Capture runs the command once and returns its output if it is a JPEG.
func (d *CommandStill) Capture() ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	c := exec.CommandContext(ctx, d.path, d.cmd.Args...)
	c.Stdout = &stdout
	c.Stderr = &stderr
	if err := c.Run(); err != nil {
		return nil, fmt.Errorf("capture failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}
	data := stdout.Bytes()
	if !bytes.HasPrefix(data, startMarker) {
		return nil, errors.New("capture output is not a JPEG")
	}
	return data, nil
}

// Close has nothing to release; every capture is its own process.
func (d *CommandStill) Close() error {
	return nil
}

// stream is a running MJPEG command and its reader.
type stream struct {
	cmd    Command
	proc   *exec.Cmd
	cancel context.CancelFunc
	stdout *os.File
	stderr *os.File
	exited chan struct{}
	reader chan struct{}
}

// startStream launches c and keeps it only if it is still running after liveness.
// On success the reader goroutine publishes frames into cache.
//
// The pipes are created here rather than with StdoutPipe so that reaping the process
// never closes the read ends: the reader drains everything the command wrote and sees
// EOF once the last writer is gone.
func startStream(c Command, liveness time.Duration, cache *FrameCache, maxFrame int) (*stream, error) {
	path, err := exec.LookPath(c.Name)
	if err != nil {
		return nil, fmt.Errorf("stream command %q: %w", c.Name, err)
	}

	stdout, stdoutW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, stderrW, err := os.Pipe()
	if err != nil {
		stdout.Close()
		stdoutW.Close()
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	proc := exec.CommandContext(ctx, path, c.Args...)
	proc.Stdout = stdoutW
	proc.Stderr = stderrW
	err = proc.Start()
	// The child holds its own copies of the write ends.
	stdoutW.Close()
	stderrW.Close()
	if err != nil {
		cancel()
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("failed to start %q: %w", c.Name, err)
	}
	slog.Debug("camera.startStream: process spawned", "command", c.String(), "pid", proc.Process.Pid)

	s := &stream{
		cmd:    c,
		proc:   proc,
		cancel: cancel,
		stdout: stdout,
		stderr: stderr,
		exited: make(chan struct{}),
		reader: make(chan struct{}),
	}
	go s.logStderr()
	go s.wait(ctx)

	select {
	case <-s.exited:
		cancel()
		s.closePipes()
		return nil, fmt.Errorf("stream command %q exited within %v", c.Name, liveness)
	case <-time.After(liveness):
	}

	go s.read(cache, maxFrame)
	slog.Info("camera.startStream: stream is live", "command", c.Name, "pid", proc.Process.Pid)
	return s, nil
}

func (s *stream) read(cache *FrameCache, maxFrame int) {
	defer close(s.reader)
	if err := readFrames(s.stdout, cache, maxFrame); err != nil {
		slog.Warn("camera.stream: reader stopped on error", "command", s.cmd.Name, "error", err)
		return
	}
	slog.Info("camera.stream: stream ended", "command", s.cmd.Name)
}

func (s *stream) logStderr() {
	scanner := bufio.NewScanner(s.stderr)
	for scanner.Scan() {
		slog.Debug("camera.stream: process output", "command", s.cmd.Name, "log", scanner.Text())
	}
}

// wait reaps the process.
func (s *stream) wait(ctx context.Context) {
	defer close(s.exited)
	err := s.proc.Wait()
	switch {
	case ctx.Err() != nil:
		slog.Debug("camera.stream: process exited (shutdown)", "command", s.cmd.Name, "pid", s.proc.Process.Pid)
	case err != nil:
		slog.Error("camera.stream: process exited unexpectedly", "command", s.cmd.Name, "pid", s.proc.Process.Pid, "error", err)
	default:
		slog.Info("camera.stream: process exited cleanly", "command", s.cmd.Name, "pid", s.proc.Process.Pid)
	}
}

// stop terminates the process and waits up to two seconds for it to be reaped.
func (s *stream) stop() {
	s.cancel()
	select {
	case <-s.exited:
	case <-time.After(2 * time.Second):
		slog.Warn("camera.stream: stop timeout, force killing process", "command", s.cmd.Name)
		if err := s.proc.Process.Kill(); err != nil {
			slog.Error("camera.stream: failed to kill process", "command", s.cmd.Name, "error", err)
		}
	}
	// A grandchild that inherited stdout can keep the write end open after the command is gone.
	s.closePipes()
}

func (s *stream) closePipes() {
	s.stdout.Close()
	s.stderr.Close()
}
