package media

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Options configures the mpv engine.
type Options struct {
	MPVPath        string
	IPCPath        string
	Logger         *slog.Logger
	DisableProcess bool
	Dial           func(ctx context.Context, network, addr string) (net.Conn, error)
	ExtraArgs      []string
}

// MPV runs a headless mpv process and exchanges commands and property
// updates over its IPC socket.
type MPV struct {
	opts   Options
	cmd    *exec.Cmd
	conn   net.Conn
	mu     sync.Mutex
	events chan Event
	closed bool
}

func NewMPV(opts Options) *MPV {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MPVPath == "" {
		opts.MPVPath = "mpv"
	}
	return &MPV{
		opts:   opts,
		events: make(chan Event, 32),
	}
}

func defaultIPCPath() string {
	return filepath.Join(os.TempDir(), "phonotek-mpv.sock")
}

// Start launches mpv (unless disabled) and connects to the IPC socket.
func (m *MPV) Start(ctx context.Context) error {
	if m.opts.IPCPath == "" {
		m.opts.IPCPath = defaultIPCPath()
	}
	m.opts.Logger.Debug("starting media engine", slog.String("ipc_path", m.opts.IPCPath))
	if !m.opts.DisableProcess {
		if err := m.spawn(ctx); err != nil {
			return err
		}
	}
	if err := m.connect(ctx); err != nil {
		return err
	}
	if err := m.observeProperties(); err != nil {
		return err
	}
	go m.readLoop()
	return nil
}

func (m *MPV) spawn(ctx context.Context) error {
	args := []string{
		"--idle=yes",
		"--force-window=no",
		"--no-terminal",
		"--no-video",
		"--input-ipc-server=" + m.opts.IPCPath,
	}
	args = append(args, m.opts.ExtraArgs...)
	m.cmd = exec.CommandContext(ctx, m.opts.MPVPath, args...)
	if err := m.cmd.Start(); err != nil {
		return fmt.Errorf("start mpv: %w", err)
	}
	m.opts.Logger.Debug("mpv spawned", slog.Int("pid", m.cmd.Process.Pid))
	return nil
}

func (m *MPV) connect(ctx context.Context) error {
	dial := m.opts.Dial
	if dial == nil {
		dial = (&net.Dialer{Timeout: 5 * time.Second}).DialContext
	}
	baseDelay := 50 * time.Millisecond
	maxDelay := 500 * time.Millisecond
	maxRetries := 10
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var err error
	for i := 0; i < maxRetries; i++ {
		var conn net.Conn
		conn, err = dial(ctx, "unix", m.opts.IPCPath)
		if err == nil {
			m.conn = conn
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("connect mpv ipc: %w", ctx.Err())
		default:
		}
		if i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<uint(i))
			if delay > maxDelay {
				delay = maxDelay
			}
			jitter := time.Duration(float64(delay) * 0.2 * rng.Float64())
			time.Sleep(delay + jitter)
		}
	}
	return fmt.Errorf("connect mpv ipc: %w", err)
}

func (m *MPV) observeProperties() error {
	props := []string{"time-pos", "duration", "pause", "volume"}
	for i, p := range props {
		if err := m.send(map[string]any{
			"command": []any{"observe_property", i + 1, p},
		}); err != nil {
			return err
		}
	}
	return nil
}

func (m *MPV) Events() <-chan Event { return m.events }

func (m *MPV) send(cmd map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return fmt.Errorf("mpv not connected")
	}
	b, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	_, err = m.conn.Write(append(b, '\n'))
	return err
}

// Load replaces the current source. Headers become http-header-fields so
// that authorized container URLs fetch with credentials.
func (m *MPV) Load(url string, headers map[string]string) error {
	if len(headers) > 0 {
		var lines []string
		for k, v := range headers {
			lines = append(lines, fmt.Sprintf("%s: %s", k, v))
		}
		_ = m.send(map[string]any{"command": []any{"set_property", "http-header-fields", strings.Join(lines, "\n")}})
	}
	m.opts.Logger.Debug("loading source", slog.String("url", url))
	return m.send(map[string]any{"command": []any{"loadfile", url, "replace"}})
}

func (m *MPV) SetPaused(paused bool) error {
	return m.send(map[string]any{"command": []any{"set_property", "pause", paused}})
}

func (m *MPV) Seek(deltaSeconds float64) error {
	return m.send(map[string]any{"command": []any{"seek", deltaSeconds, "relative"}})
}

func (m *MPV) SetVolume(vol float64) error {
	if vol < 0 {
		vol = 0
	}
	if vol > 100 {
		vol = 100
	}
	return m.send(map[string]any{"command": []any{"set_property", "volume", vol}})
}

// Unload stops the current source; mpv stays idle and connected.
func (m *MPV) Unload() error {
	return m.send(map[string]any{"command": []any{"stop"}})
}

// Close shuts the engine down. Safe to call more than once.
func (m *MPV) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.conn != nil {
		b, _ := json.Marshal(map[string]any{"command": []any{"quit"}})
		_, _ = m.conn.Write(append(b, '\n'))
		_ = m.conn.Close()
		m.conn = nil
	}
	if m.cmd != nil && m.cmd.Process != nil {
		_ = m.cmd.Process.Kill()
		_ = m.cmd.Wait()
		m.cmd = nil
	}
	return nil
}

func (m *MPV) readLoop() {
	defer close(m.events)
	scanner := bufio.NewScanner(m.conn)
	for scanner.Scan() {
		var msg ipcMessage
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			m.events <- Event{Err: fmt.Errorf("decode: %w", err)}
			continue
		}
		switch msg.Event {
		case "property-change":
			m.handlePropertyChange(msg)
		case "file-loaded":
			m.events <- Event{Loaded: true}
		case "end-file":
			// "stop" fires when we replace the file, "quit" when mpv
			// exits; only "eof" is a natural end.
			m.events <- Event{
				Ended:     msg.Reason == "eof",
				EndReason: msg.Reason,
			}
			if msg.Reason == "error" {
				m.events <- Event{Err: fmt.Errorf("mpv failed to play: %s", msg.FileError)}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		m.events <- Event{Err: err}
	}
}

type ipcMessage struct {
	Event     string      `json:"event"`
	Name      string      `json:"name"`
	Data      interface{} `json:"data"`
	Reason    string      `json:"reason"`
	FileError string      `json:"file_error"`
}

func (m *MPV) handlePropertyChange(msg ipcMessage) {
	switch msg.Name {
	case "time-pos":
		if v, ok := toFloat(msg.Data); ok {
			m.events <- Event{TimePos: &v}
		}
	case "duration":
		if v, ok := toFloat(msg.Data); ok {
			m.events <- Event{Duration: &v}
		}
	case "pause":
		if b, ok := msg.Data.(bool); ok {
			m.events <- Event{Paused: &b}
		}
	case "volume":
		if v, ok := toFloat(msg.Data); ok {
			m.events <- Event{Volume: &v}
		}
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
