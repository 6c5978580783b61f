package whisperlocal

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

const (
	defaultHost = "127.0.0.1"
	defaultPort = 8765

	// runtimeProbeTimeout bounds the "is the runtime even installed" check.
	runtimeProbeTimeout = 5 * time.Second

	readyPollInterval = 250 * time.Millisecond
)

// ServerConfig describes how to launch the faster-whisper helper server.
type ServerConfig struct {
	// PythonPath is the runtime executable; defaults to "python3".
	PythonPath string
	// ScriptPath locates the helper server script.
	ScriptPath string

	Host string
	Port int

	// Model is preloaded at startup so the first transcription request does
	// not pay the model-load latency.
	Model        string
	Language     string
	Device       string
	ComputeType  string
	DownloadRoot string
}

func (c ServerConfig) withDefaults() ServerConfig {
	if c.PythonPath == "" {
		c.PythonPath = "python3"
	}
	if c.Host == "" {
		c.Host = defaultHost
	}
	if c.Port == 0 {
		c.Port = defaultPort
	}

	return c
}

// Server owns one helper child process. It is safe for concurrent use; Start
// is a no-op while the process is running.
type Server struct {
	config ServerConfig

	mu  sync.Mutex
	cmd *exec.Cmd
}

func NewServer(config ServerConfig) *Server {
	return &Server{config: config.withDefaults()}
}

func (s *Server) BaseURL() string {
	return fmt.Sprintf("http://%s:%d", s.config.Host, s.config.Port)
}

// Start spawns the helper process. It does not wait for the model to load;
// readiness is observed through the health endpoint.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running() {
		return nil
	}

	args := []string{
		s.config.ScriptPath,
		"--host", s.config.Host,
		"--port", strconv.Itoa(s.config.Port),
	}
	if s.config.Model != "" {
		args = append(args, "--preload-model", s.config.Model)
	}
	if s.config.Language != "" {
		args = append(args, "--default-language", s.config.Language)
	}
	if s.config.Device != "" {
		args = append(args, "--device", s.config.Device)
	}
	if s.config.ComputeType != "" {
		args = append(args, "--compute-type", s.config.ComputeType)
	}
	if s.config.DownloadRoot != "" {
		args = append(args, "--download-root", s.config.DownloadRoot)
	}

	cmd := exec.Command(s.config.PythonPath, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to launch recognition server: %w", err)
	}

	s.cmd = cmd
	go func() {
		// Reap the child; Stop and crash detection both read cmd state under
		// the mutex afterwards.
		cmd.Wait()
	}()

	return nil
}

// Stop terminates the helper process. Safe to call when nothing is running.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running() {
		s.cmd = nil
		return nil
	}

	if err := s.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("failed to stop recognition server: %w", err)
	}

	s.cmd = nil
	return nil
}

func (s *Server) running() bool {
	return s.cmd != nil && s.cmd.Process != nil && (s.cmd.ProcessState == nil || !s.cmd.ProcessState.Exited())
}

// RuntimeAvailable reports whether the Python runtime needed to run the
// helper is present and invocable, by launching it with a version flag under
// a bounded timeout. Absence is a normal negative result, never an error.
func RuntimeAvailable(ctx context.Context, pythonPath string) bool {
	if pythonPath == "" {
		pythonPath = "python3"
	}

	ctx, cancel := context.WithTimeout(ctx, runtimeProbeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, pythonPath, "--version")
	if err := cmd.Run(); err != nil {
		return false
	}

	return cmd.ProcessState != nil && cmd.ProcessState.Success()
}
