package trainer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"

	"github.com/joho/godotenv"
	"github.com/rand/gatsweep/internal/config"
)

// Command runs an external program once per training call. The request
// document arrives on stdin and the result is read from stdout.
type Command struct {
	args        []string
	releaseArgs []string
	dir         string
	env         []string
}

// NewCommand builds a Command from settings, merging the optional dotenv
// file into the inherited environment.
func NewCommand(cfg config.TrainerSettings) (*Command, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("trainer command not configured")
	}

	env := os.Environ()
	if cfg.EnvFile != "" {
		vars, err := godotenv.Read(cfg.EnvFile)
		if err != nil {
			return nil, fmt.Errorf("read trainer env file: %w", err)
		}
		for k, v := range vars {
			env = append(env, k+"="+v)
		}
	}

	return &Command{
		args:        cfg.Command,
		releaseArgs: cfg.ReleaseCommand,
		dir:         cfg.Dir,
		env:         env,
	}, nil
}

// Train runs the trainer program for one configuration.
func (c *Command) Train(ctx context.Context, exp config.Experiment, runs int) (*Result, error) {
	req, err := EncodeRequest(exp, runs)
	if err != nil {
		return nil, err
	}

	var stdout bytes.Buffer
	stderr := &tailWriter{limit: 4096}

	cmd := exec.CommandContext(ctx, c.args[0], c.args[1:]...)
	cmd.Dir = c.dir
	cmd.Env = c.env
	cmd.Stdin = bytes.NewReader(req)
	cmd.Stdout = &stdout
	cmd.Stderr = io.MultiWriter(stderr, &logWriter{exp: exp.Key()})

	slog.Debug("Starting trainer", "experiment", exp.String(), "runs", runs)
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("run trainer: %w (stderr: %s)", err, stderr.String())
	}

	res, err := DecodeResult(stdout.Bytes())
	if err != nil {
		return nil, fmt.Errorf("decode trainer output: %w", err)
	}
	return res, nil
}

// ReleaseCache runs the configured release command, if any.
func (c *Command) ReleaseCache(ctx context.Context) error {
	if len(c.releaseArgs) == 0 {
		return nil
	}
	cmd := exec.CommandContext(ctx, c.releaseArgs[0], c.releaseArgs[1:]...)
	cmd.Dir = c.dir
	cmd.Env = c.env
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("release cache: %w: %s", err, bytes.TrimSpace(out))
	}
	return nil
}

// tailWriter keeps the last limit bytes written to it.
type tailWriter struct {
	buf   []byte
	limit int
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	if over := len(w.buf) - w.limit; over > 0 {
		w.buf = w.buf[over:]
	}
	return len(p), nil
}

func (w *tailWriter) String() string {
	return string(bytes.TrimSpace(w.buf))
}

// logWriter forwards trainer stderr lines to the debug log.
type logWriter struct {
	exp     string
	pending []byte
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.pending = append(w.pending, p...)
	for {
		i := bytes.IndexByte(w.pending, '\n')
		if i < 0 {
			break
		}
		if line := bytes.TrimSpace(w.pending[:i]); len(line) > 0 {
			slog.Debug("trainer", "experiment", w.exp, "line", string(line))
		}
		w.pending = w.pending[i+1:]
	}
	return len(p), nil
}
