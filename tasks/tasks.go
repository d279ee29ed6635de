// Package tasks provides the built-in tasks registered by the CLI: ping,
// run_command, and sleep. Library users register their own task set and can
// pick from these individually.
package tasks

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os/exec"
	"time"

	"github.com/kballard/go-shellquote"

	"github.com/maximiliancw/homeworq/errors"
	"github.com/maximiliancw/homeworq/hq/task"
	"github.com/maximiliancw/homeworq/internal/httpclient"
)

const pingTimeout = 30 * time.Second

// pingClient is the SSRF-guarded client behind the ping task. Tests swap it
// for a wrapped one that may reach loopback addresses.
var pingClient = httpclient.NewSaferClient(pingTimeout)

// Register adds every built-in task to the registry.
func Register(registry *task.Registry) error {
	builtins := []struct {
		name, title, description string
		fn                       task.Func
	}{
		{"ping", "Website Health Check", "Fetch a URL and report its status code and headers.", Ping},
		{"run_command", "Run Command", "Run a shell command line and capture its output.", RunCommand},
		{"sleep", "Sleep", "Sleep for a number of seconds.", Sleep},
	}
	for _, b := range builtins {
		if err := registry.Register(b.name, b.title, b.description, b.fn); err != nil {
			return err
		}
	}
	return nil
}

// Ping fetches the URL in params["url"] and returns its status code and
// response headers. Private and loopback targets are rejected.
func Ping(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	url, err := stringParam(params, "url")
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "invalid url")
	}

	resp, err := pingClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	// Drain a bounded amount so the connection can be reused
	io.CopyN(io.Discard, resp.Body, 1<<20)

	headers := make(map[string]string, len(resp.Header))
	for name, values := range resp.Header {
		if len(values) > 0 {
			headers[name] = values[0]
		}
	}

	return map[string]interface{}{
		"status":  resp.StatusCode,
		"headers": headers,
	}, nil
}

// RunCommand runs the command line in params["command"]. The line is split
// with shell quoting rules but no shell runs; the first word is the binary.
// A command that starts and exits is a result, whatever its exit code; only
// parse failures, start failures, and cancellation are task errors.
func RunCommand(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	command, err := stringParam(params, "command")
	if err != nil {
		return nil, err
	}

	words, err := shellquote.Split(command)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse command")
	}
	if len(words) == 0 {
		return nil, errors.New("command is empty")
	}

	cmd := exec.CommandContext(ctx, words[0], words[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	exitCode := 0
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		switch {
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case errors.As(err, &exitErr):
			exitCode = exitErr.ExitCode()
		default:
			return nil, errors.Wrap(err, "failed to run command")
		}
	}

	return map[string]interface{}{
		"stdout":    stdout.String(),
		"stderr":    stderr.String(),
		"exit_code": exitCode,
	}, nil
}

// Sleep waits for params["seconds"] seconds (default 1) and returns how long
// it slept. It honors cancellation, which makes it handy for demonstrating
// timeout and overlap behaviour.
func Sleep(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	seconds, err := numberParam(params, "seconds", 1)
	if err != nil {
		return nil, err
	}
	if seconds < 0 {
		return nil, errors.Newf("seconds must not be negative, got %v", seconds)
	}

	timer := time.NewTimer(time.Duration(seconds * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return map[string]interface{}{"slept": seconds}, nil
}

func stringParam(params map[string]interface{}, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", errors.Newf("missing required parameter: %s", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", errors.Newf("parameter %s must be a non-empty string", key)
	}
	return s, nil
}

// numberParam reads a numeric parameter. JSON decoding hands over float64,
// while config files and Go callers may pass integers.
func numberParam(params map[string]interface{}, key string, fallback float64) (float64, error) {
	v, ok := params[key]
	if !ok {
		return fallback, nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	default:
		return 0, errors.Newf("parameter %s must be a number", key)
	}
}
