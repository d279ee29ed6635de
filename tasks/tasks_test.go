package tasks

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maximiliancw/homeworq/errors"
	"github.com/maximiliancw/homeworq/hq/task"
	"github.com/maximiliancw/homeworq/internal/httpclient"
)

func TestRegister(t *testing.T) {
	registry := task.NewRegistry()
	require.NoError(t, Register(registry))

	for _, name := range []string{"ping", "run_command", "sleep"} {
		assert.True(t, registry.Has(name), name)
	}

	require.Error(t, Register(registry), "double registration must fail")
}

func TestPing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Probe", "pong")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	// The default client refuses loopback targets, so wrap the test server's
	restore := pingClient
	pingClient = httpclient.WrapClient(server.Client())
	defer func() { pingClient = restore }()

	result, err := Ping(context.Background(), map[string]interface{}{"url": server.URL})
	require.NoError(t, err)

	m, ok := result.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, m["status"])
	headers, ok := m["headers"].(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "pong", headers["X-Probe"])
}

func TestPing_MissingURL(t *testing.T) {
	_, err := Ping(context.Background(), nil)
	require.Error(t, err)

	_, err = Ping(context.Background(), map[string]interface{}{"url": 42})
	require.Error(t, err)
}

func TestPing_BlocksPrivateTargets(t *testing.T) {
	_, err := Ping(context.Background(), map[string]interface{}{"url": "http://127.0.0.1:9"})
	require.Error(t, err)

	_, err = Ping(context.Background(), map[string]interface{}{"url": "http://169.254.169.254/latest/meta-data/"})
	require.Error(t, err)
}

func TestRunCommand(t *testing.T) {
	result, err := RunCommand(context.Background(), map[string]interface{}{"command": "echo hello"})
	require.NoError(t, err)

	m := result.(map[string]interface{})
	assert.Equal(t, "hello\n", m["stdout"])
	assert.Equal(t, "", m["stderr"])
	assert.Equal(t, 0, m["exit_code"])
}

func TestRunCommand_QuotedArgs(t *testing.T) {
	result, err := RunCommand(context.Background(), map[string]interface{}{"command": `echo 'hello world'`})
	require.NoError(t, err)

	m := result.(map[string]interface{})
	assert.Equal(t, "hello world\n", m["stdout"])
}

func TestRunCommand_NonZeroExit(t *testing.T) {
	// The command ran, so its exit code is a result rather than a failure
	result, err := RunCommand(context.Background(), map[string]interface{}{"command": "false"})
	require.NoError(t, err)

	m := result.(map[string]interface{})
	assert.Equal(t, 1, m["exit_code"])
}

func TestRunCommand_Stderr(t *testing.T) {
	result, err := RunCommand(context.Background(), map[string]interface{}{"command": `sh -c "echo oops 1>&2; exit 3"`})
	require.NoError(t, err)

	m := result.(map[string]interface{})
	assert.Equal(t, "oops\n", m["stderr"])
	assert.Equal(t, 3, m["exit_code"])
}

func TestRunCommand_Invalid(t *testing.T) {
	_, err := RunCommand(context.Background(), nil)
	require.Error(t, err, "missing command parameter")

	_, err = RunCommand(context.Background(), map[string]interface{}{"command": "   "})
	require.Error(t, err, "blank command line")

	_, err = RunCommand(context.Background(), map[string]interface{}{"command": "unbalanced 'quote"})
	require.Error(t, err, "unparseable quoting")

	_, err = RunCommand(context.Background(), map[string]interface{}{"command": "no-such-binary-anywhere"})
	require.Error(t, err, "binary not found")
}

func TestRunCommand_Cancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := RunCommand(ctx, map[string]interface{}{"command": "sleep 5"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSleep(t *testing.T) {
	result, err := Sleep(context.Background(), map[string]interface{}{"seconds": 0.05})
	require.NoError(t, err)

	m := result.(map[string]interface{})
	assert.Equal(t, 0.05, m["slept"])
}

func TestSleep_IntegerSeconds(t *testing.T) {
	result, err := Sleep(context.Background(), map[string]interface{}{"seconds": 0})
	require.NoError(t, err)

	m := result.(map[string]interface{})
	assert.Equal(t, 0.0, m["slept"])
}

func TestSleep_Invalid(t *testing.T) {
	_, err := Sleep(context.Background(), map[string]interface{}{"seconds": -1})
	require.Error(t, err)

	_, err = Sleep(context.Background(), map[string]interface{}{"seconds": "soon"})
	require.Error(t, err)
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := Sleep(ctx, map[string]interface{}{"seconds": 30})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}
