package server

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maximiliancw/homeworq/hq/store"
	"github.com/maximiliancw/homeworq/hq/task"
)

func TestHandleTasks_List(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, http.MethodGet, srv.url("/api/tasks"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tasks []task.Task
	decodeBody(t, resp, &tasks)
	require.Len(t, tasks, 2)
	assert.Equal(t, "echo", tasks[0].Name)
	assert.Equal(t, "failing", tasks[1].Name)

	resp = doRequest(t, http.MethodPost, srv.url("/api/tasks"), nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHandleTask_Get(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, http.MethodGet, srv.url("/api/tasks/echo"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var tsk task.Task
	decodeBody(t, resp, &tsk)
	assert.Equal(t, "echo", tsk.Name)
	assert.Equal(t, "Echo", tsk.Title)

	resp = doRequest(t, http.MethodGet, srv.url("/api/tasks/ghost"), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doRequest(t, http.MethodGet, srv.url("/api/tasks/"), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Missing task name", errorMessage(t, resp))
}

func TestHandleRunTask(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, http.MethodPost, srv.url("/api/tasks/echo/run"), map[string]interface{}{"value": 42})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result map[string]interface{}
	decodeBody(t, resp, &result)
	assert.Equal(t, "success", result["status"])
	assert.Equal(t, "ok", result["result"])
	require.NotZero(t, result["log_id"])

	logID := int64(result["log_id"].(float64))
	execLog, err := srv.engine.Store().GetLog(logID)
	require.NoError(t, err)
	require.NotNil(t, execLog)
	assert.Equal(t, store.StatusCompleted, execLog.Status)
	assert.Nil(t, execLog.JobID, "ad-hoc runs have no job")
}

func TestHandleRunTask_Failure(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, http.MethodPost, srv.url("/api/tasks/failing/run"), nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "boom", errorMessage(t, resp))

	// The failure is recorded even though the request errored
	total, failed, err := srv.engine.Store().CountLogs()
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, 1, failed)
}

func TestHandleRunTask_UnknownTask(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, http.MethodPost, srv.url("/api/tasks/ghost/run"), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// An unknown task leaves no log behind
	total, _, err := srv.engine.Store().CountLogs()
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestHandleRunTask_RateLimited(t *testing.T) {
	srv := newTestServer(t)

	// Drain the task's token budget, then the next run is rejected
	for srv.limiter("echo").Allow() {
	}

	resp := doRequest(t, http.MethodPost, srv.url("/api/tasks/echo/run"), nil)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Contains(t, errorMessage(t, resp), "Rate limit exceeded")

	// Each task has its own budget
	resp = doRequest(t, http.MethodPost, srv.url("/api/tasks/failing/run"), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleRunTask_MethodNotAllowed(t *testing.T) {
	srv := newTestServer(t)

	resp := doRequest(t, http.MethodGet, srv.url("/api/tasks/echo/run"), nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
