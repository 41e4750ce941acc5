package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flowwatch/flowwatch/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Get(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/executions/exec-1", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(models.Execution{
			ID:         "exec-1",
			WorkflowID: "wf-1",
			Status:     models.ExecutionStatusRunning,
			StartedAt:  time.Now().UTC(),
			Steps: []*models.ExecutionStep{
				{ID: "step-1", NodeID: "node-a", Status: models.StepStatusRunning},
			},
		})
	}))
	defer server.Close()

	c := New(server.URL, "secret", nil)

	execution, err := c.Get(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "exec-1", execution.ID)
	assert.Len(t, execution.Steps, 1)
}

func TestClient_Get_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"status":404,"detail":"execution not found"}`))
	}))
	defer server.Close()

	c := New(server.URL, "secret", nil)

	_, err := c.Get(context.Background(), "exec-404")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "execution not found")
}

func TestClient_List_QueryParameters(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		assert.Equal(t, "wf-1", query.Get("workflowId"))
		assert.Equal(t, "failed", query.Get("status"))
		assert.Equal(t, "2", query.Get("page"))
		assert.Equal(t, "50", query.Get("limit"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(ExecutionList{
			Executions: []*models.Execution{
				{ID: "exec-1", WorkflowID: "wf-1", Status: models.ExecutionStatusFailed},
			},
			Total:      1,
			Page:       2,
			TotalPages: 3,
		})
	}))
	defer server.Close()

	c := New(server.URL, "secret", nil)

	list, err := c.List(context.Background(), ListOptions{
		WorkflowID: "wf-1",
		Status:     "failed",
		Page:       2,
		Limit:      50,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, list.Total)
	require.Len(t, list.Executions, 1)
	assert.Equal(t, "exec-1", list.Executions[0].ID)
}

func TestClient_Cancel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/executions/exec-1/cancel", r.URL.Path)

		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := New(server.URL, "secret", nil)

	assert.NoError(t, c.Cancel(context.Background(), "exec-1"))
}

func TestClient_Retry_ReturnsNewExecution(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/executions/exec-1/retry", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(models.Execution{
			ID:         "exec-2",
			WorkflowID: "wf-1",
			Status:     models.ExecutionStatusPending,
		})
	}))
	defer server.Close()

	c := New(server.URL, "secret", nil)

	execution, err := c.Retry(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "exec-2", execution.ID)
	assert.Equal(t, models.ExecutionStatusPending, execution.Status)
}

func TestClient_Logs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/executions/exec-1/logs", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"logs":[
			{"timestamp":"2025-06-01T12:00:00Z","level":"info","message":"step started","node_id":"node-a"},
			{"timestamp":"2025-06-01T12:00:01Z","level":"error","message":"request failed","node_id":"node-a"}
		]}`))
	}))
	defer server.Close()

	c := New(server.URL, "secret", nil)

	logs, err := c.Logs(context.Background(), "exec-1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, models.LogLevelError, logs[1].Level)
	assert.Equal(t, "request failed", logs[1].Message)
}

func TestClient_Delete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)

		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := New(server.URL, "secret", nil)

	assert.NoError(t, c.Delete(context.Background(), "exec-1"))
}

func TestClient_NonProblemErrorBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream exploded"))
	}))
	defer server.Close()

	c := New(server.URL, "secret", nil)

	err := c.Cancel(context.Background(), "exec-1")
	require.Error(t, err)

	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
}
