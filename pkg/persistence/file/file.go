// Package file provides file-based persistence for execution records.
// Each execution is one JSON document; logs live in a sibling directory.
// Intended for the simulator backend and tests, not production storage.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/flowwatch/flowwatch/pkg/models"
	"github.com/flowwatch/flowwatch/pkg/persistence"
)

const executionsDir = "executions"
const logsDir = "logs"

// Persistence implements persistence.Persistence on the file system.
type Persistence struct {
	root string
	mu   sync.RWMutex
}

func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{root: cleanRoot}
}

func (p *Persistence) Executions(_ context.Context) ([]*models.Execution, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	dir := filepath.Join(p.root, executionsDir)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*models.Execution{}, nil
		}

		return nil, fmt.Errorf("read executions directory: %w", err)
	}

	executions := make([]*models.Execution, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		execution, err := p.readExecution(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}

		executions = append(executions, execution)
	}

	// Newest first, matching the backend list contract.
	sort.Slice(executions, func(i, j int) bool {
		return executions[i].StartedAt.After(executions[j].StartedAt)
	})

	return executions, nil
}

func (p *Persistence) ExecutionByID(_ context.Context, id string) (*models.Execution, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	execution, err := p.readExecution(p.executionPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewExecutionError("ExecutionByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("ExecutionByID", id, err)
	}

	return execution, nil
}

func (p *Persistence) SaveExecution(_ context.Context, execution *models.Execution) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	dir := filepath.Join(p.root, executionsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return persistence.NewExecutionError("SaveExecution", execution.ID, err)
	}

	payload, err := json.MarshalIndent(execution, "", "  ")
	if err != nil {
		return persistence.NewExecutionError("SaveExecution", execution.ID, err)
	}

	if err := os.WriteFile(p.executionPath(execution.ID), payload, 0o644); err != nil {
		return persistence.NewExecutionError("SaveExecution", execution.ID, err)
	}

	return nil
}

func (p *Persistence) DeleteExecution(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.Remove(p.executionPath(id)); err != nil {
		if os.IsNotExist(err) {
			return persistence.NewExecutionError("DeleteExecution", id, persistence.ErrExecutionNotFound)
		}

		return persistence.NewExecutionError("DeleteExecution", id, err)
	}

	// Logs are best-effort cleanup.
	_ = os.Remove(p.logPath(id))

	return nil
}

func (p *Persistence) ExecutionLogs(_ context.Context, id string) ([]models.LogEntry, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if _, err := os.Stat(p.executionPath(id)); err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.NewExecutionError("ExecutionLogs", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("ExecutionLogs", id, err)
	}

	payload, err := os.ReadFile(p.logPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return []models.LogEntry{}, nil
		}

		return nil, persistence.NewExecutionError("ExecutionLogs", id, err)
	}

	var logs []models.LogEntry
	if err := json.Unmarshal(payload, &logs); err != nil {
		return nil, persistence.NewExecutionError("ExecutionLogs", id, err)
	}

	return logs, nil
}

func (p *Persistence) AppendExecutionLog(ctx context.Context, id string, entry models.LogEntry) error {
	logs, err := p.ExecutionLogs(ctx, id)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	logs = append(logs, entry)

	if err := os.MkdirAll(filepath.Join(p.root, logsDir), 0o755); err != nil {
		return persistence.NewExecutionError("AppendExecutionLog", id, err)
	}

	payload, err := json.MarshalIndent(logs, "", "  ")
	if err != nil {
		return persistence.NewExecutionError("AppendExecutionLog", id, err)
	}

	if err := os.WriteFile(p.logPath(id), payload, 0o644); err != nil {
		return persistence.NewExecutionError("AppendExecutionLog", id, err)
	}

	return nil
}

// HealthCheck verifies the root directory exists.
func (p *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(p.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Close performs any necessary cleanup. Nothing to do for files.
func (p *Persistence) Close(_ context.Context) error {
	return nil
}

func (p *Persistence) executionPath(id string) string {
	return filepath.Join(p.root, executionsDir, id+".json")
}

func (p *Persistence) logPath(id string) string {
	return filepath.Join(p.root, logsDir, id+".json")
}

func (p *Persistence) readExecution(path string) (*models.Execution, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var execution models.Execution
	if err := json.Unmarshal(payload, &execution); err != nil {
		return nil, fmt.Errorf("unmarshal execution file %s: %w", path, err)
	}

	return &execution, nil
}
