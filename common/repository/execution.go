package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tessera-ai/flowengine/common/db"
	"github.com/tessera-ai/flowengine/engine/execution"
)

// ExecutionRepository handles database operations for flow executions.
// Trigger, input, output and node records are stored as JSONB.
type ExecutionRepository struct {
	db *db.DB
}

// NewExecutionRepository creates a new execution repository
func NewExecutionRepository(database *db.DB) *ExecutionRepository {
	return &ExecutionRepository{db: database}
}

// Insert persists a freshly started execution
func (r *ExecutionRepository) Insert(ctx context.Context, exec *execution.Execution) error {
	trigger, input, output, records, err := marshalColumns(exec)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO execution (id, flow_id, owner_id, trigger, input, status, error, error_kind, output, node_records, created_at, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = r.db.Exec(
		ctx,
		query,
		exec.ID,
		exec.FlowID,
		exec.OwnerID,
		trigger,
		input,
		exec.Status,
		exec.Error,
		exec.ErrorKind,
		output,
		records,
		exec.CreatedAt,
		exec.StartedAt,
		exec.FinishedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}

	return nil
}

// Update overwrites the mutable columns of an execution
func (r *ExecutionRepository) Update(ctx context.Context, exec *execution.Execution) error {
	_, _, output, records, err := marshalColumns(exec)
	if err != nil {
		return err
	}

	query := `
		UPDATE execution
		SET status = $2, error = $3, error_kind = $4, output = $5, node_records = $6, finished_at = $7
		WHERE id = $1
	`

	_, err = r.db.Exec(
		ctx,
		query,
		exec.ID,
		exec.Status,
		exec.Error,
		exec.ErrorKind,
		output,
		records,
		exec.FinishedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to update execution %s: %w", exec.ID, err)
	}

	return nil
}

// GetByID retrieves an execution by its ID
func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*execution.Execution, error) {
	query := `
		SELECT id, flow_id, owner_id, trigger, input, status, error, error_kind, output, node_records, created_at, started_at, finished_at
		FROM execution
		WHERE id = $1
	`

	exec := &execution.Execution{}
	var trigger, input, output, records []byte

	err := r.db.QueryRow(ctx, query, id).Scan(
		&exec.ID,
		&exec.FlowID,
		&exec.OwnerID,
		&trigger,
		&input,
		&exec.Status,
		&exec.Error,
		&exec.ErrorKind,
		&output,
		&records,
		&exec.CreatedAt,
		&exec.StartedAt,
		&exec.FinishedAt,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to get execution %s: %w", id, err)
	}

	if err := unmarshalColumns(exec, trigger, input, output, records); err != nil {
		return nil, err
	}

	return exec, nil
}

// ListByOwner retrieves recent executions for one owner
func (r *ExecutionRepository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*execution.Execution, error) {
	query := `
		SELECT id, flow_id, owner_id, trigger, input, status, error, error_kind, output, node_records, created_at, started_at, finished_at
		FROM execution
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var execs []*execution.Execution
	for rows.Next() {
		exec := &execution.Execution{}
		var trigger, input, output, records []byte

		err := rows.Scan(
			&exec.ID,
			&exec.FlowID,
			&exec.OwnerID,
			&trigger,
			&input,
			&exec.Status,
			&exec.Error,
			&exec.ErrorKind,
			&output,
			&records,
			&exec.CreatedAt,
			&exec.StartedAt,
			&exec.FinishedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		if err := unmarshalColumns(exec, trigger, input, output, records); err != nil {
			return nil, err
		}
		execs = append(execs, exec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return execs, nil
}

// marshalColumns serializes the JSONB columns of an execution
func marshalColumns(exec *execution.Execution) (trigger, input, output, records []byte, err error) {
	if trigger, err = json.Marshal(exec.Trigger); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal trigger: %w", err)
	}
	if input, err = json.Marshal(exec.Input); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal input: %w", err)
	}
	if output, err = json.Marshal(exec.Output); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal output: %w", err)
	}
	if records, err = json.Marshal(exec.Records); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to marshal node records: %w", err)
	}
	return trigger, input, output, records, nil
}

// unmarshalColumns restores the JSONB columns of an execution
func unmarshalColumns(exec *execution.Execution, trigger, input, output, records []byte) error {
	for _, col := range []struct {
		name string
		raw  []byte
		dst  interface{}
	}{
		{"trigger", trigger, &exec.Trigger},
		{"input", input, &exec.Input},
		{"output", output, &exec.Output},
		{"node_records", records, &exec.Records},
	} {
		if len(col.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(col.raw, col.dst); err != nil {
			return fmt.Errorf("failed to unmarshal %s for execution %s: %w", col.name, exec.ID, err)
		}
	}
	return nil
}
