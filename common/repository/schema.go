package repository

import (
	"context"
	"fmt"

	"github.com/tessera-ai/flowengine/common/db"
)

// executionSchema creates the execution table and its lookup indexes
const executionSchema = `
CREATE TABLE IF NOT EXISTS execution (
	id           TEXT PRIMARY KEY,
	flow_id      TEXT NOT NULL,
	owner_id     TEXT NOT NULL DEFAULT '',
	trigger      JSONB,
	input        JSONB,
	status       TEXT NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	error_kind   TEXT NOT NULL DEFAULT '',
	output       JSONB,
	node_records JSONB,
	created_at   TIMESTAMPTZ NOT NULL,
	started_at   TIMESTAMPTZ,
	finished_at  TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_execution_owner_created
	ON execution (owner_id, created_at DESC);

CREATE INDEX IF NOT EXISTS idx_execution_flow
	ON execution (flow_id);
`

// EnsureSchema creates the execution table when it does not exist yet.
// Intended as a bootstrap DB init hook.
func EnsureSchema(ctx context.Context, database *db.DB) error {
	if _, err := database.Exec(ctx, executionSchema); err != nil {
		return fmt.Errorf("failed to ensure execution schema: %w", err)
	}
	return nil
}
