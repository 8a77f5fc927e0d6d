package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Create workflow_definitions table
			CREATE TABLE workflow_definitions (
				id VARCHAR(255) PRIMARY KEY,
				organization_id VARCHAR(255) NOT NULL,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				scope VARCHAR(20) NOT NULL CHECK (scope IN ('org', 'personal')),
				owner_user_id VARCHAR(255) NOT NULL DEFAULT '',
				trigger_type VARCHAR(50) NOT NULL,
				trigger_config JSONB NOT NULL DEFAULT '{}',
				conditions JSONB NOT NULL DEFAULT '[]',
				condition_logic VARCHAR(3) NOT NULL DEFAULT 'AND' CHECK (condition_logic IN ('AND', 'OR')),
				actions JSONB NOT NULL DEFAULT '[]',
				is_enabled BOOLEAN NOT NULL DEFAULT true,
				rate_limit_per_hour INTEGER,
				rate_limit_per_entity_per_day INTEGER,
				run_count INTEGER NOT NULL DEFAULT 0,
				last_run_at TIMESTAMP WITH TIME ZONE,
				last_error TEXT NOT NULL DEFAULT '',
				created_by VARCHAR(255) NOT NULL DEFAULT '',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_definitions_org_trigger ON workflow_definitions(organization_id, trigger_type) WHERE is_enabled;
			CREATE INDEX idx_workflow_definitions_owner ON workflow_definitions(owner_user_id);
			CREATE INDEX idx_workflow_definitions_created_at ON workflow_definitions(created_at);
		`,
		2: `
			-- Create workflow_executions table (the execution ledger, rows are never deleted)
			CREATE TABLE workflow_executions (
				id VARCHAR(255) PRIMARY KEY,
				workflow_id VARCHAR(255) NOT NULL,
				organization_id VARCHAR(255) NOT NULL,
				event_id VARCHAR(255) NOT NULL,
				depth INTEGER NOT NULL DEFAULT 0,
				event_source VARCHAR(20) NOT NULL CHECK (event_source IN ('user', 'workflow', 'system')),
				trigger_type VARCHAR(50) NOT NULL,
				entity_type VARCHAR(100) NOT NULL,
				entity_id VARCHAR(255) NOT NULL,
				trigger_event JSONB NOT NULL DEFAULT '{}',
				dedupe_key VARCHAR(512),
				matched_conditions BOOLEAN NOT NULL DEFAULT false,
				actions_executed JSONB NOT NULL DEFAULT '[]',
				status VARCHAR(20) NOT NULL,
				error_message TEXT NOT NULL DEFAULT '',
				duration_ms BIGINT NOT NULL DEFAULT 0,
				triggered_by_user_id VARCHAR(255) NOT NULL DEFAULT '',
				paused_at_action_index INTEGER,
				paused_task_id VARCHAR(255),
				paused_at TIMESTAMP WITH TIME ZONE,
				executed_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_workflow_executions_window ON workflow_executions(workflow_id, executed_at);
			CREATE INDEX idx_workflow_executions_entity_window ON workflow_executions(workflow_id, entity_id, executed_at);
			CREATE INDEX idx_workflow_executions_dedupe_key ON workflow_executions(dedupe_key) WHERE dedupe_key IS NOT NULL;
			CREATE UNIQUE INDEX idx_workflow_executions_dedupe_unique ON workflow_executions(dedupe_key)
				WHERE dedupe_key IS NOT NULL AND status <> 'skipped';
			CREATE INDEX idx_workflow_executions_event ON workflow_executions(event_id);
			CREATE INDEX idx_workflow_executions_paused ON workflow_executions(paused_at) WHERE status = 'paused';
		`,
		3: `
			-- Page the expiry sweep on (paused_at, id)
			DROP INDEX IF EXISTS idx_workflow_executions_paused;
			CREATE INDEX idx_workflow_executions_paused ON workflow_executions(paused_at, id) WHERE status = 'paused';
		`,
	}
}
