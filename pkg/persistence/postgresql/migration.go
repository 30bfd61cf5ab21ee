package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Flows with embedded graph; node and edge lists are JSONB because
			-- executions only ever read them as an immutable snapshot.
			CREATE TABLE flows (
				id VARCHAR(255) PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL DEFAULT '',
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL CHECK (status IN ('draft', 'active', 'disabled')),
				version INT NOT NULL DEFAULT 1,
				trigger JSONB,
				settings JSONB,
				nodes JSONB NOT NULL DEFAULT '[]',
				edges JSONB NOT NULL DEFAULT '[]',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_flows_status ON flows(status);
			CREATE INDEX idx_flows_tenant_id ON flows(tenant_id);

			-- Immutable graph snapshots taken at activation.
			CREATE TABLE flow_versions (
				flow_id VARCHAR(255) NOT NULL,
				version INT NOT NULL,
				nodes JSONB NOT NULL DEFAULT '[]',
				edges JSONB NOT NULL DEFAULT '[]',
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
				PRIMARY KEY (flow_id, version)
			);

			CREATE TABLE trigger_subscriptions (
				id VARCHAR(255) PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL DEFAULT '',
				flow_id VARCHAR(255) NOT NULL,
				connector_id VARCHAR(255) NOT NULL,
				trigger_name VARCHAR(255) NOT NULL,
				connection_id VARCHAR(255) NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL CHECK (status IN ('active', 'paused')),
				config JSONB NOT NULL DEFAULT '{}',
				filters JSONB,
				webhook_id VARCHAR(255) NOT NULL DEFAULT '',
				webhook_secret VARCHAR(255) NOT NULL DEFAULT '',
				polling_state JSONB,
				last_polled_at TIMESTAMP WITH TIME ZONE,
				next_poll_at TIMESTAMP WITH TIME ZONE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_trigger_subscriptions_flow_id ON trigger_subscriptions(flow_id);
			CREATE INDEX idx_trigger_subscriptions_due ON trigger_subscriptions(status, next_poll_at);

			-- The unique index is the dedup mechanism: concurrent ingestion of
			-- the same logical event resolves at the database, not in code.
			CREATE TABLE trigger_events (
				id VARCHAR(255) PRIMARY KEY,
				subscription_id VARCHAR(255) NOT NULL,
				flow_id VARCHAR(255) NOT NULL,
				data JSONB NOT NULL DEFAULT '{}',
				dedup_key VARCHAR(512) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'dispatched', 'ignored')),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
			);

			CREATE UNIQUE INDEX idx_trigger_events_dedup ON trigger_events(subscription_id, dedup_key);

			CREATE TABLE flow_executions (
				id VARCHAR(255) PRIMARY KEY,
				tenant_id VARCHAR(255) NOT NULL DEFAULT '',
				flow_id VARCHAR(255) NOT NULL,
				flow_version INT NOT NULL,
				trigger_event_id VARCHAR(255),
				status VARCHAR(50) NOT NULL CHECK (status IN ('running', 'waiting', 'completed', 'failed', 'cancelled')),
				context JSONB NOT NULL DEFAULT '{}',
				nodes_executed INT NOT NULL DEFAULT 0,
				error TEXT NOT NULL DEFAULT '',
				wait_node_id VARCHAR(255) NOT NULL DEFAULT '',
				resume_at TIMESTAMP WITH TIME ZONE,
				started_at TIMESTAMP WITH TIME ZONE NOT NULL,
				completed_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_flow_executions_flow_id ON flow_executions(flow_id);
			CREATE INDEX idx_flow_executions_due ON flow_executions(status, resume_at);

			-- Append-only step history.
			CREATE TABLE flow_step_executions (
				id VARCHAR(255) PRIMARY KEY,
				execution_id VARCHAR(255) NOT NULL,
				node_id VARCHAR(255) NOT NULL,
				node_type VARCHAR(50) NOT NULL,
				node_name VARCHAR(255) NOT NULL DEFAULT '',
				input JSONB,
				output JSONB,
				status VARCHAR(50) NOT NULL CHECK (status IN ('success', 'failed', 'skipped')),
				error TEXT NOT NULL DEFAULT '',
				duration_ms BIGINT NOT NULL DEFAULT 0,
				started_at TIMESTAMP WITH TIME ZONE,
				finished_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_flow_step_executions_execution_id ON flow_step_executions(execution_id);
		`,
		2: `
			-- Reconciliation sweep scans pending events by age.
			CREATE INDEX idx_trigger_events_pending ON trigger_events(status, created_at);
		`,
	}
}
