// Package config manages application configuration for queuedesk.
//
// Settings are read from environment variables; a .env file in the working
// directory is applied first when present. Per-community policy overrides
// live in a YAML profiles file.
//
// # Configuration Groups
//
//   - ServerConfig: HTTP server settings (port, timeouts, rate limit)
//   - StoreConfig: store driver selection and the per-call timeout
//   - DatabaseConfig: SurrealDB connection settings
//   - JWTConfig: service token signing and validation
//   - DiscordConfig, AMQPConfig: optional adapters, off when unset
//   - OTelConfig: trace export
//   - DispatchConfig: event retry settings
//   - PolicyConfig: deployment-wide ticket policy
//
// # Environment Variables
//
//	STORE_DRIVER          - surrealdb (default), sqlite, or memory
//	STORE_OP_TIMEOUT      - bound on every store call (default: 5s)
//	EVIDENCE_POLICY       - explicit_identifier (default) or attachment
//	CLOSE_ACTION          - destroy (default) or archive
//	CLAIM_NOTICE_DELAY    - completion notice after a claim (default: 5s)
//	CLAIM_TEARDOWN_DELAY  - channel teardown after a claim (default: 60s)
//	TICKET_IDLE_TIMEOUT   - auto-close of untouched tickets, 0 disables (default: 24h)
//	COMMUNITY_PROFILES_PATH - YAML file of per-community overrides
//
// # Community Profiles
//
//	communities:
//	  "901":
//	    evidence_policy: attachment
//	    close_action: archive
//	    staff_role: "455"
//	    claim_teardown_delay: 2m
package config
