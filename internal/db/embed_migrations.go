package db

import "embed"

// MigrationFS embeds the schema migrations (user_activity_logs, operator_audit_logs) from internal/db/migrations.
// Used by the migrate runner (cmd/migrate, and cmd/server on startup when DATABASE_URL is set).
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
