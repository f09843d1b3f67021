// Package migrations embeds the SQL schema applied with golang-migrate.
package migrations

import "embed"

// FS holds every migration file
//
//go:embed ledger/*.sql audit/*.sql
var FS embed.FS

const (
	// LedgerDir holds users, requests, secret_names and audit_logs
	LedgerDir = "ledger"

	// AuditDir holds audit_logs only, for a dedicated audit database
	AuditDir = "audit"
)
