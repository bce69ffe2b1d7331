// Package logging provides structured logging for the LCN gateway.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Size-rotated log files via lumberjack
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "file"     # stdout, stderr, file
//	  file:
//	    path: "/var/log/graylogic-lcn.log"
//	    max_size: 50      # MB
//	    max_backups: 5
//	    max_age: 28       # days
//
// # Security
//
// Never log secrets. PCHK passwords in particular must not appear in
// connection log lines.
package logging
