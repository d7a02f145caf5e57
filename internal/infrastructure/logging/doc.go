// Package logging provides structured logging for the identity service.
//
// It wraps log/slog with JSON or text output, level filtering and default
// service/version attributes on every entry. Attributes named password,
// secret, token or code are always written as "***".
//
// # Configuration
//
//	logging:
//	  level: info     # debug | info | warn | error
//	  format: json    # or text
//	  output: stdout  # or stderr
//
// # Security
//
// Never log passwords, session tokens, TOTP secrets or one-time codes.
// Use Redact when a value must be correlated across entries:
//
//	logger.Debug("session issued", "token_ref", logging.Redact(tok))
package logging
