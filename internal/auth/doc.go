// Package auth provides identity resolution and credential authentication
// for the Gray Logic identity service.
//
// A deployment runs either in single-user mode, where every request acts as
// the built-in core identity, or in multiuser mode, where callers register
// and log in. The package implements:
//   - Argon2id password hashing with parameters recorded in each hash
//   - TOTP second factor enrollment and verification (RFC 6238)
//   - Opaque session tokens, one per user, stored as SHA-256 hashes with lazy expiry
//   - The persisted single-user/multiuser switch
//   - Identity precedence: token claim, then explicit UUID, then core while single-user
//   - Permission templates (local, token, normal, any) for the HTTP layer
//
// Raw tokens, passwords and TOTP secrets are never logged or serialised.
// The one exception is the core password generated on first boot by SeedCore.
package auth
