// Package api implements the HTTP REST API of the identity service.
//
// This package provides:
//   - Registration, login and logout with bearer session tokens
//   - Local-only administration (user list, add, delete, password reset)
//   - Multiuser mode switching
//   - Second-factor enrollment and verification
//   - Per-user audit log queries
//
// # Security
//
// Every route is guarded by a permission template (any, local, token or
// normal). Bearer tokens are HS256 JWT envelopes around the session pair
// {uuid, token}; the pair is re-validated against the session store on every
// request, so a revoked or replaced token stops working immediately even
// though its envelope has not expired.
//
// The caller's source address is taken from the connection only. Proxy
// headers such as X-Forwarded-For are ignored, so local-only routes cannot
// be reached by spoofing a header.
//
// # Lifecycle
//
//	srv, err := api.New(deps)
//	err = srv.Start(ctx)
//	defer srv.Close()
package api
