// Package session verifies the credentials presented at realtime connection
// time.
//
// Access tokens are short-lived PASETO v4.public tokens signed with an
// Ed25519 keypair. Verification is server-authoritative: a structurally
// valid token is still refused when its backing session row is revoked,
// replaced, or expired.
//
// Transport (HTTP/WS) integration is intentionally out of scope here.
package session
