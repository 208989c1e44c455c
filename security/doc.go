// Package security provides the cryptographic and abuse-resistance
// primitives of the authorization server: the symmetric token envelope
// (NaCl secretbox), constant-time secret comparison, client IP
// extraction, and security audit logging.
package security
