// Package auth provides pluggable caller authentication for gemlink.
//
// Authentication uses a chain-of-responsibility pattern with three-outcome
// voting: each authenticator returns Yes (identity found), No (credentials
// invalid), or Abstain (can't handle). A configurable default voter decides
// when all authenticators abstain.
//
// Auth is implemented as HTTP middleware applied to the /v1 API routes,
// keeping it decoupled from gateway logic.
package auth
