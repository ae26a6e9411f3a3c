// Package identity verifies bearer tokens minted by the identity provider
// and turns them into registry actors.
//
// It provides:
//   - Verifier: validates HS256 tokens and resolves admin capability
//   - Issuer: mints tokens for local tooling and tests
//   - Authenticate: Gin middleware attaching the verified *model.Actor
//   - RequireActor: Gin middleware rejecting unauthenticated calls
package identity
