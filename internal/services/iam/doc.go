// Package iam provides session management for sessiond.
//
// The service centralizes every flow that creates, rotates or ends a session:
//
//   - Credential login and registration (bcrypt verification)
//   - Federated sign-in through an OpenID provider (FlowCoordinator)
//   - Refresh token rotation with reuse detection
//   - Request authentication from a cookie or bearer header (RequestAuthenticator)
//   - Email verification and password reset
//
// Architecture:
//
//   - SessionIssuer: the only place an access token and a refresh record are minted together
//   - RequestAuthenticator: ordered token extractors feeding a stateless JWT check
//   - FlowCoordinator: PKCE + nonce + state for the authorization code flow
//   - Service interface: facade used by HTTP handlers and CLI commands
//
// Request Flow:
//
//	Request → RequestAuthenticator.Authenticate() → auth.Principal (id + email)
//	       ↓
//	   Handler → Service.Refresh / Login / Logout → RefreshTokenStore (transactional)
//
// Access tokens are verified without a store lookup, so revocation takes effect
// at the next refresh rather than on the next request.
package iam
