// Package auth decodes session credentials for familiar-bridge.
//
// # Decoders
//
// Two SessionDecoder implementations ship with the bridge:
//
//   - UnverifiedDecoder: extracts the "sub" claim from a JWT without
//     signature verification. This matches the demo-grade security model the
//     bridge was designed around: the credential asserts identity and nothing
//     more. Do not deploy it anywhere the token source is untrusted.
//
//   - HS256Decoder: verifies the HS256 signature before extracting the
//     session ID, and can mint tokens (used by the token subcommand and by
//     tests). Enabled automatically when auth.jwt_secret is configured.
//
// Both decoders honor the same contract: decode failures are logged and
// collapse to ok=false. Callers never see decode errors.
//
// # Credential Transport
//
// HTTP calls carry the credential in the Authorization header
// ("Bearer <token>") or a token query parameter; the header wins when both
// are present. WebSocket upgrades carry it in the token query parameter
// only, because the browser WebSocket handshake has no header phase.
package auth
