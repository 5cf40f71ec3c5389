// Package signature builds and verifies detached JWS signatures (RS256) over JSON
// request bodies. The payload segment of a detached token is empty; the verifier
// rebuilds it from the body it already holds.
package signature
