// Package jwt signs and verifies the bearer tokens that identify workspace
// owners on the key management API.
package jwt
