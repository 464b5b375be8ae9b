// Package jwt issues and verifies user access tokens for the local backend and reads
// expiry from tokens minted by the hosted backend.
package jwt
