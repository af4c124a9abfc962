// Package jwt issues and verifies the gateway's short-lived access tokens.
package jwt
