// Package common contains shared constants and sentinel errors used across
// gophdrop components.
package common

// AccessTokenHeaderName is the gRPC metadata key that carries the upstream
// access token when token verification is enabled.
const AccessTokenHeaderName = "access_token"

// MaxParts is the largest part count an S3 multipart upload accepts.
const MaxParts = 10000
