// Package models defines the server-side upload data models.
package models

import "time"

// State is the lifecycle position of an upload session.
type State string

const (
	StateCreated       State = "created"
	StateAwaitingParts State = "awaiting_parts"
	StateCompleting    State = "completing"

	// Terminal states are not kept: completed and expired sessions are
	// removed outright, aborted only marks a session until it is deleted.
	StateCompleted State = "completed"
	StateAborted   State = "aborted"
	StateExpired   State = "expired"
)

// Terminal reports whether no transition may leave s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAborted || s == StateExpired
}

// Expirable reports whether a TTL timeout may still end a session in state s.
func (s State) Expirable() bool {
	return s == StateCreated || s == StateAwaitingParts
}

// UploadSession is the ephemeral record of one multipart upload.
type UploadSession struct {
	UploadID       string
	ConversationID string
	OwnerID        string
	FileName       string
	// FileSize is declared by the client and is advisory only.
	FileSize    int64
	FileType    string
	TotalChunks int
	State       State
	CreatedAt   time.Time
	// ExpiresAt is zero when no expiry is pending.
	ExpiresAt time.Time

	// ExternalUploadID and ExternalKey are assigned by the object store and
	// are either both set or both empty.
	ExternalUploadID string
	ExternalKey      string
}

// Attached reports whether store-side identifiers were attached.
func (s *UploadSession) Attached() bool {
	return s.ExternalUploadID != "" && s.ExternalKey != ""
}

// ExpiredAt reports whether the session's TTL elapsed at now.
func (s *UploadSession) ExpiredAt(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// ClaimableAt reports whether the expiry path owns the session at now.
// Sessions past their deadline in any other state stay deletable.
func (s *UploadSession) ClaimableAt(now time.Time) bool {
	return s.State.Expirable() && s.ExpiredAt(now)
}

// Clone returns a copy safe to hand out of a registry.
func (s *UploadSession) Clone() *UploadSession {
	c := *s
	return &c
}

// PartAuthorization is a time-boxed presigned URL for one part upload.
type PartAuthorization struct {
	PartNumber int
	URL        string
	Method     string
	ExpiresAt  time.Time
}

// ObjectDescriptor describes the assembled object handed to the caller.
type ObjectDescriptor struct {
	URL         string
	Key         string
	Size        int64
	ETag        string
	ContentType string
}

// StaleUpload is a store-side multipart upload found while scanning for
// orphans.
type StaleUpload struct {
	Key              string
	ExternalUploadID string
	InitiatedAt      time.Time
}
