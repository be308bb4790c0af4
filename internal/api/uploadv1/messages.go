// Package uploadv1 is the wire contract of gophdrop.v1.UploadService.
package uploadv1

import "time"

type InitiateUploadRequest struct {
	ConversationID string `json:"conversation_id"`
	OwnerID        string `json:"owner_id"`
	FileName       string `json:"file_name"`
	FileSize       int64  `json:"file_size"`
	FileType       string `json:"file_type"`
	TotalChunks    int    `json:"total_chunks"`
}

type PartAuthorization struct {
	PartNumber int       `json:"part_number"`
	URL        string    `json:"url"`
	Method     string    `json:"method"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type InitiateUploadResponse struct {
	UploadID  string              `json:"upload_id"`
	ObjectKey string              `json:"object_key"`
	ExpiresAt time.Time           `json:"expires_at"`
	Parts     []PartAuthorization `json:"parts"`
}

type CompleteUploadRequest struct {
	UploadID string `json:"upload_id"`
	// CompletionTokens are the part ETags in part order.
	CompletionTokens []string `json:"completion_tokens"`
}

type CompleteUploadResponse struct {
	URL         string `json:"url"`
	Key         string `json:"key"`
	Size        int64  `json:"size"`
	ETag        string `json:"etag"`
	ContentType string `json:"content_type"`
}

type AbortUploadRequest struct {
	UploadID string `json:"upload_id"`
}

type AbortUploadResponse struct {
	Aborted bool `json:"aborted"`
}

type GetUploadStatusRequest struct {
	UploadID string `json:"upload_id"`
}

type GetUploadStatusResponse struct {
	UploadID    string     `json:"upload_id"`
	State       string     `json:"state"`
	TotalChunks int        `json:"total_chunks"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

type GetDownloadURLRequest struct {
	Key string `json:"key"`
}

type GetDownloadURLResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}
