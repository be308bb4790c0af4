package grpc

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/gophdrop/internal/api/uploadv1"
	"github.com/dmitrijs2005/gophdrop/internal/common"
	"github.com/dmitrijs2005/gophdrop/internal/server/uploads"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var reasonCodes = map[common.ReasonCode]codes.Code{
	common.ReasonSessionNotFound:      codes.NotFound,
	common.ReasonPartCountMismatch:    codes.InvalidArgument,
	common.ReasonStoreInitiation:      codes.Unavailable,
	common.ReasonStoreCompletion:      codes.Internal,
	common.ReasonInvalidRequest:       codes.InvalidArgument,
	common.ReasonInvalidState:         codes.FailedPrecondition,
	common.ReasonCompletionInProgress: codes.Aborted,
	common.ReasonUnauthorized:         codes.Unauthenticated,
	common.ReasonInternal:             codes.Internal,
}

// toStatus converts an orchestrator error into a status whose message
// starts with the reason code.
func (s *GRPCServer) toStatus(ctx context.Context, method string, err error) error {
	reason := common.ReasonOf(err)

	var msg string
	switch reason {
	case common.ReasonSessionNotFound:
		msg = common.ErrSessionNotFound.Error()
	case common.ReasonInternal:
		s.logger.Error(ctx, "request failed", "method", method, "error", err)
		msg = "internal error"
	default:
		msg = err.Error()
	}

	code, ok := reasonCodes[reason]
	if !ok {
		code = codes.Internal
	}
	return status.Error(code, string(reason)+": "+msg)
}

func (s *GRPCServer) InitiateUpload(ctx context.Context, req *uploadv1.InitiateUploadRequest) (*uploadv1.InitiateUploadResponse, error) {

	owner := req.OwnerID
	if userID, ok := userIDFromContext(ctx); ok {
		if owner == "" {
			owner = userID
		} else if owner != userID {
			return nil, s.toStatus(ctx, "InitiateUpload", fmt.Errorf("%w: owner does not match token", common.ErrorUnauthorized))
		}
	}

	res, err := s.uploads.Initiate(ctx, uploads.InitiateRequest{
		ConversationID: req.ConversationID,
		OwnerID:        owner,
		FileName:       req.FileName,
		FileSize:       req.FileSize,
		FileType:       req.FileType,
		TotalChunks:    req.TotalChunks,
	})
	if err != nil {
		return nil, s.toStatus(ctx, "InitiateUpload", err)
	}

	parts := make([]uploadv1.PartAuthorization, 0, len(res.Parts))
	for _, p := range res.Parts {
		parts = append(parts, uploadv1.PartAuthorization{
			PartNumber: p.PartNumber,
			URL:        p.URL,
			Method:     p.Method,
			ExpiresAt:  p.ExpiresAt,
		})
	}

	return &uploadv1.InitiateUploadResponse{
		UploadID:  res.UploadID,
		ObjectKey: res.ObjectKey,
		ExpiresAt: res.ExpiresAt,
		Parts:     parts,
	}, nil
}

func (s *GRPCServer) CompleteUpload(ctx context.Context, req *uploadv1.CompleteUploadRequest) (*uploadv1.CompleteUploadResponse, error) {

	d, err := s.uploads.Complete(ctx, req.UploadID, req.CompletionTokens)
	if err != nil {
		return nil, s.toStatus(ctx, "CompleteUpload", err)
	}

	return &uploadv1.CompleteUploadResponse{
		URL:         d.URL,
		Key:         d.Key,
		Size:        d.Size,
		ETag:        d.ETag,
		ContentType: d.ContentType,
	}, nil
}

func (s *GRPCServer) AbortUpload(ctx context.Context, req *uploadv1.AbortUploadRequest) (*uploadv1.AbortUploadResponse, error) {

	aborted, err := s.uploads.Abort(ctx, req.UploadID)
	if err != nil {
		return nil, s.toStatus(ctx, "AbortUpload", err)
	}

	return &uploadv1.AbortUploadResponse{Aborted: aborted}, nil
}

func (s *GRPCServer) GetUploadStatus(ctx context.Context, req *uploadv1.GetUploadStatusRequest) (*uploadv1.GetUploadStatusResponse, error) {

	session, err := s.uploads.Status(ctx, req.UploadID)
	if err != nil {
		return nil, s.toStatus(ctx, "GetUploadStatus", err)
	}

	resp := &uploadv1.GetUploadStatusResponse{
		UploadID:    session.UploadID,
		State:       string(session.State),
		TotalChunks: session.TotalChunks,
		CreatedAt:   session.CreatedAt,
	}
	if !session.ExpiresAt.IsZero() {
		exp := session.ExpiresAt
		resp.ExpiresAt = &exp
	}
	return resp, nil
}

func (s *GRPCServer) GetDownloadURL(ctx context.Context, req *uploadv1.GetDownloadURLRequest) (*uploadv1.GetDownloadURLResponse, error) {

	url, exp, err := s.uploads.DownloadURL(ctx, req.Key)
	if err != nil {
		return nil, s.toStatus(ctx, "GetDownloadUrl", err)
	}

	return &uploadv1.GetDownloadURLResponse{URL: url, ExpiresAt: exp}, nil
}
