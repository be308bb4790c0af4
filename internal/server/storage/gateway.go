package storage

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dmitrijs2005/gophdrop/internal/common"
	"github.com/dmitrijs2005/gophdrop/internal/logging"
	"github.com/dmitrijs2005/gophdrop/internal/server/models"
)

// Options configures an S3Gateway.
type Options struct {
	Bucket string
	// KeyPrefix limits stale-upload scans to the gateway's own keys.
	KeyPrefix string
	// PartURLTTL is the validity of presigned part URLs.
	PartURLTTL time.Duration
	// PublicBaseURL is the base of descriptor URLs, e.g. a CDN origin.
	PublicBaseURL string
}

// S3Gateway drives multipart uploads against one bucket. Clients upload part
// bytes directly to the store using the presigned URLs it hands out; the
// gateway only sees identifiers and ETags.
type S3Gateway struct {
	client    S3API
	presigner Presigner
	bucket    string
	prefix    string
	partTTL   time.Duration
	baseURL   string
	log       logging.Logger
	now       func() time.Time
}

// NewS3Gateway builds a gateway over an existing client pair.
func NewS3Gateway(client S3API, presigner Presigner, opts Options, log logging.Logger) *S3Gateway {
	if opts.PartURLTTL <= 0 {
		opts.PartURLTTL = 2 * time.Hour
	}
	return &S3Gateway{
		client:    client,
		presigner: presigner,
		bucket:    opts.Bucket,
		prefix:    opts.KeyPrefix,
		partTTL:   opts.PartURLTTL,
		baseURL:   strings.TrimRight(opts.PublicBaseURL, "/"),
		log:       log.With("module", "storage"),
		now:       time.Now,
	}
}

// InitiateMultipart starts one store-side multipart upload for key and
// returns the store-assigned upload id.
func (g *S3Gateway) InitiateMultipart(ctx context.Context, key, contentType string, metadata map[string]string) (string, error) {
	in := &s3.CreateMultipartUploadInput{
		Bucket:   aws.String(g.bucket),
		Key:      aws.String(key),
		Metadata: metadata,
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}

	out, err := g.client.CreateMultipartUpload(ctx, in)
	if err != nil {
		g.log.Error(ctx, "failed to create multipart upload", "key", key, "error", err)
		return "", g.opError("CreateMultipartUpload", key, err)
	}

	id := aws.ToString(out.UploadId)
	if id == "" {
		return "", g.opError("CreateMultipartUpload", key, fmt.Errorf("store returned empty upload id"))
	}

	g.log.Debug(ctx, "created multipart upload", "key", key, "external_upload_id", id)
	return id, nil
}

// GeneratePartAuthorizations presigns one UploadPart PUT per part number
// 1..totalChunks, in order.
func (g *S3Gateway) GeneratePartAuthorizations(ctx context.Context, externalUploadID, key string, totalChunks int) ([]models.PartAuthorization, error) {
	if totalChunks < 1 || totalChunks > common.MaxParts {
		return nil, fmt.Errorf("%w: total chunks must be within 1..%d, got %d", common.ErrInvalidRequest, common.MaxParts, totalChunks)
	}
	if externalUploadID == "" || key == "" {
		return nil, fmt.Errorf("%w: external upload id and key are required", common.ErrInvalidState)
	}

	expiresAt := g.now().Add(g.partTTL)
	parts := make([]models.PartAuthorization, 0, totalChunks)

	for n := 1; n <= totalChunks; n++ {
		req, err := g.presigner.PresignUploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(g.bucket),
			Key:        aws.String(key),
			UploadId:   aws.String(externalUploadID),
			PartNumber: aws.Int32(int32(n)),
		}, s3.WithPresignExpires(g.partTTL))
		if err != nil {
			return nil, g.opError("PresignUploadPart", key, fmt.Errorf("part %d: %w", n, err))
		}

		method := req.Method
		if method == "" {
			method = http.MethodPut
		}
		parts = append(parts, models.PartAuthorization{
			PartNumber: n,
			URL:        req.URL,
			Method:     method,
			ExpiresAt:  expiresAt,
		})
	}

	return parts, nil
}

// CompleteMultipart assembles the parts named by tokens (ETags in part
// order). A token count different from the session's TotalChunks fails with
// common.ErrPartCountMismatch before the store is contacted. The returned
// size comes from the store, never from the client's declaration.
func (g *S3Gateway) CompleteMultipart(ctx context.Context, s *models.UploadSession, tokens []string) (*models.ObjectDescriptor, error) {
	if len(tokens) != s.TotalChunks {
		return nil, fmt.Errorf("%w: got %d tokens, want %d", common.ErrPartCountMismatch, len(tokens), s.TotalChunks)
	}
	if !s.Attached() {
		return nil, fmt.Errorf("%w: no external upload attached", common.ErrInvalidState)
	}

	parts := make([]types.CompletedPart, len(tokens))
	for i, tok := range tokens {
		parts[i] = types.CompletedPart{
			ETag:       aws.String(tok),
			PartNumber: aws.Int32(int32(i + 1)),
		}
	}

	_, err := g.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(g.bucket),
		Key:             aws.String(s.ExternalKey),
		UploadId:        aws.String(s.ExternalUploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		// a previous attempt may have assembled the object already
		exists, headErr := g.ExistsObject(ctx, s.ExternalKey)
		if headErr != nil || !exists {
			g.log.Error(ctx, "failed to complete multipart upload",
				"key", s.ExternalKey, "external_upload_id", s.ExternalUploadID, "error", err)
			return nil, fmt.Errorf("%w: %w", common.ErrStoreCompletion, g.opError("CompleteMultipartUpload", s.ExternalKey, err))
		}
		g.log.Info(ctx, "object already assembled, treating completion as done",
			"key", s.ExternalKey, "external_upload_id", s.ExternalUploadID)
	}

	head, err := g.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(s.ExternalKey),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrStoreCompletion, g.opError("HeadObject", s.ExternalKey, err))
	}

	d := &models.ObjectDescriptor{
		URL:         g.ObjectURL(s.ExternalKey),
		Key:         s.ExternalKey,
		Size:        aws.ToInt64(head.ContentLength),
		ETag:        strings.Trim(aws.ToString(head.ETag), `"`),
		ContentType: aws.ToString(head.ContentType),
	}

	g.log.Info(ctx, "completed multipart upload", "key", d.Key, "size", d.Size, "parts", len(parts))
	return d, nil
}

// AbortMultipart releases the store-side upload of s. It reports false
// without error when nothing was attached or the store no longer knows the
// upload, so repeated calls are safe.
func (g *S3Gateway) AbortMultipart(ctx context.Context, s *models.UploadSession) (bool, error) {
	if s.ExternalUploadID == "" {
		return false, nil
	}
	return g.AbortUpload(ctx, s.ExternalKey, s.ExternalUploadID)
}

// AbortUpload aborts an upload by store identifiers.
func (g *S3Gateway) AbortUpload(ctx context.Context, key, externalUploadID string) (bool, error) {
	_, err := g.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(g.bucket),
		Key:      aws.String(key),
		UploadId: aws.String(externalUploadID),
	})
	if err != nil {
		if isNoSuchUpload(err) {
			return false, nil
		}
		return false, g.opError("AbortMultipartUpload", key, err)
	}

	g.log.Debug(ctx, "aborted multipart upload", "key", key, "external_upload_id", externalUploadID)
	return true, nil
}

// ExistsObject checks key with HeadObject.
func (g *S3Gateway) ExistsObject(ctx context.Context, key string) (bool, error) {
	_, err := g.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, g.opError("HeadObject", key, err)
}

// ListStaleUploads returns in-progress multipart uploads under the key
// prefix that were initiated more than olderThan ago.
func (g *S3Gateway) ListStaleUploads(ctx context.Context, olderThan time.Duration) ([]models.StaleUpload, error) {
	cutoff := g.now().Add(-olderThan)

	in := &s3.ListMultipartUploadsInput{Bucket: aws.String(g.bucket)}
	if g.prefix != "" {
		in.Prefix = aws.String(strings.TrimRight(g.prefix, "/") + "/")
	}

	var stale []models.StaleUpload
	for {
		out, err := g.client.ListMultipartUploads(ctx, in)
		if err != nil {
			return nil, g.opError("ListMultipartUploads", "", err)
		}

		for _, u := range out.Uploads {
			initiated := aws.ToTime(u.Initiated)
			if initiated.IsZero() || initiated.After(cutoff) {
				continue
			}
			stale = append(stale, models.StaleUpload{
				Key:              aws.ToString(u.Key),
				ExternalUploadID: aws.ToString(u.UploadId),
				InitiatedAt:      initiated,
			})
		}

		if !aws.ToBool(out.IsTruncated) {
			break
		}
		in.KeyMarker = out.NextKeyMarker
		in.UploadIdMarker = out.NextUploadIdMarker
	}

	return stale, nil
}

// PresignDownload returns a presigned GET for key valid for ttl.
func (g *S3Gateway) PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := g.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(g.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", g.opError("PresignGetObject", key, err)
	}
	return req.URL, nil
}

// ObjectURL is the stable, unsigned location of key.
func (g *S3Gateway) ObjectURL(key string) string {
	escaped := (&url.URL{Path: key}).EscapedPath()
	if g.baseURL != "" {
		return g.baseURL + "/" + strings.TrimLeft(escaped, "/")
	}
	return "s3://" + g.bucket + "/" + strings.TrimLeft(key, "/")
}
