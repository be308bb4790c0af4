package uploads

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophdrop/internal/logging"
	"github.com/dmitrijs2005/gophdrop/internal/server/models"
	"github.com/dmitrijs2005/gophdrop/internal/server/registry"
)

type fakeStore struct {
	mu sync.Mutex

	initiateErr error
	presignErr  error
	completeErr error
	abortErr    error

	initiateHook func()
	completeHook func()
	// honorCancel makes CompleteMultipart fail once ctx is done.
	honorCancel bool

	next         int
	initiated    []string
	completed    []string
	aborted      []string
	abortUploads []string
	stale        []models.StaleUpload
}

func (f *fakeStore) InitiateMultipart(ctx context.Context, key, contentType string, metadata map[string]string) (string, error) {
	if f.initiateHook != nil {
		f.initiateHook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.initiateErr != nil {
		return "", f.initiateErr
	}
	f.next++
	f.initiated = append(f.initiated, key)
	return fmt.Sprintf("ext-%d", f.next), nil
}

func (f *fakeStore) GeneratePartAuthorizations(ctx context.Context, externalUploadID, key string, totalChunks int) ([]models.PartAuthorization, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.presignErr != nil {
		return nil, f.presignErr
	}
	parts := make([]models.PartAuthorization, 0, totalChunks)
	for i := 1; i <= totalChunks; i++ {
		parts = append(parts, models.PartAuthorization{
			PartNumber: i,
			URL:        fmt.Sprintf("https://s3.local/%s?partNumber=%d&uploadId=%s", key, i, externalUploadID),
			Method:     "PUT",
		})
	}
	return parts, nil
}

func (f *fakeStore) CompleteMultipart(ctx context.Context, s *models.UploadSession, tokens []string) (*models.ObjectDescriptor, error) {
	if f.completeHook != nil {
		f.completeHook()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.honorCancel && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if f.completeErr != nil {
		return nil, f.completeErr
	}
	f.completed = append(f.completed, s.ExternalUploadID)
	return &models.ObjectDescriptor{
		URL:         "https://files.local/" + s.ExternalKey,
		Key:         s.ExternalKey,
		Size:        s.FileSize,
		ContentType: s.FileType,
	}, nil
}

func (f *fakeStore) AbortMultipart(ctx context.Context, s *models.UploadSession) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return false, err
	}
	f.aborted = append(f.aborted, s.ExternalUploadID)
	if f.abortErr != nil {
		return false, f.abortErr
	}
	return true, nil
}

func (f *fakeStore) AbortUpload(ctx context.Context, key, externalUploadID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.abortUploads = append(f.abortUploads, key)
	return true, nil
}

func (f *fakeStore) ListStaleUploads(ctx context.Context, olderThan time.Duration) ([]models.StaleUpload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.StaleUpload(nil), f.stale...), nil
}

func (f *fakeStore) PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://s3.local/" + key + "?X-Amz-Expires=" + fmt.Sprint(int(ttl.Seconds())), nil
}

func (f *fakeStore) abortCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.aborted)
}

func (f *fakeStore) abortedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.aborted...)
}

type fakeNotifier struct {
	mu      sync.Mutex
	events  []string
	ctxErrs []error
	err     error
}

func (n *fakeNotifier) UploadCompleted(ctx context.Context, s *models.UploadSession, d *models.ObjectDescriptor) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, s.UploadID)
	n.ctxErrs = append(n.ctxErrs, ctx.Err())
	return n.err
}

func testOptions() Options {
	return Options{
		KeyPrefix:      "attachments",
		SessionTTL:     time.Hour,
		DownloadURLTTL: 15 * time.Minute,
		StaleUploadAge: 24 * time.Hour,
		ClaimBatchSize: 100,
	}
}

type fixture struct {
	svc      *Service
	reg      *registry.MemoryRegistry
	store    *fakeStore
	notifier *fakeNotifier
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()

	reg := registry.NewMemoryRegistry()
	store := &fakeStore{}
	notifier := &fakeNotifier{}

	return &fixture{
		svc:      NewService(reg, store, notifier, opts, logging.Nop()),
		reg:      reg,
		store:    store,
		notifier: notifier,
	}
}

func sampleRequest(chunks int) InitiateRequest {
	return InitiateRequest{
		ConversationID: "conv-42",
		OwnerID:        "user-7",
		FileName:       "holiday photo.jpg",
		FileSize:       15 << 20,
		FileType:       "image/jpeg",
		TotalChunks:    chunks,
	}
}

func tokens(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("\"etag-%d\"", i+1)
	}
	return out
}
