// Package uploads orchestrates resumable multipart uploads: it pairs an
// ephemeral session in the registry with a multipart upload in the object
// store and keeps the two consistent across completion, abort and expiry.
package uploads

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophdrop/internal/common"
	"github.com/dmitrijs2005/gophdrop/internal/logging"
	"github.com/dmitrijs2005/gophdrop/internal/server/models"
	"github.com/dmitrijs2005/gophdrop/internal/server/notify"
	"github.com/dmitrijs2005/gophdrop/internal/server/registry"
	"github.com/dmitrijs2005/gophdrop/internal/validatex"
	"github.com/google/uuid"
)

// cleanupTimeout bounds compensating work that must outlive the request or
// timer that started it.
const cleanupTimeout = 30 * time.Second

// Storage is the object store gateway the orchestrator drives.
type Storage interface {
	InitiateMultipart(ctx context.Context, key, contentType string, metadata map[string]string) (string, error)
	GeneratePartAuthorizations(ctx context.Context, externalUploadID, key string, totalChunks int) ([]models.PartAuthorization, error)
	CompleteMultipart(ctx context.Context, s *models.UploadSession, tokens []string) (*models.ObjectDescriptor, error)
	AbortMultipart(ctx context.Context, s *models.UploadSession) (bool, error)
	AbortUpload(ctx context.Context, key, externalUploadID string) (bool, error)
	ListStaleUploads(ctx context.Context, olderThan time.Duration) ([]models.StaleUpload, error)
	PresignDownload(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type Options struct {
	KeyPrefix      string
	SessionTTL     time.Duration
	DownloadURLTTL time.Duration
	StaleUploadAge time.Duration
	ClaimBatchSize int
}

type InitiateRequest struct {
	ConversationID string `validate:"notblank"`
	OwnerID        string `validate:"notblank"`
	FileName       string `validate:"notblank"`
	FileSize       int64  `validate:"gte=0"`
	FileType       string
	TotalChunks    int `validate:"min=1,max=10000"`
}

type InitiateResult struct {
	UploadID  string
	ObjectKey string
	ExpiresAt time.Time
	Parts     []models.PartAuthorization
}

type Service struct {
	registry registry.Registry
	store    Storage
	notifier notify.Notifier
	log      logging.Logger
	opts     Options
	stats    counters

	now   func() time.Time
	newID func() string
}

// NewService wires the orchestrator. Backends that fire expiry themselves
// get the shared expiry handler installed.
func NewService(reg registry.Registry, store Storage, notifier notify.Notifier, opts Options, log logging.Logger) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if opts.ClaimBatchSize <= 0 {
		opts.ClaimBatchSize = 100
	}

	s := &Service{
		registry: reg,
		store:    store,
		notifier: notifier,
		log:      log,
		opts:     opts,
		now:      time.Now,
		newID:    uuid.NewString,
	}

	if n, ok := reg.(registry.ExpiryNotifier); ok {
		n.OnExpire(s.handleExpired)
	}

	return s
}

func (s *Service) Stats() Stats {
	return s.stats.snapshot()
}

// Initiate creates a session, opens the store upload and returns one part
// authorization per chunk.
func (s *Service) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	if err := validatex.Struct(req); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	session := &models.UploadSession{
		UploadID:       s.newID(),
		ConversationID: req.ConversationID,
		OwnerID:        req.OwnerID,
		FileName:       req.FileName,
		FileSize:       req.FileSize,
		FileType:       req.FileType,
		TotalChunks:    req.TotalChunks,
		State:          models.StateCreated,
		CreatedAt:      now,
	}
	log := s.log.With("upload_id", session.UploadID, "conversation_id", session.ConversationID)

	cctx, cancel := cleanupContext(ctx)
	defer cancel()

	if err := s.registry.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	if err := s.registry.ScheduleExpiry(ctx, session.UploadID, s.opts.SessionTTL); err != nil {
		s.discard(cctx, session.UploadID)
		return nil, fmt.Errorf("schedule expiry: %w", err)
	}

	key := objectKey(s.opts.KeyPrefix, session.ConversationID, session.UploadID, session.FileName)
	extID, err := s.store.InitiateMultipart(ctx, key, session.FileType, map[string]string{
		"upload-id":       session.UploadID,
		"conversation-id": session.ConversationID,
		"owner-id":        session.OwnerID,
	})
	if err != nil {
		s.stats.initiationFailures.Add(1)
		s.discard(cctx, session.UploadID)
		log.Error(ctx, "store initiation failed", "error", err)
		if errors.Is(err, common.ErrStoreInitiation) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", common.ErrStoreInitiation, err)
	}

	session.ExternalUploadID = extID
	session.ExternalKey = key

	attached, err := s.registry.AttachExternalInfo(ctx, session.UploadID, extID, key)
	if err != nil || !attached {
		// The session went away (aborted or expired) while the store upload
		// was being opened. The store upload is ours alone to release.
		s.stats.compensatingAborts.Add(1)
		s.abortStore(cctx, session, "attach_failed")
		if err != nil {
			s.discard(cctx, session.UploadID)
			return nil, fmt.Errorf("attach external info: %w", err)
		}
		log.Warn(ctx, "session vanished before attach")
		return nil, common.ErrSessionNotFound
	}

	parts, err := s.store.GeneratePartAuthorizations(ctx, extID, key, session.TotalChunks)
	if err != nil {
		s.discard(cctx, session.UploadID)
		s.abortStore(cctx, session, "presign_failed")
		return nil, fmt.Errorf("generate part authorizations: %w", err)
	}

	s.stats.initiated.Add(1)
	log.Info(ctx, "upload initiated", "key", key, "total_chunks", session.TotalChunks)

	return &InitiateResult{
		UploadID:  session.UploadID,
		ObjectKey: key,
		ExpiresAt: now.Add(s.opts.SessionTTL),
		Parts:     parts,
	}, nil
}

// Complete assembles the uploaded parts into the final object. The token
// count is checked before the session is claimed, so a rejected call leaves
// the upload resumable.
func (s *Service) Complete(ctx context.Context, uploadID string, tokens []string) (*models.ObjectDescriptor, error) {
	session, ok, err := s.registry.Get(ctx, uploadID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if !ok {
		return nil, common.ErrSessionNotFound
	}

	switch session.State {
	case models.StateCompleting:
		return nil, common.ErrCompletionInProgress
	case models.StateAwaitingParts:
	default:
		return nil, common.ErrInvalidState
	}

	if len(tokens) != session.TotalChunks {
		s.stats.partCountMismatches.Add(1)
		return nil, fmt.Errorf("%w: got %d, want %d", common.ErrPartCountMismatch, len(tokens), session.TotalChunks)
	}
	for i, t := range tokens {
		if strings.TrimSpace(t) == "" {
			return nil, fmt.Errorf("%w: empty completion token for part %d", common.ErrInvalidRequest, i+1)
		}
	}

	won, err := s.registry.TransitionState(ctx, uploadID, models.StateAwaitingParts, models.StateCompleting)
	if err != nil {
		return nil, fmt.Errorf("claim session: %w", err)
	}
	if !won {
		if _, still, _ := s.registry.Get(ctx, uploadID); !still {
			return nil, common.ErrSessionNotFound
		}
		return nil, common.ErrCompletionInProgress
	}

	log := s.log.With("upload_id", uploadID, "conversation_id", session.ConversationID)

	// From here on the session is ours; a client hanging up must not leave
	// it stuck in completing.
	cctx, cancel := cleanupContext(ctx)
	defer cancel()

	if err := s.registry.CancelExpiryTimer(cctx, uploadID); err != nil {
		// completing sessions are never claimed by the sweep
		log.Warn(cctx, "cancel expiry failed", "error", err)
	}

	desc, err := s.store.CompleteMultipart(ctx, session, tokens)
	if err != nil {
		s.stats.completionFailures.Add(1)
		log.Error(cctx, "store completion failed", "error", err)
		s.abortStore(cctx, session, "completion_failed")
		s.discard(cctx, uploadID)
		if errors.Is(err, common.ErrStoreCompletion) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", common.ErrStoreCompletion, err)
	}

	s.discard(cctx, uploadID)
	s.stats.completed.Add(1)
	log.Info(cctx, "upload completed", "key", desc.Key, "size", desc.Size)

	if err := s.notifier.UploadCompleted(cctx, session, desc); err != nil {
		log.Warn(cctx, "completion notification failed", "error", err)
	}

	return desc, nil
}

// Abort cancels an upload. It reports false when there was nothing to
// abort. A session being completed cannot be aborted.
func (s *Service) Abort(ctx context.Context, uploadID string) (bool, error) {
	for attempt := 0; attempt < 3; attempt++ {
		session, ok, err := s.registry.Get(ctx, uploadID)
		if err != nil {
			return false, fmt.Errorf("get session: %w", err)
		}
		if !ok {
			return false, nil
		}

		switch session.State {
		case models.StateCompleting:
			return false, common.ErrCompletionInProgress
		case models.StateAborted:
			return false, nil
		}

		// Marking the session aborted fences off a concurrent completion.
		won, err := s.registry.TransitionState(ctx, uploadID, session.State, models.StateAborted)
		if err != nil {
			return false, fmt.Errorf("claim session: %w", err)
		}
		if !won {
			continue
		}

		cctx, cancel := cleanupContext(ctx)
		s.finishAbort(cctx, session)
		cancel()
		return true, nil
	}

	return false, common.ErrCompletionInProgress
}

// Status returns a copy of a live session.
func (s *Service) Status(ctx context.Context, uploadID string) (*models.UploadSession, error) {
	session, ok, err := s.registry.Get(ctx, uploadID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if !ok {
		return nil, common.ErrSessionNotFound
	}
	return session, nil
}

// DownloadURL presigns a GET for an object this service stored.
func (s *Service) DownloadURL(ctx context.Context, key string) (string, time.Time, error) {
	prefix := strings.Trim(s.opts.KeyPrefix, "/")
	if _, ok := uploadIDFromKey(prefix, key); !ok {
		return "", time.Time{}, fmt.Errorf("%w: key %q is not an upload key", common.ErrInvalidRequest, key)
	}

	url, err := s.store.PresignDownload(ctx, key, s.opts.DownloadURLTTL)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("presign download: %w", err)
	}
	return url, s.now().UTC().Add(s.opts.DownloadURLTTL), nil
}

// handleExpired releases the store upload of a session whose TTL elapsed.
// Both the in-process timers and the sweep deliver sessions here, each
// session at most once.
func (s *Service) handleExpired(ctx context.Context, session *models.UploadSession) {
	ctx, cancel := cleanupContext(ctx)
	defer cancel()

	s.stats.expired.Add(1)
	s.log.Warn(ctx, "upload abandoned",
		"upload_id", session.UploadID,
		"conversation_id", session.ConversationID,
		"state", string(session.State),
	)

	if session.Attached() {
		s.abortStore(ctx, session, "expired")
	}
}

// Sweep claims expired sessions in batches until none are left.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	total := 0
	for {
		batch, err := s.registry.ClaimExpired(ctx, s.now(), s.opts.ClaimBatchSize)
		if err != nil {
			return total, fmt.Errorf("claim expired: %w", err)
		}
		for _, session := range batch {
			s.handleExpired(ctx, session)
		}
		total += len(batch)
		if len(batch) < s.opts.ClaimBatchSize || ctx.Err() != nil {
			return total, nil
		}
	}
}

// CleanupStale aborts store uploads no live session owns, left behind by
// crashes between store calls and registry writes.
func (s *Service) CleanupStale(ctx context.Context) (int, error) {
	stale, err := s.store.ListStaleUploads(ctx, s.opts.StaleUploadAge)
	if err != nil {
		return 0, fmt.Errorf("list stale uploads: %w", err)
	}

	aborted := 0
	for _, u := range stale {
		if id, ok := uploadIDFromKey(s.opts.KeyPrefix, u.Key); ok {
			session, found, err := s.registry.Get(ctx, id)
			if err != nil {
				s.log.Warn(ctx, "janitor lookup failed", "upload_id", id, "error", err)
				continue
			}
			if found && session.ExternalUploadID == u.ExternalUploadID {
				if session.State != models.StateCompleting || s.now().Sub(session.CreatedAt) < s.opts.StaleUploadAge {
					continue
				}
				s.log.Warn(ctx, "dropping stuck completion", "upload_id", id)
				s.discard(ctx, id)
			}
		}

		ok, err := s.store.AbortUpload(ctx, u.Key, u.ExternalUploadID)
		if err != nil {
			s.stats.abortFailures.Add(1)
			s.log.Warn(ctx, "janitor abort failed", "key", u.Key, "error", err)
			continue
		}
		if ok {
			aborted++
			s.stats.staleUploadsAborted.Add(1)
		}
	}

	if aborted > 0 {
		s.log.Info(ctx, "stale uploads aborted", "count", aborted)
	}
	return aborted, nil
}

// finishAbort tears down a session already marked aborted.
func (s *Service) finishAbort(ctx context.Context, session *models.UploadSession) {
	uploadID := session.UploadID
	if _, err := s.registry.Delete(ctx, uploadID); err != nil {
		s.log.Warn(ctx, "delete aborted session failed", "upload_id", uploadID, "error", err)
	}
	if err := s.registry.CancelExpiryTimer(ctx, uploadID); err != nil {
		s.log.Warn(ctx, "cancel expiry failed", "upload_id", uploadID, "error", err)
	}

	if session.Attached() {
		s.abortStore(ctx, session, "aborted")
	}
	s.stats.aborted.Add(1)
	s.log.Info(ctx, "upload aborted", "upload_id", uploadID)
}

func cleanupContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
}

func (s *Service) abortStore(ctx context.Context, session *models.UploadSession, reason string) {
	existed, err := s.store.AbortMultipart(ctx, session)
	if err != nil {
		s.stats.abortFailures.Add(1)
		s.log.Error(ctx, "store abort failed",
			"upload_id", session.UploadID, "reason", reason, "error", err)
		return
	}
	s.log.Debug(ctx, "store upload aborted",
		"upload_id", session.UploadID, "reason", reason, "existed", existed)
}

// discard removes the session and its timer, logging failures.
func (s *Service) discard(ctx context.Context, uploadID string) {
	if err := s.registry.CancelExpiryTimer(ctx, uploadID); err != nil {
		s.log.Warn(ctx, "cancel expiry failed", "upload_id", uploadID, "error", err)
	}
	if _, err := s.registry.Delete(ctx, uploadID); err != nil {
		s.log.Warn(ctx, "delete session failed", "upload_id", uploadID, "error", err)
	}
}
