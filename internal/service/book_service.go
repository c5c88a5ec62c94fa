package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/littlehero/api/internal/bookjob"
	"github.com/littlehero/api/internal/catalog"
	"github.com/littlehero/api/internal/config"
	"github.com/littlehero/api/internal/model"
	"github.com/littlehero/api/internal/storage"
	"github.com/rs/zerolog"
)

var (
	// ErrNotReady is returned when a download is requested before completion.
	ErrNotReady = errors.New("book is not ready")
	// ErrIntegrity means a completed job has lost its pdf.
	ErrIntegrity = errors.New("book integrity error")
	// ErrForbidden is returned for jobs owned by someone else.
	ErrForbidden = errors.New("book belongs to another user")
	// ErrInvalidInput covers rejected requests: unknown adventure, bad photo.
	ErrInvalidInput = errors.New("invalid book request")
)

// CreateBookInput is a validated POST /api/books request.
type CreateBookInput struct {
	OwnerID       string
	ChildName     string
	AdventureType model.AdventureType
	Photo         []byte
	ContentType   string
}

// BookService is the request-side view of book jobs.
type BookService struct {
	machine  *bookjob.Machine
	gateway  *storage.Gateway
	catalog  *catalog.Catalog
	enqueuer Enqueuer
	upload   config.UploadConfig
	ttl      time.Duration
	log      zerolog.Logger
}

func NewBookService(
	machine *bookjob.Machine,
	gateway *storage.Gateway,
	cat *catalog.Catalog,
	enqueuer Enqueuer,
	upload config.UploadConfig,
	presignTTL time.Duration,
	log zerolog.Logger,
) *BookService {
	if presignTTL <= 0 {
		presignTTL = time.Hour
	}
	if upload.MaxBytes <= 0 {
		upload.MaxBytes = 5 * 1024 * 1024
	}
	if len(upload.AllowedTypes) == 0 {
		upload.AllowedTypes = []string{"image/jpeg", "image/jpg", "image/png"}
	}
	return &BookService{
		machine:  machine,
		gateway:  gateway,
		catalog:  cat,
		enqueuer: enqueuer,
		upload:   upload,
		ttl:      presignTTL,
		log:      log.With().Str("component", "book_service").Logger(),
	}
}

// MaxUploadBytes is the largest accepted photo.
func (s *BookService) MaxUploadBytes() int64 {
	return s.upload.MaxBytes
}

// ValidatePhoto checks the declared type against the allow list and the
// sniffed bytes against jpeg/png. It returns the file extension to store.
func (s *BookService) ValidatePhoto(contentType string, data []byte) (string, error) {
	if int64(len(data)) > s.upload.MaxBytes {
		return "", fmt.Errorf("photo exceeds %d bytes: %w", s.upload.MaxBytes, ErrInvalidInput)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("photo is empty: %w", ErrInvalidInput)
	}
	declared := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	if !slices.Contains(s.upload.AllowedTypes, declared) {
		return "", fmt.Errorf("unsupported content type %q: %w", contentType, ErrInvalidInput)
	}
	switch http.DetectContentType(data) {
	case "image/jpeg":
		return "jpg", nil
	case "image/png":
		return "png", nil
	}
	return "", fmt.Errorf("photo is not a jpeg or png image: %w", ErrInvalidInput)
}

// CreateBook stores the photo, records the job in pending and queues it.
func (s *BookService) CreateBook(ctx context.Context, in CreateBookInput) (*model.CreateBookResponse, error) {
	adventure, ok := s.catalog.Lookup(in.AdventureType)
	if !ok {
		return nil, fmt.Errorf("unknown adventure type %q: %w", in.AdventureType, ErrInvalidInput)
	}
	ext, err := s.ValidatePhoto(in.ContentType, in.Photo)
	if err != nil {
		return nil, err
	}

	jobID := uuid.New().String()
	key := storage.UploadKey(jobID, ext)
	if _, err := s.gateway.Put(ctx, key, in.Photo, http.DetectContentType(in.Photo)); err != nil {
		return nil, fmt.Errorf("failed to store photo: %w", err)
	}

	job := &model.BookJob{
		ID:            jobID,
		OwnerID:       in.OwnerID,
		ChildName:     in.ChildName,
		AdventureType: adventure.Type,
		PageCount:     len(adventure.Scenes),
		AssetRefs:     map[string]string{model.RoleUpload: key},
	}
	return s.submit(ctx, job)
}

// RetryBook starts a new job from a failed one. The new job reuses the
// failed job's photo and, at generation time, any illustrations still stored.
func (s *BookService) RetryBook(ctx context.Context, ownerID, id string) (*model.CreateBookResponse, error) {
	old, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	if old.Status != model.BookStatusFailed {
		return nil, fmt.Errorf("book %s is %s, only failed books can be retried: %w", id, old.Status, bookjob.ErrInvalidTransition)
	}
	photo, ok := old.Ref(model.RoleUpload)
	if !ok {
		return nil, fmt.Errorf("book %s has no photo: %w", id, ErrInvalidInput)
	}
	if _, err := s.gateway.Stat(ctx, photo); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("photo of book %s has expired, submit a new request: %w", id, ErrInvalidInput)
		}
		return nil, err
	}
	adventure, ok := s.catalog.Lookup(old.AdventureType)
	if !ok {
		return nil, fmt.Errorf("unknown adventure type %q: %w", old.AdventureType, ErrInvalidInput)
	}

	job := &model.BookJob{
		ID:            uuid.New().String(),
		OwnerID:       old.OwnerID,
		ChildName:     old.ChildName,
		AdventureType: old.AdventureType,
		PageCount:     len(adventure.Scenes),
		AssetRefs:     map[string]string{model.RoleUpload: photo},
		ResumedFrom:   old.ID,
	}
	return s.submit(ctx, job)
}

func (s *BookService) submit(ctx context.Context, job *model.BookJob) (*model.CreateBookResponse, error) {
	if err := s.machine.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save job: %w", err)
	}

	if err := s.enqueuer.Enqueue(ctx, job.ID); err != nil {
		if _, ferr := s.machine.Fail(context.WithoutCancel(ctx), job.ID, "could not be queued"); ferr != nil {
			s.log.Error().Err(ferr).Str("job_id", job.ID).Msg("failed to mark unqueued job failed")
		}
		return nil, err
	}

	s.log.Info().
		Str("job_id", job.ID).
		Str("owner_id", job.OwnerID).
		Str("adventure", string(job.AdventureType)).
		Str("resumed_from", job.ResumedFrom).
		Msg("book job queued")

	return &model.CreateBookResponse{
		ID:          job.ID,
		Status:      job.Status,
		ResumedFrom: job.ResumedFrom,
		CreatedAt:   job.CreatedAt,
	}, nil
}

// owned loads a job and checks the caller owns it.
func (s *BookService) owned(ctx context.Context, ownerID, id string) (*model.BookJob, error) {
	job, err := s.machine.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.OwnerID != ownerID {
		return nil, fmt.Errorf("book %s: %w", id, ErrForbidden)
	}
	return job, nil
}

// GetStatus reads the job from the store on every call.
func (s *BookService) GetStatus(ctx context.Context, ownerID, id string) (*model.BookStatusResponse, error) {
	job, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	resp := s.statusResponse(ctx, job)
	return &resp, nil
}

// StatusEvent is the current state of an owned job as a stream message.
func (s *BookService) StatusEvent(ctx context.Context, ownerID, id string) (*model.StatusEvent, error) {
	job, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}
	event := model.NewStatusEvent(job)
	return &event, nil
}

func (s *BookService) statusResponse(ctx context.Context, job *model.BookJob) model.BookStatusResponse {
	resp := model.BookStatusResponse{
		ID:            job.ID,
		ChildName:     job.ChildName,
		AdventureType: job.AdventureType,
		Status:        job.Status,
		StatusDetail:  job.StatusDetail,
		PagesDone:     job.IllustrationCount(),
		PageCount:     job.PageCount,
		CreatedAt:     job.CreatedAt,
		UpdatedAt:     job.UpdatedAt,
		CompletedAt:   job.CompletedAt,
	}
	if key, ok := job.Ref(model.RoleThumbnail); ok {
		url, err := s.gateway.PresignGet(ctx, key, s.ttl)
		if err != nil {
			s.log.Warn().Err(err).Str("job_id", job.ID).Str("key", key).Msg("failed to presign thumbnail")
		} else {
			resp.ThumbnailURL = url
		}
	}
	return resp
}

// ListBooks returns one page of the caller's books, newest first.
func (s *BookService) ListBooks(ctx context.Context, ownerID string, q model.ListBooksQuery) (*model.BookListResponse, error) {
	jobs, total, err := s.machine.ListByOwner(ctx, ownerID, q.Page, q.Limit)
	if err != nil {
		return nil, err
	}
	resp := &model.BookListResponse{
		Total: total,
		Page:  q.Page,
		Limit: q.Limit,
		Books: make([]model.BookStatusResponse, 0, len(jobs)),
	}
	for _, job := range jobs {
		resp.Books = append(resp.Books, s.statusResponse(ctx, job))
	}
	return resp, nil
}

// resolveDownload returns the pdf object of a completed job.
func (s *BookService) resolveDownload(ctx context.Context, ownerID, id string) (storage.Object, error) {
	job, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return storage.Object{}, err
	}
	if job.Status != model.BookStatusCompleted {
		return storage.Object{}, fmt.Errorf("book %s is %s: %w", id, job.Status, ErrNotReady)
	}
	key, ok := job.Ref(model.RolePDF)
	if !ok {
		s.log.Error().Str("job_id", id).Msg("completed book has no pdf ref")
		return storage.Object{}, fmt.Errorf("book %s: no pdf ref: %w", id, ErrIntegrity)
	}
	obj, err := s.gateway.Stat(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.log.Error().Str("job_id", id).Str("key", key).Msg("completed book pdf is missing from storage")
			return storage.Object{}, fmt.Errorf("book %s: pdf %s missing: %w", id, key, ErrIntegrity)
		}
		return storage.Object{}, err
	}
	return obj, nil
}

// DownloadURL presigns the pdf of a completed book.
func (s *BookService) DownloadURL(ctx context.Context, ownerID, id string) (string, error) {
	obj, err := s.resolveDownload(ctx, ownerID, id)
	if err != nil {
		return "", err
	}
	return s.gateway.PresignGet(ctx, obj.Key, s.ttl)
}

// OpenDownload streams the pdf of a completed book. The caller closes it.
func (s *BookService) OpenDownload(ctx context.Context, ownerID, id string) (io.ReadCloser, int64, error) {
	obj, err := s.resolveDownload(ctx, ownerID, id)
	if err != nil {
		return nil, 0, err
	}
	body, err := s.gateway.Open(ctx, obj.Key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, 0, fmt.Errorf("book %s: pdf %s missing: %w", id, obj.Key, ErrIntegrity)
		}
		return nil, 0, err
	}
	return body, obj.Size, nil
}

// CancelBook marks a live job failed. Workers stop at their next status check.
func (s *BookService) CancelBook(ctx context.Context, ownerID, id string) (*model.CancelBookResponse, error) {
	if _, err := s.owned(ctx, ownerID, id); err != nil {
		return nil, err
	}
	job, err := s.machine.Fail(ctx, id, "cancelled by user")
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("job_id", id).Msg("book job cancelled")
	return &model.CancelBookResponse{ID: job.ID, Status: job.Status}, nil
}

// AdventureTypes lists the catalog.
func (s *BookService) AdventureTypes() []model.AdventureTypeResponse {
	entries := s.catalog.List()
	out := make([]model.AdventureTypeResponse, 0, len(entries))
	for _, a := range entries {
		out = append(out, model.AdventureTypeResponse{
			ID:          a.Type,
			Name:        a.Name,
			Description: a.Description,
			PageCount:   len(a.Scenes),
			ImageURL:    fmt.Sprintf("/static/images/adventures/%s.jpg", a.Type),
		})
	}
	return out
}
