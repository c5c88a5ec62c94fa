package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/littlehero/api/internal/bookjob"
	"github.com/littlehero/api/internal/catalog"
	"github.com/littlehero/api/internal/client"
	"github.com/littlehero/api/internal/config"
	"github.com/littlehero/api/internal/model"
	"github.com/littlehero/api/internal/storage"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Stage names used in failure details.
const (
	StageValidation   = "validation"
	StageLayout       = "layout"
	StageIllustration = "illustration"
	StageAssembly     = "assembly"
	StageThumbnail    = "thumbnail"
	StageComplete     = "complete"
	StageScheduling   = "scheduling"
)

// errStopped means the job went terminal underneath the run.
var errStopped = errors.New("job is no longer live")

// StageError is returned by Run after the job has been marked failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return e.Stage + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func stageErr(stage string, err error) error {
	if errors.Is(err, errStopped) {
		return err
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Err: err}
}

// Config holds the knobs of a BookWorker.
type Config struct {
	LeaseTTL            time.Duration
	Parallelism         int
	MaxAttempts         int
	RetryDelay          time.Duration
	IllustrationTimeout time.Duration
	AssemblyTimeout     time.Duration
	ThumbnailTimeout    time.Duration
	StorageTimeout      time.Duration
}

// ConfigFrom reads worker settings from the service configuration.
func ConfigFrom(jobs config.JobsConfig, ill config.IllustrationConfig) Config {
	return Config{
		LeaseTTL:            jobs.LeaseTTL,
		Parallelism:         ill.Parallelism,
		MaxAttempts:         ill.MaxAttempts,
		RetryDelay:          ill.RetryDelay,
		IllustrationTimeout: jobs.IllustrationTimeout,
		AssemblyTimeout:     jobs.AssemblyTimeout,
		ThumbnailTimeout:    jobs.ThumbnailTimeout,
		StorageTimeout:      jobs.StorageTimeout,
	}
}

func (c Config) withDefaults() Config {
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 2 * time.Minute
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 3
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.IllustrationTimeout <= 0 {
		c.IllustrationTimeout = 3 * time.Minute
	}
	if c.AssemblyTimeout <= 0 {
		c.AssemblyTimeout = 2 * time.Minute
	}
	if c.ThumbnailTimeout <= 0 {
		c.ThumbnailTimeout = 30 * time.Second
	}
	if c.StorageTimeout <= 0 {
		c.StorageTimeout = time.Minute
	}
	return c
}

// BookWorker drives a book job from pending to a terminal state.
type BookWorker struct {
	machine     *bookjob.Machine
	gateway     *storage.Gateway
	catalog     *catalog.Catalog
	illustrator client.IllustrationGenerator
	assembler   client.PDFAssembler
	thumbnailer client.Thumbnailer
	cfg         Config
	log         zerolog.Logger
}

func NewBookWorker(
	machine *bookjob.Machine,
	gateway *storage.Gateway,
	cat *catalog.Catalog,
	illustrator client.IllustrationGenerator,
	assembler client.PDFAssembler,
	thumbnailer client.Thumbnailer,
	cfg Config,
	log zerolog.Logger,
) *BookWorker {
	return &BookWorker{
		machine:     machine,
		gateway:     gateway,
		catalog:     cat,
		illustrator: illustrator,
		assembler:   assembler,
		thumbnailer: thumbnailer,
		cfg:         cfg.withDefaults(),
		log:         log.With().Str("component", "book_worker").Logger(),
	}
}

// ProcessTask handles book:generate tasks.
func (w *BookWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload model.BookTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.JobID == "" {
		return fmt.Errorf("invalid book task payload: %v: %w", err, asynq.SkipRetry)
	}
	return w.handle(ctx, payload.JobID, lastDelivery(ctx))
}

// lastDelivery reports whether asynq will archive the task if this attempt
// fails.
func lastDelivery(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return false
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	return ok && retried >= maxRetry
}

func (w *BookWorker) handle(ctx context.Context, jobID string, last bool) error {
	err := w.Run(ctx, jobID)
	var se *StageError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &se):
		// the job is failed; a redelivery would only find it terminal
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	case last && ctx.Err() == nil:
		// no delivery is left to resume the job, so it must not stay live
		w.fail(ctx, jobID, &StageError{Stage: StageScheduling, Err: fmt.Errorf("could not be scheduled: %w", err)},
			w.log.With().Str("job_id", jobID).Logger())
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	default:
		// lease held elsewhere or shutdown: asynq retries later
		return err
	}
}

// Run processes one job under its lease. It is safe to call repeatedly: a
// terminal job returns nil and a live job resumes from its persisted refs.
func (w *BookWorker) Run(ctx context.Context, jobID string) error {
	store := w.machine.Store()
	holder := uuid.New().String()
	log := w.log.With().Str("job_id", jobID).Logger()

	if err := store.AcquireLease(ctx, jobID, holder, w.cfg.LeaseTTL); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.keepLease(runCtx, cancel, jobID, holder)
	}()
	defer func() {
		cancel(nil)
		wg.Wait()
		if err := store.ReleaseLease(context.WithoutCancel(ctx), jobID, holder); err != nil && !errors.Is(err, bookjob.ErrLeaseLost) {
			log.Warn().Err(err).Msg("failed to release lease")
		}
	}()

	err := w.process(runCtx, jobID, log)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, errStopped):
		log.Info().Msg("job stopped externally, abandoning run")
		return nil
	case errors.Is(context.Cause(runCtx), bookjob.ErrLeaseLost):
		log.Warn().Msg("lease lost, abandoning run")
		return context.Cause(runCtx)
	case ctx.Err() != nil:
		// shutdown; the job resumes from its refs on redelivery
		return ctx.Err()
	}

	var se *StageError
	if !errors.As(err, &se) {
		se = &StageError{Stage: StageValidation, Err: err}
	}
	w.fail(ctx, jobID, se, log)
	return se
}

// keepLease renews the lease every ttl/3 and cancels the run when it is lost.
func (w *BookWorker) keepLease(ctx context.Context, cancel context.CancelCauseFunc, jobID, holder string) {
	ticker := time.NewTicker(w.cfg.LeaseTTL / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.machine.Store().RenewLease(ctx, jobID, holder, w.cfg.LeaseTTL); err != nil {
				if ctx.Err() != nil {
					return
				}
				cancel(fmt.Errorf("job %s: %w", jobID, bookjob.ErrLeaseLost))
				return
			}
		}
	}
}

func (w *BookWorker) fail(ctx context.Context, jobID string, se *StageError, log zerolog.Logger) {
	detail := se.Error()
	log.Error().Err(se.Err).Str("stage", se.Stage).Msg("book generation failed")
	if _, err := w.machine.Fail(context.WithoutCancel(ctx), jobID, detail); err != nil && !errors.Is(err, bookjob.ErrJobTerminal) {
		log.Error().Err(err).Msg("failed to record job failure")
	}
}

func (w *BookWorker) process(ctx context.Context, jobID string, log zerolog.Logger) error {
	job, err := w.machine.Get(ctx, jobID)
	if err != nil {
		return stageErr(StageValidation, err)
	}
	if job.Status.Terminal() {
		log.Debug().Str("status", string(job.Status)).Msg("job already terminal")
		return nil
	}

	// validation
	adventure, ok := w.catalog.Lookup(job.AdventureType)
	if !ok {
		return stageErr(StageValidation, fmt.Errorf("unknown adventure type %q", job.AdventureType))
	}
	uploadKey, ok := job.Ref(model.RoleUpload)
	if !ok {
		return stageErr(StageValidation, errors.New("no photo uploaded"))
	}
	photo, err := w.getObject(ctx, uploadKey)
	if err != nil {
		return stageErr(StageValidation, fmt.Errorf("photo unreadable: %w", err))
	}

	// layout
	pages := adventure.Layout(job.ChildName)
	if len(pages) != job.PageCount {
		return stageErr(StageLayout, fmt.Errorf("layout has %d pages, job expects %d", len(pages), job.PageCount))
	}

	progress := bookjob.ProgressOf(job)
	log.Info().
		Str("status", string(job.Status)).
		Int("pages_done", progress.Done).
		Int("pages", progress.Total).
		Msg("processing book job")

	if job.Status == model.BookStatusPending || job.Status == model.BookStatusGeneratingIllustrations {
		if err := w.illustrate(ctx, job, pages, photo, log); err != nil {
			return err
		}

		job, err = w.live(ctx, jobID)
		if err != nil {
			return stageErr(StageAssembly, err)
		}
		if missing := job.MissingPages(); len(missing) > 0 {
			return stageErr(StageAssembly, fmt.Errorf("illustrations missing for pages %v", missing))
		}
		job, err = w.machine.Transition(ctx, jobID, model.BookStatusAssemblingPDF, "assembling pdf")
		if err != nil {
			return w.writeErr(StageAssembly, err)
		}
	}

	return w.assemble(ctx, job, log)
}

// illustrate generates every page without a ref. Pages run in parallel up
// to the configured limit; the first failure cancels the rest.
func (w *BookWorker) illustrate(ctx context.Context, job *model.BookJob, pages []catalog.Page, photo []byte, log zerolog.Logger) error {
	missing := job.MissingPages()
	if len(missing) == 0 {
		return nil
	}
	reuse := w.reusable(ctx, job, log)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Parallelism)
	for _, n := range missing {
		page := pages[n-1]
		g.Go(func() error {
			return w.illustratePage(gctx, job.ID, page, photo, reuse[page.Number], log)
		})
	}
	return g.Wait()
}

// reusable maps pages to the illustrations of the failed job this one
// resumes.
func (w *BookWorker) reusable(ctx context.Context, job *model.BookJob, log zerolog.Logger) map[int]string {
	if job.ResumedFrom == "" {
		return nil
	}
	prev, err := w.machine.Get(ctx, job.ResumedFrom)
	if err != nil {
		log.Warn().Err(err).Str("resumed_from", job.ResumedFrom).Msg("previous job unavailable")
		return nil
	}
	out := make(map[int]string)
	for role, key := range prev.AssetRefs {
		if page, ok := model.ParseIllustrationRole(role); ok && page <= job.PageCount {
			out[page] = key
		}
	}
	return out
}

func (w *BookWorker) illustratePage(ctx context.Context, jobID string, page catalog.Page, photo []byte, previous string, log zerolog.Logger) error {
	stage := fmt.Sprintf("%s page %d", StageIllustration, page.Number)
	ctx, cancel := context.WithTimeout(ctx, w.cfg.IllustrationTimeout)
	defer cancel()

	var img []byte
	if previous != "" {
		data, err := w.getObject(ctx, previous)
		switch {
		case err == nil:
			img = data
			log.Debug().Int("page", page.Number).Str("key", previous).Msg("reusing illustration")
		case errors.Is(err, storage.ErrNotFound):
		default:
			log.Warn().Err(err).Int("page", page.Number).Msg("previous illustration unreadable")
		}
	}

	if img == nil {
		if _, err := w.live(ctx, jobID); err != nil {
			return stageErr(stage, err)
		}
		data, err := retry.DoWithData(func() ([]byte, error) {
			return w.illustrator.Generate(ctx, page.Prompt, photo)
		}, w.retryOptions(ctx, retryable)...)
		if err != nil {
			return stageErr(stage, err)
		}
		img = data
	}

	key := storage.IllustrationKey(jobID, page.Number)
	if err := w.putObject(ctx, key, img, "image/png"); err != nil {
		return stageErr(stage, err)
	}
	if _, err := w.machine.RecordIllustration(ctx, jobID, page.Number, key); err != nil {
		return w.writeErr(stage, err)
	}
	return nil
}

// assemble builds the pdf and thumbnail and completes the job.
func (w *BookWorker) assemble(ctx context.Context, job *model.BookJob, log zerolog.Logger) error {
	images := make([][]byte, job.PageCount)
	for page := 1; page <= job.PageCount; page++ {
		key, _ := job.Ref(model.IllustrationRole(page))
		data, err := w.getObject(ctx, key)
		if err != nil {
			return stageErr(StageAssembly, fmt.Errorf("page %d: %w", page, err))
		}
		images[page-1] = data
	}

	if _, err := w.live(ctx, job.ID); err != nil {
		return stageErr(StageAssembly, err)
	}
	actx, cancel := context.WithTimeout(ctx, w.cfg.AssemblyTimeout)
	pdf, err := retry.DoWithData(func() ([]byte, error) {
		return w.assembler.Assemble(actx, images)
	}, w.retryOptions(actx, retryable)...)
	cancel()
	if err != nil {
		return stageErr(StageAssembly, err)
	}
	pdfKey := storage.PDFKey(job.ID)
	if err := w.putObject(ctx, pdfKey, pdf, "application/pdf"); err != nil {
		return stageErr(StageAssembly, err)
	}

	if _, err := w.live(ctx, job.ID); err != nil {
		return stageErr(StageThumbnail, err)
	}
	tctx, cancel := context.WithTimeout(ctx, w.cfg.ThumbnailTimeout)
	thumb, err := retry.DoWithData(func() ([]byte, error) {
		return w.thumbnailer.Thumbnail(tctx, images[0])
	}, w.retryOptions(tctx, retryable)...)
	cancel()
	if err != nil {
		return stageErr(StageThumbnail, err)
	}
	thumbKey := storage.ThumbnailKey(job.ID)
	if err := w.putObject(ctx, thumbKey, thumb, "image/jpeg"); err != nil {
		return stageErr(StageThumbnail, err)
	}

	if _, err := w.machine.Complete(ctx, job.ID, pdfKey, thumbKey, "book ready"); err != nil {
		return w.writeErr(StageComplete, err)
	}
	log.Info().Int("pages", job.PageCount).Int("pdf_bytes", len(pdf)).Msg("book completed")
	return nil
}

// live re-reads the job and reports errStopped when it has gone terminal.
func (w *BookWorker) live(ctx context.Context, jobID string) (*model.BookJob, error) {
	job, err := w.machine.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.Terminal() {
		return nil, errStopped
	}
	return job, nil
}

// writeErr maps a rejected state write: a terminal job stops the run.
func (w *BookWorker) writeErr(stage string, err error) error {
	if errors.Is(err, bookjob.ErrJobTerminal) {
		return errStopped
	}
	return stageErr(stage, err)
}

func retryable(err error) bool {
	return !errors.Is(err, client.ErrPermanent) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

func storageRetryable(err error) bool {
	return errors.Is(err, storage.ErrStorageUnavailable)
}

func (w *BookWorker) retryOptions(ctx context.Context, retryIf retry.RetryIfFunc) []retry.Option {
	return []retry.Option{
		retry.Context(ctx),
		retry.Attempts(uint(w.cfg.MaxAttempts)),
		retry.Delay(w.cfg.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryIf),
	}
}

func (w *BookWorker) getObject(ctx context.Context, key string) ([]byte, error) {
	return retry.DoWithData(func() ([]byte, error) {
		sctx, cancel := context.WithTimeout(ctx, w.cfg.StorageTimeout)
		defer cancel()
		return w.gateway.Get(sctx, key)
	}, w.retryOptions(ctx, storageRetryable)...)
}

func (w *BookWorker) putObject(ctx context.Context, key string, data []byte, contentType string) error {
	return retry.Do(func() error {
		sctx, cancel := context.WithTimeout(ctx, w.cfg.StorageTimeout)
		defer cancel()
		_, err := w.gateway.Put(sctx, key, data, contentType)
		return err
	}, w.retryOptions(ctx, storageRetryable)...)
}
