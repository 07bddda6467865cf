package stage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/JaimeStill/conveyor/internal/codec"
	"github.com/JaimeStill/conveyor/internal/document"
	"github.com/JaimeStill/conveyor/internal/docstore"
	"github.com/JaimeStill/conveyor/pkg/storage"
)

// ErrHalted indicates the document reached a terminal status while the
// stage was in flight (an abort, typically). The invocation stops without
// overwriting the terminal state.
var ErrHalted = errors.New("document halted in terminal status")

// Runner carries the shared dependencies of every stage invocation. Each
// invocation is stateless: all coordination happens through the document
// store and blob storage.
type Runner struct {
	store   docstore.System
	storage storage.System
	codec   *codec.Codec
	retry   RetryPolicy
	logger  *slog.Logger
}

// NewRunner creates a stage runner with the default retry policy.
func NewRunner(
	store docstore.System,
	blob storage.System,
	cdc *codec.Codec,
	logger *slog.Logger,
) *Runner {
	return &Runner{
		store:   store,
		storage: blob,
		codec:   cdc,
		retry:   DefaultRetryPolicy,
		logger:  logger.With("system", "stage"),
	}
}

// sectionSpec describes one section-scoped stage to the shared runner.
type sectionSpec struct {
	name    string
	status  document.Status
	done    func(*document.Section) bool
	execute func(ctx context.Context, view *document.Document, sec *document.Section) (document.Metering, error)
}

// documentSpec describes a document-scoped stage (summarization,
// evaluation) to the shared runner.
type documentSpec struct {
	name    string
	status  document.Status
	done    func(*document.Document) bool
	execute func(ctx context.Context, doc *document.Document) (document.Metering, error)
}

// runSection executes the stage contract for one section: load, locate,
// idempotent-skip check, scope restriction, execution, immediate
// persistence of the updated slice.
func (r *Runner) runSection(ctx context.Context, env codec.Envelope, sectionID string, spec sectionSpec) Outcome {
	doc, err := r.codec.Load(ctx, env)
	if err != nil {
		return Fatal(fmt.Errorf("%s: %w", spec.name, err))
	}

	sec, err := doc.Section(sectionID)
	if err != nil {
		r.fail(ctx, doc.ID, spec.name, err)
		return Fatal(err)
	}

	if spec.done(sec) {
		return r.skip(ctx, doc, sectionID, spec.name)
	}

	view, err := doc.View(sectionID)
	if err != nil {
		r.fail(ctx, doc.ID, spec.name, err)
		return Fatal(err)
	}

	if err := r.markStatus(ctx, doc.ID, spec.status); err != nil {
		if errors.Is(err, ErrHalted) {
			return Fatal(err)
		}
		return Retryable(err)
	}

	metering, err := spec.execute(ctx, view, &view.Sections[0])
	if err != nil {
		if IsTransient(err) {
			return Retryable(fmt.Errorf("%s section %s: %w", spec.name, sectionID, err))
		}
		r.fail(ctx, doc.ID, spec.name, err)
		return Fatal(fmt.Errorf("%s section %s: %w", spec.name, sectionID, err))
	}

	updated := view.Sections[0]
	if _, err := r.store.Mutate(ctx, doc.ID, func(d *document.Document) error {
		if err := d.ReplaceSection(updated); err != nil {
			return err
		}
		d.Metering.Merge(metering)
		return nil
	}); err != nil {
		return Retryable(fmt.Errorf("persist %s section %s: %w", spec.name, sectionID, err))
	}

	// The returned view carries only this invocation's metering and error
	// deltas so the reducer can merge fan-out branches additively.
	view.Metering = metering
	view.Errors = nil
	r.logger.Info("stage completed", "stage", spec.name, "document", doc.ID, "section", sectionID)
	return Ok(view)
}

// runDocument executes a document-scoped stage with the same skip and
// persistence discipline.
func (r *Runner) runDocument(ctx context.Context, env codec.Envelope, spec documentSpec) Outcome {
	doc, err := r.codec.Load(ctx, env)
	if err != nil {
		return Fatal(fmt.Errorf("%s: %w", spec.name, err))
	}

	if spec.done(doc) {
		return r.skip(ctx, doc, "", spec.name)
	}

	if err := r.markStatus(ctx, doc.ID, spec.status); err != nil {
		if errors.Is(err, ErrHalted) {
			return Fatal(err)
		}
		return Retryable(err)
	}

	work := doc.Clone()
	metering, err := spec.execute(ctx, work)
	if err != nil {
		if IsTransient(err) {
			return Retryable(fmt.Errorf("%s: %w", spec.name, err))
		}
		r.fail(ctx, doc.ID, spec.name, err)
		return Fatal(fmt.Errorf("%s: %w", spec.name, err))
	}

	result, err := r.store.Mutate(ctx, doc.ID, func(d *document.Document) error {
		d.Pages = work.Pages
		d.Sections = work.Sections
		d.Summary = work.Summary
		d.Evaluation = work.Evaluation
		d.Metering.Merge(metering)
		return nil
	})
	if err != nil {
		return Retryable(fmt.Errorf("persist %s: %w", spec.name, err))
	}

	r.logger.Info("stage completed", "stage", spec.name, "document", doc.ID)
	return Ok(result)
}

// skip records a zero-cost metering entry and passes the document through
// unchanged, making redelivery and manual reruns safe.
func (r *Runner) skip(ctx context.Context, doc *document.Document, sectionID, name string) Outcome {
	zero := make(document.Metering)
	zero.Add(name, "skipped", 1)

	if _, err := r.store.Mutate(ctx, doc.ID, func(d *document.Document) error {
		d.Metering.Merge(zero)
		return nil
	}); err != nil {
		return Retryable(fmt.Errorf("record %s skip: %w", name, err))
	}

	out := doc
	if sectionID != "" {
		view, err := doc.View(sectionID)
		if err != nil {
			return Fatal(err)
		}
		out = view
	}
	out.Metering = zero
	out.Errors = nil

	r.logger.Info("stage skipped, output already present", "stage", name, "document", doc.ID, "section", sectionID)
	return Skip(out)
}

func (r *Runner) markStatus(ctx context.Context, documentID string, status document.Status) error {
	_, err := r.store.Mutate(ctx, documentID, func(d *document.Document) error {
		if d.Status.Terminal() {
			return fmt.Errorf("%w: %s is %s", ErrHalted, documentID, d.Status)
		}
		d.Status = status
		return nil
	})
	return err
}

func (r *Runner) fail(ctx context.Context, documentID, stageName string, cause error) {
	now := time.Now().UTC()
	if _, err := r.store.Mutate(ctx, documentID, func(d *document.Document) error {
		d.Status = document.StatusFailed
		d.AppendError(stageName, cause.Error(), now)
		return nil
	}); err != nil {
		r.logger.Error(
			"failed to record stage failure",
			"stage", stageName,
			"document", documentID,
			"cause", cause,
			"error", err,
		)
	}
}

// uploadArtifact writes a stage artifact to blob storage, retrying
// throttling failures with the runner's backoff policy.
func (r *Runner) uploadArtifact(ctx context.Context, key string, data []byte, contentType string) error {
	return r.retry.Do(ctx, r.logger, "upload "+key, func() error {
		if err := storage.UploadBytes(ctx, r.storage, key, data, contentType); err != nil {
			return fmt.Errorf("%w: %v", ErrTransient, err)
		}
		return nil
	})
}
