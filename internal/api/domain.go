package api

import (
	"context"

	"github.com/JaimeStill/conveyor/internal/admission"
	"github.com/JaimeStill/conveyor/internal/codec"
	"github.com/JaimeStill/conveyor/internal/docstore"
	"github.com/JaimeStill/conveyor/internal/engine"
	"github.com/JaimeStill/conveyor/internal/ingest"
	"github.com/JaimeStill/conveyor/internal/queue"
	"github.com/JaimeStill/conveyor/internal/reduce"
	"github.com/JaimeStill/conveyor/internal/rerun"
	"github.com/JaimeStill/conveyor/internal/review"
	"github.com/JaimeStill/conveyor/internal/stage"
)

// Domain holds all pipeline systems that comprise the service: the
// durable stores, the admission path, the workflow engine, and the
// review and recovery controllers.
type Domain struct {
	Codec     *codec.Codec
	Documents docstore.System
	Queue     queue.System
	Engine    *engine.Local
	Admission *admission.Controller
	Worker    *admission.Worker
	Ingest    ingest.System
	Tokens    review.Store
	Review    *review.Manager
	Recovery  *rerun.Controller
}

// NewDomain creates all pipeline systems from the API runtime. The
// workflow engine is the local in-process implementation: executions run
// inside this process and release their admission slot on completion.
func NewDomain(ctx context.Context, runtime *Runtime) (*Domain, error) {
	logger := runtime.Logger
	db := runtime.Database.Connection()

	cdc := codec.New(runtime.Storage, runtime.Pipeline.ExternalizeThresholdBytes(), logger)
	store := docstore.New(db, logger, runtime.Pagination)

	q, err := queue.New(ctx, runtime.Redis, logger)
	if err != nil {
		return nil, err
	}

	runner := stage.NewRunner(store, runtime.Storage, cdc, logger)
	stages := engine.Stages{
		Classify: stage.NewClassify(
			runner,
			stage.NewKeywordClassifier(
				runtime.Storage,
				runtime.Pipeline.KeywordRules,
				runtime.Pipeline.FallbackLabel,
			),
			runtime.Pipeline.LimitedClassification,
		),
		Extract: stage.NewExtract(runner, stage.TemplateExtractor{}),
		Assess: stage.NewAssess(
			runner,
			stage.NewThresholdAssessor(
				runtime.Storage,
				runtime.Pipeline.ConfidenceThresholds,
				runtime.Pipeline.ConfidenceThreshold,
			),
		),
		Validate: stage.NewValidate(
			runner,
			stage.RequiredAttributesValidator{Required: runtime.Pipeline.RequiredAttributes},
		),
		Summarize: stage.NewSummarize(runner, stage.OutlineSummarizer{}),
		Evaluate:  stage.NewEvaluate(runner, stage.CoverageEvaluator{}),
		Reducer:   reduce.New(runtime.Pipeline.TerminalReview(), logger),
	}

	eng := engine.NewLocal(stages, store, cdc, logger)

	tokens := review.NewStore(db, logger, runtime.Pagination)
	reviewMgr := review.NewManager(
		store, tokens, eng, cdc,
		runtime.Pipeline.ReviewTTLDuration(),
		logger,
	)
	eng.SetSuspender(reviewMgr)

	counter := admission.NewCounter(runtime.Redis, int64(runtime.Pipeline.MaxConcurrent))
	controller := admission.NewController(counter, eng, store, cdc, logger)
	eng.SetOnComplete(func(documentID, executionID string, state engine.ExecutionState) {
		controller.Release(context.WithoutCancel(ctx))
	})

	return &Domain{
		Codec:     cdc,
		Documents: store,
		Queue:     q,
		Engine:    eng,
		Admission: controller,
		Worker:    admission.NewWorker(q, controller, logger),
		Ingest:    ingest.New(store, runtime.Storage, q, cdc, logger),
		Tokens:    tokens,
		Review:    reviewMgr,
		Recovery:  rerun.NewController(store, q, eng, tokens, cdc, logger),
	}, nil
}
