package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgallion1/lmrate/internal/decoder"
	"github.com/dgallion1/lmrate/internal/lattice"
	"github.com/dgallion1/lmrate/internal/parser"
	"github.com/dgallion1/lmrate/internal/pathstore"
	"github.com/dgallion1/lmrate/internal/rating"
	"github.com/dgallion1/lmrate/internal/scorer"
)

// Worker processes a single document job.
type Worker struct {
	scorer     scorer.Scorer
	pathstore  *pathstore.Client
	log        *slog.Logger
	parserOpts parser.Options
}

// NewWorker creates a worker. Stateful scorers are isolated so every
// document is stream-rated from the model's initial state.
func NewWorker(s scorer.Scorer, ps *pathstore.Client, log *slog.Logger, parserOpts parser.Options) *Worker {
	return &Worker{
		scorer:     scorer.Isolate(s),
		pathstore:  ps,
		log:        log,
		parserOpts: parserOpts,
	}
}

// Process runs the full rating pipeline for a job.
func (w *Worker) Process(ctx context.Context, job *Job) {
	start := time.Now()
	status := w.process(ctx, job)
	job.releaseFileData()
	JobsTotal.WithLabelValues(string(status)).Inc()
	JobDuration.WithLabelValues(string(status)).Observe(time.Since(start).Seconds())
}

func (w *Worker) process(ctx context.Context, job *Job) JobStatus {
	log := w.log.With("job_id", job.ID, "doc_id", job.DocID, "user_id", job.UserID)
	settings := job.Settings

	fail := func(phase, msg string, err error) JobStatus {
		log.Error(msg, "phase", phase, "error", err)
		job.AddError(fmt.Sprintf("%s: %s", phase, err))
		job.SetStatus(StatusFailed, phase)
		return StatusFailed
	}

	// Phase 1: Parse
	job.SetStatus(StatusParsing, "parsing")
	p, err := parser.ForFile(job.Filename, w.parserOpts)
	if err != nil {
		return fail("parsing", "unsupported format", err)
	}
	data := job.FileData()
	doc, err := p.Parse(bytes.NewReader(data), job.Filename)
	if err != nil {
		return fail("parsing", "parse failed", err)
	}
	doc.ID = job.DocID
	if job.Title != "" {
		doc.Title = job.Title
	}

	// Phase 1.5: Dedup check on content plus parameters.
	job.SetContentHash(ContentHashHex(data))
	paramsHash := settings.Fingerprint()
	if !job.Force {
		existing, found, err := w.pathstore.FindByHash(ctx, job.UserID, job.ContentHash, paramsHash)
		if err != nil {
			log.Warn("dedup check failed, proceeding", "error", err)
		} else if found {
			log.Info("duplicate document, skipping", "existing_doc_id", existing)
			job.SetDuplicate(existing)
			job.SetStatus(StatusDupSkipped, "dedup")
			return StatusDupSkipped
		}
	}

	// Phase 2: Build the lattice.
	job.SetStatus(StatusBuilding, "building")
	steps := lattice.Build(doc, settings.Lattice, log)
	job.SetTotalSteps(len(steps))
	log.Info("built lattice", "steps", len(steps), "level", settings.Lattice.Level.String())

	// Phase 3: Decode and rate.
	job.SetStatus(StatusDecoding, "decoding")
	var r rating.Rating
	if settings.AlternativeDecoding {
		dec, err := decoder.New(w.scorer, settings.Decoder, log)
		if err != nil {
			return fail("decoding", "decoder setup failed", err)
		}
		dec.OnStep = func(st decoder.StepStats) { job.SetStepsDecoded(st.Step + 1) }
		res, err := dec.Decode(ctx, steps)
		if err != nil {
			return fail("decoding", "decode failed", err)
		}
		r = rating.FromPath(res)
	} else {
		r, err = rating.Stream(ctx, w.scorer, steps)
		if err != nil {
			return fail("decoding", "stream rating failed", err)
		}
		job.SetStepsDecoded(len(steps))
	}
	r.Apply()
	r.Log(log, settings.Lattice.Level)
	for _, warning := range r.Warnings {
		job.AddError(warning)
	}
	summary := r.Summary()
	job.SetResult(summary)

	// Rated PAGE-XML input is written back with the chosen readings.
	var page bytes.Buffer
	if _, ok := p.(*parser.PageXMLParser); ok {
		if err := parser.WritePageXML(&page, bytes.NewReader(data), doc, settings.ProcessingStep()); err != nil {
			log.Warn("page xml rewrite failed", "error", err)
			job.AddError(fmt.Sprintf("page: %s", err))
			page.Reset()
		}
	}

	// Phase 4: Store.
	job.SetStatus(StatusStoring, "storing")
	meta := pathstore.DocumentMeta{
		DocID:             job.DocID,
		Filename:          job.Filename,
		Title:             doc.Title,
		ContentHash:       job.ContentHash,
		ParamsHash:        paramsHash,
		Mode:              string(r.Mode),
		Level:             settings.Lattice.Level.String(),
		Elements:          len(summary.Elements),
		AvgProb:           r.Stats.AvgProb,
		BytePerplexity:    r.Stats.BytePerplexity,
		ElementPerplexity: r.Stats.ElementPerplexity,
		HasPage:           page.Len() > 0,
		CreatedAt:         job.CreatedAt.Format(time.RFC3339),
	}
	onRetry := func(attempt int, err error) {
		StoreRetries.Inc()
		log.Warn("retryable store error", "attempt", attempt, "error", err)
	}
	err = withRetry(ctx, onRetry, func() error {
		return w.pathstore.PutRating(ctx, job.UserID, pathstore.RatingRecord{
			Meta:    meta,
			Summary: summary,
			PageXML: page.String(),
		})
	})
	if err != nil {
		log.Error("store failed", "error", err)
		job.AddError(fmt.Sprintf("store: %s", err))
		job.SetStatus(StatusPartial, "done")
		return StatusPartial
	}
	job.MarkStored()

	if err := withRetry(ctx, onRetry, func() error {
		return w.pathstore.PutHashIndex(ctx, job.UserID, meta)
	}); err != nil {
		log.Warn("hash index write failed", "error", err)
	}

	log.Info("rating stored", "elements", len(summary.Elements))
	job.SetStatus(StatusCompleted, "done")
	return StatusCompleted
}
