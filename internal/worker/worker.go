package worker

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/burnline/burnline/internal/assemble"
	"github.com/burnline/burnline/internal/db"
	"github.com/burnline/burnline/internal/dispatch"
	"github.com/burnline/burnline/internal/models"
	"github.com/burnline/burnline/internal/queue"
	"github.com/burnline/burnline/internal/recovery"
	"github.com/burnline/burnline/internal/store"
)

// Worker drains the render queue and drives each project through the full
// pipeline: dispatch, reconcile, assemble.
type Worker struct {
	db         *db.DB
	queue      *queue.Queue
	store      *store.Store
	dispatcher *dispatch.Dispatcher
	recovery   *recovery.Controller
	assembler  *assemble.Assembler
}

func New(
	database *db.DB,
	q *queue.Queue,
	st *store.Store,
	dispatcher *dispatch.Dispatcher,
	recoveryCtl *recovery.Controller,
	assembler *assemble.Assembler,
) *Worker {
	return &Worker{
		db:         database,
		queue:      q,
		store:      st,
		dispatcher: dispatcher,
		recovery:   recoveryCtl,
		assembler:  assembler,
	}
}

// Start begins processing jobs from the render queue. One project is
// processed at a time per loop; within a project the dispatcher fans out
// across segments, which is where the real parallelism lives.
func (w *Worker) Start(ctx context.Context, concurrency int) {
	log.Printf("Worker started with concurrency: %d", concurrency)

	for i := 0; i < concurrency; i++ {
		go w.processQueue(ctx, queue.QueueRenderProject, w.handleRenderProject)
	}

	<-ctx.Done()
	log.Println("Worker shutting down...")
}

func (w *Worker) processQueue(ctx context.Context, queueName string, handler func(context.Context, *queue.Job) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			job, err := w.queue.Dequeue(ctx, queueName, 5*time.Second)
			if err != nil {
				log.Printf("Error dequeuing from %s: %v", queueName, err)
				continue
			}

			if job == nil {
				continue // No job available, retry
			}

			log.Printf("Processing job %s (type: %s, project: %s)", job.ID, job.Type, job.ProjectID)

			// Update job status to running
			if err := w.db.UpdateJobStatus(ctx, job.ID, models.JobStatusRunning); err != nil {
				log.Printf("Failed to update job status: %v", err)
			}

			// Handle the job
			if err := handler(ctx, job); err != nil {
				log.Printf("Job %s failed: %v", job.ID, err)
				w.db.UpdateJobError(ctx, job.ID, err.Error())
			} else {
				log.Printf("Job %s completed successfully", job.ID)
				w.db.UpdateJobStatus(ctx, job.ID, models.JobStatusSucceeded)
			}
		}
	}
}

// handleRenderProject runs the full pipeline for one project. Every stage is
// resumable: a re-run of the same job skips whatever already landed in the
// result store.
func (w *Worker) handleRenderProject(ctx context.Context, job *queue.Job) error {
	if err := w.db.UpdateProjectStatus(ctx, job.ProjectID, models.ProjectStatusInProgress); err != nil {
		return fmt.Errorf("failed to update project status: %w", err)
	}

	manifest, err := w.store.GetManifest(ctx, job.ProjectID)
	if err != nil {
		w.db.UpdateProjectError(ctx, job.ProjectID, "manifest_missing", err.Error())
		return fmt.Errorf("failed to load manifest: %w", err)
	}

	// Stage 1: render every pending segment.
	summary, err := w.dispatcher.Run(ctx, manifest)
	if err != nil {
		w.db.UpdateProjectError(ctx, job.ProjectID, "dispatch_failed", err.Error())
		return fmt.Errorf("dispatch failed: %w", err)
	}
	log.Printf("[Worker] Project %s dispatch: %d skipped, %d remote, %d local, %d failed",
		job.ProjectID, summary.Skipped, summary.Remote, summary.Local, summary.Failed)

	// Stage 2: audit against the store, retry stragglers, apply the
	// acceptance threshold.
	report, err := w.recovery.Reconcile(ctx, manifest)
	if err != nil {
		w.db.UpdateProjectError(ctx, job.ProjectID, "reconcile_failed", err.Error())
		return fmt.Errorf("reconcile failed: %w", err)
	}

	if !report.Accepted {
		msg := fmt.Sprintf("only %d/%d segments rendered, missing %v", report.Rendered, report.Total, report.Missing)
		w.db.UpdateProjectError(ctx, job.ProjectID, "below_threshold", msg)
		return fmt.Errorf("project below acceptance threshold: %s", msg)
	}

	// Stage 3: assemble, validate, and upload the final video.
	output, err := w.assembler.Assemble(ctx, manifest, report)
	if err != nil {
		w.db.UpdateProjectError(ctx, job.ProjectID, "assembly_failed", err.Error())
		return fmt.Errorf("assembly failed: %w", err)
	}

	if err := w.db.SetProjectOutput(ctx, job.ProjectID, output.OutputKey, output.Status); err != nil {
		return fmt.Errorf("failed to record final output: %w", err)
	}

	log.Printf("[Worker] Project %s done: %s (%s, %.1fs)", job.ProjectID, output.OutputKey, output.Status, output.Duration)
	return nil
}
