// Package worker implements the task-queue consumer loop: boot recovery,
// claim, dispatch by task_type, per-video pipeline stage sequencing, and
// finalization (spec.md §4.4, §7).
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"videorag/internal/apperr"
	"videorag/internal/database"
	"videorag/internal/encoder"
	"videorag/internal/models"
	"videorag/internal/notifier"
	"videorag/internal/pipeline"
	"videorag/internal/telemetry"
)

// Worker claims and runs tasks one at a time. Multiple Workers may run
// concurrently against the same database: ClaimOne's FOR UPDATE SKIP LOCKED
// makes that safe without any coordination between them.
type Worker struct {
	Tasks      *database.TaskStore
	Segments   *database.SegmentRepository
	Notifier   *notifier.Notifier
	Ingest     *pipeline.IngestStage
	Transcribe *pipeline.TranscribeStage
	Chunk      *pipeline.ChunkStage
	Embed      *pipeline.EmbedStage
	Encoder    *encoder.Client
	Metrics    *telemetry.Metrics

	IdlePollInterval time.Duration
}

// recordOutcome increments the tasks-total counter, if metrics are wired.
func (w *Worker) recordOutcome(taskType models.TaskType, outcome string) {
	if w.Metrics == nil {
		return
	}
	w.Metrics.TasksTotal.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("task_type", string(taskType)),
			attribute.String("outcome", outcome),
		))
}

// Run recovers stuck tasks left by a prior crash, then loops claiming and
// dispatching tasks until ctx is cancelled. A single task's failure never
// stops the loop — only ctx cancellation does.
func (w *Worker) Run(ctx context.Context) {
	if n, err := w.Tasks.ResetStuck(ctx); err != nil {
		log.Printf("[worker] failed to reset stuck tasks at boot: %v", err)
	} else if n > 0 {
		log.Printf("[worker] reset %d stuck task(s) from a prior crash", n)
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, err := w.Tasks.ClaimOne(ctx)
		if err != nil {
			log.Printf("[worker] claim failed: %v", err)
			w.sleep(ctx, time.Second)
			continue
		}
		if task == nil {
			select {
			case <-ctx.Done():
				return
			case <-w.Notifier.Wake():
			case <-time.After(w.idlePollInterval()):
			}
			continue
		}

		w.dispatchSafely(ctx, task)
	}
}

func (w *Worker) idlePollInterval() time.Duration {
	if w.IdlePollInterval <= 0 {
		return 5 * time.Second
	}
	return w.IdlePollInterval
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// dispatchSafely recovers from a panic in task handling so one broken task
// can never crash the worker process; it fails the task instead and keeps
// the loop running.
func (w *Worker) dispatchSafely(ctx context.Context, task *models.Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[worker] task %s panicked: %v", task.ID, r)
			if err := w.Tasks.Fail(ctx, task.ID, fmt.Sprintf("worker panic: %v", r)); err != nil {
				log.Printf("[worker] failed to fail panicked task %s: %v", task.ID, err)
			}
		}
	}()

	switch task.TaskType {
	case models.TaskTypePipeline:
		w.runPipeline(ctx, task)
	case models.TaskTypeEmbedQuestion:
		w.runEmbedQuestion(ctx, task)
	default:
		if err := w.Tasks.Fail(ctx, task.ID, fmt.Sprintf("unknown task_type %q", task.TaskType)); err != nil {
			log.Printf("[worker] failed to fail task %s: %v", task.ID, err)
		}
	}

	final, err := w.Tasks.Get(ctx, task.ID)
	if err != nil {
		return
	}
	w.recordOutcome(task.TaskType, string(final.Status))
}

func (w *Worker) runPipeline(ctx context.Context, task *models.Task) {
	req, err := task.PipelineRequest()
	if err != nil {
		w.fail(ctx, task.ID, err)
		return
	}

	result, err := w.Ingest.Run(ctx, req, scopedReporter{ctx: ctx, tasks: w.Tasks, taskID: task.ID, lo: 0, hi: 10})
	if err != nil {
		w.fail(ctx, task.ID, err)
		return
	}

	n := len(result.NewVideoIDs)
	if n == 0 {
		if err := w.Tasks.Complete(ctx, task.ID, nil); err != nil {
			log.Printf("[worker] failed to complete empty pipeline task %s: %v", task.ID, err)
		}
		return
	}

	succeeded := 0
	for i, videoID := range result.NewVideoIDs {
		current, err := w.Tasks.Get(ctx, task.ID)
		if err != nil {
			w.fail(ctx, task.ID, err)
			return
		}
		if current.Status != models.TaskStatusRunning {
			log.Printf("[worker] pipeline task %s is no longer running, stopping after %d/%d videos", task.ID, i, n)
			return
		}

		base := 10 + i*90/n
		next := 10 + (i+1)*90/n
		videoReporter := scopedReporter{ctx: ctx, tasks: w.Tasks, taskID: task.ID, lo: base, hi: next}

		if err := w.runVideo(ctx, videoID, videoReporter); err != nil {
			log.Printf("[worker] pipeline task %s: video %s failed: %v", task.ID, videoID, err)
			continue
		}
		succeeded++
	}

	switch {
	case succeeded == 0:
		w.fail(ctx, task.ID, apperr.Pipeline(fmt.Sprintf("all %d videos failed processing", n), nil))
	case succeeded < n:
		result := fmt.Sprintf(`{"succeeded":%d,"total":%d}`, succeeded, n)
		if err := w.Tasks.Complete(ctx, task.ID, &result); err != nil {
			log.Printf("[worker] failed to complete partial pipeline task %s: %v", task.ID, err)
		}
	default:
		if err := w.Tasks.Complete(ctx, task.ID, nil); err != nil {
			log.Printf("[worker] failed to complete pipeline task %s: %v", task.ID, err)
		}
	}
}

// runVideo sequences Transcribe, Chunk, and Embed for one video, splitting
// reporter's range into 0-40/40-70/70-100 per spec.md §4.4.
func (w *Worker) runVideo(ctx context.Context, videoID string, reporter pipeline.Reporter) error {
	if err := w.timedStage("transcribe", func() error {
		return w.Transcribe.Run(ctx, videoID, subReporter{parent: reporter, lo: 0, hi: 40})
	}); err != nil {
		return err
	}

	segs, err := w.Segments.ListForVideo(ctx, videoID)
	if err != nil {
		return err
	}
	if err := w.timedStage("chunk", func() error {
		return w.Chunk.Run(ctx, videoID, segs, subReporter{parent: reporter, lo: 40, hi: 70})
	}); err != nil {
		return err
	}

	if err := w.timedStage("embed", func() error {
		return w.Embed.Run(ctx, []string{videoID}, subReporter{parent: reporter, lo: 70, hi: 100})
	}); err != nil {
		return err
	}
	return nil
}

// timedStage records a stage's wall-clock duration to w.Metrics, if wired,
// regardless of whether the stage succeeded.
func (w *Worker) timedStage(name string, run func() error) error {
	if w.Metrics == nil {
		return run()
	}
	stop := w.Metrics.StageTimer()
	err := run()
	stop(name)
	return err
}

func (w *Worker) runEmbedQuestion(ctx context.Context, task *models.Task) {
	req, err := task.EmbedQuestionRequest()
	if err != nil {
		w.fail(ctx, task.ID, err)
		return
	}

	vec, err := pipeline.EmbedQuestion(ctx, w.Encoder, req.QuestionToEmbed)
	if err != nil {
		w.fail(ctx, task.ID, err)
		return
	}

	data, err := json.Marshal(vec)
	if err != nil {
		w.fail(ctx, task.ID, apperr.Wrap(apperr.KindCritical, "failed to marshal question embedding", err))
		return
	}
	result := string(data)
	if err := w.Tasks.Complete(ctx, task.ID, &result); err != nil {
		log.Printf("[worker] failed to complete embed_question task %s: %v", task.ID, err)
	}
}

func (w *Worker) fail(ctx context.Context, taskID uuid.UUID, cause error) {
	if err := w.Tasks.Fail(ctx, taskID, cause.Error()); err != nil {
		log.Printf("[worker] failed to record failure for task %s: %v", taskID, err)
	}
}

// scopedReporter maps a stage's own 0-100 progress into [lo, hi] of the
// task's overall 0-100 progress, so each stage reports without knowing
// anything about its place in the whole pipeline.
type scopedReporter struct {
	ctx    context.Context
	tasks  *database.TaskStore
	taskID uuid.UUID
	lo, hi int
}

func (r scopedReporter) Update(pct int, note string) {
	pct = clamp(pct)
	global := r.lo + pct*(r.hi-r.lo)/100
	if err := r.tasks.UpdateProgress(r.ctx, r.taskID, global, &note); err != nil {
		log.Printf("[worker] failed to update progress for task %s: %v", r.taskID, err)
	}
}

// subReporter further subdivides a parent Reporter's 0-100 scale, used to
// nest a video's three stages inside its own slice of the task's progress.
type subReporter struct {
	parent pipeline.Reporter
	lo, hi int
}

func (r subReporter) Update(pct int, note string) {
	pct = clamp(pct)
	r.parent.Update(r.lo+pct*(r.hi-r.lo)/100, note)
}

func clamp(pct int) int {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
