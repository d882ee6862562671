// Package worker consumes conversion tasks from the queue and runs the
// screenshot pipeline, reporting status, usage, and webhooks per job.
package worker

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/rawer886/fake-ios-screenshot/internal/config"
	"github.com/rawer886/fake-ios-screenshot/internal/domain"
	"github.com/rawer886/fake-ios-screenshot/internal/metadata"
	"github.com/rawer886/fake-ios-screenshot/internal/pipeline"
	"github.com/rawer886/fake-ios-screenshot/internal/queue"
	"github.com/rawer886/fake-ios-screenshot/internal/storage"
	"github.com/rawer886/fake-ios-screenshot/internal/store"
	"github.com/rawer886/fake-ios-screenshot/internal/webhook"
)

type Server struct {
	logger          *log.Logger
	server          *asynq.Server
	sem             chan struct{}
	localProcessor  *pipeline.Processor
	objectProcessor *pipeline.Processor
	webhookClient   webhookSender
	jobStore        store.JobStore
	usageStore      store.UsageStore
	metrics         *metrics
	tracer          trace.Tracer
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	storageClient *storage.Client,
	tagger metadata.Tagger,
	webhookClient *webhook.Client,
	jobStore store.JobStore,
	usageStore store.UsageStore,
) (*Server, error) {
	if storageClient == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if tagger == nil {
		return nil, fmt.Errorf("metadata tagger is required")
	}

	localProcessor, err := pipeline.NewLocalProcessor(workerCfg.LocalOutputDir, tagger)
	if err != nil {
		return nil, fmt.Errorf("initialize local processor: %w", err)
	}

	objectProcessor, err := pipeline.NewObjectStoreProcessor(
		pipeline.ObjectStoreFetcher{Storage: storageClient, ScratchDir: workerCfg.ScratchDir},
		pipeline.ObjectStoreEmitter{Storage: storageClient, OutputPrefix: "outputs", ScratchDir: workerCfg.ScratchDir},
		tagger,
	)
	if err != nil {
		return nil, fmt.Errorf("initialize object-store processor: %w", err)
	}

	if usageStore == nil {
		if jobAndUsageStore, ok := jobStore.(store.UsageStore); ok {
			usageStore = jobAndUsageStore
		}
	}

	var sender webhookSender
	if webhookClient != nil {
		sender = webhookClient
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					jobID := "unknown"
					if payload, perr := queue.ParseConvertPayload(task); perr == nil {
						jobID = payload.JobID
					}
					logger.Printf("task failed type=%s job_id=%s retry=%d/%d err=%v", task.Type(), jobID, retried, maxRetry, err)
				}),
			},
		),
		sem:             make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		localProcessor:  localProcessor,
		objectProcessor: objectProcessor,
		webhookClient:   sender,
		jobStore:        jobStore,
		usageStore:      usageStore,
		metrics:         newMetrics(),
		tracer:          otel.Tracer("fake-ios-screenshot/worker"),
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeConvertScreenshot, s.handleConvert)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleConvert(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseConvertPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.convert_screenshot", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.String("job.object_key", payload.ObjectKey),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(payload.SourceType, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(payload.SourceType, outcome).Inc()
	}()

	s.sem <- struct{}{}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	s.logger.Printf(
		"Converting... job_id=%s source_type=%s object_key=%s",
		payload.JobID,
		payload.SourceType,
		payload.ObjectKey,
	)

	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	request := pipeline.Request{
		JobID:      payload.JobID,
		SourceType: payload.SourceType,
		ObjectKey:  payload.ObjectKey,
		OutputKey:  payload.OutputKey,
	}

	var result pipeline.Result
	switch payload.SourceType {
	case domain.SourceTypeLocalFile:
		result, err = s.localProcessor.Process(ctx, request)
	default:
		result, err = s.objectProcessor.Process(ctx, request)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "conversion failed")

		// A job is only terminally failed once the queue has no retries left.
		// Flapping the status to failed between retries would let callers
		// restart a job the queue is still working on, and firing the failure
		// webhook per attempt would notify clients N times for one job.
		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		if retried >= maxRetry {
			s.updateJobStatus(ctx, payload.JobID, domain.JobStatusFailed)
			s.dispatchWebhook(ctx, payload, "job.failed", map[string]any{
				"job_id":       payload.JobID,
				"status":       domain.JobStatusFailed,
				"source_type":  payload.SourceType,
				"object_key":   payload.ObjectKey,
				"requested_at": payload.RequestedAt,
				"failed_at":    time.Now().UTC(),
				"attempts":     retried + 1,
				"error":        err.Error(),
			})
		}
		return fmt.Errorf("convert screenshot: %w", err)
	}

	for _, warning := range result.Warnings {
		s.metrics.warningsTotal.Inc()
		s.logger.Printf("warning job_id=%s msg=%s", payload.JobID, warning)
	}

	s.logger.Printf(
		"Converted job_id=%s output=%s source_format=%s carried=%d reused=%d",
		payload.JobID,
		result.Output.Path,
		result.Output.Format,
		result.Output.CarriedChunks,
		result.Output.ReusedChunks,
	)
	span.SetAttributes(
		attribute.Int("output.carried_chunks", result.Output.CarriedChunks),
		attribute.Int("output.reused_chunks", result.Output.ReusedChunks),
		attribute.Int("output.bytes", result.Output.Bytes),
	)

	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusSucceeded)
	s.recordUsage(ctx, payload.JobID, result, time.Since(startedAt))

	// The conversion already landed; failing the task here would make the
	// queue redo the whole upload just to redeliver a notification the
	// webhook client has retried on its own.
	if err := s.dispatchWebhook(ctx, payload, "job.completed", map[string]any{
		"job_id":       payload.JobID,
		"status":       domain.JobStatusSucceeded,
		"source_type":  payload.SourceType,
		"object_key":   payload.ObjectKey,
		"requested_at": payload.RequestedAt,
		"completed_at": time.Now().UTC(),
		"output":       result.Output,
		"warnings":     result.Warnings,
	}); err != nil {
		span.RecordError(err)
	}

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "converted")
	return nil
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Printf("job status update failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.ConvertPayload, event string, body map[string]any) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", payload.JobID, event, err)
		return fmt.Errorf("dispatch webhook: %w", err)
	}

	return nil
}

func (s *Server) recordUsage(ctx context.Context, jobID string, result pipeline.Result, computeDuration time.Duration) {
	if s.usageStore == nil {
		return
	}

	computeTimeMS := computeDuration.Milliseconds()
	if computeTimeMS < 1 {
		computeTimeMS = 1
	}

	usage := domain.UsageLog{
		JobID:           jobID,
		PixelsConverted: int64(result.Output.Width) * int64(result.Output.Height),
		BytesWritten:    int64(result.Output.Bytes),
		ChunksCarried:   int64(result.Output.CarriedChunks),
		ChunksReused:    int64(result.Output.ReusedChunks),
		ComputeTimeMS:   computeTimeMS,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.usageStore.CreateUsageLog(ctx, usage); err != nil {
		s.logger.Printf("usage log write failed job_id=%s err=%v", jobID, err)
		return
	}

	s.metrics.pixelsConvertedTotal.Add(float64(usage.PixelsConverted))
	s.metrics.bytesWrittenTotal.Add(float64(usage.BytesWritten))
	s.metrics.chunksCarriedTotal.Add(float64(usage.ChunksCarried))
	s.metrics.chunksReusedTotal.Add(float64(usage.ChunksReused))
	s.metrics.computeTimeMSTotal.Add(float64(usage.ComputeTimeMS))
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
