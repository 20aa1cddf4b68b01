// Package pipeline implements the asynchronous batch embedding pipeline:
// documents are submitted as jobs, queued in Redis, and processed by a
// worker pool that embeds each item and inserts it into the vector store.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/ragstack/rag-engine/pkg/embedding"
	"github.com/ragstack/rag-engine/pkg/models"
	"github.com/ragstack/rag-engine/pkg/observability"
	"github.com/ragstack/rag-engine/pkg/vectorstore"
)

// Config configures the batch pipeline.
type Config struct {
	Workers     int           `mapstructure:"workers"`
	PollTimeout time.Duration `mapstructure:"poll_timeout"`
}

// DefaultConfig returns the default pipeline tuning.
func DefaultConfig() Config {
	return Config{
		Workers:     4,
		PollTimeout: 2 * time.Second,
	}
}

// payload is the queued unit of work. Documents travel with the job so
// workers need no second lookup to start processing.
type payload struct {
	JobID      string            `json:"job_id"`
	Collection string            `json:"collection"`
	Documents  []models.Document `json:"documents"`
}

// Service accepts batch submissions and runs the worker pool.
type Service struct {
	client   *redis.Client
	jobs     *JobStore
	embedder *embedding.CachedEmbedder
	store    *vectorstore.Store
	config   Config
	logger   observability.Logger
	metrics  observability.MetricsClient

	wg sync.WaitGroup
}

// NewService creates the batch pipeline service.
func NewService(client *redis.Client, embedder *embedding.CachedEmbedder, store *vectorstore.Store, config Config, logger observability.Logger, metrics observability.MetricsClient) *Service {
	def := DefaultConfig()
	if config.Workers <= 0 {
		config.Workers = def.Workers
	}
	if config.PollTimeout <= 0 {
		config.PollTimeout = def.PollTimeout
	}
	if logger == nil {
		logger = observability.NewStandardLogger("pipeline")
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	return &Service{
		client:   client,
		jobs:     NewJobStore(client),
		embedder: embedder,
		store:    store,
		config:   config,
		logger:   logger,
		metrics:  metrics,
	}
}

// Jobs returns the underlying job store.
func (s *Service) Jobs() *JobStore {
	return s.jobs
}

// Submit validates the batch, persists a queued job, and enqueues it
// for processing. The returned id can be polled with Status. An empty
// document list is rejected synchronously; items that later fail to
// embed are recorded per item without failing the whole job.
func (s *Service) Submit(ctx context.Context, collection string, docs []models.Document) (string, error) {
	if len(docs) == 0 {
		return "", fmt.Errorf("%w: empty document list", ErrInvalidRequest)
	}
	if collection == "" {
		return "", fmt.Errorf("%w: collection is required", ErrInvalidRequest)
	}
	if _, err := s.store.Get(ctx, collection); err != nil {
		if errors.Is(err, vectorstore.ErrNotFound) {
			return "", fmt.Errorf("%w: unknown collection %q", ErrInvalidRequest, collection)
		}
		return "", err
	}

	now := time.Now().UTC()
	job := &models.BatchJob{
		ID:         uuid.New().String(),
		Collection: collection,
		Status:     models.JobStatusQueued,
		Total:      len(docs),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return "", err
	}

	body, err := json.Marshal(payload{JobID: job.ID, Collection: collection, Documents: docs})
	if err != nil {
		return "", fmt.Errorf("failed to encode job payload: %w", err)
	}
	if err := s.client.LPush(ctx, queueKey, body).Err(); err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	s.metrics.RecordCounter("pipeline.jobs.submitted", 1, map[string]string{"collection": collection})
	s.logger.Info("batch job submitted", map[string]interface{}{
		"job_id":     job.ID,
		"collection": collection,
		"documents":  len(docs),
	})
	return job.ID, nil
}

// Status returns the current state of a job.
func (s *Service) Status(ctx context.Context, jobID string) (*models.BatchJob, error) {
	return s.jobs.Get(ctx, jobID)
}

// ListJobs returns recent jobs, newest first.
func (s *Service) ListJobs(ctx context.Context, limit int) ([]*models.BatchJob, error) {
	return s.jobs.List(ctx, limit)
}

// Start launches the worker pool. Workers block on the queue and exit
// when ctx is cancelled; Wait blocks until they have drained.
func (s *Service) Start(ctx context.Context) {
	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx, i)
	}
	s.logger.Info("pipeline workers started", map[string]interface{}{
		"workers": s.config.Workers,
	})
}

// Wait blocks until all workers have stopped.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) worker(ctx context.Context, id int) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		res, err := s.client.BRPop(ctx, s.config.PollTimeout, queueKey).Result()
		if err != nil {
			if err == redis.Nil {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			s.logger.Warn("queue poll failed", map[string]interface{}{
				"worker": id,
				"error":  err.Error(),
			})
			time.Sleep(time.Second)
			continue
		}
		// BRPop returns [key, value].
		if len(res) < 2 {
			continue
		}

		var p payload
		if err := json.Unmarshal([]byte(res[1]), &p); err != nil {
			s.logger.Error("dropping undecodable job payload", map[string]interface{}{
				"worker": id,
				"error":  err.Error(),
			})
			continue
		}

		s.process(ctx, &p)
	}
}

// process runs a single job to a terminal state. Item failures are
// accounted per item; only the inability to reach the collection at
// all fails the whole job.
func (s *Service) process(ctx context.Context, p *payload) {
	start := time.Now()

	if err := s.jobs.SetStatus(ctx, p.JobID, models.JobStatusRunning); err != nil {
		s.logger.Error("failed to mark job running", map[string]interface{}{
			"job_id": p.JobID,
			"error":  err.Error(),
		})
	}

	meta, err := s.store.Get(ctx, p.Collection)
	if err != nil {
		s.failJob(ctx, p.JobID, fmt.Sprintf("collection %q unavailable: %v", p.Collection, err))
		return
	}

	failed := 0
	for i, doc := range p.Documents {
		// Item numbering is 1-based in error reports.
		itemErr := s.processItem(ctx, meta.Name, doc)
		if itemErr != "" {
			failed++
			if err := s.jobs.RecordFailure(ctx, p.JobID, models.ItemError{Index: i + 1, Message: itemErr}); err != nil {
				s.logger.Error("failed to record item failure", map[string]interface{}{
					"job_id": p.JobID,
					"error":  err.Error(),
				})
			}
			continue
		}
		if err := s.jobs.RecordSuccess(ctx, p.JobID); err != nil {
			s.logger.Error("failed to record item success", map[string]interface{}{
				"job_id": p.JobID,
				"error":  err.Error(),
			})
		}
	}

	status := models.JobStatusCompleted
	if failed > 0 {
		status = models.JobStatusCompletedWithErrors
	}
	if err := s.jobs.SetStatus(ctx, p.JobID, status); err != nil {
		s.logger.Error("failed to finalize job", map[string]interface{}{
			"job_id": p.JobID,
			"error":  err.Error(),
		})
	}

	s.metrics.RecordTimer("pipeline.job.duration", time.Since(start), map[string]string{
		"collection": p.Collection,
		"status":     string(status),
	})
	s.logger.Info("batch job finished", map[string]interface{}{
		"job_id":    p.JobID,
		"status":    string(status),
		"documents": len(p.Documents),
		"failed":    failed,
	})
}

// processItem embeds one document and inserts it into the collection.
// It returns an empty string on success or the failure message.
func (s *Service) processItem(ctx context.Context, collection string, doc models.Document) string {
	if strings.TrimSpace(doc.Content) == "" {
		return "document has no text content"
	}

	vec, err := s.embedder.Embed(ctx, doc.Content)
	if err != nil {
		return fmt.Sprintf("embedding failed: %v", err)
	}

	docID := doc.ID
	if docID == "" {
		docID = uuid.New().String()
	}
	rec := &models.VectorRecord{
		ID:         uuid.New(),
		DocumentID: docID,
		Content:    doc.Content,
		Embedding:  vec,
		Metadata:   doc.Metadata,
	}
	if err := s.store.Insert(ctx, collection, rec); err != nil {
		return fmt.Sprintf("insert failed: %v", err)
	}
	return ""
}

func (s *Service) failJob(ctx context.Context, jobID, message string) {
	if err := s.jobs.RecordFailure(ctx, jobID, models.ItemError{Index: 0, Message: message}); err != nil {
		s.logger.Error("failed to record job failure", map[string]interface{}{
			"job_id": jobID,
			"error":  err.Error(),
		})
	}
	if err := s.jobs.SetStatus(ctx, jobID, models.JobStatusFailed); err != nil {
		s.logger.Error("failed to mark job failed", map[string]interface{}{
			"job_id": jobID,
			"error":  err.Error(),
		})
	}
}
