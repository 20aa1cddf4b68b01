package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/ragstack/rag-engine/pkg/models"
)

// Sentinel errors for job operations.
var (
	// ErrNotFound indicates an unknown job id.
	ErrNotFound = errors.New("pipeline: job not found")
	// ErrInvalidRequest indicates a malformed batch submission.
	ErrInvalidRequest = errors.New("pipeline: invalid request")
)

const (
	jobKeyPrefix = "rag:jobs:"
	queueKey     = "rag:jobs:queue"
)

// JobStore persists batch job state in Redis hashes so status survives
// process restarts and is visible to every worker. Jobs carry no TTL;
// they are retained for status polling.
type JobStore struct {
	client *redis.Client
}

// NewJobStore creates a job store over the given Redis client.
func NewJobStore(client *redis.Client) *JobStore {
	return &JobStore{client: client}
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

func jobErrorsKey(id string) string {
	return jobKeyPrefix + id + ":errors"
}

// Create persists a new job record.
func (s *JobStore) Create(ctx context.Context, job *models.BatchJob) error {
	fields := map[string]interface{}{
		"id":         job.ID,
		"collection": job.Collection,
		"status":     string(job.Status),
		"total":      job.Total,
		"succeeded":  job.Succeeded,
		"failed":     job.Failed,
		"created_at": job.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": job.UpdatedAt.Format(time.RFC3339Nano),
	}
	if err := s.client.HSet(ctx, jobKey(job.ID), fields).Err(); err != nil {
		return fmt.Errorf("failed to create job record: %w", err)
	}
	return nil
}

// Get loads a job with its error list.
func (s *JobStore) Get(ctx context.Context, id string) (*models.BatchJob, error) {
	fields, err := s.client.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	job := &models.BatchJob{
		ID:         fields["id"],
		Collection: fields["collection"],
		Status:     models.JobStatus(fields["status"]),
	}
	job.Total, _ = strconv.Atoi(fields["total"])
	job.Succeeded, _ = strconv.Atoi(fields["succeeded"])
	job.Failed, _ = strconv.Atoi(fields["failed"])
	job.CreatedAt, _ = time.Parse(time.RFC3339Nano, fields["created_at"])
	job.UpdatedAt, _ = time.Parse(time.RFC3339Nano, fields["updated_at"])

	entries, err := s.client.LRange(ctx, jobErrorsKey(id), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to load job errors: %w", err)
	}
	for _, entry := range entries {
		var itemErr models.ItemError
		if err := json.Unmarshal([]byte(entry), &itemErr); err == nil {
			job.Errors = append(job.Errors, itemErr)
		}
	}
	return job, nil
}

// SetStatus updates the job's lifecycle state.
func (s *JobStore) SetStatus(ctx context.Context, id string, status models.JobStatus) error {
	err := s.client.HSet(ctx, jobKey(id),
		"status", string(status),
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	return nil
}

// RecordSuccess increments the succeeded counter. Counters only ever
// increase, so status reads observe monotonic progress.
func (s *JobStore) RecordSuccess(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.HIncrBy(ctx, jobKey(id), "succeeded", 1)
	pipe.HSet(ctx, jobKey(id), "updated_at", time.Now().UTC().Format(time.RFC3339Nano))
	_, err := pipe.Exec(ctx)
	return err
}

// RecordFailure increments the failed counter and appends the item
// error for later inspection.
func (s *JobStore) RecordFailure(ctx context.Context, id string, itemErr models.ItemError) error {
	entry, err := json.Marshal(itemErr)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.HIncrBy(ctx, jobKey(id), "failed", 1)
	pipe.RPush(ctx, jobErrorsKey(id), entry)
	pipe.HSet(ctx, jobKey(id), "updated_at", time.Now().UTC().Format(time.RFC3339Nano))
	_, err = pipe.Exec(ctx)
	return err
}

// List returns recent jobs, newest first, bounded by limit.
func (s *JobStore) List(ctx context.Context, limit int) ([]*models.BatchJob, error) {
	if limit <= 0 {
		limit = 50
	}

	var jobs []*models.BatchJob
	iter := s.client.Scan(ctx, 0, jobKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		if key == queueKey || strings.HasSuffix(key, ":errors") {
			continue
		}
		job, err := s.Get(ctx, strings.TrimPrefix(key, jobKeyPrefix))
		if err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan jobs: %w", err)
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}
