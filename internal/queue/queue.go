package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"coursestream-backend/internal/models"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobActive   = errors.New("job is already active and cannot be cancelled")
)

// Policy is the per-lane retry behavior.
type Policy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	Exponential bool
}

// BackoffFor returns the delay before redelivery after the given attempt
// (1-based) has failed.
func (p Policy) BackoffFor(attempt int) time.Duration {
	if !p.Exponential {
		return p.BaseBackoff
	}
	d := p.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

// defaultPolicies: transcode retries hardest since encode failures are often
// transient (scratch space, storage hiccups); thumbnail and metadata are
// cheap to re-run but not worth more than one retry.
var defaultPolicies = map[models.JobLane]Policy{
	models.LaneTranscode: {MaxAttempts: 3, BaseBackoff: 2 * time.Second, Exponential: true},
	models.LaneThumbnail: {MaxAttempts: 2, BaseBackoff: 5 * time.Second},
	models.LaneMetadata:  {MaxAttempts: 2, BaseBackoff: 5 * time.Second},
}

// inflightTTL bounds how long a dedupe guard can outlive a crashed worker.
const inflightTTL = 4 * time.Hour

// Queue is a redis-backed, three-lane work queue with at-least-once delivery
// and a two-level priority per lane.
// One Queue instance is constructed in main and injected everywhere it is
// needed; there is no package-level client.
type Queue struct {
	redis    *redis.Client
	policies map[models.JobLane]Policy
}

func New(redisClient *redis.Client) *Queue {
	return &Queue{
		redis:    redisClient,
		policies: defaultPolicies,
	}
}

// IsFinalAttempt reports whether the job has no retries left after the
// current delivery fails.
func (q *Queue) IsFinalAttempt(job *models.Job) bool {
	return job.Attempt >= q.policies[job.Lane].MaxAttempts
}

// Each lane has two lists; BLPOP argument order makes the high list drain
// first.
func laneKey(lane models.JobLane) string {
	return fmt.Sprintf("queue:%s", lane)
}

func priorityLaneKey(lane models.JobLane) string {
	return fmt.Sprintf("queue:%s:high", lane)
}

func listFor(job *models.Job) string {
	if job.Priority == models.PriorityHigh {
		return priorityLaneKey(job.Lane)
	}
	return laneKey(job.Lane)
}

func inflightKey(id string) string {
	return fmt.Sprintf("job:inflight:%s", id)
}

func stateKey(id string) string {
	return fmt.Sprintf("job:state:%s", id)
}

// Enqueue adds a job unless one with the same dedupe id is already waiting,
// delayed or active. It returns the job id either way; re-enqueue after a
// terminal state is allowed.
func (q *Queue) Enqueue(ctx context.Context, lane models.JobLane, payload models.JobPayload, priority models.JobPriority) (string, error) {
	id := models.JobID(lane, payload.VideoID)
	if priority == "" {
		priority = models.PriorityNormal
	}

	acquired, err := q.redis.SetNX(ctx, inflightKey(id), "1", inflightTTL).Result()
	if err != nil {
		return "", fmt.Errorf("failed to acquire dedupe guard for %s: %w", id, err)
	}
	if !acquired {
		// Duplicate of an in-flight job: hand back the existing handle.
		return id, nil
	}

	job := models.Job{
		ID:         id,
		Lane:       lane,
		Priority:   priority,
		Payload:    payload,
		EnqueuedAt: time.Now(),
	}
	jobBytes, err := json.Marshal(job)
	if err != nil {
		q.redis.Del(ctx, inflightKey(id))
		return "", fmt.Errorf("failed to marshal job %s: %w", id, err)
	}

	pipe := q.redis.TxPipeline()
	pipe.HSet(ctx, stateKey(id), map[string]interface{}{
		"lane":     string(lane),
		"priority": string(priority),
		"state":    string(models.JobWaiting),
		"progress": 0,
		"attempt":  0,
		"payload":  string(jobBytes),
	})
	pipe.Expire(ctx, stateKey(id), inflightTTL)
	pipe.LPush(ctx, listFor(&job), string(jobBytes))
	if _, err := pipe.Exec(ctx); err != nil {
		q.redis.Del(ctx, inflightKey(id))
		return "", fmt.Errorf("failed to enqueue job %s: %w", id, err)
	}

	return id, nil
}

// Dequeue blocks on the given lanes and returns the next job, marked active
// with its attempt counter advanced. A nil job means the timeout elapsed.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration, lanes ...models.JobLane) (*models.Job, error) {
	keys := make([]string, 0, 2*len(lanes))
	for _, lane := range lanes {
		keys = append(keys, priorityLaneKey(lane))
	}
	for _, lane := range lanes {
		keys = append(keys, laneKey(lane))
	}

	result, err := q.redis.BLPop(ctx, timeout, keys...).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(result) < 2 {
		return nil, nil
	}

	var job models.Job
	if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
		return nil, fmt.Errorf("failed to decode job from %s: %w", result[0], err)
	}

	job.Attempt++
	q.redis.HSet(ctx, stateKey(job.ID), map[string]interface{}{
		"state":   string(models.JobActive),
		"attempt": job.Attempt,
	})
	return &job, nil
}

// Complete marks the job terminal-successful and releases the dedupe guard.
func (q *Queue) Complete(ctx context.Context, job *models.Job) {
	q.redis.HSet(ctx, stateKey(job.ID), map[string]interface{}{
		"state":    string(models.JobCompleted),
		"progress": 100,
	})
	q.redis.Del(ctx, inflightKey(job.ID))
}

// Fail records a failed delivery. Jobs with attempts left go to delayed and
// are re-pushed after the lane's backoff; exhausted jobs become failed with
// the last error retained, and the dedupe guard is released.
func (q *Queue) Fail(ctx context.Context, job *models.Job, jobErr error) {
	policy := q.policies[job.Lane]
	errMsg := jobErr.Error()

	if job.Attempt < policy.MaxAttempts {
		backoff := policy.BackoffFor(job.Attempt)
		log.Printf("Job %s failed (attempt %d/%d): %s — retrying in %s",
			job.ID, job.Attempt, policy.MaxAttempts, errMsg, backoff)

		jobBytes, _ := json.Marshal(job)
		q.redis.HSet(ctx, stateKey(job.ID), map[string]interface{}{
			"state":          string(models.JobDelayed),
			"failure_reason": errMsg,
			"payload":        string(jobBytes),
		})

		time.AfterFunc(backoff, func() {
			bg := context.Background()
			q.redis.HSet(bg, stateKey(job.ID), "state", string(models.JobWaiting))
			q.redis.LPush(bg, listFor(job), string(jobBytes))
		})
		return
	}

	log.Printf("Job %s failed permanently after %d attempts: %s", job.ID, job.Attempt, errMsg)
	q.redis.HSet(ctx, stateKey(job.ID), map[string]interface{}{
		"state":          string(models.JobFailed),
		"failure_reason": errMsg,
	})
	q.redis.Del(ctx, inflightKey(job.ID))
}

// SetProgress updates the job's progress, clamped to 0–100 and monotonic.
func (q *Queue) SetProgress(ctx context.Context, id string, pct int) {
	pct = clampProgress(pct)
	current, err := q.redis.HGet(ctx, stateKey(id), "progress").Int()
	if err == nil && current >= pct {
		return
	}
	q.redis.HSet(ctx, stateKey(id), "progress", pct)
}

// Status returns the queue's view of a job.
func (q *Queue) Status(ctx context.Context, id string) (*models.JobStatus, error) {
	fields, err := q.redis.HGetAll(ctx, stateKey(id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrJobNotFound
	}

	status := &models.JobStatus{
		ID:    id,
		Lane:  models.JobLane(fields["lane"]),
		State: models.JobState(fields["state"]),
	}
	status.Progress, _ = strconv.Atoi(fields["progress"])
	status.Attempt, _ = strconv.Atoi(fields["attempt"])
	if reason, ok := fields["failure_reason"]; ok && reason != "" {
		status.FailureReason = &reason
	}
	return status, nil
}

// Cancel removes a job that is still waiting. Active and delayed jobs are
// not cancellable and return ErrJobActive.
func (q *Queue) Cancel(ctx context.Context, lane models.JobLane, id string) error {
	fields, err := q.redis.HGetAll(ctx, stateKey(id)).Result()
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return ErrJobNotFound
	}
	if models.JobState(fields["state"]) != models.JobWaiting {
		return ErrJobActive
	}

	list := laneKey(lane)
	if models.JobPriority(fields["priority"]) == models.PriorityHigh {
		list = priorityLaneKey(lane)
	}
	removed, err := q.redis.LRem(ctx, list, 1, fields["payload"]).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		// A worker picked it up between the state read and the LREM.
		return ErrJobActive
	}

	q.redis.HSet(ctx, stateKey(id), "state", string(models.JobCancelled))
	q.redis.Del(ctx, inflightKey(id))
	return nil
}

func clampProgress(pct int) int {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
