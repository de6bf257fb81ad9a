package redis_repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mohammad-safakhou/articleflow/internal/agent/core"
)

const (
	progressKeyPrefix     = "articleflow:progress:"
	progressChannelPrefix = "articleflow:progress-events:"
)

// Progress is the last reported progress of a run.
type Progress struct {
	SubjectID string     `json:"subject_id"`
	Phase     core.Phase `json:"phase,omitempty"`
	Percent   int        `json:"percent"`
	Message   string     `json:"message"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ProgressRepository keeps the latest progress per article and publishes
// every update on a per-article channel.
type ProgressRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewProgressRepository(client *redis.Client, ttl time.Duration) *ProgressRepository {
	return &ProgressRepository{client: client, ttl: ttl}
}

// Publish stores p and notifies subscribers.
func (r *ProgressRepository) Publish(ctx context.Context, p Progress) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, progressKeyPrefix+p.SubjectID, data, r.ttl)
	pipe.Publish(ctx, progressChannelPrefix+p.SubjectID, data)
	_, err = pipe.Exec(ctx)
	return err
}

// Get returns the latest progress of subjectID.
func (r *ProgressRepository) Get(ctx context.Context, subjectID string) (Progress, error) {
	val, err := r.client.Get(ctx, progressKeyPrefix+subjectID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Progress{}, core.ErrNotFound
		}
		return Progress{}, err
	}
	var p Progress
	if err := json.Unmarshal(val, &p); err != nil {
		return Progress{}, err
	}
	return p, nil
}

// Subscribe streams progress updates for subjectID until ctx is done.
func (r *ProgressRepository) Subscribe(ctx context.Context, subjectID string) (<-chan Progress, error) {
	sub := r.client.Subscribe(ctx, progressChannelPrefix+subjectID)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}
	out := make(chan Progress)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var p Progress
				if err := json.Unmarshal([]byte(msg.Payload), &p); err != nil {
					continue
				}
				select {
				case out <- p:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// Reporter adapts the repository to core.ProgressFunc. Publish errors are
// passed to onErr, which may be nil.
func (r *ProgressRepository) Reporter(ctx context.Context, subjectID string, onErr func(error)) core.ProgressFunc {
	return func(percent int, message string) {
		err := r.Publish(ctx, Progress{SubjectID: subjectID, Percent: percent, Message: message})
		if err != nil && onErr != nil {
			onErr(err)
		}
	}
}
