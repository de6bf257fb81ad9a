package redis_repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/mohammad-safakhou/articleflow/internal/agent/core"
)

const stateKeyPrefix = "articleflow:state:"

// StateMirror is a write-through cache in front of the durable state store.
// Cache failures are logged and never fail a Save or Load.
type StateMirror struct {
	primary core.StateStore
	client  *redis.Client
	ttl     time.Duration
	logger  logrus.FieldLogger
}

func NewStateMirror(primary core.StateStore, client *redis.Client, ttl time.Duration, logger logrus.FieldLogger) *StateMirror {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &StateMirror{primary: primary, client: client, ttl: ttl, logger: logger}
}

func (m *StateMirror) Save(ctx context.Context, subjectID string, state core.WorkflowState) error {
	if err := m.primary.Save(ctx, subjectID, state); err != nil {
		return err
	}
	m.cache(ctx, subjectID, state)
	return nil
}

func (m *StateMirror) Load(ctx context.Context, subjectID string) (core.WorkflowState, error) {
	val, err := m.client.Get(ctx, stateKeyPrefix+subjectID).Bytes()
	switch {
	case err == nil:
		var state core.WorkflowState
		if jerr := json.Unmarshal(val, &state); jerr == nil {
			return state, nil
		}
	case !errors.Is(err, redis.Nil):
		m.logger.WithError(err).WithField("subject_id", subjectID).Warn("state cache read failed")
	}

	state, err := m.primary.Load(ctx, subjectID)
	if err != nil {
		return core.WorkflowState{}, err
	}
	m.cache(ctx, subjectID, state)
	return state, nil
}

func (m *StateMirror) cache(ctx context.Context, subjectID string, state core.WorkflowState) {
	data, err := json.Marshal(state)
	if err != nil {
		return
	}
	if err := m.client.Set(ctx, stateKeyPrefix+subjectID, data, m.ttl).Err(); err != nil {
		m.logger.WithError(err).WithField("subject_id", subjectID).Warn("state cache write failed")
	}
}
