package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cryptalk/go-cryptalk-server/global"
	"github.com/cryptalk/go-cryptalk-server/repository"
	"github.com/cryptalk/go-cryptalk-server/services"
	"github.com/cryptalk/go-cryptalk-server/types"
	"github.com/hibiken/asynq"
)

// DirectoryQueue retries public-key publications that failed against the
// directory store (revision conflicts, store outages). The payload carries
// the exact envelope the client submitted; nothing is re-derived server side.
type DirectoryQueue struct {
	directoryService *services.DirectoryService
	env              *types.Environment
}

func NewDirectoryQueue(dbSelector *repository.CouchDBSelector, env *types.Environment) *DirectoryQueue {
	directoryService := services.NewDirectoryService(dbSelector)
	return &DirectoryQueue{
		directoryService: directoryService,
		env:              env,
	}
}

// Processing of deferred directory publications
func (dq *DirectoryQueue) ProcessKeyPublishTask(ctx context.Context, t *asynq.Task) error {
	var task types.PublishKeyTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	switch t.Type() {
	case types.QueueTypeKeyPublish:
		return dq.publishKey(ctx, &task)
	default:
		return fmt.Errorf("unexpected task type: %s, %w", t.Type(), asynq.SkipRetry)
	}
}

func (dq *DirectoryQueue) publishKey(ctx context.Context, task *types.PublishKeyTask) error {
	_, err := dq.directoryService.PublishPublicKey(task.UserID, task.PublicKeyB64)
	if err != nil {
		switch err {
		case types.ErrStorageUnavailable, types.ErrConflict:
			// transient, let asynq back off and retry
			return err
		case types.ErrInvalidPublicKey:
			return fmt.Errorf("rejected key for %s: %v: %w", task.UserID, err, asynq.SkipRetry)
		default:
			global.Logger.Log("DirectoryQueue.publishKey", err.Error(), "user", task.UserID)
			return err
		}
	}
	global.Logger.Log("msg", "deferred key publication completed", "user", task.UserID)
	return nil
}
