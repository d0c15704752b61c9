package types

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

var (
	QueueTypeKeyPublish = "directory:publish"
)

// PublishKeyTask retries a public key upsert that arrived before the owning
// directory record could accept it. Publication is best-effort and must never
// fail the original caller fatally.
type PublishKeyTask struct {
	UserID       string `json:"userId" validate:"required"`
	PublicKeyB64 string `json:"publicKeyB64" validate:"required"`
}

func NewKeyPublishTask(task *PublishKeyTask) (*asynq.Task, error) {
	payload, err := json.Marshal(task)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(QueueTypeKeyPublish, payload), nil
}
