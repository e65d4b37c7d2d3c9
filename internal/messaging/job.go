// Package messaging moves notifications through RabbitMQ. The API process
// publishes one job per notification; the notifier worker consumes them and
// hands each to the dispatcher.
package messaging

import (
	"encoding/json"
	"fmt"

	"github.com/Shivanand-hulikatti/school-events/internal/model"
)

// Job is the message body of one queued notification.
type Job struct {
	Notification model.Notification `json:"notification"`
	Recipient    model.Recipient    `json:"recipient"`
	// Attempt counts deliveries that reached the dispatcher, starting at 0.
	Attempt int `json:"attempt"`
}

func encodeJob(j Job) ([]byte, error) {
	return json.Marshal(j)
}

// decodeJob parses a message body. Bodies that can never be dispatched are
// rejected here so they are not requeued.
func decodeJob(body []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(body, &j); err != nil {
		return Job{}, fmt.Errorf("decode notification job: %w", err)
	}
	if !j.Notification.Kind.Valid() {
		return Job{}, fmt.Errorf("decode notification job: unknown kind %q", j.Notification.Kind)
	}
	if j.Recipient.AccountID == "" {
		return Job{}, fmt.Errorf("decode notification job: missing recipient")
	}
	return j, nil
}
