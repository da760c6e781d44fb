// Package tasks defines the relay tasks produced after an upload and the in-process queue that runs them
// when no Kafka broker is configured.
package tasks

import (
	"context"
	"time"
)

// RelayTask asks the pipeline to copy one stored file to the configured remotes.
type RelayTask struct {
	FileID      string    `json:"file_id"`
	StoredName  string    `json:"stored_name"`
	DisplayName string    `json:"display_name"`
	Uploader    string    `json:"uploader"`
	Attempt     int       `json:"attempt"`
	EnqueuedAt  time.Time `json:"enqueued_at"`
}

// Dispatcher hands a task to whatever transport runs the pipeline.
type Dispatcher interface {
	Dispatch(ctx context.Context, task RelayTask) error
}

// Processor runs a single task. Implemented by pipeline.Processor.
type Processor interface {
	Process(ctx context.Context, task RelayTask) error
}
