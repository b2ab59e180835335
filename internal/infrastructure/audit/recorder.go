// Package audit appends security-relevant account events to a JSON-lines
// trail without blocking the authentication path.
package audit

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultWorkers = 4
	channelBuffer  = 128
)

// Event is one line of the audit trail.
type Event struct {
	ID       string    `json:"id"`
	Time     time.Time `json:"time"`
	Username string    `json:"username"`
	Action   string    `json:"action"`
	Outcome  string    `json:"outcome"`
	Detail   string    `json:"detail,omitempty"`
}

// Recorder fans events out to a fixed set of workers sharded by username, so
// the trail preserves per-user event ordering while Record stays cheap for
// the caller.
type Recorder struct {
	workers []chan Event
	path    string
	fileMu  sync.Mutex
	log     zerolog.Logger
}

// NewRecorder creates a Recorder writing to path with numWorkers sharded
// workers. If numWorkers <= 0, defaultWorkers is used.
func NewRecorder(path string, numWorkers int, log zerolog.Logger) *Recorder {
	if numWorkers <= 0 {
		numWorkers = defaultWorkers
	}
	r := &Recorder{
		workers: make([]chan Event, numWorkers),
		path:    path,
		log:     log,
	}
	for i := range r.workers {
		r.workers[i] = make(chan Event, channelBuffer)
	}
	return r
}

// Start launches all worker goroutines. Workers stop when ctx is cancelled.
func (r *Recorder) Start(ctx context.Context) {
	for i, ch := range r.workers {
		go r.runWorker(ctx, i, ch)
	}
}

// Record enqueues one event on the worker responsible for its username.
// Non-blocking up to channelBuffer capacity.
func (r *Recorder) Record(username, action, outcome, detail string) {
	r.workers[r.shardIndex(username)] <- Event{
		ID:       uuid.NewString(),
		Time:     time.Now().UTC(),
		Username: username,
		Action:   action,
		Outcome:  outcome,
		Detail:   detail,
	}
}

// shardIndex maps a username deterministically to a worker index.
func (r *Recorder) shardIndex(username string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(username))
	return int(h.Sum32()) % len(r.workers)
}

func (r *Recorder) runWorker(ctx context.Context, id int, ch <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			if err := r.append(event); err != nil {
				r.log.Error().Err(err).
					Str("username", event.Username).
					Int("worker_id", id).
					Msg("audit append failed")
			}
		}
	}
}

func (r *Recorder) append(event Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return err
	}

	r.fileMu.Lock()
	defer r.fileMu.Unlock()

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(append(line, '\n'))
	return err
}
