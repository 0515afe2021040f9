// Package uploadprogress implements the Upload Progress Tracker (spec.md
// §4.8): in-flight HTTP body ingestion tracking with a bounded pub/sub
// feed for SSE transport, and time-based expiry/garbage collection.
package uploadprogress

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/silencealoe/data-clean-tool/internal/domain"
)

// Expiry windows (spec.md §4.8 "Auto-expires ...").
const (
	CompletedTTL = 5 * time.Minute
	FailedTTL    = 1 * time.Minute
	StaleAfter   = 10 * time.Minute
)

type entry struct {
	progress   domain.UploadProgress
	lastTouch  time.Time
	subscribers []chan domain.UploadProgress
}

// Tracker holds every in-flight and recently-terminal upload.
type Tracker struct {
	mu      sync.Mutex
	uploads map[string]*entry
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{uploads: make(map[string]*entry)}
}

// StartTracking begins tracking a new upload and returns its id.
func (t *Tracker) StartTracking(fileName string, totalSize int64) string {
	id := uuid.NewString()
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	t.uploads[id] = &entry{
		progress: domain.UploadProgress{
			UploadID:       id,
			FileName:       fileName,
			TotalSize:      totalSize,
			Status:         domain.UploadStatusUploading,
			StartTime:      now,
			LastUpdateTime: now,
		},
		lastTouch: now,
	}
	return id
}

// UpdateProgress records uploadedSize bytes transferred so far, computing
// instantaneous speed from the delta against the previous update (spec.md
// §4.8 "(Δbytes)/(Δms)*1000").
func (t *Tracker) UpdateProgress(uploadID string, uploadedSize int64) {
	t.mu.Lock()
	e, ok := t.uploads[uploadID]
	if !ok {
		t.mu.Unlock()
		return
	}

	now := time.Now()
	prevBytes := e.progress.UploadedSize
	prevAt := e.progress.LastUpdateTime
	deltaMs := float64(now.Sub(prevAt).Milliseconds())

	e.progress.UploadedSize = uploadedSize
	if e.progress.TotalSize > 0 {
		e.progress.Progress = float64(uploadedSize) / float64(e.progress.TotalSize) * 100
	}
	if deltaMs > 0 {
		e.progress.SpeedBytesPerS = float64(uploadedSize-prevBytes) / deltaMs * 1000
	}
	e.progress.LastUpdateTime = now
	e.lastTouch = now

	snapshot := e.progress
	subs := append([]chan domain.UploadProgress(nil), e.subscribers...)
	t.mu.Unlock()

	publish(subs, snapshot)
}

// CompleteUpload marks uploadID completed.
func (t *Tracker) CompleteUpload(uploadID string) {
	t.transition(uploadID, domain.UploadStatusCompleted, "")
}

// FailUpload marks uploadID failed with errMsg.
func (t *Tracker) FailUpload(uploadID string, errMsg string) {
	t.transition(uploadID, domain.UploadStatusFailed, errMsg)
}

func (t *Tracker) transition(uploadID string, status domain.UploadStatus, errMsg string) {
	t.mu.Lock()
	e, ok := t.uploads[uploadID]
	if !ok {
		t.mu.Unlock()
		return
	}
	now := time.Now()
	e.progress.Status = status
	e.progress.Error = errMsg
	e.progress.LastUpdateTime = now
	e.lastTouch = now
	if status == domain.UploadStatusCompleted {
		e.progress.Progress = 100
	}
	snapshot := e.progress
	subs := append([]chan domain.UploadProgress(nil), e.subscribers...)
	t.mu.Unlock()

	publish(subs, snapshot)
}

// GetProgress returns the current snapshot for uploadID, and whether it
// exists.
func (t *Tracker) GetProgress(uploadID string) (domain.UploadProgress, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.uploads[uploadID]
	if !ok {
		return domain.UploadProgress{}, false
	}
	return e.progress, true
}

// GetAllActive returns every upload currently in the "uploading" status.
func (t *Tracker) GetAllActive() []domain.UploadProgress {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.UploadProgress, 0, len(t.uploads))
	for _, e := range t.uploads {
		if e.progress.Status == domain.UploadStatusUploading {
			out = append(out, e.progress)
		}
	}
	return out
}

// Subscribe registers a channel that receives every subsequent progress
// event for uploadID (spec.md §4.8 "Publishes a change event per update;
// SSE transport drains these"). The returned unsubscribe func must be
// called when the SSE stream disconnects.
func (t *Tracker) Subscribe(uploadID string) (<-chan domain.UploadProgress, func(), bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.uploads[uploadID]
	if !ok {
		return nil, func() {}, false
	}
	ch := make(chan domain.UploadProgress, 16)
	e.subscribers = append(e.subscribers, ch)

	unsubscribe := func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		e, ok := t.uploads[uploadID]
		if !ok {
			return
		}
		for i, s := range e.subscribers {
			if s == ch {
				e.subscribers = append(e.subscribers[:i], e.subscribers[i+1:]...)
				close(ch)
				break
			}
		}
	}
	return ch, unsubscribe, true
}

func publish(subs []chan domain.UploadProgress, snapshot domain.UploadProgress) {
	for _, ch := range subs {
		select {
		case ch <- snapshot:
		default:
			// a slow SSE consumer whose buffer is full misses this event
			// rather than blocking the uploader; GetProgress always has the
			// latest.
		}
	}
}

// GC removes completed entries older than CompletedTTL, failed entries
// older than FailedTTL, and uploading entries untouched for StaleAfter
// (spec.md §4.8). Call periodically from a background goroutine.
func (t *Tracker) GC(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, e := range t.uploads {
		age := now.Sub(e.lastTouch)
		switch e.progress.Status {
		case domain.UploadStatusCompleted:
			if age > CompletedTTL {
				delete(t.uploads, id)
			}
		case domain.UploadStatusFailed:
			if age > FailedTTL {
				delete(t.uploads, id)
			}
		case domain.UploadStatusUploading:
			if age > StaleAfter {
				delete(t.uploads, id)
			}
		}
	}
}
