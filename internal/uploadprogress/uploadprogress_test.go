package uploadprogress

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silencealoe/data-clean-tool/internal/domain"
)

func TestStartAndUpdateProgress(t *testing.T) {
	tr := New()
	id := tr.StartTracking("big.csv", 1000)

	tr.UpdateProgress(id, 500)
	p, ok := tr.GetProgress(id)
	require.True(t, ok)
	assert.Equal(t, int64(500), p.UploadedSize)
	assert.InDelta(t, 50.0, p.Progress, 0.01)
	assert.Equal(t, domain.UploadStatusUploading, p.Status)
}

func TestCompleteUploadSetsFullProgress(t *testing.T) {
	tr := New()
	id := tr.StartTracking("f.csv", 100)
	tr.UpdateProgress(id, 100)
	tr.CompleteUpload(id)

	p, ok := tr.GetProgress(id)
	require.True(t, ok)
	assert.Equal(t, domain.UploadStatusCompleted, p.Status)
	assert.Equal(t, 100.0, p.Progress)
}

func TestFailUploadRecordsError(t *testing.T) {
	tr := New()
	id := tr.StartTracking("f.csv", 100)
	tr.FailUpload(id, "disk full")

	p, ok := tr.GetProgress(id)
	require.True(t, ok)
	assert.Equal(t, domain.UploadStatusFailed, p.Status)
	assert.Equal(t, "disk full", p.Error)
}

func TestSubscribeReceivesUpdates(t *testing.T) {
	tr := New()
	id := tr.StartTracking("f.csv", 100)
	ch, unsubscribe, ok := tr.Subscribe(id)
	require.True(t, ok)
	defer unsubscribe()

	tr.UpdateProgress(id, 50)

	select {
	case ev := <-ch:
		assert.Equal(t, int64(50), ev.UploadedSize)
	case <-time.After(time.Second):
		t.Fatal("expected a progress event")
	}
}

func TestGetAllActiveOnlyReturnsUploading(t *testing.T) {
	tr := New()
	active := tr.StartTracking("a.csv", 10)
	done := tr.StartTracking("b.csv", 10)
	tr.CompleteUpload(done)

	actives := tr.GetAllActive()
	require.Len(t, actives, 1)
	assert.Equal(t, active, actives[0].UploadID)
}

func TestGC_RemovesExpiredEntries(t *testing.T) {
	tr := New()
	id := tr.StartTracking("a.csv", 10)
	tr.CompleteUpload(id)

	tr.GC(time.Now().Add(CompletedTTL + time.Second))

	_, ok := tr.GetProgress(id)
	assert.False(t, ok)
}

func TestGC_KeepsFreshEntries(t *testing.T) {
	tr := New()
	id := tr.StartTracking("a.csv", 10)

	tr.GC(time.Now())

	_, ok := tr.GetProgress(id)
	assert.True(t, ok)
}
