package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silencealoe/data-clean-tool/internal/jobs"
	"github.com/silencealoe/data-clean-tool/internal/persist"
	"github.com/silencealoe/data-clean-tool/internal/progress"
	"github.com/silencealoe/data-clean-tool/internal/queue"
	"github.com/silencealoe/data-clean-tool/internal/rules/store"
	"github.com/silencealoe/data-clean-tool/internal/rules/strategy"
	"github.com/silencealoe/data-clean-tool/internal/uploadprogress"
)

type fakeDB struct {
	mu        sync.Mutex
	execCalls []string
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execCalls = append(f.execCalls, sql)
	return pgconn.CommandTag{}, nil
}

func (f *fakeDB) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }

func newTestApp(t *testing.T) (*App, *fakeDB) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := queue.New(rdb, queue.Config{TaskTimeout: time.Minute, MaxRetryAttempts: 3})

	db := &fakeDB{}
	persister := persist.New(db, 1, time.Millisecond, time.Millisecond)

	registry := strategy.NewDefaultRegistry()
	s := store.New(registry, "")
	require.NoError(t, s.Load())

	a := New(
		jobs.NewProducer(q),
		persister,
		nil, // Reader: not exercised by the handlers covered here
		q,
		s,
		progress.New(),
		uploadprogress.New(),
		t.TempDir(),
		10*1024*1024,
	)
	return a, db
}

func TestHandleRuleConfigCurrent_ReturnsActiveConfiguration(t *testing.T) {
	a, _ := newTestApp(t)
	app := a.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/rule-config/current", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, true, body["success"])
	assert.NotNil(t, body["configuration"])
}

func TestHandleRuleConfigStats_ReturnsSnapshot(t *testing.T) {
	a, _ := newTestApp(t)
	app := a.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/rule-config/stats", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleUploadProgressGet_UnknownIDReturns404Envelope(t *testing.T) {
	a, _ := newTestApp(t)
	app := a.Router()

	req := httptest.NewRequest(http.MethodGet, "/api/upload-progress/does-not-exist", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var env map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	assert.Equal(t, "JOB_NOT_FOUND", env["errorCode"])
}

func TestHandleUpload_RejectsUnsupportedExtension(t *testing.T) {
	a, _ := newTestApp(t)
	app := a.Router()

	body, contentType := multipartFile(t, "file", "data.txt", []byte("hello"))
	req := httptest.NewRequest(http.MethodPost, "/api/data-cleaning/upload", body)
	req.Header.Set("Content-Type", contentType)

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHandleUpload_AcceptsCSVAndEnqueues(t *testing.T) {
	a, db := newTestApp(t)
	app := a.Router()

	body, contentType := multipartFile(t, "file", "data.csv", []byte("name,email\nalice,alice@example.com\n"))
	req := httptest.NewRequest(http.MethodPost, "/api/data-cleaning/upload", body)
	req.Header.Set("Content-Type", contentType)

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	require.NotEmpty(t, out["jobId"])
	assert.Equal(t, out["jobId"], out["taskId"])
	assert.NotEmpty(t, out["fileId"])

	task, err := a.Queue.Status(context.Background(), out["taskId"].(string))
	require.NoError(t, err)
	assert.Equal(t, out["jobId"], task.Payload.JobID)

	db.mu.Lock()
	defer db.mu.Unlock()
	assert.Len(t, db.execCalls, 1) // InsertFile
}

func multipartFile(t *testing.T, field, filename string, content []byte) (io.Reader, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	part, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf, w.FormDataContentType()
}
