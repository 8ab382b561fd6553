package server

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MeKo-Tech/ticketocr/internal/fields"
	"github.com/MeKo-Tech/ticketocr/internal/scheduler"
	"github.com/MeKo-Tech/ticketocr/internal/testutil"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitBatchAndPoll(t *testing.T) {
	env := newTestEnv(t, Config{})

	resp := env.submit(t,
		upload{"a.png", testutil.CrispPNG(t, 1)},
		upload{"b.png", testutil.CrispPNG(t, 2)},
		upload{"c.png", testutil.CrispPNG(t, 3)},
	)
	assert.NotEqual(t, uuid.Nil, resp.BatchID)
	assert.Equal(t, []string{"a.png", "b.png", "c.png"}, resp.Items)

	env.waitFinished(t, resp.BatchID)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/batches/"+resp.BatchID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[scheduler.Snapshot](t, rec)
	assert.Equal(t, resp.BatchID, snap.ID)
	assert.Equal(t, scheduler.BatchDrained, snap.Status)
	require.Len(t, snap.Items, 3)
	for i, it := range snap.Items {
		assert.Equal(t, i, it.Index)
		assert.Equal(t, scheduler.StatusCompleted, it.Status)
		assert.Equal(t, 100, it.Progress)
		require.NotNil(t, it.Result)
		assert.Equal(t, "TK-2024-001", it.Result.Values()[fields.TicketNumber])
	}
	assert.NotNil(t, snap.FinishedAt)
}

func TestSubmitBatchItemFailure(t *testing.T) {
	env := newTestEnv(t, Config{})
	bad := testutil.CrispPNG(t, 9)
	env.engine.Fail(string(bad), fmt.Errorf("sensor glare"))

	resp := env.submit(t, upload{"good.png", testutil.CrispPNG(t, 8)}, upload{"bad.png", bad})
	snap := env.waitFinished(t, resp.BatchID)

	assert.Equal(t, scheduler.BatchDrained, snap.Status)
	assert.Equal(t, scheduler.StatusCompleted, snap.Items[0].Status)
	assert.Equal(t, scheduler.StatusFailed, snap.Items[1].Status)
	assert.Contains(t, snap.Items[1].Error, "sensor glare")
}

func TestSubmitBatchErrors(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := env.do(uploadRequest(t, "/batches", "files", upload{"a.png", testutil.CrispPNG(t, 1)}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "No images provided", decode[ErrorResponse](t, rec).Error)

	rec = env.do(uploadRequest(t, "/batches", "images", upload{"broken.pdf", []byte("%PDF-1.7 truncated")}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Error, "broken.pdf")

	rec = env.do(httptest.NewRequest(http.MethodGet, "/batches", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSubmitBatchAfterShutdown(t *testing.T) {
	sched := scheduler.New(scheduler.ProcessorFunc(nil))
	srv, err := NewServer(Config{Logger: quietLogger()}, failingProcessor{}, sched)
	require.NoError(t, err)
	defer func() { _ = srv.Close() }()

	rec := httptest.NewRecorder()
	srv.submitBatchHandler(rec, uploadRequest(t, "/batches", "images", upload{"a.png", testutil.CrispPNG(t, 1)}))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBatchHandlerErrors(t *testing.T) {
	env := newTestEnv(t, Config{})

	rec := env.do(httptest.NewRequest(http.MethodGet, "/batches/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/batches/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodDelete, "/batches/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNoContent, rec.Code, "cancelling an unknown batch is not an error")

	rec = env.do(httptest.NewRequest(http.MethodPut, "/batches/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestCancelBatch(t *testing.T) {
	env := newTestEnv(t, Config{})
	release := env.engine.Hold()
	t.Cleanup(release)

	resp := env.submit(t,
		upload{"a.png", testutil.CrispPNG(t, 1)},
		upload{"b.png", testutil.CrispPNG(t, 2)},
		upload{"c.png", testutil.CrispPNG(t, 3)},
		upload{"d.png", testutil.CrispPNG(t, 4)},
	)

	rec := env.do(httptest.NewRequest(http.MethodDelete, "/batches/"+resp.BatchID.String(), nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(httptest.NewRequest(http.MethodGet, "/batches/"+resp.BatchID.String(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[scheduler.Snapshot](t, rec)
	assert.Equal(t, scheduler.BatchCancelled, snap.Status)

	_, _, _, _, removed := snap.Counts()
	assert.GreaterOrEqual(t, removed, 2, "two workers hold at most two items")

	rec = env.do(httptest.NewRequest(http.MethodDelete, "/batches/"+resp.BatchID.String(), nil))
	assert.Equal(t, http.StatusNoContent, rec.Code, "cancel is idempotent")
}

func TestQueueHandler(t *testing.T) {
	env := newTestEnv(t, Config{})
	release := env.engine.Hold()
	t.Cleanup(release)

	resp := env.submit(t, upload{"a.png", testutil.CrispPNG(t, 1)}, upload{"b.png", testutil.CrispPNG(t, 2)},
		upload{"c.png", testutil.CrispPNG(t, 3)})

	require.Eventually(t, func() bool {
		return env.scheduler.QueueStatus().WorkersBusy == 2
	}, 5*time.Second, 10*time.Millisecond)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/queue", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	q := decode[QueueResponse](t, rec)
	assert.Equal(t, 2, q.Queue.Workers)
	assert.Equal(t, 2, q.Queue.WorkersBusy)
	assert.Equal(t, 1, q.Queue.QueueLength)
	assert.True(t, q.Queue.Processing)
	assert.Equal(t, []uuid.UUID{resp.BatchID}, q.Queue.ActiveBatches)
	require.Len(t, q.Workers, 2)
	for _, w := range q.Workers {
		assert.True(t, w.Busy)
		require.NotNil(t, w.Batch)
		assert.Equal(t, resp.BatchID, *w.Batch)
	}

	release()
	env.waitFinished(t, resp.BatchID)

	rec = env.do(httptest.NewRequest(http.MethodPost, "/queue", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestIsPDFUpload(t *testing.T) {
	assert.True(t, isPDFUpload("ticket.PDF", nil))
	assert.True(t, isPDFUpload("upload.bin", []byte("%PDF-1.4\n")))
	assert.False(t, isPDFUpload("ticket.png", []byte{0x89, 'P', 'N', 'G'}))
	assert.False(t, isPDFUpload("x", []byte("%PD")))
}
