package jobs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runRequest(ctx context.Context, name string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/jobs/"+name+"/run", nil).WithContext(ctx)
	return mux.SetURLVars(req, map[string]string{"name": name})
}

func TestRunHandler_SurvivesClientDisconnect(t *testing.T) {
	s := NewScheduler(false)
	job := newBlockingJob("daily")
	s.Register(job, time.Hour)

	reqCtx, cancel := context.WithCancel(context.Background())
	rr := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		RunHandler(s)(rr, runRequest(reqCtx, "daily"))
		close(done)
	}()

	<-job.started
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(job.release)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return")
	}

	assert.Equal(t, http.StatusOK, rr.Code)
	var summary Summary
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&summary))
	assert.Equal(t, 1, summary.Succeeded)
}

func TestRunHandler_StatusCodes(t *testing.T) {
	s := NewScheduler(false)
	job := newBlockingJob("daily")
	s.Register(job, time.Hour)

	rr := httptest.NewRecorder()
	RunHandler(s)(rr, runRequest(context.Background(), "missing"))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	done := make(chan struct{})
	go func() {
		RunHandler(s)(httptest.NewRecorder(), runRequest(context.Background(), "daily"))
		close(done)
	}()
	<-job.started

	rr = httptest.NewRecorder()
	RunHandler(s)(rr, runRequest(context.Background(), "daily"))
	assert.Equal(t, http.StatusConflict, rr.Code)

	close(job.release)
	<-done
}
