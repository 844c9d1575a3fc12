package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
)

// RunHandler serves POST /jobs/{name}/run. The run shares the overlap guard
// with scheduled ticks and is detached from the request, so a client that
// disconnects does not cancel the batch.
func RunHandler(s *Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := s.RunNow(context.WithoutCancel(r.Context()), mux.Vars(r)["name"])

		w.Header().Set("Content-Type", "application/json")
		switch {
		case err == nil:
			w.WriteHeader(http.StatusOK)
		case errors.Is(err, ErrUnknownJob):
			w.WriteHeader(http.StatusNotFound)
		case errors.Is(err, ErrJobRunning):
			w.WriteHeader(http.StatusConflict)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
		json.NewEncoder(w).Encode(summary)
	}
}
