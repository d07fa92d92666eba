package health

import (
	"encoding/json"
	"net/http"
)

type Status struct {
	OK        bool   `json:"ok"`
	Message   string `json:"message,omitempty"`
	Scheduler bool   `json:"scheduler,omitempty"`
}

// HTTPHandler returns an HTTP handler that reports the health status of
// the daemon. ready reports whether the scheduler loop is running.
func HTTPHandler(ready func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		st := Status{OK: true, Message: "ok", Scheduler: true}

		if ready != nil && !ready() {
			st.OK = false
			st.Message = "scheduler not running"
			st.Scheduler = false
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(st)
	}
}
