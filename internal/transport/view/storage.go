package view

import (
	"encoding/json"
	"net/http"

	"blockworld.ai/internal/protocol"
	"blockworld.ai/internal/updates"
)

// StorageHandler serves the observer-side update store over one aggregator:
// POST merges a batch in, GET flushes (read-and-clear), DELETE clears. The
// view-api binary mounts it at /updates; the semantics mirror the world-side
// aggregator exactly, so a poll never sees the same change twice.
func StorageHandler(agg *updates.Aggregator) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var batch protocol.UpdateBatch
			dec := json.NewDecoder(r.Body)
			dec.DisallowUnknownFields()
			if err := dec.Decode(&batch); err != nil {
				http.Error(rw, "malformed update batch", http.StatusBadRequest)
				return
			}
			agg.Merge(batch)
			rw.WriteHeader(http.StatusNoContent)

		case http.MethodGet:
			batch := agg.Flush()
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(batch)

		case http.MethodDelete:
			agg.Clear()
			rw.WriteHeader(http.StatusNoContent)

		default:
			rw.Header().Set("Allow", "GET, POST, DELETE")
			rw.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
}
