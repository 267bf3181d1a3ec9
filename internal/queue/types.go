package queue

import "encoding/json"

// Job kinds carried by the background queue (§5).
const (
	JobKindReingest  = "reingest"
	JobKindRecluster = "recluster"
)

// Message is the wire shape of everything that goes through the queue.
// Keep it simple - just enough to route the job to a handler.
type Message struct {
	JobID   string          `json:"job_id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ReingestPayload drives one Warehouse Loader pass over a data root.
type ReingestPayload struct {
	DataDir     string `json:"data_dir"`
	Incremental bool   `json:"incremental"`
}

// ReclusterPayload drives one Farm Deduplication Core pass. An empty
// RegionSlug means every region known for Country; an empty Country means
// every country.
type ReclusterPayload struct {
	Country    string `json:"country"`
	RegionSlug string `json:"region_slug"`
}
