package telemetry

import "time"

// ReadingMessage is the wire form of one pump reading. Delivery is
// at-least-once; the endpoint deduplicates on device id + timestamp.
type ReadingMessage struct {
	ID           int64     `json:"id"`
	DeviceID     string    `json:"deviceId"`
	TimestampUTC time.Time `json:"timestampUtc"`
	CurrentAmps  *float64  `json:"currentAmps,omitempty"`
	Status       string    `json:"status"`
	Confidence   float64   `json:"confidence"`
}

// ActionMessage is the wire form of one relay action log entry.
type ActionMessage struct {
	ID           int64     `json:"id"`
	DeviceID     string    `json:"deviceId"`
	TimestampUTC time.Time `json:"timestampUtc"`
	Action       string    `json:"action"`
	Reason       string    `json:"reason"`
}

// BatchRequest is one upload to the cloud telemetry endpoint.
type BatchRequest struct {
	BatchID      string           `json:"batchId"`
	DeviceID     string           `json:"deviceId"`
	Readings     []ReadingMessage `json:"readings,omitempty"`
	RelayActions []ActionMessage  `json:"relayActions,omitempty"`
}

// BatchResponse is the endpoint's acknowledgment. Only acknowledged ids
// are marked synced locally; anything missing stays queued for the next
// interval. An empty body on a 2xx response acknowledges the whole
// batch.
type BatchResponse struct {
	AcceptedReadingIDs []int64 `json:"acceptedReadingIds"`
	AcceptedActionIDs  []int64 `json:"acceptedActionIds"`
}
