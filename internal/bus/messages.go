package bus

import (
	"encoding/json"

	"github.com/browniz421/twinsync/internal/twin"
)

// Response statuses, modelled on HTTP codes.
const (
	StatusOK         = 200
	StatusBadRequest = 400
	StatusNotFound   = 404
	StatusConflict   = 409
	StatusError      = 500
)

// ReportedMessage is published by a device on its reported topic.
type ReportedMessage struct {
	RequestID string          `json:"request_id"`
	Patch     json.RawMessage `json:"patch"`
}

// GetRequest asks the hub for the device's full twin.
type GetRequest struct {
	RequestID string `json:"request_id"`
}

// GetResponse answers a GetRequest on the res topic.
type GetResponse struct {
	RequestID string     `json:"request_id"`
	Status    int        `json:"status"`
	Twin      *twin.Twin `json:"twin,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Ack acknowledges a ReportedMessage on the ack topic.
type Ack struct {
	RequestID string `json:"request_id"`
	Status    int    `json:"status"`
	Version   int64  `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

// OK reports whether the status is StatusOK.
func (a Ack) OK() bool { return a.Status == StatusOK }

// OK reports whether the status is StatusOK.
func (r GetResponse) OK() bool { return r.Status == StatusOK }
