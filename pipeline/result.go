package pipeline

import "github.com/nee-hit476/Jenji/detect"

// Response is the per-frame success payload sent back on the
// "response_back" event: the annotated frame as a JPEG data URI plus the
// structured detections.
type Response struct {
	Frame      string             `json:"frame"`
	Detections []detect.Detection `json:"detections"`
	Count      int                `json:"count"`
}

// ErrorResponse reports a per-frame failure to the originating client.
// Loading is set while the detector has not finished initializing.
type ErrorResponse struct {
	Error   string `json:"error"`
	Loading bool   `json:"loading,omitempty"`
}
