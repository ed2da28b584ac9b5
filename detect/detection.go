// Package detect runs object-detection inference on decoded frames.
package detect

import (
	"context"
	"errors"
	"image"
)

// ErrNotReady is returned while the model is still initializing.
var ErrNotReady = errors.New("detector is not ready")

// Detection is one predicted object instance. BBox is [x1, y1, x2, y2]
// in pixel coordinates of the image passed to Detect. Detections are
// produced fresh per call and never mutated afterwards.
type Detection struct {
	ClassID    int       `json:"class_id"`
	ClassName  string    `json:"class_name"`
	Confidence float32   `json:"confidence"`
	BBox       []float32 `json:"bbox"`
}

// Detector is the inference capability the pipeline depends on.
type Detector interface {
	// Detect returns all objects found in img above the configured
	// confidence threshold.
	Detect(ctx context.Context, img image.Image) ([]Detection, error)
	// Ready reports whether the model has finished initializing.
	Ready() bool
}
