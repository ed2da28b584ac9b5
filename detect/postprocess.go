package detect

import "sort"

// decodeOutput converts a raw YOLO output tensor (layout [4+numClasses,
// cells], boxes as center-x/center-y/width/height in input-tensor pixels)
// into detections in the source image's coordinate space, applying the
// confidence threshold and non-maximum suppression.
func decodeOutput(output []float32, imgW, imgH, inputSize int, classes []string, confThreshold, iouThreshold float32) []Detection {
	numClasses := len(classes)
	stride := numClasses + 4
	if stride == 4 || len(output) == 0 || len(output)%stride != 0 {
		return nil
	}
	cells := len(output) / stride

	scaleX := float32(imgW) / float32(inputSize)
	scaleY := float32(imgH) / float32(inputSize)

	var candidates []Detection
	for i := 0; i < cells; i++ {
		// Find class with highest probability.
		classID, prob := 0, float32(0.0)
		for j := 0; j < numClasses; j++ {
			if curr := output[cells*(j+4)+i]; curr > prob {
				prob = curr
				classID = j
			}
		}
		if prob < confThreshold {
			continue
		}

		xc := output[i]
		yc := output[cells+i]
		w := output[2*cells+i]
		h := output[3*cells+i]

		candidates = append(candidates, Detection{
			ClassID:    classID,
			ClassName:  classes[classID],
			Confidence: prob,
			BBox: []float32{
				(xc - w/2) * scaleX,
				(yc - h/2) * scaleY,
				(xc + w/2) * scaleX,
				(yc + h/2) * scaleY,
			},
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})

	// Non-Maximum Suppression (NMS)
	var detections []Detection
	suppressed := make([]bool, len(candidates))
	for i := 0; i < len(candidates); i++ {
		if suppressed[i] {
			continue
		}
		detections = append(detections, candidates[i])
		for j := i + 1; j < len(candidates); j++ {
			if suppressed[j] {
				continue
			}
			if iou(candidates[i].BBox, candidates[j].BBox) > iouThreshold {
				suppressed[j] = true
			}
		}
	}

	return detections
}

// iou computes the Intersection-over-Union of two [x1,y1,x2,y2] boxes.
func iou(a, b []float32) float32 {
	x1 := max32(a[0], b[0])
	y1 := max32(a[1], b[1])
	x2 := min32(a[2], b[2])
	y2 := min32(a[3], b[3])

	intersection := max32(0, x2-x1) * max32(0, y2-y1)
	if intersection == 0 {
		return 0
	}
	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])

	return intersection / (areaA + areaB - intersection)
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}
