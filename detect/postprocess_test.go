package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildOutput assembles a raw output tensor for the given cell values.
// Layout matches the YOLO head: 4 box rows then one row per class.
func buildOutput(cells int, boxes [][4]float32, probs [][]float32) []float32 {
	numClasses := len(probs[0])
	out := make([]float32, cells*(numClasses+4))
	for i := range boxes {
		out[i] = boxes[i][0]          // xc
		out[cells+i] = boxes[i][1]    // yc
		out[2*cells+i] = boxes[i][2]  // w
		out[3*cells+i] = boxes[i][3]  // h
		for j, p := range probs[i] {
			out[cells*(j+4)+i] = p
		}
	}
	return out
}

func TestDecodeOutputFiltersAndSuppresses(t *testing.T) {
	classes := []string{"OxygenTank", "FireAlarm"}
	output := buildOutput(4,
		[][4]float32{
			{100, 100, 40, 40}, // strong OxygenTank
			{105, 105, 40, 40}, // overlapping duplicate, lower confidence
			{300, 300, 40, 40}, // separate FireAlarm
			{500, 500, 40, 40}, // below threshold
		},
		[][]float32{
			{0.9, 0.0},
			{0.8, 0.0},
			{0.0, 0.6},
			{0.1, 0.0},
		},
	)

	dets := decodeOutput(output, 640, 640, 640, classes, 0.25, 0.5)
	require.Len(t, dets, 2)

	// Sorted by confidence, duplicate suppressed by NMS.
	assert.Equal(t, "OxygenTank", dets[0].ClassName)
	assert.Equal(t, 0, dets[0].ClassID)
	assert.InDelta(t, 0.9, dets[0].Confidence, 1e-6)
	assert.Equal(t, []float32{80, 80, 120, 120}, dets[0].BBox)

	assert.Equal(t, "FireAlarm", dets[1].ClassName)
	assert.Equal(t, 1, dets[1].ClassID)
}

func TestDecodeOutputScalesToImage(t *testing.T) {
	classes := []string{"OxygenTank"}
	output := buildOutput(1,
		[][4]float32{{320, 320, 100, 200}},
		[][]float32{{0.7}},
	)

	// 640 model input, 320x160 source image: x halves, y quarters.
	dets := decodeOutput(output, 320, 160, 640, classes, 0.25, 0.7)
	require.Len(t, dets, 1)
	assert.Equal(t, []float32{135, 55, 185, 105}, dets[0].BBox)
}

func TestDecodeOutputEmptyAndMalformed(t *testing.T) {
	classes := []string{"OxygenTank"}
	assert.Nil(t, decodeOutput(nil, 640, 640, 640, classes, 0.25, 0.7))
	// Length not divisible by the row stride.
	assert.Nil(t, decodeOutput(make([]float32, 7), 640, 640, 640, classes, 0.25, 0.7))
	assert.Nil(t, decodeOutput(make([]float32, 8), 640, 640, 640, nil, 0.25, 0.7))
}

func TestIoU(t *testing.T) {
	a := []float32{0, 0, 10, 10}
	assert.InDelta(t, 1.0, iou(a, a), 1e-6)
	assert.InDelta(t, 0.0, iou(a, []float32{20, 20, 30, 30}), 1e-6)

	// Half-overlapping boxes: intersection 50, union 150.
	b := []float32{5, 0, 15, 10}
	assert.InDelta(t, 1.0/3.0, iou(a, b), 1e-6)
}

func TestOutputCells(t *testing.T) {
	assert.Equal(t, 8400, outputCells(640))
	assert.Equal(t, 2100, outputCells(320))
}
