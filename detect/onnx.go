package detect

import (
	"context"
	"fmt"
	"image"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/nfnt/resize"
	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/nee-hit476/Jenji/config"
	"github.com/nee-hit476/Jenji/metrics"
)

const initMaxElapsed = 2 * time.Minute

// modelSession holds one ONNX Runtime session and its bound tensors.
// A session must not be entered concurrently, so sessions are handed out
// through a pool channel.
type modelSession struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// ONNXDetector runs YOLO inference through ONNX Runtime. PoolSize
// sessions are created at load time; a pool of size 1 serializes all
// inference calls, larger pools allow that many in parallel.
type ONNXDetector struct {
	cfg   *config.ModelConfig
	log   *logrus.Logger
	pool  chan *modelSession
	ready atomic.Bool
}

// NewONNXDetector creates an uninitialized detector. Call Start to load
// the model in the background; Detect returns ErrNotReady until then.
func NewONNXDetector(cfg *config.ModelConfig, log *logrus.Logger) *ONNXDetector {
	return &ONNXDetector{
		cfg:  cfg,
		log:  log,
		pool: make(chan *modelSession, cfg.PoolSize),
	}
}

// Start loads the model in a background goroutine, retrying transient
// failures with exponential backoff. A terminal failure leaves the
// server running in a degraded not-ready mode rather than exiting.
func (d *ONNXDetector) Start(ctx context.Context) {
	go func() {
		strategy := backoff.WithContext(backoff.NewExponentialBackOff(
			backoff.WithInitialInterval(time.Second),
			backoff.WithMaxInterval(30*time.Second),
			backoff.WithMaxElapsedTime(initMaxElapsed),
		), ctx)

		err := backoff.RetryNotify(d.initialize, strategy, func(err error, delay time.Duration) {
			d.log.Warnf("Model initialization failed: %v (retrying in %s)", err, delay)
		})
		if err != nil {
			d.log.Errorf("Giving up on model initialization: %v. Serving in degraded not-ready mode.", err)
			return
		}

		d.ready.Store(true)
		d.log.Infof("Model loaded from %s (%d session(s), input %dx%d)",
			d.cfg.Path, d.cfg.PoolSize, d.cfg.InputSize, d.cfg.InputSize)
	}()
}

func (d *ONNXDetector) initialize() error {
	libPath := d.cfg.LibraryPath
	if libPath == "" {
		var err error
		if libPath, err = defaultSharedLibPath(); err != nil {
			return backoff.Permanent(err)
		}
	}

	if !ort.IsInitialized() {
		ort.SetSharedLibraryPath(libPath)
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize ONNX Runtime environment: %w", err)
		}
	}

	// A previous attempt may have filled part of the pool before
	// failing; those sessions are released so a retry starts clean and
	// never overfills the channel.
	d.drainPool()

	for i := 0; i < d.cfg.PoolSize; i++ {
		ms, err := d.createSession()
		if err != nil {
			return fmt.Errorf("failed to create model session %d: %w", i, err)
		}
		if d.cfg.WarmUp {
			if err := ms.session.Run(); err != nil {
				d.log.Warnf("Warm-up inference failed for session %d: %v", i, err)
			}
		}
		d.pool <- ms
	}
	return nil
}

func (d *ONNXDetector) createSession() (*modelSession, error) {
	size := int64(d.cfg.InputSize)
	inputShape := ort.NewShape(1, 3, size, size)
	inputTensor, err := ort.NewTensor(inputShape, make([]float32, 3*size*size))
	if err != nil {
		return nil, err
	}

	cells := int64(outputCells(d.cfg.InputSize))
	outputShape := ort.NewShape(1, int64(len(d.cfg.ClassNames)+4), cells)
	outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		inputTensor.Destroy()
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, err
	}
	defer options.Destroy()

	// Restrict threads per session; parallelism comes from the pool.
	options.SetIntraOpNumThreads(1)
	options.SetInterOpNumThreads(1)

	session, err := ort.NewAdvancedSession(
		d.cfg.Path,
		[]string{d.cfg.InputName},
		[]string{d.cfg.OutputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, err
	}

	return &modelSession{session: session, input: inputTensor, output: outputTensor}, nil
}

// Ready implements Detector.
func (d *ONNXDetector) Ready() bool {
	return d.ready.Load()
}

// Detect implements Detector. The calling worker blocks until a session
// is free; no timeout is imposed on the inference itself, so a stuck
// model stalls only the clients waiting on this pool.
func (d *ONNXDetector) Detect(ctx context.Context, img image.Image) ([]Detection, error) {
	if !d.ready.Load() {
		return nil, ErrNotReady
	}

	var ms *modelSession
	select {
	case ms = <-d.pool:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { d.pool <- ms }()

	d.prepareInput(img, ms.input.GetData())

	start := time.Now()
	if err := ms.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	metrics.InferenceDuration.Observe(time.Since(start).Seconds())

	b := img.Bounds()
	return decodeOutput(
		ms.output.GetData(),
		b.Dx(), b.Dy(),
		d.cfg.InputSize,
		d.cfg.ClassNames,
		float32(d.cfg.Confidence),
		float32(d.cfg.IOUThreshold),
	), nil
}

// prepareInput resizes img to the square model input and writes the
// normalized NCHW pixel data into dst.
func (d *ONNXDetector) prepareInput(img image.Image, dst []float32) {
	size := d.cfg.InputSize
	resized := resize.Resize(uint(size), uint(size), img, resize.Lanczos3)

	stride := size * size
	idx := 0
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			dst[idx] = float32(r>>8) / 255.0
			dst[idx+stride] = float32(g>>8) / 255.0
			dst[idx+2*stride] = float32(b>>8) / 255.0
			idx++
		}
	}
}

// Close destroys all pooled sessions, including ones left behind by a
// partially-completed initialization. Detect must not be called after.
func (d *ONNXDetector) Close() {
	d.ready.Store(false)
	d.drainPool()
}

func (d *ONNXDetector) drainPool() {
	for {
		select {
		case ms := <-d.pool:
			ms.session.Destroy()
			ms.input.Destroy()
			ms.output.Destroy()
		default:
			return
		}
	}
}

// outputCells returns the number of prediction cells the YOLO head emits
// for a square input: the sum of the 1/8, 1/16 and 1/32 scale grids
// (8400 for a 640 input).
func outputCells(inputSize int) int {
	s8 := inputSize / 8
	s16 := inputSize / 16
	s32 := inputSize / 32
	return s8*s8 + s16*s16 + s32*s32
}

// defaultSharedLibPath returns the bundled ONNX Runtime library for this
// platform when model.libraryPath is not configured.
func defaultSharedLibPath() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if runtime.GOARCH == "amd64" {
			return "./third_party/onnxruntime.dll", nil
		}
	case "darwin":
		if runtime.GOARCH == "arm64" {
			return "./third_party/onnxruntime_arm64.dylib", nil
		}
	case "linux":
		if runtime.GOARCH == "arm64" {
			return "./third_party/onnxruntime_arm64.so", nil
		}
		return "./third_party/onnxruntime.so", nil
	}
	return "", fmt.Errorf("no bundled ONNX Runtime library for %s/%s", runtime.GOOS, runtime.GOARCH)
}
