package reid

import (
	"fmt"
	"image"
	"image/draw"
	"log/slog"
	"sync"
	"time"

	"github.com/nfnt/resize"
)

const (
	// latencyWindow bounds the rolling latency average.
	latencyWindow = 100

	// Hard floors the extractor never relaxes below.
	floorWidth  = 16
	floorHeight = 32

	// Minimum crop size fed into the histogram pipeline. Smaller accepted
	// crops are up-sampled to at least this before extraction.
	extractWidth  = 32
	extractHeight = 64
)

// Config holds extractor settings.
type Config struct {
	InputWidth      int  `yaml:"input_width" json:"input_width"`
	InputHeight     int  `yaml:"input_height" json:"input_height"`
	FeatureDim      int  `yaml:"feature_dim" json:"feature_dim"`
	Normalize       bool `yaml:"normalize" json:"normalize"`
	MinObjectWidth  int  `yaml:"min_obj_width" json:"min_obj_width"`
	MinObjectHeight int  `yaml:"min_obj_height" json:"min_obj_height"`
}

// DefaultConfig returns the default extractor configuration.
func DefaultConfig() Config {
	return Config{
		InputWidth:      128,
		InputHeight:     256,
		FeatureDim:      512,
		Normalize:       true,
		MinObjectWidth:  32,
		MinObjectHeight: 64,
	}
}

// Backbone is a learned re-identification model behind the extractor
// contract. The handcrafted histogram pipeline is the fallback when no
// backbone is configured or a backbone inference fails.
type Backbone interface {
	// Extract produces an embedding for the crop bounded by bbox.
	Extract(frame image.Image, bbox image.Rectangle) (FeatureVector, error)
	// Dimension reports the embedding length the backbone produces.
	Dimension() int
}

// Stats reports extractor throughput figures.
type Stats struct {
	ExtractionCount  uint64  `json:"extraction_count"`
	AvgLatencyMillis float64 `json:"avg_latency_ms"`
}

// Extractor turns detection crops into fixed-length appearance vectors.
// Extraction is deterministic: identical (frame, bbox, config) inputs
// produce bit-identical vectors.
type Extractor struct {
	cfg      Config
	backbone Backbone
	logger   *slog.Logger

	mu        sync.Mutex
	latencies []float64
	count     uint64
}

// NewExtractor validates cfg and creates an extractor.
func NewExtractor(cfg Config) (*Extractor, error) {
	if cfg.InputWidth <= 0 || cfg.InputHeight <= 0 {
		return nil, fmt.Errorf("invalid input size %dx%d", cfg.InputWidth, cfg.InputHeight)
	}
	if cfg.FeatureDim < 128 || cfg.FeatureDim > 2048 {
		return nil, fmt.Errorf("feature dimension %d outside [128, 2048]", cfg.FeatureDim)
	}
	if cfg.MinObjectWidth < floorWidth {
		cfg.MinObjectWidth = floorWidth
	}
	if cfg.MinObjectHeight < floorHeight {
		cfg.MinObjectHeight = floorHeight
	}

	return &Extractor{
		cfg:    cfg,
		logger: slog.Default().With("component", "reid-extractor"),
	}, nil
}

// SetBackbone installs a learned model. Passing nil reverts to the
// handcrafted pipeline.
func (e *Extractor) SetBackbone(b Backbone) {
	e.backbone = b
}

// Config returns the extractor configuration.
func (e *Extractor) Config() Config {
	return e.cfg
}

// Extract produces a feature vector for the region bbox of frame, or an
// empty vector when the crop is rejected.
func (e *Extractor) Extract(frame image.Image, bbox image.Rectangle) FeatureVector {
	start := time.Now()
	features := e.extract(frame, bbox)
	e.record(time.Since(start), len(features) > 0)
	return features
}

// BatchExtraction pairs one detection's id with its extracted vector.
type BatchExtraction struct {
	ID       string
	Features FeatureVector
}

// ExtractBatch runs extraction over aligned per-frame detection and id
// slices. The result is aligned with the input: result[i][j] corresponds
// to detections[i][j] and carries ids[i][j], and a rejected crop yields
// an empty vector without aborting the batch. A missing id slice leaves
// the id blank.
func (e *Extractor) ExtractBatch(frames []image.Image, detections [][]image.Rectangle, ids [][]string) [][]BatchExtraction {
	results := make([][]BatchExtraction, len(frames))
	for i, frame := range frames {
		if i >= len(detections) {
			break
		}
		results[i] = make([]BatchExtraction, len(detections[i]))
		for j, bbox := range detections[i] {
			results[i][j].Features = e.Extract(frame, bbox)
			if i < len(ids) && j < len(ids[i]) {
				results[i][j].ID = ids[i][j]
			}
		}
	}
	return results
}

// Stats returns the rolling latency average and total embedding count.
func (e *Extractor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	var avg float64
	if len(e.latencies) > 0 {
		var sum float64
		for _, l := range e.latencies {
			sum += l
		}
		avg = sum / float64(len(e.latencies))
	}

	return Stats{ExtractionCount: e.count, AvgLatencyMillis: avg}
}

func (e *Extractor) extract(frame image.Image, bbox image.Rectangle) FeatureVector {
	if frame == nil {
		return nil
	}

	crop := e.cropROI(frame, bbox)
	if crop == nil {
		return nil
	}

	if e.backbone != nil {
		if features, err := e.backbone.Extract(frame, bbox); err == nil && len(features) > 0 {
			out := features.Clone()
			if e.cfg.Normalize {
				normalizeL2(out)
			}
			return out
		} else if err != nil {
			e.logger.Warn("Backbone extraction failed, using handcrafted pipeline", "error", err)
		}
	}

	resized := e.letterbox(crop)
	features := e.handcrafted(resized)

	if e.cfg.Normalize {
		normalizeL2(features)
	}
	return features
}

// cropROI clips bbox to the frame and enforces minimum sizes. Accepted
// crops below the extraction floor are up-sampled.
func (e *Extractor) cropROI(frame image.Image, bbox image.Rectangle) *image.RGBA {
	clipped := bbox.Intersect(frame.Bounds())
	if clipped.Empty() {
		return nil
	}

	// Accept crops down to half the configured minimum, floored at 16x32.
	relaxedW := e.cfg.MinObjectWidth / 2
	if relaxedW < floorWidth {
		relaxedW = floorWidth
	}
	relaxedH := e.cfg.MinObjectHeight / 2
	if relaxedH < floorHeight {
		relaxedH = floorHeight
	}

	if clipped.Dx() < relaxedW || clipped.Dy() < relaxedH {
		return nil
	}

	crop := image.NewRGBA(image.Rect(0, 0, clipped.Dx(), clipped.Dy()))
	draw.Draw(crop, crop.Bounds(), frame, clipped.Min, draw.Src)

	if crop.Bounds().Dx() < extractWidth || crop.Bounds().Dy() < extractHeight {
		w := crop.Bounds().Dx()
		if w < extractWidth {
			w = extractWidth
		}
		h := crop.Bounds().Dy()
		if h < extractHeight {
			h = extractHeight
		}
		up := resize.Resize(uint(w), uint(h), crop, resize.NearestNeighbor)
		crop = toRGBA(up)
	}

	return crop
}

// letterbox resizes a crop to the configured input size preserving aspect
// ratio, centered on zero padding. Nearest-neighbour keeps the pipeline
// deterministic across platforms.
func (e *Extractor) letterbox(crop *image.RGBA) *image.RGBA {
	srcW, srcH := crop.Bounds().Dx(), crop.Bounds().Dy()
	scaleX := float64(e.cfg.InputWidth) / float64(srcW)
	scaleY := float64(e.cfg.InputHeight) / float64(srcH)
	scale := scaleX
	if scaleY < scale {
		scale = scaleY
	}

	newW := int(float64(srcW) * scale)
	newH := int(float64(srcH) * scale)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	scaled := toRGBA(resize.Resize(uint(newW), uint(newH), crop, resize.NearestNeighbor))

	padded := image.NewRGBA(image.Rect(0, 0, e.cfg.InputWidth, e.cfg.InputHeight))
	offsetX := (e.cfg.InputWidth - newW) / 2
	offsetY := (e.cfg.InputHeight - newH) / 2
	draw.Draw(padded, image.Rect(offsetX, offsetY, offsetX+newW, offsetY+newH), scaled, scaled.Bounds().Min, draw.Src)

	return padded
}

// handcrafted computes the histogram feature layout and fills the tail
// with the i/D positional sequence so vectors never carry NaN or Inf.
func (e *Extractor) handcrafted(img *image.RGBA) FeatureVector {
	features := make([]float32, 0, e.cfg.FeatureDim)

	features = appendColorHistograms(features, img)

	gray, w, h := luminance(img)
	features = appendLBPHistogram(features, gray, w, h)
	features = appendGradientHistogram(features, gray, w, h)

	if len(features) > e.cfg.FeatureDim {
		features = features[:e.cfg.FeatureDim]
	}
	for i := len(features); i < e.cfg.FeatureDim; i++ {
		features = append(features, float32(i)/float32(e.cfg.FeatureDim))
	}

	return features
}

func (e *Extractor) record(elapsed time.Duration, produced bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.latencies = append(e.latencies, float64(elapsed.Nanoseconds())/1e6)
	if len(e.latencies) > latencyWindow {
		e.latencies = e.latencies[len(e.latencies)-latencyWindow:]
	}
	if produced {
		e.count++
	}
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	out := image.NewRGBA(image.Rect(0, 0, img.Bounds().Dx(), img.Bounds().Dy()))
	draw.Draw(out, out.Bounds(), img, img.Bounds().Min, draw.Src)
	return out
}
