package reid

import (
	"image"
	"image/color"
	"math"
	"testing"
)

// testFrame builds a deterministic synthetic frame with spatial color
// variation so histograms are non-trivial.
func testFrame(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x * 255) / w),
				G: uint8((y * 255) / h),
				B: uint8(((x + y) * 255) / (w + h)),
				A: 255,
			})
		}
	}
	return img
}

func newTestExtractor(t *testing.T) *Extractor {
	t.Helper()
	e, err := NewExtractor(DefaultConfig())
	if err != nil {
		t.Fatalf("NewExtractor failed: %v", err)
	}
	return e
}

func TestNewExtractor_InvalidDimension(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FeatureDim = 64
	if _, err := NewExtractor(cfg); err == nil {
		t.Error("Expected error for feature dimension below 128")
	}

	cfg.FeatureDim = 4096
	if _, err := NewExtractor(cfg); err == nil {
		t.Error("Expected error for feature dimension above 2048")
	}
}

func TestExtract_Dimension(t *testing.T) {
	e := newTestExtractor(t)
	frame := testFrame(640, 480)

	features := e.Extract(frame, image.Rect(100, 100, 200, 300))
	if len(features) != 512 {
		t.Fatalf("Expected 512 features, got %d", len(features))
	}
}

func TestExtract_Normalized(t *testing.T) {
	e := newTestExtractor(t)
	frame := testFrame(640, 480)

	features := e.Extract(frame, image.Rect(50, 50, 150, 250))
	norm := float64(features.Norm())
	if math.Abs(norm-1) > 1e-4 {
		t.Errorf("Expected unit norm within 1e-4, got %f", norm)
	}
}

func TestExtract_Deterministic(t *testing.T) {
	e := newTestExtractor(t)
	frame := testFrame(640, 480)
	bbox := image.Rect(10, 20, 110, 220)

	a := e.Extract(frame, bbox)
	b := e.Extract(frame, bbox)
	if len(a) != len(b) {
		t.Fatalf("Length mismatch: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("Vectors differ at index %d: %v vs %v", i, a[i], b[i])
		}
	}
}

func TestExtract_NoNaNOrInf(t *testing.T) {
	e := newTestExtractor(t)
	// Uniform black frame produces zero sub-histogram norms in places.
	frame := image.NewRGBA(image.Rect(0, 0, 320, 240))

	features := e.Extract(frame, image.Rect(0, 0, 100, 200))
	for i, f := range features {
		v := float64(f)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			t.Fatalf("Feature %d is not finite: %v", i, f)
		}
	}
}

func TestExtract_BboxOutsideFrame(t *testing.T) {
	e := newTestExtractor(t)
	frame := testFrame(320, 240)

	features := e.Extract(frame, image.Rect(400, 400, 500, 600))
	if len(features) != 0 {
		t.Errorf("Expected empty vector for out-of-frame bbox, got %d features", len(features))
	}
}

func TestExtract_TinyBboxRejected(t *testing.T) {
	e := newTestExtractor(t)
	frame := testFrame(320, 240)

	features := e.Extract(frame, image.Rect(10, 10, 11, 11))
	if len(features) != 0 {
		t.Errorf("Expected empty vector for 1x1 bbox, got %d features", len(features))
	}
}

func TestExtract_RelaxedFloorAccepted(t *testing.T) {
	e := newTestExtractor(t)
	frame := testFrame(320, 240)

	// 20x40 is below the configured 32x64 minimum but above the 16x32
	// relaxed floor; it must be up-sampled and extracted.
	features := e.Extract(frame, image.Rect(10, 10, 30, 50))
	if len(features) != 512 {
		t.Errorf("Expected extraction for crop above relaxed floor, got %d features", len(features))
	}
}

func TestExtract_BelowRelaxedFloorRejected(t *testing.T) {
	e := newTestExtractor(t)
	frame := testFrame(320, 240)

	features := e.Extract(frame, image.Rect(10, 10, 22, 30))
	if len(features) != 0 {
		t.Errorf("Expected rejection below relaxed floor, got %d features", len(features))
	}
}

func TestExtract_TailFiller(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Normalize = false
	e, err := NewExtractor(cfg)
	if err != nil {
		t.Fatalf("NewExtractor failed: %v", err)
	}
	frame := testFrame(640, 480)

	features := e.Extract(frame, image.Rect(0, 0, 128, 256))
	for i := handcraftedBins; i < len(features); i++ {
		expected := float32(i) / float32(cfg.FeatureDim)
		if features[i] != expected {
			t.Fatalf("Tail filler at %d: expected %v, got %v", i, expected, features[i])
		}
	}
}

func TestExtractBatch_Alignment(t *testing.T) {
	e := newTestExtractor(t)
	frames := []image.Image{testFrame(320, 240), testFrame(320, 240)}
	detections := [][]image.Rectangle{
		{image.Rect(0, 0, 100, 200), image.Rect(500, 500, 600, 700)}, // second is out of frame
		{image.Rect(50, 20, 150, 220)},
	}

	ids := [][]string{{"d0", "d1"}, {"d2"}}

	results := e.ExtractBatch(frames, detections, ids)
	if len(results) != 2 {
		t.Fatalf("Expected 2 result groups, got %d", len(results))
	}
	if len(results[0]) != 2 || len(results[1]) != 1 {
		t.Fatalf("Result groups misaligned: %d, %d", len(results[0]), len(results[1]))
	}
	if len(results[0][0].Features) == 0 {
		t.Error("Expected valid extraction for first detection")
	}
	if len(results[0][1].Features) != 0 {
		t.Error("Expected empty vector for out-of-frame detection")
	}
	if len(results[1][0].Features) == 0 {
		t.Error("Expected valid extraction for second frame")
	}
	for i, group := range results {
		for j, r := range group {
			if r.ID != ids[i][j] {
				t.Errorf("Result [%d][%d]: expected id %s, got %s", i, j, ids[i][j], r.ID)
			}
		}
	}
}

func TestExtractBatch_MissingIDs(t *testing.T) {
	e := newTestExtractor(t)
	frames := []image.Image{testFrame(320, 240)}
	detections := [][]image.Rectangle{{image.Rect(0, 0, 100, 200)}}

	results := e.ExtractBatch(frames, detections, nil)
	if len(results) != 1 || len(results[0]) != 1 {
		t.Fatalf("Unexpected result shape: %v", results)
	}
	if results[0][0].ID != "" {
		t.Errorf("Expected blank id without id slices, got %q", results[0][0].ID)
	}
	if len(results[0][0].Features) == 0 {
		t.Error("Expected extraction to proceed without ids")
	}
}

func TestExtractor_Stats(t *testing.T) {
	e := newTestExtractor(t)
	frame := testFrame(320, 240)

	for i := 0; i < 3; i++ {
		e.Extract(frame, image.Rect(0, 0, 100, 200))
	}
	e.Extract(frame, image.Rect(0, 0, 2, 2)) // rejected, not counted

	stats := e.Stats()
	if stats.ExtractionCount != 3 {
		t.Errorf("Expected 3 extractions counted, got %d", stats.ExtractionCount)
	}
	if stats.AvgLatencyMillis < 0 {
		t.Errorf("Expected non-negative latency average, got %f", stats.AvgLatencyMillis)
	}
}

// stubBackbone returns a constant vector to verify the plug-in path.
type stubBackbone struct{ dim int }

func (s *stubBackbone) Extract(frame image.Image, bbox image.Rectangle) (FeatureVector, error) {
	v := make(FeatureVector, s.dim)
	for i := range v {
		v[i] = 1
	}
	return v, nil
}

func (s *stubBackbone) Dimension() int { return s.dim }

func TestExtract_BackbonePlugin(t *testing.T) {
	e := newTestExtractor(t)
	e.SetBackbone(&stubBackbone{dim: 256})
	frame := testFrame(320, 240)

	features := e.Extract(frame, image.Rect(0, 0, 100, 200))
	if len(features) != 256 {
		t.Fatalf("Expected backbone dimension 256, got %d", len(features))
	}
	norm := float64(features.Norm())
	if math.Abs(norm-1) > 1e-4 {
		t.Errorf("Expected normalized backbone output, got norm %f", norm)
	}
}
