// Package face wraps the external face-recognition capability behind a small
// interface and implements live verification against a stored reference
// embedding.
package face

import (
	"context"
	"errors"
	"math"

	"github.com/luqmand1/TeacherClockMy/internal/model"
)

var (
	// ErrNoFaceDetected is returned when no face is found in the image.
	ErrNoFaceDetected = errors.New("no face detected")

	// ErrModelsNotLoaded is returned while the recognition models are still
	// loading; dependent actions must stay disabled rather than call through.
	ErrModelsNotLoaded = errors.New("face models not loaded")

	// ErrNoBiometricEnrolled is returned when a user has no stored reference
	// embedding. Verification never attempts a comparison in that case.
	ErrNoBiometricEnrolled = errors.New("no biometric data enrolled")

	// ErrCameraAccessDenied is returned when the frame source cannot be acquired.
	ErrCameraAccessDenied = errors.New("camera access denied")
)

// Point is a face landmark coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Detection is the result of running the external model on one image.
type Detection struct {
	Embedding  model.Embedding
	Landmarks  []Point
	Confidence float64
}

// Detector is the opaque external capability: detect a single face in an
// image and measure distance between two embeddings.
type Detector interface {
	Detect(ctx context.Context, image []byte) (*Detection, error)
	Distance(a, b model.Embedding) float64
	Ready() bool
}

// EuclideanDistance returns the L2 distance between two embeddings. Vectors
// of unequal length compare only over the shorter prefix.
func EuclideanDistance(a, b model.Embedding) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// Score maps an embedding distance to a 0-100 similarity score.
func Score(distance float64) float64 {
	s := (1 - distance) * 100
	if s < 0 {
		return 0
	}
	return s
}

// Band is a coarse confidence level derived from the similarity score.
type Band string

const (
	BandLow    Band = "low"
	BandMedium Band = "medium"
	BandMatch  Band = "match"
)

// lowBand is the score below which confidence is reported as low.
const lowBand = 40

// BandFor classifies a score. The threshold doubles as the accept boundary,
// so a medium score never verifies.
func BandFor(score, threshold float64) Band {
	switch {
	case score < lowBand:
		return BandLow
	case score < threshold:
		return BandMedium
	default:
		return BandMatch
	}
}
