package types

// ClassificationTask represents a single sampled frame sent to a worker for classification
type ClassificationTask struct {
	FrameNumber     int
	Image           []byte // JPEG encoded frame
	DetectorBackend string
}

// Region is the face bounding box reported by the classifier
type Region struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Analysis matches the JSON structure coming back from the Python emotion worker
type Analysis struct {
	Emotion        map[string]float64 `json:"emotion"`
	FaceConfidence *float64           `json:"face_confidence,omitempty"`
	Region         *Region            `json:"region,omitempty"`
}

// ErrorResult captures the error object returned by Python on failure
type ErrorResult struct {
	Error string `json:"error"`
}

// Outcome is the result of classifying one task. Exactly one of Scores or Err is meaningful:
// a nil Err means the frame was analysed (with or without a dominant emotion).
type Outcome struct {
	FrameNumber    int
	Scores         map[string]float64
	Dominant       string
	FaceConfidence *float64
	Region         *Region
	Err            *FrameError
}

// Failed reports whether the outcome is a failure.
func (o Outcome) Failed() bool { return o.Err != nil }

// Success builds an analysed outcome.
func Success(frameNumber int, a *Analysis, dominant string) Outcome {
	return Outcome{
		FrameNumber:    frameNumber,
		Scores:         a.Emotion,
		Dominant:       dominant,
		FaceConfidence: a.FaceConfidence,
		Region:         a.Region,
	}
}

// Failure builds a failed outcome.
func Failure(frameNumber int, kind FailureKind, reason string) Outcome {
	return Outcome{
		FrameNumber: frameNumber,
		Err:         &FrameError{FrameNumber: frameNumber, Kind: kind, Reason: reason},
	}
}
