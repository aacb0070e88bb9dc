package report

import (
	"errors"
	"testing"

	"github.com/andresmejia3/emoscan/internal/emotion"
	"github.com/andresmejia3/emoscan/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ok(frame int, scores map[string]float64) types.Outcome {
	return types.Outcome{FrameNumber: frame, Scores: scores, Dominant: emotion.Dominant(scores, emotion.DefaultThreshold)}
}

func TestBuildSkipsFailuresAndSorts(t *testing.T) {
	outcomes := []types.Outcome{
		ok(4, map[string]float64{"happy": 90}),
		types.Failure(2, types.KindInvalidFrame, "invalid frame"),
		ok(0, map[string]float64{"sad": 30, "neutral": 30}),
		ok(3, map[string]float64{"angry": 55}),
	}

	table, err := Build("alice", outcomes, emotion.DefaultThreshold)
	require.NoError(t, err)
	require.Len(t, table.Rows, 3)

	frames := []int{table.Rows[0].FrameNumber, table.Rows[1].FrameNumber, table.Rows[2].FrameNumber}
	assert.Equal(t, []int{0, 3, 4}, frames)

	assert.Equal(t, emotion.NoDominant, table.Rows[0].Dominant)
	assert.Equal(t, "angry", table.Rows[1].Dominant)
	assert.Equal(t, "happy", table.Rows[2].Dominant)

	for _, r := range table.Rows {
		assert.Equal(t, "alice", r.Person)
		assert.Len(t, r.Scores, len(emotion.Categories))
	}
	assert.Equal(t, 0.0, table.Rows[2].Scores["fear"])
}

func TestBuildColumns(t *testing.T) {
	conf := 0.97
	withExtras := types.Outcome{
		FrameNumber:    0,
		Scores:         map[string]float64{"happy": 70},
		FaceConfidence: &conf,
		Region:         &types.Region{X: 1, Y: 2, W: 3, H: 4},
	}

	tests := []struct {
		name     string
		outcomes []types.Outcome
		want     []string
	}{
		{
			name:     "Scores only",
			outcomes: []types.Outcome{ok(0, map[string]float64{"happy": 70})},
			want: []string{"frame_number", "dominant_emotion", "angry", "disgust", "fear", "happy", "sad",
				"surprise", "neutral", "raw_output", "person"},
		},
		{
			name:     "Face confidence and region",
			outcomes: []types.Outcome{withExtras},
			want: []string{"frame_number", "dominant_emotion", "angry", "disgust", "fear", "happy", "sad",
				"surprise", "neutral", "face_confidence", "region", "raw_output", "person"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := Build("bob", tt.outcomes, emotion.DefaultThreshold)
			require.NoError(t, err)
			assert.Equal(t, tt.want, table.Header())
		})
	}
}

func TestBuildEmpty(t *testing.T) {
	_, err := Build("carol", []types.Outcome{types.Failure(0, types.KindClassification, "x")}, emotion.DefaultThreshold)
	assert.True(t, errors.Is(err, types.ErrEmptyResult))

	_, err = Build("carol", nil, emotion.DefaultThreshold)
	assert.True(t, errors.Is(err, types.ErrEmptyResult))
}

func TestRecords(t *testing.T) {
	conf := 0.5
	out := types.Outcome{
		FrameNumber:    12,
		Scores:         map[string]float64{"happy": 62.5, "sad": 37.5},
		FaceConfidence: &conf,
		Region:         &types.Region{X: 10, Y: 20, W: 30, H: 40},
	}
	table, err := Build("dave", []types.Outcome{out}, emotion.DefaultThreshold)
	require.NoError(t, err)

	records := table.Records()
	require.Len(t, records, 1)
	rec := map[string]string{}
	for i, c := range table.Columns {
		rec[c] = records[0][i]
	}

	assert.Equal(t, "12", rec["frame_number"])
	assert.Equal(t, "happy", rec["dominant_emotion"])
	assert.Equal(t, "62.5", rec["happy"])
	assert.Equal(t, "0", rec["angry"])
	assert.Equal(t, "0.5", rec["face_confidence"])
	assert.Equal(t, `{"x":10,"y":20,"w":30,"h":40}`, rec["region"])
	assert.Equal(t, `{"happy":62.5,"sad":37.5}`, rec["raw_output"])
	assert.Equal(t, "dave", rec["person"])
}

func TestCombine(t *testing.T) {
	bob, err := Build("bob", []types.Outcome{
		ok(5, map[string]float64{"happy": 80}),
		ok(0, map[string]float64{"happy": 80}),
	}, emotion.DefaultThreshold)
	require.NoError(t, err)

	conf := 0.9
	alice, err := Build("alice", []types.Outcome{
		{FrameNumber: 9, Scores: map[string]float64{"fear": 60}, FaceConfidence: &conf},
		ok(3, map[string]float64{"fear": 60}),
	}, emotion.DefaultThreshold)
	require.NoError(t, err)

	combined, err := Combine([]*Table{bob, nil, alice})
	require.NoError(t, err)

	type key struct {
		person string
		frame  int
	}
	var got []key
	for _, r := range combined.Rows {
		got = append(got, key{r.Person, r.FrameNumber})
	}
	assert.Equal(t, []key{{"alice", 3}, {"alice", 9}, {"bob", 0}, {"bob", 5}}, got)

	assert.Equal(t, []string{"frame_number", "person", "dominant_emotion", "angry", "disgust", "fear",
		"happy", "sad", "surprise", "neutral", "face_confidence", "raw_output"}, combined.Header())
	assert.Empty(t, combined.Person)
	assert.Equal(t, "", combined.Rows[0].Cell(ColFaceConfidence))
}

func TestCombineNothing(t *testing.T) {
	_, err := Combine(nil)
	assert.ErrorIs(t, err, types.ErrNoDataToCombine)
}

func TestHistogram(t *testing.T) {
	table, err := Build("erin", []types.Outcome{
		ok(0, map[string]float64{"happy": 80}),
		ok(1, map[string]float64{"happy": 80}),
		ok(2, map[string]float64{"sad": 10}),
	}, emotion.DefaultThreshold)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"happy": 2, emotion.NoDominant: 1}, table.Histogram())
}
