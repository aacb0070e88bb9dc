// Package report turns classification outcomes into ordered per-video and combined tables.
package report

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/andresmejia3/emoscan/internal/emotion"
	"github.com/andresmejia3/emoscan/internal/types"
)

// Column names as they appear in exported files.
const (
	ColFrameNumber    = "frame_number"
	ColPerson         = "person"
	ColDominant       = "dominant_emotion"
	ColFaceConfidence = "face_confidence"
	ColRegion         = "region"
	ColRawOutput      = "raw_output"
)

// Row is one analysed frame.
type Row struct {
	FrameNumber    int
	Person         string
	Dominant       string
	Scores         map[string]float64 // one entry per emotion.Categories, 0 when the model omitted it
	FaceConfidence *float64
	Region         *types.Region
	RawOutput      map[string]float64 // the mapping exactly as the model returned it
}

// Table is an ordered set of rows plus the columns actually present in them.
type Table struct {
	Person  string // empty for a combined table
	Columns []string
	Rows    []Row
}

// Build assembles the table of one video. Failed outcomes are skipped and the dominant
// emotion is recomputed from the raw scores. Returns types.ErrEmptyResult when nothing survives.
func Build(person string, outcomes []types.Outcome, threshold float64) (*Table, error) {
	rows := make([]Row, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Failed() {
			continue
		}
		scores := make(map[string]float64, len(emotion.Categories))
		for _, cat := range emotion.Categories {
			scores[cat] = o.Scores[cat]
		}
		rows = append(rows, Row{
			FrameNumber:    o.FrameNumber,
			Person:         person,
			Dominant:       emotion.Dominant(o.Scores, threshold),
			Scores:         scores,
			FaceConfidence: o.FaceConfidence,
			Region:         o.Region,
			RawOutput:      o.Scores,
		})
	}
	if len(rows) == 0 {
		return nil, types.ErrEmptyResult
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].FrameNumber < rows[j].FrameNumber })

	t := &Table{Person: person, Rows: rows}
	t.Columns = videoColumns(presentColumns(rows))
	return t, nil
}

// Combine concatenates per-video tables into one sorted by person, then frame number.
// Returns types.ErrNoDataToCombine when there is nothing to combine.
func Combine(tables []*Table) (*Table, error) {
	present := map[string]bool{}
	var rows []Row
	for _, t := range tables {
		if t == nil {
			continue
		}
		for _, c := range t.Columns {
			present[c] = true
		}
		rows = append(rows, t.Rows...)
	}
	if len(rows) == 0 {
		return nil, types.ErrNoDataToCombine
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Person != rows[j].Person {
			return rows[i].Person < rows[j].Person
		}
		return rows[i].FrameNumber < rows[j].FrameNumber
	})

	return &Table{Columns: combinedColumns(present), Rows: rows}, nil
}

func presentColumns(rows []Row) map[string]bool {
	present := map[string]bool{
		ColFrameNumber: true,
		ColDominant:    true,
		ColRawOutput:   true,
		ColPerson:      true,
	}
	for _, cat := range emotion.Categories {
		present[cat] = true
	}
	for _, r := range rows {
		if r.FaceConfidence != nil {
			present[ColFaceConfidence] = true
		}
		if r.Region != nil {
			present[ColRegion] = true
		}
	}
	return present
}

func videoColumns(present map[string]bool) []string {
	order := []string{ColFrameNumber, ColDominant}
	order = append(order, emotion.Categories...)
	order = append(order, ColFaceConfidence, ColRegion, ColRawOutput, ColPerson)
	return filter(order, present)
}

func combinedColumns(present map[string]bool) []string {
	order := []string{ColFrameNumber, ColPerson, ColDominant}
	order = append(order, emotion.Categories...)
	order = append(order, ColFaceConfidence, ColRegion, ColRawOutput)
	return filter(order, present)
}

func filter(order []string, present map[string]bool) []string {
	cols := make([]string, 0, len(order))
	for _, c := range order {
		if present[c] {
			cols = append(cols, c)
		}
	}
	return cols
}

// Header returns the column names.
func (t *Table) Header() []string {
	return append([]string(nil), t.Columns...)
}

// Records renders every row as strings in column order.
func (t *Table) Records() [][]string {
	out := make([][]string, len(t.Rows))
	for i, r := range t.Rows {
		rec := make([]string, len(t.Columns))
		for j, c := range t.Columns {
			rec[j] = r.Cell(c)
		}
		out[i] = rec
	}
	return out
}

// Value returns the typed value of column c: int, float64 or string. Missing optional
// values are nil.
func (r Row) Value(c string) any {
	switch c {
	case ColFrameNumber:
		return r.FrameNumber
	case ColPerson:
		return r.Person
	case ColDominant:
		return r.Dominant
	case ColFaceConfidence:
		if r.FaceConfidence == nil {
			return nil
		}
		return *r.FaceConfidence
	case ColRegion:
		if r.Region == nil {
			return nil
		}
		return toJSON(r.Region)
	case ColRawOutput:
		return toJSON(r.RawOutput)
	default:
		if v, ok := r.Scores[c]; ok {
			return v
		}
		return nil
	}
}

// Cell renders column c as a string. Missing values render empty.
func (r Row) Cell(c string) string {
	switch v := r.Value(c).(type) {
	case nil:
		return ""
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case string:
		return v
	default:
		return ""
	}
}

// Histogram counts rows per dominant label.
func (t *Table) Histogram() map[string]int {
	h := make(map[string]int)
	for _, r := range t.Rows {
		h[r.Dominant]++
	}
	return h
}

func toJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
