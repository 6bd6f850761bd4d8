package board

import (
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpecValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		wantErr []string
	}{
		{"valid", Spec{Rows: 7, Cols: 10, SquareSize: 25}, nil},
		{"minimum", Spec{Rows: 3, Cols: 3, SquareSize: 0.5}, nil},
		{"rows only", Spec{Rows: 2, Cols: 10, SquareSize: 25}, []string{"rows"}},
		{"cols only", Spec{Rows: 7, Cols: 1, SquareSize: 25}, []string{"cols"}},
		{"size only", Spec{Rows: 7, Cols: 10, SquareSize: 0}, []string{"square size"}},
		{"all fields", Spec{Rows: 0, Cols: -1, SquareSize: -3}, []string{"rows", "cols", "square size"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if len(tt.wantErr) == 0 {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			for _, w := range tt.wantErr {
				assert.Contains(t, err.Error(), w)
			}
		})
	}
}

// A console rule that only rejects when every field is bad would accept
// rows=3 with large cols; each field must stand on its own.
func TestSpecValidateFieldsIndependently(t *testing.T) {
	assert.NoError(t, Spec{Rows: 3, Cols: 12, SquareSize: 5}.Validate())
	assert.Error(t, Spec{Rows: 2, Cols: 12, SquareSize: 50}.Validate())
}

func TestObjectPointsLayout(t *testing.T) {
	s := Spec{Rows: 3, Cols: 4, SquareSize: 10}
	pts := s.ObjectPoints()

	require.Len(t, pts, 12)
	assert.Equal(t, r3.Vector{}, pts[0])
	assert.Equal(t, r3.Vector{X: 0, Y: 10}, pts[1])
	assert.Equal(t, r3.Vector{X: 10, Y: 0}, pts[4])
	assert.Equal(t, r3.Vector{X: 20, Y: 30}, pts[11])
}

func TestSpecString(t *testing.T) {
	assert.Equal(t, "7x10@25", Spec{Rows: 7, Cols: 10, SquareSize: 25}.String())
	assert.Equal(t, 70, Spec{Rows: 7, Cols: 10, SquareSize: 25}.Count())
}

func TestObservationUsable(t *testing.T) {
	s := Spec{Rows: 3, Cols: 3, SquareSize: 1}
	full := make([]r2.Point, 9)

	assert.True(t, Observation{Found: true, Corners: full}.Usable(s))
	assert.False(t, Observation{Found: false, Corners: full}.Usable(s))
	assert.False(t, Observation{Found: true, Corners: full[:8]}.Usable(s))
}

func TestCheckCorrespondence(t *testing.T) {
	s := Spec{Rows: 3, Cols: 3, SquareSize: 1}
	assert.NoError(t, CheckCorrespondence(s.ObjectPoints(), make([]r2.Point, 9)))
	assert.ErrorContains(t, CheckCorrespondence(s.ObjectPoints(), make([]r2.Point, 8)), "mismatch")
	assert.Error(t, CheckCorrespondence(nil, nil))
}

// TestObjectPoints_RowMajorGrid verifies every generated point equals
// (m*size, n*size, 0) at index m*cols+n.
func TestObjectPoints_RowMajorGrid(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("object points follow the row-major grid", prop.ForAll(
		func(rows, cols int, size float64) bool {
			s := Spec{Rows: rows, Cols: cols, SquareSize: size}
			pts := s.ObjectPoints()
			if len(pts) != rows*cols {
				return false
			}
			for m := range rows {
				for n := range cols {
					p := pts[m*cols+n]
					if p.X != float64(m)*size || p.Y != float64(n)*size || p.Z != 0 {
						return false
					}
				}
			}
			return true
		},
		gen.IntRange(MinDimension, 20),
		gen.IntRange(MinDimension, 20),
		gen.Float64Range(0.1, 100),
	))

	properties.TestingRun(t)
}
