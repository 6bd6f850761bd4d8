package calibrate

import (
	"math"

	"github.com/montanaflynn/stats"
)

// ErrorStats summarizes reprojection errors in pixels.
type ErrorStats struct {
	Mean   float64 `json:"mean" yaml:"mean"`
	Median float64 `json:"median" yaml:"median"`
	P95    float64 `json:"p95" yaml:"p95"`
	Max    float64 `json:"max" yaml:"max"`
	RMS    float64 `json:"rms" yaml:"rms"`
}

// ViewStats holds the error statistics of one calibration view.
type ViewStats struct {
	ID         string `json:"id" yaml:"id"`
	Points     int    `json:"points" yaml:"points"`
	ErrorStats `yaml:",inline"`
}

// summarize never fails for non-empty input; empty input yields zeros.
func summarize(errs []float64) ErrorStats {
	if len(errs) == 0 {
		return ErrorStats{}
	}
	var s ErrorStats
	s.Mean, _ = stats.Mean(errs)
	s.Median, _ = stats.Median(errs)
	s.P95, _ = stats.Percentile(errs, 95)
	s.Max, _ = stats.Max(errs)
	var sq float64
	for _, e := range errs {
		sq += e * e
	}
	s.RMS = math.Sqrt(sq / float64(len(errs)))
	return s
}
