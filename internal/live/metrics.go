package live

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var liveFramesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "checkercal_live_frames_total",
		Help: "Frames handled by live tracking, by outcome",
	},
	[]string{"result"},
)

// RecordFrame counts one handled frame.
func RecordFrame(found bool) {
	result := "no_board"
	if found {
		result = "tracked"
	}
	liveFramesTotal.WithLabelValues(result).Inc()
}
