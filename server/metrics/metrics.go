package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FramesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "physio_frames_processed_total",
		Help: "Frames that completed the analysis pipeline.",
	})

	FramesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Name: "physio_frames_rejected_total",
		Help: "Frames rejected before analysis (bad payloads, stale timestamps).",
	})

	RepsCounted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "physio_reps_counted_total",
		Help: "Repetitions committed by the exercise state machines.",
	}, []string{"exercise"})

	VoiceSpoken = promauto.NewCounter(prometheus.CounterOpts{
		Name: "physio_voice_utterances_total",
		Help: "Utterances handed to the speech sink.",
	})

	VoiceReplaced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "physio_voice_replaced_total",
		Help: "Pending voice messages replaced by a newer one (latest wins).",
	})

	VoiceFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "physio_voice_failures_total",
		Help: "Speech sink errors and timeouts (non-fatal).",
	})
)

// Handler exposes the default prometheus registry on a gin route.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
