package metrics

import (
	"github.com/jackzampolin/picturebook/internal/llmcall"
)

// Recorder counts every provider call and passes it on to next.
type Recorder struct {
	metrics *Metrics
	next    llmcall.Recorder
}

// NewRecorder wraps next, which may be nil.
func (m *Metrics) NewRecorder(next llmcall.Recorder) *Recorder {
	return &Recorder{metrics: m, next: next}
}

// Record implements llmcall.Recorder.
func (r *Recorder) Record(call *llmcall.Call) {
	if call != nil {
		result := "success"
		if !call.Success {
			result = "error"
		}
		m := r.metrics
		m.providerCalls.WithLabelValues(call.Kind, call.Provider, result).Inc()
		m.providerLatency.WithLabelValues(call.Kind, call.Provider).Observe(float64(call.LatencyMs) / 1000)
		if call.InputTokens > 0 {
			m.providerTokens.WithLabelValues(call.Provider, "input").Add(float64(call.InputTokens))
		}
		if call.OutputTokens > 0 {
			m.providerTokens.WithLabelValues(call.Provider, "output").Add(float64(call.OutputTokens))
		}
	}
	if r.next != nil {
		r.next.Record(call)
	}
}

var _ llmcall.Recorder = (*Recorder)(nil)
