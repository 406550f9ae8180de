package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds every collector in this package. It is separate from the
// default registerer so textfile dumps only carry pipeline metrics.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var extractionsTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Name: "formfill_extractions_total",
	Help: "Completed extractions labelled by the engine that produced them",
}, []string{"engine"})

var visionAttemptsTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Name: "formfill_vision_attempts_total",
	Help: "Vision model attempts labelled by outcome",
}, []string{"outcome"})

var cacheLookupsTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Name: "formfill_cache_lookups_total",
	Help: "Extraction cache lookups labelled by backend and result",
}, []string{"backend", "result"})

var pdfRendersTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Name: "formfill_pdf_renders_total",
	Help: "PDF renders labelled by result",
}, []string{"result"})

var ocrFieldsTotal = factory.NewCounterVec(prometheus.CounterOpts{
	Name: "formfill_ocr_fields_total",
	Help: "OCR field regions labelled by whether text was recognized",
}, []string{"result"})

var dependencyLatency = factory.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "formfill_dependency_latency_seconds",
	Help:    "Latency of external calls (vision model, tesseract, ledger, cache).",
	Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10, 30, 90},
}, []string{"dependency"})

func IncExtraction(engine string) {
	extractionsTotal.WithLabelValues(engine).Inc()
}

func IncVisionAttempt(outcome string) {
	visionAttemptsTotal.WithLabelValues(outcome).Inc()
}

func IncCacheLookup(backend, result string) {
	cacheLookupsTotal.WithLabelValues(backend, result).Inc()
}

func IncPDFRender(result string) {
	pdfRendersTotal.WithLabelValues(result).Inc()
}

func IncOCRField(result string) {
	ocrFieldsTotal.WithLabelValues(result).Inc()
}

func CaptureDependencyLatency(dependency string, elapsed time.Duration) {
	dependencyLatency.WithLabelValues(dependency).Observe(elapsed.Seconds())
}

// WriteTextfile dumps the registry in the node-exporter textfile format.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, Registry)
}
