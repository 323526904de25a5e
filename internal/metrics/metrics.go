// Package metrics exposes Prometheus counters and gauges for the
// document session layer, grounded on the prometheus/client_golang
// wiring used for service instrumentation elsewhere in the retrieved
// pack (apex-build-platform's worker metrics).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "otsync",
		Name:      "pushes_total",
		Help:      "Number of operations accepted via ApplyPush, per document.",
	}, []string{"document_id"})

	pullsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "otsync",
		Name:      "pulls_total",
		Help:      "Number of ApplyPull calls served, per document.",
	}, []string{"document_id"})

	revisionGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "otsync",
		Name:      "document_revision",
		Help:      "Current revision number of a live document session.",
	}, []string{"document_id"})

	activeDocuments = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "otsync",
		Name:      "active_documents",
		Help:      "Number of document sessions currently held in memory.",
	})
)

// RecordPush records a successful ApplyPush and updates the document's
// revision gauge.
func RecordPush(documentID string, newRevision int) {
	pushesTotal.WithLabelValues(documentID).Inc()
	revisionGauge.WithLabelValues(documentID).Set(float64(newRevision))
}

// RecordPull records a served ApplyPull.
func RecordPull(documentID string) {
	pullsTotal.WithLabelValues(documentID).Inc()
}

// DocumentOpened increments the active document gauge.
func DocumentOpened() {
	activeDocuments.Inc()
}

// DocumentClosed decrements the active document gauge and removes its
// per-document series so evicted documents don't leak label cardinality.
func DocumentClosed(documentID string) {
	activeDocuments.Dec()
	pushesTotal.DeleteLabelValues(documentID)
	pullsTotal.DeleteLabelValues(documentID)
	revisionGauge.DeleteLabelValues(documentID)
}
