package engine

import "github.com/VictoriaMetrics/metrics"

// Engine-wide transaction counters. Exposed through the default metrics set;
// a server embedding the engine serves them with metrics.WritePrometheus.
var (
	txAdmitted  = metrics.NewCounter("coral_tx_admitted_total")
	txCommitted = metrics.NewCounter("coral_tx_committed_total")
	txAborted   = metrics.NewCounter("coral_tx_aborted_total")
	txRejected  = metrics.NewCounter("coral_tx_rejected_total")
	txContended = metrics.NewCounter("coral_tx_contention_total")

	snapshotsSaved  = metrics.NewCounter("coral_snapshot_save_total")
	snapshotsLoaded = metrics.NewCounter("coral_snapshot_load_total")
)
