package internal

import "expvar"

var (
	requestsTotal   = expvar.NewMap("gitrelay_requests_total")
	authFailures    = expvar.NewInt("gitrelay_auth_failures_total")
	parseErrors     = expvar.NewInt("gitrelay_parse_errors_total")
	duplicates      = expvar.NewInt("gitrelay_duplicates_total")
	enqueuedTotal   = expvar.NewInt("gitrelay_enqueued_total")
	queueDrops      = expvar.NewInt("gitrelay_queue_drops_total")
	deliveredTotal  = expvar.NewInt("gitrelay_delivered_total")
	deliveryRetries = expvar.NewInt("gitrelay_delivery_retries_total")
	abandonedTotal  = expvar.NewInt("gitrelay_abandoned_total")
	exportErrors    = expvar.NewInt("gitrelay_export_errors_total")
)

func IncRequest(event string) {
	requestsTotal.Add(event, 1)
}

func IncAuthFailure() {
	authFailures.Add(1)
}

func IncParseError() {
	parseErrors.Add(1)
}

func IncDuplicate() {
	duplicates.Add(1)
}

func IncEnqueued() {
	enqueuedTotal.Add(1)
}

func IncQueueDrop() {
	queueDrops.Add(1)
}

func IncDelivered() {
	deliveredTotal.Add(1)
}

func IncDeliveryRetry() {
	deliveryRetries.Add(1)
}

func IncAbandoned() {
	abandonedTotal.Add(1)
}

func IncExportError() {
	exportErrors.Add(1)
}
