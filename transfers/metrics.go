package transfers

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var preparesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "switch_transfers_prepares_total",
	Help: "Prepare messages processed, by terminal result.",
}, []string{"result"})

var duplicatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "switch_transfers_duplicates_total",
	Help: "Non-new duplicate classifications of prepare payloads.",
}, []string{"classification"})

var fulfilsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "switch_transfers_fulfils_total",
	Help: "Fulfil messages processed, by terminal result.",
}, []string{"action", "result"})

var routedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "switch_transfers_routed_events_total",
	Help: "Transfer events forwarded to the notification topic.",
}, []string{"action"})

var storeFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "switch_transfers_store_failures_total",
	Help: "Store operations which failed during pipeline processing.",
})
