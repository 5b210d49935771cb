package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	MetadataCacheUpdatesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "metadata_cache_updates_total",
		Help: "Total number of times a broker's metadata cache snapshot was replaced",
	})

	MetadataCacheTopicsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "metadata_cache_topics_total",
		Help: "Number of topics present in the current metadata cache snapshot",
	})
)
