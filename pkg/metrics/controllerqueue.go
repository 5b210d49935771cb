package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	ControllerQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "controller_event_queue_depth",
		Help: "Number of events currently waiting in the controller event queue",
	})

	ControllerQueueTimeSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "controller_event_queue_time_seconds",
		Help:    "Time an event spent waiting in the controller event queue before processing",
		Buckets: prometheus.DefBuckets,
	})

	ControllerEventsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controller_events_processed_total",
			Help: "Total number of controller events processed, by event type",
		},
		[]string{"event_type"},
	)

	ControllerEventsPreemptedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "controller_events_preempted_total",
			Help: "Total number of controller events discarded by ClearAndPut, by event type",
		},
		[]string{"event_type"},
	)

	StreamDroppedRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_dropped_records_total",
			Help: "Total number of records dropped from a record queue due to negative extracted timestamps",
		},
		[]string{"topic", "partition"},
	)
)
