package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bossrecords_events_total",
			Help: "Total number of fight events accepted, by kind.",
		},
		[]string{"kind"},
	)

	sendErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bossrecords_send_errors_total",
		Help: "Total number of events whose packets could not be delivered to every observer.",
	})

	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bossrecords_http_requests_total",
			Help: "Total number of API requests by route and status code.",
		},
		[]string{"route", "code"},
	)
)
