// Package metrics holds the Prometheus collectors shared by the bot and the
// dashboard.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Conversation metrics
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yumi_turns_total",
			Help: "Conversation turns by outcome",
		},
		[]string{"outcome"}, // "replied", "fallback", "aborted"
	)

	TurnDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "yumi_turn_duration_seconds",
			Help:    "Wall time of a conversation turn",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	MessagesIgnored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yumi_messages_ignored_total",
			Help: "Incoming messages not answered",
		},
		[]string{"reason"}, // "lockdown", "own", "empty", "maintenance"
	)

	// Language model metrics
	LLMRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yumi_llm_requests_total",
			Help: "Language model attempts by result",
		},
		[]string{"result"}, // "ok", "invalid", "timeout", "error"
	)

	FallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yumi_fallbacks_total",
			Help: "Fallback replies by kind",
		},
		[]string{"kind"},
	)

	FactExtractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yumi_fact_extractions_total",
			Help: "Fact extraction outcomes by source",
		},
		[]string{"source"}, // "model", "pattern", "none", "skipped"
	)

	// Dashboard metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yumi_http_requests_total",
			Help: "Dashboard HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "yumi_http_request_duration_seconds",
			Help:    "Dashboard HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "route"},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "yumi_events_published_total",
			Help: "Pub/sub events published by channel",
		},
		[]string{"channel"},
	)
)
