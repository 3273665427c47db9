package store

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	threadsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "courier_threads_created_total",
		Help: "Threads created (excludes idempotent re-opens).",
	})
	messagesAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "courier_messages_appended_total",
		Help: "Messages durably appended to the conversation log.",
	})
	sendsDeduped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "courier_sends_deduped_total",
		Help: "Sends answered from the idempotency index instead of a new row.",
	})
	purgedEntries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "courier_retention_purged_total",
		Help: "Keys removed by the retention job.",
	})
)
