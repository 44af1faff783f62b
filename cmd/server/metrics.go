package main

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "egdoc_http_requests_total",
		Help: "HTTP requests by route",
	}, []string{"route"})

	documentsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "egdoc_documents_open",
		Help: "Documents held in memory",
	})

	clientsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "egdoc_ws_clients",
		Help: "Connected websocket clients",
	})

	changesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "egdoc_changes_received_total",
		Help: "Changes received from replicas",
	})

	broadcastTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "egdoc_broadcast_messages_total",
		Help: "Messages sent to websocket clients",
	})
)

func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "unknown"
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		requestsTotal.WithLabelValues(route).Inc()
		next.ServeHTTP(w, r)
	})
}
