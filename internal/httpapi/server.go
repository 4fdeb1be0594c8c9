// Package httpapi serves cluster status as JSON, alongside a Prometheus
// scrape endpoint. It is grounded on the teacher's internal/server/http.go
// (HTTPServer.Start's mux.HandleFunc("/status", ...) pattern with a
// permissive CORS header for dashboard consumption), generalized from a
// single KV node's status to the whole cluster's per-node role/term/running
// state.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mathdee/raft-cluster-sim/internal/transport"
)

// NodeStatus is one node's externally-observable state. Per spec.md's
// concurrency model, this is a best-effort snapshot: fields are read one at
// a time from the live node and are not guaranteed to reflect a single
// consistent instant.
type NodeStatus struct {
	ID      int    `json:"id"`
	Role    string `json:"role"`
	Term    uint64 `json:"term"`
	Running bool   `json:"running"`
}

// ClusterStatus is the full /status response.
type ClusterStatus struct {
	Nodes []NodeStatus `json:"nodes"`
}

// Server exposes cluster status and Prometheus metrics over HTTP.
type Server struct {
	cluster  *transport.Cluster
	registry *prometheus.Registry
}

// NewServer builds a Server over cluster, scraping registry for /metrics.
func NewServer(cluster *transport.Cluster, registry *prometheus.Registry) *Server {
	return &Server{cluster: cluster, registry: registry}
}

// Handler builds the mux: /status for cluster state, /metrics for Prometheus.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Content-Type", "application/json")

		status := ClusterStatus{}
		for i := 0; i < s.cluster.NodeCount(); i++ {
			node := s.cluster.Node(i)
			status.Nodes = append(status.Nodes, NodeStatus{
				ID:      i,
				Role:    node.Role().String(),
				Term:    node.Term(),
				Running: node.Running(),
			})
		}
		json.NewEncoder(w).Encode(status)
	})

	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	return mux
}

// ListenAndServe starts the HTTP server on addr; it blocks like
// http.ListenAndServe.
func (s *Server) ListenAndServe(addr string) error {
	return http.ListenAndServe(addr, s.Handler())
}
