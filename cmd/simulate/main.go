// Command simulate runs a leader-election cluster simulation from the
// command line: it builds a cluster, optionally scripts fault injection on
// a timer, and logs every state transition. It replaces the teacher's
// cmd/server (a single KV node's TCP+HTTP entry point) with the non-GUI
// analogue of original_source/src/main.py, which wires a Cluster and a
// Visualizer together and starts it; the scenario-scripting flags below
// model spec.md's "Concrete scenarios" (§8) directly.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/mathdee/raft-cluster-sim/internal/election"
	"github.com/mathdee/raft-cluster-sim/internal/faults"
	"github.com/mathdee/raft-cluster-sim/internal/httpapi"
	"github.com/mathdee/raft-cluster-sim/internal/journal"
	"github.com/mathdee/raft-cluster-sim/internal/metrics"
	"github.com/mathdee/raft-cluster-sim/internal/observer"
	"github.com/mathdee/raft-cluster-sim/internal/transport"
)

var (
	nodeCount   int
	minMs       int
	maxMs       int
	duration    time.Duration
	recordPath  string
	logLevel    string
	httpAddr    string
	failAt      []string
	restoreAt   []string
	partitionAt string
	healAt      time.Duration
)

func main() {
	root := &cobra.Command{
		Use:   "simulate",
		Short: "Run a leader-election cluster simulation",
		RunE:  run,
	}

	root.Flags().IntVar(&nodeCount, "nodes", 5, "cluster size")
	root.Flags().IntVar(&minMs, "election-min-ms", 150, "minimum election timeout in ms")
	root.Flags().IntVar(&maxMs, "election-max-ms", 300, "maximum election timeout in ms")
	root.Flags().DurationVar(&duration, "duration", 10*time.Second, "how long to run the simulation")
	root.Flags().StringVar(&recordPath, "record", "", "path to record the event journal to (disabled if empty)")
	root.Flags().StringVar(&logLevel, "log-level", "info", "logrus level: debug, info, warn, error")
	root.Flags().StringVar(&httpAddr, "http-addr", "", "address to serve /status and /metrics on (disabled if empty)")
	root.Flags().StringSliceVar(&failAt, "fail", nil, "offset:node_id pairs to fail a node at, e.g. 2s:0")
	root.Flags().StringSliceVar(&restoreAt, "restore", nil, "offset:node_id pairs to restore a node at")
	root.Flags().StringVar(&partitionAt, "partition", "", "offset:group1|group2|... e.g. 1s:0,1|2,3,4")
	root.Flags().DurationVar(&healAt, "heal", 0, "offset to heal any active partition at (0 disables)")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logger := logrus.New()
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return err
	}
	logger.SetLevel(level)

	timeoutRange := election.TimeoutRange{MinMs: minMs, MaxMs: maxMs}
	cluster, err := transport.NewCluster(nodeCount, timeoutRange)
	if err != nil {
		return fmt.Errorf("building cluster: %w", err)
	}

	cluster.RegisterObserver(func(eventType string, data observer.Data) {
		logger.WithFields(logrus.Fields(data)).Info(eventType)
	})

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	cluster.RegisterObserver(collector.Observe)

	if recordPath != "" {
		rec, err := journal.Open(recordPath)
		if err != nil {
			return fmt.Errorf("opening journal: %w", err)
		}
		defer rec.Close()
		cluster.RegisterObserver(rec.Record)
	}

	if httpAddr != "" {
		api := httpapi.NewServer(cluster, registry)
		go func() {
			if err := api.ListenAndServe(httpAddr); err != nil {
				logger.WithError(err).Error("http api stopped")
			}
		}()
	}

	injector := faults.NewInjector(cluster)
	scheduled, err := scheduleFaults(injector, failAt, restoreAt, partitionAt, healAt)
	if err != nil {
		return err
	}

	cluster.Start()
	defer cluster.Stop()

	for _, s := range scheduled {
		time.AfterFunc(s.offset, s.fn)
	}

	time.Sleep(duration)
	return nil
}

type scheduledFault struct {
	offset time.Duration
	fn     func()
}

func scheduleFaults(injector *faults.Injector, failAt, restoreAt []string, partitionAt string, healAt time.Duration) ([]scheduledFault, error) {
	var out []scheduledFault

	for _, spec := range failAt {
		offset, id, err := parseOffsetID(spec)
		if err != nil {
			return nil, fmt.Errorf("--fail %q: %w", spec, err)
		}
		out = append(out, scheduledFault{offset: offset, fn: func() { injector.FailNode(id) }})
	}
	for _, spec := range restoreAt {
		offset, id, err := parseOffsetID(spec)
		if err != nil {
			return nil, fmt.Errorf("--restore %q: %w", spec, err)
		}
		out = append(out, scheduledFault{offset: offset, fn: func() { injector.RestoreNode(id) }})
	}
	if partitionAt != "" {
		offset, groups, err := parseOffsetGroups(partitionAt)
		if err != nil {
			return nil, fmt.Errorf("--partition %q: %w", partitionAt, err)
		}
		out = append(out, scheduledFault{offset: offset, fn: func() { injector.CreatePartition(groups) }})
	}
	if healAt > 0 {
		out = append(out, scheduledFault{offset: healAt, fn: injector.HealPartition})
	}
	return out, nil
}

func parseOffsetID(spec string) (time.Duration, int, error) {
	parts := strings.SplitN(spec, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected offset:node_id")
	}
	offset, err := time.ParseDuration(parts[0])
	if err != nil {
		return 0, 0, err
	}
	id, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, err
	}
	return offset, id, nil
}

func parseOffsetGroups(spec string) (time.Duration, [][]int, error) {
	parts := strings.SplitN(spec, ":", 2)
	if len(parts) != 2 {
		return 0, nil, fmt.Errorf("expected offset:group1|group2|...")
	}
	offset, err := time.ParseDuration(parts[0])
	if err != nil {
		return 0, nil, err
	}

	var groups [][]int
	for _, groupSpec := range strings.Split(parts[1], "|") {
		var group []int
		for _, idSpec := range strings.Split(groupSpec, ",") {
			id, err := strconv.Atoi(strings.TrimSpace(idSpec))
			if err != nil {
				return 0, nil, err
			}
			group = append(group, id)
		}
		groups = append(groups, group)
	}
	return offset, groups, nil
}
