/*
Copyright (C) 2024  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Command controller runs the cluster control plane's reconciliation loop
// (spec §4.2): on a fixed interval it probes every shard replica, decides
// failovers, and pushes the routing table. Pod lifecycle (creating and
// destroying shard replicas) is delegated to the orchestrator; this process
// only computes the diff and drives role/routing state over the control
// API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dc0d/onexit"

	"github.com/eosin-platform/tilestore/internal/config"
	"github.com/eosin-platform/tilestore/internal/control"
	"github.com/eosin-platform/tilestore/internal/control/controlapi"
	"github.com/eosin-platform/tilestore/internal/logging"
)

func main() {
	fmt.Println("tilestore cluster controller")

	log := logging.New("controller")
	cfg := config.FromEnv()

	spec, err := loadTopology(cfg.TopologyPath)
	if err != nil {
		log.Error("load topology", err)
		os.Exit(1)
	}

	reconciler := control.NewReconciler(controlapi.NewClient(), log)

	ctx, cancel := context.WithCancel(context.Background())
	onexit.Register(func() { cancel() })

	mux := http.NewServeMux()
	mux.HandleFunc("/controller/status", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(statusResponse{Phase: string(reconciler.Phase())})
	})
	go serve(cfg.ControlPort, mux, log)

	go runLoop(ctx, reconciler, spec, cfg.ReconcileInterval, log)

	if err := config.SignalReady(); err != nil {
		log.Error("signal ready", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	cancel()
}

type statusResponse struct {
	Phase string `json:"phase"`
}

// topologyFile is the on-disk declarative cluster spec: one entry per
// shard, naming the control-port base URL of every replica with Replicas[0]
// treated as the currently-preferred master candidate.
type topologyFile struct {
	Name   string `json:"name"`
	Shards []struct {
		ID       string   `json:"id"`
		Replicas []string `json:"replicas"`
	} `json:"shards"`
}

func loadTopology(path string) (control.ClusterSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return control.ClusterSpec{}, fmt.Errorf("controller: read topology: %w", err)
	}
	var tf topologyFile
	if err := json.Unmarshal(raw, &tf); err != nil {
		return control.ClusterSpec{}, fmt.Errorf("controller: parse topology: %w", err)
	}
	spec := control.ClusterSpec{Name: tf.Name, Shards: make([]control.ShardSpec, 0, len(tf.Shards))}
	for _, sh := range tf.Shards {
		spec.Shards = append(spec.Shards, control.ShardSpec{ID: sh.ID, Replicas: sh.Replicas})
	}
	return spec, nil
}

func runLoop(ctx context.Context, r *control.Reconciler, spec control.ClusterSpec, interval time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Tick(ctx, spec); err != nil {
				log.Error("reconcile tick", err)
			}
		}
	}
}

func serve(port string, mux *http.ServeMux, log *logging.Logger) {
	log.Printf("listening on :%s", port)
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		log.Error("listen", err)
		os.Exit(1)
	}
}
