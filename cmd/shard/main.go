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

// Command shard runs one shard replica: the StorageApi, ClusterService
// (replication), and ControlService listeners for a single shard process
// (spec §4.1, §4.3, §6).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/dc0d/onexit"

	"github.com/eosin-platform/tilestore/internal/config"
	"github.com/eosin-platform/tilestore/internal/control/controlapi"
	"github.com/eosin-platform/tilestore/internal/logging"
	"github.com/eosin-platform/tilestore/internal/replication"
	"github.com/eosin-platform/tilestore/internal/shard"
	"github.com/eosin-platform/tilestore/internal/storageapi"
)

func main() {
	fmt.Println("tilestore shard node")

	log := logging.New("shard")
	cfg := config.FromEnv()

	store, err := shard.OpenTileStore("file", cfg.DataRoot)
	if err != nil {
		log.Error("open tile store", err)
		os.Exit(1)
	}

	engine, err := shard.New(cfg.Shard, cfg.DataRoot, store, cfg.BacklogCapacity, log)
	if err != nil {
		log.Error("init shard engine", err)
		os.Exit(1)
	}

	replClient := replication.NewClient(log)
	shard.SetTransport(replClient.MigrateTile, replClient.Sync)

	ctx, cancel := context.WithCancel(context.Background())
	onexit.Register(func() { cancel() })

	storageSrv := &storageapi.Server{Engine: engine, Log: log}
	clusterMux := http.NewServeMux()
	storageSrv.RegisterHandlers(clusterMux)
	replSrv := &replication.Server{Engine: engine, Log: log}
	replSrv.RegisterHandlers(clusterMux)

	controlMux := http.NewServeMux()
	(&controlapi.Server{Engine: engine, Log: log}).RegisterHandlers(controlMux)

	go serve(cfg.APIPort, clusterMux, log)
	go serve(cfg.ControlPort, controlMux, log)

	if err := engine.WatchRoutingConfig(ctx); err != nil {
		log.Error("routing config watcher", err)
	}

	if err := config.SignalReady(); err != nil {
		log.Error("signal ready", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	cancel()
}

func serve(port string, mux *http.ServeMux, log *logging.Logger) {
	log.Printf("listening on :%s", port)
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		log.Error("listen", err)
		os.Exit(1)
	}
}
