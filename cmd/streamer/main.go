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

// Command streamer runs the progressive tile-streaming scheduler (spec
// §4.5): a WebSocket endpoint fronted by the fail-closed sliding-window
// rate limiter (spec §4.6), reading tiles through the routing table rather
// than owning a shard of its own.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dc0d/onexit"

	"github.com/eosin-platform/tilestore/internal/config"
	"github.com/eosin-platform/tilestore/internal/control/controlapi"
	"github.com/eosin-platform/tilestore/internal/logging"
	"github.com/eosin-platform/tilestore/internal/ratelimit"
	"github.com/eosin-platform/tilestore/internal/routing"
	"github.com/eosin-platform/tilestore/internal/storageapi"
	"github.com/eosin-platform/tilestore/internal/stream"
)

func main() {
	log := logging.New("streamer")
	cfg := config.FromEnv()
	seedAddr := getenv("CONTROL_SEED_ADDR", "http://localhost:"+cfg.ControlPort)
	metadataURL := getenv("METADATA_SERVICE_URL", "http://localhost:8090")

	ctx, cancel := context.WithCancel(context.Background())
	onexit.Register(func() { cancel() })

	client := controlapi.NewClient()
	holder := routing.NewHolder(fetchRoutingTable(ctx, client, seedAddr, log))
	go watchRoutingTable(ctx, client, seedAddr, holder, log)

	fetcher := &stream.RoutedFetcher{Routing: holder, Client: storageapi.NewClient()}
	describer := stream.NewHTTPDescriber(metadataURL)
	streamSrv := &stream.Server{Fetcher: fetcher, Describe: describer, Log: log}

	mux := http.NewServeMux()
	streamSrv.RegisterHandlers(mux)

	limiter := ratelimit.New(ratelimit.DefaultStreamingConfig())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := config.SignalReady(); err != nil {
		log.Error("signal ready", err)
	}

	log.Printf("listening on :%s", cfg.APIPort)
	if err := http.ListenAndServe(":"+cfg.APIPort, limiter.Middleware(mux)); err != nil {
		log.Error("listen", err)
		os.Exit(1)
	}
}

// fetchRoutingTable blocks at startup until a seed shard's control port
// answers with the currently-installed routing table: the streamer owns no
// shard of its own and has no other way to learn tile ownership.
func fetchRoutingTable(ctx context.Context, client *controlapi.Client, seedAddr string, log *logging.Logger) *routing.Table {
	for {
		epoch, slotToShard, shardMasters, err := client.GetRoutingConfig(ctx, seedAddr)
		if err == nil {
			table, err := routing.FromWire(epoch, slotToShard, shardMasters)
			if err == nil {
				return table
			}
			log.Error("decode routing config", err)
		} else {
			log.Error("fetch routing config from "+seedAddr, err)
		}
		select {
		case <-ctx.Done():
			return routing.New()
		case <-time.After(2 * time.Second):
		}
	}
}

// watchRoutingTable keeps pulling the routing table on an interval and
// swaps it into the shared fetcher in place, the polling equivalent of the
// fsnotify-driven watch a colocated shard process gets for free.
func watchRoutingTable(ctx context.Context, client *controlapi.Client, seedAddr string, holder *routing.Holder, log *logging.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			epoch, slotToShard, shardMasters, err := client.GetRoutingConfig(ctx, seedAddr)
			if err != nil {
				log.Error("refresh routing config", err)
				continue
			}
			fresh, err := routing.FromWire(epoch, slotToShard, shardMasters)
			if err != nil {
				log.Error("decode refreshed routing config", err)
				continue
			}
			holder.Store(fresh)
		}
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
