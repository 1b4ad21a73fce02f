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

// Command compiler runs the tile compiler (spec §4.4) in one of two modes:
//
//	compiler dispatch   lists raw slides in S3 and dispatches each exactly
//	                    once into the compiler_dispatch table.
//	compiler process    polls dispatched slides and decomposes each into a
//	                    full mip pyramid, resuming from its checkpoint.
package main

import (
	"context"
	"crypto/sha1"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dc0d/onexit"
	"github.com/google/uuid"

	"github.com/eosin-platform/tilestore/internal/compiler"
	"github.com/eosin-platform/tilestore/internal/config"
	"github.com/eosin-platform/tilestore/internal/control/controlapi"
	"github.com/eosin-platform/tilestore/internal/logging"
	"github.com/eosin-platform/tilestore/internal/routing"
	"github.com/eosin-platform/tilestore/internal/storageapi"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: compiler [dispatch|process]")
		os.Exit(2)
	}

	log := logging.New("compiler")
	cfg := config.FromEnv()
	dsn := os.Getenv("COMPILER_DB_DSN")
	bucket := getenv("COMPILER_BUCKET", "raw-slides")
	prefix := getenv("COMPILER_PREFIX", "")
	seedAddr := getenv("CONTROL_SEED_ADDR", "http://localhost:"+cfg.ControlPort)

	ctx, cancel := context.WithCancel(context.Background())
	onexit.Register(func() { cancel() })
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	store, err := compiler.Open(dsn)
	if err != nil {
		log.Error("open dispatch store", err)
		os.Exit(1)
	}
	defer store.Close()
	if err := store.InitSchema(ctx); err != nil {
		log.Error("init schema", err)
		os.Exit(1)
	}

	source, err := compiler.NewS3Source(ctx, bucket)
	if err != nil {
		log.Error("open s3 source", err)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "dispatch":
		runDispatch(ctx, store, source, prefix, log)
	case "process":
		runProcess(ctx, store, source, seedAddr, log)
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", os.Args[1])
		os.Exit(2)
	}

	if err := config.SignalReady(); err != nil {
		log.Error("signal ready", err)
	}
}

func runDispatch(ctx context.Context, store *compiler.Store, source *compiler.S3Source, prefix string, log *logging.Logger) {
	// Publishing here means nothing beyond marking the row dispatched: the
	// compiler_dispatch table is itself the durable queue a worker polls,
	// so there is no separate broker hop to publish into.
	dispatcher := compiler.NewDispatcher(store, source, prefix, log, func(key string) error { return nil })
	interval := 30 * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	if err := dispatcher.Run(ctx); err != nil {
		log.Error("dispatch run", err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := dispatcher.Run(ctx); err != nil {
				log.Error("dispatch run", err)
			}
		}
	}
}

func runProcess(ctx context.Context, store *compiler.Store, source *compiler.S3Source, seedAddr string, log *logging.Logger) {
	client := controlapi.NewClient()
	epoch, slotToShard, shardMasters, err := client.GetRoutingConfig(ctx, seedAddr)
	if err != nil {
		log.Error("fetch routing config from "+seedAddr, err)
		os.Exit(1)
	}
	table, err := routing.FromWire(epoch, slotToShard, shardMasters)
	if err != nil {
		log.Error("decode routing config", err)
		os.Exit(1)
	}

	writer := &compiler.RoutedWriter{Routing: table, Client: storageapi.NewClient()}
	tiler := &compiler.Tiler{Store: store, Writer: writer}
	downloadDir := getenv("COMPILER_DOWNLOAD_DIR", "./downloads")
	if err := os.MkdirAll(downloadDir, 0750); err != nil {
		log.Error("mkdir download dir", err)
		os.Exit(1)
	}

	worker := compiler.NewWorker(store, source, downloadDir, compiler.OpenSingleLevelSource, tiler, log, slideIDForKey)

	interval := 10 * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	if err := worker.PollOnce(ctx); err != nil {
		log.Error("poll", err)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := worker.PollOnce(ctx); err != nil {
				log.Error("poll", err)
			}
		}
	}
}

// slideIDForKey derives a stable slide UUID from its raw object key so the
// same slide always maps to the same tile-store identity across restarts,
// without a separate slide-registry lookup (external metadata ownership is
// out of scope per the streaming side's collaborator boundary too).
func slideIDForKey(key string) uuid.UUID {
	sum := sha1.Sum([]byte(key))
	return uuid.NewSHA1(uuid.NameSpaceURL, sum[:])
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
