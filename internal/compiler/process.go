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

package compiler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eosin-platform/tilestore/internal/logging"
)

// SlideOpener turns a downloaded local file path into a SlideSource.
type SlideOpener func(path string) (SlideSource, error)

// Dispatcher lists raw slides and runs each exactly once through
// TryDispatchWithPublish (spec §4.4 step 1-2, §8 property 5).
type Dispatcher struct {
	Store  *Store
	Source *S3Source
	Prefix string
	Log    *logging.Logger

	publish func(key string) error
}

func NewDispatcher(store *Store, source *S3Source, prefix string, log *logging.Logger, publish func(key string) error) *Dispatcher {
	return &Dispatcher{Store: store, Source: source, Prefix: prefix, Log: log, publish: publish}
}

// Run lists every raw slide key and dispatches it once.
func (d *Dispatcher) Run(ctx context.Context) error {
	keys, err := d.Source.ListKeys(ctx, d.Prefix)
	if err != nil {
		return fmt.Errorf("compiler: list slides: %w", err)
	}
	now := time.Now().UnixMilli()
	for _, key := range keys {
		outcome, err := d.Store.TryDispatchWithPublish(ctx, key, now, func() error { return d.publish(key) })
		if err != nil {
			d.Log.Error("dispatch "+key, err)
			continue
		}
		switch outcome {
		case Dispatched:
			d.Log.Printf("dispatched %s", key)
		case AlreadyDispatched:
			// Nothing to do: a previous run already published this key.
		case PublishFailed:
			d.Log.Printf("publish failed for %s, will retry next pass", key)
		}
	}
	return nil
}

// ProcessEvent is one unit of dispatched work: a raw slide key plus the
// slide UUID it decomposes into.
type ProcessEvent struct {
	Key     string
	SlideID uuid.UUID
}

// Worker pulls dispatched keys and decomposes each into a full tile
// pyramid (spec §4.4 step 3-4). It acknowledges (here: simply moves on)
// only after ProcessSlide returns with no error; on error the key stays
// dispatched and the next poll redelivers it, continuing from its
// checkpoint (spec §4.4 step 4, "Resume semantics").
type Worker struct {
	Store       *Store
	Source      *S3Source
	DownloadDir string
	Open        SlideOpener
	Tiler       *Tiler
	Log         *logging.Logger

	resolveSlideID func(key string) uuid.UUID
}

func NewWorker(store *Store, source *S3Source, downloadDir string, open SlideOpener, tiler *Tiler, log *logging.Logger, resolveSlideID func(key string) uuid.UUID) *Worker {
	return &Worker{Store: store, Source: source, DownloadDir: downloadDir, Open: open, Tiler: tiler, Log: log, resolveSlideID: resolveSlideID}
}

// PollOnce processes every currently-dispatched key once. The caller
// loops this on an interval or in response to a queue signal; either way
// the table itself is the durable queue, so re-running PollOnce after a
// crash is always safe.
func (w *Worker) PollOnce(ctx context.Context) error {
	keys, err := w.Store.ListDispatched(ctx)
	if err != nil {
		return fmt.Errorf("compiler: list dispatched: %w", err)
	}
	for _, key := range keys {
		if err := w.processOne(ctx, key); err != nil {
			w.Log.Error("process "+key, err)
			continue
		}
	}
	return nil
}

func (w *Worker) processOne(ctx context.Context, key string) error {
	slideID := w.resolveSlideID(key)

	// Cheap short-circuit before touching S3.
	complete, err := w.Store.IsPyramidComplete(ctx, slideID.String())
	if err != nil {
		return err
	}
	if complete {
		return nil
	}

	path, err := w.Source.Download(ctx, key, w.DownloadDir)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	src, err := w.Open(path)
	if err != nil {
		return fmt.Errorf("open slide: %w", err)
	}
	return w.Tiler.ProcessSlide(ctx, slideID, src)
}
