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

package stream

import (
	"context"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/eosin-platform/tilestore/internal/logging"
	"github.com/eosin-platform/tilestore/internal/waitregistry"
)

const numSlots = 8
const numWorkers = 4

// ImageDescriber resolves a slide's descriptor for the Open handshake.
type ImageDescriber interface {
	Describe(ctx context.Context, id uuid.UUID) (ImageDesc, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server upgrades incoming HTTP requests to the tile-streaming WebSocket
// protocol (spec §4.5). Waits is shared across every connection so two
// viewers on the same slide dedupe concurrent fetches of the same tile
// (spec §4.7).
type Server struct {
	Fetcher  TileFetcher
	Describe ImageDescriber
	Log      *logging.Logger

	waitsOnce sync.Once
	waits     *waitregistry.Registry
}

func (s *Server) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/stream", s.handleUpgrade)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	s.waitsOnce.Do(func() { s.waits = waitregistry.New() })
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Error("websocket upgrade", err)
		return
	}
	conn := newConnection(ws, s.Fetcher, s.Describe, s.waits, s.Log)
	conn.run()
}

// connection is one open WebSocket: numSlots viewport slots, a shared
// priority queue, and a worker pool draining it.
type connection struct {
	ws       *websocket.Conn
	sendMu   sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	slots    [numSlots]*Slot
	queue    *Queue
	pool     *WorkerPool
	describe ImageDescriber
	log      *logging.Logger
}

func newConnection(ws *websocket.Conn, fetcher TileFetcher, describe ImageDescriber, waits *waitregistry.Registry, log *logging.Logger) *connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &connection{ws: ws, ctx: ctx, cancel: cancel, queue: NewQueue(), describe: describe, log: log}
	for i := range c.slots {
		c.slots[i] = NewSlot(i, ctx)
	}
	c.pool = NewWorkerPool(c.queue, fetcher, waits, log)
	c.pool.Start(numWorkers, c)
	return c
}

// Send implements Sender: one frame at a time, mutex-guarded exactly like
// scm/network.go's websocket send callback.
func (c *connection) Send(frame []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, frame)
}

func (c *connection) run() {
	defer c.teardown()
	for {
		messageType, msg, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.BinaryMessage || len(msg) == 0 {
			continue
		}
		c.dispatch(msg[0], msg[1:])
	}
}

func (c *connection) teardown() {
	c.cancel()
	for _, slot := range c.slots {
		slot.Close()
	}
	c.queue.Close()
	c.pool.Wait()
}

func (c *connection) dispatch(tag byte, body []byte) {
	defer c.log.Recover("stream dispatch")
	switch tag {
	case TagUpdate:
		msg, err := DecodeUpdate(body)
		if err != nil {
			return
		}
		c.handleUpdate(msg)
	case TagOpen:
		msg, err := DecodeOpen(body)
		if err != nil {
			return
		}
		c.handleOpen(msg)
	case TagClose:
		msg, err := DecodeSlotMsg(body)
		if err != nil {
			return
		}
		c.slotAt(msg.Slot).Close()
	case TagClearCache:
		msg, err := DecodeSlotMsg(body)
		if err != nil {
			return
		}
		c.slotAt(msg.Slot).ClearSent()
	case TagRequestTile:
		msg, err := DecodeRequestTile(body)
		if err != nil {
			return
		}
		c.handleRequestTile(msg)
	}
}

func (c *connection) slotAt(i byte) *Slot {
	if int(i) >= len(c.slots) {
		return c.slots[0]
	}
	return c.slots[i]
}

func (c *connection) handleOpen(msg OpenMsg) {
	slot := c.slotAt(msg.Slot)
	desc, err := c.describe.Describe(c.ctx, msg.ID)
	if err != nil {
		c.log.Error("describe slide", err)
		return
	}
	slot.Open(msg.ID, desc)
	c.Send(EncodeOpenResponse(msg.Slot, msg.ID, desc))
	c.enqueueVisible(slot)
}

func (c *connection) handleUpdate(msg UpdateMsg) {
	slot := c.slotAt(msg.Slot)
	slot.SetViewport(Viewport{X: msg.X, Y: msg.Y, Width: msg.Width, Height: msg.Height, Zoom: msg.Zoom})
	c.enqueueVisible(slot)
}

func (c *connection) handleRequestTile(msg RequestTileMsg) {
	slot := c.slotAt(msg.Slot)
	id, _, _, opened := slot.Snapshot()
	if !opened {
		return
	}
	coord := TileCoord{X: msg.X, Y: msg.Y, Level: msg.Level}
	if slot.AlreadySent(coord) {
		return
	}
	c.queue.Push(coord, slot, id)
}

// enqueueVisible computes every tile intersecting the slot's current
// viewport from min_level up to the coarsest level and enqueues the ones
// not already sent (spec §4.5 "Work generation").
func (c *connection) enqueueVisible(slot *Slot) {
	id, desc, vp, opened := slot.Snapshot()
	if !opened {
		return
	}
	minLevel := MinLevel(vp, desc.LevelCount)
	for level := minLevel; level < desc.LevelCount; level++ {
		for _, coord := range VisibleTiles(desc, level, vp) {
			if slot.AlreadySent(coord) {
				continue
			}
			c.queue.Push(coord, slot, id)
		}
	}
}
