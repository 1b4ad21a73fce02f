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

// Package storageapi is the StorageApi contract (spec §6): GetTile, PutTile,
// HealthCheck, realized as net/http handlers matching scm/network.go's
// HttpServer idiom rather than a gRPC service.
package storageapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/eosin-platform/tilestore/internal/logging"
	"github.com/eosin-platform/tilestore/internal/shard"
)

type Server struct {
	Engine *shard.Engine
	Log    *logging.Logger
}

func (s *Server) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/storage/tile", s.handleTile)
	mux.HandleFunc("/storage/health", s.handleHealth)
}

func parseKey(r *http.Request) (shard.TileKey, error) {
	q := r.URL.Query()
	id, err := uuid.Parse(q.Get("id"))
	if err != nil {
		return shard.TileKey{}, errors.New("malformed tile id")
	}
	level, err := strconv.ParseUint(q.Get("level"), 10, 32)
	if err != nil {
		return shard.TileKey{}, errors.New("malformed level")
	}
	x, err := strconv.ParseUint(q.Get("x"), 10, 32)
	if err != nil {
		return shard.TileKey{}, errors.New("malformed x")
	}
	y, err := strconv.ParseUint(q.Get("y"), 10, 32)
	if err != nil {
		return shard.TileKey{}, errors.New("malformed y")
	}
	return shard.TileKey{ID: id, Level: uint32(level), X: uint32(x), Y: uint32(y)}, nil
}

func (s *Server) handleTile(w http.ResponseWriter, r *http.Request) {
	defer s.Log.Recover("storage tile handler")
	key, err := parseKey(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		body, err := s.Engine.Read(key)
		if errors.Is(err, shard.ErrNotAvailable) {
			http.Error(w, "not available", http.StatusNotFound)
			return
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "image/webp")
		w.Write(body)
	case http.MethodPut:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}
		if err := s.Engine.Write(key, body); err != nil {
			if errors.Is(err, shard.ErrPrecondition) {
				http.Error(w, "precondition failed", http.StatusPreconditionFailed)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(s.Engine.Status())
}
