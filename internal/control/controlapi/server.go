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

// Package controlapi is the ControlService/ClusterService contract (spec
// §6): BecomeMaster, BecomeReplica, UpdateRoutingConfig, GetShardStatus.
package controlapi

import (
	"encoding/json"
	"net/http"

	"github.com/eosin-platform/tilestore/internal/logging"
	"github.com/eosin-platform/tilestore/internal/routing"
	"github.com/eosin-platform/tilestore/internal/shard"
)

type Server struct {
	Engine *shard.Engine
	Log    *logging.Logger
}

func (s *Server) RegisterHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/control/become_master", s.handleBecomeMaster)
	mux.HandleFunc("/control/become_replica", s.handleBecomeReplica)
	mux.HandleFunc("/control/routing_config", s.handleRoutingConfigDispatch)
	mux.HandleFunc("/control/status", s.handleStatus)
}

type becomeMasterRequest struct {
	ShardID string `json:"shard_id"`
	Epoch   uint64 `json:"epoch"`
}

type becomeReplicaRequest struct {
	ShardID    string `json:"shard_id"`
	Epoch      uint64 `json:"epoch"`
	MasterAddr string `json:"master_addr"`
}

type roleResponse struct {
	Accepted bool `json:"accepted"`
}

type routingConfigRequest struct {
	ConfigEpoch  uint64            `json:"config_epoch"`
	SlotToShard  []uint32          `json:"slot_to_shard"`
	ShardMasters map[string]string `json:"shard_masters"`
}

func (s *Server) handleBecomeMaster(w http.ResponseWriter, r *http.Request) {
	defer s.Log.Recover("become_master handler")
	var req becomeMasterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}
	result := s.Engine.BecomeMaster(req.ShardID, req.Epoch)
	json.NewEncoder(w).Encode(roleResponse{Accepted: result.Accepted})
}

func (s *Server) handleBecomeReplica(w http.ResponseWriter, r *http.Request) {
	defer s.Log.Recover("become_replica handler")
	var req becomeReplicaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}
	result := s.Engine.BecomeReplica(req.ShardID, req.Epoch, req.MasterAddr)
	json.NewEncoder(w).Encode(roleResponse{Accepted: result.Accepted})
}

// handleRoutingConfigDispatch serves GET (read the installed table, for
// clients like the streaming scheduler that only need to resolve tile
// owners) and POST (install a new table, pushed by the reconciler).
func (s *Server) handleRoutingConfigDispatch(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		s.handleGetRoutingConfig(w, r)
		return
	}
	s.handleRoutingConfig(w, r)
}

func (s *Server) handleGetRoutingConfig(w http.ResponseWriter, r *http.Request) {
	epoch, slotToShard, shardMasters := s.Engine.RoutingTable().ToWire()
	json.NewEncoder(w).Encode(routingConfigRequest{ConfigEpoch: epoch, SlotToShard: slotToShard, ShardMasters: shardMasters})
}

func (s *Server) handleRoutingConfig(w http.ResponseWriter, r *http.Request) {
	defer s.Log.Recover("routing config handler")
	var req routingConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request", http.StatusBadRequest)
		return
	}
	table, err := routing.FromWire(req.ConfigEpoch, req.SlotToShard, req.ShardMasters)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	result := s.Engine.InstallRoutingConfig(table)
	json.NewEncoder(w).Encode(roleResponse{Accepted: result.Accepted})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(s.Engine.Status())
}
