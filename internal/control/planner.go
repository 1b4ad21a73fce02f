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

// Package control is the cluster control plane (spec §4.2): a singleton
// reconciler that turns a declarative cluster spec into running replicas,
// owns the routing table, and drives failover. planner.go holds every pure
// decision function; reconcile.go wires them to the network.
package control

import (
	"fmt"
	"time"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/eosin-platform/tilestore/internal/shard"
	"github.com/eosin-platform/tilestore/internal/slot"
)

// ReplicaHealth is one probed replica's self-reported state (spec §4.2 step 2).
type ReplicaHealth struct {
	Name              string
	Role              shard.Role
	Ready             bool
	LastHeartbeatUnix int64
	ReplicationLag    *uint64
}

// PromotionDecision is the outcome of the failover rule for one shard.
type PromotionDecision struct {
	Promote  string
	Demote   []string
	NewEpoch uint64
}

var collator = collate.New(language.Und)

// nameLess breaks candidate ties by root-locale collation order, which is
// locale-stable but is not raw byte order (planner.rs's min_by_key((lag,
// name)) compares names byte by byte).
func nameLess(a, b string) bool {
	return collator.CompareString(a, b) < 0
}

func isFresh(h ReplicaHealth, now time.Time, heartbeatTimeout time.Duration) bool {
	age := now.Sub(time.UnixMilli(h.LastHeartbeatUnix))
	return h.Ready && age <= heartbeatTimeout
}

// MasterHealthy reports whether the current master among replicas is alive.
func MasterHealthy(replicas []ReplicaHealth, now time.Time, heartbeatTimeout time.Duration) bool {
	for _, r := range replicas {
		if r.Role == shard.RoleMaster {
			return isFresh(r, now, heartbeatTimeout)
		}
	}
	return false
}

// SelectBestReplica picks the fresh read-replica with the smallest
// replication lag, breaking ties by name (spec §4.2.a).
func SelectBestReplica(replicas []ReplicaHealth, now time.Time, heartbeatTimeout time.Duration) (string, bool) {
	best := ""
	var bestLag uint64
	found := false
	for _, r := range replicas {
		if r.Role != shard.RoleReadReplica || !isFresh(r, now, heartbeatTimeout) {
			continue
		}
		lag := ^uint64(0)
		if r.ReplicationLag != nil {
			lag = *r.ReplicationLag
		}
		if !found || lag < bestLag || (lag == bestLag && nameLess(r.Name, best)) {
			found = true
			best = r.Name
			bestLag = lag
		}
	}
	return best, found
}

// ShouldFailover implements spec §4.2.a's three-part gate.
func ShouldFailover(replicas []ReplicaHealth, now time.Time, heartbeatTimeout time.Duration, cooldownActive bool) bool {
	if cooldownActive {
		return false
	}
	if MasterHealthy(replicas, now, heartbeatTimeout) {
		return false
	}
	_, found := SelectBestReplica(replicas, now, heartbeatTimeout)
	return found
}

// BuildPromotionDecision assembles the promote/demote set and new epoch.
// Demote lists every OTHER replica still self-reporting as Master (handles
// split-brain with multiple stale masters).
func BuildPromotionDecision(replicas []ReplicaHealth, now time.Time, heartbeatTimeout time.Duration, currentEpoch uint64) (PromotionDecision, bool) {
	candidate, ok := SelectBestReplica(replicas, now, heartbeatTimeout)
	if !ok {
		return PromotionDecision{}, false
	}
	var demote []string
	for _, r := range replicas {
		if r.Role == shard.RoleMaster && r.Name != candidate {
			demote = append(demote, r.Name)
		}
	}
	return PromotionDecision{Promote: candidate, Demote: demote, NewEpoch: currentEpoch + 1}, true
}

// DesiredPodNames returns every pod name for a cluster of S shards with R
// read-replicas each: names "{cluster}-s{shard}-r{replica}", replica
// ranging over [0, 1+R) so replica 0 is the master slot and 1..R are
// read-replica slots (spec §4.2, literal text: "replica ∈ [0, 1+R)").
func DesiredPodNames(cluster string, shards, replicasPerShard int) []string {
	names := make([]string, 0, shards*(1+replicasPerShard))
	for s := 0; s < shards; s++ {
		for r := 0; r < 1+replicasPerShard; r++ {
			names = append(names, fmt.Sprintf("%s-s%d-r%d", cluster, s, r))
		}
	}
	return names
}

// TopologyDiff returns pods to create and pods to delete to go from running
// to desired.
func TopologyDiff(desired, running []string) (toCreate, toDelete []string) {
	desiredSet := toSet(desired)
	runningSet := toSet(running)
	for _, d := range desired {
		if !runningSet[d] {
			toCreate = append(toCreate, d)
		}
	}
	for _, r := range running {
		if !desiredSet[r] {
			toDelete = append(toDelete, r)
		}
	}
	return
}

func toSet(xs []string) map[string]bool {
	m := make(map[string]bool, len(xs))
	for _, x := range xs {
		m[x] = true
	}
	return m
}

// ComputeSlotToShard partitions NumSlots into `shards` contiguous ranges,
// slot s mapping to shard (s*shards)/NumSlots.
func ComputeSlotToShard(shards int) []uint32 {
	table := make([]uint32, slot.NumSlots)
	for s := 0; s < slot.NumSlots; s++ {
		table[s] = uint32((uint64(s) * uint64(shards)) / uint64(slot.NumSlots))
	}
	return table
}

// NextConfigEpoch bumps the epoch by one if the shard count changed, or on
// the very first config (current_epoch == 0); otherwise it is unchanged.
func NextConfigEpoch(currentEpoch uint64, shardCountChanged bool) uint64 {
	if currentEpoch == 0 {
		return 1
	}
	if shardCountChanged {
		return currentEpoch + 1
	}
	return currentEpoch
}

// ClusterPhase mirrors the reconciler's status.phase values.
type ClusterPhase string

const (
	PhaseReady       ClusterPhase = "Ready"
	PhaseReconciling ClusterPhase = "Reconciling"
	PhaseDegraded    ClusterPhase = "Degraded"
)

// ShardReconcileState is what DetermineClusterPhase needs per shard.
type ShardReconcileState struct {
	ConfigEpoch       uint64
	MigrationQueueLen int
	MisplacedTiles    uint64
	HasReadyMaster    bool
	HasReadyReplica   bool
}

// DetermineClusterPhase implements spec §4.2 step 7. Degraded is reserved
// for a shard with no live master; a shard with a healthy master but no
// ready replica (or a lagging one) only fails the Ready condition and
// reports Reconciling.
func DetermineClusterPhase(shards []ShardReconcileState, targetEpoch uint64) ClusterPhase {
	ready := true
	for _, s := range shards {
		if !s.HasReadyMaster {
			return PhaseDegraded
		}
		if !s.HasReadyReplica || s.ConfigEpoch < targetEpoch || s.MigrationQueueLen != 0 || s.MisplacedTiles != 0 {
			ready = false
		}
	}
	if ready {
		return PhaseReady
	}
	return PhaseReconciling
}
