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

package control

import (
	"context"
	"time"

	"github.com/eosin-platform/tilestore/internal/control/controlapi"
	"github.com/eosin-platform/tilestore/internal/logging"
	"github.com/eosin-platform/tilestore/internal/shard"
)

// ShardSpec is one shard's replica set, as resolved from the pod naming
// scheme in DesiredPodNames: Replicas[0] is the master slot, Replicas[1:]
// are read replicas. Replica addresses are control-port base URLs.
type ShardSpec struct {
	ID       string
	Replicas []string
}

// ClusterSpec is the declarative target the reconciler drives toward
// (spec §4.2 step 1, "ensure pod set" abstracted away from Kubernetes
// templating, which is out of scope per spec §1's non-goals).
type ClusterSpec struct {
	Name   string
	Shards []ShardSpec
}

const (
	heartbeatTimeout = 10 * time.Second
	promotionCooldown = 30 * time.Second
)

// Reconciler is the cluster control plane's singleton loop (spec §4.2):
// probe, decide, push, repeat.
type Reconciler struct {
	Client *controlapi.Client
	Log    *logging.Logger

	configEpoch  uint64
	shardCount   int
	lastFailover map[string]time.Time
	phase        ClusterPhase
}

func NewReconciler(client *controlapi.Client, log *logging.Logger) *Reconciler {
	return &Reconciler{
		Client:       client,
		Log:          log,
		lastFailover: make(map[string]time.Time),
		phase:        PhaseReconciling,
	}
}

func (r *Reconciler) Phase() ClusterPhase { return r.phase }

// Tick runs one pass of the seven-step reconciliation loop against the
// given cluster spec. It is meant to be called on a fixed interval by
// cmd/controller's main loop.
func (r *Reconciler) Tick(ctx context.Context, spec ClusterSpec) error {
	now := time.Now()

	// Step 1: ensure pod set. Actual pod creation/deletion is delegated to
	// the orchestrator templating layer (spec §1 non-goal); here we only
	// compute the diff for callers that want to act on it.
	desired := DesiredPodNames(spec.Name, len(spec.Shards), maxReplicasPerShard(spec)-1)
	_ = desired // exposed via TopologyDiff for callers; not acted on here.

	shardCountChanged := r.shardCount != len(spec.Shards)
	r.shardCount = len(spec.Shards)
	r.configEpoch = NextConfigEpoch(r.configEpoch, shardCountChanged)
	slotToShard := ComputeSlotToShard(len(spec.Shards))

	allShardMasters := make(map[string]string, len(spec.Shards))
	states := make([]ShardReconcileState, 0, len(spec.Shards))

	for _, sh := range spec.Shards {
		// Step 2: probe every replica.
		healths := make([]ReplicaHealth, 0, len(sh.Replicas))
		statuses := make(map[string]shard.Status, len(sh.Replicas))
		for _, addr := range sh.Replicas {
			st, err := r.Client.GetShardStatus(ctx, addr)
			if err != nil {
				r.Log.Error("probe shard "+sh.ID+" replica "+addr, err)
				continue
			}
			statuses[addr] = st
			var lag *uint64
			if st.Role == shard.RoleReadReplica {
				l := st.ReplicationLag
				lag = &l
			}
			healths = append(healths, ReplicaHealth{
				Name:              addr,
				Role:              st.Role,
				Ready:             st.Ready,
				LastHeartbeatUnix: st.LastHeartbeat.UnixMilli(),
				ReplicationLag:    lag,
			})
		}

		// Step 3+4: decide failover.
		promoted := ""
		cooldownActive := now.Sub(r.lastFailover[sh.ID]) < promotionCooldown
		if ShouldFailover(healths, now, heartbeatTimeout, cooldownActive) {
			decision, ok := BuildPromotionDecision(healths, now, heartbeatTimeout, r.configEpoch)
			if ok {
				r.configEpoch = decision.NewEpoch
				if accepted, err := r.Client.BecomeMaster(ctx, decision.Promote, sh.ID, decision.NewEpoch); err != nil || !accepted {
					r.Log.Error("promote "+decision.Promote, err)
				} else {
					r.lastFailover[sh.ID] = now
					promoted = decision.Promote
					for _, d := range decision.Demote {
						if _, err := r.Client.BecomeReplica(ctx, d, sh.ID, decision.NewEpoch, decision.Promote); err != nil {
							r.Log.Error("demote "+d, err)
						}
					}
				}
			}
		}

		// Track the current (possibly just-promoted) master address.
		masterAddr := ""
		for addr, st := range statuses {
			if st.Role == shard.RoleMaster {
				masterAddr = addr
			}
		}
		if promoted != "" {
			masterAddr = promoted
		}
		if masterAddr == "" && len(sh.Replicas) > 0 {
			masterAddr = sh.Replicas[0]
		}
		allShardMasters[sh.ID] = masterAddr

		hasReadyMaster := false
		hasReadyReplica := false
		for _, h := range healths {
			if !isFresh(h, now, heartbeatTimeout) {
				continue
			}
			if h.Role == shard.RoleMaster {
				hasReadyMaster = true
			} else if h.Role == shard.RoleReadReplica {
				hasReadyReplica = true
			}
		}
		minConfigEpoch, migrationQueueLen, misplacedTiles := uint64(0), 0, uint64(0)
		first := true
		for _, st := range statuses {
			if first || st.ConfigEpoch < minConfigEpoch {
				minConfigEpoch = st.ConfigEpoch
			}
			first = false
			migrationQueueLen += st.MigrationQueueLen
			misplacedTiles += st.MisplacedTiles
		}
		states = append(states, ShardReconcileState{
			ConfigEpoch:       minConfigEpoch,
			MigrationQueueLen: migrationQueueLen,
			MisplacedTiles:    misplacedTiles,
			HasReadyMaster:    hasReadyMaster,
			HasReadyReplica:   hasReadyReplica,
		})
	}

	// Step 5+6: push the routing config to every replica of every shard.
	for _, sh := range spec.Shards {
		for _, addr := range sh.Replicas {
			if _, err := r.Client.UpdateRoutingConfig(ctx, addr, r.configEpoch, slotToShard, allShardMasters); err != nil {
				r.Log.Error("push routing config to "+addr, err)
			}
		}
	}

	// Step 7: patch cluster status.
	r.phase = DetermineClusterPhase(states, r.configEpoch)
	return nil
}

func maxReplicasPerShard(spec ClusterSpec) int {
	max := 0
	for _, sh := range spec.Shards {
		if len(sh.Replicas) > max {
			max = len(sh.Replicas)
		}
	}
	return max
}
