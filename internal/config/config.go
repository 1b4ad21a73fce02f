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

// Package config reads the process environment once at startup into a typed
// struct. No flag or file-based config layer is introduced: every daemon in
// this module is meant to run under a container supervisor that injects
// environment variables, the same way server-node-golang/main.go takes none.
package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	DataRoot          string
	Shard             string
	APIPort           string
	ClusterPort       string
	ControlPort       string
	BacklogCapacity   int
	NodeID            string
	MetricsPort       string
	HeartbeatInterval time.Duration
	TopologyPath      string
	ReconcileInterval time.Duration
}

const readyFilePath = "/etc/ready"

func FromEnv() Config {
	return Config{
		DataRoot:          getenv("DATA_ROOT", "./data"),
		Shard:             getenv("SHARD", "0"),
		APIPort:           getenv("API_PORT", "7070"),
		ClusterPort:       getenv("CLUSTER_PORT", "7071"),
		ControlPort:       getenv("CONTROL_PORT", "7072"),
		BacklogCapacity:   getenvInt("BACKLOG_CAPACITY", 4096),
		NodeID:            getenv("NODE_ID", "node-0"),
		MetricsPort:       getenv("METRICS_PORT", "9090"),
		HeartbeatInterval: getenvDuration("HEARTBEAT_INTERVAL", 10*time.Second),
		TopologyPath:      getenv("TOPOLOGY_PATH", "./topology.json"),
		ReconcileInterval: getenvDuration("RECONCILE_INTERVAL", 2*time.Second),
	}
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return def
}

// SignalReady writes the readiness marker a container supervisor polls for.
func SignalReady() error {
	return os.WriteFile(readyFilePath, []byte("ready"), 0644)
}
