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

// Command tilectl is an interactive operator shell over the cluster control
// API: status, become_master/become_replica, and get_routing, for
// driving a cluster by hand without waiting on the reconciler's own
// schedule.
package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/chzyer/readline"

	"github.com/eosin-platform/tilestore/internal/control/controlapi"
)

const prompt = "\033[32mtilectl>\033[0m "

func main() {
	client := controlapi.NewClient()

	l, err := readline.NewEx(&readline.Config{
		Prompt:            prompt,
		HistoryFile:       ".tilectl-history.tmp",
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		panic(err)
	}
	defer l.Close()
	l.CaptureExitSignal()

	fmt.Println("tilectl - tile store cluster control shell")
	fmt.Println("commands: status <addr> | become_master <addr> <shard_id> <epoch> | become_replica <addr> <shard_id> <epoch> <master_addr> | get_routing <addr> | help | exit")

	ctx := context.Background()
	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			continue
		} else if err == io.EOF {
			break
		} else if err != nil {
			break
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}
		runCommand(ctx, client, line)
	}
}

func runCommand(ctx context.Context, client *controlapi.Client, line string) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Println("error:", r)
		}
	}()
	fields := strings.Fields(line)
	switch fields[0] {
	case "help":
		fmt.Println("status <addr> | become_master <addr> <shard_id> <epoch> | become_replica <addr> <shard_id> <epoch> <master_addr> | get_routing <addr>")
	case "status":
		requireArgs(fields, 2)
		st, err := client.GetShardStatus(ctx, fields[1])
		report(st, err)
	case "become_master":
		requireArgs(fields, 4)
		epoch := parseUint(fields[3])
		ok, err := client.BecomeMaster(ctx, fields[1], fields[2], epoch)
		report(ok, err)
	case "become_replica":
		requireArgs(fields, 5)
		epoch := parseUint(fields[3])
		ok, err := client.BecomeReplica(ctx, fields[1], fields[2], epoch, fields[4])
		report(ok, err)
	case "get_routing":
		requireArgs(fields, 2)
		epoch, slotToShard, shardMasters, err := client.GetRoutingConfig(ctx, fields[1])
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		fmt.Printf("config_epoch=%d slots=%d shard_masters=%v\n", epoch, len(slotToShard), shardMasters)
	default:
		fmt.Println("unknown command:", fields[0])
	}
}

func requireArgs(fields []string, n int) {
	if len(fields) < n {
		panic(fmt.Sprintf("%s requires %d arguments", fields[0], n-1))
	}
}

func parseUint(s string) uint64 {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		panic(fmt.Sprintf("invalid number %q", s))
	}
	return n
}

func report(v any, err error) {
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Printf("%+v\n", v)
}
