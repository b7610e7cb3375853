package main

import (
	"fmt"
	"os"
	"sort"
	"time"

	cli "github.com/spf13/pflag"

	"voxbot/internal/ipc"
)

type status struct {
	Started  time.Time        `json:"started"`
	Updates  int64            `json:"updates"`
	InFlight int64            `json:"in_flight"`
	Outcomes map[string]int64 `json:"outcomes"`
	Workers  int              `json:"workers"`
	Busy     int              `json:"busy"`
}

func main() {
	socketPath := cli.StringP("socket", "s", ipc.DefaultSocketPath, "Control socket path")
	cli.Parse()

	cmd := "status"
	if cli.NArg() > 0 {
		cmd = cli.Arg(0)
	}

	var st status
	if err := ipc.Send(*socketPath, cmd, &st); err != nil {
		fmt.Fprintln(os.Stderr, "voxbot not reachable:", err)
		os.Exit(1)
	}

	fmt.Printf("uptime:    %s\n", time.Since(st.Started).Round(time.Second))
	fmt.Printf("updates:   %d (%d in flight)\n", st.Updates, st.InFlight)
	fmt.Printf("workers:   %d/%d busy\n", st.Busy, st.Workers)

	kinds := make([]string, 0, len(st.Outcomes))
	for k := range st.Outcomes {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Printf("  %-20s %d\n", k, st.Outcomes[k])
	}
}
