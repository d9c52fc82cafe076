// Command kadsim runs the Kademlia DHT simulator from a YAML configuration
// file (spec §6 "CLI").
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/mod/ipfs-sim/internal/config"
	"github.com/mod/ipfs-sim/pkg/ports"
	"github.com/mod/ipfs-sim/pkg/simulation"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// Exit codes (spec §6 "CLI"): 0 success, 1 ConfigError (or any other
// startup/usage failure), 2 InvariantViolation (a bug in the simulator
// core, found by the post-run invariant check).
func run(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: kadsim <config.yaml>")
		return 1
	}

	cfg, err := config.Load(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 1
	}

	sim, err := simulation.New(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 1
	}
	defer sim.Close()

	sim.Run()

	if err := sim.CheckInvariants(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		var violation *ports.InvariantViolation
		if errors.As(err, &violation) {
			return 2
		}
		return 1
	}
	return 0
}
