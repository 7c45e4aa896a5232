package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	simNodes    int
	simDuration time.Duration
	simPackets  int
	simSize     int
	simSeed     int64
)

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Simulate a line of nodes in virtual time and print per-node stats",
	Long: `sim builds --nodes stacks from one profile on a simulated channel where
each node hears only its neighbors in a line. Every node sends --packets
packets of --size bytes to the next node, spread over --duration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadStackConfig()
		if err != nil {
			return err
		}
		if simPackets < 0 || simSize < 0 || simDuration <= 0 {
			return fmt.Errorf("packets, size and duration must be positive")
		}
		net, err := newSimNet(cfg, simNodes, simSeed)
		if err != nil {
			return err
		}
		runSim(net, simPackets, simSize, simDuration)
		return printOut(cmd.OutOrStdout(), net.report())
	},
}

// runSim sends packets node i -> i+1 (the last node sends back to its
// predecessor) at even spacing, then lets the network settle.
func runSim(net *simNet, packets, size int, d time.Duration) {
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte(i)
	}
	gap := d / time.Duration(packets+1)
	for p := 0; p < packets; p++ {
		net.run(gap)
		for i := range net.nodes {
			j := i + 1
			if j == len(net.nodes) {
				j = i - 1
			}
			// A full queue counts as not sent.
			_ = net.send(i, j, payload)
		}
	}
	net.run(gap + 2*time.Second)
}

func init() {
	addConfigFlags(simCmd)
	simCmd.Flags().IntVarP(&simNodes, "nodes", "n", 3, "number of nodes")
	simCmd.Flags().DurationVarP(&simDuration, "duration", "d", 30*time.Second, "simulated time to spread packets over")
	simCmd.Flags().IntVar(&simPackets, "packets", 10, "packets per node")
	simCmd.Flags().IntVar(&simSize, "size", 32, "payload bytes per packet")
	simCmd.Flags().Int64Var(&simSeed, "seed", 1, "random seed")
	rootCmd.AddCommand(simCmd)
}
