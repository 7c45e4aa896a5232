package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/abiosoft/ishell"
	"github.com/spf13/cobra"
)

const netKey = "$net"

var shellNodes int

var shellCmd = &cobra.Command{
	Use:   "shell [command...]",
	Short: "Drive a simulated line of nodes interactively",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadStackConfig()
		if err != nil {
			return err
		}
		net, err := newSimNet(cfg, shellNodes, simSeed)
		if err != nil {
			return err
		}
		sh := newShell(net)
		if len(args) > 0 {
			return sh.Process(args...)
		}
		sh.Println(fmt.Sprintf("%d nodes, profile %s. Type help.", len(net.nodes), cfg.Name))
		sh.Run()
		return nil
	},
}

func newShell(net *simNet) *ishell.Shell {
	sh := ishell.New()
	sh.Set(netKey, net)
	sh.SetPrompt("sim > ")
	for _, c := range shellCmds {
		sh.AddCmd(c)
	}
	return sh
}

func netFrom(c *ishell.Context) *simNet { return c.Get(netKey).(*simNet) }

func nodeArg(c *ishell.Context, i int) (int, error) {
	if len(c.Args) <= i {
		return 0, fmt.Errorf("node index required")
	}
	n, err := strconv.Atoi(c.Args[i])
	if err != nil || n < 0 || n >= len(netFrom(c).nodes) {
		return 0, fmt.Errorf("invalid node %q", c.Args[i])
	}
	return n, nil
}

var shellCmds = []*ishell.Cmd{
	{
		Name: "send",
		Help: "FROM TO [TEXT]",
		Func: func(c *ishell.Context) {
			from, err := nodeArg(c, 0)
			if err != nil {
				c.Err(err)
				return
			}
			to, err := nodeArg(c, 1)
			if err != nil {
				c.Err(err)
				return
			}
			text := "hello"
			if len(c.Args) > 2 {
				text = strings.Join(c.Args[2:], " ")
			}
			if err := netFrom(c).send(from, to, []byte(text)); err != nil {
				c.Err(err)
				return
			}
			c.Println("queued")
		},
	},
	{
		Name: "run",
		Help: "DURATION (default 1s)",
		Func: func(c *ishell.Context) {
			d := time.Second
			if len(c.Args) > 0 {
				v, err := time.ParseDuration(c.Args[0])
				if err != nil {
					c.Err(err)
					return
				}
				d = v
			}
			net := netFrom(c)
			net.run(d)
			c.Printf("t = %s\n", net.loop.Now().Sub(time.Time{}))
		},
	},
	{
		Name: "stats",
		Help: "[NODE]",
		Func: func(c *ishell.Context) {
			rep := netFrom(c).report()
			if len(c.Args) > 0 {
				n, err := nodeArg(c, 0)
				if err != nil {
					c.Err(err)
					return
				}
				rep = rep[n : n+1]
			}
			for _, r := range rep {
				c.Printf("%d %s sent %d ok %d failed %d rx %d mac tx %d/%d duty %.2f%%\n",
					r.Node, r.Addr, r.Sent, r.Acked, r.Failed, r.Received,
					r.Stats.MAC.TxOK, r.Stats.MAC.TxAttempts, 100*r.DutyCycle)
			}
		},
	},
	{
		Name:    "nbrs",
		Aliases: []string{"neighbors"},
		Help:    "NODE",
		Func: func(c *ishell.Context) {
			n, err := nodeArg(c, 0)
			if err != nil {
				c.Err(err)
				return
			}
			net := netFrom(c)
			for _, e := range net.nodes[n].st.Neighbors() {
				phase := "-"
				if e.HasPhase() {
					phase = e.WakeAt.Sub(time.Time{}).String()
				}
				c.Printf("%s seen %s tx %d/%d phase %s\n", e.Addr,
					net.loop.Now().Sub(e.LastSeen), e.TxOK, e.TxOK+e.TxFail, phase)
			}
		},
	},
}

func init() {
	addConfigFlags(shellCmd)
	shellCmd.Flags().IntVarP(&shellNodes, "nodes", "n", 3, "number of nodes")
	shellCmd.Flags().Int64Var(&simSeed, "seed", 1, "random seed")
	rootCmd.AddCommand(shellCmd)
}
