//go:build linux

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"nodestack-go/bus"
	"nodestack-go/drivers/radio/serialradio"
	"nodestack-go/services/bridge"
	"nodestack-go/services/config"
	"nodestack-go/services/heartbeat"
	"nodestack-go/services/netstack"
	"nodestack-go/services/telemetry"
	"nodestack-go/types"
)

var (
	runSerial    string
	runBaud      uint32
	runSleepChip string
	runSleepLine int
	runTap       string
	runMQTT      string
	runPrefix    string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a node on a serial radio co-processor",
	Long: `run starts the stack on the radio behind --serial and serves it on the
bus, with the heartbeat, bridge and telemetry services alongside. --tap and
--mqtt override the profile's bridge and telemetry sections.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := loadDocument()
		if err != nil {
			return err
		}
		if raw, err = applyOverrides(raw); err != nil {
			return err
		}
		if _, err := config.StackConfig(raw); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		port, err := serialradio.OpenSerial(runSerial, runBaud)
		if err != nil {
			return fmt.Errorf("open %s: %w", runSerial, err)
		}
		defer port.Close()

		rcfg := serialradio.Config{}
		if runSleepChip != "" {
			line, err := serialradio.OpenLine(runSleepChip, runSleepLine)
			if err != nil {
				return fmt.Errorf("sleep line: %w", err)
			}
			defer line.Close()
			rcfg.Line = line
		}
		drv := serialradio.New(port, rcfg)
		go func() {
			if err := drv.Run(ctx); err != nil && ctx.Err() == nil {
				glog.Errorf("[radio] %v", err)
				stop()
			}
		}()

		b := bus.NewBus(8)
		br := bridge.NewService()
		if err := br.Start(ctx, b.NewConnection("bridge")); err != nil {
			return err
		}
		ns := netstack.NewService(drv, netstack.Options{Fallback: br})
		if err := ns.Start(ctx, b.NewConnection("netstack")); err != nil {
			return err
		}
		hb := &heartbeat.Service{}
		if err := hb.Start(ctx, b.NewConnection("heartbeat")); err != nil {
			return err
		}
		if err := telemetry.NewService().Start(ctx, b.NewConnection("telemetry")); err != nil {
			return err
		}
		cs := config.NewConfigService()
		cs.Raw = raw
		cs.Start(ctx, b.NewConnection("config"))

		watchStates(ctx, b.NewConnection("monitor"))
		<-ctx.Done()
		glog.Infof("[main] shutting down")
		return nil
	},
}

// applyOverrides replaces the bridge and telemetry sections of raw from
// the command line flags.
func applyOverrides(raw []byte) ([]byte, error) {
	if runTap == "" && runMQTT == "" {
		return raw, nil
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if runTap != "" {
		doc["bridge"] = bridge.Config{Transport: bridge.TransportConfig{
			Type: "tap",
			Tap:  &bridge.TapConfig{Name: runTap},
		}}
	}
	if runMQTT != "" {
		doc["telemetry"] = types.TelemetryConfig{Broker: runMQTT, Prefix: runPrefix}
	}
	return yaml.Marshal(doc)
}

// watchStates logs every service state change.
func watchStates(ctx context.Context, conn *bus.Connection) {
	sub := conn.Subscribe(bus.T("+", "state"))
	go func() {
		defer conn.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case m := <-sub.Channel():
				if m != nil {
					glog.Infof("[main] %s: %v", m.Topic.String(), m.Payload)
				}
			}
		}
	}()
}

func init() {
	addConfigFlags(runCmd)
	f := runCmd.Flags()
	f.StringVar(&runSerial, "serial", "/dev/ttyUSB0", "co-processor tty")
	f.Uint32Var(&runBaud, "baud", 115200, "co-processor baud rate")
	f.StringVar(&runSleepChip, "sleep-chip", "", "GPIO chip of the radio sleep line (e.g. gpiochip0)")
	f.IntVar(&runSleepLine, "sleep-line", 0, "GPIO offset of the radio sleep line")
	f.StringVar(&runTap, "tap", "", "bridge to this TAP interface")
	f.StringVar(&runMQTT, "mqtt", "", "mirror to this MQTT broker URL")
	f.StringVar(&runPrefix, "mqtt-prefix", "nodestack", "MQTT topic prefix")
	rootCmd.AddCommand(runCmd)
}
