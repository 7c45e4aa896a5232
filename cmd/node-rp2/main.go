//go:build rp2040

// node-rp2 runs the stack on a Pico wired to a serial radio co-processor
// on UART1, with a SenseAir CO2 sensor or an AHT20 on I2C0.
package main

import (
	"context"
	"machine"
	"runtime"
	"time"

	"nodestack-go/bus"
	"nodestack-go/drivers/aht20"
	"nodestack-go/drivers/co2sa"
	"nodestack-go/drivers/radio/serialradio"
	"nodestack-go/services/config"
	"nodestack-go/services/heartbeat"
	"nodestack-go/services/netstack"
	"nodestack-go/services/sensors"
)

const (
	radioUART = 1
	radioBaud = 115200
	radioTX   = machine.GP4
	radioRX   = machine.GP5
	radioWake = machine.GP6

	sensorSDA = machine.GP0
	sensorSCL = machine.GP1
)

func printTopicWith(prefix string, t bus.Topic) {
	print(prefix)
	print(" ")
	for i := 0; i < t.Len(); i++ {
		if i > 0 {
			print("/")
		}
		switch v := t.At(i).(type) {
		case string:
			print(v)
		case int:
			print(v)
		default:
			print("?")
		}
	}
	println()
}

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(3 * time.Second)
	ctx := context.WithValue(context.Background(), config.CtxProfileKey, config.DefaultProfile)

	println("[main] opening radio link …")
	port, err := serialradio.OpenUART(radioUART, radioBaud, radioTX, radioRX)
	if err != nil {
		println("[main] uart:", err.Error())
		return
	}
	drv := serialradio.New(port, serialradio.Config{Line: serialradio.NewPinLine(radioWake)})
	go drv.Run(ctx)

	if err := machine.I2C0.Configure(machine.I2CConfig{SDA: sensorSDA, SCL: sensorSCL, Frequency: machine.TWI_FREQ_100KHZ}); err != nil {
		println("[main] i2c:", err.Error())
	}
	sensor, vars := detectSensor()

	println("[main] bootstrapping bus …")
	b := bus.NewBus(4)
	uiConn := b.NewConnection("ui")

	mon := uiConn.Subscribe(bus.T("+", "state"))
	go func() {
		for m := range mon.Channel() {
			printTopicWith("[monitor] <-", m.Topic)
		}
	}()

	println("[main] starting services …")
	if err := netstack.NewService(drv, netstack.Options{}).Start(ctx, b.NewConnection("netstack")); err != nil {
		println("[main] netstack:", err.Error())
		return
	}
	sensors.NewService(sensor, vars).Start(ctx, b.NewConnection("sensors"))
	(&heartbeat.Service{}).Start(ctx, b.NewConnection("heartbeat"))
	config.NewConfigService().Start(ctx, b.NewConnection("config"))

	for {
		time.Sleep(10 * time.Second)
		printMem()
	}
}

// detectSensor prefers the CO2 sensor and falls back to an AHT20.
func detectSensor() (sensors.Sensor, map[string]int) {
	co2 := co2sa.New(machine.I2C0, co2sa.Config{})
	if _, err := co2.Read(co2sa.CO2); err == nil {
		println("[main] sensor: co2sa")
		return co2, map[string]int{"co2": co2sa.CO2, "temperature": co2sa.Temperature, "humidity": co2sa.Humidity}
	}
	println("[main] sensor: aht20")
	return aht20.New(machine.I2C0, aht20.Config{}), map[string]int{"temperature": aht20.Temperature, "humidity": aht20.Humidity}
}

// printMem prints a compact snapshot of TinyGo runtime memory stats.
// Uses builtin println to avoid fmt overhead/allocations.
func printMem() {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	println(
		"[mem]",
		"alloc:", uint32(ms.Alloc),
		"heapInuse:", uint32(ms.HeapInuse),
		"mallocs:", uint32(ms.Mallocs),
		"frees:", uint32(ms.Frees),
	)
}
