package config

// -----------------------------------------------------------------------------
// Embedded profiles
//
// Key: profile name (same value placed in ctx under CtxProfileKey)
// Val: YAML document, one top-level key per service
// -----------------------------------------------------------------------------

// Zolertia RSS2 style node: duty cycled, 64-bit addresses, full IPv6 MTU.
const cfgRSS2 = `
netstack:
  name: rss2
  addr_size: 8
  layers: {network: sicslowpan, mac: csma, rdc: contikimac, framer: contikimac}
  radio: {channel: 26, tx_power: 0}
  mac: {max_transmissions: 3, queue_len: 4}
  rdc: {check_rate: 8, phase_optimization: true}
  network:
    compression: iphc
    fragmentation: true
    max_packet: 1280
    max_reassemblies: 2
    max_age: 3s
    contexts:
      - {index: 0, prefix: "aaaa::/64"}
  buffers: {queue: 16, ref: 2}
  neighbors: {capacity: 20, timeout: 10m}
heartbeat:
  interval: 10s
sensors:
  name: co2
  interval: 30s
  variables: [co2, temperature, humidity]
telemetry:
  prefix: nodestack
  qos: 0
`

// ATmega128RFA1 with the receiver always on.
const cfgRFA1AlwaysOn = `
netstack:
  name: rfa1-always-on
  addr_size: 8
  layers: {network: sicslowpan, mac: csma, rdc: nullrdc, framer: "802154"}
  radio: {channel: 26, rx_buffers: 3, hardware_ack: true, hardware_csma: true}
  mac: {max_transmissions: 2, queue_len: 4}
  network: {compression: iphc, fragmentation: true, max_packet: 1280}
  buffers: {queue: 16}
heartbeat:
  interval: 10s
`

// ATmega128RFA1 duty cycled at 8 Hz.
const cfgRFA1ContikiMAC = `
netstack:
  name: rfa1-contikimac
  addr_size: 8
  layers: {network: sicslowpan, mac: csma, rdc: contikimac, framer: contikimac}
  radio: {channel: 26, hardware_ack: true, hardware_csma: true}
  # One hardware attempt per copy; the strobe does the retrying.
  rdc: {check_rate: 8, cca_count: 2, cca_spacing: 500us, phase_optimization: true, hardware_retry: false}
  network: {compression: iphc, fragmentation: true, max_packet: 1280}
  buffers: {queue: 16, ref: 2}
heartbeat:
  interval: 30s
`

// Rime over short addresses; packets are carried without IPv6.
const cfgRime = `
netstack:
  name: rime
  addr_size: 2
  layers: {network: rime, mac: csma, rdc: contikimac, framer: contikimac}
  radio: {channel: 20}
  network: {max_packet: 100}
  buffers: {queue: 8, ref: 2}
heartbeat:
  interval: 10s
`

var embeddedProfiles = map[string]string{
	"rss2":            cfgRSS2,
	"rfa1-always-on":  cfgRFA1AlwaysOn,
	"rfa1-contikimac": cfgRFA1ContikiMAC,
	"rime":            cfgRime,
}

// DefaultProfile is used when the context names none.
const DefaultProfile = "rss2"
