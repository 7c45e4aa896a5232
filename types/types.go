package types

import "time"

// ---- Stack state (retained on "netstack/state") ----

type StackState struct {
	Level  string   `json:"level"`  // "idle", "ready", "stopped"
	Status string   `json:"status"` // short code
	Addr   LinkAddr `json:"addr,omitempty"`
	TS     int64    `json:"ts_ms"`
}

// ---- Send requests ("netstack/send", reply on msg.ReplyTo) ----

// SendRequest asks the stack to transmit one upper-layer packet. For the
// sicslowpan network Data is an IPv6 datagram and Dst may be left zero;
// for rime Data is carried verbatim to Dst.
type SendRequest struct {
	Dst     LinkAddr `json:"dst,omitempty"`
	NextHop LinkAddr `json:"next_hop,omitempty"`
	Data    []byte   `json:"data"`
}

type SendReply struct {
	OK     bool   `json:"ok"`
	Code   string `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ---- Deliveries ("netstack/rx") ----

type Delivery struct {
	Src  LinkAddr `json:"src"`
	Dst  LinkAddr `json:"dst"`
	Data []byte   `json:"data"`
	TS   int64    `json:"ts_ms"`
}

// ---- Link events ("netstack/event") ----

type EventKind string

const (
	EventTxFailed          EventKind = "tx_failed"
	EventReassemblyTimeout EventKind = "reassembly_timeout"
	EventPoolExhausted     EventKind = "pool_exhausted"
	EventMalformed         EventKind = "malformed"
	EventNoRoute           EventKind = "no_route"
)

type LinkEvent struct {
	Kind  EventKind `json:"kind"`
	Code  string    `json:"code"`
	Layer string    `json:"layer,omitempty"`
	Peer  LinkAddr  `json:"peer,omitempty"`
	TS    int64     `json:"ts_ms"`
}

// ---- Statistics (retained on "netstack/stats") ----

type MACStats struct {
	TxAttempts  uint32 `json:"tx_attempts"`
	TxOK        uint32 `json:"tx_ok"`
	TxNoAck     uint32 `json:"tx_noack"`
	TxBusy      uint32 `json:"tx_busy"`
	TxQueueFull uint32 `json:"tx_queue_full"`
	AcksSent    uint32 `json:"acks_sent"`
	RxOK        uint32 `json:"rx_ok"`
	RxDup       uint32 `json:"rx_dup"`
	RxFiltered  uint32 `json:"rx_filtered"`
	RxMalformed uint32 `json:"rx_malformed"`
	RxDropped   uint32 `json:"rx_dropped"`
}

type RDCStats struct {
	Checks       uint32 `json:"checks"`
	Detections   uint32 `json:"detections"`
	RxWakeups    uint32 `json:"rx_wakeups"`
	Strobes      uint32 `json:"strobes"`
	StrobeCopies uint32 `json:"strobe_copies"`
	PhaseHits    uint32 `json:"phase_hits"`
	OnTimeMs     int64  `json:"on_time_ms"`
}

type NetStats struct {
	TxPackets          uint32 `json:"tx_packets"`
	TxFragments        uint32 `json:"tx_fragments"`
	TxFailed           uint32 `json:"tx_failed"`
	TxNoRoute          uint32 `json:"tx_no_route"`
	TxFallback         uint32 `json:"tx_fallback"`
	RxPackets          uint32 `json:"rx_packets"`
	RxFragments        uint32 `json:"rx_fragments"`
	RxMalformed        uint32 `json:"rx_malformed"`
	Reassembled        uint32 `json:"reassembled"`
	ReassemblyTimeouts uint32 `json:"reassembly_timeouts"`
	ReassemblyDropped  uint32 `json:"reassembly_dropped"`
}

type PoolStats struct {
	Cap       int    `json:"cap"`
	InUse     int    `json:"in_use"`
	HighWater int    `json:"high_water"`
	Failures  uint32 `json:"failures"`
}

type StackStats struct {
	Addr      LinkAddr  `json:"addr"`
	MAC       MACStats  `json:"mac"`
	RDC       RDCStats  `json:"rdc"`
	Net       NetStats  `json:"net"`
	Queue     PoolStats `json:"queue"`
	Ref       PoolStats `json:"ref"`
	Neighbors int       `json:"neighbors"`
	TS        int64     `json:"ts_ms"`
}

// ---- Sensor readings ("sensor/<name>/<var>") ----

type SensorReading struct {
	Sensor   string `json:"sensor"`
	Variable string `json:"variable"`
	Value    int    `json:"value"`
	OK       bool   `json:"ok"`
	TS       int64  `json:"ts_ms"`
}

// ---- Service configuration ("config/<service>") ----

type HeartbeatConfig struct {
	Interval time.Duration `yaml:"interval" json:"interval"`
}

type SensorsConfig struct {
	// Name is the sensor token in "sensor/<name>/<var>".
	Name      string        `yaml:"name" json:"name"`
	Interval  time.Duration `yaml:"interval" json:"interval"`
	Variables []string      `yaml:"variables" json:"variables"`
}

type TelemetryConfig struct {
	Broker   string `yaml:"broker" json:"broker"`
	ClientID string `yaml:"client_id" json:"client_id"`
	Prefix   string `yaml:"prefix" json:"prefix"`
	QoS      byte   `yaml:"qos" json:"qos"`
}
