package errcode

// Code is a stable, bus-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK Code = "ok"

	// Link transmit outcomes.
	ChannelBusy Code = "channel_busy"
	NoAck       Code = "no_ack"
	TxFailed    Code = "tx_failed"
	RadioError  Code = "radio_error"

	// Frame and packet handling.
	MalformedFrame    Code = "malformed_frame"
	PacketTooLarge    Code = "packet_too_large"
	ReassemblyTimeout Code = "reassembly_timeout"
	NoRoute           Code = "no_route"

	// Resources.
	PoolExhausted Code = "pool_exhausted"
	QueueFull     Code = "queue_full"
	InvalidHandle Code = "invalid_handle"

	// Control plane.
	InvalidConfig  Code = "invalid_config"
	InvalidParams  Code = "invalid_params"
	InvalidPayload Code = "invalid_payload"
	NotReady       Code = "not_ready"
	Unsupported    Code = "unsupported"
	Timeout        Code = "timeout"

	Error Code = "error" // generic fallback
)

// E wraps a Code with the operation that produced it and an optional cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += " (" + e.Err.Error() + ")"
	}
	return s
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Is matches a bare Code against the wrapper's own code.
func (e *E) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.C
}

// Wrap returns an *E for op with code c and cause err.
func Wrap(c Code, op string, err error) *E {
	return &E{C: c, Op: op, Err: err}
}

// Failed is the terminal transmit failure: TxFailed with the last attempt's reason.
func Failed(op string, reason Code) *E {
	return &E{C: TxFailed, Op: op, Err: reason}
}

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}

// Reason returns the innermost Code carried by err (the cause of a TxFailed,
// for instance), or Of(err) when there is no coded cause.
func Reason(err error) Code {
	if e, ok := err.(*E); ok && e.Err != nil {
		if c := Reason(e.Err); c != Error {
			return c
		}
	}
	return Of(err)
}
