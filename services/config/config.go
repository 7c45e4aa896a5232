package config

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/golang/glog"
	"gopkg.in/yaml.v3"

	"nodestack-go/bus"
	"nodestack-go/errcode"
	"nodestack-go/types"
)

const (
	serviceName   = "config"
	configPrefix  = "config"
	CtxProfileKey = "profile" // context key used for the profile name
)

// EmbeddedConfigLookup allows overriding how profiles are resolved.
var EmbeddedConfigLookup = func(profile string) ([]byte, bool) {
	s, ok := embeddedProfiles[profile]
	return []byte(s), ok
}

// Profiles lists the embedded profile names.
func Profiles() []string {
	names := make([]string, 0, len(embeddedProfiles))
	for n := range embeddedProfiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Profile returns the validated stack configuration of an embedded profile,
// with defaults applied.
func Profile(name string) (types.StackConfig, error) {
	raw, ok := EmbeddedConfigLookup(name)
	if !ok {
		return types.StackConfig{}, &errcode.E{C: errcode.InvalidConfig, Op: serviceName, Msg: "no profile " + name}
	}
	return StackConfig(raw)
}

// StackConfig extracts the "netstack" section of a profile document.
func StackConfig(raw []byte) (types.StackConfig, error) {
	doc, err := Parse(raw)
	if err != nil {
		return types.StackConfig{}, err
	}
	cfg, ok := doc["netstack"].(types.StackConfig)
	if !ok {
		return types.StackConfig{}, &errcode.E{C: errcode.InvalidConfig, Op: serviceName, Msg: "no netstack section"}
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return types.StackConfig{}, err
	}
	return cfg, nil
}

// Parse decodes a profile document. Known sections decode to their types
// package structs; anything else is left as generic YAML values.
func Parse(raw []byte) (map[string]any, error) {
	var nodes map[string]yaml.Node
	if err := yaml.Unmarshal(raw, &nodes); err != nil {
		return nil, &errcode.E{C: errcode.InvalidConfig, Op: serviceName, Err: err}
	}
	if len(nodes) == 0 {
		return nil, &errcode.E{C: errcode.InvalidConfig, Op: serviceName, Msg: "empty profile"}
	}
	out := make(map[string]any, len(nodes))
	for key, node := range nodes {
		var v any
		var err error
		switch key {
		case "netstack":
			var c types.StackConfig
			err = node.Decode(&c)
			v = c
		case "heartbeat":
			var c types.HeartbeatConfig
			err = node.Decode(&c)
			v = c
		case "sensors":
			var c types.SensorsConfig
			err = node.Decode(&c)
			v = c
		case "telemetry":
			var c types.TelemetryConfig
			err = node.Decode(&c)
			v = c
		default:
			err = node.Decode(&v)
		}
		if err != nil {
			return nil, &errcode.E{C: errcode.InvalidConfig, Op: serviceName, Msg: fmt.Sprintf("section %q", key), Err: err}
		}
		out[key] = v
	}
	return out, nil
}

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

type ConfigService struct {
	Name string
	// Raw, when set, is published instead of an embedded profile.
	Raw []byte
}

func NewConfigService() *ConfigService {
	return &ConfigService{Name: serviceName}
}

// publishConfig publishes each section of the profile as a retained
// "config/<section>" message.
func (s *ConfigService) publishConfig(ctx context.Context, conn *bus.Connection) error {
	raw := s.Raw
	if raw == nil {
		profile, _ := ctx.Value(CtxProfileKey).(string)
		if profile == "" {
			return errors.New("missing profile name in context")
		}
		var ok bool
		raw, ok = EmbeddedConfigLookup(profile)
		if !ok || len(raw) == 0 {
			return errors.New("no embedded profile: " + profile)
		}
	}

	doc, err := Parse(raw)
	if err != nil {
		return err
	}
	for k, v := range doc {
		conn.Publish(conn.NewMessage(bus.T(configPrefix, k), v, true))
	}
	if glog.V(1) {
		glog.Infof("[config] published %d sections", len(doc))
	}
	return nil
}

// Start launches the config publisher in a goroutine.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) {
	go func() {
		if err := s.publishConfig(ctx, conn); err != nil {
			glog.Errorf("[config] %v", err)
		}
	}()
}
