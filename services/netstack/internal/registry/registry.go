// Package registry maps layer names from the stack configuration to the
// builders that construct them. Layer packages register themselves from
// init; the stack looks builders up by (role, name).
package registry

import (
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"nodestack-go/drivers/radio"
	"nodestack-go/services/netstack/internal/framer"
	"nodestack-go/services/netstack/internal/link"
	"nodestack-go/services/netstack/internal/nbr"
	"nodestack-go/services/netstack/internal/queuebuf"
	"nodestack-go/services/netstack/internal/sched"
	"nodestack-go/types"
)

// Role is a position in the layer stack.
type Role string

const (
	RoleFramer  Role = "framer"
	RoleMAC     Role = "mac"
	RoleRDC     Role = "rdc"
	RoleNetwork Role = "network"
)

// BuildInput carries everything a layer may need. Layers are built bottom
// up, so MAC is set for RDC builders and RDC for network builders.
type BuildInput struct {
	Config    types.StackConfig
	Loop      *sched.Loop
	Radio     radio.Driver
	Buffers   *queuebuf.Buffers
	Neighbors *nbr.Table
	Seq       *link.Seq
	Rand      *rand.Rand
	Events    func(types.LinkEvent)

	Framer framer.Framer
	MAC    link.MAC
	RDC    link.RDC

	Deliver  func(link.Packet)
	Fallback link.Fallback
}

// BuildOutput holds the layer a builder produced; only the field for its
// role is set.
type BuildOutput struct {
	Framer  framer.Framer
	MAC     link.MAC
	RDC     link.RDC
	Network link.Network
}

// Builder constructs one layer.
type Builder interface {
	Build(in BuildInput) (BuildOutput, error)
}

// BuilderFunc adapts a function to Builder.
type BuilderFunc func(in BuildInput) (BuildOutput, error)

func (fn BuilderFunc) Build(in BuildInput) (BuildOutput, error) { return fn(in) }

var (
	mu       sync.RWMutex
	builders = map[Role]map[string]Builder{}
)

// RegisterBuilder installs b for (role, name). It panics on an empty name
// or a duplicate registration to catch mistakes at start-up.
func RegisterBuilder(role Role, name string, b Builder) {
	mu.Lock()
	defer mu.Unlock()
	if name == "" {
		panic(fmt.Sprintf("registry: empty %s name", role))
	}
	m := builders[role]
	if m == nil {
		m = map[string]Builder{}
		builders[role] = m
	}
	if _, exists := m[name]; exists {
		panic(fmt.Sprintf("registry: %s %q already registered", role, name))
	}
	m[name] = b
}

func Lookup(role Role, name string) (Builder, bool) {
	mu.RLock()
	defer mu.RUnlock()
	b, ok := builders[role][name]
	return b, ok
}

// Names lists the registered names for role, sorted.
func Names(role Role) []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(builders[role]))
	for name := range builders[role] {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Framers live below this package, so their builders are registered here.
func init() {
	RegisterBuilder(RoleFramer, types.Framer802154, BuilderFunc(func(in BuildInput) (BuildOutput, error) {
		return BuildOutput{Framer: framer.IEEE802154{}}, nil
	}))
	RegisterBuilder(RoleFramer, types.FramerPadded, BuilderFunc(func(in BuildInput) (BuildOutput, error) {
		return BuildOutput{Framer: framer.NewPadded(in.Config.Framer.ShortestPacket)}, nil
	}))
}
