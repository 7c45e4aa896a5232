package netlayer

import (
	"nodestack-go/services/netstack/internal/registry"
	"nodestack-go/types"
)

func deps(in registry.BuildInput) Deps {
	return Deps{
		Loop:      in.Loop,
		RDC:       in.RDC,
		Framer:    in.Framer,
		Buffers:   in.Buffers,
		Neighbors: in.Neighbors,
		Self:      in.Config.LinkAddr,
		PANID:     in.Config.PANID,
		AddrSize:  in.Config.AddrSize,
		Config:    in.Config.Network,
		Deliver:   in.Deliver,
		Fallback:  in.Fallback,
		Events:    in.Events,
	}
}

func init() {
	registry.RegisterBuilder(registry.RoleNetwork, types.NetSicslowpan, registry.BuilderFunc(func(in registry.BuildInput) (registry.BuildOutput, error) {
		n, err := NewSicslowpan(deps(in))
		if err != nil {
			return registry.BuildOutput{}, err
		}
		return registry.BuildOutput{Network: n}, nil
	}))
	registry.RegisterBuilder(registry.RoleNetwork, types.NetRime, registry.BuilderFunc(func(in registry.BuildInput) (registry.BuildOutput, error) {
		return registry.BuildOutput{Network: NewRime(deps(in))}, nil
	}))
}
