package mac

import (
	"nodestack-go/services/netstack/internal/registry"
	"nodestack-go/types"
)

func deps(in registry.BuildInput) Deps {
	return Deps{
		Loop:      in.Loop,
		Radio:     in.Radio,
		Framer:    in.Framer,
		Buffers:   in.Buffers,
		Neighbors: in.Neighbors,
		Seq:       in.Seq,
		Self:      in.Config.LinkAddr,
		PANID:     in.Config.PANID,
		Config:    in.Config.MAC,
		Rand:      in.Rand,
		Events:    in.Events,
	}
}

func init() {
	registry.RegisterBuilder(registry.RoleMAC, types.MACCSMA, registry.BuilderFunc(func(in registry.BuildInput) (registry.BuildOutput, error) {
		return registry.BuildOutput{MAC: NewCSMA(deps(in))}, nil
	}))
	registry.RegisterBuilder(registry.RoleMAC, types.MACNull, registry.BuilderFunc(func(in registry.BuildInput) (registry.BuildOutput, error) {
		return registry.BuildOutput{MAC: NewNull(deps(in))}, nil
	}))
}
