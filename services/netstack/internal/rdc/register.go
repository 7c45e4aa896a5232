package rdc

import (
	"nodestack-go/services/netstack/internal/registry"
	"nodestack-go/types"
)

func deps(in registry.BuildInput) Deps {
	return Deps{
		Loop:      in.Loop,
		Radio:     in.Radio,
		MAC:       in.MAC,
		Framer:    in.Framer,
		Buffers:   in.Buffers,
		Neighbors: in.Neighbors,
		Seq:       in.Seq,
		Self:      in.Config.LinkAddr,
		PANID:     in.Config.PANID,
		Config:    in.Config.RDC,
		Rand:      in.Rand,
		Events:    in.Events,
		QueueLen:  in.Config.MAC.QueueLen,
	}
}

func init() {
	registry.RegisterBuilder(registry.RoleRDC, types.RDCContikiMAC, registry.BuilderFunc(func(in registry.BuildInput) (registry.BuildOutput, error) {
		return registry.BuildOutput{RDC: NewContikiMAC(deps(in))}, nil
	}))
	registry.RegisterBuilder(registry.RoleRDC, types.RDCNull, registry.BuilderFunc(func(in registry.BuildInput) (registry.BuildOutput, error) {
		return registry.BuildOutput{RDC: NewNull(deps(in))}, nil
	}))
}
