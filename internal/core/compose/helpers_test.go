package compose

import (
	"strconv"

	"github.com/compose-spec/compose-go/v2/types"
)

func (d *Definition) service(name string) (types.ServiceConfig, bool) {
	svc, ok := d.Project.Services[name]
	return svc, ok
}

// publishedPorts maps container port to fixed host port for tcp mappings.
func (d *Definition) publishedPorts(name string) map[int]int {
	svc, ok := d.Project.Services[name]
	if !ok {
		return nil
	}
	out := make(map[int]int)
	for _, p := range svc.Ports {
		if p.Published == "" || !isTCP(p.Protocol) {
			continue
		}
		if host, err := strconv.Atoi(p.Published); err == nil {
			out[int(p.Target)] = host
		}
	}
	return out
}
