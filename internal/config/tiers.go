package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Baur-Software/aws-ai-agent-bus-sub012/internal/domain"
)

// tierFile is the YAML shape of a tier table:
//
//	tiers:
//	  small:
//	    kv:
//	      capacity: 10
//	      refill_per_sec: 1
type tierFile struct {
	Tiers map[string]map[string]domain.ServiceLimit `yaml:"tiers"`
}

// LoadTierTable reads a YAML tier table. Every service name must be
// known and every limit valid; a bad table is a startup error, not
// something to discover per-request.
func LoadTierTable(path string) (map[string]map[domain.Service]domain.ServiceLimit, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseTierTable(data)
}

// ParseTierTable parses and validates a YAML tier table.
func ParseTierTable(data []byte) (map[string]map[domain.Service]domain.ServiceLimit, error) {
	var tf tierFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, fmt.Errorf("parse tier table: %w", err)
	}
	if len(tf.Tiers) == 0 {
		return nil, fmt.Errorf("tier table has no tiers")
	}

	out := make(map[string]map[domain.Service]domain.ServiceLimit, len(tf.Tiers))
	for tier, services := range tf.Tiers {
		limits := make(map[domain.Service]domain.ServiceLimit, len(services))
		for name, limit := range services {
			svc := domain.Service(name)
			if !domain.ValidService(svc) {
				return nil, fmt.Errorf("tier %q: unknown service %q", tier, name)
			}
			if !limit.Valid() {
				return nil, fmt.Errorf("tier %q service %q: capacity=%g refill=%g",
					tier, name, limit.Capacity, limit.RefillRate)
			}
			limits[svc] = limit
		}
		out[tier] = limits
	}
	return out, nil
}
