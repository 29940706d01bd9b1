package registry

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/ittarek/swap-engine/swaperr"
)

type overrideFile struct {
	Chains []chainOverride `yaml:"chains"`
}

type chainOverride struct {
	ChainID  int64  `yaml:"chain_id"`
	Name     string `yaml:"name"`
	Endpoint string `yaml:"endpoint"`
	QuoterV2 string `yaml:"quoter_v2"`
	Router   string `yaml:"router"`
}

// NewWithOverrides builds a registry from the defaults merged with a YAML
// buffer. Overrides patch existing chains field-by-field; unknown chain ids
// add new entries and must then carry endpoint, quoter, and router. Reading
// the buffer from disk or environment is the host's job.
func NewWithOverrides(buf []byte) (*Registry, error) {
	r := New()
	if len(buf) == 0 {
		return r, nil
	}
	var file overrideFile
	if err := yaml.Unmarshal(buf, &file); err != nil {
		return nil, swaperr.Wrap(swaperr.CodeValidation, "parse chain overrides yaml", err)
	}
	for _, o := range file.Chains {
		if o.ChainID <= 0 {
			return nil, swaperr.New(swaperr.CodeValidation, "chain override requires a positive chain_id")
		}
		cfg, exists := r.chains[o.ChainID]
		if !exists {
			cfg = ChainConfig{ChainID: o.ChainID}
		}
		if name := strings.TrimSpace(o.Name); name != "" {
			cfg.Name = name
		}
		if endpoint := strings.TrimSpace(o.Endpoint); endpoint != "" {
			cfg.Endpoint = endpoint
		}
		var err error
		if cfg.QuoterV2, err = overrideAddress(cfg.QuoterV2, o.QuoterV2, o.ChainID, "quoter_v2"); err != nil {
			return nil, err
		}
		if cfg.Router, err = overrideAddress(cfg.Router, o.Router, o.ChainID, "router"); err != nil {
			return nil, err
		}
		if strings.TrimSpace(cfg.Endpoint) == "" || cfg.QuoterV2 == (common.Address{}) || cfg.Router == (common.Address{}) {
			return nil, swaperr.New(swaperr.CodeValidation,
				fmt.Sprintf("chain %d override is incomplete: endpoint, quoter_v2, and router are required", o.ChainID))
		}
		r.chains[o.ChainID] = cfg
	}
	return r, nil
}

func overrideAddress(current common.Address, raw string, chainID int64, field string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return current, nil
	}
	if !common.IsHexAddress(raw) {
		return common.Address{}, swaperr.New(swaperr.CodeValidation,
			fmt.Sprintf("chain %d: invalid %s address %q", chainID, field, raw))
	}
	return common.HexToAddress(raw), nil
}
