package web3

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DeterministicDeployer is the CREATE2 factory found at the same address on
// most public EVM networks. It deploys salt||initcode sent as calldata.
const DeterministicDeployer = "0x4e59b44847b379578588920ca78fbf26c0b4956c"

// ChainDefinitions models the structure of configs/chains.yaml.
type ChainDefinitions struct {
	Chains map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes a single chain endpoint definition.
type ChainDefinition struct {
	Type           string `yaml:"type"`
	RPCURL         string `yaml:"rpc_url"`
	ChainID        int64  `yaml:"chain_id"`
	ExplorerURL    string `yaml:"explorer_url"`
	Create2Factory string `yaml:"create2_factory"`
	Description    string `yaml:"description"`
}

// LoadChainDefinitions parses the YAML file containing chain metadata.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("read chain definitions: %w", err)
	}

	var defs ChainDefinitions
	if err := yaml.Unmarshal(content, &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("parse chain definitions: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	for name, def := range defs.Chains {
		if strings.EqualFold(strings.TrimSpace(def.Create2Factory), "default") {
			def.Create2Factory = DeterministicDeployer
			defs.Chains[name] = def
		}
	}
	return defs, nil
}
