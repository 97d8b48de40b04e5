package config

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/Azurepeal/neighbor-swap/internal/types"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// Catalog is the static description of every chain the engine can swap on
type Catalog struct {
	// Shared API base for chain-independent endpoints such as currency rates
	CommonAPIEndpoint string `yaml:"common_api_endpoint"`

	DefaultChain types.SupportedChain                       `yaml:"default_chain"`
	Chains       map[types.SupportedChain]types.ChainConfig `yaml:"chains"`
}

// LoadCatalog loads the chain catalog from a YAML file, or the embedded
// default when configPath is empty
func LoadCatalog(configPath string) (*Catalog, error) {
	data := defaultCatalog
	if configPath != "" {
		fileData, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog file: %w", err)
		}
		data = fileData
	}

	catalog, err := ParseCatalog(data)
	if err != nil {
		return nil, err
	}

	if configPath != "" {
		logrus.Infof("Loaded chain catalog from %s", configPath)
	}
	return catalog, nil
}

// DefaultCatalog returns the embedded catalog
func DefaultCatalog() *Catalog {
	catalog, err := ParseCatalog(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("embedded catalog is invalid: %v", err))
	}
	return catalog
}

// ParseCatalog decodes and checks a YAML catalog document
func ParseCatalog(data []byte) (*Catalog, error) {
	var catalog Catalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	if len(catalog.Chains) == 0 {
		return nil, fmt.Errorf("catalog defines no chains")
	}

	for name, chain := range catalog.Chains {
		if chain.Name == "" {
			chain.Name = name
		}
		if chain.APIEndpoint == "" {
			return nil, fmt.Errorf("chain %s: api_endpoint is required", name)
		}
		chain.APIEndpoint = strings.TrimRight(chain.APIEndpoint, "/")
		catalog.Chains[name] = chain
	}

	if catalog.DefaultChain == "" {
		catalog.DefaultChain = catalog.ChainNames()[0]
	}
	if _, ok := catalog.Chains[catalog.DefaultChain]; !ok {
		return nil, fmt.Errorf("default chain %s is not defined", catalog.DefaultChain)
	}

	return &catalog, nil
}

// Chain returns the configuration of a named chain
func (c *Catalog) Chain(name types.SupportedChain) (types.ChainConfig, error) {
	chain, ok := c.Chains[name]
	if !ok {
		return types.ChainConfig{}, fmt.Errorf("unsupported chain: %s", name)
	}
	return chain, nil
}

// ChainByID finds the chain whose numeric id matches the one a wallet reports
func (c *Catalog) ChainByID(chainID int64) (types.ChainConfig, bool) {
	for _, chain := range c.Chains {
		if chain.ChainID == chainID {
			return chain, true
		}
	}
	return types.ChainConfig{}, false
}

// ChainNames lists the catalog's chains in a stable order
func (c *Catalog) ChainNames() []types.SupportedChain {
	names := make([]types.SupportedChain, 0, len(c.Chains))
	for name := range c.Chains {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
