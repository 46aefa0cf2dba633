package x402

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// LoadPricingFile reads a pricing table from a YAML file mapping operation
// ids to payment option lists:
//
//	get_weather_forecast:
//	  - chain_id: 8453
//	    token_address: "0x8335..."
//	    token_amount: 1000
func LoadPricingFile(path string) (PricingTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pricing config: %w", err)
	}
	var table PricingTable
	if err := yaml.Unmarshal(raw, &table); err != nil {
		return nil, fmt.Errorf("parse pricing config %s: %w", path, err)
	}
	for operation, options := range table {
		for i, option := range options {
			if option.TokenAmount <= 0 {
				return nil, fmt.Errorf("pricing config %s: %s option %d: token_amount must be positive", path, operation, i)
			}
			if option.TokenAddress == "" {
				return nil, fmt.Errorf("pricing config %s: %s option %d: token_address is required", path, operation, i)
			}
		}
	}
	return table, nil
}

// ValidWalletAddress reports whether s is a well-formed EVM address. Mixed
// case addresses must also carry a correct EIP-55 checksum; all-lower or
// all-upper hex carries no checksum and is accepted as-is.
func ValidWalletAddress(s string) bool {
	if !common.IsHexAddress(s) {
		return false
	}
	hex := strings.TrimPrefix(s, "0x")
	if hex == strings.ToLower(hex) || hex == strings.ToUpper(hex) {
		return true
	}
	return common.HexToAddress(s).Hex() == s
}
