package x402

import "strings"

// Supported EVM networks, keyed by chain id. Pricing entries on other
// chains are skipped with a warning when building challenges.
var networkByChainID = map[int64]string{
	8453:  "base",
	84532: "base-sepolia",
	43114: "avalanche",
	43113: "avalanche-fuji",
	4689:  "iotex",
}

var chainIDByNetwork = func() map[string]int64 {
	m := make(map[string]int64, len(networkByChainID))
	for id, name := range networkByChainID {
		m[name] = id
	}
	return m
}()

// tokenInfo carries the EIP-712 domain metadata of a known token contract.
type tokenInfo struct {
	Name    string
	Version string
}

// knownTokens maps chain id to token contract address (lowercase) to its
// EIP-712 domain. Covers the canonical USDC deployments.
var knownTokens = map[int64]map[string]tokenInfo{
	8453: {
		"0x833589fcd6edb6e08f4c7c32d4f71b54bda02913": {Name: "USD Coin", Version: "2"},
	},
	84532: {
		"0x036cbd53842c5426634e7929541ec2318f3dcf7e": {Name: "USDC", Version: "2"},
	},
	43114: {
		"0xb97ef9ef8734c71904d8002f8b6bc66dd9c48a6e": {Name: "USDC", Version: "2"},
	},
	43113: {
		"0x5425890298aed601595a70ab815c96711a31bc65": {Name: "USD Coin", Version: "2"},
	},
	4689: {
		"0xcdf79194c6c285077a58da47641d4dbe51f63542": {Name: "Bridged USDC", Version: "1"},
	},
}

// NetworkName maps a chain id to its x402 network label.
func NetworkName(chainID int64) (string, bool) {
	name, ok := networkByChainID[chainID]
	return name, ok
}

// ChainID maps an x402 network label back to its chain id.
func ChainID(network string) (int64, bool) {
	id, ok := chainIDByNetwork[network]
	return id, ok
}

// TokenName returns the EIP-712 domain name of a token, or "" when the
// contract is not a known deployment.
func TokenName(chainID int64, address string) string {
	return lookupToken(chainID, address).Name
}

// TokenVersion returns the EIP-712 domain version of a token. Unknown
// contracts default to "1".
func TokenVersion(chainID int64, address string) string {
	if info := lookupToken(chainID, address); info.Version != "" {
		return info.Version
	}
	return "1"
}

func lookupToken(chainID int64, address string) tokenInfo {
	tokens, ok := knownTokens[chainID]
	if !ok {
		return tokenInfo{}
	}
	return tokens[strings.ToLower(address)]
}
