package solana

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Network names a Solana cluster and the RPC endpoint used to reach it.
type Network struct {
	Name   string
	RPCURL string
}

// NamedNetworks maps cluster names to their public RPC endpoints.
var NamedNetworks = map[string]Network{
	"devnet":       {Name: "devnet", RPCURL: "https://api.devnet.solana.com"},
	"testnet":      {Name: "testnet", RPCURL: "https://api.testnet.solana.com"},
	"mainnet-beta": {Name: "mainnet-beta", RPCURL: "https://api.mainnet-beta.solana.com"},
	"localnet":     {Name: "localnet", RPCURL: "http://127.0.0.1:8899"},
}

// ResolveNetwork returns the network for name. A non-empty rpcURL overrides the
// public endpoint (use it for premium providers that embed an API key in the URL).
// Unknown names are only accepted together with an explicit rpcURL.
func ResolveNetwork(name, rpcURL string) (Network, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "":
		name = "devnet"
	case "mainnet":
		name = "mainnet-beta"
	case "localhost":
		name = "localnet"
	}

	network, known := NamedNetworks[name]
	if !known {
		if rpcURL == "" {
			return Network{}, configError("resolve network",
				fmt.Sprintf("unknown network %q (known: %s)", name, strings.Join(knownNetworks(), ", ")), nil)
		}
		network = Network{Name: name}
	}

	if rpcURL != "" {
		u, err := url.Parse(rpcURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return Network{}, configError("resolve network", "malformed RPC URL", err)
		}
		network.RPCURL = rpcURL
	}
	return network, nil
}

// Dial returns an RPC client for the network. The returned handle holds no
// mutable state of its own and may be shared across goroutines.
func Dial(network Network) RPCClient {
	return NewRPCClient(network.RPCURL)
}

func knownNetworks() []string {
	names := make([]string, 0, len(NamedNetworks))
	for name := range NamedNetworks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
