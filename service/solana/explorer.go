package solana

import (
	"net/url"
	"strings"
)

// LinkKind is the entity type shown by the block explorer.
type LinkKind string

const (
	LinkAddress     LinkKind = "address"
	LinkTransaction LinkKind = "tx"
	LinkBlock       LinkKind = "block"
)

// ExplorerBaseURL is the public Solana explorer.
const ExplorerBaseURL = "https://explorer.solana.com"

// ExplorerLink returns a human-viewable URL for an address, transaction or block.
// It is a pure function of its inputs.
//
//	ExplorerLink(LinkTransaction, sig, "devnet") -> https://explorer.solana.com/tx/<sig>?cluster=devnet
func ExplorerLink(kind LinkKind, id string, network string) string {
	switch strings.ToLower(string(kind)) {
	case "transaction", "tx", "signature":
		kind = LinkTransaction
	case "block":
		kind = LinkBlock
	default:
		kind = LinkAddress
	}

	link := ExplorerBaseURL + "/" + string(kind) + "/" + url.PathEscape(id)

	switch strings.ToLower(network) {
	case "", "mainnet", "mainnet-beta":
		return link
	case "localnet", "localhost":
		return link + "?cluster=custom&customUrl=" + url.QueryEscape(NamedNetworks["localnet"].RPCURL)
	default:
		return link + "?cluster=" + url.QueryEscape(network)
	}
}
