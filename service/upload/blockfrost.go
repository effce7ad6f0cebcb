package upload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/blockfrost/blockfrost-go"
)

// ipfsAPI is the part of the Blockfrost IPFS client the backend uses.
type ipfsAPI interface {
	Add(ctx context.Context, filePath string) (blockfrost.IPFSObject, error)
	Pin(ctx context.Context, path string) (blockfrost.IPFSPinnedObject, error)
}

// blockfrostBackend adds objects to IPFS through Blockfrost and pins them.
type blockfrostBackend struct {
	ipfs    ipfsAPI
	gateway string
}

func newBlockfrostBackend(projectID, gatewayURL string) (*blockfrostBackend, error) {
	if projectID == "" {
		return nil, fmt.Errorf("upload: Blockfrost IPFS project id is required for the ipfs backend")
	}
	if gatewayURL == "" {
		gatewayURL = "https://ipfs.blockfrost.dev/ipfs"
	}
	client := blockfrost.NewIPFSClient(blockfrost.IPFSClientOptions{
		ProjectID: projectID,
	})
	return &blockfrostBackend{
		ipfs:    client,
		gateway: strings.TrimRight(gatewayURL, "/"),
	}, nil
}

func (b *blockfrostBackend) name() string {
	return BackendIPFS
}

func (b *blockfrostBackend) put(ctx context.Context, id string, f File, signer string) (string, error) {
	// The client uploads from disk.
	dir, err := os.MkdirTemp("", "ledgerlab-ipfs-*")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	name := filepath.Base(f.Name)
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = id
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, f.Data, 0o600); err != nil {
		return "", err
	}

	obj, err := b.ipfs.Add(ctx, path)
	if err != nil {
		return "", fmt.Errorf("ipfs add: %w", err)
	}
	if obj.IPFSHash == "" {
		return "", fmt.Errorf("ipfs add: empty hash in response")
	}

	if _, err := b.ipfs.Pin(ctx, obj.IPFSHash); err != nil {
		return "", fmt.Errorf("ipfs pin %s: %w", obj.IPFSHash, err)
	}

	return b.gateway + "/" + obj.IPFSHash, nil
}
