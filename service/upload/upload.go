// Package upload stores NFT images and metadata documents and returns the
// URI a token's metadata can point at.
package upload

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/brojonat/ledgerlab/service/metrics"
	"github.com/brojonat/ledgerlab/service/solana"
	"github.com/mr-tron/base58"
)

// Backends.
const (
	BackendFilesystem = "filesystem"
	BackendIPFS       = "ipfs"
)

// Config selects and configures the storage backend explicitly; there is no
// registry of uploaders.
type Config struct {
	Backend string

	// Signer is the identity the upload is made on behalf of. It is recorded
	// with each stored object; its secret is never used or stored.
	Signer *solana.Identity

	// Filesystem backend
	Dir     string
	BaseURL string

	// IPFS backend
	IPFSProjectID string
	GatewayURL    string
}

// File is one object to upload.
type File struct {
	Name        string
	ContentType string // detected from Name or content when empty
	Data        []byte
}

// Uploader stores files and returns their public URIs.
type Uploader interface {
	// Upload stores every file and returns their URIs in the same order.
	Upload(ctx context.Context, files ...File) ([]string, error)

	// UploadJSON marshals v and stores it as application/json.
	UploadJSON(ctx context.Context, v any) (string, error)
}

// backend stores a single object under a content-derived id.
type backend interface {
	name() string
	put(ctx context.Context, id string, f File, signer string) (string, error)
}

type uploader struct {
	backend backend
	signer  *solana.Identity
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New builds the uploader for cfg.Backend. If m is nil, no metrics are recorded.
func New(cfg Config, logger *slog.Logger, m *metrics.Metrics) (Uploader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Signer == nil {
		return nil, fmt.Errorf("upload: signer identity is required")
	}

	var b backend
	var err error
	switch cfg.Backend {
	case BackendFilesystem, "":
		b, err = newFilesystemBackend(cfg.Dir, cfg.BaseURL)
	case BackendIPFS:
		b, err = newBlockfrostBackend(cfg.IPFSProjectID, cfg.GatewayURL)
	default:
		err = fmt.Errorf("upload: unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	return newUploader(b, cfg.Signer, m, logger), nil
}

func newUploader(b backend, signer *solana.Identity, m *metrics.Metrics, logger *slog.Logger) *uploader {
	return &uploader{
		backend: b,
		signer:  signer,
		metrics: m,
		logger:  logger.With("component", "uploader", "backend", b.name()),
	}
}

func (u *uploader) Upload(ctx context.Context, files ...File) ([]string, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("upload: no files given")
	}

	uris := make([]string, 0, len(files))
	for _, f := range files {
		uri, err := u.uploadOne(ctx, f)
		if err != nil {
			return nil, err
		}
		uris = append(uris, uri)
	}
	return uris, nil
}

func (u *uploader) UploadJSON(ctx context.Context, v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("upload: failed to marshal json: %w", err)
	}
	uris, err := u.Upload(ctx, File{
		Name:        "metadata.json",
		ContentType: "application/json",
		Data:        data,
	})
	if err != nil {
		return "", err
	}
	return uris[0], nil
}

func (u *uploader) uploadOne(ctx context.Context, f File) (string, error) {
	if len(f.Data) == 0 {
		return "", fmt.Errorf("upload: %q is empty", f.Name)
	}
	if f.ContentType == "" {
		f.ContentType = DetectContentType(f.Name, f.Data)
	}

	start := time.Now()
	id := ContentID(f.Data)
	uri, err := u.backend.put(ctx, id, f, u.signer.String())
	if u.metrics != nil {
		u.metrics.RecordUpload(u.backend.name(), len(f.Data), time.Since(start).Seconds(), err)
	}
	if err != nil {
		u.logger.ErrorContext(ctx, "upload failed",
			"name", f.Name,
			"error", err,
		)
		return "", fmt.Errorf("upload: failed to store %q: %w", f.Name, err)
	}

	u.logger.InfoContext(ctx, "uploaded",
		"name", f.Name,
		"content_type", f.ContentType,
		"bytes", len(f.Data),
		"uri", uri,
		"signer", u.signer,
	)
	return uri, nil
}

// ContentID is the base58 sha256 digest of data.
func ContentID(data []byte) string {
	sum := sha256.Sum256(data)
	return base58.Encode(sum[:])
}

// DetectContentType guesses the MIME type from the file extension, falling
// back to sniffing the content.
func DetectContentType(name string, data []byte) string {
	if ext := strings.ToLower(filepath.Ext(name)); ext != "" {
		if ct := mime.TypeByExtension(ext); ct != "" {
			return ct
		}
	}
	return http.DetectContentType(data)
}
