package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// filesystemBackend writes objects to a directory served at BaseURL. Each
// object gets a sidecar "<id>.meta.json" describing it.
type filesystemBackend struct {
	dir     string
	baseURL string
}

type objectMeta struct {
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	Size        int       `json:"size"`
	UploadedBy  string    `json:"uploaded_by"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

func newFilesystemBackend(dir, baseURL string) (*filesystemBackend, error) {
	if dir == "" {
		return nil, fmt.Errorf("upload: directory is required for the filesystem backend")
	}
	if baseURL == "" {
		return nil, fmt.Errorf("upload: base URL is required for the filesystem backend")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("upload: invalid base URL: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("upload: failed to create %s: %w", dir, err)
	}
	return &filesystemBackend{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

func (b *filesystemBackend) name() string {
	return BackendFilesystem
}

func (b *filesystemBackend) put(ctx context.Context, id string, f File, signer string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	filename := id + strings.ToLower(filepath.Ext(f.Name))
	path := filepath.Join(b.dir, filename)

	// Content addressed: an existing object already holds these bytes.
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if err := writeFileAtomic(path, f.Data); err != nil {
			return "", err
		}
	} else if err != nil {
		return "", err
	}

	meta, err := json.MarshalIndent(objectMeta{
		Name:        f.Name,
		ContentType: f.ContentType,
		Size:        len(f.Data),
		UploadedBy:  signer,
		UploadedAt:  time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return "", err
	}
	if err := writeFileAtomic(path+".meta.json", meta); err != nil {
		return "", err
	}

	return b.baseURL + "/" + url.PathEscape(filename), nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	// Objects must stay readable by whatever serves the directory.
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
