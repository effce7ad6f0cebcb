// Package nft loads NFT definitions and renders the off-chain metadata
// document a Metaplex token's URI points at.
package nft

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/brojonat/ledgerlab/service/solana"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

const defaultImageType = "image/png"

// Definition is the YAML description of an NFT.
type Definition struct {
	Name                 string      `yaml:"name"`
	Symbol               string      `yaml:"symbol"`
	Description          string      `yaml:"description"`
	Image                string      `yaml:"image"`
	ExternalURL          string      `yaml:"external_url"`
	SellerFeeBasisPoints uint16      `yaml:"seller_fee_basis_points"`
	Attributes           []Attribute `yaml:"attributes"`
	Files                []FileRef   `yaml:"files"`
}

// Attribute is a trait shown by wallets and marketplaces.
type Attribute struct {
	TraitType string `yaml:"trait_type" json:"trait_type"`
	Value     string `yaml:"value" json:"value"`
}

// FileRef points at one asset of the NFT.
type FileRef struct {
	URI  string `yaml:"uri" json:"uri"`
	Type string `yaml:"type" json:"type"`
}

// Metadata is the JSON document stored off chain, in the Metaplex token
// standard layout.
type Metadata struct {
	Name                 string      `json:"name"`
	Symbol               string      `json:"symbol"`
	Description          string      `json:"description,omitempty"`
	SellerFeeBasisPoints uint16      `json:"seller_fee_basis_points"`
	Image                string      `json:"image"`
	ExternalURL          string      `json:"external_url,omitempty"`
	Attributes           []Attribute `json:"attributes,omitempty"`
	Properties           Properties  `json:"properties"`
}

// Properties lists the NFT's files.
type Properties struct {
	Category string    `json:"category,omitempty"`
	Files    []FileRef `json:"files"`
}

// LoadDefinition reads and validates a definition file.
func LoadDefinition(filename string) (*Definition, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open definition: %w", err)
	}
	defer f.Close()

	def, err := ParseDefinition(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return def, nil
}

// ParseDefinition decodes a definition, rejecting unknown fields. Text fields
// are NFC normalized so the on-chain byte limits apply to a stable encoding.
func ParseDefinition(r io.Reader) (*Definition, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var def Definition
	if err := dec.Decode(&def); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("definition is empty")
		}
		return nil, fmt.Errorf("failed to parse definition: %w", err)
	}

	def.Name = norm.NFC.String(def.Name)
	def.Symbol = norm.NFC.String(def.Symbol)
	def.Description = norm.NFC.String(def.Description)
	for i := range def.Attributes {
		def.Attributes[i].TraitType = norm.NFC.String(def.Attributes[i].TraitType)
		def.Attributes[i].Value = norm.NFC.String(def.Attributes[i].Value)
	}
	return &def, nil
}

// ParseDefinitionBytes is ParseDefinition over a byte slice.
func ParseDefinitionBytes(data []byte) (*Definition, error) {
	return ParseDefinition(bytes.NewReader(data))
}

// Validate checks the definition against the on-chain metadata limits.
// The image may be empty until it has been uploaded.
func (d *Definition) Validate() error {
	var errs []error

	if strings.TrimSpace(d.Name) == "" {
		errs = append(errs, fmt.Errorf("name is required"))
	}
	if len(d.Name) > solana.MaxNameLength {
		errs = append(errs, fmt.Errorf("name is %d bytes, max %d", len(d.Name), solana.MaxNameLength))
	}
	if len(d.Symbol) > solana.MaxSymbolLength {
		errs = append(errs, fmt.Errorf("symbol is %d bytes, max %d", len(d.Symbol), solana.MaxSymbolLength))
	}
	if d.SellerFeeBasisPoints > solana.MaxSellerFeeBasisPoints {
		errs = append(errs, fmt.Errorf("seller_fee_basis_points %d exceeds %d", d.SellerFeeBasisPoints, solana.MaxSellerFeeBasisPoints))
	}
	if d.Image != "" {
		if err := checkURI(d.Image); err != nil {
			errs = append(errs, fmt.Errorf("image: %w", err))
		}
	}
	if d.ExternalURL != "" {
		if err := checkURI(d.ExternalURL); err != nil {
			errs = append(errs, fmt.Errorf("external_url: %w", err))
		}
	}
	for i, attr := range d.Attributes {
		if strings.TrimSpace(attr.TraitType) == "" {
			errs = append(errs, fmt.Errorf("attribute %d: trait_type is required", i))
		}
	}
	for i, f := range d.Files {
		if err := checkURI(f.URI); err != nil {
			errs = append(errs, fmt.Errorf("file %d: %w", i, err))
		}
	}

	return errors.Join(errs...)
}

// Metadata renders the off-chain document. Without explicit files the image
// is listed as the only file.
func (d *Definition) Metadata() (*Metadata, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if d.Image == "" {
		return nil, fmt.Errorf("image is required")
	}

	files := make([]FileRef, 0, len(d.Files)+1)
	for _, f := range d.Files {
		if f.Type == "" {
			f.Type = typeFromURI(f.URI)
		}
		files = append(files, f)
	}
	if len(files) == 0 {
		files = append(files, FileRef{URI: d.Image, Type: typeFromURI(d.Image)})
	}

	return &Metadata{
		Name:                 d.Name,
		Symbol:               d.Symbol,
		Description:          d.Description,
		SellerFeeBasisPoints: d.SellerFeeBasisPoints,
		Image:                d.Image,
		ExternalURL:          d.ExternalURL,
		Attributes:           d.Attributes,
		Properties: Properties{
			Category: category(files[0].Type),
			Files:    files,
		},
	}, nil
}

// TokenMetadata returns the on-chain metadata for a token whose off-chain
// document lives at uri.
func (d *Definition) TokenMetadata(uri string) (solana.TokenMetadata, error) {
	md := solana.TokenMetadata{
		Name:                 d.Name,
		Symbol:               d.Symbol,
		URI:                  uri,
		SellerFeeBasisPoints: d.SellerFeeBasisPoints,
		IsMutable:            true,
	}
	if err := md.Validate(); err != nil {
		return solana.TokenMetadata{}, err
	}
	return md, nil
}

func checkURI(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme == "" || (u.Host == "" && u.Scheme != "ipfs" && u.Scheme != "ar") {
		return fmt.Errorf("%q is not an absolute URI", s)
	}
	return nil
}

func typeFromURI(s string) string {
	u, err := url.Parse(s)
	if err != nil {
		return defaultImageType
	}
	if ext := strings.ToLower(path.Ext(u.Path)); ext != "" {
		if ct := mime.TypeByExtension(ext); ct != "" {
			// Drop parameters such as "; charset=utf-8".
			if i := strings.IndexByte(ct, ';'); i >= 0 {
				ct = strings.TrimSpace(ct[:i])
			}
			return ct
		}
	}
	return defaultImageType
}

func category(contentType string) string {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return "image"
	case strings.HasPrefix(contentType, "video/"):
		return "video"
	case strings.HasPrefix(contentType, "audio/"):
		return "audio"
	case strings.HasPrefix(contentType, "model/"):
		return "vr"
	default:
		return ""
	}
}
