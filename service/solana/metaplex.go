package solana

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Token metadata limits enforced by the metadata program.
const (
	MaxNameLength           = 32
	MaxSymbolLength         = 10
	MaxURILength            = 200
	MaxCreators             = 5
	MaxSellerFeeBasisPoints = 10000
)

const (
	metadataInstructionCreateMasterEditionV3   = 17
	metadataInstructionCreateMetadataAccountV3 = 33
)

// Creator is a verified or unverified co-creator share of an NFT.
type Creator struct {
	Address  solana.PublicKey
	Verified bool
	Share    uint8
}

// Collection links the NFT to a collection mint.
type Collection struct {
	Verified bool
	Key      solana.PublicKey
}

// TokenMetadata is the on-chain metadata written by CreateMetadataAccountV3.
type TokenMetadata struct {
	Name                 string
	Symbol               string
	URI                  string
	SellerFeeBasisPoints uint16
	Creators             []Creator
	Collection           *Collection
	IsMutable            bool
}

// Validate checks the limits the metadata program enforces, so bad input fails
// before any network call.
func (m TokenMetadata) Validate() error {
	const op = "validate metadata"
	switch {
	case m.Name == "":
		return configError(op, "name is required", nil)
	case len(m.Name) > MaxNameLength:
		return configError(op, fmt.Sprintf("name exceeds %d bytes", MaxNameLength), nil)
	case len(m.Symbol) > MaxSymbolLength:
		return configError(op, fmt.Sprintf("symbol exceeds %d bytes", MaxSymbolLength), nil)
	case m.URI == "":
		return configError(op, "uri is required", nil)
	case len(m.URI) > MaxURILength:
		return configError(op, fmt.Sprintf("uri exceeds %d bytes", MaxURILength), nil)
	case m.SellerFeeBasisPoints > MaxSellerFeeBasisPoints:
		return configError(op, fmt.Sprintf("seller fee %d exceeds %d basis points", m.SellerFeeBasisPoints, MaxSellerFeeBasisPoints), nil)
	case len(m.Creators) > MaxCreators:
		return configError(op, fmt.Sprintf("at most %d creators are allowed", MaxCreators), nil)
	}
	if !utf8.ValidString(m.Name) || !utf8.ValidString(m.Symbol) {
		return configError(op, "name and symbol must be valid UTF-8", nil)
	}
	if len(m.Creators) > 0 {
		var total int
		for _, c := range m.Creators {
			total += int(c.Share)
		}
		if total != 100 {
			return configError(op, fmt.Sprintf("creator shares must add up to 100, got %d", total), nil)
		}
	}
	return nil
}

// borsh layouts of the metadata program arguments.
type dataV2 struct {
	Name                 string
	Symbol               string
	URI                  string
	SellerFeeBasisPoints uint16
	Creators             *[]creatorData  `bin:"optional"`
	Collection           *collectionData `bin:"optional"`
	Uses                 *usesData       `bin:"optional"`
}

type creatorData struct {
	Address  solana.PublicKey
	Verified bool
	Share    uint8
}

type collectionData struct {
	Verified bool
	Key      solana.PublicKey
}

type usesData struct {
	UseMethod uint8
	Remaining uint64
	Total     uint64
}

type createMetadataAccountArgsV3 struct {
	Data              dataV2
	IsMutable         bool
	CollectionDetails *collectionDetails `bin:"optional"`
}

type collectionDetails struct {
	Variant uint8
	Size    uint64
}

type createMasterEditionArgs struct {
	MaxSupply *uint64 `bin:"optional"`
}

// MetadataAddress derives the metadata account of mint.
func MetadataAddress(mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindTokenMetadataAddress(mint)
	if err != nil {
		return solana.PublicKey{}, configError("derive metadata account", "failed to derive metadata address", err)
	}
	return addr, nil
}

// MasterEditionAddress derives the master edition account of mint.
func MasterEditionAddress(mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{
			[]byte("metadata"),
			solana.TokenMetadataProgramID.Bytes(),
			mint.Bytes(),
			[]byte("edition"),
		},
		solana.TokenMetadataProgramID,
	)
	if err != nil {
		return solana.PublicKey{}, configError("derive edition account", "failed to derive master edition address", err)
	}
	return addr, nil
}

func encodeBorsh(tag uint8, args interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	if err := enc.WriteUint8(tag); err != nil {
		return nil, err
	}
	if err := enc.Encode(args); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CreateMetadataAccountV3 attaches token metadata to mint. mintAuthority, payer
// and updateAuthority must sign.
func CreateMetadataAccountV3(md TokenMetadata, mint, mintAuthority, payer, updateAuthority solana.PublicKey) (solana.Instruction, error) {
	if err := md.Validate(); err != nil {
		return nil, err
	}
	metadata, err := MetadataAddress(mint)
	if err != nil {
		return nil, err
	}

	args := createMetadataAccountArgsV3{
		Data: dataV2{
			Name:                 md.Name,
			Symbol:               md.Symbol,
			URI:                  md.URI,
			SellerFeeBasisPoints: md.SellerFeeBasisPoints,
		},
		IsMutable: md.IsMutable,
	}
	if len(md.Creators) > 0 {
		creators := make([]creatorData, len(md.Creators))
		for i, c := range md.Creators {
			creators[i] = creatorData(c)
		}
		args.Data.Creators = &creators
	}
	if md.Collection != nil {
		args.Data.Collection = &collectionData{Verified: md.Collection.Verified, Key: md.Collection.Key}
	}

	data, err := encodeBorsh(metadataInstructionCreateMetadataAccountV3, args)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata instruction: %w", err)
	}

	accounts := solana.AccountMetaSlice{
		solana.Meta(metadata).WRITE(),
		solana.Meta(mint),
		solana.Meta(mintAuthority).SIGNER(),
		solana.Meta(payer).WRITE().SIGNER(),
		solana.Meta(updateAuthority).SIGNER(),
		solana.Meta(solana.SystemProgramID),
		solana.Meta(solana.SysVarRentPubkey),
	}
	return solana.NewInstruction(solana.TokenMetadataProgramID, accounts, data), nil
}

// CreateMasterEditionV3 turns a 0-decimal, supply-1 mint into a master edition.
// A nil maxSupply allows unlimited prints; zero forbids prints.
func CreateMasterEditionV3(mint, updateAuthority, mintAuthority, payer solana.PublicKey, maxSupply *uint64) (solana.Instruction, error) {
	edition, err := MasterEditionAddress(mint)
	if err != nil {
		return nil, err
	}
	metadata, err := MetadataAddress(mint)
	if err != nil {
		return nil, err
	}

	data, err := encodeBorsh(metadataInstructionCreateMasterEditionV3, createMasterEditionArgs{MaxSupply: maxSupply})
	if err != nil {
		return nil, fmt.Errorf("failed to encode master edition instruction: %w", err)
	}

	accounts := solana.AccountMetaSlice{
		solana.Meta(edition).WRITE(),
		solana.Meta(mint).WRITE(),
		solana.Meta(updateAuthority).SIGNER(),
		solana.Meta(mintAuthority).SIGNER(),
		solana.Meta(payer).WRITE().SIGNER(),
		solana.Meta(metadata).WRITE(),
		solana.Meta(solana.TokenProgramID),
		solana.Meta(solana.SystemProgramID),
		solana.Meta(solana.SysVarRentPubkey),
	}
	return solana.NewInstruction(solana.TokenMetadataProgramID, accounts, data), nil
}

// NFTRequest describes a one-of-one NFT to create.
type NFTRequest struct {
	Payer     solana.PublicKey
	Mint      solana.PublicKey
	Owner     solana.PublicKey
	Metadata  TokenMetadata
	MaxSupply *uint64
}

// CreateNFTInstructions returns the full instruction list for a new NFT: the
// mint account, the owner's token account, a single minted token, metadata and
// a master edition. rentLamports funds the mint account. Payer and Mint sign.
func CreateNFTInstructions(req NFTRequest, rentLamports uint64) ([]solana.Instruction, error) {
	if err := req.Metadata.Validate(); err != nil {
		return nil, err
	}
	ata, err := AssociatedTokenAddress(req.Owner, req.Mint)
	if err != nil {
		return nil, err
	}

	ixs := CreateMintInstructions(req.Payer, req.Mint, req.Payer, &req.Payer, 0, rentLamports)
	ixs = append(ixs,
		CreateAssociatedTokenAccount(req.Payer, req.Owner, req.Mint),
		MintTo(req.Mint, ata, req.Payer, 1),
	)

	metadata, err := CreateMetadataAccountV3(req.Metadata, req.Mint, req.Payer, req.Payer, req.Payer)
	if err != nil {
		return nil, err
	}
	edition, err := CreateMasterEditionV3(req.Mint, req.Payer, req.Payer, req.Payer, req.MaxSupply)
	if err != nil {
		return nil, err
	}
	return append(ixs, metadata, edition), nil
}
