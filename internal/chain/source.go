// Package chain reads the ERC-721 collection and its off-chain metadata.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
)

// erc721ABI covers the three read methods the indexer needs
const erc721ABI = `[
	{"inputs":[],"name":"totalSupply","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"uint256","name":"tokenId","type":"uint256"}],"name":"tokenURI","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"uint256","name":"tokenId","type":"uint256"}],"name":"ownerOf","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"}
]`

// Source is the on-chain view of the collection
type Source interface {
	TotalSupply(ctx context.Context) (int, error)
	OwnerOf(ctx context.Context, tokenID int) (string, error)
	TokenURI(ctx context.Context, tokenID int) (string, error)
}

// ERC721Source reads an ERC-721 contract through a JSON-RPC node
type ERC721Source struct {
	contract *bind.BoundContract
	closer   func()
}

// ParseERC721ABI returns the parsed read-only ABI
func ParseERC721ABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(erc721ABI))
}

// NewERC721Source binds the contract at address to caller
func NewERC721Source(caller bind.ContractCaller, address common.Address) (*ERC721Source, error) {
	parsed, err := ParseERC721ABI()
	if err != nil {
		return nil, fmt.Errorf("parse erc721 abi: %w", err)
	}
	return &ERC721Source{
		contract: bind.NewBoundContract(address, parsed, caller, nil, nil),
	}, nil
}

// DialERC721 connects to rpcURL and binds the contract
func DialERC721(ctx context.Context, rpcURL, contract string) (*ERC721Source, error) {
	if !common.IsHexAddress(contract) {
		return nil, fmt.Errorf("invalid contract address %q", contract)
	}
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}
	src, err := NewERC721Source(client, common.HexToAddress(contract))
	if err != nil {
		client.Close()
		return nil, err
	}
	src.closer = client.Close
	return src, nil
}

// Close releases the RPC connection, if owned
func (s *ERC721Source) Close() {
	if s.closer != nil {
		s.closer()
	}
}

func (s *ERC721Source) call(ctx context.Context, method string, args ...interface{}) (interface{}, error) {
	var out []interface{}
	if err := s.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%s: expected 1 output, got %d", method, len(out))
	}
	return out[0], nil
}

func (s *ERC721Source) TotalSupply(ctx context.Context) (int, error) {
	v, err := s.call(ctx, "totalSupply")
	if err != nil {
		return 0, err
	}
	n, ok := v.(*big.Int)
	if !ok || !n.IsInt64() {
		return 0, fmt.Errorf("totalSupply: unexpected value %v", v)
	}
	return int(n.Int64()), nil
}

func (s *ERC721Source) OwnerOf(ctx context.Context, tokenID int) (string, error) {
	v, err := s.call(ctx, "ownerOf", big.NewInt(int64(tokenID)))
	if err != nil {
		return "", err
	}
	addr, ok := v.(common.Address)
	if !ok {
		return "", fmt.Errorf("ownerOf: unexpected value %v", v)
	}
	return strings.ToLower(addr.Hex()), nil
}

func (s *ERC721Source) TokenURI(ctx context.Context, tokenID int) (string, error) {
	v, err := s.call(ctx, "tokenURI", big.NewInt(int64(tokenID)))
	if err != nil {
		return "", err
	}
	uri, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("tokenURI: unexpected value %v", v)
	}
	return uri, nil
}
