package chain

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nftrarity/internal/models"
)

// fakeCaller answers ERC-721 calls from in-memory state
type fakeCaller struct {
	abi    abi.ABI
	supply int64
	owners map[int64]common.Address
	uris   map[int64]string
}

func (f *fakeCaller) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

func (f *fakeCaller) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	method, err := f.abi.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	if method.Name == "totalSupply" {
		return method.Outputs.Pack(big.NewInt(f.supply))
	}
	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}
	id := args[0].(*big.Int).Int64()
	switch method.Name {
	case "ownerOf":
		owner, ok := f.owners[id]
		if !ok {
			return nil, errors.New("execution reverted: invalid token ID")
		}
		return method.Outputs.Pack(owner)
	case "tokenURI":
		return method.Outputs.Pack(f.uris[id])
	}
	return nil, errors.New("unknown method")
}

func newFakeSource(t *testing.T) *ERC721Source {
	t.Helper()
	parsed, err := ParseERC721ABI()
	require.NoError(t, err)
	caller := &fakeCaller{
		abi:    parsed,
		supply: 2,
		owners: map[int64]common.Address{
			1: common.HexToAddress("0x34fb60d16D485cf35637041beF106a7B1EEFAb55"),
		},
		uris: map[int64]string{1: "ipfs://QmHash/1.json"},
	}
	src, err := NewERC721Source(caller, common.HexToAddress("0x0000000000000000000000000000000000000001"))
	require.NoError(t, err)
	return src
}

func TestERC721Source(t *testing.T) {
	src := newFakeSource(t)
	ctx := context.Background()

	supply, err := src.TotalSupply(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, supply)

	owner, err := src.OwnerOf(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "0x34fb60d16d485cf35637041bef106a7b1eefab55", owner)

	uri, err := src.TokenURI(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "ipfs://QmHash/1.json", uri)

	_, err = src.OwnerOf(ctx, 2)
	assert.ErrorContains(t, err, "ownerOf")
}

func TestResolveURI(t *testing.T) {
	assert.Equal(t, "https://ipfs.io/ipfs/QmHash/1.json", ResolveURI("ipfs://QmHash/1.json", DefaultIPFSGateway))
	assert.Equal(t, "https://gw.example/QmHash", ResolveURI("ipfs://ipfs/QmHash", "https://gw.example/"))
	assert.Equal(t, "https://example.com/1.json", ResolveURI("https://example.com/1.json", DefaultIPFSGateway))
}

func TestParseMetadata(t *testing.T) {
	md, err := ParseMetadata([]byte(`{
		"name": "Token #1",
		"image": "ipfs://img/1.png",
		"attributes": [
			{"trait_type": "Background", "value": "Red"},
			{"trait_type": "Level", "value": 5},
			{"trait_type": "Shiny", "value": true},
			{"value": "orphan"},
			{"trait_type": "Empty", "value": null}
		]
	}`))
	require.NoError(t, err)
	assert.Equal(t, "Token #1", md.Name)
	assert.Equal(t, "ipfs://img/1.png", md.Image)
	assert.Equal(t, []models.Attribute{
		{TraitType: "Background", Value: "Red"},
		{TraitType: "Level", Value: "5"},
		{TraitType: "Shiny", Value: "true"},
		{TraitType: "Empty", Value: ""},
	}, md.Attributes)

	md, err = ParseMetadata([]byte(`{"name":"bare"}`))
	require.NoError(t, err)
	assert.Empty(t, md.Attributes)

	_, err = ParseMetadata([]byte(`not json`))
	assert.Error(t, err)
}

func TestFetcherCachesDocuments(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"attributes":[{"trait_type":"Hat","value":"Cap"}]}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	fetcher, err := NewMetadataFetcher(srv.URL, time.Second, 16, dir, nil)
	require.NoError(t, err)
	ctx := context.Background()

	md, err := fetcher.Fetch(ctx, 1, "ipfs://doc")
	require.NoError(t, err)
	assert.Equal(t, []models.Attribute{{TraitType: "Hat", Value: "Cap"}}, md.Attributes)

	_, err = fetcher.Fetch(ctx, 1, "ipfs://doc")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	_, err = os.Stat(filepath.Join(dir, "1.json"))
	require.NoError(t, err)

	// a new fetcher reuses the disk copy
	fresh, err := NewMetadataFetcher(srv.URL, time.Second, 16, dir, nil)
	require.NoError(t, err)
	_, err = fresh.Fetch(ctx, 1, "ipfs://doc")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())

	_, err = fetcher.Fetch(ctx, 2, srv.URL+"/missing")
	assert.ErrorContains(t, err, "status 404")
}

func TestFetcherLogsDiskCacheWriteFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"attributes":[{"trait_type":"Hat","value":"Cap"}]}`))
	}))
	defer srv.Close()

	dir := t.TempDir()
	// a directory where the cache file should go makes the write fail
	require.NoError(t, os.Mkdir(filepath.Join(dir, "3.json"), 0o755))

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	fetcher, err := NewMetadataFetcher(srv.URL, time.Second, 16, dir, logger)
	require.NoError(t, err)

	md, err := fetcher.Fetch(context.Background(), 3, "ipfs://doc")
	require.NoError(t, err)
	assert.Equal(t, []models.Attribute{{TraitType: "Hat", Value: "Cap"}}, md.Attributes)

	assert.Contains(t, buf.String(), "metadata disk cache write failed")
	assert.Contains(t, buf.String(), `"token_id":3`)
}
