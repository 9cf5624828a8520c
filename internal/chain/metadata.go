package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"nftrarity/internal/models"
)

const (
	// DefaultIPFSGateway replaces the ipfs:// scheme
	DefaultIPFSGateway = "https://ipfs.io/ipfs/"

	maxMetadataBytes = 1 << 20
)

// Metadata is the subset of an ERC-721 metadata document we use
type Metadata struct {
	Name       string
	Image      string
	Attributes []models.Attribute
}

type rawMetadata struct {
	Name       string `json:"name"`
	Image      string `json:"image"`
	Attributes []struct {
		TraitType string          `json:"trait_type"`
		Value     json.RawMessage `json:"value"`
	} `json:"attributes"`
}

// MetadataFetcher downloads token metadata over HTTP(S)
type MetadataFetcher struct {
	gateway    string
	httpClient *http.Client
	cache      *lru.Cache
	cacheDir   string
	logger     *slog.Logger
}

// NewMetadataFetcher creates a fetcher. cacheSize bounds the in-memory cache;
// cacheDir, when set, keeps a copy of every document on disk.
func NewMetadataFetcher(gateway string, timeout time.Duration, cacheSize int, cacheDir string, logger *slog.Logger) (*MetadataFetcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if gateway == "" {
		gateway = DefaultIPFSGateway
	}
	if !strings.HasSuffix(gateway, "/") {
		gateway += "/"
	}
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	if cacheDir != "" {
		if err := os.MkdirAll(cacheDir, 0o755); err != nil {
			return nil, fmt.Errorf("create metadata cache dir: %w", err)
		}
	}
	return &MetadataFetcher{
		gateway:    gateway,
		httpClient: &http.Client{Timeout: timeout},
		cache:      cache,
		cacheDir:   cacheDir,
		logger:     logger,
	}, nil
}

// ResolveURI rewrites ipfs:// URIs onto gateway
func ResolveURI(uri, gateway string) string {
	if strings.HasPrefix(uri, "ipfs://") {
		rest := strings.TrimPrefix(uri, "ipfs://")
		rest = strings.TrimPrefix(rest, "ipfs/")
		return gateway + rest
	}
	return uri
}

// Fetch returns the metadata for a token
func (f *MetadataFetcher) Fetch(ctx context.Context, tokenID int, tokenURI string) (*Metadata, error) {
	url := ResolveURI(tokenURI, f.gateway)
	if cached, ok := f.cache.Get(url); ok {
		return cached.(*Metadata), nil
	}

	body, err := f.readDisk(tokenID)
	if err != nil || body == nil {
		body, err = f.download(ctx, url)
		if err != nil {
			return nil, err
		}
		f.writeDisk(tokenID, body)
	}

	md, err := ParseMetadata(body)
	if err != nil {
		return nil, fmt.Errorf("token %d: %w", tokenID, err)
	}
	f.cache.Add(url, md)
	return md, nil
}

func (f *MetadataFetcher) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("metadata %s: status %d", url, resp.StatusCode)
	}
	return body, nil
}

func (f *MetadataFetcher) diskPath(tokenID int) string {
	return filepath.Join(f.cacheDir, strconv.Itoa(tokenID)+".json")
}

func (f *MetadataFetcher) readDisk(tokenID int) ([]byte, error) {
	if f.cacheDir == "" {
		return nil, nil
	}
	body, err := os.ReadFile(f.diskPath(tokenID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	return body, err
}

func (f *MetadataFetcher) writeDisk(tokenID int, body []byte) {
	if f.cacheDir == "" {
		return
	}
	// a failed write only costs a download on the next run
	if err := os.WriteFile(f.diskPath(tokenID), body, 0o644); err != nil {
		f.logger.Warn("metadata disk cache write failed", "token_id", tokenID, "error", err)
	}
}

// ParseMetadata decodes a metadata document. Non-string attribute values
// are kept in their JSON text form, so 5 becomes "5" and true becomes "true".
func ParseMetadata(body []byte) (*Metadata, error) {
	var raw rawMetadata
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}

	md := &Metadata{Name: raw.Name, Image: raw.Image}
	for _, a := range raw.Attributes {
		if a.TraitType == "" {
			continue
		}
		md.Attributes = append(md.Attributes, models.Attribute{
			TraitType: a.TraitType,
			Value:     stringifyValue(a.Value),
		})
	}
	return md, nil
}

func stringifyValue(v json.RawMessage) string {
	v = bytes.TrimSpace(v)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	return string(v)
}
