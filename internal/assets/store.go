package assets

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/mirrorlab/sitemirror/internal/crawler"
)

// Config captures the parameters for the asset store.
type Config struct {
	// Dir is the snapshot area assets are written under, split into
	// images/ and files/ subdirectories by kind.
	Dir string
	// MaxBytes caps a single asset download.
	MaxBytes int64
	// Timeout bounds one download request.
	Timeout time.Duration
	// UserAgent is sent on download requests.
	UserAgent string
}

const (
	defaultMaxBytes = int64(10 << 20)
	defaultTimeout  = 30 * time.Second
)

var mimeExtensions = map[string]string{
	"image/jpeg":         ".jpg",
	"image/png":          ".png",
	"image/gif":          ".gif",
	"image/webp":         ".webp",
	"image/svg+xml":      ".svg",
	"application/pdf":    ".pdf",
	"application/msword": ".doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
	"application/vnd.ms-excel": ".xls",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": ".xlsx",
	"application/zip": ".zip",
	"text/plain":      ".txt",
}

// Store is the content-addressed asset store for one crawl run. Assets are
// keyed by content digest, never by URL; the same bytes served from two
// URLs yield one file, one sidecar, one record.
type Store struct {
	cfg    Config
	client *http.Client
	hasher crawler.Hasher
	clock  crawler.Clock

	mu       sync.RWMutex
	assets   map[string]crawler.Asset
	inflight map[string]*sync.Mutex
}

// NewStore creates the store and its directory.
func NewStore(cfg Config, hasher crawler.Hasher, clk crawler.Clock) (*Store, error) {
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, fmt.Errorf("asset directory is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	if clk == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	for _, kind := range []crawler.AssetKind{crawler.AssetKindImage, crawler.AssetKindFile} {
		if err := os.MkdirAll(filepath.Join(cfg.Dir, kindDir(kind)), 0o750); err != nil {
			return nil, fmt.Errorf("create asset directory: %w", err)
		}
	}
	return &Store{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		hasher:   hasher,
		clock:    clk,
		assets:   make(map[string]crawler.Asset),
		inflight: make(map[string]*sync.Mutex),
	}, nil
}

// Ensure downloads ref if its content digest is new and returns the stored
// Asset. Safe for concurrent use; two calls resolving to the same digest
// produce one file and one sidecar, with the loser discarding its bytes.
func (s *Store) Ensure(ctx context.Context, ref crawler.AssetRef) (crawler.Asset, error) {
	data, mimeType, err := s.download(ctx, ref.URL)
	if err != nil {
		return crawler.Asset{}, err
	}
	digest, err := s.hasher.Short(data)
	if err != nil {
		return crawler.Asset{}, fmt.Errorf("digest asset %s: %w", ref.URL, err)
	}

	if existing, ok := s.Lookup(digest); ok {
		return existing, nil
	}

	// Flight locks serialize writers per digest. Entries live for the run;
	// the store is run-scoped, so the map stays small.
	flight := s.flightFor(digest)
	flight.Lock()
	defer flight.Unlock()

	if existing, ok := s.Lookup(digest); ok {
		return existing, nil
	}

	asset, err := s.persist(ref, digest, data, mimeType)
	if err != nil {
		return crawler.Asset{}, err
	}

	s.mu.Lock()
	s.assets[digest] = asset
	s.mu.Unlock()
	return asset, nil
}

// Lookup returns the Asset stored under hash, if any.
func (s *Store) Lookup(hash string) (crawler.Asset, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	asset, ok := s.assets[hash]
	return asset, ok
}

// SetAltText is the only post-store mutation. It updates the record and
// rewrites the sidecar.
func (s *Store) SetAltText(hash string, text string, origin crawler.AltTextOrigin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	asset, ok := s.assets[hash]
	if !ok {
		return fmt.Errorf("%w: %s", crawler.ErrAssetNotFound, hash)
	}
	asset.AltText = text
	asset.AltTextOrigin = origin
	if err := s.writeSidecar(asset); err != nil {
		return err
	}
	s.assets[hash] = asset
	return nil
}

func (s *Store) flightFor(digest string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	flight, ok := s.inflight[digest]
	if !ok {
		flight = &sync.Mutex{}
		s.inflight[digest] = flight
	}
	return flight
}

func (s *Store) download(ctx context.Context, rawURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", &crawler.DownloadError{URL: rawURL, Err: err}
	}
	if s.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", s.cfg.UserAgent)
	}
	req.Header.Set("Accept", "*/*")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", &crawler.DownloadError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", &crawler.DownloadError{URL: rawURL, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.cfg.MaxBytes+1))
	if err != nil {
		return nil, "", &crawler.DownloadError{URL: rawURL, Err: err}
	}
	if int64(len(data)) > s.cfg.MaxBytes {
		return nil, "", &crawler.DownloadError{URL: rawURL, Err: fmt.Errorf("exceeds %d byte cap", s.cfg.MaxBytes)}
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	if cut, _, found := strings.Cut(mimeType, ";"); found {
		mimeType = cut
	}
	return data, strings.ToLower(strings.TrimSpace(mimeType)), nil
}

func (s *Store) persist(ref crawler.AssetRef, digest string, data []byte, mimeType string) (crawler.Asset, error) {
	filename := digest + extensionFor(mimeType, ref.URL)
	dir := filepath.Join(s.cfg.Dir, kindDir(ref.Kind))
	finalPath := filepath.Join(dir, filename)

	nonce, err := randomNonce()
	if err != nil {
		return crawler.Asset{}, fmt.Errorf("temp nonce: %w", err)
	}
	tmpPath := filepath.Join(dir, fmt.Sprintf(".tmp-%s-%s", digest, nonce))
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return crawler.Asset{}, fmt.Errorf("write temp asset: %w", err)
	}
	written, err := os.ReadFile(tmpPath)
	if err != nil {
		_ = os.Remove(tmpPath)
		return crawler.Asset{}, fmt.Errorf("read back temp asset: %w", err)
	}
	check, err := s.hasher.Short(written)
	if err != nil {
		_ = os.Remove(tmpPath)
		return crawler.Asset{}, fmt.Errorf("digest temp asset: %w", err)
	}
	if check != digest {
		_ = os.Remove(tmpPath)
		return crawler.Asset{}, &crawler.IntegrityError{Hash: digest, Expected: digest, Computed: check}
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return crawler.Asset{}, fmt.Errorf("finalize asset: %w", err)
	}

	asset := crawler.Asset{
		Hash:         digest,
		Kind:         ref.Kind,
		Filename:     filename,
		SourceURL:    ref.URL,
		LocalPath:    finalPath,
		ByteSize:     int64(len(data)),
		MimeType:     mimeType,
		DownloadedAt: s.clock.Now(),
	}
	if ref.Kind == crawler.AssetKindImage {
		if imgCfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
			asset.Width = imgCfg.Width
			asset.Height = imgCfg.Height
		}
		if strings.TrimSpace(ref.AltText) != "" {
			asset.AltText = ref.AltText
			asset.AltTextOrigin = crawler.AltTextOriginal
		} else {
			asset.AltTextOrigin = crawler.AltTextMissing
		}
	}
	if err := s.writeSidecar(asset); err != nil {
		return crawler.Asset{}, err
	}
	return asset, nil
}

func (s *Store) writeSidecar(asset crawler.Asset) error {
	payload, err := json.MarshalIndent(asset, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal asset sidecar: %w", err)
	}
	sidecarPath := filepath.Join(s.cfg.Dir, kindDir(asset.Kind), asset.Hash+".json")
	if err := os.WriteFile(sidecarPath, payload, 0o600); err != nil {
		return fmt.Errorf("write asset sidecar: %w", err)
	}
	return nil
}

func kindDir(kind crawler.AssetKind) string {
	if kind == crawler.AssetKindFile {
		return "files"
	}
	return "images"
}

// extensionFor maps the MIME type to a file extension, falling back to the
// source URL's path extension, then .bin.
func extensionFor(mimeType string, sourceURL string) string {
	if ext, ok := mimeExtensions[mimeType]; ok {
		return ext
	}
	if parsed, err := url.Parse(sourceURL); err == nil {
		if ext := strings.ToLower(path.Ext(parsed.Path)); ext != "" {
			return ext
		}
	}
	return ".bin"
}

func randomNonce() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
