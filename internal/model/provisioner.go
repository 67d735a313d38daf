package model

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var ErrProvisioning = errors.New("model provisioning failed")

// Provisioner keeps model artifacts in a local directory, downloading them
// from a remote base URL on first use.
type Provisioner struct {
	baseURL string
	dir     string
	client  *http.Client

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewProvisioner creates a Provisioner that caches files under dir.
func NewProvisioner(baseURL, dir string, timeout time.Duration) *Provisioner {
	if baseURL == "" {
		baseURL = DefaultRemoteURL
	}
	return &Provisioner{
		baseURL: baseURL,
		dir:     dir,
		client:  &http.Client{Timeout: timeout},
		locks:   make(map[string]*sync.Mutex),
	}
}

// Dir returns the local cache directory.
func (p *Provisioner) Dir() string {
	return p.dir
}

// Ensure makes both artifacts of m available locally and returns their paths.
func (p *Provisioner) Ensure(ctx context.Context, m StyleModel) (Artifacts, error) {
	weights, err := p.ensureFile(ctx, m.Weights)
	if err != nil {
		return Artifacts{}, err
	}
	topology, err := p.ensureFile(ctx, m.Topology)
	if err != nil {
		return Artifacts{}, err
	}
	return Artifacts{Weights: weights, Topology: topology}, nil
}

func (p *Provisioner) ensureFile(ctx context.Context, name string) (string, error) {
	path := filepath.Join(p.dir, name)

	lock := p.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return path, nil
	}

	if err := os.MkdirAll(p.dir, 0755); err != nil {
		return "", fmt.Errorf("%w: failed to create cache directory: %v", ErrProvisioning, err)
	}

	src, err := url.JoinPath(p.baseURL, name)
	if err != nil {
		return "", fmt.Errorf("%w: invalid remote url: %v", ErrProvisioning, err)
	}

	log.Printf("Downloading %s", src)
	start := time.Now()
	n, err := p.download(ctx, src, path)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrProvisioning, name, err)
	}
	log.Printf("Downloaded %s (%d bytes) in %s", name, n, time.Since(start).Round(time.Millisecond))

	return path, nil
}

// download writes src to a temp file next to dst and renames it into place,
// so dst is either absent or complete.
func (p *Provisioner) download(ctx context.Context, src, dst string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("HTTP %d from %s", resp.StatusCode, src)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*.part")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("failed to write %s: %w", tmp.Name(), err)
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		tmp.Close()
		return 0, fmt.Errorf("short download: got %d of %d bytes", n, resp.ContentLength)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmp.Name(), dst); err != nil {
		return 0, fmt.Errorf("failed to move download into place: %w", err)
	}
	return n, nil
}

func (p *Provisioner) lockFor(path string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.locks[path]
	if !ok {
		l = &sync.Mutex{}
		p.locks[path] = l
	}
	return l
}
