package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	http "github.com/bogdanfinn/fhttp"
	"github.com/zatxm/fhblade"
	"github.com/zatxm/fhblade/tools"
	"github.com/zatxm/gemini-web2api/internal/client"
	"github.com/zatxm/gemini-web2api/internal/vars"
	"github.com/zatxm/gemini-web2api/pkg/support"
	tlsClient "github.com/zatxm/tls-client"
	"go.uber.org/zap"
)

var (
	ErrNotFound = errors.New("artifact not found")

	idPattern = regexp.MustCompile(`^[a-f0-9]{32}$`)
)

// Cache stores generated media under content ids so links outlive the
// account session that produced them. Files are immutable once written.
type Cache struct {
	mu         sync.Mutex
	dir        string
	maxEntries int
}

func New(dir string, maxEntries int) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Cache{dir: dir, maxEntries: maxEntries}, nil
}

// StoreBytes writes the bytes once and returns the content id. The same
// bytes always map to the same id.
func (c *Cache) StoreBytes(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	id := hex.EncodeToString(sum[:])[:32]
	path := filepath.Join(c.dir, id)
	c.mu.Lock()
	defer c.mu.Unlock()
	if support.FileExists(path) {
		return id, nil
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		fhblade.Log.Error("artifact write err", zap.Error(err), zap.String("id", id))
		return "", err
	}
	c.prune()
	return id, nil
}

// StoreURL downloads the upstream image once, with the producing account's
// cookies, and caches it by content.
func (c *Cache) StoreURL(imageUrl, cookieHeader string) (string, error) {
	if !strings.Contains(imageUrl, "=s") {
		imageUrl += "=s2048"
	}
	req, err := http.NewRequest(http.MethodGet, imageUrl, nil)
	if err != nil {
		return "", err
	}
	req.Header = http.Header{
		"accept":          {vars.AcceptImage},
		"accept-encoding": {vars.AcceptEncoding},
		"user-agent":      {vars.UserAgent},
	}
	if cookieHeader != "" {
		req.Header.Set("Cookie", cookieHeader)
	}
	gClient := client.CPool.Get().(tlsClient.HttpClient)
	resp, err := gClient.Do(req)
	client.CPool.Put(gClient)
	if err != nil {
		fhblade.Log.Error("artifact download err", zap.Error(err), zap.String("url", imageUrl))
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fhblade.Log.Error("artifact download status err",
			zap.Int("status", resp.StatusCode),
			zap.String("url", imageUrl))
		return "", errors.New("request image error")
	}
	data, err := tools.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return c.StoreBytes(data)
}

// Resolve maps a content id to its file path.
func (c *Cache) Resolve(id string) (string, error) {
	if !idPattern.MatchString(id) {
		return "", ErrNotFound
	}
	path := filepath.Join(c.dir, id)
	if !support.FileExists(path) {
		return "", ErrNotFound
	}
	return path, nil
}

func (c *Cache) ReadBytes(id string) ([]byte, error) {
	path, err := c.Resolve(id)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(path)
}

// prune drops the oldest files beyond the retention bound. Caller holds c.mu.
func (c *Cache) prune() {
	if c.maxEntries <= 0 {
		return
	}
	entries, err := os.ReadDir(c.dir)
	if err != nil || len(entries) <= c.maxEntries {
		return
	}
	type fileAge struct {
		name string
		mod  int64
	}
	ages := make([]fileAge, 0, len(entries))
	for _, e := range entries {
		info, ierr := e.Info()
		if ierr != nil || e.IsDir() {
			continue
		}
		ages = append(ages, fileAge{name: e.Name(), mod: info.ModTime().UnixNano()})
	}
	sort.Slice(ages, func(i, j int) bool { return ages[i].mod < ages[j].mod })
	for i := 0; i < len(ages)-c.maxEntries; i++ {
		os.Remove(filepath.Join(c.dir, ages[i].name))
	}
}

// Len counts cached files.
func (c *Cache) Len() int {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() {
			n++
		}
	}
	return n
}

// Clear wipes the cache, returning the number of files removed.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if os.Remove(filepath.Join(c.dir, e.Name())) == nil {
			n++
		}
	}
	return n
}
