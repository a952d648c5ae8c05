package store

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/zatxm/fhblade"
	"github.com/zatxm/gemini-web2api/pkg/support"
	"go.uber.org/zap"
)

const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusExpired  = "expired"
)

// Account is one upstream login: the cookie bundle plus health bookkeeping.
// Health fields are mutated by the pool manager only; the store persists them.
type Account struct {
	ID          string            `json:"id"`
	Psid        string            `json:"psid"`
	Psidts      string            `json:"psidts,omitempty"`
	Cookies     map[string]string `json:"cookies,omitempty"`
	Label       string            `json:"label,omitempty"`
	Status      string            `json:"status"`
	Failures    int               `json:"failures"`
	LastSuccess int64             `json:"last_success,omitempty"`
	LastFailure int64             `json:"last_failure,omitempty"`
	UseCount    int64             `json:"use_count"`
	Created     int64             `json:"created"`
}

type Settings struct {
	AdminUsername string `json:"admin_username"`
	AdminPassword string `json:"admin_password"`
	ApiKey        string `json:"api_key"`
	SyncToken     string `json:"sync_token"`
	BaseUrl       string `json:"base_url"`
	ImageMode     string `json:"image_mode"` // url或b64
}

type record struct {
	Accounts map[string]*Account `json:"accounts"`
	Settings *Settings           `json:"settings"`
}

type Store struct {
	mu   sync.Mutex
	path string
	data *record
}

// AccountID derives the stable account identifier from the primary cookie.
func AccountID(psid string) string {
	sum := sha256.Sum256([]byte(psid))
	return hex.EncodeToString(sum[:])[:16]
}

func defaultRecord() *record {
	return &record{
		Accounts: map[string]*Account{},
		Settings: &Settings{
			AdminUsername: "admin",
			AdminPassword: "admin",
			ApiKey:        "sk-123456",
			SyncToken:     support.RandHex(24),
			ImageMode:     "url",
		},
	}
}

// Open loads the durable record, falling back to defaults when the file is
// missing or unreadable. A fresh default record is persisted immediately so
// the generated sync token survives restarts.
func Open(path string) (*Store, error) {
	s := &Store{path: path}
	b, err := os.ReadFile(path)
	if err == nil {
		var r record
		if jerr := fhblade.Json.Unmarshal(b, &r); jerr == nil && r.Accounts != nil && r.Settings != nil {
			if r.Settings.SyncToken == "" {
				r.Settings.SyncToken = support.RandHex(24)
			}
			s.data = &r
			return s, nil
		}
		fhblade.Log.Warn("store data file corrupted, using defaults", zap.String("path", path))
	}
	s.data = defaultRecord()
	if err := s.save(); err != nil {
		return nil, err
	}
	return s, nil
}

// save writes the whole record atomically. Caller holds s.mu.
func (s *Store) save() error {
	b, err := fhblade.Json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".store-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err = tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err = tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	return os.Rename(name, s.path)
}

func (s *Store) Get(id string) (*Account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.data.Accounts[id]
	if !ok {
		return nil, false
	}
	c := *a
	return &c, true
}

func (s *Store) List() []*Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Account, 0, len(s.data.Accounts))
	for _, a := range s.data.Accounts {
		c := *a
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created < out[j].Created })
	return out
}

// Upsert installs a fresh credential bundle. Whether the account is new or
// known, its health resets to healthy with a clean failure counter.
func (s *Store) Upsert(psid, psidts string, cookies map[string]string, label string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := AccountID(psid)
	a, ok := s.data.Accounts[id]
	if !ok {
		a = &Account{ID: id, Psid: psid, Created: time.Now().Unix()}
		s.data.Accounts[id] = a
	}
	a.Psidts = psidts
	a.Cookies = cookies
	if label != "" {
		a.Label = label
	}
	a.Status = StatusHealthy
	a.Failures = 0
	if err := s.save(); err != nil {
		return nil, err
	}
	c := *a
	return &c, nil
}

func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Accounts[id]; !ok {
		return false
	}
	delete(s.data.Accounts, id)
	if err := s.save(); err != nil {
		fhblade.Log.Error("store delete save err", zap.Error(err), zap.String("id", id))
	}
	return true
}

// UpdateHealth persists pool-manager health transitions.
func (s *Store) UpdateHealth(id, status string, failures int, lastSuccess, lastFailure int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.data.Accounts[id]
	if !ok {
		return
	}
	a.Status = status
	a.Failures = failures
	if lastSuccess > 0 {
		a.LastSuccess = lastSuccess
	}
	if lastFailure > 0 {
		a.LastFailure = lastFailure
	}
	if err := s.save(); err != nil {
		fhblade.Log.Error("store health save err", zap.Error(err), zap.String("id", id))
	}
}

func (s *Store) BumpUse(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.data.Accounts[id]; ok {
		a.UseCount++
		if err := s.save(); err != nil {
			fhblade.Log.Error("store use save err", zap.Error(err), zap.String("id", id))
		}
	}
}

// UpdatePsidts persists a rotated __Secure-1PSIDTS value.
func (s *Store) UpdatePsidts(id, psidts string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.data.Accounts[id]
	if !ok || a.Psidts == psidts {
		return
	}
	a.Psidts = psidts
	if a.Cookies != nil {
		a.Cookies["__Secure-1PSIDTS"] = psidts
	}
	if err := s.save(); err != nil {
		fhblade.Log.Error("store psidts save err", zap.Error(err), zap.String("id", id))
	}
}

func (s *Store) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.data.Settings
}

// UpdateSettings replaces the settings record as one atomic write. Empty
// admin fields keep their current values so a password is never blanked by
// a partial form.
func (s *Store) UpdateSettings(v Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.data.Settings
	if v.AdminUsername == "" {
		v.AdminUsername = cur.AdminUsername
	}
	if v.AdminPassword == "" {
		v.AdminPassword = cur.AdminPassword
	}
	if v.ApiKey == "" {
		v.ApiKey = cur.ApiKey
	}
	if v.SyncToken == "" {
		v.SyncToken = cur.SyncToken
	}
	if v.ImageMode == "" {
		v.ImageMode = cur.ImageMode
	}
	s.data.Settings = &v
	return s.save()
}

func (s *Store) RegenSyncToken() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Settings.SyncToken = support.RandHex(24)
	if err := s.save(); err != nil {
		return "", err
	}
	return s.data.Settings.SyncToken, nil
}
