package conversation

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/zatxm/gemini-web2api/internal/types"
)

var (
	ErrSessionLost      = errors.New("conversation account expired, start a new conversation")
	ErrConversationBusy = errors.New("conversation already has a turn in flight")
)

// RoleText is one normalized message of the client history.
type RoleText struct {
	Role string
	Text string
}

// Key derives the stable conversation key from everything before the final
// user turn. An empty prefix means a fresh conversation.
func Key(history []RoleText) string {
	if len(history) <= 1 {
		return ""
	}
	h := sha256.New()
	for _, m := range history[:len(history)-1] {
		h.Write([]byte(strings.ToLower(m.Role)))
		h.Write([]byte{0})
		h.Write([]byte(m.Text))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// NextKey is the key a follow-up request will carry once the assistant
// reply is part of the history.
func NextKey(history []RoleText, reply string) string {
	full := make([]RoleText, 0, len(history)+2)
	full = append(full, history...)
	full = append(full, RoleText{Role: "assistant", Text: reply}, RoleText{})
	return Key(full)
}

type conversation struct {
	key        string
	accountID  string
	turns      []*types.SessionMeta
	lastAccess time.Time
	busy       bool
}

// Handle is the single in-flight turn's view of a conversation. It is
// produced by Resolve and must be finished with Complete or Abort.
type Handle struct {
	bridge    *Bridge
	conv      *conversation
	key       string
	AccountID string
	Meta      *types.SessionMeta
}

func (h *Handle) IsNew() bool {
	return h.conv == nil || len(h.conv.turns) == 0
}

// Bridge maps client message histories to upstream continuation state.
// Conversations are pinned to the account that started them; upstream
// session ids are meaningless on any other account.
type Bridge struct {
	mu      sync.Mutex
	ttl     time.Duration
	convs   map[string]*conversation
	expired func(accountID string) bool
}

func NewBridge(ttl time.Duration, expired func(string) bool) *Bridge {
	return &Bridge{
		ttl:     ttl,
		convs:   map[string]*conversation{},
		expired: expired,
	}
}

// Resolve claims the conversation for one turn. A known conversation whose
// pinned account has expired is dropped and the turn fails; the client must
// restart with a full history. Unknown keys are claimed too, so two first
// turns with the same history cannot run at once.
func (b *Bridge) Resolve(key string) (*Handle, error) {
	if key == "" {
		return &Handle{bridge: b}, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.convs[key]
	if !ok {
		c = &conversation{key: key, busy: true, lastAccess: time.Now()}
		b.convs[key] = c
		return &Handle{bridge: b, conv: c, key: key}, nil
	}
	if c.accountID != "" && b.expired != nil && b.expired(c.accountID) {
		delete(b.convs, key)
		return nil, ErrSessionLost
	}
	if c.busy {
		return nil, ErrConversationBusy
	}
	c.busy = true
	c.lastAccess = time.Now()
	h := &Handle{
		bridge:    b,
		conv:      c,
		key:       key,
		AccountID: c.accountID,
	}
	if len(c.turns) > 0 {
		h.Meta = c.turns[len(c.turns)-1]
	}
	return h, nil
}

// Complete records a successful turn: the continuation token sequence grows
// by exactly one and the conversation is re-indexed under the key the next
// client request will compute.
func (b *Bridge) Complete(h *Handle, accountID string, meta *types.SessionMeta, nextKey string) {
	if h == nil || meta.Empty() || nextKey == "" {
		b.Abort(h)
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c := h.conv
	if c == nil {
		c = &conversation{}
	} else {
		delete(b.convs, c.key)
		c.busy = false
	}
	c.accountID = accountID
	c.key = nextKey
	c.turns = append(c.turns, meta)
	c.lastAccess = time.Now()
	b.convs[nextKey] = c
}

// Evict drops the conversation entirely. Used when the pinned account stops
// working mid-conversation.
func (b *Bridge) Evict(h *Handle) {
	if h == nil || h.conv == nil {
		return
	}
	b.mu.Lock()
	h.conv.busy = false
	delete(b.convs, h.conv.key)
	b.mu.Unlock()
}

// Abort releases the turn without appending a token. A conversation that
// never completed a turn is dropped, it holds no continuation state.
func (b *Bridge) Abort(h *Handle) {
	if h == nil || h.conv == nil {
		return
	}
	b.mu.Lock()
	h.conv.busy = false
	if len(h.conv.turns) == 0 {
		delete(b.convs, h.conv.key)
	}
	b.mu.Unlock()
}

// Sweep evicts conversations idle past the TTL or pinned to accounts that
// no longer work. Returns the eviction count.
func (b *Bridge) Sweep() int {
	cut := time.Now().Add(-b.ttl)
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for key, c := range b.convs {
		if c.busy {
			continue
		}
		if c.lastAccess.Before(cut) || (b.expired != nil && b.expired(c.accountID)) {
			delete(b.convs, key)
			n++
		}
	}
	return n
}

func (b *Bridge) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.convs)
}

// Turns reports the stored turn count for a key, for tests and stats.
func (b *Bridge) Turns(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.convs[key]; ok {
		return len(c.turns)
	}
	return 0
}
