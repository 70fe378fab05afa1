// Package memory keeps a short rolling history of exchanges per
// conversation.
package memory

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rotisserie/eris"
)

// Defaults for a Manager.
const (
	DefaultWindow           = 10
	DefaultMaxConversations = 1024
)

// Exchange is one request and its answer.
type Exchange struct {
	Input  string    `json:"input"`
	Output string    `json:"output"`
	At     time.Time `json:"at"`
}

type conversation struct {
	mu        sync.Mutex
	exchanges []Exchange
}

// Manager owns the per-conversation windows. Only the last Window exchanges
// of a conversation are kept, and the least recently used conversations are
// evicted past MaxConversations.
type Manager struct {
	window int
	convs  *lru.Cache[string, *conversation]
	mu     sync.Mutex
}

// Options configures a Manager.
type Options struct {
	Window           int
	MaxConversations int
}

// NewManager creates a Manager. Zero options take the defaults.
func NewManager(opts Options) (*Manager, error) {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.MaxConversations <= 0 {
		opts.MaxConversations = DefaultMaxConversations
	}
	cache, err := lru.New[string, *conversation](opts.MaxConversations)
	if err != nil {
		return nil, eris.Wrap(err, "memory: create cache")
	}
	return &Manager{window: opts.Window, convs: cache}, nil
}

// Window returns the number of exchanges kept per conversation.
func (m *Manager) Window() int { return m.window }

func (m *Manager) get(id string, create bool) *conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs.Get(id)
	if !ok && create {
		c = &conversation{}
		m.convs.Add(id, c)
	}
	return c
}

// Add records an exchange for a conversation.
func (m *Manager) Add(id, input, output string) {
	c := m.get(id, true)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exchanges = append(c.exchanges, Exchange{Input: input, Output: output, At: time.Now().UTC()})
	if extra := len(c.exchanges) - m.window; extra > 0 {
		c.exchanges = append([]Exchange(nil), c.exchanges[extra:]...)
	}
}

// History returns a copy of the kept exchanges, oldest first.
func (m *Manager) History(id string) []Exchange {
	c := m.get(id, false)
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Exchange, len(c.exchanges))
	copy(out, c.exchanges)
	return out
}

// Clear forgets one conversation.
func (m *Manager) Clear(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.convs.Remove(id)
}

// ClearAll forgets every conversation.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.convs.Purge()
}

// Len returns the number of tracked conversations.
func (m *Manager) Len() int {
	return m.convs.Len()
}
