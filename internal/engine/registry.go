package engine

import (
	"sort"
	"sync"
	"time"
)

// Engine names known to the registry.
const (
	NameLocal  = "local"
	NameRemote = "remote"
)

// Factory builds an Engine from the generic config below.
type Factory func(Config) Engine

// Config carries common knobs used by engines.
type Config struct {
	HTTPTimeout time.Duration
	RetryMax    int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Remote
	BaseURL string
	APIKey  string
}

var (
	regMu    sync.RWMutex
	registry = map[string]Factory{}
)

// RegisterEngine registers an engine name with its factory.
func RegisterEngine(name string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[name] = f
}

// GetEngine creates the named engine if registered.
func GetEngine(name string, cfg Config) (Engine, bool) {
	regMu.RLock()
	f, ok := registry[name]
	regMu.RUnlock()
	if !ok {
		return nil, false
	}
	return f(cfg), true
}

// Names lists registered engines.
func Names() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func init() {
	RegisterEngine(NameLocal, func(Config) Engine { return NewLocal() })
	RegisterEngine(NameRemote, func(c Config) Engine {
		if c.RetryMax <= 0 {
			c.RetryMax = 3
		}
		return NewRemote(c.BaseURL, c.APIKey, c.HTTPTimeout, c.RetryMax, c.BaseDelay, c.MaxDelay)
	})
}
