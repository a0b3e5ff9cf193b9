package cms

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ACL is the admin allow-list gating REVOKE/APPROVE/DENY.
// It is backed by a viper instance pointed at its own file, with
// fsnotify watching that file so the CMS picks up ACL edits without a
// restart.
type ACL struct {
	mu      sync.RWMutex
	allowed map[string]struct{}
	v       *viper.Viper
	log     *zap.Logger
}

// LoadACL reads the admin CN list from path (a YAML file with a top-level
// `admins: [...]` key) and starts watching it for changes.
func LoadACL(path string, log *zap.Logger) (*ACL, error) {
	if log == nil {
		log = zap.NewNop()
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	a := &ACL{allowed: make(map[string]struct{}), v: v, log: log}
	a.reload()
	v.OnConfigChange(func(fsnotify.Event) { a.reload() })
	v.WatchConfig()
	return a, nil
}

func (a *ACL) reload() {
	names := a.v.GetStringSlice("admins")
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	a.mu.Lock()
	a.allowed = set
	a.mu.Unlock()
	a.log.Info("cms: admin ACL reloaded", zap.Int("count", len(set)))
}

// Allows reports whether cn is an admin, per the configured CN allow-list.
func (a *ACL) Allows(cn string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.allowed[cn]
	return ok
}
