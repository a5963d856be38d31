package main

import (
	"github.com/whamworks/resourced/pkg/classes"
	"github.com/whamworks/resourced/pkg/config"
	"github.com/whamworks/resourced/pkg/manager"
	"github.com/whamworks/resourced/pkg/storage"
)

// openManager loads cfg (or the defaults if path is empty), opens the
// bbolt store it names, and constructs a Manager over the builtin class
// registry. Callers are responsible for closing the returned store once
// the manager is no longer in use.
func openManager(path string) (*manager.Manager, *storage.BoltStore, *config.Config, error) {
	var cfg *config.Config
	var err error
	if path == "" {
		cfg = config.Default()
	} else {
		cfg, err = config.Load(path)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, nil, nil, err
	}

	reg, err := classes.Builtin()
	if err != nil {
		store.Close()
		return nil, nil, nil, err
	}

	mgr, err := manager.New(manager.Options{
		Store:          store,
		Registry:       reg,
		LabelCacheSize: cfg.LabelCacheSize,
	})
	if err != nil {
		store.Close()
		return nil, nil, nil, err
	}
	return mgr, store, cfg, nil
}
