package config

import "time"

// ApplyDefaults sets default values for any zero values in cfg.
// Graph defaults are the reference deployment: 384-dimensional embeddings,
// M = 24, efConstruction = 200, efSearch = 30, levels capped at 16.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 60 * time.Second
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "./data/apex.db"
	}
	if cfg.Index.Dimensions == 0 {
		cfg.Index.Dimensions = 384
	}
	if cfg.Index.M == 0 {
		cfg.Index.M = 24
	}
	if cfg.Index.EfConstruction == 0 {
		cfg.Index.EfConstruction = 200
	}
	if cfg.Index.EfSearch == 0 {
		cfg.Index.EfSearch = 30
	}
	if cfg.Index.MaxLevel == 0 {
		cfg.Index.MaxLevel = 16
	}
	if cfg.Search.DefaultK == 0 {
		cfg.Search.DefaultK = 10
	}
	if cfg.Search.MaxK == 0 {
		cfg.Search.MaxK = 100
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".jsonl", ".json"}
	}
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
