package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/cellatlas/cellsync/internal/flagx"
	"github.com/cellatlas/cellsync/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. It relies on
// timex.Duration so JSON can specify intervals either as strings like "3s"
// or as integer nanoseconds. After parsing, values are copied into the
// runtime Config (which uses time.Duration).
type JsonConfig struct {
	ServerBaseURL       string         `json:"server_base_url"`
	DatabasePath        string         `json:"database_path"`
	CacheDir            string         `json:"cache_dir"`
	AuthToken           string         `json:"auth_token"`
	OnlineCheckInterval timex.Duration `json:"online_check_interval"`
	RequestTimeout      timex.Duration `json:"request_timeout"`
}

// parseJson overlays Config with values loaded from a JSON file. The file
// path comes from the -c/-config flags via flagx.JsonConfigFlags; with no
// path the function is a no-op. Read or unmarshal errors panic, the caller
// decides whether to recover.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	cfg.ServerBaseURL = jc.ServerBaseURL
	cfg.DatabasePath = jc.DatabasePath
	cfg.CacheDir = jc.CacheDir
	cfg.AuthToken = jc.AuthToken
	cfg.OnlineCheckInterval = time.Duration(jc.OnlineCheckInterval.Duration)
	cfg.RequestTimeout = time.Duration(jc.RequestTimeout.Duration)
}
