package tool

import (
	"flag"

	"github.com/moyoez/localvault/types"
)

// SetFlags parses CLI flags and returns the override config.
func SetFlags() types.Config {
	var cfg types.Config
	flag.StringVar(&cfg.Log, "log", "", "log mode: dev|prod|none")
	flag.StringVar(&cfg.UseConfigPath, "useConfigPath", "", "override config file path")
	flag.StringVar(&cfg.UseRoot, "useRoot", "", "override storage root folder")
	flag.IntVar(&cfg.UsePort, "usePort", 0, "override listen port")
	flag.BoolVar(&cfg.UseHttp, "useHttp", false, "serve plain http instead of https")
	flag.StringVar(&cfg.UseTokenBackend, "useTokenBackend", "", "token persistence backend: json|badger")
	flag.BoolVar(&cfg.SkipNotify, "skipNotify", false, "if true, do not send unix socket notifications")
	flag.Parse()
	return cfg
}
