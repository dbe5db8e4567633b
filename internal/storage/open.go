package storage

import (
	"errors"
	"strings"

	logx "netmon/pkg/logx"
)

// OpenMirror initializes the configured mirror.
// It returns (nil, nil) if mirroring is disabled.
func OpenMirror(cfg Config, log logx.Logger) (Mirror, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
