package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

const (
	maxConcurrentDownloads = 3
	cleanupAfter           = 30 * 24 * time.Hour

	userAgent      = "rdm/1.0"
	connectTimeout = 30 * time.Second
	readTimeout    = 60 * time.Second
	maxRedirects   = 10

	bufferSize   = 4 * 1024
	syncMinBytes = 64 * 1024
	syncInterval = 2000 * time.Millisecond
)

var (
	downloadDir  = xdg.UserDirs.Download
	databasePath = filepath.Join(xdg.DataHome, configFileName, configFileName+".db")
	logPath      = filepath.Join(xdg.StateHome, configFileName, configFileName+".log")
)
