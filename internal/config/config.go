package config

import (
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	Host             string
	Port             int
	Prompt           string
	ContinuousOutput bool

	HistoryPath string
	CachePath   string
	CacheTTL    time.Duration
	CacheOff    bool

	ConnectTimeout  time.Duration
	ReadSlice       time.Duration
	ReadBufferSize  int
	ResponseWindow  time.Duration
	ProbeWindow     time.Duration
	CvarListWindow  time.Duration
	SendCourtesy    time.Duration
	CompletionWait  time.Duration
	ProbeWorkers    int
	ProbeQueueDepth int
}

func DefaultConfig() Config {
	return Config{
		Host:             "127.0.0.1",
		Port:             8020,
		Prompt:           "$",
		ContinuousOutput: true,
		HistoryPath:      defaultHistoryPath(),
		CachePath:        defaultCachePath(),
		CacheTTL:         24 * time.Hour,
		ConnectTimeout:   3 * time.Second,
		ReadSlice:        100 * time.Millisecond,
		ReadBufferSize:   4096,
		ResponseWindow:   500 * time.Millisecond,
		ProbeWindow:      100 * time.Millisecond,
		CvarListWindow:   500 * time.Millisecond,
		SendCourtesy:     500 * time.Millisecond,
		CompletionWait:   1 * time.Second,
		ProbeWorkers:     2,
		ProbeQueueDepth:  8,
	}
}

func defaultHistoryPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".netcon_history"
	}
	return filepath.Join(home, ".netcon_history")
}

func defaultCachePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "netcon-cvars.db"
	}
	return filepath.Join(home, ".local", "state", "netcon", "cvars.db")
}
