package model

import (
	"maps"
	"time"
)

// PlayerSettings is the display configuration handed out by the CMS on registration.
type PlayerSettings struct {
	CollectInterval    int                `json:"collect_interval"`
	StatsEnabled       bool               `json:"stats_enabled"`
	XMRNetworkAddress  string             `json:"xmr_network_address"`
	LogLevel           string             `json:"log_level"`
	ScreenshotInterval int                `json:"screenshot_interval"`
	EmbeddedServerPort int                `json:"embedded_server_port"`
	PreventSleep       bool               `json:"prevent_sleep"`
	DisplayName        string             `json:"display_name"`
	SizeX              int                `json:"size_x"`
	SizeY              int                `json:"size_y"`
	PosX               int                `json:"pos_x"`
	PosY               int                `json:"pos_y"`
	Commands           map[string]Command `json:"commands,omitempty"`
}

// Command is a named shell/HTTP/serial action the display can run on demand.
type Command struct {
	Command  string `json:"command"`
	Validate string `json:"validate,omitempty"`
	Alerts   string `json:"alerts,omitempty"`
}

// DefaultPlayerSettings returns the values used before the CMS has answered.
func DefaultPlayerSettings() PlayerSettings {
	return PlayerSettings{
		CollectInterval:    900,
		LogLevel:           "debug",
		EmbeddedServerPort: 9696,
		DisplayName:        "Xibo",
	}
}

// CollectEvery is the collect interval as a duration, never below one second.
func (s PlayerSettings) CollectEvery() time.Duration {
	if s.CollectInterval < 1 {
		return time.Second
	}
	return time.Duration(s.CollectInterval) * time.Second
}

// ScreenshotEvery returns zero when periodic screenshots are disabled.
func (s PlayerSettings) ScreenshotEvery() time.Duration {
	if s.ScreenshotInterval <= 0 {
		return 0
	}
	return time.Duration(s.ScreenshotInterval) * time.Minute
}

func (s PlayerSettings) Equal(o PlayerSettings) bool {
	return s.CollectInterval == o.CollectInterval &&
		s.StatsEnabled == o.StatsEnabled &&
		s.XMRNetworkAddress == o.XMRNetworkAddress &&
		s.LogLevel == o.LogLevel &&
		s.ScreenshotInterval == o.ScreenshotInterval &&
		s.EmbeddedServerPort == o.EmbeddedServerPort &&
		s.PreventSleep == o.PreventSleep &&
		s.DisplayName == o.DisplayName &&
		s.SizeX == o.SizeX && s.SizeY == o.SizeY &&
		s.PosX == o.PosX && s.PosY == o.PosY &&
		maps.Equal(s.Commands, o.Commands)
}
