package collect

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/birkenfeld/arexibo/internal/model"
)

func loadSettings(path string) (model.PlayerSettings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return model.PlayerSettings{}, err
	}
	settings := model.DefaultPlayerSettings()
	if err := json.Unmarshal(raw, &settings); err != nil {
		return model.PlayerSettings{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return settings, nil
}

func saveSettings(path string, settings model.PlayerSettings) error {
	raw, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func diskUsage(path string) (uint64, uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, 0, err
	}
	return usage.Free, usage.Total, nil
}

// timeZoneName returns the IANA name of the local zone when it can be
// determined, and the zone abbreviation otherwise.
func timeZoneName() string {
	if tz := os.Getenv("TZ"); tz != "" {
		return strings.TrimPrefix(tz, ":")
	}
	if target, err := os.Readlink("/etc/localtime"); err == nil {
		if _, name, ok := strings.Cut(filepath.ToSlash(target), "zoneinfo/"); ok {
			return name
		}
	}
	name, _ := time.Now().Zone()
	return name
}
