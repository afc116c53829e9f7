package model

import (
	"testing"
	"time"
)

func TestPlayerSettingsEqualComparesCommands(t *testing.T) {
	a := DefaultPlayerSettings()
	b := DefaultPlayerSettings()
	if !a.Equal(b) {
		t.Fatal("expected defaults to be equal")
	}

	a.Commands = map[string]Command{"reboot": {Command: "shell|reboot"}}
	if a.Equal(b) {
		t.Fatal("expected settings with different commands to differ")
	}
	b.Commands = map[string]Command{"reboot": {Command: "shell|reboot"}}
	if !a.Equal(b) {
		t.Fatal("expected settings with same commands to be equal")
	}

	b.CollectInterval = 60
	if a.Equal(b) {
		t.Fatal("expected changed collect interval to differ")
	}
}

func TestPlayerSettingsIntervals(t *testing.T) {
	s := PlayerSettings{CollectInterval: 300, ScreenshotInterval: 0}
	if got := s.CollectEvery(); got != 5*time.Minute {
		t.Fatalf("CollectEvery = %v, want 5m", got)
	}
	if got := s.ScreenshotEvery(); got != 0 {
		t.Fatalf("ScreenshotEvery = %v, want 0", got)
	}
	s.ScreenshotInterval = 2
	if got := s.ScreenshotEvery(); got != 2*time.Minute {
		t.Fatalf("ScreenshotEvery = %v, want 2m", got)
	}
}

func TestReqFileInventory(t *testing.T) {
	media := ReqFile{Type: FileMedia, ID: 7, Name: "7.png"}
	if got := media.Inventory(true); got != (InventoryItem{Type: FileMedia, ID: 7, Complete: true}) {
		t.Fatalf("media inventory = %+v", got)
	}
	res := ReqFile{Type: FileResource, ID: 1, MediaID: 42}
	if got := res.Inventory(false); got != (InventoryItem{Type: FileResource, ID: 42}) {
		t.Fatalf("resource inventory = %+v", got)
	}
	if got := res.Description(); got != "resource 42" {
		t.Fatalf("Description = %q, want %q", got, "resource 42")
	}
	if got := media.Description(); got != "media 7.png" {
		t.Fatalf("Description = %q, want %q", got, "media 7.png")
	}
}
