package model

import "fmt"

type FileType string

const (
	FileMedia    FileType = "media"
	FileLayout   FileType = "layout"
	FileResource FileType = "resource"
)

// ReqFile is one entry of the required-files list. Media and layouts carry
// the File fields; resources carry the LayoutID/RegionID/MediaID/Updated fields.
type ReqFile struct {
	Type FileType

	ID   int64
	Size int64
	MD5  string
	HTTP bool
	Path string
	Name string
	Code string

	LayoutID int64
	RegionID int64
	MediaID  int64
	Updated  int64
}

func (f ReqFile) IsResource() bool {
	return f.Type == FileResource
}

// Description is a short human label used in log lines.
func (f ReqFile) Description() string {
	if f.IsResource() {
		return fmt.Sprintf("resource %d", f.MediaID)
	}
	return fmt.Sprintf("%s %s", f.Type, f.Name)
}

// Inventory builds the MediaInventory line for this file.
func (f ReqFile) Inventory(complete bool) InventoryItem {
	if f.IsResource() {
		return InventoryItem{Type: FileResource, ID: f.MediaID, Complete: complete}
	}
	return InventoryItem{Type: f.Type, ID: f.ID, Complete: complete}
}

// ResourceName is the cache file name of a dynamic resource.
func ResourceName(mediaID int64) string {
	return fmt.Sprintf("%d.html", mediaID)
}

type InventoryItem struct {
	Type     FileType
	ID       int64
	Complete bool
}

// CacheEntry is one content index record. Kind selects which fields are meaningful.
type CacheEntry struct {
	Kind FileType `json:"kind"`
	ID   int64    `json:"id"`

	MD5     string `json:"md5,omitempty"`
	Size    int64  `json:"size,omitempty"`
	Width   int    `json:"width,omitempty"`
	Height  int    `json:"height,omitempty"`
	Code    string `json:"code,omitempty"`
	Version int    `json:"version,omitempty"`

	LayoutID int64 `json:"layout_id,omitempty"`
	RegionID int64 `json:"region_id,omitempty"`
	Updated  int64 `json:"updated,omitempty"`
	Duration int   `json:"duration,omitempty"`
	NumItems int   `json:"num_items,omitempty"`
}
