package cache

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
)

// Geometry is the render size of a translated layout.
type Geometry struct {
	Width  int
	Height int
}

// Translator turns a downloaded layout document into something the display
// can render. Cached layouts built by an older Version are re-fetched.
type Translator interface {
	Version() int
	Translate(layoutID int64, xlf []byte, lookup func(code string) (int64, bool)) (Geometry, error)
}

// GeometryTranslator only reads the layout size from the XLF root element.
type GeometryTranslator struct{}

func (GeometryTranslator) Version() int { return 1 }

func (GeometryTranslator) Translate(layoutID int64, xlf []byte, _ func(string) (int64, bool)) (Geometry, error) {
	var doc struct {
		XMLName xml.Name
		Width   string `xml:"width,attr"`
		Height  string `xml:"height,attr"`
	}
	if err := xml.Unmarshal(xlf, &doc); err != nil {
		return Geometry{}, fmt.Errorf("layout %d: %w", layoutID, err)
	}
	if doc.XMLName.Local != "layout" {
		return Geometry{}, fmt.Errorf("layout %d: unexpected root element %q", layoutID, doc.XMLName.Local)
	}
	width, err := parseDimension(doc.Width)
	if err != nil {
		return Geometry{}, fmt.Errorf("layout %d width: %w", layoutID, err)
	}
	height, err := parseDimension(doc.Height)
	if err != nil {
		return Geometry{}, fmt.Errorf("layout %d height: %w", layoutID, err)
	}
	return Geometry{Width: width, Height: height}, nil
}

func parseDimension(raw string) (int, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}
