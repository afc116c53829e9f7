package xmds

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/birkenfeld/arexibo/internal/model"
)

const logTimeFormat = "2006-01-02 15:04:05"

func parseActivation(doc string) (*model.PlayerSettings, error) {
	root, err := parseNode(doc)
	if err != nil {
		return nil, fmt.Errorf("parse activation message: %w", err)
	}
	code, ok := root.attr("code")
	if !ok {
		return nil, fmt.Errorf("activation message without result code")
	}
	if code != "READY" {
		return nil, nil
	}

	settings := model.DefaultPlayerSettings()
	for _, child := range root.Nodes {
		value := strings.TrimSpace(child.Text)
		var err error
		switch child.XMLName.Local {
		case "collectInterval":
			settings.CollectInterval, err = parseInt(value)
		case "statsEnabled":
			settings.StatsEnabled, err = parseBool(value)
		case "xmrNetworkAddress":
			settings.XMRNetworkAddress = value
		case "logLevel":
			settings.LogLevel = value
		case "screenShotRequestInterval":
			settings.ScreenshotInterval, err = parseInt(value)
		case "embeddedServerPort":
			settings.EmbeddedServerPort, err = parseInt(value)
		case "preventSleep":
			settings.PreventSleep, err = parseBool(value)
		case "displayName":
			settings.DisplayName = value
		case "sizeX":
			settings.SizeX, err = parseInt(value)
		case "sizeY":
			settings.SizeY, err = parseInt(value)
		case "offsetX":
			settings.PosX, err = parseInt(value)
		case "offsetY":
			settings.PosY, err = parseInt(value)
		case "commands":
			settings.Commands = parseCommands(child)
		}
		if err != nil {
			return nil, fmt.Errorf("setting %s: %w", child.XMLName.Local, err)
		}
	}
	return &settings, nil
}

func parseCommands(n node) map[string]model.Command {
	commands := make(map[string]model.Command, len(n.Nodes))
	for _, c := range n.Nodes {
		cmd := model.Command{}
		if v, err := c.text("commandString"); err == nil {
			cmd.Command = strings.TrimSpace(v)
		}
		if v, err := c.text("validationString"); err == nil {
			cmd.Validate = strings.TrimSpace(v)
		}
		if v, err := c.text("createAlertOn"); err == nil {
			cmd.Alerts = strings.TrimSpace(v)
		}
		commands[c.XMLName.Local] = cmd
	}
	return commands
}

// parseInt accepts the float formatting some CMS versions use for integers.
func parseInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	if v, err := strconv.Atoi(raw); err == nil {
		return v, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

func parseRequiredFiles(doc string) (RequiredFiles, error) {
	root, err := parseNode(doc)
	if err != nil {
		return RequiredFiles{}, fmt.Errorf("parse required files: %w", err)
	}

	var out RequiredFiles
	for _, file := range root.children("file") {
		typ, _ := file.attr("type")
		switch model.FileType(typ) {
		case model.FileMedia, model.FileLayout:
			f, err := parseFileEntry(file, model.FileType(typ))
			if err != nil {
				return RequiredFiles{}, err
			}
			out.Files = append(out.Files, f)
		case model.FileResource:
			f, err := parseResourceEntry(file)
			if err != nil {
				return RequiredFiles{}, err
			}
			out.Files = append(out.Files, f)
		}
	}
	for _, purge := range root.children("purge") {
		for _, item := range purge.children("item") {
			if name, ok := item.attr("storedAs"); ok && name != "" {
				out.Purge = append(out.Purge, name)
			}
		}
	}
	return out, nil
}

func parseFileEntry(n node, typ model.FileType) (model.ReqFile, error) {
	f := model.ReqFile{Type: typ}
	var err error
	if f.ID, err = n.intAttr("id"); err != nil {
		return f, fmt.Errorf("%s file: %w", typ, err)
	}
	if f.Size, err = n.intAttr("size"); err != nil {
		return f, fmt.Errorf("%s file %d: %w", typ, f.ID, err)
	}
	md5, ok := n.attr("md5")
	if !ok {
		return f, fmt.Errorf("%s file %d: missing attribute md5", typ, f.ID)
	}
	f.MD5 = strings.ToLower(strings.TrimSpace(md5))
	download, _ := n.attr("download")
	path, _ := n.attr("path")
	f.HTTP = download == "http"
	if f.HTTP {
		f.Path = path
		f.Name, _ = n.attr("saveAs")
		if f.Name == "" {
			return f, fmt.Errorf("%s file %d: missing attribute saveAs", typ, f.ID)
		}
	} else {
		f.Name = path
		if typ == model.FileLayout {
			f.Name += ".xlf"
		}
		if path == "" {
			return f, fmt.Errorf("%s file %d: missing attribute path", typ, f.ID)
		}
	}
	f.Code, _ = n.attr("code")
	return f, nil
}

func parseResourceEntry(n node) (model.ReqFile, error) {
	f := model.ReqFile{Type: model.FileResource}
	fields := []struct {
		attr string
		dst  *int64
	}{
		{"id", &f.ID},
		{"layoutid", &f.LayoutID},
		{"regionid", &f.RegionID},
		{"mediaid", &f.MediaID},
		{"updated", &f.Updated},
	}
	for _, field := range fields {
		v, err := n.intAttr(field.attr)
		if err != nil {
			return f, fmt.Errorf("resource file: %w", err)
		}
		*field.dst = v
	}
	return f, nil
}

type inventoryDoc struct {
	XMLName xml.Name        `xml:"files"`
	Files   []inventoryFile `xml:"file"`
}

type inventoryFile struct {
	Type     string `xml:"type,attr"`
	ID       int64  `xml:"id,attr"`
	Complete int    `xml:"complete,attr"`
}

func encodeInventory(items []model.InventoryItem) (string, error) {
	doc := inventoryDoc{Files: make([]inventoryFile, 0, len(items))}
	for _, item := range items {
		f := inventoryFile{Type: string(item.Type), ID: item.ID}
		if item.Complete {
			f.Complete = 1
		}
		doc.Files = append(doc.Files, f)
	}
	out, err := xml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode inventory: %w", err)
	}
	return string(out), nil
}

// LogRecord is one line of a SubmitLog document.
type LogRecord struct {
	Time     time.Time
	Category string
	Method   string
	Message  string
}

type logDoc struct {
	XMLName xml.Name   `xml:"logs"`
	Logs    []logEntry `xml:"log"`
}

type logEntry struct {
	Date     string `xml:"date,attr"`
	Category string `xml:"category,attr"`
	Method   string `xml:"method,omitempty"`
	Message  string `xml:"message"`
}

func encodeLogs(records []LogRecord) (string, error) {
	doc := logDoc{Logs: make([]logEntry, 0, len(records))}
	for _, r := range records {
		doc.Logs = append(doc.Logs, logEntry{
			Date:     r.Time.Local().Format(logTimeFormat),
			Category: r.Category,
			Method:   r.Method,
			Message:  r.Message,
		})
	}
	out, err := xml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode logs: %w", err)
	}
	return string(out), nil
}
