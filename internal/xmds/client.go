package xmds

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/birkenfeld/arexibo/internal/metrics"
	"github.com/birkenfeld/arexibo/internal/model"
	"github.com/goccy/go-json"
)

const (
	clientType = "linux"
	clientCode = 0
	nullMAC    = "00:00:00:00:00:00"
)

// Options describes one display's identity towards the CMS.
type Options struct {
	Address       string
	ServerKey     string
	HardwareKey   string
	DisplayName   string
	Channel       string
	PublicKey     string
	ClientVersion string
	Proxy         string
	Timeout       time.Duration
}

// Client issues XMDS v5 SOAP calls. Calls are independent and stateless.
type Client struct {
	endpoint string
	opts     Options
	http     *http.Client
	logger   *slog.Logger
}

func NewClient(opts Options, logger *slog.Logger) (*Client, error) {
	address := strings.TrimSuffix(strings.TrimSpace(opts.Address), "/")
	if address == "" {
		return nil, errors.New("xmds: empty CMS address")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.ClientVersion == "" {
		opts.ClientVersion = "dev"
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.Proxy != "" {
		proxy, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("xmds: invalid proxy: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		endpoint: address + "/xmds.php?v=5",
		opts:     opts,
		http:     &http.Client{Timeout: opts.Timeout, Transport: transport},
		logger:   logger,
	}, nil
}

// HTTPClient is shared with the direct download path so both honour the proxy.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

func (c *Client) call(ctx context.Context, call string, params ...param) (node, error) {
	started := time.Now()
	all := make([]param, 0, len(params)+2)
	all = append(all, stringParam("serverKey", c.opts.ServerKey), stringParam("hardwareKey", c.opts.HardwareKey))
	all = append(all, params...)

	c.logger.Debug("calling xmds", "call", call)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(encodeEnvelope(call, all)))
	if err != nil {
		return node{}, &TransportError{Call: call, Err: err}
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", "urn:xmds#"+call)

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveXMDS(call, "transport", started)
		return node{}, &TransportError{Call: call, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ObserveXMDS(call, "transport", started)
		return node{}, &TransportError{Call: call, Err: err}
	}

	result, fault, err := decodeEnvelope(call, body)
	switch {
	case err != nil && resp.StatusCode >= 400:
		metrics.ObserveXMDS(call, "transport", started)
		return node{}, &TransportError{Call: call, Err: fmt.Errorf("status %d", resp.StatusCode)}
	case err != nil:
		metrics.ObserveXMDS(call, "fault", started)
		return node{}, &FaultError{Call: call, Err: err}
	case fault != "":
		metrics.ObserveXMDS(call, "fault", started)
		return node{}, &FaultError{Call: call, Fault: fault}
	}
	metrics.ObserveXMDS(call, "ok", started)
	return result, nil
}

func (c *Client) callText(ctx context.Context, call, part string, params ...param) (string, error) {
	result, err := c.call(ctx, call, params...)
	if err != nil {
		return "", err
	}
	text, err := result.text(part)
	if err != nil {
		return "", &FaultError{Call: call, Err: err}
	}
	return text, nil
}

func (c *Client) callSuccess(ctx context.Context, call string, params ...param) error {
	text, err := c.callText(ctx, call, "success", params...)
	if err != nil {
		return err
	}
	ok, err := parseBool(text)
	if err != nil {
		return &FaultError{Call: call, Err: err}
	}
	if !ok {
		return &FaultError{Call: call, Err: errNotSuccessful}
	}
	return nil
}

// RegisterDisplay announces the display and returns its settings, or nil
// settings when the CMS has not authorized this display yet.
func (c *Client) RegisterDisplay(ctx context.Context) (*model.PlayerSettings, error) {
	const call = "RegisterDisplay"
	msg, err := c.callText(ctx, call, "ActivationMessage",
		stringParam("displayName", c.opts.DisplayName),
		stringParam("clientType", clientType),
		stringParam("clientVersion", c.opts.ClientVersion),
		intParam("clientCode", clientCode),
		stringParam("operatingSystem", runtime.GOOS),
		stringParam("macAddress", nullMAC),
		stringParam("xmrChannel", c.opts.Channel),
		stringParam("xmrPubKey", c.opts.PublicKey),
	)
	if err != nil {
		return nil, err
	}
	settings, err := parseActivation(msg)
	if err != nil {
		return nil, &FaultError{Call: call, Err: err}
	}
	return settings, nil
}

// RequiredFiles is the decoded RequiredFiles document.
type RequiredFiles struct {
	Files []model.ReqFile
	Purge []string
}

func (c *Client) RequiredFiles(ctx context.Context) (RequiredFiles, error) {
	const call = "RequiredFiles"
	doc, err := c.callText(ctx, call, "RequiredFilesXml")
	if err != nil {
		return RequiredFiles{}, err
	}
	files, err := parseRequiredFiles(doc)
	if err != nil {
		return RequiredFiles{}, &FaultError{Call: call, Err: err}
	}
	return files, nil
}

// Schedule returns the raw schedule document.
func (c *Client) Schedule(ctx context.Context) (string, error) {
	return c.callText(ctx, "Schedule", "ScheduleXml")
}

// GetFile fetches one chunk of a media or layout file.
func (c *Client) GetFile(ctx context.Context, id int64, fileType model.FileType, offset, size int64) ([]byte, error) {
	const call = "GetFile"
	text, err := c.callText(ctx, call, "file",
		intParam("fileId", id),
		stringParam("fileType", string(fileType)),
		doubleParam("chunkOffset", offset),
		doubleParam("chuckSize", size),
	)
	if err != nil {
		return nil, err
	}
	data, err := decodeBase64(text)
	if err != nil {
		return nil, &FaultError{Call: call, Err: fmt.Errorf("decode chunk: %w", err)}
	}
	return data, nil
}

// GetResource returns the rendered content of a dynamic resource.
func (c *Client) GetResource(ctx context.Context, layoutID, regionID, mediaID int64) (string, error) {
	return c.callText(ctx, "GetResource", "resource",
		intParam("layoutId", layoutID),
		stringParam("regionId", strconv.FormatInt(regionID, 10)),
		stringParam("mediaId", strconv.FormatInt(mediaID, 10)),
	)
}

func (c *Client) MediaInventory(ctx context.Context, items []model.InventoryItem) error {
	doc, err := encodeInventory(items)
	if err != nil {
		return err
	}
	return c.callSuccess(ctx, "MediaInventory", stringParam("mediaInventory", doc))
}

func (c *Client) SubmitLog(ctx context.Context, entries []LogRecord) error {
	doc, err := encodeLogs(entries)
	if err != nil {
		return err
	}
	return c.callSuccess(ctx, "SubmitLog", stringParam("logXml", doc))
}

func (c *Client) NotifyStatus(ctx context.Context, status model.Status) error {
	body, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return c.callSuccess(ctx, "NotifyStatus", stringParam("status", string(body)))
}

// NotifyCommandResult reports the outcome of the last command run by the display.
func (c *Client) NotifyCommandResult(ctx context.Context, success bool) error {
	body, err := json.Marshal(map[string]bool{"lastCommandSuccess": success})
	if err != nil {
		return err
	}
	return c.callSuccess(ctx, "NotifyStatus", stringParam("status", string(body)))
}

func (c *Client) SubmitScreenShot(ctx context.Context, image []byte) error {
	return c.callSuccess(ctx, "SubmitScreenShot", base64Param("screenShot", image))
}

// SubmitStats uploads a proof-of-play statistics document as produced by
// the display.
func (c *Client) SubmitStats(ctx context.Context, statXML string) error {
	return c.callSuccess(ctx, "SubmitStats", stringParam("statXml", statXML))
}
