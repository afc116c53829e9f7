package xmds

import (
	"context"
	"encoding/base64"
	"errors"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/birkenfeld/arexibo/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCMS struct {
	mu       sync.Mutex
	requests map[string]string
	replies  map[string]string
	status   int
}

func newFakeCMS(t *testing.T) (*fakeCMS, *Client) {
	t.Helper()
	fake := &fakeCMS{requests: map[string]string{}, replies: map[string]string{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client, err := NewClient(Options{
		Address:     srv.URL + "/",
		ServerKey:   "serverkey",
		HardwareKey: "hwkey",
		DisplayName: "lobby",
		Channel:     "chan",
		PublicKey:   "-----BEGIN PUBLIC KEY-----",
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return fake, client
}

func (f *fakeCMS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	call := strings.TrimPrefix(r.Header.Get("SOAPAction"), "urn:xmds#")

	f.mu.Lock()
	f.requests[call] = string(body)
	reply, ok := f.replies[call]
	status := f.status
	f.mu.Unlock()

	if r.URL.Query().Get("v") != "5" || r.URL.Path != "/xmds.php" {
		http.NotFound(w, r)
		return
	}
	if status != 0 {
		w.WriteHeader(status)
	}
	if !ok {
		reply = "<html>bad gateway</html>"
	}
	_, _ = io.WriteString(w, reply)
}

func (f *fakeCMS) reply(call, inner string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[call] = `<?xml version="1.0" encoding="UTF-8"?>
<SOAP-ENV:Envelope xmlns:SOAP-ENV="http://schemas.xmlsoap.org/soap/envelope/" xmlns:ns1="urn:xmds">
<SOAP-ENV:Body><ns1:` + call + `Response>` + inner + `</ns1:` + call + `Response></SOAP-ENV:Body></SOAP-ENV:Envelope>`
}

func (f *fakeCMS) fault(call, message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[call] = `<SOAP-ENV:Envelope xmlns:SOAP-ENV="http://schemas.xmlsoap.org/soap/envelope/">
<SOAP-ENV:Body><SOAP-ENV:Fault><faultcode>Sender</faultcode><faultstring>` + message + `</faultstring></SOAP-ENV:Fault></SOAP-ENV:Body></SOAP-ENV:Envelope>`
}

func (f *fakeCMS) request(call string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[call]
}

const readyActivation = `<display status="0" code="READY" message="Display is active and ready to start.">
<collectInterval>300</collectInterval>
<xmrNetworkAddress>tcp://cms.example.com:9505</xmrNetworkAddress>
<logLevel>error</logLevel>
<displayName>Lobby</displayName>
<statsEnabled>1</statsEnabled>
<preventSleep>0</preventSleep>
<screenShotRequestInterval>5</screenShotRequestInterval>
<embeddedServerPort>9696</embeddedServerPort>
<sizeX>1920</sizeX><sizeY>1080</sizeY><offsetX>0</offsetX><offsetY>0</offsetY>
<commands><reboot><commandString>shell|reboot</commandString><validationString></validationString></reboot></commands>
</display>`

func TestRegisterDisplayReady(t *testing.T) {
	fake, client := newFakeCMS(t)
	fake.reply("RegisterDisplay", "<ActivationMessage>"+html.EscapeString(readyActivation)+"</ActivationMessage>")

	settings, err := client.RegisterDisplay(context.Background())
	require.NoError(t, err)
	require.NotNil(t, settings)
	assert.Equal(t, 300, settings.CollectInterval)
	assert.Equal(t, "tcp://cms.example.com:9505", settings.XMRNetworkAddress)
	assert.Equal(t, "error", settings.LogLevel)
	assert.True(t, settings.StatsEnabled)
	assert.Equal(t, 5, settings.ScreenshotInterval)
	assert.Equal(t, 1920, settings.SizeX)
	assert.Equal(t, model.Command{Command: "shell|reboot"}, settings.Commands["reboot"])

	req := fake.request("RegisterDisplay")
	assert.Contains(t, req, `<serverKey xsi:type="xsd:string">serverkey</serverKey>`)
	assert.Contains(t, req, `<hardwareKey xsi:type="xsd:string">hwkey</hardwareKey>`)
	assert.Contains(t, req, `<xmrChannel xsi:type="xsd:string">chan</xmrChannel>`)
	assert.Contains(t, req, `<clientType xsi:type="xsd:string">linux</clientType>`)
}

func TestRegisterDisplayNotAuthorized(t *testing.T) {
	fake, client := newFakeCMS(t)
	fake.reply("RegisterDisplay", "<ActivationMessage>"+html.EscapeString(`<display code="WAITING" message="Display is awaiting licensing"/>`)+"</ActivationMessage>")

	settings, err := client.RegisterDisplay(context.Background())
	require.NoError(t, err)
	assert.Nil(t, settings)
}

func TestFaultIsNotConnectivity(t *testing.T) {
	fake, client := newFakeCMS(t)
	fake.fault("Schedule", "Server key is incorrect")

	_, err := client.Schedule(context.Background())
	require.Error(t, err)
	var fault *FaultError
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, "Server key is incorrect", fault.Fault)
	assert.Equal(t, "Schedule", fault.Call)
	assert.False(t, IsConnectivity(err))
}

func TestUnexpectedResponseTagIsFault(t *testing.T) {
	fake, client := newFakeCMS(t)
	fake.reply("RequiredFiles", "<RequiredFilesXml>&lt;files/&gt;</RequiredFilesXml>")
	fake.mu.Lock()
	fake.replies["Schedule"] = fake.replies["RequiredFiles"]
	fake.mu.Unlock()

	_, err := client.Schedule(context.Background())
	var fault *FaultError
	require.True(t, errors.As(err, &fault))
	assert.ErrorIs(t, err, errMalformed)
}

func TestConnectivityFailures(t *testing.T) {
	fake, client := newFakeCMS(t)
	fake.mu.Lock()
	fake.status = http.StatusBadGateway
	fake.mu.Unlock()

	_, err := client.Schedule(context.Background())
	require.Error(t, err)
	assert.True(t, IsConnectivity(err))

	offline, err := NewClient(Options{Address: "http://127.0.0.1:1"}, nil)
	require.NoError(t, err)
	_, err = offline.RegisterDisplay(context.Background())
	require.Error(t, err)
	assert.True(t, IsConnectivity(err))
}

const requiredFilesDoc = `<files>
<file type="media" id="7" size="5" md5="0CC175B9C0F1B6A831C399E269772661" download="http" path="http://cdn/7.png" saveAs="7.png"/>
<file type="layout" id="5" size="100" md5="abc" download="xmds" path="5" code="lobby"/>
<file type="resource" id="1" layoutid="5" regionid="12" mediaid="42" updated="1700000000"/>
<file type="dependency" id="9" path="bundle.min.js"/>
<purge><item id="3" storedAs="3.mp4"/><item id="4" storedAs="4.png"/></purge>
</files>`

func TestRequiredFiles(t *testing.T) {
	fake, client := newFakeCMS(t)
	fake.reply("RequiredFiles", "<RequiredFilesXml>"+html.EscapeString(requiredFilesDoc)+"</RequiredFilesXml>")

	got, err := client.RequiredFiles(context.Background())
	require.NoError(t, err)
	require.Len(t, got.Files, 3)

	assert.Equal(t, model.ReqFile{
		Type: model.FileMedia, ID: 7, Size: 5, MD5: "0cc175b9c0f1b6a831c399e269772661",
		HTTP: true, Path: "http://cdn/7.png", Name: "7.png",
	}, got.Files[0])
	assert.Equal(t, model.ReqFile{
		Type: model.FileLayout, ID: 5, Size: 100, MD5: "abc", Name: "5.xlf", Code: "lobby",
	}, got.Files[1])
	assert.Equal(t, model.ReqFile{
		Type: model.FileResource, ID: 1, LayoutID: 5, RegionID: 12, MediaID: 42, Updated: 1700000000,
	}, got.Files[2])
	assert.Equal(t, []string{"3.mp4", "4.png"}, got.Purge)
}

func TestRequiredFilesRejectsBrokenEntry(t *testing.T) {
	fake, client := newFakeCMS(t)
	fake.reply("RequiredFiles", "<RequiredFilesXml>"+html.EscapeString(`<files><file type="media" id="x"/></files>`)+"</RequiredFilesXml>")

	_, err := client.RequiredFiles(context.Background())
	var fault *FaultError
	require.True(t, errors.As(err, &fault))
}

func TestGetFileDecodesChunk(t *testing.T) {
	fake, client := newFakeCMS(t)
	fake.reply("GetFile", "<file>"+base64.StdEncoding.EncodeToString([]byte("hello"))+"</file>")

	data, err := client.GetFile(context.Background(), 7, model.FileMedia, 0, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)

	req := fake.request("GetFile")
	assert.Contains(t, req, `<fileId xsi:type="xsd:int">7</fileId>`)
	assert.Contains(t, req, `<chuckSize xsi:type="xsd:double">5</chuckSize>`)
}

func TestSuccessFalseIsFault(t *testing.T) {
	fake, client := newFakeCMS(t)
	fake.reply("MediaInventory", "<success>false</success>")

	err := client.MediaInventory(context.Background(), []model.InventoryItem{{Type: model.FileMedia, ID: 7, Complete: true}})
	require.Error(t, err)
	assert.ErrorIs(t, err, errNotSuccessful)
	assert.False(t, IsConnectivity(err))
	assert.Contains(t, fake.request("MediaInventory"), `&lt;file type=&#34;media&#34; id=&#34;7&#34; complete=&#34;1&#34;&gt;`)
}

func TestNotifyCommandResult(t *testing.T) {
	fake, client := newFakeCMS(t)
	fake.reply("NotifyStatus", "<success>true</success>")

	require.NoError(t, client.NotifyCommandResult(context.Background(), true))
	assert.Contains(t, fake.request("NotifyStatus"), `lastCommandSuccess`)
}

func TestSubmitLogAndScreenshot(t *testing.T) {
	fake, client := newFakeCMS(t)
	fake.reply("SubmitLog", "<success>1</success>")
	fake.reply("SubmitScreenShot", "<success>1</success>")

	require.NoError(t, client.SubmitLog(context.Background(), []LogRecord{{Category: "error", Message: "boom"}}))
	assert.Contains(t, fake.request("SubmitLog"), "boom")

	require.NoError(t, client.SubmitScreenShot(context.Background(), []byte{0x89, 'P', 'N', 'G'}))
	assert.Contains(t, fake.request("SubmitScreenShot"), `xsi:type="xsd:base64Binary">iVBORw==</screenShot>`)
}

func TestSubmitStatsEscapesDocument(t *testing.T) {
	fake, client := newFakeCMS(t)
	fake.reply("SubmitStats", "<success>1</success>")

	doc := `<stats><stat type="layout" scheduleid="1" layoutid="6"/></stats>`
	require.NoError(t, client.SubmitStats(context.Background(), doc))
	assert.Contains(t, fake.request("SubmitStats"), `&lt;stats&gt;&lt;stat type=&#34;layout&#34;`)
}
