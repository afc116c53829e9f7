package xmr

import (
	"crypto/rand"
	"crypto/rc4"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

var (
	ErrExpired           = errors.New("push message expired")
	ErrUnsupportedAction = errors.New("unsupported push action")
)

type EventKind string

const (
	EventCollectNow EventKind = "collect_now"
	EventScreenshot EventKind = "screenshot"
	EventPurgeAll   EventKind = "purge_all"
	EventWebhook    EventKind = "webhook"
	EventCommand    EventKind = "command"
)

// Event is a decoded, unexpired push instruction. Code carries the trigger
// or command code for webhook and command events.
type Event struct {
	Kind EventKind
	Code string
}

// Message is the decrypted JSON body of a push message.
type Message struct {
	Action      string `json:"action"`
	CreatedDt   string `json:"createdDt"`
	TTL         int64  `json:"ttl"`
	TriggerCode string `json:"triggerCode,omitempty"`
	CommandCode string `json:"commandCode,omitempty"`
}

// Decrypt opens one push message: key is the base64 RSA-encrypted RC4 key,
// payload the base64 RC4-encrypted JSON body.
func Decrypt(priv *rsa.PrivateKey, key, payload []byte) (Message, error) {
	encKey, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(key)))
	if err != nil {
		return Message{}, fmt.Errorf("decode key frame: %w", err)
	}
	body, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(payload)))
	if err != nil {
		return Message{}, fmt.Errorf("decode payload frame: %w", err)
	}
	symKey, err := rsa.DecryptPKCS1v15(rand.Reader, priv, encKey)
	if err != nil {
		return Message{}, fmt.Errorf("decrypt message key: %w", err)
	}
	cipher, err := rc4.NewCipher(symKey)
	if err != nil {
		return Message{}, fmt.Errorf("message key: %w", err)
	}
	cipher.XORKeyStream(body, body)

	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	return msg, nil
}

// Event maps the message to an instruction for the collect loop. Expired
// messages and unknown actions yield ErrExpired and ErrUnsupportedAction.
func (m Message) Event(now time.Time) (Event, error) {
	created, err := time.Parse(time.RFC3339, m.CreatedDt)
	if err != nil {
		return Event{}, fmt.Errorf("message createdDt: %w", err)
	}
	if created.Add(time.Duration(m.TTL) * time.Second).Before(now) {
		return Event{}, ErrExpired
	}

	switch m.Action {
	case "collectNow", "rekeyAction":
		// a rekey is served by the next registration, which resends the public key
		return Event{Kind: EventCollectNow}, nil
	case "screenShot":
		return Event{Kind: EventScreenshot}, nil
	case "purgeAll":
		return Event{Kind: EventPurgeAll}, nil
	case "triggerWebhook":
		return Event{Kind: EventWebhook, Code: m.TriggerCode}, nil
	case "commandAction":
		return Event{Kind: EventCommand, Code: m.CommandCode}, nil
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnsupportedAction, m.Action)
	}
}
