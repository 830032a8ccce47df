// Package inbound normalizes the chat gateway's inbound webhook envelope
// and dispatches a normalized message through the opt-out check, the
// no-show reply handler, and finally the dialogue collaborator handoff.
package inbound

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var phoneDigitsRe = regexp.MustCompile(`[0-9]`)

// Envelope is the webhook payload shape described in the external
// interfaces contract: a platform event kind, an instance identifier, and
// one message object.
type Envelope struct {
	Event    string  `json:"event"`
	Instance string  `json:"instance"`
	Data     Message `json:"data"`
}

// Message is the inbound message object nested in the webhook envelope.
type Message struct {
	Key struct {
		RemoteJID string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
		ID        string `json:"id"`
	} `json:"key"`
	Message struct {
		Conversation string `json:"conversation"`
		Caption      string `json:"caption"`
	} `json:"message"`
	PushName  string `json:"pushName"`
	Timestamp int64  `json:"messageTimestamp"`
}

// Normalized is the envelope reduced to what the core's dispatch needs.
type Normalized struct {
	Instance  string
	Phone     string
	Text      string
	PushName  string
	RemoteID  string
	Timestamp int64
}

// ErrIgnored indicates the inbound message is not dispatchable: an
// echo-of-own-outbound (from_me) entry, or one carrying neither text nor a
// caption.
var ErrIgnored = fmt.Errorf("inbound: message ignored")

// ParseEnvelope decodes and normalizes a webhook payload.
func ParseEnvelope(body []byte) (Normalized, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Normalized{}, fmt.Errorf("inbound: decode envelope: %w", err)
	}
	return normalize(env)
}

func normalize(env Envelope) (Normalized, error) {
	if env.Data.Key.FromMe {
		return Normalized{}, ErrIgnored
	}
	text := env.Data.Message.Conversation
	if text == "" {
		text = env.Data.Message.Caption
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Normalized{}, ErrIgnored
	}
	phone := digitsOnlyE164(env.Data.Key.RemoteJID)
	if phone == "" {
		return Normalized{}, fmt.Errorf("inbound: missing sender phone")
	}
	return Normalized{
		Instance:  env.Instance,
		Phone:     phone,
		Text:      text,
		PushName:  env.Data.PushName,
		RemoteID:  env.Data.Key.ID,
		Timestamp: env.Data.Timestamp,
	}, nil
}

// digitsOnlyE164 strips everything but digits, including the WhatsApp
// remoteJid's "@s.whatsapp.net" device suffix.
func digitsOnlyE164(value string) string {
	digits := phoneDigitsRe.FindAllString(value, -1)
	return strings.Join(digits, "")
}
