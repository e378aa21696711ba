package realtime

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	v1 "wren/contracts/realtime/v1"
)

// Delivery orchestrates the send-message and read-receipt fan-out protocols.
//
// Persistence always happens before Delivery sees a payload: the REST layer
// stores the message (or read receipt) and the client echoes the persisted
// result over the socket. Delivery therefore never writes to storage and
// never broadcasts an unpersisted fact.
type Delivery struct {
	log   *slog.Logger
	rooms *Router
}

// NewDelivery constructs a Delivery coordinator over the given Router.
func NewDelivery(log *slog.Logger, rooms *Router) *Delivery {
	return &Delivery{log: log, rooms: rooms}
}

// FanOutMessage delivers an already-persisted message to every chat member's
// personal room except the sender. Fire-and-forget: delivery confidence comes
// from the REST call that persisted the message, not from the socket echo.
//
// A chat payload without a populated users list is refused before any
// fan-out: partially-populated persistence results must not reach the wire.
func (d *Delivery) FanOutMessage(msg v1.Message) error {
	if strings.TrimSpace(msg.ID) == "" || strings.TrimSpace(msg.Sender.ID) == "" {
		d.log.Warn("delivery.message.malformed", "message_id", msg.ID, "reason", "missing ids")
		return ErrMalformedPayload
	}
	if len(msg.Chat.Users) == 0 {
		d.log.Warn("delivery.message.malformed", "message_id", msg.ID, "chat_id", msg.Chat.ID, "reason", "chat users not populated")
		return ErrMalformedPayload
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	env := NewEnvelope(v1.TypeMessageReceived, payload, time.Now().UTC())

	for _, u := range msg.Chat.Users {
		if u.ID == "" || u.ID == msg.Sender.ID {
			continue
		}
		d.rooms.Broadcast(u.ID, env)
	}

	d.log.Info("delivery.message", "message_id", msg.ID, "chat_id", msg.Chat.ID, "sender_id", msg.Sender.ID)
	return nil
}

// FanOutReadReceipt delivers a read receipt to the chat's room, excluding the
// reader's own session. The persistence write (readBy set-insert) has already
// happened via the REST layer; this is relay only.
func (d *Delivery) FanOutReadReceipt(rr v1.MessageReadPayload, excludeSession string) error {
	if strings.TrimSpace(rr.MessageID) == "" || strings.TrimSpace(rr.ChatID) == "" || strings.TrimSpace(rr.ReaderID) == "" {
		d.log.Warn("delivery.read.malformed", "message_id", rr.MessageID, "chat_id", rr.ChatID, "reader_id", rr.ReaderID)
		return ErrMalformedPayload
	}

	payload, err := json.Marshal(v1.MessageReadUpdatePayload{
		MessageID: rr.MessageID,
		ReadBy:    rr.ReaderID,
	})
	if err != nil {
		return err
	}

	env := NewEnvelope(v1.TypeMessageReadUpdate, payload, time.Now().UTC())
	d.rooms.Broadcast(rr.ChatID, env, excludeSession)

	d.log.Info("delivery.read", "message_id", rr.MessageID, "chat_id", rr.ChatID, "reader_id", rr.ReaderID)
	return nil
}
