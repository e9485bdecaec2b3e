// README: Socket session: interprets client frames against the hub on behalf of one connection.
package chat

import (
	"context"
	"encoding/json"

	"roadside/internal/types"
)

// Session is one connection's view of the hub. Identity is the authenticated
// caller; an empty id disables the sender check (auth provider "none").
type Session struct {
	svc    *Service
	sub    *Subscriber
	caller types.ID
}

func (s *Service) Open(caller types.ID) *Session {
	return &Session{svc: s, sub: s.hub.NewSubscriber(), caller: caller}
}

// Outbound yields frames for the connection writer; it closes after Close.
func (ss *Session) Outbound() <-chan []byte { return ss.sub.Messages() }

func (ss *Session) Subscriber() *Subscriber { return ss.sub }

func (ss *Session) Close() { ss.svc.hub.LeaveAll(ss.sub) }

// Handle applies one client frame. Protocol errors are queued back to this
// connection as error frames rather than returned.
func (ss *Session) Handle(ctx context.Context, raw []byte) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		ss.reply("malformed frame")
		return
	}

	switch f.Event {
	case EventJoinRoom, EventLeaveRoom:
		var room types.ID
		if err := json.Unmarshal(f.Data, &room); err != nil || room == "" {
			ss.reply(f.Event + " expects a request id")
			return
		}
		if f.Event == EventJoinRoom {
			ss.svc.hub.Join(room, ss.sub)
		} else {
			ss.svc.hub.Leave(room, ss.sub)
		}
	case EventSendMessage:
		var p relayPayload
		if err := json.Unmarshal(f.Data, &p); err != nil {
			ss.reply("send_message expects {requestId, senderId, senderRole, message}")
			return
		}
		role, err := validate(SendCommand{RequestID: p.RequestID, SenderID: p.SenderID, SenderRole: p.SenderRole, Message: p.Message})
		if err != nil {
			ss.reply(err.Error())
			return
		}
		if ss.caller != "" && p.SenderID != ss.caller {
			ss.reply(ErrUnauthorized.Error())
			return
		}
		p.SenderRole = string(role)
		if err := ss.svc.Broadcast(ctx, p.RequestID, EventReceiveMessage, p); err != nil {
			ss.svc.log.WithError(err).WithField("request_id", p.RequestID).Warn("chat relay failed")
			ss.reply("relay failed")
		}
	default:
		ss.reply("unknown event " + f.Event)
	}
}

func (ss *Session) reply(msg string) {
	frame, err := EncodeFrame(EventError, map[string]string{"message": msg})
	if err != nil {
		return
	}
	ss.svc.hub.Send(ss.sub, frame)
}
