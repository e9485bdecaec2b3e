// README: Chat service: message persistence, history reads, socket relays and request status pushes.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"roadside/internal/types"
)

type Repository interface {
	Insert(ctx context.Context, m *Message) error
	History(ctx context.Context, requestID types.ID) ([]*Message, error)
}

// Publisher delivers an encoded frame to a room, locally (Hub) or across instances (Broker).
type Publisher interface {
	Publish(ctx context.Context, room types.ID, frame []byte) error
}

type Service struct {
	store Repository
	pub   Publisher
	hub   *Hub
	log   logrus.FieldLogger
	now   func() time.Time
}

func NewService(store Repository, pub Publisher, hub *Hub, log logrus.FieldLogger) *Service {
	return &Service{store: store, pub: pub, hub: hub, log: log, now: time.Now}
}

// Send stores the message. It does not publish: the sender announces the
// stored message on the socket with send_message, and that relay is the one
// live delivery each message gets.
func (s *Service) Send(ctx context.Context, cmd SendCommand) (*Message, error) {
	role, err := validate(cmd)
	if err != nil {
		return nil, err
	}

	m := &Message{
		ID:         types.NewID(),
		RequestID:  cmd.RequestID,
		SenderID:   cmd.SenderID,
		SenderRole: role,
		Message:    cmd.Message,
		Timestamp:  s.now().UTC().Truncate(time.Millisecond),
	}
	if err := s.store.Insert(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

func validate(cmd SendCommand) (Role, error) {
	if cmd.RequestID == "" || cmd.SenderID == "" {
		return "", fmt.Errorf("%w: requestId and senderId are required", ErrInvalidInput)
	}
	role, ok := ParseRole(cmd.SenderRole)
	if !ok {
		return "", fmt.Errorf("%w: senderRole must be driver or mechanic", ErrInvalidInput)
	}
	if strings.TrimSpace(cmd.Message) == "" {
		return "", fmt.Errorf("%w: message is empty", ErrInvalidInput)
	}
	return role, nil
}

func (s *Service) History(ctx context.Context, requestID types.ID) ([]*Message, error) {
	if requestID == "" {
		return nil, fmt.Errorf("%w: requestId is required", ErrInvalidInput)
	}
	return s.store.History(ctx, requestID)
}

// Broadcast publishes {event, data} to the room named by the request id.
func (s *Service) Broadcast(ctx context.Context, room types.ID, event string, data any) error {
	frame, err := EncodeFrame(event, data)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", event, err)
	}
	return s.pub.Publish(ctx, room, frame)
}

func (s *Service) Hub() *Hub { return s.hub }
