package chatclient

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	domainchat "rentchat/internal/domain/chat"
	"rentchat/internal/infra/realtime/protocol"
)

// session is one physical websocket. Reconnects replace it wholesale.
type session struct {
	ws   *websocket.Conn
	out  chan []byte
	done chan struct{}
	once sync.Once
}

// enqueue never blocks.
func (s *session) enqueue(ev protocol.Event) error {
	data, err := protocol.Encode(ev, time.Now())
	if err != nil {
		return err
	}
	select {
	case <-s.done:
		return ErrNotConnected
	default:
	}
	select {
	case s.out <- data:
		return nil
	default:
		return fmt.Errorf("%w: send queue full", domainchat.ErrGatewayUnavailable)
	}
}

func (s *session) writer(timeout time.Duration, logger *slog.Logger) {
	for {
		select {
		case <-s.done:
			return
		case data := <-s.out:
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			err := s.ws.Write(ctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logger.Info("chat.write.fail", "error", err)
				s.close(false, "write failed")
				return
			}
		}
	}
}

func (s *session) close(graceful bool, reason string) {
	s.once.Do(func() {
		close(s.done)
		if graceful {
			_ = s.ws.Close(websocket.StatusNormalClosure, reason)
			return
		}
		_ = s.ws.CloseNow()
	})
}
