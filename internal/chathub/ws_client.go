package chathub

import (
	"context"
	"encoding/json"
	"fmt"
	"sparkchat/backend/internal/attachment"
	"sparkchat/backend/internal/conversation"
	"sparkchat/backend/internal/models"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	sendBuffer     = 64
)

// WebSocketClient implements Client over a gorilla websocket. Text frames carry
// Commands; binary frames carry voice note audio.
type WebSocketClient struct {
	UserID string
	Conn   *websocket.Conn
	Hub    *ManagerService
	Send   chan []byte

	session *conversation.Session
	ctx     context.Context
	cancel  context.CancelFunc
	jobs    sync.WaitGroup
	once    sync.Once
	done    chan struct{}
}

func NewWebSocketClient(hub *ManagerService, engine *conversation.Engine, userID string, conn *websocket.Conn) *WebSocketClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocketClient{
		UserID:  userID,
		Conn:    conn,
		Hub:     hub,
		Send:    make(chan []byte, sendBuffer),
		session: engine.NewSession(userID, attachment.NewStreamMicrophone()),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

func (c *WebSocketClient) GetUserID() string              { return c.UserID }
func (c *WebSocketClient) Session() *conversation.Session { return c.session }
func (c *WebSocketClient) Done() <-chan struct{}          { return c.done }

// Run starts the pumps.
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close cancels running commands, shuts the session down and stops the write pump.
func (c *WebSocketClient) Close() {
	c.once.Do(func() {
		c.cancel()
		c.session.Shutdown()
		close(c.done)
	})
}

func (c *WebSocketClient) readPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Close()
		c.jobs.Wait()
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		kind, data, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("user", c.UserID).Msg("websocket read failed")
			}
			return
		}

		if kind == websocket.BinaryMessage {
			if err := c.session.VoiceChunk(data); err != nil {
				c.reply(failure(Command{Type: CmdVoiceChunk}, err))
			}
			continue
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.reply(failure(Command{}, fmt.Errorf("%w: malformed frame: %v", models.ErrValidation, err)))
			continue
		}
		c.handle(cmd)
	}
}

// handle runs cmd and replies. Uploads run in the background so the connection
// keeps reading; everything else is applied in arrival order.
func (c *WebSocketClient) handle(cmd Command) {
	switch cmd.Type {
	case CmdAttachmentConfirm, CmdVoiceSend:
		c.jobs.Add(1)
		go func() {
			defer c.jobs.Done()
			c.reply(c.execute(cmd))
		}()
	default:
		c.reply(c.execute(cmd))
	}
}

func (c *WebSocketClient) execute(cmd Command) Reply {
	data, err := c.dispatch(c.ctx, cmd)
	if err != nil {
		log.Debug().Err(err).Str("user", c.UserID).Str("command", cmd.Type).Msg("command failed")
		return failure(cmd, err)
	}
	return ack(cmd, data)
}

func (c *WebSocketClient) dispatch(ctx context.Context, cmd Command) (interface{}, error) {
	s := c.session
	switch cmd.Type {
	case CmdOpen:
		return nil, s.Open(ctx, cmd.PeerID)
	case CmdClose:
		s.Close()
		return nil, nil
	case CmdSend:
		return c.rendered(s.Send(ctx, cmd.Content))
	case CmdTyping:
		return nil, s.NotifyTyping()
	case CmdRead:
		return nil, s.MarkAsRead(ctx)
	case CmdReact:
		added, err := s.React(ctx, cmd.MessageID, cmd.Emoji)
		if err != nil {
			return nil, err
		}
		return map[string]bool{"added": added}, nil
	case CmdDelete:
		return nil, s.DeleteMessage(ctx, cmd.MessageID, cmd.ForEveryone)
	case CmdAttachmentConfirm:
		return c.rendered(s.ConfirmAttachment(ctx))
	case CmdAttachmentCancel:
		s.CancelAttachment()
		return nil, nil
	case CmdVoiceStart:
		return nil, s.StartVoice(ctx)
	case CmdVoiceSend:
		return c.rendered(s.SendVoice(ctx))
	case CmdVoiceCancel:
		s.CancelVoice()
		return nil, nil
	case CmdCall:
		return nil, s.StartCall(ctx, models.CallType(cmd.CallType))
	default:
		return nil, fmt.Errorf("%w: unknown command %q", models.ErrValidation, cmd.Type)
	}
}

func (c *WebSocketClient) rendered(msg *models.Message, err error) (interface{}, error) {
	if err != nil {
		return nil, err
	}
	r, _ := conversation.RenderOne(*msg, c.UserID)
	return r, nil
}

// reply queues a frame. A client that cannot keep up is disconnected.
func (c *WebSocketClient) reply(r Reply) {
	data, err := json.Marshal(r)
	if err != nil {
		log.Error().Err(err).Str("user", c.UserID).Msg("encoding reply failed")
		return
	}
	select {
	case <-c.done:
	case c.Send <- data:
	default:
		log.Warn().Str("user", c.UserID).Msg("send buffer full, closing client")
		c.Close()
	}
}

func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case data := <-c.Send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				return
			}
		case u := <-c.session.Updates():
			data, err := json.Marshal(u)
			if err != nil {
				log.Error().Err(err).Str("user", c.UserID).Msg("encoding update failed")
				continue
			}
			if err := c.write(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (c *WebSocketClient) write(kind int, data []byte) error {
	c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.Conn.WriteMessage(kind, data); err != nil {
		log.Debug().Err(err).Str("user", c.UserID).Msg("websocket write failed")
		return err
	}
	return nil
}
