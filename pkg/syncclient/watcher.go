package syncclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"apk-builder-be/internal/dto"
	"apk-builder-be/internal/entity"

	"github.com/fasthttp/websocket"
)

// Watcher keeps a Mirror in sync with a session over the websocket.
type Watcher struct {
	url    string
	mirror *Mirror
	dialer *websocket.Dialer

	// OnChange, if set, runs after every snapshot or applied delta.
	OnChange func(env entity.Envelope)

	writeMu sync.Mutex
}

// NewWatcher targets wsBase (e.g. ws://localhost:3000/api/app-builder/ws).
func NewWatcher(wsBase, connectionID string, mirror *Mirror) (*Watcher, error) {
	u, err := url.Parse(wsBase)
	if err != nil {
		return nil, fmt.Errorf("parse websocket url: %w", err)
	}
	q := u.Query()
	q.Set("connectionId", connectionID)
	u.RawQuery = q.Encode()

	return &Watcher{
		url:    u.String(),
		mirror: mirror,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}, nil
}

// Run reads until ctx is cancelled or the server closes the socket.
func (w *Watcher) Run(ctx context.Context) error {
	conn, _, err := w.dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", w.url, err)
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		w.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		w.writeMu.Unlock()
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		if w.handle(data) == Gap {
			if err := w.requestState(conn); err != nil {
				return err
			}
		}
	}
}

func (w *Watcher) handle(data []byte) Result {
	var msg dto.WsInbound
	if err := json.Unmarshal(data, &msg); err != nil {
		return Stale
	}

	result := Stale
	switch msg.Type {
	case dto.WsTypeState:
		var env entity.Envelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			return Stale
		}
		w.mirror.ApplySnapshot(env)
		result = Applied
	case dto.WsTypeStepPatch:
		var delta entity.StepDelta
		if err := json.Unmarshal(msg.Data, &delta); err != nil {
			return Stale
		}
		result = w.mirror.ApplyStepDelta(delta)
	case dto.WsTypeLogUpdate:
		var delta entity.LogDelta
		if err := json.Unmarshal(msg.Data, &delta); err != nil {
			return Stale
		}
		result = w.mirror.ApplyLogDelta(delta)
	}

	if result == Applied && w.OnChange != nil {
		w.OnChange(w.mirror.Snapshot())
	}
	return result
}

func (w *Watcher) requestState(conn *websocket.Conn) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	payload, _ := json.Marshal(dto.WsMessage{Type: dto.WsTypeGetState})
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("request state: %w", err)
	}
	return nil
}
