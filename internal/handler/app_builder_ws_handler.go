package handler

import (
	"apk-builder-be/internal/dto"
	"apk-builder-be/internal/pkg/apperror"
	"apk-builder-be/internal/pkg/logger"
	"apk-builder-be/internal/pkg/serverutils"
	"apk-builder-be/internal/service"
	internalWS "apk-builder-be/internal/websocket"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// AppBuilderWsHandler subscribes a socket to one session's pipeline.
type AppBuilderWsHandler struct {
	sessionService  service.ISessionService
	pipelineService service.IPipelineService
	hub             *internalWS.Hub
	logger          logger.ILogger
}

func NewAppBuilderWsHandler(
	sessionService service.ISessionService,
	pipelineService service.IPipelineService,
	hub *internalWS.Hub,
	log logger.ILogger,
) *AppBuilderWsHandler {
	return &AppBuilderWsHandler{
		sessionService:  sessionService,
		pipelineService: pipelineService,
		hub:             hub,
		logger:          log,
	}
}

// ServeWs validates the connection id before upgrading, then sends
// "connected" followed by a "state" snapshot.
func (h *AppBuilderWsHandler) ServeWs(c *fiber.Ctx) error {
	connectionID := c.Query("connectionId")
	if connectionID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(serverutils.ErrorResponse(400, "Missing connectionId"))
	}
	if _, err := h.sessionService.Get(connectionID); err != nil {
		h.logger.Warn("AppBuilderWs", "Unknown connectionId in WS handshake", map[string]interface{}{"connection_id": connectionID})
		return err
	}

	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	return websocket.New(func(conn *websocket.Conn) {
		client := internalWS.NewClient(h.hub, conn, connectionID)
		if !h.sessionService.AttachSubscriber(connectionID, client.ID) {
			// Evicted between the handshake check and the upgrade.
			client.Enqueue(dto.WsMessage{Type: dto.WsTypeError, Data: apperror.ErrInvalidSession.Message})
			conn.Close()
			return
		}
		defer h.sessionService.DetachSubscriber(connectionID, client.ID)

		h.logger.Info("AppBuilderWs", "Starting WebSocket session", map[string]interface{}{
			"connection_id": connectionID,
			"client_id":     client.ID,
		})

		client.Enqueue(dto.WsMessage{Type: dto.WsTypeConnected, Data: dto.ConnectedPayload{ConnectionID: connectionID}})
		internalWS.Serve(client, h.sendState, h.onMessage)

		h.logger.Info("AppBuilderWs", "WebSocket session ended", map[string]interface{}{
			"connection_id": connectionID,
			"client_id":     client.ID,
		})
	})(c)
}

func (h *AppBuilderWsHandler) sendState(client *internalWS.Client) {
	env, err := h.pipelineService.Snapshot(client.SessionID)
	if err != nil {
		client.Enqueue(dto.WsMessage{Type: dto.WsTypeError, Data: apperror.ErrInvalidSession.Message})
		return
	}
	client.Enqueue(dto.WsMessage{Type: dto.WsTypeState, Data: env})
}

func (h *AppBuilderWsHandler) onMessage(client *internalWS.Client, msg dto.WsInbound) {
	switch msg.Type {
	case dto.WsTypeGetState:
		h.sendState(client)
	default:
		client.Enqueue(dto.WsMessage{Type: dto.WsTypeError, Data: "unknown message type: " + msg.Type})
	}
}

func (h *AppBuilderWsHandler) RegisterRoutes(router fiber.Router) {
	router.Get("/app-builder/ws", h.ServeWs)
}
