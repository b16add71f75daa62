package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/response"
	"github.com/stemsi/exstem-session/internal/service"
	"github.com/stemsi/exstem-session/internal/session"
	"github.com/stemsi/exstem-session/internal/validator"
	ws "github.com/stemsi/exstem-session/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams a live assessment session over a WebSocket.
type WSHandler struct {
	registry *service.SessionRegistry
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(registry *service.SessionRegistry, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		registry: registry,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/student/assessments/:assessment_id/session
// Opens the student's session for the assessment and relays its events.
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	assessmentID, err := uuid.Parse(c.Param("assessment_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.Wrap(raw)
	defer conn.Close()

	wsLog := h.log.With().
		Int("student_id", claims.UserID).
		Str("assessment_id", assessmentID.String()).
		Logger()

	ctrl := h.registry.Open(assessmentID, claims.UserID)
	defer h.registry.Release(ctrl)

	wsLog.Info().Msg("Student connected")

	go h.pump(conn, ctrl)

	ctx := c.Request.Context()
	for {
		var req ws.Request
		if err := conn.ReadRequest(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		if fields := validator.Struct(&req); fields != nil {
			conn.WriteTyped(ws.ErrorResponse{
				Event:  ws.EventError,
				Action: req.Action,
				Kind:   string(session.KindValidation),
				Error:  "invalid request",
				Fields: fields,
			})
			continue
		}

		if err := h.dispatch(ctx, conn, ctrl, &req); err != nil {
			if errors.Is(err, session.ErrClosed) {
				conn.WriteError(req.Action, "", "session taken over by another connection")
				return
			}
			wsLog.Debug().Err(err).Str("action", string(req.Action)).Msg("Action rejected")
			conn.WriteError(req.Action, errorKind(err), err.Error())
		}
	}
}

// pump relays session events until the session closes, then closes the
// connection so the reader returns.
func (h *WSHandler) pump(conn *ws.Conn, ctrl *session.Controller) {
	for ev := range ctrl.Events() {
		if err := conn.WriteTyped(ws.SessionEvent{Event: ws.Event(ev.Type), Data: ev}); err != nil {
			break
		}
	}
	conn.Close()
}

func (h *WSHandler) dispatch(ctx context.Context, conn *ws.Conn, ctrl *session.Controller, req *ws.Request) error {
	switch req.Action {
	case ws.ActionPing:
		return conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})

	case ws.ActionLoad:
		snap, err := ctrl.Load(ctx)
		if err != nil && snap.State != session.StateError {
			return err
		}
		out := ws.StateResponse{Event: ws.EventState, Snapshot: snap}
		if snap.State == session.StateReady || snap.State == session.StateInProgress {
			out.Questions, _ = ctrl.Paper()
		}
		return conn.WriteTyped(out)

	case ws.ActionStart:
		snap, err := ctrl.Start(ctx)
		if err != nil && snap.State != session.StateError {
			return err
		}
		return conn.WriteTyped(ws.StateResponse{Event: ws.EventState, Snapshot: snap})

	case ws.ActionConfirmSubmit:
		snap, err := ctrl.ConfirmSubmit(ctx)
		if err != nil && snap.State != session.StateError {
			return err
		}
		return conn.WriteTyped(ws.StateResponse{Event: ws.EventState, Snapshot: snap})
	}

	if err := h.mutate(ctrl, req); err != nil {
		return err
	}
	snap, err := ctrl.Snapshot()
	if err != nil {
		return err
	}
	return conn.WriteTyped(ws.StateResponse{Event: ws.EventState, Snapshot: snap})
}

// mutate applies the actions answered with a fresh snapshot.
func (h *WSHandler) mutate(ctrl *session.Controller, req *ws.Request) error {
	switch req.Action {
	case ws.ActionAnswer, ws.ActionAnswerPart, ws.ActionNavigate, ws.ActionFlag:
		if req.Index == nil {
			return session.NewValidationError(string(req.Action), errIndexRequired)
		}
	}

	switch req.Action {
	case ws.ActionAnswer:
		return ctrl.SetAnswer(*req.Index, req.Value)
	case ws.ActionAnswerPart:
		if req.Part == nil {
			return session.NewValidationError(string(req.Action), errPartRequired)
		}
		return ctrl.SetPart(*req.Index, *req.Part, req.Value)
	case ws.ActionNavigate:
		_, err := ctrl.Navigate(*req.Index)
		return err
	case ws.ActionFlag:
		_, err := ctrl.ToggleFlag(*req.Index)
		return err
	case ws.ActionRequestSubmit:
		_, err := ctrl.RequestSubmit()
		return err
	case ws.ActionCancelSubmit:
		return ctrl.CancelSubmit()
	default:
		return session.NewValidationError(string(req.Action), errUnknownAction)
	}
}

var (
	errIndexRequired = errors.New("index is required")
	errPartRequired  = errors.New("part is required")
	errUnknownAction = errors.New("unknown action")
)

func errorKind(err error) string {
	if k := session.KindOf(err); k != "" {
		return string(k)
	}
	switch {
	case errors.Is(err, session.ErrWrongState):
		return "wrong_state"
	case errors.Is(err, session.ErrNoConfirmation):
		return "no_confirmation"
	}
	return ""
}
