package websocket

import (
	"context"
	"errors"

	"codocs/core"
	"codocs/handlers/auth"
	"codocs/permissions"

	"github.com/sirupsen/logrus"
	"github.com/zishang520/engine.io/v2/types"
	socketio "github.com/zishang520/socket.io/v2/socket"
)

// serverEmitter delivers events through socket.io. Every socket is a member
// of its own id-named room, so a direct emit is a room emit.
type serverEmitter struct {
	srv *socketio.Server
}

func (e *serverEmitter) Emit(connID, event string, payload any) {
	_ = e.srv.To(socketio.Room(connID)).Emit(event, payload)
}

// SetupSocketIO builds the socket.io server and wires its events into the
// session manager. The handshake must carry a JWT minted by the auth
// handlers; connections without a valid one are closed.
func SetupSocketIO(sessions *Sessions) *socketio.Server {
	opts := socketio.DefaultServerOptions()
	opts.SetMaxHttpBufferSize(5000000)
	opts.SetPath("/socket.io")
	opts.SetAllowEIO3(true)
	opts.SetCors(&types.Cors{
		Origin:      "*",
		Credentials: true,
	})
	srv := socketio.NewServer(nil, opts)
	sessions.SetEmitter(&serverEmitter{srv: srv})

	srv.On("connection", func(clients ...any) {
		socket, ok := clients[0].(*socketio.Socket)
		if !ok {
			return
		}

		connID := string(socket.Id())
		log := logrus.WithField("conn_id", connID)

		claims, err := handshakeClaims(socket)
		if err != nil {
			log.WithError(err).Warn("Rejecting unauthenticated socket")
			_ = socket.Emit(EventError, ErrorPayload{Reason: "authentication required"})
			socket.Disconnect(true)
			return
		}

		if err := sessions.Connect(connID, claims.Subject); err != nil {
			_ = socket.Emit(EventError, ErrorPayload{Reason: reasonFor(err)})
			socket.Disconnect(true)
			return
		}

		socket.On(EventJoinDocument, func(datas ...any) {
			docID, _, ok := eventFields(datas)
			if !ok || docID == "" {
				_ = socket.Emit(EventError, ErrorPayload{Reason: reasonFor(ErrBadEvent)})
				return
			}

			content, err := sessions.Join(context.Background(), connID, docID)
			if err != nil {
				log.WithField("document_id", docID).WithError(err).Warn("Join rejected")
				_ = socket.Emit(EventError, ErrorPayload{Reason: reasonFor(err)})
				return
			}

			_ = socket.Emit(EventJoined, JoinedPayload{
				Message: "Successfully joined document room.",
				Content: content,
			})
		})

		socket.On(EventUpdateDocument, func(datas ...any) {
			docID, content, ok := eventFields(datas)
			if !ok || docID == "" {
				_ = socket.Emit(EventError, ErrorPayload{Reason: reasonFor(ErrBadEvent)})
				return
			}

			if err := sessions.Edit(context.Background(), connID, docID, content); err != nil {
				log.WithField("document_id", docID).WithError(err).Warn("Edit rejected")
				_ = socket.Emit(EventError, ErrorPayload{Reason: reasonFor(err)})
			}
		})

		socket.On("disconnecting", func(datas ...any) {
			sessions.Disconnect(connID)
			log.Debug("Socket disconnecting")
		})

		socket.On("disconnect", func(datas ...any) {
			socket.RemoveAllListeners("")
			socket.Disconnect(true)
		})
	})

	return srv
}

// handshakeClaims verifies the JWT supplied in the socket.io auth payload.
func handshakeClaims(socket *socketio.Socket) (*auth.AppClaims, error) {
	payload, ok := socket.Handshake().Auth.(map[string]any)
	if !ok {
		return nil, ErrUnauthenticated
	}

	token, _ := payload["token"].(string)
	if token == "" {
		return nil, ErrUnauthenticated
	}

	claims, err := auth.ParseJWT(token)
	if err != nil {
		return nil, ErrUnauthenticated
	}
	return claims, nil
}

// eventFields pulls docId and content out of an event payload. Clients send
// a single JSON object argument.
func eventFields(datas []any) (docID, content string, ok bool) {
	if len(datas) == 0 {
		return "", "", false
	}

	fields, ok := datas[0].(map[string]any)
	if !ok {
		return "", "", false
	}

	docID, _ = fields["docId"].(string)
	content, _ = fields["content"].(string)
	return docID, content, true
}

// reasonFor maps internal errors to the reason strings clients see, so a
// denied request is distinguishable from a failing one.
func reasonFor(err error) string {
	switch {
	case errors.Is(err, permissions.ErrAccessDenied):
		return "access denied"
	case errors.Is(err, core.ErrNotFound):
		return "document not found"
	case errors.Is(err, ErrUnauthenticated):
		return "authentication required"
	case errors.Is(err, ErrBadEvent):
		return "malformed event"
	case errors.Is(err, context.DeadlineExceeded):
		return "document load timed out"
	default:
		return "internal error"
	}
}
