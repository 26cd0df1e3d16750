package api

import (
	"ZapDesk/internal/config"
	"ZapDesk/internal/http-server/handlers/chats"
	"ZapDesk/internal/http-server/handlers/errors"
	"ZapDesk/internal/http-server/handlers/identity"
	"ZapDesk/internal/http-server/middleware/authenticate"
	"ZapDesk/internal/http-server/middleware/timeout"
	"ZapDesk/internal/lib/sl"
	"ZapDesk/internal/transport/whatsapp"
	"ZapDesk/internal/ws"
	"fmt"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"log/slog"
	"net"
	"net/http"
)

type Server struct {
	conf       *config.Config
	httpServer *http.Server
	log        *slog.Logger
}

type Handler interface {
	authenticate.Authenticate
	chats.Core
	identity.Core
}

// New builds the router and starts serving. Blocks until the listener
// fails. Webhook and WebSocket endpoints sit outside the Bearer-auth
// group: the webhook is verified by signature, the socket by query
// token.
func New(conf *config.Config, log *slog.Logger, handler Handler, hub *ws.Hub, gateway *whatsapp.Gateway) error {

	server := Server{
		conf: conf,
		log:  log.With(sl.Module("api.server")),
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)

	router.NotFound(errors.NotFound(log))
	router.MethodNotAllowed(errors.NotAllowed(log))

	if gateway != nil {
		router.Route("/webhook/whatsapp", func(r chi.Router) {
			r.Get("/", gateway.HandleWebhookVerification)
			r.Post("/", gateway.HandleWebhook)
		})
	}

	if hub != nil {
		router.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
			ws.ServeWs(hub, handler, log, w, r)
		})
	}

	router.Route("/api/v1", func(v1 chi.Router) {
		v1.Use(timeout.Timeout(5))
		v1.Use(render.SetContentType(render.ContentTypeJSON))
		v1.Use(authenticate.New(log, handler))

		v1.Route("/chats", func(r chi.Router) {
			r.Get("/", chats.ListConversations(log, handler))
			r.Get("/unread", chats.UnreadCounts(log, handler))
			r.Post("/messages", chats.GetMessages(log, handler))
			r.Post("/send", chats.SendMessage(log, handler))
			r.Post("/read", chats.MarkRead(log, handler))
		})
		v1.Route("/identity", func(r chi.Router) {
			r.Post("/resolve", identity.Resolve(log, handler))
			r.Post("/prime", identity.Prime(log, handler))
		})
	})

	httpLog := slog.NewLogLogger(log.Handler(), slog.LevelError)
	server.httpServer = &http.Server{
		Handler:  router,
		ErrorLog: httpLog,
	}

	serverAddress := fmt.Sprintf("%s:%s", conf.Listen.BindIP, conf.Listen.Port)
	listener, err := net.Listen("tcp", serverAddress)
	if err != nil {
		return err
	}

	server.log.Info("starting api server", slog.String("address", serverAddress))

	return server.httpServer.Serve(listener)
}
