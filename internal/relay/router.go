package relay

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	middlewareChi "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type RouterOptions struct {
	AllowedOrigins []string // default: any
}

func NewRouter(h *Handler, ws *WSServer, auth *Authenticator, opts RouterOptions) http.Handler {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middlewareChi.RequestID)
	r.Use(middlewareChi.RealIP)
	r.Use(middlewareChi.Recoverer)
	r.Use(requestLog(h.log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-ID", "X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(pr chi.Router) {
		pr.Use(auth.Middleware)

		// websocket: no timeout, the connection is long lived
		pr.Get("/ws", ws.HandleWS)

		pr.Group(func(rest chi.Router) {
			rest.Use(middlewareChi.Timeout(30 * time.Second))

			rest.Route("/users", func(ur chi.Router) {
				ur.Post("/connect-admin", h.ConnectAdmin)
				ur.Post("/disconnect-admin", h.DisconnectAdmin)
				ur.Get("/online-users", h.OnlineUsers)
			})
			rest.Route("/messages", func(mr chi.Router) {
				mr.Post("/", h.CreateMessage)
				mr.With(touchMember(h.svc.Store(), h.log)).Get("/room/{roomId}", h.RoomMessages)
				mr.Get("/rooms/detailed", h.DetailedRooms)
			})
		})
	})

	return r
}
