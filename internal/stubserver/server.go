// Package stubserver is an in-process, mmchat-compatible chat server: the
// REST surface and channel events the client consumes, nothing more. It
// backs the demo CLI for local development and the integration tests.
package stubserver

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Local stub; no origin policy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type Server struct {
	DB     *sql.DB
	Hub    *hub
	Engine *gin.Engine

	driver string
	secret string
	ttlMin int
	log    *slog.Logger
}

// New wires routes and starts the hub. driver is "sqlite" or "postgres"
// and decides placeholder style and insert-id retrieval; tokenTTLMin is the
// lifetime of issued tokens in minutes.
func New(db *sql.DB, driver, jwtSecret string, tokenTTLMin int, log *slog.Logger) *Server {
	s := &Server{
		DB:     db,
		driver: driver,
		secret: jwtSecret,
		ttlMin: tokenTTLMin,
		log:    log,
	}
	s.Hub = newHub(db, s.q, log)
	go s.Hub.Run()

	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery())

	api := e.Group("/api")
	api.POST("/signup", s.signup)
	api.POST("/login", s.login)
	api.GET("/ws", s.handleWS)

	authed := api.Group("")
	authed.Use(jwtMiddleware(jwtSecret))
	authed.GET("/conversations", s.listConversations)
	authed.POST("/conversations/private", s.createOrGetPrivate)
	authed.POST("/conversations/group", s.createGroup)
	authed.GET("/conversations/:id/messages", s.listMessages)
	authed.PUT("/messages/:id", s.updateMessage)

	s.Engine = e
	return s
}

// Handler exposes the router, e.g. for httptest.NewServer.
func (s *Server) Handler() http.Handler { return s.Engine }

// Close stops the hub. Open websocket connections die with their server.
func (s *Server) Close() { s.Hub.Stop() }

// q rebinds ?-style placeholders to $n for postgres.
func (s *Server) q(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// insert runs an INSERT and returns the new row id; lib/pq has no
// LastInsertId, so postgres goes through RETURNING.
func (s *Server) insert(query string, args ...any) (int64, error) {
	if s.driver == "postgres" {
		var id int64
		err := s.DB.QueryRow(s.q(query)+" RETURNING id", args...).Scan(&id)
		return id, err
	}
	res, err := s.DB.Exec(s.q(query), args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Server) handleWS(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		h := c.GetHeader("Authorization")
		if strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimPrefix(h, "Bearer ")
		}
	}
	if token == "" {
		fail(c, http.StatusUnauthorized, "missing token")
		return
	}
	cl, err := parseToken(s.secret, token)
	if err != nil {
		fail(c, http.StatusUnauthorized, "invalid token")
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := &wsClient{
		srv:    s,
		hub:    s.Hub,
		conn:   conn,
		send:   make(chan []byte, 256),
		userID: cl.UserID,
	}
	s.Hub.register <- client

	go client.writePump()
	go client.readPump()
}
