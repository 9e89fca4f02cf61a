// Package api exposes the mailbox service over HTTP using fiber.
package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/shineum/maildeck/internal/auth"
	"github.com/shineum/maildeck/internal/mailbox"
)

// defaultBodyLimit is 25 MB in bytes.
const defaultBodyLimit = 26214400

// SenderDirectory lists the permitted senders and refreshes the cached list.
type SenderDirectory interface {
	List(ctx context.Context) ([]string, error)
	Refresh(ctx context.Context) ([]string, error)
}

// Config holds HTTP server settings.
type Config struct {
	BodyLimit int
	// LoginRatePerMinute bounds login attempts per client IP. Zero disables
	// the limit.
	LoginRatePerMinute int
}

// Server is the HTTP front end of a mailbox service.
type Server struct {
	app     *fiber.App
	mailbox *mailbox.Service
	auth    *auth.Manager
	senders SenderDirectory
	limiter *loginLimiter
	now     func() time.Time
}

// New creates a Server and registers its routes.
func New(svc *mailbox.Service, authManager *auth.Manager, senders SenderDirectory, cfg Config) *Server {
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = defaultBodyLimit
	}

	s := &Server{
		mailbox: svc,
		auth:    authManager,
		senders: senders,
		limiter: newLoginLimiter(cfg.LoginRatePerMinute, time.Now),
		now:     time.Now,
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "maildeck",
		BodyLimit:             cfg.BodyLimit,
		DisableStartupMessage: true,
		ErrorHandler:          ErrorHandler,
	})
	s.app.Use(recover.New())
	s.app.Use(requestid.New())
	s.app.Use(requestLogger())

	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Get("/health", s.health)
	s.app.Post("/login", s.limiter.handler(), s.login)

	// Auth is attached per route so unknown paths still fall through to 404.
	authed := requireAuth(s.auth)
	s.app.Get("/inbox", authed, s.listFolder(mailbox.Inbox))
	s.app.Get("/sent", authed, s.listFolder(mailbox.Sent))
	s.app.Get("/trash", authed, s.listFolder(mailbox.Trash))
	s.app.Post("/send-email", authed, s.sendEmail)
	s.app.Get("/get-senders", authed, s.listSenders)
	s.app.Post("/senders/refresh", authed, s.refreshSenders)
	s.app.Post("/emails/move-to-trash", authed, s.moveToTrash)
	s.app.Post("/emails/delete-permanently", authed, s.deletePermanently)
	s.app.Get("/download-attachment", authed, s.downloadAttachment)
	s.app.Get("/export/:folder", authed, s.exportFolder)
	s.app.Post("/import/:folder", authed, s.importMbox)
}

// App returns the underlying fiber application.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves HTTP on addr, or HTTPS when tlsConfig is non-nil. It blocks
// until the server is shut down.
func (s *Server) Listen(addr string, tlsConfig *tls.Config) error {
	if tlsConfig == nil {
		return s.app.Listen(addr)
	}

	ln, err := tls.Listen("tcp", addr, tlsConfig)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.app.Listener(ln)
}

// ListenOn serves on an existing listener.
func (s *Server) ListenOn(ln net.Listener) error {
	return s.app.Listener(ln)
}

// Shutdown stops accepting connections and waits for active requests until
// ctx is done.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
