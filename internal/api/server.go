package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-identity/internal/audit"
	"github.com/nerrad567/gray-logic-identity/internal/auth"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/logging"
)

// shutdownGrace bounds how long Close waits for in-flight requests.
const shutdownGrace = 10 * time.Second

// HealthChecker is a backing store the health route probes.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps are the components the routes delegate to. Database is optional;
// everything else is required.
type Deps struct {
	Config       config.APIConfig
	Security     config.SecurityConfig
	Logger       *logging.Logger
	Credentials  *auth.Credentials
	Sessions     *auth.SessionManager
	Mode         *auth.ModeSwitch
	Resolver     *auth.Resolver
	SecondFactor *auth.SecondFactor
	AuditLog     audit.Repository
	Database     HealthChecker
	Version      string
}

func (d Deps) validate() error {
	var errs []error
	missing := func(name string, absent bool) {
		if absent {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}
	missing("logger", d.Logger == nil)
	missing("credentials", d.Credentials == nil)
	missing("session manager", d.Sessions == nil)
	missing("mode switch", d.Mode == nil)
	missing("resolver", d.Resolver == nil)
	missing("second factor", d.SecondFactor == nil)
	missing("audit log", d.AuditLog == nil)
	missing("jwt secret", d.Security.JWT.Secret == "")
	return errors.Join(errs...)
}

// Server serves the identity REST API.
type Server struct {
	cfg      config.APIConfig
	secCfg   config.SecurityConfig
	logger   *logging.Logger
	creds    *auth.Credentials
	sessions *auth.SessionManager
	mode     *auth.ModeSwitch
	resolver *auth.Resolver
	factor   *auth.SecondFactor
	auditLog audit.Repository
	database HealthChecker
	version  string

	server *http.Server
}

// New checks deps and returns an unstarted Server.
func New(deps Deps) (*Server, error) {
	if err := deps.validate(); err != nil {
		return nil, fmt.Errorf("api: %w", err)
	}
	return &Server{
		cfg:      deps.Config,
		secCfg:   deps.Security,
		logger:   deps.Logger.With("component", "api"),
		creds:    deps.Credentials,
		sessions: deps.Sessions,
		mode:     deps.Mode,
		resolver: deps.Resolver,
		factor:   deps.SecondFactor,
		auditLog: deps.AuditLog,
		database: deps.Database,
		version:  deps.Version,
	}, nil
}

// Handler returns the routed handler without listening.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Start binds the listen address and serves in the background until Close.
// A bind failure is returned here rather than logged later.
func (s *Server) Start(_ context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.Timeouts.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.Timeouts.ReadTimeout(),
		WriteTimeout:      s.cfg.Timeouts.WriteTimeout(),
		IdleTimeout:       s.cfg.Timeouts.IdleTimeout(),
	}

	tls := s.cfg.TLS
	s.logger.Info("listening", "address", addr, "tls", tls.Enabled)
	go func() {
		var err error
		if tls.Enabled {
			err = s.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = s.server.Serve(ln)
		}
		if !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server stopped", "error", err)
		}
	}()
	return nil
}

// Close stops accepting connections and waits up to shutdownGrace for
// in-flight requests.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck fails until Start has been called.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.server == nil {
		return errors.New("api server not started")
	}
	return nil
}
