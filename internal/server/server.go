package server

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopmonkeyus/go-common/logger"

	"github.com/gridbase/gridbase/internal"
	"github.com/gridbase/gridbase/internal/ddl"
	"github.com/gridbase/gridbase/internal/engine"
	"github.com/gridbase/gridbase/internal/util"
	"github.com/gridbase/gridbase/internal/validation"
)

const shutdownTimeout = time.Second * 10

// Registry is the slice of the metadata registry the HTTP layer uses. Both
// the database registry and the in-memory registry satisfy it.
type Registry interface {
	internal.TableRegistry

	GetTenant(ctx context.Context, tenantID int64) (*internal.Tenant, bool, error)
}

// Config is the configuration for the Server.
type Config struct {

	// Logger to use for logging.
	Logger logger.Logger

	// DB is the shared connection pool.
	DB *sql.DB

	// Registry resolves tenants and table registrations.
	Registry Registry

	// Manager executes schema changes.
	Manager *ddl.Manager

	// Engine executes record operations.
	Engine *engine.Engine

	// Port to listen on.
	Port int

	// AuthSecret is the HMAC secret bearer tokens are signed with. Empty
	// disables authentication, for local development.
	AuthSecret string

	// InstanceID identifies this server in health and stats responses.
	InstanceID string
}

// Server is the HTTP surface over the registry, the schema manager and the
// record engine.
type Server struct {
	logger     logger.Logger
	db         *sql.DB
	registry   Registry
	manager    *ddl.Manager
	engine     *engine.Engine
	schemas    *validation.SchemaValidator
	secret     []byte
	instanceID string
	httpServer *http.Server
}

// New will create a new Server listening on the configured port.
func New(config Config) *Server {
	s := &Server{
		logger:     config.Logger.WithPrefix("[http]"),
		db:         config.DB,
		registry:   config.Registry,
		manager:    config.Manager,
		engine:     config.Engine,
		schemas:    validation.NewSchemaValidator(),
		instanceID: config.InstanceID,
	}
	if config.AuthSecret != "" {
		s.secret = []byte(config.AuthSecret)
	}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", config.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: time.Second * 10,
	}
	return s
}

// Handler returns the full route table wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.health)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /stats", s.stats)

	mux.HandleFunc("GET /v1/tenants/{id}/tables", s.authed(s.listTables))
	mux.HandleFunc("POST /v1/tenants/{id}/tables", s.authed(s.createTable))
	mux.HandleFunc("GET /v1/tenants/{id}/tables/{table}", s.authed(s.describeTable))
	mux.HandleFunc("PATCH /v1/tenants/{id}/tables/{table}", s.authed(s.updateTable))
	mux.HandleFunc("DELETE /v1/tenants/{id}/tables/{table}", s.authed(s.deleteTable))
	mux.HandleFunc("POST /v1/tenants/{id}/tables/{table}/alter", s.authed(s.alterTable))
	mux.HandleFunc("POST /v1/tenants/{id}/tables/{table}/rename", s.authed(s.renameTable))
	mux.HandleFunc("GET /v1/tenants/{id}/tables/{table}/schema", s.authed(s.getTableSchemaDoc))
	mux.HandleFunc("PUT /v1/tenants/{id}/tables/{table}/schema", s.authed(s.putTableSchemaDoc))
	mux.HandleFunc("DELETE /v1/tenants/{id}/tables/{table}/schema", s.authed(s.deleteTableSchemaDoc))
	mux.HandleFunc("POST /v1/tenants/{id}/tables/{table}/indexes", s.authed(s.createIndex))
	mux.HandleFunc("DELETE /v1/tenants/{id}/tables/{table}/indexes/{name}", s.authed(s.dropIndex))

	mux.HandleFunc("GET /v1/tenants/{id}/data/{table}", s.authed(s.queryRecords))
	mux.HandleFunc("POST /v1/tenants/{id}/data/{table}", s.authed(s.insertRecords))
	mux.HandleFunc("GET /v1/tenants/{id}/data/{table}/{recordId}", s.authed(s.getRecord))
	mux.HandleFunc("PUT /v1/tenants/{id}/data/{table}/{recordId}", s.authed(s.updateRecord))
	mux.HandleFunc("DELETE /v1/tenants/{id}/data/{table}/{recordId}", s.authed(s.deleteRecord))

	return s.recovery(s.logging(mux))
}

// Start will begin serving requests. It returns once the listener is bound so
// a bad port fails fast.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("error listening on %s: %w", s.httpServer.Addr, err)
	}
	go func() {
		defer util.RecoverPanic(s.logger)
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server: %s", err)
		}
	}()
	s.logger.Info("listening on %s", s.httpServer.Addr)
	return nil
}

// Stop will drain in-flight requests and close the listener.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("error shutting down http server: %s", err)
	}
	s.logger.Debug("stopped")
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Error("health check failed: %s", err)
		sendStatus(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	sendData(w, http.StatusOK, map[string]any{"status": "ok", "instanceId": s.instanceID})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := internal.GetSystemStats()
	if err != nil {
		sendError(w, internal.NewInternalError(err))
		return
	}
	host, err := util.GetSystemInfo()
	if err != nil {
		sendError(w, internal.NewInternalError(err))
		return
	}
	sendData(w, http.StatusOK, map[string]any{"instanceId": s.instanceID, "host": host, "stats": stats})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.logger.Trace("%s %s %d in %v", r.Method, r.URL.Path, sw.status, time.Since(started))
	})
}

func (s *Server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic handling %s %s: %v", r.Method, r.URL.Path, rec)
				sendStatus(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type contextKey string

const userKey contextKey = "user"

// authed parses the bearer token and hangs the caller's user id on the
// request context. With no secret configured requests pass through, for
// local development.
func (s *Server) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.secret == nil {
			next(w, r)
			return
		}
		userID, err := s.verifyToken(r)
		if err != nil {
			w.Header().Set("WWW-Authenticate", "Bearer")
			sendStatus(w, http.StatusUnauthorized, err.Error())
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userKey, userID)))
	}
}

func (s *Server) verifyToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	tokenString, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || tokenString == "" {
		return "", fmt.Errorf("missing bearer token")
	}
	var claims jwt.RegisteredClaims
	if _, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return s.secret, nil
	}); err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("token has no subject")
	}
	return claims.Subject, nil
}

func requestUser(r *http.Request) string {
	if v, ok := r.Context().Value(userKey).(string); ok {
		return v
	}
	return ""
}

// tenantID parses the {id} path segment.
func tenantID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		return 0, internal.NewValidationError(internal.NewFieldError("id", "must be a positive integer"))
	}
	return id, nil
}

// tenant resolves the tenant from the path and checks the caller owns it.
// It writes the error response itself when the check fails.
func (s *Server) tenant(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := tenantID(r)
	if err != nil {
		sendError(w, err)
		return 0, false
	}
	if s.secret == nil {
		return id, true
	}
	ten, found, err := s.registry.GetTenant(r.Context(), id)
	if err != nil {
		sendError(w, err)
		return 0, false
	}
	if !found {
		sendError(w, internal.NewNotFoundError("tenant", r.PathValue("id")))
		return 0, false
	}
	if ten.OwnerUserID != requestUser(r) {
		sendError(w, internal.NewAuthorizationError(fmt.Sprintf("user does not own tenant %d", id)))
		return 0, false
	}
	return id, true
}

// tenantTable is the tenant check for routes naming a table. Ownership is
// resolved through the table registration when one exists; unregistered
// tables fall back to the tenant owner so the handler can report not found
// without leaking which tables exist.
func (s *Server) tenantTable(w http.ResponseWriter, r *http.Request) (int64, string, bool) {
	id, err := tenantID(r)
	if err != nil {
		sendError(w, err)
		return 0, "", false
	}
	table := r.PathValue("table")
	if s.secret == nil {
		return id, table, true
	}
	physical := s.registry.ResolveFullName(id, table)
	own, err := s.registry.ValidateOwnership(r.Context(), physical, requestUser(r))
	if err != nil {
		sendError(w, err)
		return 0, "", false
	}
	if own.TenantID != 0 {
		if !own.Allowed {
			sendError(w, internal.NewAuthorizationError(fmt.Sprintf("user does not own tenant %d", id)))
			return 0, "", false
		}
		return id, table, true
	}
	if _, ok := s.tenant(w, r); !ok {
		return 0, "", false
	}
	return id, table, true
}
