package httpserver

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/canvasshq/canvass/internal/auditlog"
	"github.com/canvasshq/canvass/internal/media"
	"github.com/canvasshq/canvass/internal/reviewqueue"
	"github.com/canvasshq/canvass/internal/runtime"
	"github.com/canvasshq/canvass/internal/server/http/controllers"
	authsvc "github.com/canvasshq/canvass/internal/services/auth"
	responsesvc "github.com/canvasshq/canvass/internal/services/responses"
	surveysvc "github.com/canvasshq/canvass/internal/services/surveys"
)

// Server is the JSON API server.
type Server struct {
	rt  *runtime.Runtime
	srv *http.Server
	lis net.Listener
}

// Services bundles the wired service layer the server exposes.
type Services struct {
	Queue     *reviewqueue.Queue
	Responses *responsesvc.Service
	Surveys   *surveysvc.Service
	Auth      *authsvc.Service
	Signer    *media.Signer
	Audit     *auditlog.Log
}

// New builds the server and registers all routes.
func New(rt *runtime.Runtime, svcs Services) *Server {
	mux := http.NewServeMux()
	s := &Server{rt: rt, srv: &http.Server{Handler: cors(mux)}}
	reg := controllers.NewControllerRegistry(rt, svcs.Queue, svcs.Responses, svcs.Surveys, svcs.Auth, svcs.Signer, svcs.Audit)
	reg.RegisterAllRoutes(mux)
	return s
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// ListenAndServe serves until ctx is canceled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(l) }()
	select {
	case <-ctx.Done():
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(cctx)
		return nil
	case err := <-errCh:
		return err
	}
}

// Addr returns the bound listen address, once serving.
func (s *Server) Addr() string {
	if s.lis == nil {
		return ""
	}
	return s.lis.Addr().String()
}

// Close stops the listener.
func (s *Server) Close() {
	if s.lis != nil {
		_ = s.lis.Close()
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
