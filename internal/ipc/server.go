package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"log/slog"

	"sceneplus/internal/api"
	"sceneplus/internal/logging"
)

// serviceName prefixes every RPC method, e.g. ScenePlus.Update.
const serviceName = "ScenePlus"

// Backend is the daemon surface the IPC server exposes.
type Backend interface {
	Scenes() *api.SceneService
	Status(ctx context.Context) api.DaemonStatus
}

// Server exposes the scene service via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, backend Backend, logger *slog.Logger) (*Server, error) {
	if backend == nil {
		return nil, errors.New("ipc server requires a backend")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	rpcServer := rpc.NewServer()
	srv := &service{backend: backend, logger: logger, ctx: serverCtx}
	if err := rpcServer.RegisterName(serviceName, srv); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually"))
	}
}

// service holds the RPC methods. Domain failures travel inside the response
// payloads; only transport problems are returned as errors.
type service struct {
	backend Backend
	logger  *slog.Logger
	ctx     context.Context
}

func (s *service) log() *slog.Logger {
	return s.logger.With(logging.String(logging.FieldComponent, "ipc"))
}

func (s *service) GetEntities(req EntityRequest, resp *GetEntitiesResponse) error {
	*resp = s.backend.Scenes().GetEntities(s.ctx, req)
	return nil
}

func (s *service) Update(req EntityRequest, resp *UpdateResponse) error {
	s.log().Debug("scene update requested", logging.Strings(logging.FieldEntityID, req.EntityIDs))
	*resp = s.backend.Scenes().Update(s.ctx, req)
	return nil
}

func (s *service) Reload(_ ReloadRequest, resp *ReloadResponse) error {
	*resp = s.backend.Scenes().Reload(s.ctx)
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	*resp = s.backend.Status(s.ctx)
	return nil
}

func (s *service) History(req HistoryRequest, resp *HistoryResponse) error {
	history, err := s.backend.Scenes().History(s.ctx, req.Limit)
	if err != nil {
		return err
	}
	*resp = history
	return nil
}
