// Package gateway is the HTTP relay surface.
//
// DESIGN: One handler per provider at /v1/relay/{provider}. The handler
// wraps the inbound body in the provider's RequestAdapter (which applies
// tool-result compression and the image policy at materialization), executes
// the native call, and relays the response. Streams are forwarded chunk by
// chunk through the provider's StreamAccumulator so the relay knows, at the
// end, whether the stream completed and what it cost.
//
// FLOW (streaming):
//
//	inbound body -> RequestAdapter -> Client.ExecuteStream
//	  -> per chunk: StreamAccumulator.ProcessChunk -> forward frames
//	  -> EOF: if IsFinal, record usage + compression stats
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/modelrelay/modelrelay/internal/adapters"
	"github.com/modelrelay/modelrelay/internal/canonical"
	"github.com/modelrelay/modelrelay/internal/config"
	"github.com/modelrelay/modelrelay/internal/monitoring"
	"github.com/modelrelay/modelrelay/internal/store"
)

// maxRequestSize bounds inbound request bodies (20MB, images included).
const maxRequestSize = 20 * 1024 * 1024

// Server relays requests to upstream providers.
type Server struct {
	cfg      *config.Config
	registry *adapters.Registry
	clients  map[adapters.Provider]*adapters.Client
	recorder *store.Store // nil when the store is disabled
	httpSrv  *http.Server
}

// NewServer builds the relay with one client per enabled provider.
func NewServer(cfg *config.Config, registry *adapters.Registry, recorder *store.Store) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		registry: registry,
		clients:  make(map[adapters.Provider]*adapters.Client),
		recorder: recorder,
	}

	for name, pc := range cfg.Providers {
		if !pc.Enabled {
			continue
		}
		def, err := registry.Get(adapters.Provider(name))
		if err != nil {
			return nil, err
		}
		client, err := def.NewClient(pc.APIKey, adapters.ClientOptions{
			BaseURL: pc.BaseURL,
			Timeout: pc.Timeout,
			Region:  pc.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build %s client: %w", name, err)
		}
		s.clients[def.Name] = client
	}
	if len(s.clients) == 0 {
		return nil, fmt.Errorf("no providers enabled")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/relay/{provider}", s.handleRelay)
	mux.HandleFunc("GET /healthz", s.handleHealth)

	s.httpSrv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      panicRecovery(requestID(loggingMiddleware(mux))),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	return s, nil
}

// Handler exposes the full middleware-wrapped handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// ListenAndServe blocks serving the relay.
func (s *Server) ListenAndServe() error {
	log.Info().Str("addr", s.httpSrv.Addr).Msg("relay listening")
	return s.httpSrv.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok"}`)
}

func (s *Server) handleRelay(w http.ResponseWriter, r *http.Request) {
	provider := adapters.Provider(r.PathValue("provider"))
	def, err := s.registry.Get(provider)
	if err != nil {
		httpError(w, http.StatusNotFound, err.Error())
		return
	}
	client, ok := s.clients[provider]
	if !ok {
		httpError(w, http.StatusNotFound, fmt.Sprintf("provider %q is not enabled", provider))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestSize))
	if err != nil {
		httpError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	req := def.NewRequestAdapter(body, adapters.RequestOptions{
		Streaming:    r.URL.Query().Get("stream") == "true",
		AutoCompress: s.cfg.Compression.Enabled,
	})

	if req.IsStreaming() {
		s.relayStream(w, r, def, client, req)
		return
	}
	s.relayOnce(w, r, def, client, req)
}

func (s *Server) relayOnce(w http.ResponseWriter, r *http.Request, def *adapters.Definition, client *adapters.Client, req adapters.RequestAdapter) {
	respBody, err := client.Execute(r.Context(), req)
	if err != nil {
		relayError(w, err)
		return
	}

	resp := def.NewResponseAdapter(respBody)
	s.record(r.Context(), req, resp.Usage(), "")

	w.Header().Set("Content-Type", "application/json")
	w.Write(respBody)
}

func (s *Server) relayStream(w http.ResponseWriter, r *http.Request, def *adapters.Definition, client *adapters.Client, req adapters.RequestAdapter) {
	stream, err := client.ExecuteStream(r.Context(), req)
	if err != nil {
		relayError(w, err)
		return
	}
	defer stream.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	acc := def.NewStreamAccumulator(req.Model())
	for {
		chunk, err := stream.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Warn().Err(err).Str("provider", string(def.Name)).Msg("stream read failed")
			}
			break
		}
		frames, err := acc.ProcessChunk(chunk)
		for _, frame := range frames {
			w.Write(frame)
		}
		flusher.Flush()
		if err != nil {
			log.Warn().Err(err).Str("provider", string(def.Name)).Msg("stream chunk error")
			break
		}
		// Keep draining past finality: some providers trail an end marker
		// after the terminal chunk.
	}

	if !acc.IsFinal() {
		// Aborted stream; nothing trustworthy to record.
		log.Warn().
			Str("provider", string(def.Name)).
			Str("request_id", monitoring.RequestIDFromContext(r.Context())).
			Msg("stream ended before finality, discarding partial state")
		return
	}

	state := acc.State()
	s.record(r.Context(), req, *state.Usage, acc.StopReason())
}

// record writes the request row when the store is enabled. Failures are
// logged, never surfaced.
func (s *Server) record(ctx context.Context, req adapters.RequestAdapter, usage canonical.Usage, stopReason string) {
	if s.recorder == nil {
		return
	}
	id := monitoring.RequestIDFromContext(ctx)
	if id == "" {
		id = uuid.NewString()
	}
	err := s.recorder.RecordRequest(ctx, store.RequestRecord{
		ID:          id,
		Provider:    string(req.Provider()),
		Model:       req.Model(),
		Streaming:   req.IsStreaming(),
		Usage:       usage,
		StopReason:  stopReason,
		Compression: req.CompressionStats(),
	})
	if err != nil {
		log.Warn().Err(err).Str("request_id", id).Msg("failed to record request")
	}
}

func httpError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":{"message":%q}}`, msg)
}

// relayError maps an upstream failure onto the client response, preserving
// the provider's own error body and status when available.
func relayError(w http.ResponseWriter, err error) {
	var upstream *adapters.UpstreamError
	if errors.As(err, &upstream) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(upstream.Status)
		w.Write(upstream.Body)
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		httpError(w, http.StatusGatewayTimeout, "upstream timeout")
		return
	}
	httpError(w, http.StatusBadGateway, err.Error())
}
