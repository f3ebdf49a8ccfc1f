// Package httpapi exposes a signal registry over HTTP.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/hubertat/swvio/vio"
)

const TokenHeader = "vio-token"
const httpTimeoutsMs = 3000

type Registry interface {
	SetOutputSignal(mask, levels vio.Mask) vio.Mask
	GetInputSignal(mask vio.Mask) vio.Mask
	OutputShadow() vio.Mask
	SetValue(index int, value int32)
	GetValue(index int) int32
}

type Server struct {
	HttpAddr string
	// Token is compared as is; TokenHash, a bcrypt hash, takes precedence.
	// With neither set the API is open.
	Token     string
	TokenHash string

	registry Registry
	logger   *log.Logger
}

type outputResponse struct {
	Mask   vio.Mask `json:"mask"`
	Shadow vio.Mask `json:"shadow"`
}

type inputResponse struct {
	Mask   vio.Mask `json:"mask"`
	Signal vio.Mask `json:"signal"`
}

type valueResponse struct {
	Index int   `json:"index"`
	Value int32 `json:"value"`
}

func NewServer(addr string, registry Registry) *Server {
	return &Server{
		HttpAddr: addr,
		registry: registry,
		logger: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "http",
			Level:  log.GetLevel(),
		}),
	}
}

func (s *Server) Handler() http.Handler {
	router := httprouter.New()
	router.GET("/signals/out", s.auth(s.handleGetOutput))
	router.PUT("/signals/out/:mask/:levels", s.auth(s.handleSetOutput))
	router.GET("/signals/in/:mask", s.auth(s.handleGetInput))
	router.GET("/values/:index", s.auth(s.handleGetValue))
	router.PUT("/values/:index/:value", s.auth(s.handleSetValue))
	return router
}

// ListenAndServe serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpTimeout := httpTimeoutsMs * time.Millisecond

	server := &http.Server{
		Addr:              s.HttpAddr,
		Handler:           s.Handler(),
		ReadTimeout:       httpTimeout,
		ReadHeaderTimeout: httpTimeout,
		WriteTimeout:      httpTimeout,
		IdleTimeout:       2 * httpTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpTimeout)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("serving vio api", "addr", s.HttpAddr)
	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return ctx.Err()
	}
	return errors.Wrap(err, "vio api server failed")
}

func (s *Server) authorized(token string) bool {
	if len(s.TokenHash) > 0 {
		return bcrypt.CompareHashAndPassword([]byte(s.TokenHash), []byte(token)) == nil
	}
	if len(s.Token) > 0 {
		return subtle.ConstantTimeCompare([]byte(s.Token), []byte(token)) == 1
	}
	return true
}

func (s *Server) auth(h httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		if !s.authorized(r.Header.Get(TokenHeader)) {
			http.Error(w, "token mismatch", http.StatusUnauthorized)
			return
		}
		h(w, r, p)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		s.logger.Warn("failed to write response", "err", err)
	}
}

func (s *Server) handleGetOutput(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	s.writeJSON(w, outputResponse{Mask: 0xFFFFFFFF, Shadow: s.registry.OutputShadow()})
}

func (s *Server) handleSetOutput(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	mask, err := vio.ParseMask(p.ByName("mask"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	levels, err := vio.ParseMask(p.ByName("levels"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	shadow := s.registry.SetOutputSignal(mask, levels)
	s.logger.Debug("output set over http", "mask", mask, "levels", levels)
	s.writeJSON(w, outputResponse{Mask: mask, Shadow: shadow})
}

func (s *Server) handleGetInput(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	mask, err := vio.ParseMask(p.ByName("mask"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.writeJSON(w, inputResponse{Mask: mask, Signal: s.registry.GetInputSignal(mask)})
}

func (s *Server) handleGetValue(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	index, err := strconv.Atoi(p.ByName("index"))
	if err != nil {
		http.Error(w, "invalid index", http.StatusBadRequest)
		return
	}
	s.writeJSON(w, valueResponse{Index: index, Value: s.registry.GetValue(index)})
}

func (s *Server) handleSetValue(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	index, err := strconv.Atoi(p.ByName("index"))
	if err != nil {
		http.Error(w, "invalid index", http.StatusBadRequest)
		return
	}
	value, err := strconv.ParseInt(p.ByName("value"), 0, 32)
	if err != nil {
		http.Error(w, "invalid value", http.StatusBadRequest)
		return
	}

	s.registry.SetValue(index, int32(value))
	s.writeJSON(w, valueResponse{Index: index, Value: s.registry.GetValue(index)})
}
