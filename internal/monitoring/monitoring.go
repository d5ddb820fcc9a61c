// Package monitoring serves a json snapshot of the running components.
package monitoring

import (
	"net/http"
	"sync"
	"time"

	"github.com/phuslu/log"

	"nuha.dev/runtracker/internal/util"
)

type MonitoringConfig struct {
	ListenAddr string
}

// StatusFunc reports the current status of one component. It must be safe to
// call from any goroutine.
type StatusFunc func() interface{}

type MonitoringServer struct {
	mu      sync.Mutex
	server  *http.Server
	log     log.Logger
	sources map[string]StatusFunc
}

func NewMonApi(config *MonitoringConfig) *MonitoringServer {
	m := &MonitoringServer{}
	m.sources = make(map[string]StatusFunc)
	m.log = log.DefaultLogger
	m.log.Context = log.NewContext(nil).Str("module", "monitoring").Value()
	m.server = &http.Server{
		Addr:           config.ListenAddr,
		Handler:        http.HandlerFunc(m.serve_http),
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	return m
}

func (m *MonitoringServer) Add(name string, p StatusFunc) {
	m.mu.Lock()
	m.sources[name] = p
	m.mu.Unlock()
}

func (m *MonitoringServer) Run() error {
	m.log.Info().Msgf("starting monitoring-server on : %s", m.server.Addr)
	err := m.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		m.log.Error().Err(err).Msg("")
		return err
	}
	return nil
}

func (m *MonitoringServer) Close() error {
	return m.server.Close()
}

func (m *MonitoringServer) Snapshot() map[string]interface{} {
	m.mu.Lock()
	sources := make(map[string]StatusFunc, len(m.sources))
	for name, p := range m.sources {
		sources[name] = p
	}
	m.mu.Unlock()

	res := make(map[string]interface{}, len(sources)+1)
	for name, p := range sources {
		res[name] = p()
	}
	res["time"] = time.Now().UTC()
	return res
}

func (m *MonitoringServer) serve_http(w http.ResponseWriter, r *http.Request) {
	util.JsonWrite(w, m.Snapshot())
}

func (m *MonitoringServer) GetHandler() http.Handler {
	return http.HandlerFunc(m.serve_http)
}
