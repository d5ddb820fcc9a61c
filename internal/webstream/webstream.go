// Package webstream pushes live run frames to websocket clients.
//
// A client sends its token as the first message, receives a JSON welcome
// and is then subscribed to the run sublist. Every frame after the welcome
// is binary, as produced by the sublist.
package webstream

import (
	"context"
	"crypto/subtle"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"nuha.dev/runtracker/internal/sublist"
)

const maxBuffered = 64

type WebStreamConfig struct {
	// MockToken accepts any token.
	MockToken  bool
	Token      string
	ListenAddr string
}

type WebstreamServer struct {
	server  *http.Server
	log     log.Logger
	config  WebStreamConfig
	sublist *sublist.Sublist
	cid     uint64
}

type Welcome struct {
	Status  string `json:"status"`
	Client  uint64 `json:"client"`
	Message string `json:"message,omitempty"`
}

func NewWebstream(slist *sublist.Sublist, config WebStreamConfig) *WebstreamServer {
	o := &WebstreamServer{config: config}
	o.server = &http.Server{
		Addr:              config.ListenAddr,
		Handler:           http.HandlerFunc(o.serve_http),
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	o.log = log.DefaultLogger
	o.log.Context = log.NewContext(nil).Str("module", "websocket").Value()
	o.sublist = slist
	return o
}

func (ws *WebstreamServer) Handler() http.Handler {
	return ws.server.Handler
}

func (ws *WebstreamServer) Run() error {
	ws.log.Info().Msgf("starting ws-server on : %s", ws.server.Addr)
	err := ws.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		ws.log.Error().Err(err).Msg("")
		return err
	}
	return nil
}

func (ws *WebstreamServer) Close() error {
	return ws.server.Close()
}

func (ws *WebstreamServer) serve_http(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		ws.log.Error().Err(err).Msg("Error while upgrading websocket")
		return
	}
	// read login info
	readCtx, cancel := context.WithTimeout(r.Context(), 1*time.Second)
	defer cancel()
	_, msg, err := c.Read(readCtx)
	if err != nil {
		ws.log.Error().Err(err).Msg("Error while reading auth token")
		c.Close(websocket.StatusPolicyViolation, "token expected")
		return
	}

	if !ws.validate_token(msg) {
		ws.log.Info().Msg("invalid websocket token")
		c.Close(websocket.StatusPolicyViolation, "invalid token")
		return
	}
	cid := atomic.AddUint64(&ws.cid, 1)
	wc := &WebstreamClient{cid: cid, c: c}
	wc.log = ws.log
	wc.log.Context = log.NewContext(nil).Str("module", "websocket").Uint64("client", cid).Value()
	wc.notify = make(chan struct{}, 1)
	wc.buf = make([][]byte, 0, 10)

	err = wsjson.Write(r.Context(), c, Welcome{Status: "ok", Client: cid})
	if err != nil {
		wc.log.Error().Err(err).Msg("Error while writing welcome")
		return
	}
	wc.log.Info().Msg("websocket client subscribed")

	ctx, stop := context.WithCancel(context.Background())
	wc.stop = stop
	wc.wg.Add(2)
	go wc.writeLoop(ctx)
	go wc.readloop(ctx)
	ws.sublist.Subscribe(wc)
	wc.wg.Wait()
	ws.sublist.Unsubscribe(wc)
	c.Close(websocket.StatusNormalClosure, "")
	wc.log.Info().Err(wc.err).Uint64("pushed", atomic.LoadUint64(&wc.pushed)).Uint64("skipped", atomic.LoadUint64(&wc.skipped)).Msg("websocket client gone")
}

func (ws *WebstreamServer) validate_token(token []byte) bool {
	if ws.config.MockToken {
		return true
	}
	if ws.config.Token == "" {
		return false
	}
	return subtle.ConstantTimeCompare(token, []byte(ws.config.Token)) == 1
}

// WebstreamClient buffers frames between the sublist and the socket. When
// the buffer is full the newest frame is dropped.
type WebstreamClient struct {
	lock    sync.Mutex
	wg      sync.WaitGroup
	cid     uint64
	c       *websocket.Conn
	log     log.Logger
	closed  bool
	err     error
	buf     [][]byte
	notify  chan struct{}
	stop    context.CancelFunc
	pushed  uint64
	skipped uint64
}

func (wc *WebstreamClient) closeErr(err error) {
	wc.closed = true
	if wc.err == nil {
		wc.err = err
	}
}

// readloop only watches for the client going away; clients have nothing to
// say after the token.
func (wc *WebstreamClient) readloop(ctx context.Context) {
	defer wc.wg.Done()
	defer wc.stop()
	for {
		_, _, err := wc.c.Read(ctx)
		if err != nil {
			wc.lock.Lock()
			wc.closeErr(err)
			wc.lock.Unlock()
			return
		}
	}
}

func (wc *WebstreamClient) writeLoop(ctx context.Context) {
	defer wc.wg.Done()
	defer wc.stop()
	for {
		select {
		case <-wc.notify:
		case <-ctx.Done():
			return
		}
		wc.lock.Lock()
		if wc.closed {
			wc.lock.Unlock()
			return
		}
		out := wc.buf
		wc.buf = make([][]byte, 0, 10)
		wc.lock.Unlock()

		for _, d := range out {
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wc.c.Write(wctx, websocket.MessageBinary, d)
			cancel()
			if err != nil {
				wc.log.Error().Err(err).Msg("Error while writing to connection")
				wc.lock.Lock()
				wc.closeErr(err)
				wc.lock.Unlock()
				return
			}
			atomic.AddUint64(&wc.pushed, 1)
		}
	}
}

func (wc *WebstreamClient) kick() {
	select {
	case wc.notify <- struct{}{}:
	default:
	}
}

func (wc *WebstreamClient) Push(data []byte) bool {
	wc.lock.Lock()
	if wc.closed {
		wc.lock.Unlock()
		return true
	}
	if len(wc.buf) >= maxBuffered {
		wc.lock.Unlock()
		atomic.AddUint64(&wc.skipped, 1)
		return false
	}
	wc.buf = append(wc.buf, data)
	wc.lock.Unlock()
	wc.kick()
	return false
}
