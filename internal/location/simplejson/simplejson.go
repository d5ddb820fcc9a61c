// Package simplejson accepts the phone's location stream over TCP and
// exposes it as a location.Source. One device is tracked at a time; a new
// login replaces the previous connection.
package simplejson

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/phuslu/log"
	proxyproto "github.com/pires/go-proxyproto"

	"nuha.dev/runtracker/internal/geo"
	"nuha.dev/runtracker/internal/location"
)

const (
	NEW_CONNECTION      string = "new_connection"
	LOGIN_MESSAGE       string = "login_message"
	LOGIN_MESSAGE_ERROR string = "login_message_error"
	DEVICE_REPLACED     string = "device_replaced"
	DEVICE_GONE         string = "device_gone"
)

type ServerConfig struct {
	ListenerAddr string
	LoginTimeout time.Duration
}

type device struct {
	c     *Conn
	login LoginMessage
}

func (d *device) MarshalObject(e *log.Entry) {
	e.EmbedObject(d.c).Str("sn_type", d.login.SnType).Str("serial", d.login.Serial).Str("device_type", d.login.DeviceType)
}

type Server struct {
	mu          sync.Mutex
	log         log.Logger
	config      *ServerConfig
	cid_counter uint64
	listener    net.Listener
	dev         *device
	perm        location.Permission
	last        *geo.Point
	handlers    map[uint64]location.Handler
	hid_counter uint64
	waiters     []chan geo.Point
}

func NewServer(config *ServerConfig) *Server {
	s := &Server{}
	s.log = log.DefaultLogger
	s.log.Context = log.NewContext(nil).Str("module", "device-server").Value()
	s.config = config
	if s.config.LoginTimeout <= 0 {
		s.config.LoginTimeout = 2 * time.Second
	}
	s.handlers = make(map[uint64]location.Handler)
	return s
}

// Run listens on ListenerAddr and blocks until the listener fails or is
// closed.
func (s *Server) Run() error {
	s.log.Info().Msgf("starting device-server on %s", s.config.ListenerAddr)
	ln, err := net.Listen("tcp", s.config.ListenerAddr)
	if err != nil {
		s.log.Error().Err(err).Msg("unable to listen")
		return err
	}
	return s.Serve(&proxyproto.Listener{Listener: ln})
}

func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	for {
		_c, err := ln.Accept()
		if err != nil {
			s.log.Error().Err(err).Msg("failed to accept new connection")
			ln.Close()
			return err
		}
		s.mu.Lock()
		s.cid_counter = s.cid_counter + 1
		cid := s.cid_counter
		s.mu.Unlock()
		c := NewConn(_c, cid)
		s.log.Info().Str("event", NEW_CONNECTION).EmbedObject(c).Msg("")
		go s.handle(c)
	}
}

func (s *Server) Close() error {
	s.mu.Lock()
	ln, dev := s.listener, s.dev
	s.mu.Unlock()
	if dev != nil {
		dev.c.Close()
	}
	if ln != nil {
		return ln.Close()
	}
	return nil
}

func (s *Server) RequestPermission(ctx context.Context) (location.Permission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dev == nil {
		return location.PermissionDenied, location.ErrUnavailable
	}
	return s.perm, nil
}

// CurrentFix returns the latest fix, waiting for the first one when the
// device has not reported any yet.
func (s *Server) CurrentFix(ctx context.Context) (geo.Point, error) {
	s.mu.Lock()
	if s.last != nil {
		p := *s.last
		s.mu.Unlock()
		return p, nil
	}
	if s.dev == nil {
		s.mu.Unlock()
		return geo.Point{}, location.ErrUnavailable
	}
	w := make(chan geo.Point, 1)
	s.waiters = append(s.waiters, w)
	s.mu.Unlock()

	select {
	case p := <-w:
		return p, nil
	case <-ctx.Done():
		s.mu.Lock()
		for i, o := range s.waiters {
			if o == w {
				s.waiters = append(s.waiters[:i], s.waiters[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		return geo.Point{}, ctx.Err()
	}
}

type DeviceStatus struct {
	Connected   bool       `json:"connected"`
	Socket      []string   `json:"socket,omitempty"`
	Serial      string     `json:"serial,omitempty"`
	DeviceType  string     `json:"device_type,omitempty"`
	Permission  string     `json:"permission"`
	LastFix     *geo.Point `json:"last_fix,omitempty"`
	Subscribers int        `json:"subscribers"`
}

func (s *Server) Status() DeviceStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := DeviceStatus{Permission: s.perm.String(), Subscribers: len(s.handlers)}
	if s.dev != nil {
		st.Connected = true
		st.Socket = s.dev.c.Socket()
		st.Serial = s.dev.login.Serial
		st.DeviceType = s.dev.login.DeviceType
	}
	if s.last != nil {
		p := *s.last
		st.LastFix = &p
	}
	return st
}

func (s *Server) Subscribe(h location.Handler) func() {
	s.mu.Lock()
	s.hid_counter = s.hid_counter + 1
	id := s.hid_counter
	s.handlers[id] = h
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.handlers, id)
		s.mu.Unlock()
	}
}

func (s *Server) subscribers() []location.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	hs := make([]location.Handler, 0, len(s.handlers))
	for _, h := range s.handlers {
		hs = append(hs, h)
	}
	return hs
}

// publishFix records p as the latest fix of dev. Fixes from a replaced
// connection are dropped.
func (s *Server) publishFix(dev *device, p geo.Point) {
	s.mu.Lock()
	if s.dev != dev {
		s.mu.Unlock()
		return
	}
	s.last = &p
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()
	for _, w := range waiters {
		w <- p
	}
	for _, h := range s.subscribers() {
		if h.OnFix != nil {
			h.OnFix(p)
		}
	}
}

func (s *Server) interrupt(err error) {
	for _, h := range s.subscribers() {
		if h.OnInterrupt != nil {
			h.OnInterrupt(err)
		}
	}
}

func (s *Server) handle(c *Conn) {
	_ = c.SetReadDeadline(time.Now().Add(s.config.LoginTimeout))
	b, err := c.Peek(1)
	if err != nil {
		s.log.Error().Err(err).Str("event", LOGIN_MESSAGE_ERROR).EmbedObject(c).Msg("error peeking from connection, will close")
		c.Close()
		return
	}
	if b[0] != START_BYTE {
		s.log.Error().Str("event", LOGIN_MESSAGE_ERROR).EmbedObject(c).Msgf("unknown start byte %x", b[0])
		c.Close()
		return
	}

	msg := newFrameMessage()
	err = readMessage(c, msg)
	if err != nil {
		s.log.Error().Err(err).Str("event", LOGIN_MESSAGE_ERROR).EmbedObject(c).Msg("error reading login message")
		c.Close()
		return
	}
	_ = c.SetReadDeadline(time.Time{})
	if msg.Protocol != LOGIN {
		s.log.Error().Str("event", LOGIN_MESSAGE_ERROR).EmbedObject(c).Msgf("message type is not login,type : %x", msg.Protocol)
		c.Close()
		return
	}
	dev := &device{c: c}
	err = json.Unmarshal(msg.Payload, &dev.login)
	if err != nil {
		s.log.Error().Err(err).Str("event", LOGIN_MESSAGE_ERROR).EmbedObject(c).Msg("error parsing login message")
		c.Close()
		return
	}
	s.log.Info().Str("event", LOGIN_MESSAGE).EmbedObject(dev).Str("permission", dev.login.Permission).Msg("")

	s.mu.Lock()
	old := s.dev
	s.dev = dev
	s.last = nil
	s.perm = location.ParsePermission(dev.login.Permission)
	s.mu.Unlock()
	if old != nil {
		s.log.Info().Str("event", DEVICE_REPLACED).EmbedObject(old).Msg("replacing older connection")
		old.c.Close()
	}

	err = s.run(dev, msg)
	c.Close()

	s.mu.Lock()
	current := s.dev == dev
	if current {
		s.dev = nil
		s.last = nil
		s.perm = location.PermissionDenied
	}
	s.mu.Unlock()
	if current {
		s.log.Warn().Err(err).Str("event", DEVICE_GONE).EmbedObject(dev).Msg("")
		s.interrupt(fmt.Errorf("%w: %v", location.ErrInterrupted, err))
	}
}

func (s *Server) run(dev *device, msg *FrameMessage) error {
	for {
		err := readMessage(dev.c, msg)
		if err != nil {
			return err
		}
		tread := time.Now().UTC()
		switch msg.Protocol {
		case LOCATION_UPDATE:
			var loc LocationMessage
			err = json.Unmarshal(msg.Payload, &loc)
			if err != nil {
				s.log.Error().Err(err).EmbedObject(dev).Msg("error parsing location data")
				return err
			}
			if !loc.Fix {
				s.log.Trace().EmbedObject(dev).Msg("location update without fix")
				continue
			}
			t := loc.GpsTime
			if t.IsZero() {
				t = tread
			}
			s.publishFix(dev, geo.NewPoint(loc.Latitude, loc.Longitude, t))

		case STATUS:
			var status StatusMessage
			err = json.Unmarshal(msg.Payload, &status)
			if err != nil {
				s.log.Error().Err(err).EmbedObject(dev).Msg("error parsing status data")
				return err
			}
			if status.Permission != "" {
				s.mu.Lock()
				if s.dev == dev {
					s.perm = location.ParsePermission(status.Permission)
				}
				s.mu.Unlock()
			}

		case GPS_ERROR:
			var e ErrorMessage
			_ = json.Unmarshal(msg.Payload, &e)
			s.log.Warn().EmbedObject(dev).Str("reason", e.Reason).Msg("gps error reported")
			s.interrupt(fmt.Errorf("%w: device reported gps error: %s", location.ErrInterrupted, e.Reason))

		case SAT_UPDATE, GPS_INIT:
			s.log.Trace().EmbedObject(dev).Msgf("ignoring message type %x", msg.Protocol)

		default:
			s.log.Warn().EmbedObject(dev).Msgf("unknown message type %x", msg.Protocol)
		}
	}
}
