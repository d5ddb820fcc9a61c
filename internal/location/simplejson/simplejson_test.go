package simplejson

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"nuha.dev/runtracker/internal/geo"
	"nuha.dev/runtracker/internal/location"
)

func mustFrame(t *testing.T, protocol byte, v interface{}) []byte {
	t.Helper()
	payload, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return EncodeFrame(protocol, payload)
}

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte(`{"latitude":1.5}`)
	frame := EncodeFrame(LOCATION_UPDATE, payload)
	msg := newFrameMessage()
	if err := readMessage(bytes.NewReader(frame), msg); err != nil {
		t.Fatal(err)
	}
	if msg.Protocol != LOCATION_UPDATE || !bytes.Equal(msg.Payload, payload) || msg.Length != len(frame) {
		t.Fatalf("decoded %+v", msg)
	}
}

func TestFrameErrors(t *testing.T) {
	good := EncodeFrame(STATUS, []byte(`{}`))

	bad := append([]byte{}, good...)
	bad[0] = 0x78
	if err := readMessage(bytes.NewReader(bad), newFrameMessage()); !errors.Is(err, errBadFrame) {
		t.Errorf("bad start byte err = %v", err)
	}

	bad = append([]byte{}, good...)
	bad[len(bad)-1] = 'x'
	if err := readMessage(bytes.NewReader(bad), newFrameMessage()); !errors.Is(err, errBadFrame) {
		t.Errorf("bad end byte err = %v", err)
	}

	big := EncodeFrame(STATUS, make([]byte, maxFrameLen))
	if err := readMessage(bytes.NewReader(big), newFrameMessage()); !errors.Is(err, errFrameTooLarge) {
		t.Errorf("large frame err = %v", err)
	}

	if err := readMessage(bytes.NewReader(good[:3]), newFrameMessage()); err == nil {
		t.Error("short read accepted")
	}
}

type harness struct {
	s      *Server
	client net.Conn
	fixes  chan geo.Point
	errs   chan error
	done   chan struct{}
}

func newHarness(t *testing.T) *harness {
	return attach(NewServer(&ServerConfig{LoginTimeout: time.Second}))
}

// attach opens another device connection on s.
func attach(s *Server) *harness {
	h := &harness{s: s}
	h.fixes = make(chan geo.Point, 10)
	h.errs = make(chan error, 10)
	h.done = make(chan struct{})
	h.s.Subscribe(location.Handler{
		OnFix:       func(p geo.Point) { h.fixes <- p },
		OnInterrupt: func(err error) { h.errs <- err },
	})
	server, client := net.Pipe()
	h.client = client
	go func() {
		h.s.handle(NewConn(server, 1))
		close(h.done)
	}()
	return h
}

func (h *harness) write(t *testing.T, frame []byte) {
	t.Helper()
	_ = h.client.SetWriteDeadline(time.Now().Add(time.Second))
	if _, err := h.client.Write(frame); err != nil {
		t.Fatal(err)
	}
}

func (h *harness) login(t *testing.T, permission string) {
	h.loginAs(t, "a1b2", permission)
}

func (h *harness) loginAs(t *testing.T, serial, permission string) {
	h.write(t, mustFrame(t, LOGIN, LoginMessage{SnType: "aid", Serial: serial, DeviceType: "android", Permission: permission}))
	deadline := time.Now().Add(time.Second)
	for {
		h.s.mu.Lock()
		ok := h.s.dev != nil && h.s.dev.login.Serial == serial
		h.s.mu.Unlock()
		if ok {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("device did not log in")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNoDeviceUnavailable(t *testing.T) {
	s := NewServer(&ServerConfig{})
	perm, err := s.RequestPermission(context.Background())
	if perm != location.PermissionDenied || !errors.Is(err, location.ErrUnavailable) {
		t.Fatalf("perm = %v err = %v", perm, err)
	}
	if _, err := s.CurrentFix(context.Background()); !errors.Is(err, location.ErrUnavailable) {
		t.Fatalf("current fix err = %v", err)
	}
}

func TestDeviceStream(t *testing.T) {
	h := newHarness(t)
	h.login(t, "granted")

	perm, err := h.s.RequestPermission(context.Background())
	if err != nil || perm != location.PermissionGranted {
		t.Fatalf("perm = %v err = %v", perm, err)
	}

	waiter := make(chan geo.Point, 1)
	go func() {
		p, _ := h.s.CurrentFix(context.Background())
		waiter <- p
	}()

	gpst := time.Date(2021, 7, 1, 6, 0, 0, 0, time.UTC)
	h.write(t, mustFrame(t, LOCATION_UPDATE, LocationMessage{Latitude: 1, Longitude: 2, Fix: false}))
	h.write(t, mustFrame(t, LOCATION_UPDATE, LocationMessage{GpsTime: gpst, Latitude: 37.78825, Longitude: -122.4324, Fix: true}))

	select {
	case p := <-h.fixes:
		if p.Latitude != 37.78825 || p.Longitude != -122.4324 || !p.Timestamp.Equal(gpst) {
			t.Fatalf("fix = %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("no fix delivered")
	}
	select {
	case p := <-waiter:
		if p.Latitude != 37.78825 {
			t.Fatalf("current fix = %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("current fix waiter not released")
	}
	if len(h.fixes) != 0 {
		t.Fatal("fix without gps lock was delivered")
	}

	h.write(t, mustFrame(t, GPS_ERROR, ErrorMessage{Reason: "no satellites"}))
	select {
	case err := <-h.errs:
		if !errors.Is(err, location.ErrInterrupted) {
			t.Fatalf("interrupt err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("gps error not reported")
	}

	h.write(t, mustFrame(t, STATUS, StatusMessage{GpsStatus: true, Permission: "denied"}))
	h.write(t, mustFrame(t, SAT_UPDATE, []int{}))
	perm, _ = h.s.RequestPermission(context.Background())
	if perm != location.PermissionDenied {
		t.Fatalf("permission after revoke = %v", perm)
	}

	h.client.Close()
	select {
	case err := <-h.errs:
		if !errors.Is(err, location.ErrInterrupted) {
			t.Fatalf("disconnect err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("disconnect not reported")
	}
	<-h.done
	if _, err := h.s.RequestPermission(context.Background()); !errors.Is(err, location.ErrUnavailable) {
		t.Fatalf("err after disconnect = %v", err)
	}
}

func TestRejectsNonLogin(t *testing.T) {
	h := newHarness(t)
	h.write(t, mustFrame(t, LOCATION_UPDATE, LocationMessage{Fix: true}))
	select {
	case <-h.done:
	case <-time.After(time.Second):
		t.Fatal("connection not closed")
	}
	if len(h.fixes) != 0 || len(h.errs) != 0 {
		t.Fatal("unauthenticated frame reached subscribers")
	}
}

func TestCurrentFixHonoursContext(t *testing.T) {
	h := newHarness(t)
	h.login(t, "granted")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := h.s.CurrentFix(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
	h.s.mu.Lock()
	n := len(h.s.waiters)
	h.s.mu.Unlock()
	if n != 0 {
		t.Fatalf("%d waiters left behind", n)
	}
	h.client.Close()
	<-h.done
}

func TestStatus(t *testing.T) {
	h := newHarness(t)
	if st := h.s.Status(); st.Connected || st.Subscribers != 1 {
		t.Fatalf("status before login = %+v", st)
	}
	h.login(t, "granted")
	st := h.s.Status()
	if !st.Connected || st.Serial != "a1b2" || st.DeviceType != "android" || st.Permission != "granted" || st.LastFix != nil {
		t.Fatalf("status after login = %+v", st)
	}
	h.client.Close()
	<-h.done
	if st := h.s.Status(); st.Connected {
		t.Fatalf("status after disconnect = %+v", st)
	}
}

func TestLastFixDiscardedWithDevice(t *testing.T) {
	a := newHarness(t)
	a.login(t, "granted")
	a.write(t, mustFrame(t, LOCATION_UPDATE, LocationMessage{Latitude: 37.78825, Longitude: -122.4324, Fix: true}))
	select {
	case <-a.fixes:
	case <-time.After(time.Second):
		t.Fatal("no fix delivered")
	}
	if st := a.s.Status(); st.LastFix == nil {
		t.Fatal("fix not recorded")
	}
	a.client.Close()
	<-a.done
	if st := a.s.Status(); st.LastFix != nil {
		t.Fatalf("fix kept after disconnect: %+v", st.LastFix)
	}

	b := attach(a.s)
	b.loginAs(t, "c3d4", "granted")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if p, err := b.s.CurrentFix(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("current fix = %+v err = %v", p, err)
	}
	b.client.Close()
	<-b.done
}

func TestReplacedDeviceFixIgnored(t *testing.T) {
	a := newHarness(t)
	a.login(t, "granted")
	a.write(t, mustFrame(t, LOCATION_UPDATE, LocationMessage{Latitude: 1, Longitude: 1, Fix: true}))
	<-a.fixes

	b := attach(a.s)
	b.loginAs(t, "c3d4", "granted")
	<-a.done
	if st := b.s.Status(); st.LastFix != nil || st.Serial != "c3d4" {
		t.Fatalf("status after replace = %+v", st)
	}
	b.write(t, mustFrame(t, LOCATION_UPDATE, LocationMessage{Latitude: 2, Longitude: 2, Fix: true}))
	p, err := b.s.CurrentFix(context.Background())
	if err != nil || p.Latitude != 2 {
		t.Fatalf("current fix = %+v err = %v", p, err)
	}
	b.client.Close()
	<-b.done
}
