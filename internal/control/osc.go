// Package control exposes playback transport over OSC so show-control
// software and hardware surfaces can drive a scene.
package control

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"

	"github.com/charmbracelet/log"
	"github.com/hypebeast/go-osc/osc"
)

// OSC addresses understood by the server.
const (
	AddrPlay      = "/lucid/play"
	AddrPause     = "/lucid/pause"
	AddrStop      = "/lucid/stop"
	AddrSeek      = "/lucid/seek"       // f seconds
	AddrVolume    = "/lucid/volume"     // f master
	AddrCueVolume = "/lucid/cue/volume" // s id, f volume
)

// Transport is the playback surface the server drives.
type Transport interface {
	Play() error
	Pause()
	Stop()
	Seek(sec float64)
	SetMasterVolume(v float64)
	SetCueVolume(id string, v float64)
}

// OSCServer maps incoming OSC messages onto a Transport.
type OSCServer struct {
	addr       string
	transport  Transport
	dispatcher *osc.StandardDispatcher
}

// NewOSCServer creates a server that will listen on addr (UDP).
func NewOSCServer(addr string, t Transport) (*OSCServer, error) {
	s := &OSCServer{
		addr:       addr,
		transport:  t,
		dispatcher: osc.NewStandardDispatcher(),
	}
	handlers := map[string]osc.HandlerFunc{
		AddrPlay:      s.handlePlay,
		AddrPause:     func(*osc.Message) { s.transport.Pause() },
		AddrStop:      func(*osc.Message) { s.transport.Stop() },
		AddrSeek:      s.handleSeek,
		AddrVolume:    s.handleVolume,
		AddrCueVolume: s.handleCueVolume,
	}
	for addr, h := range handlers {
		if err := s.dispatcher.AddMsgHandler(addr, h); err != nil {
			return nil, fmt.Errorf("register %s: %w", addr, err)
		}
	}
	return s, nil
}

// ListenAndServe receives OSC on the configured address until ctx is done.
func (s *OSCServer) ListenAndServe(ctx context.Context) error {
	conn, err := net.ListenPacket("udp", s.addr)
	if err != nil {
		return fmt.Errorf("osc listen %s: %w", s.addr, err)
	}
	log.Infof("OSC control listening on %s", conn.LocalAddr())
	return s.serve(ctx, conn)
}

func (s *OSCServer) serve(ctx context.Context, conn net.PacketConn) error {
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	server := &osc.Server{Dispatcher: s.dispatcher}
	err := server.Serve(conn)
	if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (s *OSCServer) handlePlay(*osc.Message) {
	if err := s.transport.Play(); err != nil {
		log.Warnf("OSC play rejected: %v", err)
	}
}

func (s *OSCServer) handleSeek(msg *osc.Message) {
	sec, ok := floatArg(msg, 0)
	if !ok {
		log.Warnf("OSC %s: want one numeric argument, got %v", msg.Address, msg.Arguments)
		return
	}
	s.transport.Seek(sec)
}

func (s *OSCServer) handleVolume(msg *osc.Message) {
	v, ok := floatArg(msg, 0)
	if !ok {
		log.Warnf("OSC %s: want one numeric argument, got %v", msg.Address, msg.Arguments)
		return
	}
	s.transport.SetMasterVolume(v)
}

func (s *OSCServer) handleCueVolume(msg *osc.Message) {
	id, okID := stringArg(msg, 0)
	v, okV := floatArg(msg, 1)
	if !okID || !okV || id == "" {
		log.Warnf("OSC %s: want (string id, number), got %v", msg.Address, msg.Arguments)
		return
	}
	s.transport.SetCueVolume(id, v)
}

// floatArg reads a finite numeric argument.
func floatArg(msg *osc.Message, i int) (float64, bool) {
	if i >= len(msg.Arguments) {
		return 0, false
	}
	var f float64
	switch v := msg.Arguments[i].(type) {
	case float32:
		f = float64(v)
	case float64:
		f = v
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func stringArg(msg *osc.Message, i int) (string, bool) {
	if i >= len(msg.Arguments) {
		return "", false
	}
	s, ok := msg.Arguments[i].(string)
	return s, ok
}
