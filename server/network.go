package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"ferrisshare/protocol"
	"ferrisshare/trace"
)

var log = logrus.WithField("prefix", "network")

// NetworkError classifies network-layer failures.
var (
	ErrListenerBindFailed  = errors.New("Listener bind failed")
	ErrTransferInterrupted = errors.New("Transfer interrupted")
	ErrTooManyConnections  = errors.New("Too many connections")
	ErrConnectionLost      = errors.New("Connection lost")
	ErrTimeout             = errors.New("Timeout occurred")
	ErrInvalidData         = errors.New("Invalid data received")
)

// NetworkService owns the listener, the at-most-one-connection admission
// rule, and the per-connection framing loop that alternates line reads and
// binary reads. Transfer state is shared with the command service through
// a single SharedState.
type NetworkService struct {
	commands *CommandService
	state    *SharedState
	active   atomic.Bool
	conns    chan Transport
}

// NewNetworkService creates a network service driving the given command
// service. The handoff channel holds exactly one admitted connection.
func NewNetworkService(commands *CommandService) *NetworkService {
	return &NetworkService{
		commands: commands,
		state:    NewSharedState(),
		conns:    make(chan Transport, 1),
	}
}

// State exposes the shared transfer state, mainly for tests.
func (ns *NetworkService) State() *SharedState {
	return ns.state
}

// Listener binds a TCP listener at addr and admits connections one at a
// time: while a connection is active, new sockets are shut down on
// arrival. Returns only on a bind or accept failure.
func (ns *NetworkService) Listener(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrListenerBindFailed, err)
	}
	return ns.serve(listener)
}

// serve runs the accept loop on an already-bound listener.
func (ns *NetworkService) serve(listener net.Listener) error {
	log.WithField("addr", listener.Addr().String()).Info("Listening")

	for {
		socket, err := listener.Accept()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrConnectionLost, err)
		}

		remote := socket.RemoteAddr().String()
		if !ns.active.CompareAndSwap(false, true) {
			log.WithField("remote", remote).Warn("Connection already active, rejecting")
			trace.Connection("REJECT", "-", remote)
			socket.Close()
			continue
		}

		log.WithField("remote", remote).Info("New connection")
		select {
		case ns.conns <- NewTCPTransport(socket):
		default:
			// Handler still winding down a previous session.
			log.WithField("remote", remote).Warn("Handler busy, dropping connection")
			ns.active.Store(false)
			socket.Close()
		}
	}
}

// Handler consumes admitted connections one at a time and runs the
// per-connection loop for each. Returns when the handoff channel closes.
func (ns *NetworkService) Handler() {
	for t := range ns.conns {
		ns.HandleTransport(t)
	}
}

// HandleTransport runs the framing loop for a single connection: read a
// line, decode, admit, apply, and when the applied message announces a
// block, read exactly its payload plus the terminator before resuming
// line mode. Exported so tests can drive a session over a PipeTransport.
func (ns *NetworkService) HandleTransport(t Transport) {
	connID := uuid.New().String()[:8]
	clog := log.WithFields(logrus.Fields{"conn": connID, "remote": t.RemoteAddr()})
	trace.Connection("NEW", connID, t.RemoteAddr())

	// Every exit path frees the admission slot and resets the transfer.
	defer func() {
		t.Close()
		ns.state.Reset()
		ns.active.Store(false)
		trace.Connection("DISCONNECT", connID, "")
		clog.Info("Connection closed")
	}()

	ctx := context.Background()

	for {
		line, err := t.ReadLine()
		switch {
		case err == nil:
		case errors.Is(err, ErrLineTooLong):
			ns.sendError(t, connID, ErrInvalidData.Error())
			continue
		case errors.Is(err, io.EOF):
			clog.Info("Client disconnected")
			return
		default:
			clog.WithField("error", err).Warn("Read failed")
			return
		}

		trace.Message("RECV", connID, line)

		msg, err := protocol.Decode(line)
		if err != nil {
			clog.WithFields(logrus.Fields{"line": line, "error": err}).Debug("Decode failed")
			if errors.Is(err, protocol.ErrInvalidUTF8) {
				// Undecodable bytes are a line-level data error, like an overlong line.
				err = ErrInvalidData
			}
			ns.sendError(t, connID, err.Error())
			continue
		}

		if !ns.state.Admits(msg) {
			ns.sendError(t, connID, protocol.ErrInvalidCommand.Error())
			continue
		}

		resp, err := ns.commands.ApplyMessage(ctx, ns.state, msg)
		if err != nil {
			ns.sendError(t, connID, err.Error())
			continue
		}

		if yeet, ok := resp.(protocol.Yeet); ok {
			resp, err = ns.receiveBlock(ctx, t, connID, yeet.Block)
			if err != nil {
				ns.sendError(t, connID, err.Error())
				continue
			}
		}

		if err := ns.send(t, connID, resp); err != nil {
			clog.WithField("error", err).Warn("Write failed")
			return
		}

		if ns.state.CurrentPhase() == PhaseClosed {
			t.CloseWrite()
			clog.Info("Session closed by peer")
			return
		}
	}
}

// receiveBlock reads exactly block.Size payload bytes plus the trailing
// terminator line, then hands the bytes to the command service.
func (ns *NetworkService) receiveBlock(ctx context.Context, t Transport, connID string, block protocol.YeetBlock) (protocol.Message, error) {
	data, err := t.ReadBinary(int(block.Size))
	if err != nil {
		return nil, errors.New("Read binary failed")
	}
	// The sender writes '\n' after the raw bytes; drain it before going
	// back to line mode.
	if _, err := t.ReadLine(); err != nil {
		return nil, errors.New("Read binary failed")
	}

	trace.Block(connID, block.Index, block.Size)
	return ns.commands.ApplyBinary(ctx, ns.state, data)
}

func (ns *NetworkService) send(t Transport, connID string, msg protocol.Message) error {
	line := msg.Encode()
	trace.Message("SEND", connID, line)
	return t.WriteLine(line)
}

func (ns *NetworkService) sendError(t Transport, connID string, reason string) {
	if err := ns.send(t, connID, protocol.Error{Reason: reason}); err != nil {
		log.WithField("error", err).Warn("Failed to send error reply")
	}
}
