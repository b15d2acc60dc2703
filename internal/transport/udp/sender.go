// SPDX-License-Identifier: MIT
package udp

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	applog "scope/internal/log"
)

// ErrSenderClosed is returned by Send after Close.
var ErrSenderClosed = errors.New("UDP sender is closed")

// UDPSender writes datagrams to a single target. It is safe for concurrent use.
type UDPSender struct {
	conn   *net.UDPConn
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool

	packets atomic.Uint64
	bytes   atomic.Uint64
	failed  atomic.Uint64
}

// NewUDPSender connects a sender to targetAddress ("host:port").
func NewUDPSender(targetAddress string, logger zerolog.Logger) (*UDPSender, error) {
	raddr, err := net.ResolveUDPAddr("udp", targetAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP target address '%s': %w", targetAddress, err)
	}

	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial UDP for target '%s': %w", targetAddress, err)
	}

	s := &UDPSender{
		conn:   conn,
		logger: applog.Component(logger, "udp").With().Str("target", raddr.String()).Logger(),
	}
	s.logger.Info().Str("local", conn.LocalAddr().String()).Msg("UDP sender ready")
	return s, nil
}

// Send transmits data as one datagram.
func (s *UDPSender) Send(data []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSenderClosed
	}
	n, err := s.conn.Write(data)
	s.mu.Unlock()

	if err != nil {
		// Refused ports surface here on the next write; they are not fatal.
		if s.failed.Add(1) == 1 {
			s.logger.Warn().Err(err).Msg("Error sending packet")
		}
		return fmt.Errorf("failed to send UDP packet: %w", err)
	}
	s.packets.Add(1)
	s.bytes.Add(uint64(n))
	return nil
}

// Counters returns the packets and bytes sent, and the failed writes.
func (s *UDPSender) Counters() (packets, bytes, failed uint64) {
	return s.packets.Load(), s.bytes.Load(), s.failed.Load()
}

// Close closes the connection. Further calls do nothing.
func (s *UDPSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	packets, bytes, failed := s.Counters()
	s.logger.Info().
		Uint64("packets", packets).
		Uint64("bytes", bytes).
		Uint64("failed", failed).
		Msg("Closing UDP sender")

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close UDP connection: %w", err)
	}
	return nil
}
