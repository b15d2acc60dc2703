// SPDX-License-Identifier: MIT
package udp

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	applog "scope/internal/log"
	"scope/internal/scope"
)

// FrameSource provides the most recent acquisition frame.
type FrameSource interface {
	Latest() (scope.Frame, bool)
}

// Sender transmits one packet.
type Sender interface {
	Send(data []byte) error
}

// UDPPublisher periodically takes the latest frame, packs it into the binary
// format below and sends it. Frames already sent are not repeated. It runs
// in its own goroutine, managed by Start and Stop.
type UDPPublisher struct {
	sender   Sender
	frames   FrameSource
	interval time.Duration
	logger   zerolog.Logger

	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.Mutex // Protects doneChan and running during Start/Stop
	running  bool

	sequenceNum uint32
	lastFrame   uint64

	// Reused on every packet.
	f32Buffer    []float32
	packetBuffer *bytes.Buffer
}

// NewUDPPublisher creates a publisher. If interval is <= 0 it defaults to
// 33ms (~30Hz).
func NewUDPPublisher(interval time.Duration, sender Sender, frames FrameSource, logger zerolog.Logger) (*UDPPublisher, error) {
	if sender == nil {
		return nil, fmt.Errorf("UDPPublisher: UDP sender cannot be nil")
	}
	if frames == nil {
		return nil, fmt.Errorf("UDPPublisher: frame source cannot be nil")
	}

	logger = applog.Component(logger, "udp_publisher")
	if interval <= 0 {
		interval = 33 * time.Millisecond
		logger.Warn().Dur("interval", interval).Msg("Invalid interval, using default")
	}

	return &UDPPublisher{
		sender:       sender,
		frames:       frames,
		interval:     interval,
		logger:       logger,
		packetBuffer: new(bytes.Buffer),
	}, nil
}

// Start launches the publishing goroutine. Calling Start while running is a no-op.
func (p *UDPPublisher) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		p.logger.Warn().Msg("Start called but already running")
		return
	}
	p.running = true
	p.doneChan = make(chan struct{})
	p.stopOnce = sync.Once{}
	doneChan := p.doneChan
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		p.logger.Info().Dur("interval", p.interval).Msg("Publisher started")
		for {
			select {
			case <-ticker.C:
				p.publishLatest()
			case <-doneChan:
				return
			}
		}
	}()
}

// Stop signals the goroutine to exit and waits for it. Safe to call repeatedly.
func (p *UDPPublisher) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.stopOnce.Do(func() {
		close(p.doneChan)
		p.running = false
	})
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info().Uint32("packets", p.sequenceNum).Msg("Publisher stopped")
	return nil
}

// Close stops the publisher.
func (p *UDPPublisher) Close() error {
	return p.Stop()
}

/*
Packet layout (BigEndian):

	+------------------+----------+-------+--------------------------------+
	| Field            | Type     | Bytes | Description                    |
	+------------------+----------+-------+--------------------------------+
	| Sequence Number  | uint32   | 4     | Packet counter                 |
	| Frame Sequence   | uint64   | 8     | Frame.Seq                      |
	| Timestamp        | int64    | 8     | Capture time, ns since epoch   |
	| Frequency        | float32  | 4     | Dominant frequency (Hz)        |
	| Peak Amplitude   | float32  | 4     | mV                             |
	| Volts Per Div    | float32  | 4     | mV/div used for the frame      |
	| Alert            | uint8    | 1     | 1 if above the ceiling         |
	| Sample Count     | uint16   | 2     | N                              |
	| Voltages         | float32  | N*4   | Voltage block (mV)             |
	+------------------+----------+-------+--------------------------------+
*/

// HeaderSize is the number of bytes preceding the voltages.
const HeaderSize = 4 + 8 + 8 + 4 + 4 + 4 + 1 + 2

type packetHeader struct {
	Sequence    uint32
	FrameSeq    uint64
	Timestamp   int64
	Frequency   float32
	Peak        float32
	VoltsPerDiv float32
	Alert       uint8
	Count       uint16
}

// publishLatest sends the latest frame if it has not been sent yet.
func (p *UDPPublisher) publishLatest() {
	frame, ok := p.frames.Latest()
	if !ok || frame.Seq == p.lastFrame {
		return
	}

	packet, err := p.encode(frame)
	if err != nil {
		p.logger.Error().Err(err).Msg("Error packing frame")
		return
	}

	if err := p.sender.Send(packet); err != nil {
		return
	}
	p.lastFrame = frame.Seq
	p.logger.Debug().Uint32("packet", p.sequenceNum).Int("bytes", len(packet)).Msg("Sent packet")
}

func (p *UDPPublisher) encode(frame scope.Frame) ([]byte, error) {
	if len(frame.Voltage) > 0xFFFF {
		return nil, fmt.Errorf("voltage block of %d samples does not fit a packet", len(frame.Voltage))
	}

	if cap(p.f32Buffer) < len(frame.Voltage) {
		p.f32Buffer = make([]float32, len(frame.Voltage))
	}
	p.f32Buffer = p.f32Buffer[:len(frame.Voltage)]
	for i, v := range frame.Voltage {
		p.f32Buffer[i] = float32(v)
	}

	p.sequenceNum++
	header := packetHeader{
		Sequence:    p.sequenceNum,
		FrameSeq:    frame.Seq,
		Timestamp:   frame.Captured.UnixNano(),
		Frequency:   float32(frame.Result.DominantFrequency),
		Peak:        float32(frame.Result.PeakAmplitude),
		VoltsPerDiv: float32(frame.Settings.VoltsPerDivision()),
		Count:       uint16(len(p.f32Buffer)),
	}
	if frame.Alert != nil {
		header.Alert = 1
	}

	p.packetBuffer.Reset()
	if err := binary.Write(p.packetBuffer, binary.BigEndian, header); err != nil {
		return nil, err
	}
	if err := binary.Write(p.packetBuffer, binary.BigEndian, p.f32Buffer); err != nil {
		return nil, err
	}
	return p.packetBuffer.Bytes(), nil
}

// Packet is a decoded publisher packet.
type Packet struct {
	Sequence    uint32
	FrameSeq    uint64
	Timestamp   time.Time
	Frequency   float32
	Peak        float32
	VoltsPerDiv float32
	Alert       bool
	Voltages    []float32
}

// DecodePacket parses a packet produced by UDPPublisher.
func DecodePacket(data []byte) (Packet, error) {
	if len(data) < HeaderSize {
		return Packet{}, fmt.Errorf("packet too short: %d bytes", len(data))
	}
	r := bytes.NewReader(data)

	var h packetHeader
	if err := binary.Read(r, binary.BigEndian, &h); err != nil {
		return Packet{}, fmt.Errorf("failed to read header: %w", err)
	}
	if want := HeaderSize + int(h.Count)*4; len(data) != want {
		return Packet{}, fmt.Errorf("packet length %d, header declares %d", len(data), want)
	}

	voltages := make([]float32, h.Count)
	if err := binary.Read(r, binary.BigEndian, voltages); err != nil {
		return Packet{}, fmt.Errorf("failed to read voltages: %w", err)
	}

	return Packet{
		Sequence:    h.Sequence,
		FrameSeq:    h.FrameSeq,
		Timestamp:   time.Unix(0, h.Timestamp),
		Frequency:   h.Frequency,
		Peak:        h.Peak,
		VoltsPerDiv: h.VoltsPerDiv,
		Alert:       h.Alert == 1,
		Voltages:    voltages,
	}, nil
}
