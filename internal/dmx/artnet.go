package dmx

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"syscall"
)

// ArtNetPort is the UDP port Art-Net nodes listen on.
const ArtNetPort = 6454

// ArtNetSink sends ArtDMX frames over UDP. The target may be a node
// address or a broadcast address; the port defaults to ArtNetPort.
type ArtNetSink struct {
	conn *net.UDPConn
	addr *net.UDPAddr

	mu  sync.Mutex
	seq uint8
}

// NewArtNetSink opens a UDP socket towards the target.
func NewArtNetSink(target string) (*ArtNetSink, error) {
	host, port, err := net.SplitHostPort(target)
	if err != nil {
		host, port = target, strconv.Itoa(ArtNetPort)
	}
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, fmt.Errorf("resolve Art-Net target: %w", err)
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("open Art-Net socket: %w", err)
	}
	if raw, err := conn.SyscallConn(); err == nil {
		raw.Control(func(fd uintptr) {
			syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_BROADCAST, 1)
		})
	}
	return &ArtNetSink{conn: conn, addr: addr, seq: 1}, nil
}

// Send transmits one ArtDMX frame.
func (s *ArtNetSink) Send(universe uint16, frame []byte) error {
	if len(frame) > UniverseSize {
		return fmt.Errorf("frame length %d exceeds universe size", len(frame))
	}
	s.mu.Lock()
	pkt := artDMXPacket(s.seq, universe, frame)
	s.seq++
	if s.seq == 0 {
		s.seq = 1
	}
	s.mu.Unlock()

	if _, err := s.conn.WriteToUDP(pkt, s.addr); err != nil {
		return fmt.Errorf("send ArtDMX frame: %w", err)
	}
	return nil
}

func (s *ArtNetSink) Close() error {
	return s.conn.Close()
}

// artDMXPacket builds an ArtDMX packet: the Art-Net ID, opcode 0x5000,
// protocol version 14, then sequence, physical port, the 15-bit
// universe address and the big-endian payload length.
func artDMXPacket(seq uint8, universe uint16, data []byte) []byte {
	pkt := make([]byte, 18+len(data))
	copy(pkt, "Art-Net\x00")
	pkt[8], pkt[9] = 0x00, 0x50
	pkt[10], pkt[11] = 0x00, 14
	pkt[12], pkt[13] = seq, 0x00
	pkt[14], pkt[15] = byte(universe&0xff), byte((universe>>8)&0x7f)
	pkt[16], pkt[17] = byte(len(data)>>8), byte(len(data)&0xff)
	copy(pkt[18:], data)
	return pkt
}
