package lattice

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// proxyProtocolSign is the binary-format PROXY protocol v2 signature.
var proxyProtocolSign = []byte{
	0x0d, 0x0a, 0x0d, 0x0a,
	0x00, 0x0d, 0x0a, 0x51,
	0x55, 0x49, 0x54, 0x0a,
}

// proxyListener wraps a *net.TCPListener to transparently decode the
// PROXY protocol (both the text v1 and binary v2 forms) when enabled,
// so RemoteAddr reflects the original client rather than a relaying
// load balancer. Directly adapted from the teacher's listener.go.
type proxyListener struct {
	*net.TCPListener

	enabled                   bool
	readHeaderTimeout         time.Duration
	allowedPROXYRelayerIPNets []*net.IPNet
}

func newProxyListener(cfg *ServerConfig) (*proxyListener, error) {
	var ipNets []*net.IPNet
	for _, s := range cfg.ProxyRelayerIPWhitelist {
		if ip := net.ParseIP(s); ip != nil {
			s = ip.String()
			switch {
			case ip.IsUnspecified():
				s += "/0"
			case ip.To4() != nil:
				s += "/32"
			case ip.To16() != nil:
				s += "/128"
			}
		}

		if _, ipNet, _ := net.ParseCIDR(s); ipNet != nil {
			ipNets = append(ipNets, ipNet)
		}
	}

	return &proxyListener{
		enabled:                   cfg.ProxyProtocolEnabled,
		readHeaderTimeout:         cfg.ProxyReadHeaderTimeout,
		allowedPROXYRelayerIPNets: ipNets,
	}, nil
}

func (l *proxyListener) listen(address string) error {
	nl, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}

	l.TCPListener = nl.(*net.TCPListener)

	return nil
}

// Accept implements net.Listener.
func (l *proxyListener) Accept() (net.Conn, error) {
	tc, err := l.AcceptTCP()
	if err != nil {
		return nil, err
	}

	tc.SetKeepAlive(true)
	tc.SetKeepAlivePeriod(3 * time.Minute)

	if !l.enabled {
		return tc, nil
	}

	proxyable := len(l.allowedPROXYRelayerIPNets) == 0
	if !proxyable {
		host, _, _ := net.SplitHostPort(tc.RemoteAddr().String())
		ip := net.ParseIP(host)
		for _, ipNet := range l.allowedPROXYRelayerIPNets {
			if ipNet.Contains(ip) {
				proxyable = true
				break
			}
		}
	}

	if proxyable {
		return &proxyConn{
			Conn:              tc,
			bufReader:         bufio.NewReader(tc),
			readHeaderOnce:    &sync.Once{},
			readHeaderTimeout: l.readHeaderTimeout,
		}, nil
	}

	return tc, nil
}

// proxyConn implements net.Conn, transparently stripping and decoding
// a PROXY protocol header (v1 or v2) on first read.
type proxyConn struct {
	net.Conn

	bufReader         *bufio.Reader
	srcAddr           *net.TCPAddr
	dstAddr           *net.TCPAddr
	readHeaderOnce    *sync.Once
	readHeaderError   error
	readHeaderTimeout time.Duration
}

func (pc *proxyConn) Read(b []byte) (int, error) {
	pc.readHeaderOnce.Do(pc.readHeader)
	if pc.readHeaderError != nil {
		return 0, pc.readHeaderError
	}

	return pc.bufReader.Read(b)
}

func (pc *proxyConn) LocalAddr() net.Addr {
	pc.readHeaderOnce.Do(pc.readHeader)
	if pc.dstAddr != nil {
		return pc.dstAddr
	}

	return pc.Conn.LocalAddr()
}

func (pc *proxyConn) RemoteAddr() net.Addr {
	pc.readHeaderOnce.Do(pc.readHeader)
	if pc.srcAddr != nil {
		return pc.srcAddr
	}

	return pc.Conn.RemoteAddr()
}

func (pc *proxyConn) readHeader() {
	if pc.readHeaderTimeout != 0 {
		pc.SetReadDeadline(time.Now().Add(pc.readHeaderTimeout))
		defer pc.SetReadDeadline(time.Time{})
	}

	defer func() {
		if pc.readHeaderError != nil && pc.readHeaderError != io.EOF {
			pc.Close()
			pc.bufReader = bufio.NewReader(pc.Conn)
		}
	}()

	isV1 := true
	for i := 0; i < 6; i++ { // len("PROXY ")
		b, err := pc.bufReader.Peek(i + 1)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return
			}

			pc.readHeaderError = err

			return
		}

		if b[i] != "PROXY "[i] {
			isV1 = false
			break
		}
	}

	if isV1 {
		pc.readHeaderV1()
		return
	}

	pc.readHeaderV2()
}

func (pc *proxyConn) readHeaderV1() {
	header, err := pc.bufReader.ReadString('\n')
	if err != nil {
		pc.readHeaderError = err
		return
	}

	header = strings.TrimRight(header, "\r\n")

	// PROXY <protocol> <src ip> <dst ip> <src port> <dst port>
	parts := strings.Split(header, " ")
	if len(parts) != 6 {
		pc.readHeaderError = fmt.Errorf("lattice: malformed proxy header line: %s", header)
		return
	}

	switch parts[1] {
	case "TCP4", "TCP6":
	default:
		pc.readHeaderError = fmt.Errorf("lattice: unsupported proxy transport protocol: %s", parts[1])
		return
	}

	srcIP := net.ParseIP(parts[2])
	if srcIP == nil {
		pc.readHeaderError = fmt.Errorf("lattice: invalid proxy source ip: %s", parts[2])
		return
	}

	dstIP := net.ParseIP(parts[3])
	if dstIP == nil {
		pc.readHeaderError = fmt.Errorf("lattice: invalid proxy destination ip: %s", parts[3])
		return
	}

	srcPort, err := strconv.Atoi(parts[4])
	if err != nil {
		pc.readHeaderError = fmt.Errorf("lattice: invalid proxy source port: %s", parts[4])
		return
	}

	dstPort, err := strconv.Atoi(parts[5])
	if err != nil {
		pc.readHeaderError = fmt.Errorf("lattice: invalid proxy destination port: %s", parts[5])
		return
	}

	pc.srcAddr = &net.TCPAddr{IP: srcIP, Port: srcPort}
	pc.dstAddr = &net.TCPAddr{IP: dstIP, Port: dstPort}
}

func (pc *proxyConn) readHeaderV2() {
	for i := 0; i < len(proxyProtocolSign); i++ {
		b, err := pc.bufReader.Peek(i + 1)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return
			}

			pc.readHeaderError = err

			return
		}

		if b[i] != proxyProtocolSign[i] {
			return
		}
	}

	if _, err := pc.bufReader.Discard(len(proxyProtocolSign)); err != nil {
		pc.readHeaderError = err
		return
	}

	b, err := pc.bufReader.ReadByte()
	if err != nil {
		pc.readHeaderError = err
		return
	}

	if b&0xf0 != 0x20 {
		pc.readHeaderError = errors.New("lattice: unsupported proxy protocol version")
		return
	}

	if b&0x0f != 0x01 {
		pc.readHeaderError = errors.New("lattice: unsupported proxy command")
		return
	}

	b, err = pc.bufReader.ReadByte()
	if err != nil {
		pc.readHeaderError = err
		return
	}

	switch b & 0xf0 {
	case 0x10, 0x20:
	default:
		pc.readHeaderError = errors.New("lattice: unsupported proxy address family")
		return
	}

	if b&0x0f != 0x01 {
		pc.readHeaderError = errors.New("lattice: unsupported proxy transport protocol")
		return
	}

	var expectedAddressLength uint16
	switch b {
	case 0x11:
		expectedAddressLength = 12
	case 0x21:
		expectedAddressLength = 36
	default:
		pc.readHeaderError = errors.New("lattice: unsupported combination of proxy address family and transport protocol")
		return
	}

	var addressLength uint16
	if err := binary.Read(io.LimitReader(pc.bufReader, 2), binary.BigEndian, &addressLength); err != nil {
		pc.readHeaderError = fmt.Errorf("lattice: failed to read proxy address length: %w", err)
		return
	}

	if addressLength != expectedAddressLength {
		pc.readHeaderError = fmt.Errorf("lattice: invalid proxy address length: %d", addressLength)
		return
	}

	if _, err := pc.bufReader.Peek(int(addressLength)); err != nil {
		pc.readHeaderError = fmt.Errorf("lattice: failed to peek proxy addresses and ports: %w", err)
		return
	}

	var ipLen int
	switch addressLength {
	case 12:
		ipLen = 4
	case 36:
		ipLen = 16
	}

	buf := make([]byte, addressLength)
	if err := binary.Read(io.LimitReader(pc.bufReader, int64(addressLength)), binary.BigEndian, buf); err != nil {
		pc.readHeaderError = fmt.Errorf("lattice: failed to read proxy addresses and ports: %w", err)
		return
	}

	srcIP := net.IP(buf[:ipLen])
	dstIP := net.IP(buf[ipLen : 2*ipLen])
	srcPort := binary.BigEndian.Uint16(buf[2*ipLen : 2*ipLen+2])
	dstPort := binary.BigEndian.Uint16(buf[2*ipLen+2 : 2*ipLen+4])

	pc.srcAddr = &net.TCPAddr{IP: srcIP, Port: int(srcPort)}
	pc.dstAddr = &net.TCPAddr{IP: dstIP, Port: int(dstPort)}
}
