/*
 Licensed under the Apache License, Version 2.0 (the "License");
 you may not use this file except in compliance with the License.
 You may obtain a copy of the License at

     https://www.apache.org/licenses/LICENSE-2.0

 Unless required by applicable law or agreed to in writing, software
 distributed under the License is distributed on an "AS IS" BASIS,
 WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 See the License for the specific language governing permissions and
 limitations under the License.
*/

package reader

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/ipv4"

	"jinr.ru/greenlab/go-sdds/pkg/layers"
	"jinr.ru/greenlab/go-sdds/pkg/log"
	"jinr.ru/greenlab/go-sdds/pkg/pool"
)

const (
	DefaultBatchSize = 500
	// PollInterval bounds how long a receive waits before the shutdown flag is checked again
	PollInterval = 100 * time.Millisecond
)

// listInterfaces and interfaceAddrs are replaced in tests
var (
	listInterfaces = net.Interfaces
	interfaceAddrs = func(ifi *net.Interface) ([]net.Addr, error) {
		return ifi.Addrs()
	}
)

// Stats are the reader counters
type Stats struct {
	Packets       uint64 `json:"packets"`
	Bytes         uint64 `json:"bytes"`
	Batches       uint64 `json:"batches"`
	SenderChanges uint64 `json:"senderChanges"`
	// Oversized counts datagrams longer than an SDDS frame
	Oversized uint64 `json:"oversized"`
}

type Reader struct {
	mu               sync.Mutex
	conn             *net.UDPConn
	pconn            *ipv4.PacketConn
	iface            string
	addr             *net.UDPAddr
	multicast        bool
	batchSize        int
	socketBufferSize int

	running  atomic.Bool
	stopping atomic.Bool

	packets       atomic.Uint64
	bytes         atomic.Uint64
	batches       atomic.Uint64
	senderChanges atomic.Uint64
	oversized     atomic.Uint64
}

func NewReader() *Reader {
	return &Reader{
		batchSize: DefaultBatchSize,
	}
}

// IsMulticast reports whether ip falls into 224.0.0.0 - 239.255.255.255
func IsMulticast(ip net.IP) bool {
	ip4 := ip.To4()
	return ip4 != nil && ip4[0] >= 224 && ip4[0] <= 239
}

// InterfaceName composes the interface name for a vlan.
// With an empty interface the result is ".vlan" which is matched as a suffix.
func InterfaceName(iface string, vlan uint16) string {
	if vlan == 0 {
		return iface
	}
	return fmt.Sprintf("%s.%d", iface, vlan)
}

// ResolveInterface finds the interface by name, a name starting with a dot
// matches the first interface with that suffix. Empty name resolves to nil.
func ResolveInterface(name string) (*net.Interface, error) {
	if name == "" {
		return nil, nil
	}
	ifaces, err := listInterfaces()
	if err != nil {
		return nil, err
	}
	for i := range ifaces {
		if strings.HasPrefix(name, ".") && strings.HasSuffix(ifaces[i].Name, name) {
			return &ifaces[i], nil
		}
		if ifaces[i].Name == name {
			return &ifaces[i], nil
		}
	}
	return nil, fmt.Errorf("interface %q not found", name)
}

// hasAddress reports whether ip is assigned to the interface
func hasAddress(ifi *net.Interface, ip net.IP) (bool, error) {
	addrs, err := interfaceAddrs(ifi)
	if err != nil {
		return false, err
	}
	for _, addr := range addrs {
		switch a := addr.(type) {
		case *net.IPNet:
			if a.IP.Equal(ip) {
				return true, nil
			}
		case *net.IPAddr:
			if a.IP.Equal(ip) {
				return true, nil
			}
		}
	}
	return false, nil
}

// checkInterface makes sure the interface is up and, for unicast, owns the address
func checkInterface(ifi *net.Interface, ip net.IP, multicast bool) error {
	if ifi.Flags&net.FlagUp == 0 {
		return ErrConfigure{What: fmt.Sprintf("interface %s is down", ifi.Name)}
	}
	if multicast || ip.IsUnspecified() {
		return nil
	}
	ok, err := hasAddress(ifi, ip)
	if err != nil {
		return ErrConfigure{What: fmt.Sprintf("list addresses of %s", ifi.Name), Err: err}
	}
	if !ok {
		return ErrConfigure{What: fmt.Sprintf("address %s is not assigned to interface %s", ip, ifi.Name)}
	}
	return nil
}

// Configure opens a multicast or unicast socket depending on address.
// It is rejected while the reader is running.
func (r *Reader) Configure(iface, address string, vlan uint16, port int) error {
	if r.running.Load() {
		return ErrReaderRunning
	}
	ip := net.ParseIP(address)
	if ip == nil || ip.To4() == nil {
		return ErrConfigure{What: fmt.Sprintf("invalid IPv4 address %q", address)}
	}
	if port < 0 || port > 65535 {
		return ErrConfigure{What: fmt.Sprintf("invalid port %d", port)}
	}

	name := InterfaceName(iface, vlan)
	ifi, err := ResolveInterface(name)
	if err != nil {
		return ErrConfigure{What: "resolve interface", Err: err}
	}

	udpAddr := &net.UDPAddr{IP: ip, Port: port}
	var conn *net.UDPConn
	multicast := IsMulticast(ip)
	if ifi != nil {
		if err := checkInterface(ifi, ip, multicast); err != nil {
			return err
		}
	}
	if multicast {
		log.Info("Joining multicast group %s on interface %q", udpAddr, name)
		conn, err = net.ListenMulticastUDP("udp4", ifi, udpAddr)
	} else {
		log.Info("Binding unicast socket %s", udpAddr)
		conn, err = net.ListenUDP("udp4", udpAddr)
	}
	if err != nil {
		return ErrConfigure{What: fmt.Sprintf("listen %s", udpAddr), Err: err}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.socketBufferSize > 0 {
		if err := conn.SetReadBuffer(r.socketBufferSize); err != nil {
			conn.Close()
			return ErrConfigure{What: "set socket buffer size", Err: err}
		}
	}
	if r.conn != nil {
		r.conn.Close()
	}
	r.conn = conn
	r.pconn = ipv4.NewPacketConn(conn)
	r.addr = udpAddr
	r.multicast = multicast
	if ifi != nil {
		r.iface = ifi.Name
	} else {
		r.iface = name
	}
	r.stopping.Store(false)
	return nil
}

// SetBatchSize sets the number of packets requested per receive call
func (r *Reader) SetBatchSize(n int) error {
	if r.running.Load() {
		return ErrReaderRunning
	}
	if n <= 0 {
		return ErrConfigure{What: fmt.Sprintf("invalid batch size %d", n)}
	}
	r.mu.Lock()
	r.batchSize = n
	r.mu.Unlock()
	return nil
}

// SetSocketBufferSize sets the kernel receive buffer size, it takes effect on the next Configure
func (r *Reader) SetSocketBufferSize(n int) error {
	if r.running.Load() {
		return ErrReaderRunning
	}
	r.mu.Lock()
	r.socketBufferSize = n
	r.mu.Unlock()
	return nil
}

func (r *Reader) BatchSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.batchSize
}

func (r *Reader) SocketBufferSize() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.socketBufferSize
}

// Interface returns the name of the interface the socket is attached to
func (r *Reader) Interface() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.iface
}

// LocalAddr returns the bound address, nil when not configured
func (r *Reader) LocalAddr() *net.UDPAddr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	addr, _ := r.conn.LocalAddr().(*net.UDPAddr)
	return addr
}

func (r *Reader) IsMulticast() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.multicast
}

func (r *Reader) IsRunning() bool {
	return r.running.Load()
}

func (r *Reader) Stats() Stats {
	return Stats{
		Packets:       r.packets.Load(),
		Bytes:         r.bytes.Load(),
		Batches:       r.batches.Load(),
		SenderChanges: r.senderChanges.Load(),
		Oversized:     r.oversized.Load(),
	}
}

// ShutDown makes Run return at the next loop iteration
func (r *Reader) ShutDown() {
	r.stopping.Store(true)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		// wake up a pending receive
		r.conn.SetReadDeadline(time.Now())
	}
}

func sameSender(a, b net.Addr) bool {
	ua, ok := a.(*net.UDPAddr)
	if !ok {
		return a.String() == b.String()
	}
	ub, ok := b.(*net.UDPAddr)
	if !ok {
		return false
	}
	return ua.IP.Equal(ub.IP) && ua.Port == ub.Port
}

// Run receives datagrams into empty pool buffers and publishes them as full.
// It returns when ShutDown is called, the pool shuts down or the socket fails.
// Held buffers go back to the pool and the socket is closed on return.
func (r *Reader) Run(p *pool.Pool, verifySingleSender bool) error {
	r.mu.Lock()
	conn, pconn, n := r.conn, r.pconn, r.batchSize
	r.mu.Unlock()
	if conn == nil {
		return ErrNotConfigured
	}
	if !r.running.CompareAndSwap(false, true) {
		return ErrReaderRunning
	}
	defer r.running.Store(false)

	held := make([]pool.Slot, 0, n)
	defer func() {
		p.RecycleEmpty(held)
		r.mu.Lock()
		if r.conn == conn {
			r.conn, r.pconn = nil, nil
		}
		r.mu.Unlock()
		conn.Close()
		log.Info("Socket reader stopped: %d packets received", r.packets.Load())
	}()

	msgs := make([]ipv4.Message, n)
	for i := range msgs {
		msgs[i].Buffers = make([][]byte, 1)
	}
	var expectedSender net.Addr

	log.Info("Socket reader started: address: %s batch size: %d", conn.LocalAddr(), n)
	for !r.stopping.Load() {
		if len(held) < n {
			var err error
			from := len(held)
			held, err = p.AcquireEmptyInto(held, n-len(held))
			if err != nil {
				return err
			}
			for i := from; i < len(held); i++ {
				msgs[i].Buffers[0] = p.Packet(held[i]).Data[:]
			}
			if p.IsShuttingDown() {
				return nil
			}
		}

		if err := conn.SetReadDeadline(time.Now().Add(PollInterval)); err != nil {
			return err
		}
		count, err := pconn.ReadBatch(msgs[:len(held)], 0)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Error("Error while reading from socket: %s", err)
			return err
		}
		if count == 0 {
			continue
		}

		var received uint64
		for i := 0; i < count; i++ {
			pkt := p.Packet(held[i])
			pkt.Len = msgs[i].N
			pkt.Addr = msgs[i].Addr
			received += uint64(msgs[i].N)
			if pkt.Len > layers.SDDSPacketSize {
				// the spare byte was written, the datagram was cut by the kernel
				r.oversized.Add(1)
				log.Debug("Oversized datagram from %v", pkt.Addr)
			}
			if !verifySingleSender || pkt.Addr == nil {
				continue
			}
			if expectedSender == nil {
				expectedSender = pkt.Addr
				log.Info("Expected sender: %s", expectedSender)
			} else if !sameSender(expectedSender, pkt.Addr) {
				r.senderChanges.Add(1)
				log.Warning("Packet from unexpected sender %s, expected %s", pkt.Addr, expectedSender)
			}
		}

		p.PublishFull(held[:count])
		held = held[:copy(held, held[count:])]
		for i := range held {
			msgs[i].Buffers[0] = p.Packet(held[i]).Data[:]
		}

		r.packets.Add(uint64(count))
		r.bytes.Add(received)
		r.batches.Add(1)
	}
	return nil
}
