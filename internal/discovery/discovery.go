// Package discovery finds a DVR host on the local network when the
// configured one is unreachable (spec section 4.3.3): a bounded concurrent
// TCP probe across the host's own /24 subnets plus any operator-supplied
// fallback subnets, rate-limited so a flapping session can't trigger
// continuous LAN scanning.
package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultPort        = 5050
	defaultTimeout     = 600 * time.Millisecond
	defaultConcurrency = 300
	scanInterval       = 60 * time.Second
)

// Scanner probes for a DVR command-port responder on the local LAN.
type Scanner struct {
	Port            int
	Timeout         time.Duration
	Concurrency     int
	FallbackSubnets []string // CIDR strings, e.g. "192.168.1.0/24"

	// Hosts overrides subnet enumeration entirely when set, used by tests
	// and callers that already know the candidate host list.
	Hosts []string

	limiter *rate.Limiter
}

// NewScanner builds a Scanner with the defaults from spec section 4.3.3
// (port 5050, 600ms per-probe timeout, 300-way concurrency) and a scan rate
// limit of one attempt per 60 seconds.
func NewScanner(fallbackSubnets []string) *Scanner {
	return &Scanner{
		Port:            defaultPort,
		Timeout:         defaultTimeout,
		Concurrency:     defaultConcurrency,
		FallbackSubnets: fallbackSubnets,
		limiter:         rate.NewLimiter(rate.Every(scanInterval), 1),
	}
}

func (s *Scanner) port() int {
	if s.Port == 0 {
		return defaultPort
	}
	return s.Port
}

func (s *Scanner) timeout() time.Duration {
	if s.Timeout == 0 {
		return defaultTimeout
	}
	return s.Timeout
}

func (s *Scanner) concurrency() int {
	if s.Concurrency <= 0 {
		return defaultConcurrency
	}
	return s.Concurrency
}

// Scan probes candidate hosts on the DVR command port and returns the first
// one that accepts a TCP connection. It refuses to run more than once per
// scanInterval.
func (s *Scanner) Scan(ctx context.Context) (string, error) {
	if s.limiter != nil && !s.limiter.Allow() {
		return "", fmt.Errorf("discovery: scan rate-limited, try again later")
	}

	hosts := s.candidateHosts()
	if len(hosts) == 0 {
		return "", fmt.Errorf("discovery: no candidate subnets to scan")
	}

	sem := make(chan struct{}, s.concurrency())
	var wg sync.WaitGroup
	var mu sync.Mutex
	var found string

	for _, host := range hosts {
		wg.Add(1)
		go func(host string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			mu.Lock()
			already := found != ""
			mu.Unlock()
			if already {
				return
			}

			d := net.Dialer{Timeout: s.timeout()}
			conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", host, s.port()))
			if err != nil {
				return
			}
			conn.Close()

			mu.Lock()
			if found == "" {
				found = host
			}
			mu.Unlock()
		}(host)
	}
	wg.Wait()

	if found == "" {
		return "", fmt.Errorf("discovery: no responder found on port %d across %d hosts", s.port(), len(hosts))
	}
	return found, nil
}

func (s *Scanner) candidateHosts() []string {
	if len(s.Hosts) > 0 {
		return s.Hosts
	}

	var nets []*net.IPNet
	if local, err := localIPv4Slash24s(); err == nil {
		nets = append(nets, local...)
	}
	for _, cidr := range s.FallbackSubnets {
		_, ipnet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		nets = append(nets, ipnet)
	}

	seen := make(map[string]bool)
	var hosts []string
	for _, n := range nets {
		for _, h := range hostsInSlash24(n) {
			if !seen[h] {
				seen[h] = true
				hosts = append(hosts, h)
			}
		}
	}
	return hosts
}

// localIPv4Slash24s returns the /24 network containing each of this host's
// own non-loopback IPv4 interface addresses.
func localIPv4Slash24s() ([]*net.IPNet, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	var nets []*net.IPNet
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip4 := ipnet.IP.To4()
			if ip4 == nil {
				continue
			}
			nets = append(nets, &net.IPNet{
				IP:   ip4.Mask(net.CIDRMask(24, 32)),
				Mask: net.CIDRMask(24, 32),
			})
		}
	}
	return nets, nil
}

func hostsInSlash24(n *net.IPNet) []string {
	base := n.IP.Mask(net.CIDRMask(24, 32)).To4()
	if base == nil {
		return nil
	}
	hosts := make([]string, 0, 254)
	for i := 1; i <= 254; i++ {
		hosts = append(hosts, net.IPv4(base[0], base[1], base[2], byte(i)).String())
	}
	return hosts
}
