// Package discovery announces running sync instances over mDNS and finds
// peers on the same network segment. The engine itself never depends on
// discovery; multicast membership is the real rendezvous. This exists for
// diagnostics: "is anybody else actually running?".
package discovery

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/grovetools/cosync/logging"
	"github.com/sirupsen/logrus"
)

const (
	// Service is the mDNS service type instances register under.
	Service = "_cosync._udp"
	domain  = "local."
)

// Advertiser keeps one mDNS registration alive for this process.
type Advertiser struct {
	server *zeroconf.Server
	log    *logrus.Entry
}

// Advertise registers this instance under its peer id. The TXT record carries
// the multicast port so a browsing peer can spot a port mismatch.
func Advertise(localID string, port int) (*Advertiser, error) {
	log := logging.NewLogger("discovery")
	server, err := zeroconf.Register(localID, Service, domain, port,
		[]string{fmt.Sprintf("port=%d", port)}, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns registration failed: %w", err)
	}
	log.WithFields(logrus.Fields{"instance": localID, "port": port}).Debug("Registered mDNS service")
	return &Advertiser{server: server, log: log}, nil
}

// Shutdown withdraws the registration.
func (a *Advertiser) Shutdown() {
	a.server.Shutdown()
	a.log.Debug("Withdrew mDNS registration")
}

// Peer is one discovered sync instance.
type Peer struct {
	Instance string   `json:"instance"`
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	Addrs    []net.IP `json:"addrs"`
	Text     []string `json:"txt"`
}

// Browse collects the peers visible within the timeout.
func Browse(ctx context.Context, timeout time.Duration) ([]Peer, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mdns resolver: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	var peers []Peer
	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range entries {
			peers = append(peers, Peer{
				Instance: entry.Instance,
				Host:     entry.HostName,
				Port:     entry.Port,
				Addrs:    append(append([]net.IP(nil), entry.AddrIPv4...), entry.AddrIPv6...),
				Text:     entry.Text,
			})
		}
	}()

	if err := resolver.Browse(ctx, Service, domain, entries); err != nil {
		return nil, fmt.Errorf("mdns browse failed: %w", err)
	}
	<-ctx.Done()
	<-done
	return peers, nil
}
