package discovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/frostdev-ops/pma-alerting-go/internal/config"
	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"
)

const browseTimeout = 5 * time.Second

// Advertiser announces the alerting service over mDNS so dashboards on the
// home network can find its API.
type Advertiser struct {
	config config.DiscoveryConfig
	port   int
	txt    []string
	logger *logrus.Logger

	mu     sync.Mutex
	server *zeroconf.Server
}

// Peer is another alerting instance seen on the network.
type Peer struct {
	Instance  string            `json:"instance"`
	Host      string            `json:"host"`
	Addresses []string          `json:"addresses"`
	Port      int               `json:"port"`
	Text      map[string]string `json:"text,omitempty"`
}

// NewAdvertiser creates an advertiser for the API listening on port. Text
// entries are published as key=value TXT records.
func NewAdvertiser(cfg config.DiscoveryConfig, port int, text map[string]string, logger *logrus.Logger) *Advertiser {
	return &Advertiser{
		config: cfg,
		port:   port,
		txt:    txtRecords(text),
		logger: logger,
	}
}

// Start registers the service. It is a no-op when discovery is disabled.
func (a *Advertiser) Start() error {
	if !a.config.Enabled {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server != nil {
		return nil
	}

	server, err := zeroconf.Register(a.config.Instance, a.config.Service, a.config.Domain, a.port, a.txt, nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}
	a.server = server

	a.logger.WithFields(logrus.Fields{
		"instance": a.config.Instance,
		"service":  a.config.Service,
		"port":     a.port,
	}).Info("Advertising service over mDNS")
	return nil
}

// Stop withdraws the registration.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
	a.logger.Info("mDNS advertisement stopped")
}

// Browse scans for other instances of the configured service.
func (a *Advertiser) Browse(ctx context.Context) ([]Peer, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry, 10)
	browseCtx, cancel := context.WithTimeout(ctx, browseTimeout)
	defer cancel()

	if err := resolver.Browse(browseCtx, a.config.Service, a.config.Domain, entries); err != nil {
		return nil, fmt.Errorf("mDNS browse failed: %w", err)
	}

	var peers []Peer
	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return sortPeers(peers), nil
			}
			peers = append(peers, peerFromEntry(entry))
		case <-browseCtx.Done():
			return sortPeers(peers), nil
		}
	}
}

func peerFromEntry(entry *zeroconf.ServiceEntry) Peer {
	peer := Peer{
		Instance: entry.Instance,
		Host:     entry.HostName,
		Port:     entry.Port,
		Text:     parseText(entry.Text),
	}
	for _, ip := range entry.AddrIPv4 {
		peer.Addresses = append(peer.Addresses, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		peer.Addresses = append(peer.Addresses, ip.String())
	}
	return peer
}

func sortPeers(peers []Peer) []Peer {
	sort.Slice(peers, func(i, j int) bool { return peers[i].Instance < peers[j].Instance })
	return peers
}

func txtRecords(text map[string]string) []string {
	records := make([]string, 0, len(text))
	for k, v := range text {
		records = append(records, k+"="+v)
	}
	sort.Strings(records)
	return records
}

func parseText(records []string) map[string]string {
	if len(records) == 0 {
		return nil
	}
	text := make(map[string]string, len(records))
	for _, txt := range records {
		parts := strings.SplitN(txt, "=", 2)
		if len(parts) == 2 {
			text[parts[0]] = parts[1]
		}
	}
	return text
}
