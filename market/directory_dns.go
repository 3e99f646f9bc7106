package market

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/miekg/dns"

	"github.com/lightninglabs/coinswap/coinswaperr"
	"github.com/lightninglabs/coinswap/swap"
)

// DNSDirectoryClient discovers Makers the way Bitcoin Core discovers
// full nodes: a DNS seed returns a set of addresses in its A/AAAA
// records, here reinterpreted as one Maker address per record, with the
// TCP port recovered from a parallel TXT lookup of comma-separated
// "host=port" pairs.
// It is read-only — PostAddress is not meaningful against a DNS seed, so
// Makers wanting DNS-seed visibility register out of band with the seed
// operator.
type DNSDirectoryClient struct {
	seed        string
	defaultPort uint16
	resolver    *dns.Client
	server      string
}

// NewDNSDirectoryClient resolves Maker addresses from seed (e.g.
// "coinswap-seed.example.com") via the recursive resolver at server
// (e.g. "1.1.1.1:53"), assigning defaultPort to any host with no TXT
// port record.
func NewDNSDirectoryClient(seed, server string, defaultPort uint16) *DNSDirectoryClient {
	return &DNSDirectoryClient{
		seed:        seed,
		defaultPort: defaultPort,
		resolver:    &dns.Client{Net: "udp"},
		server:      server,
	}
}

func (c *DNSDirectoryClient) Start() error { return nil }
func (c *DNSDirectoryClient) Stop() error  { return nil }

func (c *DNSDirectoryClient) ListMakers(ctx context.Context) ([]swap.MakerAddress, error) {
	hosts, err := c.lookupHosts(c.seed, dns.TypeA)
	if err != nil {
		return nil, err
	}
	hosts6, err := c.lookupHosts(c.seed, dns.TypeAAAA)
	if err != nil {
		log.Debugf("AAAA lookup for %s failed: %v", c.seed, err)
	} else {
		hosts = append(hosts, hosts6...)
	}

	ports := c.lookupPorts(c.seed)

	makers := make([]swap.MakerAddress, 0, len(hosts))
	for _, h := range hosts {
		port := c.defaultPort
		if p, ok := ports[h]; ok {
			port = p
		}
		makers = append(makers, swap.MakerAddress{
			Network: "tcp",
			Host:    net.JoinHostPort(h, strconv.Itoa(int(port))),
		})
	}
	return makers, nil
}

func (c *DNSDirectoryClient) lookupHosts(seed string, qtype uint16) ([]string, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(seed), qtype)

	resp, _, err := c.resolver.Exchange(msg, c.server)
	if err != nil {
		return nil, coinswaperr.Wrap(err)
	}

	var hosts []string
	for _, rr := range resp.Answer {
		switch rec := rr.(type) {
		case *dns.A:
			hosts = append(hosts, rec.A.String())
		case *dns.AAAA:
			hosts = append(hosts, rec.AAAA.String())
		}
	}
	return hosts, nil
}

// lookupPorts reads a TXT record advertising non-default ports, encoded
// as a comma-separated list of "host=port" pairs. A seed operator that
// doesn't publish one simply leaves every Maker on defaultPort.
func (c *DNSDirectoryClient) lookupPorts(seed string) map[string]uint16 {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(seed), dns.TypeTXT)

	resp, _, err := c.resolver.Exchange(msg, c.server)
	if err != nil {
		return nil
	}

	var entries []string
	for _, rr := range resp.Answer {
		if txt, ok := rr.(*dns.TXT); ok {
			entries = append(entries, txt.Txt...)
		}
	}
	return parsePortEntries(entries)
}

// parsePortEntries parses the "host=port,host=port" TXT record format
// into a host->port map, skipping malformed pairs rather than failing
// the whole lookup.
func parsePortEntries(entries []string) map[string]uint16 {
	ports := make(map[string]uint16)
	for _, entry := range entries {
		for _, pair := range strings.Split(entry, ",") {
			host, portStr, ok := strings.Cut(pair, "=")
			if !ok {
				continue
			}
			port, err := strconv.ParseUint(portStr, 10, 16)
			if err != nil {
				continue
			}
			ports[host] = uint16(port)
		}
	}
	return ports
}

func (c *DNSDirectoryClient) PostAddress(ctx context.Context, addr swap.MakerAddress) error {
	return fmt.Errorf("market: DNS seed %s does not accept address registration", c.seed)
}
