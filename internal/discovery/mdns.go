package discovery

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
	"go.uber.org/zap"

	"github.com/sdrkit/flexlink/internal/logging"
)

const (
	// mdnsServiceType is the service radios advertise over mDNS, a
	// secondary discovery path alongside the broadcast announcements
	mdnsServiceType = "_flexlink._tcp"

	// mdnsServiceDomain is the mDNS domain (typically "local.")
	mdnsServiceDomain = "local."

	// mdnsBrowseInterval is how often a fresh browse is issued. Browsing
	// repeatedly keeps mDNS-only radios refreshed ahead of the TTL sweep.
	mdnsBrowseInterval = 5 * time.Second
)

// mdnsLoop browses for advertised radios and folds them into the same
// descriptor table the broadcast path feeds. Failures here are logged and
// retried; mDNS is best-effort and never fatal to the listener.
func (l *Listener) mdnsLoop() {
	defer l.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-l.done
		cancel()
	}()

	for {
		l.browseMDNS(ctx)

		select {
		case <-l.done:
			return
		case <-time.After(mdnsBrowseInterval):
		}
	}
}

// browseMDNS runs one browse cycle, injecting every parsed entry. The
// entries channel is consumed only after Browse succeeds: the resolver
// closes it when the browse context ends, and a failed Browse never
// closes it at all.
func (l *Listener) browseMDNS(ctx context.Context) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		logging.Warn("Failed to create mDNS resolver", zap.Error(err))
		return
	}

	entries := make(chan *zeroconf.ServiceEntry)
	browseCtx, cancel := context.WithTimeout(ctx, mdnsBrowseInterval)
	defer cancel()

	if err := resolver.Browse(browseCtx, mdnsServiceType, mdnsServiceDomain, entries); err != nil {
		logging.Warn("mDNS browse failed", zap.Error(err))
		return
	}

	for entry := range entries {
		if attrs := parseServiceEntry(entry); attrs != nil {
			l.upsert(attrs)
		}
	}
}

// parseServiceEntry converts a zeroconf service entry into announcement
// attributes. Returns nil if the entry lacks the identity the descriptor
// table is keyed on.
func parseServiceEntry(entry *zeroconf.ServiceEntry) map[string]string {
	attrs := make(map[string]string)

	// TXT records carry the same key=value tokens as broadcast announcements
	for _, txt := range entry.Text {
		key, value, found := strings.Cut(txt, "=")
		if !found {
			attrs[key] = ""
			continue
		}
		attrs[key] = value
	}

	// Prefer an IPv4 address
	for _, addr := range entry.AddrIPv4 {
		attrs["ip"] = addr.String()
		break
	}
	if attrs["ip"] == "" && len(entry.AddrIPv6) > 0 {
		attrs["ip"] = entry.AddrIPv6[0].String()
	}

	if entry.Port > 0 {
		attrs["port"] = strconv.Itoa(entry.Port)
	}
	if attrs["serial"] == "" {
		// Fall back to the instance name as identity
		attrs["serial"] = entry.Instance
	}
	if attrs["model"] == "" {
		attrs["model"] = entry.Service
	}

	if attrs["serial"] == "" || attrs["ip"] == "" {
		return nil
	}
	return attrs
}
