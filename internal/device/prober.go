// Package device derives the device class and client IP recorded when a session starts.
package device

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	ua "github.com/mileusna/useragent"

	"club-manager/backend/internal/session/domain"
)

// Info is the context captured at session start.
type Info struct {
	DeviceType domain.DeviceType
	IPAddress  string
	UserAgent  string
}

// Prober inspects incoming requests. When lookupURL is set and the request carries no routable
// client address (local development), the public address is fetched from that plain-text echo service.
type Prober struct {
	lookupURL string
	client    *http.Client
}

// NewProber returns a Prober. client may be nil; a client with a 3s timeout is used.
func NewProber(lookupURL string, client *http.Client) *Prober {
	if client == nil {
		client = &http.Client{Timeout: 3 * time.Second}
	}
	return &Prober{lookupURL: strings.TrimSpace(lookupURL), client: client}
}

// Probe returns device and network context for a request. clientIP is the address the HTTP layer
// resolved (gin's Context.ClientIP, which honours the trusted proxy list). It never fails; unknown
// values are left empty and the device class defaults to desktop.
func (p *Prober) Probe(ctx context.Context, clientIP, userAgent string) Info {
	ip := ""
	if parsed := net.ParseIP(strings.TrimSpace(clientIP)); parsed != nil {
		ip = parsed.String()
	}
	if p != nil && p.lookupURL != "" && !routable(ip) {
		if looked := p.lookupIP(ctx); looked != "" {
			ip = looked
		}
	}
	return Info{
		DeviceType: DeviceType(userAgent),
		IPAddress:  ip,
		UserAgent:  userAgent,
	}
}

// DeviceType classifies a User-Agent string as mobile, tablet or desktop.
func DeviceType(userAgent string) domain.DeviceType {
	if userAgent == "" {
		return domain.DeviceDesktop
	}
	parsed := ua.Parse(userAgent)
	switch {
	case parsed.Tablet || strings.Contains(userAgent, "iPad"):
		return domain.DeviceTablet
	case strings.Contains(userAgent, "Android") && !strings.Contains(userAgent, "Mobile"):
		return domain.DeviceTablet
	case parsed.Mobile || strings.Contains(userAgent, "iPhone") || strings.Contains(userAgent, "Android"):
		return domain.DeviceMobile
	default:
		return domain.DeviceDesktop
	}
}

func routable(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	return !ip.IsLoopback() && !ip.IsUnspecified() && !ip.IsPrivate() && !ip.IsLinkLocalUnicast()
}

func (p *Prober) lookupIP(ctx context.Context) string {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.lookupURL, nil)
	if err != nil {
		return ""
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64))
	if err != nil {
		return ""
	}
	if ip := net.ParseIP(strings.TrimSpace(string(body))); ip != nil {
		return ip.String()
	}
	return ""
}
