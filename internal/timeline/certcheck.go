package timeline

import (
	"context"
	"crypto/tls"
	"fmt"
	"math"
	"net"
	"net/url"
	"time"

	"github.com/postpulse/postpulse/internal/config"
)

// expiringWithin is how close to NotAfter a certificate counts as expiring.
const expiringWithin = 30 * 24 * time.Hour

// CertStatus describes the upstream's leaf TLS certificate.
type CertStatus struct {
	Host     string    `json:"host"`
	Issuer   string    `json:"issuer"`
	NotAfter time.Time `json:"not_after"`
	DaysLeft int       `json:"days_left"`
	// Status is one of: valid | expiring | expired.
	Status string `json:"status"`
}

// CheckCertificate dials the timeline API and inspects its leaf certificate.
// It returns nil, nil for plain-HTTP base URLs.
func CheckCertificate(ctx context.Context, cfg config.TimelineConfig) (*CertStatus, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("timeline: parse base url: %w", err)
	}
	if u.Scheme != "https" {
		return nil, nil
	}

	host := u.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "443")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = config.DefaultRequestTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{},
		Config: &tls.Config{
			InsecureSkipVerify: cfg.TLS.InsecureSkipVerify, //nolint:gosec // user-configured
		},
	}
	conn, err := dialer.DialContext(dialCtx, "tcp", host)
	if err != nil {
		return nil, fmt.Errorf("timeline: tls dial %s: %w", host, err)
	}
	defer conn.Close()

	certs := conn.(*tls.Conn).ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return nil, fmt.Errorf("timeline: %s presented no certificate", host)
	}
	return certStatus(host, certs[0].Issuer.CommonName, certs[0].NotAfter, time.Now()), nil
}

func certStatus(host, issuer string, notAfter, now time.Time) *CertStatus {
	left := notAfter.Sub(now)
	cs := &CertStatus{
		Host:     host,
		Issuer:   issuer,
		NotAfter: notAfter.UTC(),
		DaysLeft: int(math.Floor(left.Hours() / 24)),
	}
	switch {
	case left <= 0:
		cs.Status = "expired"
	case left <= expiringWithin:
		cs.Status = "expiring"
	default:
		cs.Status = "valid"
	}
	return cs
}
