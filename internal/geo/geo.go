// Package geo resolves client IPs to ISO country codes for
// country-restricted polls.
package geo

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// MaxMind resolves against a local GeoLite2/GeoIP2 country database.
type MaxMind struct {
	reader *geoip2.Reader
}

func OpenMaxMind(dbPath string) (*MaxMind, error) {
	const op = "geo.OpenMaxMind"

	reader, err := geoip2.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &MaxMind{reader: reader}, nil
}

// Country returns the ISO 3166-1 alpha-2 code for the IP, or "" when
// the address is local/private or simply absent from the database.
func (m *MaxMind) Country(ip string) (string, error) {
	const op = "geo.MaxMind.Country"

	addr := net.ParseIP(ip)
	if addr == nil {
		return "", fmt.Errorf("%s: invalid ip %q", op, ip)
	}
	if addr.IsLoopback() || addr.IsPrivate() {
		return "", nil
	}

	record, err := m.reader.Country(addr)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return record.Country.IsoCode, nil
}

func (m *MaxMind) Close() error {
	return m.reader.Close()
}

// Noop never resolves. Used when no GeoIP database is configured; with
// the conservative default, every country-restricted poll then rejects.
type Noop struct{}

func (Noop) Country(string) (string, error) {
	return "", nil
}
