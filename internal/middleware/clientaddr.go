package middleware

import (
	"net/http"
	"net/netip"
)

// ClientAddr returns the client address of r. Proxy headers are not
// consulted here; mount chi's RealIP in front when they are trusted, which
// rewrites RemoteAddr. The zero Addr is returned when the address cannot be
// parsed.
func ClientAddr(r *http.Request) netip.Addr {
	if ap, err := netip.ParseAddrPort(r.RemoteAddr); err == nil {
		return ap.Addr().Unmap()
	}
	if addr, err := netip.ParseAddr(r.RemoteAddr); err == nil {
		return addr.Unmap()
	}
	Logger(r.Context()).Info("unparsable client address", "remote_addr", r.RemoteAddr)
	return netip.Addr{}
}
