package proxychain

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/thushan/netlayer/internal/neterr"
)

// defaultResolver is the resolver socks4Connect always passes to
// resolveIPv4. It is built at package init and opens no connection
// until a lookup runs.
var defaultResolver = NewDefaultDnsResolver()

const (
	socks4Version     = 0x04
	socks4CmdConnect  = 0x01
	socks4ReplyOK     = 0x5A
	socks4ReplyFormat = 0x5B
	socks4ReplyNoIdnt = 0x5C
	socks4ReplyNoUser = 0x5D
)

var socks4ReplyErrors = map[byte]string{
	socks4ReplyFormat: "request rejected or failed",
	socks4ReplyNoIdnt: "request rejected: client is not running identd",
	socks4ReplyNoUser: "request rejected: identd could not confirm user ID",
}

// socks4Connect performs the SOCKS4 handshake (spec.md §4.10, §6): the
// target is resolved to an IPv4 address first since SOCKS4 has no
// domain-name support, then the 8-byte request/reply exchange runs.
func socks4Connect(conn net.Conn, hop Hop, targetHost string, targetPort int) error {
	ip4, err := resolveIPv4(context.Background(), defaultResolver, targetHost)
	if err != nil {
		return neterr.NewProtocolError("socks4", fmt.Sprintf("cannot resolve %q to an IPv4 address: %v", targetHost, err), err)
	}

	req := make([]byte, 0, 9)
	req = append(req, socks4Version, socks4CmdConnect)
	portBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(portBytes, uint16(targetPort))
	req = append(req, portBytes...)
	req = append(req, ip4...)
	req = append(req, 0x00) // empty USERID, null-terminated

	if _, err := conn.Write(req); err != nil {
		return neterr.NewTransportError("socks4_request_write", hop.Host, hop.Port, err)
	}

	reply := make([]byte, 8)
	if _, err := io.ReadFull(conn, reply); err != nil {
		return neterr.NewTransportError("socks4_request_read", hop.Host, hop.Port, err)
	}

	if reply[0] != 0x00 || reply[1] != socks4ReplyOK {
		msg, ok := socks4ReplyErrors[reply[1]]
		if !ok {
			msg = fmt.Sprintf("unknown error 0x%02x", reply[1])
		}
		return neterr.NewProtocolError("socks4", msg, nil)
	}
	return nil
}

// resolveIPv4 resolves host to its 4-byte IPv4 form, failing if only
// AAAA records (or no records) are available. A literal IP is handled
// without a DNS round trip; anything else is resolved through resolver.
func resolveIPv4(ctx context.Context, resolver DnsResolver, host string) (net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			return ip4, nil
		}
		return nil, fmt.Errorf("%s has no IPv4 form", host)
	}

	ips, err := resolver.ResolveIPv4(ctx, host)
	if err != nil {
		return nil, err
	}
	for _, ip := range ips {
		if ip4 := ip.To4(); ip4 != nil {
			return ip4, nil
		}
	}
	return nil, fmt.Errorf("no A record found for %s", host)
}
