package proxychain

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/thushan/netlayer/internal/neterr"
)

const (
	socks5Version    = 0x05
	socks5NoAuth     = 0x00
	socks5AuthUser   = 0x02
	socks5NoAccept   = 0xFF
	socks5AuthVer    = 0x01
	socks5AuthOK     = 0x00
	socks5CmdConnect = 0x01
	socks5AtypIPv4   = 0x01
	socks5AtypDomain = 0x03
	socks5AtypIPv6   = 0x04
)

var socks5ReplyErrors = map[byte]string{
	0x01: "general SOCKS server failure",
	0x02: "connection not allowed by ruleset",
	0x03: "network unreachable",
	0x04: "host unreachable",
	0x05: "connection refused",
	0x06: "TTL expired",
	0x07: "command not supported",
	0x08: "address type not supported",
}

// socks5Connect performs the SOCKS5 handshake and CONNECT request
// (spec.md §4.10, §6): greeting [0x05,0x02,0x00,0x02], optional
// username/password auth, then the CONNECT request/reply.
func socks5Connect(conn net.Conn, hop Hop, targetHost string, targetPort int) error {
	if _, err := conn.Write([]byte{socks5Version, 0x02, socks5NoAuth, socks5AuthUser}); err != nil {
		return neterr.NewTransportError("socks5_greeting_write", hop.Host, hop.Port, err)
	}

	greetReply := make([]byte, 2)
	if _, err := io.ReadFull(conn, greetReply); err != nil {
		return neterr.NewTransportError("socks5_greeting_read", hop.Host, hop.Port, err)
	}
	if greetReply[0] != socks5Version {
		return neterr.NewProtocolError("socks5", fmt.Sprintf("unexpected SOCKS version in reply: 0x%02x", greetReply[0]), nil)
	}

	switch greetReply[1] {
	case socks5NoAuth:
		// proceed directly to the request
	case socks5AuthUser:
		if err := socks5Authenticate(conn, hop); err != nil {
			return err
		}
	case socks5NoAccept:
		return neterr.NewProtocolError("socks5", "no acceptable methods", nil)
	default:
		return neterr.NewProtocolError("socks5", fmt.Sprintf("unsupported auth method 0x%02x", greetReply[1]), nil)
	}

	return socks5Request(conn, hop, targetHost, targetPort)
}

func socks5Authenticate(conn net.Conn, hop Hop) error {
	if hop.Auth == nil {
		return neterr.NewPolicyError("socks5_auth", "server requires username/password auth but no credentials configured", nil)
	}

	req := make([]byte, 0, 3+len(hop.Auth.User)+len(hop.Auth.Pass))
	req = append(req, socks5AuthVer, byte(len(hop.Auth.User)))
	req = append(req, hop.Auth.User...)
	req = append(req, byte(len(hop.Auth.Pass)))
	req = append(req, hop.Auth.Pass...)

	if _, err := conn.Write(req); err != nil {
		return neterr.NewTransportError("socks5_auth_write", hop.Host, hop.Port, err)
	}

	reply := make([]byte, 2)
	if _, err := io.ReadFull(conn, reply); err != nil {
		return neterr.NewTransportError("socks5_auth_read", hop.Host, hop.Port, err)
	}
	if reply[0] != socks5AuthVer || reply[1] != socks5AuthOK {
		return neterr.NewProtocolError("socks5_auth", "authentication failed", nil)
	}
	return nil
}

func socks5Request(conn net.Conn, hop Hop, targetHost string, targetPort int) error {
	req := []byte{socks5Version, socks5CmdConnect, 0x00, socks5AtypDomain, byte(len(targetHost))}
	req = append(req, targetHost...)
	portBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(portBytes, uint16(targetPort))
	req = append(req, portBytes...)

	if _, err := conn.Write(req); err != nil {
		return neterr.NewTransportError("socks5_request_write", hop.Host, hop.Port, err)
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(conn, header); err != nil {
		return neterr.NewTransportError("socks5_request_read", hop.Host, hop.Port, err)
	}
	if header[0] != socks5Version {
		return neterr.NewProtocolError("socks5", fmt.Sprintf("unexpected SOCKS version in reply: 0x%02x", header[0]), nil)
	}
	if status := header[1]; status != 0x00 {
		msg, ok := socks5ReplyErrors[status]
		if !ok {
			msg = fmt.Sprintf("unknown error 0x%02x", status)
		}
		return neterr.NewProtocolError("socks5", msg, nil)
	}

	return socks5DrainBoundAddress(conn, header[3])
}

// socks5DrainBoundAddress consumes the bound-address portion of the
// reply so the wire position is left exactly at the tunnel payload.
func socks5DrainBoundAddress(conn net.Conn, atyp byte) error {
	var n int
	switch atyp {
	case socks5AtypIPv4:
		n = 6 // 4 bytes address + 2 bytes port
	case socks5AtypDomain:
		lenByte := make([]byte, 1)
		if _, err := io.ReadFull(conn, lenByte); err != nil {
			return neterr.NewTransportError("socks5_bound_addr_read", "", 0, err)
		}
		n = int(lenByte[0]) + 2
	case socks5AtypIPv6:
		n = 18 // 16 bytes address + 2 bytes port
	default:
		return neterr.NewProtocolError("socks5", fmt.Sprintf("unsupported address type 0x%02x", atyp), nil)
	}

	buf := make([]byte, n)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return neterr.NewTransportError("socks5_bound_addr_read", "", 0, err)
	}
	return nil
}
