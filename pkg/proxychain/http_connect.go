package proxychain

import (
	"bufio"
	"encoding/base64"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/thushan/netlayer/internal/neterr"
)

// httpConnect performs the HTTP CONNECT tunneling handshake (spec.md
// §4.10, §6): exact wire form
//
//	CONNECT host:port HTTP/1.1\r\n
//	Host: host:port\r\n
//	[Proxy-Authorization: Basic <b64>\r\n]
//	\r\n
//
// Any non-200 response fails with "Proxy CONNECT failed: <code> <reason>",
// where <reason> is the first word of the status line's reason phrase
// (a 407 Proxy Authentication Required reply gives "407 Proxy").
func httpConnect(conn net.Conn, hop Hop, targetHost string, targetPort int) error {
	target := net.JoinHostPort(targetHost, strconv.Itoa(targetPort))

	var b strings.Builder
	fmt.Fprintf(&b, "CONNECT %s HTTP/1.1\r\n", target)
	fmt.Fprintf(&b, "Host: %s\r\n", target)
	if hop.Auth != nil {
		cred := base64.StdEncoding.EncodeToString([]byte(hop.Auth.User + ":" + hop.Auth.Pass))
		fmt.Fprintf(&b, "Proxy-Authorization: Basic %s\r\n", cred)
	}
	b.WriteString("\r\n")

	if _, err := conn.Write([]byte(b.String())); err != nil {
		return neterr.NewTransportError("http_connect_write", hop.Host, hop.Port, err)
	}

	reader := bufio.NewReader(conn)
	statusLine, err := reader.ReadString('\n')
	if err != nil {
		return neterr.NewTransportError("http_connect_read", hop.Host, hop.Port, err)
	}

	// Drain the remaining header lines until the blank line.
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return neterr.NewTransportError("http_connect_read", hop.Host, hop.Port, err)
		}
		if line == "\r\n" || line == "\n" {
			break
		}
	}

	code, reason, err := parseStatusLine(statusLine)
	if err != nil {
		return neterr.NewProtocolError("http_connect", "malformed status line: "+strings.TrimSpace(statusLine), err)
	}
	if code != 200 {
		return neterr.NewProtocolError("http_connect", fmt.Sprintf("Proxy CONNECT failed: %d %s", code, reason), nil)
	}
	return nil
}

func parseStatusLine(line string) (code int, reason string, err error) {
	line = strings.TrimRight(line, "\r\n")
	parts := strings.Fields(line)
	if len(parts) < 2 {
		return 0, "", fmt.Errorf("not enough fields in status line %q", line)
	}
	code, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, "", fmt.Errorf("invalid status code %q: %w", parts[1], err)
	}
	if len(parts) >= 3 {
		reason = parts[2]
	}
	return code, reason, nil
}
