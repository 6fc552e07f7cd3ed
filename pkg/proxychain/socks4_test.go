package proxychain

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"testing"
)

type fakeResolver struct {
	ips []net.IP
	err error
}

func (f fakeResolver) ResolveIPv4(ctx context.Context, host string) ([]net.IP, error) {
	return f.ips, f.err
}

func TestResolveIPv4UsesLiteralIPWithoutConsultingResolver(t *testing.T) {
	ip, err := resolveIPv4(context.Background(), fakeResolver{err: errors.New("should not be called")}, "203.0.113.9")
	if err != nil {
		t.Fatalf("resolveIPv4: %v", err)
	}
	if !ip.Equal(net.ParseIP("203.0.113.9")) {
		t.Fatalf("got %v", ip)
	}
}

func TestResolveIPv4RejectsIPv6Literal(t *testing.T) {
	if _, err := resolveIPv4(context.Background(), fakeResolver{}, "::1"); err == nil {
		t.Fatal("expected an error for an IPv6-only literal")
	}
}

func TestResolveIPv4DelegatesToResolverForHostnames(t *testing.T) {
	resolver := fakeResolver{ips: []net.IP{net.ParseIP("198.51.100.7")}}
	ip, err := resolveIPv4(context.Background(), resolver, "example.test")
	if err != nil {
		t.Fatalf("resolveIPv4: %v", err)
	}
	if !ip.Equal(net.ParseIP("198.51.100.7")) {
		t.Fatalf("got %v", ip)
	}
}

func TestResolveIPv4PropagatesResolverError(t *testing.T) {
	wantErr := errors.New("no nameservers available")
	if _, err := resolveIPv4(context.Background(), fakeResolver{err: wantErr}, "example.test"); !errors.Is(err, wantErr) {
		t.Fatalf("got %v, want %v", err, wantErr)
	}
}

func TestResolveIPv4FailsWhenResolverReturnsNoIPv4Answers(t *testing.T) {
	resolver := fakeResolver{ips: []net.IP{net.ParseIP("2001:db8::1")}}
	if _, err := resolveIPv4(context.Background(), resolver, "example.test"); err == nil {
		t.Fatal("expected an error when only AAAA-shaped addresses are returned")
	}
}

func TestSocks4ConnectSucceedsOnOKReply(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	var gotReq []byte
	acceptOne(t, ln, func(conn net.Conn) {
		req := make([]byte, 9)
		if _, err := conn.Read(req); err != nil {
			return
		}
		gotReq = req
		conn.Write([]byte{0x00, socks4ReplyOK, 0, 0, 0, 0, 0, 0})
	})

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	hop := Hop{Protocol: ProtocolSOCKS4, Host: "proxy", Port: 1080}
	if err := socks4Connect(conn, hop, "203.0.113.50", 443); err != nil {
		t.Fatalf("socks4Connect: %v", err)
	}

	if gotReq[0] != socks4Version || gotReq[1] != socks4CmdConnect {
		t.Fatalf("unexpected request header: %v", gotReq)
	}
	if port := binary.BigEndian.Uint16(gotReq[2:4]); port != 443 {
		t.Fatalf("request port = %d, want 443", port)
	}
	if !net.IP(gotReq[4:8]).Equal(net.ParseIP("203.0.113.50")) {
		t.Fatalf("request address = %v, want 203.0.113.50", net.IP(gotReq[4:8]))
	}
}

func TestSocks4ConnectReturnsProtocolErrorOnRejection(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	acceptOne(t, ln, func(conn net.Conn) {
		discard := make([]byte, 9)
		conn.Read(discard)
		conn.Write([]byte{0x00, socks4ReplyFormat, 0, 0, 0, 0, 0, 0})
	})

	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	hop := Hop{Protocol: ProtocolSOCKS4, Host: "proxy", Port: 1080}
	if err := socks4Connect(conn, hop, "203.0.113.50", 443); err == nil {
		t.Fatal("expected an error on a rejected SOCKS4 request")
	}
}
