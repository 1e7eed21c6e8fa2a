package relay

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/xtaci/ssrelay/internal/cipher"
)

func TestReadHandshakeIPv4(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		msg := []byte{atypIPv4, 93, 184, 216, 34, 0, 0}
		binary.BigEndian.PutUint16(msg[5:7], 443)
		client.Write(msg)
	}()

	dest, err := ReadHandshake(server, nil)
	if err != nil {
		t.Fatalf("ReadHandshake: %v", err)
	}
	if dest != "93.184.216.34:443" {
		t.Fatalf("dest = %q, want %q", dest, "93.184.216.34:443")
	}
}

func TestReadHandshakeDomain(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	host := "example.com"
	go func() {
		msg := make([]byte, 2+len(host)+2)
		msg[0] = atypDomain
		msg[1] = byte(len(host))
		copy(msg[2:], host)
		binary.BigEndian.PutUint16(msg[2+len(host):], 8080)
		client.Write(msg)
	}()

	dest, err := ReadHandshake(server, nil)
	if err != nil {
		t.Fatalf("ReadHandshake: %v", err)
	}
	if dest != "example.com:8080" {
		t.Fatalf("dest = %q, want %q", dest, "example.com:8080")
	}
}

// TestReadHandshakeSplitAcrossWrites exercises the fix for the original
// single-recv() assumption: the header arrives one byte at a time.
func TestReadHandshakeSplitAcrossWrites(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	msg := []byte{atypIPv4, 10, 0, 0, 1, 0, 80}
	go func() {
		for _, b := range msg {
			client.Write([]byte{b})
		}
	}()

	dest, err := ReadHandshake(server, nil)
	if err != nil {
		t.Fatalf("ReadHandshake: %v", err)
	}
	if dest != "10.0.0.1:80" {
		t.Fatalf("dest = %q, want %q", dest, "10.0.0.1:80")
	}
}

func TestReadHandshakeUnsupportedAddressType(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		client.Write([]byte{99})
	}()

	_, err := ReadHandshake(server, nil)
	if err == nil {
		t.Fatalf("expected error for unsupported ATYP")
	}
}

func TestReadHandshakeZeroLengthDomainRejected(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		client.Write([]byte{atypDomain, 0})
	}()

	_, err := ReadHandshake(server, nil)
	if err == nil {
		t.Fatalf("expected error for zero-length domain")
	}
}

func TestReadHandshakeDecryptsThroughCipher(t *testing.T) {
	factory, _, err := cipher.NewFactory("a shared password", "rc4")
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	eCtx := factory.NewContext(cipher.DirDecryptFromClient)
	dCtx := factory.NewContext(cipher.DirDecryptFromClient)

	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	plain := []byte{atypIPv4, 1, 2, 3, 4, 0, 53}
	go func() {
		buf := append([]byte(nil), plain...)
		cipher.EncryptInPlace(buf, eCtx)
		client.Write(buf)
	}()

	dest, err := ReadHandshake(server, dCtx)
	if err != nil {
		t.Fatalf("ReadHandshake: %v", err)
	}
	if dest != "1.2.3.4:53" {
		t.Fatalf("dest = %q, want %q", dest, "1.2.3.4:53")
	}
}
