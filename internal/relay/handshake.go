package relay

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"

	"github.com/pkg/errors"
	"github.com/xtaci/ssrelay/internal/cipher"
)

// Address types recognized in the handshake header.
const (
	atypIPv4   = 1
	atypDomain = 3
)

// ErrUnsupportedAddressType is returned when the handshake names an ATYP
// this relay doesn't understand; the pair is torn down.
var ErrUnsupportedAddressType = errors.New("relay: unsupported address type")

// ReadHandshake consumes the destination header from conn, decrypting each
// chunk through dctx as it arrives.
//
// The legacy C implementation this was ported from trusted a single recv()
// to contain the whole header and would read uninitialized bytes if the
// client split it across TCP segments. This reads exactly as many bytes as
// each stage of the header needs, looping via io.ReadFull, so a header
// split across segments is handled correctly.
func ReadHandshake(conn net.Conn, dctx cipher.Context) (dest string, err error) {
	var atyp [1]byte
	if _, err := io.ReadFull(conn, atyp[:]); err != nil {
		return "", errors.Wrap(err, "relay: read ATYP")
	}
	cipher.DecryptInPlace(atyp[:], dctx)

	switch atyp[0] {
	case atypIPv4:
		var rest [6]byte
		if _, err := io.ReadFull(conn, rest[:]); err != nil {
			return "", errors.Wrap(err, "relay: read IPv4 address")
		}
		cipher.DecryptInPlace(rest[:], dctx)
		ip := net.IPv4(rest[0], rest[1], rest[2], rest[3])
		port := binary.BigEndian.Uint16(rest[4:6])
		return fmt.Sprintf("%s:%d", ip.String(), port), nil

	case atypDomain:
		var lenByte [1]byte
		if _, err := io.ReadFull(conn, lenByte[:]); err != nil {
			return "", errors.Wrap(err, "relay: read domain length")
		}
		cipher.DecryptInPlace(lenByte[:], dctx)
		l := int(lenByte[0])
		if l == 0 {
			return "", errors.New("relay: zero-length domain name")
		}

		rest := make([]byte, l+2)
		if _, err := io.ReadFull(conn, rest); err != nil {
			return "", errors.Wrap(err, "relay: read domain and port")
		}
		cipher.DecryptInPlace(rest, dctx)
		host := string(rest[:l])
		port := binary.BigEndian.Uint16(rest[l : l+2])
		return fmt.Sprintf("%s:%d", host, port), nil

	default:
		return "", errors.Wrapf(ErrUnsupportedAddressType, "ATYP=%d", atyp[0])
	}
}
