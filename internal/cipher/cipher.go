// Package cipher is the server's cipher factory: it turns a pre-shared
// password and a method name into per-connection encrypt/decrypt contexts.
// The relay engine treats the contexts it gets back as opaque — it only
// ever calls EncryptInPlace/DecryptInPlace on them, stream-ordered, once per
// byte, exactly as spec'd.
package cipher

import (
	"crypto/rc4"
	"crypto/sha1"
	"crypto/sha256"

	"github.com/pkg/errors"
	"github.com/xtaci/qpp"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/crypto/salsa20/salsa"
)

// salt mirrors the teacher's PBKDF2 salt; it has no secrecy requirement, it
// only needs to be fixed so two processes with the same password derive the
// same key.
const salt = "ssrelay"

// Direction distinguishes the two per-connection contexts a stateful method
// allocates: one for bytes travelling to the client, one for bytes
// travelling to the upstream.
type Direction int

const (
	DirEncryptToClient Direction = iota
	DirDecryptFromClient
)

// Context is the opaque per-direction cipher state. Stateless methods hand
// back a nil Context; the relay engine never dereferences it, only passes it
// back into the same method's InPlace functions.
type Context interface {
	// InPlace mutates all of buf in place. Must be called exactly once per byte
	// in stream order.
	InPlace(buf []byte)
}

// Method is a recognized cipher method: a name plus constructors for its
// per-direction contexts. Stateful methods (Stateful == true) allocate a
// fresh Context per direction per connection; stateless methods return nil
// contexts and InPlace is a property of the buffer alone.
type Method struct {
	Name     string
	Stateful bool
	newCtx   func(key []byte, dir Direction) Context
}

// registry mirrors the shape of the teacher's cryptMethods lookup table in
// std/crypt.go, generalized from "name -> kcp.BlockCrypt" to
// "name -> stateful/stateless stream context constructor".
var registry = map[string]Method{
	"rc4": {
		Name:     "rc4",
		Stateful: true,
		newCtx: func(key []byte, dir Direction) Context {
			c, err := rc4.NewCipher(nonceFor(key, dir, 16))
			if err != nil {
				panic(err)
			}
			return &rc4Context{c}
		},
	},
	"chacha20": {
		Name:     "chacha20",
		Stateful: true,
		newCtx: func(key []byte, dir Direction) Context {
			nonce := nonceFor(key, dir, chacha20.NonceSize)
			c, err := chacha20.NewUnauthenticatedCipher(key[:chacha20.KeySize], nonce)
			if err != nil {
				panic(err)
			}
			return &streamContext{c}
		},
	},
	"salsa20": {
		Name:     "salsa20",
		Stateful: true,
		newCtx: func(key []byte, dir Direction) Context {
			var k [32]byte
			copy(k[:], key[:32])
			var n [8]byte
			copy(n[:], nonceFor(key, dir, 8))
			return &salsaContext{key: k, nonce: n}
		},
	},
	"qpp": {
		Name:     "qpp",
		Stateful: true,
		newCtx: func(key []byte, dir Direction) Context {
			pad := qpp.NewQPP(key, qppPads)
			seed := nonceFor(key, dir, 32)
			return &qppContext{
				pad:     pad,
				rand:    qpp.CreatePRNG(seed),
				encrypt: dir == DirEncryptToClient,
			}
		},
	},
	"none": {
		Name:     "none",
		Stateful: false,
		newCtx:   nil,
	},
}

// qppPads is the pad count used for the "qpp" method. It must be coprime
// with 8 (the qubit width) for every permutation pad to be reachable; 61 is
// prime and matches the teacher's QPPCount default.
const qppPads = 61

// Factory is the process-wide, read-only-after-init cipher configuration:
// the spec's enc_conf_init result. Build one at startup and hand it to every
// accepted connection.
type Factory struct {
	method Method
	key    []byte
}

// NewFactory derives the shared key from password via PBKDF2-SHA1 (matching
// the teacher's key derivation in server/main.go) and resolves method to a
// concrete Method, falling back to "rc4" with a warning-worthy return value
// if the name is unrecognized.
func NewFactory(password, method string) (*Factory, string, error) {
	if password == "" {
		return nil, "", errors.New("cipher: password must not be empty")
	}
	m, ok := registry[method]
	effective := method
	if !ok {
		m = registry["rc4"]
		effective = "rc4"
	}
	key := pbkdf2.Key([]byte(password), []byte(salt), 4096, 32, sha1.New)
	return &Factory{method: m, key: key}, effective, nil
}

// Stateful reports whether this factory's method allocates per-direction
// contexts (invariant 2 of the §3 data model).
func (f *Factory) Stateful() bool {
	return f.method.Stateful
}

// NewContext allocates a new per-direction context, or nil for stateless
// methods.
func (f *Factory) NewContext(dir Direction) Context {
	if !f.method.Stateful {
		return nil
	}
	return f.method.newCtx(f.key, dir)
}

// MethodName returns the resolved method name (after fallback).
func (f *Factory) MethodName() string {
	return f.method.Name
}

// EncryptInPlace mutates buf using ctx. A nil ctx (stateless method) is a
// no-op, per §4.2: "must be no-ops or apply the cipher without per-connection
// state."
func EncryptInPlace(buf []byte, ctx Context) {
	if ctx == nil {
		return
	}
	ctx.InPlace(buf)
}

// DecryptInPlace mutates buf using ctx. Symmetric to EncryptInPlace.
func DecryptInPlace(buf []byte, ctx Context) {
	if ctx == nil {
		return
	}
	ctx.InPlace(buf)
}

// nonceFor derives a direction-specific nonce/seed from the shared key so
// the encrypt and decrypt contexts of a connection never reuse the same
// keystream. spec.md's wire protocol has no out-of-band IV exchange, so this
// is deterministic per (key, direction) rather than per-connection-random;
// see DESIGN.md's Open Question entry on cipher nonces.
func nonceFor(key []byte, dir Direction, n int) []byte {
	h := sha256.New()
	h.Write(key)
	h.Write([]byte{byte(dir)})
	sum := h.Sum(nil)
	out := make([]byte, n)
	copy(out, sum)
	return out
}

type rc4Context struct {
	c *rc4.Cipher
}

func (r *rc4Context) InPlace(buf []byte) {
	r.c.XORKeyStream(buf, buf)
}

type streamContext struct {
	c *chacha20.Cipher
}

func (s *streamContext) InPlace(buf []byte) {
	s.c.XORKeyStream(buf, buf)
}

// salsaContext generates keystream 64 bytes (one salsa20 block) at a time
// and XORs it against the caller's buffer, carrying unused keystream bytes
// over to the next call. The low-level salsa.XORKeyStream primitive only
// ever starts at a block boundary, so per-call buffer lengths that are not
// multiples of 64 would otherwise desynchronize the stream between calls.
type salsaContext struct {
	key     [32]byte
	nonce   [8]byte
	counter uint64
	carry   []byte // unused keystream bytes left over from the last block
}

func (s *salsaContext) InPlace(buf []byte) {
	pos := 0
	for pos < len(buf) {
		if len(s.carry) == 0 {
			var block [16]byte
			copy(block[:8], s.nonce[:])
			putUint64(block[8:], s.counter)
			s.counter++

			var zero, stream [64]byte
			salsa.XORKeyStream(stream[:], zero[:], &block, &s.key)
			s.carry = stream[:]
		}
		n := len(buf) - pos
		if n > len(s.carry) {
			n = len(s.carry)
		}
		for i := 0; i < n; i++ {
			buf[pos+i] ^= s.carry[i]
		}
		s.carry = s.carry[n:]
		pos += n
	}
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// qppContext binds a permutation pad to one direction at construction time:
// a context built for DirEncryptToClient always permutes, one built for
// DirDecryptFromClient always un-permutes, so a single InPlace method
// satisfies both cipher.EncryptInPlace and cipher.DecryptInPlace callers.
type qppContext struct {
	pad     *qpp.QuantumPermutationPad
	rand    *qpp.Rand
	encrypt bool
}

func (q *qppContext) InPlace(buf []byte) {
	if q.encrypt {
		q.pad.EncryptWithPRNG(buf, q.rand)
	} else {
		q.pad.DecryptWithPRNG(buf, q.rand)
	}
}
