// Package nvimrpc is a minimal client for Neovim's msgpack-RPC API
// (https://neovim.io/doc/user/api.html), used by the tool-request
// dispatcher to drive an editor PTY's `--listen` socket. No msgpack-RPC
// client ships anywhere in the reference corpus, so this speaks the
// wire format directly the same way the shell/OSC scanners do for
// their own narrow binary protocols: only the handful of msgpack types
// Neovim's API actually returns are implemented (see DESIGN.md).
package nvimrpc

import (
	"bufio"
	"fmt"
	"io"
	"math"
)

func encodeValue(w io.Writer, v any) error {
	bw, ok := w.(*byteCounter)
	if !ok {
		bw = &byteCounter{w: w}
	}
	return encode(bw, v)
}

type byteCounter struct{ w io.Writer }

func (b *byteCounter) Write(p []byte) (int, error) { return b.w.Write(p) }

func encode(w io.Writer, v any) error {
	switch val := v.(type) {
	case nil:
		_, err := w.Write([]byte{0xc0})
		return err
	case bool:
		if val {
			_, err := w.Write([]byte{0xc3})
			return err
		}
		_, err := w.Write([]byte{0xc2})
		return err
	case int:
		return encodeInt(w, int64(val))
	case int64:
		return encodeInt(w, val)
	case uint64:
		return encodeInt(w, int64(val))
	case float64:
		buf := make([]byte, 9)
		buf[0] = 0xcb
		bits := math.Float64bits(val)
		for i := 0; i < 8; i++ {
			buf[1+i] = byte(bits >> (56 - 8*i))
		}
		_, err := w.Write(buf)
		return err
	case string:
		return encodeString(w, val)
	case []byte:
		return encodeBin(w, val)
	case []any:
		if err := encodeArrayHeader(w, len(val)); err != nil {
			return err
		}
		for _, e := range val {
			if err := encode(w, e); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		if err := encodeMapHeader(w, len(val)); err != nil {
			return err
		}
		for k, e := range val {
			if err := encodeString(w, k); err != nil {
				return err
			}
			if err := encode(w, e); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("nvimrpc: unsupported encode type %T", v)
	}
}

func encodeInt(w io.Writer, n int64) error {
	switch {
	case n >= 0 && n <= 127:
		_, err := w.Write([]byte{byte(n)})
		return err
	case n < 0 && n >= -32:
		_, err := w.Write([]byte{byte(n)})
		return err
	case n >= math.MinInt32 && n <= math.MaxInt32:
		buf := make([]byte, 5)
		buf[0] = 0xd2
		u := uint32(int32(n))
		buf[1] = byte(u >> 24)
		buf[2] = byte(u >> 16)
		buf[3] = byte(u >> 8)
		buf[4] = byte(u)
		_, err := w.Write(buf)
		return err
	default:
		buf := make([]byte, 9)
		buf[0] = 0xd3
		u := uint64(n)
		for i := 0; i < 8; i++ {
			buf[1+i] = byte(u >> (56 - 8*i))
		}
		_, err := w.Write(buf)
		return err
	}
}

func encodeString(w io.Writer, s string) error {
	n := len(s)
	switch {
	case n <= 31:
		if _, err := w.Write([]byte{0xa0 | byte(n)}); err != nil {
			return err
		}
	case n <= math.MaxUint8:
		if _, err := w.Write([]byte{0xd9, byte(n)}); err != nil {
			return err
		}
	case n <= math.MaxUint16:
		if _, err := w.Write([]byte{0xda, byte(n >> 8), byte(n)}); err != nil {
			return err
		}
	default:
		if _, err := w.Write([]byte{0xdb, byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}); err != nil {
			return err
		}
	}
	_, err := w.Write([]byte(s))
	return err
}

func encodeBin(w io.Writer, b []byte) error {
	n := len(b)
	switch {
	case n <= math.MaxUint8:
		if _, err := w.Write([]byte{0xc4, byte(n)}); err != nil {
			return err
		}
	case n <= math.MaxUint16:
		if _, err := w.Write([]byte{0xc5, byte(n >> 8), byte(n)}); err != nil {
			return err
		}
	default:
		if _, err := w.Write([]byte{0xc6, byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)}); err != nil {
			return err
		}
	}
	_, err := w.Write(b)
	return err
}

func encodeArrayHeader(w io.Writer, n int) error {
	switch {
	case n <= 15:
		_, err := w.Write([]byte{0x90 | byte(n)})
		return err
	case n <= math.MaxUint16:
		_, err := w.Write([]byte{0xdc, byte(n >> 8), byte(n)})
		return err
	default:
		_, err := w.Write([]byte{0xdd, byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)})
		return err
	}
}

func encodeMapHeader(w io.Writer, n int) error {
	switch {
	case n <= 15:
		_, err := w.Write([]byte{0x80 | byte(n)})
		return err
	case n <= math.MaxUint16:
		_, err := w.Write([]byte{0xde, byte(n >> 8), byte(n)})
		return err
	default:
		_, err := w.Write([]byte{0xdf, byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)})
		return err
	}
}

// decode reads exactly one self-delimited msgpack value from r.
func decode(r *bufio.Reader) (any, error) {
	b, err := r.ReadByte()
	if err != nil {
		return nil, err
	}
	switch {
	case b <= 0x7f:
		return int64(b), nil
	case b >= 0xe0:
		return int64(int8(b)), nil
	case b >= 0xa0 && b <= 0xbf:
		return readString(r, int(b&0x1f))
	case b >= 0x90 && b <= 0x9f:
		return readArray(r, int(b&0x0f))
	case b >= 0x80 && b <= 0x8f:
		return readMap(r, int(b&0x0f))
	}
	switch b {
	case 0xc0:
		return nil, nil
	case 0xc2:
		return false, nil
	case 0xc3:
		return true, nil
	case 0xc4:
		n, err := readUint(r, 1)
		if err != nil {
			return nil, err
		}
		return readBytes(r, int(n))
	case 0xc5:
		n, err := readUint(r, 2)
		if err != nil {
			return nil, err
		}
		return readBytes(r, int(n))
	case 0xc6:
		n, err := readUint(r, 4)
		if err != nil {
			return nil, err
		}
		return readBytes(r, int(n))
	case 0xca:
		n, err := readUint(r, 4)
		if err != nil {
			return nil, err
		}
		return math.Float32frombits(uint32(n)), nil
	case 0xcb:
		n, err := readUint(r, 8)
		if err != nil {
			return nil, err
		}
		return math.Float64frombits(n), nil
	case 0xcc:
		n, err := readUint(r, 1)
		return int64(n), err
	case 0xcd:
		n, err := readUint(r, 2)
		return int64(n), err
	case 0xce:
		n, err := readUint(r, 4)
		return int64(n), err
	case 0xcf:
		n, err := readUint(r, 8)
		return int64(n), err
	case 0xd0:
		n, err := readUint(r, 1)
		return int64(int8(n)), err
	case 0xd1:
		n, err := readUint(r, 2)
		return int64(int16(n)), err
	case 0xd2:
		n, err := readUint(r, 4)
		return int64(int32(n)), err
	case 0xd3:
		n, err := readUint(r, 8)
		return int64(n), err
	case 0xd9:
		n, err := readUint(r, 1)
		if err != nil {
			return nil, err
		}
		return readString(r, int(n))
	case 0xda:
		n, err := readUint(r, 2)
		if err != nil {
			return nil, err
		}
		return readString(r, int(n))
	case 0xdb:
		n, err := readUint(r, 4)
		if err != nil {
			return nil, err
		}
		return readString(r, int(n))
	case 0xdc:
		n, err := readUint(r, 2)
		if err != nil {
			return nil, err
		}
		return readArray(r, int(n))
	case 0xdd:
		n, err := readUint(r, 4)
		if err != nil {
			return nil, err
		}
		return readArray(r, int(n))
	case 0xde:
		n, err := readUint(r, 2)
		if err != nil {
			return nil, err
		}
		return readMap(r, int(n))
	case 0xdf:
		n, err := readUint(r, 4)
		if err != nil {
			return nil, err
		}
		return readMap(r, int(n))
	case 0xd4, 0xd5, 0xd6, 0xd7, 0xd8:
		// fixext1/2/4/8/16: Neovim represents Buffer/Window/Tabpage
		// handles this way. The handle's value is the payload's
		// trailing integer; the type byte itself is discardable here.
		sizes := map[byte]int{0xd4: 1, 0xd5: 2, 0xd6: 4, 0xd7: 8, 0xd8: 16}
		if _, err := r.ReadByte(); err != nil { // ext type byte
			return nil, err
		}
		n, err := readUint(r, sizes[b])
		return int64(n), err
	case 0xc7, 0xc8, 0xc9:
		// ext8/16/32
		szBytes := map[byte]int{0xc7: 1, 0xc8: 2, 0xc9: 4}[b]
		sz, err := readUint(r, szBytes)
		if err != nil {
			return nil, err
		}
		if _, err := r.ReadByte(); err != nil { // ext type byte
			return nil, err
		}
		n, err := readUint(r, int(sz))
		return int64(n), err
	default:
		return nil, fmt.Errorf("nvimrpc: unsupported msgpack tag 0x%x", b)
	}
}

func readUint(r *bufio.Reader, n int) (uint64, error) {
	var v uint64
	for i := 0; i < n; i++ {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		v = v<<8 | uint64(b)
	}
	return v, nil
}

func readBytes(r *bufio.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	_, err := io.ReadFull(r, buf)
	return buf, err
}

func readString(r *bufio.Reader, n int) (string, error) {
	b, err := readBytes(r, n)
	return string(b), err
}

func readArray(r *bufio.Reader, n int) ([]any, error) {
	out := make([]any, n)
	for i := 0; i < n; i++ {
		v, err := decode(r)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func readMap(r *bufio.Reader, n int) (map[string]any, error) {
	out := make(map[string]any, n)
	for i := 0; i < n; i++ {
		k, err := decode(r)
		if err != nil {
			return nil, err
		}
		v, err := decode(r)
		if err != nil {
			return nil, err
		}
		ks, _ := k.(string)
		out[ks] = v
	}
	return out, nil
}
