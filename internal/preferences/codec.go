package preferences

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/roach88/datakit/internal/value"
)

// Snapshot file layout (all integers little-endian):
//
//  1. magic "DKPREFS\x00"
//  2. format version (uint8)
//  3. entry count (uint32)
//  4. per entry: key length (uint16), key bytes, kind (uint8), payload
//
// Payloads: int32 and int64 as fixed width integers, float64 as IEEE 754
// bits, bool as one byte, string and blob as a uint32 length followed by the
// bytes. Entries are written in key order so equal caches produce equal files.
const (
	magicNum      = "DKPREFS\x00"
	formatVersion = 1
	bufferSize    = 64 * 1024
	maxPayload    = 64 << 20
)

// encodeSnapshot writes entries to w in the snapshot format.
func encodeSnapshot(w io.Writer, entries map[string]value.Value) error {
	bw := bufio.NewWriterSize(w, bufferSize)

	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint8(formatVersion)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint32(len(entries))); err != nil {
		return err
	}

	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if len(k) > 0xFFFF {
			return fmt.Errorf("key too long for snapshot: %d bytes", len(k))
		}
		if err := binary.Write(bw, binary.LittleEndian, uint16(len(k))); err != nil {
			return err
		}
		if _, err := bw.WriteString(k); err != nil {
			return err
		}
		if err := encodeValue(bw, entries[k]); err != nil {
			return fmt.Errorf("encode %q: %w", k, err)
		}
	}

	return bw.Flush()
}

func encodeValue(w io.Writer, v value.Value) error {
	if v == nil {
		return fmt.Errorf("nil value")
	}
	if err := binary.Write(w, binary.LittleEndian, uint8(v.Kind())); err != nil {
		return err
	}

	switch t := v.(type) {
	case value.Int32:
		return binary.Write(w, binary.LittleEndian, int32(t))
	case value.Int64:
		return binary.Write(w, binary.LittleEndian, int64(t))
	case value.Float64:
		return binary.Write(w, binary.LittleEndian, float64(t))
	case value.Bool:
		var b uint8
		if t {
			b = 1
		}
		return binary.Write(w, binary.LittleEndian, b)
	case value.String:
		return writeBytes(w, []byte(t))
	case value.Blob:
		return writeBytes(w, t)
	default:
		return fmt.Errorf("unsupported value type: %T", v)
	}
}

func writeBytes(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// decodeSnapshot reads a snapshot written by encodeSnapshot.
func decodeSnapshot(r io.Reader) (map[string]value.Value, error) {
	br := bufio.NewReaderSize(r, bufferSize)

	magic := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magic); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if string(magic) != magicNum {
		return nil, fmt.Errorf("invalid file format: magic number mismatch")
	}

	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}
	if version != formatVersion {
		return nil, fmt.Errorf("unsupported version: %d (expected %d)", version, formatVersion)
	}

	var count uint32
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("read entry count: %w", err)
	}

	entries := make(map[string]value.Value, min(count, 1024))
	for i := uint32(0); i < count; i++ {
		var keyLen uint16
		if err := binary.Read(br, binary.LittleEndian, &keyLen); err != nil {
			return nil, fmt.Errorf("read entry %d: %w", i, err)
		}
		key := make([]byte, keyLen)
		if _, err := io.ReadFull(br, key); err != nil {
			return nil, fmt.Errorf("read entry %d key: %w", i, err)
		}
		v, err := decodeValue(br)
		if err != nil {
			return nil, fmt.Errorf("read entry %q: %w", key, err)
		}
		entries[string(key)] = v
	}

	return entries, nil
}

func decodeValue(r io.Reader) (value.Value, error) {
	var kind uint8
	if err := binary.Read(r, binary.LittleEndian, &kind); err != nil {
		return nil, err
	}

	switch value.Kind(kind) {
	case value.KindInt32:
		var n int32
		err := binary.Read(r, binary.LittleEndian, &n)
		return value.Int32(n), err
	case value.KindInt64:
		var n int64
		err := binary.Read(r, binary.LittleEndian, &n)
		return value.Int64(n), err
	case value.KindFloat64:
		var f float64
		err := binary.Read(r, binary.LittleEndian, &f)
		return value.Float64(f), err
	case value.KindBool:
		var b uint8
		err := binary.Read(r, binary.LittleEndian, &b)
		return value.Bool(b != 0), err
	case value.KindString:
		b, err := readBytes(r)
		return value.String(b), err
	case value.KindBlob:
		b, err := readBytes(r)
		return value.Blob(b), err
	default:
		return nil, fmt.Errorf("unknown value kind %d", kind)
	}
}

func readBytes(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	if n > maxPayload {
		return nil, fmt.Errorf("payload length %d exceeds %d", n, maxPayload)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}
