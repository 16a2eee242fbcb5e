// Package gbx parses and serializes the map container format exchanged with
// the game. It exposes the structured fields the campaign engine needs
// (blocks, items, medal times, script metadata, player model, map identity)
// behind a stable Go API so the rest of the code never touches raw bytes.
package gbx

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/zeebo/xxh3"
)

const (
	magic   uint32 = 0x47425845 // "GBXE"
	version uint8  = 1

	// maxFieldLen bounds any single length-prefixed field so a corrupt
	// header cannot trigger a huge allocation.
	maxFieldLen = 16 << 20
)

// TimeUnset is the sentinel for an unset medal time in race-family modes.
// Stunt-family modes use 0 instead (scores count up from zero).
const TimeUnset int32 = -1

// Script metadata keys stamped on converted variants.
const (
	MetaConverted      = "Envimix.Converted"
	MetaCar            = "Envimix.Car"
	MetaOriginalUID    = "Envimix.OriginalUid"
	MetaOriginalAuthor = "Envimix.OriginalAuthor"
)

var (
	ErrBadMagic = errors.New("gbx: not a recognized map file")
	ErrChecksum = errors.New("gbx: checksum mismatch")
	errTruncated = errors.New("gbx: truncated input")
)

// Block is a placed gameplay block.
type Block struct {
	Name string
}

// Item is a placed gameplay item.
type Item struct {
	Name string
}

// MapObject is the parsed form of a map file.
type MapObject struct {
	UID         string
	Name        string
	Author      string
	PlayerModel string // car id; empty means the game default
	Mode        string

	AuthorTime int32
	GoldTime   int32
	SilverTime int32
	BronzeTime int32

	Password string // empty when the map is not password-protected
	Lightmap []byte // precomputed lighting cache, nil when absent

	Blocks []Block
	Items  []Item

	// Meta holds script metadata key/value pairs.
	Meta map[string]string
}

// UnsetTime returns the unset medal-time sentinel for the map's mode family.
func (m *MapObject) UnsetTime() int32 {
	if strings.HasPrefix(m.Mode, "Stunt") {
		return 0
	}
	return TimeUnset
}

// Times returns the four medal times in author/gold/silver/bronze order.
func (m *MapObject) Times() [4]int32 {
	return [4]int32{m.AuthorTime, m.GoldTime, m.SilverTime, m.BronzeTime}
}

// Serialize encodes the map into its binary container form.
func Serialize(m *MapObject) ([]byte, error) {
	if m == nil {
		return nil, errors.New("gbx: nil map")
	}

	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, magic)
	buf.WriteByte(version)

	w := &fieldWriter{buf: &buf}
	w.str(m.UID)
	w.str(m.Name)
	w.str(m.Author)
	w.str(m.PlayerModel)
	w.str(m.Mode)
	w.i32(m.AuthorTime)
	w.i32(m.GoldTime)
	w.i32(m.SilverTime)
	w.i32(m.BronzeTime)
	w.str(m.Password)
	w.blob(m.Lightmap)

	w.u32(uint32(len(m.Blocks)))
	for _, b := range m.Blocks {
		w.str(b.Name)
	}
	w.u32(uint32(len(m.Items)))
	for _, it := range m.Items {
		w.str(it.Name)
	}

	// Sorted keys keep serialization deterministic for identical maps.
	keys := make([]string, 0, len(m.Meta))
	for k := range m.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	w.u32(uint32(len(keys)))
	for _, k := range keys {
		w.str(k)
		w.str(m.Meta[k])
	}
	if w.err != nil {
		return nil, w.err
	}

	sum := xxh3.Hash(buf.Bytes())
	binary.Write(&buf, binary.LittleEndian, sum)
	return buf.Bytes(), nil
}

// Parse decodes a binary map container. It returns ErrBadMagic for input
// that is not this format at all, and ErrChecksum for damaged files.
func Parse(data []byte) (*MapObject, error) {
	if len(data) < 13 { // magic + version + checksum
		return nil, ErrBadMagic
	}
	if binary.LittleEndian.Uint32(data[:4]) != magic {
		return nil, ErrBadMagic
	}
	if data[4] != version {
		return nil, fmt.Errorf("gbx: unsupported version %d", data[4])
	}

	body := data[:len(data)-8]
	sum := binary.LittleEndian.Uint64(data[len(data)-8:])
	if xxh3.Hash(body) != sum {
		return nil, ErrChecksum
	}

	r := &fieldReader{data: body, off: 5}
	m := &MapObject{}
	m.UID = r.str()
	m.Name = r.str()
	m.Author = r.str()
	m.PlayerModel = r.str()
	m.Mode = r.str()
	m.AuthorTime = r.i32()
	m.GoldTime = r.i32()
	m.SilverTime = r.i32()
	m.BronzeTime = r.i32()
	m.Password = r.str()
	m.Lightmap = r.blob()

	nblocks := r.u32()
	if r.err == nil && nblocks > maxFieldLen {
		return nil, errTruncated
	}
	for i := uint32(0); i < nblocks && r.err == nil; i++ {
		m.Blocks = append(m.Blocks, Block{Name: r.str()})
	}
	nitems := r.u32()
	if r.err == nil && nitems > maxFieldLen {
		return nil, errTruncated
	}
	for i := uint32(0); i < nitems && r.err == nil; i++ {
		m.Items = append(m.Items, Item{Name: r.str()})
	}

	nmeta := r.u32()
	if r.err == nil && nmeta > 0 {
		m.Meta = make(map[string]string, nmeta)
	}
	for i := uint32(0); i < nmeta && r.err == nil; i++ {
		k := r.str()
		m.Meta[k] = r.str()
	}

	if r.err != nil {
		return nil, r.err
	}
	if r.off != len(body) {
		return nil, fmt.Errorf("gbx: %d trailing bytes", len(body)-r.off)
	}
	return m, nil
}

// fieldWriter writes length-prefixed fields, capturing the first error.
type fieldWriter struct {
	buf *bytes.Buffer
	err error
}

func (w *fieldWriter) u32(v uint32) {
	if w.err != nil {
		return
	}
	w.err = binary.Write(w.buf, binary.LittleEndian, v)
}

func (w *fieldWriter) i32(v int32) {
	if w.err != nil {
		return
	}
	w.err = binary.Write(w.buf, binary.LittleEndian, v)
}

func (w *fieldWriter) str(s string) {
	if len(s) > maxFieldLen {
		w.err = fmt.Errorf("gbx: field too long (%d bytes)", len(s))
		return
	}
	w.u32(uint32(len(s)))
	if w.err == nil {
		w.buf.WriteString(s)
	}
}

func (w *fieldWriter) blob(b []byte) {
	if len(b) > maxFieldLen {
		w.err = fmt.Errorf("gbx: field too long (%d bytes)", len(b))
		return
	}
	w.u32(uint32(len(b)))
	if w.err == nil {
		w.buf.Write(b)
	}
}

// fieldReader is the mirror of fieldWriter.
type fieldReader struct {
	data []byte
	off  int
	err  error
}

func (r *fieldReader) u32() uint32 {
	if r.err != nil {
		return 0
	}
	if r.off+4 > len(r.data) {
		r.err = errTruncated
		return 0
	}
	v := binary.LittleEndian.Uint32(r.data[r.off:])
	r.off += 4
	return v
}

func (r *fieldReader) i32() int32 {
	return int32(r.u32())
}

func (r *fieldReader) str() string {
	n := r.u32()
	if r.err != nil {
		return ""
	}
	if n > maxFieldLen || r.off+int(n) > len(r.data) {
		r.err = errTruncated
		return ""
	}
	s := string(r.data[r.off : r.off+int(n)])
	r.off += int(n)
	return s
}

func (r *fieldReader) blob() []byte {
	n := r.u32()
	if r.err != nil || n == 0 {
		return nil
	}
	if n > maxFieldLen || r.off+int(n) > len(r.data) {
		r.err = errTruncated
		return nil
	}
	b := make([]byte, n)
	copy(b, r.data[r.off:r.off+int(n)])
	r.off += int(n)
	return b
}
