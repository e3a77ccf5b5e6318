package ast

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
	"gopkg.in/yaml.v3"
)

// Format is an encoding of a declaration stream.
type Format uint8

const (
	FormatAuto Format = iota
	FormatJSON        // a JSON array or newline-delimited JSON objects
	FormatMsgpack     // concatenated msgpack maps, or one msgpack array
	FormatYAML        // a YAML sequence, or one document per declaration
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatMsgpack:
		return "msgpack"
	case FormatYAML:
		return "yaml"
	default:
		return "auto"
	}
}

// ParseFormat accepts json, msgpack, yaml or auto.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return FormatAuto, nil
	case "json", "ndjson", "jsonl":
		return FormatJSON, nil
	case "msgpack", "mp":
		return FormatMsgpack, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return FormatAuto, fmt.Errorf("unknown record format %q", s)
	}
}

// FormatFromPath guesses the format from a file extension.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".ndjson", ".jsonl":
		return FormatJSON
	case ".msgpack", ".mp", ".mpk":
		return FormatMsgpack
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatAuto
	}
}

// Stream yields declarations in input order. Next returns io.EOF after the
// last record.
type Stream interface {
	Next() (*Decl, error)
}

// NewStream wraps r in a decoder for format. FormatAuto sniffs the first
// significant byte.
func NewStream(r io.Reader, format Format) (Stream, error) {
	br := bufio.NewReader(r)
	if format == FormatAuto {
		format = sniff(br)
	}
	switch format {
	case FormatJSON:
		return newJSONStream(br)
	case FormatMsgpack:
		return newMsgpackStream(br), nil
	case FormatYAML:
		return newYAMLStream(br), nil
	default:
		return nil, fmt.Errorf("cannot detect record format")
	}
}

func sniff(br *bufio.Reader) Format {
	for i := 1; i <= 64; i++ {
		buf, err := br.Peek(i)
		if len(buf) < i {
			if err != nil {
				return FormatAuto
			}
			continue
		}
		c := buf[i-1]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			continue
		case c == '[' || c == '{':
			return FormatJSON
		case c == '-' || c == '#' || (c >= 'a' && c <= 'z'):
			return FormatYAML
		default:
			return FormatMsgpack
		}
	}
	return FormatAuto
}

// ReadAll drains s.
func ReadAll(s Stream) ([]*Decl, error) {
	var out []*Decl
	for {
		d, err := s.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, d)
	}
}

// SliceStream serves declarations from memory.
type SliceStream struct {
	decls []*Decl
	pos   int
}

// NewSliceStream returns a stream over decls.
func NewSliceStream(decls []*Decl) *SliceStream {
	return &SliceStream{decls: decls}
}

func (s *SliceStream) Next() (*Decl, error) {
	if s.pos >= len(s.decls) {
		return nil, io.EOF
	}
	d := s.decls[s.pos]
	s.pos++
	return d, nil
}

type jsonStream struct {
	dec     *json.Decoder
	inArray bool
	index   int
}

func newJSONStream(br *bufio.Reader) (*jsonStream, error) {
	dec := json.NewDecoder(br)
	dec.DisallowUnknownFields()
	s := &jsonStream{dec: dec}
	if first := firstNonSpace(br); first == '[' {
		if _, err := dec.Token(); err != nil {
			return nil, fmt.Errorf("json records: %w", err)
		}
		s.inArray = true
	}
	return s, nil
}

func firstNonSpace(br *bufio.Reader) byte {
	for i := 1; i <= 64; i++ {
		buf, _ := br.Peek(i)
		if len(buf) < i {
			return 0
		}
		c := buf[i-1]
		if c != ' ' && c != '\t' && c != '\r' && c != '\n' {
			return c
		}
	}
	return 0
}

func (s *jsonStream) Next() (*Decl, error) {
	if s.inArray && !s.dec.More() {
		if _, err := s.dec.Token(); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("json records: %w", err)
		}
		return nil, io.EOF
	}
	var d Decl
	if err := s.dec.Decode(&d); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("json record %d: %w", s.index, err)
	}
	s.index++
	return &d, nil
}

type msgpackStream struct {
	dec       *msgpack.Decoder
	remaining int // elements left in a top-level array, -1 when not in one
	started   bool
	index     int
}

func newMsgpackStream(br *bufio.Reader) *msgpackStream {
	dec := msgpack.NewDecoder(br)
	dec.SetCustomStructTag("json")
	dec.DisallowUnknownFields(true)
	return &msgpackStream{dec: dec, remaining: -1}
}

func (s *msgpackStream) Next() (*Decl, error) {
	if !s.started {
		s.started = true
		code, err := s.dec.PeekCode()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("msgpack records: %w", err)
		}
		if msgpcode.IsFixedArray(code) || code == msgpcode.Array16 || code == msgpcode.Array32 {
			n, err := s.dec.DecodeArrayLen()
			if err != nil {
				return nil, fmt.Errorf("msgpack records: %w", err)
			}
			s.remaining = n
		}
	}
	if s.remaining == 0 {
		return nil, io.EOF
	}
	var d Decl
	if err := s.dec.Decode(&d); err != nil {
		if errors.Is(err, io.EOF) && s.remaining < 0 {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("msgpack record %d: %w", s.index, err)
	}
	if s.remaining > 0 {
		s.remaining--
	}
	s.index++
	return &d, nil
}

type yamlStream struct {
	dec     *yaml.Decoder
	pending []*Decl
	index   int
}

func newYAMLStream(br *bufio.Reader) *yamlStream {
	dec := yaml.NewDecoder(br)
	dec.KnownFields(true)
	return &yamlStream{dec: dec}
}

func (s *yamlStream) Next() (*Decl, error) {
	for len(s.pending) == 0 {
		var doc yaml.Node
		if err := s.dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("yaml document %d: %w", s.index, err)
		}
		s.index++
		root := &doc
		if root.Kind == yaml.DocumentNode && len(root.Content) > 0 {
			root = root.Content[0]
		}
		switch root.Kind {
		case yaml.SequenceNode:
			var list []*Decl
			if err := root.Decode(&list); err != nil {
				return nil, fmt.Errorf("yaml document %d: %w", s.index-1, err)
			}
			s.pending = append(s.pending, list...)
		case yaml.MappingNode:
			var d Decl
			if err := root.Decode(&d); err != nil {
				return nil, fmt.Errorf("yaml document %d: %w", s.index-1, err)
			}
			s.pending = append(s.pending, &d)
		default:
			// empty documents between separators
		}
	}
	d := s.pending[0]
	s.pending = s.pending[1:]
	return d, nil
}

// Encode writes decls in format. FormatAuto means JSON.
func Encode(w io.Writer, format Format, decls []*Decl) error {
	switch format {
	case FormatAuto, FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(decls)
	case FormatMsgpack:
		enc := msgpack.NewEncoder(w)
		enc.SetCustomStructTag("json")
		enc.SetOmitEmpty(true)
		return enc.Encode(decls)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(decls); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unsupported record format %s", format)
	}
}

// DecodeBytes is a convenience wrapper over NewStream and ReadAll.
func DecodeBytes(data []byte, format Format) ([]*Decl, error) {
	s, err := NewStream(bytes.NewReader(data), format)
	if err != nil {
		return nil, err
	}
	return ReadAll(s)
}
