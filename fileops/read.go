package fileops

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/shaharia-lab/fsmcp"
)

type readArgs struct {
	Path     string `json:"path"`
	Encoding string `json:"encoding"`
	MaxLines int    `json:"max_lines"`
}

// ReadFile handles read_file. Files above the size ceiling are rejected from
// their stat alone and never opened.
func (s *Service) ReadFile(ctx context.Context, params fsmcp.CallToolParams) (fsmcp.CallToolResult, error) {
	ctx, span := fsmcp.StartSpan(ctx, "fileops.ReadFile")
	defer span.End()

	args := readArgs{Encoding: "utf-8"}
	if err := bind(params, &args); err != nil {
		return fsmcp.CallToolResult{}, err
	}

	resolved, err := s.guard.Check(args.Path)
	if err != nil {
		return s.fail(ctx, ToolReadFile, args.Path, err), nil
	}

	dec, err := lookupDecoder(args.Encoding)
	if err != nil {
		return s.fail(ctx, ToolReadFile, args.Path, err), nil
	}

	st, err := s.stat(resolved)
	if err != nil {
		return s.fail(ctx, ToolReadFile, args.Path, err), nil
	}
	if st.IsDir() {
		return fsmcp.ErrorResult(fmt.Sprintf("Is a directory: %s. Use list_directory to see its contents.", args.Path)), nil
	}
	if st.Size() > s.maxFileSize {
		return s.fail(ctx, ToolReadFile, args.Path, &SizeExceededError{Path: resolved, Size: st.Size(), Limit: s.maxFileSize}), nil
	}

	raw, err := s.readLimited(resolved)
	if err != nil {
		return s.fail(ctx, ToolReadFile, args.Path, err), nil
	}

	text, err := dec.decode(raw)
	if err != nil {
		return s.fail(ctx, ToolReadFile, args.Path, &DecodeError{Path: resolved, Encoding: dec.name, Err: err}), nil
	}
	if text == "" {
		return fsmcp.TextResult("(empty file)"), nil
	}
	return fsmcp.TextResult(truncateLines(text, args.MaxLines)), nil
}

// readLimited reads at most maxFileSize bytes. A file that grew past the
// ceiling after it was stat'ed is still rejected.
func (s *Service) readLimited(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	raw, err := io.ReadAll(io.LimitReader(f, s.maxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if int64(len(raw)) > s.maxFileSize {
		return nil, &SizeExceededError{Path: path, Size: int64(len(raw)), Limit: s.maxFileSize}
	}
	return raw, nil
}

type textDecoder struct {
	name   string
	decode func([]byte) (string, error)
}

var encodingAliases = map[string]string{
	"utf8":     "utf-8",
	"us-ascii": "ascii",
	"latin-1":  "iso-8859-1",
	"latin1":   "iso-8859-1",
	"l1":       "iso-8859-1",
	"cp1252":   "windows-1252",
}

func lookupDecoder(name string) (textDecoder, error) {
	raw := strings.ToLower(strings.TrimSpace(name))
	label := strings.ReplaceAll(raw, "_", "-")
	if label == "" {
		label = "utf-8"
	}
	if alias, ok := encodingAliases[label]; ok {
		label = alias
	}

	switch label {
	case "utf-8":
		return textDecoder{name: label, decode: decodeUTF8}, nil
	case "ascii":
		return textDecoder{name: label, decode: decodeASCII}, nil
	case "iso-8859-1":
		// htmlindex maps this label to windows-1252, which is not the same
		// table for 0x80-0x9F.
		return textDecoder{name: label, decode: decodeWith(charmap.ISO8859_1)}, nil
	}

	for _, candidate := range []string{raw, label} {
		if enc, err := htmlindex.Get(candidate); err == nil {
			return textDecoder{name: candidate, decode: decodeWith(enc)}, nil
		}
	}
	return textDecoder{}, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, name)
}

func decodeUTF8(raw []byte) (string, error) {
	raw = trimBOM(raw)
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("invalid byte sequence at offset %d", invalidUTF8Offset(raw))
	}
	return string(raw), nil
}

func decodeASCII(raw []byte) (string, error) {
	for i, c := range raw {
		if c >= utf8.RuneSelf {
			return "", fmt.Errorf("byte 0x%02x at offset %d is outside the ASCII range", c, i)
		}
	}
	return string(raw), nil
}

func decodeWith(enc encoding.Encoding) func([]byte) (string, error) {
	return func(raw []byte) (string, error) {
		out, err := enc.NewDecoder().Bytes(raw)
		if err != nil {
			return "", err
		}
		return string(out), nil
	}
}

func trimBOM(raw []byte) []byte {
	if len(raw) >= 3 && raw[0] == 0xEF && raw[1] == 0xBB && raw[2] == 0xBF {
		return raw[3:]
	}
	return raw
}

func invalidUTF8Offset(raw []byte) int {
	for i := 0; i < len(raw); {
		r, size := utf8.DecodeRune(raw[i:])
		if r == utf8.RuneError && size == 1 {
			return i
		}
		i += size
	}
	return len(raw)
}

// truncateLines keeps the first maxLines lines and appends a notice. A
// trailing newline does not count as an extra line.
func truncateLines(text string, maxLines int) string {
	if maxLines <= 0 {
		return text
	}
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	if len(lines) <= maxLines {
		return text
	}
	return fmt.Sprintf("%s\n\n[Truncated: showing first %d of %d lines]",
		strings.Join(lines[:maxLines], "\n"), maxLines, len(lines))
}
