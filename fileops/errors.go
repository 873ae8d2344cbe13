package fileops

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/shaharia-lab/fsmcp/pathguard"
)

// SizeExceededError is returned when a file is larger than the read ceiling.
// The file is never opened.
type SizeExceededError struct {
	Path  string
	Size  int64
	Limit int64
}

func (e *SizeExceededError) Error() string {
	return fmt.Sprintf("file %s is %s, which exceeds the maximum readable size of %s",
		e.Path, exactSize(e.Size), exactSize(e.Limit))
}

// DecodeError reports file contents that are not valid in the requested
// encoding.
type DecodeError struct {
	Path     string
	Encoding string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode %s as %s: %v", e.Path, e.Encoding, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// ErrUnsupportedEncoding is wrapped when read_file is asked for an encoding
// it does not know.
var ErrUnsupportedEncoding = errors.New("unsupported encoding")

// describe renders err as the text a client sees.
func describe(path string, err error) string {
	var (
		denied   *pathguard.DeniedError
		size     *SizeExceededError
		decoding *DecodeError
	)

	switch {
	case errors.As(err, &denied):
		if denied.Reason == pathguard.ReasonExcluded {
			return fmt.Sprintf("Access denied: %s is not allowed (it matches the protected pattern %q).", path, denied.Pattern)
		}
		return fmt.Sprintf("Access denied: %s is not allowed. It is outside the allowed directories.", path)
	case errors.As(err, &size):
		return fmt.Sprintf("File too large: %s is %s; the configured maximum is %s. Use a smaller file or raise the limit.",
			path, exactSize(size.Size), exactSize(size.Limit))
	case errors.As(err, &decoding):
		return fmt.Sprintf("Decode error: %s could not be decoded as %s (%v). Try another encoding.",
			path, decoding.Encoding, decoding.Err)
	case errors.Is(err, ErrUnsupportedEncoding):
		return fmt.Sprintf("Cannot read %s: %v. Known encodings include utf-8, ascii, latin-1 and utf-16le.", path, err)
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Sprintf("Not found: %s does not exist.", path)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Sprintf("Permission denied: %s cannot be accessed.", path)
	default:
		return fmt.Sprintf("Error: %v", err)
	}
}
