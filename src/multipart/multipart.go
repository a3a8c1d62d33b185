package multipart

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
)

const (
	// Prefix starts every fragment body.
	Prefix = "multipart#"

	// MaxFragments is the largest fragment count the header budget can
	// describe.
	MaxFragments = 9999

	separator = '|'
)

// HeaderBudget is the number of bytes reserved for the header of every
// fragment: the length of the header of fragment 9999/9999.
const HeaderBudget = len(Prefix + "9999/9999|")

var (
	// ErrNotMultipart is returned by Decode for a body without the multipart
	// prefix. Such a body is a complete payload in its own right.
	ErrNotMultipart = errors.New("multipart: not a multipart body")

	// ErrMalformedHeader is returned for a fragment whose header cannot be
	// parsed or violates 1 <= index <= total <= MaxFragments. The fragment is
	// dropped.
	ErrMalformedHeader = errors.New("multipart: malformed header")

	// ErrFragmentSizeTooSmall is returned by Encode when the size limit does
	// not leave room for any payload after the header.
	ErrFragmentSizeTooSmall = errors.New("multipart: fragment size too small")

	// ErrTooManyFragments is returned by Encode when the payload would need
	// more than MaxFragments fragments.
	ErrTooManyFragments = errors.New("multipart: too many fragments")
)

// Fragment is one piece of a split payload.
type Fragment struct {
	Index int
	Total int
	Slice []byte
}

func header(index, total int) string {
	return Prefix + strconv.Itoa(index) + "/" + strconv.Itoa(total) + string(separator)
}

// Bytes returns the wire representation of the fragment.
func (f Fragment) Bytes() []byte {
	h := header(f.Index, f.Total)
	res := make([]byte, 0, len(h)+len(f.Slice))
	res = append(res, h...)
	return append(res, f.Slice...)
}

// IsMultipart returns true if body is a multipart fragment.
func IsMultipart(body []byte) bool {
	return bytes.HasPrefix(body, []byte(Prefix))
}

// Encode splits payload into fragments of at most maxSize bytes, header
// included. It returns nil, without error, when the payload already fits in
// maxSize and should be sent as is.
func Encode(payload []byte, maxSize int) ([][]byte, error) {
	if len(payload) <= maxSize {
		return nil, nil
	}

	chunkSize := maxSize - HeaderBudget
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: %d <= %d", ErrFragmentSizeTooSmall, maxSize, HeaderBudget)
	}

	total := (len(payload) + chunkSize - 1) / chunkSize
	if total > MaxFragments {
		return nil, fmt.Errorf("%w: %d", ErrTooManyFragments, total)
	}

	res := make([][]byte, 0, total)
	for i := 0; i < total; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		f := Fragment{
			Index: i + 1,
			Total: total,
			Slice: payload[start:end],
		}
		res = append(res, f.Bytes())
	}

	return res, nil
}

// Parse reads the header of a fragment body. The returned Slice aliases body.
func Parse(body []byte) (Fragment, error) {
	if !IsMultipart(body) {
		return Fragment{}, ErrNotMultipart
	}

	rest := body[len(Prefix):]

	sep := bytes.IndexByte(rest, separator)
	if sep < 0 {
		return Fragment{}, fmt.Errorf("%w: missing separator", ErrMalformedHeader)
	}

	meta := rest[:sep]

	slash := bytes.IndexByte(meta, '/')
	if slash < 0 {
		return Fragment{}, fmt.Errorf("%w: missing total", ErrMalformedHeader)
	}

	index, err := parseCount(meta[:slash])
	if err != nil {
		return Fragment{}, err
	}

	total, err := parseCount(meta[slash+1:])
	if err != nil {
		return Fragment{}, err
	}

	if index > total {
		return Fragment{}, fmt.Errorf("%w: index %d > total %d", ErrMalformedHeader, index, total)
	}

	return Fragment{
		Index: index,
		Total: total,
		Slice: rest[sep+1:],
	}, nil
}

func parseCount(b []byte) (int, error) {
	if len(b) == 0 {
		return 0, fmt.Errorf("%w: empty number", ErrMalformedHeader)
	}
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("%w: %q is not a number", ErrMalformedHeader, b)
		}
	}
	n, err := strconv.Atoi(string(b))
	if err != nil || n < 1 || n > MaxFragments {
		return 0, fmt.Errorf("%w: %q out of range", ErrMalformedHeader, b)
	}
	return n, nil
}
