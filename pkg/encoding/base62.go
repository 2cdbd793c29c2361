package encoding

import (
	"strings"

	"github.com/eknkc/basex"
	"github.com/pkg/errors"
)

// Base62Alphabet is the alphabet used for Base62 encoding. Its first character
// encodes zero and is used for padding.
const Base62Alphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// base62 is the Base62 codec. It is safe for concurrent use.
var base62 = newBase62()

// newBase62 creates the Base62 codec.
func newBase62() *basex.Encoding {
	encoding, err := basex.NewEncoding(Base62Alphabet)
	if err != nil {
		panic(errors.Wrap(err, "invalid Base62 alphabet"))
	}
	return encoding
}

// EncodeBase62 encodes a value in Base62 and left-pads the result with zero
// characters to the specified width. Encodings already at least as long as
// the width aren't padded.
func EncodeBase62(value []byte, width int) string {
	encoded := base62.Encode(value)
	if padding := width - len(encoded); padding > 0 {
		return strings.Repeat(Base62Alphabet[:1], padding) + encoded
	}
	return encoded
}

// DecodeBase62 decodes a Base62 value, as produced by EncodeBase62, into a
// value of exactly the specified size in bytes. Padding is discarded. It fails
// if the value is malformed or its magnitude doesn't fit in the size.
func DecodeBase62(value string, size int) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty Base62 value")
	}
	decoded, err := base62.Decode(value)
	if err != nil {
		return nil, errors.Wrap(err, "invalid Base62 value")
	}
	if excess := len(decoded) - size; excess > 0 {
		for _, b := range decoded[:excess] {
			if b != 0 {
				return nil, errors.Errorf("Base62 value exceeds %d bytes", size)
			}
		}
		return decoded[excess:], nil
	}
	result := make([]byte, size)
	copy(result[size-len(decoded):], decoded)
	return result, nil
}
