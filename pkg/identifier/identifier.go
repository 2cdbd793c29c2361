package identifier

import (
	"regexp"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/mutagen-io/watchdog/pkg/encoding"
)

const (
	// PrefixEmitter is the prefix used for emitter identifiers.
	PrefixEmitter = "emtr_"
	// PrefixSubscription is the prefix used for subscription identifiers.
	PrefixSubscription = "subs_"
	// PrefixObserver is the prefix used for observer identifiers.
	PrefixObserver = "obsv_"

	// requiredPrefixLength is the required length for identifier prefixes,
	// including the trailing underscore.
	requiredPrefixLength = 5
	// targetBase62Length is the target length for the Base62-encoded portion
	// of identifiers. It is the maximum length of a Base62-encoded 16-byte
	// UUID. Shorter encodings are left-padded to this length.
	targetBase62Length = 22
	// randomLength is the length of the random component in bytes.
	randomLength = 16
)

// prefixMatcher matches valid identifier prefixes.
var prefixMatcher = regexp.MustCompile(`^[a-z]{4}_$`)

// New generates a new collision-resistant identifier with the specified prefix.
// The prefix must consist of four lowercase letters followed by an underscore.
func New(prefix string) (string, error) {
	// Validate the prefix.
	if len(prefix) != requiredPrefixLength {
		return "", errors.New("incorrect prefix length")
	} else if !prefixMatcher.MatchString(prefix) {
		return "", errors.New("invalid prefix")
	}

	// Generate the random component.
	random, err := uuid.NewRandom()
	if err != nil {
		return "", errors.Wrap(err, "unable to generate random value")
	}

	// Encode the random component.
	return prefix + encoding.EncodeBase62(random[:], targetBase62Length), nil
}

// IsValid determines whether or not a string is a valid identifier.
func IsValid(value string) bool {
	if len(value) != requiredPrefixLength+targetBase62Length {
		return false
	} else if !prefixMatcher.MatchString(value[:requiredPrefixLength]) {
		return false
	}
	_, err := encoding.DecodeBase62(value[requiredPrefixLength:], randomLength)
	return err == nil
}
