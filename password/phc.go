package password

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// ErrMalformedHash is returned for stored hashes that are not argon2id PHC
// strings this package can verify.
var ErrMalformedHash = errors.New("malformed argon2id hash")

// phcHash is the decoded form of
// $argon2id$v=19$m=<KiB>,t=<passes>,p=<lanes>$<salt>$<key>.
type phcHash struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func (h phcHash) String() string {
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID, argon2.Version, h.memory, h.time, h.parallelism,
		base64.StdEncoding.EncodeToString(h.salt),
		base64.StdEncoding.EncodeToString(h.key))
}

func parsePHC(encoded string) (phcHash, error) {
	var h phcHash

	fields := strings.Split(encoded, "$")
	if len(fields) != 6 || fields[0] != "" || fields[1] != algorithmID {
		return h, fmt.Errorf("%w: not an %s string", ErrMalformedHash, algorithmID)
	}

	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil || version != argon2.Version {
		return h, fmt.Errorf("%w: unsupported version %q", ErrMalformedHash, fields[2])
	}

	var parallelism uint32
	n, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &h.memory, &h.time, &parallelism)
	if err != nil || n != 3 || fmt.Sprintf("m=%d,t=%d,p=%d", h.memory, h.time, parallelism) != fields[3] {
		return h, fmt.Errorf("%w: bad parameters %q", ErrMalformedHash, fields[3])
	}
	if h.memory < minMemoryKB || h.time < minTimeCost || parallelism < uint32(minParallelism) || parallelism > 255 {
		return h, fmt.Errorf("%w: parameters below floor", ErrMalformedHash)
	}
	h.parallelism = uint8(parallelism)

	if h.salt, err = base64.StdEncoding.DecodeString(fields[4]); err != nil || len(h.salt) < int(minSaltLength) {
		return h, fmt.Errorf("%w: bad salt", ErrMalformedHash)
	}
	if h.key, err = base64.StdEncoding.DecodeString(fields[5]); err != nil || len(h.key) == 0 {
		return h, fmt.Errorf("%w: bad key", ErrMalformedHash)
	}
	return h, nil
}
