package matrix

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/ngld/xverify/pkg/selector"
	"github.com/ngld/xverify/pkg/toolchain"
)

// Fingerprint identifies the inputs of a job that determine its outcome: the toolchain,
// target, member filter, feature set and the exact command. Jobs with the same fingerprint
// build the same thing.
func Fingerprint(profile *toolchain.Profile, sel selector.Selection, argv []string) string {
	profileKey := "none"
	if profile != nil {
		profileKey = profile.Key()
	}

	hash := sha256.New()
	for _, part := range []string{
		profileKey,
		sel.Target.Triple,
		strings.Join(sel.Excluded, ","),
		strings.Join(sel.Features, ","),
		strings.Join(argv, "\x00"),
	} {
		hash.Write([]byte(part))
		hash.Write([]byte{0xff})
	}

	return hex.EncodeToString(hash.Sum(nil))
}
