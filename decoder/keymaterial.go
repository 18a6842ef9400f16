package decoder

import (
	"encoding/hex"
	"fmt"
	"regexp"
)

// CipherMaterial is the AES key and IV recovered from the chapter script.
type CipherMaterial struct {
	Key []byte
	IV  []byte
}

// hexVariablePatterns are compiled once; the script only ever binds these
// two names through CryptoJS.enc.Hex.parse.
var hexVariablePatterns = map[string]*regexp.Regexp{
	"key": hexVariablePattern("key"),
	"iv":  hexVariablePattern("iv"),
}

func hexVariablePattern(variable string) *regexp.Regexp {
	return regexp.MustCompile(`var ` + regexp.QuoteMeta(variable) + `\s*=\s*CryptoJS\.enc\.Hex\.parse\("([0-9a-zA-Z]+)"\)`)
}

// FindHexEncodedVariable returns the hex literal bound to variable in the
// deobfuscated script, or "" when the assignment is missing. The
// CryptoJS call is only a textual marker; nothing is executed.
func FindHexEncodedVariable(script, variable string) string {
	re, ok := hexVariablePatterns[variable]
	if !ok {
		re = hexVariablePattern(variable)
	}

	m := re.FindStringSubmatch(script)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// ExtractCipherMaterial pulls the key and iv literals out of the script and
// decodes them. Missing or malformed material is a hard failure.
func ExtractCipherMaterial(script string) (CipherMaterial, error) {
	key, err := decodeHexVariable(script, "key")
	if err != nil {
		return CipherMaterial{}, err
	}

	iv, err := decodeHexVariable(script, "iv")
	if err != nil {
		return CipherMaterial{}, err
	}

	return CipherMaterial{Key: key, IV: iv}, nil
}

func decodeHexVariable(script, variable string) ([]byte, error) {
	raw := FindHexEncodedVariable(script, variable)
	if raw == "" {
		return nil, &ExtractionError{What: variable, Hint: "CryptoJS.enc.Hex.parse assignment"}
	}
	if len(raw)%2 != 0 {
		return nil, fmt.Errorf("hex literal for %s must have an even length, got %d", variable, len(raw))
	}

	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode hex literal for %s: %w", variable, err)
	}
	return b, nil
}
