package tally

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"tallysync/internal/normalizer"

	"github.com/clbanning/mxj/v2"
)

// ErrTallyResponse marks an error reported by Tally inside a 200 response
var ErrTallyResponse = errors.New("tally reported an error")

// Tree is a parsed response: nested maps and lists mirroring the XML
type Tree map[string]any

var charRef = regexp.MustCompile(`&#(x[0-9a-fA-F]+|[0-9]+);`)

// SanitizeXML drops control characters Tally emits both raw and as character
// references, which the XML decoder rejects
func SanitizeXML(body []byte) []byte {
	cleaned := charRef.ReplaceAllFunc(body, func(ref []byte) []byte {
		digits := string(ref[2 : len(ref)-1])
		var code int64
		var err error
		if digits[0] == 'x' || digits[0] == 'X' {
			code, err = strconv.ParseInt(digits[1:], 16, 32)
		} else {
			code, err = strconv.ParseInt(digits, 10, 32)
		}
		if err != nil || !validXMLChar(rune(code)) {
			return nil
		}
		return ref
	})
	out := make([]byte, 0, len(cleaned))
	for _, b := range cleaned {
		if b < 0x20 && b != '\t' && b != '\n' && b != '\r' {
			continue
		}
		out = append(out, b)
	}
	return out
}

func validXMLChar(r rune) bool {
	return r == '\t' || r == '\n' || r == '\r' ||
		(r >= 0x20 && r <= 0xD7FF) ||
		(r >= 0xE000 && r <= 0xFFFD) ||
		(r >= 0x10000 && r <= 0x10FFFF)
}

// ParseResponse sanitizes and parses a Tally response body
func ParseResponse(body []byte) (Tree, error) {
	m, err := mxj.NewMapXml(SanitizeXML(body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse tally response: %w", err)
	}
	tree := Tree(m)
	if node, ok := normalizer.Find(map[string]any(tree), "LINEERROR"); ok {
		return nil, fmt.Errorf("%w: %s", ErrTallyResponse, normalizer.ExtractText(node))
	}
	return tree, nil
}
