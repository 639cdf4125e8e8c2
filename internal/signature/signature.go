// Package signature derives the request-signing token some upstream helper
// sites demand. The site's homepage embeds a base64-encoded, self-evaluating
// snippet; decoding it yields a small configuration object (an encoded
// numeric sequence, an alphabet, and parameters controlling offset, case,
// reversal, and truncation) from which the token is computed.
//
// The upstream rotates this configuration periodically, so a derived token is
// only valid for the lifetime of the session it was derived from.
package signature

import (
	"encoding/base64"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/grabtap/mediaresolve"
	"github.com/grabtap/mediaresolve/internal/scrape"
)

const (
	// CaseNone leaves the derived key's case alone.
	CaseNone = 0
	// CaseLower lowercases the derived key.
	CaseLower = 1
	// CaseUpper uppercases the derived key.
	CaseUpper = 2
)

var snippetPattern = regexp.MustCompile(`<script>eval\(atob\('(.*?)'\)\);</script>`)

// SiteConfig is the shape-validated signing configuration recovered from the
// obfuscated snippet. Field names follow what the parameters do, not the
// upstream's numeric keys.
type SiteConfig struct {
	// Sequence is a base64-encoded, separator-joined list of numbers, each an
	// offset index into the alphabet.
	Sequence string
	// Alphabet is the string indexed by the decoded sequence.
	Alphabet string
	// TokenPrefix is the identifier segment prefixed (with "-") to the final
	// token.
	TokenPrefix string
	// CaseTransform is one of CaseNone/CaseLower/CaseUpper.
	CaseTransform int
	// TruncateLen truncates the derived key when > 0.
	TruncateLen int
	// Offset is subtracted from each sequence number before indexing.
	Offset int
	// Reverse reverses the alphabet before indexing.
	Reverse bool
	// Separator splits the decoded sequence into numbers.
	Separator string
	// Segment is prepended to the (possibly truncated) key.
	Segment string
}

// ExtractBlob locates the embedded snippet in a page and base64-decodes it.
func ExtractBlob(html string) (string, error) {
	m := snippetPattern.FindStringSubmatch(html)
	if m == nil {
		return "", mediaresolve.NewError(mediaresolve.KindSignature, "no embedded signing snippet in page")
	}
	decoded, err := base64.StdEncoding.DecodeString(m[1])
	if err != nil {
		return "", mediaresolve.WrapError(mediaresolve.KindSignature, err, "signing snippet is not valid base64")
	}
	return string(decoded), nil
}

// ParseConfig recovers the SiteConfig from a decoded snippet. The expected
// key set must be fully present: a partially-matched configuration means the
// upstream changed shape, and deriving a token from it would produce garbage
// that is indistinguishable from a valid key until the API rejects it.
func ParseConfig(blob string) (*SiteConfig, error) {
	objText, err := scrape.OuterJSON(blob)
	if err != nil {
		return nil, mediaresolve.WrapError(mediaresolve.KindSignature, err, "no configuration object in snippet")
	}
	// The snippet is JavaScript, so string literals are single-quoted.
	objText = strings.ReplaceAll(objText, "'", `"`)

	var raw struct {
		Sequence    *string     `json:"0"`
		Alphabet    *string     `json:"1"`
		TokenPrefix *string     `json:"2"`
		Params      []flexValue `json:"f"`
	}
	if err := json.Unmarshal([]byte(objText), &raw); err != nil {
		return nil, mediaresolve.WrapError(mediaresolve.KindSignature, err, "configuration object is not valid JSON")
	}
	if raw.Sequence == nil || raw.Alphabet == nil || raw.TokenPrefix == nil {
		return nil, mediaresolve.NewError(mediaresolve.KindSignature, "configuration object is missing required keys")
	}
	if len(raw.Params) < 6 {
		return nil, mediaresolve.NewError(mediaresolve.KindSignature, "configuration parameter list has %d entries, want at least 6", len(raw.Params))
	}

	caseTransform, err := raw.Params[0].Int()
	if err != nil {
		return nil, mediaresolve.WrapError(mediaresolve.KindSignature, err, "case transform parameter is not numeric")
	}
	truncateLen, err := raw.Params[1].Int()
	if err != nil {
		return nil, mediaresolve.WrapError(mediaresolve.KindSignature, err, "truncation parameter is not numeric")
	}
	offset, err := raw.Params[2].Int()
	if err != nil {
		return nil, mediaresolve.WrapError(mediaresolve.KindSignature, err, "offset parameter is not numeric")
	}
	reverse, err := raw.Params[3].Int()
	if err != nil {
		return nil, mediaresolve.WrapError(mediaresolve.KindSignature, err, "reversal parameter is not numeric")
	}

	return &SiteConfig{
		Sequence:      *raw.Sequence,
		Alphabet:      *raw.Alphabet,
		TokenPrefix:   *raw.TokenPrefix,
		CaseTransform: caseTransform,
		TruncateLen:   truncateLen,
		Offset:        offset,
		Reverse:       reverse > 0,
		Separator:     raw.Params[4].String(),
		Segment:       raw.Params[5].String(),
	}, nil
}

// Derive computes the signing token from a validated configuration. The same
// configuration always derives the same token.
func (c *SiteConfig) Derive() (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(c.Sequence)
	if err != nil {
		return "", mediaresolve.WrapError(mediaresolve.KindSignature, err, "encoded sequence is not valid base64")
	}
	if c.Separator == "" {
		return "", mediaresolve.NewError(mediaresolve.KindSignature, "configuration has an empty separator")
	}

	alphabet := []rune(c.Alphabet)
	if c.Reverse {
		for i, j := 0, len(alphabet)-1; i < j; i, j = i+1, j-1 {
			alphabet[i], alphabet[j] = alphabet[j], alphabet[i]
		}
	}

	var key strings.Builder
	for _, part := range strings.Split(string(decoded), c.Separator) {
		n, err := strconv.Atoi(part)
		if err != nil {
			// Non-numeric entries are padding; the upstream's own client
			// skips them too.
			continue
		}
		idx := n - c.Offset
		if idx >= 0 && idx < len(alphabet) {
			key.WriteRune(alphabet[idx])
		}
	}

	derived := key.String()
	switch c.CaseTransform {
	case CaseLower:
		derived = strings.ToLower(derived)
	case CaseUpper:
		derived = strings.ToUpper(derived)
	}

	if c.TruncateLen > 0 && c.TruncateLen < len(derived) {
		derived = derived[:c.TruncateLen]
	}
	derived = c.Segment + derived

	return c.TokenPrefix + "-" + derived, nil
}

// DeriveFromPage is the whole pipeline: extract the snippet, validate the
// configuration shape, derive the token.
func DeriveFromPage(html string) (string, error) {
	blob, err := ExtractBlob(html)
	if err != nil {
		return "", err
	}
	cfg, err := ParseConfig(blob)
	if err != nil {
		return "", err
	}
	return cfg.Derive()
}

// flexValue is a JSON scalar that may arrive as a string or a number.
type flexValue struct {
	value string
}

func (v *flexValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v.value = s
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		v.value = n.String()
		return nil
	}
	return mediaresolve.NewError(mediaresolve.KindSignature, "parameter %s is neither string nor number", string(data))
}

func (v flexValue) String() string {
	return v.value
}

func (v flexValue) Int() (int, error) {
	return strconv.Atoi(strings.TrimSpace(v.value))
}
