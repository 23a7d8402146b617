package auth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/amoylab/coordinator/internal/common/cnst"
	"github.com/amoylab/coordinator/internal/registry"
	"github.com/tidwall/gjson"
)

// unsignedHeader is base64 of "{}"
const unsignedHeader = "e30"

var segmentEncodings = []*base64.Encoding{
	base64.StdEncoding,
	base64.RawStdEncoding,
	base64.URLEncoding,
	base64.RawURLEncoding,
}

// Unsigned reads the user id from the claims segment of a credential without verifying
// any signature.
type Unsigned struct {
	delimiter string
}

func NewUnsigned(delimiter string) *Unsigned {
	if delimiter == "" {
		delimiter = "."
	}
	return &Unsigned{delimiter: delimiter}
}

func (u *Unsigned) Verify(token string) (registry.UserID, error) {
	parts := strings.Split(token, u.delimiter)
	if len(parts) < 2 {
		return "", fmt.Errorf("%w: credential has no claims segment", cnst.ErrAuth)
	}
	raw, err := decodeSegment(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: %w", cnst.ErrAuth, err)
	}
	if !gjson.ValidBytes(raw) {
		return "", fmt.Errorf("%w: claims segment is not json", cnst.ErrAuth)
	}
	claims := gjson.ParseBytes(raw)
	if !claims.IsObject() {
		return "", fmt.Errorf("%w: claims segment is not an object", cnst.ErrAuth)
	}

	id := claims.Get("id")
	switch id.Type {
	case gjson.String, gjson.Number:
	default:
		return "", fmt.Errorf("%w: claims carry no id", cnst.ErrAuth)
	}
	if id.String() == "" {
		return "", fmt.Errorf("%w: claims carry an empty id", cnst.ErrAuth)
	}
	return registry.UserID(id.String()), nil
}

func (u *Unsigned) Issue(id Identity) (string, error) {
	body, err := json.Marshal(id)
	if err != nil {
		return "", err
	}
	return unsignedHeader + u.delimiter + base64.StdEncoding.EncodeToString(body), nil
}

func decodeSegment(seg string) ([]byte, error) {
	var lastErr error
	for _, enc := range segmentEncodings {
		b, err := enc.DecodeString(seg)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("decode claims segment: %w", lastErr)
}
