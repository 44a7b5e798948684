package kv

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Page carries caller-level paging options for range queries.
type Page struct {
	// Limit caps the number of items per page (0 = backend default).
	Limit int32

	// Token is the opaque continuation token from a previous page.
	// It must be passed back verbatim; callers never parse or build one.
	Token string
}

// ErrBadToken is returned when a continuation token cannot be decoded.
// Tokens are opaque; a malformed one is a caller bug, not corrupt data.
var ErrBadToken = fmt.Errorf("kv: malformed continuation token")

// encodeToken serializes a LastEvaluatedKey into an opaque token. All key
// attributes in this table are strings, on the primary index and the
// inverted one alike.
func encodeToken(lek map[string]types.AttributeValue) (string, error) {
	flat := make(map[string]string, len(lek))
	for name, attr := range lek {
		s, ok := attr.(*types.AttributeValueMemberS)
		if !ok {
			return "", fmt.Errorf("kv: non-string key attribute %q in continuation state", name)
		}
		flat[name] = s.Value
	}

	raw, err := json.Marshal(flat)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// decodeToken reverses encodeToken into an ExclusiveStartKey.
func decodeToken(token string) (map[string]types.AttributeValue, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadToken, err)
	}

	var flat map[string]string
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadToken, err)
	}

	start := make(map[string]types.AttributeValue, len(flat))
	for name, value := range flat {
		start[name] = &types.AttributeValueMemberS{Value: value}
	}
	return start, nil
}
