package stream

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/jacentio/strata/session"
)

// ShardToken is one shard's persisted position within a Token.
type ShardToken struct {
	ShardID        string `json:"shard_id"`
	IteratorKind   string `json:"iterator_type,omitempty"`
	SequenceNumber string `json:"sequence_number,omitempty"`
	Parent         string `json:"parent,omitempty"`
}

// Token is a serializable snapshot of a coordinator's position: the stream,
// the active shard ids, and every shard in the forest with its durable
// position. Encode/DecodeToken round-trip it through base64 JSON so callers
// can persist it as an opaque string.
type Token struct {
	StreamARN string       `json:"stream_arn"`
	Active    []string     `json:"active"`
	Shards    []ShardToken `json:"shards"`
}

func (t *Token) position() {}

// Encode serializes the token to an opaque string.
func (t *Token) Encode() (string, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// DecodeToken parses a string produced by Encode. Malformed input is
// reported as session.ErrInvalidToken.
func DecodeToken(s string) (*Token, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", session.ErrInvalidToken, err)
	}
	var t Token
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", session.ErrInvalidToken, err)
	}
	if t.StreamARN == "" {
		return nil, fmt.Errorf("%w: missing stream arn", session.ErrInvalidToken)
	}
	return &t, nil
}
