package thread

import (
	"encoding/json"
	"fmt"
)

// envelope is the wire shape of an insert event: the record kind plus the
// full inserted row.
type envelope struct {
	Kind Kind            `json:"kind"`
	Row  json.RawMessage `json:"row"`
}

// Encode serializes a record for a push channel.
func Encode(r Record) ([]byte, error) {
	row, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("encode %s row: %w", r.RecordKind(), err)
	}
	return json.Marshal(envelope{Kind: r.RecordKind(), Row: row})
}

// Decode parses an insert event produced by Encode. Payloads with an
// unknown kind or an unparsable row wrap ErrMalformed.
func Decode(data []byte) (Record, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var r Record
	switch env.Kind {
	case KindDirect:
		r = &DirectMessage{}
	case KindInquiry:
		r = &Inquiry{}
	case KindResponse:
		r = &Response{}
	case KindFollowup:
		r = &Followup{}
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrMalformed, env.Kind)
	}
	if err := json.Unmarshal(env.Row, r); err != nil {
		return nil, fmt.Errorf("%w: %s row: %v", ErrMalformed, env.Kind, err)
	}
	return r, nil
}
