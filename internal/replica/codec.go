package replica

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dvloznov/finance-sync/internal/domain"
	"github.com/dvloznov/finance-sync/internal/remote"
)

// ErrMissingTimestamp is returned when a date-typed field is absent or null.
var ErrMissingTimestamp = errors.New("missing timestamp")

// legacyLayout is the local date-time format written by old clients and by CSV import.
const legacyLayout = "2006-01-02T15:04:05.000"

// Timestamp decodes the store's native timestamp object ({"seconds","nanoseconds"}),
// an RFC 3339 string or epoch milliseconds into a time.Time. It always encodes
// back to the native object.
type Timestamp struct {
	time.Time
}

type nativeTimestamp struct {
	Seconds     int64 `json:"seconds"`
	Nanoseconds int64 `json:"nanoseconds"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (ts *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return ErrMissingTimestamp
	}

	switch b[0] {
	case '{':
		var n nativeTimestamp
		if err := json.Unmarshal(b, &n); err != nil {
			return fmt.Errorf("Timestamp: decode native timestamp: %w", err)
		}
		ts.Time = time.Unix(n.Seconds, n.Nanoseconds).UTC()
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("Timestamp: decode string: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			t, err = time.Parse(legacyLayout, s)
		}
		if err != nil {
			return fmt.Errorf("Timestamp: parse %q: %w", s, err)
		}
		ts.Time = t
		return nil
	default:
		var ms int64
		if err := json.Unmarshal(b, &ms); err != nil {
			return fmt.Errorf("Timestamp: decode epoch millis: %w", err)
		}
		ts.Time = time.UnixMilli(ms).UTC()
		return nil
	}
}

// MarshalJSON implements json.Marshaler.
func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(nativeTimestamp{
		Seconds:     ts.Unix(),
		Nanoseconds: int64(ts.Nanosecond()),
	})
}

type transactionAlias domain.Transaction

// transactionDoc is the stored shape of a transaction. The outer DateTime field
// shadows the embedded one for encoding/json.
type transactionDoc struct {
	transactionAlias
	DateTime Timestamp `json:"dateTime"`
}

// DecodeTransaction converts a stored transaction document into the domain type,
// migrating the legacy isExpense flag.
func DecodeTransaction(doc remote.Document) (domain.Transaction, error) {
	var w transactionDoc
	if err := json.Unmarshal(doc.Data, &w); err != nil {
		return domain.Transaction{}, fmt.Errorf("DecodeTransaction %s: %w", doc.ID, err)
	}
	if w.DateTime.IsZero() {
		return domain.Transaction{}, fmt.Errorf("DecodeTransaction %s: dateTime: %w", doc.ID, ErrMissingTimestamp)
	}
	t := domain.Transaction(w.transactionAlias)
	t.ID = doc.ID
	t.DateTime = w.DateTime.Time
	return t.MigrateLegacyType(), nil
}

// EncodeTransaction converts t into its stored document shape.
func EncodeTransaction(t domain.Transaction) (json.RawMessage, error) {
	w := transactionDoc{
		transactionAlias: transactionAlias(t),
		DateTime:         Timestamp{t.DateTime},
	}
	b, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("EncodeTransaction %s: %w", t.ID, err)
	}
	return b, nil
}

// DecodeTag converts a stored tag document.
func DecodeTag(doc remote.Document) (domain.Tag, error) {
	var tag domain.Tag
	if err := json.Unmarshal(doc.Data, &tag); err != nil {
		return domain.Tag{}, fmt.Errorf("DecodeTag %s: %w", doc.ID, err)
	}
	tag.ID = doc.ID
	return tag, nil
}

// EncodeTag converts tag into its stored document shape.
func EncodeTag(tag domain.Tag) (json.RawMessage, error) {
	b, err := json.Marshal(tag)
	if err != nil {
		return nil, fmt.Errorf("EncodeTag %s: %w", tag.ID, err)
	}
	return b, nil
}

// DecodeProfile converts a stored profile document.
func DecodeProfile(doc remote.Document) (domain.Profile, error) {
	var p domain.Profile
	if err := json.Unmarshal(doc.Data, &p); err != nil {
		return domain.Profile{}, fmt.Errorf("DecodeProfile %s: %w", doc.ID, err)
	}
	p.ID = doc.ID
	if p.UID == "" {
		p.UID = doc.ID
	}
	return p, nil
}

// EncodeProfile converts p into its stored document shape.
func EncodeProfile(p domain.Profile) (json.RawMessage, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("EncodeProfile %s: %w", p.ID, err)
	}
	return b, nil
}
