package tracker

import (
	"fmt"
	"strings"
)

// Trackers ride along on outgoing messages as the `biz_opaque_callback_data`
// field and on interactive button and list row IDs. WhatsApp echoes them back
// verbatim on the matching status updates and replies, which lets a server
// correlate a click or delivery with the intent that produced it without
// keeping any state of its own.
//
// The wire form is a flat delimited string: a type tag, then the record's
// fields, joined by FieldSep. Multiple records can share one callback string,
// joined by JoinSep. Both separators are reserved and may not appear inside
// field values.

const (
	// FieldSep separates the type tag and the fields of a single record.
	FieldSep = ":"

	// JoinSep separates records packed into a single callback string.
	JoinSep = "~"

	// Absent is the sentinel encoded for a field with no value, so that
	// positional layout is preserved. It decodes back to the empty string.
	Absent = " "

	// MaxLength is the maximum length of an encoded callback string, set by
	// the platform limit on interactive button IDs.
	MaxLength = 256
)

// Data is a record that can ride in a callback string. Implementations
// serialize their fields positionally: Fields returns them in order and
// SetFields restores them from the same order.
type Data interface {
	// Tag returns the type discriminator, the first element of the encoded
	// record. Tags must not contain either separator.
	Tag() string

	// Fields returns the record's field values in positional order.
	Fields() []string

	// SetFields restores the record from field values in positional order.
	SetFields(fields []string) error
}

// Factory produces an empty record of a concrete Data type, used during
// decoding to pick the right type by tag.
type Factory func() Data

// Encode serializes one or more records into a single callback string.
// It fails if any tag or field contains a reserved separator or if the
// result exceeds MaxLength.
func Encode(items ...Data) (string, error) {
	if len(items) == 0 {
		return "", fmt.Errorf("tracker: nothing to encode")
	}

	records := make([]string, len(items))
	for i, item := range items {
		fields := item.Fields()
		parts := make([]string, 0, len(fields)+1)
		parts = append(parts, item.Tag())
		for _, f := range fields {
			if f == "" {
				f = Absent
			}
			parts = append(parts, f)
		}

		for _, p := range parts {
			if strings.Contains(p, FieldSep) || strings.Contains(p, JoinSep) {
				return "", fmt.Errorf("tracker: value %q contains a reserved separator", p)
			}
		}

		records[i] = strings.Join(parts, FieldSep)
	}

	encoded := strings.Join(records, JoinSep)
	if len(encoded) > MaxLength {
		return "", fmt.Errorf("tracker: encoded callback data is %d bytes, max is %d", len(encoded), MaxLength)
	}
	return encoded, nil
}

// MustEncode is like Encode but panics on error, for values known valid.
func MustEncode(items ...Data) string {
	s, err := Encode(items...)
	if err != nil {
		panic(err)
	}
	return s
}

// Decode parses a callback string previously produced by Encode. Each record
// is matched against the passed factories by tag; a record whose tag has no
// factory is an error.
func Decode(encoded string, factories ...Factory) ([]Data, error) {
	if encoded == "" {
		return nil, fmt.Errorf("tracker: nothing to decode")
	}

	byTag := make(map[string]Factory, len(factories))
	for _, f := range factories {
		byTag[f().Tag()] = f
	}

	records := strings.Split(encoded, JoinSep)
	items := make([]Data, len(records))

	for i, record := range records {
		parts := strings.Split(record, FieldSep)
		factory, found := byTag[parts[0]]
		if !found {
			return nil, fmt.Errorf("tracker: no factory for record tag %q", parts[0])
		}

		item := factory()
		fields := parts[1:]
		for j, f := range fields {
			if f == Absent {
				fields[j] = ""
			}
		}
		if err := item.SetFields(fields); err != nil {
			return nil, fmt.Errorf("tracker: decoding %q record: %w", parts[0], err)
		}
		items[i] = item
	}

	return items, nil
}

// DecodeOne parses a callback string expected to hold exactly one record.
func DecodeOne(encoded string, factory Factory) (Data, error) {
	items, err := Decode(encoded, factory)
	if err != nil {
		return nil, err
	}
	if len(items) != 1 {
		return nil, fmt.Errorf("tracker: expected a single record, got %d", len(items))
	}
	return items[0], nil
}

// Matches reports whether the encoded string starts with a record of the
// factory's type, without fully decoding it. Handler registrations use this
// to skip updates carrying callback data for other intents.
func Matches(encoded string, factory Factory) bool {
	tag := factory().Tag()
	return encoded == tag || strings.HasPrefix(encoded, tag+FieldSep) || strings.HasPrefix(encoded, tag+JoinSep)
}
