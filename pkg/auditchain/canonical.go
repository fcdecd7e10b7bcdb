package auditchain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// CanonicalPayload renders a payload deterministically: object keys in
// lexicographic order, numbers in their literal form, no insignificant
// whitespace. Re-hashing the same payload is reproducible across processes
// and versions.
func CanonicalPayload(payload Payload) ([]byte, error) {
	if err := payload.validate(); err != nil {
		return nil, err
	}
	before, err := canonicalRaw(payload.Before)
	if err != nil {
		return nil, fmt.Errorf("%w: before snapshot: %v", ErrInvalidPayload, err)
	}
	after, err := canonicalRaw(payload.After)
	if err != nil {
		return nil, fmt.Errorf("%w: after snapshot: %v", ErrInvalidPayload, err)
	}

	var buffer bytes.Buffer
	buffer.WriteByte('{')
	writeCanonicalString(&buffer, "action")
	buffer.WriteByte(':')
	writeCanonicalString(&buffer, payload.Action)
	buffer.WriteByte(',')
	writeCanonicalString(&buffer, "actor")
	buffer.WriteByte(':')
	writeCanonicalString(&buffer, payload.Actor)
	buffer.WriteByte(',')
	writeCanonicalString(&buffer, "after")
	buffer.WriteByte(':')
	buffer.Write(after)
	buffer.WriteByte(',')
	writeCanonicalString(&buffer, "before")
	buffer.WriteByte(':')
	buffer.Write(before)
	buffer.WriteByte(',')
	writeCanonicalString(&buffer, "entity_id")
	buffer.WriteByte(':')
	writeCanonicalString(&buffer, payload.EntityID)
	buffer.WriteByte(',')
	writeCanonicalString(&buffer, "entity_kind")
	buffer.WriteByte(':')
	writeCanonicalString(&buffer, payload.EntityKind)
	buffer.WriteByte('}')
	return buffer.Bytes(), nil
}

// ChainHash links an entry to its predecessor: SHA-256 over the previous hash
// followed by the canonical payload bytes.
func ChainHash(prevHash string, canonicalPayload []byte) string {
	digest := sha256.New()
	digest.Write([]byte(prevHash))
	digest.Write(canonicalPayload)
	return hex.EncodeToString(digest.Sum(nil))
}

func canonicalRaw(raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		return []byte("null"), nil
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return nil, err
	}
	var buffer bytes.Buffer
	if err := writeCanonicalValue(&buffer, value); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func writeCanonicalValue(buffer *bytes.Buffer, value any) error {
	switch typed := value.(type) {
	case nil:
		buffer.WriteString("null")
	case bool:
		buffer.WriteString(strconv.FormatBool(typed))
	case string:
		writeCanonicalString(buffer, typed)
	case json.Number:
		buffer.WriteString(typed.String())
	case []any:
		buffer.WriteByte('[')
		for index, element := range typed {
			if index > 0 {
				buffer.WriteByte(',')
			}
			if err := writeCanonicalValue(buffer, element); err != nil {
				return err
			}
		}
		buffer.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(typed))
		for key := range typed {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		buffer.WriteByte('{')
		for index, key := range keys {
			if index > 0 {
				buffer.WriteByte(',')
			}
			writeCanonicalString(buffer, key)
			buffer.WriteByte(':')
			if err := writeCanonicalValue(buffer, typed[key]); err != nil {
				return err
			}
		}
		buffer.WriteByte('}')
	default:
		return fmt.Errorf("unsupported value type %T", value)
	}
	return nil
}

func writeCanonicalString(buffer *bytes.Buffer, value string) {
	encoded, _ := json.Marshal(value)
	buffer.Write(encoded)
}
