package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/hyperjump/vecpipe/internal/models"
	"github.com/hyperjump/vecpipe/pkg/utils"
)

// IdentityPolicy selects how record identities are derived for documents without an ID.
type IdentityPolicy string

const (
	// IdentityRandom gives every record a fresh UUIDv4; re-ingesting text adds a new record.
	IdentityRandom IdentityPolicy = "random"
	// IdentityContent derives a UUIDv5 from the whitespace-normalised text; re-ingesting text updates one record.
	IdentityContent IdentityPolicy = "content"
)

// ParseIdentityPolicy maps a config value onto a policy; "" is random.
func ParseIdentityPolicy(s string) (IdentityPolicy, error) {
	switch IdentityPolicy(s) {
	case IdentityRandom, "":
		return IdentityRandom, nil
	case IdentityContent:
		return IdentityContent, nil
	}
	return "", fmt.Errorf("unknown identity policy: %s (supported: random, content)", s)
}

// identityNamespace scopes name-based UUIDs to this application.
var identityNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/hyperjump/vecpipe"))

// ContentID returns the identity IdentityContent assigns to text.
func ContentID(text string) string {
	return uuid.NewSHA1(identityNamespace, []byte(utils.NormalizeSpace(text))).String()
}

// ResolveID maps a caller-supplied document ID onto a record identity. UUIDs are used
// as is (canonical form); anything else is mapped to a UUIDv5 and mapped reports true.
func ResolveID(id string) (recordID string, mapped bool) {
	if u, err := uuid.Parse(id); err == nil {
		return u.String(), false
	}
	return uuid.NewSHA1(identityNamespace, []byte(id)).String(), true
}

// SkippedRecord is a document left out of a batch because its payload could not be encoded.
type SkippedRecord struct {
	Index      int    `json:"index"`
	DocumentID string `json:"document_id,omitempty"`
	Err        error  `json:"-"`
	Reason     string `json:"reason"`
}

// RecordBuilder turns (document, embedding) pairs into index records.
type RecordBuilder struct {
	Identity IdentityPolicy
	// SkipInvalid makes BuildAll skip records whose payload fails to encode instead of aborting.
	SkipInvalid bool
}

// Build derives the record for one aligned pair. The vector is copied; doc is not modified.
func (b RecordBuilder) Build(doc models.Document, vec []float32) (models.Record, error) {
	payload, err := BuildPayload(doc)
	if err != nil {
		return models.Record{}, err
	}

	var id string
	switch {
	case doc.ID != "":
		var mapped bool
		id, mapped = ResolveID(doc.ID)
		if mapped {
			if _, ok := doc.Metadata[models.PayloadKeySourceID]; ok {
				return models.Record{}, &PayloadEncodingError{
					Field:  models.PayloadKeySourceID,
					Value:  doc.Metadata[models.PayloadKeySourceID],
					Reason: "reserved for the caller-supplied document ID",
				}
			}
			payload[models.PayloadKeySourceID] = doc.ID
		}
	case b.Identity == IdentityContent:
		id = ContentID(doc.Text)
	default:
		u, err := uuid.NewRandom()
		if err != nil {
			return models.Record{}, fmt.Errorf("failed to generate record id: %w", err)
		}
		id = u.String()
	}

	v := make([]float32, len(vec))
	copy(v, vec)
	return models.Record{ID: id, Vector: v, Payload: payload}, nil
}

// BuildAll builds one record per aligned pair, in order. With SkipInvalid set, documents
// whose payload fails to encode are reported in the skipped list instead of failing the batch.
func (b RecordBuilder) BuildAll(docs []models.Document, vecs [][]float32) ([]models.Record, []SkippedRecord, error) {
	if err := CheckAlignment(docs, vecs); err != nil {
		return nil, nil, err
	}
	records := make([]models.Record, 0, len(docs))
	var skipped []SkippedRecord
	for i, doc := range docs {
		rec, err := b.Build(doc, vecs[i])
		if err != nil {
			var pe *PayloadEncodingError
			if b.SkipInvalid && errors.As(err, &pe) {
				skipped = append(skipped, SkippedRecord{Index: i, DocumentID: doc.ID, Err: err, Reason: err.Error()})
				continue
			}
			return nil, nil, fmt.Errorf("document %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, skipped, nil
}

// BuildPayload stores the text under "document" and each metadata field under its own key.
func BuildPayload(doc models.Document) (map[string]any, error) {
	payload := make(map[string]any, len(doc.Metadata)+1)
	for k, v := range doc.Metadata {
		if k == models.PayloadKeyDocument {
			return nil, &PayloadEncodingError{Field: k, Value: v, Reason: "reserved for the document text"}
		}
		nv, err := NormalizeValue(k, v)
		if err != nil {
			return nil, err
		}
		payload[k] = nv
	}
	payload[models.PayloadKeyDocument] = doc.Text
	return payload, nil
}

// NormalizeValue converts a metadata value to the payload scalar set: string, bool,
// int64, finite float64 or nil.
func NormalizeValue(field string, v any) (any, error) {
	switch x := v.(type) {
	case nil, string, bool, int64:
		return x, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint:
		return uintValue(field, uint64(x))
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		return uintValue(field, x)
	case float32:
		return floatValue(field, float64(x))
	case float64:
		return floatValue(field, x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return nil, &PayloadEncodingError{Field: field, Value: v, Reason: "malformed number"}
		}
		return floatValue(field, f)
	default:
		return nil, &PayloadEncodingError{Field: field, Value: v}
	}
}

func uintValue(field string, u uint64) (any, error) {
	if u > math.MaxInt64 {
		return nil, &PayloadEncodingError{Field: field, Value: u, Reason: "integer overflows int64"}
	}
	return int64(u), nil
}

func floatValue(field string, f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, &PayloadEncodingError{Field: field, Value: f, Reason: "not a finite number"}
	}
	return f, nil
}
