package index

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hyperjump/vecpipe/internal/models"
)

// classifyGRPC maps gRPC status codes onto the package sentinels. The original
// error stays in the chain for logging.
func classifyGRPC(err error, collection string) error {
	if err == nil {
		return nil
	}
	st, _ := status.FromError(err)
	code := st.Code()
	msg := strings.ToLower(st.Message())
	switch {
	case code == codes.AlreadyExists || strings.Contains(msg, "already exists"):
		return fmt.Errorf("%w: %s: %w", ErrCollectionExists, collection, err)
	case code == codes.NotFound:
		return fmt.Errorf("%w: %s: %w", ErrCollectionNotFound, collection, err)
	case code == codes.InvalidArgument && strings.Contains(msg, "dimension"):
		return fmt.Errorf("%w: %s: %w", ErrDimensionMismatch, collection, err)
	case code == codes.InvalidArgument:
		return fmt.Errorf("%w: %s: %w", ErrInvalidPayload, collection, err)
	case isTransientCode(code):
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

func isTransientCode(c codes.Code) bool {
	switch c {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted, codes.Internal:
		return true
	}
	return false
}

func toQdrantDistance(d models.Distance) (qdrant.Distance, error) {
	switch d {
	case models.DistanceCosine:
		return qdrant.Distance_Cosine, nil
	case models.DistanceDot:
		return qdrant.Distance_Dot, nil
	case models.DistanceEuclid:
		return qdrant.Distance_Euclid, nil
	case models.DistanceManhattan:
		return qdrant.Distance_Manhattan, nil
	}
	return qdrant.Distance_UnknownDistance, fmt.Errorf("unsupported distance: %s", d)
}

func fromQdrantDistance(d qdrant.Distance) models.Distance {
	switch d {
	case qdrant.Distance_Dot:
		return models.DistanceDot
	case qdrant.Distance_Euclid:
		return models.DistanceEuclid
	case qdrant.Distance_Manhattan:
		return models.DistanceManhattan
	case qdrant.Distance_Cosine:
		return models.DistanceCosine
	}
	return models.Distance(d.String())
}

// toPointID accepts a UUID or an unsigned integer; Qdrant rejects anything else.
func toPointID(id string) *qdrant.PointId {
	if n, err := strconv.ParseUint(id, 10, 64); err == nil {
		return qdrant.NewIDNum(n)
	}
	return qdrant.NewID(id)
}

func fromPointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if u := id.GetUuid(); u != "" {
		// Qdrant echoes UUIDs in canonical lower-case form.
		if parsed, err := uuid.Parse(u); err == nil {
			return parsed.String()
		}
		return u
	}
	return strconv.FormatUint(id.GetNum(), 10)
}

func toQdrantPayload(p map[string]any) (map[string]*qdrant.Value, error) {
	out := make(map[string]*qdrant.Value, len(p))
	for k, v := range p {
		kind, err := valueKind(k, v)
		if err != nil {
			return nil, err
		}
		switch kind {
		case kindNull:
			out[k] = qdrant.NewValueNull()
		case kindString:
			out[k] = qdrant.NewValueString(v.(string))
		case kindBool:
			out[k] = qdrant.NewValueBool(v.(bool))
		case kindInt:
			out[k] = qdrant.NewValueInt(v.(int64))
		case kindFloat:
			out[k] = qdrant.NewValueDouble(v.(float64))
		}
	}
	return out, nil
}

// fromQdrantPayload keeps scalar values; nested structs and lists written by
// other clients are skipped.
func fromQdrantPayload(p map[string]*qdrant.Value) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		switch x := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			out[k] = x.StringValue
		case *qdrant.Value_IntegerValue:
			out[k] = x.IntegerValue
		case *qdrant.Value_DoubleValue:
			out[k] = x.DoubleValue
		case *qdrant.Value_BoolValue:
			out[k] = x.BoolValue
		case *qdrant.Value_NullValue:
			out[k] = nil
		}
	}
	return out
}
