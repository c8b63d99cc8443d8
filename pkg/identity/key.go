package identity

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ammar0144/entity4go/pkg/entity"
)

// Delimiter joins key segments. It may not appear inside a segment.
const Delimiter = "."

// Wildcard as the last segment of an invalidation selects every matching key
const Wildcard = "*"

// ErrInvalidSegment is returned for key segments containing the delimiter
var ErrInvalidSegment = errors.New("identity key segment contains delimiter")

// ErrInvalidID is returned for ids that are not integers
var ErrInvalidID = errors.New("identity key id is not an integer")

// key is the parsed form of a cache key
type key struct {
	typeName string
	ids      []int64
	set      bool
	segments []string
}

func newKey(typeName string, id any, segments []string) (key, error) {
	if typeName == "" || strings.Contains(typeName, Delimiter) {
		return key{}, fmt.Errorf("%w: type %q", ErrInvalidSegment, typeName)
	}
	for _, s := range segments {
		if strings.Contains(s, Delimiter) {
			return key{}, fmt.Errorf("%w: %q", ErrInvalidSegment, s)
		}
	}
	ids, set, err := normalizeIDs(id)
	if err != nil {
		return key{}, err
	}
	return key{typeName: typeName, ids: ids, set: set, segments: segments}, nil
}

// String renders type.id[.segment...]
func (k key) String() string {
	var b strings.Builder
	b.WriteString(k.typeName)
	b.WriteString(Delimiter)
	b.WriteString(SerializeID(k.ids, k.set))
	for _, s := range k.segments {
		b.WriteString(Delimiter)
		b.WriteString(s)
	}
	return b.String()
}

func (k key) covers(id int64) bool {
	for _, v := range k.ids {
		if v == id {
			return true
		}
	}
	return false
}

func (k key) hasSegment(s string) bool {
	for _, seg := range k.segments {
		if seg == s {
			return true
		}
	}
	return false
}

func (k key) hasPrefix(prefix []string) bool {
	if len(prefix) > len(k.segments) {
		return false
	}
	for i, s := range prefix {
		if k.segments[i] != s {
			return false
		}
	}
	return true
}

// SerializeID renders a single id as its decimal form and an id set as
// [a,b,c], sorted and de-duplicated
func SerializeID(ids []int64, set bool) string {
	if !set {
		if len(ids) == 0 {
			return "0"
		}
		return strconv.FormatInt(ids[0], 10)
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// normalizeIDs coerces a single id or an id collection to sorted unique int64s.
// Strings holding integers coerce to the same ids as the integers themselves.
func normalizeIDs(id any) ([]int64, bool, error) {
	var raw []any
	set := true
	switch v := id.(type) {
	case []int64:
		for _, x := range v {
			raw = append(raw, x)
		}
	case []int:
		for _, x := range v {
			raw = append(raw, x)
		}
	case []string:
		for _, x := range v {
			raw = append(raw, x)
		}
	case []any:
		raw = v
	default:
		raw = []any{v}
		set = false
	}

	seen := make(map[int64]struct{}, len(raw))
	ids := make([]int64, 0, len(raw))
	for _, r := range raw {
		n, ok := entity.ToInt64(r)
		if !ok {
			return nil, set, fmt.Errorf("%w: %v (%T)", ErrInvalidID, r, r)
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		ids = append(ids, n)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, set, nil
}
