package store

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"asisaid.cn/coda/internal/common/errors"
	"asisaid.cn/coda/internal/common/jsonutil"
)

// Matcher evaluates a compiled query against documents.
//
// Supported syntax: field equality (an array field matches when any element
// is equal), dotted paths into nested objects, the comparison operators $eq
// $ne $gt $gte $lt $lte $in $nin $exists $regex (with $options) $not, and the
// logical operators $and $or $nor.
type Matcher struct {
	query   map[string]any
	regexes map[string]*regexp.Regexp
}

// Compile validates q and prepares it for matching. An empty or nil query
// matches every document.
func Compile(q Query) (*Matcher, error) {
	const op = "store.Compile"

	normalized := map[string]any{}
	if len(q) > 0 {
		raw, err := json.Marshal(q)
		if err != nil {
			return nil, errors.E(op, errors.ErrInvalidQuery, err)
		}
		if normalized, err = jsonutil.DecodeObject(raw); err != nil {
			return nil, errors.E(op, errors.ErrInvalidQuery, err)
		}
	}

	m := &Matcher{query: normalized, regexes: make(map[string]*regexp.Regexp)}
	if err := m.validate(normalized); err != nil {
		return nil, errors.E(op, errors.ErrInvalidQuery, err)
	}
	return m, nil
}

// Match compiles q and evaluates it against doc.
func Match(doc Document, q Query) (bool, error) {
	m, err := Compile(q)
	if err != nil {
		return false, err
	}
	return m.Matches(doc), nil
}

// Matches reports whether doc satisfies the query. doc must hold JSON-shaped
// values ([]any arrays, map[string]any objects). Numbers of any Go numeric
// type compare by exact value.
func (m *Matcher) Matches(doc Document) bool {
	return m.matchDoc(doc, m.query)
}

func (m *Matcher) validate(q map[string]any) error {
	for key, cond := range q {
		switch key {
		case "$and", "$or", "$nor":
			clauses, ok := cond.([]any)
			if !ok || len(clauses) == 0 {
				return fmt.Errorf("%s requires a non-empty array", key)
			}
			for _, clause := range clauses {
				sub, ok := clause.(map[string]any)
				if !ok {
					return fmt.Errorf("%s clauses must be objects", key)
				}
				if err := m.validate(sub); err != nil {
					return err
				}
			}
			continue
		}
		if strings.HasPrefix(key, "$") {
			return fmt.Errorf("unknown top-level operator %s", key)
		}
		ops, isOps, err := operatorMap(cond)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if isOps {
			if err := m.validateOps(ops); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}
	}
	return nil
}

func (m *Matcher) validateOps(ops map[string]any) error {
	for op, arg := range ops {
		switch op {
		case "$eq", "$ne", "$gt", "$gte", "$lt", "$lte":
		case "$in", "$nin":
			if _, ok := arg.([]any); !ok {
				return fmt.Errorf("%s requires an array", op)
			}
		case "$exists":
			if _, ok := arg.(bool); !ok {
				return fmt.Errorf("$exists requires a boolean")
			}
		case "$regex":
			pattern, ok := arg.(string)
			if !ok {
				return fmt.Errorf("$regex requires a string")
			}
			options, _ := ops["$options"].(string)
			if _, err := m.regex(pattern, options); err != nil {
				return err
			}
		case "$options":
			if _, ok := ops["$regex"]; !ok {
				return fmt.Errorf("$options without $regex")
			}
		case "$not":
			sub, isOps, err := operatorMap(arg)
			if err != nil {
				return err
			}
			if !isOps {
				return fmt.Errorf("$not requires an operator object")
			}
			if err := m.validateOps(sub); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown operator %s", op)
		}
	}
	return nil
}

// operatorMap reports whether cond is an operator object ({"$gt": 1}). Mixing
// operators with plain fields is rejected.
func operatorMap(cond any) (map[string]any, bool, error) {
	obj, ok := cond.(map[string]any)
	if !ok || len(obj) == 0 {
		return nil, false, nil
	}
	ops := 0
	for k := range obj {
		if strings.HasPrefix(k, "$") {
			ops++
		}
	}
	switch ops {
	case 0:
		return nil, false, nil
	case len(obj):
		return obj, true, nil
	default:
		return nil, false, fmt.Errorf("cannot mix operators and fields")
	}
}

func (m *Matcher) regex(pattern, options string) (*regexp.Regexp, error) {
	key := options + "/" + pattern
	if re, ok := m.regexes[key]; ok {
		return re, nil
	}
	flags := ""
	for _, o := range options {
		switch o {
		case 'i', 'm', 's':
			flags += string(o)
		default:
			return nil, fmt.Errorf("unsupported $options flag %q", o)
		}
	}
	expr := pattern
	if flags != "" {
		expr = "(?" + flags + ")" + pattern
	}
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, err
	}
	m.regexes[key] = re
	return re, nil
}

func (m *Matcher) matchDoc(doc map[string]any, q map[string]any) bool {
	for key, cond := range q {
		switch key {
		case "$and":
			for _, clause := range cond.([]any) {
				if !m.matchDoc(doc, clause.(map[string]any)) {
					return false
				}
			}
		case "$or":
			if !m.anyClause(doc, cond.([]any)) {
				return false
			}
		case "$nor":
			if m.anyClause(doc, cond.([]any)) {
				return false
			}
		default:
			val, exists := lookup(doc, key)
			if !m.matchField(val, exists, cond) {
				return false
			}
		}
	}
	return true
}

func (m *Matcher) anyClause(doc map[string]any, clauses []any) bool {
	for _, clause := range clauses {
		if m.matchDoc(doc, clause.(map[string]any)) {
			return true
		}
	}
	return false
}

func (m *Matcher) matchField(val any, exists bool, cond any) bool {
	ops, isOps, _ := operatorMap(cond)
	if !isOps {
		return equalMatch(val, exists, cond)
	}
	return m.matchOps(val, exists, ops)
}

func (m *Matcher) matchOps(val any, exists bool, ops map[string]any) bool {
	for op, arg := range ops {
		var ok bool
		switch op {
		case "$eq":
			ok = equalMatch(val, exists, arg)
		case "$ne":
			ok = !equalMatch(val, exists, arg)
		case "$gt":
			ok = exists && anyElement(val, func(v any) bool { c, ok := compare(v, arg); return ok && c > 0 })
		case "$gte":
			ok = exists && anyElement(val, func(v any) bool { c, ok := compare(v, arg); return ok && c >= 0 })
		case "$lt":
			ok = exists && anyElement(val, func(v any) bool { c, ok := compare(v, arg); return ok && c < 0 })
		case "$lte":
			ok = exists && anyElement(val, func(v any) bool { c, ok := compare(v, arg); return ok && c <= 0 })
		case "$in":
			ok = inMatch(val, exists, arg.([]any))
		case "$nin":
			ok = !inMatch(val, exists, arg.([]any))
		case "$exists":
			ok = exists == arg.(bool)
		case "$regex":
			options, _ := ops["$options"].(string)
			re, _ := m.regex(arg.(string), options)
			ok = exists && anyElement(val, func(v any) bool {
				s, isString := v.(string)
				return isString && re.MatchString(s)
			})
		case "$options":
			ok = true
		case "$not":
			sub, _, _ := operatorMap(arg)
			ok = !m.matchOps(val, exists, sub)
		}
		if !ok {
			return false
		}
	}
	return true
}

// lookup resolves a dotted path through nested objects.
func lookup(doc map[string]any, path string) (any, bool) {
	if v, ok := doc[path]; ok {
		return v, true
	}
	parts := strings.Split(path, ".")
	var cur any = doc
	for _, part := range parts {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func equalMatch(val any, exists bool, target any) bool {
	if !exists {
		return target == nil
	}
	if valueEqual(val, target) {
		return true
	}
	if arr, ok := val.([]any); ok {
		for _, el := range arr {
			if valueEqual(el, target) {
				return true
			}
		}
	}
	return false
}

func valueEqual(a, b any) bool {
	if c, ok := jsonutil.CompareNumbers(a, b); ok {
		return c == 0
	}
	if jsonutil.IsNumber(a) || jsonutil.IsNumber(b) {
		return false
	}
	switch a.(type) {
	case map[string]any, []any:
		return jsonutil.Equal(a, b)
	}
	return reflect.DeepEqual(a, b)
}

func inMatch(val any, exists bool, candidates []any) bool {
	for _, c := range candidates {
		if equalMatch(val, exists, c) {
			return true
		}
	}
	return false
}

// anyElement applies pred to val, or to each element when val is an array.
func anyElement(val any, pred func(any) bool) bool {
	if arr, ok := val.([]any); ok {
		for _, el := range arr {
			if pred(el) {
				return true
			}
		}
		return false
	}
	return pred(val)
}

// compare orders two values of the same JSON type. ok is false when the types
// differ or are not ordered.
func compare(a, b any) (int, bool) {
	if jsonutil.IsNumber(a) {
		return jsonutil.CompareNumbers(a, b)
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(av, bv), true
	case bool:
		bv, ok := b.(bool)
		if !ok {
			return 0, false
		}
		switch {
		case av == bv:
			return 0, true
		case !av:
			return -1, true
		}
		return 1, true
	}
	return 0, false
}
