package statusdoc

import (
	"github.com/pkg/errors"
	"github.com/valyala/fastjson"
)

// ParseIndicatorParams extracts an indicator's opaque params object from a
// raw adhoc request body without declaring a Go struct for it — the
// params shape is intentionally undeclared (types.IndicatorConfig.Params
// is a bare map), so scanning it with fastjson avoids round-tripping
// through encoding/json's reflection-based unmarshal for a blob this
// package never interprets itself. field selects the object key holding
// the params (typically "params").
func ParseIndicatorParams(raw []byte, field string) (map[string]interface{}, error) {
	var p fastjson.Parser
	v, err := p.ParseBytes(raw)
	if err != nil {
		return nil, errors.Wrap(err, "parse indicator request body")
	}

	obj := v.Get(field)
	if obj == nil {
		return map[string]interface{}{}, nil
	}
	o, err := obj.Object()
	if err != nil {
		return nil, errors.Wrapf(err, "field %q is not a JSON object", field)
	}

	out := make(map[string]interface{}, o.Len())
	o.Visit(func(key []byte, val *fastjson.Value) {
		out[string(key)] = fastjsonScalar(val)
	})
	return out, nil
}

// fastjsonScalar converts a fastjson.Value into a plain Go value. Nested
// objects/arrays are preserved recursively; indicator params are expected
// to be flat, but a nested shape is passed through rather than rejected.
func fastjsonScalar(v *fastjson.Value) interface{} {
	switch v.Type() {
	case fastjson.TypeString:
		b, _ := v.StringBytes()
		return string(b)
	case fastjson.TypeNumber:
		f, _ := v.Float64()
		return f
	case fastjson.TypeTrue:
		return true
	case fastjson.TypeFalse:
		return false
	case fastjson.TypeNull:
		return nil
	case fastjson.TypeObject:
		o, _ := v.Object()
		m := make(map[string]interface{}, o.Len())
		o.Visit(func(key []byte, val *fastjson.Value) {
			m[string(key)] = fastjsonScalar(val)
		})
		return m
	case fastjson.TypeArray:
		arr, _ := v.Array()
		out := make([]interface{}, len(arr))
		for i, e := range arr {
			out[i] = fastjsonScalar(e)
		}
		return out
	default:
		return nil
	}
}
