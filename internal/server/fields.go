package server

import (
	"github.com/valyala/fastjson"
)

// fieldError is a request body error answered with 400
type fieldError string

func (e fieldError) Error() string { return string(e) }

func missing(field string) error {
	return fieldError(`Missing Field "` + field + `"`)
}

func requireString(v *fastjson.Value, field string) (string, error) {
	if !v.Exists(field) {
		return "", missing(field)
	}
	s := v.GetStringBytes(field)
	if len(s) == 0 {
		return "", fieldError(`Field "` + field + `" must be a string and have non-zero length`)
	}
	return string(s), nil
}

// optionalString returns nil when field is absent or null
func optionalString(v *fastjson.Value, field string) (*string, error) {
	fv := v.Get(field)
	if fv == nil || fv.Type() == fastjson.TypeNull {
		return nil, nil
	}
	b, err := fv.StringBytes()
	if err != nil {
		return nil, fieldError(`Field "` + field + `" must be a string`)
	}
	s := string(b)
	return &s, nil
}

func optionalBool(v *fastjson.Value, field string) (*bool, error) {
	fv := v.Get(field)
	if fv == nil || fv.Type() == fastjson.TypeNull {
		return nil, nil
	}
	b, err := fv.Bool()
	if err != nil {
		return nil, fieldError(`Field "` + field + `" must be a boolean`)
	}
	return &b, nil
}

// optionalInt returns 0 for an absent field
func optionalInt(v *fastjson.Value, field string) (int, error) {
	fv := v.Get(field)
	if fv == nil || fv.Type() == fastjson.TypeNull {
		return 0, nil
	}
	n, err := fv.Int()
	if err != nil || n < 0 {
		return 0, fieldError(`Field "` + field + `" must be a non-negative integer`)
	}
	return n, nil
}

func stringArray(v *fastjson.Value, field string) ([]string, error) {
	fv := v.Get(field)
	if fv == nil || fv.Type() == fastjson.TypeNull {
		return nil, nil
	}
	items, err := fv.Array()
	if err != nil {
		return nil, fieldError(`Field "` + field + `" must be an array of strings`)
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		s, err := item.StringBytes()
		if err != nil || len(s) == 0 {
			return nil, fieldError(`Field "` + field + `" must be an array of non-empty strings`)
		}
		out = append(out, string(s))
	}
	return out, nil
}
