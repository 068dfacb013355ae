package binder

import (
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
)

// Path creates a path parameter binder function using the provided extractor.
//
// Fields are bound by `path:"name"` tags; `path:"-"` and untagged fields are
// skipped. Supported kinds are string, bool and signed integers.
//
//	type manageRequest struct {
//		UserID    string `path:"userID"`
//		ReturnURL string `json:"return_url"`
//	}
//
//	r.Post("/subscriptions/{userID}/manage", handler.Wrap(h,
//		handler.WithBinders[handler.Context, manageRequest](
//			binder.Path(chi.URLParam),
//			binder.BindJSON(),
//		),
//	))
func Path(extractor func(r *http.Request, fieldName string) string) func(r *http.Request, v any) error {
	return func(r *http.Request, v any) error {
		if extractor == nil {
			return fmt.Errorf("%w: extractor function is nil", ErrInvalidPath)
		}
		return bindTags(v, "path", ErrInvalidPath, func(name string) (string, bool) {
			val := extractor(r, name)
			return val, val != ""
		})
	}
}

// Header creates a header binder function. Fields are bound by
// `header:"Name"` tags using canonical header lookup.
//
//	type overrideRequest struct {
//		ActorID string `header:"X-Actor-ID"`
//	}
func Header() func(r *http.Request, v any) error {
	return func(r *http.Request, v any) error {
		return bindTags(v, "header", ErrInvalidHeader, func(name string) (string, bool) {
			val := strings.TrimSpace(r.Header.Get(name))
			return val, val != ""
		})
	}
}

// Query creates a query parameter binder function. Fields are bound by
// `query:"name"` tags from the first value of each parameter.
func Query() func(r *http.Request, v any) error {
	return func(r *http.Request, v any) error {
		values := r.URL.Query()
		return bindTags(v, "query", ErrInvalidQuery, func(name string) (string, bool) {
			if !values.Has(name) {
				return "", false
			}
			return values.Get(name), true
		})
	}
}

func bindTags(v any, tag string, errKind error, lookup func(name string) (string, bool)) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("%w: target must be a non-nil pointer", errKind)
	}
	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return fmt.Errorf("%w: target must be a pointer to struct", errKind)
	}

	rt := rv.Type()
	for i := range rv.NumField() {
		field := rv.Field(i)
		fieldType := rt.Field(i)
		if !field.CanSet() {
			continue
		}

		name, _, _ := strings.Cut(fieldType.Tag.Get(tag), ",")
		if name == "" || name == "-" {
			continue
		}

		raw, ok := lookup(name)
		if !ok {
			continue
		}
		if err := setField(field, raw); err != nil {
			return fmt.Errorf("%w: %s: %v", errKind, name, err)
		}
	}
	return nil
}

func setField(field reflect.Value, raw string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}
