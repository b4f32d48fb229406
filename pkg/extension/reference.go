package extension

import "fmt"

// Reference names a module and the export to prefer when resolving it.
type Reference struct {
	Module string
	Export string
}

// ParseReference reads a reference from a configuration value: either a
// module path string, or a mapping with a "module" string and an optional
// "export" string. ok is false when value is nil.
func ParseReference(field string, value any) (ref Reference, ok bool, err error) {
	switch v := value.(type) {
	case nil:
		return Reference{}, false, nil
	case string:
		return Reference{Module: v}, true, nil
	case Reference:
		return v, true, nil
	case map[string]any:
		module, isString := v["module"].(string)
		if !isString {
			return Reference{}, false, fmt.Errorf("'%s.module' option is invalid type, expected string", field)
		}
		ref = Reference{Module: module}
		if export, present := v["export"]; present && export != nil {
			s, isString := export.(string)
			if !isString {
				return Reference{}, false, fmt.Errorf("'%s.export' option is invalid type, expected string", field)
			}
			ref.Export = s
		}
		return ref, true, nil
	default:
		return Reference{}, false, fmt.Errorf("'%s' option is invalid type, expected object or string", field)
	}
}

// ExportOr returns the preferred export, or fallback when none was named.
func (r Reference) ExportOr(fallback string) string {
	if r.Export != "" {
		return r.Export
	}
	return fallback
}

func (r Reference) String() string {
	if r.Export == "" {
		return r.Module
	}
	return r.Module + "#" + r.Export
}
