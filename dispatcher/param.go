package dispatcher

import (
	"reflect"
	"sort"
	"strings"
)

// Origin says where a parameter's value comes from.
type Origin int

const (
	OriginCaller  Origin = iota // Request.params
	OriginContext               // manager static context or request metadata
	OriginRequest               // the raw request envelope
	OriginExtra                 // every caller param not declared otherwise
)

func (o Origin) String() string {
	switch o {
	case OriginCaller:
		return "caller"
	case OriginContext:
		return "context"
	case OriginRequest:
		return "request"
	case OriginExtra:
		return "extra"
	}
	return "unknown"
}

// Param declares one method parameter. Type is filled in from the method's
// signature at registration.
type Param struct {
	Name     string
	Origin   Origin
	Required bool
	Default  any
	Type     reflect.Type

	field []int // struct field index for service methods
}

// Arg declares a required caller parameter.
func Arg(name string) Param {
	return Param{Name: name, Origin: OriginCaller, Required: true}
}

// Optional declares a caller parameter that falls back to def when absent.
// A nil def means the zero value of the parameter type.
func Optional(name string, def any) Param {
	return Param{Name: name, Origin: OriginCaller, Default: def}
}

// FromContext declares a parameter filled from the manager context.
func FromContext(name string) Param {
	return Param{Name: name, Origin: OriginContext, Required: true}
}

// RawRequest declares a parameter receiving the *message.Request itself.
func RawRequest(name string) Param {
	return Param{Name: name, Origin: OriginRequest}
}

// Extra declares a map[string]T parameter collecting every caller param that
// is not declared by name. A method with Extra accepts any extra names.
func Extra() Param {
	return Param{Origin: OriginExtra}
}

// Diagnose compares caller-supplied names against the declared parameters.
// reserved lists names the caller may not set on a method accepting extra
// arguments. It reports at most one problem: missing arguments first,
// unexpected ones otherwise.
func Diagnose(params []Param, supplied map[string]any, reserved func(string) bool) (bool, string) {
	var missing, unexpected []string
	declared := make(map[string]bool, len(params))
	extra := false
	for _, p := range params {
		switch p.Origin {
		case OriginCaller:
			declared[p.Name] = true
			if _, ok := supplied[p.Name]; p.Required && !ok {
				missing = append(missing, p.Name)
			}
		case OriginContext:
			if reserved == nil || !reserved(p.Name) {
				missing = append(missing, p.Name)
			}
		case OriginExtra:
			extra = true
		}
	}
	if len(missing) > 0 {
		return false, "Missing arguments: " + joinSorted(missing)
	}

	if !extra {
		for name := range supplied {
			if !declared[name] {
				unexpected = append(unexpected, name)
			}
		}
		if len(unexpected) > 0 {
			return false, "Unexpected arguments: " + joinSorted(unexpected)
		}
		return true, ""
	}

	var unavailable []string
	for name := range supplied {
		if !declared[name] && reserved != nil && reserved(name) {
			unavailable = append(unavailable, name)
		}
	}
	if len(unavailable) > 0 {
		return false, "Unavailable arguments: " + joinSorted(unavailable)
	}
	return true, ""
}

func joinSorted(names []string) string {
	sort.Strings(names)
	return strings.Join(names, ", ")
}
