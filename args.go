package ddpbot

import (
	"fmt"
	"strconv"
)

// ArgType is the value type of a positional command argument.
type ArgType int

const (
	// ArgString keeps the token as-is.
	ArgString ArgType = iota
	ArgInt
	ArgFloat
	ArgBool
)

func (t ArgType) String() string {
	switch t {
	case ArgInt:
		return "int"
	case ArgFloat:
		return "float"
	case ArgBool:
		return "bool"
	default:
		return "string"
	}
}

// Convert parses token into a value of type t.
func (t ArgType) Convert(token string) (any, error) {
	switch t {
	case ArgInt:
		return strconv.Atoi(token)
	case ArgFloat:
		return strconv.ParseFloat(token, 64)
	case ArgBool:
		return strconv.ParseBool(token)
	default:
		return token, nil
	}
}

// ArgSpec describes one positional argument of a command.
type ArgSpec struct {
	Name string
	Type ArgType
	Help string
}

// Arg is shorthand for a string ArgSpec.
func Arg(name, help string) ArgSpec {
	return ArgSpec{Name: name, Help: help}
}

// IntArg is shorthand for an int ArgSpec.
func IntArg(name, help string) ArgSpec {
	return ArgSpec{Name: name, Type: ArgInt, Help: help}
}

// Args holds the converted positional arguments of one command invocation, keyed by name.
type Args map[string]any

// String returns the named argument as a string. Non-string values are formatted.
func (a Args) String(name string) string {
	v, ok := a[name]
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Int returns the named int argument, or 0.
func (a Args) Int(name string) int {
	v, _ := a[name].(int)
	return v
}

// Float returns the named float argument, or 0.
func (a Args) Float(name string) float64 {
	v, _ := a[name].(float64)
	return v
}

// Bool returns the named bool argument, or false.
func (a Args) Bool(name string) bool {
	v, _ := a[name].(bool)
	return v
}
