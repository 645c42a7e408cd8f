// Package annotate evaluates operator-defined annotation expressions and
// turns the results into attributes recorded with the session: in the
// trace file's otherData section and on the OpenTelemetry resource.
package annotate

import (
	"fmt"
	"log"
	"reflect"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"go.opentelemetry.io/otel/attribute"
)

// Annotation is one named expression from the command line.
type Annotation struct {
	Name       string
	Expression string
}

// SessionInfo is the environment annotation expressions evaluate against.
type SessionInfo struct {
	Pid     int               // child process id
	Cmdline string            // full child command line
	Args    []string          // child argument vector
	Env     map[string]string // operator environment passed to the child
}

// Evaluator holds pre-compiled annotation expressions.
type Evaluator struct {
	annotations []Annotation
	programs    []*vm.Program
}

// NewEvaluator compiles the annotation expressions. A compile error is
// fatal: a bad expression should fail the session before tracing begins.
func NewEvaluator(annotations []Annotation) (*Evaluator, error) {
	exprEnv := map[string]interface{}{
		"pid":     0,
		"cmdline": "",
		"args":    []string{},
		"env":     map[string]string{},
	}

	programs := make([]*vm.Program, len(annotations))
	for i, a := range annotations {
		program, err := expr.Compile(a.Expression, expr.Env(exprEnv))
		if err != nil {
			return nil, fmt.Errorf("failed to compile expression for annotation %q: %w", a.Name, err)
		}
		programs[i] = program
	}

	return &Evaluator{annotations: annotations, programs: programs}, nil
}

// Evaluate runs every annotation expression against info. A runtime
// evaluation error skips that annotation with a warning; the rest still
// apply.
func (e *Evaluator) Evaluate(info SessionInfo) []attribute.KeyValue {
	if len(e.annotations) == 0 {
		return nil
	}

	env := map[string]interface{}{
		"pid":     info.Pid,
		"cmdline": info.Cmdline,
		"args":    info.Args,
		"env":     info.Env,
	}

	var attrs []attribute.KeyValue
	for i, a := range e.annotations {
		out, err := expr.Run(e.programs[i], env)
		if err != nil {
			log.Printf("warning: failed to evaluate annotation %q: %v", a.Name, err)
			continue
		}
		attrs = append(attrs, flatten(a.Name, out)...)
	}
	return attrs
}

// flatten converts an expression result into attributes. Maps expand into
// one attribute per key with dot notation; everything else becomes a
// single string attribute.
func flatten(name string, out any) []attribute.KeyValue {
	v := reflect.ValueOf(out)
	if v.Kind() != reflect.Map {
		return []attribute.KeyValue{attribute.String(name, fmt.Sprint(out))}
	}

	var attrs []attribute.KeyValue
	for _, key := range v.MapKeys() {
		attrName := name + "." + sanitizeName(fmt.Sprintf("%v", key.Interface()))
		attrs = append(attrs, attribute.String(attrName, fmt.Sprintf("%v", v.MapIndex(key).Interface())))
	}
	return attrs
}

// sanitizeName replaces any character outside [a-zA-Z0-9_] with underscore.
func sanitizeName(name string) string {
	result := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			result[i] = c
		} else {
			result[i] = '_'
		}
	}
	return string(result)
}
