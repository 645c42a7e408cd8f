package annotate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func testInfo() SessionInfo {
	return SessionInfo{
		Pid:     1234,
		Cmdline: "server --port 8080",
		Args:    []string{"server", "--port", "8080"},
		Env:     map[string]string{"SHELL": "/bin/zsh", "TEAM": "infra"},
	}
}

func TestNewEvaluator_CompileErrorIsFatal(t *testing.T) {
	_, err := NewEvaluator([]Annotation{
		{Name: "bad", Expression: "env["},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
}

func TestEvaluate_Literals(t *testing.T) {
	e, err := NewEvaluator([]Annotation{
		{Name: "team", Expression: `"infra"`},
		{Name: "pid", Expression: "pid"},
	})
	require.NoError(t, err)

	attrs := e.Evaluate(testInfo())
	assert.Equal(t, []attribute.KeyValue{
		attribute.String("team", "infra"),
		attribute.String("pid", "1234"),
	}, attrs)
}

func TestEvaluate_SessionEnvironment(t *testing.T) {
	e, err := NewEvaluator([]Annotation{
		{Name: "shell", Expression: `env["SHELL"]`},
		{Name: "arg0", Expression: "args[0]"},
		{Name: "cmd", Expression: "cmdline"},
	})
	require.NoError(t, err)

	attrs := e.Evaluate(testInfo())
	assert.Equal(t, []attribute.KeyValue{
		attribute.String("shell", "/bin/zsh"),
		attribute.String("arg0", "server"),
		attribute.String("cmd", "server --port 8080"),
	}, attrs)
}

func TestEvaluate_MapFlattensToDottedAttributes(t *testing.T) {
	e, err := NewEvaluator([]Annotation{
		{Name: "meta", Expression: `{"region": "eu-west-1"}`},
	})
	require.NoError(t, err)

	attrs := e.Evaluate(testInfo())
	require.Len(t, attrs, 1)
	assert.Equal(t, "meta.region", string(attrs[0].Key))
	assert.Equal(t, "eu-west-1", attrs[0].Value.AsString())
}

func TestEvaluate_RuntimeErrorSkipsAnnotation(t *testing.T) {
	e, err := NewEvaluator([]Annotation{
		{Name: "broken", Expression: "args[99]"},
		{Name: "team", Expression: `"infra"`},
	})
	require.NoError(t, err)

	attrs := e.Evaluate(testInfo())
	assert.Equal(t, []attribute.KeyValue{
		attribute.String("team", "infra"),
	}, attrs, "the broken annotation is dropped, the rest still apply")
}

func TestEvaluate_NoAnnotations(t *testing.T) {
	e, err := NewEvaluator(nil)
	require.NoError(t, err)
	assert.Nil(t, e.Evaluate(testInfo()))
}

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{"has space", "has_space"},
		{"a-b.c", "a_b_c"},
		{"OK_123", "OK_123"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sanitizeName(tt.in))
	}
}
