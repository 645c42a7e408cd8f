package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs_BasicCommand(t *testing.T) {
	args := []string{"fibertrace", "--", "echo", "hello"}

	cfg, err := ParseArgs(args)
	require.NoError(t, err)
	assert.Equal(t, "echo", cfg.Command)
	assert.Equal(t, []string{"hello"}, cfg.Args)
	assert.Equal(t, "trace.json", cfg.Output)
	assert.Equal(t, DefaultPollHz, cfg.PollHz)
	assert.Empty(t, cfg.Annotations)
	assert.False(t, cfg.OTEL)
}

func TestParseArgs_Output(t *testing.T) {
	cfg, err := ParseArgs([]string{"fibertrace", "--out", "run.json", "--", "ls"})
	require.NoError(t, err)
	assert.Equal(t, "run.json", cfg.Output)

	cfg, err = ParseArgs([]string{"fibertrace", "-o", "run.json", "--", "ls"})
	require.NoError(t, err)
	assert.Equal(t, "run.json", cfg.Output)
}

func TestParseArgs_Freq(t *testing.T) {
	cfg, err := ParseArgs([]string{"fibertrace", "--freq", "250", "--", "ls"})
	require.NoError(t, err)
	assert.Equal(t, 250.0, cfg.PollHz)
}

func TestParseArgs_FreqInvalid(t *testing.T) {
	tests := []struct {
		name string
		freq string
	}{
		{"not a number", "fast"},
		{"zero", "0"},
		{"negative", "-5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseArgs([]string{"fibertrace", "--freq", tt.freq, "--", "ls"})
			require.Error(t, err)
		})
	}
}

func TestParseArgs_Annotations(t *testing.T) {
	cfg, err := ParseArgs([]string{
		"fibertrace",
		"-a", "team=\"infra\"",
		"--annotate", "shell=env[\"SHELL\"]",
		"--", "ls",
	})
	require.NoError(t, err)
	require.Len(t, cfg.Annotations, 2)
	assert.Equal(t, "team", cfg.Annotations[0].Name)
	assert.Equal(t, "\"infra\"", cfg.Annotations[0].Expression)
	assert.Equal(t, "shell", cfg.Annotations[1].Name)
	assert.Equal(t, "env[\"SHELL\"]", cfg.Annotations[1].Expression)
}

func TestParseArgs_AnnotationMissingEquals(t *testing.T) {
	_, err := ParseArgs([]string{"fibertrace", "-a", "noexpr", "--", "ls"})
	require.Error(t, err)
}

func TestParseArgs_ViewerAndTraceDir(t *testing.T) {
	cfg, err := ParseArgs([]string{
		"fibertrace", "--viewer", "perfetto-open", "--trace-dir", "/tmp/bufs", "--", "ls",
	})
	require.NoError(t, err)
	assert.Equal(t, "perfetto-open", cfg.Viewer)
	assert.Equal(t, "/tmp/bufs", cfg.TraceDir)
}

func TestParseArgs_OTEL(t *testing.T) {
	cfg, err := ParseArgs([]string{"fibertrace", "--otel", "--", "ls"})
	require.NoError(t, err)
	assert.True(t, cfg.OTEL)
}

func TestParseArgs_MissingSeparator(t *testing.T) {
	_, err := ParseArgs([]string{"fibertrace", "echo", "hello"})
	require.Error(t, err)
}

func TestParseArgs_MissingCommand(t *testing.T) {
	_, err := ParseArgs([]string{"fibertrace", "--"})
	require.Error(t, err)
}

func TestParseArgs_UnknownOption(t *testing.T) {
	_, err := ParseArgs([]string{"fibertrace", "--wat", "--", "ls"})
	require.Error(t, err)
}

func TestParseArgs_OptionMissingValue(t *testing.T) {
	_, err := ParseArgs([]string{"fibertrace", "--out"})
	require.Error(t, err)
}

func TestParseArgs_Empty(t *testing.T) {
	_, err := ParseArgs(nil)
	require.Error(t, err)
}

func TestFullCommand(t *testing.T) {
	cfg, err := ParseArgs([]string{"fibertrace", "--", "python", "-m", "server"})
	require.NoError(t, err)
	assert.Equal(t, []string{"python", "-m", "server"}, cfg.FullCommand())
}

func TestOTELConfig_GetEndpoint(t *testing.T) {
	tests := []struct {
		name string
		cfg  OTELConfig
		want string
	}{
		{"default", OTELConfig{}, "localhost:4318"},
		{"generic endpoint", OTELConfig{ExporterEndpoint: "collector:4318"}, "collector:4318"},
		{"traces endpoint wins", OTELConfig{ExporterEndpoint: "a:1", TracesEndpoint: "b:2"}, "b:2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.GetEndpoint())
		})
	}
}

func TestOTELConfig_ParseResourceAttributes(t *testing.T) {
	cfg := OTELConfig{ResourceAttributes: "team=infra, region = eu-west-1,malformed"}
	attrs := cfg.ParseResourceAttributes()
	require.Len(t, attrs, 2)
	assert.Equal(t, "team", string(attrs[0].Key))
	assert.Equal(t, "infra", attrs[0].Value.AsString())
	assert.Equal(t, "region", string(attrs[1].Key))
	assert.Equal(t, "eu-west-1", attrs[1].Value.AsString())
}

func TestParseOTELConfig_FromEnvironment(t *testing.T) {
	t.Setenv("OTEL_SERVICE_NAME", "myservice")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4318")
	cfg, err := ParseOTELConfig()
	require.NoError(t, err)
	assert.Equal(t, "myservice", cfg.ServiceName)
	assert.Equal(t, "collector:4318", cfg.GetEndpoint())
}
