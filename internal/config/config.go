package config

import (
	"fmt"
	"strconv"
	"strings"

	"fibertrace/internal/annotate"
)

// DefaultPollHz is the poll frequency when --freq is not given.
const DefaultPollHz = 100.0

// Config holds the parsed command-line configuration.
type Config struct {
	// Command is the executable to run under instrumentation.
	Command string
	// Args are the arguments to pass to the command.
	Args []string
	// Output is the trace file path.
	Output string
	// PollHz is how many event-poll passes run per second.
	PollHz float64
	// Annotations are operator-defined expressions recorded with the session.
	Annotations []annotate.Annotation
	// Viewer is an optional command launched on the trace file once events
	// start flowing.
	Viewer string
	// TraceDir overrides the temporary buffer directory when non-empty.
	TraceDir string
	// OTEL mirrors scheduling spans to an OpenTelemetry collector.
	OTEL bool
}

// ParseArgs parses command-line arguments and returns a Config.
// Expected format: program_name [options] -- <command> [args...]
func ParseArgs(args []string) (*Config, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("no arguments provided")
	}

	programName := args[0]
	cfg := &Config{
		Output: "trace.json",
		PollHz: DefaultPollHz,
	}

	// Find the "--" separator, collecting options before it.
	cmdStart := -1
	for i := 1; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			cmdStart = i + 1
			break
		}

		switch arg {
		case "--out", "-o":
			value, err := optionValue(args, &i)
			if err != nil {
				return nil, err
			}
			cfg.Output = value

		case "--freq", "-f":
			value, err := optionValue(args, &i)
			if err != nil {
				return nil, err
			}
			hz, err := strconv.ParseFloat(value, 64)
			if err != nil || hz <= 0 {
				return nil, fmt.Errorf("--freq must be a positive number, got %q", value)
			}
			cfg.PollHz = hz

		case "--annotate", "-a":
			value, err := optionValue(args, &i)
			if err != nil {
				return nil, err
			}
			name, expression, ok := strings.Cut(value, "=")
			if !ok || name == "" {
				return nil, fmt.Errorf("--annotate requires name=expression, got %q", value)
			}
			cfg.Annotations = append(cfg.Annotations, annotate.Annotation{
				Name:       name,
				Expression: expression,
			})

		case "--viewer":
			value, err := optionValue(args, &i)
			if err != nil {
				return nil, err
			}
			cfg.Viewer = value

		case "--trace-dir":
			value, err := optionValue(args, &i)
			if err != nil {
				return nil, err
			}
			cfg.TraceDir = value

		case "--otel":
			cfg.OTEL = true

		default:
			return nil, fmt.Errorf("unknown option %q (options go before --)", arg)
		}
	}

	if cmdStart == -1 || cmdStart >= len(args) {
		return nil, fmt.Errorf("Usage: %s [--out <file>] [--freq <hz>] [--annotate name=expr] [--viewer <cmd>] [--otel] -- <command> [args...]\nExample: %s -o trace.json -- ./server --port 8080",
			programName, programName)
	}

	cmdArgs := args[cmdStart:]
	cfg.Command = cmdArgs[0]
	cfg.Args = cmdArgs[1:]
	return cfg, nil
}

// FullCommand returns the command and all its arguments as a slice.
func (c *Config) FullCommand() []string {
	return append([]string{c.Command}, c.Args...)
}

// optionValue returns the value following the option at *i, advancing *i
// past it.
func optionValue(args []string, i *int) (string, error) {
	if *i+1 >= len(args) {
		return "", fmt.Errorf("%s requires a value", args[*i])
	}
	*i++
	return args[*i], nil
}
