package mediainfo

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/airlookjs/mediainfo/pkg/logger"
)

var log = logger.Get("MediaInfo")

const DefaultBinary = "mediainfo"

type (
	Config struct {
		BinaryPath string `yaml:"binary_path" env:"MEDIAINFO_BIN" env-default:"mediainfo"`
	}

	// Output is the raw result of running the analyzer: everything the
	// process wrote to stdout and stderr.
	Output struct {
		Stdout string
		Stderr string
	}

	// Analyzer runs an analysis of the target (a local file path or an
	// http(s) URL), asking for output in the format named by wireValue.
	//
	// An error is only returned if the analysis could not be performed
	// at all; output written to stderr is reported via Output and
	// judged by Interpret.
	Analyzer interface {
		Analyze(ctx context.Context, target string, wireValue string) (Output, error)
	}

	// CommandAnalyzer is the Analyzer backed by the mediainfo CLI.
	CommandAnalyzer struct {
		config Config
	}
)

func New(config Config) *CommandAnalyzer {
	if config.BinaryPath == "" {
		config.BinaryPath = DefaultBinary
	}

	return &CommandAnalyzer{config: config}
}

// Analyze executes `mediainfo --Output=<wireValue> <target>` and
// captures its output. A process which exits with a failure status
// but says nothing on stderr is reported as an error, as there is
// no output for Interpret to reason about.
func (a *CommandAnalyzer) Analyze(ctx context.Context, target string, wireValue string) (Output, error) {
	log.Emit(logger.INFO, "Getting MediaInfo for: %s\n", target)

	stdout, stderr, err := a.run(ctx, "--Output="+wireValue, target)
	out := Output{Stdout: stdout, Stderr: stderr}
	if err != nil && stderr == "" {
		return out, fmt.Errorf("%s failed for %s: %w", a.config.BinaryPath, target, err)
	}

	return out, nil
}

// Version returns the version banner reported by the mediainfo binary.
func (a *CommandAnalyzer) Version(ctx context.Context) (string, error) {
	stdout, stderr, err := a.run(ctx, "--Version")
	if err != nil {
		return "", fmt.Errorf("%s --Version failed: %w (%s)", a.config.BinaryPath, err, strings.TrimSpace(stderr))
	}

	return strings.TrimSpace(stdout), nil
}

func (a *CommandAnalyzer) run(ctx context.Context, args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, a.config.BinaryPath, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

func (a *CommandAnalyzer) String() string {
	return fmt.Sprintf("{mediainfo bin=%s}", a.config.BinaryPath)
}
