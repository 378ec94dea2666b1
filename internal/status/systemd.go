package status

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/miradorstack/hostwatch/internal/models"
)

// CommandRunner executes an external command and returns its combined output.
// exitCode is -1 when the command did not run to completion.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (output []byte, exitCode int, err error)
}

// ExecRunner runs commands with os/exec. A zero Timeout leaves the platform default
// in place.
type ExecRunner struct {
	Timeout time.Duration
}

// Run implements CommandRunner.
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, int, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out, exitErr.ExitCode(), err
		}
		return out, -1, err
	}
	return out, 0, nil
}

// SystemdEvaluator queries and restarts units through systemctl.
type SystemdEvaluator struct {
	logger    *slog.Logger
	runner    CommandRunner
	systemctl string
}

// NewSystemdEvaluator builds an evaluator. An empty systemctl path means "systemctl" on PATH.
func NewSystemdEvaluator(logger *slog.Logger, runner CommandRunner, systemctl string) *SystemdEvaluator {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = ExecRunner{}
	}
	if systemctl == "" {
		systemctl = "systemctl"
	}
	return &SystemdEvaluator{logger: logger, runner: runner, systemctl: systemctl}
}

// Evaluate implements Evaluator.
func (e *SystemdEvaluator) Evaluate(ctx context.Context, names []string) []models.ServiceObservation {
	out := make([]models.ServiceObservation, 0, len(names))
	for _, name := range names {
		obs := e.observe(ctx, name)
		e.logger.Debug("service observed",
			slog.String("service", name),
			slog.String("state", obs.State.String()),
			slog.String("detail", obs.Detail))
		out = append(out, obs)
	}
	return out
}

func (e *SystemdEvaluator) observe(ctx context.Context, name string) models.ServiceObservation {
	obs := models.ServiceObservation{Name: name, State: models.StateUnknown}

	output, _, err := e.runner.Run(ctx, e.systemctl, "show",
		"--property=LoadState", "--property=ActiveState", "--property=SubState", "--", name)
	if err != nil {
		obs.Err = fmt.Errorf("%w: %s: %s", ErrTransientQuery, name, firstLine(output, err))
		return obs
	}

	props := parseProperties(output)
	load, active := props["LoadState"], props["ActiveState"]
	obs.Detail = strings.Trim(active+"/"+props["SubState"], "/")

	switch {
	case load == "":
		obs.Err = fmt.Errorf("%w: %s: no LoadState in systemctl output", ErrTransientQuery, name)
	case load == "not-found":
		obs.Err = fmt.Errorf("%w: %s", ErrNotFound, name)
		obs.Detail = load
	case active == "active" || active == "reloading":
		obs.State = models.StateRunning
	default:
		obs.State = models.StateStopped
	}
	return obs
}

// Restart implements Restarter.
func (e *SystemdEvaluator) Restart(ctx context.Context, name string) error {
	output, code, err := e.runner.Run(ctx, e.systemctl, "restart", "--", name)
	if err == nil {
		return nil
	}
	text := strings.TrimSpace(string(output))
	return &RestartError{
		Service: name,
		Kind:    ClassifyRestartFailure(text+" "+err.Error(), code),
		Output:  text,
		Err:     err,
	}
}

func parseProperties(output []byte) map[string]string {
	props := make(map[string]string, 3)
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if ok {
			props[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	}
	return props
}

func firstLine(output []byte, err error) string {
	line, _, _ := strings.Cut(strings.TrimSpace(string(output)), "\n")
	if line == "" {
		return err.Error()
	}
	return line
}
