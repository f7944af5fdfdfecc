package jobrunner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"hashdist.dev/hashdist/internal/spec"
	"zombiezen.com/go/log"
)

// BuildFailedError is returned when a job's command exits non-zero.
// The caller is expected to surface it as a BuildFailed condition with
// the artifact's staging directory left intact for inspection.
type BuildFailedError struct {
	Command []string
	LogPath string
	Err     error
}

func (e *BuildFailedError) Error() string {
	return fmt.Sprintf("command %q failed: %v (see %s)", e.Command, e.Err, e.LogPath)
}

func (e *BuildFailedError) Unwrap() error { return e.Err }

// Run executes job's commands in order against env, logging combined
// stdout/stderr to logPath. Each subprocess runs in its own process
// group on Unix so a cancelled build can be killed as a unit, and sees
// exactly the variables in env plus any per-command overrides — no
// host environment is inherited.
func Run(ctx context.Context, job spec.Job, env *Env, cwd string, logPath string) error {
	logFile, err := os.Create(logPath)
	if err != nil {
		return fmt.Errorf("jobrunner: %w", err)
	}
	defer logFile.Close()
	logw := bufio.NewWriter(logFile)
	defer logw.Flush()

	vars := make(map[string]string, len(env.Vars))
	for k, v := range env.Vars {
		vars[k] = v
	}

	for i, cmd := range job.Commands {
		commandCwd := cwd
		if cmd.Cwd != "" {
			commandCwd = substitute(cmd.Cwd, vars)
		}
		argv := make([]string, len(cmd.Cmd))
		for j, tok := range cmd.Cmd {
			argv[j] = substitute(tok, vars)
		}

		cmdVars := make(map[string]string, len(vars)+len(cmd.Env))
		for k, v := range vars {
			cmdVars[k] = v
		}
		for k, v := range cmd.Env {
			if strings.HasSuffix(k, "_nohash") {
				k = strings.TrimSuffix(k, "_nohash")
			}
			cmdVars[k] = substitute(v, vars)
		}

		fmt.Fprintf(logw, "+ %s\n", strings.Join(argv, " "))
		logw.Flush()

		out, err := runOne(ctx, argv, commandCwd, cmdVars, cmd.Inputs, logFile)
		if err != nil {
			return &BuildFailedError{Command: argv, LogPath: logPath, Err: err}
		}
		if cmd.ToVar != "" {
			vars[cmd.ToVar] = strings.TrimRight(out, "\n")
		}

		log.Debugf(ctx, "jobrunner: command %d/%d ok: %s", i+1, len(job.Commands), strings.Join(argv, " "))
	}
	return nil
}

func runOne(ctx context.Context, argv []string, dir string, env map[string]string, stdin string, logFile io.Writer) (stdout string, err error) {
	if len(argv) == 0 {
		return "", fmt.Errorf("empty command")
	}
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = flattenEnv(env)
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	var outBuf strings.Builder
	cmd.Stdout = io.MultiWriter(logFile, &outBuf)
	cmd.Stderr = logFile
	setSandboxAttrs(cmd)
	// exec.CommandContext only kills the immediate child on
	// cancellation; interruptCmd reaches the whole process group so a
	// cancelled build doesn't leave orphaned children running.
	cmd.Cancel = func() error {
		interruptCmd(cmd)
		return nil
	}

	if err := cmd.Run(); err != nil {
		return "", err
	}
	return outBuf.String(), nil
}

func flattenEnv(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// substitute replaces every ${name} occurrence in s with vars[name],
// leaving unknown names untouched, and unescapes \$ to a literal $.
func substitute(s string, vars map[string]string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\\' && i+1 < len(s) && s[i+1] == '$':
			b.WriteByte('$')
			i++
		case s[i] == '$' && i+1 < len(s) && s[i+1] == '{':
			end := strings.IndexByte(s[i+2:], '}')
			if end < 0 {
				b.WriteByte(s[i])
				continue
			}
			name := s[i+2 : i+2+end]
			if v, ok := vars[name]; ok {
				b.WriteString(v)
			} else {
				b.WriteString(s[i : i+2+end+1])
			}
			i += 2 + end
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}
