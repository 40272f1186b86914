package secrets

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

// envPrefix marks supervisor-internal variables that must not leak into the
// wrapped server's environment.
const envPrefix = "LATCH_"

// Resolver fetches a batch of secret values by key.
type Resolver interface {
	ResolveAll(ctx context.Context, keys []string) (map[string]string, error)
}

// HTTPResolver resolves secrets against the core's loopback endpoint. Used
// by the wrapper process, which has only the authz URL and bearer secret.
type HTTPResolver struct {
	BaseURL string
	Secret  string
	Client  *http.Client
}

// NewHTTPResolver targets the core at baseURL, e.g. "http://127.0.0.1:7821".
func NewHTTPResolver(baseURL, secret string) *HTTPResolver {
	return &HTTPResolver{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Secret:  secret,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// ResolveAll fetches the values for keys in one round trip.
func (r *HTTPResolver) ResolveAll(ctx context.Context, keys []string) (map[string]string, error) {
	body, err := json.Marshal(map[string][]string{"keys": keys})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.BaseURL+"/secrets/resolve", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.Secret)

	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("resolving secrets: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("resolving secrets: status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var out struct {
		Resolved map[string]string `json:"resolved"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("resolving secrets: %w", err)
	}
	return out.Resolved, nil
}

// Compile-time interface verification.
var _ Resolver = (*HTTPResolver)(nil)

// Wrapper launches an MCP server with secrets resolved into its
// environment. The wrapper is transparent: stdio is inherited so the
// harness speaks MCP straight to the child, and the child's exit status is
// mirrored.
type Wrapper struct {
	Resolver Resolver
	Bindings []Binding
	Command  []string
	Logger   *slog.Logger
}

// Run resolves bindings, spawns the command and waits for it. It returns
// the exit code the wrapper process should exit with.
//
// A resolve failure is logged and the child starts without the injected
// variables; the child surfaces its own missing-credential errors. This
// keeps an unreachable supervisor from silently blocking MCP servers that
// do not actually need the secrets.
func (w *Wrapper) Run(ctx context.Context) (int, error) {
	if len(w.Command) == 0 {
		return 1, errors.New("no command to wrap")
	}
	log := w.Logger
	if log == nil {
		log = slog.Default()
	}

	env := stripInternalEnv(os.Environ())
	if len(w.Bindings) > 0 {
		keys := make([]string, 0, len(w.Bindings))
		for _, b := range w.Bindings {
			keys = append(keys, b.Key)
		}
		resolved, err := w.Resolver.ResolveAll(ctx, keys)
		if err != nil {
			log.Warn("secret resolution failed, launching without injected secrets",
				slog.Any("error", err))
			resolved = map[string]string{}
		}
		for _, b := range w.Bindings {
			val, ok := resolved[b.Key]
			if !ok {
				log.Warn("secret missing", slog.String("env_var", b.EnvVar))
				continue
			}
			log.Debug("secret resolved",
				slog.String("env_var", b.EnvVar),
				slog.String("fingerprint", Fingerprint(val)))
			env = append(env, b.EnvVar+"="+val)
		}
	}

	cmd := exec.Command(w.Command[0], w.Command[1:]...)
	cmd.Env = env
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return 1, fmt.Errorf("starting %s: %w", w.Command[0], err)
	}

	// Forward termination signals so the harness can stop the server
	// through us.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, forwardedSignals...)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig := <-sigCh:
				_ = cmd.Process.Signal(sig)
			case <-done:
				return
			}
		}
	}()

	err := cmd.Wait()
	signal.Stop(sigCh)
	close(done)
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitCode(exitErr), nil
	}
	return 1, err
}

// exitCode mirrors the child's termination. When the child died to a signal
// the wrapper re-raises that signal on itself so the parent observes genuine
// signal death; the shell convention of 128+signal is the fallback when
// delivery does not terminate the process.
func exitCode(err *exec.ExitError) int {
	if status, ok := err.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		sig := status.Signal()
		raiseSignal(sig)
		return 128 + int(sig)
	}
	return err.ExitCode()
}

// stripInternalEnv drops LATCH_* variables so the child cannot see the
// bearer secret or resolve spec.
func stripInternalEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		if strings.HasPrefix(kv, envPrefix) {
			continue
		}
		out = append(out, kv)
	}
	return out
}
