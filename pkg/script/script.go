// Package script runs comparison scripts: small Lisp programs that load two
// meshes, align, measure and match them, adjust the view, and assert on the
// results. Each run gets a fresh zygomys sandbox whose builtins drive a
// workflow.
package script

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	zygo "github.com/glycerine/zygomys/zygo"

	"github.com/chazu/meshdiff/pkg/compare"
	"github.com/chazu/meshdiff/pkg/workflow"
)

// DefaultTimeout bounds a run when Options.Timeout is zero.
const DefaultTimeout = 2 * time.Minute

// EvalError is a parse or runtime error in a script.
type EvalError struct {
	Line    int
	Message string
}

func (e EvalError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}

// Step records one executed builtin.
type Step struct {
	Action  string `json:"action"`
	Message string `json:"message"`
}

// Report is the outcome of a run.
type Report struct {
	Steps    []Step                 `json:"steps"`
	Failures []string               `json:"failures,omitempty"`
	Errors   []EvalError            `json:"errors,omitempty"`
	Distance *compare.DistanceStats `json:"distance,omitempty"`
	Match    *compare.MatchStats    `json:"match,omitempty"`
}

// Passed reports whether the script ran to completion with every
// expectation met.
func (r *Report) Passed() bool {
	return len(r.Errors) == 0 && len(r.Failures) == 0
}

func (r *Report) step(action, format string, args ...any) {
	r.Steps = append(r.Steps, Step{Action: action, Message: fmt.Sprintf(format, args...)})
}

func (r *Report) fail(format string, args ...any) {
	r.Failures = append(r.Failures, fmt.Sprintf(format, args...))
}

// Options configures a Runner.
type Options struct {
	// Timeout bounds one run.
	Timeout time.Duration
	// BaseDir resolves relative paths given to load.
	BaseDir string
	// DefaultThreshold is used by match when no threshold is given.
	DefaultThreshold float64
	Logger           *log.Logger
}

// Runner evaluates scripts against a workflow. Starting a new run supersedes
// any run still in progress.
type Runner struct {
	wf   *workflow.Workflow
	opts Options
	log  *log.Logger

	mu         sync.Mutex
	generation uint64
}

// NewRunner returns a runner driving wf.
func NewRunner(wf *workflow.Workflow, opts Options) *Runner {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.DefaultThreshold <= 0 {
		opts.DefaultThreshold = 0.1
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	return &Runner{wf: wf, opts: opts, log: opts.Logger}
}

// RunFile reads and runs a script file. Relative load paths resolve against
// the script's directory unless BaseDir is set.
func (r *Runner) RunFile(ctx context.Context, path string) (*Report, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	dir := r.opts.BaseDir
	if dir == "" {
		dir = filepath.Dir(path)
	}
	return r.start(ctx, string(src), dir)
}

// Run evaluates source.
//
// Return semantics:
//   - On completion: a report, possibly carrying expectation failures.
//   - On parse or runtime error: a report whose Errors are set, nil error.
//   - On timeout, panic or supersession: nil report and an error.
func (r *Runner) Run(ctx context.Context, source string) (*Report, error) {
	return r.start(ctx, source, r.opts.BaseDir)
}

func (r *Runner) start(ctx context.Context, source, baseDir string) (*Report, error) {
	r.mu.Lock()
	r.generation++
	gen := r.generation
	r.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess := &session{r: r, ctx: ctx, baseDir: baseDir, rep: &Report{}}
	ch := make(chan runResult, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- runResult{err: fmt.Errorf("panic during script: %v", p)}
			}
		}()
		rep, err := r.run(sess, source)
		ch <- runResult{report: rep, err: err}
	}()

	rep, err := waitWithTimeout(ctx, ch, gen, r.opts.Timeout, &r.mu, &r.generation)
	cancel()
	sess.fence()
	return rep, err
}

// session is the state of one run shared by its builtins.
type session struct {
	r       *Runner
	ctx     context.Context
	baseDir string
	rep     *Report

	// mu is held for the duration of each builtin call.
	mu sync.Mutex
}

// add installs fn under name. Once the run's context is done every call
// fails without touching the workflow.
func (s *session) add(env *zygo.Zlisp, name string, fn zygo.ZlispUserFunction) {
	env.AddFunction(name, func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if err := s.ctx.Err(); err != nil {
			return zygo.SexpNull, fmt.Errorf("%s: run stopped: %w", name, err)
		}
		return fn(env, name, args)
	})
}

// fence waits for a builtin still in flight. The context must already be
// cancelled, so no later call reaches the workflow.
func (s *session) fence() {
	s.mu.Lock()
	s.mu.Unlock()
}

func (r *Runner) run(s *session, source string) (*Report, error) {
	rep := s.rep
	if strings.TrimSpace(source) == "" {
		return rep, nil
	}

	env := zygo.NewZlispSandbox()
	defer env.Stop()
	s.register(env)

	if err := env.LoadString(preprocessSource(source)); err != nil {
		rep.Errors = parseZygomysError(err)
		return rep, nil
	}
	if _, err := env.Run(); err != nil {
		rep.Errors = parseZygomysError(err)
		r.log.Debug("script stopped", "err", err)
		return rep, nil
	}
	r.log.Debug("script finished", "steps", len(rep.Steps), "failures", len(rep.Failures))
	return rep, nil
}

func (s *session) resolve(path string) string {
	if filepath.IsAbs(path) || s.baseDir == "" {
		return path
	}
	return filepath.Join(s.baseDir, path)
}

var linePattern = regexp.MustCompile(`(?i)(?:error )?on line (\d+):\s*(.*)`)

var linePatternShort = regexp.MustCompile(`(?i)^line (\d+):\s*(.*)`)

// parseZygomysError extracts the line number zygomys embeds in its messages.
func parseZygomysError(err error) []EvalError {
	msg := err.Error()
	for _, re := range []*regexp.Regexp{linePattern, linePatternShort} {
		if m := re.FindStringSubmatch(msg); m != nil {
			line, _ := strconv.Atoi(m[1])
			return []EvalError{{Line: line, Message: strings.TrimSpace(m[2])}}
		}
	}
	return []EvalError{{Message: strings.TrimSpace(msg)}}
}
