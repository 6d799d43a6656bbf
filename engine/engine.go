// Package engine runs CVM bytecode: it owns the arena, the registry of
// classes and methods, the method cache and the unroller, and executes
// methods on threads in token-threaded or direct-threaded mode.
package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/colorfulnotion/cvm/cache"
	"github.com/colorfulnotion/cvm/coder"
	"github.com/colorfulnotion/cvm/config"
	"github.com/colorfulnotion/cvm/cvm"
	"github.com/colorfulnotion/cvm/cvmerrors"
	"github.com/colorfulnotion/cvm/il"
	"github.com/colorfulnotion/cvm/log"
	"github.com/colorfulnotion/cvm/unroll"
	_ "github.com/colorfulnotion/cvm/unroll/arm"
	_ "github.com/colorfulnotion/cvm/unroll/x86"
)

const tracerName = "github.com/colorfulnotion/cvm/engine"

// compileAttempts bounds the restarts of one method: a page overflow and a
// flush of a full cache.
const compileAttempts = 3

type Engine struct {
	cfg    *config.Config
	mem    *Memory
	heap   *Heap
	reg    *Registry
	table  *cvm.Table
	cache  *cache.Cache
	direct bool

	codeMu sync.Mutex // serialises the coder
	coder  *coder.Coder

	unroller *unroll.Unroller
	tracer   trace.Tracer
	// nativeMu is held shared while fragments run or are written and
	// exclusively while the native region is reset.
	nativeMu sync.RWMutex

	threadMu sync.Mutex
	idle     []*Thread

	compiles     atomic.Uint64
	evictions    atomic.Uint64
	fragmentRuns atomic.Uint64
	reexecutes   atomic.Uint64
}

// Stats is a snapshot of the engine counters.
type Stats struct {
	Cache        cache.Stats
	Unroll       unroll.Stats
	Compiles     uint64
	Evictions    uint64
	FragmentRuns uint64
	ReExecutes   uint64
	ArenaUsed    int
}

// New builds an engine from cfg, or from config.Default when cfg is nil.
func New(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	table, err := OpcodeTable()
	if err != nil {
		return nil, fmt.Errorf("opcode table: %w", err)
	}
	mem, err := NewMemory(cfg.Engine.ArenaBytes, cfg.Engine.ArenaMapped)
	if err != nil {
		return nil, err
	}
	reg, err := NewRegistry(mem)
	if err != nil {
		mem.Close()
		return nil, err
	}
	c, err := cache.New(cfg.Cache)
	if err != nil {
		mem.Close()
		return nil, err
	}
	cd, err := coder.New(c, cvm.Layout64)
	if err != nil {
		c.Close()
		mem.Close()
		return nil, err
	}
	e := &Engine{
		cfg:    cfg,
		mem:    mem,
		heap:   &Heap{mem: mem, reg: reg},
		reg:    reg,
		table:  table,
		cache:  c,
		direct: cfg.Engine.Mode == config.ModeDirect,
		coder:  cd,
		tracer: otel.Tracer(tracerName),
	}
	if err := e.newUnroller(); err != nil {
		e.Close()
		return nil, err
	}
	c.OnEvict(e.evicted)
	log.Debug(log.EngineMonitoring, "engine ready", "mode", cfg.Engine.Mode, "arena", cfg.Engine.ArenaBytes,
		"unroll", cfg.Unroll.Enabled, "native", e.CanExecuteNative())
	return e, nil
}

// newUnroller picks the code generator. An architecture without one only
// matters when unrolling is enabled.
func (e *Engine) newUnroller() error {
	gen, err := unroll.NewGenerator(e.cfg.Unroll.Arch)
	if err != nil {
		if e.cfg.Unroll.Enabled {
			return err
		}
		log.Debug(log.EngineMonitoring, "no code generator", "err", err)
		return nil
	}
	arch := e.cfg.Unroll.Arch
	canExec := nativeExecution && e.direct && e.cache.Native().Executable() &&
		(arch == "" || arch == runtime.GOARCH)
	e.unroller, err = unroll.New(e.table, e.cache, gen, e.cfg.Unroll, canExec)
	return err
}

// SetTracerProvider routes the engine's spans to tp.
func (e *Engine) SetTracerProvider(tp trace.TracerProvider) {
	e.tracer = tp.Tracer(tracerName)
}

func (e *Engine) Config() *config.Config     { return e.cfg }
func (e *Engine) Registry() *Registry        { return e.reg }
func (e *Engine) Heap() *Heap                { return e.heap }
func (e *Engine) Memory() *Memory            { return e.mem }
func (e *Engine) Cache() *cache.Cache        { return e.cache }
func (e *Engine) Table() *cvm.Table          { return e.table }
func (e *Engine) Unroller() *unroll.Unroller { return e.unroller }
func (e *Engine) Direct() bool               { return e.direct }

// CanExecuteNative reports whether unrolled fragments run on this engine.
func (e *Engine) CanExecuteNative() bool {
	return e.unroller != nil && e.unroller.CanExecute()
}

func (e *Engine) evicted(owner any) {
	if m, ok := owner.(*Method); ok {
		m.compiled.Store(nil)
		e.evictions.Add(1)
		log.Debug(log.EngineMonitoring, "method evicted", "method", m)
	}
}

// Define adds a method whose body is emitted by build and compiles it.
// Methods that call each other before all of them exist can be added with
// Registry().AddMethod and are compiled on first call instead.
func (e *Engine) Define(c *Class, info *il.MethodInfo, build BuildFunc) (*Method, error) {
	m := e.reg.AddMethod(c, info, build)
	if _, err := e.compile(context.Background(), m); err != nil {
		return nil, err
	}
	return m, nil
}

// Compile makes sure m has a resident body.
func (e *Engine) Compile(ctx context.Context, m *Method) error {
	_, err := e.compile(ctx, m)
	return err
}

func (e *Engine) compile(ctx context.Context, m *Method) (*compiled, error) {
	if comp := m.compiled.Load(); comp != nil {
		return comp, nil
	}
	if m.Build == nil {
		return nil, fmt.Errorf("%s has no body: %w", m, cvmerrors.ErrNotCompiled)
	}
	_, span := e.tracer.Start(ctx, "cvm.compile", trace.WithAttributes(attribute.String("method", m.String())))
	defer span.End()

	e.codeMu.Lock()
	defer e.codeMu.Unlock()
	if comp := m.compiled.Load(); comp != nil {
		return comp, nil
	}
	body, err := e.code(m)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	comp, err := newCompiled(m, body, e.direct)
	if err != nil {
		return nil, err
	}
	m.compiled.Store(comp)
	e.compiles.Add(1)
	span.SetAttributes(attribute.Int("bytes", len(body.Code)), attribute.String("fingerprint", fmt.Sprintf("%016x", body.Fingerprint)))
	return comp, nil
}

// code runs m's build function through the coder, starting again in a
// fresh page after an overflow and in an empty cache when it is full.
func (e *Engine) code(m *Method) (*cache.Method, error) {
	var last error
	for attempt := 0; attempt < compileAttempts; attempt++ {
		if err := e.coder.Setup(m, m.Info); err != nil {
			return nil, err
		}
		if err := m.Build(e.coder); err != nil {
			e.coder.Abort()
			return nil, fmt.Errorf("build %s: %w", m, err)
		}
		body, ok, err := e.coder.Finish()
		if ok {
			return body, nil
		}
		last = err
		switch {
		case errors.Is(err, cvmerrors.ErrRestart):
			log.Debug(log.EngineMonitoring, "compile restart", "method", m, "attempt", attempt)
		case errors.Is(err, cvmerrors.ErrCacheFull):
			log.Info(log.EngineMonitoring, "method cache full, flushing", "method", m)
			e.nativeMu.Lock()
			e.cache.Flush()
			e.nativeMu.Unlock()
		default:
			return nil, fmt.Errorf("compile %s: %w", m, err)
		}
	}
	return nil, fmt.Errorf("compile %s after %d attempts: %w", m, compileAttempts, last)
}

// prepare returns m's executable body, compiling it if needed and
// unrolling it once it is hot.
func (e *Engine) prepare(m *Method) (*compiled, error) {
	comp, err := e.compile(context.Background(), m)
	if err != nil {
		return nil, err
	}
	if e.unroller != nil && e.cfg.Unroll.Enabled && !comp.unrolled.Load() &&
		m.calls.Load() >= int64(e.cfg.Unroll.Threshold) {
		e.tier(context.Background(), m, comp)
	}
	return comp, nil
}

// tier unrolls comp once. Failures leave the method interpreted.
func (e *Engine) tier(ctx context.Context, m *Method, comp *compiled) []*unroll.Fragment {
	m.tierMu.Lock()
	defer m.tierMu.Unlock()
	if comp.unrolled.Load() {
		return comp.fragments
	}
	defer comp.unrolled.Store(true)
	if comp.body.Evicted() {
		return nil
	}
	_, span := e.tracer.Start(ctx, "cvm.unroll", trace.WithAttributes(attribute.String("method", m.String())))
	defer span.End()
	e.nativeMu.RLock()
	frags, err := e.unroller.Unroll(comp.body, comp)
	e.nativeMu.RUnlock()
	comp.fragments = frags
	span.SetAttributes(attribute.Int("fragments", len(frags)))
	if err != nil {
		if errors.Is(err, cvmerrors.ErrUnrollNoSpace) {
			log.Debug(log.EngineMonitoring, "unroll stopped", "method", m, "err", err)
		} else {
			span.RecordError(err)
			log.Warn(log.EngineMonitoring, "unroll failed", "method", m, "err", err)
		}
	}
	return frags
}

// Unroll compiles m and unrolls it regardless of its call count. Fragments
// are installed only when they can run.
func (e *Engine) Unroll(ctx context.Context, m *Method) ([]*unroll.Fragment, error) {
	if e.unroller == nil {
		return nil, fmt.Errorf("arch %q: %w", e.cfg.Unroll.Arch, cvmerrors.ErrUnknownArch)
	}
	comp, err := e.compile(ctx, m)
	if err != nil {
		return nil, err
	}
	return e.tier(ctx, m, comp), nil
}

// Body returns m's resident bytecode.
func (e *Engine) Body(m *Method) (*cache.Method, bool) {
	comp := m.compiled.Load()
	if comp == nil {
		return nil, false
	}
	return comp.body, true
}

// NativeSlots counts the instructions of m that currently run native code.
func (e *Engine) NativeSlots(m *Method) int {
	comp := m.compiled.Load()
	if comp == nil {
		return 0
	}
	return comp.native()
}

// Invoke runs m to completion on a thread of its own. An exception that
// leaves m is returned as a *ManagedException.
func (e *Engine) Invoke(ctx context.Context, m *Method, args ...cvm.Word) ([]cvm.Word, error) {
	_, span := e.tracer.Start(ctx, "cvm.invoke", trace.WithAttributes(attribute.String("method", m.String())))
	defer span.End()
	res, err := e.invoke(m, args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

func (e *Engine) invoke(m *Method, args []cvm.Word) ([]cvm.Word, error) {
	if len(args) != int(m.argWords) {
		return nil, fmt.Errorf("%s takes %d words, got %d: %w", m, m.argWords, len(args), cvmerrors.ErrBadArguments)
	}
	t, err := e.acquire()
	if err != nil {
		return nil, err
	}
	defer e.release(t)
	if m.Native != nil {
		m.calls.Add(1)
		return m.Native(t, args)
	}
	if err := t.start(m, args); err != nil {
		return nil, err
	}
	if err := t.run(); err != nil {
		return nil, err
	}
	return t.result, nil
}

func (e *Engine) acquire() (*Thread, error) {
	e.threadMu.Lock()
	if n := len(e.idle); n > 0 {
		t := e.idle[n-1]
		e.idle = e.idle[:n-1]
		e.threadMu.Unlock()
		return t, nil
	}
	e.threadMu.Unlock()
	return e.newThread()
}

func (e *Engine) release(t *Thread) {
	t.reset()
	e.threadMu.Lock()
	e.idle = append(e.idle, t)
	e.threadMu.Unlock()
}

// start pushes the arguments and enters m's bottom frame.
func (t *Thread) start(m *Method, args []cvm.Word) (err error) {
	t.reset()
	defer func() {
		if r := recover(); r != nil {
			a, ok := r.(*abort)
			if !ok {
				panic(r)
			}
			err = a.err
		}
	}()
	for _, w := range args {
		t.push(uint64(w))
	}
	t.pc = t.invoke(m, 0, 0)
	return nil
}

func (e *Engine) Stats() Stats {
	s := Stats{
		Cache:        e.cache.Stats(),
		Compiles:     e.compiles.Load(),
		Evictions:    e.evictions.Load(),
		FragmentRuns: e.fragmentRuns.Load(),
		ReExecutes:   e.reexecutes.Load(),
		ArenaUsed:    e.mem.Used(),
	}
	if e.unroller != nil {
		s.Unroll = e.unroller.Stats()
	}
	return s
}

// Close releases the native region and the arena. Threads must not be
// running.
func (e *Engine) Close() error {
	return errors.Join(e.cache.Close(), e.mem.Close())
}
