package engine_test

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/colorfulnotion/cvm/coder"
	"github.com/colorfulnotion/cvm/config"
	"github.com/colorfulnotion/cvm/cvm"
	"github.com/colorfulnotion/cvm/cvmerrors"
	"github.com/colorfulnotion/cvm/engine"
	"github.com/colorfulnotion/cvm/il"
	"github.com/colorfulnotion/cvm/samples"
	"github.com/colorfulnotion/cvm/unroll"
)

type mode struct {
	name   string
	mode   string
	unroll bool
}

func modes(t *testing.T) []mode {
	out := []mode{
		{name: "token", mode: config.ModeToken},
		{name: "direct", mode: config.ModeDirect},
	}
	if _, err := unroll.NewGenerator(""); err == nil {
		out = append(out, mode{name: "unrolled", mode: config.ModeDirect, unroll: true})
	} else {
		t.Logf("no code generator for %s", runtime.GOARCH)
	}
	return out
}

func newEngine(t *testing.T, m mode, tweak ...func(*config.Config)) *engine.Engine {
	t.Helper()
	cfg := config.Default()
	cfg.Engine.Mode = m.mode
	cfg.Engine.ArenaBytes = 8 << 20
	cfg.Engine.StackWords = 16 * 1024
	cfg.Cache.NativeBytes = 1 << 20
	cfg.Unroll.Enabled = m.unroll
	cfg.Unroll.Threshold = 0
	for _, f := range tweak {
		f(cfg)
	}
	e, err := engine.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func checkResult(t *testing.T, s samples.Sample, res []cvm.Word, err error) {
	t.Helper()
	if s.Exception != "" {
		var me *engine.ManagedException
		require.True(t, errors.As(err, &me), "want %s, got %v", s.Exception, err)
		assert.Equal(t, s.Exception, me.Class)
		return
	}
	require.NoError(t, err)
	assert.Equal(t, s.Want, res)
}

func TestSamplesAgreeAcrossModes(t *testing.T) {
	ctx := context.Background()
	for _, s := range samples.All() {
		t.Run(s.Name, func(t *testing.T) {
			for _, m := range modes(t) {
				t.Run(m.name, func(t *testing.T) {
					e := newEngine(t, m)
					entry, err := s.Build(e)
					require.NoError(t, err)
					// the first call unrolls, the later ones run the fragments
					for i := 0; i < 3; i++ {
						res, err := e.Invoke(ctx, entry, s.Args...)
						checkResult(t, s, res, err)
					}
				})
			}
		})
	}
}

func nativeEngine(t *testing.T) *engine.Engine {
	t.Helper()
	if runtime.GOOS != "linux" || runtime.GOARCH != "amd64" {
		t.Skip("fragments run on linux/amd64 only")
	}
	e := newEngine(t, mode{mode: config.ModeDirect, unroll: true})
	if !e.CanExecuteNative() {
		t.Skip("no executable memory")
	}
	return e
}

func TestFragmentsRun(t *testing.T) {
	e := nativeEngine(t)
	s, ok := samples.Lookup("sum")
	require.True(t, ok)
	entry, err := s.Build(e)
	require.NoError(t, err)

	res, err := e.Invoke(context.Background(), entry, s.Args...)
	require.NoError(t, err)
	assert.Equal(t, s.Want, res)
	assert.Positive(t, e.NativeSlots(entry))
	st := e.Stats()
	assert.Positive(t, st.FragmentRuns)
	assert.Positive(t, st.Unroll.Blocks)
	assert.Zero(t, st.ReExecutes)
}

func TestGuardReExecutes(t *testing.T) {
	e := nativeEngine(t)
	s, ok := samples.Lookup("bounds")
	require.True(t, ok)
	entry, err := s.Build(e)
	require.NoError(t, err)
	ctx := context.Background()

	res, err := e.Invoke(ctx, entry, samples.I4(2))
	require.NoError(t, err)
	assert.Equal(t, []cvm.Word{samples.I4(7)}, res)
	assert.Zero(t, e.Stats().ReExecutes)

	res, err = e.Invoke(ctx, entry, samples.I4(4))
	require.NoError(t, err)
	assert.Equal(t, []cvm.Word{samples.I4(-1)}, res, "the interpreter raises the fault the guard saw")
	assert.Positive(t, e.Stats().ReExecutes)

	res, err = e.Invoke(ctx, entry, samples.I4(-1))
	require.NoError(t, err)
	assert.Equal(t, []cvm.Word{samples.I4(-1)}, res, "negative index compares unsigned")
}

func TestGet2DGuardReExecutes(t *testing.T) {
	e := nativeEngine(t)
	s, ok := samples.Lookup("bounds2d")
	require.True(t, ok)
	entry, err := s.Build(e)
	require.NoError(t, err)
	ctx := context.Background()

	res, err := e.Invoke(ctx, entry, samples.I4(1), samples.I4(1))
	require.NoError(t, err)
	assert.Equal(t, []cvm.Word{samples.I4(5)}, res)
	assert.Zero(t, e.Stats().ReExecutes)

	for _, tc := range []struct{ i, j int32 }{{3, 0}, {0, 3}, {-1, 0}} {
		before := e.Stats().ReExecutes
		res, err := e.Invoke(ctx, entry, samples.I4(tc.i), samples.I4(tc.j))
		require.NoError(t, err)
		assert.Equal(t, []cvm.Word{samples.I4(-1)}, res, "[%d, %d]", tc.i, tc.j)
		assert.Greater(t, e.Stats().ReExecutes, before, "[%d, %d]", tc.i, tc.j)
	}
}

func TestAliasedLocalAgreesAcrossModes(t *testing.T) {
	s, ok := samples.Lookup("alias")
	require.True(t, ok)
	for _, m := range modes(t) {
		t.Run(m.name, func(t *testing.T) {
			e := newEngine(t, m)
			entry, err := s.Build(e)
			require.NoError(t, err)
			for i := 0; i < 3; i++ {
				res, err := e.Invoke(context.Background(), entry)
				require.NoError(t, err)
				assert.Equal(t, []cvm.Word{samples.I4(9)}, res, "call %d", i)
			}
		})
	}
}

func TestDivideByZeroGuard(t *testing.T) {
	e := nativeEngine(t)
	s, _ := samples.Lookup("divide")
	entry, err := s.Build(e)
	require.NoError(t, err)
	ctx := context.Background()
	for _, tc := range []struct{ a, b, want int32 }{
		{7, 2, 3}, {-7, 2, -3}, {7, 0, -1}, {100, -10, -10},
	} {
		res, err := e.Invoke(ctx, entry, samples.I4(tc.a), samples.I4(tc.b))
		require.NoError(t, err)
		assert.Equal(t, []cvm.Word{samples.I4(tc.want)}, res, "%d / %d", tc.a, tc.b)
	}
}

func TestUncaughtException(t *testing.T) {
	e := newEngine(t, mode{mode: config.ModeDirect})
	s, _ := samples.Lookup("uncaught")
	entry, err := s.Build(e)
	require.NoError(t, err)
	_, err = e.Invoke(context.Background(), entry)
	var me *engine.ManagedException
	require.True(t, errors.As(err, &me))
	assert.Equal(t, engine.ClassException, me.Class)
	assert.Equal(t, "boom", me.Message)
	assert.Equal(t, "System.Exception: boom", me.Error())
}

func TestBadArguments(t *testing.T) {
	e := newEngine(t, mode{mode: config.ModeToken})
	s, _ := samples.Lookup("sum")
	entry, err := s.Build(e)
	require.NoError(t, err)
	_, err = e.Invoke(context.Background(), entry)
	assert.True(t, errors.Is(err, cvmerrors.ErrBadArguments))
}

func TestStackOverflow(t *testing.T) {
	e := newEngine(t, mode{mode: config.ModeDirect}, func(c *config.Config) { c.Engine.MaxFrames = 64 })
	var loop *engine.Method
	loop = e.Registry().AddMethod(nil, &il.MethodInfo{Name: "Loop", Signature: il.Signature{Return: il.Int32}},
		func(cd *coder.Coder) error {
			cd.CallMethod(loop.Ref())
			cd.Return(il.Int32)
			return nil
		})
	_, err := e.Invoke(context.Background(), loop)
	var me *engine.ManagedException
	require.True(t, errors.As(err, &me))
	assert.Equal(t, engine.ClassStackOverflow, me.Class)
}

func TestEvictedMethodsRecompile(t *testing.T) {
	e := newEngine(t, mode{mode: config.ModeDirect}, func(c *config.Config) { c.Cache.MaxMethods = 2 })
	ctx := context.Background()
	var methods []*engine.Method
	for i := int32(0); i < 4; i++ {
		v := i
		m, err := e.Define(nil, &il.MethodInfo{Name: "Const", Signature: il.Signature{Return: il.Int32}},
			func(cd *coder.Coder) error {
				cd.LoadInt32(100 + v)
				cd.Return(il.Int32)
				return nil
			})
		require.NoError(t, err)
		methods = append(methods, m)
	}
	require.Positive(t, e.Stats().Evictions)
	_, resident := e.Body(methods[0])
	assert.False(t, resident)

	for round := 0; round < 2; round++ {
		for i, m := range methods {
			res, err := e.Invoke(ctx, m)
			require.NoError(t, err)
			assert.Equal(t, []cvm.Word{samples.I4(100 + int32(i))}, res)
		}
	}
	assert.Greater(t, e.Stats().Compiles, uint64(len(methods)))
}

func TestFlushWhenCacheFull(t *testing.T) {
	e := newEngine(t, mode{mode: config.ModeToken}, func(c *config.Config) {
		c.Cache.PageSize = 256
		c.Cache.MaxBytes = 512
	})
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		v := int32(i)
		m, err := e.Define(nil, &il.MethodInfo{Name: "Big", Signature: il.Signature{Return: il.Int32}},
			func(cd *coder.Coder) error {
				for k := 0; k < 20; k++ {
					cd.LoadInt32(1 << 20)
					cd.Pop(il.Int32)
				}
				cd.LoadInt32(v)
				cd.Return(il.Int32)
				return nil
			})
		require.NoError(t, err)
		res, err := e.Invoke(ctx, m)
		require.NoError(t, err)
		assert.Equal(t, []cvm.Word{samples.I4(v)}, res)
	}
	assert.Positive(t, e.Stats().Cache.Flushes)
}

func TestExplicitUnroll(t *testing.T) {
	if _, err := unroll.NewGenerator(""); err != nil {
		t.Skip(err)
	}
	e := newEngine(t, mode{mode: config.ModeToken})
	s, _ := samples.Lookup("sieve")
	entry, err := s.Build(e)
	require.NoError(t, err)
	frags, err := e.Unroll(context.Background(), entry)
	require.NoError(t, err)
	require.NotEmpty(t, frags)
	for _, f := range frags {
		assert.Less(t, f.Start, f.End)
		assert.NotEmpty(t, e.Unroller().Disassemble(f))
		m, err := e.Cache().PCToMethod(uint64(f.Entry))
		require.NoError(t, err, "native pcs resolve to their method")
		assert.Equal(t, entry, m.Owner)
	}
	assert.Zero(t, e.NativeSlots(entry), "token mode never patches")

	res, err := e.Invoke(context.Background(), entry, s.Args...)
	require.NoError(t, err)
	assert.Equal(t, s.Want, res)
}

func TestConcurrentInvoke(t *testing.T) {
	m := mode{mode: config.ModeDirect}
	if _, err := unroll.NewGenerator(""); err == nil {
		m.unroll = true
	}
	e := newEngine(t, m)
	s, _ := samples.Lookup("sieve")
	entry, err := s.Build(e)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for k := 0; k < 5; k++ {
				res, err := e.Invoke(context.Background(), entry, s.Args...)
				if err != nil {
					errs <- err
					return
				}
				if res[0] != s.Want[0] {
					errs <- errors.New("wrong prime count")
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestSpans(t *testing.T) {
	e := newEngine(t, mode{mode: config.ModeDirect})
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { tp.Shutdown(context.Background()) })
	e.SetTracerProvider(tp)

	s, _ := samples.Lookup("fib")
	entry, err := s.Build(e)
	require.NoError(t, err)
	_, err = e.Invoke(context.Background(), entry, s.Args...)
	require.NoError(t, err)

	names := map[string]int{}
	for _, sp := range rec.Ended() {
		names[sp.Name()]++
	}
	assert.Equal(t, 1, names["cvm.invoke"])
	assert.Equal(t, 1, names["cvm.compile"], "fib compiles once however often it recurses")
}
