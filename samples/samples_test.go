package samples

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/cvm/cvm"
	"github.com/colorfulnotion/cvm/engine"
)

func TestRegistry(t *testing.T) {
	list := All()
	require.NotEmpty(t, list)
	assert.True(t, sort.SliceIsSorted(list, func(i, j int) bool { return list[i].Name < list[j].Name }))
	for _, s := range list {
		assert.NotEmpty(t, s.Description, s.Name)
		assert.NotNil(t, s.Build, s.Name)
		assert.True(t, (s.Want != nil) != (s.Exception != ""), "%s wants a result or an exception", s.Name)
		got, ok := Lookup(s.Name)
		require.True(t, ok)
		assert.Equal(t, s.Name, got.Name)
	}
	_, ok := Lookup("no-such-sample")
	assert.False(t, ok)
}

func TestI4(t *testing.T) {
	assert.Equal(t, cvm.Word(5), I4(5))
	assert.Equal(t, cvm.Word(0xFFFFFFFFFFFFFFFF), I4(-1))
}

func TestSamplesRunOnDefaultEngine(t *testing.T) {
	for _, s := range All() {
		t.Run(s.Name, func(t *testing.T) {
			e, err := engine.New(nil)
			require.NoError(t, err)
			defer e.Close()
			m, err := s.Build(e)
			require.NoError(t, err)
			res, err := e.Invoke(context.Background(), m, s.Args...)
			if s.Exception != "" {
				var me *engine.ManagedException
				require.ErrorAs(t, err, &me)
				assert.Equal(t, s.Exception, me.Class)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, s.Want, res)
		})
	}
}
