package registry

import (
	"context"
	"fmt"
	"sync"
	"testing"

	taskscope "github.com/goliatone/go-taskscope"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activityCtor(ctx context.Context, r taskscope.Resolver) (any, error) {
	return taskscope.ActivityFunc(func(ctx context.Context, input any) (any, error) {
		return input, nil
	}), nil
}

func genericCtor(ctx context.Context, r taskscope.Resolver, args []taskscope.TypeName) (any, error) {
	return taskscope.ActivityFunc(func(ctx context.Context, input any) (any, error) {
		return args[0].String(), nil
	}), nil
}

func TestResolveDirectRegistration(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Add(taskscope.NewActivity(taskscope.Simple("Greeter"), activityCtor, taskscope.WithName("Greet"))))
	require.NoError(t, reg.Add(taskscope.NewOrchestration(taskscope.Simple("Flow"), activityCtor, taskscope.WithVersion("v2"))))

	d, found, err := reg.Resolve(taskscope.KindActivity, "Greet", "")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, taskscope.KindActivity, d.Kind())
	assert.True(t, d.Identity().Equal(taskscope.Simple("Greeter")))
	assert.False(t, d.Bound())

	o, found, err := reg.Resolve(taskscope.KindOrchestration, "Flow", "v2")
	require.NoError(t, err)
	require.True(t, found)
	_, ok := o.(*taskscope.DeferredOrchestration)
	assert.True(t, ok)

	_, found, err = reg.Resolve(taskscope.KindOrchestration, "Flow", "v1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestResolveReturnsFreshDeferredPerCall(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Add(taskscope.NewActivity(taskscope.Simple("Greet"), activityCtor)))
	reg.Seal()

	a, _, err := reg.Resolve(taskscope.KindActivity, "Greet", "")
	require.NoError(t, err)
	b, _, err := reg.Resolve(taskscope.KindActivity, "Greet", "")
	require.NoError(t, err)
	assert.NotSame(t, a, b)

	stats := reg.Stats()
	assert.Equal(t, 1, stats.Registrations)
	assert.Equal(t, 1, stats.Cached)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestDirectRegistrationWinsOverEarlierGenericResolve(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Add(taskscope.NewGenericActivity(taskscope.OpenGeneric("Cache", 1), genericCtor)))

	d, found, err := reg.Resolve(taskscope.KindActivity, "Cache[Int]", "")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Cache[Int]", d.Identity().String())
	assert.Equal(t, 0, reg.Stats().Cached)

	require.NoError(t, reg.Add(taskscope.NewActivity(taskscope.Simple("IntCache"), activityCtor, taskscope.WithName("Cache[Int]"))))
	reg.Seal()

	for i := 0; i < 2; i++ {
		d, found, err = reg.Resolve(taskscope.KindActivity, "Cache[Int]", "")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "IntCache", d.Identity().String())
	}

	d, found, err = reg.Resolve(taskscope.KindActivity, "Cache[Str]", "")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Cache[Str]", d.Identity().String())

	stats := reg.Stats()
	assert.Equal(t, 2, stats.Cached)
	assert.Equal(t, uint64(1), stats.Hits)
}

func TestResolveClosesOpenGeneric(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Add(taskscope.NewGenericActivity(taskscope.OpenGeneric("Cache", 2), genericCtor)))

	d, found, err := reg.Resolve(taskscope.KindActivity, "Cache[String|List[Int]]", "")
	require.NoError(t, err)
	require.True(t, found)

	want := taskscope.Generic("Cache", taskscope.Simple("String"), taskscope.Generic("List", taskscope.Simple("Int")))
	assert.True(t, d.Identity().Equal(want), "got %s", d.Identity())

	_, found, err = reg.Resolve(taskscope.KindActivity, "Cache[Int]", "")
	require.NoError(t, err)
	assert.False(t, found, "arity 1 must not match a definition of arity 2")
}

func TestResolveRenamedGenericKeepsImplementationName(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Add(taskscope.NewGenericActivity(
		taskscope.OpenGeneric("MemoryCache", 1),
		genericCtor,
		taskscope.WithName("Cache`1"),
	)))

	d, found, err := reg.Resolve(taskscope.KindActivity, "Cache[Int]", "")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "MemoryCache[Int]", d.Identity().String())
}

func TestResolveGenericDefinitionDirectlyFails(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Add(taskscope.NewGenericActivity(taskscope.OpenGeneric("Cache", 1), genericCtor)))

	_, found, err := reg.Resolve(taskscope.KindActivity, "Cache`1", "")
	require.Error(t, err)
	assert.True(t, found)
	assert.True(t, taskscope.HasCode(err, taskscope.ErrCodeHandlerGenericDefinition))

	lookup, ok := reg.Lookup(taskscope.KindActivity, "Cache`1", "")
	require.True(t, ok)
	_, err = lookup.Create()
	assert.True(t, taskscope.HasCode(err, taskscope.ErrCodeHandlerGenericDefinition))
}

func TestResolveMalformedClosedName(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Add(taskscope.NewGenericActivity(taskscope.OpenGeneric("Cache", 1), genericCtor)))

	lookup, ok := reg.Lookup(taskscope.KindActivity, "Cache`1", "")
	require.True(t, ok)

	_, err := lookup.CreateClosed("Cache[Int")
	require.Error(t, err)
	assert.True(t, taskscope.IsResolutionError(err))

	_, found, err := reg.Resolve(taskscope.KindActivity, "Cache[[Int]", "")
	assert.False(t, found)
	if err != nil {
		assert.True(t, taskscope.IsResolutionError(err))
	}
}

func TestNamesAreCaseSensitive(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Add(taskscope.NewActivity(taskscope.Simple("Greet"), activityCtor)))
	require.NoError(t, reg.Add(taskscope.NewActivity(taskscope.Simple("greet"), activityCtor)))

	upper, found, err := reg.Resolve(taskscope.KindActivity, "Greet", "")
	require.NoError(t, err)
	require.True(t, found)
	lower, found, err := reg.Resolve(taskscope.KindActivity, "greet", "")
	require.NoError(t, err)
	require.True(t, found)

	assert.Equal(t, "Greet", upper.Identity().String())
	assert.Equal(t, "greet", lower.Identity().String())

	_, found, err = reg.Resolve(taskscope.KindActivity, "GREET", "")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestAddErrors(t *testing.T) {
	reg := New()
	desc := taskscope.NewActivity(taskscope.Simple("Greet"), activityCtor)
	require.NoError(t, reg.Add(desc))

	err := reg.Add(desc)
	assert.True(t, taskscope.HasCode(err, taskscope.ErrCodeHandlerDuplicate))
	assert.True(t, taskscope.IsConfigurationError(err))

	// same name under another kind is a separate key
	require.NoError(t, reg.Add(taskscope.NewOrchestration(taskscope.Simple("Greet"), activityCtor)))

	err = reg.Add(taskscope.NewActivity(taskscope.Simple("NoCtor"), nil))
	assert.True(t, taskscope.HasCode(err, taskscope.ErrCodeDescriptorInvalid))

	reg.Seal()
	assert.True(t, reg.Sealed())
	err = reg.Add(taskscope.NewActivity(taskscope.Simple("Late"), activityCtor))
	assert.True(t, taskscope.HasCode(err, taskscope.ErrCodeRegistrySealed))
}

func TestHandlersSorted(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Add(taskscope.NewOrchestration(taskscope.Simple("B"), activityCtor)))
	require.NoError(t, reg.Add(taskscope.NewActivity(taskscope.Simple("Z"), activityCtor)))
	require.NoError(t, reg.Add(taskscope.NewActivity(taskscope.Simple("A"), activityCtor, taskscope.WithVersion("2"))))
	require.NoError(t, reg.Add(taskscope.NewActivity(taskscope.Simple("A"), activityCtor, taskscope.WithVersion("1"))))

	var got []string
	for _, d := range reg.Handlers() {
		got = append(got, d.String())
	}
	assert.Equal(t, []string{
		"activity A@1",
		"activity A@2",
		"activity Z",
		"orchestration B",
	}, got)
}

func TestConcurrentResolve(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Add(taskscope.NewGenericActivity(taskscope.OpenGeneric("Box", 1), genericCtor)))
	reg.Seal()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("Box[T%d]", i%4)
			d, found, err := reg.Resolve(taskscope.KindActivity, name, "")
			assert.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, name, d.Identity().String())
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 4, reg.Stats().Cached)
}
