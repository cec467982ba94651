package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praxisml/maestro/core"
)

func TestRegistryFirstRegisteredIsDefault(t *testing.T) {
	r := NewRegistry(nil)
	first := NewMock()
	second := NewMock()
	r.Register("first", first)
	r.Register("second", second)

	assert.Equal(t, "first", r.DefaultName())

	p, err := r.Get("")
	require.NoError(t, err)
	assert.Same(t, Provider(first), p)
}

func TestRegistrySetDefault(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("a", NewMock())
	r.Register("b", NewMock())

	r.SetDefault("b")
	assert.Equal(t, "b", r.DefaultName())

	// Unknown names leave the default untouched.
	r.SetDefault("missing")
	assert.Equal(t, "b", r.DefaultName())
}

func TestRegistryGetUnknown(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("a", NewMock())

	_, err := r.Get("nope")
	var notFound *core.ProviderNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "nope", notFound.Name)
}

func TestRegistryEmpty(t *testing.T) {
	r := NewRegistry(nil)
	_, err := r.Get("")
	var notFound *core.ProviderNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestRegistryListOrder(t *testing.T) {
	r := NewRegistry(nil)
	r.Register("z", NewMock())
	r.Register("a", NewMock())
	r.Register("m", NewMock())

	infos := r.List()
	require.Len(t, infos, 3)
	assert.Equal(t, "z", infos[0].Name)
	assert.Equal(t, "a", infos[1].Name)
	assert.Equal(t, "m", infos[2].Name)
	assert.True(t, infos[0].Configured)
	assert.Equal(t, "mock", infos[0].Type)
}

func TestRegistryChatRoutesByName(t *testing.T) {
	r := NewRegistry(nil)
	def := NewMock()
	named := NewMock()
	named.AddResponse("hi", "from named")
	r.Register("default", def)
	r.Register("named", named)

	resp, err := r.Chat(context.Background(), "named", []core.Message{core.NewUserMessage("hi")}, ChatOptions{})
	require.NoError(t, err)
	assert.Equal(t, "from named", resp.Content)
	assert.Equal(t, 1, named.Calls())
	assert.Equal(t, 0, def.Calls())
}

func TestMockEcho(t *testing.T) {
	m := NewMock()
	resp, err := m.Chat(context.Background(), []core.Message{core.NewUserMessage("hello")}, ChatOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ECHO:hello", resp.Content)
}

func TestMockStreamAccumulates(t *testing.T) {
	m := NewMock()
	chunks, errs, err := m.Stream(context.Background(), []core.Message{core.NewUserMessage("hi")}, ChatOptions{})
	require.NoError(t, err)

	var out string
	for c := range chunks {
		out += c.Text
	}
	require.NoError(t, <-errs)
	assert.Equal(t, "ECHO:hi", out)
}
