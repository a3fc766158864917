package embeddings

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	vec []float32
	err error
}

func (f *fakeProvider) Name() string    { return "fake" }
func (f *fakeProvider) Dimensions() int { return len(f.vec) }
func (f *fakeProvider) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(inputs))
	for i := range inputs {
		out[i] = f.vec
	}
	return out, nil
}

func TestAdaptNilProvider(t *testing.T) {
	assert.Nil(t, Adapt(nil))
}

func TestAdaptSingleText(t *testing.T) {
	fn := Adapt(&fakeProvider{vec: []float32{0.1, 0.2}})
	require.NotNil(t, fn)

	vec, err := fn(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, vec)
}

func TestAdaptPropagatesError(t *testing.T) {
	wantErr := errors.New("backend down")
	fn := Adapt(&fakeProvider{err: wantErr})

	_, err := fn(context.Background(), "hello")
	assert.ErrorIs(t, err, wantErr)
}

func TestNewFromEnvDisabledByDefault(t *testing.T) {
	t.Setenv("EMBEDDINGS_PROVIDER", "")
	assert.Nil(t, NewFromEnv())

	t.Setenv("EMBEDDINGS_PROVIDER", "unknown")
	assert.Nil(t, NewFromEnv())
}

func TestNewFromEnvOllamaRequiresHost(t *testing.T) {
	t.Setenv("EMBEDDINGS_PROVIDER", "ollama")
	t.Setenv("OLLAMA_HOST", "")
	assert.Nil(t, NewFromEnv())

	t.Setenv("OLLAMA_HOST", "http://localhost:11434")
	p := NewFromEnv()
	require.NotNil(t, p)
	assert.Equal(t, "ollama", p.Name())
	assert.Equal(t, 768, p.Dimensions())
}
