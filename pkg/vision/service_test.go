package vision

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liliang-cn/mrag/pkg/domain"
)

type mockGenerator struct {
	chatResponse string
	chatErr      error
	models       []string
	listErr      error
	lastPrompt   string
	lastImages   []string
}

func (m *mockGenerator) Generate(ctx context.Context, prompt string, opts *domain.GenerationOptions) (string, error) {
	return m.chatResponse, m.chatErr
}

func (m *mockGenerator) Chat(ctx context.Context, messages []domain.ChatTurn, imagePaths []string, opts *domain.GenerationOptions) (string, error) {
	if len(messages) > 0 {
		m.lastPrompt = messages[len(messages)-1].Content
	}
	m.lastImages = imagePaths
	return m.chatResponse, m.chatErr
}

func (m *mockGenerator) ListModels(ctx context.Context) ([]string, error) {
	return m.models, m.listErr
}

type mockEmbedder struct {
	vector   []float64
	err      error
	lastText string
}

func (m *mockEmbedder) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	m.lastText = text
	return m.vector, m.err
}

func (m *mockEmbedder) EmbedPassages(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = m.vector
	}
	return out, m.err
}

func writeTestImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "red.png")
	require.NoError(t, os.WriteFile(path, []byte("fake png bytes"), 0o644))
	return path
}

func TestCaption(t *testing.T) {
	gen := &mockGenerator{chatResponse: "  赤い正方形の画像です。  "}
	svc, err := New(gen, &mockEmbedder{}, "llava")
	require.NoError(t, err)

	path := writeTestImage(t)
	caption, err := svc.Caption(context.Background(), path, "", 0)
	require.NoError(t, err)
	assert.Equal(t, "赤い正方形の画像です。", caption)
	assert.Equal(t, DefaultCaptionPrompt, gen.lastPrompt)
	assert.Equal(t, []string{path}, gen.lastImages)
}

func TestCaption_Empty(t *testing.T) {
	gen := &mockGenerator{chatResponse: "   "}
	svc, err := New(gen, &mockEmbedder{}, "llava")
	require.NoError(t, err)

	_, err = svc.Caption(context.Background(), writeTestImage(t), "", 0)
	assert.ErrorIs(t, err, domain.ErrCaptionEmpty)
}

func TestCaption_MissingFile(t *testing.T) {
	svc, err := New(&mockGenerator{chatResponse: "x"}, &mockEmbedder{}, "llava")
	require.NoError(t, err)

	_, err = svc.Caption(context.Background(), "/nonexistent/image.png", "", 0)
	assert.ErrorIs(t, err, domain.ErrImageInvalid)
}

func TestEmbedImage_CaptionThenEmbed(t *testing.T) {
	gen := &mockGenerator{chatResponse: "赤い色のベタ塗り画像。"}
	emb := &mockEmbedder{vector: []float64{0.1, 0.2, 0.3}}
	svc, err := New(gen, emb, "llava")
	require.NoError(t, err)

	vec, err := svc.EmbedImage(context.Background(), writeTestImage(t))
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, vec)
	// The embedded text must be the generated caption, not the prompt.
	assert.Equal(t, "赤い色のベタ塗り画像。", emb.lastText)
}

func TestEmbedImage_GenerationFails(t *testing.T) {
	gen := &mockGenerator{chatErr: errors.New("model exploded")}
	svc, err := New(gen, &mockEmbedder{}, "llava")
	require.NoError(t, err)

	_, err = svc.EmbedImage(context.Background(), writeTestImage(t))
	assert.Error(t, err)
}

func TestVerifyModel(t *testing.T) {
	tests := []struct {
		name    string
		model   string
		models  []string
		listErr error
		wantErr bool
	}{
		{"exact match", "llava:13b", []string{"llava:13b", "nomic-embed-text:latest"}, nil, false},
		{"base name match", "llava", []string{"llava:13b"}, nil, false},
		{"tagged wanted, base installed", "llava:13b", []string{"llava:latest"}, nil, false},
		{"missing", "llava", []string{"gemma3:latest"}, nil, true},
		{"backend down", "llava", nil, errors.New("connection refused"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &mockGenerator{models: tt.models, listErr: tt.listErr}
			svc, err := New(gen, &mockEmbedder{}, tt.model)
			require.NoError(t, err)

			err = svc.VerifyModel(context.Background())
			if tt.wantErr {
				assert.ErrorIs(t, err, domain.ErrVisionModelMissing)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
