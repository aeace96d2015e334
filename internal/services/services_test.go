package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fyerfyer/doc-rag-assistant/internal/document"
	"github.com/fyerfyer/doc-rag-assistant/internal/embedding"
	"github.com/fyerfyer/doc-rag-assistant/internal/llm"
	"github.com/fyerfyer/doc-rag-assistant/internal/llm/llmtest"
	"github.com/fyerfyer/doc-rag-assistant/internal/vectordb"
)

const vocabDimensions = 512

// vocabEmbedder 每个词占用独立维度的词袋嵌入，不同词之间不会冲突
type vocabEmbedder struct {
	mu    sync.Mutex
	vocab map[string]int
}

func newVocabEmbedder() *vocabEmbedder {
	return &vocabEmbedder{vocab: make(map[string]int)}
}

func (e *vocabEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	vec := make([]float32, vocabDimensions)
	for _, token := range embedding.Tokenize(text) {
		idx, ok := e.vocab[token]
		if !ok {
			idx = len(e.vocab) % vocabDimensions
			e.vocab[token] = idx
		}
		vec[idx]++
	}
	// 全部是停用词时保持非零向量
	vec[vocabDimensions-1] += 0.001
	return vec, nil
}

func (e *vocabEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (e *vocabEmbedder) Name() string { return "vocab" }

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func buildPDF(t *testing.T, pages ...string) []byte {
	t.Helper()
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetFont("Arial", "", 12)
	for _, text := range pages {
		pdf.AddPage()
		pdf.MultiCell(0, 10, text, "", "", false)
	}

	var buf bytes.Buffer
	require.NoError(t, pdf.Output(&buf))
	return buf.Bytes()
}

func newIndex(t *testing.T) *vectordb.MemoryIndex {
	t.Helper()
	index, err := vectordb.NewMemoryIndex(newVocabEmbedder(), vectordb.DefaultConfig())
	require.NoError(t, err)
	return index
}

func newRetrieval(t *testing.T, index Index, config RetrievalConfig) *RetrievalService {
	t.Helper()
	svc, err := NewRetrievalService(index, config, WithLogger(quietLogger()))
	require.NoError(t, err)
	return svc
}

func franceDocument(t *testing.T) document.Document {
	return document.Document{
		Name: "geography.pdf",
		Data: buildPDF(t,
			"Paris is the capital of France.",
			"Berlin is the capital of Germany. The Rhine flows through it."),
	}
}

func TestPrepareAndSearch(t *testing.T) {
	svc := newRetrieval(t, newIndex(t), DefaultRetrievalConfig())

	session, err := svc.Prepare(context.Background(), franceDocument(t))
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, "geography.pdf", session.Document)
	assert.Equal(t, 1, session.Chunks)
	assert.Regexp(t, `^doc_[0-9a-f]{16}$`, session.CollectionID)

	results, err := svc.Search(context.Background(), session, "What is the capital of France?")
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Contains(t, results[0], "Paris")
}

func TestPrepareSmallChunks(t *testing.T) {
	config := RetrievalConfig{
		Splitter: document.SplitterConfig{MaxSize: 10, Overlap: 2, Separators: document.DefaultSeparators},
		TopK:     2,
	}
	svc := newRetrieval(t, newIndex(t), config)

	session, err := svc.Prepare(context.Background(), document.Document{
		Name: "colors.txt",
		Data: []byte("The sky is blue. Grass is green."),
	})
	require.NoError(t, err)
	assert.Equal(t, 5, session.Chunks)

	hits, err := svc.SearchHits(context.Background(), session, "grass green", 0)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
	assert.Equal(t, "colors.txt", hits[0].Metadata[MetadataSource])
	assert.NotEmpty(t, hits[0].Metadata[MetadataChunk])
}

func TestPrepareTwiceIsDeterministic(t *testing.T) {
	svc := newRetrieval(t, newIndex(t), DefaultRetrievalConfig())
	doc := document.Document{
		Name: "notes.md",
		Data: []byte("# Notes\n\nGo has goroutines.\n\nChannels connect goroutines.\n\nMaps are hash tables."),
	}
	query := "How do goroutines communicate?"

	first, err := svc.Prepare(context.Background(), doc)
	require.NoError(t, err)
	firstResults, err := svc.Search(context.Background(), first, query)
	require.NoError(t, err)

	second, err := svc.Prepare(context.Background(), doc)
	require.NoError(t, err)
	secondResults, err := svc.Search(context.Background(), second, query)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.CollectionID, second.CollectionID)
	assert.Equal(t, firstResults, secondResults)
}

func TestPrepareFailures(t *testing.T) {
	svc := newRetrieval(t, newIndex(t), DefaultRetrievalConfig())

	t.Run("corrupt pdf", func(t *testing.T) {
		_, err := svc.Prepare(context.Background(), document.Document{
			Name: "broken.pdf",
			Data: []byte("%PDF-1.4\nthis is not really a pdf"),
		})

		var ingestErr *IngestionError
		require.True(t, errors.As(err, &ingestErr))
		assert.Equal(t, StageExtract, ingestErr.Stage)
		assert.Equal(t, "broken.pdf", ingestErr.Document)

		var extractErr *document.ExtractionError
		assert.True(t, errors.As(err, &extractErr))
		assert.ErrorIs(t, err, document.ErrExtraction)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := svc.Prepare(context.Background(), document.Document{Path: "/nonexistent/file.pdf"})
		assert.ErrorIs(t, err, document.ErrExtraction)
	})

	t.Run("unsupported format", func(t *testing.T) {
		_, err := svc.Prepare(context.Background(), document.Document{Name: "image.png", Data: []byte{0x89, 'P', 'N', 'G'}})
		assert.ErrorIs(t, err, document.ErrUnsupportedFormat)
	})

	t.Run("index failure", func(t *testing.T) {
		failing := &failingIndex{Index: newIndex(t), err: errors.New("embedding backend down")}
		svc := newRetrieval(t, failing, DefaultRetrievalConfig())

		_, err := svc.Prepare(context.Background(), document.Document{Name: "a.txt", Data: []byte("some text")})
		var ingestErr *IngestionError
		require.True(t, errors.As(err, &ingestErr))
		assert.Equal(t, StageIndex, ingestErr.Stage)
		assert.Equal(t, 0, svc.SessionCount())
	})
}

// failingIndex 构建总是失败的索引
type failingIndex struct {
	Index
	err error
}

func (f *failingIndex) Build(ctx context.Context, collectionID string, entries []vectordb.Entry) error {
	return f.err
}

func TestSearchErrors(t *testing.T) {
	svc := newRetrieval(t, newIndex(t), DefaultRetrievalConfig())
	session, err := svc.Prepare(context.Background(), document.Document{Name: "a.txt", Data: []byte("alpha beta gamma")})
	require.NoError(t, err)

	var searchErr *SearchError

	_, err = svc.Search(context.Background(), session, "   ")
	require.True(t, errors.As(err, &searchErr))
	assert.ErrorIs(t, err, vectordb.ErrEmptyQuery)

	_, err = svc.Search(context.Background(), nil, "alpha")
	assert.ErrorIs(t, err, ErrSessionNotPrepared)

	_, err = svc.Search(context.Background(), &Session{ID: "unknown", CollectionID: "doc_missing"}, "alpha")
	require.True(t, errors.As(err, &searchErr))
	assert.Equal(t, "unknown", searchErr.SessionID)
	assert.ErrorIs(t, err, ErrSessionNotPrepared)
}

func TestReleaseDropsUnreferencedCollection(t *testing.T) {
	index := newIndex(t)
	svc := newRetrieval(t, index, DefaultRetrievalConfig())
	doc := document.Document{Name: "a.txt", Data: []byte("alpha beta gamma")}

	first, err := svc.Prepare(context.Background(), doc)
	require.NoError(t, err)
	second, err := svc.Prepare(context.Background(), doc)
	require.NoError(t, err)

	assert.True(t, svc.Release(first))
	assert.False(t, svc.Release(first))

	// 另一个会话仍然引用同一集合
	_, err = index.Count(second.CollectionID)
	require.NoError(t, err)
	_, err = svc.Search(context.Background(), first, "alpha")
	assert.ErrorIs(t, err, ErrSessionNotPrepared)

	assert.True(t, svc.Release(second))
	_, err = index.Count(second.CollectionID)
	assert.ErrorIs(t, err, vectordb.ErrCollectionNotFound)
	assert.Equal(t, 0, svc.SessionCount())
}

func TestIdleSessionExpires(t *testing.T) {
	index := newIndex(t)
	config := DefaultRetrievalConfig()
	config.SessionTTL = 50 * time.Millisecond
	config.CleanupInterval = 10 * time.Millisecond
	svc := newRetrieval(t, index, config)

	session, err := svc.Prepare(context.Background(), document.Document{Name: "a.txt", Data: []byte("alpha beta gamma")})
	require.NoError(t, err)

	// 清理协程释放会话后集合随之删除
	require.Eventually(t, func() bool {
		_, err := index.Count(session.CollectionID)
		return errors.Is(err, vectordb.ErrCollectionNotFound)
	}, 2*time.Second, 10*time.Millisecond)

	_, ok := svc.Session(session.ID)
	assert.False(t, ok)
	_, err = svc.Search(context.Background(), session, "alpha")
	assert.ErrorIs(t, err, ErrSessionNotPrepared)
	assert.False(t, svc.Release(session))
	assert.Equal(t, 0, svc.SessionCount())
}

func TestSearchKeepsSessionAlive(t *testing.T) {
	index := newIndex(t)
	config := DefaultRetrievalConfig()
	config.SessionTTL = 300 * time.Millisecond
	config.CleanupInterval = 10 * time.Millisecond
	svc := newRetrieval(t, index, config)

	session, err := svc.Prepare(context.Background(), document.Document{Name: "a.txt", Data: []byte("alpha beta gamma")})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		time.Sleep(100 * time.Millisecond)
		_, err := svc.Search(context.Background(), session, "alpha")
		require.NoError(t, err, "search %d", i)
	}

	_, ok := svc.Session(session.ID)
	assert.True(t, ok)
	_, err = index.Count(session.CollectionID)
	assert.NoError(t, err)
}

func TestSessionWithoutExpiry(t *testing.T) {
	config := DefaultRetrievalConfig()
	config.SessionTTL = 0
	svc := newRetrieval(t, newIndex(t), config)

	session, err := svc.Prepare(context.Background(), document.Document{Name: "a.txt", Data: []byte("alpha beta gamma")})
	require.NoError(t, err)
	_, ok := svc.Session(session.ID)
	assert.True(t, ok)

	config.SessionTTL = -time.Second
	_, err = NewRetrievalService(newIndex(t), config)
	assert.Error(t, err)
}

func newAnswerService(t *testing.T, client llm.Client) (*RetrievalService, *AnswerService) {
	t.Helper()
	retrieval := newRetrieval(t, newIndex(t), DefaultRetrievalConfig())
	workflow := llm.NewWorkflow(client, llm.WithWorkflowLogger(quietLogger()))
	answer, err := NewAnswerService(retrieval, workflow, WithAnswerLogger(quietLogger()))
	require.NoError(t, err)
	return retrieval, answer
}

func TestAnswerFound(t *testing.T) {
	client := llmtest.NewMockClient(t)
	retrieval, svc := newAnswerService(t, client)

	session, err := retrieval.Prepare(context.Background(), document.Document{
		Name: "france.txt",
		Data: []byte("Paris is the capital of France."),
	})
	require.NoError(t, err)

	client.On("Chat", mock.Anything, mock.MatchedBy(func(messages []llm.Message) bool {
		return len(messages) == 2 && bytes.Contains([]byte(messages[1].Content), []byte("Paris is the capital of France."))
	})).Return(&llm.Response{Text: "Paris is the capital of France.", TokenCount: 3}, nil).Once()
	client.On("Chat", mock.Anything, mock.Anything).
		Return(&llm.Response{Text: "The capital of France is Paris.", TokenCount: 4}, nil).Once()

	result, err := svc.AnswerDetail(context.Background(), session, "What is the capital of France?")
	require.NoError(t, err)
	assert.True(t, result.Found)
	assert.NotEqual(t, llm.NotFoundAnswer, result.Answer)
	assert.Contains(t, result.Answer, "Paris")
	assert.Len(t, result.Passages, 1)
	assert.Equal(t, 7, result.Tokens)
}

func TestAnswerNotFound(t *testing.T) {
	client := llmtest.NewMockClient(t)
	retrieval, svc := newAnswerService(t, client)

	session, err := retrieval.Prepare(context.Background(), franceDocument(t))
	require.NoError(t, err)

	answer, err := svc.Answer(context.Background(), session, "What is the average rainfall in the Amazon?")
	require.NoError(t, err)
	assert.Equal(t, llm.NotFoundAnswer, answer)
	client.AssertNotCalled(t, "Chat", mock.Anything, mock.Anything)
}

func TestAnswerMarkerReturnsSentinel(t *testing.T) {
	client := llmtest.NewMockClient(t)
	retrieval, svc := newAnswerService(t, client)

	session, err := retrieval.Prepare(context.Background(), document.Document{
		Name: "france.txt",
		Data: []byte("Paris is the capital of France. France borders Spain."),
	})
	require.NoError(t, err)

	client.On("Chat", mock.Anything, mock.Anything).
		Return(&llm.Response{Text: llm.NoRelevantMarker}, nil).Once()

	answer, err := svc.Answer(context.Background(), session, "What currency does France use?")
	require.NoError(t, err)
	assert.Equal(t, llm.NotFoundAnswer, answer)
}

func TestAnswerErrors(t *testing.T) {
	client := llmtest.NewMockClient(t)
	retrieval, svc := newAnswerService(t, client)

	session, err := retrieval.Prepare(context.Background(), document.Document{
		Name: "france.txt",
		Data: []byte("Paris is the capital of France."),
	})
	require.NoError(t, err)

	var answerErr *AnswerError

	_, err = svc.Answer(context.Background(), session, "")
	require.True(t, errors.As(err, &answerErr))
	assert.Equal(t, llm.StageRetrieve, answerErr.Stage)
	assert.ErrorIs(t, err, vectordb.ErrEmptyQuery)

	boom := llm.NewLLMError(llm.ErrCodeServerError, llm.ErrMsgServerError)
	client.On("Chat", mock.Anything, mock.Anything).Return(&llm.Response{Text: "Paris."}, nil).Once()
	client.On("Chat", mock.Anything, mock.Anything).Return(nil, boom).Once()

	_, err = svc.Answer(context.Background(), session, "capital of France?")
	require.True(t, errors.As(err, &answerErr))
	assert.Equal(t, llm.StageSynthesize, answerErr.Stage)
	assert.ErrorIs(t, err, boom)
}
