package llm_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fyerfyer/doc-rag-assistant/internal/llm"
	"github.com/fyerfyer/doc-rag-assistant/internal/llm/llmtest"
)

func chatReply(text string) *llm.Response {
	return &llm.Response{Text: text, TokenCount: 7, ModelName: "mock-model"}
}

// stageIs 匹配系统提示词中的阶段角色
func stageIs(role string) interface{} {
	return mock.MatchedBy(func(messages []llm.Message) bool {
		return len(messages) == 2 && strings.Contains(messages[0].Content, role)
	})
}

func TestWorkflowAnswers(t *testing.T) {
	client := llmtest.NewMockClient(t)
	query := "What is the capital of France?"

	client.On("Chat", mock.Anything, mock.MatchedBy(func(messages []llm.Message) bool {
		return len(messages) == 2 &&
			strings.Contains(messages[0].Content, llm.RetrieverStage().Role) &&
			strings.Contains(messages[0].Content, query) &&
			strings.Contains(messages[1].Content, "[1] Paris is the capital of France.") &&
			strings.Contains(messages[1].Content, llm.PassageSeparator+"[2] Berlin")
	})).Return(chatReply("Paris is the capital of France."), nil).Once()

	client.On("Chat", mock.Anything, mock.MatchedBy(func(messages []llm.Message) bool {
		return strings.Contains(messages[0].Content, "Response synthesizer agent for the user query: "+query) &&
			strings.Contains(messages[1].Content, "Retrieved information:\nParis is the capital of France.")
	})).Return(chatReply("The capital of France is Paris."), nil).Once()

	result, err := llm.NewWorkflow(client).Run(context.Background(), query,
		[]string{"Paris is the capital of France.", "Berlin is the capital of Germany."})
	require.NoError(t, err)

	assert.True(t, result.Found)
	assert.Equal(t, "The capital of France is Paris.", result.Answer)
	assert.Equal(t, "Paris is the capital of France.", result.Findings)
	assert.Equal(t, 14, result.Tokens)
}

func TestWorkflowMarkerSkipsSynthesis(t *testing.T) {
	client := llmtest.NewMockClient(t)
	client.On("Chat", mock.Anything, stageIs(llm.RetrieverStage().Role)).
		Return(chatReply("  "+llm.NoRelevantMarker+"\n"), nil).Once()

	result, err := llm.NewWorkflow(client).Run(context.Background(), "average rainfall?", []string{"unrelated text"})
	require.NoError(t, err)
	assert.False(t, result.Found)
	assert.Equal(t, llm.NotFoundAnswer, result.Answer)
	client.AssertNumberOfCalls(t, "Chat", 1)
}

func TestWorkflowResponderNotFound(t *testing.T) {
	client := llmtest.NewMockClient(t)
	client.On("Chat", mock.Anything, stageIs(llm.RetrieverStage().Role)).Return(chatReply("something vague"), nil).Once()
	client.On("Chat", mock.Anything, stageIs("Response synthesizer")).Return(chatReply(""), nil).Once()

	result, err := llm.NewWorkflow(client).Run(context.Background(), "question", []string{"passage"})
	require.NoError(t, err)
	assert.False(t, result.Found)
	assert.Equal(t, llm.NotFoundAnswer, result.Answer)
}

func TestWorkflowNoPassages(t *testing.T) {
	client := llmtest.NewMockClient(t)
	result, err := llm.NewWorkflow(client).Run(context.Background(), "question", nil)
	require.NoError(t, err)
	assert.Equal(t, llm.NotFoundAnswer, result.Answer)
	client.AssertNotCalled(t, "Chat", mock.Anything, mock.Anything)
}

func TestWorkflowStageErrors(t *testing.T) {
	client := llmtest.NewMockClient(t)
	boom := llm.NewLLMError(llm.ErrCodeServerError, llm.ErrMsgServerError)
	client.On("Chat", mock.Anything, stageIs(llm.RetrieverStage().Role)).Return(chatReply("facts"), nil).Once()
	client.On("Chat", mock.Anything, stageIs("Response synthesizer")).Return(nil, boom).Once()

	_, err := llm.NewWorkflow(client).Run(context.Background(), "question", []string{"passage"})
	var stageErr *llm.StageError
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, llm.StageSynthesize, stageErr.Stage)
	assert.ErrorIs(t, err, boom)

	_, err = llm.NewWorkflow(client).Run(context.Background(), " ", []string{"passage"})
	require.True(t, errors.As(err, &stageErr))
	assert.Equal(t, llm.StageRetrieve, stageErr.Stage)
}

func TestStagePrompts(t *testing.T) {
	stage := llm.ResponderStage()
	system := stage.SystemPrompt("Q?")
	assert.NotContains(t, system, "{query}")
	assert.Contains(t, system, llm.NotFoundAnswer)

	user := stage.UserPrompt("Q?", "Retrieved information", "facts")
	assert.Contains(t, user, "Synthesize the final response for the user query: Q?")
	assert.Contains(t, user, "Retrieved information:\nfacts")

	assert.Equal(t, "[1] a\n___\n[2] b", llm.FormatPassages([]string{"a", "b"}))
}
