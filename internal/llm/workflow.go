package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// NotFoundAnswer 没有找到相关信息时的固定回答
const NotFoundAnswer = "I'm sorry, I couldn't find the information you're looking for."

// NoRelevantMarker 检索阶段判定没有相关内容时输出的标记
const NoRelevantMarker = "NO_RELEVANT_INFORMATION"

// PassageSeparator 拼接检索片段时使用的分隔符
const PassageSeparator = "\n___\n"

// 阶段名称
const (
	StageRetrieve   = "retrieve"
	StageSynthesize = "synthesize"
)

// Stage 工作流中的一个生成阶段
// 文本中的{query}会被替换为用户问题
type Stage struct {
	Name           string
	Role           string
	Goal           string
	Backstory      string
	Task           string
	ExpectedOutput string
}

// RetrieverStage 检索阶段：从候选片段中挑选并摘录与问题相关的信息
func RetrieverStage() Stage {
	return Stage{
		Name: StageRetrieve,
		Role: "Retrieve the relevant information from the document or text",
		Goal: "Retrieve the most relevant information from the provided document passages " +
			"for the user query: {query}.",
		Backstory: "You're a meticulous analyst with a keen eye for detail. " +
			"You're known for your ability to understand user queries: {query} " +
			"and retrieve knowledge from the most suitable knowledge base.",
		Task: "Retrieve the most relevant information from the available " +
			"sources for the user query: {query}",
		ExpectedOutput: "The most relevant information in the form of text as retrieved " +
			"from the sources. Quote the passages verbatim where possible. " +
			"If none of the passages is relevant to the query, reply with exactly: " + NoRelevantMarker,
	}
}

// ResponderStage 综合阶段：把检索结果整理为最终回答
func ResponderStage() Stage {
	return Stage{
		Name: StageSynthesize,
		Role: "Response synthesizer agent for the user query: {query}",
		Goal: "Synthesize the retrieved information into a concise and coherent response " +
			"based on the user query: {query}. If you are not able to retrieve the " +
			"information then respond with \"" + NotFoundAnswer + "\"",
		Backstory: "You're a skilled communicator with a knack for turning " +
			"complex information into clear and concise responses.",
		Task: "Synthesize the final response for the user query: {query}",
		ExpectedOutput: "A concise and coherent response based on the retrieved information " +
			"from the right source for the user query: {query}. If you are not " +
			"able to retrieve the information, then respond with: \"" + NotFoundAnswer + "\"",
	}
}

// SystemPrompt 生成阶段的系统提示词
func (s Stage) SystemPrompt(query string) string {
	var sb strings.Builder
	sb.WriteString("You are: " + s.Role + "\n")
	sb.WriteString("Your goal: " + s.Goal + "\n")
	sb.WriteString(s.Backstory + "\n")
	sb.WriteString("Only use the information given to you. Never invent facts.")
	return strings.ReplaceAll(sb.String(), "{query}", query)
}

// UserPrompt 生成阶段的用户提示词
func (s Stage) UserPrompt(query, contextLabel, contextText string) string {
	var sb strings.Builder
	sb.WriteString("Task: " + s.Task + "\n\n")
	sb.WriteString(contextLabel + ":\n")
	sb.WriteString(contextText + "\n\n")
	sb.WriteString("Expected output: " + s.ExpectedOutput)
	return strings.ReplaceAll(sb.String(), "{query}", query)
}

// StageError 工作流阶段失败
type StageError struct {
	Stage string
	Err   error
}

// Error 实现error接口
func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

// Unwrap 返回底层错误
func (e *StageError) Unwrap() error {
	return e.Err
}

// WorkflowResult 工作流输出
type WorkflowResult struct {
	Answer   string // 最终回答
	Found    bool   // 是否找到相关信息
	Findings string // 检索阶段输出
	Tokens   int    // 两个阶段消耗的token总数
}

// Workflow 两阶段生成工作流：先检索摘录，再综合回答
type Workflow struct {
	client      Client
	retriever   Stage
	responder   Stage
	temperature *float32
	logger      *logrus.Logger
}

// WorkflowOption 工作流配置选项
type WorkflowOption func(*Workflow)

// WithStages 替换默认的两个阶段定义
func WithStages(retriever, responder Stage) WorkflowOption {
	return func(w *Workflow) {
		w.retriever = retriever
		w.responder = responder
	}
}

// WithWorkflowTemperature 设置两个阶段的采样温度
func WithWorkflowTemperature(temp float32) WorkflowOption {
	return func(w *Workflow) {
		w.temperature = &temp
	}
}

// WithWorkflowLogger 设置日志记录器
func WithWorkflowLogger(logger *logrus.Logger) WorkflowOption {
	return func(w *Workflow) {
		w.logger = logger
	}
}

// NewWorkflow 创建工作流
func NewWorkflow(client Client, opts ...WorkflowOption) *Workflow {
	w := &Workflow{
		client:    client,
		retriever: RetrieverStage(),
		responder: ResponderStage(),
		logger:    logrus.New(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// FormatPassages 对检索片段编号并用分隔符拼接
func FormatPassages(passages []string) string {
	parts := make([]string, len(passages))
	for i, p := range passages {
		parts[i] = fmt.Sprintf("[%d] %s", i+1, p)
	}
	return strings.Join(parts, PassageSeparator)
}

// Run 依次执行检索和综合两个阶段
// 检索阶段输出无关标记时跳过综合阶段，直接返回固定回答
func (w *Workflow) Run(ctx context.Context, query string, passages []string) (*WorkflowResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, &StageError{Stage: StageRetrieve, Err: NewLLMError(ErrCodeEmptyPrompt, ErrMsgEmptyPrompt)}
	}
	if len(passages) == 0 {
		return &WorkflowResult{Answer: NotFoundAnswer}, nil
	}

	start := time.Now()
	findings, err := w.runStage(ctx, w.retriever, query, "Document passages", FormatPassages(passages))
	if err != nil {
		return nil, err
	}

	w.logger.WithFields(logrus.Fields{
		"stage":    StageRetrieve,
		"passages": len(passages),
		"elapsed":  time.Since(start).String(),
	}).Debug("Stage completed")

	result := &WorkflowResult{Findings: strings.TrimSpace(findings.Text), Tokens: findings.TokenCount}
	if isNotFound(result.Findings) {
		result.Answer = NotFoundAnswer
		return result, nil
	}

	answer, err := w.runStage(ctx, w.responder, query, "Retrieved information", result.Findings)
	if err != nil {
		return nil, err
	}
	result.Tokens += answer.TokenCount

	w.logger.WithFields(logrus.Fields{
		"stage":   StageSynthesize,
		"tokens":  result.Tokens,
		"elapsed": time.Since(start).String(),
	}).Debug("Stage completed")

	text := strings.TrimSpace(answer.Text)
	if isNotFound(text) {
		result.Answer = NotFoundAnswer
		return result, nil
	}

	result.Answer = text
	result.Found = true
	return result, nil
}

func (w *Workflow) runStage(ctx context.Context, stage Stage, query, label, contextText string) (*Response, error) {
	messages := []Message{
		{Role: RoleSystem, Content: stage.SystemPrompt(query)},
		{Role: RoleUser, Content: stage.UserPrompt(query, label, contextText)},
	}

	var opts []GenerateOption
	if w.temperature != nil {
		opts = append(opts, WithGenerateTemperature(*w.temperature))
	}

	resp, err := w.client.Chat(ctx, messages, opts...)
	if err != nil {
		return nil, &StageError{Stage: stage.Name, Err: err}
	}
	if resp == nil {
		return nil, &StageError{Stage: stage.Name, Err: NewLLMError(ErrCodeEmptyResponse, ErrMsgEmptyResponse)}
	}
	return resp, nil
}

// isNotFound 判断阶段输出是否表示没有找到信息
func isNotFound(text string) bool {
	return text == "" || strings.Contains(text, NoRelevantMarker) || strings.Contains(text, NotFoundAnswer)
}
