// Package llmtest 提供测试用的大模型客户端
package llmtest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/fyerfyer/doc-rag-assistant/internal/llm"
)

// MockClient 基于testify/mock的客户端模拟实现
type MockClient struct {
	mock.Mock
}

// NewMockClient 创建模拟客户端，测试结束时校验期望调用
func NewMockClient(t interface {
	mock.TestingT
	Cleanup(func())
}) *MockClient {
	m := &MockClient{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

// Generate 记录调用并返回预设结果
func (m *MockClient) Generate(ctx context.Context, prompt string, options ...llm.GenerateOption) (*llm.Response, error) {
	args := m.Called(ctx, prompt)
	return responseArg(args, 0), args.Error(1)
}

// Chat 记录调用并返回预设结果
func (m *MockClient) Chat(ctx context.Context, messages []llm.Message, options ...llm.GenerateOption) (*llm.Response, error) {
	args := m.Called(ctx, messages)
	return responseArg(args, 0), args.Error(1)
}

// Name 返回模型名称
func (m *MockClient) Name() string {
	return "mock-model"
}

func responseArg(args mock.Arguments, i int) *llm.Response {
	if v := args.Get(i); v != nil {
		return v.(*llm.Response)
	}
	return nil
}
