package provider

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yabot-dev/yabot/pkg/types"
)

type chatRecord struct {
	mu    sync.Mutex
	input []*schema.Message
	tools []*schema.ToolInfo
	model string
}

type fakeChatModel struct {
	rec   *chatRecord
	tools []*schema.ToolInfo
	out   *schema.Message
	err   error
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	f.rec.mu.Lock()
	defer f.rec.mu.Unlock()
	f.rec.input = input
	f.rec.tools = f.tools
	if o := model.GetCommonOptions(nil, opts...); o.Model != nil {
		f.rec.model = *o.Model
	}
	return f.out, f.err
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming not supported")
}

func (f *fakeChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return &fakeChatModel{rec: f.rec, tools: tools, out: f.out, err: f.err}, nil
}

type fakeProvider struct {
	id     string
	models []types.ModelInfo
	chat   *fakeChatModel
}

func (p *fakeProvider) ID() string                            { return p.id }
func (p *fakeProvider) Name() string                          { return p.id }
func (p *fakeProvider) Models() []types.ModelInfo             { return p.models }
func (p *fakeProvider) ChatModel() model.ToolCallingChatModel { return p.chat }

func newFakeProvider(id string, out *schema.Message, err error) (*fakeProvider, *chatRecord) {
	rec := &chatRecord{}
	return &fakeProvider{
		id:     id,
		models: []types.ModelInfo{{ID: id + "-model", Provider: id, ContextLength: 1000}},
		chat:   &fakeChatModel{rec: rec, out: out, err: err},
	}, rec
}

func TestToEinoMessages(t *testing.T) {
	history := []types.Message{
		{Role: types.RoleUser, Content: "list files"},
		{Role: types.RoleAssistant, ToolCalls: []types.ToolCall{{ID: "c1", Name: "list_dir", Arguments: `{"path":"."}`}}},
		{Role: types.RoleTool, ToolCallID: "c1", ToolName: "list_dir", Content: `{"entries":[]}`},
		{Role: types.RoleAssistant, Content: "empty"},
	}

	msgs := ToEinoMessages("be brief", history)
	require.Len(t, msgs, 5)
	assert.Equal(t, schema.System, msgs[0].Role)
	assert.Equal(t, "be brief", msgs[0].Content)
	assert.Equal(t, schema.User, msgs[1].Role)
	require.Len(t, msgs[2].ToolCalls, 1)
	assert.Equal(t, "list_dir", msgs[2].ToolCalls[0].Function.Name)
	assert.Equal(t, `{"path":"."}`, msgs[2].ToolCalls[0].Function.Arguments)
	assert.Equal(t, schema.Tool, msgs[3].Role)
	assert.Equal(t, "c1", msgs[3].ToolCallID)
	assert.Equal(t, schema.Assistant, msgs[4].Role)

	assert.Len(t, ToEinoMessages("", history), 4, "no system message without a prompt")
}

func TestFromEinoMessage(t *testing.T) {
	reply := FromEinoMessage(&schema.Message{
		Role: schema.Assistant,
		ToolCalls: []schema.ToolCall{
			{ID: "x", Function: schema.FunctionCall{Name: "read_file", Arguments: `{"path":"a"}`}},
			{Function: schema.FunctionCall{Name: "list_dir", Arguments: `{}`}},
		},
		ResponseMeta: &schema.ResponseMeta{
			FinishReason: "tool_calls",
			Usage:        &schema.TokenUsage{PromptTokens: 10, CompletionTokens: 3},
		},
	})

	require.True(t, reply.HasToolCalls())
	assert.Equal(t, "x", reply.ToolCalls[0].ID)
	assert.NotEmpty(t, reply.ToolCalls[1].ID, "missing ids are generated")
	assert.Equal(t, "tool_calls", reply.FinishReason)
	assert.Equal(t, Usage{PromptTokens: 10, CompletionTokens: 3}, reply.Usage)

	assert.False(t, FromEinoMessage(nil).HasToolCalls())
}

func TestRegistry_ProviderFor(t *testing.T) {
	r := NewRegistry()
	p, _ := newFakeProvider("local", nil, nil)
	r.Register(p)

	tests := []struct {
		name, provider, model string
	}{
		{"anthropic/claude-x", "anthropic", "claude-x"},
		{"local-model", "local", "local-model"},
		{"claude-sonnet-4-20250514", "anthropic", "claude-sonnet-4-20250514"},
		{"claude-new", "anthropic", "claude-new"},
		{"gpt-4o-mini", "openai", "gpt-4o-mini"},
		{"mystery", "openai", "mystery"},
	}
	for _, tt := range tests {
		prov, model := r.ProviderFor(tt.name)
		assert.Equal(t, tt.provider, prov, tt.name)
		assert.Equal(t, tt.model, model, tt.name)
	}
}

func TestRegistry_Catalog(t *testing.T) {
	r := NewRegistry()
	catalog := r.Catalog([]string{"gpt-4o-mini", "anthropic/claude-sonnet-4-20250514", "unknown"}, "gpt-4o-mini")

	require.Len(t, catalog, 3)
	assert.Equal(t, types.ModelInfo{ID: "gpt-4o-mini", Name: "GPT-4o Mini", Provider: "openai", ContextLength: 128000, Default: true}, catalog[0])
	assert.Equal(t, "anthropic", catalog[1].Provider)
	assert.Equal(t, 200000, catalog[1].ContextLength)
	assert.False(t, catalog[1].Default)
	assert.Zero(t, catalog[2].ContextLength)
}

func TestRegistry_Send(t *testing.T) {
	p, rec := newFakeProvider("local", &schema.Message{Role: schema.Assistant, Content: "hello"}, nil)
	r := NewRegistry()
	r.Register(p)

	tools := []*schema.ToolInfo{{Name: "read_file", Desc: "read"}}
	reply, err := r.Send(context.Background(), Request{
		Model:   "local/big",
		System:  "sys",
		History: []types.Message{{Role: types.RoleUser, Content: "hi"}},
		Tools:   tools,
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", reply.Content)
	assert.Equal(t, "big", rec.model)
	assert.Equal(t, tools, rec.tools)
	assert.Len(t, rec.input, 2)
}

func TestRegistry_SendFailures(t *testing.T) {
	p, _ := newFakeProvider("local", nil, errors.New("503 from upstream"))
	r := NewRegistry()
	r.Register(p)

	_, err := r.Send(context.Background(), Request{Model: "local/x"})
	assert.ErrorIs(t, err, types.ErrModelUnavailable)
	assert.Contains(t, err.Error(), "503")

	_, err = r.Send(context.Background(), Request{Model: "nowhere/x"})
	assert.ErrorIs(t, err, types.ErrModelUnavailable)

	_, err = r.Send(context.Background(), Request{})
	assert.ErrorIs(t, err, types.ErrModelUnavailable)
}
