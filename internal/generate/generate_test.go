package generate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/config"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/pkg/anthropic"
	"github.com/sells-group/outreach-cli/pkg/openrouter"
)

var fb = Fallbacks{FirstName: "there", CompanyName: "your company"}

func TestRender(t *testing.T) {
	tests := []struct {
		name string
		tmpl string
		lead model.Lead
		want string
	}{
		{
			name: "basic substitution",
			tmpl: "Hi {{firstName}} from {{companyName}}",
			lead: model.Lead{FirstName: "Ana", CompanyName: "Acme"},
			want: "Hi Ana from Acme",
		},
		{
			name: "case insensitive",
			tmpl: "Hi {{FIRSTNAME}} {{LastName}} at {{companyname}}",
			lead: model.Lead{FirstName: "Ana", LastName: "Silva", CompanyName: "Acme"},
			want: "Hi Ana Silva at Acme",
		},
		{
			name: "missing names fall back",
			tmpl: "Hi {{firstName}} from {{companyName}}",
			lead: model.Lead{FirstName: "  "},
			want: "Hi there from your company",
		},
		{
			name: "other tokens become empty",
			tmpl: "[{{lastName}}][{{website}}][{{linkedin}}]",
			lead: model.Lead{},
			want: "[][][]",
		},
		{
			name: "every occurrence and literal dollars",
			tmpl: "{{firstName}}, {{firstName}}! {{website}}",
			lead: model.Lead{FirstName: "$1 Ana", Website: "acme.com"},
			want: "$1 Ana, $1 Ana! acme.com",
		},
		{
			name: "unknown tokens stay",
			tmpl: "{{title}} {{ firstName }}",
			lead: model.Lead{FirstName: "Ana"},
			want: "{{title}} {{ firstName }}",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Render(tt.tmpl, tt.lead, fb))
		})
	}
}

func TestBuildUserMessage(t *testing.T) {
	msg := BuildUserMessage("Hi Ana", model.Lead{FirstName: "Ana", LastName: "Silva", CompanyName: "Acme"}, " Acme forges anvils. ")
	assert.Contains(t, msg, "\"\"\"\nAcme forges anvils.\n\"\"\"")
	assert.Contains(t, msg, "Name: Ana Silva\n")
	assert.Contains(t, msg, "Company: Acme\n")
	assert.True(t, strings.HasSuffix(msg, "USER PROMPT:\nHi Ana"))
}

type fakeCompleter struct {
	mu    sync.Mutex
	reqs  []Completion
	texts []string
	errs  []error
}

func (f *fakeCompleter) Complete(_ context.Context, c Completion) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.reqs)
	f.reqs = append(f.reqs, c)
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	text := ""
	if i < len(f.texts) {
		text = f.texts[i]
	}
	return text, err
}

func testService(or, direct Completer) *Service {
	cfg := config.GenerationConfig{
		DefaultModel:        model.DefaultModelID,
		FallbackFirstName:   "there",
		FallbackCompanyName: "your company",
		MaxTokens:           256,
	}
	router := NewRouter(or).WithDirect(model.ProviderAnthropic, direct)
	return New(cfg, router, resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond})
}

func TestGenerate_SendsRenderedPrompt(t *testing.T) {
	or := &fakeCompleter{texts: []string{"Loved the anvil launch."}}
	s := testService(or, nil)

	res := s.Generate(context.Background(), Input{
		Prompt:  "Hi {{firstName}} from {{companyName}}",
		Lead:    model.Lead{ID: "l1", FirstName: "Ana", CompanyName: "Acme"},
		Summary: "Acme forges anvils.",
	})
	require.True(t, res.OK, res.Reason)
	assert.Equal(t, "Loved the anvil launch.", res.Text)
	assert.Equal(t, model.DefaultModelID, res.Model)

	require.Len(t, or.reqs, 1)
	assert.Equal(t, SystemInstruction, or.reqs[0].System)
	assert.Contains(t, or.reqs[0].User, "USER PROMPT:\nHi Ana from Acme")
	assert.Contains(t, or.reqs[0].User, "Acme forges anvils.")
	assert.Equal(t, 256, or.reqs[0].MaxTokens)
}

func TestGenerate_NullFirstNameUsesFallback(t *testing.T) {
	or := &fakeCompleter{texts: []string{"ok"}}
	testService(or, nil).Generate(context.Background(), Input{
		Prompt: "Hi {{firstName}} from {{companyName}}",
		Lead:   model.Lead{CompanyName: "Acme"},
	})
	require.Len(t, or.reqs, 1)
	assert.Contains(t, or.reqs[0].User, "Hi there from Acme")
	assert.NotContains(t, or.reqs[0].User, "{{firstName}}")
}

func TestGenerate_UnknownModel(t *testing.T) {
	or := &fakeCompleter{}
	res := testService(or, nil).Generate(context.Background(), Input{ModelID: "acme/gpt-0"})
	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, "unknown generation model")
	assert.Empty(t, or.reqs)
}

func TestGenerate_RetriesTransientThenFails(t *testing.T) {
	transient := resilience.NewTransientError(errors.New("openrouter: unexpected status 503"), 503)
	or := &fakeCompleter{errs: []error{transient, transient}}

	res := testService(or, nil).Generate(context.Background(), Input{Prompt: "x"})
	assert.False(t, res.OK)
	assert.Contains(t, res.Reason, "503")
	assert.Len(t, or.reqs, 2)
}

func TestGenerate_KeepsTextVerbatim(t *testing.T) {
	or := &fakeCompleter{texts: []string{"  Loved the anvil launch.\n"}}
	res := testService(or, nil).Generate(context.Background(), Input{Prompt: "x"})
	require.True(t, res.OK, res.Reason)
	assert.Equal(t, "  Loved the anvil launch.\n", res.Text)
}

func TestGenerate_EmptyTextFails(t *testing.T) {
	or := &fakeCompleter{texts: []string{"   "}}
	res := testService(or, nil).Generate(context.Background(), Input{Prompt: "x"})
	assert.False(t, res.OK)
	assert.Equal(t, "empty generation", res.Reason)
}

func TestGenerate_RoutesClaudeDirect(t *testing.T) {
	or := &fakeCompleter{texts: []string{"via openrouter"}}
	direct := &fakeCompleter{texts: []string{"via anthropic"}}

	res := testService(or, direct).Generate(context.Background(), Input{ModelID: "anthropic/claude-sonnet-4.5", Prompt: "x"})
	require.True(t, res.OK)
	assert.Equal(t, "via anthropic", res.Text)
	assert.Empty(t, or.reqs)

	// Without a direct completer the same model goes through OpenRouter.
	res = testService(or, nil).Generate(context.Background(), Input{ModelID: "anthropic/claude-sonnet-4.5", Prompt: "x"})
	require.True(t, res.OK)
	assert.Equal(t, "via openrouter", res.Text)
}

type mockOpenRouter struct {
	mock.Mock
}

func (m *mockOpenRouter) ChatCompletion(ctx context.Context, req openrouter.ChatCompletionRequest) (*openrouter.ChatCompletionResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*openrouter.ChatCompletionResponse), args.Error(1)
}

type mockAnthropic struct {
	mock.Mock
}

func (m *mockAnthropic) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*anthropic.MessageResponse), args.Error(1)
}

func TestOpenRouterCompleter(t *testing.T) {
	client := &mockOpenRouter{}
	client.On("ChatCompletion", mock.Anything, mock.MatchedBy(func(req openrouter.ChatCompletionRequest) bool {
		return req.Model == "openai/gpt-4.1-mini" &&
			len(req.Messages) == 2 &&
			req.Messages[0].Role == "system" &&
			req.MaxTokens != nil && *req.MaxTokens == 128
	})).Return(&openrouter.ChatCompletionResponse{
		Choices: []openrouter.Choice{{Message: openrouter.Message{Role: "assistant", Content: "hello"}}},
	}, nil)

	m, err := model.LookupModel("openai/gpt-4.1-mini")
	require.NoError(t, err)
	text, err := NewOpenRouterCompleter(client).Complete(context.Background(), Completion{Model: m, System: "s", User: "u", MaxTokens: 128})
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	client.AssertExpectations(t)
}

func TestAnthropicCompleter(t *testing.T) {
	client := &mockAnthropic{}
	client.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.Model == "claude-sonnet-4-5-20250929" && req.System == "s" && req.MaxTokens == 512
	})).Return(&anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: "hello "}, {Type: "text", Text: "Ana"}},
	}, nil)

	m, err := model.LookupModel("anthropic/claude-sonnet-4.5")
	require.NoError(t, err)
	text, err := NewAnthropicCompleter(client).Complete(context.Background(), Completion{Model: m, System: "s", User: "u"})
	require.NoError(t, err)
	assert.Equal(t, "hello Ana", text)

	_, err = NewAnthropicCompleter(client).Complete(context.Background(), Completion{Model: model.GenerationModel{ID: "x"}})
	require.Error(t, err)
}
