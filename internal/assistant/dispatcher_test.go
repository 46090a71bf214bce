package assistant_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/SergeiKhy/qrcode-manager/internal/assistant"
	"github.com/SergeiKhy/qrcode-manager/internal/models"
	"github.com/SergeiKhy/qrcode-manager/internal/service"
	"github.com/SergeiKhy/qrcode-manager/internal/service/mocks"
	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLLM имитирует OpenAI-совместимый /chat/completions
type fakeLLM struct {
	mu        sync.Mutex
	responses []func(w http.ResponseWriter)
	requests  []openai.ChatCompletionRequest
}

func (f *fakeLLM) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path != "/chat/completions" {
		http.NotFound(w, r)
		return
	}

	var req openai.ChatCompletionRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	f.requests = append(f.requests, req)

	if len(f.responses) == 0 {
		http.Error(w, "no more responses", http.StatusInternalServerError)
		return
	}
	next := f.responses[0]
	f.responses = f.responses[1:]
	next(w)
}

func (f *fakeLLM) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeLLM) lastRequest() openai.ChatCompletionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func completion(msg map[string]any) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-test",
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   "test",
			"choices": []any{map[string]any{"index": 0, "message": msg, "finish_reason": "stop"}},
		})
	}
}

func textReply(content string) func(w http.ResponseWriter) {
	return completion(map[string]any{"role": "assistant", "content": content})
}

func toolReply(name, args string) func(w http.ResponseWriter) {
	return completion(map[string]any{
		"role":    "assistant",
		"content": "",
		"tool_calls": []any{map[string]any{
			"id":       "call_1",
			"type":     "function",
			"function": map[string]any{"name": name, "arguments": args},
		}},
	})
}

func legacyReply(name, args string) func(w http.ResponseWriter) {
	return completion(map[string]any{
		"role":          "assistant",
		"content":       "",
		"function_call": map[string]any{"name": name, "arguments": args},
	})
}

func statusReply(status int) func(w http.ResponseWriter) {
	return func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, `{"error":{"message":"status %d","type":"test","code":"test"}}`, status)
	}
}

type fixture struct {
	dispatcher *assistant.Dispatcher
	llm        *fakeLLM
	server     *httptest.Server
	svc        service.QRCodeService
	repo       *mocks.MockQRCodeRepository
}

func setup(t *testing.T, responses ...func(w http.ResponseWriter)) *fixture {
	t.Helper()

	llm := &fakeLLM{responses: responses}
	server := httptest.NewServer(llm)
	t.Cleanup(server.Close)

	repo := mocks.NewMockQRCodeRepository()
	svc := service.NewQRCodeService(repo, &mocks.MockEncoder{}, service.Options{ImageDir: t.TempDir(), BaseURL: "https://qr.example.com"}, nil)

	d, err := assistant.NewDispatcher(assistant.Options{
		APIKey:   "test-key",
		BaseURL:  server.URL,
		Timeout:  5 * time.Second,
		Reprompt: true,
	}, svc, assistant.NewLocalLimiter(0), nil)
	require.NoError(t, err)

	return &fixture{dispatcher: d, llm: llm, server: server, svc: svc, repo: repo}
}

func TestDispatcher_EmptyMessage(t *testing.T) {
	f := setup(t)

	_, err := f.dispatcher.Process(context.Background(), "   ")
	assert.ErrorIs(t, err, assistant.ErrEmptyMessage)
	assert.Zero(t, f.llm.calls())
}

// TestDispatcher_NotConfigured проверяет, что без ключа запрос к LLM не выполняется
func TestDispatcher_NotConfigured(t *testing.T) {
	llm := &fakeLLM{responses: []func(http.ResponseWriter){textReply("hi")}}
	server := httptest.NewServer(llm)
	defer server.Close()

	d, err := assistant.NewDispatcher(assistant.Options{BaseURL: server.URL}, nil, nil, nil)
	require.NoError(t, err)
	assert.False(t, d.Configured())

	_, err = d.Process(context.Background(), "list all qr codes")
	assert.ErrorIs(t, err, assistant.ErrNotConfigured)
	assert.Zero(t, llm.calls())
}

// TestDispatcher_ListToolCall проверяет выполнение list_qr_codes
func TestDispatcher_ListToolCall(t *testing.T) {
	f := setup(t, toolReply(assistant.FuncList, "{}"), toolReply(assistant.FuncList, ""))
	ctx := context.Background()

	reply, err := f.dispatcher.Process(ctx, "list all qr codes")
	require.NoError(t, err)
	assert.True(t, reply.Success)
	assert.Equal(t, "No QR codes found.", reply.Response)
	require.NotNil(t, reply.FunctionCall)
	assert.Equal(t, assistant.FuncList, reply.FunctionCall.Name)

	req := f.llm.lastRequest()
	assert.Equal(t, assistant.DefaultModel, req.Model)
	assert.Len(t, req.Tools, 5)
	assert.Equal(t, "auto", req.ToolChoice)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, req.Messages[0].Role)
	assert.Equal(t, "list all qr codes", req.Messages[1].Content)

	qr, err := f.svc.Create(ctx, models.CreateQRCodeInput{URL: "https://example.com", Description: "Flyer"})
	require.NoError(t, err)

	reply, err = f.dispatcher.Process(ctx, "list all qr codes")
	require.NoError(t, err)
	assert.Contains(t, reply.Response, fmt.Sprintf("QR Code #%d", qr.ID))
	assert.Contains(t, reply.Response, "URL: https://example.com")
	assert.Contains(t, reply.Response, "Description: Flyer")
}

// TestDispatcher_CreateToolCall проверяет создание кода через legacy function_call
func TestDispatcher_CreateToolCall(t *testing.T) {
	f := setup(t, legacyReply(assistant.FuncCreate, `{"url":"https://example.com","is_dynamic":true,"description":"From chat"}`))

	reply, err := f.dispatcher.Process(context.Background(), "make a dynamic code for example.com")
	require.NoError(t, err)
	require.NotNil(t, reply.FunctionCall)
	assert.Equal(t, assistant.FuncCreate, reply.FunctionCall.Name)
	assert.Contains(t, reply.Response, "dynamic QR code #1")
	assert.Contains(t, reply.Response, "https://qr.example.com/r/")

	result, ok := reply.FunctionCall.Result.(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 1, result["qr_code_id"])
	assert.Len(t, result["short_code"], 8)

	codes, err := f.svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, codes, 1)
	assert.Equal(t, "From chat", codes[0].Description)
	assert.True(t, codes[0].IsDynamic)
}

func TestDispatcher_DeleteAndUpdate(t *testing.T) {
	f := setup(t,
		toolReply(assistant.FuncUpdate, `{"qr_id":"1","description":"renamed","redirect_url":"https://override.example.com"}`),
		toolReply(assistant.FuncDelete, `{"qr_id":1}`),
		toolReply(assistant.FuncDelete, `{"qr_id":1}`),
		toolReply(assistant.FuncUpdate, `{"qr_id":1,"description":"again"}`),
	)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, models.CreateQRCodeInput{URL: "https://example.com", IsDynamic: true})
	require.NoError(t, err)

	reply, err := f.dispatcher.Process(ctx, "rename code 1")
	require.NoError(t, err)
	assert.Contains(t, reply.Response, "Description: renamed")
	got, err := f.svc.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "https://override.example.com", got.DynamicTarget())

	reply, err = f.dispatcher.Process(ctx, "delete code 1")
	require.NoError(t, err)
	assert.Equal(t, "QR code 1 deleted.", reply.Response)

	// отсутствующий id: структурированный ответ, не ошибка
	reply, err = f.dispatcher.Process(ctx, "delete code 1")
	require.NoError(t, err)
	assert.Equal(t, "QR code 1 not found.", reply.Response)
	assert.Equal(t, map[string]any{"success": false, "message": "QR code 1 not found"}, reply.FunctionCall.Result)

	reply, err = f.dispatcher.Process(ctx, "update code 1")
	require.NoError(t, err)
	assert.Equal(t, "QR code 1 not found.", reply.Response)
}

func TestDispatcher_Search(t *testing.T) {
	f := setup(t,
		toolReply(assistant.FuncSearch, `{"description":"shop"}`),
		toolReply(assistant.FuncSearch, `{"url":"nothing-like-this"}`),
		toolReply(assistant.FuncSearch, `{"created_after":"yesterday"}`),
	)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, models.CreateQRCodeInput{URL: "https://shop.example.com", Description: "Shop window"})
	require.NoError(t, err)

	reply, err := f.dispatcher.Process(ctx, "find the shop code")
	require.NoError(t, err)
	assert.Contains(t, reply.Response, "Found 1 matching QR code(s)")

	reply, err = f.dispatcher.Process(ctx, "find something else")
	require.NoError(t, err)
	assert.Equal(t, "No QR codes matched your search.", reply.Response)

	_, err = f.dispatcher.Process(ctx, "find codes from yesterday")
	var vErr *assistant.ValidationError
	assert.ErrorAs(t, err, &vErr)
}

// TestDispatcher_FreeText проверяет, что текстовый ответ возвращается как есть
func TestDispatcher_FreeText(t *testing.T) {
	f := setup(t, textReply("Sure, I can create QR codes for you. Please delete nothing."))

	reply, err := f.dispatcher.Process(context.Background(), "what can you do?")
	require.NoError(t, err)
	assert.True(t, reply.Success)
	assert.Equal(t, "Sure, I can create QR codes for you. Please delete nothing.", reply.Response)
	assert.Nil(t, reply.FunctionCall)
	assert.Zero(t, f.repo.Count())
}

func TestDispatcher_ValidationError(t *testing.T) {
	f := setup(t, toolReply(assistant.FuncCreate, `{"url":"not_a_url"}`))

	_, err := f.dispatcher.Process(context.Background(), "create a code for not_a_url")
	var vErr *assistant.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.ErrorIs(t, err, service.ErrInvalidURL)
	assert.Zero(t, f.repo.Count())
}

// TestDispatcher_MalformedArgumentsReprompt проверяет одну повторную попытку
func TestDispatcher_MalformedArgumentsReprompt(t *testing.T) {
	f := setup(t,
		toolReply(assistant.FuncCreate, `{"url": "https://example.com"`),
		toolReply(assistant.FuncCreate, `{"url": "https://example.com"}`),
	)

	reply, err := f.dispatcher.Process(context.Background(), "create a code for example.com")
	require.NoError(t, err)
	assert.Equal(t, assistant.FuncCreate, reply.FunctionCall.Name)
	assert.Equal(t, 2, f.llm.calls())

	req := f.llm.lastRequest()
	require.Len(t, req.Messages, 4)
	assert.Equal(t, openai.ChatMessageRoleTool, req.Messages[3].Role)
	assert.Equal(t, "call_1", req.Messages[3].ToolCallID)
}

// TestDispatcher_RepromptKeepsAnsweredCallOnly: при нескольких tool_calls повтор содержит только первый вызов
func TestDispatcher_RepromptKeepsAnsweredCallOnly(t *testing.T) {
	f := setup(t,
		completion(map[string]any{
			"role":    "assistant",
			"content": "",
			"tool_calls": []any{
				map[string]any{"id": "call_1", "type": "function", "function": map[string]any{"name": assistant.FuncCreate, "arguments": `{"url": `}},
				map[string]any{"id": "call_2", "type": "function", "function": map[string]any{"name": assistant.FuncList, "arguments": `{}`}},
			},
		}),
		toolReply(assistant.FuncCreate, `{"url": "https://example.com"}`),
	)

	_, err := f.dispatcher.Process(context.Background(), "create a code for example.com")
	require.NoError(t, err)

	req := f.llm.lastRequest()
	require.Len(t, req.Messages, 4)
	replayed := req.Messages[2]
	assert.Equal(t, openai.ChatMessageRoleAssistant, replayed.Role)
	require.Len(t, replayed.ToolCalls, 1)
	assert.Equal(t, "call_1", replayed.ToolCalls[0].ID)
	assert.Equal(t, "call_1", req.Messages[3].ToolCallID)
}

func TestDispatcher_MalformedArgumentsTwice(t *testing.T) {
	f := setup(t,
		toolReply(assistant.FuncDelete, `{qr_id: 1}`),
		toolReply(assistant.FuncDelete, `{qr_id: 1}`),
		toolReply(assistant.FuncDelete, `{"qr_id": 1}`),
	)

	_, err := f.dispatcher.Process(context.Background(), "delete code 1")
	var vErr *assistant.ValidationError
	assert.ErrorAs(t, err, &vErr)
	assert.Equal(t, 2, f.llm.calls())
}

func TestDispatcher_UnknownFunction(t *testing.T) {
	f := setup(t, toolReply("format_disk", "{}"))

	_, err := f.dispatcher.Process(context.Background(), "do something odd")
	assert.ErrorIs(t, err, assistant.ErrUnknownFunction)
}

func TestDispatcher_RateLimited(t *testing.T) {
	f := setup(t, statusReply(http.StatusTooManyRequests))

	_, err := f.dispatcher.Process(context.Background(), "list all qr codes")
	assert.ErrorIs(t, err, assistant.ErrUpstreamRateLimited)
	assert.Equal(t, 1, f.llm.calls())
}

func TestDispatcher_UpstreamError(t *testing.T) {
	f := setup(t, statusReply(http.StatusBadGateway))

	_, err := f.dispatcher.Process(context.Background(), "list all qr codes")
	assert.ErrorIs(t, err, assistant.ErrUpstreamUnavailable)
	assert.False(t, errors.Is(err, assistant.ErrUpstreamRateLimited))
}

// TestDispatcher_NetworkFailure проверяет ошибку соединения без повторов
func TestDispatcher_NetworkFailure(t *testing.T) {
	f := setup(t)
	f.server.Close()

	_, err := f.dispatcher.Process(context.Background(), "list all qr codes")
	assert.ErrorIs(t, err, assistant.ErrUpstreamUnavailable)
}

func TestDispatcher_Timeout(t *testing.T) {
	slow := func(w http.ResponseWriter) {
		time.Sleep(300 * time.Millisecond)
		textReply("too late")(w)
	}
	llm := &fakeLLM{responses: []func(http.ResponseWriter){slow}}
	server := httptest.NewServer(llm)
	defer server.Close()

	d, err := assistant.NewDispatcher(assistant.Options{
		APIKey:  "test-key",
		BaseURL: server.URL,
		Timeout: 50 * time.Millisecond,
	}, nil, assistant.NewLocalLimiter(0), nil)
	require.NoError(t, err)

	_, err = d.Process(context.Background(), "hello")
	assert.ErrorIs(t, err, assistant.ErrUpstreamUnavailable)
}

// TestDispatcher_SetModel проверяет список разрешённых моделей
func TestDispatcher_SetModel(t *testing.T) {
	f := setup(t, textReply("ok"))

	assert.ErrorIs(t, f.dispatcher.SetModel("not-a-real-model"), assistant.ErrUnsupportedModel)
	assert.Equal(t, assistant.DefaultModel, f.dispatcher.Model())

	require.NoError(t, f.dispatcher.SetModel("llama-3.1-8b-instant"))
	assert.Equal(t, "llama-3.1-8b-instant", f.dispatcher.Model())

	_, err := f.dispatcher.Process(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "llama-3.1-8b-instant", f.llm.lastRequest().Model)
}

func TestNewDispatcher_UnsupportedModel(t *testing.T) {
	_, err := assistant.NewDispatcher(assistant.Options{Model: "gpt-unknown"}, nil, nil, nil)
	assert.ErrorIs(t, err, assistant.ErrUnsupportedModel)
}
