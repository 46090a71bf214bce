package assistant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/SergeiKhy/qrcode-manager/internal/metrics"
	"github.com/SergeiKhy/qrcode-manager/internal/models"
	"github.com/SergeiKhy/qrcode-manager/internal/repository"
	"github.com/SergeiKhy/qrcode-manager/internal/service"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const DefaultModel = "mixtral-8x7b-32768"

// AllowedModels: модели, на которые можно переключиться через /update_model
var AllowedModels = []string{
	"mixtral-8x7b-32768",
	"llama-3.3-70b-versatile",
	"llama-3.1-8b-instant",
	"llama3-70b-8192",
	"llama3-8b-8192",
	"gemma2-9b-it",
}

// Сообщения для пользователя при ошибках LLM
const (
	UnavailableMessage   = "I'm having trouble connecting to the assistant right now. Please try again later."
	RateLimitedMessage   = "The assistant is receiving too many requests right now. Please wait a moment and try again."
	NotConfiguredMessage = "The assistant is not configured. Set GROQ_API_KEY to enable it."
)

var (
	ErrEmptyMessage        = errors.New("message must not be empty")
	ErrNotConfigured       = errors.New("assistant is not configured")
	ErrUpstreamUnavailable = errors.New("assistant upstream unavailable")
	ErrUpstreamRateLimited = errors.New("assistant upstream rate limited")
	ErrUnknownFunction     = errors.New("unknown function")
	ErrUnsupportedModel    = errors.New("unsupported model")
)

// ValidationError: аргументы операции не прошли проверку; Message можно показывать пользователю
type ValidationError struct {
	Message string
	Err     error
}

func (e *ValidationError) Error() string { return e.Message }
func (e *ValidationError) Unwrap() error { return e.Err }

type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	MinInterval time.Duration
	Reprompt    bool // одна повторная попытка при некорректных аргументах
}

// ChatClient: часть go-openai клиента, которой пользуется диспетчер
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type FunctionCall struct {
	Name   string `json:"name"`
	Result any    `json:"result"`
}

type Reply struct {
	Success      bool          `json:"success"`
	Response     string        `json:"response"`
	FunctionCall *FunctionCall `json:"function_call,omitempty"`
}

type Dispatcher struct {
	qr       service.QRCodeService
	client   ChatClient
	limiter  Limiter
	reprompt bool
	logger   *zap.Logger

	mu    sync.RWMutex
	model string
}

// NewDispatcher собирает диспетчер; без APIKey он работает, но Process возвращает ErrNotConfigured
func NewDispatcher(opts Options, qr service.QRCodeService, limiter Limiter, logger *zap.Logger) (*Dispatcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if !slices.Contains(AllowedModels, opts.Model) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedModel, opts.Model)
	}
	if limiter == nil {
		limiter = NewLocalLimiter(opts.MinInterval)
	}

	d := &Dispatcher{
		qr:       qr,
		limiter:  limiter,
		reprompt: opts.Reprompt,
		logger:   logger,
		model:    opts.Model,
	}

	if opts.APIKey != "" {
		cfg := openai.DefaultConfig(opts.APIKey)
		if opts.BaseURL != "" {
			cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
		}
		cfg.HTTPClient = &http.Client{Timeout: opts.Timeout}
		d.client = openai.NewClientWithConfig(cfg)
	}

	return d, nil
}

func (d *Dispatcher) Configured() bool {
	return d.client != nil
}

func (d *Dispatcher) Model() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.model
}

// SetModel переключает модель для последующих запросов
func (d *Dispatcher) SetModel(model string) error {
	model = strings.TrimSpace(model)
	if !slices.Contains(AllowedModels, model) {
		return fmt.Errorf("%w: %q", ErrUnsupportedModel, model)
	}

	d.mu.Lock()
	previous := d.model
	d.model = model
	d.mu.Unlock()

	d.logger.Info("Assistant model switched", zap.String("from", previous), zap.String("to", model))
	return nil
}

// Process передаёт сообщение модели и выполняет выбранную ею операцию
func (d *Dispatcher) Process(ctx context.Context, message string) (*Reply, error) {
	reply, err := d.process(ctx, message)
	metrics.AssistantRequests.WithLabelValues(outcome(reply, err)).Inc()
	return reply, err
}

func (d *Dispatcher) process(ctx context.Context, message string) (*Reply, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return nil, ErrEmptyMessage
	}
	if d.client == nil {
		return nil, ErrNotConfigured
	}

	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: message},
	}

	attempts := 1
	if d.reprompt {
		attempts = 2
	}

	for attempt := 1; ; attempt++ {
		answer, err := d.complete(ctx, messages)
		if err != nil {
			return nil, err
		}

		call, ok := selectedCall(answer)
		if !ok {
			// текстовый ответ никогда не запускает операцию
			return &Reply{Success: true, Response: answer.Content}, nil
		}

		reply, err := d.execute(ctx, call)
		var argErr *argumentError
		if !errors.As(err, &argErr) {
			return reply, err
		}

		d.logger.Warn("Model returned malformed function arguments",
			zap.String("function", call.Name),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt >= attempts {
			return nil, &ValidationError{
				Message: fmt.Sprintf("The assistant produced invalid arguments for %s. Please rephrase your request.", call.Name),
				Err:     err,
			}
		}
		messages = append(messages, repromptMessages(answer, call, argErr)...)
	}
}

func (d *Dispatcher) complete(ctx context.Context, messages []openai.ChatCompletionMessage) (openai.ChatCompletionMessage, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return openai.ChatCompletionMessage{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}

	model := d.Model()
	started := time.Now()
	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Tools:       tools(),
		ToolChoice:  "auto",
		Temperature: 0.7,
		MaxTokens:   1024,
		TopP:        1,
	})
	if err != nil {
		d.logger.Error("LLM request failed", zap.String("model", model), zap.Duration("latency", time.Since(started)), zap.Error(err))
		return openai.ChatCompletionMessage{}, classify(err)
	}
	if len(resp.Choices) == 0 {
		d.logger.Error("LLM response has no choices", zap.String("model", model))
		return openai.ChatCompletionMessage{}, fmt.Errorf("%w: empty response", ErrUpstreamUnavailable)
	}

	d.logger.Debug("LLM request completed", zap.String("model", model), zap.Duration("latency", time.Since(started)))
	return resp.Choices[0].Message, nil
}

// classify сводит ошибки go-openai к ошибкам диспетчера
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", ErrUpstreamRateLimited, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %v", ErrUpstreamRateLimited, err)
	}
	return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
}

type toolCall struct {
	ID        string
	Name      string
	Arguments string
}

// selectedCall: первый tool_calls элемент или устаревшее поле function_call
func selectedCall(msg openai.ChatCompletionMessage) (toolCall, bool) {
	if len(msg.ToolCalls) > 0 {
		tc := msg.ToolCalls[0]
		return toolCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments}, true
	}
	if msg.FunctionCall != nil && msg.FunctionCall.Name != "" {
		return toolCall{Name: msg.FunctionCall.Name, Arguments: msg.FunctionCall.Arguments}, true
	}
	return toolCall{}, false
}

func repromptMessages(answer openai.ChatCompletionMessage, call toolCall, argErr *argumentError) []openai.ChatCompletionMessage {
	text := fmt.Sprintf("The arguments for %s were not valid JSON (%v). Call the function again with valid JSON arguments.", call.Name, argErr.err)

	answer.Role = openai.ChatMessageRoleAssistant
	// ответ инструмента есть только для первого вызова, остальные вызовы API отвергнет
	if len(answer.ToolCalls) > 1 {
		answer.ToolCalls = answer.ToolCalls[:1]
	}
	if call.ID != "" {
		return []openai.ChatCompletionMessage{
			answer,
			{Role: openai.ChatMessageRoleTool, ToolCallID: call.ID, Content: text},
		}
	}
	return []openai.ChatCompletionMessage{
		answer,
		{Role: openai.ChatMessageRoleUser, Content: text},
	}
}

func (d *Dispatcher) execute(ctx context.Context, call toolCall) (*Reply, error) {
	d.logger.Info("Executing assistant function", zap.String("function", call.Name))

	var (
		result  any
		summary string
		err     error
	)

	switch call.Name {
	case FuncCreate:
		result, summary, err = d.create(ctx, call.Arguments)
	case FuncList:
		result, summary, err = d.list(ctx)
	case FuncDelete:
		result, summary, err = d.delete(ctx, call.Arguments)
	case FuncSearch:
		result, summary, err = d.search(ctx, call.Arguments)
	case FuncUpdate:
		result, summary, err = d.update(ctx, call.Arguments)
	default:
		d.logger.Error("Model selected an unknown function", zap.String("function", call.Name))
		return nil, fmt.Errorf("%w: %q", ErrUnknownFunction, call.Name)
	}
	if err != nil {
		return nil, asValidation(err)
	}

	return &Reply{
		Success:      true,
		Response:     summary,
		FunctionCall: &FunctionCall{Name: call.Name, Result: result},
	}, nil
}

func (d *Dispatcher) create(ctx context.Context, raw string) (any, string, error) {
	var args createArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, "", err
	}

	qr, err := d.qr.Create(ctx, models.CreateQRCodeInput{
		URL:         args.URL,
		IsDynamic:   args.IsDynamic,
		FillColor:   args.FillColor,
		BackColor:   args.BackColor,
		Description: args.Description,
	})
	if err != nil {
		return nil, "", err
	}

	link := d.qr.ShortLink(qr)
	result := map[string]any{
		"qr_code_id": qr.ID,
		"filename":   qr.Filename,
		"url":        qr.URL,
		"is_dynamic": qr.IsDynamic,
	}
	if link != "" {
		result["short_code"] = qr.Code()
		result["short_link"] = link
	}
	return result, summarizeCreate(qr, link), nil
}

func (d *Dispatcher) list(ctx context.Context) (any, string, error) {
	codes, err := d.qr.List(ctx)
	if err != nil {
		return nil, "", err
	}
	return map[string]any{"qr_codes": toItems(codes)}, summarizeList(codes), nil
}

func (d *Dispatcher) search(ctx context.Context, raw string) (any, string, error) {
	var args searchArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, "", err
	}

	filter := models.SearchFilter{
		URL:         strings.TrimSpace(args.URL),
		Description: strings.TrimSpace(args.Description),
		IsActive:    args.IsActive,
		Limit:       args.Limit,
	}
	if args.CreatedAfter != "" {
		after, err := parseDate(args.CreatedAfter)
		if err != nil {
			return nil, "", &ValidationError{Message: fmt.Sprintf("Invalid created_after date %q", args.CreatedAfter), Err: err}
		}
		filter.CreatedAfter = &after
	}

	codes, err := d.qr.Search(ctx, filter)
	if err != nil {
		return nil, "", err
	}
	return map[string]any{"qr_codes": toItems(codes)}, summarizeSearch(codes), nil
}

func (d *Dispatcher) delete(ctx context.Context, raw string) (any, string, error) {
	var args deleteArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, "", err
	}
	if args.ID == 0 {
		return nil, "", &ValidationError{Message: "qr_id is required"}
	}

	if err := d.qr.Delete(ctx, uint(args.ID)); err != nil {
		if errors.Is(err, repository.ErrQRCodeNotFound) {
			return notFound(args.ID)
		}
		return nil, "", err
	}

	msg := fmt.Sprintf("QR code %d deleted", args.ID)
	return map[string]any{"success": true, "message": msg}, msg + ".", nil
}

func (d *Dispatcher) update(ctx context.Context, raw string) (any, string, error) {
	var args updateArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, "", err
	}
	if args.ID == 0 {
		return nil, "", &ValidationError{Message: "qr_id is required"}
	}

	qr, err := d.qr.Update(ctx, uint(args.ID), models.UpdateQRCodeInput{
		URL:         args.URL,
		FillColor:   args.FillColor,
		BackColor:   args.BackColor,
		Description: args.Description,
		IsActive:    args.IsActive,
		RedirectURL: args.RedirectURL,
	})
	if err != nil {
		if errors.Is(err, repository.ErrQRCodeNotFound) {
			return notFound(args.ID)
		}
		return nil, "", err
	}

	result := map[string]any{
		"success": true,
		"message": fmt.Sprintf("QR code %d updated", args.ID),
		"qr_code": toItem(*qr),
	}
	return result, summarizeUpdate(qr), nil
}

func notFound(id qrID) (any, string, error) {
	msg := fmt.Sprintf("QR code %d not found", id)
	return map[string]any{"success": false, "message": msg}, msg + ".", nil
}

// asValidation превращает ошибки проверки ввода сервиса в ValidationError
func asValidation(err error) error {
	var vErr *ValidationError
	var argErr *argumentError
	switch {
	case errors.As(err, &vErr), errors.As(err, &argErr):
		return err
	case errors.Is(err, service.ErrInvalidURL),
		errors.Is(err, service.ErrInvalidColor),
		errors.Is(err, service.ErrInvalidFilename):
		return &ValidationError{Message: err.Error(), Err: err}
	}
	return err
}

func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.ParseInLocation(time.DateOnly, raw, time.Local)
}

func outcome(reply *Reply, err error) string {
	var vErr *ValidationError
	switch {
	case err == nil && reply != nil && reply.FunctionCall != nil:
		return "function"
	case err == nil:
		return "text"
	case errors.Is(err, ErrEmptyMessage), errors.As(err, &vErr):
		return "invalid"
	case errors.Is(err, ErrNotConfigured):
		return "not_configured"
	case errors.Is(err, ErrUpstreamRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_error"
	case errors.Is(err, ErrUnknownFunction):
		return "unknown_function"
	default:
		return "error"
	}
}
