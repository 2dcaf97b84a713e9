// Package agent orchestrates one question/answer exchange: it hydrates the
// conversation from the ledger, augments the prompt with retrieved
// knowledge, streams the model's answer while serving its tool calls, and
// commits the finished exchange back to the ledger before signalling
// completion.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"

	"github.com/janikdotzel/healthcare-agent/internal/fitbit"
	"github.com/janikdotzel/healthcare-agent/internal/tools"
	"github.com/janikdotzel/healthcare-agent/pkg/ledger"
	"github.com/janikdotzel/healthcare-agent/pkg/observability"
)

const systemMessage = `You are a personal health assistant that helps the user to stay healthy.
You have access to the user's health data that is observed through fitness trackers and made available through Fitbit.
You have access to the user's medical records.
Answer the question in a concise way.`

const promptTemplate = "Question: %s\nKnowledge: %s\nUserId: %s"

const (
	defaultModel      = openai.GPT4oMini
	defaultToolRounds = 8
	tokenBuffer       = 64
)

// ErrAnswerUnsaved means the model finished but the exchange could not be
// appended to the ledger. The caller may resubmit the question; nothing was
// stored, so a resubmit cannot duplicate history.
var ErrAnswerUnsaved = errors.New("agent: answer generated but not saved")

// ErrTooManyToolRounds aborts a generation that keeps requesting tools.
var ErrTooManyToolRounds = errors.New("agent: tool call rounds exhausted")

// Request is one question bound to a conversation.
type Request struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
	Question  string `json:"question"`
}

// Retriever supplies knowledge snippets for a user's question.
type Retriever interface {
	Retrieve(ctx context.Context, question, userID string) (string, error)
}

// Conversations is the slice of the ledger the orchestrator needs.
type Conversations interface {
	Append(ctx context.Context, exchange ledger.Exchange) error
	History(ctx context.Context, id ledger.ConversationID) (ledger.ConversationState, error)
}

// ChatStream yields streamed completion chunks until io.EOF.
type ChatStream interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

// ChatStreamer opens streaming chat completions.
type ChatStreamer interface {
	CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (ChatStream, error)
}

type openaiStreamer struct {
	client *openai.Client
}

func (s openaiStreamer) CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (ChatStream, error) {
	return s.client.CreateChatCompletionStream(ctx, req)
}

// NewOpenAIStreamer adapts an OpenAI client to the ChatStreamer interface.
func NewOpenAIStreamer(client *openai.Client) ChatStreamer {
	return openaiStreamer{client: client}
}

// Config tunes the orchestrator.
type Config struct {
	// Model is the chat completion model. Defaults to gpt-4o-mini.
	Model string
	// MaxToolRounds bounds consecutive tool-call rounds per exchange.
	MaxToolRounds int
}

// Agent answers user questions over their health data.
type Agent struct {
	streamer  ChatStreamer
	ledger    Conversations
	retriever Retriever
	fitbitAPI fitbit.API
	sensors   tools.SensorReader
	log       zerolog.Logger

	model      string
	toolRounds int
}

// New wires an Agent. The fitbit API and sensor reader feed the per-request
// tool registry; either may be nil to run without that tool family.
func New(streamer ChatStreamer, conversations Conversations, retriever Retriever,
	fitbitAPI fitbit.API, sensors tools.SensorReader, cfg Config, log zerolog.Logger) *Agent {

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	rounds := cfg.MaxToolRounds
	if rounds <= 0 {
		rounds = defaultToolRounds
	}
	return &Agent{
		streamer:   streamer,
		ledger:     conversations,
		retriever:  retriever,
		fitbitAPI:  fitbitAPI,
		sensors:    sensors,
		log:        log.With().Str("component", "agent").Logger(),
		model:      model,
		toolRounds: rounds,
	}
}

// registryFor builds the tool registry bound to one user. The sensor tool
// binds the user id so the model cannot read other users' data.
func (a *Agent) registryFor(userID string) (*tools.Registry, error) {
	reg := tools.NewRegistry(a.log)
	if a.fitbitAPI != nil {
		if err := reg.Register(tools.FitbitTools(a.fitbitAPI)...); err != nil {
			return nil, err
		}
	}
	if a.sensors != nil {
		if err := reg.Register(tools.SensorTool(a.sensors, userID)); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Ask answers one question as a stream of tokens. Partial tokens are
// forwarded as the model emits them; the terminal token is sent only after
// the finished exchange has been appended to the ledger. Cancelling ctx
// stops generation and commits nothing. The token channel is closed when
// the exchange ends either way; a failure is reported on the error channel.
func (a *Agent) Ask(ctx context.Context, req Request) (<-chan StreamToken, <-chan error) {
	out := make(chan StreamToken, tokenBuffer)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)
		if err := a.run(ctx, req, out); err != nil {
			errs <- err
		}
	}()
	return out, errs
}

func (a *Agent) run(ctx context.Context, req Request, out chan<- StreamToken) error {
	id, err := ledger.NewConversationID(req.UserID, req.SessionID)
	if err != nil {
		return err
	}
	if strings.TrimSpace(req.Question) == "" {
		return errors.New("agent: empty question")
	}

	start := time.Now()
	log := a.log.With().Str("user", req.UserID).Str("session", req.SessionID).Logger()

	// Hydrate history and retrieve knowledge concurrently; both are reads.
	var (
		state     ledger.ConversationState
		knowledge string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		state, err = a.ledger.History(gctx, id)
		return err
	})
	g.Go(func() error {
		retrieveStart := time.Now()
		var err error
		knowledge, err = a.retriever.Retrieve(gctx, req.Question, req.UserID)
		status := "ok"
		if err != nil {
			status = "error"
		}
		observability.RecordRetrieval(status, time.Since(retrieveStart))
		return err
	})
	if err := g.Wait(); err != nil {
		observability.RecordExchange("error", time.Since(start), 0, 0)
		return fmt.Errorf("agent: prepare exchange: %w", err)
	}

	reg, err := a.registryFor(req.UserID)
	if err != nil {
		return err
	}

	prompt := fmt.Sprintf(promptTemplate, req.Question, knowledge, req.UserID)
	messages := make([]openai.ChatCompletionMessage, 0, len(state.Messages)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemMessage,
	})
	for _, m := range state.Messages {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompt,
	})

	answer, usage, err := a.generate(ctx, reg, messages, out)
	if err != nil {
		observability.RecordExchange("error", time.Since(start), usage.prompt, usage.completion)
		return err
	}

	// A cancelled exchange must never reach the ledger, even when the
	// upstream stream managed to finish first.
	if err := ctx.Err(); err != nil {
		observability.RecordExchange("cancelled", time.Since(start), usage.prompt, usage.completion)
		return err
	}

	exchange := ledger.Exchange{
		UserID:         req.UserID,
		SessionID:      req.SessionID,
		Question:       req.Question,
		QuestionTokens: usage.prompt,
		Answer:         answer,
		AnswerTokens:   usage.completion,
	}
	if err := a.ledger.Append(ctx, exchange); err != nil {
		observability.RecordLedgerAppend("error")
		observability.RecordExchange("unsaved", time.Since(start), usage.prompt, usage.completion)
		log.Error().Err(err).Msg("exchange not saved")
		return fmt.Errorf("%w: %v", ErrAnswerUnsaved, err)
	}
	observability.RecordLedgerAppend("ok")

	// The answer is durable, release the terminal marker.
	terminal := Last("", usage.prompt, usage.completion)
	if answer == "" {
		terminal = Empty()
	}
	select {
	case out <- terminal:
	case <-ctx.Done():
		return ctx.Err()
	}
	observability.RecordExchange("ok", time.Since(start), usage.prompt, usage.completion)
	log.Info().
		Int("inputTokens", usage.prompt).
		Int("outputTokens", usage.completion).
		Dur("elapsed", time.Since(start)).
		Msg("exchange committed")
	return nil
}

type tokenUsage struct {
	prompt     int
	completion int
}

// generate runs the streaming completion, serving tool calls between
// rounds, and returns the full answer text with the summed token usage.
func (a *Agent) generate(ctx context.Context, reg *tools.Registry,
	messages []openai.ChatCompletionMessage, out chan<- StreamToken) (string, tokenUsage, error) {

	var (
		answer strings.Builder
		usage  tokenUsage
	)

	for round := 0; round <= a.toolRounds; round++ {
		req := openai.ChatCompletionRequest{
			Model:         a.model,
			Messages:      messages,
			Stream:        true,
			StreamOptions: &openai.StreamOptions{IncludeUsage: true},
		}
		if defs := reg.Definitions(); len(defs) > 0 {
			req.Tools = defs
		}

		turn, err := a.streamTurn(ctx, req, out)
		if err != nil {
			return "", usage, err
		}
		answer.WriteString(turn.content)
		usage.prompt += turn.usage.prompt
		usage.completion += turn.usage.completion

		if len(turn.toolCalls) == 0 {
			return answer.String(), usage, nil
		}

		messages = append(messages, openai.ChatCompletionMessage{
			Role:      openai.ChatMessageRoleAssistant,
			Content:   turn.content,
			ToolCalls: turn.toolCalls,
		})
		for _, call := range turn.toolCalls {
			callStart := time.Now()
			result, err := reg.Invoke(ctx, call.Function.Name, call.Function.Arguments)
			if err != nil {
				observability.RecordToolCall(call.Function.Name, "error", time.Since(callStart))
				return "", usage, fmt.Errorf("agent: tool %s: %w", call.Function.Name, err)
			}
			observability.RecordToolCall(call.Function.Name, "ok", time.Since(callStart))
			messages = append(messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    result,
				ToolCallID: call.ID,
			})
		}
	}
	return "", usage, ErrTooManyToolRounds
}

type turnResult struct {
	content   string
	toolCalls []openai.ToolCall
	usage     tokenUsage
}

// streamTurn consumes one streaming completion: partial content goes to out
// as it arrives, tool call deltas are accumulated by index, and the usage
// chunk closes the turn.
func (a *Agent) streamTurn(ctx context.Context, req openai.ChatCompletionRequest,
	out chan<- StreamToken) (turnResult, error) {

	stream, err := a.streamer.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return turnResult{}, fmt.Errorf("agent: open completion stream: %w", err)
	}
	defer stream.Close()

	var (
		content   strings.Builder
		toolCalls []openai.ToolCall
		usage     tokenUsage
	)
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return turnResult{}, fmt.Errorf("agent: stream completion: %w", err)
		}

		if chunk.Usage != nil {
			usage.prompt += chunk.Usage.PromptTokens
			usage.completion += chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta

		if delta.Content != "" {
			content.WriteString(delta.Content)
			select {
			case out <- Partial(delta.Content):
			case <-ctx.Done():
				return turnResult{}, ctx.Err()
			}
		}
		for _, tc := range delta.ToolCalls {
			// Deltas without an index continue the most recent call, or
			// open the first one when none exists yet.
			idx := len(toolCalls) - 1
			if tc.Index != nil {
				idx = *tc.Index
			} else if idx < 0 {
				idx = 0
			}
			for len(toolCalls) <= idx {
				toolCalls = append(toolCalls, openai.ToolCall{Type: openai.ToolTypeFunction})
			}
			if tc.ID != "" {
				toolCalls[idx].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[idx].Function.Name = tc.Function.Name
			}
			toolCalls[idx].Function.Arguments += tc.Function.Arguments
		}
	}

	return turnResult{content: content.String(), toolCalls: toolCalls, usage: usage}, nil
}

// AskSync collects the streamed answer into a single string.
func (a *Agent) AskSync(ctx context.Context, req Request) (string, error) {
	tokens, errs := a.Ask(ctx, req)

	var answer strings.Builder
	for token := range tokens {
		answer.WriteString(token.Content)
	}
	if err := <-errs; err != nil {
		return "", err
	}
	return answer.String(), nil
}
