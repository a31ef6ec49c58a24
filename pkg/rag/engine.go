package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/liliang-cn/mrag/pkg/domain"
	"github.com/liliang-cn/mrag/pkg/log"
)

const (
	systemPrompt = `あなたは親切で知識豊富なアシスタントです。
与えられたコンテキスト情報に基づいて、ユーザーの質問に正確に答えてください。
コンテキストに情報がない場合は、正直にそう伝えてください。`

	qaTemplate = `コンテキスト情報:
%s

質問: %s

上記のコンテキスト情報に基づいて質問に答えてください。
コンテキストに関連情報がない場合は、「提供された情報では回答できません」と答えてください。

回答:`

	noContextText = "関連する情報が見つかりませんでした。"
)

// Source identifies one document that contributed context.
type Source struct {
	Name   string  `json:"name"`
	Source string  `json:"source"`
	Score  float64 `json:"score"`
	Type   string  `json:"type,omitempty"`
}

// Answer is the result of a query or chat turn.
type Answer struct {
	Answer        string   `json:"answer"`
	ContextCount  int      `json:"context_count"`
	HistoryLength int      `json:"history_length,omitempty"`
	ImagesUsed    int      `json:"images_used,omitempty"`
	Sources       []Source `json:"sources,omitempty"`
}

// Engine is the text-only RAG engine: retrieve, assemble a prompt,
// generate. A bounded chat log backs the conversational mode.
type Engine struct {
	retriever *Retriever
	generator domain.Generator
	history   *domain.ChatLog
}

func NewEngine(retriever *Retriever, generator domain.Generator, maxHistory int) (*Engine, error) {
	if retriever == nil || generator == nil {
		return nil, fmt.Errorf("%w: engine needs a retriever and a generator", domain.ErrConfigInvalid)
	}
	return &Engine{
		retriever: retriever,
		generator: generator,
		history:   domain.NewChatLog(maxHistory),
	}, nil
}

// buildContext renders hits as numbered context blocks.
func buildContext(hits []domain.SearchHit) string {
	if len(hits) == 0 {
		return noContextText
	}
	parts := make([]string, 0, len(hits))
	for i, hit := range hits {
		parts = append(parts, fmt.Sprintf("[%d] %s\n%s\n", i+1, hit.DocumentName, hit.Chunk.Content))
	}
	return strings.Join(parts, "\n")
}

// collectSources dedups hits by document source, keeping first
// occurrence order and the first (best) score per source.
func collectSources(hits []domain.SearchHit, withType bool) []Source {
	seen := make(map[string]bool, len(hits))
	var sources []Source
	for _, hit := range hits {
		if seen[hit.DocumentSource] {
			continue
		}
		seen[hit.DocumentSource] = true
		src := Source{
			Name:   hit.DocumentName,
			Source: hit.DocumentSource,
			Score:  hit.Score,
		}
		if withType {
			src.Type = hit.ResultType
		}
		sources = append(sources, src)
	}
	return sources
}

// Query retrieves context for the question and generates an answer in
// one shot, without touching the chat log.
func (e *Engine) Query(ctx context.Context, question string, topK int, where map[string]interface{}) (*Answer, error) {
	if strings.TrimSpace(question) == "" {
		return nil, domain.ErrQuestionEmpty
	}

	hits, err := e.retriever.Retrieve(ctx, question, topK, where)
	if err != nil {
		return nil, err
	}

	prompt := fmt.Sprintf(qaTemplate, buildContext(hits), question)
	answer, err := e.generator.Generate(ctx, prompt, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
	}

	log.WithModule("rag").Info("generated answer", "context_count", len(hits))
	return &Answer{
		Answer:       answer,
		ContextCount: len(hits),
		Sources:      collectSources(hits, false),
	}, nil
}

// Chat answers one conversational turn. The user message enters the
// history before retrieval; the assistant turn is recorded only when
// generation succeeds.
func (e *Engine) Chat(ctx context.Context, message string, topK int, where map[string]interface{}) (*Answer, error) {
	if strings.TrimSpace(message) == "" {
		return nil, domain.ErrQuestionEmpty
	}

	userTurn, err := domain.NewChatTurn(domain.RoleUser, message)
	if err != nil {
		return nil, err
	}
	e.history.Append(userTurn)

	hits, err := e.retriever.Retrieve(ctx, message, topK, where)
	if err != nil {
		return nil, err
	}

	prompt := e.buildChatPrompt(message, hits)
	answer, err := e.generator.Generate(ctx, prompt, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrGenerationFailed, err)
	}

	assistantTurn, err := domain.NewChatTurn(domain.RoleAssistant, answer)
	if err != nil {
		return nil, err
	}
	e.history.Append(assistantTurn)

	log.WithModule("rag").Info("generated chat answer",
		"context_count", len(hits), "history_length", e.history.Len())
	return &Answer{
		Answer:        answer,
		ContextCount:  len(hits),
		HistoryLength: e.history.Len(),
		Sources:       collectSources(hits, false),
	}, nil
}

// buildChatPrompt folds the system preamble, prior turns, context and
// the current question into one prompt. The just-appended user turn is
// excluded from the history section.
func (e *Engine) buildChatPrompt(message string, hits []domain.SearchHit) string {
	parts := []string{systemPrompt}

	turns := e.history.Turns()
	if len(turns) > 1 {
		parts = append(parts, "\n過去の会話:")
		for _, turn := range turns[:len(turns)-1] {
			parts = append(parts, fmt.Sprintf("%s: %s", turn.Role, turn.Content))
		}
	}

	parts = append(parts,
		fmt.Sprintf("\nコンテキスト情報:\n%s", buildContext(hits)),
		fmt.Sprintf("\n質問: %s", message),
		"\n上記のコンテキスト情報と会話履歴に基づいて質問に答えてください。\n\n回答:",
	)
	return strings.Join(parts, "\n")
}

// History returns a copy of the retained chat turns.
func (e *Engine) History() []domain.ChatTurn {
	return e.history.Turns()
}

func (e *Engine) ClearHistory() {
	e.history.Clear()
	log.WithModule("rag").Info("chat history cleared")
}
