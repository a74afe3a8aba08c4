package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/parleyhq/parley/plugin/generation"
	"github.com/parleyhq/parley/plugin/streamcodec"
	"github.com/parleyhq/parley/store"
)

const systemPrompt = `You are a helpful assistant. Answer concisely and truthfully.
When context passages are provided, prefer them over your own knowledge and
cite web sources with bracketed numbers like [1] where they support a claim.
If the context does not cover the question, say so rather than guessing.`

const noContextInstruction = `No additional context is available for this question. Answer from your
own knowledge and do not mention any lookup or search failure.`

// buildPrompt assembles the message list for generation: system prompt with
// grounding, the recent history window, then the current user message.
func (o *Orchestrator) buildPrompt(ctx context.Context, session *store.ChatSession, req *TurnRequest) ([]generation.Message, []streamcodec.Citation, error) {
	var contextBlocks []string
	var citations []streamcodec.Citation
	wantsContext := false

	if o.retriever != nil && session.Mode != store.SessionModeFreeForm {
		wantsContext = true
		passages, err := o.retriever.Retrieve(ctx, req.Message)
		if err != nil {
			// Grounding is best effort; the turn proceeds without it.
			slog.Warn("retrieval failed, answering ungrounded", slog.String("error", err.Error()))
		}
		for _, passage := range passages {
			contextBlocks = append(contextBlocks, fmt.Sprintf("Source %s:\n%s", passage.Source, passage.Content))
		}
	}

	if req.WebSearch && o.searcher != nil {
		wantsContext = true
		results, err := o.searcher.Search(ctx, req.Message, o.webSearchResults)
		if err != nil {
			// Web search is best effort; the turn proceeds without it.
			slog.Warn("web search failed", slog.String("error", err.Error()))
		}
		for i, result := range results {
			index := i + 1
			contextBlocks = append(contextBlocks, fmt.Sprintf("Web result [%d] %s (%s):\n%s", index, result.Title, result.URL, result.Snippet))
			citations = append(citations, streamcodec.Citation{
				Index: index,
				Title: result.Title,
				URL:   result.URL,
			})
		}
	}

	system := systemPrompt
	if len(contextBlocks) > 0 {
		system += "\n\nContext:\n" + strings.Join(contextBlocks, "\n\n")
	} else if wantsContext {
		// Grounding or search was expected but produced nothing; tell the
		// model to answer plainly instead of apologizing for missing context.
		system += "\n\n" + noContextInstruction
	}

	messages := []generation.Message{generation.SystemPrompt(system)}

	history, err := o.historyWindow(ctx, session.ID, req.ClientMsgID)
	if err != nil {
		return nil, nil, err
	}
	messages = append(messages, history...)
	messages = append(messages, generation.UserMessage(req.Message))

	return messages, citations, nil
}

// historyWindow returns the last turns of the session as chat messages,
// excluding the turn currently being answered and empty placeholders.
func (o *Orchestrator) historyWindow(ctx context.Context, sessionID int32, currentClientMsgID string) ([]generation.Message, error) {
	turns, err := o.store.ListTurns(ctx, &store.FindTurn{SessionID: &sessionID})
	if err != nil {
		return nil, err
	}

	var messages []generation.Message
	for _, turn := range turns {
		if turn.Content == "" {
			continue
		}
		if turn.ClientMsgID == currentClientMsgID && turn.Sender == store.SenderUser {
			continue
		}
		if turn.ReplyToID == currentClientMsgID {
			continue
		}
		switch turn.Sender {
		case store.SenderUser:
			messages = append(messages, generation.UserMessage(turn.Content))
		case store.SenderAssistant:
			messages = append(messages, generation.AssistantMessage(turn.Content))
		}
	}

	if len(messages) > historyWindow {
		messages = messages[len(messages)-historyWindow:]
	}
	return messages, nil
}

// appendFootnotes adds a footnote block mapping bracketed citations to their
// sources. Only citations actually referenced in the answer are listed.
func appendFootnotes(content string, citations []streamcodec.Citation) string {
	var used []streamcodec.Citation
	for _, citation := range citations {
		if strings.Contains(content, fmt.Sprintf("[%d]", citation.Index)) {
			used = append(used, citation)
		}
	}
	if len(used) == 0 {
		return content
	}

	var footnotes strings.Builder
	footnotes.WriteString(content)
	footnotes.WriteString("\n\n")
	for _, citation := range used {
		if citation.URL != "" {
			footnotes.WriteString(fmt.Sprintf("[%d]: %s (%s)\n", citation.Index, citation.Title, citation.URL))
		} else {
			footnotes.WriteString(fmt.Sprintf("[%d]: %s\n", citation.Index, citation.Title))
		}
	}
	return strings.TrimRight(footnotes.String(), "\n")
}
