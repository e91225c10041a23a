package prompt

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/nawkwoo/voice-chat/internal/storage"
	"github.com/nawkwoo/voice-chat/internal/vector"
)

const (
	recentHeader  = "### 최근 대화 내용:"
	similarHeader = "### 관련 과거 대화 내용:"
)

// Assembler builds the conversational context handed to the language model:
// the tail of the current session for continuity, plus semantically similar
// past messages for relevance.
type Assembler struct {
	Store storage.Store
	Index vector.Index

	RecencyLimit  int
	TopK          int
	MinScore      float64
	SessionScoped bool
}

func NewAssembler(store storage.Store, index vector.Index) *Assembler {
	return &Assembler{
		Store:         store,
		Index:         index,
		RecencyLimit:  4,
		TopK:          3,
		MinScore:      0.6,
		SessionScoped: true,
	}
}

// Assemble returns the context string for a turn. An empty string means no
// usable history exists. Similarity search failures degrade to a
// recency-only context rather than failing the turn.
func (a *Assembler) Assemble(ctx context.Context, userID, sessionID, transcript string) (string, error) {
	var parts []string

	recent, err := a.Store.RecentMessages(ctx, sessionID, a.RecencyLimit)
	if err != nil {
		return "", fmt.Errorf("recent messages: %w", err)
	}
	if len(recent) > 0 {
		lines := make([]string, 0, len(recent))
		for _, m := range recent {
			lines = append(lines, fmt.Sprintf("%s: %s", m.Role, m.Content))
		}
		parts = append(parts, recentHeader+"\n"+strings.Join(lines, "\n"))
	}

	if a.Index != nil {
		q := vector.Query{
			Text:     transcript,
			UserID:   userID,
			TopK:     a.TopK,
			MinScore: a.MinScore,
		}
		if a.SessionScoped {
			q.SessionID = sessionID
		}
		hits, err := a.Index.Search(ctx, q)
		if err != nil {
			log.Printf("prompt: similarity search failed, using recency only: %v", err)
		} else if len(hits) > 0 {
			lines := make([]string, 0, len(hits))
			for _, h := range hits {
				lines = append(lines, "- "+h.Content)
			}
			parts = append(parts, similarHeader+"\n"+strings.Join(lines, "\n"))
		}
	}

	return strings.Join(parts, "\n\n"), nil
}

// BuildPrompt renders the final model input. The prior-conversation section
// is dropped when there is no context.
func BuildPrompt(contextText, transcript string) string {
	if strings.TrimSpace(contextText) == "" {
		return fmt.Sprintf("### 사용자 질문:\n%s\n\n### 답변:", transcript)
	}
	return fmt.Sprintf("### 이전 대화:\n%s\n\n### 사용자 질문:\n%s\n\n### 답변:", contextText, transcript)
}
