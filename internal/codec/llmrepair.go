package codec

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/bantz-ai/bantz/internal/llm"
)

const repairSystemMessage = "You repair malformed JSON produced by another model. " +
	"Respond with exactly one corrected JSON object and nothing else. " +
	"The schema is {\"route\":\"calendar|gmail|smalltalk|system|unknown\"," +
	"\"calendar_intent\":\"create|modify|cancel|query|none\",\"slots\":object," +
	"\"confidence\":number,\"tool_plan\":string[],\"assistant_reply\":string," +
	"\"ask_user\":bool,\"question\":string,\"requires_confirmation\":bool," +
	"\"confirmation_prompt\":string,\"memory_update\":object,\"reasoning_summary\":string[]}."

// RepairViaLLM asks a repair model to produce a corrected JSON object for
// output that deterministic repair could not salvage. At most maxAttempts
// calls are made; each response goes back through extraction.
func RepairViaLLM(ctx context.Context, client llm.Client, model, rawText, errSummary string, maxAttempts int) (map[string]any, error) {
	if client == nil || strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("repair llm not configured")
	}
	if maxAttempts <= 0 {
		maxAttempts = 2
	}

	user := buildRepairPrompt(rawText, errSummary)
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: repairSystemMessage},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
			Temperature: 0.0,
			MaxTokens:   512,
			N:           1,
		})
		if err != nil {
			lastErr = fmt.Errorf("repair call: %w", err)
			continue
		}
		if len(resp.Choices) == 0 {
			lastErr = fmt.Errorf("repair call: no choices")
			continue
		}
		m, err := ExtractFirstJSONObject(resp.Choices[0].Message.Content)
		if err != nil {
			lastErr = fmt.Errorf("repair response: %w", err)
			continue
		}
		return m, nil
	}
	return nil, lastErr
}

func buildRepairPrompt(rawText, errSummary string) string {
	var sb strings.Builder
	sb.WriteString("The following model output failed validation.\n")
	if strings.TrimSpace(errSummary) != "" {
		sb.WriteString("Validation error: ")
		sb.WriteString(errSummary)
		sb.WriteString("\n")
	}
	sb.WriteString("Original output:\n")
	// Bound the quoted payload so the repair prompt itself stays cheap.
	if len(rawText) > 4000 {
		rawText = rawText[:4000]
	}
	sb.WriteString(rawText)
	sb.WriteString("\nReturn the corrected JSON object only.")
	return sb.String()
}

// CanonicalJSON serializes a value with sorted keys, the form used for
// result hashing and fingerprint comparisons.
func CanonicalJSON(v any) []byte {
	b, err := json.Marshal(v) // encoding/json sorts map keys
	if err != nil {
		return []byte("null")
	}
	return b
}
