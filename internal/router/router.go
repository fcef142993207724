// Package router is stage one of the brain: one fast LLM call turned into a
// validated structured decision. It never dispatches tools.
package router

import (
	"context"
	"errors"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/rs/zerolog"

	"github.com/bantz-ai/bantz/internal/codec"
	"github.com/bantz-ai/bantz/internal/llm"
	"github.com/bantz-ai/bantz/internal/obs"
)

// systemPrompt fixes the router's identity and the output contract. The
// router model is small; the prompt leans on enumerated values and the codec
// repairs the rest.
const systemPrompt = `Sen Bantz adlı kişisel asistanın yönlendirme katmanısın. Görevin kullanıcının isteğini sınıflandırmak ve SADECE geçerli bir JSON nesnesi üretmek.

Şema:
{
  "route": "calendar|gmail|smalltalk|system|unknown",
  "calendar_intent": "create|modify|cancel|query|none",
  "slots": {},
  "confidence": 0.0,
  "tool_plan": [],
  "assistant_reply": "",
  "ask_user": false,
  "question": "",
  "requires_confirmation": false,
  "confirmation_prompt": "",
  "memory_update": {},
  "reasoning_summary": []
}

Kurallar:
- Yalnızca JSON döndür, başka metin yazma.
- Takvim işlemleri için route=calendar ve uygun calendar_intent seç.
- E-posta işlemleri için route=gmail.
- Sohbet, selamlama, hal hatır için route=smalltalk ve boş tool_plan.
- Silme/iptal gibi geri alınamaz işlemlerde requires_confirmation=true ve Türkçe bir confirmation_prompt yaz.
- Eksik bilgi varsa ask_user=true ve question doldur.
- assistant_reply her zaman kibar, kısa ve Türkçe olsun; kullanıcıya "efendim" diye hitap et.`

const (
	defaultDeadline = 500 * time.Millisecond
	maxTokens       = 512
)

// Router drives the fast-tier call and the codec pipeline.
type Router struct {
	Provider *llm.Provider
	Metrics  *obs.MetricsLog
	Log      zerolog.Logger
	// Deadline bounds the wall clock of one routing call.
	Deadline time.Duration
	// LLMRepair enables the model-assisted codec repair path when the
	// deterministic one fails. Off by default; the fallback reply is cheap.
	LLMRepair bool
}

// NewRouter wires a router over a provider.
func NewRouter(provider *llm.Provider, metrics *obs.MetricsLog, log zerolog.Logger) *Router {
	return &Router{
		Provider: provider,
		Metrics:  metrics,
		Log:      log.With().Str("stage", "router").Logger(),
		Deadline: defaultDeadline,
	}
}

// Route classifies one utterance. enhancedContext is the composed context
// block; when empty the bare user input is sent. Route always returns a
// usable Output: on any failure it degrades to the unknown-route apology.
func (r *Router) Route(ctx context.Context, userInput, enhancedContext string) codec.Output {
	deadline := r.Deadline
	if deadline <= 0 {
		deadline = defaultDeadline
	}
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	userContent := enhancedContext
	if userContent == "" {
		userContent = userInput
	}
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
		{Role: openai.ChatMessageRoleUser, Content: userContent},
	}

	start := time.Now()
	reply, err := r.Provider.ChatDetailed(callCtx, messages, 0.0, maxTokens)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		r.Log.Warn().Err(err).Int64("latency_ms", latency).Msg("router call failed")
		r.record(reply.Usage, latency, false, errorType(err))
		return codec.Fallback("Üzgünüm efendim, şu anda isteğinizi işleyemiyorum. Lütfen tekrar dener misiniz?")
	}

	out, flags, err := codec.ValidateAndRepair(reply.Content)
	if err != nil && r.LLMRepair {
		out, flags, err = r.repairViaModel(ctx, reply.Content, err)
	}
	if err != nil {
		r.Log.Warn().Err(err).Msg("router output unrepairable")
		r.record(reply.Usage, latency, false, "schema")
		return codec.Fallback("Üzgünüm efendim, bir sorun oluştu. İsteğinizi farklı bir şekilde ifade eder misiniz?")
	}
	if len(flags) > 0 {
		r.Log.Debug().Strs("repairs", flags).Msg("router output repaired")
	}
	r.record(reply.Usage, latency, true, "")
	return out
}

func (r *Router) repairViaModel(ctx context.Context, rawText string, cause error) (codec.Output, []string, error) {
	m, err := codec.RepairViaLLM(ctx, r.Provider.Client, r.Provider.Model, rawText, cause.Error(), 2)
	if err != nil {
		return codec.Output{}, nil, cause
	}
	repaired, flags := codec.RepairEnums(m)
	out, err := codec.Validate(repaired)
	if err != nil {
		return codec.Output{}, flags, err
	}
	return out, append(flags, "llm_repair"), nil
}

func (r *Router) record(usage llm.Usage, latencyMS int64, success bool, errType string) {
	if r.Metrics == nil {
		return
	}
	if err := r.Metrics.Record(obs.Metric{
		Backend:          r.Provider.Backend,
		Model:            r.Provider.Model,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
		LatencyMS:        latencyMS,
		Success:          success,
		ErrorType:        errType,
		Tier:             "fast",
		Reason:           "router",
	}); err != nil {
		r.Log.Warn().Err(err).Msg("metrics row not written")
	}
}

func errorType(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	default:
		return "provider"
	}
}
