package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/conduit/pkg/runtime"
	"github.com/kadirpekel/conduit/pkg/streaming"
)

// chatMessage is one OpenAI-style chat message.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatCompletionRequest is the OpenAI-compatible request body for
// `POST /v1/chat/completions`. Model names the target
// agent: conduit routes by agent, not by model, since model selection
// already happens inside the agent's own provider settings.
type chatCompletionRequest struct {
	Model        string        `json:"model"`
	Messages     []chatMessage `json:"messages"`
	Stream       bool          `json:"stream,omitempty"`
	Conversation string        `json:"conversation,omitempty"`
}

type chatChoice struct {
	Index        int         `json:"index"`
	Message      *chatMessage `json:"message,omitempty"`
	Delta        *chatMessage `json:"delta,omitempty"`
	FinishReason *string     `json:"finish_reason"`
}

type chatCompletionResponse struct {
	ID           string       `json:"id"`
	Object       string       `json:"object"`
	Created      int64        `json:"created"`
	Model        string       `json:"model"`
	Choices      []chatChoice `json:"choices"`
	Conversation string       `json:"conversation,omitempty"`
}

func lastUserInput(messages []chatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	if len(messages) > 0 {
		return messages[len(messages)-1].Content
	}
	return ""
}

// handleChatCompletions implements `POST /v1/chat/completions`: runs the request through AgentRuntime.Run and either returns one
// JSON completion or streams SSE deltas terminated by `data: [DONE]`.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req chatCompletionRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, "model (agent name) is required")
		return
	}

	id := "chatcmpl-" + uuid.NewString()

	// A conversation name may be user-supplied or autogenerated;
	// an omitted name still gets logged under a fresh one rather than
	// silently skipping ConversationStore entirely.
	convName := req.Conversation
	if convName == "" {
		convName = uuid.NewString()
	}

	runReq := runtime.Request{
		AgentName:    req.Model,
		Conversation: convName,
		UserInput:    lastUserInput(req.Messages),
		Stream:       req.Stream,
	}

	result := s.rt.Run(r.Context(), runReq)

	if !req.Stream {
		resp, err := result.Wait()
		if err != nil {
			writeHandlerError(w, err)
			return
		}
		finish := "stop"
		writeJSON(w, http.StatusOK, chatCompletionResponse{
			ID: id, Object: "chat.completion", Created: time.Now().Unix(), Model: req.Model,
			Choices:      []chatChoice{{Index: 0, Message: &chatMessage{Role: "assistant", Content: resp.Text}, FinishReason: &finish}},
			Conversation: convName,
		})
		return
	}

	streamChatCompletion(w, id, req.Model, convName, result)
}

// streamChatCompletion relays result's Frames as SSE, then the final
// [DONE] sentinel once the runtime's Wait settles, whether or not the
// client is still connected.
func streamChatCompletion(w http.ResponseWriter, id, model, convName string, result *runtime.RunResult) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, _ := w.(http.Flusher)

	for frame := range result.Frames() {
		writeChatFrame(w, id, model, frame)
		if flusher != nil {
			flusher.Flush()
		}
	}

	finish := "stop"
	_, err := result.Wait()
	if err != nil {
		finish = "error"
	}
	done := chatCompletionResponse{
		ID: id, Object: "chat.completion.chunk", Created: time.Now().Unix(), Model: model,
		Choices:      []chatChoice{{Index: 0, Delta: &chatMessage{}, FinishReason: &finish}},
		Conversation: convName,
	}
	_, _ = fmt.Fprintf(w, "data: ")
	_ = jsonEncode(w, done)
	_, _ = fmt.Fprintf(w, "\ndata: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
}

func writeChatFrame(w http.ResponseWriter, id, model string, f streaming.Frame) {
	if f.Done {
		return // the caller emits the terminal frame itself once Wait() settles
	}
	chunk := chatCompletionResponse{
		ID: id, Object: "chat.completion.chunk", Created: time.Now().Unix(), Model: model,
		Choices: []chatChoice{{Index: 0, Delta: &chatMessage{Content: f.Delta}, FinishReason: nil}},
	}
	_, _ = fmt.Fprintf(w, "data: ")
	_ = jsonEncode(w, chunk)
	_, _ = fmt.Fprintf(w, "\n\n")
}
