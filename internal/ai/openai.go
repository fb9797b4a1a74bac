package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIProvider speaks the OpenAI-compatible chat/embeddings API. It also
// covers OpenRouter and any gateway exposing the same surface.
type OpenAIProvider struct {
	BaseURL    string
	APIKey     string
	Model      string
	EmbedModel string
	Client     *http.Client
}

type openAIMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIChatReq struct {
	Model    string      `json:"model"`
	Messages []openAIMsg `json:"messages"`
	Stream   bool        `json:"stream"`
}

type openAIChatResp struct {
	Choices []struct {
		Message openAIMsg `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type openAIStreamResp struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type openAIEmbedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbedResp struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func NewOpenAIProvider(baseURL, apiKey, model, embedModel string, timeout time.Duration) *OpenAIProvider {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	return &OpenAIProvider{
		BaseURL:    baseURL,
		APIKey:     apiKey,
		Model:      model,
		EmbedModel: embedModel,
		Client:     &http.Client{Timeout: timeout},
	}
}

func (p *OpenAIProvider) validate() error {
	if p.Client == nil {
		return errors.New("http client is nil")
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return errors.New("api key is required")
	}
	return nil
}

func (p *OpenAIProvider) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	url := strings.TrimRight(p.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.APIKey)
	return p.Client.Do(req)
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = fmt.Sprintf("status %d", resp.StatusCode)
	}
	return errors.New(msg)
}

func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	if err := p.validate(); err != nil {
		return "", providerErr("openai", err)
	}
	model := strings.TrimSpace(p.Model)
	if model == "" {
		return "", providerErrf("openai", "chat model is required")
	}

	reqBody := openAIChatReq{
		Model:  model,
		Stream: false,
		Messages: func() []openAIMsg {
			out := make([]openAIMsg, 0, len(messages))
			for _, m := range messages {
				out = append(out, openAIMsg{Role: m.Role, Content: m.Content})
			}
			return out
		}(),
	}

	b, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	resp, err := p.post(ctx, "/chat/completions", b)
	if err != nil {
		return "", providerErr("openai", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", providerErr("openai", readAPIError(resp))
	}

	var decoded openAIChatResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", providerErr("openai", err)
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return "", providerErrf("openai", "%s", decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return "", providerErrf("openai", "empty response")
	}
	return decoded.Choices[0].Message.Content, nil
}

// StreamChat streams assistant content chunks via SSE. Both channels close
// when streaming ends.
func (p *OpenAIProvider) StreamChat(ctx context.Context, messages []Message) (<-chan string, <-chan error) {
	chunks := make(chan string, 16)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		if err := p.validate(); err != nil {
			errs <- providerErr("openai", err)
			return
		}
		model := strings.TrimSpace(p.Model)
		if model == "" {
			errs <- providerErrf("openai", "chat model is required")
			return
		}

		reqBody := openAIChatReq{
			Model:  model,
			Stream: true,
			Messages: func() []openAIMsg {
				out := make([]openAIMsg, 0, len(messages))
				for _, m := range messages {
					out = append(out, openAIMsg{Role: m.Role, Content: m.Content})
				}
				return out
			}(),
		}

		b, err := json.Marshal(reqBody)
		if err != nil {
			errs <- err
			return
		}

		resp, err := p.post(ctx, "/chat/completions", b)
		if err != nil {
			errs <- providerErr("openai", err)
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			errs <- providerErr("openai", readAPIError(resp))
			return
		}

		sc := bufio.NewScanner(resp.Body)
		buf := make([]byte, 0, 64*1024)
		sc.Buffer(buf, 2*1024*1024)

		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || !strings.HasPrefix(line, "data:") {
				continue
			}
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if data == "[DONE]" {
				return
			}
			var decoded openAIStreamResp
			if err := json.Unmarshal([]byte(data), &decoded); err != nil {
				errs <- providerErr("openai", err)
				return
			}
			if decoded.Error != nil && decoded.Error.Message != "" {
				errs <- providerErrf("openai", "%s", decoded.Error.Message)
				return
			}
			if len(decoded.Choices) == 0 {
				continue
			}
			delta := decoded.Choices[0].Delta.Content
			if delta != "" {
				select {
				case chunks <- delta:
				case <-ctx.Done():
					errs <- ctx.Err()
					return
				}
			}
		}

		if err := sc.Err(); err != nil {
			errs <- providerErr("openai", err)
			return
		}
	}()

	return chunks, errs
}

func (p *OpenAIProvider) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	if err := p.validate(); err != nil {
		return nil, providerErr("openai", err)
	}
	if len(inputs) == 0 {
		return nil, providerErrf("openai", "embedding inputs are required")
	}
	model := strings.TrimSpace(p.EmbedModel)
	if model == "" {
		return nil, providerErrf("openai", "embedding model is required")
	}

	b, err := json.Marshal(openAIEmbedReq{Model: model, Input: inputs})
	if err != nil {
		return nil, err
	}

	resp, err := p.post(ctx, "/embeddings", b)
	if err != nil {
		return nil, providerErr("openai", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, providerErr("openai", readAPIError(resp))
	}

	var decoded openAIEmbedResp
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, providerErr("openai", err)
	}
	if decoded.Error != nil && decoded.Error.Message != "" {
		return nil, providerErrf("openai", "%s", decoded.Error.Message)
	}
	if len(decoded.Data) != len(inputs) {
		return nil, providerErrf("openai", "expected %d embeddings, got %d", len(inputs), len(decoded.Data))
	}

	out := make([][]float32, 0, len(decoded.Data))
	for _, d := range decoded.Data {
		out = append(out, d.Embedding)
	}
	return out, nil
}
