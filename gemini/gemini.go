// Package gemini implements text analysis and automated replies on top of
// the Gemini API.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/GetStream/stream-chat-sync/chat"
	"google.golang.org/genai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.0-flash"

type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Client analyzes text and generates replies.
type Client struct {
	models generator
	model  string
}

// New creates a client for the Gemini API.
func New(ctx context.Context, apiKey, model string) (*Client, error) {
	if model == "" {
		model = DefaultModel
	}
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Client{models: cli.Models, model: model}, nil
}

const (
	sentimentPrompt = `Analyze the sentiment of the user's text. Answer with a JSON object {"score": number, "magnitude": number} where score is between -1 (negative) and 1 (positive) and magnitude is the overall emotional strength, 0 or more.`
	entitiesPrompt  = `List the named entities in the user's text. Answer with a JSON array of objects {"name": string, "type": string}. type is one of PERSON, LOCATION, ORGANIZATION, EVENT, WORK_OF_ART, CONSUMER_GOOD, OTHER. Answer [] if there are none.`
	translatePrompt = `Translate the user's text to the language with BCP-47 code %q. Answer with the translation only.`
	replyPrompt     = `You are a friendly chat companion. Answer the last message briefly. Reply in the language with BCP-47 code %q.`
)

// Sentiment returns the sentiment of text.
func (c *Client) Sentiment(ctx context.Context, text string) (*chat.Sentiment, error) {
	var s chat.Sentiment
	if err := c.generateJSON(ctx, sentimentPrompt, text, &s); err != nil {
		return nil, fmt.Errorf("sentiment: %w", err)
	}
	return &s, nil
}

// Entities returns the named entities in text.
func (c *Client) Entities(ctx context.Context, text string) ([]chat.Entity, error) {
	ents := []chat.Entity{}
	if err := c.generateJSON(ctx, entitiesPrompt, text, &ents); err != nil {
		return nil, fmt.Errorf("entities: %w", err)
	}
	return ents, nil
}

// Translate returns text translated to language.
func (c *Client) Translate(ctx context.Context, text, language string) (string, error) {
	out, err := c.generate(ctx, fmt.Sprintf(translatePrompt, language), []*genai.Content{
		genai.NewContentFromText(text, genai.RoleUser),
	}, "")
	if err != nil {
		return "", fmt.Errorf("translate: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// Generate answers text given the conversation history.
func (c *Client) Generate(ctx context.Context, text string, history []chat.Message, language string) (string, error) {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, m := range history {
		role := genai.Role(genai.RoleUser)
		if m.Sender == chat.SenderResponder {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Text, role))
	}
	contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))

	out, err := c.generate(ctx, fmt.Sprintf(replyPrompt, language), contents, "")
	if err != nil {
		return "", fmt.Errorf("generate reply: %w", err)
	}
	return strings.TrimSpace(out), nil
}

func (c *Client) generateJSON(ctx context.Context, instruction, text string, v any) error {
	out, err := c.generate(ctx, instruction, []*genai.Content{
		genai.NewContentFromText(text, genai.RoleUser),
	}, "application/json")
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(stripFence(out)), v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) generate(ctx context.Context, instruction string, contents []*genai.Content, mime string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(instruction, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.2),
		ResponseMIMEType:  mime,
	}
	resp, err := c.models.GenerateContent(ctx, c.model, contents, cfg)
	if err != nil {
		return "", err
	}
	out := resp.Text()
	if out == "" {
		return "", fmt.Errorf("empty response")
	}
	return out, nil
}

// stripFence removes a Markdown code fence around a JSON answer.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
