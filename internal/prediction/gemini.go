package prediction

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

const DefaultModel = "gemini-2.0-flash"

const promptTemplate = `You analyse IoT and blockchain data to predict potential anomalies in the pharmaceutical supply chain.

Identify risks or disruptions that may occur so the supply chain manager can address them early.

IoT Data: %s
Blockchain Data: %s

List the potential anomalies with their description and potential impact.
Give an overall risk assessment based on them, including recommendations for proactive measures.
Be concise and clear.`

var reportSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"anomalies": {
			Type:        genai.TypeArray,
			Items:       &genai.Schema{Type: genai.TypeString},
			Description: "Potential anomalies with their description and impact.",
		},
		"riskAssessment": {
			Type:        genai.TypeString,
			Description: "Overall risk assessment with recommended proactive measures.",
		},
	},
	Required: []string{"anomalies", "riskAssessment"},
}

// GeminiPredictor calls Google's Gemini API with a JSON response schema.
type GeminiPredictor struct {
	client *genai.Client
	model  string
}

func NewGeminiPredictor(ctx context.Context, apiKey, model string) (*GeminiPredictor, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = DefaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GeminiPredictor{client: client, model: model}, nil
}

func (g *GeminiPredictor) Predict(ctx context.Context, req Request) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx,
		g.model,
		genai.Text(fmt.Sprintf(promptTemplate, req.IoTData, req.BlockchainData)),
		&genai.GenerateContentConfig{
			Temperature:      genai.Ptr[float32](0.2),
			ResponseMIMEType: "application/json",
			ResponseSchema:   reportSchema,
		},
	)
	if err != nil {
		return "", fmt.Errorf("GenAI generate failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", errors.New("no content returned")
	}
	return text, nil
}
