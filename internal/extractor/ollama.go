package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

// OllamaExtractor is the optional NLP extraction layer: when a local model
// is reachable, its candidates carry confidence 0.8 and therefore win the
// pipeline's merge against regex matches for the same entity name.
type OllamaExtractor struct {
	client *api.Client
	model  string
}

func NewOllamaExtractor(model string) (*OllamaExtractor, error) {
	client, err := api.ClientFromEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create ollama client: %w", err)
	}

	if model == "" {
		model = "llama3.2:3b"
	}

	return &OllamaExtractor{
		client: client,
		model:  model,
	}, nil
}

func (o *OllamaExtractor) Name() string {
	return "nlp"
}

// Available checks whether the local model server is reachable, with a short
// timeout so a down provider never stalls the extraction pipeline.
func (o *OllamaExtractor) Available(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	_, err := o.client.List(ctx)
	return err == nil
}

type ollamaResponse struct {
	Entities []struct {
		Name json.RawMessage `json:"name"`
		Type string          `json:"type"`
	} `json:"entities"`
	Relationships []struct {
		From string `json:"from"`
		To   string `json:"to"`
		Type string `json:"type"`
	} `json:"relationships"`
}

func (o *OllamaExtractor) Extract(ctx context.Context, text string) ([]Entity, []Relationship, error) {
	if !o.Available(ctx) {
		return nil, nil, fmt.Errorf("ollama service not available")
	}

	prompt := fmt.Sprintf(`
You are an entity extractor for personal memory notes about people the user
knows, the organizations they belong to, and the projects they work on.

From this conversation excerpt, extract:
1. A flat list of entities: people, organizations, and projects mentioned.
2. A list of relationships between them (e.g. "works_at", "manages", "collaborates_with").

RULES:
1. Output ONLY a valid JSON object.
2. The object MUST have exactly two keys: "entities" and "relationships".
3. "entities" MUST be an array of objects with "name" (string) and "type" (one of "person", "organization", "project").
4. "relationships" MUST be an array of objects with "from" (string), "to" (string), and "type" (string).
5. "name", "from", and "to" must be single strings (NOT arrays).
6. DO NOT include headers, descriptions, or explanations.
7. DO NOT group entities into sub-objects.

Conversation:
%s

Required Output Format:
{
  "entities": [
    {"name": "Maria Gomez", "type": "person"},
    {"name": "Acme Corp", "type": "organization"}
  ],
  "relationships": [
    {"from": "Maria Gomez", "to": "Acme Corp", "type": "works_at"}
  ]
}
`, text)

	req := &api.GenerateRequest{
		Model:  o.model,
		Prompt: prompt,
		Format: json.RawMessage(`"json"`),
		Stream: new(bool),
	}
	*req.Stream = false

	var respText string
	err := o.client.Generate(ctx, req, func(resp api.GenerateResponse) error {
		respText = resp.Response
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("ollama generation failed: %w", err)
	}

	var parsed ollamaResponse
	cleanedJSON := cleanJSON(respText)

	if err := json.Unmarshal([]byte(cleanedJSON), &parsed); err != nil {
		return nil, nil, fmt.Errorf("failed to parse ollama json: %w (response: %s)", err, respText)
	}

	var entities []Entity
	for _, e := range parsed.Entities {
		var name string
		if err := json.Unmarshal(e.Name, &name); err != nil {
			var names []string
			if err2 := json.Unmarshal(e.Name, &names); err2 == nil && len(names) > 0 {
				for _, n := range names {
					entities = append(entities, Entity{
						Name:       n,
						Type:       normalizeEntityType(e.Type),
						Confidence: 0.8,
						Source:     "nlp",
					})
				}
				continue
			}
			continue
		}

		if strings.TrimSpace(name) == "" || len(name) < 2 {
			continue
		}

		entities = append(entities, Entity{
			Name:       name,
			Type:       normalizeEntityType(e.Type),
			Confidence: 0.8,
			Source:     "nlp",
		})
	}

	var relationships []Relationship
	for _, r := range parsed.Relationships {
		if r.From != "" && r.To != "" {
			relationships = append(relationships, Relationship{
				FromEntity: r.From,
				ToEntity:   r.To,
				Type:       r.Type,
			})
		}
	}

	return entities, relationships, nil
}

func normalizeEntityType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "person", "people", "individual":
		return "person"
	case "organization", "org", "company":
		return "organization"
	case "project", "initiative":
		return "project"
	default:
		return "person"
	}
}

func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
