package agent

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/ashureev/chatxai/internal/domain"
	"google.golang.org/genai"
)

// Sampling parameters applied to every module.
const (
	Temperature float32 = 0.9
	TopP        float32 = 0.95
	TopK        float32 = 40
)

// safetyCategories lists every category the product unblocks. All of them
// are sent with BLOCK_NONE; this is product policy, not an oversight.
var safetyCategories = []genai.HarmCategory{
	genai.HarmCategoryHarassment,
	genai.HarmCategoryHateSpeech,
	genai.HarmCategorySexuallyExplicit,
	genai.HarmCategoryDangerousContent,
	genai.HarmCategoryCivicIntegrity,
}

// SafetySettings returns the permissive safety policy.
func SafetySettings() []*genai.SafetySetting {
	out := make([]*genai.SafetySetting, 0, len(safetyCategories))
	for _, c := range safetyCategories {
		out = append(out, &genai.SafetySetting{
			Category:  c,
			Threshold: genai.HarmBlockThresholdBlockNone,
		})
	}
	return out
}

// GenerateConfig builds the session configuration for module.
func GenerateConfig(module domain.AIModule) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		SafetySettings: SafetySettings(),
		Temperature:    genai.Ptr(Temperature),
		TopP:           genai.Ptr(TopP),
		TopK:           genai.Ptr(TopK),
	}
	if module.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(module.SystemInstruction, genai.RoleUser)
	}
	return cfg
}

// ProviderRole maps a sender to the provider's role name.
func ProviderRole(s domain.Sender) genai.Role {
	if s == domain.SenderUser {
		return genai.RoleUser
	}
	return genai.RoleModel
}

// ToProviderHistory maps prior messages to provider turns.
func ToProviderHistory(messages []domain.Message) ([]*genai.Content, error) {
	history := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		parts, err := messageParts(m.Text, m.Attachment)
		if err != nil {
			return nil, fmt.Errorf("message %s: %w", m.ID, err)
		}
		history = append(history, genai.NewContentFromParts(parts, ProviderRole(m.Sender)))
	}
	return history, nil
}

// TurnParts builds the parts of the new user turn.
func TurnParts(text string, att *domain.Attachment) ([]genai.Part, error) {
	ptrs, err := messageParts(text, att)
	if err != nil {
		return nil, err
	}
	parts := make([]genai.Part, 0, len(ptrs))
	for _, p := range ptrs {
		parts = append(parts, *p)
	}
	return parts, nil
}

// FragmentText extracts the text carried by one streamed chunk. Thought
// parts are not part of the visible reply.
func FragmentText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	c := resp.Candidates[0]
	if c == nil || c.Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range c.Content.Parts {
		if p == nil || p.Thought {
			continue
		}
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// DecodeDataURI splits "data:<mime>;base64,<payload>" and decodes the
// payload. A bare base64 string is accepted too.
func DecodeDataURI(uri string) (mediaType string, raw []byte, err error) {
	payload := uri
	if strings.HasPrefix(uri, "data:") {
		header, body, ok := strings.Cut(uri, ",")
		if !ok {
			return "", nil, fmt.Errorf("%w: missing data separator", ErrMalformedPayload)
		}
		mediaType = strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
		payload = body
	}
	raw, err = base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return mediaType, raw, nil
}

func messageParts(text string, att *domain.Attachment) ([]*genai.Part, error) {
	parts := []*genai.Part{genai.NewPartFromText(text)}
	if att == nil {
		return parts, nil
	}

	uriType, raw, err := DecodeDataURI(att.Data)
	if err != nil {
		return nil, fmt.Errorf("attachment %q: %w", att.Name, err)
	}
	mediaType := att.MediaType
	if mediaType == "" {
		mediaType = uriType
	}
	return append(parts, genai.NewPartFromBytes(raw, mediaType)), nil
}
