package chat

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const systemPrompt = `You are MindFlow, an AI mental wellness companion designed to support young people (ages 13-25) with their mental health and emotional well-being.

Your role:
- Provide empathetic, non-judgmental support
- Offer evidence-based mental health guidance
- Encourage healthy coping strategies
- Help users develop emotional awareness and resilience
- Provide crisis support and appropriate referrals when needed

Guidelines:
- Always prioritize user safety and well-being
- Use age-appropriate language and examples
- Be warm, supportive, and encouraging
- Avoid giving medical diagnoses or treatment advice
- Encourage professional help when appropriate
- Respect user privacy and confidentiality

Response style:
- Keep responses conversational and engaging
- Ask follow-up questions to show interest
- Provide practical, actionable advice

Remember: You are not a replacement for professional mental health care, but a supportive companion on their wellness journey.`

var languageNames = map[string]string{
	"en": "English",
	"es": "Spanish",
	"fr": "French",
	"de": "German",
	"zh": "Chinese",
	"ja": "Japanese",
	"ko": "Korean",
	"pt": "Portuguese",
	"ru": "Russian",
	"ar": "Arabic",
}

func languageName(code string) string {
	if n, ok := languageNames[code]; ok {
		return n
	}
	return "English"
}

var fallbackReplies = map[string]string{
	"en": "I'm having trouble connecting right now, but I'm here for you. How are you feeling today?",
	"es": "Estoy teniendo problemas para conectarme ahora, pero estoy aquí para ti. ¿Cómo te sientes hoy?",
	"fr": "J'ai des difficultés à me connecter en ce moment, mais je suis là pour vous. Comment vous sentez-vous aujourd'hui?",
	"de": "Ich habe gerade Verbindungsprobleme, aber ich bin für Sie da. Wie fühlen Sie sich heute?",
	"zh": "我现在连接有些问题，但我在这里支持你。你今天感觉怎么样？",
}

// FallbackReply is the fixed agent reply used when no model could answer.
func FallbackReply(language string) string {
	if r, ok := fallbackReplies[language]; ok {
		return r
	}
	return fallbackReplies["en"]
}

// buildSystemPrompt adds the reply language and the session context map.
func buildSystemPrompt(language string, sessionCtx map[string]any) string {
	var b strings.Builder
	b.WriteString(systemPrompt)

	if len(sessionCtx) > 0 {
		keys := make([]string, 0, len(sessionCtx))
		for k := range sessionCtx {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString("\n\nWhat the user has shared about themselves:")
		for _, k := range keys {
			v, err := json.Marshal(sessionCtx[k])
			if err != nil {
				continue
			}
			fmt.Fprintf(&b, "\n- %s: %s", k, v)
		}
	}

	if language != "" && language != "en" {
		fmt.Fprintf(&b, "\n\nPlease respond in %s.", languageName(language))
	}
	return b.String()
}

func transcript(msgs []Message) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s: %s", m.Role, m.Content)
	}
	return b.String()
}

func titlePrompt(msgs []Message) string {
	return `Based on this mental wellness conversation, generate a short, descriptive title (2-6 words) that captures what the chat was about. Focus on the main topic or concern discussed.

Examples of good titles:
- "Feeling anxious about school"
- "Stress management tips"
- "Dealing with loneliness"

Conversation:
` + transcript(msgs) + `

Respond with only the title, no additional text.`
}

func summaryPrompt(msgs []Message) string {
	return `Provide a brief summary of this mental wellness conversation, focusing on:
1. Main topics discussed
2. User's emotional state and concerns
3. Key insights or breakthroughs
4. Suggested follow-up actions

Conversation:
` + transcript(msgs) + `

Keep the summary concise and focused on mental wellness aspects.`
}

func moodPrompt(msgs []Message) string {
	return `Analyze the emotional tone and mood of this conversation. Provide a brief assessment focusing on:
1. Overall emotional state (positive, neutral, negative)
2. Key emotions expressed
3. Stress level (low, medium, high)
4. Suggested supportive responses

Conversation:
` + transcript(msgs) + `

Respond in JSON format with keys: emotionalState, emotions, stressLevel, suggestions`
}

func suggestionsPrompt(profile map[string]any, mood Mood) string {
	p, _ := json.Marshal(profile)
	m, _ := json.Marshal(mood)
	return fmt.Sprintf(`Based on this user profile and current mood, suggest 3-5 personalized wellness activities:

User Profile: %s
Current Mood: %s

Suggest activities that are:
- Age-appropriate for young adults
- Evidence-based for mental wellness
- Practical and achievable
- Tailored to their current emotional state

Respond in JSON format with an array of suggestions, each containing: title, description, category, estimatedTime, difficulty.`, p, m)
}
