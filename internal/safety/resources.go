package safety

type Resource struct {
	Name        string `json:"name"`
	Number      string `json:"number,omitempty"`
	Text        string `json:"text,omitempty"`
	Available   string `json:"available"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

// CrisisQueue is where escalated content is routed.
const CrisisQueue = "crisis-team"

func Resources() []Resource {
	return []Resource{
		{
			Name:        "Suicide & Crisis Lifeline",
			Number:      "988",
			Available:   "24/7",
			Description: "Free, confidential support for people in distress",
			Type:        "hotline",
		},
		{
			Name:        "Crisis Text Line",
			Text:        "HOME to 741741",
			Available:   "24/7",
			Description: "Text-based crisis support",
			Type:        "text",
		},
		{
			Name:        "National Suicide Prevention Lifeline",
			Number:      "1-800-273-8255",
			Available:   "24/7",
			Description: "Crisis intervention and suicide prevention",
			Type:        "hotline",
		},
	}
}

var crisisReplies = map[string]string{
	"en": "I'm really concerned about what you're sharing with me. Your safety is the most important thing right now. " +
		"Please reach out to a trusted adult, mental health professional, or crisis hotline immediately. " +
		"In the US, you can call or text 988 for the Suicide & Crisis Lifeline, available 24/7. " +
		"You're not alone, and there are people who want to help you through this.",
	"es": "Me preocupa mucho lo que me estás contando. Tu seguridad es lo más importante ahora mismo. " +
		"Por favor, comunícate de inmediato con un adulto de confianza, un profesional de salud mental o una línea de crisis. " +
		"En EE. UU. puedes llamar o enviar un mensaje al 988, disponible 24/7. " +
		"No estás solo y hay personas que quieren ayudarte.",
}

// CrisisReply is the canned response sent instead of a model reply.
func CrisisReply(language string) string {
	if r, ok := crisisReplies[language]; ok {
		return r
	}
	return crisisReplies["en"]
}
