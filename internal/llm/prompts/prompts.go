package prompts

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/tamgam/diya/internal/model"
)

var (
	studentQueryRegex       = regexp.MustCompile(`(?i)</?\s*student-question\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)
)

// personas maps each mastery level to the tutoring register the model
// should adopt. Rigor increases monotonically with level.
var personas = map[int]string{
	1: "You are a patient, encouraging tutor for a beginner. Use simple everyday language and short sentences. " +
		"Explain one idea at a time, avoid jargon entirely, and give a concrete everyday example for every concept. " +
		"Check understanding by restating the key point at the end.",
	2: "You are a supportive tutor for a developing student. Use plain language and introduce subject terms " +
		"gently, defining each one the first time it appears. Build explanations step by step and connect new " +
		"ideas to things the student has already seen.",
	3: "You are a clear, structured tutor for a proficient student. Use standard subject terminology and give " +
		"complete explanations with one worked example. Point out common mistakes where relevant.",
	4: "You are a rigorous tutor for an advanced student. Use precise terminology, go into underlying mechanisms " +
		"and edge cases, and prefer compact explanations over hand-holding. Pose a short extension question when " +
		"it deepens understanding.",
	5: "You are a demanding tutor for an expert student. Engage at full technical depth, discuss trade-offs, " +
		"limitations and connections to adjacent topics, and challenge the student's reasoning where it is " +
		"imprecise. Skip basics entirely.",
}

// Persona returns the system persona for a mastery level. Out-of-range
// levels are clamped.
func Persona(level int) string {
	if level < model.MinLevel {
		level = model.MinLevel
	}
	if level > model.MaxLevel {
		level = model.MaxLevel
	}
	return personas[level]
}

// TutorSystem builds the full system prompt for a grounded tutoring turn.
// The retrieved chunks are numbered so the model can cite them.
func TutorSystem(level int, chunks []model.RetrievedChunk) string {
	var sb strings.Builder
	sb.WriteString(Persona(level))
	sb.WriteString("\n\nAnswer the student's question using ONLY the class material below. ")
	sb.WriteString("If the material does not cover the question, say so plainly instead of inventing an answer.\n\n")
	sb.WriteString("CLASS MATERIAL:\n")
	for i, rc := range chunks {
		sb.WriteString(fmt.Sprintf("[%d] %s\n\n", i+1, rc.Chunk.Text))
	}
	sb.WriteString("When you draw on a passage, mention its number like [1].")
	return sb.String()
}

// TutorSystemUngrounded builds the system prompt for a turn where no class
// material cleared the confidence floor. The model must disclose that it is
// answering from general knowledge.
func TutorSystemUngrounded(level int) string {
	var sb strings.Builder
	sb.WriteString(Persona(level))
	sb.WriteString("\n\nNo class material matched the student's question. ")
	sb.WriteString("You may answer from general knowledge, but begin your answer by telling the student ")
	sb.WriteString("that this topic was not covered in their class material. Do not fabricate citations.")
	return sb.String()
}

// GeneratedItem is the JSON shape the model returns per assessment item.
type GeneratedItem struct {
	Topic       string   `json:"topic"`
	Question    string   `json:"question"`
	Options     []string `json:"options"`
	Answer      string   `json:"answer"`
	Explanation string   `json:"explanation"`
}

// GeneratedItemSet is the JSON envelope for one tier's generated items.
type GeneratedItemSet struct {
	Items []GeneratedItem `json:"items"`
}

// AssessmentSystem builds the system prompt for generating one tier of
// assessment items from class material.
func AssessmentSystem(tier model.DifficultyTier, level, count int) string {
	var difficulty string
	switch tier {
	case model.TierBelow:
		difficulty = fmt.Sprintf("slightly easier than a %s student would find challenging: reinforce fundamentals", model.LevelLabel(level))
	case model.TierAbove:
		difficulty = fmt.Sprintf("a stretch beyond the %s level: require combining ideas or handling a subtle case", model.LevelLabel(level))
	default:
		difficulty = fmt.Sprintf("calibrated to a %s student: a fair test of the material as taught", model.LevelLabel(level))
	}

	var sb strings.Builder
	sb.WriteString("You are an assessment writer. Write multiple-choice questions strictly from the class material the user provides. ")
	sb.WriteString("Never test anything the material does not cover.\n\n")
	sb.WriteString(fmt.Sprintf("Write exactly %d questions. Difficulty: %s.\n\n", count, difficulty))
	sb.WriteString("Each question has exactly 4 options and exactly one correct answer, which must be one of the options verbatim. ")
	sb.WriteString("Give each question a short topic label naming the concept it tests.\n\n")
	sb.WriteString("Respond ONLY with a JSON object:\n")
	sb.WriteString(`{"items": [{"topic": "<concept>", "question": "<text>", "options": ["<a>", "<b>", "<c>", "<d>"], "answer": "<correct option>", "explanation": "<why>"}]}`)
	sb.WriteString("\n")
	return sb.String()
}

// AssessmentMaterial formats the source chunks for the user message of an
// assessment generation call.
func AssessmentMaterial(chunks []model.TranscriptChunk) string {
	var sb strings.Builder
	sb.WriteString("CLASS MATERIAL:\n\n")
	for _, c := range chunks {
		sb.WriteString(c.Text)
		sb.WriteString("\n\n")
	}
	return sb.String()
}

// SanitizeQuery strips tag-style injection markers from student input and
// bounds its length before it reaches a prompt.
func SanitizeQuery(q string) string {
	q = studentQueryRegex.ReplaceAllString(q, "")
	q = systemInstructionsRegex.ReplaceAllString(q, "")
	q = strings.TrimSpace(q)
	if q == "" {
		return "[No question provided]"
	}
	if utf8.RuneCountInString(q) > 4000 {
		runes := []rune(q)
		q = string(runes[:4000]) + "\n\n[Question truncated due to length]"
	}
	return q
}
