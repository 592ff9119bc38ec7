package classify

import (
	"fmt"
	"strings"

	"idealine/internal/domain"
)

// Snapshot is the context assembled before a classification call.
type Snapshot struct {
	Knowledge []domain.KnowledgeEntry
	Areas     []domain.Area
	Roster    []domain.Person
	Speaker   *domain.Person
	Agents    []AgentHint
}

type AgentHint struct {
	Key      string
	Keywords []string
}

// SkillDoc is a loaded skill reference passed to an execution run.
type SkillDoc struct {
	Ref     string
	Content string
}

type ExecuteRequest struct {
	Text      string
	AgentKey  string
	AgentName string
	Skills    []SkillDoc
	Context   string
}

const classifySystem = `You classify raw captured thoughts for a CODE/PARA/GTD second brain.
Rules: routing beats perfect classification. Identify the next physical action. Report confidence in [0,1]; below 0.6 set needs_review=true.
Voice input: ignore filler words and extract the real intent. If the input holds several independent ideas, return a JSON array with one object per idea.
Answer with JSON only: one idea is an object, several ideas are an array.`

const classifySchema = `Fields: type (Task/Project/Note/Goal/Delegation/Reference), is_project, category, para_type (project/area/resource/archive),
suggested_area, suggested_project, summary (1-2 clean sentences), immediate_action (physical step), assigned_to, estimated_time,
priority (high/medium/low), confidence (0-1), needs_review, context_tag (at-computer/by-email/by-phone/in-office/on-errand/at-home/waiting/shopping/research/meeting/reading),
energy (low/medium/high), commitment_kind (committed/this-week/someday/maybe), is_next_action (bool), objective (1 sentence), notes (or null),
delegation (null or {delegate, description}), cleaned_text, suggested_agent (%s or null), suggested_skills (array of skill paths or []).
If is_project: sub_tasks [{text, assigned_to, context_tag, energy, estimated_time, priority, is_next_action (exactly one true)}].`

func snapshotBlock(snap Snapshot) string {
	var sb strings.Builder
	if snap.Speaker != nil {
		fmt.Fprintf(&sb, "SPEAKER: %s (%s, %s, expertise: %s). \"I will do X\" means assigned_to=%s; \"tell X to\" means delegation.\n",
			snap.Speaker.Username, snap.Speaker.Role, orDefault(snap.Speaker.Department, "general"), orDefault(snap.Speaker.Expertise, "none"), snap.Speaker.Username)
	}
	fmt.Fprintf(&sb, "CONTEXT:\n%s\n", knowledgeBlock(snap.Knowledge))
	fmt.Fprintf(&sb, "TEAM: %s\n", rosterBlock(snap.Roster))
	fmt.Fprintf(&sb, "AREAS: %s\n", areasBlock(snap.Areas))
	return sb.String()
}

func knowledgeBlock(entries []domain.KnowledgeEntry) string {
	if len(entries) == 0 {
		return "none"
	}
	lines := make([]string, 0, len(entries))
	for _, k := range entries {
		lines = append(lines, fmt.Sprintf("%s: %s", k.Key, k.Content))
	}
	return strings.Join(lines, "\n")
}

func rosterBlock(people []domain.Person) string {
	if len(people) == 0 {
		return "unknown"
	}
	parts := make([]string, 0, len(people))
	for _, p := range people {
		parts = append(parts, fmt.Sprintf("%s(%s,%s)", p.Username, p.Role, orDefault(p.Department, "general")))
	}
	return strings.Join(parts, ", ")
}

func areasBlock(areas []domain.Area) string {
	if len(areas) == 0 {
		return "none"
	}
	names := make([]string, 0, len(areas))
	for _, a := range areas {
		names = append(names, a.Name)
	}
	return strings.Join(names, ", ")
}

func agentsBlock(agents []AgentHint) string {
	if len(agents) == 0 {
		return "none"
	}
	parts := make([]string, 0, len(agents))
	for _, a := range agents {
		if len(a.Keywords) > 0 {
			parts = append(parts, fmt.Sprintf("%s (%s)", a.Key, strings.Join(a.Keywords, ",")))
		} else {
			parts = append(parts, a.Key)
		}
	}
	return strings.Join(parts, "/")
}

func classifyPrompt(text string, snap Snapshot) Prompt {
	user := fmt.Sprintf("%sINPUT: %q\n%s", snapshotBlock(snap), text, fmt.Sprintf(classifySchema, agentsBlock(snap.Agents)))
	return Prompt{System: classifySystem, User: user, JSON: true}
}

func distillPrompt(text string, snap Snapshot) Prompt {
	user := fmt.Sprintf(`Distill to the essence. JSON: key_insight (1 sentence), key_action (1 sentence), connections (array, max 3), distilled_summary (2-3 sentences).
CONTENT: %q
CONTEXT:
%s`, text, knowledgeBlock(snap.Knowledge))
	return Prompt{User: user, JSON: true}
}

func decomposePrompt(text string, snap Snapshot) Prompt {
	user := fmt.Sprintf(`Decompose the PROJECT into 3-8 GTD sub-tasks. Exactly one is the next action. Assign to the team.
PROJECT: %q
%sGTD CONTEXTS: %s
JSON: {project_name, objective, sub_tasks:[{text, assigned_to, context_tag, energy (low/medium/high), estimated_time, priority (high/medium/low), is_next_action}]}`,
		text, snapshotBlock(snap), strings.Join(domain.ContextTags, " "))
	return Prompt{User: user, JSON: true}
}

func executePrompt(req ExecuteRequest) Prompt {
	var skills strings.Builder
	for i, s := range req.Skills {
		fmt.Fprintf(&skills, "=== SKILL %d: %s ===\n%s\n=== END SKILL %d ===\n\n", i+1, s.Ref, s.Content, i+1)
	}
	system := fmt.Sprintf(`You are the agent: %s

Primary knowledge (SOPs):
%s
Execution instructions:
1. Analyse the request.
2. Using the skills above, produce a structured, complete output ready to use.
3. Use Markdown with clear sections and tables where they help.
4. Be specific and quantitative where possible.
5. End with a "Next steps" section.`, orDefault(req.AgentName, req.AgentKey), skills.String())
	user := fmt.Sprintf("ORGANIZATIONAL CONTEXT:\n%s\n\nREQUEST TO EXECUTE:\n%q", orDefault(req.Context, "none"), req.Text)
	return Prompt{System: system, User: user}
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
