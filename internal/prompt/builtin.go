package prompt

// Template names the pipeline itself relies on, independent of stage config.
const (
	RefineTemplate = "refine.md"
	JudgeTemplate  = "semantic_judge.md"
)

// DefaultSystem is the system message sent with every generation call unless a
// stage overrides it with a "system" var.
const DefaultSystem = "You are a helpful, concise assistant that returns Markdown only."

// builtinTemplates maps template filename to content.
var builtinTemplates = map[string]string{
	"lesson_plan.md": lessonPlanTemplate,
	"worksheet.md":   worksheetTemplate,
	"answer_key.md":  answerKeyTemplate,
	RefineTemplate:   refineTemplate,
	JudgeTemplate:    semanticJudgeTemplate,
}

const lessonPlanTemplate = `# Lesson Plan: Grade {{grade}} {{subject}} ({{teks_code}})

You are an expert K-6 instructional designer in Texas TEKS. Design a lesson plan aligned to the standard below.
Return ONLY JSON.

## Standard
Code: {{teks_code}}
{{#if description_en}}
Description (EN): {{description_en}}
{{/if}}
{{#if description_es}}
Description (ES): {{description_es}}
{{/if}}
{{#if teacher_notes}}

## Teacher Notes
Explicitly incorporate relevant details from these notes:
{{teacher_notes}}
{{/if}}
{{#if attachments_excerpt}}

## Attachment Excerpt
{{attachments_excerpt}}
{{/if}}

## Format
Return a single JSON object with these keys:
- "Objective_EN": string
- "Objective_ES": string{{#if bilingual}} (required){{/if}}
- "Success_Criteria_EN": list of student-facing "I can ..." statements
- "Success_Criteria_ES": list of "Puedo ..." statements
- "Academic_Vocabulary": list of terms
- "Materials": list of items
- "Mini_Lesson", "I_Do", "We_Do", "You_Do": strings
- "Checks_for_Understanding": list of questions
- "Exit_Ticket": string

Keep language grade-appropriate; keep math within grade expectations.
`

const worksheetTemplate = `# Worksheet: Grade {{grade}} {{subject}} ({{teks_code}})

Write a student worksheet that practices the lesson below. Return ONLY JSON.

## Lesson Plan
{{lesson_plan}}
{{#if require_passage}}

## Passage
Include "Passage_EN", a narrative of at most 300 words aligned to the standard.
{{#if bilingual}}
Include "Passage_ES", the same passage in Spanish (at most 300 words).
{{/if}}
{{/if}}
{{#if attachments_excerpt}}

## Exemplar
Model at least ONE question clearly on this excerpt and label it "Q2-like exemplar":
{{attachments_excerpt}}
{{/if}}

## Format
Return a single JSON object:
- "EN": exactly 8 questions in English
- "ES": exactly 8 questions in Spanish, aligned one-to-one with "EN"
`

const answerKeyTemplate = `# Answer Key: Grade {{grade}} ({{teks_code}})

Write the answer key for the worksheet below. Return ONLY JSON.

## Worksheet
{{worksheet}}

## Format
Return a single JSON object:
- "answers": exactly 8 answers, aligned to the "EN" questions in order
- "rationale": one short sentence per answer explaining it
`

const refineTemplate = `{{prompt}}

## Previous Attempt Violations
Attempt {{previous_attempt}} did not satisfy every requirement. This is attempt {{attempt}}.
Fix each item below while keeping everything that was already correct:
{{violations}}
`

const semanticJudgeTemplate = `You are a strict reviewer checking generated classroom content.

## Criteria
{{criteria}}

## Content
{{candidate}}

## Verdict
Reply with exactly one line:
- PASS if the content satisfies the criteria
- FAIL: <short reason> if it does not
`
