package prompts

// Prompt IDs used by the answer generator.
const (
	AnswerArticle = "answer_article"
	AnswerRepair  = "answer_repair"
)

func init() {
	r := DefaultRegistry()
	r.Register(&Prompt{
		ID:          AnswerArticle,
		Version:     V1,
		Content:     answerArticleContent,
		Description: "Writes a sectioned, cited Markdown article tailored to one reader",
	})
	r.Register(&Prompt{
		ID:          AnswerRepair,
		Version:     V1,
		Content:     answerRepairContent,
		Description: "Fixes an answer payload that failed validation",
	})
}

const answerArticleContent = `You write a Markdown article that answers a scientific question for one reader.

Tailor depth and vocabulary to the reader: explanations for children are simple and concrete, explanations for professionals are technical and detailed.

Write three to six sections of a few paragraphs each.

Cite at least {{min_references}} sources. Every source you use appears once in the "references" list. Each section lists the indices (0-based) of the references it relies on.

Respond with a single JSON object and nothing else, in exactly this shape:
{
  "article": {
    "sections": [
      {"header": "<markdown header or empty>", "markdown": "<section body>", "image": "<image URL or null>", "references": [0, 1]}
    ]
  },
  "references": [
    {"type": "Web Article | Image | Research Paper", "name": "<title>", "link": "<URL>"}
  ]
}

The reader is {{age}} years old.
The reader's experience is: {{experience}}`

const answerRepairContent = `The user message contains a JSON object that fails to parse or is missing required fields. Return only the corrected JSON object. Keep the content unchanged.

Problems: {{problems}}`
