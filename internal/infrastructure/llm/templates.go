package llm

import (
	"fmt"
	"regexp"
	"strings"
)

// TemplateKind selects one of the fixed prompt templates. The set is closed:
// rendering dispatches on a switch, and adding a variant means adding a
// constant plus a case, never touching the client.
type TemplateKind int

const (
	// TemplateInclusive asks for summary, bullet points and entities in one
	// schema-conformant JSON answer. This is the default extraction task.
	TemplateInclusive TemplateKind = iota
	// TemplateBulletPoints asks for a plain bullet-point summary.
	TemplateBulletPoints
	// TemplateConcepts asks for key concepts as <c>/<e> tagged lines.
	TemplateConcepts
	// TemplateEntityList asks for people, companies and places as a
	// numbered list.
	TemplateEntityList
)

func (k TemplateKind) String() string {
	switch k {
	case TemplateInclusive:
		return "inclusive"
	case TemplateBulletPoints:
		return "bullet-points"
	case TemplateConcepts:
		return "concepts"
	case TemplateEntityList:
		return "entity-list"
	default:
		return "unknown"
	}
}

const systemPreamble = `You are a researcher tasked with answering questions about an article.
Please ensure that your responses are socially unbiased and positive in nature.
If a question does not make any sense, or is not factually coherent, explain why instead of answering something not correct.
If you don't know the answer, please don't share false information.`

const inclusiveExample = `Answers must conform to this JSON format. Ensure the JSON is valid; shorten answers if needed to keep it valid.

JSON Output: {
"oneSentenceSummary": "Mobile game soft launch is a process of releasing a game to a limited audience for testing.",
"whatThisArticleIsAbout": "Mobile game soft launch",
"summaryInNumericBulletPoints": [
"1. Mobile game soft launch is a process of releasing a game to a limited audience for testing.",
"2. Studios use soft launches to measure retention before a worldwide release."
],
"entitiesAndConcepts": [
{"name": "semiconductor", "type": "industry", "explanation": "Companies engaged in the design and fabrication of semiconductors"},
{"name": "NBA", "type": "sport league", "explanation": "NBA is the national basketball league"},
{"name": "mobile game soft launch", "type": "topic", "explanation": "Releasing a game to a limited audience for testing"}
]}`

const inclusiveTask = `Use the example above to answer the following questions.
1. Summarize the article in one sentence. Limit the answer to twenty words.
2. Three to four words explaining what the article is about.
3. Summarize the article in up to six bullet points, each between ten and twenty words.
4. Identify no more than ten entities, topics and ideas (companies, people, locations, products...) mentioned in the article. Include a short explanation of each.

Use the JSON format above to output your answer. Only output valid JSON.`

// Render produces the full prompt for a template kind with the document
// body embedded. Whitespace runs of two or more characters are collapsed to
// a single space before sending; this trims token waste without changing
// meaning.
func Render(kind TemplateKind, body string) string {
	var prompt string
	switch kind {
	case TemplateInclusive:
		prompt = fmt.Sprintf("%s\n\n%s\n\n%s\n\nArticle: %s", systemPreamble, inclusiveExample, inclusiveTask, body)
	case TemplateBulletPoints:
		prompt = fmt.Sprintf("%s\n\nWrite up to six points that summarize the following text: %s", systemPreamble, body)
	case TemplateConcepts:
		prompt = fmt.Sprintf("%s\n\nIdentify up to 5 key concepts mentioned in the text between the double quotes. Format the output as <c>[CONCEPT]</c><e>[EXPLANATION]</e> \"\"%s\"\"", systemPreamble, body)
	case TemplateEntityList:
		prompt = fmt.Sprintf("%s\n\nFind people, companies, and places in the text between the double quotes. Output them as a numbered list in the form \"<n>. <name>: <explanation>\". \"\"%s\"\"", systemPreamble, body)
	default:
		prompt = body
	}
	return CollapseWhitespace(prompt)
}

// TemplateText returns the rendered template without a body, used to price
// the template's own token cost when computing the body budget.
func TemplateText(kind TemplateKind) string {
	return Render(kind, "")
}

var whitespaceRun = regexp.MustCompile(`\s{2,}`)

// CollapseWhitespace replaces runs of 2+ whitespace characters with a
// single space.
func CollapseWhitespace(text string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(text, " "))
}
