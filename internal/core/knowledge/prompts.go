package knowledge

const analysisPrompt = `Analyze the following document and return a JSON object describing it.

Filename: %s

Content:
%s

Return ONLY a JSON object with exactly these fields:
{
  "summary": "a concise 2-3 sentence summary",
  "keyTopics": ["up to 10 main topics"],
  "entities": ["up to 10 people, organizations, places or products"],
  "categories": ["up to 5 categories such as business, technical, legal, education"],
  "sentiment": "positive | negative | neutral",
  "language": "the language of the document",
  "readingLevel": "beginner | intermediate | advanced",
  "wordCount": 0,
  "keyPhrases": ["up to 10 important phrases"],
  "questions": ["up to 5 questions this document can answer"],
  "actionItems": ["up to 5 action items, if any"]
}`

const chunkingPrompt = `Split the following content into semantically coherent chunks for a search index.

Requirements:
- Each chunk must be at most %d characters long.
- Split at natural boundaries such as paragraphs, sections or complete sentences.
- Keep related information together and preserve the original wording.
- For each chunk write a one sentence summary, up to 10 keywords and an importance score from 1 (minor detail) to 10 (essential).

Content:
%s

Return ONLY a JSON array in this format:
[
  {"content": "chunk text", "summary": "one sentence", "keywords": ["keyword"], "importance": 5}
]`

const searchTextPrompt = `Rewrite the following content into search-optimized text for a knowledge base.
Keep every fact from the original, then add synonyms, related terms, expanded abbreviations and
short context that would help a user's question match this content.

Original content:
%s

Document context:
%s

Return only the enhanced searchable text, with no commentary.`

const questionsPrompt = `Read the following content and list up to 10 specific questions that it answers directly.

Content:
%s

Return ONLY a JSON array of question strings.`

const answerSystemPrompt = `You are a knowledge base assistant for an AI agent.
Answer the user's question using ONLY the information in the provided context.
- If the context does not contain enough information, say so plainly.
- Cite the specific details you rely on and mention which source they come from.
- If sources disagree, acknowledge the different perspectives.
- Do not make up facts or use knowledge outside the context.`

const answerUserPrompt = `Context from the knowledge base:
%s

Question: %s

Answer:`
