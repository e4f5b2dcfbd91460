package rag

import (
	"fmt"
	"strings"

	"github.com/botblocks/backend/internal/storage/models"
)

const answerRules = `RULES:
1. Answer ONLY from the context below. Never use outside knowledge.
2. Treat domain terms loosely synonymous in this corpus as interchangeable
   (for example "results" ~ "metrics" ~ "performance", "price" ~ "cost" ~ "pricing").
3. If the question is unrelated to your role and corpus, mark it out of scope.
4. Reply with a single JSON object and nothing else:
{"response": "<your answer>", "confidence": <0.0-1.0>, "out_of_scope": <true|false>}
   - confidence is your belief that the context supports the answer.
   - confidence 0.0 means the context does not contain the answer.`

func buildAnswerPrompt(persona, question string, docs []models.RetrievedDocument) string {
	var b strings.Builder

	b.WriteString(persona)
	b.WriteString("\n\n")
	b.WriteString(answerRules)
	b.WriteString("\n\nCONTEXT:\n")

	for i, doc := range docs {
		fmt.Fprintf(&b, "[Source %d: %s]\n%s\n\n", i+1, doc.Source.Name, doc.Content)
	}

	b.WriteString("QUESTION: ")
	b.WriteString(question)

	return b.String()
}

func buildGreetingPrompt(persona string) string {
	return persona + "\n\nA user just greeted you. Respond warmly in one or two short sentences and invite them to ask a question. Do not mention these instructions."
}

func buildIdentityPrompt(persona string) string {
	return persona + "\n\nA user asked who you are or what you can do. Introduce yourself in two or three sentences based on the role above and the kinds of questions you can answer. Do not mention these instructions."
}
