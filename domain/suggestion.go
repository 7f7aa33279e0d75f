package domain

// SuggestionRequest describes the context handed to a reply generator.
type SuggestionRequest struct {
	CounterpartyName string
	Topic            string
	SourceContext    string
}
