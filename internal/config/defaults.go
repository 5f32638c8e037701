package config

import "time"

// Default returns a configuration that runs entirely in memory against a local Ollama.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:       "ollama",
			Model:          "llama3.1",
			EmbeddingModel: "nomic-embed-text",
			BaseURL:        "http://localhost:11434",
		},
		Postgres: PostgresConfig{
			VectorTable:   "thought_vectors",
			ReviewTable:   "review_cards",
			MaxConns:      10,
			EmbeddingDims: 0,
		},
		Redis: RedisConfig{
			Queue: "peoples-agent:synthesis",
		},
		Storage: StorageConfig{
			Graph:  "memory",
			Vector: "memory",
			Review: "memory",
			Queue:  "memory",
		},
		Pipeline: PipelineConfig{
			ThinkTimeout:    Duration(90 * time.Second),
			CallTimeout:     Duration(30 * time.Second),
			StoreTimeout:    Duration(5 * time.Second),
			RetryBackoff:    Duration(500 * time.Millisecond),
			MaxInputChars:   20000,
			SaveAttempts:    3,
			BreakerFailures: 5,
			BreakerTimeout:  Duration(30 * time.Second),
			BreakerHalfOpen: 1,
		},
		Retrieval: RetrievalConfig{
			TopK:                 5,
			MinSimilarity:        0.3,
			MaxHops:              2,
			EntityMatchThreshold: 0.85,
			EntityScanLimit:      500,
			NeighborLimit:        25,
			MaxContextChars:      2000,
		},
		Extraction: ExtractionConfig{
			MaxRefines:           2,
			GapPenalty:           0.6,
			SummaryFallbackChars: 200,
			SimpleInputChars:     15,
		},
		Enrichment: EnrichmentConfig{
			AgentTimeout: Duration(10 * time.Second),
			BlockerPhrases: []string{
				"blocked", "blocker", "waiting on", "waiting for", "stuck", "can't proceed",
				"cannot proceed", "on hold", "at risk", "delayed", "slipping", "dependency on",
			},
			ObligationPhrases: []string{
				"need to", "needs to", "have to", "has to", "must", "should", "promised",
				"remember to", "don't forget", "supposed to", "follow up",
			},
			ImperativeVerbs: []string{
				"call", "email", "text", "message", "ping", "buy", "pick", "send", "write", "read",
				"review", "finish", "fix", "schedule", "book", "pay", "submit", "prepare", "ask",
				"check", "meet", "plan", "draft", "update", "research", "learn", "order", "follow",
			},
			FillerWords: []string{"also", "and", "then", "please", "maybe", "just", "oh", "so"},
			UrgencyMarkers: map[string]float64{
				"urgent": 2, "asap": 2, "immediately": 2, "critical": 1.5, "important": 1,
				"deadline": 1, "overdue": 1.5, "today": 1, "tonight": 1, "now": 0.5,
			},
			DatedTerms: []string{
				"today", "tomorrow", "tonight", "monday", "tuesday", "wednesday", "thursday",
				"friday", "saturday", "sunday", "week", "month", "eod", "eow", "q1", "q2", "q3", "q4",
			},
			DatedPattern:     `\b(\d{1,2}/\d{1,2}|\d{4}-\d{2}-\d{2}|by \w+day|\d{1,2}(am|pm))\b`,
			ProximityWindow:  4,
			ImperativeWeight: 2,
			ObligationWeight: 1.5,
			PersonWeight:     1,
			DatedNearWeight:  1,
			DatedFarWeight:   0.5,
			LinkIncrement:    1,
			SuggestionLimit:  5,
		},
		Serendipity: SerendipityConfig{
			MinSimilarity:    0.75,
			MinDistance:      3,
			MaxHops:          4,
			MaxNudges:        3,
			ScanLimit:        50,
			ClusterAlgorithm: "lpa",
			CacheSize:        256,
		},
		Synthesis: SynthesisConfig{
			Workers:       2,
			MaxAttempts:   3,
			RetryBackoff:  Duration(2 * time.Second),
			JobTimeout:    Duration(2 * time.Minute),
			ProfileWindow: 50,
			QueueSize:     1024,
		},
		Atomization: AtomizationConfig{
			MinWords:    300,
			MinAtoms:    5,
			MaxAtoms:    10,
			TargetWords: 150,
		},
		Review: ReviewConfig{
			DefaultEasiness: 2.5,
			MinWords:        5,
			ScanInterval:    Duration(time.Hour),
			DueLimit:        100,
		},
		Insight: InsightConfig{
			SearchLimit:     10,
			RelatedLimit:    5,
			BrowseLimit:     50,
			BriefingRecent:  10,
			BriefingActions: 5,
			FeynmanNotes:    3,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Server: ServerConfig{
			Port: "8080",
		},
		Tracing: TracingConfig{
			ServiceName: "peoples-agent",
			Environment: "development",
		},
		Prompts: DefaultPrompts(),
	}
}

// DefaultPrompts returns the built-in templates.
//
//	Extract:        context, thought
//	Critique:       thought, context, extraction JSON
//	Refine:         thought, context, extraction JSON, gaps
//	Respond:        thought, summary, entities, context
//	PersonProfile:  name, mentions
//	ProjectProfile: name, mentions
//	ReduceSummary:  partial summaries
//	Decompose:      task text
//	Atomize:        min atoms (%d), max atoms (%d), text
//	Nudge:          first thought, second thought
//	Briefing:       current time, recent notes, open action items, due reviews, nudges
//	Feynman:        topic, notes on the topic
func DefaultPrompts() Prompts {
	return Prompts{
		Extract: `You organize a person's free-form thoughts into a knowledge graph.

<CONTEXT>
%s
</CONTEXT>

<THOUGHT>
%s
</THOUGHT>

Return ONLY a JSON object:
{
  "entities": [{"name": "Sarah", "type": "Person", "description": "colleague"}],
  "categories": ["people", "tasks"],
  "intents": [{"text": "Call Sarah about Q3 budget", "category": "people"}],
  "summary": "one paragraph summary",
  "confidence": 0.9,
  "compound_task": false
}
Entity types: Person, Project, Topic, Tool, Organization, Place, Skill, Concept.
Categories: urgent, people, projects, meetings, tasks, ideas, learning, reflections.
Split a thought with several distinct intentions into one intent per intention, each with its own category.
Set compound_task to true only if the thought describes a large piece of work that needs several steps.`,

		Critique: `Review a structured extraction of a thought.

<THOUGHT>
%s
</THOUGHT>

<CONTEXT>
%s
</CONTEXT>

<EXTRACTION>
%s
</EXTRACTION>

List specific gaps only: missed entities, wrong entity types, wrong categories, missed intents,
or missed connections to context items. If the extraction is complete return an empty list.
Return ONLY: {"gaps": ["..."]}`,

		Refine: `Revise the extraction of a thought so it addresses every listed gap.

<THOUGHT>
%s
</THOUGHT>

<CONTEXT>
%s
</CONTEXT>

<EXTRACTION>
%s
</EXTRACTION>

<GAPS>
%s
</GAPS>

Return ONLY the revised JSON object using the same schema as the extraction.`,

		Respond: `You are a thoughtful second brain. The user just shared a thought.

Thought: %s
Summary: %s
Entities: %s

Related memories:
%s

Reply in two or three sentences. Acknowledge what was captured. If a related memory is relevant, mention it.`,

		PersonProfile: `Synthesize a profile of the person "%s" from everything the user has written about them.

<MENTIONS>
%s
</MENTIONS>

Return ONLY: {"role": "", "relationship": "", "topics": [""], "summary": "", "last_context": ""}`,

		ProjectProfile: `Synthesize the current state of the project "%s" from everything the user has written about it.

<MENTIONS>
%s
</MENTIONS>

Return ONLY: {"status": "", "people": [""], "deadlines": [""], "summary": "", "last_context": ""}`,

		ReduceSummary: `Combine these partial notes into one concise summary that keeps names, dates and open issues.

%s

Return ONLY: {"summary": ""}`,

		Decompose: `Decide whether this task needs to be broken down, and if so propose subtasks.

Task: %s

Return ONLY:
{
  "is_complex": true,
  "parent_task": {"title": "", "description": "", "urgency": 3},
  "subtasks": [{"title": "", "description": "", "urgency": 3}]
}
Urgency ranges from 0 (someday) to 5 (now).`,

		Atomize: `Split the text into between %d and %d atomic notes. Each note holds exactly one idea,
stands on its own, and is shorter than the text.

<TEXT>
%s
</TEXT>

Return ONLY: {"atoms": [{"title": "", "content": "", "concepts": [""]}]}`,

		Nudge: `Two notes written at different times seem related but are not connected yet.

A: %s
B: %s

Write one short sentence suggesting how they might connect.`,

		Briefing: `You are a personal assistant writing a short daily briefing.

Current time: %s

Recent notes:
%s

Open action items:
%s

Notes due for review:
%s

Unexpected connections:
%s

Return ONLY a JSON object:
{
  "greeting": "greeting that fits the time of day",
  "summary": "one or two sentences on what the person has been working on",
  "open_questions": ["questions left open in the notes"],
  "focus": ["what to focus on today"]
}`,

		Feynman: `You help someone learn with the Feynman technique. Act like a curious beginner who needs the topic explained simply.

Topic: %s

Their notes on the topic:
%s

Return ONLY a JSON object:
{
  "question": "one simple question that tests their understanding",
  "key_concepts": ["concepts a good answer mentions"],
  "follow_up": "a follow-up question if they explain it well"
}`,
	}
}
