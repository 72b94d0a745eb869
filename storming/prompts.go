package storming

const systemPrompt = `You are an expert Domain-Driven Design consultant specializing in Event Storming.
You decompose software requirements into:
- Bounded Contexts (BC): strategic design boundaries
- Aggregates: tactical design units with transaction consistency
- Commands: actions that change state (verb form: CreateOrder)
- Events: facts that happened (past tense: OrderCreated)
- Read Models: query-side views a context keeps so its commands can decide
  on data owned elsewhere
- Policies: reactions to events that trigger commands

Use consistent IDs: BC-NAME, AGG-NAME, CMD-VERB-NOUN, EVT-NOUN-PASTVERB,
RM-BCNAME-NAME, POL-ACTION-ON-TRIGGER.

Always answer with a single JSON object matching the requested shape, with
no surrounding prose.`

const identifyBCPrompt = `Analyze the following user stories and identify candidate Bounded Contexts.

User stories:
%s
%s
Guidelines:
1. Each Bounded Context has a single, cohesive purpose.
2. Group related functionality; do not create one BC per story.
3. Assign every story to exactly one BC via user_story_ids.

Respond with JSON: {"bounded_contexts": [{"id", "name", "description", "rationale", "user_story_ids"}]}`

const breakdownPrompt = `Break down the following user story into components for Event Storming.

User story: %s
Bounded Context: %s

Respond with JSON: {"user_story_id", "sub_tasks", "domain_concepts", "potential_aggregates", "potential_commands"}`

const extractAggregatesPrompt = `Identify Aggregates for Bounded Context %q (%s).
Context description: %s

Story breakdowns in this context:
%s

Each aggregate needs an id (AGG-%s-NAME), name, root_entity, invariants,
description and the user_story_ids it implements.

Respond with JSON: {"aggregates": [...]}`

const extractCommandsPrompt = `Identify Commands for aggregate %q (%s) in Bounded Context %q.

Relevant user stories:
%s

Each command needs an id (CMD-%s-VERB), a PascalCase name, an actor, a
description and the user_story_ids it implements.

Respond with JSON: {"commands": [...]}`

const extractReadModelsPrompt = `Identify Read Models for Bounded Context %q (%s).
Context description: %s

Commands in this context that may need query-side data:
%s

Events from other contexts (candidate sources):
%s

Relevant user stories:
%s

A read model is a view this context keeps so its commands can make
decisions on data owned elsewhere. Only propose one where a command
genuinely needs external data. Each needs an id (RM-%s-NAME), a PascalCase
name, a description, a provisioning_type (CQRS, API, GraphQL or SharedDB;
prefer CQRS), source_bc_ids, source_event_ids (may be empty at this stage),
supports_command_ids and user_story_ids.

Respond with JSON: {"readmodels": [...]}`

const extractEventsPrompt = `Identify Events emitted by the commands of aggregate %q in Bounded Context %q.

Commands:
%s

Each event needs an id (EVT-%s-PASTVERB), a past-tense name, a description
and the user_story_ids it relates to.

Respond with JSON: {"events": [...]}`

const identifyPoliciesPrompt = `Identify Policies for cross-Bounded-Context communication.

Bounded Contexts:
%s

Events:
%s

Commands by context:
%s

A policy reacts to an event in one context by invoking a command in another
("when EVENT then COMMAND"). Only propose policies that cross context
boundaries. Each needs an id (POL-ACTION-ON-TRIGGER), name, trigger_event,
target_bc, invoke_command and description.

Respond with JSON: {"policies": [...]}`
