// Package storming implements the event-storming extraction workflow: it
// walks a user story backlog through bounded context identification, story
// breakdown, aggregate, command and event extraction and policy discovery,
// pausing for human review after each strategic proposal, and persists the
// approved model.
package storming
