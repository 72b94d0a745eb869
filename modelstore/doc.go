// Package modelstore persists the inputs and outputs of the workflows: the
// user story backlog going in, and the approved event-storming model coming
// out. SQLiteStore is the durable backend; MemoryStore backs tests.
package modelstore
