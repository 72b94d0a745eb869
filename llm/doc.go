// Package llm wraps the chat completion client the workflow steps use to
// propose domain objects. Steps depend only on the Completer interface so
// tests can script responses with Mock.
package llm
