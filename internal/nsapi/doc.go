// Package nsapi talks to the NationStates API: it executes dispatch tickets
// over HTTP with the required user agent, builds request targets, decodes
// XML shards and streams the daily data dumps.
//
// Every call except dump downloads goes through a dispatch.Scheduler so the
// API budget is never exceeded.
package nsapi
