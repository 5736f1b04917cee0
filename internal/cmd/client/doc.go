// Package client provides the `canvass` command-line client.
//
// The CLI talks to the canvass HTTP API to drive the review workflow and
// basic administration from a terminal. It is primarily intended for
// quality agents, supervisors, and operators.
//
// # Address and token configuration
//
// The HTTP base URL is discovered via a BaseURLFunc supplied by the binary
// that embeds the commands; the standalone binary defaults to
// http://127.0.0.1:8080 and honors CANVASS_HTTP. Authenticated commands read
// the bearer token from the CANVASS_TOKEN environment variable, as printed
// by `canvass auth login`.
//
// Usage
//
//	canvass auth register --email agent@example.com --password secret123 --role quality_agent
//	canvass auth login --email agent@example.com --password secret123
//
//	canvass survey create --name "Household Energy" --acs north,south
//	canvass survey assign-agent --survey SURVEY_ID --agent USER_ID --acs north
//
//	canvass review next --gender female --age-min 25 --filter 'duration_sec > 300'
//	canvass review skip --response RESPONSE_ID
//	canvass review release --response RESPONSE_ID
//	canvass review verify --response RESPONSE_ID --status approved --criteria audio=clear
//
//	canvass batch open --survey SURVEY_ID
//	canvass batch resolve --batch BATCH_ID
package client
