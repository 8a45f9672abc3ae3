// Package secret resolves credentials referenced from configuration.
//
// A configured value is first expanded against the environment with
// ExpandEnvStrict, then any secret references are resolved by a Provider.
// References have the form
//
//	secretref:<provider>:<ref>
//
// and may be the whole value or embedded in it:
//
//	secretref:env:OPENAI_API_KEY
//	Bearer secretref:file:/run/secrets/openai
//
// NewDefaultResolver knows the "env" and "file" providers. Resolved values
// are never logged.
package secret
