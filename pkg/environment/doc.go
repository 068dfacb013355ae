// Package environment names the deployment a process runs in and carries it
// through request contexts and log records.
//
//	env := environment.Parse(cfg.Env)
//	handler = environment.Middleware(env)(handler)
//
// The logger package uses the same names to pick its defaults.
package environment
