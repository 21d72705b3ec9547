// Package services implements the driving port interfaces.
// Services contain the retrieval and graph logic and orchestrate
// calls to driven ports (adapters), which are injected at wiring time.
package services
