// Package engine sequences the provisioning of a WSL guest environment.
//
// # Overview
//
// A Workflow moves one environment through a fixed series of stages:
//
//	start -> features_ready -> environment_ready -> package_manager_ready
//	      -> user_ready -> (network_configured) -> (dotfiles_configured) -> done
//
// Two entry points lead into the same tail of steps:
//
//   - Fresh removes any environment with the configured name, installs it
//     from its image and waits for it to answer.
//   - Converge requires the environment to exist already. It checks
//     existence before anything is changed, waits for readiness, and then
//     computes a Plan containing only the steps whose probes report work
//     left to do.
//
// When an Admission is configured, the run input is evaluated before the
// first step. A rejection fails the run at the start stage without any
// guest command having been issued.
//
// The shared tail converges packages, creates the user, grants passwordless
// sudo, runs an advisory verification pass, restarts the environment so
// systemd and the default user take effect, and finally configures optional
// network forwarding and dotfiles.
//
// # Failure Handling
//
// Components return errors classified by package guest. Fatal errors stop
// the run and are returned wrapped in a StepError naming the last stage
// reached. Recoverable errors are recorded as warnings on the Report and
// the run continues. Probes never fail; they answer "no".
//
// The dotfile bootstrap is the only step that asks the operator anything
// mid-run: when its result cannot be verified the operator chooses to retry
// once, proceed without verification, or abort. Non-interactive runs
// proceed.
//
// # Observability
//
// Every step publishes step.started and step.completed events and runs in
// its own trace span. Components publish through Workflow.Sink, which stamps
// events with the run ID and current stage. When a Journal is configured,
// the run, its events, the observed account and network facts, and
// installs are recorded in it.
//
// # Usage
//
//	w := engine.New(cfg, engine.WithPublisher(pub), engine.WithJournal(store))
//	c := engine.NewComponents(cfg, exec, host, prompter, w.Sink())
//	report, err := w.Run(ctx, c)
package engine
